package csvrows

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fperellaholfeld/Episode-Information-Completion/internal/core"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []core.Row
	}{
		{
			name:  "header is skipped",
			input: "episode_id,character_id,character_name,location_id\n1,2,Rick,3\n",
			want:  []core.Row{{EpisodeID: 1, CharacterID: 2, CharacterName: "Rick", LocationID: 3}},
		},
		{
			name:  "quoted first line is data",
			input: "1,2,\"Rick\",3\n4,5,Morty,6\n",
			want: []core.Row{
				{EpisodeID: 1, CharacterID: 2, CharacterName: "Rick", LocationID: 3},
				{EpisodeID: 4, CharacterID: 5, CharacterName: "Morty", LocationID: 6},
			},
		},
		{
			name:  "two matching names are enough",
			input: " Episode_ID , Character_ID ,name,loc\n1,2,Rick,3\n",
			want:  []core.Row{{EpisodeID: 1, CharacterID: 2, CharacterName: "Rick", LocationID: 3}},
		},
		{
			name:  "one matching name is data",
			input: "episode_id,x,y,z\n1,2,Rick,3\n",
			want:  []core.Row{{EpisodeID: 1, CharacterID: 2, CharacterName: "Rick", LocationID: 3}},
		},
		{
			name:  "blank lines ignored",
			input: "\n\nepisode_id,character_id,character_name,location_id\n\n1,2,Rick,3\n\n",
			want:  []core.Row{{EpisodeID: 1, CharacterID: 2, CharacterName: "Rick", LocationID: 3}},
		},
		{
			name:  "whitespace lines ignored",
			input: "   \nepisode_id,character_id,character_name,location_id\n \t \n1,2,Rick,3\n",
			want:  []core.Row{{EpisodeID: 1, CharacterID: 2, CharacterName: "Rick", LocationID: 3}},
		},
		{
			name: "malformed rows skipped",
			input: "episode_id,character_id,character_name,location_id\n" +
				"1,2,Rick,3\n" +
				"x,2,Rick,3\n" +
				"1,2,Rick\n" +
				"1,2,Rick,3,extra\n" +
				"7, 8 ,\"Smith, Jerry\", 9\n",
			want: []core.Row{
				{EpisodeID: 1, CharacterID: 2, CharacterName: "Rick", LocationID: 3},
				{EpisodeID: 7, CharacterID: 8, CharacterName: "Smith, Jerry", LocationID: 9},
			},
		},
		{
			name:  "reordered header maps columns",
			input: "location_id,character_name,character_id,episode_id\n3,Rick,2,1\n",
			want:  []core.Row{{EpisodeID: 1, CharacterID: 2, CharacterName: "Rick", LocationID: 3}},
		},
		{
			name:  "BOM before header",
			input: "\xEF\xBB\xBFepisode_id,character_id,character_name,location_id\n1,2,Rick,3\n",
			want:  []core.Row{{EpisodeID: 1, CharacterID: 2, CharacterName: "Rick", LocationID: 3}},
		},
		{
			name:  "CRLF line endings",
			input: "episode_id,character_id,character_name,location_id\r\n1,2,Rick,3\r\n",
			want:  []core.Row{{EpisodeID: 1, CharacterID: 2, CharacterName: "Rick", LocationID: 3}},
		},
		{
			name:  "empty input",
			input: "",
			want:  []core.Row{},
		},
		{
			name:  "header only",
			input: "episode_id,character_id,character_name,location_id\n",
			want:  []core.Row{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := Parse(t.Context(), strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, rows)
		})
	}
}

func TestParse_NeverExceedsLineCount(t *testing.T) {
	inputs := []string{
		"1,2,a,3\n\"unterminated,2,b,3\n4,5,c,6\n",
		"episode_id,character_id,character_name,location_id\n,,,\n1,,,\n",
		"a\"b,c\n1,2,3,4\n",
		"\xff\xfe,1,2,3\n1,2,\xc3\x28,3\n",
	}
	for _, in := range inputs {
		rows, err := Parse(t.Context(), strings.NewReader(in))
		require.NoError(t, err, "input %q", in)
		assert.LessOrEqual(t, len(rows), strings.Count(in, "\n"), "input %q", in)
	}
}

func TestParseResults_Stats(t *testing.T) {
	input := "episode_id,character_id,character_name,location_id\n1,2,Rick,3\nbad,2,Rick,3\n4,5,Morty,6\n"

	results, stats, err := ParseResults(t.Context(), strings.NewReader(input))
	require.NoError(t, err)

	assert.True(t, stats.HasHeader)
	assert.Equal(t, 2, stats.Kept)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, int64(len(input)), stats.Bytes)

	require.Len(t, results, 3)
	assert.True(t, results[0].OK())
	assert.False(t, results[1].OK())
	assert.Equal(t, 3, results[1].Line)
	assert.ErrorContains(t, results[1].Err, "episode_id")
}

func TestParseResults_HeaderAfterWhitespaceLine(t *testing.T) {
	input := "   \nlocation_id,character_name,character_id,episode_id\n3,Rick,2,1\n"

	results, stats, err := ParseResults(t.Context(), strings.NewReader(input))
	require.NoError(t, err)

	assert.True(t, stats.HasHeader)
	assert.Equal(t, 1, stats.Kept)
	assert.Zero(t, stats.Skipped)
	require.Len(t, results, 1)
	assert.Equal(t, core.Row{EpisodeID: 1, CharacterID: 2, CharacterName: "Rick", LocationID: 3}, results[0].Row)
}

func TestParse_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := Parse(ctx, strings.NewReader("1,2,Rick,3\n"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		rows, err := ParseFile(t.Context(), filepath.Join(dir, "nope.csv"))
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("empty file", func(t *testing.T) {
		path := filepath.Join(dir, "empty.csv")
		require.NoError(t, os.WriteFile(path, nil, 0o600))

		rows, err := ParseFile(t.Context(), path)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("rows", func(t *testing.T) {
		path := filepath.Join(dir, "rows.csv")
		require.NoError(t, os.WriteFile(path, []byte("28,1,Rick Sanchez,3\n28,2,Morty Smith,3\n"), 0o600))

		rows, err := ParseFile(t.Context(), path)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "Morty Smith", rows[1].CharacterName)
	})
}
