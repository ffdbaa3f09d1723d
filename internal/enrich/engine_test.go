package enrich

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fperellaholfeld/Episode-Information-Completion/internal/catalog"
	"github.com/fperellaholfeld/Episode-Information-Completion/internal/core"
	"github.com/fperellaholfeld/Episode-Information-Completion/internal/testsupport"
)

func pilotRows() []core.Row {
	return []core.Row{
		{EpisodeID: 1, CharacterID: 1, CharacterName: "Rick", LocationID: 3},
		{EpisodeID: 1, CharacterID: 2, CharacterName: "Morty", LocationID: 3},
	}
}

func TestEnrichUpload_Pilot(t *testing.T) {
	store := testsupport.NewMemStore()
	engine := NewEngine(testsupport.Pilot(), store)

	sum, err := engine.EnrichUpload(t.Context(), 7, pilotRows())
	require.NoError(t, err)

	snap := store.Snapshot()
	require.Contains(t, snap.Episodes, 1)
	assert.Equal(t, "S01E01", snap.Episodes[1].EpisodeCode)

	require.Len(t, snap.Characters, 2)
	assert.Equal(t, 1, snap.Characters[1].OriginLocationID)
	assert.Equal(t, 3, snap.Characters[1].LocationID)
	assert.Equal(t, core.UnknownLocationID, snap.Characters[2].OriginLocationID)
	assert.Equal(t, 20, snap.Characters[2].LocationID)

	// Earth and the Citadel come from the catalog; the sentinel and the
	// location missing upstream are placeholders.
	assert.Len(t, snap.Locations, 4)
	assert.Equal(t, core.PlaceholderLocation(core.UnknownLocationID), snap.Locations[core.UnknownLocationID])
	assert.Equal(t, core.PlaceholderLocation(20), snap.Locations[20])
	assert.Equal(t, "Citadel of Ricks", snap.Locations[3].Name)

	assert.ElementsMatch(t, []core.UploadEpisode{{UploadID: 7, EpisodeID: 1}}, snap.UploadEpisodes)
	assert.ElementsMatch(t, []core.EpisodeCharacter{
		{EpisodeID: 1, CharacterID: 1},
		{EpisodeID: 1, CharacterID: 2},
	}, snap.EpisodeCharacters)

	assert.Equal(t, Summary{
		EpisodesFetched:         1,
		CharactersFetched:       2,
		LocationsFetched:        2,
		LocationsCreated:        2,
		PlaceholdersCreated:     2,
		EpisodesCreated:         1,
		CharactersCreated:       2,
		UploadEpisodesLinked:    1,
		EpisodeCharactersLinked: 2,
	}, sum)
	assert.Equal(t, 1, store.Commits)
}

func TestEnrichUpload_Idempotent(t *testing.T) {
	store := testsupport.NewMemStore()
	engine := NewEngine(testsupport.Pilot(), store)

	_, err := engine.EnrichUpload(t.Context(), 7, pilotRows())
	require.NoError(t, err)
	first := store.Snapshot()

	sum, err := engine.EnrichUpload(t.Context(), 7, pilotRows())
	require.NoError(t, err)
	second := store.Snapshot()

	assert.Equal(t, first.Episodes, second.Episodes)
	assert.Equal(t, first.Characters, second.Characters)
	assert.Equal(t, first.Locations, second.Locations)
	assert.ElementsMatch(t, first.EpisodeCharacters, second.EpisodeCharacters)
	assert.ElementsMatch(t, first.UploadEpisodes, second.UploadEpisodes)

	assert.Zero(t, sum.LocationsCreated)
	assert.Zero(t, sum.PlaceholdersCreated, "sentinel must be created at most once")
	assert.Zero(t, sum.EpisodesCreated)
	assert.Zero(t, sum.CharactersCreated)
	assert.Zero(t, sum.UploadEpisodesLinked)
	assert.Zero(t, sum.EpisodeCharactersLinked)
	assert.Equal(t, 2, sum.LocationsUpdated)
	assert.Equal(t, 1, sum.EpisodesUpdated)
	assert.Equal(t, 2, sum.CharactersUpdated)

	// Insert would fail on a duplicate key, so a clean second run proves
	// every insert was guarded.
	assert.Equal(t, 2, store.Commits)
}

func TestEnrichUpload_SecondUploadLinksSameEpisode(t *testing.T) {
	store := testsupport.NewMemStore()
	engine := NewEngine(testsupport.Pilot(), store)

	_, err := engine.EnrichUpload(t.Context(), 1, pilotRows())
	require.NoError(t, err)
	sum, err := engine.EnrichUpload(t.Context(), 2, pilotRows())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.UploadEpisodesLinked)
	assert.ElementsMatch(t, []core.UploadEpisode{
		{UploadID: 1, EpisodeID: 1},
		{UploadID: 2, EpisodeID: 1},
	}, store.Snapshot().UploadEpisodes)
}

func TestEnrichUpload_UpdatesChangedCatalogData(t *testing.T) {
	store := testsupport.NewMemStore()
	fake := testsupport.Pilot()
	engine := NewEngine(fake, store)

	_, err := engine.EnrichUpload(t.Context(), 1, pilotRows())
	require.NoError(t, err)

	// Location 20 appears upstream and Rick moves there.
	fake.AddLocation(20, "Froopyland")
	fake.AddCharacter(1, "Rick Sanchez", 1, 20)

	_, err = engine.EnrichUpload(t.Context(), 1, pilotRows())
	require.NoError(t, err)

	snap := store.Snapshot()
	assert.Equal(t, "Froopyland", snap.Locations[20].Name, "placeholder overwritten by catalog data")
	assert.Equal(t, 20, snap.Characters[1].LocationID)
	assert.Len(t, snap.Locations, 4)
}

func TestEnrichUpload_NoOps(t *testing.T) {
	tests := []struct {
		name string
		rows []core.Row
	}{
		{"no rows", nil},
		{"only non-positive episode ids", []core.Row{{EpisodeID: 0, CharacterID: 1}, {EpisodeID: -4, CharacterID: 2}}},
		{"episodes unknown upstream", []core.Row{{EpisodeID: 999, CharacterID: 1, LocationID: 3}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testsupport.NewMemStore()
			fake := testsupport.Pilot()
			engine := NewEngine(fake, store)

			sum, err := engine.EnrichUpload(t.Context(), 1, tt.rows)
			require.NoError(t, err)
			assert.True(t, sum.Empty())
			assert.Zero(t, store.Calls["RunInTx"], "no transaction expected")
			assert.Empty(t, fake.Requested[catalog.EndpointCharacter])
		})
	}
}

func TestEnrichUpload_FetchErrorCommitsNothing(t *testing.T) {
	boom := &catalog.StatusError{StatusCode: 500, Path: "location/1,3,20"}
	store := testsupport.NewMemStore()
	fake := testsupport.Pilot()
	fake.Err[catalog.EndpointLocation] = boom
	engine := NewEngine(fake, store)

	_, err := engine.EnrichUpload(t.Context(), 1, pilotRows())
	require.Error(t, err)

	var statusErr *catalog.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Contains(t, err.Error(), "fetch locations")

	assert.Zero(t, store.Calls["RunInTx"])
	assert.Empty(t, store.Snapshot().Episodes)
}

func TestEnrichUpload_DatabaseErrorRollsBack(t *testing.T) {
	boom := errors.New("connection reset")
	store := testsupport.NewMemStore()
	store.Fail["InsertEpisodeCharacter"] = boom
	engine := NewEngine(testsupport.Pilot(), store)

	_, err := engine.EnrichUpload(t.Context(), 1, pilotRows())
	require.ErrorIs(t, err, boom)

	snap := store.Snapshot()
	assert.Empty(t, snap.Episodes, "episodes written before the failure must be rolled back")
	assert.Empty(t, snap.Locations)
	assert.Empty(t, snap.Characters)
	assert.Zero(t, store.Commits)
}

func TestEnrichUpload_UnionsRowAndDiscoveredIDs(t *testing.T) {
	store := testsupport.NewMemStore()
	fake := testsupport.Pilot()
	fake.AddCharacter(5, "Jerry Smith", 1, 1)
	fake.AddLocation(9, "Anatomy Park")
	engine := NewEngine(fake, store)

	rows := []core.Row{
		{EpisodeID: 1, CharacterID: 5, LocationID: 9},
		{EpisodeID: 1, CharacterID: 5, LocationID: 9},
	}
	_, err := engine.EnrichUpload(t.Context(), 1, rows)
	require.NoError(t, err)

	require.Len(t, fake.Requested[catalog.EndpointCharacter], 1)
	assert.ElementsMatch(t, []int{5, 1, 2}, fake.Requested[catalog.EndpointCharacter][0])
	require.Len(t, fake.Requested[catalog.EndpointLocation], 1)
	assert.ElementsMatch(t, []int{9, 1, 3, 20}, fake.Requested[catalog.EndpointLocation][0])

	snap := store.Snapshot()
	assert.Contains(t, snap.Characters, 5)
	assert.Contains(t, snap.Locations, 9)
	// Jerry came from a row, not from the episode's character list.
	assert.NotContains(t, snap.EpisodeCharacters, core.EpisodeCharacter{EpisodeID: 1, CharacterID: 5})
}

func TestEnrichUpload_SkipsJoinForUnknownCharacter(t *testing.T) {
	store := testsupport.NewMemStore()
	fake := testsupport.Pilot()
	fake.AddEpisode(2, "Lawnmower Dog", "S01E02", 1, 404)
	engine := NewEngine(fake, store)

	sum, err := engine.EnrichUpload(t.Context(), 1, []core.Row{{EpisodeID: 2}})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.EpisodeCharactersMissed)
	assert.ElementsMatch(t, []core.EpisodeCharacter{{EpisodeID: 2, CharacterID: 1}}, store.Snapshot().EpisodeCharacters)
}

func TestEnrichUpload_LinksPreviouslyStoredCharacter(t *testing.T) {
	store := testsupport.NewMemStore()
	store.SeedLocation(core.PlaceholderLocation(core.UnknownLocationID))
	store.SeedCharacter(core.Character{ID: 404, Name: "Gone Upstream"})

	fake := testsupport.Pilot()
	fake.AddEpisode(2, "Lawnmower Dog", "S01E02", 404)
	engine := NewEngine(fake, store)

	sum, err := engine.EnrichUpload(t.Context(), 1, []core.Row{{EpisodeID: 2}})
	require.NoError(t, err)

	assert.Zero(t, sum.EpisodeCharactersMissed)
	assert.ElementsMatch(t, []core.EpisodeCharacter{{EpisodeID: 2, CharacterID: 404}}, store.Snapshot().EpisodeCharacters)
}

func TestEnrichUpload_Cancelled(t *testing.T) {
	store := testsupport.NewMemStore()
	engine := NewEngine(testsupport.Pilot(), store)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := engine.EnrichUpload(ctx, 1, pilotRows())
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, store.Commits)
}

func TestSummary_String(t *testing.T) {
	s := Summary{EpisodesFetched: 2, CharactersFetched: 10, LocationsFetched: 4, PlaceholdersCreated: 1}
	assert.Equal(t, "2 episodes, 10 characters, 5 locations enriched", s.String())
}
