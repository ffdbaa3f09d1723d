package testsupport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/fperellaholfeld/Episode-Information-Completion/internal/catalog"
)

// CatalogBase is the URL prefix used by fixtures built here.
const CatalogBase = "https://catalog.test/api/"

// LocationURL returns the catalog URL of a location.
func LocationURL(id int) string { return fmt.Sprintf("%slocation/%d", CatalogBase, id) }

// CharacterURL returns the catalog URL of a character.
func CharacterURL(id int) string { return fmt.Sprintf("%scharacter/%d", CatalogBase, id) }

// FakeCatalog serves entities from memory. Ids it does not hold are silently
// missing from results, like a 404 chunk.
type FakeCatalog struct {
	mu sync.Mutex

	EpisodeData   map[int]catalog.Episode
	CharacterData map[int]catalog.Character
	LocationData  map[int]catalog.Location

	// Err, when set for an endpoint, fails every fetch from it.
	Err map[string]error

	// Requested records the ids asked for, per endpoint.
	Requested map[string][][]int
}

// NewFakeCatalog returns an empty catalog.
func NewFakeCatalog() *FakeCatalog {
	return &FakeCatalog{
		EpisodeData:   map[int]catalog.Episode{},
		CharacterData: map[int]catalog.Character{},
		LocationData:  map[int]catalog.Location{},
		Err:         map[string]error{},
		Requested:   map[string][][]int{},
	}
}

// AddEpisode registers an episode featuring the given character ids.
func (f *FakeCatalog) AddEpisode(id int, name, code string, characterIDs ...int) {
	urls := make([]string, len(characterIDs))
	for i, c := range characterIDs {
		urls[i] = CharacterURL(c)
	}
	f.EpisodeData[id] = catalog.Episode{ID: id, Name: name, AirDate: "December 2, 2013", EpisodeCode: code, CharacterURLs: urls}
}

// AddCharacter registers a character. A location id of 0 leaves the link empty.
func (f *FakeCatalog) AddCharacter(id int, name string, originID, locationID int) {
	ref := func(loc int) catalog.Ref {
		if loc == 0 {
			return catalog.Ref{Name: "unknown"}
		}
		return catalog.Ref{Name: fmt.Sprintf("Location %d", loc), URL: LocationURL(loc)}
	}
	f.CharacterData[id] = catalog.Character{
		ID: id, Name: name, Status: "Alive", Species: "Human", Gender: "Male",
		Origin: ref(originID), Location: ref(locationID),
	}
}

// AddLocation registers a location.
func (f *FakeCatalog) AddLocation(id int, name string) {
	f.LocationData[id] = catalog.Location{ID: id, Name: name, Type: "Planet", Dimension: "Dimension C-137"}
}

func fakeFetch[T any](f *FakeCatalog, endpoint string, table map[int]T, ids []int) ([]T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	clean := catalog.NormalizeIDs(ids)
	f.Requested[endpoint] = append(f.Requested[endpoint], clean)
	if err := f.Err[endpoint]; err != nil {
		return nil, err
	}
	var out []T
	for _, id := range clean {
		if v, ok := table[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

// Episodes implements the enrichment fetcher.
func (f *FakeCatalog) Episodes(ctx context.Context, ids []int) ([]catalog.Episode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fakeFetch(f, catalog.EndpointEpisode, f.EpisodeData, ids)
}

// Characters implements the enrichment fetcher.
func (f *FakeCatalog) Characters(ctx context.Context, ids []int) ([]catalog.Character, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fakeFetch(f, catalog.EndpointCharacter, f.CharacterData, ids)
}

// Locations implements the enrichment fetcher.
func (f *FakeCatalog) Locations(ctx context.Context, ids []int) ([]catalog.Location, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fakeFetch(f, catalog.EndpointLocation, f.LocationData, ids)
}

// Pilot returns a small catalog: episode 1 with Rick (1) and Morty (2), Rick
// from Earth (1) living at the Citadel (3), Morty with unknown origin and a
// location (20) the catalog does not know.
func Pilot() *FakeCatalog {
	f := NewFakeCatalog()
	f.AddEpisode(1, "Pilot", "S01E01", 1, 2)
	f.AddCharacter(1, "Rick Sanchez", 1, 3)
	f.AddCharacter(2, "Morty Smith", 0, 20)
	f.AddLocation(1, "Earth (C-137)")
	f.AddLocation(3, "Citadel of Ricks")
	return f
}

// WriteCSV writes content to a file in a temp dir and returns its path.
func WriteCSV(t testing.TB, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.csv")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}
