// Package enrich merges catalog data for an upload into local storage.
//
// EnrichUpload fetches every episode the rows name, the characters those
// episodes and rows reference, and the locations those characters and rows
// reference. It then upserts them inside one transaction: locations first,
// then episodes with their upload links, then characters, then the
// episode/character joins. Existence is always checked before an insert, so
// running the same rows twice changes nothing.
//
// The engine reports failures and does no upload status bookkeeping.
package enrich

import (
	"context"
	"fmt"

	"github.com/fperellaholfeld/Episode-Information-Completion/internal/catalog"
	"github.com/fperellaholfeld/Episode-Information-Completion/internal/core"
	"github.com/fperellaholfeld/Episode-Information-Completion/internal/logging"
)

// Fetcher looks catalog entities up by id. Missing ids are simply absent
// from the result.
type Fetcher interface {
	Episodes(ctx context.Context, ids []int) ([]catalog.Episode, error)
	Characters(ctx context.Context, ids []int) ([]catalog.Character, error)
	Locations(ctx context.Context, ids []int) ([]catalog.Location, error)
}

// Summary counts what one EnrichUpload did.
type Summary struct {
	EpisodesFetched   int
	CharactersFetched int
	LocationsFetched  int

	LocationsCreated    int
	LocationsUpdated    int
	PlaceholdersCreated int
	EpisodesCreated     int
	EpisodesUpdated     int
	CharactersCreated   int
	CharactersUpdated   int

	UploadEpisodesLinked    int
	EpisodeCharactersLinked int
	EpisodeCharactersMissed int
}

// Empty reports whether the run was a no-op.
func (s Summary) Empty() bool { return s.EpisodesFetched == 0 }

func (s Summary) String() string {
	return fmt.Sprintf("%d episodes, %d characters, %d locations enriched",
		s.EpisodesFetched, s.CharactersFetched, s.LocationsFetched+s.PlaceholdersCreated)
}

// Engine runs enrichment against a catalog and a transactional store.
type Engine struct {
	fetcher Fetcher
	store   core.TxRunner
}

// NewEngine creates an engine.
func NewEngine(fetcher Fetcher, store core.TxRunner) *Engine {
	return &Engine{fetcher: fetcher, store: store}
}

// EnrichUpload enriches the entities referenced by rows and links the
// touched episodes to uploadID. It is a no-op, without a transaction, when
// rows name no episode or none of the named episodes exists in the catalog.
// On error nothing is committed.
func (e *Engine) EnrichUpload(ctx context.Context, uploadID int64, rows []core.Row) (Summary, error) {
	var sum Summary
	logger := logging.FromContext(ctx)

	if len(rows) == 0 {
		return sum, nil
	}

	episodeIDs := make([]int, 0, len(rows))
	for _, r := range rows {
		episodeIDs = append(episodeIDs, r.EpisodeID)
	}
	episodeIDs = catalog.NormalizeIDs(episodeIDs)
	if len(episodeIDs) == 0 {
		logger.Info("no episode ids in upload, nothing to enrich")
		return sum, nil
	}

	fetched, err := e.fetch(ctx, rows, episodeIDs)
	if err != nil {
		return sum, err
	}
	if len(fetched.episodes) == 0 {
		logger.Info("no requested episode exists in the catalog, nothing to enrich", "requested", len(episodeIDs))
		return sum, nil
	}
	sum.EpisodesFetched = len(fetched.episodes)
	sum.CharactersFetched = len(fetched.characters)
	sum.LocationsFetched = len(fetched.locations)

	err = e.store.RunInTx(ctx, func(tx core.EntityTx) error {
		u := &upserter{tx: tx, uploadID: uploadID, fetched: fetched, sum: &sum}
		return u.run(ctx)
	})
	if err != nil {
		return Summary{}, err
	}

	logger.Info("upload enriched",
		"episodes", sum.EpisodesFetched,
		"characters", sum.CharactersFetched,
		"locations", sum.LocationsFetched,
		"placeholders", sum.PlaceholdersCreated,
		"episode_characters", sum.EpisodeCharactersLinked,
	)
	return sum, nil
}

// fetchResult holds the catalog entities of one upload, deduplicated by id in
// first-seen order.
type fetchResult struct {
	episodes   []catalog.Episode
	characters []catalog.Character
	locations  []catalog.Location
}

func (e *Engine) fetch(ctx context.Context, rows []core.Row, episodeIDs []int) (fetchResult, error) {
	var res fetchResult

	episodes, err := e.fetcher.Episodes(ctx, episodeIDs)
	if err != nil {
		return res, fmt.Errorf("fetch episodes: %w", err)
	}
	res.episodes = dedupe(episodes, func(ep catalog.Episode) int { return ep.ID })
	if len(res.episodes) == 0 {
		return res, nil
	}

	characterIDs := make([]int, 0, len(rows))
	for _, r := range rows {
		characterIDs = append(characterIDs, r.CharacterID)
	}
	for _, ep := range res.episodes {
		characterIDs = append(characterIDs, ep.CharacterIDs()...)
	}
	characters, err := e.fetcher.Characters(ctx, catalog.NormalizeIDs(characterIDs))
	if err != nil {
		return res, fmt.Errorf("fetch characters: %w", err)
	}
	res.characters = dedupe(characters, func(c catalog.Character) int { return c.ID })

	locationIDs := make([]int, 0, len(rows))
	for _, r := range rows {
		locationIDs = append(locationIDs, r.LocationID)
	}
	for _, c := range res.characters {
		if id, ok := c.OriginID(); ok {
			locationIDs = append(locationIDs, id)
		}
		if id, ok := c.LocationID(); ok {
			locationIDs = append(locationIDs, id)
		}
	}
	locations, err := e.fetcher.Locations(ctx, catalog.NormalizeIDs(locationIDs))
	if err != nil {
		return res, fmt.Errorf("fetch locations: %w", err)
	}
	res.locations = dedupe(locations, func(l catalog.Location) int { return l.ID })

	return res, nil
}

// dedupe keeps the first item per id and drops non-positive ids.
func dedupe[T any](items []T, id func(T) int) []T {
	seen := make(map[int]struct{}, len(items))
	out := make([]T, 0, len(items))
	for _, it := range items {
		k := id(it)
		if k <= 0 {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, it)
	}
	return out
}
