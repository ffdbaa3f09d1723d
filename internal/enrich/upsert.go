package enrich

import (
	"context"
	"slices"

	"github.com/fperellaholfeld/Episode-Information-Completion/internal/catalog"
	"github.com/fperellaholfeld/Episode-Information-Completion/internal/core"
	"github.com/fperellaholfeld/Episode-Information-Completion/internal/logging"
)

// upserter applies one fetchResult inside a transaction.
type upserter struct {
	tx       core.EntityTx
	uploadID int64
	fetched  fetchResult
	sum      *Summary

	episodes   map[int]core.Episode
	characters map[int]core.Character
	locations  map[int]core.Location
}

func (u *upserter) run(ctx context.Context) error {
	if err := u.loadExisting(ctx); err != nil {
		return err
	}
	if err := u.upsertLocations(ctx); err != nil {
		return err
	}
	if err := u.upsertEpisodes(ctx); err != nil {
		return err
	}
	if err := u.upsertCharacters(ctx); err != nil {
		return err
	}
	return u.linkEpisodeCharacters(ctx)
}

func ids[T any](items []T, id func(T) int) []int {
	out := make([]int, len(items))
	for i, it := range items {
		out[i] = id(it)
	}
	return out
}

// loadExisting reads the stored rows for every fetched id. Locations also
// cover the ids characters point at, so placeholders are only created for
// ids that are really missing.
func (u *upserter) loadExisting(ctx context.Context) error {
	var err error

	u.episodes, err = u.tx.EpisodesByID(ctx, ids(u.fetched.episodes, func(e catalog.Episode) int { return e.ID }))
	if err != nil {
		return err
	}
	u.characters, err = u.tx.CharactersByID(ctx, ids(u.fetched.characters, func(c catalog.Character) int { return c.ID }))
	if err != nil {
		return err
	}

	locationIDs := ids(u.fetched.locations, func(l catalog.Location) int { return l.ID })
	for _, c := range u.fetched.characters {
		cc := c.ToCore()
		locationIDs = append(locationIDs, cc.OriginLocationID, cc.LocationID)
	}
	slices.Sort(locationIDs)
	u.locations, err = u.tx.LocationsByID(ctx, slices.Compact(locationIDs))
	return err
}

// upsert creates v when id is unknown and still absent on a fresh lookup,
// otherwise overwrites the stored row.
func upsert[T any](
	ctx context.Context,
	known map[int]T,
	id int,
	v T,
	lookup func(context.Context, []int) (map[int]T, error),
	insert, update func(context.Context, T) error,
) (created bool, err error) {
	if _, ok := known[id]; !ok {
		found, err := lookup(ctx, []int{id})
		if err != nil {
			return false, err
		}
		if _, ok := found[id]; !ok {
			if err := insert(ctx, v); err != nil {
				return false, err
			}
			known[id] = v
			return true, nil
		}
	}
	if err := update(ctx, v); err != nil {
		return false, err
	}
	known[id] = v
	return false, nil
}

func (u *upserter) upsertLocations(ctx context.Context) error {
	for _, l := range u.fetched.locations {
		created, err := upsert(ctx, u.locations, l.ID, l.ToCore(), u.tx.LocationsByID, u.tx.InsertLocation, u.tx.UpdateLocation)
		if err != nil {
			return err
		}
		if created {
			u.sum.LocationsCreated++
		} else {
			u.sum.LocationsUpdated++
		}
	}
	return nil
}

func (u *upserter) upsertEpisodes(ctx context.Context) error {
	for _, ep := range u.fetched.episodes {
		created, err := upsert(ctx, u.episodes, ep.ID, ep.ToCore(), u.tx.EpisodesByID, u.tx.InsertEpisode, u.tx.UpdateEpisode)
		if err != nil {
			return err
		}
		if created {
			u.sum.EpisodesCreated++
		} else {
			u.sum.EpisodesUpdated++
		}

		link := core.UploadEpisode{UploadID: u.uploadID, EpisodeID: ep.ID}
		exists, err := u.tx.UploadEpisodeExists(ctx, link)
		if err != nil {
			return err
		}
		if !exists {
			if err := u.tx.InsertUploadEpisode(ctx, link); err != nil {
				return err
			}
			u.sum.UploadEpisodesLinked++
		}
	}
	return nil
}

// ensureLocation makes sure a location row exists for id, storing a
// placeholder when the catalog did not provide one.
func (u *upserter) ensureLocation(ctx context.Context, id int) error {
	if _, ok := u.locations[id]; ok {
		return nil
	}
	found, err := u.tx.LocationsByID(ctx, []int{id})
	if err != nil {
		return err
	}
	if l, ok := found[id]; ok {
		u.locations[id] = l
		return nil
	}

	placeholder := core.PlaceholderLocation(id)
	if err := u.tx.InsertLocation(ctx, placeholder); err != nil {
		return err
	}
	u.locations[id] = placeholder
	u.sum.PlaceholdersCreated++
	logging.FromContext(ctx).Debug("placeholder location created", "location_id", id)
	return nil
}

func (u *upserter) upsertCharacters(ctx context.Context) error {
	for _, c := range u.fetched.characters {
		cc := c.ToCore()
		if err := u.ensureLocation(ctx, cc.OriginLocationID); err != nil {
			return err
		}
		if err := u.ensureLocation(ctx, cc.LocationID); err != nil {
			return err
		}

		created, err := upsert(ctx, u.characters, cc.ID, cc, u.tx.CharactersByID, u.tx.InsertCharacter, u.tx.UpdateCharacter)
		if err != nil {
			return err
		}
		if created {
			u.sum.CharactersCreated++
		} else {
			u.sum.CharactersUpdated++
		}
	}
	return nil
}

// linkEpisodeCharacters records every character listed by a fetched episode.
// Characters that are neither fetched nor already stored cannot be linked.
func (u *upserter) linkEpisodeCharacters(ctx context.Context) error {
	var missing []int
	for _, ep := range u.fetched.episodes {
		for _, id := range ep.CharacterIDs() {
			if _, ok := u.characters[id]; !ok && id > 0 {
				missing = append(missing, id)
			}
		}
	}
	if len(missing) > 0 {
		stored, err := u.tx.CharactersByID(ctx, catalog.NormalizeIDs(missing))
		if err != nil {
			return err
		}
		for id, c := range stored {
			u.characters[id] = c
		}
	}

	for _, ep := range u.fetched.episodes {
		for _, id := range catalog.NormalizeIDs(ep.CharacterIDs()) {
			if _, ok := u.characters[id]; !ok {
				u.sum.EpisodeCharactersMissed++
				continue
			}

			pair := core.EpisodeCharacter{EpisodeID: ep.ID, CharacterID: id}
			exists, err := u.tx.EpisodeCharacterExists(ctx, pair)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			if err := u.tx.InsertEpisodeCharacter(ctx, pair); err != nil {
				return err
			}
			u.sum.EpisodeCharactersLinked++
		}
	}
	return nil
}
