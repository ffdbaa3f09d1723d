package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fperellaholfeld/Episode-Information-Completion/internal/core"
)

// Queries runs the pipeline's statements against a pool or a transaction.
type Queries struct {
	db DBTX
}

// NewQueries binds queries to db.
func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

var _ core.EntityTx = (*Queries)(nil)

// ----------------------------------------------------------------------------
// Lookups
// ----------------------------------------------------------------------------

const episodesByID = `
SELECT id, name, air_date, episode_code
FROM episodes
WHERE id = ANY($1)`

// EpisodesByID returns the stored episodes among ids, keyed by id.
func (q *Queries) EpisodesByID(ctx context.Context, ids []int) (map[int]core.Episode, error) {
	out := make(map[int]core.Episode, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := q.db.Query(ctx, episodesByID, ids)
	if err != nil {
		return nil, fmt.Errorf("query episodes: %w", err)
	}
	eps, err := pgx.CollectRows(rows, scanEpisode)
	if err != nil {
		return nil, fmt.Errorf("scan episodes: %w", err)
	}
	for _, e := range eps {
		out[e.ID] = e
	}
	return out, nil
}

const charactersByID = `
SELECT id, name, status, species, type, gender, origin_location_id, location_id
FROM characters
WHERE id = ANY($1)`

// CharactersByID returns the stored characters among ids, keyed by id.
func (q *Queries) CharactersByID(ctx context.Context, ids []int) (map[int]core.Character, error) {
	out := make(map[int]core.Character, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := q.db.Query(ctx, charactersByID, ids)
	if err != nil {
		return nil, fmt.Errorf("query characters: %w", err)
	}
	chars, err := pgx.CollectRows(rows, scanCharacter)
	if err != nil {
		return nil, fmt.Errorf("scan characters: %w", err)
	}
	for _, c := range chars {
		out[c.ID] = c
	}
	return out, nil
}

const locationsByID = `
SELECT id, name, type, dimension
FROM locations
WHERE id = ANY($1)`

// LocationsByID returns the stored locations among ids, keyed by id.
func (q *Queries) LocationsByID(ctx context.Context, ids []int) (map[int]core.Location, error) {
	out := make(map[int]core.Location, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := q.db.Query(ctx, locationsByID, ids)
	if err != nil {
		return nil, fmt.Errorf("query locations: %w", err)
	}
	locs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Location, error) {
		var l core.Location
		err := row.Scan(&l.ID, &l.Name, &l.Type, &l.Dimension)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan locations: %w", err)
	}
	for _, l := range locs {
		out[l.ID] = l
	}
	return out, nil
}

func scanEpisode(row pgx.CollectableRow) (core.Episode, error) {
	var e core.Episode
	err := row.Scan(&e.ID, &e.Name, &e.AirDate, &e.EpisodeCode)
	return e, err
}

func scanCharacter(row pgx.CollectableRow) (core.Character, error) {
	var c core.Character
	err := row.Scan(&c.ID, &c.Name, &c.Status, &c.Species, &c.Type, &c.Gender, &c.OriginLocationID, &c.LocationID)
	return c, err
}

// ----------------------------------------------------------------------------
// Entity writes
// ----------------------------------------------------------------------------

// InsertLocation creates a location row.
func (q *Queries) InsertLocation(ctx context.Context, l core.Location) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO locations (id, name, type, dimension) VALUES ($1, $2, $3, $4)`,
		l.ID, l.Name, l.Type, l.Dimension)
	if err != nil {
		return fmt.Errorf("insert location %d: %w", l.ID, err)
	}
	return nil
}

// UpdateLocation overwrites a location's mutable fields.
func (q *Queries) UpdateLocation(ctx context.Context, l core.Location) error {
	_, err := q.db.Exec(ctx,
		`UPDATE locations SET name = $2, type = $3, dimension = $4 WHERE id = $1`,
		l.ID, l.Name, l.Type, l.Dimension)
	if err != nil {
		return fmt.Errorf("update location %d: %w", l.ID, err)
	}
	return nil
}

// InsertEpisode creates an episode row.
func (q *Queries) InsertEpisode(ctx context.Context, e core.Episode) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO episodes (id, name, air_date, episode_code) VALUES ($1, $2, $3, $4)`,
		e.ID, e.Name, e.AirDate, e.EpisodeCode)
	if err != nil {
		return fmt.Errorf("insert episode %d: %w", e.ID, err)
	}
	return nil
}

// UpdateEpisode overwrites an episode's mutable fields.
func (q *Queries) UpdateEpisode(ctx context.Context, e core.Episode) error {
	_, err := q.db.Exec(ctx,
		`UPDATE episodes SET name = $2, air_date = $3, episode_code = $4 WHERE id = $1`,
		e.ID, e.Name, e.AirDate, e.EpisodeCode)
	if err != nil {
		return fmt.Errorf("update episode %d: %w", e.ID, err)
	}
	return nil
}

// InsertCharacter creates a character row. Both location ids must exist.
func (q *Queries) InsertCharacter(ctx context.Context, c core.Character) error {
	_, err := q.db.Exec(ctx, `
INSERT INTO characters (id, name, status, species, type, gender, origin_location_id, location_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.Name, c.Status, c.Species, c.Type, c.Gender, c.OriginLocationID, c.LocationID)
	if err != nil {
		return fmt.Errorf("insert character %d: %w", c.ID, err)
	}
	return nil
}

// UpdateCharacter overwrites every mutable field, both location keys included.
func (q *Queries) UpdateCharacter(ctx context.Context, c core.Character) error {
	_, err := q.db.Exec(ctx, `
UPDATE characters
SET name = $2, status = $3, species = $4, type = $5, gender = $6,
    origin_location_id = $7, location_id = $8
WHERE id = $1`,
		c.ID, c.Name, c.Status, c.Species, c.Type, c.Gender, c.OriginLocationID, c.LocationID)
	if err != nil {
		return fmt.Errorf("update character %d: %w", c.ID, err)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Join rows
// ----------------------------------------------------------------------------

// UploadEpisodeExists reports whether the upload/episode pair is recorded.
func (q *Queries) UploadEpisodeExists(ctx context.Context, ue core.UploadEpisode) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM upload_episodes WHERE upload_id = $1 AND episode_id = $2)`,
		ue.UploadID, ue.EpisodeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check upload episode: %w", err)
	}
	return exists, nil
}

// InsertUploadEpisode records that an upload touched an episode.
func (q *Queries) InsertUploadEpisode(ctx context.Context, ue core.UploadEpisode) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO upload_episodes (upload_id, episode_id) VALUES ($1, $2)`,
		ue.UploadID, ue.EpisodeID)
	if err != nil {
		return fmt.Errorf("insert upload episode: %w", err)
	}
	return nil
}

// EpisodeCharacterExists reports whether the episode/character pair is recorded.
func (q *Queries) EpisodeCharacterExists(ctx context.Context, ec core.EpisodeCharacter) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM episode_characters WHERE episode_id = $1 AND character_id = $2)`,
		ec.EpisodeID, ec.CharacterID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check episode character: %w", err)
	}
	return exists, nil
}

// InsertEpisodeCharacter records a character's appearance in an episode.
func (q *Queries) InsertEpisodeCharacter(ctx context.Context, ec core.EpisodeCharacter) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO episode_characters (episode_id, character_id) VALUES ($1, $2)`,
		ec.EpisodeID, ec.CharacterID)
	if err != nil {
		return fmt.Errorf("insert episode character: %w", err)
	}
	return nil
}
