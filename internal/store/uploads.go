package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fperellaholfeld/Episode-Information-Completion/internal/core"
)

// DefaultListLimit caps ListUploads when no limit is given.
const DefaultListLimit = 100

const uploadColumns = `id, file_path, created_at, started_at, finished_at, status, message`

func scanUpload(row pgx.Row) (core.Upload, error) {
	var (
		u      core.Upload
		status int16
	)
	err := row.Scan(&u.ID, &u.FilePath, &u.CreatedAt, &u.StartedAt, &u.FinishedAt, &status, &u.Message)
	u.Status = core.UploadStatus(status)
	return u, err
}

// CreateUpload records a Pending upload for the file at filePath.
func (q *Queries) CreateUpload(ctx context.Context, filePath string, createdAt time.Time) (core.Upload, error) {
	row := q.db.QueryRow(ctx, `
INSERT INTO uploads (file_path, created_at, status)
VALUES ($1, $2, $3)
RETURNING `+uploadColumns,
		filePath, createdAt, int16(core.StatusPending))

	u, err := scanUpload(row)
	if err != nil {
		return core.Upload{}, fmt.Errorf("create upload: %w", err)
	}
	return u, nil
}

// GetUpload returns the upload with id, or core.ErrUploadNotFound.
func (q *Queries) GetUpload(ctx context.Context, id int64) (core.Upload, error) {
	u, err := scanUpload(q.db.QueryRow(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Upload{}, fmt.Errorf("upload %d: %w", id, core.ErrUploadNotFound)
	}
	if err != nil {
		return core.Upload{}, fmt.Errorf("get upload %d: %w", id, err)
	}
	return u, nil
}

// SaveUpload persists the upload's status, timestamps and message.
func (q *Queries) SaveUpload(ctx context.Context, u core.Upload) error {
	tag, err := q.db.Exec(ctx, `
UPDATE uploads
SET status = $2, started_at = $3, finished_at = $4, message = $5
WHERE id = $1`,
		u.ID, int16(u.Status), u.StartedAt, u.FinishedAt, u.Message)
	if err != nil {
		return fmt.Errorf("save upload %d: %w", u.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("upload %d: %w", u.ID, core.ErrUploadNotFound)
	}
	return nil
}

// ListUploads returns the most recent uploads first.
func (q *Queries) ListUploads(ctx context.Context, limit int) ([]core.Upload, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := q.db.Query(ctx, `SELECT `+uploadColumns+` FROM uploads ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	uploads, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Upload, error) {
		return scanUpload(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan uploads: %w", err)
	}
	return uploads, nil
}

// EnrichedEpisodes returns the episodes an upload touched, each with the
// characters stored for it, ordered by episode id.
func (q *Queries) EnrichedEpisodes(ctx context.Context, uploadID int64) ([]core.EnrichedEpisode, error) {
	rows, err := q.db.Query(ctx, `
SELECT e.id, e.name, e.air_date, e.episode_code
FROM episodes e
JOIN upload_episodes ue ON ue.episode_id = e.id
WHERE ue.upload_id = $1
ORDER BY e.id`, uploadID)
	if err != nil {
		return nil, fmt.Errorf("query upload episodes: %w", err)
	}
	eps, err := pgx.CollectRows(rows, scanEpisode)
	if err != nil {
		return nil, fmt.Errorf("scan upload episodes: %w", err)
	}
	if len(eps) == 0 {
		return []core.EnrichedEpisode{}, nil
	}

	ids := make([]int, len(eps))
	for i, e := range eps {
		ids[i] = e.ID
	}

	rows, err = q.db.Query(ctx, `
SELECT ec.episode_id, c.id, c.name, c.status, c.species, c.type, c.gender, c.origin_location_id, c.location_id
FROM episode_characters ec
JOIN characters c ON c.id = ec.character_id
WHERE ec.episode_id = ANY($1)
ORDER BY ec.episode_id, c.id`, ids)
	if err != nil {
		return nil, fmt.Errorf("query episode characters: %w", err)
	}

	byEpisode := make(map[int][]core.Character, len(eps))
	var (
		episodeID int
		c         core.Character
	)
	_, err = pgx.ForEachRow(rows,
		[]any{&episodeID, &c.ID, &c.Name, &c.Status, &c.Species, &c.Type, &c.Gender, &c.OriginLocationID, &c.LocationID},
		func() error {
			byEpisode[episodeID] = append(byEpisode[episodeID], c)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("scan episode characters: %w", err)
	}

	out := make([]core.EnrichedEpisode, len(eps))
	for i, e := range eps {
		chars := byEpisode[e.ID]
		if chars == nil {
			chars = []core.Character{}
		}
		out[i] = core.EnrichedEpisode{Episode: e, Characters: chars}
	}
	return out, nil
}
