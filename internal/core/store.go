package core

import "context"

// EntityTx is the transaction-bound view of the catalog tables used by the
// enrichment upsert. Lookups return only the ids that exist.
type EntityTx interface {
	EpisodesByID(ctx context.Context, ids []int) (map[int]Episode, error)
	CharactersByID(ctx context.Context, ids []int) (map[int]Character, error)
	LocationsByID(ctx context.Context, ids []int) (map[int]Location, error)

	InsertLocation(ctx context.Context, l Location) error
	UpdateLocation(ctx context.Context, l Location) error
	InsertEpisode(ctx context.Context, e Episode) error
	UpdateEpisode(ctx context.Context, e Episode) error
	InsertCharacter(ctx context.Context, c Character) error
	UpdateCharacter(ctx context.Context, c Character) error

	UploadEpisodeExists(ctx context.Context, ue UploadEpisode) (bool, error)
	InsertUploadEpisode(ctx context.Context, ue UploadEpisode) error
	EpisodeCharacterExists(ctx context.Context, ec EpisodeCharacter) (bool, error)
	InsertEpisodeCharacter(ctx context.Context, ec EpisodeCharacter) error
}

// TxRunner runs fn inside one transaction, committing only if fn returns nil.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(tx EntityTx) error) error
}
