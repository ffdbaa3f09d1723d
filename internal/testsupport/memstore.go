// Package testsupport provides in-memory fakes shared by package tests.
package testsupport

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/fperellaholfeld/Episode-Information-Completion/internal/core"
)

// ErrDuplicateKey mimics a primary-key violation.
var ErrDuplicateKey = fmt.Errorf("duplicate key value violates unique constraint")

// ErrForeignKey mimics a foreign-key violation.
var ErrForeignKey = fmt.Errorf("violates foreign key constraint")

type tables struct {
	uploads           map[int64]core.Upload
	episodes          map[int]core.Episode
	characters        map[int]core.Character
	locations         map[int]core.Location
	episodeCharacters map[core.EpisodeCharacter]struct{}
	uploadEpisodes    map[core.UploadEpisode]struct{}
}

func newTables() tables {
	return tables{
		uploads:           map[int64]core.Upload{},
		episodes:          map[int]core.Episode{},
		characters:        map[int]core.Character{},
		locations:         map[int]core.Location{},
		episodeCharacters: map[core.EpisodeCharacter]struct{}{},
		uploadEpisodes:    map[core.UploadEpisode]struct{}{},
	}
}

func (t tables) clone() tables {
	return tables{
		uploads:           maps.Clone(t.uploads),
		episodes:          maps.Clone(t.episodes),
		characters:        maps.Clone(t.characters),
		locations:         maps.Clone(t.locations),
		episodeCharacters: maps.Clone(t.episodeCharacters),
		uploadEpisodes:    maps.Clone(t.uploadEpisodes),
	}
}

// MemStore is an in-memory store with the same constraints as the Postgres
// schema: primary keys are unique and characters must reference existing
// locations. Transactions work on a copy that replaces the data on commit.
type MemStore struct {
	mu     sync.Mutex
	data   tables
	nextID int64

	// Fail makes the named method return the error, e.g. "InsertCharacter".
	Fail map[string]error

	// Calls counts method invocations by name.
	Calls map[string]int

	// Commits counts committed transactions.
	Commits int
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		data:  newTables(),
		Fail:  map[string]error{},
		Calls: map[string]int{},
	}
}

func (m *MemStore) hit(name string) error {
	m.Calls[name]++
	return m.Fail[name]
}

// ----------------------------------------------------------------------------
// Uploads
// ----------------------------------------------------------------------------

// CreateUpload stores a Pending upload.
func (m *MemStore) CreateUpload(_ context.Context, filePath string, createdAt time.Time) (core.Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("CreateUpload"); err != nil {
		return core.Upload{}, err
	}
	m.nextID++
	u := core.Upload{ID: m.nextID, FilePath: filePath, CreatedAt: createdAt, Status: core.StatusPending}
	m.data.uploads[u.ID] = u
	return u, nil
}

// PutUpload stores u as is.
func (m *MemStore) PutUpload(u core.Upload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.uploads[u.ID] = u
	m.nextID = max(m.nextID, u.ID)
}

// GetUpload returns the upload or core.ErrUploadNotFound.
func (m *MemStore) GetUpload(_ context.Context, id int64) (core.Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("GetUpload"); err != nil {
		return core.Upload{}, err
	}
	u, ok := m.data.uploads[id]
	if !ok {
		return core.Upload{}, fmt.Errorf("upload %d: %w", id, core.ErrUploadNotFound)
	}
	return u, nil
}

// SaveUpload overwrites an existing upload.
func (m *MemStore) SaveUpload(_ context.Context, u core.Upload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("SaveUpload"); err != nil {
		return err
	}
	if _, ok := m.data.uploads[u.ID]; !ok {
		return fmt.Errorf("upload %d: %w", u.ID, core.ErrUploadNotFound)
	}
	m.data.uploads[u.ID] = u
	return nil
}

// ListUploads returns uploads newest first.
func (m *MemStore) ListUploads(_ context.Context, limit int) ([]core.Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("ListUploads"); err != nil {
		return nil, err
	}
	ids := slices.Sorted(maps.Keys(m.data.uploads))
	slices.Reverse(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]core.Upload, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.data.uploads[id])
	}
	return out, nil
}

// EnrichedEpisodes returns the episodes recorded for an upload with their characters.
func (m *MemStore) EnrichedEpisodes(_ context.Context, uploadID int64) ([]core.EnrichedEpisode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("EnrichedEpisodes"); err != nil {
		return nil, err
	}
	var episodeIDs []int
	for ue := range m.data.uploadEpisodes {
		if ue.UploadID == uploadID {
			episodeIDs = append(episodeIDs, ue.EpisodeID)
		}
	}
	slices.Sort(episodeIDs)

	out := make([]core.EnrichedEpisode, 0, len(episodeIDs))
	for _, id := range episodeIDs {
		var charIDs []int
		for ec := range m.data.episodeCharacters {
			if ec.EpisodeID == id {
				charIDs = append(charIDs, ec.CharacterID)
			}
		}
		slices.Sort(charIDs)
		chars := make([]core.Character, 0, len(charIDs))
		for _, cid := range charIDs {
			chars = append(chars, m.data.characters[cid])
		}
		out = append(out, core.EnrichedEpisode{Episode: m.data.episodes[id], Characters: chars})
	}
	return out, nil
}

// ----------------------------------------------------------------------------
// Transactions
// ----------------------------------------------------------------------------

// RunInTx runs fn against a copy of the data and keeps it only if fn succeeds.
// Transactions are serialized.
func (m *MemStore) RunInTx(ctx context.Context, fn func(tx core.EntityTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("RunInTx"); err != nil {
		return err
	}

	tx := &memTx{store: m, data: m.data.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.hit("Commit"); err != nil {
		return err
	}
	m.data = tx.data
	m.Commits++
	return nil
}

// Snapshot returns copies of the committed catalog tables.
func (m *MemStore) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Episodes:          maps.Clone(m.data.episodes),
		Characters:        maps.Clone(m.data.characters),
		Locations:         maps.Clone(m.data.locations),
		EpisodeCharacters: slices.Collect(maps.Keys(m.data.episodeCharacters)),
		UploadEpisodes:    slices.Collect(maps.Keys(m.data.uploadEpisodes)),
	}
}

// Snapshot is a point-in-time copy of the catalog tables.
type Snapshot struct {
	Episodes          map[int]core.Episode
	Characters        map[int]core.Character
	Locations         map[int]core.Location
	EpisodeCharacters []core.EpisodeCharacter
	UploadEpisodes    []core.UploadEpisode
}

// SeedLocation stores a location outside any transaction.
func (m *MemStore) SeedLocation(l core.Location) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.locations[l.ID] = l
}

// SeedCharacter stores a character outside any transaction.
func (m *MemStore) SeedCharacter(c core.Character) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.characters[c.ID] = c
}

// memTx is the transaction view handed to RunInTx callbacks. The store's
// mutex is held for its whole life.
type memTx struct {
	store *MemStore
	data  tables
}

var _ core.EntityTx = (*memTx)(nil)

func lookup[V any](t *memTx, name string, table map[int]V, ids []int) (map[int]V, error) {
	if err := t.store.hit(name); err != nil {
		return nil, err
	}
	out := make(map[int]V, len(ids))
	for _, id := range ids {
		if v, ok := table[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (t *memTx) EpisodesByID(_ context.Context, ids []int) (map[int]core.Episode, error) {
	return lookup(t, "EpisodesByID", t.data.episodes, ids)
}

func (t *memTx) CharactersByID(_ context.Context, ids []int) (map[int]core.Character, error) {
	return lookup(t, "CharactersByID", t.data.characters, ids)
}

func (t *memTx) LocationsByID(_ context.Context, ids []int) (map[int]core.Location, error) {
	return lookup(t, "LocationsByID", t.data.locations, ids)
}

func insert[V any](t *memTx, name string, table map[int]V, id int, v V) error {
	if err := t.store.hit(name); err != nil {
		return err
	}
	if _, ok := table[id]; ok {
		return fmt.Errorf("%s %d: %w", name, id, ErrDuplicateKey)
	}
	table[id] = v
	return nil
}

func update[V any](t *memTx, name string, table map[int]V, id int, v V) error {
	if err := t.store.hit(name); err != nil {
		return err
	}
	if _, ok := table[id]; ok {
		table[id] = v
	}
	return nil
}

func (t *memTx) InsertLocation(_ context.Context, l core.Location) error {
	return insert(t, "InsertLocation", t.data.locations, l.ID, l)
}

func (t *memTx) UpdateLocation(_ context.Context, l core.Location) error {
	return update(t, "UpdateLocation", t.data.locations, l.ID, l)
}

func (t *memTx) InsertEpisode(_ context.Context, e core.Episode) error {
	return insert(t, "InsertEpisode", t.data.episodes, e.ID, e)
}

func (t *memTx) UpdateEpisode(_ context.Context, e core.Episode) error {
	return update(t, "UpdateEpisode", t.data.episodes, e.ID, e)
}

func (t *memTx) checkLocations(c core.Character) error {
	for _, id := range []int{c.OriginLocationID, c.LocationID} {
		if _, ok := t.data.locations[id]; !ok {
			return fmt.Errorf("character %d location %d: %w", c.ID, id, ErrForeignKey)
		}
	}
	return nil
}

func (t *memTx) InsertCharacter(_ context.Context, c core.Character) error {
	if err := t.checkLocations(c); err != nil {
		return err
	}
	return insert(t, "InsertCharacter", t.data.characters, c.ID, c)
}

func (t *memTx) UpdateCharacter(_ context.Context, c core.Character) error {
	if err := t.checkLocations(c); err != nil {
		return err
	}
	return update(t, "UpdateCharacter", t.data.characters, c.ID, c)
}

func (t *memTx) UploadEpisodeExists(_ context.Context, ue core.UploadEpisode) (bool, error) {
	if err := t.store.hit("UploadEpisodeExists"); err != nil {
		return false, err
	}
	_, ok := t.data.uploadEpisodes[ue]
	return ok, nil
}

func (t *memTx) InsertUploadEpisode(_ context.Context, ue core.UploadEpisode) error {
	if err := t.store.hit("InsertUploadEpisode"); err != nil {
		return err
	}
	if _, ok := t.data.uploadEpisodes[ue]; ok {
		return fmt.Errorf("upload episode: %w", ErrDuplicateKey)
	}
	if _, ok := t.data.episodes[ue.EpisodeID]; !ok {
		return fmt.Errorf("upload episode %d: %w", ue.EpisodeID, ErrForeignKey)
	}
	t.data.uploadEpisodes[ue] = struct{}{}
	return nil
}

func (t *memTx) EpisodeCharacterExists(_ context.Context, ec core.EpisodeCharacter) (bool, error) {
	if err := t.store.hit("EpisodeCharacterExists"); err != nil {
		return false, err
	}
	_, ok := t.data.episodeCharacters[ec]
	return ok, nil
}

func (t *memTx) InsertEpisodeCharacter(_ context.Context, ec core.EpisodeCharacter) error {
	if err := t.store.hit("InsertEpisodeCharacter"); err != nil {
		return err
	}
	if _, ok := t.data.episodeCharacters[ec]; ok {
		return fmt.Errorf("episode character: %w", ErrDuplicateKey)
	}
	if _, ok := t.data.episodes[ec.EpisodeID]; !ok {
		return fmt.Errorf("episode character episode %d: %w", ec.EpisodeID, ErrForeignKey)
	}
	if _, ok := t.data.characters[ec.CharacterID]; !ok {
		return fmt.Errorf("episode character character %d: %w", ec.CharacterID, ErrForeignKey)
	}
	t.data.episodeCharacters[ec] = struct{}{}
	return nil
}
