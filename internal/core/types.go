package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// UnknownLocationID is the reserved id of the "unknown" Location row.
// Characters whose origin or current location cannot be resolved point here.
const UnknownLocationID = 0

// UnknownLocationName is used for name, type and dimension of placeholder locations.
const UnknownLocationName = "unknown"

// Gender values used by the catalog.
const (
	GenderFemale     = "Female"
	GenderMale       = "Male"
	GenderGenderless = "Genderless"
	GenderUnknown    = "unknown"
)

// UploadStatus is the processing state of an Upload.
type UploadStatus int

const (
	StatusPending UploadStatus = iota
	StatusInProgress
	StatusCompleted
	StatusFailed
)

var statusNames = [...]string{
	StatusPending:    "Pending",
	StatusInProgress: "InProgress",
	StatusCompleted:  "Completed",
	StatusFailed:     "Failed",
}

func (s UploadStatus) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("UploadStatus(%d)", int(s))
	}
	return statusNames[s]
}

// ParseUploadStatus converts a status name (case-insensitive) to an UploadStatus.
func ParseUploadStatus(name string) (UploadStatus, error) {
	for i, n := range statusNames {
		if strings.EqualFold(n, name) {
			return UploadStatus(i), nil
		}
	}
	return 0, fmt.Errorf("unknown upload status %q", name)
}

// IsTerminal reports whether no further transitions are allowed.
func (s UploadStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from s to next keeps status monotonic.
// InProgress -> InProgress is allowed so an upload interrupted by shutdown
// can be resumed.
func (s UploadStatus) CanTransition(next UploadStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusInProgress
	case StatusInProgress:
		return next == StatusInProgress || next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// MarshalJSON renders the status by name.
func (s UploadStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts a status name.
func (s *UploadStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseUploadStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Upload is one submitted CSV file and its processing record.
type Upload struct {
	ID         int64        `json:"id"`
	FilePath   string       `json:"file_path"`
	CreatedAt  time.Time    `json:"created_at"`
	StartedAt  *time.Time   `json:"started_at,omitempty"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	Status     UploadStatus `json:"status"`
	Message    string       `json:"message,omitempty"` // failure reason when Failed, enrichment summary when Completed
}

// Start moves the upload to InProgress, stamping StartedAt and clearing FinishedAt.
func (u *Upload) Start(now time.Time) error {
	if !u.Status.CanTransition(StatusInProgress) {
		return fmt.Errorf("upload %d: %w: %s -> %s", u.ID, ErrInvalidTransition, u.Status, StatusInProgress)
	}
	u.Status = StatusInProgress
	u.StartedAt = &now
	u.FinishedAt = nil
	u.Message = ""
	return nil
}

// Finish moves the upload to a terminal status and stamps FinishedAt.
func (u *Upload) Finish(status UploadStatus, now time.Time, message string) error {
	if !status.IsTerminal() || !u.Status.CanTransition(status) {
		return fmt.Errorf("upload %d: %w: %s -> %s", u.ID, ErrInvalidTransition, u.Status, status)
	}
	u.Status = status
	u.FinishedAt = &now
	u.Message = message
	return nil
}

// Episode is a catalog episode. ID is assigned by the catalog.
type Episode struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	AirDate     string `json:"air_date"`
	EpisodeCode string `json:"episode"`
}

// Character is a catalog character with its location foreign keys.
type Character struct {
	ID               int    `json:"id"`
	Name             string `json:"name"`
	Status           string `json:"status"`
	Species          string `json:"species"`
	Type             string `json:"type"`
	Gender           string `json:"gender"`
	OriginLocationID int    `json:"origin_location_id"`
	LocationID       int    `json:"location_id"`
}

// Location is a catalog location.
type Location struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Dimension string `json:"dimension"`
}

// PlaceholderLocation returns the row stored for a location id that the
// catalog did not return.
func PlaceholderLocation(id int) Location {
	return Location{
		ID:        id,
		Name:      UnknownLocationName,
		Type:      UnknownLocationName,
		Dimension: UnknownLocationName,
	}
}

// EpisodeCharacter relates a character to an episode it appears in.
type EpisodeCharacter struct {
	EpisodeID   int
	CharacterID int
}

// UploadEpisode records that an upload touched an episode.
type UploadEpisode struct {
	UploadID  int64
	EpisodeID int
}

// Row is one parsed line of an uploaded CSV. CharacterName is advisory only.
type Row struct {
	EpisodeID     int
	CharacterID   int
	CharacterName string
	LocationID    int
}

// EnrichedEpisode is an episode with the characters stored for it.
type EnrichedEpisode struct {
	Episode
	Characters []Character `json:"characters"`
}
