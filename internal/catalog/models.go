package catalog

import "github.com/fperellaholfeld/Episode-Information-Completion/internal/core"

// Episode is the catalog's episode payload.
type Episode struct {
	ID            int      `json:"id"`
	Name          string   `json:"name"`
	AirDate       string   `json:"air_date"`
	EpisodeCode   string   `json:"episode"`
	CharacterURLs []string `json:"characters"`
}

// Ref is a named link to another catalog entity.
type Ref struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Character is the catalog's character payload.
type Character struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Species  string `json:"species"`
	Type     string `json:"type"`
	Gender   string `json:"gender"`
	Origin   Ref    `json:"origin"`
	Location Ref    `json:"location"`
}

// Location is the catalog's location payload.
type Location struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Dimension string `json:"dimension"`
}

// CharacterIDs resolves the episode's character URLs to ids.
func (e Episode) CharacterIDs() []int {
	return ExtractIDsFromURLs(e.CharacterURLs)
}

// OriginID returns the id of the character's origin location, if resolvable.
func (c Character) OriginID() (int, bool) {
	return ExtractIDFromURL(c.Origin.URL)
}

// LocationID returns the id of the character's current location, if resolvable.
func (c Character) LocationID() (int, bool) {
	return ExtractIDFromURL(c.Location.URL)
}

// ToCore converts the payload to the stored episode.
func (e Episode) ToCore() core.Episode {
	return core.Episode{
		ID:          e.ID,
		Name:        e.Name,
		AirDate:     e.AirDate,
		EpisodeCode: e.EpisodeCode,
	}
}

// ToCore converts the payload to the stored character. Unresolvable location
// links point at core.UnknownLocationID.
func (c Character) ToCore() core.Character {
	origin, ok := c.OriginID()
	if !ok {
		origin = core.UnknownLocationID
	}
	current, ok := c.LocationID()
	if !ok {
		current = core.UnknownLocationID
	}
	return core.Character{
		ID:               c.ID,
		Name:             c.Name,
		Status:           c.Status,
		Species:          c.Species,
		Type:             c.Type,
		Gender:           c.Gender,
		OriginLocationID: origin,
		LocationID:       current,
	}
}

// ToCore converts the payload to the stored location.
func (l Location) ToCore() core.Location {
	return core.Location{
		ID:        l.ID,
		Name:      l.Name,
		Type:      l.Type,
		Dimension: l.Dimension,
	}
}
