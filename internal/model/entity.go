package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// EntityType identifies the kind of directory listing being enriched.
type EntityType string

const (
	EntityRestaurant    EntityType = "restaurant"
	EntityHotel         EntityType = "hotel"
	EntityMall          EntityType = "mall"
	EntityAttraction    EntityType = "attraction"
	EntityFitnessCenter EntityType = "fitness_center"
	EntitySchool        EntityType = "school"
)

// EntityTypes lists every supported entity type in display order.
var EntityTypes = []EntityType{
	EntityRestaurant,
	EntityHotel,
	EntityMall,
	EntityAttraction,
	EntityFitnessCenter,
	EntitySchool,
}

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	for _, known := range EntityTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseEntityType converts user input ("Fitness Center", "hotel") into an EntityType.
func ParseEntityType(s string) (EntityType, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	t := EntityType(norm)
	if !t.Valid() {
		return "", eris.Errorf("model: unknown entity type %q", s)
	}
	return t, nil
}

// OverallStatus is the job-level status of an entity record.
type OverallStatus string

const (
	StatusPending    OverallStatus = "pending"
	StatusProcessing OverallStatus = "processing"
	StatusCompleted  OverallStatus = "completed"
	StatusFailed     OverallStatus = "failed"
)

// Failure reasons written by the runner and orchestrator.
const (
	ReasonCancelled     = "cancelled"
	ReasonOrphaned      = "orphaned"
	ReasonCriticalStep  = "critical step failed"
	ReasonFatalError    = "fatal adapter error"
	ReasonPanic         = "orchestrator panic"
	ReasonNotApplicable = "not applicable"
	ReasonInternal      = "internal error"
)

// Location is a WGS84 coordinate.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Review is a single user review pulled from the places provider.
type Review struct {
	Author      string     `json:"author,omitempty"`
	Rating      float64    `json:"rating"`
	Text        string     `json:"text"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// Image is a processed listing photo.
type Image struct {
	SourceRef  string `json:"source_ref"`
	URL        string `json:"url"`
	StoredPath string `json:"stored_path,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
}

// Sentiment summarizes review tone.
type Sentiment struct {
	Score     float64  `json:"score"` // -1..1
	Label     string   `json:"label"`
	Positives []string `json:"positives,omitempty"`
	Negatives []string `json:"negatives,omitempty"`
}

// Fields holds the enrichment data written by individual steps.
type Fields struct {
	Name          string            `json:"name,omitempty"`
	Address       string            `json:"address,omitempty"`
	Locality      string            `json:"locality,omitempty"`
	Phone         string            `json:"phone,omitempty"`
	Website       string            `json:"website,omitempty"`
	Location      *Location         `json:"location,omitempty"`
	Rating        float64           `json:"rating,omitempty"`
	ReviewCount   int               `json:"review_count,omitempty"`
	PriceLevel    string            `json:"price_level,omitempty"`
	OpeningHours  []string          `json:"opening_hours,omitempty"`
	ProviderTypes []string          `json:"provider_types,omitempty"`
	Reviews       []Review          `json:"reviews,omitempty"`
	Description   string            `json:"description,omitempty"`
	Summary       string            `json:"summary,omitempty"`
	Highlights    []string          `json:"highlights,omitempty"`
	Sentiment     *Sentiment        `json:"sentiment,omitempty"`
	Images        []Image           `json:"images,omitempty"`
	CategoryIDs   []string          `json:"category_ids,omitempty"`
	Amenities     []string          `json:"amenities,omitempty"`
	Score         *float64          `json:"score,omitempty"`
	Artifacts     map[string]string `json:"artifacts,omitempty"`
}

// Entity is a directory listing and the durable trace of its extraction jobs.
type Entity struct {
	ID              string               `json:"id"`
	Type            EntityType           `json:"entity_type"`
	ExternalPlaceID string               `json:"external_place_id"`
	SearchQuery     string               `json:"search_query,omitempty"`
	Slug            string               `json:"slug,omitempty"`
	Status          OverallStatus        `json:"overall_status"`
	FailureReason   string               `json:"failure_reason,omitempty"`
	Progress        Progress             `json:"progress"`
	Verified        bool                 `json:"verified"`
	Active          bool                 `json:"active"`
	Fields          Fields               `json:"fields"`
	FieldUpdatedAt  map[string]time.Time `json:"field_updated_at,omitempty"`
	Version         int64                `json:"version"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
	StartedAt       *time.Time           `json:"started_at,omitempty"`
	FinishedAt      *time.Time           `json:"finished_at,omitempty"`
}

// Clone returns a deep copy safe to hand to a step adapter.
func (e Entity) Clone() Entity {
	out := e
	out.Progress = e.Progress.Clone()
	out.Fields = e.Fields.clone()
	if e.FieldUpdatedAt != nil {
		out.FieldUpdatedAt = make(map[string]time.Time, len(e.FieldUpdatedAt))
		for k, v := range e.FieldUpdatedAt {
			out.FieldUpdatedAt[k] = v
		}
	}
	return out
}

func (f Fields) clone() Fields {
	out := f
	if f.Location != nil {
		loc := *f.Location
		out.Location = &loc
	}
	if f.Sentiment != nil {
		s := *f.Sentiment
		s.Positives = append([]string(nil), f.Sentiment.Positives...)
		s.Negatives = append([]string(nil), f.Sentiment.Negatives...)
		out.Sentiment = &s
	}
	if f.Score != nil {
		v := *f.Score
		out.Score = &v
	}
	out.OpeningHours = cloneStrings(f.OpeningHours)
	out.ProviderTypes = cloneStrings(f.ProviderTypes)
	out.Highlights = cloneStrings(f.Highlights)
	out.CategoryIDs = cloneStrings(f.CategoryIDs)
	out.Amenities = cloneStrings(f.Amenities)
	if f.Reviews != nil {
		out.Reviews = append([]Review(nil), f.Reviews...)
	}
	if f.Images != nil {
		out.Images = append([]Image(nil), f.Images...)
	}
	if f.Artifacts != nil {
		out.Artifacts = make(map[string]string, len(f.Artifacts))
		for k, v := range f.Artifacts {
			out.Artifacts[k] = v
		}
	}
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
