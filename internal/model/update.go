package model

import (
	"sort"
	"strings"
	"time"
)

// Field keys used for field-level timestamps and step ownership.
const (
	FieldName          = "name"
	FieldAddress       = "address"
	FieldLocality      = "locality"
	FieldPhone         = "phone"
	FieldWebsite       = "website"
	FieldLocation      = "location"
	FieldRating        = "rating"
	FieldReviewCount   = "review_count"
	FieldPriceLevel    = "price_level"
	FieldOpeningHours  = "opening_hours"
	FieldProviderTypes = "provider_types"
	FieldReviews       = "reviews"
	FieldDescription   = "description"
	FieldSummary       = "summary"
	FieldHighlights    = "highlights"
	FieldSentiment     = "sentiment"
	FieldImages        = "images"
	FieldCategoryIDs   = "category_ids"
	FieldAmenities     = "amenities"
	FieldScore         = "score"

	// ArtifactPrefix namespaces intermediate outputs kept for later steps.
	ArtifactPrefix = "artifacts."
)

// Artifact keys shared between steps.
const (
	ArtifactWebContent  = "web_content"
	ArtifactWebSource   = "web_source"
	ArtifactWebImage    = "web_image"
	ArtifactResearch    = "web_research"
	ArtifactPhotoRefs   = "photo_refs"
	ArtifactSuggestions = "category_suggestions"
)

// ArtifactField returns the field key for an artifact.
func ArtifactField(name string) string {
	return ArtifactPrefix + name
}

// PartialUpdate is a sparse set of entity fields derived by one step.
// Nil means "not derived"; an adapter must leave a field nil rather than
// guess an empty value.
type PartialUpdate struct {
	Name          *string
	Address       *string
	Locality      *string
	Phone         *string
	Website       *string
	Location      *Location
	Rating        *float64
	ReviewCount   *int
	PriceLevel    *string
	OpeningHours  []string
	ProviderTypes []string
	Reviews       []Review
	Description   *string
	Summary       *string
	Highlights    []string
	Sentiment     *Sentiment
	Images        []Image
	CategoryIDs   []string
	Amenities     []string
	Score         *float64
	Artifacts     map[string]string
}

type fieldSpec struct {
	key   string
	isSet func(u *PartialUpdate) bool
	apply func(u *PartialUpdate, f *Fields)
	clear func(f *Fields)
}

var fieldSpecs = []fieldSpec{
	{FieldName, func(u *PartialUpdate) bool { return u.Name != nil }, func(u *PartialUpdate, f *Fields) { f.Name = *u.Name }, func(f *Fields) { f.Name = "" }},
	{FieldAddress, func(u *PartialUpdate) bool { return u.Address != nil }, func(u *PartialUpdate, f *Fields) { f.Address = *u.Address }, func(f *Fields) { f.Address = "" }},
	{FieldLocality, func(u *PartialUpdate) bool { return u.Locality != nil }, func(u *PartialUpdate, f *Fields) { f.Locality = *u.Locality }, func(f *Fields) { f.Locality = "" }},
	{FieldPhone, func(u *PartialUpdate) bool { return u.Phone != nil }, func(u *PartialUpdate, f *Fields) { f.Phone = *u.Phone }, func(f *Fields) { f.Phone = "" }},
	{FieldWebsite, func(u *PartialUpdate) bool { return u.Website != nil }, func(u *PartialUpdate, f *Fields) { f.Website = *u.Website }, func(f *Fields) { f.Website = "" }},
	{FieldLocation, func(u *PartialUpdate) bool { return u.Location != nil }, func(u *PartialUpdate, f *Fields) { loc := *u.Location; f.Location = &loc }, func(f *Fields) { f.Location = nil }},
	{FieldRating, func(u *PartialUpdate) bool { return u.Rating != nil }, func(u *PartialUpdate, f *Fields) { f.Rating = *u.Rating }, func(f *Fields) { f.Rating = 0 }},
	{FieldReviewCount, func(u *PartialUpdate) bool { return u.ReviewCount != nil }, func(u *PartialUpdate, f *Fields) { f.ReviewCount = *u.ReviewCount }, func(f *Fields) { f.ReviewCount = 0 }},
	{FieldPriceLevel, func(u *PartialUpdate) bool { return u.PriceLevel != nil }, func(u *PartialUpdate, f *Fields) { f.PriceLevel = *u.PriceLevel }, func(f *Fields) { f.PriceLevel = "" }},
	{FieldOpeningHours, func(u *PartialUpdate) bool { return u.OpeningHours != nil }, func(u *PartialUpdate, f *Fields) { f.OpeningHours = cloneStrings(u.OpeningHours) }, func(f *Fields) { f.OpeningHours = nil }},
	{FieldProviderTypes, func(u *PartialUpdate) bool { return u.ProviderTypes != nil }, func(u *PartialUpdate, f *Fields) { f.ProviderTypes = cloneStrings(u.ProviderTypes) }, func(f *Fields) { f.ProviderTypes = nil }},
	{FieldReviews, func(u *PartialUpdate) bool { return u.Reviews != nil }, func(u *PartialUpdate, f *Fields) { f.Reviews = append([]Review(nil), u.Reviews...) }, func(f *Fields) { f.Reviews = nil }},
	{FieldDescription, func(u *PartialUpdate) bool { return u.Description != nil }, func(u *PartialUpdate, f *Fields) { f.Description = *u.Description }, func(f *Fields) { f.Description = "" }},
	{FieldSummary, func(u *PartialUpdate) bool { return u.Summary != nil }, func(u *PartialUpdate, f *Fields) { f.Summary = *u.Summary }, func(f *Fields) { f.Summary = "" }},
	{FieldHighlights, func(u *PartialUpdate) bool { return u.Highlights != nil }, func(u *PartialUpdate, f *Fields) { f.Highlights = cloneStrings(u.Highlights) }, func(f *Fields) { f.Highlights = nil }},
	{FieldSentiment, func(u *PartialUpdate) bool { return u.Sentiment != nil }, func(u *PartialUpdate, f *Fields) { s := *u.Sentiment; f.Sentiment = &s }, func(f *Fields) { f.Sentiment = nil }},
	{FieldImages, func(u *PartialUpdate) bool { return u.Images != nil }, func(u *PartialUpdate, f *Fields) { f.Images = append([]Image(nil), u.Images...) }, func(f *Fields) { f.Images = nil }},
	{FieldCategoryIDs, func(u *PartialUpdate) bool { return u.CategoryIDs != nil }, func(u *PartialUpdate, f *Fields) { f.CategoryIDs = cloneStrings(u.CategoryIDs) }, func(f *Fields) { f.CategoryIDs = nil }},
	{FieldAmenities, func(u *PartialUpdate) bool { return u.Amenities != nil }, func(u *PartialUpdate, f *Fields) { f.Amenities = cloneStrings(u.Amenities) }, func(f *Fields) { f.Amenities = nil }},
	{FieldScore, func(u *PartialUpdate) bool { return u.Score != nil }, func(u *PartialUpdate, f *Fields) { v := *u.Score; f.Score = &v }, func(f *Fields) { f.Score = nil }},
}

// IsEmpty reports whether the update declares no fields.
func (u *PartialUpdate) IsEmpty() bool {
	return u == nil || len(u.Keys()) == 0
}

// Keys returns the declared field keys in a stable order.
func (u *PartialUpdate) Keys() []string {
	if u == nil {
		return nil
	}
	var keys []string
	for _, fs := range fieldSpecs {
		if fs.isSet(u) {
			keys = append(keys, fs.key)
		}
	}
	if len(u.Artifacts) > 0 {
		names := make([]string, 0, len(u.Artifacts))
		for k := range u.Artifacts {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			keys = append(keys, ArtifactField(k))
		}
	}
	return keys
}

// MergeInto applies the update to e. A declared field is skipped when the
// entity already holds a value for it stamped after asOf; the newer write
// wins on overlap. It returns the keys that were written.
func (u *PartialUpdate) MergeInto(e *Entity, asOf, now time.Time) []string {
	if u == nil {
		return nil
	}
	if e.FieldUpdatedAt == nil {
		e.FieldUpdatedAt = make(map[string]time.Time)
	}
	newer := func(key string) bool {
		ts, ok := e.FieldUpdatedAt[key]
		return ok && ts.After(asOf)
	}

	var written []string
	for _, fs := range fieldSpecs {
		if !fs.isSet(u) || newer(fs.key) {
			continue
		}
		fs.apply(u, &e.Fields)
		e.FieldUpdatedAt[fs.key] = now
		written = append(written, fs.key)
	}
	for k, v := range u.Artifacts {
		key := ArtifactField(k)
		if newer(key) {
			continue
		}
		if e.Fields.Artifacts == nil {
			e.Fields.Artifacts = make(map[string]string)
		}
		e.Fields.Artifacts[k] = v
		e.FieldUpdatedAt[key] = now
		written = append(written, key)
	}
	sort.Strings(written)
	return written
}

// ClearFields zeroes the given keys on f. Unknown keys are ignored.
func ClearFields(f *Fields, keys []string) {
	for _, key := range keys {
		if name, ok := strings.CutPrefix(key, ArtifactPrefix); ok {
			delete(f.Artifacts, name)
			continue
		}
		for _, fs := range fieldSpecs {
			if fs.key == key {
				fs.clear(f)
				break
			}
		}
	}
}

// KnownField reports whether key names an entity field or artifact.
func KnownField(key string) bool {
	if strings.HasPrefix(key, ArtifactPrefix) {
		return len(key) > len(ArtifactPrefix)
	}
	for _, fs := range fieldSpecs {
		if fs.key == key {
			return true
		}
	}
	return false
}

// Ptr returns a pointer to v. Adapters use it to declare scalar fields.
func Ptr[T any](v T) *T {
	return &v
}
