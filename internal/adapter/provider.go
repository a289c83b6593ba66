package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/directory-cli/internal/cost"
	"github.com/sells-group/directory-cli/internal/model"
	"github.com/sells-group/directory-cli/pkg/google"
)

// maxPhotoRefs caps the photo references handed to image_extraction.
const maxPhotoRefs = 10

var priceLevels = map[string]string{
	"PRICE_LEVEL_FREE":           "free",
	"PRICE_LEVEL_INEXPENSIVE":    "$",
	"PRICE_LEVEL_MODERATE":       "$$",
	"PRICE_LEVEL_EXPENSIVE":      "$$$",
	"PRICE_LEVEL_VERY_EXPENSIVE": "$$$$",
}

// ProviderFetch looks the place up in Google Places and maps the core
// listing fields. When the stored place id is unknown to the provider and the
// job carries a search query, the first text search hit is used instead.
type ProviderFetch struct {
	Google google.Client
	Cost   *cost.Calculator
}

// Execute implements Adapter.
func (p *ProviderFetch) Execute(ctx context.Context, jc model.JobContext) (*model.PartialUpdate, model.StepMetrics, error) {
	start := time.Now()
	metrics := model.StepMetrics{Source: "google"}
	if p.Google == nil {
		return nil, metrics, model.Fatal(eris.New("provider_fetch: google client not configured"))
	}

	id := placeID(jc)
	if id == "" {
		return nil, metrics, model.InvalidInput("provider_fetch: entity %s has no place id", jc.Entity.ID)
	}

	place, err := p.Google.PlaceDetails(ctx, id)
	metrics.CostUSD += p.Cost.Google(cost.GoogleDetails, 1)
	if err != nil {
		var apiErr *google.APIError
		query := jc.Job.SearchQuery
		if query == "" {
			query = jc.Entity.SearchQuery
		}
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound || query == "" {
			return nil, metrics, err
		}

		zap.L().Info("provider_fetch: place id not found, falling back to text search",
			zap.String("entity_id", jc.Entity.ID),
			zap.String("external_place_id", id),
			zap.String("query", query),
		)
		place, err = p.search(ctx, query, &metrics)
		if err != nil {
			return nil, metrics, err
		}
	}

	update, err := placeUpdate(place)
	if err != nil {
		return nil, metrics, err
	}
	metrics.Items = 1
	metrics.Fields = len(update.Keys())
	metrics.ElapsedMs = elapsedMs(start)
	return update, metrics, nil
}

func (p *ProviderFetch) search(ctx context.Context, query string, metrics *model.StepMetrics) (*google.Place, error) {
	resp, err := p.Google.TextSearch(ctx, query)
	metrics.CostUSD += p.Cost.Google(cost.GoogleTextSearch, 1)
	if err != nil {
		return nil, err
	}
	if len(resp.Places) == 0 {
		return nil, model.InvalidInput("provider_fetch: no place matches %q", query)
	}

	place, err := p.Google.PlaceDetails(ctx, resp.Places[0].ID)
	metrics.CostUSD += p.Cost.Google(cost.GoogleDetails, 1)
	if err != nil {
		return nil, err
	}
	return place, nil
}

// placeUpdate maps a place onto the fields provider_fetch owns. Empty values
// stay nil so they never overwrite data from an earlier run.
func placeUpdate(place *google.Place) (*model.PartialUpdate, error) {
	u := &model.PartialUpdate{}
	if place.DisplayName.Text != "" {
		u.Name = model.Ptr(place.DisplayName.Text)
	}
	if place.FormattedAddress != "" {
		u.Address = model.Ptr(place.FormattedAddress)
	}
	if loc := place.Locality(); loc != "" {
		u.Locality = model.Ptr(loc)
	}
	switch {
	case place.NationalPhoneNumber != "":
		u.Phone = model.Ptr(place.NationalPhoneNumber)
	case place.InternationalPhoneNumber != "":
		u.Phone = model.Ptr(place.InternationalPhoneNumber)
	}
	if place.WebsiteURI != "" {
		u.Website = model.Ptr(place.WebsiteURI)
	}
	if place.Location != nil {
		u.Location = &model.Location{Lat: place.Location.Latitude, Lng: place.Location.Longitude}
	}
	if place.UserRatingCount > 0 {
		u.Rating = model.Ptr(place.Rating)
		u.ReviewCount = model.Ptr(place.UserRatingCount)
	}
	if lvl, ok := priceLevels[place.PriceLevel]; ok {
		u.PriceLevel = model.Ptr(lvl)
	}
	if place.RegularOpeningHours != nil && len(place.RegularOpeningHours.WeekdayDescriptions) > 0 {
		u.OpeningHours = place.RegularOpeningHours.WeekdayDescriptions
	}
	if len(place.Types) > 0 {
		u.ProviderTypes = place.Types
	}

	refs := make([]string, 0, min(len(place.Photos), maxPhotoRefs))
	for _, ph := range place.Photos {
		if len(refs) == maxPhotoRefs {
			break
		}
		if ph.Name != "" {
			refs = append(refs, ph.Name)
		}
	}
	if len(refs) > 0 {
		b, err := json.Marshal(refs)
		if err != nil {
			return nil, eris.Wrap(err, "provider_fetch: encode photo refs")
		}
		u.Artifacts = map[string]string{model.ArtifactPhotoRefs: string(b)}
	}
	return u, nil
}

// photoRefs decodes the photo_refs artifact written by provider_fetch.
func photoRefs(jc model.JobContext) []string {
	raw := jc.Artifact(model.ArtifactPhotoRefs)
	if raw == "" {
		return nil
	}
	var refs []string
	if err := json.Unmarshal([]byte(raw), &refs); err != nil {
		zap.L().Warn("adapter: malformed photo refs artifact",
			zap.String("entity_id", jc.Entity.ID),
			zap.Error(err),
		)
		return nil
	}
	return refs
}
