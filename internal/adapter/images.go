package adapter

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/directory-cli/internal/cost"
	"github.com/sells-group/directory-cli/internal/fetcher"
	"github.com/sells-group/directory-cli/internal/model"
	"github.com/sells-group/directory-cli/pkg/google"
	"github.com/sells-group/directory-cli/pkg/mediastore"
)

const (
	defaultMaxPhotos = 6
	photoMaxWidthPx  = 1200
)

// ImageExtraction resolves the place photos (or the website's og:image when
// there are none), copies them to the media store and records their public
// URLs. Without a media store the provider URIs are recorded as-is.
type ImageExtraction struct {
	Google  google.Client
	Fetcher fetcher.Fetcher
	Media   mediastore.Store
	Cost    *cost.Calculator
	Max     int
}

type imageSource struct {
	ref string
	uri string
}

// Applicable implements Conditional.
func (x *ImageExtraction) Applicable(jc model.JobContext) bool {
	return (x.Google != nil && len(photoRefs(jc)) > 0) || jc.Artifact(model.ArtifactWebImage) != ""
}

// Execute implements Adapter.
func (x *ImageExtraction) Execute(ctx context.Context, jc model.JobContext) (*model.PartialUpdate, model.StepMetrics, error) {
	start := time.Now()
	metrics := model.StepMetrics{}
	log := zap.L().With(zap.String("entity_id", jc.Entity.ID), zap.String("step", jc.Step))

	limit := x.Max
	if limit <= 0 {
		limit = defaultMaxPhotos
	}

	var (
		sources []imageSource
		lastErr error
	)
	if x.Google != nil {
		for _, ref := range photoRefs(jc) {
			if len(sources) == limit {
				break
			}
			media, err := x.Google.PhotoMedia(ctx, ref, photoMaxWidthPx)
			metrics.CostUSD += x.Cost.Google(cost.GooglePhoto, 1)
			if err != nil {
				if ctx.Err() != nil {
					return nil, metrics, ctx.Err()
				}
				log.Warn("image_extraction: photo lookup failed", zap.String("ref", ref), zap.Error(err))
				lastErr = err
				continue
			}
			sources = append(sources, imageSource{ref: ref, uri: media.PhotoURI})
		}
	}
	if len(sources) == 0 {
		if img := jc.Artifact(model.ArtifactWebImage); img != "" {
			sources = append(sources, imageSource{ref: "web:og_image", uri: img})
		}
	}
	if len(sources) == 0 {
		if lastErr != nil {
			return nil, metrics, lastErr
		}
		return nil, metrics, model.InvalidInput("image_extraction: no photos for entity %s", jc.Entity.ID)
	}

	images := make([]model.Image, 0, len(sources))
	metrics.Source = "provider"
	for _, src := range sources {
		if x.Media == nil || x.Fetcher == nil {
			images = append(images, model.Image{SourceRef: src.ref, URL: src.uri})
			continue
		}
		img, err := x.store(ctx, jc.Entity.ID, len(images), src)
		if err != nil {
			if ctx.Err() != nil {
				return nil, metrics, ctx.Err()
			}
			log.Warn("image_extraction: store failed", zap.String("ref", src.ref), zap.Error(err))
			lastErr = err
			continue
		}
		images = append(images, img)
		metrics.Source = "media"
	}
	if len(images) == 0 {
		return nil, metrics, eris.Wrap(lastErr, "image_extraction: no image stored")
	}

	metrics.Items = len(images)
	metrics.Fields = 1
	metrics.ElapsedMs = elapsedMs(start)
	return &model.PartialUpdate{Images: images}, metrics, nil
}

func (x *ImageExtraction) store(ctx context.Context, entityID string, idx int, src imageSource) (model.Image, error) {
	obj, err := x.Fetcher.Fetch(ctx, src.uri)
	if err != nil {
		return model.Image{}, err
	}
	if obj.ContentType != "" && !strings.HasPrefix(obj.ContentType, "image/") {
		return model.Image{}, model.InvalidInput("image_extraction: %s is %s, not an image", src.uri, obj.ContentType)
	}
	key := mediastore.PhotoKey(entityID, idx)
	url, err := x.Media.Put(ctx, key, bytes.NewReader(obj.Body))
	if err != nil {
		return model.Image{}, err
	}
	return model.Image{SourceRef: src.ref, URL: url, StoredPath: key}, nil
}
