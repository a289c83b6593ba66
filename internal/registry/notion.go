package registry

import (
	"context"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/directory-cli/internal/model"
	"github.com/sells-group/directory-cli/pkg/notion"
)

// LoadNotionOverrides queries a Notion "Step Registry" database for active
// rows and folds them into Overrides. Each row names one step of one entity
// type; blank columns keep the default.
func LoadNotionOverrides(ctx context.Context, client notion.Client, dbID string) (*Overrides, error) {
	pages, err := notion.QueryByStatus(ctx, client, dbID, "Active")
	if err != nil {
		return nil, eris.Wrap(err, "registry: load notion overrides")
	}

	o := &Overrides{Types: make(map[model.EntityType]TypeOverride)}
	for _, p := range pages {
		row, err := parseStepPage(p)
		if err != nil {
			zap.L().Warn("registry: skipping malformed step page",
				zap.String("page_id", string(p.ID)),
				zap.Error(err),
			)
			continue
		}

		to := o.Types[row.entityType]
		if row.disabled {
			to.Disabled = append(to.Disabled, row.step)
		} else {
			if to.Steps == nil {
				to.Steps = make(map[string]StepOverride)
			}
			to.Steps[row.step] = row.override
		}
		o.Types[row.entityType] = to
	}
	return o, nil
}

type stepRow struct {
	entityType model.EntityType
	step       string
	disabled   bool
	override   StepOverride
}

func parseStepPage(p notionapi.Page) (stepRow, error) {
	var row stepRow

	// Step (title)
	if prop, ok := p.Properties["Step"]; ok {
		if tp, ok := prop.(*notionapi.TitleProperty); ok {
			row.step = plainText(tp.Title)
		}
	}

	// EntityType (select)
	if prop, ok := p.Properties["EntityType"]; ok {
		if sp, ok := prop.(*notionapi.SelectProperty); ok {
			t, err := model.ParseEntityType(sp.Select.Name)
			if err != nil {
				return row, err
			}
			row.entityType = t
		}
	}

	// MaxRetries (number)
	if prop, ok := p.Properties["MaxRetries"]; ok {
		if np, ok := prop.(*notionapi.NumberProperty); ok && np.Number > 0 {
			n := int(np.Number)
			row.override.MaxRetries = &n
		}
	}

	// TimeoutSeconds (number)
	if prop, ok := p.Properties["TimeoutSeconds"]; ok {
		if np, ok := prop.(*notionapi.NumberProperty); ok && np.Number > 0 {
			d := time.Duration(np.Number * float64(time.Second))
			row.override.Timeout = &d
		}
	}

	// Criticality (select: critical | optional)
	if prop, ok := p.Properties["Criticality"]; ok {
		if sp, ok := prop.(*notionapi.SelectProperty); ok {
			switch sp.Select.Name {
			case "critical":
				v := true
				row.override.Critical = &v
			case "optional":
				v := false
				row.override.Critical = &v
			}
		}
	}

	// Disabled (checkbox)
	if prop, ok := p.Properties["Disabled"]; ok {
		if cp, ok := prop.(*notionapi.CheckboxProperty); ok {
			row.disabled = cp.Checkbox
		}
	}

	if row.step == "" {
		return row, eris.New("missing Step property")
	}
	if row.entityType == "" {
		return row, eris.New("missing EntityType property")
	}
	return row, nil
}

func plainText(rts []notionapi.RichText) string {
	var s string
	for _, rt := range rts {
		s += rt.PlainText
	}
	return s
}
