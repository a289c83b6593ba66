// Package publish decides whether a completed listing goes live.
package publish

import (
	"github.com/sells-group/directory-cli/internal/model"
)

// DefaultMinScore is the score a listing needs before it is shown.
const DefaultMinScore = 50.0

// Policy activates listings whose score clears MinScore and that carry a name
// and an address. It never sets verified; that stays a human decision.
type Policy struct {
	MinScore float64
}

// NewPolicy returns a Policy. A minScore <= 0 uses DefaultMinScore.
func NewPolicy(minScore float64) *Policy {
	if minScore <= 0 {
		minScore = DefaultMinScore
	}
	return &Policy{MinScore: minScore}
}

// Active reports whether e should be listed.
func (p *Policy) Active(e model.Entity) bool {
	if p == nil || (e.Status != model.StatusCompleted && e.Status != model.StatusProcessing) {
		return false
	}
	if e.Fields.Score == nil || *e.Fields.Score < p.MinScore {
		return false
	}
	return e.Fields.Name != "" && e.Fields.Address != ""
}

// Missing lists what keeps e off the directory, for logs and the admin API.
func (p *Policy) Missing(e model.Entity) []string {
	var out []string
	if e.Fields.Name == "" {
		out = append(out, model.FieldName)
	}
	if e.Fields.Address == "" {
		out = append(out, model.FieldAddress)
	}
	if e.Fields.Score == nil {
		out = append(out, model.FieldScore)
	} else if p != nil && *e.Fields.Score < p.MinScore {
		out = append(out, "score_below_threshold")
	}
	return out
}
