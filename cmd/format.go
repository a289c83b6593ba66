package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/sells-group/directory-cli/internal/bulk"
	"github.com/sells-group/directory-cli/internal/model"
)

func formatEntityList(out io.Writer, entities []model.Entity) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTYPE\tNAME\tSTATUS\tACTIVE\tUPDATED")
	_, _ = fmt.Fprintln(w, "--\t----\t----\t------\t------\t-------")

	for _, e := range entities {
		name := e.Fields.Name
		if name == "" {
			name = e.ExternalPlaceID
		}
		if len(name) > 30 {
			name = name[:27] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n",
			truncateID(e.ID),
			e.Type,
			name,
			statusLabel(e),
			e.Active,
			e.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatEntity prints one entity with a step table. order lists the
// registry's step names for the entity type; steps outside it follow.
func formatEntity(out io.Writer, e *model.Entity, order []string) {
	_, _ = fmt.Fprintf(out, "ID:          %s\n", e.ID)
	_, _ = fmt.Fprintf(out, "Type:        %s\n", e.Type)
	_, _ = fmt.Fprintf(out, "Place ID:    %s\n", e.ExternalPlaceID)
	if e.Fields.Name != "" {
		_, _ = fmt.Fprintf(out, "Name:        %s\n", e.Fields.Name)
	}
	_, _ = fmt.Fprintf(out, "Status:      %s\n", statusLabel(*e))
	_, _ = fmt.Fprintf(out, "Active:      %t  Verified: %t\n", e.Active, e.Verified)
	if e.Fields.Score != nil {
		_, _ = fmt.Fprintf(out, "Score:       %.1f\n", *e.Fields.Score)
	}
	_, _ = fmt.Fprintf(out, "Version:     %d\n", e.Version)
	if e.StartedAt != nil && e.FinishedAt != nil {
		_, _ = fmt.Fprintf(out, "Duration:    %s\n", e.FinishedAt.Sub(*e.StartedAt).Round(time.Second))
	}

	seen := make(map[string]bool, len(order))
	names := make([]string, 0, len(order)+len(e.Progress))
	for _, n := range order {
		seen[n] = true
		names = append(names, n)
	}
	for n := range e.Progress {
		if !seen[n] {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return
	}

	_, _ = fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STEP\tSTATUS\tATTEMPTS\tCOST\tERROR")
	var total float64
	for _, n := range names {
		st := e.Progress.Get(n)
		var attempts int
		var usd float64
		if st.Metrics != nil {
			attempts = st.Metrics.Attempts
			usd = st.Metrics.CostUSD
			total += usd
		}
		msg := ""
		if st.Error != nil {
			msg = fmt.Sprintf("%s: %s", st.Error.Kind, st.Error.Message)
			if len(msg) > 60 {
				msg = msg[:57] + "..."
			}
		}
		status := string(st.Status)
		if st.Legacy {
			status += " (legacy)"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t$%.4f\t%s\n", n, status, attempts, usd, msg)
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "\nTotal cost: $%.4f\n", total)
}

func formatBulkSummary(out io.Writer, sum *bulk.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ROW\tPLACE_ID\tOUTCOME\tENTITY\tDETAIL")
	for _, r := range sum.Results {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", r.Row, r.ExternalPlaceID, r.Outcome, truncateID(r.EntityID), r.Error)
	}
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\n%d items: %d accepted, %d conflicts, %d invalid, %d errors (est. $%.2f)\n",
		sum.Total, sum.Accepted, sum.Conflicts, sum.Invalid, sum.Errors, sum.EstCostUSD)
	if sum.Interrupted {
		_, _ = fmt.Fprintln(out, "interrupted before every item was submitted")
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusLabel(e model.Entity) string {
	if e.FailureReason != "" {
		return fmt.Sprintf("%s (%s)", e.Status, e.FailureReason)
	}
	return string(e.Status)
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
