package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/directory-cli/internal/config"
)

func alertTypes(alerts []Alert) []AlertType {
	out := make([]AlertType, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, a.Type)
	}
	return out
}

func TestAlerter_Evaluate(t *testing.T) {
	cfg := config.MonitoringConfig{FailureRateThreshold: 0.10, CostThresholdUSD: 100}

	tests := []struct {
		name    string
		cfg     *config.MonitoringConfig
		snap    MetricsSnapshot
		want    []AlertType
		message string
	}{
		{
			name: "healthy window",
			snap: MetricsSnapshot{Total: 100, Completed: 95, Failed: 5, FailRate: 0.05, CostUSD: 40},
			want: []AlertType{},
		},
		{
			name:    "failure rate",
			snap:    MetricsSnapshot{Total: 20, Completed: 12, Failed: 8, FailRate: 0.4},
			want:    []AlertType{AlertFailureRate},
			message: "40.0% of extractions failed",
		},
		{
			name: "too few finished to judge",
			snap: MetricsSnapshot{Total: 3, Completed: 1, Failed: 2, FailRate: 0.67},
			want: []AlertType{},
		},
		{
			name:    "open circuits",
			snap:    MetricsSnapshot{OpenCircuits: []string{"google_places", "perplexity"}},
			want:    []AlertType{AlertCircuitOpen},
			message: "2 service circuit(s) open: google_places, perplexity",
		},
		{
			name:    "orphans",
			snap:    MetricsSnapshot{Orphaned: 3},
			want:    []AlertType{AlertOrphanedJobs},
			message: "3 extraction(s) orphaned",
		},
		{
			name:    "spend over budget",
			snap:    MetricsSnapshot{Total: 50, Completed: 50, CostUSD: 250},
			want:    []AlertType{AlertCostOverrun},
			message: "$250.00",
		},
		{
			name: "budget disabled",
			cfg:  &config.MonitoringConfig{FailureRateThreshold: 0.10},
			snap: MetricsSnapshot{CostUSD: 999},
			want: []AlertType{},
		},
		{
			name: "everything at once",
			snap: MetricsSnapshot{Total: 20, Completed: 10, Failed: 10, FailRate: 0.5, CostUSD: 300, Orphaned: 1, OpenCircuits: []string{"jina"}},
			want: []AlertType{AlertFailureRate, AlertCircuitOpen, AlertOrphanedJobs, AlertCostOverrun},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cfg
			if tt.cfg != nil {
				c = *tt.cfg
			}
			snap := tt.snap
			snap.LookbackHours = 24

			alerts := NewAlerter(c).Evaluate(&snap)
			assert.Equal(t, tt.want, alertTypes(alerts))
			if tt.message != "" {
				require.NotEmpty(t, alerts)
				assert.Contains(t, alerts[0].Message, tt.message)
			}
			for _, a := range alerts {
				assert.False(t, a.Timestamp.IsZero())
			}
		})
	}
}

func TestAlerter_Evaluate_Severity(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.9})
	alerts := a.Evaluate(&MetricsSnapshot{Orphaned: 2, OpenCircuits: []string{"firecrawl"}, LookbackHours: 6})
	require.Len(t, alerts, 2)
	assert.Equal(t, SeverityHigh, alerts[0].Severity)
	assert.Equal(t, SeverityMedium, alerts[1].Severity)
}

// webhook counts posts and answers with status() for each.
func webhook(t *testing.T, status func() int) (string, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var a Alert
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&a))
		assert.NotEmpty(t, a.Type)
		hits.Add(1)
		w.WriteHeader(status())
	}))
	t.Cleanup(srv.Close)
	return srv.URL, &hits
}

func ok() int { return http.StatusOK }

func TestAlerter_SendAlerts(t *testing.T) {
	url, hits := webhook(t, ok)
	a := NewAlerter(config.MonitoringConfig{WebhookURL: url})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertFailureRate, Severity: SeverityHigh, Message: "failing"},
		{Type: AlertCircuitOpen, Severity: SeverityHigh, Message: "jina open"},
	})
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), hits.Load())
	assert.Zero(t, a.SendAlerts(context.Background(), nil))
}

func TestAlerter_SendAlerts_NoWebhook(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	assert.Zero(t, a.SendAlerts(context.Background(), []Alert{{Type: AlertFailureRate}}))
}

func TestAlerter_SendAlerts_RetriesServerError(t *testing.T) {
	var calls atomic.Int32
	url, hits := webhook(t, func() int {
		if calls.Add(1) == 1 {
			return http.StatusServiceUnavailable
		}
		return http.StatusNoContent
	})
	a := NewAlerter(config.MonitoringConfig{WebhookURL: url})
	a.retry.InitialBackoff = time.Millisecond

	assert.Equal(t, 1, a.SendAlerts(context.Background(), []Alert{{Type: AlertOrphanedJobs, Message: "2 orphaned"}}))
	assert.Equal(t, int32(2), hits.Load())
}

func TestAlerter_SendAlerts_RejectedNotRetried(t *testing.T) {
	url, hits := webhook(t, func() int { return http.StatusBadRequest })
	a := NewAlerter(config.MonitoringConfig{WebhookURL: url})

	assert.Zero(t, a.SendAlerts(context.Background(), []Alert{{Type: AlertCostOverrun, Message: "spend"}}))
	assert.Equal(t, int32(1), hits.Load())
}

func TestAlerter_SendAlerts_Cooldown(t *testing.T) {
	url, hits := webhook(t, ok)
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	a := NewAlerter(config.MonitoringConfig{WebhookURL: url, AlertCooldownMins: 30})
	a.now = func() time.Time { return clock }

	circuit := []Alert{{Type: AlertCircuitOpen, Severity: SeverityHigh, Message: "google_places open"}}
	assert.Equal(t, 1, a.SendAlerts(context.Background(), circuit))

	clock = clock.Add(10 * time.Minute)
	assert.Zero(t, a.SendAlerts(context.Background(), circuit))
	assert.Equal(t, 1, a.SendAlerts(context.Background(), []Alert{{Type: AlertCostOverrun, Message: "spend"}}),
		"cooldown is per alert type")

	clock = clock.Add(25 * time.Minute)
	assert.Equal(t, 1, a.SendAlerts(context.Background(), circuit))
	assert.Equal(t, int32(3), hits.Load())
}

func TestAlerter_FailedSendDoesNotStartCooldown(t *testing.T) {
	var down atomic.Bool
	down.Store(true)
	url, _ := webhook(t, func() int {
		if down.Load() {
			return http.StatusBadGateway
		}
		return http.StatusOK
	})
	a := NewAlerter(config.MonitoringConfig{WebhookURL: url, AlertCooldownMins: 60})
	a.retry.InitialBackoff = time.Millisecond
	orphans := []Alert{{Type: AlertOrphanedJobs, Message: "3 orphaned"}}

	assert.Zero(t, a.SendAlerts(context.Background(), orphans))
	down.Store(false)
	assert.Equal(t, 1, a.SendAlerts(context.Background(), orphans))
}
