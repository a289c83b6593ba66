package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/directory-cli/internal/config"
	"github.com/sells-group/directory-cli/internal/resilience"
)

type AlertType string

const (
	AlertFailureRate  AlertType = "extraction_failure_rate"
	AlertCircuitOpen  AlertType = "circuit_open"
	AlertCostOverrun  AlertType = "cost_overrun"
	AlertOrphanedJobs AlertType = "orphaned_jobs"
)

const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
)

// minFinishedForRate keeps a handful of early failures from paging anyone.
const minFinishedForRate = 5

// Alert is the JSON body posted to the webhook.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// alertRule returns an alert when the snapshot breaches it, or nil.
type alertRule func(cfg config.MonitoringConfig, s *MetricsSnapshot) *Alert

var alertRules = []alertRule{failureRateRule, circuitRule, orphanRule, costRule}

func failureRateRule(cfg config.MonitoringConfig, s *MetricsSnapshot) *Alert {
	finished := s.Completed + s.Failed
	if finished < minFinishedForRate || s.FailRate <= cfg.FailureRateThreshold {
		return nil
	}
	return &Alert{
		Type:     AlertFailureRate,
		Severity: SeverityHigh,
		Message: fmt.Sprintf("%.1f%% of extractions failed in the last %dh (%d of %d), threshold %.1f%%",
			s.FailRate*100, s.LookbackHours, s.Failed, finished, cfg.FailureRateThreshold*100),
		Details: map[string]any{
			"fail_rate":       s.FailRate,
			"threshold":       cfg.FailureRateThreshold,
			"failed":          s.Failed,
			"finished":        finished,
			"failure_reasons": s.Reasons,
			"step_failures":   s.StepFailures,
		},
	}
}

func circuitRule(_ config.MonitoringConfig, s *MetricsSnapshot) *Alert {
	if len(s.OpenCircuits) == 0 {
		return nil
	}
	return &Alert{
		Type:     AlertCircuitOpen,
		Severity: SeverityHigh,
		Message:  fmt.Sprintf("%d service circuit(s) open: %s", len(s.OpenCircuits), strings.Join(s.OpenCircuits, ", ")),
		Details:  map[string]any{"services": s.OpenCircuits},
	}
}

func orphanRule(_ config.MonitoringConfig, s *MetricsSnapshot) *Alert {
	if s.Orphaned == 0 {
		return nil
	}
	return &Alert{
		Type:     AlertOrphanedJobs,
		Severity: SeverityMedium,
		Message:  fmt.Sprintf("%d extraction(s) orphaned in the last %dh", s.Orphaned, s.LookbackHours),
		Details:  map[string]any{"orphaned": s.Orphaned},
	}
}

func costRule(cfg config.MonitoringConfig, s *MetricsSnapshot) *Alert {
	if cfg.CostThresholdUSD <= 0 || s.CostUSD <= cfg.CostThresholdUSD {
		return nil
	}
	return &Alert{
		Type:     AlertCostOverrun,
		Severity: SeverityHigh,
		Message:  fmt.Sprintf("API spend $%.2f in the last %dh is over the $%.2f budget", s.CostUSD, s.LookbackHours, cfg.CostThresholdUSD),
		Details: map[string]any{
			"cost_usd":      s.CostUSD,
			"threshold_usd": cfg.CostThresholdUSD,
			"total":         s.Total,
		},
	}
}

// Alerter evaluates snapshots and posts breaches to a webhook. Once an
// alert type is delivered it stays quiet for the cooldown.
type Alerter struct {
	cfg      config.MonitoringConfig
	client   *http.Client
	retry    resilience.RetryConfig
	cooldown time.Duration
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[AlertType]time.Time
}

func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry: resilience.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: 250 * time.Millisecond,
			MaxBackoff:     time.Second,
		},
		cooldown: time.Duration(cfg.AlertCooldownMins) * time.Minute,
		now:      time.Now,
		lastSent: make(map[AlertType]time.Time),
	}
}

// Evaluate returns an alert for every rule the snapshot breaches.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	now := a.now().UTC()
	var alerts []Alert
	for _, rule := range alertRules {
		if al := rule(a.cfg, snap); al != nil {
			al.Timestamp = now
			alerts = append(alerts, *al)
		}
	}
	return alerts
}

// SendAlerts delivers alerts that are not cooling down and returns how
// many the webhook accepted. Without a webhook it is a no-op.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" {
		return 0
	}

	sent := 0
	for _, al := range alerts {
		log := zap.L().With(zap.String("type", string(al.Type)))
		if a.cooling(al.Type) {
			log.Debug("monitoring: alert suppressed by cooldown")
			continue
		}
		_, err := resilience.DoVal(ctx, a.retry, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, a.post(ctx, al)
		})
		if err != nil {
			log.Error("monitoring: alert delivery failed", zap.Error(err))
			continue
		}

		a.mu.Lock()
		a.lastSent[al.Type] = a.now()
		a.mu.Unlock()
		log.Info("monitoring: alert sent", zap.String("severity", al.Severity))
		sent++
	}
	return sent
}

func (a *Alerter) cooling(t AlertType) bool {
	if a.cooldown <= 0 {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	last, ok := a.lastSent[t]
	return ok && a.now().Sub(last) < a.cooldown
}

// webhookError carries the webhook's status so retries follow the usual
// status classification.
type webhookError struct{ status int }

func (e *webhookError) Error() string   { return fmt.Sprintf("monitoring: webhook status %d", e.status) }
func (e *webhookError) HTTPStatus() int { return e.status }

func (a *Alerter) post(ctx context.Context, al Alert) error {
	body, err := json.Marshal(al)
	if err != nil {
		return eris.Wrap(err, "monitoring: encode alert")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "monitoring: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: post webhook")
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &webhookError{status: resp.StatusCode}
	}
	return nil
}
