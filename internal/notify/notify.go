// Package notify emits lifecycle notifications to operators.
//
// All methods are fire-and-forget: the orchestration workflows never await
// delivery and never see a delivery error. Each event is published to the
// live operator feed and, when a webhook URL is configured, POSTed to it in
// the background. Degraded billing syncs additionally increment the
// reconciliation counter so unbilled engagements stay observable.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rankpilot/rankpilot/internal/idgen"
	"github.com/rankpilot/rankpilot/internal/live"
	"github.com/rankpilot/rankpilot/internal/metrics"
)

var (
	notifyEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rankpilot",
		Subsystem: "notify",
		Name:      "emit_total",
		Help:      "Total notification emit attempts by event type.",
	}, []string{"event_type"})

	notifyEmitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rankpilot",
		Subsystem: "notify",
		Name:      "emit_errors_total",
		Help:      "Total webhook delivery failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(notifyEmitTotal, notifyEmitErrors)
}

const webhookTimeout = 10 * time.Second

// Emitter publishes lifecycle events. A nil Emitter is safe to call; every
// method becomes a no-op, so wiring it is optional in tests.
type Emitter struct {
	webhookURL string
	client     *http.Client
	hub        *live.Hub
	logger     *slog.Logger
}

// NewEmitter creates an emitter. webhookURL may be empty (feed-only) and hub
// may be nil (webhook-only).
func NewEmitter(webhookURL string, hub *live.Hub, logger *slog.Logger) *Emitter {
	return &Emitter{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: webhookTimeout},
		hub:        hub,
		logger:     logger,
	}
}

type payload struct {
	ID        string                 `json:"id"`
	Type      live.EventType         `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

func (e *Emitter) emit(typ live.EventType, data map[string]interface{}) {
	if e == nil {
		return
	}
	notifyEmitTotal.WithLabelValues(string(typ)).Inc()

	if e.hub != nil {
		e.hub.Publish(typ, data)
	}
	if e.webhookURL == "" {
		return
	}

	p := payload{
		ID:        idgen.WithPrefix("evt_"),
		Type:      typ,
		Timestamp: time.Now(),
		Data:      data,
	}
	go e.deliver(p)
}

func (e *Emitter) deliver(p payload) {
	body, err := json.Marshal(p)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.webhookURL, bytes.NewReader(body))
	if err != nil {
		notifyEmitErrors.WithLabelValues(string(p.Type)).Inc()
		e.logger.Warn("notification delivery failed", "event", p.Type, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		notifyEmitErrors.WithLabelValues(string(p.Type)).Inc()
		e.logger.Warn("notification delivery failed", "event", p.Type, "error", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		notifyEmitErrors.WithLabelValues(string(p.Type)).Inc()
		e.logger.Warn("notification delivery rejected", "event", p.Type, "status", resp.StatusCode)
	}
}

// ManagedServiceRequested notifies operators of a new request awaiting review.
func (e *Emitter) ManagedServiceRequested(agencyID, clientID, engagementID, pkg string) {
	e.emit(live.EventManagedRequested, map[string]interface{}{
		"agencyId":     agencyID,
		"clientId":     clientID,
		"engagementId": engagementID,
		"package":      pkg,
	})
}

// ManagedServiceApproved announces an approved engagement.
func (e *Emitter) ManagedServiceApproved(agencyID, clientID, engagementID string) {
	e.emit(live.EventManagedApproved, map[string]interface{}{
		"agencyId":     agencyID,
		"clientId":     clientID,
		"engagementId": engagementID,
	})
}

// ManagedServiceRejected announces a rejected request.
func (e *Emitter) ManagedServiceRejected(agencyID, clientID, engagementID string) {
	e.emit(live.EventManagedRejected, map[string]interface{}{
		"agencyId":     agencyID,
		"clientId":     clientID,
		"engagementId": engagementID,
	})
}

// ManagedServiceCanceled announces a canceled engagement.
func (e *Emitter) ManagedServiceCanceled(agencyID, clientID, engagementID string, endDate *time.Time) {
	data := map[string]interface{}{
		"agencyId":     agencyID,
		"clientId":     clientID,
		"engagementId": engagementID,
	}
	if endDate != nil {
		data["endDate"] = endDate.Format(time.RFC3339)
	}
	e.emit(live.EventManagedCanceled, data)
}

// PlanChanged announces a completed tier change.
func (e *Emitter) PlanChanged(agencyID, tier string) {
	e.emit(live.EventPlanChanged, map[string]interface{}{
		"agencyId": agencyID,
		"tier":     tier,
	})
}

// AddOnAttached announces a new add-on grant.
func (e *Emitter) AddOnAttached(agencyID, addOnID, addOnType, option string) {
	e.emit(live.EventAddOnAttached, map[string]interface{}{
		"agencyId": agencyID,
		"addOnId":  addOnID,
		"type":     addOnType,
		"option":   option,
	})
}

// AddOnDetached announces an add-on removal.
func (e *Emitter) AddOnDetached(agencyID, addOnID string) {
	e.emit(live.EventAddOnDetached, map[string]interface{}{
		"agencyId": agencyID,
		"addOnId":  addOnID,
	})
}

// BillingSyncFailed records a degraded-path remote failure: the local state
// committed but the billing processor was not updated. The event carries
// everything a human needs to reconcile by hand.
func (e *Emitter) BillingSyncFailed(op, agencyID, entityID string, err error) {
	if e == nil {
		return
	}
	metrics.BillingSyncFailures.WithLabelValues(op).Inc()
	e.logger.Warn("billing sync degraded, manual reconciliation needed",
		"op", op, "agency", agencyID, "entity", entityID, "error", err)
	e.emit(live.EventBillingSyncFail, map[string]interface{}{
		"agencyId": agencyID,
		"entityId": entityID,
		"op":       op,
		"error":    err.Error(),
	})
}
