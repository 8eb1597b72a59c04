package events

import (
	"context"
	"sync"
	"time"

	"github.com/igormart21/milha-alerta-fly/internal/logger"
	"github.com/igormart21/milha-alerta-fly/internal/models"
)

// EventType represents the type of event.
type EventType string

const (
	// EventAlertCreated is emitted when a user creates an alert
	EventAlertCreated EventType = "alert.created"
	// EventAlertStatusChanged is emitted when an alert is paused or resumed
	EventAlertStatusChanged EventType = "alert.status_changed"
	// EventOpportunityAccepted is emitted when a candidate becomes the alert's last opportunity
	EventOpportunityAccepted EventType = "opportunity.accepted"
	// EventAlertExpired is emitted when the travel window of an alert has elapsed
	EventAlertExpired EventType = "alert.expired"
)

// AllTypes lists every event type, in the order above.
var AllTypes = []EventType{
	EventAlertCreated,
	EventAlertStatusChanged,
	EventOpportunityAccepted,
	EventAlertExpired,
}

// Event represents an event in the system.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// AlertCreatedData contains data for alert created events.
type AlertCreatedData struct {
	Alert models.Alert `json:"alert"`
}

// StatusChangedData contains data for status change events.
type StatusChangedData struct {
	Alert    models.Alert  `json:"alert"`
	Previous models.Status `json:"previous"`
}

// OpportunityAcceptedData contains data for accepted opportunity events.
type OpportunityAcceptedData struct {
	Alert       models.Alert        `json:"alert"`
	Opportunity models.Opportunity  `json:"opportunity"`
	Previous    *models.Opportunity `json:"previous,omitempty"`
}

// AlertExpiredData contains data for expiry events.
type AlertExpiredData struct {
	Alert     models.Alert `json:"alert"`
	ExpiredAt time.Time    `json:"expired_at"`
}

// AlertID returns the id of the alert an event refers to, or "".
func (e Event) AlertID() string {
	switch d := e.Data.(type) {
	case AlertCreatedData:
		return d.Alert.ID
	case StatusChangedData:
		return d.Alert.ID
	case OpportunityAcceptedData:
		return d.Alert.ID
	case AlertExpiredData:
		return d.Alert.ID
	}
	return ""
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Manager manages event handlers and event publishing.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	enabled  bool
	inflight sync.WaitGroup
	log      logger.Logger
}

// NewManager creates a new event manager.
func NewManager(enabled bool, log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
		log:      log,
	}
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		return
	}

	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// SubscribeAll subscribes a handler to every event type.
func (m *Manager) SubscribeAll(handler Handler) {
	for _, t := range AllTypes {
		m.Subscribe(t, handler)
	}
}

// Publish publishes an event to all subscribed handlers. Handlers run
// asynchronously and outlive the caller's context cancellation.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data interface{}) {
	m.mu.RLock()
	if !m.enabled {
		m.mu.RUnlock()
		return
	}
	handlers := m.handlers[eventType]
	if len(handlers) > 0 {
		m.inflight.Add(len(handlers))
	}
	m.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	ctx = context.WithoutCancel(ctx)
	for _, handler := range handlers {
		go func(h Handler) {
			defer m.inflight.Done()
			if err := h(ctx, event); err != nil {
				m.log.Error("event handler failed",
					"event", string(event.Type),
					"alert_id", event.AlertID(),
					"error", err)
			}
		}(handler)
	}
}

// PublishAlertCreated publishes an alert created event.
func (m *Manager) PublishAlertCreated(ctx context.Context, alert models.Alert) {
	m.Publish(ctx, EventAlertCreated, AlertCreatedData{Alert: alert})
}

// PublishStatusChanged publishes a status change event.
func (m *Manager) PublishStatusChanged(ctx context.Context, alert models.Alert, previous models.Status) {
	m.Publish(ctx, EventAlertStatusChanged, StatusChangedData{Alert: alert, Previous: previous})
}

// PublishOpportunityAccepted publishes an accepted opportunity event.
func (m *Manager) PublishOpportunityAccepted(ctx context.Context, alert models.Alert, previous *models.Opportunity) {
	if alert.LastOpportunity == nil {
		return
	}
	m.Publish(ctx, EventOpportunityAccepted, OpportunityAcceptedData{
		Alert:       alert,
		Opportunity: *alert.LastOpportunity,
		Previous:    previous,
	})
}

// PublishAlertExpired publishes an expiry event.
func (m *Manager) PublishAlertExpired(ctx context.Context, alert models.Alert, expiredAt time.Time) {
	m.Publish(ctx, EventAlertExpired, AlertExpiredData{Alert: alert, ExpiredAt: expiredAt})
}

// Wait blocks until every handler started so far has returned.
func (m *Manager) Wait() {
	m.inflight.Wait()
}

// Shutdown stops accepting events and waits for running handlers.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
	m.mu.Unlock()

	m.inflight.Wait()
}
