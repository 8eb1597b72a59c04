package notify

import (
	"context"
	"fmt"

	"github.com/igormart21/milha-alerta-fly/internal/events"
	"github.com/igormart21/milha-alerta-fly/internal/features"
	"github.com/igormart21/milha-alerta-fly/internal/logger"
	"github.com/igormart21/milha-alerta-fly/internal/metrics"
)

// Notifier turns accepted opportunities into WhatsApp messages for the alert owner.
type Notifier struct {
	sender   Sender
	features *features.Manager
	log      logger.Logger
}

func NewNotifier(sender Sender, flags *features.Manager, log logger.Logger) *Notifier {
	if log == nil {
		log = logger.NewNop()
	}
	return &Notifier{sender: sender, features: flags, log: log}
}

// Register subscribes the notifier to accepted opportunities.
func (n *Notifier) Register(m *events.Manager) {
	m.Subscribe(events.EventOpportunityAccepted, n.HandleEvent)
}

// HandleEvent is an events.Handler. Events other than accepted opportunities are ignored.
func (n *Notifier) HandleEvent(ctx context.Context, e events.Event) error {
	data, ok := e.Data.(events.OpportunityAcceptedData)
	if !ok {
		return nil
	}

	if n.features != nil && !n.features.IsEnabled(features.FeatureWhatsAppNotifications) {
		metrics.IncNotification("disabled")
		return nil
	}
	if data.Alert.NotifyPhone == "" {
		metrics.IncNotification("no_phone")
		n.log.Debug("no phone for alert, skipping notification", "alert_id", data.Alert.ID)
		return nil
	}

	text := FormatOpportunity(data.Alert, data.Opportunity)
	taskID, err := n.sender.Send(ctx, data.Alert.NotifyPhone, text)
	if err != nil {
		metrics.IncNotification("error")
		return fmt.Errorf("notify alert %s: %w", data.Alert.ID, err)
	}

	metrics.IncNotification("sent")
	n.log.Info("opportunity notification sent", "alert_id", data.Alert.ID, "task_id", taskID)
	return nil
}
