package service

import (
	"fmt"

	"github.com/igormart21/milha-alerta-fly/internal/models"
)

// NotFoundError is returned when an alert does not exist or belongs to another owner.
type NotFoundError struct {
	AlertID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("alert %s not found", e.AlertID)
}

// InvalidStateError is returned when an action is not allowed in the alert's current status.
type InvalidStateError struct {
	AlertID string
	Status  models.Status
	Action  string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s alert %s in status %s", e.Action, e.AlertID, e.Status)
}
