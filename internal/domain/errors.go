package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrDuplicate  = errors.New("already exists")
	ErrValidation = errors.New("validation failed")
	ErrDelivery   = errors.New("delivery failed")
	ErrAnomaly    = errors.New("anomaly detected")
	ErrUpstream   = errors.New("upstream service failed")
)

type AnomalyKind string

const (
	AnomalyFutureDue    AnomalyKind = "future_due"
	AnomalyOrphanedUser AnomalyKind = "orphaned_user"
	AnomalyDeliveryLag  AnomalyKind = "delivery_lag"
	AnomalyLogErrors    AnomalyKind = "log_scan"
)

// Anomaly is an inconsistency reported to the operator without failing the
// operation that found it.
type Anomaly struct {
	Kind       AnomalyKind
	ReminderID int64
	UserID     int64
	Detail     string
}

func (a *Anomaly) Error() string {
	if a.ReminderID != 0 {
		return fmt.Sprintf("%s: reminder %d (user %d): %s", a.Kind, a.ReminderID, a.UserID, a.Detail)
	}
	return fmt.Sprintf("%s: %s", a.Kind, a.Detail)
}

func (a *Anomaly) Unwrap() error { return ErrAnomaly }
