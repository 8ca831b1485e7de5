package models

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a ride request as seen by the operator.
type Status string

const (
	StatusRequested Status = "Requested"
	StatusAccepted  Status = "Accepted"
	StatusRejected  Status = "Rejected"
)

// ParseStatus accepts any casing of a known status.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "requested":
		return StatusRequested, nil
	case "accepted":
		return StatusAccepted, nil
	case "rejected":
		return StatusRejected, nil
	default:
		return "", fmt.Errorf("unknown ride status: [%s]", s)
	}
}

func (s Status) Valid() bool {
	switch s {
	case StatusRequested, StatusAccepted, StatusRejected:
		return true
	}
	return false
}

// Ride is a ride request record. ID is assigned by the remote store and is
// the only key used for deduplication and display indexing.
type Ride struct {
	ID                  string     `json:"id"`
	PickupLocation      string     `json:"pickup_location"`
	DestinationLocation string     `json:"destination_location"`
	Status              Status     `json:"status"`
	CreatedAt           *time.Time `json:"created_at,omitempty"`
	UpdatedAt           *time.Time `json:"updated_at,omitempty"`
}

// Normalize fills in the default status.
func (r Ride) Normalize() Ride {
	if r.Status == "" {
		r.Status = StatusRequested
	}
	return r
}

// Validate reports the first missing or invalid field.
func (r Ride) Validate() error {
	switch {
	case strings.TrimSpace(r.ID) == "":
		return &MalformedRecordError{Field: "id", Reason: "missing"}
	case strings.TrimSpace(r.PickupLocation) == "":
		return &MalformedRecordError{ID: r.ID, Field: "pickup_location", Reason: "missing"}
	case strings.TrimSpace(r.DestinationLocation) == "":
		return &MalformedRecordError{ID: r.ID, Field: "destination_location", Reason: "missing"}
	case r.Status != "" && !r.Status.Valid():
		return &MalformedRecordError{ID: r.ID, Field: "status", Reason: fmt.Sprintf("unknown value %q", r.Status)}
	}
	return nil
}

// NewerThan reports whether r carries a later UpdatedAt than o. Records
// without timestamps are never considered newer.
func (r Ride) NewerThan(o Ride) bool {
	if r.UpdatedAt == nil {
		return false
	}
	if o.UpdatedAt == nil {
		return true
	}
	return r.UpdatedAt.After(*o.UpdatedAt)
}

// MalformedRecordError is returned for payloads missing required fields.
type MalformedRecordError struct {
	ID     string
	Field  string
	Reason string
	Err    error
}

func (e *MalformedRecordError) Error() string {
	msg := "malformed ride record"
	if e.ID != "" {
		msg += " " + e.ID
	}
	if e.Field != "" {
		msg += fmt.Sprintf(": %s %s", e.Field, e.Reason)
	} else if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }

// RideRequest is the body accepted when an operator creates a ride.
type RideRequest struct {
	PickupLocation      string `json:"pickup_location"`
	DestinationLocation string `json:"destination_location"`
}
