package feed

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/example/ride-notifier/internal/models"
)

type Kind string

const (
	Created Kind = "created"
	Updated Kind = "updated"
)

// Event is a single live change. The same JSON envelope is used on every
// transport (Kafka value, Redis pub/sub payload, websocket frame).
type Event struct {
	Kind Kind        `json:"type"`
	Ride models.Ride `json:"ride"`
}

func EncodeEvent(ev Event) ([]byte, error) {
	switch ev.Kind {
	case Created, Updated:
	default:
		return nil, fmt.Errorf("encode event: unknown kind %q", ev.Kind)
	}
	return json.Marshal(ev)
}

// DecodeEvent parses an envelope and validates the ride. Anything that
// cannot be delivered is reported as *models.MalformedRecordError.
func DecodeEvent(b []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(b, &ev); err != nil {
		return Event{}, &models.MalformedRecordError{Reason: "undecodable payload", Err: err}
	}
	ev.Kind = Kind(strings.ToLower(string(ev.Kind)))
	switch ev.Kind {
	case Created, Updated:
	default:
		return Event{}, &models.MalformedRecordError{ID: ev.Ride.ID, Field: "type", Reason: fmt.Sprintf("unknown value %q", ev.Kind)}
	}
	if err := ev.Ride.Validate(); err != nil {
		return Event{}, err
	}
	ev.Ride = ev.Ride.Normalize()
	return ev, nil
}
