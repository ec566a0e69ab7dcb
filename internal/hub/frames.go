package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wtthornton/HomeIQ-sub012/internal/domain"
)

// Frame types exchanged with the hub
const (
	frameAuthRequired = "auth_required"
	frameAuth         = "auth"
	frameAuthOK       = "auth_ok"
	frameAuthInvalid  = "auth_invalid"
	frameSubscribe    = "subscribe_events"
	frameEvent        = "event"

	eventTypeStateChanged = "state_changed"
)

// frame is the envelope of every inbound hub message
type frame struct {
	Type    string        `json:"type"`
	ID      int64         `json:"id,omitempty"`
	Message string        `json:"message,omitempty"`
	Event   *eventPayload `json:"event,omitempty"`
}

type eventPayload struct {
	EventType string    `json:"event_type"`
	Data      eventData `json:"data"`
}

type eventData struct {
	EntityID string       `json:"entity_id"`
	NewState *stateObject `json:"new_state"`
	OldState *stateObject `json:"old_state"`
}

type stateObject struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
}

// authFrame is sent in response to auth_required
type authFrame struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token"`
}

// subscribeFrame requests the state_changed event stream
type subscribeFrame struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	EventType string `json:"event_type"`
}

// errSkipFrame marks frames the pipeline ignores without counting them
// as malformed: control frames (result acks, pings) and state_changed
// frames whose new state is null (entity removed).
var errSkipFrame = errors.New("frame carries no state change")

// parseEvent converts a raw event frame into a domain event
func parseEvent(raw []byte) (domain.Event, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return domain.Event{}, fmt.Errorf("failed to decode frame: %w", err)
	}

	if f.Type != frameEvent {
		return domain.Event{}, errSkipFrame
	}
	if f.Event == nil {
		return domain.Event{}, errors.New("event frame missing payload")
	}

	data := f.Event.Data
	if data.NewState == nil {
		return domain.Event{}, errSkipFrame
	}

	event := domain.Event{
		EntityID:   data.EntityID,
		Domain:     domain.DomainOf(data.EntityID),
		State:      data.NewState.State,
		Timestamp:  data.NewState.LastChanged,
		Attributes: data.NewState.Attributes,
	}
	if event.EntityID == "" {
		event.EntityID = data.NewState.EntityID
		event.Domain = domain.DomainOf(event.EntityID)
	}
	if data.OldState != nil {
		event.PreviousState = data.OldState.State
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	return event, nil
}
