package relay

import (
	"encoding/json"

	"github.com/BranchIntl/relayq/errors"
)

// Event names
const (
	// EventMessage is a chat message sent by a client
	EventMessage = "message"

	// EventServerMessage is a client message relayed to every client
	EventServerMessage = "server-message"

	// EventCheckboxUpdate sets one flag of the state array
	EventCheckboxUpdate = "checkbox-update"

	// EventError is sent back to a client whose event was rejected
	EventError = "error"
)

// Event is the envelope used on the real-time channel and on the bus
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEvent encodes data into an event
func NewEvent(name string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, errors.NewSerializationError("json", err)
	}
	return Event{Event: name, Data: raw}, nil
}

// CheckboxUpdate is the payload of a checkbox-update event
type CheckboxUpdate struct {
	Index *int  `json:"index"`
	Value *bool `json:"value"`
}

// decodeCheckboxUpdate validates the payload shape
func decodeCheckboxUpdate(data json.RawMessage) (int, bool, error) {
	var update CheckboxUpdate
	if len(data) == 0 {
		return 0, false, errors.NewValidationError(errors.ValidationDetail{
			Field:   "data",
			Message: "checkbox-update requires {index, value}",
		})
	}
	if err := json.Unmarshal(data, &update); err != nil {
		return 0, false, errors.NewValidationError(errors.ValidationDetail{
			Field:   "data",
			Message: err.Error(),
		})
	}

	var details []errors.ValidationDetail
	if update.Index == nil {
		details = append(details, errors.ValidationDetail{Field: "index", Message: "index is required"})
	}
	if update.Value == nil {
		details = append(details, errors.ValidationDetail{Field: "value", Message: "value is required"})
	}
	if len(details) > 0 {
		return 0, false, errors.NewValidationError(details...)
	}
	return *update.Index, *update.Value, nil
}
