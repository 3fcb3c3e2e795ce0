package messages

import (
	"encoding/json"
	"errors"
	"fmt"

	"region-capture/src/screenshot"
)

// Trigger actions accepted by the orchestrator.
const (
	ActionStartCapture  = "startCapture"
	ActionCaptureRegion = "captureRegion"
)

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrMissingRegion = errors.New("captureRegion requires a region")
	ErrInvalidRegion = screenshot.ErrInvalidRegion
)

// Trigger asks the orchestrator to arm a selection session or to capture a
// region that is already known.
type Trigger struct {
	Action string             `json:"action"`
	Region *screenshot.Region `json:"region,omitempty"`
}

// StartCapture returns the trigger that arms a selection session.
func StartCapture() Trigger { return Trigger{Action: ActionStartCapture} }

// CaptureRegion returns the trigger that runs the pipeline for r.
func CaptureRegion(r screenshot.Region) Trigger {
	return Trigger{Action: ActionCaptureRegion, Region: &r}
}

// Validate checks the action and, for captureRegion, that a normalized region
// of capturable size is present.
func (t Trigger) Validate() error {
	switch t.Action {
	case ActionStartCapture:
		return nil
	case ActionCaptureRegion:
		if t.Region == nil {
			return ErrMissingRegion
		}
		return t.Region.Validate()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, t.Action)
	}
}

// Parse decodes and validates a JSON trigger.
func Parse(b []byte) (Trigger, error) {
	var t Trigger
	if err := json.Unmarshal(b, &t); err != nil {
		return Trigger{}, fmt.Errorf("decode trigger: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Trigger{}, err
	}
	return t, nil
}
