package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/zombor/invoice-markup/internal/invoice"
)

// State is where a draft sits in the upload, details, download flow
type State string

const (
	StateAwaitingUpload        State = "awaiting_upload"
	StateAwaitingClientDetails State = "awaiting_client_details"
	StateReady                 State = "ready"
	StateFailed                State = "failed"
)

// ErrInvalidState is returned when an operation does not fit the draft's state
var ErrInvalidState = errors.New("invalid draft state")

// transitions lists the states reachable from each state. Ready may be
// re-entered to correct client details; Failed is terminal.
var transitions = map[State][]State{
	StateAwaitingUpload:        {StateAwaitingClientDetails, StateFailed},
	StateAwaitingClientDetails: {StateReady, StateFailed},
	StateReady:                 {StateReady, StateFailed},
}

// Draft tracks one source invoice through the re-billing flow
type Draft struct {
	ID           string            `json:"id"`
	State        State             `json:"state"`
	OriginalName string            `json:"original_name"`
	Filename     string            `json:"filename"` // stored source file
	ContentType  string            `json:"content_type"`
	Payload      string            `json:"payload,omitempty"` // raw extraction response
	Metadata     *invoice.Metadata `json:"metadata,omitempty"`
	Invoice      *invoice.Record   `json:"invoice,omitempty"`
	Error        string            `json:"error,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// CanTransition reports whether the draft may move to state to
func (d *Draft) CanTransition(to State) bool {
	for _, s := range transitions[d.State] {
		if s == to {
			return true
		}
	}
	return false
}

func (d *Draft) transition(to State, now time.Time) error {
	if !d.CanTransition(to) {
		return fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidState, d.State, to)
	}
	d.State = to
	d.UpdatedAt = now
	return nil
}

// fail records err on the draft and moves it to StateFailed
func (d *Draft) fail(err error, now time.Time) error {
	if terr := d.transition(StateFailed, now); terr != nil {
		return terr
	}
	d.Error = err.Error()
	return nil
}
