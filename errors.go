package premiumclient

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/growhaus/premium-client-go/internal/correlate"
	"github.com/growhaus/premium-client-go/wire"
)

var (
	// ErrTransportUnavailable indicates a publish was attempted while the bus
	// is disconnected. The request fails fast; no timeout window is incurred.
	ErrTransportUnavailable = errors.New("premiumclient: transport unavailable")

	// ErrClosed indicates the client was shut down. In-flight requests are
	// rejected with this error.
	ErrClosed = correlate.ErrClosed

	// ErrUnknownResource indicates a mutation referenced a resource id that
	// is not in the local set.
	ErrUnknownResource = errors.New("premiumclient: unknown resource")

	// ErrConfirmationRequired indicates a destructive action targeted the
	// currently active resource without WithConfirmation.
	ErrConfirmationRequired = errors.New("premiumclient: confirmation required for destructive action on active resource")
)

// TimeoutError indicates no matching response arrived within the request
// window. The caller decides whether to retry.
type TimeoutError struct {
	// Event is the outbound event name the request was published under.
	Event string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("premiumclient: timed out waiting for response to %s", e.Event)
}

// RejectedError indicates the backend answered with an error status. Tag
// carries the backend-defined reason code from the message field.
type RejectedError struct {
	Tag    wire.MessageTag
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("premiumclient: backend rejected request: %s (%s)", e.Tag, e.Reason)
	}
	return fmt.Sprintf("premiumclient: backend rejected request: %s", e.Tag)
}

// rejectionError builds the error delivered to a waiting caller when a
// correlated response carries an error status.
func rejectionError(resp *wire.Response) error {
	re := &RejectedError{Tag: resp.Message}
	if len(resp.Data) > 0 {
		var d struct {
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(resp.Data, &d); err == nil {
			re.Reason = d.Reason
		}
	}
	return re
}
