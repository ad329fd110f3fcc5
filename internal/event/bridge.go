package event

import (
	"net/http"
	"time"
)

// ServiceUnavailableMessage replaces the server's message for 503 responses.
const ServiceUnavailableMessage = "Service temporarily unavailable. Please try again."

// Durations used by the failure policy.
const (
	ServerErrorDuration = 8 * time.Second
	ConflictDuration    = 6 * time.Second
)

// Policy decides how a failed request is shown: its severity, the text to
// display and how long it stays visible.
//
//	503   error    fixed text  8s
//	>=500 error    message     8s
//	409   warning  message     6s
//	other error    message     5s
func Policy(message string, status int) (Severity, string, time.Duration) {
	switch {
	case status == http.StatusServiceUnavailable:
		return SeverityError, ServiceUnavailableMessage, ServerErrorDuration
	case status >= 500:
		return SeverityError, message, ServerErrorDuration
	case status == http.StatusConflict:
		return SeverityWarning, message, ConflictDuration
	default:
		return SeverityError, message, DefaultDuration
	}
}

// SeverityForStatus returns only the severity half of Policy.
func SeverityForStatus(status int) Severity {
	sev, _, _ := Policy("", status)
	return sev
}

// Bridge turns request failures into notifications on a Bus. It satisfies
// the request pipeline's failure reporter contract.
type Bridge struct {
	bus *Bus
}

// NewBridge creates a Bridge publishing to bus.
func NewBridge(bus *Bus) *Bridge {
	return &Bridge{bus: bus}
}

// ReportFailure publishes one notification for a failed request. Status 0
// means the request never got a response.
func (b *Bridge) ReportFailure(message string, status int) {
	sev, text, d := Policy(message, status)
	b.bus.Publish(sev, text, d)
}
