// ABOUTME: Quality event kinds raised when budgets are violated
// ABOUTME: Events are values, never errors; the stream keeps running
package monitor

import "time"

// EventKind classifies a threshold violation.
type EventKind string

const (
	EventLatencyViolation EventKind = "latency-violation"
	EventTHDNExceeded     EventKind = "thdn-exceeded"
	EventPowerEfficiency  EventKind = "power-efficiency"
	EventBufferRisk       EventKind = "buffer-risk"
	EventAIBypassed       EventKind = "ai-bypassed"
)

// Event is one recorded quality violation. Silent to the end user; the
// control plane may degrade the chain in response.
type Event struct {
	Kind      EventKind
	Message   string
	Value     float64
	Seq       uint64
	Timestamp time.Time
}
