package model

// EventType tags the AgentEvent variant.
type EventType string

const (
	EventProgress           EventType = "progress"
	EventPhaseStart         EventType = "phase_start"
	EventPhaseComplete      EventType = "phase_complete"
	EventPatchApplied       EventType = "patch_applied"
	EventDayCompleted       EventType = "day_completed"
	EventNodeEnhanced       EventType = "node_enhanced"
	EventGenerationComplete EventType = "generation_complete"
	EventWarning            EventType = "warning"
	EventError              EventType = "error"
)

// Severity grades an error event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// AgentEvent is a tagged union delivered over the Event Bus. Exactly one of
// the typed payload fields is populated, selected by Type; the engine keeps
// this as a flat struct (rather than an interface{} union) so subscribers
// can encode it without a type switch on the transport layer's behalf.
type AgentEvent struct {
	Type         EventType `json:"type"`
	ItineraryID  string    `json:"itinerary_id"`
	ExecutionID  string    `json:"execution_id,omitempty"`
	SequenceNum  uint64    `json:"sequence"`
	TimestampMs  int64     `json:"timestamp_ms"`

	// progress
	Phase      string  `json:"phase,omitempty"`
	Percent    int     `json:"percent,omitempty"`
	Message    string  `json:"message,omitempty"`
	WorkerKind string  `json:"worker_kind,omitempty"`

	// phase_complete
	DurationMs int64 `json:"duration_ms,omitempty"`

	// patch_applied
	Diff       *Diff `json:"diff,omitempty"`
	NewVersion int   `json:"new_version,omitempty"`

	// day_completed
	DayNumber int `json:"day_number,omitempty"`

	// node_enhanced
	NodeID          string `json:"node_id,omitempty"`
	EnhancementKind string `json:"enhancement_kind,omitempty"`

	// generation_complete
	FinalSnapshot *Itinerary `json:"final_snapshot,omitempty"`

	// warning
	Code          string `json:"code,omitempty"`
	RecoveryHint  string `json:"recovery_hint,omitempty"`

	// error
	Severity  Severity `json:"severity,omitempty"`
	Retryable bool     `json:"retryable,omitempty"`
}
