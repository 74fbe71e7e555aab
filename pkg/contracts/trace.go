package contracts

import "time"

// SchemaVersion is the wire-level version string stamped on every trace
// envelope (§6.1).
const SchemaVersion = "failcore.trace.v0.2.0"

// EventType is the closed set of trace envelope event types.
type EventType string

const (
	EventRunStart           EventType = "RUN_START"
	EventAttempt            EventType = "ATTEMPT"
	EventEgress             EventType = "EGRESS"
	EventRunEnd             EventType = "RUN_END"
	EventFingerprintComputed EventType = "FINGERPRINT_COMPUTED"
	EventReplayHit          EventType = "REPLAY_HIT"
	EventReplayMiss         EventType = "REPLAY_MISS"
	EventContractDrift      EventType = "CONTRACT_DRIFT"
	EventPolicyDenied       EventType = "POLICY_DENIED"
	EventStepTimeout        EventType = "STEP_TIMEOUT"
	EventTimeoutClamped     EventType = "TIMEOUT_CLAMPED"
	EventArtifactWritten    EventType = "ARTIFACT_WRITTEN"
	EventSideEffectApplied  EventType = "SIDE_EFFECT_APPLIED"
)

// TraceEnvelope is one line of the append-only JSONL trace. Seq is
// strictly increasing per run; Data carries the event-specific payload
// (RunStartData, AttemptData, EgressData, ...).
type TraceEnvelope struct {
	SchemaVersion string    `json:"schema_version"`
	EventType     EventType `json:"event_type"`
	RunID         string    `json:"run_id"`
	Seq           uint64    `json:"seq"`
	Ts            time.Time `json:"ts"`
	StepID        string    `json:"step,omitempty"`
	Data          any       `json:"data"`
}

// RunStartData is the payload of a RUN_START event.
type RunStartData struct {
	PolicyName string    `json:"policy_name"`
	PolicyHash string    `json:"policy_hash"`
	StartedAt  time.Time `json:"started_at"`
}

// Verdict is the gate's inline decision summary carried on ATTEMPT.
type Verdict struct {
	Decision  Decision  `json:"decision"`
	Code      string    `json:"code"`
	RiskLevel RiskLevel `json:"risk_level"`
	Domain    Domain    `json:"domain"`
	Evidence  map[string]any `json:"evidence,omitempty"`
}

// AttemptData is the payload of an ATTEMPT event: the gate's resolved
// verdict plus the full, deduplicated decision list for audit/explain.
type AttemptData struct {
	Tool          string         `json:"tool"`
	ParamsSummary map[string]any `json:"params_summary,omitempty"`
	Verdict       Verdict        `json:"verdict"`
	Decisions     []DecisionV1   `json:"decisions"`
}

// EgressEvidence groups enricher output by enricher family.
type EgressEvidence struct {
	DLP      map[string]any `json:"dlp,omitempty"`
	Taint    map[string]any `json:"taint,omitempty"`
	Semantic map[string]any `json:"semantic,omitempty"`
	Effects  map[string]any `json:"effects,omitempty"`
	Usage    map[string]any `json:"usage,omitempty"`
}

// EgressData is the payload of an EGRESS event: evidence only, no verdict.
type EgressData struct {
	Status   string         `json:"status"`
	Evidence EgressEvidence `json:"evidence"`
}

// RunStatus is the aggregate outcome recorded at RUN_END.
type RunStatus string

const (
	RunStatusSuccess RunStatus = "SUCCESS"
	RunStatusPartial RunStatus = "PARTIAL"
	RunStatusBlocked RunStatus = "BLOCKED"
	RunStatusFailed  RunStatus = "FAILED"
	RunStatusCancelled RunStatus = "CANCELLED"
)

// RunEndData is the payload of a RUN_END event.
type RunEndData struct {
	Status RunStatus      `json:"status"`
	Stats  map[string]any `json:"stats,omitempty"`
}

// FingerprintData is the payload of a FINGERPRINT_COMPUTED event — the
// authoritative replay key, which must precede any REPLAY_HIT/REPLAY_MISS
// for the same step.
type FingerprintData struct {
	Hash       string   `json:"hash"`
	Components []string `json:"components"`
}

// ReplayHitData is the payload of a REPLAY_HIT event.
type ReplayHitData struct {
	HitKey      string `json:"hit_key"`
	CacheSource string `json:"cache_source"`
	SavedTokens int64  `json:"saved_tokens,omitempty"`
	SavedMs     int64  `json:"saved_ms,omitempty"`
}

// PolicyDeniedData is the terminal payload of a POLICY_DENIED event.
type PolicyDeniedData struct {
	Code           string `json:"code"`
	Category       string `json:"category"`
	CategoryDetail string `json:"category_detail,omitempty"`
}
