// Package run implements the Run Lifecycle: the RUN_START → ATTEMPT/EGRESS*
// → RUN_END sequence that wraps every agent run passing through the gate.
// It owns binding and unbinding the Gate's policy and stamping every trace
// envelope with the run's identity; it never executes a tool itself — that
// is the caller's Executor to provide.
package run

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/failcore/core/pkg/contracts"
	"github.com/failcore/core/pkg/costguardian"
	"github.com/failcore/core/pkg/enrichers"
	"github.com/failcore/core/pkg/fingerprint"
	"github.com/failcore/core/pkg/gate"
	"github.com/failcore/core/pkg/replay"
	"github.com/failcore/core/pkg/telemetry"
	"github.com/failcore/core/pkg/tracesink"
)

// Executor is the collaborator boundary for actually invoking a tool.
// Run never calls it — orchestrating model/tool execution is outside
// this package's scope. It exists so a caller's executor can be typed
// against a stable interface when wiring a Run into its own loop.
type Executor interface {
	Execute(ctx context.Context, rc *contracts.ContextV1) (result any, err error)
}

// State is the run's lifecycle phase.
type State string

const (
	StateCreated State = "CREATED"
	StateActive  State = "ACTIVE"
	StateEnded   State = "ENDED"
)

// Run binds one agent run's policy to the gate for its duration and
// stamps every trace envelope emitted during that window.
type Run struct {
	id         string
	policyName string
	policyHash string
	rulesHash  string

	gate        *gate.Gate
	sink        *tracesink.TraceSink
	enricher    *enrichers.Runner
	telemetry   *telemetry.Provider
	replayCache *replay.Cache
	clock       func() time.Time

	mu    sync.Mutex
	state State
}

// Config is everything needed to start a Run.
type Config struct {
	RunID      string
	PolicyName string
	PolicyHash string
	RulesHash  string
	Layers     contracts.PolicyLayers
	Gate        *gate.Gate
	Sink        *tracesink.TraceSink
	Enricher    *enrichers.Runner
	Telemetry   *telemetry.Provider
	ReplayCache *replay.Cache

	// CostGuardian and Budget are optional. When CostGuardian is set, its
	// economic budget is bound for this run's RunID before RUN_START is
	// emitted, so every Attempt is reserved against it.
	CostGuardian *costguardian.Validator
	Budget       costguardian.Budget
}

// Start binds cfg.Layers to cfg.Gate and emits RUN_START. Binding
// failure (an invalid policy) leaves the gate unbound and returns the
// error without starting a run.
func Start(cfg Config) (*Run, error) {
	if cfg.RunID == "" {
		return nil, fmt.Errorf("run: RunID is required")
	}
	if err := cfg.Gate.Bind(cfg.Layers); err != nil {
		return nil, fmt.Errorf("run: failed to start: %w", err)
	}
	if cfg.CostGuardian != nil {
		cfg.Budget.RunID = cfg.RunID
		cfg.CostGuardian.Bind(cfg.Budget)
	}

	r := &Run{
		id:         cfg.RunID,
		policyName: cfg.PolicyName,
		policyHash: cfg.PolicyHash,
		rulesHash:  cfg.RulesHash,
		gate:        cfg.Gate,
		sink:        cfg.Sink,
		enricher:    cfg.Enricher,
		telemetry:   cfg.Telemetry,
		replayCache: cfg.ReplayCache,
		clock:       time.Now,
		state:       StateActive,
	}

	if r.sink != nil {
		r.sink.Emit(contracts.TraceEnvelope{
			SchemaVersion: contracts.SchemaVersion,
			EventType:     contracts.EventRunStart,
			RunID:         r.id,
			Ts:            r.clock(),
			Data: contracts.RunStartData{
				PolicyName: r.policyName,
				PolicyHash: r.policyHash,
				StartedAt:  r.clock(),
			},
		})
	}
	return r, nil
}

// WithClock overrides the run's clock for deterministic tests.
func (r *Run) WithClock(clock func() time.Time) *Run {
	r.clock = clock
	return r
}

// ID returns the run's identifier.
func (r *Run) ID() string { return r.id }

// State returns the run's current lifecycle phase.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// ErrRunNotActive is returned by Attempt/Egress once a Run has ended.
var ErrRunNotActive = fmt.Errorf("run: not active")

// Attempt runs rc through the gate's preflight check and records an
// ATTEMPT trace event carrying the resolved verdict. When a replay cache
// is configured, a fingerprint is computed first: a cache hit replays the
// prior verdict without re-invoking the gate, and a miss falls through to
// a normal check whose outcome is then cached for the next identical call.
func (r *Run) Attempt(ctx context.Context, rc *contracts.ContextV1) (gate.Verdict, error) {
	if r.State() != StateActive {
		return gate.Verdict{}, ErrRunNotActive
	}
	rc.RunID = r.id

	var fp fingerprint.Fingerprint
	fpOK := false
	if r.replayCache != nil {
		var fpErr error
		fp, fpErr = fingerprint.Compute(fingerprint.Components{
			Tool:       rc.Tool,
			Params:     rc.Params,
			PolicyHash: r.policyHash,
			RulesHash:  r.rulesHash,
		})
		fpOK = fpErr == nil
		if fpOK && r.sink != nil {
			r.sink.Emit(contracts.TraceEnvelope{
				SchemaVersion: contracts.SchemaVersion,
				EventType:     contracts.EventFingerprintComputed,
				RunID:         r.id,
				Ts:            r.clock(),
				StepID:        rc.StepID,
				Data:          contracts.FingerprintData{Hash: fp.Hash, Components: fp.Components},
			})
		}
	}

	var verdict gate.Verdict
	var err error
	if fpOK {
		out, ok := r.replayCache.Lookup(fp)
		if ok {
			verdict = gate.Verdict{
				Decision: contracts.Decision(out.Decision),
				FinalDecision: contracts.DecisionV1{
					Code:     out.Code,
					Decision: contracts.Decision(out.Decision),
				},
			}
			if r.sink != nil {
				r.sink.Emit(contracts.TraceEnvelope{
					SchemaVersion: contracts.SchemaVersion,
					EventType:     contracts.EventReplayHit,
					RunID:         r.id,
					Ts:            r.clock(),
					StepID:        rc.StepID,
					Data:          replay.HitData(fp, out),
				})
			}
		} else {
			if r.sink != nil {
				r.sink.Emit(contracts.TraceEnvelope{
					SchemaVersion: contracts.SchemaVersion,
					EventType:     contracts.EventReplayMiss,
					RunID:         r.id,
					Ts:            r.clock(),
					StepID:        rc.StepID,
				})
			}
			verdict, err = r.checkPreflight(ctx, rc)
			r.replayCache.Store(fp, replay.Outcome{
				Decision: string(verdict.FinalDecision.Decision),
				Code:     verdict.FinalDecision.Code,
				CachedAt: r.clock(),
			})
		}
	} else {
		verdict, err = r.checkPreflight(ctx, rc)
	}

	if r.sink != nil {
		r.sink.Emit(contracts.TraceEnvelope{
			SchemaVersion: contracts.SchemaVersion,
			EventType:     contracts.EventAttempt,
			RunID:         r.id,
			Ts:            r.clock(),
			StepID:        rc.StepID,
			Data: contracts.AttemptData{
				Tool: rc.Tool,
				Verdict: contracts.Verdict{
					Decision:  verdict.FinalDecision.Decision,
					Code:      verdict.FinalDecision.Code,
					RiskLevel: verdict.FinalDecision.RiskLevel,
					Domain:    verdict.FinalDecision.Domain,
					Evidence:  verdict.FinalDecision.Evidence,
				},
				Decisions: verdict.Decisions,
			},
		})
	}
	return verdict, err
}

// checkPreflight runs rc through the gate's preflight check under
// telemetry tracking.
func (r *Run) checkPreflight(ctx context.Context, rc *contracts.ContextV1) (gate.Verdict, error) {
	var verdict gate.Verdict
	_, err := r.telemetry.TrackCheck(ctx, "preflight", rc.Tool, func(ctx context.Context) (contracts.Decision, error) {
		var cerr error
		verdict, cerr = r.gate.CheckPreflight(ctx, rc)
		return verdict.Decision, cerr
	})
	return verdict, err
}

// Egress runs rc (now carrying Result) through the gate's egress check,
// fans it out to the enrichment Runner if configured, and records an
// EGRESS trace event carrying evidence only — enrichment never changes
// the verdict already resolved.
func (r *Run) Egress(ctx context.Context, rc *contracts.ContextV1) (gate.Verdict, error) {
	if r.State() != StateActive {
		return gate.Verdict{}, ErrRunNotActive
	}
	rc.RunID = r.id

	var verdict gate.Verdict
	_, err := r.telemetry.TrackCheck(ctx, "egress", rc.Tool, func(ctx context.Context) (contracts.Decision, error) {
		var cerr error
		verdict, cerr = r.gate.CheckEgress(ctx, rc)
		return verdict.Decision, cerr
	})

	status := "ok"
	if verdict.Decision == contracts.DecisionBlock {
		status = "blocked"
	}
	var evidence contracts.EgressEvidence
	if r.enricher != nil {
		evidence = r.enricher.Run(ctx, rc)
	}

	if r.sink != nil {
		r.sink.Emit(contracts.TraceEnvelope{
			SchemaVersion: contracts.SchemaVersion,
			EventType:     contracts.EventEgress,
			RunID:         r.id,
			Ts:            r.clock(),
			StepID:        rc.StepID,
			Data:          contracts.EgressData{Status: status, Evidence: evidence},
		})
	}
	return verdict, err
}

// End emits RUN_END, unbinds the gate, and transitions the run to
// StateEnded. Calling End twice is a no-op.
func (r *Run) End(status contracts.RunStatus, stats map[string]any) {
	r.mu.Lock()
	if r.state == StateEnded {
		r.mu.Unlock()
		return
	}
	r.state = StateEnded
	r.mu.Unlock()

	if r.sink != nil {
		r.sink.Emit(contracts.TraceEnvelope{
			SchemaVersion: contracts.SchemaVersion,
			EventType:     contracts.EventRunEnd,
			RunID:         r.id,
			Ts:            r.clock(),
			Data:          contracts.RunEndData{Status: status, Stats: stats},
		})
	}
	r.gate.Unbind()
}
