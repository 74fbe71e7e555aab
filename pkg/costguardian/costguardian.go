// Package costguardian implements the Cost Guardian: a per-run economic
// budget tracker that blocks tool calls once a spend cap, a token cap, an
// API-call cap, or a burn-rate cap is exceeded. It never estimates cost
// itself — the caller supplies the estimated cost of a step, and the
// guardian's only job is to reserve against the budget, refuse once it is
// spent, and surface early warnings as the budget is consumed.
package costguardian

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/failcore/core/pkg/contracts"
)

// defaultAlertThresholds is the fraction-of-budget ladder a run's spend
// climbs through before it hits the hard cap; each rung fires once.
var defaultAlertThresholds = []float64{0.80, 0.90, 0.95}

// Budget is the economic ceiling for one run.
type Budget struct {
	RunID         string
	MaxCostUSD    float64
	MaxTokens     int64
	MaxAPICalls   int64
	MaxBurnPerMin float64 // max USD/minute sustained burn rate
	MaxUSDPerHour float64 // max USD/hour sustained burn rate

	// AlertThresholds are the fractions of MaxCostUSD at which a WARN
	// alert decision is raised, once per threshold. Defaults to
	// defaultAlertThresholds when left empty.
	AlertThresholds []float64

	// CheckInterval and SafetyMargin configure the streaming watchdog
	// (OnTokenGenerated): how far short of MaxTokens a long-running
	// generation should be cut off, expressed as a fraction held back
	// (e.g. 0.05 stops at 95% of the cap) and how often the caller is
	// expected to poll. CheckInterval is advisory — this package has no
	// timer loop of its own, the caller drives the cadence.
	CheckInterval time.Duration
	SafetyMargin  float64
}

// usage is the live counters for a bound Budget.
type usage struct {
	budget      Budget
	spentUSD    float64
	spentToken  int64
	apiCalls    int64
	limiter     *rate.Limiter
	hourLimiter *rate.Limiter
	firedAlerts map[float64]bool
}

// CostEstimator returns the estimated USD cost and token count of a tool
// call, given its params. The Validator performs no pricing logic of its
// own — callers wire in whatever pricing table their tools use.
type CostEstimator func(tool string, params map[string]any) (usd float64, tokens int64)

// SpendObserver is notified after a step's cost is reserved against a
// run's budget, for telemetry/reporting purposes only — it never gates
// the decision.
type SpendObserver func(runID string, usd float64, tokens int64)

// Validator enforces per-run economic budgets ahead of execution.
type Validator struct {
	id       string
	estimate CostEstimator
	clock    func() time.Time
	observe  SpendObserver

	mu     sync.Mutex
	usages map[string]*usage
}

// New constructs a cost-guardian Validator. estimate is required;
// passing nil makes every call free (useful for tests that only
// exercise the tokens/burn-rate paths via direct bookkeeping calls).
func New(id string, estimate CostEstimator) *Validator {
	if estimate == nil {
		estimate = func(string, map[string]any) (float64, int64) { return 0, 0 }
	}
	return &Validator{id: id, estimate: estimate, clock: time.Now, usages: make(map[string]*usage)}
}

// WithClock overrides the guardian's clock for deterministic tests.
func (v *Validator) WithClock(clock func() time.Time) *Validator {
	v.clock = clock
	return v
}

// WithSpendObserver registers a callback fired every time a step's cost
// is successfully reserved, e.g. to feed a telemetry counter.
func (v *Validator) WithSpendObserver(observe SpendObserver) *Validator {
	v.observe = observe
	return v
}

func (v *Validator) ID() string               { return v.id }
func (v *Validator) Domain() contracts.Domain { return contracts.DomainCost }

// Bind registers the budget for a run. Binding the same RunID again
// replaces the prior budget but preserves accumulated spend and any
// alert thresholds already fired.
func (v *Validator) Bind(b Budget) {
	v.mu.Lock()
	defer v.mu.Unlock()
	u, ok := v.usages[b.RunID]
	if !ok {
		u = &usage{firedAlerts: make(map[float64]bool)}
	}
	u.budget = b
	// Both limiters count cents, the unit Validate spends them in.
	if b.MaxBurnPerMin > 0 {
		u.limiter = rate.NewLimiter(rate.Limit(b.MaxBurnPerMin*100/60.0), burstFor(b.MaxBurnPerMin*100))
	} else {
		u.limiter = nil
	}
	if b.MaxUSDPerHour > 0 {
		u.hourLimiter = rate.NewLimiter(rate.Limit(b.MaxUSDPerHour*100/3600.0), burstFor(b.MaxUSDPerHour*100))
	} else {
		u.hourLimiter = nil
	}
	v.usages[b.RunID] = u
}

func burstFor(maxPerWindow float64) int {
	b := int(maxPerWindow)
	if b < 1 {
		b = 1
	}
	return b
}

// Validate estimates the cost of rc and reserves against rc.RunID's
// bound budget, blocking if any cap would be exceeded. A run with no
// bound budget is never constrained — callers that want enforcement
// must call Bind first. A successful reservation may still return a WARN
// alert decision if it crosses one of the budget's AlertThresholds.
func (v *Validator) Validate(ctx context.Context, rc *contracts.ContextV1, cfg contracts.ValidatorConfig) ([]contracts.DecisionV1, error) {
	v.mu.Lock()
	u, bound := v.usages[rc.RunID]
	v.mu.Unlock()
	if !bound {
		return nil, nil
	}

	usd, tokens := v.estimate(rc.Tool, rc.Params)

	v.mu.Lock()
	defer v.mu.Unlock()

	if u.budget.MaxCostUSD > 0 && u.spentUSD+usd > u.budget.MaxCostUSD {
		return []contracts.DecisionV1{v.budgetDecision(contracts.CodeEconomicBudgetExceeded,
			fmt.Sprintf("step would bring run spend to $%.4f, exceeding cap $%.4f", u.spentUSD+usd, u.budget.MaxCostUSD),
			map[string]any{"spent_usd": u.spentUSD, "step_usd": usd, "cap_usd": u.budget.MaxCostUSD})}, nil
	}
	if u.budget.MaxTokens > 0 && u.spentToken+tokens > u.budget.MaxTokens {
		return []contracts.DecisionV1{v.budgetDecision(contracts.CodeEconomicTokenLimit,
			fmt.Sprintf("step would bring run tokens to %d, exceeding cap %d", u.spentToken+tokens, u.budget.MaxTokens),
			map[string]any{"spent_tokens": u.spentToken, "step_tokens": tokens, "cap_tokens": u.budget.MaxTokens})}, nil
	}
	if u.budget.MaxAPICalls > 0 && u.apiCalls+1 > u.budget.MaxAPICalls {
		return []contracts.DecisionV1{v.budgetDecision(contracts.CodeEconomicAPICallLimit,
			fmt.Sprintf("step would bring run to %d API calls, exceeding cap %d", u.apiCalls+1, u.budget.MaxAPICalls),
			map[string]any{"api_calls": u.apiCalls, "cap_api_calls": u.budget.MaxAPICalls})}, nil
	}
	if u.limiter != nil && !u.limiter.AllowN(v.clock(), int(usd*100)) {
		return []contracts.DecisionV1{v.budgetDecision(contracts.CodeEconomicBurnRateExceeded,
			fmt.Sprintf("run is burning faster than $%.2f/min", u.budget.MaxBurnPerMin),
			map[string]any{"max_burn_per_min_usd": u.budget.MaxBurnPerMin})}, nil
	}
	if u.hourLimiter != nil && !u.hourLimiter.AllowN(v.clock(), int(usd*100)) {
		return []contracts.DecisionV1{v.budgetDecision(contracts.CodeEconomicBurnRateExceeded,
			fmt.Sprintf("run is burning faster than $%.2f/hour", u.budget.MaxUSDPerHour),
			map[string]any{"max_usd_per_hour": u.budget.MaxUSDPerHour})}, nil
	}

	u.apiCalls++
	u.spentUSD += usd
	u.spentToken += tokens
	if v.observe != nil {
		v.observe(rc.RunID, usd, tokens)
	}

	var decisions []contracts.DecisionV1
	if alert := v.checkAlertThresholds(u); alert != nil {
		decisions = append(decisions, *alert)
	}
	return decisions, nil
}

// checkAlertThresholds fires at most one WARN decision per call, for the
// highest AlertThresholds rung newly crossed by the run's spend. Each
// rung fires exactly once per bound run.
func (v *Validator) checkAlertThresholds(u *usage) *contracts.DecisionV1 {
	if u.budget.MaxCostUSD <= 0 {
		return nil
	}
	thresholds := u.budget.AlertThresholds
	if len(thresholds) == 0 {
		thresholds = defaultAlertThresholds
	}
	fraction := u.spentUSD / u.budget.MaxCostUSD

	var newlyCrossed float64
	crossedAny := false
	for _, t := range thresholds {
		if fraction < t || u.firedAlerts[t] {
			continue
		}
		u.firedAlerts[t] = true
		if t > newlyCrossed {
			newlyCrossed = t
			crossedAny = true
		}
	}
	if !crossedAny {
		return nil
	}
	return &contracts.DecisionV1{
		Code:      contracts.CodeEconomicBudgetWarning,
		Decision:  contracts.DecisionWarn,
		RiskLevel: contracts.RiskMedium,
		Domain:    contracts.DomainCost,
		Message:   fmt.Sprintf("run has consumed %.0f%% of its $%.2f budget", newlyCrossed*100, u.budget.MaxCostUSD),
		Evidence:  map[string]any{"threshold": newlyCrossed, "spent_usd": u.spentUSD, "cap_usd": u.budget.MaxCostUSD},
	}
}

// OnTokenGenerated is the streaming watchdog hook: a long-running
// generation calls this as tokens accumulate (at roughly
// Budget.CheckInterval cadence), and a non-nil result means the caller
// must stop generating now — tokensSoFar plus the run's already-spent
// tokens has crossed the cap's safety margin, before the hard cap itself
// would be hit. Returns nil when there is nothing bound, no token cap, or
// the margin hasn't been crossed.
func (v *Validator) OnTokenGenerated(runID string, tokensSoFar int64) *contracts.DecisionV1 {
	v.mu.Lock()
	defer v.mu.Unlock()
	u, bound := v.usages[runID]
	if !bound || u.budget.MaxTokens <= 0 {
		return nil
	}
	margin := u.budget.SafetyMargin
	if margin <= 0 {
		margin = 0.05
	}
	cutoff := int64(float64(u.budget.MaxTokens) * (1 - margin))
	if u.spentToken+tokensSoFar < cutoff {
		return nil
	}
	d := v.budgetDecision(contracts.CodeEconomicTokenLimit,
		fmt.Sprintf("streaming generation stopped %.0f%% short of the token cap to stay within budget", margin*100),
		map[string]any{"tokens_so_far": tokensSoFar, "spent_tokens": u.spentToken, "cap_tokens": u.budget.MaxTokens, "safety_margin": margin})
	return &d
}

func (v *Validator) budgetDecision(code, msg string, evidence map[string]any) contracts.DecisionV1 {
	return contracts.DecisionV1{
		Code:      contracts.NormalizeCode(contracts.DomainCost, code),
		Decision:  contracts.DecisionBlock,
		RiskLevel: contracts.RiskMedium,
		Domain:    contracts.DomainCost,
		Message:   msg,
		Evidence:  evidence,
	}
}

// Spent reports a run's current accumulated spend, for trace/enrichment
// reporting rather than enforcement.
func (v *Validator) Spent(runID string) (usd float64, tokens int64, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	u, bound := v.usages[runID]
	if !bound {
		return 0, 0, false
	}
	return u.spentUSD, u.spentToken, true
}

// APICalls reports a run's current reserved API call count.
func (v *Validator) APICalls(runID string) (int64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	u, bound := v.usages[runID]
	if !bound {
		return 0, false
	}
	return u.apiCalls, true
}
