// Command failcore is the runtime's CLI entrypoint: it assembles the
// validator engine from a policy document and rules registry, binds a
// gate, and drives a single tool call (or a whole run) through it.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/failcore/core/pkg/config"
	"github.com/failcore/core/pkg/contracts"
	"github.com/failcore/core/pkg/costguardian"
	"github.com/failcore/core/pkg/engine"
	"github.com/failcore/core/pkg/gate"
	"github.com/failcore/core/pkg/policydoc"
	"github.com/failcore/core/pkg/replay"
	"github.com/failcore/core/pkg/rules"
	"github.com/failcore/core/pkg/run"
	"github.com/failcore/core/pkg/scancache"
	"github.com/failcore/core/pkg/telemetry"
	"github.com/failcore/core/pkg/tracesink"
	"github.com/failcore/core/pkg/validators/contract"
	"github.com/failcore/core/pkg/validators/dlp"
	"github.com/failcore/core/pkg/validators/drift"
	"github.com/failcore/core/pkg/validators/effects"
	"github.com/failcore/core/pkg/validators/exprrules"
	"github.com/failcore/core/pkg/validators/sanitize"
	"github.com/failcore/core/pkg/validators/security"
	"github.com/failcore/core/pkg/validators/semantic"
	"github.com/failcore/core/pkg/validators/taintflow"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the CLI's testable entrypoint.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stdout)
		return 2
	}

	switch args[1] {
	case "check":
		return handleCheck(args[2:], stdout, stderr)
	case "run":
		return handleRun(args[2:], stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, "failcore dev")
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "failcore: unknown command %q\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: failcore <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  check    evaluate one ContextV1 document against a policy")
	fmt.Fprintln(w, "  run      drive a sequence of ContextV1 steps through a full run lifecycle")
	fmt.Fprintln(w, "  version  print the build version")
	fmt.Fprintln(w, "  help     print this message")
}

// handleCheck loads a policy+rules pair, assembles the engine, and runs
// a single preflight/egress check against a JSON ContextV1 document.
func handleCheck(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfg := config.Load()

	contextPath := fs.String("context", "", "path to a JSON ContextV1 document (required)")
	policyPath := fs.String("policy", cfg.PolicyPath, "path to the policy document")
	rulesPath := fs.String("rules", "", "path to a rules registry document (defaults to the built-in registry)")
	phase := fs.String("phase", "preflight", "preflight or egress")
	jsonOut := fs.Bool("json", false, "emit the verdict as JSON")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *contextPath == "" {
		fmt.Fprintln(stderr, "failcore check: --context is required")
		fs.Usage()
		return 2
	}

	layers, err := policydoc.Load(*policyPath)
	if err != nil {
		fmt.Fprintf(stderr, "failcore: %v\n", err)
		return 1
	}

	registry, err := loadRegistry(*rulesPath)
	if err != nil {
		fmt.Fprintf(stderr, "failcore: %v\n", err)
		return 1
	}

	rc, err := loadContext(*contextPath)
	if err != nil {
		fmt.Fprintf(stderr, "failcore: %v\n", err)
		return 1
	}

	ctx := context.Background()
	tel, err := newTelemetryProvider(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "failcore: telemetry: %v\n", err)
		return 1
	}
	defer tel.Shutdown(ctx)

	eng, cg := buildEngine(registry, cfg, tel)
	if rc.RunID != "" {
		budget := budgetFromConfig(cfg)
		budget.RunID = rc.RunID
		cg.Bind(budget)
	}
	g := gate.New(eng)
	if err := g.Bind(layers); err != nil {
		fmt.Fprintf(stderr, "failcore: bind policy: %v\n", err)
		return 1
	}
	defer g.Unbind()

	var verdict gate.Verdict
	switch *phase {
	case "egress":
		verdict, err = g.CheckEgress(ctx, rc)
	default:
		verdict, err = g.CheckPreflight(ctx, rc)
	}
	if err != nil {
		fmt.Fprintf(stderr, "failcore: check: %v\n", err)
		return 1
	}

	if *jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(verdict); err != nil {
			fmt.Fprintf(stderr, "failcore: encode verdict: %v\n", err)
			return 1
		}
	} else {
		printVerdict(stdout, verdict)
	}

	if verdict.Decision == contracts.DecisionBlock {
		return 1
	}
	return 0
}

func printVerdict(w io.Writer, v gate.Verdict) {
	fmt.Fprintf(w, "decision: %s\n", v.Decision)
	if v.FinalDecision.Code != "" {
		fmt.Fprintf(w, "code:     %s\n", v.FinalDecision.Code)
		fmt.Fprintf(w, "domain:   %s\n", v.FinalDecision.Domain)
		if v.FinalDecision.Message != "" {
			fmt.Fprintf(w, "message:  %s\n", v.FinalDecision.Message)
		}
	}
	for _, d := range v.Decisions {
		marker := " "
		if d.SuppressedBy != "" {
			marker = "-"
		}
		fmt.Fprintf(w, "%s %-24s %-8s %s\n", marker, d.Code, d.Decision, d.Domain)
	}
}

func loadContext(path string) (*contracts.ContextV1, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read context: %w", err)
	}
	var rc contracts.ContextV1
	if err := json.Unmarshal(data, &rc); err != nil {
		return nil, fmt.Errorf("parse context: %w", err)
	}
	if rc.Metadata.Timestamp.IsZero() {
		rc.Metadata.Timestamp = time.Now().UTC()
	}
	return &rc, nil
}

func loadRegistry(path string) (*rules.Registry, error) {
	if path == "" {
		return rules.LoadBuiltin()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return rules.LoadFrom(data)
}

// newTelemetryProvider builds a telemetry Provider scoped to cfg. The
// CLI only dials an OTLP collector when an endpoint is configured;
// otherwise every Track/Record call is a cheap no-op.
func newTelemetryProvider(ctx context.Context, cfg *config.Config) (*telemetry.Provider, error) {
	tcfg := telemetry.DefaultConfig()
	tcfg.Enabled = cfg.OTelExporterEndpoint != ""
	if tcfg.Enabled {
		tcfg.OTLPEndpoint = cfg.OTelExporterEndpoint
	}
	return telemetry.New(ctx, tcfg)
}

// buildEngine registers the full validator plug-in set. Only the security
// validator's sandbox root and private-network switch are taken from cfg;
// every other validator is built with the fixed defaults written out
// below. tel, if non-nil, receives a spend notification
// every time the cost guardian reserves against a run's budget. The
// returned *costguardian.Validator is handed back alongside the engine
// so a caller driving a full Run lifecycle can Bind a per-run budget to
// it (the engine only sees the Validator interface).
func buildEngine(registry *rules.Registry, cfg *config.Config, tel *telemetry.Provider) (*engine.Engine, *costguardian.Validator) {
	eng := engine.New()

	eng.Register(contract.New("contract"))
	eng.Register(sanitize.New("sanitize", registry, sanitize.DefaultConfig()))
	eng.Register(dlp.New("dlp", registry, scancache.New(4096, 10*time.Minute), 1))

	if sem, err := semantic.New("semantic", registry, 1); err == nil {
		eng.Register(sem)
	}
	// exprrules starts with no statically-authored expressions; a richer
	// policy format could carry ad hoc CEL rules in cfg.Config, but no
	// validator config field for that exists yet.
	if expr, err := exprrules.New("exprrules", nil); err == nil {
		eng.Register(expr)
	}

	eng.Register(security.New("security", security.Config{
		SandboxRoot:     cfg.SandboxRoot,
		BlockPrivateNet: cfg.BlockPrivateNet,
	}))
	eng.Register(taintflow.New("taintflow", taintflow.Config{
		MaxAllowedSensitivity: contracts.SensitivityConfidential,
	}))
	eng.Register(effects.New("effects", effects.Config{
		Preset: contracts.BoundaryStrict,
	}))
	eng.Register(drift.New("drift", false, func() string { return "" }, func() string { return "" }))
	cg := costguardian.New("costguardian", nil).WithSpendObserver(func(runID string, usd float64, tokens int64) {
		tel.RecordSpend(context.Background(), runID, usd)
	})
	eng.Register(cg)

	return eng, cg
}

// budgetFromConfig builds the default per-run Budget from cfg's
// environment-sourced caps. A zero field leaves that cap unenforced.
func budgetFromConfig(cfg *config.Config) costguardian.Budget {
	return costguardian.Budget{
		MaxCostUSD:    cfg.DefaultMaxCostUSD,
		MaxTokens:     cfg.DefaultMaxTokens,
		MaxBurnPerMin: cfg.DefaultMaxBurnPerMin,
		MaxAPICalls:   cfg.DefaultMaxAPICalls,
		MaxUSDPerHour: cfg.DefaultMaxUSDPerHour,
	}
}

// handleRun drives a JSON array of ContextV1 steps through a
// Start/Attempt/End run lifecycle, tracing every event to a file sink,
// and prints the final run status. No step result is passed to Egress.
func handleRun(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfg := config.Load()

	stepsPath := fs.String("steps", "", "path to a JSON array of ContextV1 steps (required)")
	policyPath := fs.String("policy", cfg.PolicyPath, "path to the policy document")
	rulesPath := fs.String("rules", "", "path to a rules registry document (defaults to the built-in registry)")
	runID := fs.String("run-id", "", "run identifier (required)")
	tracePath := fs.String("trace", cfg.TraceFilePath, "path to append trace events to")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *stepsPath == "" || *runID == "" {
		fmt.Fprintln(stderr, "failcore run: --steps and --run-id are required")
		fs.Usage()
		return 2
	}

	layers, err := policydoc.Load(*policyPath)
	if err != nil {
		fmt.Fprintf(stderr, "failcore: %v\n", err)
		return 1
	}
	registry, err := loadRegistry(*rulesPath)
	if err != nil {
		fmt.Fprintf(stderr, "failcore: %v\n", err)
		return 1
	}
	steps, err := loadSteps(*stepsPath)
	if err != nil {
		fmt.Fprintf(stderr, "failcore: %v\n", err)
		return 1
	}

	sink, err := tracesink.NewFileSink(*tracePath)
	if err != nil {
		fmt.Fprintf(stderr, "failcore: open trace sink: %v\n", err)
		return 1
	}
	ts := tracesink.New(sink, cfg.TraceQueueCap)
	defer ts.Close()

	ctx := context.Background()
	tel, err := newTelemetryProvider(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "failcore: telemetry: %v\n", err)
		return 1
	}
	defer tel.Shutdown(ctx)

	eng, cg := buildEngine(registry, cfg, tel)
	g := gate.New(eng)

	r, err := run.Start(run.Config{
		RunID:        *runID,
		PolicyName:   layers.Active.Version,
		PolicyHash:   layers.Active.Version,
		Gate:         g,
		Sink:         ts,
		Layers:       layers,
		Telemetry:    tel,
		ReplayCache:  replay.NewCache(cfg.ReplayCacheSize, cfg.ReplayCacheTTL),
		CostGuardian: cg,
		Budget:       budgetFromConfig(cfg),
	})
	if err != nil {
		fmt.Fprintf(stderr, "failcore: start run: %v\n", err)
		return 1
	}

	status := contracts.RunStatusSuccess
	for i, rc := range steps {
		v, err := r.Attempt(ctx, rc)
		if err != nil {
			fmt.Fprintf(stderr, "failcore: step %d attempt: %v\n", i, err)
			status = contracts.RunStatusFailed
			break
		}
		fmt.Fprintf(stdout, "step %d (%s): %s\n", i, rc.Tool, v.Decision)
		if v.Decision == contracts.DecisionBlock {
			status = contracts.RunStatusBlocked
			break
		}
	}
	r.End(status, map[string]any{"steps": len(steps)})

	fmt.Fprintf(stdout, "run %s finished: %s\n", *runID, status)
	if status != contracts.RunStatusSuccess {
		return 1
	}
	return 0
}

func loadSteps(path string) ([]*contracts.ContextV1, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read steps: %w", err)
	}
	var steps []*contracts.ContextV1
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("parse steps: %w", err)
	}
	for _, rc := range steps {
		if rc.Metadata.Timestamp.IsZero() {
			rc.Metadata.Timestamp = time.Now().UTC()
		}
	}
	return steps, nil
}
