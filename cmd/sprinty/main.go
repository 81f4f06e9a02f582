// Command sprinty is the thin CLI shim over the orchestrator core: init, run,
// status, backlog, metrics, and --reset-circuit. Grounded on the teacher's
// cmd/maestro/main.go stdlib-flag subcommand dispatch — no cobra, matching
// the teacher's own choice for this binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"sprinty/internal/agentdriver"
	"sprinty/internal/agentflavor"
	"sprinty/internal/agentflavor/apiflavors"
	"sprinty/internal/agentstatus"
	"sprinty/internal/audit"
	"sprinty/internal/backlog"
	"sprinty/internal/breaker"
	"sprinty/internal/cfg"
	"sprinty/internal/donedetector"
	"sprinty/internal/layout"
	"sprinty/internal/logx"
	"sprinty/internal/metricspkg"
	"sprinty/internal/orchestrator"
	"sprinty/internal/promptkit"
	"sprinty/internal/ratelimit"
	"sprinty/internal/sprint"
	"sprinty/internal/sprintyerr"
	"sprinty/internal/tokenbudget"
	"sprinty/internal/vcsdiff"
)

var log = logx.NewLogger("cli")

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 1
	}

	switch args[0] {
	case "--help", "-h", "help":
		printUsage()
		return 0
	case "init":
		return cmdInit(args[1:])
	case "run":
		return cmdRun(args[1:])
	case "status":
		return cmdStatus(args[1:])
	case "backlog":
		return cmdBacklog(args[1:])
	case "metrics":
		return cmdMetrics(args[1:])
	case "--reset-circuit":
		return cmdResetCircuit(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "sprinty: unknown command %q\n", args[0])
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `sprinty — drives an agent CLI through a sprint/phase state machine.

Usage:
  sprinty init <project> [--prd <file>]
  sprinty run
  sprinty status [--check-done]
  sprinty backlog list
  sprinty backlog add --title T [--type feature|bug|spike|infra|chore] [--priority N] [--points N]
  sprinty metrics [--history N]
  sprinty --reset-circuit
  sprinty --help
`)
}

// cmdInit implements `sprinty init <project> [--prd <file>]`: writes
// config.json (optionally merged from a sprinty.yaml bootstrap) and an empty
// backlog.json.
func cmdInit(args []string) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	prd := fs.String("prd", "", "optional path to a product-requirements document to seed the backlog from")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "sprinty init: missing <project> argument")
		return 1
	}
	projectName := fs.Arg(0)
	p := layout.New(".")

	bootstrap := p.BootstrapYAML()
	if _, err := os.Stat(bootstrap); err != nil {
		bootstrap = ""
	}
	if _, err := cfg.Init(p.ConfigJSON(), projectName, bootstrap); err != nil {
		fmt.Fprintf(os.Stderr, "sprinty init: %v\n", err)
		return 1
	}

	bl, err := backlog.New(p.BacklogJSON())
	if err != nil {
		fmt.Fprintf(os.Stderr, "sprinty init: %v\n", err)
		return 1
	}
	if err := bl.Init(projectName); err != nil {
		fmt.Fprintf(os.Stderr, "sprinty init: %v\n", err)
		return 1
	}

	if *prd != "" {
		log.Info("project %q initialized; PRD %q provided but backlog seeding from a PRD requires an agent planning pass via `sprinty run`", projectName, *prd)
	}

	if term.IsTerminal(int(os.Stdin.Fd())) {
		if key := os.Getenv("SPRINTY_AGENT_API_KEY"); key == "" {
			fmt.Fprint(os.Stderr, "No SPRINTY_AGENT_API_KEY found in the environment.\nEnter an API key to store for this session (leave blank to skip): ")
			raw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
			if err == nil && len(raw) > 0 {
				_ = os.Setenv("SPRINTY_AGENT_API_KEY", string(raw))
			}
		}
	}

	fmt.Printf("initialized sprinty project %q (run id %s)\n", projectName, uuid.New().String())
	return 0
}

type coreStack struct {
	paths   layout.Paths
	cfg     *cfg.Store
	backlog *backlog.Engine
	sprint  *sprint.Machine
	breaker *breaker.Breaker
	limiter *ratelimit.Limiter
	status  *agentstatus.Store
	done    *donedetector.Detector
	vcs     *vcsdiff.Detector
	metrics *metricspkg.Recorder
	audit   *audit.Log
}

func openCoreStack() (*coreStack, error) {
	p := layout.New(".")

	cs, err := cfg.Load(p.ConfigJSON())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cs.Get().ProjectName == "" {
		return nil, fmt.Errorf("project not initialized; run `sprinty init <project>` first")
	}
	c := cs.Get()

	bl, err := backlog.New(p.BacklogJSON())
	if err != nil {
		return nil, err
	}
	sm, err := sprint.New(p.SprintStateJSON(), c.SprintMachineConfig())
	if err != nil {
		return nil, err
	}
	br, err := breaker.New(p.CircuitBreakerState(), c.BreakerMachineConfig())
	if err != nil {
		return nil, err
	}
	rl, err := ratelimit.New(p.RateLimitState(), c.RateLimit.MaxCallsPerHour)
	if err != nil {
		return nil, err
	}
	st, err := agentstatus.New(p.StatusJSON())
	if err != nil {
		return nil, err
	}
	dd, err := donedetector.New(p.ExitSignals(), p.FixPlan(), donedetector.DefaultConfig())
	if err != nil {
		return nil, err
	}
	vcs := vcsdiff.New(".", p.ManifestJSON())
	metrics := metricspkg.New()

	al, err := audit.Open(p.AuditDB())
	if err != nil {
		return nil, err
	}

	return &coreStack{
		paths: p, cfg: cs, backlog: bl, sprint: sm, breaker: br,
		limiter: rl, status: st, done: dd, vcs: vcs, metrics: metrics, audit: al,
	}, nil
}

// cmdRun implements `sprinty run`: builds the full orchestrator and drives it
// to completion or a terminal halt, honoring SIGINT/SIGTERM as a cancellation
// signal rather than an abrupt kill.
func cmdRun(args []string) int {
	cs, err := openCoreStack()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sprinty run: %v\n", err)
		return 1
	}
	defer cs.audit.Close()

	cfgVal := cs.cfg.Get()

	registry := agentflavor.NewRegistry()
	apiflavors.RegisterAll(registry)
	flavor, err := registry.Get(cfgVal.Agent.Flavor)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sprinty run: %v\n", err)
		return 1
	}

	renderer, err := promptkit.NewRenderer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sprinty run: %v\n", err)
		return 1
	}
	tokens, err := tokenbudget.NewCounter()
	if err != nil {
		log.Warn("token counter unavailable, falling back to character estimate: %v", err)
		tokens = nil
	}

	driver := agentdriver.New(flavor, renderer, cs.status, tokens, agentdriver.Config{
		Model:           cfgVal.Agent.Model,
		MaxRetries:      cfgVal.Agent.MaxRetries,
		BaseDelay:       secondsToDuration(cfgVal.Agent.BaseDelaySec),
		Timeout:         secondsToDuration(cfgVal.Agent.TimeoutSec),
		MaxPromptTokens: cfgVal.Agent.MaxPromptTokens,
		InContainer:     os.Getenv("SPRINTY_IN_CONTAINER") == "true",
		EnvTag:          envTag(),
	})

	o := orchestrator.New(orchestrator.Deps{
		Backlog:     cs.backlog,
		Sprint:      cs.sprint,
		Breaker:     cs.breaker,
		RateLimit:   cs.limiter,
		Driver:      driver,
		Status:      cs.status,
		DoneDetect:  cs.done,
		VCS:         cs.vcs,
		Metrics:     cs.metrics,
		Audit:       cs.audit,
		Log:         logx.NewLogger("orchestrator"),
		MetricsPath: cs.paths.MetricsJSON(),
		OutputDir:   cs.paths.AgentOutputDir(),
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	outcome, err := o.Run(ctx)
	if err != nil {
		kind := sprintyerr.KindOf(err)
		fmt.Fprintf(os.Stderr, "sprinty run: halted after %d loop(s): %v\n", outcome.Loops, err)
		if kind.Terminal() {
			return kind.ExitCode()
		}
		return 1
	}
	fmt.Printf("sprinty run: exited after %d loop(s): %s\n", outcome.Loops, outcome.ExitReason)
	return outcome.ExitCode
}

// cmdStatus implements `sprinty status [--check-done]`: prints the current
// sprint/phase/backlog summary, or with --check-done, just evaluates the done
// detector's current signal state and exits 0/1 accordingly without running
// any agent.
func cmdStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	checkDone := fs.Bool("check-done", false, "only report whether the project would exit, without running")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cs, err := openCoreStack()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sprinty status: %v\n", err)
		return 1
	}
	defer cs.audit.Close()

	backlogComplete, err := cs.backlog.IsBacklogComplete()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sprinty status: %v\n", err)
		return 1
	}
	sprintState, err := cs.sprint.Current()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sprinty status: %v\n", err)
		return 1
	}

	if *checkDone {
		reason, exit, err := cs.done.ShouldExit(donedetector.LoopObservation{
			BacklogComplete: backlogComplete,
			FinalQAPassed:   sprintState.FinalQAStatus == sprint.FinalQAPassed,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "sprinty status: %v\n", err)
			return 1
		}
		if exit {
			fmt.Printf("done: %s\n", reason)
			return 0
		}
		fmt.Println("not done")
		return 1
	}

	banner := plainBanner
	if term.IsTerminal(int(os.Stdout.Fd())) {
		banner = boxedBanner
	}
	banner(cs, sprintState, backlogComplete)
	return 0
}

func plainBanner(cs *coreStack, s sprint.State, backlogComplete bool) {
	fmt.Printf("project: %s\n", cs.cfg.Get().ProjectName)
	fmt.Printf("sprint: %d  phase: %s  loop: %d  rework: %d\n", s.CurrentSprint, s.CurrentPhase, s.PhaseLoopCount, s.ReworkCount)
	fmt.Printf("final_qa_status: %s (attempts %d)\n", s.FinalQAStatus, s.FinalQAAttempts)
	fmt.Printf("backlog_complete: %v\n", backlogComplete)
}

func boxedBanner(cs *coreStack, s sprint.State, backlogComplete bool) {
	fmt.Println("┌─────────────────────────────────────────┐")
	fmt.Printf("│ %-41s │\n", cs.cfg.Get().ProjectName)
	fmt.Println("├─────────────────────────────────────────┤")
	fmt.Printf("│ sprint %-4d phase %-15s loop %-4d │\n", s.CurrentSprint, s.CurrentPhase, s.PhaseLoopCount)
	fmt.Printf("│ rework %-4d final_qa %-10s attempts %-2d │\n", s.ReworkCount, s.FinalQAStatus, s.FinalQAAttempts)
	fmt.Printf("│ backlog_complete: %-24v │\n", backlogComplete)
	fmt.Println("└─────────────────────────────────────────┘")
}

// cmdBacklog implements `sprinty backlog {list,add}`.
func cmdBacklog(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "sprinty backlog: expected a subcommand, list or add")
		return 1
	}
	cs, err := openCoreStack()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sprinty backlog: %v\n", err)
		return 1
	}
	defer cs.audit.Close()

	switch args[0] {
	case "list":
		return backlogList(cs)
	case "add":
		return backlogAdd(cs, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "sprinty backlog: unknown subcommand %q\n", args[0])
		return 1
	}
}

func backlogList(cs *coreStack) int {
	items, err := cs.backlog.All()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sprinty backlog list: %v\n", err)
		return 1
	}
	for _, it := range items {
		sprintID := "-"
		if it.SprintID != nil {
			sprintID = fmt.Sprintf("%d", *it.SprintID)
		}
		fmt.Printf("%-10s %-8s %-16s sprint=%-3s pts=%-3d pri=%-3d %s\n",
			it.ID, it.Status, it.Type, sprintID, it.StoryPoints, it.Priority, it.Title)
	}
	return 0
}

func backlogAdd(cs *coreStack, args []string) int {
	fs := flag.NewFlagSet("backlog add", flag.ContinueOnError)
	title := fs.String("title", "", "work item title")
	typ := fs.String("type", "feature", "feature|bug|spike|infra|chore")
	priority := fs.Int("priority", 3, "priority, lower is more urgent")
	points := fs.Int("points", 1, "story points")
	desc := fs.String("description", "", "longer description")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *title == "" {
		fmt.Fprintln(os.Stderr, "sprinty backlog add: --title is required")
		return 1
	}

	item, err := cs.backlog.Add(backlog.AddRecord{
		Title:       *title,
		Type:        backlog.ItemType(*typ),
		Priority:    *priority,
		StoryPoints: *points,
		Description: *desc,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "sprinty backlog add: %v\n", err)
		return 1
	}
	fmt.Printf("added %s: %s\n", item.ID, item.Title)
	return 0
}

// cmdMetrics implements `sprinty metrics [--history N]`.
func cmdMetrics(args []string) int {
	fs := flag.NewFlagSet("metrics", flag.ContinueOnError)
	history := fs.Int("history", 0, "print the last N sqlite audit rows instead of the metrics.json snapshot")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cs, err := openCoreStack()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sprinty metrics: %v\n", err)
		return 1
	}
	defer cs.audit.Close()

	if *history > 0 {
		ctx := context.Background()
		rows, err := cs.audit.RecentHistory(ctx, *history)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sprinty metrics: %v\n", err)
			return 1
		}
		for _, r := range rows {
			fmt.Printf("loop=%-4d role=%-14s phase=%-16s sprint=%-3d class=%-18s attempt=%-2d exit=%-3d dur_ms=%-6d\n",
				r.LoopNumber, r.Role, r.Phase, r.SprintID, r.Classification, r.Attempt, r.ExitCode, r.DurationMS)
		}
		return 0
	}

	data, err := os.ReadFile(cs.paths.MetricsJSON())
	if err != nil {
		fmt.Fprintf(os.Stderr, "sprinty metrics: no metrics.json yet (run `sprinty run` first): %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

// cmdResetCircuit implements `sprinty --reset-circuit`.
func cmdResetCircuit(args []string) int {
	cs, err := openCoreStack()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sprinty --reset-circuit: %v\n", err)
		return 1
	}
	defer cs.audit.Close()

	doc, err := cs.breaker.Reset("manual reset via CLI")
	if err != nil {
		fmt.Fprintf(os.Stderr, "sprinty --reset-circuit: %v\n", err)
		return 1
	}
	fmt.Printf("circuit breaker reset to %s\n", doc.State)
	return 0
}

func secondsToDuration(n int) time.Duration { return time.Duration(n) * time.Second }

func envTag() string {
	if os.Getenv("SPRINTY_IN_CONTAINER") == "true" {
		return "container"
	}
	return "host"
}
