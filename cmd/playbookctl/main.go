// Command playbookctl is the engine's control surface: it loads a
// playbook from disk and drives it through the supervisor, exposing
// execute/validate/plan as subcommands plus a rules subcommand
// for managing the governance store directly.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/lancejames221b/playbook-engine/action"
	"github.com/lancejames221b/playbook-engine/awareness"
	"github.com/lancejames221b/playbook-engine/classify"
	"github.com/lancejames221b/playbook-engine/core"
	"github.com/lancejames221b/playbook-engine/playbook"
	"github.com/lancejames221b/playbook-engine/rules"
	"github.com/lancejames221b/playbook-engine/rules/seed"
	"github.com/lancejames221b/playbook-engine/steprunner"
	"github.com/lancejames221b/playbook-engine/supervisor"
	"github.com/lancejames221b/playbook-engine/telemetry"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := core.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "playbookctl: config: %v\n", err)
		os.Exit(1)
	}

	if cfg.Telemetry.Enabled {
		if err := telemetry.Initialize(telemetry.Config{
			Enabled:      true,
			ServiceName:  cfg.Telemetry.ServiceName,
			Endpoint:     cfg.Telemetry.Endpoint,
			Provider:     "otel",
			SamplingRate: cfg.Telemetry.SamplingRate,
		}); err != nil {
			cfg.Logger().Warn("telemetry init failed, continuing without it", map[string]interface{}{"error": err.Error()})
		}
	}

	var cmdErr error
	switch os.Args[1] {
	case "execute":
		cmdErr = runExecute(cfg, os.Args[2:])
	case "validate":
		cmdErr = runValidate(os.Args[2:])
	case "plan":
		cmdErr = runPlan(os.Args[2:])
	case "rules":
		cmdErr = runRules(cfg, os.Args[2:])
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "playbookctl: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	if cmdErr != nil {
		fmt.Fprintf(os.Stderr, "playbookctl: %v\n", cmdErr)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `playbookctl is the engine control surface.

Usage:
  playbookctl execute <playbook.yaml> [--params k=v,k2=v2] [--run-id id] [--dry-run]
  playbookctl validate <playbook.yaml>
  playbookctl plan <playbook.yaml>
  playbookctl rules list
  playbookctl rules activate <rule-id>
  playbookctl rules deactivate <rule-id>
  playbookctl rules export <file.json>
  playbookctl rules import <file.json>
  playbookctl rules seed-templates
  playbookctl rules expire-assignments

Execution has no separate daemon: SIGINT/SIGTERM cancel the in-flight
run at the next wave boundary. An approval gate is satisfied by typing
"yes" or "no" at the prompt it prints on stdin.`)
}

func loadPlaybook(path string) (*playbook.Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return playbook.Parse(data)
}

func runValidate(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: playbookctl validate <playbook.yaml>")
	}
	pb, err := loadPlaybook(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s: valid (%d steps)\n", pb.Name, len(pb.Steps))
	return nil
}

func runPlan(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: playbookctl plan <playbook.yaml>")
	}
	pb, err := loadPlaybook(args[0])
	if err != nil {
		return err
	}
	waves, err := playbook.Plan(pb)
	if err != nil {
		return err
	}
	for i, wave := range waves {
		fmt.Printf("wave %d: %s\n", i, strings.Join(wave, ", "))
	}
	return nil
}

func parseParams(raw string) map[string]interface{} {
	params := make(map[string]interface{})
	if raw == "" {
		return params
	}
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		params[kv[0]] = kv[1]
	}
	return params
}

func runExecute(cfg *core.Config, args []string) error {
	fs := flag.NewFlagSet("execute", flag.ExitOnError)
	params := fs.String("params", "", "comma-separated key=value playbook parameters")
	runID := fs.String("run-id", "", "run id (generated if omitted)")
	dryRun := fs.Bool("dry-run", false, "plan and log actions without executing them")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: playbookctl execute <playbook.yaml> [flags]")
	}

	pb, err := loadPlaybook(fs.Arg(0))
	if err != nil {
		return err
	}

	logger := cfg.Logger()
	pub := awareness.New(awareness.WithQueueSize(cfg.Awareness.QueueSize), awareness.WithLogger(logger))

	runner := steprunner.NewRunner(
		steprunner.WithExecutor(action.NewExecutor(
			action.WithHTTPTimeout(cfg.Playbook.HTTPTimeout),
			action.WithShellEnabled(cfg.Playbook.ShellEnabled),
			action.WithLogger(logger),
		)),
		steprunner.WithClassifier(classify.NewClassifier()),
		steprunner.WithApprovalHandler(steprunner.DefaultApprovalHandler),
		steprunner.WithEventSink(pub),
		steprunner.WithLogger(logger),
	)

	sup := supervisor.New(
		supervisor.WithRunner(runner),
		supervisor.WithMaxParallelSteps(cfg.Playbook.MaxParallelSteps),
		supervisor.WithLogger(logger),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	id := *runID
	if id == "" {
		id = uuid.New().String()
	}
	go func() {
		<-ctx.Done()
		_ = sup.CancelExecution(id)
	}()

	ec, err := sup.ExecutePlaybook(ctx, pb, parseParams(*params), id, *dryRun)
	if err != nil {
		return err
	}

	for stepAwaitingApproval(ec) {
		cancelled, err := resolvePendingApprovals(ctx, sup, ec)
		if err != nil {
			return err
		}
		if cancelled {
			break
		}
	}

	status, err := sup.GetExecutionStatus(ec.RunID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(status)
}

func stepAwaitingApproval(ec *playbook.ExecutionContext) bool {
	for _, state := range ec.StepStates() {
		if state == playbook.StepWaitingApproval {
			return true
		}
	}
	return false
}

// resolvePendingApprovals prompts on stdin for every step currently
// parked in WAITING_APPROVAL. An approval re-enqueues just that step via
// the supervisor's approve_step operation; there is no partial-deny
// operation, so a "no" answer cancels the whole run instead of leaving it
// stuck. Returns cancelled=true once the run has been cancelled this way.
func resolvePendingApprovals(ctx context.Context, sup *supervisor.Supervisor, ec *playbook.ExecutionContext) (cancelled bool, err error) {
	for stepID, state := range ec.StepStates() {
		if state != playbook.StepWaitingApproval {
			continue
		}
		fmt.Printf("step %s requires approval, approve? [yes/no]: ", stepID)
		var answer string
		fmt.Scanln(&answer)
		if !strings.EqualFold(strings.TrimSpace(answer), "yes") {
			return true, sup.CancelExecution(ec.RunID)
		}
		if err := sup.ApproveStep(ctx, ec.RunID, stepID, "operator"); err != nil {
			return false, err
		}
	}
	return false, nil
}

func runRules(cfg *core.Config, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: playbookctl rules <list|activate|deactivate|export|import|seed-templates|expire-assignments> [args]")
	}

	store, err := rules.Open(cfg.Rules.DBPath, rules.WithLogger(cfg.Logger()))
	if err != nil {
		return fmt.Errorf("open rule store %s: %w", cfg.Rules.DBPath, err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		return err
	}

	switch args[0] {
	case "list":
		active, err := store.ListActiveRules(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(active)
	case "activate":
		if len(args) != 2 {
			return fmt.Errorf("usage: playbookctl rules activate <rule-id>")
		}
		return store.SetStatus(ctx, args[1], rules.StatusActive)
	case "deactivate":
		if len(args) != 2 {
			return fmt.Errorf("usage: playbookctl rules deactivate <rule-id>")
		}
		return store.SetStatus(ctx, args[1], rules.StatusInactive)
	case "export":
		if len(args) != 2 {
			return fmt.Errorf("usage: playbookctl rules export <file.json>")
		}
		data, err := store.ExportJSON(ctx)
		if err != nil {
			return err
		}
		return os.WriteFile(args[1], data, 0o644)
	case "import":
		if len(args) != 2 {
			return fmt.Errorf("usage: playbookctl rules import <file.json>")
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		n, err := store.ImportJSON(ctx, data)
		if err != nil {
			return err
		}
		fmt.Printf("imported %d rules\n", n)
		return nil
	case "seed-templates":
		for _, tmpl := range seed.Templates() {
			if err := store.CreateTemplate(ctx, tmpl); err != nil {
				return fmt.Errorf("seed template %s: %w", tmpl.ID, err)
			}
		}
		fmt.Printf("seeded %d built-in templates\n", len(seed.Templates()))
		return nil
	case "expire-assignments":
		n, err := store.ExpireAssignments(ctx, time.Now())
		if err != nil {
			return err
		}
		fmt.Printf("expired %d assignments\n", n)
		return nil
	default:
		return fmt.Errorf("unknown rules subcommand %q", args[0])
	}
}
