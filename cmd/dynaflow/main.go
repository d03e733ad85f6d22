// Command dynaflow validates, runs and schedules workflow plans.
//
// Usage:
//
//	dynaflow run <plan.json> [--mock]
//	dynaflow validate <plan.json>
//	dynaflow save <plan.json>
//	dynaflow plans
//	dynaflow executions
//	dynaflow schedule <workflow_id> <cron_expression> [--mock]
//	dynaflow scheduler
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nvoss/dynaflow/internal/engine"
	"github.com/nvoss/dynaflow/internal/handlers"
	"github.com/nvoss/dynaflow/internal/logging"
	"github.com/nvoss/dynaflow/internal/plugins"
	"github.com/nvoss/dynaflow/internal/resolver"
	"github.com/nvoss/dynaflow/internal/scheduler"
	"github.com/nvoss/dynaflow/internal/store"
	"github.com/nvoss/dynaflow/internal/validation"
	"github.com/nvoss/dynaflow/pkg/schema"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg := loadConfig()
	logger := slog.New(logging.NewCorrelationHandler(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})))
	slog.SetDefault(logger)

	app, err := newApp(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer app.store.Close()

	ctx := context.Background()
	if err := app.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: dynaflow <command> [args]

commands:
  run <plan.json> [--mock]                   execute a plan and print the result
  validate <plan.json>                       check a plan against the schema
  save <plan.json>                           store a plan, printing its workflow_id
  plans                                      list stored plans
  executions                                 list recent executions
  schedule <workflow_id> <cron_expr> [--mock]  register a recurring run
  scheduler                                  run the schedule loop until interrupted`)
}

// app holds the wired components shared by all commands.
type app struct {
	cfg       Config
	logger    *slog.Logger
	store     store.Store
	validator *validation.PlanValidator
	executor  *engine.Executor
	scheduler *scheduler.Scheduler
}

func newApp(cfg Config, logger *slog.Logger) (*app, error) {
	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(context.Background()); err != nil {
		_ = st.Close()
		return nil, err
	}

	validator, err := validation.NewPlanValidator()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	registry := plugins.NewRegistry()
	if err := registry.Register(plugins.NewWeatherPlugin()); err != nil {
		_ = st.Close()
		return nil, err
	}

	res := resolver.New(
		resolver.WithLogger(logger),
		resolver.WithStrict(cfg.Strict),
	)
	dispatcher := handlers.NewDispatcher(res, registry, handlers.WithLogger(logger))
	executor := engine.NewExecutor(dispatcher, engine.WithLogger(logger))

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		validator: validator,
		executor:  executor,
		scheduler: scheduler.NewScheduler(st, executor, logger),
	}, nil
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "run":
		return a.cmdRun(ctx, args)
	case "validate":
		return a.cmdValidate(args)
	case "save":
		return a.cmdSave(ctx, args)
	case "plans", "list":
		return a.cmdPlans(ctx)
	case "executions":
		return a.cmdExecutions(ctx)
	case "schedule":
		return a.cmdSchedule(ctx, args)
	case "scheduler":
		return a.cmdScheduler(ctx)
	default:
		usage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

func (a *app) cmdRun(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("run: missing plan file")
	}
	plan, err := loadPlan(args[0])
	if err != nil {
		return err
	}
	if hasFlag(args[1:], "--mock") {
		plan.Mode = schema.ModeMock
	}
	if err := a.validator.ValidatePlan(plan); err != nil {
		return err
	}

	exec, err := a.executor.Run(ctx, plan)
	if err != nil {
		return err
	}
	if err := a.store.SaveExecution(ctx, exec); err != nil {
		a.logger.Error("failed to save execution", slog.String("error", err.Error()))
	}

	return printJSON(exec)
}

func (a *app) cmdValidate(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("validate: missing plan file")
	}
	plan, err := loadPlan(args[0])
	if err != nil {
		return err
	}
	if err := a.validator.ValidatePlan(plan); err != nil {
		return err
	}
	fmt.Printf("plan %q is valid (%d steps)\n", plan.Name, len(plan.Steps))
	return nil
}

func (a *app) cmdSave(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("save: missing plan file")
	}
	plan, err := loadPlan(args[0])
	if err != nil {
		return err
	}
	if err := a.validator.ValidatePlan(plan); err != nil {
		return err
	}
	id, err := a.store.SavePlan(ctx, plan)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func (a *app) cmdPlans(ctx context.Context) error {
	plans, err := a.store.ListPlans(ctx, 50)
	if err != nil {
		return err
	}
	for _, p := range plans {
		fmt.Printf("%s\t%s\t%d steps\n", p.WorkflowID, p.Name, len(p.Steps))
	}
	return nil
}

func (a *app) cmdExecutions(ctx context.Context) error {
	execs, err := a.store.ListExecutions(ctx, 50)
	if err != nil {
		return err
	}
	for _, e := range execs {
		line := fmt.Sprintf("%s\t%s\t%s\t%s", e.ExecutionID, e.WorkflowID, e.Status,
			e.StartedAt.Format(time.RFC3339))
		if e.Error != "" {
			line += "\t" + e.Error
		}
		fmt.Println(line)
	}
	return nil
}

func (a *app) cmdSchedule(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("schedule: expected <workflow_id> <cron_expression>")
	}
	workflowID, cronExpr := args[0], args[1]

	// The plan must exist and the expression must parse before storing.
	if _, err := a.store.GetPlan(ctx, workflowID); err != nil {
		return err
	}
	next, err := a.scheduler.CalculateNextRun(cronExpr, time.Now().UTC())
	if err != nil {
		return err
	}

	sched := &schema.Schedule{
		WorkflowID:     workflowID,
		CronExpression: cronExpr,
		Enabled:        true,
		NextRunAt:      &next,
	}
	if hasFlag(args[2:], "--mock") {
		sched.Mode = schema.ModeMock
	}
	if err := a.store.CreateSchedule(ctx, sched); err != nil {
		return err
	}
	fmt.Printf("%s\tnext run %s\n", sched.ID, next.Format(time.RFC3339))
	return nil
}

func (a *app) cmdScheduler(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return a.scheduler.Stop()
}

func loadPlan(path string) (*schema.WorkflowPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	var plan schema.WorkflowPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	return &plan, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}
