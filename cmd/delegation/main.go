package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"

	"github.com/taskmesh/delegation/internal/assignment"
	"github.com/taskmesh/delegation/internal/worker"
)

var (
	app = kingpin.New("delegation", "Task delegation client for the delegation server")

	// Worker commands
	registerCmd    = app.Command("register", "Register a new worker")
	registerID     = registerCmd.Arg("worker-id", "Worker ID").Required().String()
	registerName   = registerCmd.Flag("name", "Display name").String()
	registerType   = registerCmd.Flag("type", "Worker type (human or agent)").Default("human").String()
	registerSkills = registerCmd.Flag("skill", "Skill tag (repeatable)").Strings()
	registerMax    = registerCmd.Flag("max", "Maximum concurrent assignments").Default("1").Int()

	workersCmd       = app.Command("workers", "List registered workers")
	workersType      = workersCmd.Flag("type", "Filter by worker type").String()
	workersSkill     = workersCmd.Flag("skill", "Filter by skill").String()
	workersAvailable = workersCmd.Flag("available", "Only workers with free capacity").Bool()

	disableCmd = app.Command("disable", "Disable a worker")
	disableID  = disableCmd.Arg("worker-id", "Worker ID").Required().String()

	enableCmd = app.Command("enable", "Enable a worker")
	enableID  = enableCmd.Arg("worker-id", "Worker ID").Required().String()

	suggestCmd    = app.Command("suggest", "Suggest workers for a task")
	suggestType   = suggestCmd.Flag("type", "Restrict to a worker type").String()
	suggestSkills = suggestCmd.Flag("skill", "Desired skill (repeatable)").Strings()

	// Assignment commands
	delegateCmd      = app.Command("delegate", "Delegate a task to a worker")
	delegateTaskID   = delegateCmd.Arg("task-id", "Task ID").Required().String()
	delegateWorkerID = delegateCmd.Arg("worker-id", "Worker ID").Required().String()
	delegateEffort   = delegateCmd.Flag("effort", "Estimated effort (e.g. 90m, 1d2h)").Required().String()

	acceptCmd = app.Command("accept", "Accept a pending assignment")
	acceptID  = acceptCmd.Arg("assignment-id", "Assignment ID").Required().String()

	completeCmd    = app.Command("complete", "Complete an in-progress assignment")
	completeID     = completeCmd.Arg("assignment-id", "Assignment ID").Required().String()
	completeEffort = completeCmd.Flag("effort", "Actual effort spent").Required().String()

	cancelCmd = app.Command("cancel", "Cancel an assignment")
	cancelID  = cancelCmd.Arg("assignment-id", "Assignment ID").Required().String()

	showCmd = app.Command("show", "Show assignment details")
	showID  = showCmd.Arg("assignment-id", "Assignment ID").Required().String()

	assignmentsCmd    = app.Command("assignments", "List assignments")
	assignmentsWorker = assignmentsCmd.Flag("worker", "Filter by worker ID").String()
	assignmentsTask   = assignmentsCmd.Flag("task", "Filter by task ID").String()
	assignmentsStatus = assignmentsCmd.Flag("status", "Filter by status").String()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	serverURL := os.Getenv("DELEGATION_SERVER_URL")
	if serverURL == "" {
		serverURL = "http://localhost:3200"
	}
	apiKey := os.Getenv("DELEGATION_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "DELEGATION_API_KEY is required")
		os.Exit(1)
	}

	cli := newClient(strings.TrimRight(serverURL, "/"), apiKey)
	ctx := context.Background()

	var err error
	switch command {
	case registerCmd.FullCommand():
		err = runRegister(ctx, cli)
	case workersCmd.FullCommand():
		err = runWorkers(ctx, cli)
	case disableCmd.FullCommand():
		err = runSetDisabled(ctx, cli, *disableID, true)
	case enableCmd.FullCommand():
		err = runSetDisabled(ctx, cli, *enableID, false)
	case suggestCmd.FullCommand():
		err = runSuggest(ctx, cli)
	case delegateCmd.FullCommand():
		err = runDelegate(ctx, cli)
	case acceptCmd.FullCommand():
		err = runAccept(ctx, cli)
	case completeCmd.FullCommand():
		err = runComplete(ctx, cli)
	case cancelCmd.FullCommand():
		err = runCancel(ctx, cli)
	case showCmd.FullCommand():
		err = runShow(ctx, cli)
	case assignmentsCmd.FullCommand():
		err = runAssignments(ctx, cli)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("error:"), err)
		os.Exit(1)
	}
}

func runRegister(ctx context.Context, cli *client) error {
	c, err := cli.registerWorker(ctx, &worker.RegisterRequest{
		WorkerID:                 *registerID,
		DisplayName:              *registerName,
		WorkerType:               worker.Type(*registerType),
		Skills:                   *registerSkills,
		MaxConcurrentAssignments: *registerMax,
	})
	if err != nil {
		return err
	}
	fmt.Printf("registered %s\n", color.CyanString(c.ID))
	printWorker(c)
	return nil
}

func runWorkers(ctx context.Context, cli *client) error {
	workers, err := cli.listWorkers(ctx, *workersType, *workersSkill, *workersAvailable)
	if err != nil {
		return err
	}
	if len(workers) == 0 {
		fmt.Println("no workers")
		return nil
	}
	for _, c := range workers {
		printWorker(c)
	}
	return nil
}

func runSetDisabled(ctx context.Context, cli *client, workerID string, disabled bool) error {
	c, err := cli.setWorkerDisabled(ctx, workerID, disabled)
	if err != nil {
		return err
	}
	state := "enabled"
	if c.Disabled {
		state = "disabled"
	}
	fmt.Printf("%s is now %s\n", color.CyanString(c.ID), state)
	return nil
}

func runSuggest(ctx context.Context, cli *client) error {
	suggestions, err := cli.suggest(ctx, *suggestType, strings.Join(*suggestSkills, ","))
	if err != nil {
		return err
	}
	if len(suggestions) == 0 {
		fmt.Println("no candidates")
		return nil
	}
	for _, s := range suggestions {
		fmt.Printf("%s  matches=%d  load=%.2f\n",
			color.CyanString("%-20s", s.Worker.ID), s.SkillMatches, s.LoadRatio)
	}
	return nil
}

func runDelegate(ctx context.Context, cli *client) error {
	a, err := cli.delegate(ctx, *delegateTaskID, *delegateWorkerID, *delegateEffort)
	if err != nil {
		return err
	}
	fmt.Printf("delegated %s to %s\n", *delegateTaskID, color.CyanString(a.WorkerID))
	printAssignment(a)
	return nil
}

func runAccept(ctx context.Context, cli *client) error {
	a, err := cli.accept(ctx, *acceptID)
	if err != nil {
		return err
	}
	printAssignment(a)
	return nil
}

func runComplete(ctx context.Context, cli *client) error {
	a, err := cli.complete(ctx, *completeID, *completeEffort)
	if err != nil {
		return err
	}
	printAssignment(a)
	return nil
}

func runCancel(ctx context.Context, cli *client) error {
	a, err := cli.cancel(ctx, *cancelID)
	if err != nil {
		return err
	}
	printAssignment(a)
	return nil
}

func runShow(ctx context.Context, cli *client) error {
	a, err := cli.getAssignment(ctx, *showID)
	if err != nil {
		return err
	}
	printAssignment(a)
	return nil
}

func runAssignments(ctx context.Context, cli *client) error {
	assignments, err := cli.listAssignments(ctx, *assignmentsWorker, *assignmentsTask, *assignmentsStatus)
	if err != nil {
		return err
	}
	if len(assignments) == 0 {
		fmt.Println("no assignments")
		return nil
	}
	for _, a := range assignments {
		fmt.Printf("%s  %-12s  task=%s  worker=%s\n",
			color.CyanString(a.ID), statusColor(a.Status), a.TaskID, a.WorkerID)
	}
	return nil
}

func printWorker(c *worker.Capability) {
	state := ""
	if c.Disabled {
		state = "  " + color.RedString("disabled")
	}
	fmt.Printf("%s  %-6s  load=%d/%d  skills=[%s]%s\n",
		color.CyanString("%-20s", c.ID), c.Type,
		c.CurrentLoad, c.MaxConcurrentAssignments,
		strings.Join(c.Skills, ", "), state)
}

func printAssignment(a *assignment.Assignment) {
	fmt.Printf("assignment: %s\n", color.CyanString(a.ID))
	fmt.Printf("  task:       %s\n", a.TaskID)
	fmt.Printf("  worker:     %s\n", a.WorkerID)
	fmt.Printf("  status:     %s\n", statusColor(a.Status))
	fmt.Printf("  estimated:  %s\n", a.EstimatedEffort)
	if a.ActualEffort != nil {
		fmt.Printf("  actual:     %s\n", *a.ActualEffort)
	}
	fmt.Printf("  assigned:   %s\n", a.AssignedAt.Local().Format("2006-01-02 15:04:05"))
	if a.AcceptedAt != nil {
		fmt.Printf("  accepted:   %s\n", a.AcceptedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if a.CompletedAt != nil {
		fmt.Printf("  completed:  %s\n", a.CompletedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if a.CancelledAt != nil {
		fmt.Printf("  cancelled:  %s\n", a.CancelledAt.Local().Format("2006-01-02 15:04:05"))
	}
}

func statusColor(s assignment.Status) string {
	switch s {
	case assignment.StatusPending:
		return color.YellowString(string(s))
	case assignment.StatusInProgress:
		return color.BlueString(string(s))
	case assignment.StatusCompleted:
		return color.GreenString(string(s))
	case assignment.StatusCancelled:
		return color.RedString(string(s))
	default:
		return string(s)
	}
}
