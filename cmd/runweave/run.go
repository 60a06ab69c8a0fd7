package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/runweave/runweave/internal/engine"
	"github.com/runweave/runweave/internal/logger"
	"github.com/runweave/runweave/internal/plan"
	"github.com/runweave/runweave/internal/run"
	"github.com/runweave/runweave/internal/runstore/inmem"
	"github.com/runweave/runweave/internal/service"
	"github.com/runweave/runweave/internal/tool"
)

type runCmdFlags struct {
	mode        string
	answersFile string
	approveAll  bool
	user        string
	budget      float64
}

func newRunCmd(root *rootFlags, log *logger.Logger, registry *tool.Registry) *cobra.Command {
	flags := &runCmdFlags{}

	cmd := &cobra.Command{
		Use:   "run <plan-file>",
		Short: "Execute a plan file",
		Long: `Execute a YAML plan file. PREVIEW resolves the plan and prints the diff
without calling any tool; APPROVAL pauses before high-risk steps; AUTO runs
everything. Answers to plan questions can be supplied with --answers.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, args[0], flags, root, log, registry)
		},
	}

	cmd.Flags().StringVarP(&flags.mode, "mode", "m", string(run.ModePreview), "Execution mode: PREVIEW, APPROVAL or AUTO")
	cmd.Flags().StringVar(&flags.answersFile, "answers", "", "YAML file with answers to plan questions")
	cmd.Flags().BoolVarP(&flags.approveAll, "yes", "y", false, "Approve all gated steps without prompting")
	cmd.Flags().StringVar(&flags.user, "user", "", "User id attached to the run")
	cmd.Flags().Float64Var(&flags.budget, "budget", 0, "Cost budget; runs pause before exceeding it")

	return cmd
}

func runPlan(cmd *cobra.Command, path string, flags *runCmdFlags, root *rootFlags, log *logger.Logger, registry *tool.Registry) error {
	log = commandLogger(root, log)

	p, err := plan.ParseFile(path)
	if err != nil {
		return err
	}

	answers, err := loadAnswers(flags.answersFile)
	if err != nil {
		return err
	}

	svc, err := service.New(service.Config{
		Store:    inmem.New(),
		StepLogs: inmem.NewLogStore(),
		Registry: registry,
		Logger:   log,
		Engine:   engine.Options{},
	})
	if err != nil {
		return err
	}

	req := service.StartRequest{
		Input:  run.Input{Prompt: fmt.Sprintf("run %s", path)},
		Mode:   run.Mode(strings.ToUpper(flags.mode)),
		Plan:   p,
		UserID: flags.user,
	}
	if flags.budget > 0 {
		budget := flags.budget
		req.Budget = &budget
	}

	ctx := cmd.Context()
	state, err := svc.Start(ctx, req)
	if err != nil {
		return err
	}

	for !state.Status.Terminal() {
		switch state.Status {
		case run.StatusAwaitingInput:
			if len(answers) == 0 {
				printQuestions(cmd, state)
				return fmt.Errorf("run %s needs answers; provide them with --answers", state.Ctx.RunID)
			}
			state, err = svc.SubmitAnswers(ctx, state.Ctx.RunID, answers)
			answers = nil

		case run.StatusAwaitingApproval:
			if !flags.approveAll {
				printPendingApprovals(cmd, state)
				return fmt.Errorf("run %s needs approval; re-run with --yes to approve", state.Ctx.RunID)
			}
			state, err = svc.Approve(ctx, state.Ctx.RunID, nil)

		default:
			return fmt.Errorf("run %s stalled in status %s", state.Ctx.RunID, state.Status)
		}
		if err != nil {
			return err
		}
	}

	printOutcome(cmd, state)
	if state.Status == run.StatusFailed {
		return fmt.Errorf("run failed: %s", state.Error)
	}
	return nil
}

func commandLogger(root *rootFlags, log *logger.Logger) *logger.Logger {
	if !root.verbose {
		return log
	}
	verbose, err := logger.New(logger.Options{Level: "debug", HumanReadable: true})
	if err != nil {
		return log
	}
	return verbose
}

func loadAnswers(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading answers file: %w", err)
	}
	var answers map[string]any
	if err := yaml.Unmarshal(data, &answers); err != nil {
		return nil, fmt.Errorf("parsing answers file: %w", err)
	}
	return answers, nil
}

func printQuestions(cmd *cobra.Command, state run.State) {
	cmd.Println("The plan needs more information:")
	if state.Output.Awaiting == nil {
		return
	}
	for _, q := range state.Output.Awaiting.Questions {
		line := fmt.Sprintf("  %s (%s): %s", q.Key, q.Type, q.Prompt)
		if len(q.Options) > 0 {
			line += fmt.Sprintf(" [%s]", strings.Join(q.Options, ", "))
		}
		cmd.Println(line)
	}
}

func printPendingApprovals(cmd *cobra.Command, state run.State) {
	cmd.Println("Steps awaiting approval:")
	if state.Output.Awaiting == nil {
		return
	}
	for _, id := range state.Output.Awaiting.StepIDs {
		cmd.Printf("  %s\n", id)
	}
}

func printOutcome(cmd *cobra.Command, state run.State) {
	if state.Output.Diff != "" && state.Mode == run.ModePreview {
		cmd.Println("Planned steps:")
		cmd.Print(state.Output.Diff)
	}

	cmd.Printf("Run %s: %s\n", state.Ctx.RunID, state.Status)
	if state.Output.Summary != "" {
		cmd.Println(state.Output.Summary)
	}

	for _, commit := range state.Output.Commits {
		cmd.Printf("  committed %s (%s) in %s\n", commit.StepID, commit.Tool, commit.Duration)
	}
	if len(state.Output.Undo) > 0 {
		cmd.Printf("  %d undo descriptor(s) recorded\n", len(state.Output.Undo))
	}
}
