// Package cmd wires the agent core into a command line interface.
package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/georgesalapa/micro-cc/agentloop"
	"github.com/georgesalapa/micro-cc/convstore"
	"github.com/georgesalapa/micro-cc/llm"
	"github.com/georgesalapa/micro-cc/logging"
	"github.com/georgesalapa/micro-cc/watcher"
)

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

type rootFlags struct {
	project       string
	provider      string
	model         string
	maxIterations int
	contextWindow int
	logLevel      string
	parallelTools bool
	autoApprove   bool
	noWatch       bool
	instructions  string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "micro-cc",
		Short:         "micro-cc runs coding directives against a project directory",
		Long:          "micro-cc turns a single instruction into a sequence of tool-mediated actions against a project's file tree, calling a completion service in a loop until the task is done.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.project, "project", "p", "", "project directory (default: current directory)")
	pf.StringVar(&flags.provider, "provider", "", "completion provider (default: first configured)")
	pf.StringVar(&flags.model, "model", "", "model identifier")
	pf.IntVar(&flags.maxIterations, "max-iterations", 50, "service round-trip ceiling per directive")
	pf.IntVar(&flags.contextWindow, "context-window", 200000, "model context window in tokens, used for usage warnings (0 disables)")
	pf.StringVar(&flags.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	pf.BoolVar(&flags.parallelTools, "parallel-tools", false, "dispatch tool calls within one turn concurrently")
	pf.BoolVarP(&flags.autoApprove, "yes", "y", false, "run dangerous tools without asking")
	pf.BoolVar(&flags.noWatch, "no-watch", false, "disable external change detection")
	pf.StringVar(&flags.instructions, "instructions", "", "extra instructions appended to the system prompt")

	rootCmd.AddCommand(
		newRunCmd(flags),
		newReplCmd(flags),
	)
	return rootCmd
}

// app bundles the wired components for one invocation.
type app struct {
	engine   *agentloop.Engine
	store    *convstore.Store
	detector *watcher.Detector
	client   *llm.Client
}

func (a *app) close() {
	if a.detector != nil {
		a.detector.Stop()
	}
	_ = a.client.Close()
}

// wireApp builds the engine from flags and environment. A missing
// completion-service credential is fatal here, before any directive runs.
func wireApp(cmd *cobra.Command, flags *rootFlags) (*app, error) {
	logging.Setup(os.Stderr, flags.logLevel)

	projectDir := flags.project
	if projectDir == "" {
		var err error
		projectDir, err = os.Getwd()
		if err != nil {
			return nil, err
		}
	}
	if info, err := os.Stat(projectDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("project directory %s does not exist", projectDir)
	}

	client := llm.NewClientFromEnv()
	providers := client.Providers()
	if len(providers) == 0 {
		return nil, fmt.Errorf("no completion-service credential found; set ANTHROPIC_API_KEY or OPENAI_API_KEY")
	}
	sort.Strings(providers)
	if flags.provider == "" {
		flags.provider = providers[0]
	}

	store, err := convstore.Open(projectDir)
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}

	var detector *watcher.Detector
	if !flags.noWatch {
		detector = watcher.New(projectDir)
		if err := detector.Start(cmd.Context()); err != nil {
			return nil, err
		}
	}

	registry := agentloop.NewRegistry()
	agentloop.RegisterCoreTools(registry)

	cfg := agentloop.DefaultConfig()
	cfg.Provider = flags.provider
	cfg.Model = flags.model
	cfg.MaxIterations = flags.maxIterations
	cfg.ContextWindow = flags.contextWindow
	cfg.ParallelTools = flags.parallelTools
	cfg.UserInstructions = flags.instructions
	if !flags.autoApprove {
		cfg.Approve = promptApproval(cmd)
	}

	engine := agentloop.New(client, store, registry, agentloop.NewEnv(projectDir), detector, cfg)
	return &app{engine: engine, store: store, detector: detector, client: client}, nil
}
