// Command agentd is the daemon entrypoint: thin Cobra wiring only, grounded
// on the teacher's cmd/cli/main.go and cmd/gateway/main.go. All decision
// logic lives in internal/orchestrator and its dependencies; this file just
// constructs them from config and runs one of three subcommands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iterflow/agent/internal/config"
	"github.com/iterflow/agent/internal/domain"
	"github.com/iterflow/agent/internal/evaluator"
	"github.com/iterflow/agent/internal/executor"
	"github.com/iterflow/agent/internal/llm"
	_ "github.com/iterflow/agent/internal/llm/anthropic"
	_ "github.com/iterflow/agent/internal/llm/openai"
	"github.com/iterflow/agent/internal/memory/decay"
	"github.com/iterflow/agent/internal/orchestrator"
	"github.com/iterflow/agent/internal/patterns"
	"github.com/iterflow/agent/internal/statewriter"
	"github.com/iterflow/agent/internal/store"
	"github.com/iterflow/agent/pkg/safego"
)

const daemonName = "agentd"

var (
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

func main() {
	var homeFlag string

	rootCmd := &cobra.Command{
		Use:   daemonName,
		Short: "self-iterating agent runtime daemon",
	}
	rootCmd.PersistentFlags().StringVar(&homeFlag, "home", "", "config/state home directory (default ~/.agentrc)")

	rootCmd.AddCommand(newRunCmd(&homeFlag))
	rootCmd.AddCommand(newMigrateCmd(&homeFlag))
	rootCmd.AddCommand(newMinePatternsCmd(&homeFlag))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		os.Exit(1)
	}
}

func newRunCmd(home *string) *cobra.Command {
	var model string
	cmd := &cobra.Command{
		Use:   "run <task description>",
		Short: "plan, execute, and evaluate one task to completion",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			description := args[0]
			for _, a := range args[1:] {
				description += " " + a
			}
			return runTask(*home, model, description)
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "model id override (defaults to the highest-priority configured provider's first model)")
	return cmd
}

func newMigrateCmd(home *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "apply any pending SQLite schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger("info")
			if err != nil {
				return err
			}
			defer logger.Sync()

			cfg, err := loadConfig(*home)
			if err != nil {
				return err
			}
			s, err := store.Open(cfg.DBPath(), logger)
			if err != nil {
				return err
			}
			defer s.Close()
			fmt.Println(statusStyle.Render("migrations applied"))
			return nil
		},
	}
}

func newMinePatternsCmd(home *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mine-patterns",
		Short: "run the usage pattern miner once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger("info")
			if err != nil {
				return err
			}
			defer logger.Sync()

			cfg, err := loadConfig(*home)
			if err != nil {
				return err
			}
			s, err := store.Open(cfg.DBPath(), logger)
			if err != nil {
				return err
			}
			defer s.Close()

			miner := patterns.New(s, logger, cfg.PatternsConfigFor())
			if err := miner.RunOnce(time.Now()); err != nil {
				return fmt.Errorf("mine patterns: %w", err)
			}
			fmt.Println(statusStyle.Render("pattern mining complete"))
			return nil
		},
	}
}

func loadConfig(home string) (*config.Config, error) {
	cfg, err := config.Load(home)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureHomeDir(); err != nil {
		return nil, fmt.Errorf("ensure home dir: %w", err)
	}
	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if err := zcfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	return zcfg.Build()
}

func runTask(home, modelOverride, description string) error {
	logger, err := newLogger("info")
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := loadConfig(home)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	s, err := store.Open(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	stop := make(chan struct{})
	defer close(stop)
	safego.Every(logger, "decay-startup", time.Hour, stop, func() {
		n, err := decay.New(s, logger).Apply(time.Now())
		if err != nil {
			logger.Warn("decay pass failed", zap.Error(err))
			return
		}
		if n > 0 {
			logger.Info("pruned low-confidence learnings", zap.Int64("count", n))
		}
	})
	if cfg.Patterns.Enabled {
		safego.Every(logger, "pattern-miner", cfg.MineInterval(), stop, func() {
			if err := patterns.New(s, logger, cfg.PatternsConfigFor()).RunOnce(time.Now()); err != nil {
				logger.Warn("pattern mining failed", zap.Error(err))
			}
		})
	}

	provider, model, err := selectProvider(cfg, modelOverride, logger)
	if err != nil {
		return err
	}

	registry := executor.NewRegistry()
	sw := statewriter.New(cfg.StatePath(), logger)

	orch := orchestrator.New(s, provider, registry, nil, logger)
	orch.Subscribe(func(e domain.ProgressEvent) {
		if err := sw.Handle(e); err != nil {
			logger.Warn("state write failed", zap.Error(err))
		}
		printProgress(e)
	})

	ctx, cancel := signalContext()
	defer cancel()

	runCfg := orchestrator.DefaultConfig()
	runCfg.MaxIterations = cfg.Iteration.MaxIterations
	runCfg.QualityThreshold = cfg.Iteration.QualityThreshold
	runCfg.ImprovementThreshold = cfg.Iteration.ImprovementThreshold
	runCfg.SkipEvalConfidence = cfg.Iteration.SkipEvalConfidence
	runCfg.TokenBudget = cfg.Iteration.TokenBudget
	runCfg.Safety = cfg.SafetyConfigFor()
	runCfg.Model = model
	runCfg.Dimensions = evaluator.DefaultDimensions()

	task, err := orch.RunTask(ctx, description, runCfg)
	if err != nil {
		return fmt.Errorf("run task: %w", err)
	}

	fmt.Println(statusStyle.Render(fmt.Sprintf("decision=%s iterations=%d tokens=%d cost=$%.4f",
		task.Decision, task.Iterations, task.TotalTokens, task.TotalCostUSD)))
	return nil
}

func selectProvider(cfg *config.Config, modelOverride string, logger *zap.Logger) (llm.Provider, string, error) {
	providers := cfg.ProviderConfigs()
	sort.Slice(providers, func(i, j int) bool { return providers[i].Priority > providers[j].Priority })

	top := providers[0]
	p, err := llm.Create(top, logger)
	if err != nil {
		return nil, "", fmt.Errorf("create provider %s: %w", top.Name, err)
	}

	model := modelOverride
	if model == "" && len(top.Models) > 0 {
		model = top.Models[0]
	}
	return p, model, nil
}

func printProgress(e domain.ProgressEvent) {
	switch e.Type {
	case domain.EventPlanReady:
		fmt.Println(statusStyle.Render(fmt.Sprintf("plan ready: up to %d iterations", e.MaxIterations)))
	case domain.EventIterationStart:
		fmt.Println(statusStyle.Render(fmt.Sprintf("iteration %d starting", e.Iteration)))
	case domain.EventIterationEnd:
		score := "n/a"
		if e.Score != nil {
			score = fmt.Sprintf("%.2f", *e.Score)
		}
		fmt.Println(statusStyle.Render(fmt.Sprintf("iteration %d: score=%s decision=%s", e.Iteration, score, e.Decision)))
	case domain.EventSafetyWarning:
		fmt.Println(errorStyle.Render("safety: " + e.Reason))
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}
