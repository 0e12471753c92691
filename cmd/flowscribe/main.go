// Command flowscribe runs the dictation context engine: it watches the
// clipboard, maintains tiered memory, and answers context queries for the
// AI orchestrator.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"flowscribe/internal/clipboard"
	"flowscribe/internal/config"
	"flowscribe/internal/engine"
	"flowscribe/internal/memory"
)

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string

	logger   *zap.Logger
	logLevel zap.AtomicLevel
	cfg      config.Config
)

var rootCmd = &cobra.Command{
	Use:   "flowscribe",
	Short: "flowscribe - dictation context & memory engine",
	Long: `flowscribe decides what surrounding context (clipboard, selection,
prior interactions) should accompany an AI-triggered command, and manages
how that context is stored, scored, deduplicated, and aged out.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg = zap.NewDevelopmentConfig()
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}

		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logLevel = zapCfg.Level

		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if workspace != "" {
			cfg.Workspace = workspace
		}
		if !verbose {
			logLevel.SetLevel(parseLevel(cfg.Logging.Level))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the engine until interrupted, printing context on clipboard changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := engine.New(engine.Options{
			Config: cfg,
			Logger: logger,
		})
		if err != nil {
			return err
		}

		eng.Monitor().OnChange(func(ch clipboard.Change) {
			fmt.Printf("clipboard (%s): %s\n", ch.Application, truncate(ch.Content, 80))
		})

		eng.Start()
		defer eng.Stop()

		// Hot-reload the log level while running.
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		go func() {
			err := config.Watch(ctx, configPath, logger.Named("config"), func(next config.Config) {
				if !verbose {
					logLevel.SetLevel(parseLevel(next.Logging.Level))
				}
			})
			if err != nil {
				logger.Warn("config watcher unavailable", zap.Error(err))
			}
		}()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		fmt.Println("shutting down")
		return nil
	},
}

var contextCmd = &cobra.Command{
	Use:   "context [command words...]",
	Short: "One-shot context lookup for a command, printed as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := engine.New(engine.Options{
			Config: cfg,
			Logger: logger,
		})
		if err != nil {
			return err
		}
		eng.Start()
		defer eng.Stop()

		highlighted, _ := cmd.Flags().GetString("highlighted")
		result := eng.GetContext(highlighted, strings.Join(args, " "))

		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show AI usage statistics and per-tier memory counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := engine.New(engine.Options{
			Config: cfg,
			Logger: logger,
		})
		if err != nil {
			return err
		}
		eng.Start()
		defer eng.Stop()

		ai, tiers := eng.Stats()
		fmt.Printf("AI calls: %d total, %d ok, %d failed\n", ai.Total, ai.Succeeded, ai.Failed)
		fmt.Printf("Latency: last %dms, avg %.1fms\n", ai.LastLatencyMs, ai.AvgLatencyMs)
		fmt.Printf("Memory: working=%d short=%d long=%d\n", tiers.Working, tiers.ShortTerm, tiers.LongTerm)
		return nil
	},
}

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and manage the memory tiers",
	Long: `Inspect and manage the memory tiers.

Only the long-term tier is persisted between runs, so in a one-shot
invocation these commands see long-term items only, and a move that
leaves an item outside long-term does not survive process exit.`,
}

var memoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List memory items across all tiers",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := engine.New(engine.Options{Config: cfg, Logger: logger})
		if err != nil {
			return err
		}
		eng.Start()
		defer eng.Stop()

		for _, item := range eng.Memory().Items() {
			fmt.Printf("%-36s %-10s %-10s %s\n", item.ID, item.Tier, item.Type, truncate(item.Content, 60))
		}
		return nil
	},
}

var memoryClearCmd = &cobra.Command{
	Use:   "clear <tier|all>",
	Short: "Clear one memory tier, or all of them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := engine.New(engine.Options{Config: cfg, Logger: logger})
		if err != nil {
			return err
		}
		eng.Start()
		defer eng.Stop()

		if args[0] == "all" {
			eng.Memory().ClearAll()
			fmt.Println("cleared all tiers")
			return nil
		}
		tier := memory.Tier(args[0])
		if !tier.Valid() {
			return fmt.Errorf("unknown tier %q (working, short_term, long_term)", args[0])
		}
		eng.Memory().ClearTier(tier)
		fmt.Printf("cleared %s\n", tier)
		return nil
	},
}

func moveCmd(use, short string, move func(*engine.Engine, string) bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := engine.New(engine.Options{Config: cfg, Logger: logger})
			if err != nil {
				return err
			}
			eng.Start()
			defer eng.Stop()

			if !move(eng, args[0]) {
				return fmt.Errorf("no memory item with id %q", args[0])
			}
			item, _ := eng.Memory().FindByID(args[0])
			fmt.Printf("%s is now in %s\n", args[0], item.Tier)
			if note := moveNote(item.Tier); note != "" {
				fmt.Println(note)
			}
			return nil
		},
	}
}

// moveNote flags tier moves whose result will not outlive the process:
// only the long-term tier is persisted between runs.
func moveNote(tier memory.Tier) string {
	if tier == memory.TierLongTerm {
		return ""
	}
	return fmt.Sprintf("note: %s items do not persist between runs", tier)
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "flowscribe.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&workspace, "workspace", "", "workspace directory override")

	contextCmd.Flags().String("highlighted", "", "currently highlighted text")

	memoryCmd.AddCommand(memoryListCmd)
	memoryCmd.AddCommand(memoryClearCmd)
	memoryCmd.AddCommand(moveCmd("promote <id>", "Promote a memory item one tier up",
		func(e *engine.Engine, id string) bool { return e.Memory().Promote(id) }))
	memoryCmd.AddCommand(moveCmd("demote <id>", "Demote a memory item one tier down",
		func(e *engine.Engine, id string) bool { return e.Memory().Demote(id) }))

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(memoryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
