// Package main provides the WildfireGPT CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"wildfiregpt/internal/config"
	"wildfiregpt/internal/conversation"
	"wildfiregpt/internal/logging"
	"wildfiregpt/internal/perception"
	"wildfiregpt/internal/policy"
	"wildfiregpt/internal/session"
	"wildfiregpt/internal/stage"
	"wildfiregpt/internal/store"
	"wildfiregpt/internal/wildfire"
)

var (
	// Global flags
	verbose    bool
	configPath string
	dataDir    string

	// Logger for non-interactive commands; the chat TUI has its own output.
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "wildfiregpt",
	Short: "WildfireGPT - conversational wildfire risk assistant",
	Long: `WildfireGPT guides a client through a three-stage consultation:

  1. Profile: collect the client's location, profession, and concerns
  2. Plan: draft and refine an analysis plan grounded in available datasets
  3. Analysis: execute the plan with fire weather, fire history, and census tools

Run without arguments to start the interactive chat interface.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// The interactive chat has its own UI; skip the structured logger.
		if cmd.Use == "wildfiregpt" && cmd.CalledAs() == "wildfiregpt" {
			return nil
		}
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractiveChat()
	},
}

// sessionsCmd lists persisted sessions
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List persisted consultation sessions",
	RunE:  listSessions,
}

// transcriptCmd dumps a persisted session transcript
var transcriptCmd = &cobra.Command{
	Use:   "transcript [session-id]",
	Short: "Print the stored transcript of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  showTranscript,
}

// versionCmd prints version information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print WildfireGPT version",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.DefaultConfig()
		fmt.Printf("%s %s\n", cfg.Name, cfg.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "wildfiregpt.yml", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "data", "Directory with the fixture CSV datasets")

	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(transcriptCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// appSession bundles everything a front end needs to run a consultation.
type appSession struct {
	cfg          *config.Config
	orchestrator *session.Orchestrator
	transcripts  *store.TranscriptStore
	cancel       context.CancelFunc
}

// Close releases the session's resources.
func (a *appSession) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.transcripts != nil {
		_ = a.transcripts.Close()
	}
	logging.Close()
}

// bootstrapSession wires the full session stack from configuration.
func bootstrapSession() (*appSession, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	workspace, _ := os.Getwd()
	if err := logging.Initialize(workspace); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	logging.Boot("%s %s starting", cfg.Name, cfg.Version)

	timeout, err := time.ParseDuration(cfg.LLM.Timeout)
	if err != nil || timeout <= 0 {
		timeout = 5 * time.Minute
	}
	client := perception.NewOpenAIClientWithConfig(perception.OpenAIConfig{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: timeout,
	})

	stages, err := config.LoadStages(cfg.StageDir)
	if err != nil {
		return nil, err
	}

	data, err := wildfire.LoadDataset(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load datasets: %w", err)
	}

	controller := stage.NewController(stages)
	builder := wildfire.NewToolset(data, client).Builder()
	for _, name := range []stage.Name{stage.ProfileCollection, stage.PlanFormation, stage.Analysis} {
		controller.RegisterBuilder(name, builder)
	}

	pol := policy.New(client, policy.Config{
		MaxAttempts:     cfg.Policy.MaxAttempts,
		BaseTemperature: cfg.Policy.BaseTemperature,
		TemperatureStep: cfg.Policy.TemperatureStep,
		MaxTokens:       policy.DefaultConfig().MaxTokens,
	})

	transcripts, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		// The conversation works without the mirror; log and carry on.
		logging.Get(logging.CategoryBoot).Warn("Transcript store unavailable: %v", err)
		transcripts = nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	if cfg.StageDir != "" {
		// Prompt edits apply from the next stage activation.
		watcher, werr := config.NewStageWatcher(cfg.StageDir, controller.SetConfigs)
		if werr != nil {
			logging.Get(logging.CategoryConfig).Warn("Stage watcher disabled: %v", werr)
		} else {
			go watcher.Run(ctx)
		}
	}

	runner := perception.NewRunner(client)
	orch := session.NewOrchestrator(runner, pol, controller, conversation.NewStore(), transcripts)

	return &appSession{cfg: cfg, orchestrator: orch, transcripts: transcripts, cancel: cancel}, nil
}

func listSessions(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	transcripts, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}
	defer transcripts.Close()

	ids, err := transcripts.ListSessions()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("No sessions recorded.")
		return nil
	}
	for _, id := range ids {
		profile, _, stageName, err := transcripts.SessionState(id)
		if err != nil {
			logger.Warn("failed to read session state", zap.String("session", id), zap.Error(err))
			continue
		}
		summary := profile
		if len(summary) > 60 {
			summary = summary[:60] + "..."
		}
		fmt.Printf("%s  stage=%-8s  %s\n", id, stageName, summary)
	}
	return nil
}

func showTranscript(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	transcripts, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}
	defer transcripts.Close()

	turns, err := transcripts.SessionTranscript(args[0])
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		fmt.Println("No transcript found for session", args[0])
		return nil
	}
	for _, t := range turns {
		fmt.Printf("[%s] %s: %s\n", t.CreatedAt.Format("15:04:05"), t.Role, t.Content)
		if note, ok, _ := transcripts.Feedback(t.ThreadID, t.TurnIndex); ok {
			fmt.Printf("    feedback: %s\n", note)
		}
	}
	return nil
}
