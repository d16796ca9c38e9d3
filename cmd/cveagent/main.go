// Command cveagent answers natural-language questions about CVEs from the
// terminal, over HTTP, or as an MCP tool server.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/castleinc/cveagent/internal/app"
	"github.com/castleinc/cveagent/pkg/config"
	cveotel "github.com/castleinc/cveagent/pkg/otel"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
)

type cli struct {
	configPath string
	verbose    bool
	storeFlag  string
	llmFlag    string

	cfg    config.Config
	logger *zap.Logger
	stopOT func(context.Context) error
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{logger: zap.NewNop()}
	root := &cobra.Command{
		Use:           "cveagent",
		Short:         "Ask questions about CVEs in plain language",
		Version:       fmt.Sprintf("%s (commit=%s, date=%s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.stopOT != nil {
				_ = c.stopOT(context.Background())
			}
			_ = c.logger.Sync()
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", os.Getenv("CVEAGENT_CONFIG"), "YAML config file")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&c.storeFlag, "store", "", "Store backend: memory, sql or mongo (overrides config)")
	root.PersistentFlags().StringVar(&c.llmFlag, "llm", "", "LLM planner provider: openai or gemini (overrides config)")

	root.AddCommand(
		newServeCmd(c),
		newAskCmd(c),
		newChatCmd(c),
		newToolsCmd(c),
		newSeedCmd(c),
		newMCPCmd(c),
		newEvalCmd(c),
	)
	return root
}

func (c *cli) init(ctx context.Context) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.llmFlag != "" && c.llmFlag != cfg.LLM.Provider {
		// The configured key belongs to another provider; the factory
		// reads its own key from the environment.
		cfg.LLM.Provider = c.llmFlag
		cfg.LLM.APIKey = ""
	}
	if c.storeFlag != "" {
		cfg.Store.Backend = c.storeFlag
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg

	zc := zap.NewProductionConfig()
	if strings.EqualFold(cfg.Log.Format, "console") {
		zc = zap.NewDevelopmentConfig()
	}
	zc.OutputPaths = []string{"stderr"}
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.verbose {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	c.logger, err = zc.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	c.stopOT, err = cveotel.Init(ctx, cveotel.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		UseStdout:      cfg.Telemetry.StdoutTraces,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	return err
}

// build assembles the stack; callers must Close the result.
func (c *cli) build(ctx context.Context) (*app.App, error) {
	return app.Build(ctx, c.cfg, c.logger)
}
