package cli

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/tracing/exporters"
)

// Env carries what every command needs once flags are parsed.
type Env struct {
	Config *config.Config
	Logger ectologger.Logger
}

// NewRootCmd creates the top-level "fern" command and registers all subcommands.
func NewRootCmd() *cobra.Command {
	var envFile string
	env := &Env{}

	root := &cobra.Command{
		Use:           "fern",
		Short:         "Project plan tracker with milestone status, edit locks and deadline notifications",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			logger, err := NewLogger(cfg)
			if err != nil {
				return err
			}
			env.Config = cfg
			env.Logger = logger
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file read before the environment")

	root.AddCommand(
		newServeCmd(env),
		newMigrateCmd(env),
		newRunTaskCmd(env),
		newImportCmd(env),
	)

	return root
}

// NewLogger builds the zap-backed logger. PRETTY_LOGS switches to the development encoder.
func NewLogger(cfg *config.Config) (ectologger.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}

	zapConfig := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = level

	zapLogger, err := zapConfig.Build(zap.Fields(
		zap.String("service", cfg.AppName),
		zap.String("version", cfg.Version),
	))
	if err != nil {
		return nil, err
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), nil
}

// setupTracing installs the OTLP exporter when enabled and falls back to debug-logging spans.
func setupTracing(ctx context.Context, env *Env) (func(context.Context) error, error) {
	cfg := env.Config
	if !cfg.OTLPEnabled {
		return tracing.Setup(cfg.AppName, &exporters.ConsoleExporter{Logger: env.Logger}), nil
	}

	exporter, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
		Endpoint: cfg.OTLPEndpoint,
		Protocol: cfg.OTLPProtocol,
		Insecure: cfg.OTLPInsecure,
	})
	if err != nil {
		return nil, err
	}
	env.Logger.Infof("Exporting traces to %s over %s", cfg.OTLPEndpoint, cfg.OTLPProtocol)
	return tracing.Setup(cfg.AppName, exporter), nil
}
