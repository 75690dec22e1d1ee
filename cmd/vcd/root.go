package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/OCAP2/vcd/internal/config"
	"github.com/OCAP2/vcd/internal/logging"
	intOtel "github.com/OCAP2/vcd/internal/otel"
	"github.com/OCAP2/vcd/internal/storage/memory"
)

const rootLongDesc string = `vcd inspects, converts and streams VCD annotation documents.

Commands:
  vcd info <file>                    Summarize a document
  vcd frame <file> <n>               Print the view of one frame
  vcd convert <in> <out>             Rewrite a document (gzip when <out> ends in .gz)
  vcd export <file>                  Write a document to the configured output directory
  vcd stream <file> --url <ws-url>   Stream a document to a WebSocket server

Settings are read from vcd.cfg.json in --config-dir and from VCD_* environment
variables. Without a config file the defaults apply.`

const rootShortDesc string = "VCD annotation document tool"

// app holds the state shared by every command of one run
type app struct {
	configDir string
	logLevel  string
	logToFile bool

	slog    *logging.SlogManager
	logger  *slog.Logger
	logFile *os.File
	otel    *intOtel.Provider

	// path of the document being processed, attached to every log record
	document string
}

func newRootCmd() *cobra.Command {
	a := &app{slog: logging.NewSlogManager()}

	cmd := &cobra.Command{
		Use:           "vcd",
		Short:         rootShortDesc,
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return a.shutdown()
		},
	}

	cmd.PersistentFlags().StringVar(&a.configDir, "config-dir", ".", "Directory containing "+config.FileName)
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override the configured log level")
	cmd.PersistentFlags().BoolVar(&a.logToFile, "log-file", false, "Write logs to a session file in the logs directory")

	cmd.AddCommand(newInfoCmd(a))
	cmd.AddCommand(newFrameCmd(a))
	cmd.AddCommand(newConvertCmd(a))
	cmd.AddCommand(newExportCmd(a))
	cmd.AddCommand(newStreamCmd(a))

	// cobra skips PersistentPostRunE when RunE fails
	for _, sub := range cmd.Commands() {
		runE := sub.RunE
		sub.RunE = func(cmd *cobra.Command, args []string) error {
			err := runE(cmd, args)
			if err != nil {
				_ = a.shutdown()
			}
			return err
		}
	}

	return cmd
}

// setup loads the configuration and initializes logging and telemetry.
func (a *app) setup(cmd *cobra.Command) error {
	viper.Reset()
	configErr := config.Load(a.configDir)
	var notFound viper.ConfigFileNotFoundError
	usingDefaults := errors.As(configErr, &notFound)
	if configErr != nil && !usingDefaults {
		return configErr
	}

	level := config.GetString("logLevel")
	if a.logLevel != "" {
		level = a.logLevel
	}

	start := time.Now()
	otelCfg := config.GetOTelConfig()
	if a.logToFile || otelCfg.Enabled {
		f, err := logging.OpenLogFile(config.GetString("logsDir"), cmd.Name(), start)
		if err != nil {
			return err
		}
		a.logFile = f
	}

	var logOut io.Writer = cmd.ErrOrStderr()
	if a.logToFile {
		logOut = a.logFile
	}

	a.slog.SetContextProvider(func() []slog.Attr {
		if a.document == "" {
			return nil
		}
		return []slog.Attr{slog.String("document", a.document)}
	})

	var otelLogProvider *sdklog.LoggerProvider
	if otelCfg.Enabled {
		provider, err := intOtel.New(intOtel.FromConfig(otelCfg, a.logFile))
		if err != nil {
			return fmt.Errorf("failed to initialize OTel provider: %w", err)
		}
		a.otel = provider
		otelLogProvider = provider.LoggerProvider()
	}

	a.slog.Setup(logOut, level, otelLogProvider)
	a.logger = a.slog.Component(cmd.Name())

	if usingDefaults {
		a.logger.Debug("No config file found, using defaults", "dir", a.configDir)
	}
	if a.logFile != nil {
		a.logger.Debug("Logging to file", "path", a.logFile.Name())
	}
	return nil
}

// shutdown flushes telemetry and closes the session log file.
func (a *app) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if err := a.slog.Flush(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.otel != nil {
		if err := a.otel.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		a.otel = nil
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil {
			errs = append(errs, err)
		}
		a.logFile = nil
	}
	return errors.Join(errs...)
}

// load reads a document with the configured document settings.
func (a *app) load(path string) (*memory.Backend, error) {
	a.document = path
	start := time.Now()
	b, err := memory.Load(path, config.GetDocumentConfig(), memory.WithLogger(a.slog.Component("document")))
	if err != nil {
		return nil, err
	}
	a.logger.Info("Document loaded", "duration", time.Since(start), "frames", b.FrameIntervals().NumFrames())
	return b, nil
}
