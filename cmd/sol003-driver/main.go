package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/thc1006/nephoran-sol003-driver/pkg/config"
	"github.com/thc1006/nephoran-sol003-driver/pkg/logging"
)

// Version information - will be set at build time.
var (
	// Version holds version value.
	Version = "dev"
)

type options struct {
	configPath string
	logLevel   string
	address    string
}

func (o *options) addFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.configPath, "config", "c", "", "Path to the YAML configuration file")
	fs.StringVar(&o.logLevel, "log-level", "", "Log level (debug, info, warn, error or a verbosity number)")
	fs.StringVar(&o.address, "address", "", "HTTP listen address, overrides api.address")
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "sol003-driver",
		Short:         "ETSI SOL003 VNFM driver",
		Long:          "Translates lifecycle requests into SOL003 exchanges with a VNFM and reports their outcome on the message bus.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	opts.addFlags(cmd.Flags())
	return cmd
}

func run(ctx context.Context, opts *options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.address != "" {
		cfg.API.Address = opts.address
	}

	log, err := logging.New(cfg.Logging, "sol003-driver")
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	log.Info("Starting SOL003 driver", "version", Version, "bus", cfg.Bus.Type)

	app, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error(err, "Failed to initialize")
		return err
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil {
		log.Error(err, "Driver stopped with error")
		return err
	}
	log.Info("Driver stopped")
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
