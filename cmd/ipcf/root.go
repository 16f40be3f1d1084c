package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	ipcf "github.com/wippyai/irm-fileapi"
	"github.com/wippyai/irm-fileapi/config"
	"github.com/wippyai/irm-fileapi/engine"
	"github.com/wippyai/irm-fileapi/fileapi"
	"github.com/wippyai/irm-fileapi/msipc"
)

const skipConfigAnnotation = "ipcf/skip-config"

type engineOpener func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ipcf.Engine, error)

type app struct {
	open   engineOpener
	cfg    *config.Config
	logger *zap.Logger

	cfgFile     string
	verbose     bool
	interactive bool
}

func newRootCmd(open engineOpener) *cobra.Command {
	a := &app{open: open, logger: zap.NewNop()}

	root := &cobra.Command{
		Use:   "ipcf",
		Short: "Protect and unprotect files with an IRM engine",
		Long: `ipcf applies and removes rights-management protection on files.

The engine is either a WebAssembly build loaded in-process (backend "wasm")
or the Windows msipc.dll (backend "msipc").

Examples:
  ipcf encrypt -t 8a3bb4f2-5c6e-4d1a-9f0b-2c7d8e9f1a2b report.docx
  ipcf decrypt report.docx
  ipcf status *.docx
  ipcf watch ./outbox
  ipcf -i ./docs`,
		Args:              cobra.MaximumNArgs(1),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = a.logger.Sync()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.interactive {
				return cmd.Help()
			}
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			return a.runInteractive(cmd.Context(), dir)
		},
	}

	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file path")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	root.Flags().BoolVarP(&a.interactive, "interactive", "i", false, "browse a directory interactively")

	root.AddCommand(
		a.encryptCmd(),
		a.decryptCmd(),
		a.licenseCmd(),
		a.statusCmd(),
		a.watchCmd(),
		a.configCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[skipConfigAnnotation] == "true" {
		a.cfg = config.Default()
	} else {
		cfg, err := config.Load(a.cfgFile)
		if err != nil {
			return err
		}
		a.cfg = cfg
	}

	logger, err := newLogger(a.cfg.Log, a.verbose)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	a.logger = logger
	engine.SetLogger(logger)
	msipc.SetLogger(logger)

	logger.Debug("command start",
		zap.String("command", cmd.CommandPath()),
		zap.String("backend", a.cfg.Engine.Backend))
	return nil
}

// withAdapter opens the configured engine for the duration of fn.
func (a *app) withAdapter(ctx context.Context, fn func(*fileapi.Adapter) error) error {
	eng, err := a.open(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer func() {
		if err := eng.Close(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("close engine", zap.Error(err))
		}
	}()
	return fn(fileapi.New(eng, fileapi.WithLogger(a.logger)))
}
