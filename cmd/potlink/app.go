package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/potlink/internal/config"
	"github.com/srg/potlink/internal/device"
	goble "github.com/srg/potlink/internal/device/go-ble"
	"github.com/srg/potlink/internal/notify"
	"github.com/srg/potlink/internal/pot"
	"github.com/srg/potlink/internal/provision"
	"github.com/srg/potlink/internal/store"
	"golang.org/x/term"
)

// RadioFactory creates the host radio and its release func (can be overridden in tests)
var RadioFactory = func(logger *logrus.Logger) (device.Radio, func() error, error) {
	r := goble.New(logger)
	return r, r.Close, nil
}

// BlobStoreFactory opens the paired pot store (can be overridden in tests)
var BlobStoreFactory = func(dir string, logger *logrus.Logger) (store.BlobStore, error) {
	return store.NewFileBlobStore(dir, logger)
}

// app is the per-invocation wiring shared by commands
type app struct {
	cfg     *config.Config
	logger  *logrus.Logger
	out     io.Writer
	colored bool
	paired  store.PairedDevices

	radio      device.Radio
	closeRadio func() error
	manager    *pot.Manager
}

// newApp loads the config and opens the store; the radio is created by withRadio
func newApp(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dir, _ := cmd.Flags().GetString("store"); dir != "" {
		cfg.StorePath = dir
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}
	// flags are valid past this point
	cmd.SilenceUsage = true

	dir, err := cfg.EffectiveStorePath()
	if err != nil {
		return nil, err
	}
	blobs, err := BlobStoreFactory(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		out:     cmd.OutOrStdout(),
		colored: isTerminal(cmd.OutOrStdout()),
		paired:  store.NewBlobPairedDevices(blobs),
	}, nil
}

// withRadio creates the radio and starts the manager
func (a *app) withRadio(ctx context.Context, onStep func(provision.Step)) error {
	radio, closeRadio, err := RadioFactory(a.logger)
	if err != nil {
		return fmt.Errorf("failed to create radio: %w", err)
	}
	opts := pot.OptionsFromConfig(a.cfg)
	opts.OnStep = onStep

	a.radio = radio
	a.closeRadio = closeRadio
	a.manager = pot.New(radio, a.paired, opts, a.logger)
	return a.manager.Start(ctx)
}

// waitForPower blocks until the radio is powered, printing a hint once
func (a *app) waitForPower(ctx context.Context) error {
	state, err := a.radio.PowerState(ctx)
	if err == nil && state == device.PowerOn {
		return nil
	}
	fmt.Fprintln(a.out, "Waiting for Bluetooth to be powered on...")
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ConnectTimeout*3)
	defer cancel()
	return a.manager.WaitForPower(ctx)
}

// printNotifications renders queued notifications
func (a *app) printNotifications() {
	if a.manager == nil {
		return
	}
	for _, n := range a.manager.PendingNotifications() {
		if n.Kind == notify.KindInfo {
			continue
		}
		fmt.Fprintln(a.out, notify.Format(n, a.colored))
	}
}

// Close shuts the manager down and releases the radio
func (a *app) Close() {
	if a.manager != nil {
		if err := a.manager.Shutdown(context.Background()); err != nil {
			a.logger.WithError(err).Warn("Manager shutdown failed")
		}
	}
	if a.closeRadio != nil {
		if err := a.closeRadio(); err != nil {
			a.logger.WithError(err).Debug("Radio close failed")
		}
	}
}

// signalContext is cancelled on Ctrl+C or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
