// storectl drives the Ziniao client's webdriver mode: it boots the vendor
// client, opens named store sessions with validated egress IPs, and holds
// them open for scripted use.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/YueHua46/ziniao-webdriver-template/internal/config"
	"github.com/YueHua46/ziniao-webdriver-template/internal/control"
	"github.com/YueHua46/ziniao-webdriver-template/internal/driver"
	"github.com/YueHua46/ziniao-webdriver-template/internal/ipgate"
	"github.com/YueHua46/ziniao-webdriver-template/internal/logging"
	"github.com/YueHua46/ziniao-webdriver-template/internal/process"
	"github.com/YueHua46/ziniao-webdriver-template/internal/session"
)

var (
	flagHeadless       bool
	flagNoLaunch       bool
	flagConcurrency    int
	flagUpdateDeadline time.Duration
)

type app struct {
	cfg      config.Config
	log      zerolog.Logger
	closeLog func() error
	ctl      *control.Controller
	launcher *process.Launcher
	orch     *session.Orchestrator
}

func newApp() (*app, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "no .env file found, using system environment")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, closeLog, err := logging.New(cfg.LogDir)
	if err != nil {
		return nil, err
	}

	client := control.NewClient(cfg, log)
	ctl := control.NewController(client, log)
	attacher := driver.NewAttacher(cfg, log)
	gate := ipgate.NewGate(log)

	return &app{
		cfg:      cfg,
		log:      log,
		closeLog: closeLog,
		ctl:      ctl,
		launcher: process.NewLauncher(cfg, log),
		orch:     session.NewOrchestrator(ctl, attacher, gate, flagConcurrency, log),
	}, nil
}

// bootstrap brings the vendor client to a usable state: fresh process, cores
// updated. With --no-launch an already-running client is reused as is.
func (a *app) bootstrap(ctx context.Context) error {
	if err := process.CheckPlatform(); err != nil {
		return err
	}

	drivers, err := driver.VerifyBinaries(a.cfg.DriverDir)
	if err != nil {
		a.log.Warn().Err(err).Str("dir", a.cfg.DriverDir).Msg("driver dir not readable, attach will likely fail")
	} else {
		a.log.Info().Strs("drivers", drivers).Msg("provisioned driver binaries")
	}

	if !flagNoLaunch {
		a.launcher.Kill("v5")
		if err := a.launcher.Start(ctx); err != nil {
			return err
		}
	}

	updateCtx := ctx
	if flagUpdateDeadline > 0 {
		var cancel context.CancelFunc
		updateCtx, cancel = context.WithTimeout(ctx, flagUpdateDeadline)
		defer cancel()
	}
	return a.ctl.UpdateCore(updateCtx)
}

// holdOpen keeps the given sessions alive until interrupt, then closes them.
func (a *app) holdOpen(ctx context.Context, sessions []*session.StoreSession) {
	a.log.Info().Int("count", len(sessions)).Msg("sessions ready, press Ctrl-C to close")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	for _, s := range sessions {
		a.orch.CloseStore(ctx, s)
	}
}

func main() {
	root := &cobra.Command{
		Use:           "storectl",
		Short:         "open and close Ziniao store browser sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&flagHeadless, "headless", false, "open browsers without a window")
	root.PersistentFlags().BoolVar(&flagNoLaunch, "no-launch", false, "reuse an already-running vendor client")
	root.PersistentFlags().IntVar(&flagConcurrency, "concurrency", session.DefaultConcurrency, "batch worker pool size")
	root.PersistentFlags().DurationVar(&flagUpdateDeadline, "update-deadline", 0, "bound on the core update wait (0 waits forever)")

	var storeName string
	openCmd := &cobra.Command{
		Use:   "open",
		Short: "open one store by name and hold it until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.closeLog()

			ctx := cmd.Context()
			if err := a.bootstrap(ctx); err != nil {
				return err
			}

			profiles := a.ctl.ListBrowsers(ctx)
			sess, err := a.orch.OpenStore(ctx, storeName, profiles, flagHeadless)
			if err != nil {
				if errors.Is(err, session.ErrDetectionPageUnavailable) {
					// The whole run is unusable on this client version.
					a.log.Error().Err(err).Msg("aborting run")
					a.ctl.Exit(ctx)
					os.Exit(1)
				}
				return err
			}

			a.holdOpen(ctx, []*session.StoreSession{sess})
			return nil
		},
	}
	openCmd.Flags().StringVar(&storeName, "store", "", "store profile name")
	openCmd.MarkFlagRequired("store")

	var storeNames []string
	openBatchCmd := &cobra.Command{
		Use:   "open-batch",
		Short: "open several stores concurrently and hold them until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.closeLog()

			ctx := cmd.Context()
			if err := a.bootstrap(ctx); err != nil {
				return err
			}

			profiles := a.ctl.ListBrowsers(ctx)
			sessions, err := a.orch.OpenStores(ctx, storeNames, profiles, flagHeadless)
			if err != nil {
				for _, s := range sessions {
					a.orch.CloseStore(ctx, s)
				}
				a.log.Error().Err(err).Msg("aborting run")
				a.ctl.Exit(ctx)
				os.Exit(1)
			}
			if len(sessions) == 0 {
				return errors.New("no store came up ready")
			}

			a.holdOpen(ctx, sessions)
			return nil
		},
	}
	openBatchCmd.Flags().StringSliceVar(&storeNames, "stores", nil, "store profile names")
	openBatchCmd.MarkFlagRequired("stores")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list managed store profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.closeLog()

			ctx := cmd.Context()
			if err := a.bootstrap(ctx); err != nil {
				return err
			}
			for _, p := range a.ctl.ListBrowsers(ctx) {
				fmt.Printf("%s\t%s\n", p.Key(), p.BrowserName)
			}
			return nil
		},
	}

	updateCoreCmd := &cobra.Command{
		Use:   "update-core",
		Short: "ask the client to download all browser cores",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.closeLog()
			return a.bootstrap(cmd.Context())
		},
	}

	shutdownCmd := &cobra.Command{
		Use:   "shutdown",
		Short: "ask a running vendor client to exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.closeLog()
			a.ctl.Exit(cmd.Context())
			return nil
		},
	}

	purgeCacheCmd := &cobra.Command{
		Use:   "purge-cache",
		Short: "remove the client's on-disk profile cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.closeLog()
			return a.launcher.PurgeCache()
		},
	}

	root.AddCommand(openCmd, openBatchCmd, listCmd, updateCoreCmd, shutdownCmd, purgeCacheCmd)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
