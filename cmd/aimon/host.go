package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/ai_mon/internal/config"
	"github.com/eliteGoblin/focusd/ai_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/ai_mon/internal/domain"
	"github.com/eliteGoblin/focusd/ai_mon/internal/infra"
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Run the native messaging host on stdin/stdout",
	Long: `Runs the host the way the browser does: length-prefixed JSON on
stdin/stdout, plus the control socket for the CLI. Exits when stdin closes
or on SIGINT/SIGTERM.`,
	RunE: runHost,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine behind the control socket only",
	Long: `Runs the engine without a browser attached. The CLI talks to it over
the control socket until SIGINT/SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(hostCmd)
	rootCmd.AddCommand(serveCmd)
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runHost(cmd *cobra.Command, args []string) error {
	return runEngine(true)
}

func runServe(cmd *cobra.Command, args []string) error {
	return runEngine(false)
}

// runEngine runs the router, the control socket, the config watcher and, when
// stdio is set, the native messaging stream until a signal or end of stdin.
func runEngine(stdio bool) error {
	loader := config.NewLoader(configPath, zap.NewNop())
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	logger := createLogger(cfg)
	defer logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	host := domain.HostRecord{
		PID:        infra.NewProcessInspector().GetCurrentPID(),
		StartedAt:  time.Now(),
		AppVersion: Version,
		SocketPath: cfg.SocketPath(),
	}
	rt, err := newRuntime(ctx, cfg, logger, host)
	if err != nil {
		logger.Error("failed to start host", zap.Error(err))
		return err
	}
	defer rt.Close()

	routerDone := make(chan struct{})
	go func() {
		defer close(routerDone)
		rt.router.Run(ctx)
	}()

	control := daemon.NewControlServer(cfg.SocketPath(), rt.codec, rt.router, rt.events, logger)
	if ln, err := control.Listen(); err != nil {
		if !stdio {
			// The router must be done with the store before rt.Close runs.
			stop()
			<-routerDone
			return err
		}
		// Another host owns the socket; keep serving the browser.
		logger.Warn("control socket unavailable", zap.Error(err))
	} else {
		go func() {
			if err := control.Serve(ctx, ln); err != nil {
				logger.Warn("control socket stopped", zap.Error(err))
			}
		}()
	}

	watcher := config.NewLoader(loader.Path(), logger)
	watcher.OnChange(func(c *config.Config) {
		rt.router.Post(reloadCommand(c))
	})
	if err := watcher.Watch(ctx); err != nil {
		logger.Warn("config hot reload disabled", zap.Error(err))
	}

	logger.Info("host started",
		zap.String("version", Version),
		zap.Bool("stdio", stdio),
		zap.String("socket", cfg.SocketPath()),
		zap.String("backend", cfg.Store.Backend))

	if stdio {
		native := daemon.NewNativeHost(rt.codec, rt.router, rt.events, logger)
		served := make(chan error, 1)
		go func() {
			served <- native.Serve(ctx, os.Stdin, os.Stdout)
		}()
		select {
		case err := <-served:
			if err != nil {
				logger.Warn("native messaging stream failed", zap.Error(err))
			} else {
				logger.Info("browser disconnected")
			}
		case <-ctx.Done():
		}
	} else {
		fmt.Fprintf(os.Stderr, "aimon serving on %s\n", cfg.SocketPath())
		<-ctx.Done()
	}

	stop()
	<-routerDone
	logger.Info("host stopped")
	return nil
}
