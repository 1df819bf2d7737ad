package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"byedpi-core/internal/api"
	"byedpi-core/internal/config/schema"
	coreerrors "byedpi-core/internal/core/errors"
	corelog "byedpi-core/internal/core/log"
	"byedpi-core/internal/core/metrics"
	"byedpi-core/internal/service"
)

type runOptions struct {
	mode      string
	engine    string
	binary    string
	apiListen string
	tunName   string
	noStart   bool
}

func newRunCmd(g *globalOptions) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the service in the foreground",
		Long: `Start the proxy (and, in vpn mode, the TUN interface and tunnel adapter),
then wait for SIGINT or SIGTERM and stop everything in order.

SIGHUP restarts the session with freshly loaded configuration.

Example:
  byedpi run
  byedpi run --mode proxy --engine builtin
  byedpi run --api 127.0.0.1:9091 --no-start`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(cmd.Context(), g, o)
		},
	}
	cmd.Flags().StringVar(&o.mode, "mode", "", "Service mode: vpn/proxy")
	cmd.Flags().StringVar(&o.engine, "engine", "", "Proxy engine: exec/builtin")
	cmd.Flags().StringVar(&o.binary, "binary", "", "Proxy binary for the exec engine")
	cmd.Flags().StringVar(&o.apiListen, "api", "", "Enable the control API on this address")
	cmd.Flags().StringVar(&o.tunName, "tun", "", "TUN device name")
	cmd.Flags().BoolVar(&o.noStart, "no-start", false, "Do not start a session until requested through the API")
	return cmd
}

func (o *runOptions) apply(cfg *schema.Root) {
	if o.mode != "" {
		cfg.Service.Mode = o.mode
	}
	if o.engine != "" {
		cfg.Proxy.Engine = o.engine
	}
	if o.binary != "" {
		cfg.Proxy.Binary = o.binary
	}
	if o.apiListen != "" {
		cfg.API.Enabled = true
		cfg.API.Listen = o.apiListen
	}
	if o.tunName != "" {
		cfg.VPN.TunName = o.tunName
	}
}

func runService(parent context.Context, g *globalOptions, o *runOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	out := g.output()

	l := g.newLoader(o.apply)
	cfg, err := l.Load()
	if err != nil {
		return err
	}
	if err := configureLogging(cfg.Log); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	logger := corelog.Component("byedpi")
	ctx := parent

	stats := metrics.NewMemoryMetrics(context.Background())
	defer stats.Close()
	if err := metrics.SetGlobalMetrics(stats); err != nil {
		return err
	}
	defer metrics.ResetGlobalMetrics()

	// 协调器不跟随 ctx，退出时按顺序显式停止
	// 每次启动重新读取配置
	coord, err := service.NewCoordinator(context.Background(), service.Options{
		Preferences: l.Load,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer coord.Close()

	unsubscribe, err := coord.Subscribe(out.Event)
	if err != nil {
		return err
	}
	defer unsubscribe()

	if cfg.API.Enabled {
		srv := api.NewServer(context.Background(), cfg.API.Listen, coord, logger)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("start control API: %w", err)
		}
		defer srv.CloseWithError()
		out.Info("Control API listening on http://%s%s", srv.Addr(), api.BasePath)
	}

	out.Info("ByeDPI starting in %s mode, proxy %s:%d", cfg.Service.Mode, cfg.Proxy.IP, cfg.Proxy.Port)
	if !o.noStart {
		if err := coord.Start(ctx); err != nil {
			out.Error("Start failed: %v", err)
			if !cfg.API.Enabled {
				return err
			}
		}
	}
	out.Plain("   Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-ctx.Done():
			return stopService(coord, out)
		case sig := <-sigChan:
			if sig != syscall.SIGHUP {
				logger.Infof("Received signal %s, shutting down...", sig)
				return stopService(coord, out)
			}
			logger.Info("Received SIGHUP, restarting session")
			_ = coord.Stop(ctx)
			if err := coord.Start(ctx); err != nil && !coreerrors.IsRejected(err) {
				out.Error("Restart failed: %v", err)
			}
		}
	}
}

func stopService(coord *service.Coordinator, out *Output) error {
	out.Plain("")
	out.Info("Shutting down...")
	if err := coord.Stop(context.Background()); err != nil {
		return err
	}
	out.Success("Stopped")
	return nil
}
