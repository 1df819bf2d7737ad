package cmd

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"byedpi-core/internal/api"
	"byedpi-core/internal/config/source"
)

const controlTimeout = 15 * time.Second

// resolveAPI 未指定 --api 时使用配置中的监听地址
func resolveAPI(g *globalOptions, flag string) string {
	if flag != "" {
		return flag
	}
	if cfg, err := g.newLoader().Load(); err == nil && cfg.API.Listen != "" {
		return cfg.API.Listen
	}
	return source.DefaultAPIListen
}

func newStartCmd(g *globalOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Ask a running instance to start a session",
		Long: `Send a start request to an instance launched with 'byedpi run --api'.

Example:
  byedpi start --api 127.0.0.1:9091`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
			defer cancel()

			snap, err := api.NewClient(resolveAPI(g, addr)).Start(ctx)
			if err != nil {
				return err
			}
			g.output().Success("Start accepted (session %s)", snap.SessionID)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "api", "", "Control API address")
	return cmd
}

func newStopCmd(g *globalOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Ask a running instance to stop its session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
			defer cancel()

			snap, err := api.NewClient(resolveAPI(g, addr)).Stop(ctx)
			if err != nil {
				return err
			}
			g.output().Success("Stopped (%s)", snap.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "api", "", "Control API address")
	return cmd
}

func newStatusCmd(g *globalOptions) *cobra.Command {
	var (
		addr       string
		watch      bool
		withHealth bool
		withStats  bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running instance",
		Long: `Show the status of an instance launched with 'byedpi run --api'.

Example:
  byedpi status
  byedpi status --health
  byedpi status --metrics
  byedpi status --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := g.output()
			client := api.NewClient(resolveAPI(g, addr))

			if watch {
				ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				return client.Watch(ctx, out.Snapshot, out.Event)
			}

			ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
			defer cancel()

			snap, err := client.Status(ctx)
			if err != nil {
				return err
			}
			out.Snapshot(snap)

			if withHealth {
				hr, err := client.Health(ctx)
				if err != nil {
					return err
				}
				out.Header("Health: " + hr.Status)
				for name, comp := range hr.Components {
					out.KeyValue(name, out.healthText(comp.Status)+"  "+comp.Message)
				}
			}

			if withStats {
				stats, err := client.Metrics(ctx)
				if err != nil {
					return err
				}
				names := make([]string, 0, len(stats))
				for name := range stats {
					names = append(names, name)
				}
				sort.Strings(names)
				out.Header("Metrics")
				for _, name := range names {
					out.KeyValue(name, strconv.FormatFloat(stats[name], 'f', -1, 64))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "api", "", "Control API address")
	cmd.Flags().BoolVar(&withStats, "metrics", false, "Show process metrics")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Stream status changes until interrupted")
	cmd.Flags().BoolVar(&withHealth, "health", false, "Run health checks")
	return cmd
}
