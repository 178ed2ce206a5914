package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/hkwi/rtnl/rtcache"
	"github.com/hkwi/rtnl/rtobj"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "yaml configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log at debug level")
	resolveCmd.Flags().Uint32Var(&table, "table", 0, "only look into this routing table")
	watchCmd.Flags().StringVar(&metricsAddr, "metrics", "", "serve prometheus metrics on this address")
}

var kindNames = map[string]rtobj.Kind{
	"link":     rtobj.KindLink,
	"address":  rtobj.KindAddress,
	"route":    rtobj.KindRoute,
	"neighbor": rtobj.KindNeighbor,
}

var (
	rootCmd = &cobra.Command{
		Use:   "rtnlmon",
		Short: "Inspect and follow the kernel routing tables.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Get the built version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("built commit: %s\n", builtCommit)
		},
	}

	dumpCmd = &cobra.Command{
		Use:       "dump [link|address|route|neighbor]...",
		Short:     "Print the current objects, all kinds by default.",
		ValidArgs: []string{"link", "address", "route", "neighbor"},
		Args:      cobra.OnlyValidArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var kinds []rtobj.Kind
			for _, arg := range args {
				kinds = append(kinds, kindNames[arg])
			}
			if len(kinds) == 0 {
				kinds = rtobj.Kinds
			}
			s, err := open(nil)
			if err != nil {
				return err
			}
			defer s.Close()

			if _, err := s.Refresh(cmd.Context(), kinds...); err != nil {
				return err
			}
			for _, kind := range kinds {
				for obj := range s.Cache().Query(kind, nil) {
					fmt.Printf("%s %v\n", kind, obj)
				}
			}
			return nil
		},
	}

	resolveCmd = &cobra.Command{
		Use:   "resolve ADDRESS",
		Short: "Find the route the kernel would pick for a destination.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dst, err := netip.ParseAddr(args[0])
			if err != nil {
				return err
			}
			s, err := open(nil)
			if err != nil {
				return err
			}
			defer s.Close()

			if _, err := s.Refresh(cmd.Context(), rtobj.KindLink, rtobj.KindRoute); err != nil {
				return err
			}
			q := s.Query()
			var r rtobj.Route
			if table != 0 {
				r, err = q.ResolveRouteInTable(dst, table)
			} else {
				r, err = q.ResolveRoute(dst)
			}
			if err != nil {
				return err
			}
			fmt.Println(r)
			if link, err := q.LinkByIndex(r.OutIndex); err == nil {
				fmt.Printf("dev %s\n", link.Name)
			}
			return nil
		},
	}

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Dump everything, then print every change.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var metrics *rtcache.Metrics
			var server *http.Server
			if metricsAddr != "" {
				// Create a non-global registry.
				reg := prometheus.NewRegistry()
				metrics = rtcache.NewMetrics()
				if err := metrics.Register(reg); err != nil {
					return fmt.Errorf("error registering the metrics: %v", err)
				}
				handler := http.NewServeMux()
				handler.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
				server = &http.Server{Addr: metricsAddr, Handler: handler}
			}

			s, err := open(metrics)
			if err != nil {
				return err
			}
			defer s.Close()

			l, err := s.Subscribe(ctx)
			if err != nil {
				return err
			}
			defer l.Close()
			// the initial dump is printed by the event loop as added objects
			if _, err := s.Refresh(ctx); err != nil {
				return err
			}
			slog.Info("watching", "links", s.Cache().Len(rtobj.KindLink), "routes", s.Cache().Len(rtobj.KindRoute))

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				for ev := range l.Events() {
					fmt.Printf("%s %s %v\n", ev.Type, ev.Kind, ev.Object)
				}
				if ctx.Err() != nil {
					return nil
				}
				return l.Err()
			})
			if server != nil {
				g.Go(func() error {
					if err := server.ListenAndServe(); err != http.ErrServerClosed {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-ctx.Done()
					return server.Shutdown(context.Background())
				})
			}
			g.Go(func() error {
				<-ctx.Done()
				return l.Close()
			})
			return g.Wait()
		},
	}

	configPath  string
	debug       bool
	table       uint32
	metricsAddr string
	builtCommit = "dev"
)

func open(metrics *rtcache.Metrics) (*rtcache.Session, error) {
	cfg := rtcache.DefaultConfig
	if configPath != "" {
		var err error
		if cfg, err = rtcache.LoadConfig(configPath); err != nil {
			return nil, err
		}
	}
	slog.Debug("configuration", "cfg", cfg)
	return rtcache.Open(cfg, rtcache.WithMetrics(metrics))
}

func init() {
	// Disable completion please!
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
