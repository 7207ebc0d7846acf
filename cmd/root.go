package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/routesim/app"
	"github.com/kilianp07/routesim/config"
	coremon "github.com/kilianp07/routesim/core/monitoring"
	"github.com/kilianp07/routesim/infra/logger"
	"github.com/kilianp07/routesim/infra/monitoring"
)

var (
	cfgPath  string
	route    string
	url      string
	vehicle  int64
	interval time.Duration
)

var rootCmd = &cobra.Command{
	Use:          "routesim",
	Short:        "Drive a simulated vehicle back and forth along a route",
	RunE:         run,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
	rootCmd.Flags().StringVar(&route, "route", "", "waypoint source, overrides simulation.waypoint_source")
	rootCmd.Flags().StringVar(&url, "url", "", "transport URL, overrides transport.url")
	rootCmd.Flags().Int64Var(&vehicle, "vehicle", 0, "vehicle id, overrides simulation.vehicle_id")
	rootCmd.Flags().DurationVar(&interval, "interval", 0, "delay between waypoints, overrides simulation.interval")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

// loadConfig reads the configuration file. The default file may be absent,
// in which case only the environment and flags are used.
func loadConfig(cmd *cobra.Command, override func(*config.Config)) (*config.Config, error) {
	path := cfgPath
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	cfg, err := config.LoadWithOverrides(path, override)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd, func(c *config.Config) {
		if route != "" {
			c.Simulation.WaypointSource = route
		}
		if url != "" {
			c.Transport.URL = url
		}
		if vehicle != 0 {
			c.Simulation.VehicleID = vehicle
		}
		if interval != 0 {
			c.Simulation.Interval = interval
		}
	})
	if err != nil {
		return err
	}

	log := logger.New("main")
	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		log.Warnf("sentry disabled: %v", err)
	} else {
		coremon.Init(mon)
		defer coremon.Flush(2 * time.Second)
	}

	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Errorf("service close: %v", err)
		}
	}()
	r := svc.Route()
	log.Infof("streaming %d waypoints for vehicle %d to %s", r.Len(), cfg.Simulation.VehicleID, cfg.Transport.URL)
	return svc.Run(ctx)
}
