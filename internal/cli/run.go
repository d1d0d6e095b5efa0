package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/relogix/scand/internal/api"
	"github.com/relogix/scand/internal/config"
	"github.com/relogix/scand/internal/engine"
	"github.com/relogix/scand/internal/events"
	"github.com/relogix/scand/internal/mqtt"
	"github.com/relogix/scand/internal/storage/postgres"
	"github.com/relogix/scand/internal/version"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the scan engine",
		Long: `Load a program, build the scan plan and run the fixed-period loop
until stopped. SIGTERM stops cleanly, SIGINT stops with exit code 130,
SIGHUP reloads the configuration file in place.

Example:
  scand run --config program.yaml
  MQTT_URL=tcp://broker:1883 scand run -c plant.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to program YAML (required)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runEngine(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitConfigError, "failed to load configuration", err)
	}

	eng, err := engine.New(cfg, nil)
	if err != nil {
		return WrapExitError(ExitConfigError, "failed to build scan plan", err)
	}

	name := cfg.Name
	if name == "" {
		name = "scand"
	}
	api.SetEngine(eng)
	api.InitMetrics()
	api.SetEngineName(name)
	api.InitTLS()
	api.InitAlerts()

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// Optional drivers. The engine runs without them; losing the broker
	// or the database degrades to local-only operation, never a crash.
	var driver *mqtt.Driver
	if cfg.MQTT != nil && cfg.MQTT.Enabled {
		driver, err = mqtt.NewDriver(cfg.MQTT, eng.Bus())
		if err != nil {
			return WrapExitError(ExitConfigError, "failed to build MQTT driver", err)
		}
		eng.OnPreScan(driver.FlushInputs)
		eng.OnPostScan(driver.PublishOutputs)
		if err := driver.Start(); err != nil {
			// The client keeps retrying in the background.
			log.Printf("mqtt connect: %v (retrying)", err)
		}
		defer driver.Stop()
		go monitorDriver(ctx, driver)
	}

	if cfg.Historian != nil && cfg.Historian.Enabled {
		client, err := postgres.New(name)
		if err != nil {
			log.Printf("postgres unavailable, historian disabled: %v", err)
			api.SetPostgresConnected(false)
		} else {
			events.SetPostgresClient(client)
			api.SetPostgresConnected(true)
			historian := postgres.NewHistorian(client, eng.Bus())
			go historian.Run(ctx)
			defer client.Close()
		}
	}

	api.Start(cfg.APIPort())
	api.StartAlertMonitor(30 * time.Second)

	if err := eng.Start(ctx); err != nil {
		return WrapExitError(ExitRuntime, "failed to start engine", err)
	}
	events.Emit("info", "system.startup", "scand running", map[string]any{
		"version": version.Version,
		"config":  opts.ConfigPath,
	})
	fmt.Fprintf(cmd.OutOrStdout(), "scand %s running %q every %dms (API :%d)\n",
		version.Version, opts.ConfigPath, cfg.ScanTimeMS, cfg.APIPort())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

	for {
		select {
		case sig := <-sigs:
			switch sig {
			case syscall.SIGHUP:
				if err := reloadConfig(eng, opts.ConfigPath); err != nil {
					log.Printf("reload failed, keeping current program: %v", err)
				}
				continue
			case os.Interrupt:
				shutdown(eng, "interrupt")
				return NewExitError(ExitInterrupt, "interrupted")
			default:
				shutdown(eng, sig.String())
				return nil
			}
		case <-eng.Done():
			// The loop exited on its own, which only happens on a
			// context cancellation or an operator stop via the API.
			events.Emit("info", "system.shutdown", "scan loop exited", nil)
			return nil
		}
	}
}

func shutdown(eng *engine.Engine, reason string) {
	events.Emit("info", "system.shutdown", reason, nil)
	if err := eng.Stop(); err != nil {
		log.Printf("engine stop: %v", err)
	}
}

// reloadConfig applies the on-disk configuration to the running engine.
// The engine must be paused around the swap; on any failure the old
// program keeps running.
func reloadConfig(eng *engine.Engine, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := eng.Pause(); err != nil {
		return err
	}
	defer func() {
		if err := eng.Resume(); err != nil {
			log.Printf("resume after reload: %v", err)
		}
	}()
	return eng.Reload(cfg)
}

// monitorDriver mirrors the MQTT connection state into the readiness
// gauges so /metrics and the alert monitor see broker outages.
func monitorDriver(ctx context.Context, d *mqtt.Driver) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			api.SetMQTTConnected(d.Connected())
		}
	}
}
