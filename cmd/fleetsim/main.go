// fleetsim - virtual IoT device simulation engine
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/fleetsim/fleetsim/internal/config"
	"github.com/fleetsim/fleetsim/pkg/adapter/proxy"
	"github.com/fleetsim/fleetsim/pkg/api"
	"github.com/fleetsim/fleetsim/pkg/engine"
	"github.com/fleetsim/fleetsim/pkg/logging"
	"github.com/fleetsim/fleetsim/pkg/metrics"
	"github.com/fleetsim/fleetsim/pkg/model"
	"github.com/fleetsim/fleetsim/pkg/registry"
)

// Build-time variables set via ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("fleetsim", flag.ContinueOnError)
	configFile := fs.String("config", "", "path to a YAML config file")
	port := fs.Int("port", 0, "control API port (overrides config)")
	modelPath := fs.String("model-path", "", "device model directory (overrides config)")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *showVersion {
		fmt.Printf("fleetsim %s (%s, built %s)\n", Version, Commit, BuildDate)
		return nil
	}

	if *configFile == "" {
		*configFile = os.Getenv(config.EnvConfigFile)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.ServicePort = *port
	}
	if *modelPath != "" {
		cfg.DeviceModelPath = *modelPath
	}

	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Format: logging.ParseFormat(cfg.LogFormat),
	})

	instanceID := uuid.NewString()
	log.Info("starting device engine", "version", Version, "instance", instanceID, "port", cfg.ServicePort)

	// Model registry
	reg := registry.New(registry.Options{
		Dir:     cfg.DeviceModelPath,
		Persist: cfg.PersistModels,
		Logger:  log.With("component", "registry"),
	})
	if err := reg.LoadDir(); err != nil {
		return err
	}

	// Metrics sink
	var sink metrics.Writer = metrics.Nop{}
	influxCfg := metrics.InfluxConfig{
		URL:    cfg.InfluxURL,
		Token:  cfg.InfluxToken,
		Org:    cfg.InfluxOrg,
		Bucket: cfg.InfluxBucket,
	}
	var influx *metrics.InfluxWriter
	if influxCfg.Enabled() {
		influx = metrics.NewInfluxWriter(influxCfg, log.With("component", "metrics"))
		sink = influx
		log.Info("metrics sink connected", "url", cfg.InfluxURL, "bucket", cfg.InfluxBucket)
	} else {
		log.Warn("metrics sink not configured, telemetry metrics disabled")
	}

	expo := metrics.NewExposition()
	webhooks := proxy.NewWebhookRegistry()

	var defaultConn *model.ConnectionConfig
	if cfg.MQTTBrokerHost != "" {
		defaultConn = &model.ConnectionConfig{
			Broker:   cfg.MQTTBrokerHost,
			Port:     &cfg.MQTTBrokerPort,
			TLS:      &cfg.MQTTUseTLS,
			Username: cfg.MQTTUsername,
		}
	}

	mgr := engine.NewManager(engine.Config{
		Registry:          reg,
		Sink:              sink,
		Exposition:        expo,
		Webhooks:          webhooks,
		Logger:            log,
		MaxDevices:        cfg.MaxDevicesPerInstance,
		DefaultConnection: defaultConn,
	})
	mgr.StartStatsTask()

	server := api.NewServer(api.Options{
		Manager:    mgr,
		Exposition: expo,
		Logger:     log,
		Port:       cfg.ServicePort,
		Version:    Version,
	})
	server.Start()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		log.Warn("control API shutdown error", "error", err)
	}
	mgr.Shutdown(ctx)
	if influx != nil {
		influx.Close()
	}

	log.Info("device engine stopped")
	return nil
}
