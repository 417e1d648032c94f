package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"artnetd/internal/artnet"
	"artnetd/internal/clientmqtt"
	"artnetd/internal/config"
	"artnetd/internal/httpapi"
	"artnetd/internal/logger"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the Art-Net engine with the MQTT bridge and HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, engine, err := setup(false)
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg, log, engine)
	},
}

func run(parent context.Context, cfg *config.Config, log *logger.Log, engine *artnet.Engine) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	if err := engine.Start(ctx); err != nil {
		log.Error("failed to start art-net service:", err.Error())
		return err
	}
	defer engine.Stop()

	watcher := config.NewWatcher(configFile, config.LoadUniverses, log.With(logger.Fields{"module": "config"}), 0)
	watcher.OnReload(func(universes []config.UniverseConf) {
		mappings, err := ConvertMappings(universes)
		if err != nil {
			log.Warnf("reload ignored: %v", err)
			return
		}
		if err := engine.ApplyMappings(mappings); err != nil {
			log.Warnf("reload rejected: %v", err)
		}
	})
	if err := watcher.Start(); err != nil {
		log.Warnf("config hot reload disabled: %v", err)
	} else {
		defer watcher.Stop() //nolint:errcheck
	}

	if cfg.MQTT.Enabled {
		client := clientmqtt.NewClient(log, ConvertConfigClientMQTT(cfg.MQTT), engine)
		log.With(logger.Fields{"module": "mqtt"}).Debug("NewClient created ok")
		if err := client.Start(ctx); err != nil {
			log.Error("failed to start MQTT service:", err.Error())
			cancel()
		}
		defer func() {
			if err := client.Stop(); err != nil {
				log.Error("failed to stop MQTT service:", err.Error())
			}
		}()
	}

	if cfg.HTTP.Listen != "" {
		api := httpapi.New(log, cfg.HTTP.Listen, engine)
		if err := api.Start(); err != nil {
			log.Error("failed to start HTTP API:", err.Error())
			cancel()
		}
		defer func() {
			stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			if err := api.Stop(stopCtx); err != nil {
				log.Error("failed to stop HTTP API:", err.Error())
			}
		}()
	}

	<-ctx.Done()
	log.Info("shutdown complete")
	return nil
}
