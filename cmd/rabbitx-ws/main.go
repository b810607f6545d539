package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"rabbitx/apikey"
	"rabbitx/config"
	"rabbitx/logger"
	"rabbitx/models"
	"rabbitx/recorder"
	"rabbitx/ws"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Client.Name,
		"env":     config.AppEnvironment(),
	}).Info("starting rabbitx client")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch {
		logger.InitCloudWatch(cfg.Metrics.Region, cfg.Metrics.Namespace, cfg.Metrics.Dashboard)
	}
	logger.StartReport(ctx, log, cfg.Metrics.ReportInterval)

	token := cfg.Client.Token
	if token == "" && cfg.Client.APIKeyFile != "" {
		key, err := apikey.FromFile(cfg.Client.APIKeyFile)
		if err != nil {
			log.WithError(err).Error("Failed to load API key file")
			os.Exit(1)
		}
		token = key.Token()
		log.WithFields(logger.Fields{"key": key.String()}).Info("loaded API key")
	}

	client, err := ws.New(ws.Options{
		Token:             token,
		Network:           cfg.Client.Network,
		URL:               cfg.Client.URL,
		Channels:          cfg.Client.Channels,
		Mode:              ws.Mode(cfg.Dispatch.Mode),
		QueueSize:         cfg.Dispatch.QueueSize,
		SkipTLSVerify:     cfg.Client.SkipTLSVerify,
		HandshakeTimeout:  cfg.Client.HandshakeTimeout,
		RequestsPerSecond: float64(cfg.RateLimit.RequestsPerSecond),
		RequestBurst:      cfg.RateLimit.BurstSize,
	})
	if err != nil {
		log.WithError(err).Error("Failed to build session")
		os.Exit(1)
	}

	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		rec, err = recorder.New(cfg.Recorder)
		if err != nil {
			log.WithError(err).Error("Failed to create recorder")
			os.Exit(1)
		}
		if err := rec.Start(ctx); err != nil {
			log.WithError(err).Error("Failed to start recorder")
			os.Exit(1)
		}
	}

	for _, channel := range cfg.Client.Channels {
		switch {
		case strings.HasPrefix(channel, "orderbook:"):
			market := strings.TrimPrefix(channel, "orderbook:")
			book := ws.NewOrderbook(market, nil)
			client.RegisterHandler(channel, book)
			if rec != nil {
				client.RegisterHandler(channel, rec)
			}
		case channel == "account":
			orders := ws.NewOpenedOrders(func(order models.Order) {
				log.WithComponent("orders").WithFields(logger.Fields{
					"market": order.MarketID,
					"order":  order.ID,
					"status": order.Status,
				}).Info("order updated")
			})
			positions := ws.NewPositions(func(position models.Position) {
				log.WithComponent("positions").WithFields(logger.Fields{
					"market": position.MarketID,
					"side":   position.Side,
					"size":   position.Size.String(),
				}).Info("position updated")
			})
			client.RegisterHandler(channel, orders)
			client.RegisterHandler(channel, positions)
		}
	}

	if err := client.Start(); err != nil {
		log.WithError(err).Error("Failed to start session")
		os.Exit(1)
	}
	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case <-client.Done():
		log.WithError(client.Err()).Error("session ended")
	}

	log.Info("starting graceful shutdown")
	client.Stop()
	if rec != nil {
		rec.Stop()
	}
	cancel()

	log.Info("rabbitx client stopped")
}
