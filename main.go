package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"chitchat/auth"
	"chitchat/chat"
	"chitchat/config"
	"chitchat/discovery"
	"chitchat/httpapi"
	"chitchat/logging"
	"chitchat/network"
	"chitchat/push"
	"chitchat/storage"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithField("error", err).Warn("could not load .env")
	}

	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		logrus.WithField("error", err).Fatal("startup failed while loading config")
	}
	if err := logging.Configure(cfg.LogLevel, cfg.LogFormat); err != nil {
		logrus.WithField("error", err).Fatal("startup failed while configuring logging")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, cfgPath); err != nil {
		logrus.WithField("error", err).Fatal("server stopped with error")
	}
	logrus.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.ServerConfig, cfgPath string) error {
	log := logrus.WithField("component", "main")
	log.WithFields(logrus.Fields{
		"instance_id": cfg.InstanceID,
		"server_name": cfg.ServerName,
		"config":      cfgPath,
		"database":    cfg.DatabasePath,
	}).Info("starting chitchat")

	store, err := storage.OpenPath(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithField("error", err).Error("database close error")
		}
	}()
	store.SetSecurityEventRetention(time.Duration(cfg.SecurityEventRetentionDay) * 24 * time.Hour)

	repaired, err := store.ReconcileUnread(ctx)
	if err != nil {
		return err
	}
	if repaired > 0 {
		log.WithField("repaired", repaired).Warn("unread counters reconciled from message rows")
	}

	verifier, err := auth.NewJWTVerifier(cfg.JWTSecret)
	if err != nil {
		return err
	}

	sender, err := newPushSender(ctx, cfg.FirebaseCredentialsFile)
	if err != nil {
		return err
	}
	dispatcher := push.NewDispatcher(sender, store, cfg.PushWorkers, cfg.PushQueueSize, push.DefaultTimeout)

	service := chat.NewService(chat.NewRegistry(chat.NewPresence()), store, store, dispatcher)

	tcpServer, err := network.Listen(cfg.TCPAddress, network.ServerOptions{
		Verifier:          verifier,
		Events:            store,
		KeepAliveInterval: time.Duration(cfg.KeepAliveIntervalSeconds) * time.Second,
		KeepAliveTimeout:  time.Duration(cfg.KeepAliveTimeoutSeconds) * time.Second,
	})
	if err != nil {
		return err
	}
	log.WithField("address", tcpServer.Addr().String()).Info("tcp listening")

	httpServer := httpapi.New(service, store, verifier, httpapi.Options{
		HistoryDefaultLimit: cfg.HistoryDefaultLimit,
		HistoryMaxLimit:     cfg.HistoryMaxLimit,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return tcpServer.Run(gctx, service) })
	g.Go(func() error { return httpServer.Listen(cfg.HTTPAddress) })
	g.Go(func() error {
		<-gctx.Done()
		if err := httpServer.Shutdown(shutdownTimeout); err != nil {
			log.WithField("error", err).Warn("http shutdown")
		}
		return nil
	})

	if cfg.DiscoveryEnabled {
		g.Go(func() error {
			if err := advertise(gctx, cfg); err != nil {
				log.WithField("error", err).Warn("discovery unavailable")
			}
			return nil
		})
	}

	<-gctx.Done()
	log.Info("shutting down")
	return g.Wait()
}

func newPushSender(ctx context.Context, credentialsFile string) (push.Sender, error) {
	if credentialsFile == "" {
		logrus.WithField("component", "push").Info("no firebase credentials configured, push notifications are logged only")
		return push.LogSender{}, nil
	}
	return push.NewFCMSender(ctx, credentialsFile)
}

func advertise(ctx context.Context, cfg *config.ServerConfig) error {
	httpPort, err := discovery.PortOf(cfg.HTTPAddress)
	if err != nil {
		return err
	}
	tcpPort, err := discovery.PortOf(cfg.TCPAddress)
	if err != nil {
		return err
	}
	return discovery.Run(ctx, discovery.Config{
		InstanceID: cfg.InstanceID,
		ServerName: cfg.ServerName,
		HTTPPort:   httpPort,
		TCPPort:    tcpPort,
	})
}
