package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/joao-fontenele/storefront/internal/config"
	"github.com/joao-fontenele/storefront/internal/email"
	"github.com/joao-fontenele/storefront/internal/messaging"
	"github.com/joao-fontenele/storefront/internal/notifications"
	"github.com/joao-fontenele/storefront/internal/telemetry"
)

const (
	serviceName    = "notification-worker"
	serviceVersion = "0.1.0"
	consumerGroup  = "notification-worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := cfg.RequireKafka(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.OTLPEndpoint, serviceName, serviceVersion)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	var sender email.Sender
	if cfg.SMTPEnabled() {
		sender = email.NewSMTPSender(email.SMTPConfig{
			Address:  cfg.SMTPAddress,
			Host:     cfg.SMTPHost,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		})
	} else {
		logger.Warn("SMTP_ADDRESS not set, emails will only be logged")
		sender = email.NewLogSender(logger)
	}

	handler := notifications.NewHandler(sender, logger)

	subscriptions := []struct {
		topic  string
		handle func(context.Context, []byte) error
	}{
		{messaging.TopicOrderCreated, handler.HandleOrderCreated},
		{messaging.TopicPaymentStatusChanged, handler.HandlePaymentStatusChanged},
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, sub := range subscriptions {
		consumer := messaging.NewConsumer(cfg.KafkaBrokers, sub.topic, consumerGroup,
			messaging.WithLogger(logger.With("consumer_group", consumerGroup)),
		)
		defer func() { _ = consumer.Close() }()

		g.Go(func() error {
			logger.Info("consuming", "topic", sub.topic, "brokers", cfg.KafkaBrokers)
			return consumer.Consume(ctx, sub.handle)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer error", "error", err)
		os.Exit(1)
	}
	logger.Info("consumers stopped")
}
