// Worker consumes queued emails from Kafka (written by the server with MAIL_BACKEND=kafka) and
// delivers them over SMTP, or through the mail API when MAIL_API_URL is set.
// Set KAFKA_BROKERS, NOTIFY_KAFKA_TOPIC and KAFKA_GROUP_ID.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"inclusion-platform/backend/internal/config"
	"inclusion-platform/backend/internal/logger"
	"inclusion-platform/backend/internal/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zlog, err := logger.New(logger.Options{Level: cfg.LogLevel, Output: cfg.LogOutput, Path: cfg.LogPath})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		zlog.Fatal("worker: KAFKA_BROKERS is required")
	}

	var delivery notify.Mailer
	if cfg.MailAPIURL != "" {
		delivery = notify.NewAPIMailer(cfg.MailAPIURL, cfg.MailAPIKey, cfg.DefaultFromEmail)
	} else {
		delivery = notify.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.DefaultFromEmail)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.NotifyKafkaTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       1e6,
		MaxWait:        time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zlog.Info("worker: consuming", zap.String("topic", cfg.NotifyKafkaTopic), zap.String("group", cfg.KafkaGroupID))
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				zlog.Info("worker: stopped")
				return
			}
			zlog.Warn("worker: kafka read", zap.Error(err))
			continue
		}
		deliver(ctx, delivery, msg.Value, zlog)
	}
}

// deliver sends one queued message. Undecodable and undeliverable messages are logged and dropped;
// the consumer group offset still advances.
func deliver(ctx context.Context, m notify.Mailer, value []byte, zlog *zap.Logger) {
	queued, err := notify.DecodeQueued(value)
	if err != nil {
		zlog.Error("worker: bad message", zap.Error(err))
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := m.Send(sendCtx, queued); err != nil {
		zlog.Error("worker: delivery failed", zap.String("kind", queued.Kind), zap.Strings("to", queued.To), zap.Error(err))
		return
	}
	zlog.Debug("worker: delivered", zap.String("kind", queued.Kind), zap.Strings("to", queued.To))
}
