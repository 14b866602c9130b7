package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/logger"
	"github.com/hackgods/clinic-appointment-scheduling/internal/notify"
)

// notifier drains the appointment notification queue and emails patients.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log := logger.Must(cfg.Env)
	defer func() { _ = log.Sync() }()

	if cfg.AMQPURL == "" {
		log.Fatal("AMQP_URL is required")
	}
	if cfg.SMTP.Host == "" {
		log.Fatal("SMTP_HOST is required")
	}

	opts := []mail.Option{
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithPort(cfg.SMTP.Port),
		mail.WithUsername(cfg.SMTP.Username),
		mail.WithPassword(cfg.SMTP.Password),
		mail.WithTimeout(cfg.SMTP.DialTimeout),
	}
	if cfg.SMTP.Port == 465 {
		opts = append(opts, mail.WithSSL())
	}
	client, err := mail.NewClient(cfg.SMTP.Host, opts...)
	if err != nil {
		log.Fatal("create mail client", zap.Error(err))
	}

	from := cfg.SMTP.From
	if from == "" {
		from = cfg.SMTP.Username
	}
	mailer := notify.NewMailer(client, from)

	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		log.Fatal("amqp connection error", zap.Error(err))
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal("amqp channel error", zap.Error(err))
	}
	defer ch.Close()

	q, err := notify.DeclareQueue(ch, cfg.NotifyQueue)
	if err != nil {
		log.Fatal("declare queue error", zap.Error(err))
	}
	// One unacked message at a time keeps SMTP pressure predictable.
	if err := ch.Qos(1, 0, false); err != nil {
		log.Fatal("set qos", zap.Error(err))
	}

	deliveries, err := ch.Consume(
		q.Name,
		"",    // consumer tag assigned by the broker
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		log.Fatal("consume error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		notify.Consume(ctx, deliveries, mailer.Send, log)
	}()

	log.Info("waiting for notifications", zap.String("queue", q.Name))
	<-ctx.Done()

	log.Info("shutting down notifier")
	wg.Wait()
}
