package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/K3NXXX/social-network-backend/internal/config"
	"github.com/K3NXXX/social-network-backend/internal/db"
	"github.com/K3NXXX/social-network-backend/internal/logger"
	"github.com/K3NXXX/social-network-backend/internal/notify"
	"github.com/K3NXXX/social-network-backend/internal/store/rabbitmq"
	"github.com/K3NXXX/social-network-backend/internal/users"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	maxRetries   = 5
	retryBase    = time.Second
	retryLimit   = 30 * time.Second
	slowJobAfter = 2 * time.Second
)

type retryFunc func(ctx context.Context, d amqp.Delivery, delay time.Duration) error

type consumer struct {
	svc   *notify.Service
	retry retryFunc
	log   *zap.Logger
}

// handle acks, retries or dead-letters one delivery.
func (c *consumer) handle(ctx context.Context, workerID int, d amqp.Delivery) {
	log := c.log.With(zap.Int("worker", workerID), zap.String("delivery", d.MessageId))

	job, err := rabbitmq.DecodeJob(d.Body)
	if err != nil {
		log.Warn("bad message", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	start := time.Now()
	n, err := c.svc.Handle(ctx, job)
	cost := time.Since(start)

	switch {
	case errors.Is(err, notify.ErrBadJob):
		log.Warn("bad job", zap.Any("job", job))
		_ = d.Nack(false, false)
		return
	case err != nil:
		attempt := rabbitmq.RetryCount(d)
		if attempt >= maxRetries {
			log.Error("job failed, dead-lettering", zap.Int("attempt", attempt), zap.Duration("cost", cost), zap.Error(err))
			_ = d.Nack(false, false)
			return
		}
		delay := rabbitmq.Backoff(attempt, retryBase, retryLimit)
		if rerr := c.retry(ctx, d, delay); rerr != nil {
			log.Error("retry publish failed, requeueing", zap.Error(rerr))
			_ = d.Nack(false, true)
			return
		}
		log.Warn("job failed, retry scheduled", zap.Int("attempt", attempt+1), zap.Duration("delay", delay), zap.Error(err))
		_ = d.Ack(false)
		return
	}

	if cost > slowJobAfter {
		log.Warn("job_timing", zap.String("notification", n.ID), zap.Duration("cost", cost))
	}
	if err := d.Ack(false); err != nil {
		log.Error("ack failed", zap.Error(err))
	}
}

func main() {
	cfg := config.Load()
	log := logger.Init(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	gdb := db.Connect(cfg.DBDSN)
	svc := notify.NewService(notify.NewRepo(gdb), users.NewDirectory(gdb))

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal("rabbit dial", zap.Error(err))
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal("rabbit channel", zap.Error(err))
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatal("queue declare", zap.Error(err))
	}

	//  strict concurrency control
	concurrency := cfg.WorkerConcurrency

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatal("qos", zap.Error(err))
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal("consume", zap.Error(err))
	}

	// retries go out on their own channel so they never share one with acks
	retryCh, err := conn.Channel()
	if err != nil {
		log.Fatal("rabbit retry channel", zap.Error(err))
	}
	defer retryCh.Close()
	var retryMu sync.Mutex

	c := &consumer{
		svc: svc,
		log: log,
		retry: func(ctx context.Context, d amqp.Delivery, delay time.Duration) error {
			retryMu.Lock()
			defer retryMu.Unlock()
			return rabbitmq.Retry(ctx, retryCh, cfg.RabbitQueue, d, delay)
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker started", zap.String("queue", cfg.RabbitQueue), zap.Int("concurrency", concurrency))

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				c.handle(ctx, workerID, d)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				// broker closed the channel; let the supervisor restart us
				log.Error("delivery channel closed")
				close(jobs)
				wg.Wait()
				os.Exit(1)
			}
			jobs <- d
		}
	}
}
