package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/nguyentranbao-ct/omni-inbox/internal/config"
	log "github.com/nguyentranbao-ct/omni-inbox/pkg/logger/log"
	"github.com/nguyentranbao-ct/omni-inbox/pkg/util"
)

// Reader is the part of kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Config() kafka.ReaderConfig
	Close() error
}

type kafkaConsumer struct {
	reader         Reader
	metrics        *prometheus.HistogramVec
	numWorkers     int
	consumeTimeout time.Duration
	messageHandler MessageHandler
	done           chan struct{}
	stopOnce       sync.Once
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler MessageHandler) (Consumer, error) {
	if !cfg.Enabled {
		return &noopConsumer{}, nil
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		StartOffset: kafka.LastOffset,
	})
	return newConsumer(reader, cfg.Workers, cfg.ConsumeTimeout, handler)
}

func newConsumer(reader Reader, workers int, timeout time.Duration, handler MessageHandler) (*kafkaConsumer, error) {
	metrics, err := util.GetHistogramVec("kafka_messages_consumed", "result", "topic", "group")
	if err != nil {
		return nil, fmt.Errorf("get histogram vec: %w", err)
	}
	if workers <= 0 {
		workers = 1
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &kafkaConsumer{
		reader:         reader,
		metrics:        metrics,
		numWorkers:     workers,
		consumeTimeout: timeout,
		messageHandler: handler,
		done:           make(chan struct{}),
	}, nil
}

func (c *kafkaConsumer) Start(ctx context.Context) error {
	log.Infof(ctx, "Starting Kafka consumer for topic: %s", c.reader.Config().Topic)
	defer c.reader.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	if c.numWorkers == 1 {
		return c.startSingleWorker(ctx)
	}
	return c.startMultiWorker(ctx)
}

func (c *kafkaConsumer) Stop(ctx context.Context) error {
	log.Infof(ctx, "Stopping Kafka consumer")
	c.stopOnce.Do(func() { close(c.done) })
	return nil
}

// startSingleWorker keeps partition order, which keeps a status after the
// message it refers to.
func (c *kafkaConsumer) startSingleWorker(ctx context.Context) error {
	groupID := c.reader.Config().GroupID
	for ctx.Err() == nil {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			log.Errorw(ctx, "Error fetching message", "error", err)
			continue
		}

		c.processMessage(ctx, msg, groupID)

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			log.Errorw(ctx, "Failed to commit message", "error", err)
		}
	}
	return nil
}

func (c *kafkaConsumer) startMultiWorker(ctx context.Context) error {
	groupID := c.reader.Config().GroupID
	var g errgroup.Group
	g.SetLimit(c.numWorkers)

	for ctx.Err() == nil {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				break
			}
			log.Errorw(ctx, "Error fetching message", "error", err)
			continue
		}

		g.Go(func() error {
			c.processMessage(ctx, msg, groupID)
			if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
				log.Errorw(ctx, "Failed to commit message", "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *kafkaConsumer) processMessage(ctx context.Context, msg kafka.Message, groupID string) {
	start := time.Now()
	lagMs := start.Sub(msg.Time).Milliseconds()

	err := c.handle(ctx, msg)
	duration := time.Since(start)

	result := getResult(err)
	content := "success"
	if err != nil {
		content = err.Error()
	}

	log.Logw(ctx, getLogLevel(result), content,
		"result", result,
		"duration_ms", duration.Milliseconds(),
		"topic", msg.Topic,
		"partition", msg.Partition,
		"offset", msg.Offset,
		"lag_ms", lagMs,
		"key", string(msg.Key),
		"value", json.RawMessage(msg.Value),
	)

	c.metrics.
		WithLabelValues(result, msg.Topic, groupID).
		Observe(duration.Seconds())
}

func (c *kafkaConsumer) handle(msgCtx context.Context, msg kafka.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("PANIC RECOVER: %+v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(msgCtx, c.consumeTimeout)
	defer cancel()
	return c.messageHandler.HandleMessage(ctx, msg)
}

func getResult(err error) string {
	var skip *ErrSkip
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &skip):
		return "skipped"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	return "error"
}

func getLogLevel(result string) zapcore.Level {
	switch result {
	case "ok", "skipped":
		return zapcore.DebugLevel
	case "canceled":
		return zapcore.WarnLevel
	}
	return zapcore.ErrorLevel
}

// noopConsumer is used when Kafka is disabled
type noopConsumer struct{}

func (n *noopConsumer) Start(ctx context.Context) error {
	log.Infof(ctx, "Kafka consumer is disabled")
	return nil
}

func (n *noopConsumer) Stop(ctx context.Context) error {
	return nil
}
