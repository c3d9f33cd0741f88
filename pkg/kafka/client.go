// Package kafka carries ingestion tasks between the HTTP layer and the
// pipeline worker.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"carenotes-go/internal/config"
	"carenotes-go/pkg/log"
	"carenotes-go/pkg/tasks"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// TaskProcessor is anything that can run one ingestion task. It
// decouples the consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	ProcessTask(ctx context.Context, task tasks.IngestTask) error
}

// Producer publishes ingestion tasks.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates a Producer for the configured topic.
func NewProducer(cfg config.KafkaConfig) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers),
			Topic:    cfg.Topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// Produce publishes one ingestion task.
func (p *Producer) Produce(ctx context.Context, task tasks.IngestTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.TaskID),
		Value: taskBytes,
	})
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

const maxTaskAttempts = 3

// StartConsumer pulls ingestion tasks and hands them to the processor.
// Failed tasks are retried up to maxTaskAttempts times; the attempt
// count lives in Redis so retries survive consumer restarts.
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor TaskProcessor, rdb *redis.Client) {
	groupID := cfg.GroupID
	if groupID == "" {
		groupID = "carenotes-ingest"
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    cfg.Topic,
		GroupID:  groupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("failed to close kafka reader: %v", err)
		}
	}()

	log.Infof("ingestion consumer listening on topic %q", cfg.Topic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("failed to fetch kafka message", err)
			return
		}

		var task tasks.IngestTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			log.Errorf("undecodable ingest task, committing to unblock queue: %v", err)
			if err := r.CommitMessages(ctx, m); err != nil {
				log.Errorf("failed to commit malformed message: %v", err)
			}
			continue
		}

		log.Infof("processing ingest task %s (file=%s)", task.TaskID, task.FileName)
		if err := processor.ProcessTask(ctx, task); err != nil {
			log.Errorf("ingest task %s failed: %v", task.TaskID, err)
			attemptsKey := fmt.Sprintf("ingest:attempts:%s", task.TaskID)
			attempts, incErr := rdb.Incr(ctx, attemptsKey).Result()
			if incErr != nil {
				// Without the counter we cannot bound retries, so let
				// Kafka redeliver.
				continue
			}
			_ = rdb.Expire(ctx, attemptsKey, 24*time.Hour).Err()
			if attempts >= maxTaskAttempts {
				log.Errorf("ingest task %s failed %d times, giving up", task.TaskID, attempts)
				if err := r.CommitMessages(ctx, m); err != nil {
					log.Errorf("failed to commit exhausted task: %v", err)
				}
			}
			continue
		}

		_ = rdb.Del(ctx, fmt.Sprintf("ingest:attempts:%s", task.TaskID)).Err()
		if err := r.CommitMessages(ctx, m); err != nil {
			log.Errorf("failed to commit task offset: %v", err)
		}
	}
}
