package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/franckdigital/xamila-backend-sub001/internal/util"
)

type MessageProducer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

type MessageConsumer interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessage(ctx context.Context, msg kafka.Message) error
}

// Kafka publishes jobs keyed by profile id so one profile's jobs land on
// one partition in order.
type Kafka struct {
	producer MessageProducer
	topic    string
}

func NewKafka(producer MessageProducer, topic string) *Kafka {
	return &Kafka{producer: producer, topic: topic}
}

func (q *Kafka) Enqueue(ctx context.Context, job Job) error {
	value, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	headers := map[string]string{"kind": string(job.Kind)}
	return q.producer.ProduceMessage(ctx, q.topic, []byte(job.ProfileID.String()), value, headers)
}

// Consume feeds jobs from consumer to h until ctx is cancelled. Offsets
// are committed after handling; undecodable and failed jobs are logged
// and committed so the partition keeps moving.
func Consume(ctx context.Context, consumer MessageConsumer, h Handler) error {
	for {
		msg, err := consumer.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			util.Error("Failed to fetch verification job", util.ErrorField(err))
			continue
		}

		var job Job
		if err := json.Unmarshal(msg.Value, &job); err != nil {
			util.Error("Dropping undecodable verification job",
				util.Int64("offset", msg.Offset),
				util.ErrorField(err))
		} else if err := h(ctx, job); err != nil {
			util.Error("Verification job failed",
				util.String("kind", string(job.Kind)),
				util.String("profile_id", job.ProfileID.String()),
				util.Int64("offset", msg.Offset),
				util.ErrorField(err))
		}

		if err := consumer.CommitMessage(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			util.Error("Failed to commit verification job", util.Int64("offset", msg.Offset), util.ErrorField(err))
		}
	}
}
