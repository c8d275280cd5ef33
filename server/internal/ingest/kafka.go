package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

const kafkaPollTimeout = 5 * time.Second

// KafkaOptions configures the Kafka consumer.
type KafkaOptions struct {
	Brokers []string
	Topic   string
	GroupID string
}

// messageReader is the subset of *kafka.Reader the consumer loop needs.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// RunKafka consumes opts.Topic as part of opts.GroupID and feeds messages to
// sink until ctx is cancelled or the reader is closed.
func RunKafka(ctx context.Context, opts KafkaOptions, sink *Sink) error {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     opts.Brokers,
		GroupID:     opts.GroupID,
		Topic:       opts.Topic,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	defer r.Close()

	slog.Info("ingest: kafka consumer started",
		"brokers", strings.Join(opts.Brokers, ","), "topic", opts.Topic, "group", opts.GroupID)
	defer slog.Info("ingest: kafka consumer stopped", "topic", opts.Topic)
	return consume(ctx, r, sink)
}

// consume runs the fetch, store, commit loop. Messages that fail to decode
// or store are logged and committed so a poison message cannot stall the
// partition.
func consume(ctx context.Context, r messageReader, sink *Sink) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		fetchCtx, cancel := context.WithTimeout(ctx, kafkaPollTimeout)
		msg, err := r.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			switch {
			case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
				continue
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrClosedPipe), errors.Is(err, kafka.ErrGroupClosed):
				return nil
			}
			slog.Error("ingest: kafka fetch", "err", err)
			continue
		}

		if err := sink.Handle(ctx, msg.Value, string(msg.Key)); err != nil {
			slog.Warn("ingest: kafka message rejected", "partition", msg.Partition, "offset", msg.Offset, "err", err)
		}

		commitCtx, commitCancel := context.WithTimeout(ctx, kafkaPollTimeout)
		if err := r.CommitMessages(commitCtx, msg); err != nil && ctx.Err() == nil {
			slog.Error("ingest: kafka commit", "offset", msg.Offset, "err", err)
		}
		commitCancel()
	}
}
