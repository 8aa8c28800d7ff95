package transmitter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/turbot/tailpipe-firehose-processor/constants"
	"github.com/turbot/tailpipe-firehose-processor/helpers"
)

// OverflowRecord is an encoded document queued for re-ingestion into the delivery stream
type OverflowRecord struct {
	Data []byte
}

// BatchPutter is the subset of the Firehose API used to re-ingest records.
// A returned error means every record of the call failed. Otherwise failed is the
// indices (into records) which the destination rejected.
type BatchPutter interface {
	PutRecordBatch(ctx context.Context, stream string, records []OverflowRecord) (failed []int, err error)
}

// ExhaustedError is returned when records could not be delivered within the attempt limit.
// The records are lost unless the caller fails the invocation.
type ExhaustedError struct {
	Stream   string
	Attempts int
	Failed   int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("could not put %d records to %s after %d attempts", e.Failed, e.Stream, e.Attempts)
}

// Transmitter delivers overflow records to a delivery stream in fixed size chunks,
// retrying failed records with a fixed delay between rounds
type Transmitter struct {
	client      BatchPutter
	chunkSize   int
	maxAttempts int
	retryDelay  time.Duration
	sleep       func(context.Context, time.Duration) error
}

type Option func(*Transmitter)

func WithChunkSize(size int) Option {
	return func(t *Transmitter) {
		if size > 0 {
			t.chunkSize = size
		}
	}
}

func WithMaxAttempts(attempts int) Option {
	return func(t *Transmitter) {
		if attempts > 0 {
			t.maxAttempts = attempts
		}
	}
}

func WithRetryDelay(delay time.Duration) Option {
	return func(t *Transmitter) {
		t.retryDelay = delay
	}
}

func NewTransmitter(client BatchPutter, opts ...Option) *Transmitter {
	t := &Transmitter{
		client:      client,
		chunkSize:   constants.DefaultTransmitChunkSize,
		maxAttempts: constants.DefaultTransmitMaxAttempts,
		retryDelay:  constants.DefaultTransmitRetryDelay,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transmit sends all records to the stream. Each chunk is retried independently: records which fail
// form the worklist for the next round. Returns an *ExhaustedError if any chunk still has failures
// after the attempt limit, or the context error if cancelled before all chunks were sent.
func (t *Transmitter) Transmit(ctx context.Context, stream string, records []OverflowRecord) error {
	chunks := helpers.Chunk(records, t.chunkSize)
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("transmit cancelled with %d of %d chunks unsent: %w", len(chunks)-i, len(chunks), err)
		}
		slog.Info("Re-ingesting records", "stream", stream, "count", len(chunk), "chunk", i+1, "chunks", len(chunks))
		if err := t.transmitChunk(ctx, stream, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transmitter) transmitChunk(ctx context.Context, stream string, chunk []OverflowRecord) error {
	pending := chunk
	for attempt := 1; ; attempt++ {
		pending = t.putRecords(ctx, stream, pending)
		if len(pending) == 0 {
			return nil
		}
		if attempt >= t.maxAttempts {
			return &ExhaustedError{Stream: stream, Attempts: attempt, Failed: len(pending)}
		}
		slog.Warn("Some records failed to put, retrying", "stream", stream, "failed", len(pending), "attempt", attempt)
		if err := t.sleep(ctx, t.retryDelay); err != nil {
			return fmt.Errorf("transmit cancelled with %d records pending: %w", len(pending), err)
		}
	}
}

// putRecords makes a single call and returns the records which failed
func (t *Transmitter) putRecords(ctx context.Context, stream string, records []OverflowRecord) []OverflowRecord {
	failed, err := t.client.PutRecordBatch(ctx, stream, records)
	if err != nil {
		slog.Warn("PutRecordBatch failed", "stream", stream, "count", len(records), "error", err)
		return records
	}
	if len(failed) == 0 {
		return nil
	}
	retry := make([]OverflowRecord, 0, len(failed))
	for _, idx := range failed {
		if idx >= 0 && idx < len(records) {
			retry = append(retry, records[idx])
		}
	}
	return retry
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
