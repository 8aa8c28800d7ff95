package index_sink

import (
	"context"
	"encoding/json"

	"github.com/c2h5oh/datasize"
	"github.com/turbot/tailpipe-firehose-processor/constants"
)

// Batcher accumulates documents and writes them in bulk calls of at most maxBytes (estimated).
// A single document larger than maxBytes is written on its own.
type Batcher struct {
	writer   BulkWriter
	maxBytes int64

	pending []json.RawMessage
	size    int64
	written int
}

func NewBatcher(writer BulkWriter, maxBytes datasize.ByteSize) *Batcher {
	if maxBytes == 0 {
		maxBytes = constants.DefaultMaxBulkSize
	}
	return &Batcher{writer: writer, maxBytes: int64(maxBytes.Bytes())}
}

// Add queues doc, flushing the queued documents first if doc would take the batch over budget
func (b *Batcher) Add(ctx context.Context, doc json.RawMessage) error {
	size := EstimatedSize(doc)
	if len(b.pending) > 0 && b.size+size > b.maxBytes {
		if err := b.Flush(ctx); err != nil {
			return err
		}
	}
	b.pending = append(b.pending, doc)
	b.size += size
	return nil
}

// Flush writes any queued documents
func (b *Batcher) Flush(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}
	if err := b.writer.Bulk(ctx, b.pending); err != nil {
		return err
	}
	b.written += len(b.pending)
	b.pending = nil
	b.size = 0
	return nil
}

// Written returns the number of documents successfully flushed
func (b *Batcher) Written() int {
	return b.written
}
