package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/c2h5oh/datasize"
	"github.com/tidwall/gjson"
	"github.com/turbot/tailpipe-firehose-processor/artifact_source"
	"github.com/turbot/tailpipe-firehose-processor/constants"
	"github.com/turbot/tailpipe-firehose-processor/enrichment"
	"github.com/turbot/tailpipe-firehose-processor/index_sink"
	"github.com/turbot/tailpipe-firehose-processor/notifier"
)

// Stats describes what indexing one object did
type Stats struct {
	Key string
	// subscription envelopes read
	Envelopes int
	// envelopes without log events
	Skipped int
	// objects which were not valid JSON
	Invalid int
	// documents written, both transformed and already enriched
	Documents int
}

// Indexer indexes the log events in the objects Firehose delivers to S3
type Indexer struct {
	source      *artifact_source.S3Source
	sink        index_sink.BulkWriter
	transformer *enrichment.Transformer
	maxBulkSize datasize.ByteSize
}

type Option func(*Indexer)

func WithMaxBulkSize(size datasize.ByteSize) Option {
	return func(i *Indexer) {
		if size > 0 {
			i.maxBulkSize = size
		}
	}
}

func WithTransformer(t *enrichment.Transformer) Option {
	return func(i *Indexer) {
		i.transformer = t
	}
}

func New(source *artifact_source.S3Source, sink index_sink.BulkWriter, opts ...Option) *Indexer {
	i := &Indexer{
		source:      source,
		sink:        sink,
		transformer: enrichment.NewTransformer(),
		maxBulkSize: constants.DefaultMaxBulkSize,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// IndexObject writes every log event of the object at key to the sink, then deletes the object.
// The object is only deleted if every document was written. Documents are passed to n (if set) once
// they have been written, so a failed write sends no notices for the unwritten documents.
func (i *Indexer) IndexObject(ctx context.Context, key string, n *notifier.Notifier) (Stats, error) {
	stats := Stats{Key: key}

	reader, err := i.source.Objects(ctx, key)
	if err != nil {
		return stats, err
	}
	defer reader.Close()

	batcher := index_sink.NewBatcher(i.sink, i.maxBulkSize)
	// documents added to the batcher but not yet notified, in write order
	var unnotified []*enrichment.Document
	notifyWritten := func() {
		written := batcher.Written() - stats.Documents
		if n != nil {
			n.NotifyAll(ctx, unnotified[:written])
		}
		unnotified = unnotified[written:]
		stats.Documents += written
	}

	for reader.Next() {
		docs, err := i.documents(reader.Raw(), &stats)
		if err != nil {
			stats.Invalid++
			slog.Warn("Skipping invalid object", "key", key, "index", reader.Count(), "error", err)
			continue
		}
		for _, doc := range docs {
			if err := batcher.Add(ctx, doc.raw); err != nil {
				return stats, fmt.Errorf("failed to index %s: %w", key, err)
			}
			unnotified = append(unnotified, doc.parsed)
			notifyWritten()
		}
	}
	if err := reader.Err(); err != nil {
		return stats, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := batcher.Flush(ctx); err != nil {
		return stats, fmt.Errorf("failed to index %s: %w", key, err)
	}
	notifyWritten()

	if err := i.source.Delete(ctx, key); err != nil {
		return stats, err
	}
	slog.Info("Indexed object", "key", key, "envelopes", stats.Envelopes, "documents", stats.Documents, "skipped", stats.Skipped, "invalid", stats.Invalid)
	return stats, nil
}

type document struct {
	parsed *enrichment.Document
	raw    json.RawMessage
}

// isEnvelope reports whether raw is a subscription envelope rather than an enriched document.
// Enriched documents may carry a promoted messageType, so the canonical fields are checked first.
func isEnvelope(raw []byte) bool {
	probes := gjson.GetManyBytes(raw, `\`+constants.FieldMessage, `\`+constants.FieldID, "messageType")
	if probes[0].Exists() || probes[1].Exists() {
		return false
	}
	return probes[2].Exists()
}

// documents converts one JSON object of the stream: a subscription envelope becomes one document
// per event, anything else is taken to be a document enriched by the Firehose transformation
func (i *Indexer) documents(raw []byte, stats *Stats) ([]document, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("invalid JSON")
	}

	if !isEnvelope(raw) {
		var doc enrichment.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
		// copy, the stream reuses its buffer
		return []document{{parsed: &doc, raw: append(json.RawMessage(nil), raw...)}}, nil
	}

	stats.Envelopes++
	var env enrichment.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if !env.IsData() {
		stats.Skipped++
		return nil, nil
	}
	docs, err := i.transformer.Transform(&env)
	if err != nil {
		return nil, err
	}
	res := make([]document, 0, len(docs))
	for _, d := range docs {
		data, err := json.Marshal(d)
		if err != nil {
			return nil, err
		}
		res = append(res, document{parsed: d, raw: data})
	}
	return res, nil
}
