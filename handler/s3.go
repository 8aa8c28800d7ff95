package handler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	"github.com/turbot/tailpipe-firehose-processor/indexer"
	"github.com/turbot/tailpipe-firehose-processor/metrics"
	"github.com/turbot/tailpipe-firehose-processor/notifier"
)

// MetricsPublisher publishes the counts gathered during an invocation
type MetricsPublisher interface {
	Publish(ctx context.Context, counts []metrics.Count) error
}

// S3Handler indexes the objects named by S3 event notifications
type S3Handler struct {
	indexer   *indexer.Indexer
	bucket    string
	filter    *notifier.Filter
	sink      notifier.Sink
	notifyOps []notifier.Option
	publisher MetricsPublisher
}

type S3Option func(*S3Handler)

// WithNotifications passes every indexed document through a notifier built from filter and sink
func WithNotifications(filter *notifier.Filter, sink notifier.Sink, opts ...notifier.Option) S3Option {
	return func(h *S3Handler) {
		h.filter = filter
		h.sink = sink
		h.notifyOps = opts
	}
}

func WithMetricsPublisher(p MetricsPublisher) S3Option {
	return func(h *S3Handler) {
		h.publisher = p
	}
}

func NewS3Handler(idx *indexer.Indexer, bucket string, opts ...S3Option) *S3Handler {
	h := &S3Handler{indexer: idx, bucket: bucket}
	for _, opt := range opts {
		opt(h)
	}
	if h.filter == nil {
		// matches nothing, documents are still counted
		h.filter, _ = notifier.NewFilter(nil, nil, nil)
	}
	return h
}

// Handle indexes each object of the event. Every object is attempted; the returned error joins
// the failures so the event is retried. Counters are published once, even when indexing fails.
func (h *S3Handler) Handle(ctx context.Context, event events.S3Event) error {
	counters := metrics.NewCounters()
	n := notifier.New(h.sink, h.filter, append([]notifier.Option{notifier.WithCounters(counters)}, h.notifyOps...)...)

	var errs []error
	for _, record := range event.Records {
		bucket, key := record.S3.Bucket.Name, record.S3.Object.URLDecodedKey
		if key == "" {
			key = record.S3.Object.Key
		}
		if bucket != h.bucket {
			slog.Warn("Ignoring object in unexpected bucket", "bucket", bucket, "key", key, "expected", h.bucket)
			continue
		}
		if _, err := h.indexer.IndexObject(ctx, key, n); err != nil {
			slog.Error("Failed to index object", "bucket", bucket, "key", key, "error", err)
			errs = append(errs, err)
		}
	}

	if report := n.ErrorReport(); len(report) > 0 {
		slog.Info("Notification report", "distinct", len(report), "rate_limited", n.RateLimited())
	}
	h.publish(ctx, counters)
	return errors.Join(errs...)
}

func (h *S3Handler) publish(ctx context.Context, counters *metrics.Counters) {
	if h.publisher == nil {
		return
	}
	counts, err := counters.Report()
	if err == nil {
		err = h.publisher.Publish(ctx, counts)
	}
	if err != nil {
		slog.Error("Failed to publish metrics", "error", err)
	}
}
