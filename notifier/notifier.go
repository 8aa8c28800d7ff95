package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/turbot/tailpipe-firehose-processor/constants"
	"github.com/turbot/tailpipe-firehose-processor/enrichment"
	"github.com/turbot/tailpipe-firehose-processor/metrics"
)

// ErrRateLimited is returned by a Sink when the notification service refuses further notices
var ErrRateLimited = errors.New("notification service rate limited")

// Sink submits a single notification
type Sink interface {
	Send(ctx context.Context, message string) error
}

// Notifier forwards interesting log messages to a Sink and counts every document it sees.
// A Notifier is scoped to one invocation and is not safe for concurrent use.
type Notifier struct {
	sink             Sink
	filter           *Filter
	counters         *metrics.Counters
	maxNotifications int

	notified    int
	rateLimited bool
	errorReport map[string]int
}

type Option func(*Notifier)

func WithMaxNotifications(max int) Option {
	return func(n *Notifier) {
		if max > 0 {
			n.maxNotifications = max
		}
	}
}

func WithCounters(c *metrics.Counters) Option {
	return func(n *Notifier) {
		n.counters = c
	}
}

func New(sink Sink, filter *Filter, opts ...Option) *Notifier {
	n := &Notifier{
		sink:             sink,
		filter:           filter,
		counters:         metrics.NewCounters(),
		maxNotifications: constants.DefaultMaxNotifications,
		errorReport:      make(map[string]int),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify examines doc, submitting a notification if it matches the filter. Sink failures
// are logged and never returned.
func (n *Notifier) Notify(ctx context.Context, doc *enrichment.Document) {
	matched := n.filter.Matches(doc.Message, doc.LogGroup)
	n.counters.Observe(doc.LogGroup, matched)
	if !matched {
		return
	}

	notice := fmt.Sprintf("%s %s @log_stream: %s", doc.LogGroup, doc.Message, doc.LogStream)
	n.errorReport[notice]++
	n.notified++
	// the cap counts matches, including this one
	if n.rateLimited || n.sink == nil || n.notified > n.maxNotifications {
		return
	}

	err := n.sink.Send(ctx, notice)
	switch {
	case err == nil:
	case errors.Is(err, ErrRateLimited):
		slog.Warn("Notification service rate limited, suppressing further notifications")
		n.rateLimited = true
	default:
		slog.Error("Notification failed", "log_group", doc.LogGroup, "error", err)
	}
}

// NotifyAll calls Notify for each document
func (n *Notifier) NotifyAll(ctx context.Context, docs []*enrichment.Document) {
	for _, doc := range docs {
		n.Notify(ctx, doc)
	}
}

// ErrorReport returns the number of times each notice was raised
func (n *Notifier) ErrorReport() map[string]int {
	return n.errorReport
}

// Report returns the per log group counters
func (n *Notifier) Report() ([]metrics.Count, error) {
	return n.counters.Report()
}

func (n *Notifier) RateLimited() bool {
	return n.rateLimited
}
