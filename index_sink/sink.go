package index_sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/tidwall/gjson"
	"github.com/turbot/tailpipe-firehose-processor/constants"
	"github.com/turbot/tailpipe-firehose-processor/helpers"
)

// path of the document id - @ is escaped as gjson treats it as a modifier prefix
const idPath = `\@id`

// BulkWriter writes a batch of JSON documents to an index
type BulkWriter interface {
	Bulk(ctx context.Context, docs []json.RawMessage) error
}

// Sink writes documents to a day-partitioned Elasticsearch index named <prefix>-<YYYY-MM-DD>
type Sink struct {
	client      *elasticsearch.Client
	prefix      string
	maxAttempts int
	retryDelay  time.Duration
	settings    IndexSettings
	now         func() time.Time

	mu sync.Mutex
	// the index already known to exist
	ensured string
}

type Option func(*Sink)

func WithIndexPrefix(prefix string) Option {
	return func(s *Sink) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

func WithRetry(maxAttempts int, delay time.Duration) Option {
	return func(s *Sink) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		s.retryDelay = delay
	}
}

func WithIndexSettings(settings IndexSettings) Option {
	return func(s *Sink) {
		s.settings = settings
	}
}

func withClock(now func() time.Time) Option {
	return func(s *Sink) {
		s.now = now
	}
}

func NewSink(client *elasticsearch.Client, opts ...Option) *Sink {
	s := &Sink{
		client:      client,
		prefix:      constants.DefaultIndexPrefix,
		maxAttempts: constants.DefaultSinkMaxAttempts,
		retryDelay:  constants.DefaultSinkRetryDelay,
		settings:    DefaultIndexSettings(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IndexName returns the name of the index for the current day
func (s *Sink) IndexName() string {
	return s.prefix + "-" + helpers.DayPartition(s.now())
}

// EnsureIndex creates the index for the current day if it does not exist.
// The check is made once per day, losing a creation race to another writer is not an error.
func (s *Sink) EnsureIndex(ctx context.Context) (string, error) {
	name := s.IndexName()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured == name {
		return name, nil
	}

	err := s.retry(ctx, func() error {
		exists, err := s.indexExists(ctx, name)
		if err != nil || exists {
			return err
		}
		return s.createIndex(ctx, name)
	})
	if err != nil {
		return "", fmt.Errorf("failed to ensure index %s: %w", name, err)
	}
	s.ensured = name
	return name, nil
}

func (s *Sink) indexExists(ctx context.Context, name string) (bool, error) {
	res, err := s.client.Indices.Exists([]string{name}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, err
	}
	defer drain(res.Body)

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("index exists check returned %s", res.Status())
	}
}

func (s *Sink) createIndex(ctx context.Context, name string) error {
	body, err := json.Marshal(s.settings.body())
	if err != nil {
		return backoff.Permanent(err)
	}
	res, err := s.client.Indices.Create(name,
		s.client.Indices.Create.WithBody(bytes.NewReader(body)),
		s.client.Indices.Create.WithContext(ctx))
	if err != nil {
		return err
	}
	defer drain(res.Body)

	if !res.IsError() {
		slog.Info("Created index", "index", name)
		return nil
	}
	respBody, _ := io.ReadAll(res.Body)
	if gjson.GetBytes(respBody, "error.type").String() == "resource_already_exists_exception" {
		slog.Debug("Index created concurrently", "index", name)
		return nil
	}
	return fmt.Errorf("create index returned %s: %s", res.Status(), respBody)
}

// Bulk indexes docs into the current day's index. Documents rejected with a retryable status
// (429 or 5xx) are retried, other rejections are logged and skipped.
func (s *Sink) Bulk(ctx context.Context, docs []json.RawMessage) error {
	if len(docs) == 0 {
		return nil
	}
	name, err := s.EnsureIndex(ctx)
	if err != nil {
		return err
	}

	pending := docs
	err = s.retry(ctx, func() error {
		failed, err := s.bulk(ctx, name, pending)
		if err != nil {
			return err
		}
		if len(failed) > 0 {
			pending = failed
			return fmt.Errorf("%d documents failed with a retryable status", len(failed))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("bulk write of %d documents to %s failed: %w", len(pending), name, err)
	}
	slog.Info("Bulk indexed documents", "index", name, "count", len(docs))
	return nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// bulk makes a single bulk call, returning the documents which should be retried
func (s *Sink) bulk(ctx context.Context, index string, docs []json.RawMessage) ([]json.RawMessage, error) {
	body, err := encodeBulkBody(index, docs)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	res, err := s.client.Bulk(bytes.NewReader(body), s.client.Bulk.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer drain(res.Body)
	if res.IsError() {
		return nil, fmt.Errorf("bulk request returned %s", res.Status())
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse bulk response: %w", err)
	}
	if !parsed.Errors {
		return nil, nil
	}

	var retry []json.RawMessage
	rejected := 0
	for i, item := range parsed.Items {
		if i >= len(docs) {
			break
		}
		for _, result := range item {
			if result.Error == nil {
				continue
			}
			if result.Status == http.StatusTooManyRequests || result.Status >= http.StatusInternalServerError {
				retry = append(retry, docs[i])
				continue
			}
			rejected++
			slog.Warn("Document rejected by index", "index", index, "status", result.Status, "type", result.Error.Type, "reason", result.Error.Reason)
		}
	}
	if rejected > 0 {
		slog.Error("Documents rejected by index", "index", index, "rejected", rejected)
	}
	return retry, nil
}

// encodeBulkBody builds the newline delimited bulk request body
func encodeBulkBody(index string, docs []json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	for _, doc := range docs {
		action, err := json.Marshal(bulkAction(index, doc))
		if err != nil {
			return nil, err
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, doc); err != nil {
			return nil, fmt.Errorf("invalid document: %w", err)
		}
		buf.Write(action)
		buf.WriteByte('\n')
		buf.Write(compact.Bytes())
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func bulkAction(index string, doc json.RawMessage) map[string]map[string]string {
	meta := map[string]string{"_index": index}
	// the log event id is unique - using it as the document id means a retried write replaces rather than duplicates
	if id := gjson.GetBytes(doc, idPath).String(); id != "" {
		meta["_id"] = id
	}
	return map[string]map[string]string{"index": meta}
}

// EstimatedSize is the number of bytes doc adds to a bulk request body
func EstimatedSize(doc json.RawMessage) int64 {
	// action line plus two newlines
	const actionOverhead = 96
	return int64(len(doc)) + actionOverhead
}

func (s *Sink) retry(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.retryDelay), uint64(s.maxAttempts-1)),
		ctx)
	notify := func(err error, d time.Duration) {
		slog.Warn("Elasticsearch request failed, retrying", "error", err, "delay", d)
	}
	err := backoff.RetryNotify(op, policy, notify)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
