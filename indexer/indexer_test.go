package indexer

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/turbot/tailpipe-firehose-processor/artifact_source"
	"github.com/turbot/tailpipe-firehose-processor/metrics"
	"github.com/turbot/tailpipe-firehose-processor/notifier"
)

type fakeS3 struct {
	objects map[string][]byte
	deleted []string
}

func (f *fakeS3) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, errors.New("not found")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

type fakeWriter struct {
	docs  []json.RawMessage
	calls int
	err   error
}

func (f *fakeWriter) Bulk(_ context.Context, docs []json.RawMessage) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.docs = append(f.docs, docs...)
	return nil
}

func gzipped(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

const deliveredObject = `{"messageType":"DATA_MESSAGE","owner":"123","logGroup":"/app/web","logStream":"s1","logEvents":[` +
	`{"id":"e1","timestamp":1510109208016,"message":"Traceback {\"code\": 500}"},` +
	`{"id":"e2","timestamp":1510109208017,"message":"all good"}]}` +
	`{"messageType":"CONTROL_MESSAGE","logEvents":[]}` + "\n" +
	`{"@message":"already enriched","@id":"e3","@log_group":"/app/worker"}` +
	`{not json}`

func newTestIndexer(api *fakeS3, writer *fakeWriter) *Indexer {
	source := artifact_source.NewS3SourceWithAPI(api, "bucket", artifact_source.WithRetry(1, 0))
	return New(source, writer, WithMaxBulkSize(datasize.MB))
}

func TestIndexer_IndexObject(t *testing.T) {
	api := &fakeS3{objects: map[string][]byte{"key": gzipped(t, deliveredObject)}}
	writer := &fakeWriter{}

	filter, err := notifier.NewFilter(nil, []string{"traceback"}, nil)
	require.NoError(t, err)
	counters := metrics.NewCounters()
	n := notifier.New(nil, filter, notifier.WithCounters(counters))

	stats, err := newTestIndexer(api, writer).IndexObject(context.Background(), "key", n)
	require.NoError(t, err)

	assert.Equal(t, Stats{Key: "key", Envelopes: 2, Skipped: 1, Invalid: 1, Documents: 3}, stats)
	require.Len(t, writer.docs, 3)
	assert.Equal(t, "e1", gjson.GetBytes(writer.docs[0], `\@id`).String())
	assert.Equal(t, "500", gjson.GetBytes(writer.docs[0], "code").String())
	assert.Equal(t, "2017-11-08T02:46:48.016Z", gjson.GetBytes(writer.docs[0], `\@timestamp`).String())
	assert.JSONEq(t, `{"@message":"already enriched","@id":"e3","@log_group":"/app/worker"}`, string(writer.docs[2]))
	assert.Equal(t, []string{"key"}, api.deleted)

	report, err := counters.Report()
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{metrics.CountErrors: 1, metrics.CountTotal: 3}, metrics.TotalsByType(report))
}

func TestIndexer_SinkFailureKeepsObject(t *testing.T) {
	api := &fakeS3{objects: map[string][]byte{"key": gzipped(t, deliveredObject)}}
	writer := &fakeWriter{err: errors.New("cluster unavailable")}

	_, err := newTestIndexer(api, writer).IndexObject(context.Background(), "key", nil)
	require.Error(t, err)
	assert.Empty(t, api.deleted)
}

func TestIndexer_CorruptObjectKept(t *testing.T) {
	data := gzipped(t, deliveredObject)
	api := &fakeS3{objects: map[string][]byte{"key": data[:len(data)-10]}}
	writer := &fakeWriter{}

	_, err := newTestIndexer(api, writer).IndexObject(context.Background(), "key", nil)
	require.Error(t, err)
	assert.Empty(t, api.deleted)
}

func TestIndexer_MissingObject(t *testing.T) {
	api := &fakeS3{}
	_, err := newTestIndexer(api, &fakeWriter{}).IndexObject(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.Empty(t, api.deleted)
}

func TestIndexer_EmptyObject(t *testing.T) {
	api := &fakeS3{objects: map[string][]byte{"key": gzipped(t, "")}}
	writer := &fakeWriter{}

	stats, err := newTestIndexer(api, writer).IndexObject(context.Background(), "key", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Documents)
	assert.Equal(t, 0, writer.calls)
	assert.Equal(t, []string{"key"}, api.deleted)
}

type recordingSink struct {
	sent []string
}

func (r *recordingSink) Send(_ context.Context, message string) error {
	r.sent = append(r.sent, message)
	return nil
}

func TestIndexer_EnrichedDocumentWithPromotedMessageType(t *testing.T) {
	// a log line embedding a messageType field is promoted into the document
	const object = `{"@message":"handled {\"messageType\": \"Notification\", \"id\": 7}","@id":"e9",` +
		`"@log_group":"/app/web","id":"7","messageType":"\"Notification\""}`
	api := &fakeS3{objects: map[string][]byte{"key": gzipped(t, object)}}
	writer := &fakeWriter{}

	stats, err := newTestIndexer(api, writer).IndexObject(context.Background(), "key", nil)
	require.NoError(t, err)

	assert.Equal(t, Stats{Key: "key", Documents: 1}, stats)
	require.Len(t, writer.docs, 1)
	assert.Equal(t, "e9", gjson.GetBytes(writer.docs[0], `\@id`).String())
	assert.Equal(t, []string{"key"}, api.deleted)
}

func Test_isEnvelope(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{name: "data envelope", raw: `{"messageType":"DATA_MESSAGE","logEvents":[]}`, want: true},
		{name: "control envelope", raw: `{"messageType":"CONTROL_MESSAGE"}`, want: true},
		{name: "enriched document", raw: `{"@message":"m","@id":"1"}`, want: false},
		{name: "enriched document with promoted messageType", raw: `{"@message":"m","messageType":"\"x\""}`, want: false},
		{name: "document with id only", raw: `{"@id":"1","messageType":"\"x\"","logEvents":"[]"}`, want: false},
		{name: "neither", raw: `{"other":1}`, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isEnvelope([]byte(tt.raw)))
		})
	}
}

func TestIndexer_NoNoticesForUnwrittenDocuments(t *testing.T) {
	api := &fakeS3{objects: map[string][]byte{"key": gzipped(t, deliveredObject)}}
	writer := &fakeWriter{err: errors.New("cluster unavailable")}

	filter, err := notifier.NewFilter(nil, []string{"traceback"}, nil)
	require.NoError(t, err)
	sink := &recordingSink{}
	n := notifier.New(sink, filter)

	_, err = newTestIndexer(api, writer).IndexObject(context.Background(), "key", n)
	require.Error(t, err)
	assert.Empty(t, sink.sent)
	assert.Empty(t, api.deleted)
}

func TestIndexer_NoticesSentAfterWrite(t *testing.T) {
	api := &fakeS3{objects: map[string][]byte{"key": gzipped(t, deliveredObject)}}
	writer := &fakeWriter{}

	filter, err := notifier.NewFilter(nil, []string{"traceback"}, nil)
	require.NoError(t, err)
	sink := &recordingSink{}
	n := notifier.New(sink, filter)

	_, err = newTestIndexer(api, writer).IndexObject(context.Background(), "key", n)
	require.NoError(t, err)
	assert.Equal(t, []string{`/app/web Traceback {"code": 500} @log_stream: s1`}, sink.sent)
}

func TestIndexer_NoticesFollowEachFlush(t *testing.T) {
	api := &fakeS3{objects: map[string][]byte{"key": gzipped(t, deliveredObject)}}
	writer := &fakeWriter{}

	counters := metrics.NewCounters()
	filter, err := notifier.NewFilter(nil, nil, nil)
	require.NoError(t, err)
	n := notifier.New(nil, filter, notifier.WithCounters(counters))

	// a budget smaller than any document flushes before every add
	source := artifact_source.NewS3SourceWithAPI(api, "bucket", artifact_source.WithRetry(1, 0))
	stats, err := New(source, writer, WithMaxBulkSize(1)).IndexObject(context.Background(), "key", n)
	require.NoError(t, err)

	assert.Equal(t, 3, writer.calls)
	assert.Equal(t, 3, stats.Documents)
	report, err := counters.Report()
	require.NoError(t, err)
	assert.Equal(t, float64(3), metrics.TotalsByType(report)[metrics.CountTotal])
}
