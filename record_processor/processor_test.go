package record_processor

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turbot/tailpipe-firehose-processor/enrichment"
)

func gzipJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return gzipRaw(t, data)
}

func gzipRaw(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func envelope(messageType string, messages ...string) map[string]any {
	env := map[string]any{
		"owner":       "test_owner",
		"logGroup":    "/test/test_log_group",
		"logStream":   "test_log_stream",
		"messageType": messageType,
	}
	var events []map[string]any
	for _, m := range messages {
		events = append(events, map[string]any{"id": 123456, "timestamp": 1519970297000, "message": m})
	}
	env["logEvents"] = events
	return env
}

func enrichedDoc(message string) []byte {
	return []byte(fmt.Sprintf(`{"@message":%q,"@id":123,"@owner":"test owner","@log_group":"test log group","@log_stream":"test log stream"}`, message))
}

func TestProcessor_ReingestedPayload(t *testing.T) {
	data := enrichedDoc("test message")
	out, err := NewProcessor().Process(context.Background(), []RawBatch{{RecordID: "123", Data: data}})
	require.NoError(t, err)

	require.Len(t, out.Dispositions, 1)
	assert.Empty(t, out.Overflow)
	assert.Equal(t, Disposition{RecordID: "123", Result: ResultOk, Data: data}, out.Dispositions[0])

	var doc enrichment.Document
	require.NoError(t, json.Unmarshal(out.Dispositions[0].Data, &doc))
	assert.Equal(t, "test log group", doc.LogGroup)
	assert.Equal(t, "123", doc.ID)
}

func TestProcessor_NotDataMessage(t *testing.T) {
	data := gzipJSON(t, envelope("CONTROL_MESSAGE"))
	out, err := NewProcessor().Process(context.Background(), []RawBatch{{RecordID: "123", Data: data}})
	require.NoError(t, err)

	assert.Equal(t, Disposition{RecordID: "123", Result: ResultDropped}, out.Dispositions[0])
	assert.Empty(t, out.Overflow)
}

func TestProcessor_SingleEvent(t *testing.T) {
	data := gzipJSON(t, envelope("DATA_MESSAGE", `with_json{"hi": "hello"}with_json`))
	out, err := NewProcessor().Process(context.Background(), []RawBatch{{RecordID: "12345", Data: data}})
	require.NoError(t, err)

	require.Len(t, out.Dispositions, 1)
	assert.Empty(t, out.Overflow)
	d := out.Dispositions[0]
	assert.Equal(t, ResultOk, d.Result)
	assert.Equal(t, "12345", d.RecordID)

	var doc map[string]string
	require.NoError(t, json.Unmarshal(d.Data, &doc))
	assert.Equal(t, `with_json{"hi": "hello"}with_json`, doc["@message"])
	assert.Equal(t, `"hello"`, doc["hi"])
	assert.Equal(t, "123456", doc["@id"])
	assert.Equal(t, "2018-03-02T05:58:17.000Z", doc["@timestamp"])
	assert.Equal(t, "/test/test_log_group", doc["@log_group"])
}

func TestProcessor_MultipleEvents(t *testing.T) {
	data := gzipJSON(t, envelope("DATA_MESSAGE", "one", "two", `three {"level": "error"}`))
	out, err := NewProcessor().Process(context.Background(), []RawBatch{{RecordID: "12345", Data: data}})
	require.NoError(t, err)

	assert.Equal(t, Disposition{RecordID: "12345", Result: ResultDropped}, out.Dispositions[0])
	require.Len(t, out.Overflow, 3)

	var doc enrichment.Document
	require.NoError(t, json.Unmarshal(out.Overflow[2].Data, &doc))
	assert.Equal(t, `three {"level": "error"}`, doc.Message)
	assert.Equal(t, map[string]string{"level": `"error"`}, doc.Promoted)
}

func TestProcessor_OverflowIsIdempotent(t *testing.T) {
	data := gzipJSON(t, envelope("DATA_MESSAGE", "one", "two"))
	first, err := NewProcessor().Process(context.Background(), []RawBatch{{RecordID: "a", Data: data}})
	require.NoError(t, err)
	require.Len(t, first.Overflow, 2)

	var second []RawBatch
	for i, o := range first.Overflow {
		second = append(second, RawBatch{RecordID: fmt.Sprintf("re-%d", i), Data: o.Data})
	}
	out, err := NewProcessor().Process(context.Background(), second)
	require.NoError(t, err)
	assert.Empty(t, out.Overflow)
	for i, d := range out.Dispositions {
		assert.Equal(t, ResultOk, d.Result)
		assert.Equal(t, first.Overflow[i].Data, d.Data)
	}
}

func TestProcessor_MaxEventsForOk(t *testing.T) {
	data := gzipJSON(t, envelope("DATA_MESSAGE", "one", "two"))
	out, err := NewProcessor(WithMaxEventsForOk(2)).Process(context.Background(), []RawBatch{{RecordID: "a", Data: data}})
	require.NoError(t, err)

	assert.Empty(t, out.Overflow)
	require.Equal(t, ResultOk, out.Dispositions[0].Result)
	lines := strings.Split(string(out.Dispositions[0].Data), "\n")
	assert.Len(t, lines, 2)
}

func TestProcessor_BadRecordsAreDropped(t *testing.T) {
	batches := []RawBatch{
		{RecordID: "empty", Data: nil},
		{RecordID: "not-json", Data: gzipRaw(t, []byte("plain text log line"))},
		{RecordID: "unbalanced", Data: gzipRaw(t, []byte(`{"messageType": "DATA_MESSAGE", "logEvents": [`))},
		{RecordID: "wrong-shape", Data: gzipRaw(t, []byte(`{"messageType": "DATA_MESSAGE", "logEvents": "nope"}`))},
		{RecordID: "good", Data: gzipJSON(t, envelope("DATA_MESSAGE", "fine"))},
	}
	out, err := NewProcessor().Process(context.Background(), batches)
	require.NoError(t, err)

	require.Len(t, out.Dispositions, len(batches))
	for i, d := range out.Dispositions[:4] {
		assert.Equal(t, batches[i].RecordID, d.RecordID)
		assert.Equal(t, ResultDropped, d.Result, d.RecordID)
		assert.Nil(t, d.Data)
	}
	assert.Equal(t, ResultOk, out.Dispositions[4].Result)
}

func TestProcessor_PareDownForMaxOutput(t *testing.T) {
	data := enrichedDoc(strings.Repeat("test message", 200000))
	out, err := NewProcessor().Process(context.Background(), []RawBatch{
		{RecordID: "123", Data: data},
		{RecordID: "124", Data: data},
	})
	require.NoError(t, err)

	require.Len(t, out.Overflow, 1)
	assert.Equal(t, data, out.Overflow[0].Data)
	assert.Equal(t, ResultOk, out.Dispositions[0].Result)
	assert.NotNil(t, out.Dispositions[0].Data)
	assert.Equal(t, ResultDropped, out.Dispositions[1].Result)
	assert.Nil(t, out.Dispositions[1].Data)
}

func TestProcessor_CeilingProperty(t *testing.T) {
	const ceiling = 50 * datasize.KB
	rnd := rand.New(rand.NewSource(42))

	for round := 0; round < 20; round++ {
		var batches []RawBatch
		for i := 0; i < 40; i++ {
			id := fmt.Sprintf("record-%d-%d", round, i)
			message := strings.Repeat("x", rnd.Intn(4000))
			if rnd.Intn(3) == 0 {
				batches = append(batches, RawBatch{RecordID: id, Data: gzipJSON(t, envelope("DATA_MESSAGE", message))})
			} else {
				batches = append(batches, RawBatch{RecordID: id, Data: enrichedDoc(message)})
			}
		}

		out, err := NewProcessor(WithOutputCeiling(ceiling), WithWorkers(4)).Process(context.Background(), batches)
		require.NoError(t, err)

		var okSize, rawSize int64
		overflowed := map[string]bool{}
		for _, o := range out.Overflow {
			overflowed[string(o.Data)] = true
		}
		seenDrop := false
		for _, d := range out.Dispositions {
			if d.Result == ResultOk {
				// once one document is pushed out, every later one is too
				assert.False(t, seenDrop)
				okSize += OutputSize(d)
				rawSize += int64(len(d.Data) + len(d.RecordID))
				continue
			}
			seenDrop = true
		}
		assert.LessOrEqual(t, okSize, int64(ceiling.Bytes()))
		assert.LessOrEqual(t, rawSize, int64(ceiling.Bytes()))
		assert.Equal(t, okSize, out.OutputBytes)

		ok, dropped := out.Counts()
		assert.Equal(t, len(batches), ok+dropped)
		assert.Equal(t, dropped, len(out.Overflow))
	}
}

func TestProcessor_WorkersPreserveOrder(t *testing.T) {
	var batches []RawBatch
	for i := 0; i < 100; i++ {
		var data []byte
		switch i % 3 {
		case 0:
			data = gzipJSON(t, envelope("DATA_MESSAGE", fmt.Sprintf("single %d", i)))
		case 1:
			data = gzipJSON(t, envelope("DATA_MESSAGE", fmt.Sprintf("first %d", i), fmt.Sprintf("second %d", i)))
		default:
			data = enrichedDoc(fmt.Sprintf("reingested %d", i))
		}
		batches = append(batches, RawBatch{RecordID: fmt.Sprint(i), Data: data})
	}

	sequential, err := NewProcessor().Process(context.Background(), batches)
	require.NoError(t, err)
	parallel, err := NewProcessor(WithWorkers(8)).Process(context.Background(), batches)
	require.NoError(t, err)
	assert.Equal(t, sequential, parallel)
}

func TestProcessor_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewProcessor().Process(ctx, []RawBatch{{RecordID: "1", Data: enrichedDoc("x")}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want DecodeKind
	}{
		{name: "envelope", data: gzipJSON(t, envelope("DATA_MESSAGE", "x")), want: DecodeEnvelope},
		{name: "control message", data: gzipJSON(t, envelope("CONTROL_MESSAGE")), want: DecodeEnvelope},
		{name: "raw document", data: enrichedDoc("x"), want: DecodeRawPayload},
		{name: "empty", data: []byte{}, want: DecodeFailed},
		{name: "gzipped garbage", data: gzipRaw(t, []byte("}{")), want: DecodeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decode(tt.data)
			assert.Equal(t, tt.want, got.Kind)
			switch got.Kind {
			case DecodeEnvelope:
				assert.NotNil(t, got.Envelope)
			case DecodeRawPayload:
				assert.Equal(t, tt.data, got.Payload)
			case DecodeFailed:
				assert.Error(t, got.Err)
			}
		})
	}
}
