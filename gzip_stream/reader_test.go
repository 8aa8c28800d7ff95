package gzip_stream

import (
	"bytes"
	"compress/gzip" // verify against the standard library encoder
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func testPayload() []byte {
	var sb strings.Builder
	for i := 0; i < 5000; i++ {
		fmt.Fprintf(&sb, `{"id":"%d","message":"log line %d"}`, i, i)
	}
	return []byte(sb.String())
}

func TestReader_ReadByte(t *testing.T) {
	payload := testPayload()
	r := NewReader(bytes.NewReader(gzipBytes(t, payload)))

	var got []byte
	for {
		b, err := r.ReadByte()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, b)
	}
	assert.Equal(t, payload, got)
	assert.NoError(t, r.Err())
	assert.Equal(t, int64(len(payload)), r.Decoded())

	// exhaustion is sticky
	_, err := r.ReadByte()
	assert.Equal(t, io.EOF, err)
}

func TestReader_ReadAll(t *testing.T) {
	payload := testPayload()
	r := NewReader(bytes.NewReader(gzipBytes(t, payload)), WithChunkSize(1000))

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReader_DecodesLazily(t *testing.T) {
	payload := testPayload()
	r := NewReader(bytes.NewReader(gzipBytes(t, payload)), WithChunkSize(64))

	b, ok := r.Next()
	require.True(t, ok)
	assert.Equal(t, payload[0], b)
	assert.LessOrEqual(t, r.Decoded(), int64(64))
	assert.Greater(t, r.Decoded(), int64(0))
}

func TestReader_Errors(t *testing.T) {
	compressed := gzipBytes(t, testPayload())

	tests := []struct {
		name       string
		src        []byte
		wantDecode bool
	}{
		{name: "empty source is end of stream", src: nil, wantDecode: false},
		{name: "plain json is not gzip", src: []byte(`{"@message":"already transformed"}`), wantDecode: true},
		{name: "truncated stream", src: compressed[:len(compressed)/2], wantDecode: true},
		{name: "corrupt trailer", src: append(append([]byte{}, compressed[:len(compressed)-4]...), 1, 2, 3, 4), wantDecode: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(bytes.NewReader(tt.src))
			_, err := io.ReadAll(r)
			if !tt.wantDecode {
				assert.NoError(t, err)
				assert.NoError(t, r.Err())
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDecode), "expected ErrDecode, got %v", err)
			assert.False(t, errors.Is(err, io.EOF))
			var decodeErr *DecodeError
			assert.True(t, errors.As(r.Err(), &decodeErr))
		})
	}
}
