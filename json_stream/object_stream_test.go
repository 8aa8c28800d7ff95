package json_stream

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turbot/tailpipe-firehose-processor/gzip_stream"
)

func TestObjectStream_Next(t *testing.T) {
	s := NewObjectStream(strings.NewReader(`{"a":1}{"b": "\"}\\"}`))

	require.True(t, s.Next())
	var first map[string]any
	require.NoError(t, s.Decode(&first))
	assert.Equal(t, map[string]any{"a": float64(1)}, first)

	require.True(t, s.Next())
	assert.Equal(t, `{"b": "\"}\\"}`, string(s.Raw()))
	var second map[string]any
	require.NoError(t, s.Decode(&second))
	assert.Equal(t, map[string]any{"b": `"}\`}, second)

	assert.False(t, s.Next())
	assert.NoError(t, s.Err())
	assert.Equal(t, 2, s.Count())
}

func TestObjectStream_Cases(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		want          []string
		wantErr       error
		wantSyntaxErr bool
	}{
		{
			name:  "empty source",
			input: "",
		},
		{
			name:  "whitespace only",
			input: " \n\t ",
		},
		{
			name:  "newline delimited",
			input: "{\"a\":1}\n{\"b\":2}\n",
			want:  []string{`{"a":1}`, `{"b":2}`},
		},
		{
			name:  "nested objects",
			input: `{"a":{"b":{"c":"}"}}}`,
			want:  []string{`{"a":{"b":{"c":"}"}}}`},
		},
		{
			name:  "braces inside strings",
			input: `{"msg":"{{{ not structural"}{"x":"}}}"}`,
			want:  []string{`{"msg":"{{{ not structural"}`, `{"x":"}}}"}`},
		},
		{
			name:    "unbalanced remainder",
			input:   `{"a":1}{"b":{"c":2}`,
			want:    []string{`{"a":1}`},
			wantErr: ErrUnbalanced,
		},
		{
			name:    "unterminated string",
			input:   `{"a":"}`,
			wantErr: ErrUnbalanced,
		},
		{
			name:          "balanced but invalid",
			input:         `{"hi"}`,
			want:          []string{`{"hi"}`},
			wantSyntaxErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewObjectStream(strings.NewReader(tt.input))
			var got []string
			var decodeErr error
			for s.Next() {
				got = append(got, string(s.Raw()))
				var v map[string]any
				if err := s.Decode(&v); err != nil {
					decodeErr = err
				}
			}
			assert.Equal(t, tt.want, got)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(s.Err(), tt.wantErr), "got %v", s.Err())
			} else {
				assert.NoError(t, s.Err())
			}
			if tt.wantSyntaxErr {
				var syntaxErr *SyntaxError
				assert.True(t, errors.As(decodeErr, &syntaxErr))
			} else {
				assert.NoError(t, decodeErr)
			}
		})
	}
}

func TestObjectStream_OverGzipStream(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 2000; i++ {
		sb.WriteString(`{"messageType":"DATA_MESSAGE","logEvents":[{"message":"line {with} \"quotes\""}]}`)
	}
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write([]byte(sb.String()))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	s := NewObjectStream(gzip_stream.NewReader(&buf))
	count := 0
	for s.Next() {
		var v struct {
			MessageType string `json:"messageType"`
		}
		require.NoError(t, s.Decode(&v))
		assert.Equal(t, "DATA_MESSAGE", v.MessageType)
		count++
	}
	require.NoError(t, s.Err())
	assert.Equal(t, 2000, count)
}

func TestObjectStream_PropagatesDecodeErrors(t *testing.T) {
	s := NewObjectStream(gzip_stream.NewReader(bytes.NewReader([]byte(`{"not":"gzip"}`))))
	assert.False(t, s.Next())
	assert.True(t, errors.Is(s.Err(), gzip_stream.ErrDecode))
}

func TestObjectStream_BufferedReader(t *testing.T) {
	s := NewObjectStream(bufio.NewReader(strings.NewReader(`  {"a":"b"}  `)))
	require.True(t, s.Next())
	assert.Equal(t, `{"a":"b"}`, string(s.Raw()))
	assert.False(t, s.Next())
	assert.NoError(t, s.Err())
}
