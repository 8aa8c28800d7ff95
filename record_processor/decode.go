package record_processor

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/turbot/tailpipe-firehose-processor/enrichment"
	"github.com/turbot/tailpipe-firehose-processor/gzip_stream"
	"github.com/turbot/tailpipe-firehose-processor/json_stream"
)

type DecodeKind int

const (
	// DecodeEnvelope - the data was a gzipped subscription envelope
	DecodeEnvelope DecodeKind = iota
	// DecodeRawPayload - the data was not gzipped, so it is a document re-ingested by a previous pass
	DecodeRawPayload
	// DecodeFailed - the data decompressed but did not hold a usable envelope
	DecodeFailed
)

func (k DecodeKind) String() string {
	switch k {
	case DecodeEnvelope:
		return "envelope"
	case DecodeRawPayload:
		return "raw_payload"
	default:
		return "failed"
	}
}

// DecodeResult is the outcome of decoding the data of one RawBatch. Exactly one of
// Envelope (DecodeEnvelope), Payload (DecodeRawPayload) or Err (DecodeFailed) is set.
type DecodeResult struct {
	Kind     DecodeKind
	Envelope *enrichment.Envelope
	Payload  []byte
	Err      error
}

// Decode decompresses data and parses the first JSON object as an Envelope.
// Data which is not valid gzip is assumed to be an already enriched document.
func Decode(data []byte, opts ...gzip_stream.Option) DecodeResult {
	gz := gzip_stream.NewReader(bytes.NewReader(data), opts...)
	defer gz.Close()

	stream := json_stream.NewObjectStream(gz)
	if !stream.Next() {
		err := stream.Err()
		if errors.Is(err, gzip_stream.ErrDecode) {
			return DecodeResult{Kind: DecodeRawPayload, Payload: data}
		}
		if err == nil {
			err = errors.New("no envelope in record data")
		}
		return DecodeResult{Kind: DecodeFailed, Err: err}
	}

	var env enrichment.Envelope
	if err := stream.Decode(&env); err != nil {
		return DecodeResult{Kind: DecodeFailed, Err: fmt.Errorf("failed to parse envelope: %w", err)}
	}
	return DecodeResult{Kind: DecodeEnvelope, Envelope: &env}
}
