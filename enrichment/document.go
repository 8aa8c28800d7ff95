package enrichment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/turbot/tailpipe-firehose-processor/constants"
)

// Document is a single enriched log event, ready to be indexed.
// Promoted holds fields lifted from JSON embedded in the message, each value JSON encoded
// so that differing value types across documents never collide in the index mapping.
type Document struct {
	Message   string
	ID        string
	Timestamp string
	Owner     string
	LogGroup  string
	LogStream string

	Promoted map[string]string
}

// MarshalJSON writes the canonical fields first, followed by promoted fields in key order
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	canonical := []string{d.Message, d.ID, d.Timestamp, d.Owner, d.LogGroup, d.LogStream}
	for i, name := range constants.CanonicalFields {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeField(&buf, name, canonical[i]); err != nil {
			return nil, err
		}
	}
	for _, k := range slices.Sorted(maps.Keys(d.Promoted)) {
		buf.WriteByte(',')
		if err := writeField(&buf, k, d.Promoted[k]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeField(buf *bytes.Buffer, key, value string) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	v, err := json.Marshal(value)
	if err != nil {
		return err
	}
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(v)
	return nil
}

// UnmarshalJSON reads a previously enriched document.
// Non-canonical fields which are not strings are kept as their raw JSON text.
func (d *Document) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return fmt.Errorf("document must be a json object")
	}

	targets := map[string]*string{
		constants.FieldMessage:   &d.Message,
		constants.FieldID:        &d.ID,
		constants.FieldTimestamp: &d.Timestamp,
		constants.FieldOwner:     &d.Owner,
		constants.FieldLogGroup:  &d.LogGroup,
		constants.FieldLogStream: &d.LogStream,
	}
	d.Promoted = nil
	for k, raw := range fields {
		value := rawToString(raw)
		if target, ok := targets[k]; ok {
			*target = value
			continue
		}
		if d.Promoted == nil {
			d.Promoted = make(map[string]string)
		}
		d.Promoted[k] = value
	}
	return nil
}

func rawToString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
