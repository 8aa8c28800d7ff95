package enrichment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/turbot/tailpipe-firehose-processor/constants"
	"github.com/turbot/tailpipe-firehose-processor/helpers"
	"github.com/turbot/tailpipe-firehose-processor/json_stream"
)

// rejectedKeyChars may not appear in a promoted field name
const rejectedKeyChars = `"*<|,>/?\`

// Transformer converts the log events of an Envelope into enriched Documents
type Transformer struct {
	reservedKeys map[string]struct{}
}

type TransformerOption func(*Transformer)

// WithReservedKeys adds field names which are never promoted from embedded JSON
func WithReservedKeys(keys ...string) TransformerOption {
	return func(t *Transformer) {
		for _, k := range keys {
			t.reservedKeys[k] = struct{}{}
		}
	}
}

func NewTransformer(opts ...TransformerOption) *Transformer {
	t := &Transformer{
		reservedKeys: map[string]struct{}{
			constants.ReservedIndexKey: {},
		},
	}
	for _, k := range constants.CanonicalFields {
		t.reservedKeys[k] = struct{}{}
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transform returns one Document per log event of the envelope, in event order
func (t *Transformer) Transform(env *Envelope) ([]*Document, error) {
	if env == nil {
		return nil, errors.New("nil envelope")
	}
	if !env.IsData() {
		return nil, fmt.Errorf("envelope message type %q carries no log events", env.MessageType)
	}
	docs := make([]*Document, 0, len(env.LogEvents))
	for _, event := range env.LogEvents {
		docs = append(docs, t.TransformEvent(env, event))
	}
	return docs, nil
}

// TransformEvent builds the Document for a single log event of env
func (t *Transformer) TransformEvent(env *Envelope, event LogEvent) *Document {
	return &Document{
		Message:   event.Message,
		ID:        string(event.ID),
		Timestamp: helpers.FormatUnixMillis(event.Timestamp),
		Owner:     env.Owner,
		LogGroup:  env.LogGroup,
		LogStream: env.LogStream,
		Promoted:  t.PromotedFields(event.Message),
	}
}

// PromotedFields extracts the top level keys of the first JSON object embedded in message.
// Each value is returned as its compact JSON encoding. Returns nil if there is no balanced
// object in the message or it does not parse.
func (t *Transformer) PromotedFields(message string) map[string]string {
	start, end, ok := json_stream.FindObjectSpan(message)
	if !ok {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(message[start:end+1]), &fields); err != nil {
		return nil
	}

	var promoted map[string]string
	for k, raw := range fields {
		if !t.ValidKey(k) {
			continue
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, raw); err != nil {
			continue
		}
		if promoted == nil {
			promoted = make(map[string]string, len(fields))
		}
		promoted[k] = compact.String()
	}
	return promoted
}

// ValidKey returns whether k may be used as a promoted field name
func (t *Transformer) ValidKey(k string) bool {
	if k == "" {
		return false
	}
	if _, reserved := t.reservedKeys[k]; reserved {
		return false
	}
	if strings.ContainsAny(k, rejectedKeyChars) {
		return false
	}
	return strings.IndexFunc(k, unicode.IsSpace) < 0
}
