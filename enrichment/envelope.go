package enrichment

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/turbot/tailpipe-firehose-processor/constants"
)

// Envelope is a CloudWatch Logs subscription message, as delivered (gzipped) to Firehose:
//
//	{
//	  "messageType": "DATA_MESSAGE",
//	  "owner": "123456789012",
//	  "logGroup": "log_group_name",
//	  "logStream": "log_stream_name",
//	  "subscriptionFilters": ["subscription_filter_name"],
//	  "logEvents": [
//	    {"id": "0123...", "timestamp": 1510109208016, "message": "log message 1"}
//	  ]
//	}
type Envelope struct {
	MessageType         string     `json:"messageType"`
	Owner               string     `json:"owner"`
	LogGroup            string     `json:"logGroup"`
	LogStream           string     `json:"logStream"`
	SubscriptionFilters []string   `json:"subscriptionFilters,omitempty"`
	LogEvents           []LogEvent `json:"logEvents"`
}

// IsData returns whether the envelope carries log events.
// Control messages (e.g. CONTROL_MESSAGE sent when a subscription is created) carry none.
func (e *Envelope) IsData() bool {
	return e.MessageType == constants.MessageTypeData
}

type LogEvent struct {
	ID        EventID `json:"id"`
	Timestamp int64   `json:"timestamp"`
	Message   string  `json:"message"`
}

// EventID is a log event id. CloudWatch sends ids as strings, but numeric ids are accepted.
type EventID string

func (i *EventID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*i = EventID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("log event id must be a string or number: %w", err)
	}
	*i = EventID(n.String())
	return nil
}
