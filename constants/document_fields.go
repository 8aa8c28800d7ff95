package constants

// canonical fields of an enriched document
const (
	FieldMessage   = "@message"
	FieldID        = "@id"
	FieldTimestamp = "@timestamp"
	FieldOwner     = "@owner"
	FieldLogGroup  = "@log_group"
	FieldLogStream = "@log_stream"
)

// CanonicalFields lists the enriched document fields in the order they are serialized
var CanonicalFields = []string{
	FieldMessage,
	FieldID,
	FieldTimestamp,
	FieldOwner,
	FieldLogGroup,
	FieldLogStream,
}

// ReservedIndexKey is rejected as a promoted field name as it collides with bulk action metadata
const ReservedIndexKey = "index"

// MessageTypeData is the CloudWatch Logs subscription message type which carries log events
const MessageTypeData = "DATA_MESSAGE"
