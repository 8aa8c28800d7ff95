package constants

const (
	EnvLogLevel         = "FIREHOSE_PROCESSOR_LOG_LEVEL"
	EnvConfigPath       = "FIREHOSE_PROCESSOR_CONFIG"
	EnvElasticsearchURL = "FIREHOSE_PROCESSOR_ES_URL"
	EnvDeliveryStream   = "FIREHOSE_PROCESSOR_DELIVERY_STREAM"
	EnvSourceBucket     = "FIREHOSE_PROCESSOR_SOURCE_BUCKET"
	EnvAirbrakeKey      = "FIREHOSE_PROCESSOR_AIRBRAKE_KEY"
)
