package constants

import (
	"time"

	"github.com/c2h5oh/datasize"
)

const (
	// Firehose transformation output is limited to 6MiB - keep well under it
	DefaultOutputCeiling = datasize.ByteSize(4_000_000)

	// an envelope with more events than this is re-ingested as individual events
	DefaultMaxEventsForOk = 1

	// PutRecordBatch accepts at most 500 records / 4MiB per call
	DefaultTransmitChunkSize   = 450
	DefaultTransmitMaxAttempts = 20
	DefaultTransmitRetryDelay  = 250 * time.Millisecond

	DefaultIndexPrefix       = "cwl"
	DefaultMaxBulkSize       = 25 * datasize.MB
	DefaultSinkMaxAttempts   = 3
	DefaultSinkRetryDelay    = time.Second
	DefaultSourceMaxAttempts = 3
	DefaultSourceRetryDelay  = time.Second

	DefaultMaxNotifications = 50

	// decompression chunk size
	DefaultGzipChunkSize = 16 * 1024

	DefaultMetricsNamespace = "Logs"
	// PutMetricData accepts at most 20 datums per call
	DefaultMetricsChunkSize = 20
)
