package config

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/c2h5oh/datasize"
	"github.com/turbot/tailpipe-firehose-processor/artifact_source"
	"github.com/turbot/tailpipe-firehose-processor/constants"
	"github.com/turbot/tailpipe-firehose-processor/index_sink"
	"github.com/turbot/tailpipe-firehose-processor/notifier"
	"github.com/turbot/tailpipe-firehose-processor/record_processor"
	"github.com/turbot/tailpipe-firehose-processor/transmitter"
)

// The option builders below assume Validate has passed, so parse errors are not possible

func (c *Config) ProcessorOptions() []record_processor.Option {
	ceiling, _ := c.OutputCeilingBytes()
	opts := []record_processor.Option{record_processor.WithOutputCeiling(ceiling)}
	if c.MaxEventsForOk != nil {
		opts = append(opts, record_processor.WithMaxEventsForOk(*c.MaxEventsForOk))
	}
	if c.Workers != nil {
		opts = append(opts, record_processor.WithWorkers(*c.Workers))
	}
	if c.GzipChunkSize != nil {
		opts = append(opts, record_processor.WithGzipChunkSize(*c.GzipChunkSize))
	}
	return opts
}

func (c *Config) TransmitterOptions() []transmitter.Option {
	t := c.Transmitter
	if t == nil {
		return nil
	}
	var opts []transmitter.Option
	if t.ChunkSize != nil {
		opts = append(opts, transmitter.WithChunkSize(*t.ChunkSize))
	}
	if t.MaxAttempts != nil {
		opts = append(opts, transmitter.WithMaxAttempts(*t.MaxAttempts))
	}
	if t.RetryDelay != nil {
		delay, _ := parseDuration(t.RetryDelay, constants.DefaultTransmitRetryDelay)
		opts = append(opts, transmitter.WithRetryDelay(delay))
	}
	return opts
}

// DeliveryStream returns the configured delivery stream, or "" if it should come from the invocation
func (c *Config) DeliveryStream() string {
	if c.Transmitter == nil {
		return ""
	}
	return aws.ToString(c.Transmitter.DeliveryStream)
}

// ElasticsearchClientConfig returns the client config; awsCfg is used to sign requests if sign_requests is set
func (c *Config) ElasticsearchClientConfig(awsCfg *aws.Config) index_sink.ClientConfig {
	e := c.elasticsearch()
	cfg := index_sink.ClientConfig{
		Addresses: e.Addresses,
		Username:  aws.ToString(e.Username),
		Password:  aws.ToString(e.Password),
		Transport: artifact_source.SharedTransport(),
	}
	if aws.ToBool(e.SignRequests) {
		cfg.AWS = awsCfg
	}
	return cfg
}

func (c *Config) SinkOptions() []index_sink.Option {
	e := c.elasticsearch()
	settings := index_sink.DefaultIndexSettings()
	if e.Shards != nil {
		settings.Shards = *e.Shards
	}
	if e.Replicas != nil {
		settings.Replicas = *e.Replicas
	}
	delay, _ := parseDuration(e.RetryDelay, constants.DefaultSinkRetryDelay)
	attempts := constants.DefaultSinkMaxAttempts
	if e.MaxAttempts != nil {
		attempts = *e.MaxAttempts
	}
	return []index_sink.Option{
		index_sink.WithIndexPrefix(aws.ToString(e.IndexPrefix)),
		index_sink.WithRetry(attempts, delay),
		index_sink.WithIndexSettings(settings),
	}
}

func (c *Config) MaxBulkSize() datasize.ByteSize {
	var value *string
	if c.Elasticsearch != nil {
		value = c.Elasticsearch.MaxBulkSize
	}
	size, _ := parseSize(value, constants.DefaultMaxBulkSize)
	return size
}

func (c *Config) NotifierFilter() (*notifier.Filter, error) {
	n := c.notifier()
	return notifier.NewFilter(n.ExcludedLogGroups, n.IncludedTerms, n.BlockedStrings)
}

func (c *Config) NotifierOptions() []notifier.Option {
	if c.Notifier == nil || c.Notifier.MaxNotifications == nil {
		return nil
	}
	return []notifier.Option{notifier.WithMaxNotifications(*c.Notifier.MaxNotifications)}
}

// AirbrakeConfig returns the notification service config, and false if notifications are not configured
func (c *Config) AirbrakeConfig() (notifier.AirbrakeConfig, bool) {
	n := c.Notifier
	if n == nil || n.ProjectID == nil || n.APIKey == nil {
		return notifier.AirbrakeConfig{}, false
	}
	return notifier.AirbrakeConfig{
		ProjectID:   *n.ProjectID,
		APIKey:      *n.APIKey,
		Environment: aws.ToString(n.Environment),
		Host:        aws.ToString(n.Host),
	}, true
}

func (c *Config) SourceBucket() string {
	if c.Source == nil {
		return ""
	}
	return aws.ToString(c.Source.Bucket)
}

func (c *Config) SourceOptions() []artifact_source.S3SourceOption {
	var opts []artifact_source.S3SourceOption
	if s := c.Source; s != nil && (s.MaxAttempts != nil || s.RetryDelay != nil) {
		attempts := constants.DefaultSourceMaxAttempts
		if s.MaxAttempts != nil {
			attempts = *s.MaxAttempts
		}
		delay, _ := parseDuration(s.RetryDelay, constants.DefaultSourceRetryDelay)
		opts = append(opts, artifact_source.WithRetry(attempts, delay))
	}
	if c.GzipChunkSize != nil {
		opts = append(opts, artifact_source.WithGzipChunkSize(*c.GzipChunkSize))
	}
	return opts
}

func (c *Config) MetricsEnabled() bool {
	return c.Metrics == nil || c.Metrics.Enabled == nil || *c.Metrics.Enabled
}

func (c *Config) MetricsNamespace() string {
	if c.Metrics == nil {
		return ""
	}
	return aws.ToString(c.Metrics.Namespace)
}
