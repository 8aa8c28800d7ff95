package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/turbot/tailpipe-firehose-processor/artifact_source"
	"github.com/turbot/tailpipe-firehose-processor/constants"
)

// Config is the static configuration of both handlers. Every setting is optional.
type Config struct {
	// the largest total payload returned to Firehose, e.g. "4MB"
	OutputCeiling  *string `hcl:"output_ceiling"`
	MaxEventsForOk *int    `hcl:"max_events_for_ok"`
	Workers        *int    `hcl:"workers"`
	GzipChunkSize  *int    `hcl:"gzip_chunk_size"`

	Aws           *artifact_source.AwsConnection `hcl:"aws,block"`
	Transmitter   *TransmitterConfig             `hcl:"transmitter,block"`
	Elasticsearch *ElasticsearchConfig           `hcl:"elasticsearch,block"`
	Notifier      *NotifierConfig                `hcl:"notifier,block"`
	Source        *SourceConfig                  `hcl:"source,block"`
	Metrics       *MetricsConfig                 `hcl:"metrics,block"`
}

type TransmitterConfig struct {
	// the delivery stream overflow is sent to, if not taken from the invocation
	DeliveryStream *string `hcl:"delivery_stream"`
	ChunkSize      *int    `hcl:"chunk_size"`
	MaxAttempts    *int    `hcl:"max_attempts"`
	RetryDelay     *string `hcl:"retry_delay"`
}

type ElasticsearchConfig struct {
	Addresses   []string `hcl:"addresses,optional"`
	Username    *string  `hcl:"username"`
	Password    *string  `hcl:"password"`
	IndexPrefix *string  `hcl:"index_prefix"`
	MaxBulkSize *string  `hcl:"max_bulk_size"`
	MaxAttempts *int     `hcl:"max_attempts"`
	RetryDelay  *string  `hcl:"retry_delay"`
	Shards      *int     `hcl:"shards"`
	Replicas    *int     `hcl:"replicas"`
	// sign requests with the aws connection credentials
	SignRequests *bool `hcl:"sign_requests"`
}

type NotifierConfig struct {
	ProjectID         *string  `hcl:"project_id"`
	APIKey            *string  `hcl:"api_key"`
	Environment       *string  `hcl:"environment"`
	Host              *string  `hcl:"host"`
	ExcludedLogGroups []string `hcl:"excluded_log_groups,optional"`
	IncludedTerms     []string `hcl:"included_terms,optional"`
	BlockedStrings    []string `hcl:"blocked_strings,optional"`
	MaxNotifications  *int     `hcl:"max_notifications"`
}

type SourceConfig struct {
	Bucket      *string `hcl:"bucket"`
	MaxAttempts *int    `hcl:"max_attempts"`
	RetryDelay  *string `hcl:"retry_delay"`
}

type MetricsConfig struct {
	Enabled   *bool   `hcl:"enabled"`
	Namespace *string `hcl:"namespace"`
}

// applyEnv overrides the deployment specific settings from the environment
func (c *Config) applyEnv() {
	if v := os.Getenv(constants.EnvElasticsearchURL); v != "" {
		c.elasticsearch().Addresses = strings.Split(v, ",")
	}
	if v := os.Getenv(constants.EnvDeliveryStream); v != "" {
		c.transmitter().DeliveryStream = &v
	}
	if v := os.Getenv(constants.EnvSourceBucket); v != "" {
		c.source().Bucket = &v
	}
	if v := os.Getenv(constants.EnvAirbrakeKey); v != "" {
		c.notifier().APIKey = &v
	}
}

func (c *Config) Validate() error {
	var errs []string
	if _, err := c.OutputCeilingBytes(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.MaxEventsForOk != nil && *c.MaxEventsForOk < 1 {
		errs = append(errs, "max_events_for_ok must be at least 1")
	}
	if c.Workers != nil && *c.Workers < 1 {
		errs = append(errs, "workers must be at least 1")
	}
	if c.Aws != nil {
		if err := c.Aws.Validate(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if t := c.Transmitter; t != nil {
		if t.ChunkSize != nil && (*t.ChunkSize < 1 || *t.ChunkSize > 500) {
			errs = append(errs, "transmitter chunk_size must be between 1 and 500")
		}
		errs = appendDurationErr(errs, "transmitter retry_delay", t.RetryDelay)
	}
	if e := c.Elasticsearch; e != nil {
		if _, err := parseSize(e.MaxBulkSize, 0); err != nil {
			errs = append(errs, fmt.Sprintf("elasticsearch max_bulk_size: %s", err))
		}
		errs = appendDurationErr(errs, "elasticsearch retry_delay", e.RetryDelay)
	}
	if n := c.Notifier; n != nil && (n.ProjectID == nil) != (n.APIKey == nil) {
		errs = append(errs, "notifier project_id and api_key must be set together")
	}
	if s := c.Source; s != nil {
		errs = appendDurationErr(errs, "source retry_delay", s.RetryDelay)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func appendDurationErr(errs []string, name string, value *string) []string {
	if _, err := parseDuration(value, 0); err != nil {
		return append(errs, fmt.Sprintf("%s: %s", name, err))
	}
	return errs
}

func (c *Config) OutputCeilingBytes() (datasize.ByteSize, error) {
	ceiling, err := parseSize(c.OutputCeiling, constants.DefaultOutputCeiling)
	if err != nil {
		return 0, fmt.Errorf("output_ceiling: %w", err)
	}
	return ceiling, nil
}

func parseSize(value *string, def datasize.ByteSize) (datasize.ByteSize, error) {
	if value == nil {
		return def, nil
	}
	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(*value)); err != nil {
		return 0, fmt.Errorf("invalid size %q", *value)
	}
	return size, nil
}

func parseDuration(value *string, def time.Duration) (time.Duration, error) {
	if value == nil {
		return def, nil
	}
	d, err := time.ParseDuration(*value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", *value)
	}
	return d, nil
}

func (c *Config) transmitter() *TransmitterConfig {
	if c.Transmitter == nil {
		c.Transmitter = &TransmitterConfig{}
	}
	return c.Transmitter
}

func (c *Config) elasticsearch() *ElasticsearchConfig {
	if c.Elasticsearch == nil {
		c.Elasticsearch = &ElasticsearchConfig{}
	}
	return c.Elasticsearch
}

func (c *Config) notifier() *NotifierConfig {
	if c.Notifier == nil {
		c.Notifier = &NotifierConfig{}
	}
	return c.Notifier
}

func (c *Config) source() *SourceConfig {
	if c.Source == nil {
		c.Source = &SourceConfig{}
	}
	return c.Source
}

func (c *Config) AwsConnection() *artifact_source.AwsConnection {
	if c.Aws == nil {
		return &artifact_source.AwsConnection{}
	}
	return c.Aws
}
