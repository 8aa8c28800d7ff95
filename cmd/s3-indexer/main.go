// s3-indexer indexes the log events in objects a Firehose delivery stream writes to S3
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/turbot/tailpipe-firehose-processor/artifact_source"
	"github.com/turbot/tailpipe-firehose-processor/config"
	"github.com/turbot/tailpipe-firehose-processor/handler"
	"github.com/turbot/tailpipe-firehose-processor/index_sink"
	"github.com/turbot/tailpipe-firehose-processor/indexer"
	"github.com/turbot/tailpipe-firehose-processor/logging"
	"github.com/turbot/tailpipe-firehose-processor/metrics"
	"github.com/turbot/tailpipe-firehose-processor/notifier"
	"github.com/turbot/tailpipe-firehose-processor/rate_limiter"
)

const notificationTimeout = 10 * time.Second

func main() {
	logging.Initialize("s3-indexer")

	h, err := newHandler(context.Background())
	if err != nil {
		slog.Error("Failed to start", "error", err)
		os.Exit(1)
	}
	lambda.Start(h.Handle)
}

func newHandler(ctx context.Context) (*handler.S3Handler, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}
	bucket := cfg.SourceBucket()
	if bucket == "" {
		return nil, fmt.Errorf("no source bucket configured")
	}

	awsCfg, err := cfg.AwsConnection().GetClientConfiguration(ctx, nil)
	if err != nil {
		return nil, err
	}

	esClient, err := index_sink.NewClient(cfg.ElasticsearchClientConfig(awsCfg))
	if err != nil {
		return nil, err
	}
	sink := index_sink.NewSink(esClient, cfg.SinkOptions()...)
	source := artifact_source.NewS3Source(*awsCfg, bucket, cfg.SourceOptions()...)
	idx := indexer.New(source, sink, indexer.WithMaxBulkSize(cfg.MaxBulkSize()))

	filter, err := cfg.NotifierFilter()
	if err != nil {
		return nil, err
	}
	var notificationSink notifier.Sink
	if airbrake, ok := cfg.AirbrakeConfig(); ok {
		limiter := rate_limiter.NewAPILimiter(rate_limiter.NotificationDefinition())
		if notificationSink, err = notifier.NewAirbrakeSink(airbrake, artifact_source.SharedHTTPClient(notificationTimeout), limiter); err != nil {
			return nil, err
		}
	}
	opts := []handler.S3Option{handler.WithNotifications(filter, notificationSink, cfg.NotifierOptions()...)}

	if cfg.MetricsEnabled() {
		opts = append(opts, handler.WithMetricsPublisher(metrics.NewPublisher(*awsCfg, metrics.WithNamespace(cfg.MetricsNamespace()))))
	}

	return handler.NewS3Handler(idx, bucket, opts...), nil
}
