// firehose-processor is the Lambda data transformation for a Firehose delivery stream fed by
// CloudWatch Logs subscriptions
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/turbot/tailpipe-firehose-processor/config"
	"github.com/turbot/tailpipe-firehose-processor/handler"
	"github.com/turbot/tailpipe-firehose-processor/logging"
	"github.com/turbot/tailpipe-firehose-processor/record_processor"
	"github.com/turbot/tailpipe-firehose-processor/transmitter"
)

func main() {
	logging.Initialize("firehose-processor")

	h, err := newHandler()
	if err != nil {
		slog.Error("Failed to start", "error", err)
		os.Exit(1)
	}
	lambda.Start(h.Handle)
}

func newHandler() (*handler.FirehoseHandler, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}

	conn := cfg.AwsConnection()
	putterFor := func(ctx context.Context, region string) (transmitter.BatchPutter, error) {
		awsCfg, err := conn.GetClientConfiguration(ctx, &region)
		if err != nil {
			return nil, err
		}
		return transmitter.NewFirehoseClient(*awsCfg), nil
	}

	processor := record_processor.NewProcessor(cfg.ProcessorOptions()...)
	return handler.NewFirehoseHandler(processor, putterFor,
		handler.WithTransmitterOptions(cfg.TransmitterOptions()...),
		handler.WithDeliveryStream(cfg.DeliveryStream())), nil
}
