package handler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/turbot/tailpipe-firehose-processor/record_processor"
	"github.com/turbot/tailpipe-firehose-processor/transmitter"
)

// PutterFactory returns the client used to re-ingest overflow into a delivery stream in region
type PutterFactory func(ctx context.Context, region string) (transmitter.BatchPutter, error)

// FirehoseHandler is the Firehose data transformation Lambda
type FirehoseHandler struct {
	processor      *record_processor.Processor
	putterFor      PutterFactory
	transmitOpts   []transmitter.Option
	deliveryStream string
}

type FirehoseOption func(*FirehoseHandler)

// WithDeliveryStream sends overflow to stream instead of the stream which invoked the handler
func WithDeliveryStream(stream string) FirehoseOption {
	return func(h *FirehoseHandler) {
		h.deliveryStream = stream
	}
}

func WithTransmitterOptions(opts ...transmitter.Option) FirehoseOption {
	return func(h *FirehoseHandler) {
		h.transmitOpts = append(h.transmitOpts, opts...)
	}
}

func NewFirehoseHandler(processor *record_processor.Processor, putterFor PutterFactory, opts ...FirehoseOption) *FirehoseHandler {
	h := &FirehoseHandler{processor: processor, putterFor: putterFor}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle transforms the records of one invocation. Overflow is re-ingested before returning;
// if that fails the invocation fails and Firehose redelivers every record.
func (h *FirehoseHandler) Handle(ctx context.Context, event events.KinesisFirehoseEvent) (events.KinesisFirehoseResponse, error) {
	batches := make([]record_processor.RawBatch, len(event.Records))
	for i, r := range event.Records {
		batches[i] = record_processor.RawBatch{RecordID: r.RecordID, Data: r.Data}
	}

	output, err := h.processor.Process(ctx, batches)
	if err != nil {
		return events.KinesisFirehoseResponse{}, err
	}

	if len(output.Overflow) > 0 {
		if err := h.reingest(ctx, event.DeliveryStreamArn, output.Overflow); err != nil {
			return events.KinesisFirehoseResponse{}, err
		}
	}

	response := events.KinesisFirehoseResponse{Records: make([]events.KinesisFirehoseResponseRecord, len(output.Dispositions))}
	for i, d := range output.Dispositions {
		response.Records[i] = events.KinesisFirehoseResponseRecord{
			RecordID: d.RecordID,
			Result:   firehoseResult(d.Result),
			Data:     d.Data,
		}
	}

	ok, dropped := output.Counts()
	slog.Info("Processed records", "invocation_id", event.InvocationID, "ok", ok, "dropped", dropped, "reingested", len(output.Overflow), "output_bytes", output.OutputBytes)
	return response, nil
}

func (h *FirehoseHandler) reingest(ctx context.Context, streamArn string, overflow []transmitter.OverflowRecord) error {
	region, stream, err := ParseDeliveryStreamArn(streamArn)
	if err != nil {
		return err
	}
	if h.deliveryStream != "" {
		stream = h.deliveryStream
	}

	putter, err := h.putterFor(ctx, region)
	if err != nil {
		return fmt.Errorf("failed to create firehose client: %w", err)
	}
	slog.Info("Re-ingesting records", "stream", stream, "region", region, "count", len(overflow))
	return transmitter.NewTransmitter(putter, h.transmitOpts...).Transmit(ctx, stream, overflow)
}

// ParseDeliveryStreamArn returns the region and name of a delivery stream,
// e.g. arn:aws:firehose:us-east-1:123456789012:deliverystream/my-stream
func ParseDeliveryStreamArn(streamArn string) (region, stream string, err error) {
	parsed, err := arn.Parse(streamArn)
	if err != nil {
		return "", "", fmt.Errorf("invalid delivery stream arn %q: %w", streamArn, err)
	}
	resourceType, name, found := strings.Cut(parsed.Resource, "/")
	if !found || resourceType != "deliverystream" || name == "" {
		return "", "", fmt.Errorf("arn %q is not a delivery stream", streamArn)
	}
	return parsed.Region, name, nil
}

func firehoseResult(r record_processor.Result) string {
	if r == record_processor.ResultOk {
		return events.KinesisFirehoseTransformedStateOk
	}
	return events.KinesisFirehoseTransformedStateDropped
}
