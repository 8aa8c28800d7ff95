package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/turbot/tailpipe-firehose-processor/constants"
	"github.com/turbot/tailpipe-firehose-processor/helpers"
)

const (
	metricByLogGroupByType = "By Log Group, by Type"
	metricByType           = "By Type"

	dimensionLogGroup  = "LogGroup"
	dimensionCountType = "CountType"

	storageResolution = 60
)

// CloudWatchAPI is the subset of *cloudwatch.Client used by Publisher
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Publisher writes invocation counts to CloudWatch as two metrics: per log group and type, and per type
type Publisher struct {
	api       CloudWatchAPI
	namespace string
	chunkSize int
}

type PublisherOption func(*Publisher)

func WithNamespace(namespace string) PublisherOption {
	return func(p *Publisher) {
		if namespace != "" {
			p.namespace = namespace
		}
	}
}

func NewPublisher(cfg aws.Config, opts ...PublisherOption) *Publisher {
	return NewPublisherWithAPI(cloudwatch.NewFromConfig(cfg), opts...)
}

func NewPublisherWithAPI(api CloudWatchAPI, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		api:       api,
		namespace: constants.DefaultMetricsNamespace,
		chunkSize: constants.DefaultMetricsChunkSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Publisher) Publish(ctx context.Context, counts []Count) error {
	if len(counts) == 0 {
		return nil
	}

	var byGroup []types.MetricDatum
	for _, c := range counts {
		byGroup = append(byGroup, datum(metricByLogGroupByType, c.Value,
			dimension(dimensionLogGroup, c.LogGroup),
			dimension(dimensionCountType, c.CountType)))
	}
	if err := p.put(ctx, byGroup); err != nil {
		return err
	}

	totals := TotalsByType(counts)
	var byType []types.MetricDatum
	for _, countType := range slices.Sorted(maps.Keys(totals)) {
		byType = append(byType, datum(metricByType, totals[countType], dimension(dimensionCountType, countType)))
	}
	return p.put(ctx, byType)
}

func (p *Publisher) put(ctx context.Context, data []types.MetricDatum) error {
	for _, chunk := range helpers.Chunk(data, p.chunkSize) {
		_, err := p.api.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(p.namespace),
			MetricData: chunk,
		})
		if err != nil {
			return fmt.Errorf("failed to put metric data: %w", err)
		}
	}
	slog.Debug("Published metrics", "namespace", p.namespace, "count", len(data))
	return nil
}

func datum(name string, value float64, dimensions ...types.Dimension) types.MetricDatum {
	return types.MetricDatum{
		MetricName:        aws.String(name),
		Dimensions:        dimensions,
		Value:             aws.Float64(value),
		Unit:              types.StandardUnitCount,
		StorageResolution: aws.Int32(storageResolution),
	}
}

func dimension(name, value string) types.Dimension {
	return types.Dimension{Name: aws.String(name), Value: aws.String(value)}
}
