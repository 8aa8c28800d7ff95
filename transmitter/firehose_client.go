package transmitter

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/firehose"
	"github.com/aws/aws-sdk-go-v2/service/firehose/types"
)

// FirehoseAPI is the subset of *firehose.Client used by FirehoseClient
type FirehoseAPI interface {
	PutRecordBatch(ctx context.Context, params *firehose.PutRecordBatchInput, optFns ...func(*firehose.Options)) (*firehose.PutRecordBatchOutput, error)
}

// FirehoseClient is a BatchPutter backed by the Firehose PutRecordBatch API
type FirehoseClient struct {
	api FirehoseAPI
}

func NewFirehoseClient(cfg aws.Config) *FirehoseClient {
	return &FirehoseClient{api: firehose.NewFromConfig(cfg)}
}

func NewFirehoseClientWithAPI(api FirehoseAPI) *FirehoseClient {
	return &FirehoseClient{api: api}
}

// PutRecordBatch implements BatchPutter
func (c *FirehoseClient) PutRecordBatch(ctx context.Context, stream string, records []OverflowRecord) ([]int, error) {
	input := &firehose.PutRecordBatchInput{
		DeliveryStreamName: aws.String(stream),
		Records:            make([]types.Record, len(records)),
	}
	for i, r := range records {
		input.Records[i] = types.Record{Data: r.Data}
	}

	output, err := c.api.PutRecordBatch(ctx, input)
	if err != nil {
		return nil, err
	}
	if aws.ToInt32(output.FailedPutCount) == 0 {
		return nil, nil
	}
	var failed []int
	for idx, res := range output.RequestResponses {
		if aws.ToString(res.ErrorCode) != "" {
			failed = append(failed, idx)
		}
	}
	return failed, nil
}
