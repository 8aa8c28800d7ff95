package record_processor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/c2h5oh/datasize"
	"github.com/turbot/go-kit/helpers"
	"github.com/turbot/tailpipe-firehose-processor/constants"
	"github.com/turbot/tailpipe-firehose-processor/enrichment"
	"github.com/turbot/tailpipe-firehose-processor/gzip_stream"
	"github.com/turbot/tailpipe-firehose-processor/transmitter"
	"golang.org/x/sync/errgroup"
)

// RawBatch is a single Firehose record: the (base64 decoded) data and the id Firehose assigned it
type RawBatch struct {
	RecordID string
	Data     []byte
}

type Result string

const (
	ResultOk      Result = "Ok"
	ResultDropped Result = "Dropped"
)

// Disposition is the outcome for one RawBatch. Data is only set for ResultOk.
type Disposition struct {
	RecordID string
	Result   Result
	Data     []byte
}

// Output is the result of processing one invocation's records
type Output struct {
	// Dispositions has one entry per input RawBatch, in input order
	Dispositions []Disposition
	// Overflow holds documents which must be re-ingested rather than returned
	Overflow []transmitter.OverflowRecord
	// OutputBytes is the measured size of the Ok dispositions
	OutputBytes int64
}

// Counts returns the number of Ok and Dropped dispositions
func (o *Output) Counts() (ok, dropped int) {
	for _, d := range o.Dispositions {
		if d.Result == ResultOk {
			ok++
		} else {
			dropped++
		}
	}
	return ok, dropped
}

// Processor turns the records of one Firehose transformation invocation into dispositions,
// keeping the total returned payload under a ceiling by moving the excess into overflow
type Processor struct {
	transformer    *enrichment.Transformer
	ceiling        int64
	maxEventsForOk int
	workers        int
	gzipOpts       []gzip_stream.Option
}

type Option func(*Processor)

func WithOutputCeiling(ceiling datasize.ByteSize) Option {
	return func(p *Processor) {
		if ceiling > 0 {
			p.ceiling = int64(ceiling.Bytes())
		}
	}
}

// WithMaxEventsForOk sets the largest number of events an envelope may hold and still be returned directly
func WithMaxEventsForOk(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.maxEventsForOk = n
		}
	}
}

// WithWorkers sets how many records are decoded concurrently
func WithWorkers(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithTransformer(t *enrichment.Transformer) Option {
	return func(p *Processor) {
		p.transformer = t
	}
}

func WithGzipChunkSize(size int) Option {
	return func(p *Processor) {
		p.gzipOpts = append(p.gzipOpts, gzip_stream.WithChunkSize(size))
	}
}

func NewProcessor(opts ...Option) *Processor {
	p := &Processor{
		transformer:    enrichment.NewTransformer(),
		ceiling:        int64(constants.DefaultOutputCeiling.Bytes()),
		maxEventsForOk: constants.DefaultMaxEventsForOk,
		workers:        1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// recordOutcome is the disposition of a single record plus any documents it queued for re-ingestion
type recordOutcome struct {
	disposition Disposition
	overflow    []transmitter.OverflowRecord
}

// Process dispositions every batch. The returned error is only set if the context is cancelled,
// failures of individual records degrade to ResultDropped.
func (p *Processor) Process(ctx context.Context, batches []RawBatch) (*Output, error) {
	outcomes := make([]recordOutcome, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i := range batches {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = p.processRecord(batches[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("processing cancelled: %w", err)
	}

	output := &Output{Dispositions: make([]Disposition, len(batches))}
	for i, o := range outcomes {
		output.Dispositions[i] = o.disposition
		output.Overflow = append(output.Overflow, o.overflow...)
	}
	p.enforceCeiling(output)
	return output, nil
}

// processRecord runs the decode/classify/transform steps for one record
func (p *Processor) processRecord(batch RawBatch) (outcome recordOutcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Record processing panicked, dropping record", "record_id", batch.RecordID, "error", helpers.ToError(r))
			outcome = recordOutcome{disposition: dropped(batch.RecordID)}
		}
	}()

	decoded := Decode(batch.Data, p.gzipOpts...)
	switch decoded.Kind {
	case DecodeRawPayload:
		// on its second pass, already transformed
		return recordOutcome{disposition: Disposition{RecordID: batch.RecordID, Result: ResultOk, Data: decoded.Payload}}
	case DecodeFailed:
		slog.Warn("Failed to decode record, dropping", "record_id", batch.RecordID, "error", decoded.Err)
		return recordOutcome{disposition: dropped(batch.RecordID)}
	}

	env := decoded.Envelope
	if !env.IsData() {
		slog.Debug("Dropping record without log events", "record_id", batch.RecordID, "message_type", env.MessageType)
		return recordOutcome{disposition: dropped(batch.RecordID)}
	}

	docs, err := p.transformer.Transform(env)
	if err != nil {
		slog.Warn("Failed to transform record, dropping", "record_id", batch.RecordID, "error", err)
		return recordOutcome{disposition: dropped(batch.RecordID)}
	}
	if len(docs) == 0 {
		return recordOutcome{disposition: dropped(batch.RecordID)}
	}

	encoded := make([][]byte, 0, len(docs))
	for _, doc := range docs {
		data, err := json.Marshal(doc)
		if err != nil {
			slog.Warn("Failed to encode document, dropping record", "record_id", batch.RecordID, "error", err)
			return recordOutcome{disposition: dropped(batch.RecordID)}
		}
		encoded = append(encoded, data)
	}

	if len(encoded) <= p.maxEventsForOk {
		// newline delimited when more than one event is allowed through
		data := bytes.Join(encoded, []byte("\n"))
		return recordOutcome{disposition: Disposition{RecordID: batch.RecordID, Result: ResultOk, Data: data}}
	}

	// more events than a single record may carry - re-ingest each one individually
	outcome.disposition = dropped(batch.RecordID)
	for _, data := range encoded {
		outcome.overflow = append(outcome.overflow, transmitter.OverflowRecord{Data: data})
	}
	return outcome
}

// enforceCeiling walks the Ok dispositions in order, moving every document from the first one which
// would take the total over the ceiling into overflow
func (p *Processor) enforceCeiling(output *Output) {
	var size int64
	for i := range output.Dispositions {
		d := &output.Dispositions[i]
		if d.Result != ResultOk {
			continue
		}
		size += OutputSize(*d)
		if size > p.ceiling {
			output.Overflow = append(output.Overflow, transmitter.OverflowRecord{Data: d.Data})
			d.Result = ResultDropped
			d.Data = nil
			continue
		}
		output.OutputBytes = size
	}
}

// OutputSize is the number of bytes a disposition contributes to the response: its base64
// encoded data plus its record id
func OutputSize(d Disposition) int64 {
	return int64(base64.StdEncoding.EncodedLen(len(d.Data)) + len(d.RecordID))
}

func dropped(recordID string) Disposition {
	return Disposition{RecordID: recordID, Result: ResultDropped}
}
