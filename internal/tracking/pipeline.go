package tracking

import "context"

// PipelineStats is a snapshot of the consumer, flusher and buffer counters.
type PipelineStats struct {
	Processed      int64 `json:"processed"`
	Skipped        int64 `json:"skipped"`
	FanoutFailures int64 `json:"fanout_failures"`
	Flushes        int64 `json:"flushes"`
	FlushFailures  int64 `json:"flush_failures"`
	Buffered       int   `json:"buffered"`
}

// Pipeline runs a Consumer and the Flusher draining its buffer.
type Pipeline struct {
	consumer *Consumer
	flusher  *Flusher
}

// NewPipeline pairs consumer with flusher. Both must share one Buffer.
func NewPipeline(consumer *Consumer, flusher *Flusher) *Pipeline {
	return &Pipeline{consumer: consumer, flusher: flusher}
}

// Run runs the consumer until ctx is cancelled or it fails, and returns the
// consumer's error. The flusher keeps ticking until the consumer has
// returned, so its final flush sees every update the consumer buffered.
func (p *Pipeline) Run(ctx context.Context) error {
	flushCtx, cancelFlush := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelFlush()

	flushDone := make(chan struct{})
	go func() {
		defer close(flushDone)
		p.flusher.Run(flushCtx)
	}()

	err := p.consumer.Run(ctx)
	cancelFlush()
	<-flushDone
	return err
}

// Stats returns the current counters.
func (p *Pipeline) Stats() PipelineStats {
	c := p.consumer.Stats()
	return PipelineStats{
		Processed:      c.Processed,
		Skipped:        c.Skipped,
		FanoutFailures: c.FanoutFailures,
		Flushes:        p.flusher.Flushes(),
		FlushFailures:  p.flusher.Failures(),
		Buffered:       p.flusher.buffer.Len(),
	}
}
