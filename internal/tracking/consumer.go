package tracking

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/darkden-lab/argus-tracker/internal/broker"
	"github.com/darkden-lab/argus-tracker/internal/location"
)

// ConsumerStats is a snapshot of the consumer loop counters.
type ConsumerStats struct {
	Processed      int64
	Skipped        int64
	FanoutFailures int64
}

// Consumer reads location updates one at a time, buffers them and fans them
// out. Messages are never processed concurrently: last-write-wins in the
// buffer relies on processing order matching partition order.
type Consumer struct {
	source      broker.Consumer
	buffer      *Buffer
	departments Departments
	fanout      Fanout
	logger      *zap.Logger

	processed      atomic.Int64
	skipped        atomic.Int64
	fanoutFailures atomic.Int64
}

// NewConsumer creates a Consumer.
func NewConsumer(source broker.Consumer, buffer *Buffer, departments Departments, fanout Fanout, logger *zap.Logger) *Consumer {
	return &Consumer{
		source:      source,
		buffer:      buffer,
		departments: departments,
		fanout:      fanout,
		logger:      logger.Named("consumer"),
	}
}

// Run processes messages until ctx is cancelled, which returns nil. A fetch
// or commit failure returns the broker error; the process supervisor is
// expected to restart the service.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consumer loop started")
	for {
		msg, err := c.source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logStopped()
				return nil
			}
			c.logger.Error("fetch failed", zap.Error(err))
			return err
		}

		if !c.handle(ctx, msg) {
			continue
		}

		if err := c.source.Commit(ctx, msg); err != nil {
			if ctx.Err() != nil {
				c.logStopped()
				return nil
			}
			c.logger.Error("commit failed",
				zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset), zap.Error(err))
			return err
		}
		c.processed.Add(1)
	}
}

// handle buffers and fans out one message. It returns false when the message
// was skipped and must not be committed.
func (c *Consumer) handle(ctx context.Context, msg broker.Message) bool {
	u, err := location.Decode(msg.Value)
	if err != nil {
		c.skipped.Add(1)
		derr := &DeserializationError{Partition: msg.Partition, Offset: msg.Offset, Err: err}
		c.logger.Warn("skipping undecodable message", zap.Error(derr))
		return false
	}

	c.buffer.Put(u)

	deptID := c.resolveDepartment(ctx, u)
	if err := c.fanout.Publish(ctx, u, deptID); err != nil {
		c.fanoutFailures.Add(1)
		c.logger.Warn("fan-out failed", zap.Error(&FanoutError{Key: u.Key(), Err: err}))
	}
	return true
}

// resolveDepartment looks up the requester's current department in the
// update's company. When the lookup itself fails the snapshot taken at
// publish time is used instead.
func (c *Consumer) resolveDepartment(ctx context.Context, u location.Update) *int64 {
	deptID, err := c.departments.FindDepartment(ctx, u.Requester.ID, u.CompanyID)
	if err != nil {
		c.logger.Warn("department lookup failed, using publish-time snapshot",
			zap.Int64("user_id", u.Requester.ID), zap.Int64("company_id", u.CompanyID), zap.Error(err))
		return u.Requester.DepartmentID
	}
	return deptID
}

// Stats returns the current counters.
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Processed:      c.processed.Load(),
		Skipped:        c.skipped.Load(),
		FanoutFailures: c.fanoutFailures.Load(),
	}
}

func (c *Consumer) logStopped() {
	st := c.Stats()
	c.logger.Info("consumer loop stopped",
		zap.Int64("processed", st.Processed),
		zap.Int64("skipped", st.Skipped),
		zap.Int64("fanout_failures", st.FanoutFailures))
}
