package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/moodsip/internal/device"
	"github.com/srg/moodsip/internal/groutine"
	"github.com/srg/moodsip/internal/notify"
)

// AckController writes the acknowledgement byte to the command characteristic
// after each completed frame. Writes are best-effort: failures are logged and
// reported as warnings and never reach the caller.
type AckController struct {
	ctx      context.Context
	t        device.Transport
	char     device.Characteristic
	timeout  time.Duration
	logger   *logrus.Logger
	notifier notify.Notifier

	mu       sync.Mutex // one write on the air at a time
	inflight sync.WaitGroup
	sent     atomic.Uint64
	failed   atomic.Uint64
}

// NewAckController creates a controller bound to ctx. Once ctx is done, pending
// and future acknowledgements are dropped. A nil char makes every ack a no-op.
func NewAckController(ctx context.Context, t device.Transport, char device.Characteristic, timeout time.Duration, logger *logrus.Logger, notifier notify.Notifier) *AckController {
	return &AckController{
		ctx:      ctx,
		t:        t,
		char:     char,
		timeout:  timeout,
		logger:   logger,
		notifier: notifier,
	}
}

// Enabled reports whether a command characteristic is available.
func (a *AckController) Enabled() bool {
	return a.char != nil
}

// OnFrameCompleted starts one acknowledgement write and returns immediately.
func (a *AckController) OnFrameCompleted() {
	if a.char == nil || a.ctx.Err() != nil {
		return
	}

	a.inflight.Add(1)
	groutine.Go(a.ctx, "ack-writer", func(ctx context.Context) {
		defer a.inflight.Done()
		if err := a.write(ctx); err != nil {
			a.failed.Add(1)
			if ctx.Err() != nil {
				return
			}
			a.logger.WithError(err).Warn("ACK write failed")
			a.notifier.Notify(notify.Warning, fmt.Sprintf("ACK write failed: %v", err))
			return
		}
		a.sent.Add(1)
	})
}

// SendNow writes the acknowledgement byte synchronously.
func (a *AckController) SendNow(ctx context.Context) error {
	if a.char == nil {
		return device.NewError(device.CharacteristicUnavailable, nil, "command characteristic not available")
	}
	if err := a.write(ctx); err != nil {
		a.failed.Add(1)
		return err
	}
	a.sent.Add(1)
	return nil
}

// Wait blocks until every started write has finished.
func (a *AckController) Wait() {
	a.inflight.Wait()
}

// Sent returns how many acknowledgements were written successfully.
func (a *AckController) Sent() uint64 {
	return a.sent.Load()
}

// Failed returns how many acknowledgement writes failed.
func (a *AckController) Failed() uint64 {
	return a.failed.Load()
}

func (a *AckController) write(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ctx.Err(); err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := a.t.Write(wctx, a.char, []byte{device.AckValue}); err != nil {
		if device.KindOf(err) == device.WriteFailed {
			return err
		}
		return device.NewError(device.WriteFailed, err, "ack")
	}
	a.logger.WithField("char", a.char.UUID()).Debug("ACK sent")
	return nil
}
