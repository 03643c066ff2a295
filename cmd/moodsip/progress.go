package main

import (
	"fmt"
	"io"
	"sync"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// countdown shows "<prefix> (Ns)" on one terminal line while a bounded
// operation runs. It is single-use: Start once, Stop at least once.
type countdown struct {
	out      io.Writer
	prefix   string
	duration time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func newCountdown(out io.Writer, prefix string, duration time.Duration) *countdown {
	return &countdown{
		out:      out,
		prefix:   prefix,
		duration: duration,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start draws the line and begins ticking. Nothing is drawn when out is not a terminal.
func (c *countdown) Start() {
	if !isTerminal(c.out) {
		close(c.done)
		return
	}

	started := time.Now()
	ticker := time.NewTicker(progressUpdateInterval)
	c.draw(c.duration)

	go func() {
		defer close(c.done)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				c.draw(c.duration - time.Since(started))
			}
		}
	}()
}

func (c *countdown) draw(remaining time.Duration) {
	if remaining < 0 {
		remaining = 0
	}
	// round to the nearest second
	fmt.Fprintf(c.out, "\r%s (%ds)   ", c.prefix, int(remaining.Seconds()+0.5))
}

// Stop halts the ticker and clears the line. Safe to call more than once.
func (c *countdown) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
		<-c.done
		if isTerminal(c.out) {
			fmt.Fprint(c.out, clearLineSequence)
		}
	})
}
