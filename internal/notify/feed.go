// Package notify carries human-readable status messages from the frame link to
// whatever surface is watching it (terminal, UI, log).
package notify

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/moodsip/internal/ringchan"
)

// Level tags a notification.
type Level string

const (
	Success Level = "success"
	Error   Level = "error"
	Warning Level = "warning"
	Info    Level = "info"
)

// Notification is one status message.
type Notification struct {
	ID    uint64    `json:"id"`
	Level Level     `json:"level"`
	Text  string    `json:"text"`
	Time  time.Time `json:"time"`
}

// Notifier accepts status messages.
type Notifier interface {
	Notify(level Level, text string)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(level Level, text string)

// Notify calls f(level, text).
func (f NotifierFunc) Notify(level Level, text string) {
	f(level, text)
}

// Discard is a Notifier that drops everything.
var Discard Notifier = NotifierFunc(func(Level, string) {})

const (
	DefaultLiveCapacity    = 64
	DefaultHistoryCapacity = 5
)

// Feed fans notifications out to a live stream and keeps a short history.
//
// The live stream never blocks producers: a slow reader loses the oldest
// notifications. The history keeps the most recent HistoryCapacity entries.
// All methods are thread-safe.
type Feed struct {
	live       *ringchan.RingChannel[Notification]
	history    mpmc.RichOverlappedRingBuffer[Notification]
	historyCap int
	logger     *logrus.Logger
	now        func() time.Time

	seq     atomic.Uint64
	dropped atomic.Uint64
	mu      sync.Mutex
	closed  bool
}

// FeedOptions configures a Feed. Zero values use the package defaults.
type FeedOptions struct {
	LiveCapacity    int
	HistoryCapacity int
	Logger          *logrus.Logger
	Clock           func() time.Time
}

// NewFeed creates a Feed.
func NewFeed(opts FeedOptions) *Feed {
	if opts.LiveCapacity <= 0 {
		opts.LiveCapacity = DefaultLiveCapacity
	}
	if opts.HistoryCapacity <= 0 {
		opts.HistoryCapacity = DefaultHistoryCapacity
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
		opts.Logger.SetOutput(io.Discard)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Feed{
		live:       ringchan.New[Notification](opts.LiveCapacity),
		history:    mpmc.NewOverlappedRingBuffer[Notification](uint32(opts.HistoryCapacity + 1)),
		historyCap: opts.HistoryCapacity,
		logger:     opts.Logger,
		now:        opts.Clock,
	}
}

// Notify publishes a notification.
func (f *Feed) Notify(level Level, text string) {
	n := Notification{
		ID:    f.seq.Add(1),
		Level: level,
		Text:  text,
		Time:  f.now(),
	}

	f.log(n)

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.history.EnqueueM(n); err != nil {
		f.logger.WithError(err).Warn("Failed to record notification history")
	}
	if f.closed {
		return
	}
	if _, dropped := f.live.ForceSend(n); dropped {
		f.dropped.Add(1)
	}
}

func (f *Feed) Successf(format string, args ...interface{}) {
	f.Notify(Success, fmt.Sprintf(format, args...))
}

func (f *Feed) Errorf(format string, args ...interface{}) {
	f.Notify(Error, fmt.Sprintf(format, args...))
}

func (f *Feed) Warningf(format string, args ...interface{}) {
	f.Notify(Warning, fmt.Sprintf(format, args...))
}

func (f *Feed) Infof(format string, args ...interface{}) {
	f.Notify(Info, fmt.Sprintf(format, args...))
}

// Events returns the live notification stream. It is closed by Close.
func (f *Feed) Events() <-chan Notification {
	return f.live.C()
}

// Dropped returns how many live notifications were discarded because no one read them in time.
func (f *Feed) Dropped() uint64 {
	return f.dropped.Load()
}

// History returns up to HistoryCapacity most recent notifications, newest first.
func (f *Feed) History() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	var all []Notification
	for !f.history.IsEmpty() {
		n, err := f.history.Dequeue()
		if err != nil {
			break
		}
		all = append(all, n)
	}
	for _, n := range all {
		_, _ = f.history.EnqueueM(n)
	}

	if len(all) > f.historyCap {
		all = all[len(all)-f.historyCap:]
	}
	out := make([]Notification, len(all))
	for i, n := range all {
		out[len(all)-1-i] = n
	}
	return out
}

// Close ends the live stream. Later notifications still reach the log and history.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.live.Close()
}

func (f *Feed) log(n Notification) {
	entry := f.logger.WithFields(logrus.Fields{
		"level_tag": string(n.Level),
		"id":        n.ID,
	})
	switch n.Level {
	case Error:
		entry.Error(n.Text)
	case Warning:
		entry.Warn(n.Text)
	default:
		entry.Info(n.Text)
	}
}
