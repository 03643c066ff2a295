package testutils

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/moodsip/internal/notify"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// Eventually polls cond every 5ms until it holds or timeout elapses.
func (h *TestHelper) Eventually(cond func() bool, timeout time.Duration, msgAndArgs ...interface{}) bool {
	h.T.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	if cond() {
		return true
	}
	h.T.Errorf("condition not met within %s %v", timeout, msgAndArgs)
	return false
}

// Pattern returns n bytes where byte i is byte(seed+i), so misplaced bytes are visible.
func Pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return b
}

// NotificationRecorder is a thread-safe notify.Notifier that remembers everything.
type NotificationRecorder struct {
	ch  chan notify.Notification
	mu  sync.Mutex
	all []notify.Notification
}

func NewNotificationRecorder() *NotificationRecorder {
	return &NotificationRecorder{ch: make(chan notify.Notification, 256)}
}

func (r *NotificationRecorder) Notify(level notify.Level, text string) {
	n := notify.Notification{Level: level, Text: text, Time: time.Now()}
	r.mu.Lock()
	r.all = append(r.all, n)
	r.mu.Unlock()
	select {
	case r.ch <- n:
	default:
	}
}

// All returns every notification received so far.
func (r *NotificationRecorder) All() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.all...)
}

// Texts returns the texts of every notification with the given level.
func (r *NotificationRecorder) Texts(level notify.Level) []string {
	var out []string
	for _, n := range r.All() {
		if n.Level == level {
			out = append(out, n.Text)
		}
	}
	return out
}

// WaitFor blocks until a notification with level and text arrives or timeout elapses.
func (r *NotificationRecorder) WaitFor(level notify.Level, text string, timeout time.Duration) bool {
	for _, n := range r.All() {
		if n.Level == level && n.Text == text {
			return true
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case n := <-r.ch:
			if n.Level == level && n.Text == text {
				return true
			}
		case <-timer.C:
			return false
		}
	}
}
