package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/srg/moodsip/internal/notify"
	"github.com/srg/moodsip/internal/testutils"
	"github.com/stretchr/testify/assert"
)

func TestNotificationPrinterFollow(t *testing.T) {
	// GOAL: Verify the printer renders every feed notification in order without colors off a terminal
	//
	// TEST SCENARIO: four levels published → feed closed → Wait returns → one plain line per notification

	at := time.Date(2026, 10, 18, 9, 15, 0, 0, time.UTC)
	feed := notify.NewFeed(notify.FeedOptions{Clock: func() time.Time { return at }})

	var buf bytes.Buffer
	p := newNotificationPrinter(&buf)
	p.Follow(feed.Events())

	feed.Notify(notify.Info, "Scanning for MoodSip devices...")
	feed.Notify(notify.Success, "You look good! Keep it up!")
	feed.Notify(notify.Warning, "Time to hydrate! Detected: dry lips")
	feed.Notify(notify.Error, "Analysis failed: HTTP 500")
	feed.Close()
	p.Wait()

	testutils.NewTextAsserter(t).Assert(buf.String(), `
09:15:00 INFO  Scanning for MoodSip devices...
09:15:00 OK    You look good! Keep it up!
09:15:00 WARN  Time to hydrate! Detected: dry lips
09:15:00 ERROR Analysis failed: HTTP 500
`)
}

func TestNotificationPrinterUnknownLevel(t *testing.T) {
	var buf bytes.Buffer
	newNotificationPrinter(&buf).Print(notify.Notification{
		Level: notify.Level("debug"),
		Text:  "raw tail cleared",
		Time:  time.Date(2026, 10, 18, 9, 15, 1, 0, time.UTC),
	})

	assert.Equal(t, "09:15:01 INFO  raw tail cleared\n", buf.String())
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, isTerminal(&bytes.Buffer{}), "buffers MUST NOT be treated as terminals")
}
