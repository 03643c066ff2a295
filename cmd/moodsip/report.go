package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/srg/moodsip/internal/notify"
	"github.com/srg/moodsip/internal/session"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// report is an ordered key/value summary printed as aligned text or JSON.
type report = orderedmap.OrderedMap[string, any]

// linkReport summarizes a session. stats must be captured before teardown resets them.
func linkReport(state session.State, stats session.Stats, frames uint64, feed *notify.Feed) *report {
	r := orderedmap.New[string, any]()
	r.Set("state", state.String())
	r.Set("subscribed", stats.Subscribed)
	r.Set("total_bytes", stats.TotalBytes)
	r.Set("link_frames", stats.TotalFrames)
	r.Set("frames_dropped", stats.FramesDropped)
	r.Set("frames_consumed", frames)
	r.Set("last_chunk_len", stats.LastChunkLen)
	if stats.HasEvent() {
		r.Set("last_event_at", stats.LastEventAt.Format(time.RFC3339))
	} else {
		r.Set("last_event_at", nil)
	}
	if feed != nil {
		r.Set("dropped_notifications", feed.Dropped())
		recent := make([]string, 0)
		for _, n := range feed.History() {
			recent = append(recent, fmt.Sprintf("[%s] %s", n.Level, n.Text))
		}
		r.Set("recent_activity", recent)
	}
	return r
}

func writeReport(w io.Writer, r *report, format string) error {
	if format == "json" {
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for pair := r.Oldest(); pair != nil; pair = pair.Next() {
		switch v := pair.Value.(type) {
		case []string:
			fmt.Fprintf(tw, "%s:\t%d\n", pair.Key, len(v))
			for _, line := range v {
				fmt.Fprintf(tw, "\t%s\n", line)
			}
		case nil:
			fmt.Fprintf(tw, "%s:\t-\n", pair.Key)
		default:
			fmt.Fprintf(tw, "%s:\t%v\n", pair.Key, v)
		}
	}
	return tw.Flush()
}

func validateFormat(format string) error {
	switch format {
	case "table", "json":
		return nil
	default:
		return fmt.Errorf("invalid format '%s': must be one of [table json]", format)
	}
}
