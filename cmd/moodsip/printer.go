package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/srg/moodsip/internal/groutine"
	"github.com/srg/moodsip/internal/notify"
	"golang.org/x/term"
)

const notificationTimeFormat = "15:04:05"

type levelStyle struct {
	label string
	color *color.Color
}

// notificationPrinter writes feed notifications as they arrive, one per line.
// Colors are used only when out is a terminal.
type notificationPrinter struct {
	out    io.Writer
	styles map[notify.Level]levelStyle
	mu     sync.Mutex
	done   chan struct{}
}

func newNotificationPrinter(out io.Writer) *notificationPrinter {
	styles := map[notify.Level]levelStyle{
		notify.Success: {label: "OK", color: color.New(color.FgGreen, color.Bold)},
		notify.Error:   {label: "ERROR", color: color.New(color.FgRed, color.Bold)},
		notify.Warning: {label: "WARN", color: color.New(color.FgYellow)},
		notify.Info:    {label: "INFO", color: color.New(color.FgCyan)},
	}
	colored := isTerminal(out)
	for _, s := range styles {
		if colored {
			s.color.EnableColor()
		} else {
			s.color.DisableColor()
		}
	}
	return &notificationPrinter{out: out, styles: styles}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Print writes one notification.
func (p *notificationPrinter) Print(n notify.Notification) {
	style, ok := p.styles[n.Level]
	if !ok {
		style = p.styles[notify.Info]
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "%s %s %s\n",
		n.Time.Format(notificationTimeFormat),
		style.color.Sprintf("%-5s", style.label),
		n.Text)
}

// Follow prints events until the channel is closed. It must be called at most once.
func (p *notificationPrinter) Follow(events <-chan notify.Notification) {
	p.done = make(chan struct{})
	groutine.Go(context.Background(), "notification-printer", func(context.Context) {
		defer close(p.done)
		for n := range events {
			p.Print(n)
		}
	})
}

// Wait blocks until the followed stream has been drained.
func (p *notificationPrinter) Wait() {
	if p.done != nil {
		<-p.done
	}
}
