package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/moodsip/internal/device"
	goble "github.com/srg/moodsip/internal/device/go-ble"
	"github.com/srg/moodsip/internal/notify"
	"github.com/srg/moodsip/internal/session"
	"github.com/srg/moodsip/pkg/config"
)

// newTransport builds the radio transport. Tests replace it with a fake.
var newTransport = func(cfg *config.Config, logger *logrus.Logger) device.Transport {
	return goble.New(goble.Options{
		ScanTimeout:    cfg.ScanTimeout,
		ConnectTimeout: cfg.ConnectTimeout,
		Logger:         logger,
	})
}

// appEnv is what every command needs before touching the radio.
type appEnv struct {
	cfg    *config.Config
	logger *logrus.Logger
	out    io.Writer
}

func loadEnv(cmd *cobra.Command) (*appEnv, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger, err := configureLogger(cmd, "verbose", cfg)
	if err != nil {
		return nil, err
	}
	return &appEnv{cfg: cfg, logger: logger, out: cmd.OutOrStdout()}, nil
}

func (e *appEnv) newFeed() *notify.Feed {
	return notify.NewFeed(notify.FeedOptions{
		LiveCapacity:    e.cfg.Session.LiveQueue,
		HistoryCapacity: e.cfg.Session.HistorySize,
		Logger:          e.logger,
	})
}

func (e *appEnv) newSession(t device.Transport, n notify.Notifier, consumer session.FrameConsumer) *session.Session {
	sc := e.cfg.Session
	return session.New(t, session.Options{
		Filters:          e.cfg.DeviceFilters(),
		WatchdogDeadline: sc.WatchdogDeadline,
		AckTimeout:       sc.AckTimeout,
		EventQueue:       sc.EventQueue,
		DeliveryQueue:    sc.DeliveryQueue,
		RawTailSize:      sc.RawTailSize,
		Consumer:         consumer,
		Logger:           e.logger,
		Notifier:         n,
		OnStateChange: func(from, to session.State) {
			e.logger.WithFields(logrus.Fields{"from": from, "to": to}).Debug("Link state")
		},
	})
}

// interruptible returns a context cancelled on Ctrl+C or SIGTERM.
func interruptible(parent context.Context, out io.Writer, what string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintf(out, "\nCtrl+C pressed, %s...\n", what)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

// linkedSession is a connected session plus the printer showing its feed.
type linkedSession struct {
	*session.Session
	feed    *notify.Feed
	printer *notificationPrinter
}

// connect scans and subscribes. On error everything it started is already released.
func (e *appEnv) connect(ctx context.Context, consumer session.FrameConsumer) (*linkedSession, error) {
	feed := e.newFeed()
	printer := newNotificationPrinter(e.out)
	printer.Follow(feed.Events())

	s := e.newSession(newTransport(e.cfg, e.logger), feed, consumer)
	ls := &linkedSession{Session: s, feed: feed, printer: printer}
	if err := s.Scan(ctx); err != nil {
		ls.close()
		return nil, err
	}
	return ls, nil
}

// close disconnects, waits for the session goroutines and flushes the feed.
func (ls *linkedSession) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = ls.Disconnect(ctx)
	ls.Wait()
	ls.feed.Close()
	ls.printer.Wait()
}
