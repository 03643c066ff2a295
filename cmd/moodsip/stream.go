package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/moodsip/internal/frame"
	"github.com/srg/moodsip/internal/session"
)

const (
	shutdownTimeout = 5 * time.Second
	reconnectDelay  = time.Second
)

// streamCmd represents the stream command
var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Stream and analyze frames from the bottle",
	Long: `Scan for the MoodSip bottle, subscribe to its image characteristic and
reassemble the camera frames it sends. Every completed frame is acknowledged
to the bottle and, unless --no-inference is given, analyzed by the backend.

Runs until Ctrl+C, --duration elapses or the bottle disconnects. A link
summary is printed on exit.`,
	Example: `  moodsip stream
  moodsip stream --backend https://10.0.0.5:8001 --model simple_cnn
  moodsip stream --no-inference --save-dir ./frames --duration 30s`,
	RunE: runStream,
}

var (
	streamNoInference bool
	streamBackend     string
	streamModel       string
	streamDuration    time.Duration
	streamReconnect   bool
	streamSaveDir     string
	streamFormat      string
)

func init() {
	streamCmd.Flags().BoolVar(&streamNoInference, "no-inference", false, "Do not send frames to the analysis backend")
	streamCmd.Flags().StringVar(&streamBackend, "backend", "", "Analysis backend base URL (overrides config)")
	streamCmd.Flags().StringVar(&streamModel, "model", "", "Analysis model (overrides config)")
	streamCmd.Flags().DurationVarP(&streamDuration, "duration", "d", 0, "Stop after this long (0 runs until Ctrl+C)")
	streamCmd.Flags().BoolVar(&streamReconnect, "reconnect", false, "Scan again when the bottle disconnects")
	streamCmd.Flags().StringVar(&streamSaveDir, "save-dir", "", "Write every completed frame as <id>.pgm into this directory")
	streamCmd.Flags().StringVarP(&streamFormat, "format", "f", "table", "Summary format (table, json)")
}

type streamOptions struct {
	duration  time.Duration
	reconnect bool
	saveDir   string
	format    string
}

func runStream(cmd *cobra.Command, args []string) error {
	if err := validateFormat(streamFormat); err != nil {
		return err
	}
	env, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	inf := &env.cfg.Inference
	if streamNoInference {
		inf.Enabled = false
	}
	if streamBackend != "" {
		inf.BaseURL = streamBackend
	}
	if streamModel != "" {
		inf.Model = streamModel
	}
	if err := env.cfg.Validate(); err != nil {
		return err
	}
	if streamSaveDir != "" {
		if err := os.MkdirAll(streamSaveDir, 0o755); err != nil {
			return fmt.Errorf("failed to create save directory: %w", err)
		}
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := interruptible(context.Background(), env.out, "disconnecting")
	defer stop()

	return streamFrames(ctx, env, streamOptions{
		duration:  streamDuration,
		reconnect: streamReconnect,
		saveDir:   streamSaveDir,
		format:    streamFormat,
	})
}

// frameSink is the session frame consumer: it counts, optionally saves, then analyzes.
type frameSink struct {
	consumed atomic.Uint64
	saveDir  string
	analyze  session.FrameConsumer
	logger   *logrus.Logger
}

func (fs *frameSink) consume(ctx context.Context, f frame.Frame, meta frame.Geometry) error {
	fs.consumed.Add(1)

	if fs.saveDir != "" {
		path := filepath.Join(fs.saveDir, f.ID+".pgm")
		if err := os.WriteFile(path, frame.EncodePGM(f), 0o644); err != nil {
			return fmt.Errorf("save frame: %w", err)
		}
		fs.logger.WithFields(logrus.Fields{"frame": f.ID, "path": path}).Debug("Frame saved")
	}

	if fs.analyze != nil {
		return fs.analyze(ctx, f, meta)
	}
	return nil
}

// streamFrames runs the link until ctx is done or the bottle goes away.
// Cancellation of ctx is a normal stop and returns nil.
func streamFrames(ctx context.Context, env *appEnv, opts streamOptions) error {
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	feed := env.newFeed()
	printer := newNotificationPrinter(env.out)
	printer.Follow(feed.Events())

	sink := &frameSink{saveDir: opts.saveDir, logger: env.logger}
	if env.cfg.Inference.Enabled {
		client := newInferenceClient(env)
		if _, err := client.ReportHealth(ctx, feed); err != nil {
			env.logger.WithError(err).Debug("Streaming without a healthy backend")
		}
		sink.analyze = client.FrameConsumer(feed)
	}

	s := env.newSession(newTransport(env.cfg, env.logger), feed, sink.consume)
	state, stats, runErr := superviseLink(ctx, s, opts.reconnect)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Disconnect(shutdownCtx); err != nil {
		env.logger.WithError(err).Warn("Disconnect did not complete")
	}
	s.Wait()
	feed.Close()
	printer.Wait()

	if runErr != nil {
		return runErr
	}

	if opts.format == "table" {
		fmt.Fprintln(env.out, "\nLink summary:")
	}
	return writeReport(env.out, linkReport(state, stats, sink.consumed.Load(), feed), opts.format)
}

// superviseLink keeps the session linked. It returns the state and counters
// observed just before the stop, since teardown resets them.
func superviseLink(ctx context.Context, s *session.Session, reconnect bool) (session.State, session.Stats, error) {
	for {
		if err := s.Scan(ctx); err != nil {
			if ctx.Err() != nil {
				return s.State(), s.Stats(), nil
			}
			return s.State(), s.Stats(), err
		}

		done := s.LinkDone()
		if done == nil {
			done = closedChan
		}

		select {
		case <-ctx.Done():
			return s.State(), s.Stats(), nil
		case <-done:
			if !reconnect {
				return s.State(), s.Stats(), ErrConnectionLost
			}
		}

		select {
		case <-ctx.Done():
			return s.State(), s.Stats(), nil
		case <-time.After(reconnectDelay):
		}
	}
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()
