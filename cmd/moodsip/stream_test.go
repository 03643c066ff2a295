//go:build test

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/srg/moodsip/internal/device"
	"github.com/srg/moodsip/internal/frame"
	"github.com/srg/moodsip/internal/testutils"
	"github.com/srg/moodsip/pkg/config"
	"github.com/stretchr/testify/suite"
)

const readyText = "Connected to MoodSip Bottle - Ready to receive images!"

type StreamTestSuite struct {
	CommandTestSuite
}

func TestStreamTestSuite(t *testing.T) {
	suite.Run(t, new(StreamTestSuite))
}

// summaryJSON returns the JSON report printed after the notification lines.
func (s *StreamTestSuite) summaryJSON() string {
	out := s.Out.String()
	idx := strings.Index(out, "{\n")
	s.Require().GreaterOrEqual(idx, 0, "output MUST end with a JSON summary, got:\n%s", out)
	return out[idx:]
}

func (s *StreamTestSuite) TestStreamSavesAndAcknowledgesFrames() {
	// GOAL: Verify stream reassembles a frame, saves it as PGM, acknowledges it and reports the link on stop
	//
	// TEST SCENARIO: ready → one frame in 500-byte chunks → <id>.pgm written, ACK written → Ctrl+C →
	// summary shows the link counters captured before teardown

	dir := s.T().TempDir()
	ctx, cancel := s.WithCancel()
	env := s.Env()

	errCh := s.RunAsync(func() error {
		return streamFrames(ctx, env, streamOptions{saveDir: dir, format: "json"})
	})

	s.WaitOutput(readyText)
	samples := testutils.Pattern(frame.Bytes, 7)
	s.Require().True(s.Transport.NotifyStream(samples, 500))

	var saved []string
	s.WaitUntil(func() bool {
		saved, _ = filepath.Glob(filepath.Join(dir, "*.pgm"))
		return len(saved) == 1
	}, "one frame MUST be saved")
	s.WaitUntil(func() bool { return len(s.Transport.Writes()) == 1 }, "frame MUST be acknowledged")

	cancel()
	s.Require().NoError(s.Result(errCh), "user stop MUST NOT be an error")

	data, err := os.ReadFile(saved[0])
	s.Require().NoError(err)
	g, got, err := frame.DecodePGM(data)
	s.Require().NoError(err)
	s.Equal(frame.DefaultGeometry(), g)
	s.Equal(samples, got, "saved frame MUST hold the streamed samples")
	s.Equal([][]byte{{device.AckValue}}, s.Transport.Writes())
	s.Equal(1, s.Transport.Disconnects(), "stop MUST release the link")

	testutils.NewJSONAsserter(s.T()).Assert(s.summaryJSON(), `{
		"state": "streaming",
		"subscribed": true,
		"total_bytes": 9216,
		"link_frames": 1,
		"frames_dropped": 0,
		"frames_consumed": 1,
		"last_chunk_len": 216,
		"last_event_at": "<<PRESENCE>>",
		"dropped_notifications": 0
	}`)

	var summary struct {
		Recent []string `json:"recent_activity"`
	}
	s.Require().NoError(json.Unmarshal([]byte(s.summaryJSON()), &summary))
	s.Require().NotEmpty(summary.Recent)
	s.Equal("[info] MoodSip Bottle disconnected", summary.Recent[0], "history MUST be newest first")
}

func (s *StreamTestSuite) TestStreamConnectionLost() {
	// GOAL: Verify a peripheral-side drop ends the stream with ErrConnectionLost when not reconnecting
	//
	// TEST SCENARIO: ready → bottle drops → streamFrames returns ErrConnectionLost → user message

	ctx, _ := s.WithCancel()
	errCh := s.RunAsync(func() error {
		return streamFrames(ctx, s.Env(), streamOptions{format: "table"})
	})

	s.WaitOutput(readyText)
	s.Transport.DropLink()

	err := s.Result(errCh)
	s.ErrorIs(err, ErrConnectionLost)
	s.Equal("MoodSip Bottle disconnected", FormatUserError(err))
	s.Contains(s.Out.String(), "MoodSip Bottle disconnected")
	s.NotContains(s.Out.String(), "Link summary:", "failed streams MUST NOT print a summary")
}

func (s *StreamTestSuite) TestStreamReconnectsAfterDrop() {
	// GOAL: Verify --reconnect scans again after the bottle drops the link
	//
	// TEST SCENARIO: ready → drop → second connect → Ctrl+C → clean exit with summary

	ctx, cancel := s.WithCancel()
	errCh := s.RunAsync(func() error {
		return streamFrames(ctx, s.Env(), streamOptions{reconnect: true, format: "table"})
	})

	s.WaitOutput(readyText)
	s.Transport.DropLink()
	s.WaitUntil(func() bool { return strings.Count(s.Out.String(), readyText) == 2 }, "session MUST reconnect")
	s.Equal(2, s.Transport.Connects())

	cancel()
	s.Require().NoError(s.Result(errCh))
	s.Contains(s.Out.String(), "Link summary:")
}

func (s *StreamTestSuite) TestStreamScanFailure() {
	// GOAL: Verify setup failures surface as link errors with the user-facing message
	//
	// TEST SCENARIO: no matching peripheral → NoDeviceFound error → pairing hint printed and formatted

	s.Transport = testutils.NewFakeTransportFromJSON(`{
		"peripherals": [{"id": "hr", "name": "HeartRate", "address": "AA:00:00:00:00:09", "rssi": -40}],
		"services": []
	}`)

	err := streamFrames(context.Background(), s.Env(), streamOptions{format: "table"})

	s.ErrorIs(err, device.ErrNoDeviceFound)
	s.Equal("No MoodSip device found. Make sure your bottle is powered on and in pairing mode.", FormatUserError(err))
	s.Contains(s.Out.String(), "No MoodSip device found.")
	s.Equal(0, s.Transport.Connects())
}

func (s *StreamTestSuite) TestStreamAnalyzesFrames() {
	// GOAL: Verify frames reach the analysis backend and verdicts are printed
	//
	// TEST SCENARIO: backend healthy → ready → one frame → "You look good" printed → stop

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			_, _ = w.Write([]byte(`{"status": "ok", "available_models": ["gemini"]}`))
		case "/analyze-mood":
			var req struct {
				Model string `json:"model"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.Model != "simple_cnn" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"needs_hydration": false, "confidence": 0.93}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	ctx, cancel := s.WithCancel()
	env := s.Env(func(cfg *config.Config) {
		cfg.Inference.Enabled = true
		cfg.Inference.BaseURL = srv.URL
		cfg.Inference.Model = "simple_cnn"
	})
	errCh := s.RunAsync(func() error {
		return streamFrames(ctx, env, streamOptions{format: "table"})
	})

	s.WaitOutput("Connected to MoodSip AI (1 models available)")
	s.WaitOutput(readyText)
	s.Require().True(s.Transport.NotifyStream(testutils.Pattern(frame.Bytes, 0), 1000))
	s.WaitOutput("You look good! Keep it up!")

	cancel()
	s.Require().NoError(s.Result(errCh))
}
