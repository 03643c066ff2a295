//go:build test

package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/moodsip/internal/device"
	"github.com/srg/moodsip/internal/testutils"
	"github.com/srg/moodsip/pkg/config"
)

// lockedBuffer is an io.Writer safe to read while background printers write to it.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// CommandTestSuite extends MockTransportSuite with command testing utilities.
// Every command built during a test talks to s.Transport.
type CommandTestSuite struct {
	testutils.MockTransportSuite

	Out *lockedBuffer
}

func (s *CommandTestSuite) SetupTest() {
	s.MockTransportSuite.SetupTest()
	s.Out = &lockedBuffer{}

	original := newTransport
	s.T().Cleanup(func() { newTransport = original })
	newTransport = func(*config.Config, *logrus.Logger) device.Transport {
		return s.Transport
	}
}

// Env returns a command environment writing to s.Out with inference disabled.
func (s *CommandTestSuite) Env(mutate ...func(*config.Config)) *appEnv {
	cfg := config.DefaultConfig()
	cfg.Inference.Enabled = false
	for _, m := range mutate {
		m(cfg)
	}
	s.Require().NoError(cfg.Validate(), "test config MUST be valid")
	return &appEnv{cfg: cfg, logger: s.Logger, out: s.Out}
}

// RunAsync starts fn and returns a channel with its result.
func (s *CommandTestSuite) RunAsync(fn func() error) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- fn() }()
	return errCh
}

// Result waits for an async command.
func (s *CommandTestSuite) Result(errCh <-chan error) error {
	select {
	case err := <-errCh:
		return err
	case <-time.After(s.TestTimeout):
		s.FailNow("command did not return in time")
		return nil
	}
}

// WaitOutput waits until the command output contains text.
func (s *CommandTestSuite) WaitOutput(text string) {
	s.WaitUntil(func() bool { return strings.Contains(s.Out.String(), text) },
		"output MUST contain %q, got:\n%s", text, s.Out.String())
}

// WaitSubscribed waits until the command subscribed to the image characteristic.
func (s *CommandTestSuite) WaitSubscribed() {
	s.WaitUntil(func() bool { return s.Transport.Subscribed(device.ImageCharUUID) },
		"image characteristic MUST be subscribed")
}

// WithCancel returns a context cancelled at test cleanup.
func (s *CommandTestSuite) WithCancel() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	s.T().Cleanup(cancel)
	return ctx, cancel
}
