//go:build test

package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

// MockTransportSuite provides a reusable test suite around a FakeTransport.
//
// Basic usage (default MoodSip bottle profile):
//
//	type SessionSuite struct {
//	    testutils.MockTransportSuite
//	}
//
//	func TestSessionSuite(t *testing.T) {
//	    suite.Run(t, new(SessionSuite))
//	}
//
// Custom profile usage:
//
//	func (s *SessionSuite) SetupTest() {
//	    s.WithTransport(testutils.NewFakeTransportFromJSON(`{"capability": "adapter_off"}`))
//	    s.MockTransportSuite.SetupTest() // Call parent last to apply configuration
//	}
type MockTransportSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	TestTimeout time.Duration

	Transport     *FakeTransport
	Notifications *NotificationRecorder
	Clock         *ManualClock
	Timers        *ManualTimers

	configured *FakeTransport
}

// SetupSuite is called once before all tests in the suite.
func (s *MockTransportSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 5 * time.Second
}

// SetupTest builds a fresh transport, clock and recorder before each test.
func (s *MockTransportSuite) SetupTest() {
	if s.configured != nil {
		s.Transport = s.configured
	} else {
		s.Transport = NewFakeTransport()
	}
	s.Notifications = NewNotificationRecorder()
	s.Clock = NewManualClock(time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC))
	s.Timers = &ManualTimers{}

	s.Logger.Debug("Test setup completed - ready for execution")
}

// TearDownTest drops per-test configuration.
func (s *MockTransportSuite) TearDownTest() {
	s.configured = nil
}

// WithTransport replaces the default transport for the next test. Call it before
// MockTransportSuite.SetupTest.
func (s *MockTransportSuite) WithTransport(ft *FakeTransport) *FakeTransport {
	s.configured = ft
	return ft
}

// WaitUntil fails the test if cond does not hold within TestTimeout.
func (s *MockTransportSuite) WaitUntil(cond func() bool, msgAndArgs ...interface{}) {
	s.Helper.T = s.T()
	s.Helper.Eventually(cond, s.TestTimeout, msgAndArgs...)
}
