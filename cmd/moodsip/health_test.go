//go:build test

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/srg/moodsip/internal/inference"
	"github.com/srg/moodsip/internal/testutils"
	"github.com/srg/moodsip/pkg/config"
	"github.com/stretchr/testify/suite"
)

type HealthTestSuite struct {
	CommandTestSuite
}

func TestHealthTestSuite(t *testing.T) {
	suite.Run(t, new(HealthTestSuite))
}

func (s *HealthTestSuite) backend(url string) *appEnv {
	return s.Env(func(cfg *config.Config) {
		cfg.Inference.Enabled = true
		cfg.Inference.BaseURL = url
	})
}

func (s *HealthTestSuite) TestReportsModels() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status": "ok", "available_models": ["gemini", "simple_cnn"]}`))
	}))
	defer srv.Close()

	s.Require().NoError(checkHealth(context.Background(), s.backend(srv.URL), "json"))

	testutils.NewJSONAsserter(s.T()).Assert(s.Out.String(), `{
		"backend": "`+srv.URL+`",
		"status": "ok",
		"models": ["gemini", "simple_cnn"]
	}`)
	s.Empty(s.Transport.Calls(), "health MUST NOT touch the radio")
}

func (s *HealthTestSuite) TestTableShowsNotification() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"available_models": ["gemini"]}`))
	}))
	defer srv.Close()

	s.Require().NoError(checkHealth(context.Background(), s.backend(srv.URL), "table"))

	s.Contains(s.Out.String(), "OK    Connected to MoodSip AI (1 models available)")
	s.Contains(s.Out.String(), "models:")
}

func (s *HealthTestSuite) TestBackendDown() {
	// GOAL: Verify an unreachable backend maps onto the backend-unavailable user message
	//
	// TEST SCENARIO: server closed → checkHealth error wraps ErrUnavailable → formatted message

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	err := checkHealth(context.Background(), s.backend(srv.URL), "table")

	s.ErrorIs(err, inference.ErrUnavailable)
	s.Equal("Backend service unavailable", FormatUserError(err))
	s.Contains(s.Out.String(), "Backend service unavailable")
}
