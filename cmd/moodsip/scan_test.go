//go:build test

package main

import (
	"context"
	"testing"

	"github.com/srg/moodsip/internal/device"
	"github.com/srg/moodsip/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type ScanTestSuite struct {
	CommandTestSuite
}

func TestScanTestSuite(t *testing.T) {
	suite.Run(t, new(ScanTestSuite))
}

func (s *ScanTestSuite) SetupTest() {
	s.CommandTestSuite.SetupTest()
	s.Transport = testutils.NewFakeTransportFromJSON(`{
		"peripherals": [
			{"id": "p1", "name": "MoodSip-Bottle", "address": "AA:00:00:00:00:01", "rssi": -71},
			{"id": "p2", "name": "ESP32-cam", "address": "AA:00:00:00:00:02", "rssi": -45},
			{"id": "p3", "name": "HeartRate", "address": "AA:00:00:00:00:03", "rssi": -30}
		],
		"services": []
	}`)
}

func (s *ScanTestSuite) TestTableListsMatchingPeripherals() {
	// GOAL: Verify scan lists only filter matches, strongest signal first
	//
	// TEST SCENARIO: three peripherals, one foreign → table with two rows ordered by RSSI

	s.Require().NoError(listPeripherals(context.Background(), s.Env(), scanOptions{format: "table"}))

	testutils.NewTextAsserter(s.T()).Assert(s.Out.String(), `
NAME            ADDRESS            RSSI
ESP32-cam       AA:00:00:00:00:02  -45 dBm
MoodSip-Bottle  AA:00:00:00:00:01  -71 dBm

2 device(s) found
`)
}

func (s *ScanTestSuite) TestAllIgnoresFilters() {
	s.Require().NoError(listPeripherals(context.Background(), s.Env(), scanOptions{format: "json", all: true}))

	testutils.NewJSONAsserter(s.T()).Assert(s.Out.String(), `[
		{"name": "HeartRate", "address": "AA:00:00:00:00:03", "id": "p3", "rssi": -30},
		{"name": "ESP32-cam", "address": "AA:00:00:00:00:02", "id": "p2", "rssi": -45},
		{"name": "MoodSip-Bottle", "address": "AA:00:00:00:00:01", "id": "p1", "rssi": -71}
	]`)
}

func (s *ScanTestSuite) TestNoDevicesIsNotAnError() {
	// GOAL: Verify an empty scan prints a hint instead of failing
	//
	// TEST SCENARIO: no peripherals → table prints hint; json prints empty array

	s.Transport = testutils.NewFakeTransportFromJSON(`{"peripherals": [], "services": []}`)

	s.Require().NoError(listPeripherals(context.Background(), s.Env(), scanOptions{format: "table"}))
	s.Equal("No MoodSip devices found.\n", s.Out.String())

	s.Out = &lockedBuffer{}
	s.Require().NoError(listPeripherals(context.Background(), s.Env(), scanOptions{format: "json"}))
	s.JSONEq(`[]`, s.Out.String())
}

func (s *ScanTestSuite) TestRadioUnavailable() {
	tests := []struct {
		name       string
		capability string
		expected   error
	}{
		{name: "no radio stack", capability: "unavailable", expected: device.ErrTransportUnavailable},
		{name: "adapter off", capability: "adapter_off", expected: device.ErrAdapterUnavailable},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.Transport = testutils.NewFakeTransportFromJSON(`{"capability": %q, "peripherals": [], "services": []}`, tt.capability)

			err := listPeripherals(context.Background(), s.Env(), scanOptions{format: "table"})

			s.ErrorIs(err, tt.expected)
			s.Empty(s.Transport.Calls(), "scan MUST NOT start without a usable radio")
		})
	}
}

func (s *ScanTestSuite) TestScanErrorIsReturned() {
	s.Transport.FailOn(testutils.OpScan, device.NewError(device.AdapterUnavailable, nil, "powered off"))

	err := listPeripherals(context.Background(), s.Env(), scanOptions{format: "table"})

	s.ErrorIs(err, device.ErrAdapterUnavailable)
	s.Equal("Bluetooth not available. Please enable Bluetooth on your device.", FormatUserError(err))
}
