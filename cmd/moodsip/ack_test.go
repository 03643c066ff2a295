//go:build test

package main

import (
	"context"
	"errors"
	"testing"

	"github.com/srg/moodsip/internal/device"
	"github.com/srg/moodsip/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type AckTestSuite struct {
	CommandTestSuite
}

func TestAckTestSuite(t *testing.T) {
	suite.Run(t, new(AckTestSuite))
}

func (s *AckTestSuite) TestSendsRequestedAcks() {
	s.Require().NoError(sendAcks(context.Background(), s.Env(), 3))

	ack := []byte{device.AckValue}
	s.Equal([][]byte{ack, ack, ack}, s.Transport.Writes())
	s.Contains(s.Out.String(), "ACK (1) sent to device")
	s.Equal(1, s.Transport.Disconnects())
}

func (s *AckTestSuite) TestMissingCommandCharacteristic() {
	// GOAL: Verify ack fails cleanly when the bottle has no command characteristic
	//
	// TEST SCENARIO: profile without the command characteristic → CharacteristicUnavailable → nothing written

	s.Transport = testutils.NewFakeTransportFromJSON(`{
		"peripherals": [{"id": "b", "name": "MoodSip", "address": "AA:00:00:00:00:01", "rssi": -50}],
		"services": [{"uuid": %q, "characteristics": [{"uuid": %q}]}]
	}`, device.ServiceUUID, device.ImageCharUUID)

	err := sendAcks(context.Background(), s.Env(), 1)

	s.ErrorIs(err, device.ErrCharacteristicUnavailable)
	s.Contains(s.Out.String(), "Command characteristic not available")
	s.Empty(s.Transport.Writes())
}

func (s *AckTestSuite) TestWriteFailureStopsEarly() {
	s.Transport.FailOn(testutils.OpWrite, errors.New("att: write not permitted"))

	err := sendAcks(context.Background(), s.Env(), 3)

	s.Error(err)
	s.Contains(s.Out.String(), "ACK failed:")
	s.Equal(1, s.Transport.Disconnects())
}
