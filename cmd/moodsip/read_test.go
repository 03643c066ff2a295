//go:build test

package main

import (
	"context"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/srg/moodsip/internal/device"
	"github.com/srg/moodsip/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type ReadTestSuite struct {
	CommandTestSuite
}

func TestReadTestSuite(t *testing.T) {
	suite.Run(t, new(ReadTestSuite))
}

func (s *ReadTestSuite) TestHexDump() {
	// GOAL: Verify read connects, reads the image characteristic once and releases the link
	//
	// TEST SCENARIO: characteristic holds 20 bytes → hex dump printed → link disconnected

	value := testutils.Pattern(20, 0x10)
	s.Transport.SetValue(device.ImageCharUUID, value)

	s.Require().NoError(readImageOnce(context.Background(), s.Env(), ""))

	out := s.Out.String()
	s.Contains(out, "Read image char value: 20 bytes")
	s.Contains(out, "20 bytes:\n"+hex.Dump(value))
	s.Equal(1, s.Transport.Disconnects(), "read MUST release the link")
	s.Empty(s.Transport.Writes(), "read MUST NOT acknowledge anything")
}

func (s *ReadTestSuite) TestWritesRawValue() {
	value := []byte{0x01, 0x02, 0x03}
	s.Transport.SetValue(device.ImageCharUUID, value)
	path := filepath.Join(s.T().TempDir(), "value.bin")

	s.Require().NoError(readImageOnce(context.Background(), s.Env(), path))

	got, err := os.ReadFile(path)
	s.Require().NoError(err)
	s.Equal(value, got)
	s.Contains(s.Out.String(), "Wrote 3 bytes to "+path)
}

func (s *ReadTestSuite) TestReadFailure() {
	s.Transport.FailOn(testutils.OpRead, errors.New("att: read not permitted"))

	err := readImageOnce(context.Background(), s.Env(), "")

	s.ErrorIs(err, device.ErrRead)
	s.Contains(s.Out.String(), "Read failed:")
	s.Equal(1, s.Transport.Disconnects(), "failed reads MUST still release the link")
}
