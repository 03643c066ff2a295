package device

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLinkError(t *testing.T) {
	t.Run("errors.Is compares by kind", func(t *testing.T) {
		err := NewError(ServiceUnavailable, nil, "image service %s", ShortenUUID("12345678123456781234"))

		assert.ErrorIs(t, err, ErrServiceUnavailable, "MUST match sentinel of same kind")
		assert.NotErrorIs(t, err, ErrConnect, "MUST NOT match sentinel of a different kind")
	})

	t.Run("wrapped cause stays reachable", func(t *testing.T) {
		cause := NewError(CharacteristicUnavailable, nil, "image characteristic")
		err := NewError(ServiceUnavailable, cause, "discovery failed")

		assert.ErrorIs(t, err, ErrServiceUnavailable)
		assert.ErrorIs(t, err, ErrCharacteristicUnavailable, "cause kind MUST be reachable through Unwrap")
		assert.Equal(t, ServiceUnavailable, KindOf(err), "KindOf MUST report the outermost kind")
	})

	t.Run("message format", func(t *testing.T) {
		err := NewError(WriteFailed, context.DeadlineExceeded, "ack")
		assert.Equal(t, "write_error: ack: context deadline exceeded", err.Error())
		assert.Equal(t, "no_device_found", ErrNoDeviceFound.Error())
	})

	t.Run("KindOf on foreign errors", func(t *testing.T) {
		assert.Equal(t, ErrorKind(""), KindOf(errors.New("boom")))
		assert.Equal(t, UserCancelled, KindOf(fmt.Errorf("scan: %w", ErrUserCancelled)))
	})
}

func TestIsSetupFailure(t *testing.T) {
	assert.True(t, IsSetupFailure(ErrTransportUnavailable))
	assert.True(t, IsSetupFailure(NewError(SubscribeFailed, nil, "image")))
	assert.False(t, IsSetupFailure(ErrReassemblyReset), "streaming failures MUST NOT be setup failures")
	assert.False(t, IsSetupFailure(ErrWrite), "ack write failures MUST NOT be setup failures")
	assert.False(t, IsSetupFailure(nil))
}

func TestNotFoundError(t *testing.T) {
	assert.Equal(t, "service not found", (&NotFoundError{Resource: "service"}).Error())
	assert.Equal(t, `service "180f" not found`, (&NotFoundError{Resource: "service", UUIDs: []string{"180f"}}).Error())
	assert.Equal(t, `characteristic "2a37" not found in service "180f"`,
		(&NotFoundError{Resource: "characteristic", UUIDs: []string{"180f", "2a37"}}).Error())
}
