package ringchan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForceSendOverwritesOldest(t *testing.T) {
	rc := New[int](3)

	for i := 1; i <= 3; i++ {
		_, dropped := rc.ForceSend(i)
		assert.False(t, dropped, "send below capacity MUST NOT drop")
	}
	evicted, dropped := rc.ForceSend(4)
	assert.True(t, dropped, "send at capacity MUST drop the oldest")
	assert.Equal(t, 1, evicted, "the dropped element MUST be the oldest one")
	assert.Equal(t, 3, rc.Len())

	var got []int
	for {
		v, ok := rc.TryReceive()
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []int{2, 3, 4}, got)
}

func TestTryReceiveEmpty(t *testing.T) {
	rc := New[string](1)
	v, ok := rc.TryReceive()
	assert.False(t, ok)
	assert.Empty(t, v)
}

func TestCloseEndsReceivers(t *testing.T) {
	rc := New[int](2)
	rc.ForceSend(7)
	rc.Close()

	v, ok := <-rc.C()
	require.True(t, ok)
	assert.Equal(t, 7, v)
	_, ok = <-rc.C()
	assert.False(t, ok, "channel MUST be closed after drain")
}

func TestNewRejectsZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
