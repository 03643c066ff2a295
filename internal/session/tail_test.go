package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRawTailKeepsMostRecentBytes(t *testing.T) {
	tail := newRawTail(8)

	tail.Append([]byte{1, 2, 3})
	tail.Append([]byte{4, 5, 6, 7})
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7}, tail.Bytes())
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7}, tail.Bytes(), "reading MUST NOT consume the tail")

	tail.Append([]byte{8, 9, 10})
	assert.Equal(t, []byte{3, 4, 5, 6, 7, 8, 9, 10}, tail.Bytes(), "oldest bytes MUST be evicted")

	tail.Append([]byte{20, 21, 22, 23, 24, 25, 26, 27, 28, 29})
	assert.Equal(t, []byte{22, 23, 24, 25, 26, 27, 28, 29}, tail.Bytes(), "oversized chunk MUST keep its tail")

	tail.Reset()
	assert.Nil(t, tail.Bytes())
}
