package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingT struct {
	errors []string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func TestTextAsserter(t *testing.T) {
	rt := &recordingT{}
	ta := NewTextAsserter(rt)

	assert.True(t, ta.Assert("state: streaming  \nframes: 3\n", "state: streaming\nframes: 3"),
		"trailing whitespace and surrounding newlines MUST be ignored by default")
	assert.Empty(t, rt.errors)

	assert.False(t, ta.Assert("frames: 4", "frames: 3"))
	if assert.Len(t, rt.errors, 1) {
		assert.Contains(t, rt.errors[0], "-frames: 3")
		assert.Contains(t, rt.errors[0], "+frames: 4")
	}
}

func TestTextAsserterIgnoreEmptyLines(t *testing.T) {
	ta := NewTextAsserter(&recordingT{}, WithIgnoreEmptyLines(true))
	assert.Empty(t, ta.Diff("a\n\n\nb", "a\nb"))
}

func TestJSONAsserter(t *testing.T) {
	rt := &recordingT{}
	ja := NewJSONAsserter(rt)

	actual := `{"subscribed": true, "total_bytes": 9216, "last_event_at": "2026-10-18T10:00:00Z", "extra": 1}`

	assert.True(t, ja.Assert(actual, `{"subscribed": true, "total_bytes": 9216, "last_event_at": "<<PRESENCE>>"}`),
		"presence placeholder and extra keys MUST be accepted")
	assert.False(t, ja.Assert(actual, `{"subscribed": false}`))
	assert.Len(t, rt.errors, 1)
}

func TestJSONAsserterIgnoredFields(t *testing.T) {
	ja := NewJSONAsserter(&recordingT{}, WithIgnoreExtraKeys(false), WithIgnoredFields("time"))

	assert.Empty(t, ja.Diff(`[{"text": "a", "time": 1}]`, `[{"text": "a", "time": 2}]`))
	assert.NotEmpty(t, ja.Diff(`{"text": "a", "id": 1}`, `{"text": "a"}`), "extra keys MUST fail when not ignored")
}
