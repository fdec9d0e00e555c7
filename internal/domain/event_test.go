package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"click","x":100,"y":50}`))
	require.NoError(t, err)
	assert.Equal(t, Click(100, 50), ev)

	ev, err = DecodeEvent([]byte(`{"type":"key","key":"a","modifiers":["shift","ctrl"]}`))
	require.NoError(t, err)
	assert.Equal(t, Key("a", "shift", "ctrl"), ev)
}

func TestDecodeEvent_Invalid(t *testing.T) {
	inputs := []string{
		`{"type":"click","x":-1,"y":5}`,
		`{"type":"key"}`,
		`{"type":"selector","target":"#button"}`,
		`not json`,
	}
	for _, in := range inputs {
		_, err := DecodeEvent([]byte(in))
		assert.ErrorIs(t, err, ErrInvalidEvent, in)
	}
}

func TestControlEvent_Point(t *testing.T) {
	x, y := Click(10.4, 20.6).Point()
	assert.Equal(t, 10, x)
	assert.Equal(t, 21, y)
}
