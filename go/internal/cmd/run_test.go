package main

import (
	"testing"

	"github.com/mcdev12/studybuddy/go/internal/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDurations(t *testing.T) {
	focus, brk, err := parseDurations(" 50  10 ")
	require.NoError(t, err)
	assert.Equal(t, 50, focus)
	assert.Equal(t, 10, brk)

	for _, arg := range []string{"", "50", "50 ten", "fifty 10", "1 2 3"} {
		_, _, err := parseDurations(arg)
		assert.Error(t, err, arg)
	}
}

func TestFormatView(t *testing.T) {
	assert.Equal(t, "[focus] 24:59 (running)", formatView(&timer.View{Phase: timer.Focus, Running: true, Display: "24:59"}))
	assert.Equal(t, "[break] 05:00 (paused)", formatView(&timer.View{Phase: timer.Break, Display: "05:00"}))
	assert.Equal(t, "[focus] 00:00 (waiting for server)", formatView(&timer.View{Running: true, AwaitingServer: true, Display: "00:00"}))
}
