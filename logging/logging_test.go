package logging

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {

	tests := []struct {
		in     string
		expect zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARN ", zerolog.WarnLevel},
		{"", zerolog.InfoLevel},
		{"disabled", zerolog.Disabled},
	}

	for _, tc := range tests {
		lvl, err := ParseLevel(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.expect, lvl, tc.in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestInit(t *testing.T) {

	prev := zerolog.GlobalLevel()
	defer zerolog.SetGlobalLevel(prev)

	require.NoError(t, Init("error", false))
	assert.Equal(t, zerolog.ErrorLevel, zerolog.GlobalLevel())

	require.NoError(t, Init("debug", true))
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	assert.Error(t, Init("loud", true))

	assert.Equal(t, "logging.go:12", shortCaller(0, "/src/pkg/logging.go", 12))
}
