package svcutil

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(slog.LevelError, ParseLevel(" error "))
	assert.Equal(slog.LevelInfo, ParseLevel(""))
	assert.Equal(slog.LevelInfo, ParseLevel("verbose"))
}
