package main

import (
	"bytes"
	"testing"

	"github.com/cheahjs/img-router/internal/config"
	"github.com/cheahjs/img-router/internal/provider"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"detect", "hf_abcdefgh"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "HuggingFace\n", out.String())
}

func TestDetectCommandUnknown(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"detect", "abcde"})

	assert.ErrorIs(t, cmd.Execute(), provider.ErrUnknownProvider)
}

func TestNewLoggerLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, newLogger(config.LogConfig{Level: "debug"}).GetLevel())
	assert.Equal(t, zerolog.InfoLevel, newLogger(config.LogConfig{Level: ""}).GetLevel())
	assert.Equal(t, zerolog.InfoLevel, newLogger(config.LogConfig{Level: "loud"}).GetLevel())
}
