package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"artnetd/internal/config"
)

func TestNewLogger(t *testing.T) {
	log, err := NewLogger(config.LogConf{Level: "debug"})
	require.NoError(t, err)
	assert.Equal(t, "debug", log.GetLevel())
}

func TestNewLoggerErrors(t *testing.T) {
	_, err := NewLogger(config.LogConf{Level: "loud"})
	assert.Error(t, err)

	_, err = NewLogger(config.LogConf{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestWithAddsFields(t *testing.T) {
	log, err := NewLogger(config.LogConf{Level: "info", Format: "json"})
	require.NoError(t, err)

	var buf bytes.Buffer
	log.Logger.SetOutput(&buf)
	log.With(Fields{"module": "discovery"}).Info("poll sent")

	assert.Contains(t, buf.String(), `"module":"discovery"`)
	assert.Contains(t, buf.String(), `"msg":"poll sent"`)
}

func TestNop(t *testing.T) {
	log := NewNop()
	log.With(Fields{"module": "test"}).Error("dropped")
	assert.Equal(t, "panic", log.GetLevel())
}
