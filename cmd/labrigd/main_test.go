package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labrig/labrig-go/pkg/config"
)

func TestRunListsKinds(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"-kinds"}, &out))
	assert.Equal(t, "gpio\nsim-camera\nsim-filterwheel\nsim-laser\nsim-stage\nsim-valuelogger\n", out.String())
}

func TestRunRejectsBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labrig.yaml")
	require.NoError(t, os.WriteFile(path, []byte("devices: [{id: cam0, kind: laser}]"), 0o600))

	err := run([]string{"-config", path}, &bytes.Buffer{})
	assert.ErrorContains(t, err, `unknown kind "laser"`)

	err = run([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = newLogger(config.LoggingConfig{Level: "loud"}, &buf)
	assert.Error(t, err)
}
