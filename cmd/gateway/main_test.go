package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubStartServer swaps startServer for the duration of a test and restores
// it afterward, so Run's dispatch can be exercised without binding a real
// listener.
func stubStartServer(t *testing.T) *int {
	t.Helper()
	calls := 0
	orig := startServer
	startServer = func() { calls++ }
	t.Cleanup(func() { startServer = orig })
	return &calls
}

func TestRun_NoArgsStartsServer(t *testing.T) {
	calls := stubStartServer(t)

	var stdout, stderr bytes.Buffer
	code := Run([]string{"gateway"}, &stdout, &stderr)

	assert.Equal(t, 0, code)
	assert.Equal(t, 1, *calls)
}

func TestRun_ServerCommandStartsServer(t *testing.T) {
	calls := stubStartServer(t)

	var stdout, stderr bytes.Buffer
	code := Run([]string{"gateway", "server"}, &stdout, &stderr)

	assert.Equal(t, 0, code)
	assert.Equal(t, 1, *calls)

	code = Run([]string{"gateway", "serve"}, &stdout, &stderr)
	assert.Equal(t, 0, code)
	assert.Equal(t, 2, *calls)
}

func TestRun_FlagsFallThroughToServer(t *testing.T) {
	calls := stubStartServer(t)

	var stdout, stderr bytes.Buffer
	code := Run([]string{"gateway", "--foo"}, &stdout, &stderr)

	assert.Equal(t, 0, code)
	assert.Equal(t, 1, *calls)
}

func TestRun_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"gateway", "version"}, &stdout, &stderr)

	require.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "uapk-gateway")
	assert.Empty(t, stderr.String())
}

func TestRun_Help(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"gateway", "help"}, &stdout, &stderr)

	require.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "USAGE")
	assert.Contains(t, stdout.String(), "Agent Interaction Gateway")
}

func TestRun_UnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"gateway", "bogus"}, &stdout, &stderr)

	assert.Equal(t, 2, code)
	assert.True(t, strings.Contains(stderr.String(), "Unknown command: bogus"))
	assert.Contains(t, stderr.String(), "USAGE")
}

func TestRun_SeedRequiresDirAndOrg(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"gateway", "seed"}, &stdout, &stderr)

	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "Usage: gateway seed")
}

func TestRun_HealthCommandFailsWithoutServer(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"gateway", "health"}, &stdout, &stderr)

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "Health check failed")
}
