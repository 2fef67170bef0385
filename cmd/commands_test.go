package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"firestore-driver/internal/firestore/config"
	"firestore-driver/internal/firestore/drivertest"
	"firestore-driver/internal/shared/logger"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(logger.NewNop())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "command-test-secret")
	out, err := execute(t, "token", "--uid", "ada", "--email", "ada@example.com")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "."), 3, "a JWT has three parts")

	_, err = execute(t, "token")
	assert.Error(t, err, "uid is required")
}

func TestSweepCommand(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("REDIS_ADDR", "")
	out, err := execute(t, "sweep", "--run-id", "nothing-here")
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(out))
}

func TestRunCheck(t *testing.T) {
	ctx := context.Background()
	gw, err := drivertest.StartGateway(ctx, t, drivertest.MemoryStore)
	require.NoError(t, err)
	token, err := gw.Token(ctx, "checker")
	require.NoError(t, err)
	driver, err := gw.Client(token)
	require.NoError(t, err)
	defer driver.Close()

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	fixtureCfg := config.FixtureConfig{Prefix: "items", RunID: "check", TeardownTimeout: 10 * time.Second}

	err = runCheck(ctx, cmd, gw.Module.Store, gw.Module.AdminDriver(), driver, fixtureCfg, logger.NewNop())
	require.NoError(t, err, out.String())
	assert.Contains(t, out.String(), "ok items-check-")

	names, err := gw.Module.Store.ListCollections(ctx, "items-check-")
	require.NoError(t, err)
	assert.Empty(t, names, "the check tears its collection down")
}

func TestRunCheckReportsDeniedDriver(t *testing.T) {
	ctx := context.Background()
	gw, err := drivertest.StartGateway(ctx, t, drivertest.MemoryStore)
	require.NoError(t, err)
	anon, err := gw.Client("")
	require.NoError(t, err)
	defer anon.Close()

	cmd := &cobra.Command{}
	cmd.SetOut(&bytes.Buffer{})
	fixtureCfg := config.FixtureConfig{Prefix: "items", RunID: "denied", TeardownTimeout: 10 * time.Second}

	err = runCheck(ctx, cmd, gw.Module.Store, gw.Module.AdminDriver(), anon, fixtureCfg, logger.NewNop())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "harness:", "a denied query is a driver failure, not a harness one")
	assert.Contains(t, err.Error(), "client driver")
}
