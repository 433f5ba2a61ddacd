package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestWithRunIDAndAgentRoundTripThroughContext(t *testing.T) {
	ctx := context.Background()
	ctx = WithRunID(ctx, "run-1")
	ctx = WithAgent(ctx, "codex")

	assert.Equal(t, "run-1", RunIDFromContext(ctx))
	assert.Equal(t, "codex", AgentFromContext(ctx))

	fields := ContextFields(ctx)
	assert.Len(t, fields, 2)
}

func TestWithRunIDPanicsOnInvalidID(t *testing.T) {
	assert.Panics(t, func() {
		WithRunID(context.Background(), "has a space")
	})
}

func TestContextFieldsEmptyWhenUntagged(t *testing.T) {
	fields := ContextFields(context.Background())
	assert.Empty(t, fields)
}

func TestNewLoggerRejectsInvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg)
	assert.Error(t, err)
}

func TestNewLoggerBuildsWorkingLogger(t *testing.T) {
	cfg := NewDefaultConfig()
	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	ctx := WithAgent(context.Background(), "gemini")
	logger.Info(ctx, "scan complete")
	require.NoError(t, logger.Sync())
}

func TestTestLoggerObservesLoggedFields(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithAgent(context.Background(), "claude_code")
	tl.Warn(ctx, "retrying scan")

	tl.AssertLogged(t, zapcore.WarnLevel, "retrying scan")
	tl.AssertField(t, "retrying scan", "agent", "claude_code")
}

func TestTestLoggerAssertNoSecretsCatchesBearerTokens(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(context.Background(), "calling upstream Bearer abc123")

	fakeT := &testingTB{}
	tl.AssertNoSecrets(fakeT)
	assert.True(t, fakeT.failed)
}

type testingTB struct {
	testing.TB
	failed bool
}

func (t *testingTB) Helper() {}
func (t *testingTB) Errorf(format string, args ...interface{}) {
	t.failed = true
}
