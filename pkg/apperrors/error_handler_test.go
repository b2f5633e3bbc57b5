package apperrors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var errBoom = errors.New("boom")

func TestWarningsAreLoggedAndCriticalCancels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h, ch := NewErrorHandler(cancel, zap.New(core))

	require.True(t, Report(ch, Error{Err: errBoom, Message: "announce failed", Severity: Warning, ComponentId: "tracker"}))
	require.True(t, Report(ch, Error{Err: errBoom, Message: "protocol mismatch", Severity: Critical, ComponentId: "discovery"}))

	err := h.Run(ctx)

	var appErr Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, Critical, appErr.Severity)
	assert.ErrorIs(t, err, errBoom)
	assert.Error(t, ctx.Err(), "context cancelled")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
	assert.Equal(t, "announce failed", entries[0].Message)
	assert.Equal(t, zap.ErrorLevel, entries[1].Level)
	assert.Equal(t, "discovery", entries[1].ContextMap()["component"])
}

func TestRunStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h, _ := NewErrorHandler(nil, nil)

	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestReportDoesNotBlock(t *testing.T) {
	ch := make(chan Error)
	assert.False(t, Report(ch, Error{Err: errBoom}))
}

func TestErrorString(t *testing.T) {
	e := Error{Err: errBoom, Message: "fatal", ComponentId: "client"}
	assert.Equal(t, "client: fatal: boom", e.Error())
	assert.Equal(t, "client: boom", Error{Err: errBoom, ComponentId: "client"}.Error())
}
