package logging_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/emdash/todoserver/pkg/logging"
)

func TestNewRespectsLevel(t *testing.T) {
	logger := logging.New(logging.LevelWarn)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))
}

func TestDiscardDropsOutput(t *testing.T) {
	logger := logging.Discard()
	assert.NotPanics(t, func() {
		logger.Error("dropped", slog.String("k", "v"))
		logger.With(slog.String("component", "x")).Info("also dropped")
	})
}
