package app

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanShutdown(t *testing.T) {
	assert.True(t, CleanShutdown(context.Canceled))
	// Modes return the cancellation wrapped with context.
	assert.True(t, CleanShutdown(fmt.Errorf("app: run mode: %w", context.Canceled)))

	assert.False(t, CleanShutdown(nil))
	assert.False(t, CleanShutdown(errors.New("exchange unreachable")))
	assert.False(t, CleanShutdown(context.DeadlineExceeded))
}
