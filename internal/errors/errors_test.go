package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	cfgErr := NewConfigError("slice_range must be >= 1, got %d", 0)
	rtErr := NewRuntimeError("retries exhausted", fmt.Errorf("status 429"))

	assert.True(t, IsConfig(cfgErr))
	assert.False(t, IsRuntime(cfgErr))
	assert.True(t, IsRuntime(rtErr))
	assert.False(t, IsConfig(rtErr))

	wrapped := fmt.Errorf("slice 2020-01-01..2020-01-07: %w", cfgErr)
	assert.True(t, IsConfig(wrapped))
	assert.Equal(t, ErrCodeConfig, CodeOf(wrapped))

	assert.Equal(t, ErrCode(""), CodeOf(fmt.Errorf("plain")))
	assert.True(t, IsNotFound(NewNotFoundError("task")))
}

func TestErrorMessage(t *testing.T) {
	err := NewRuntimeError("retries exhausted", fmt.Errorf("status 503"))
	assert.Equal(t, "RUNTIME_ERROR: retries exhausted (status 503)", err.Error())
	assert.Equal(t, "CONFIG_ERROR: bad zone Mars/Olympus", NewConfigError("bad zone %s", "Mars/Olympus").Error())
}
