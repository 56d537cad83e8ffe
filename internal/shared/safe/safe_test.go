package safe

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestCallConvertsPanic(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		message string
	}{
		{name: "string", value: "boom", message: "boom"},
		{name: "error", value: errors.New("bad state"), message: "bad state"},
		{name: "other", value: 42, message: "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Call(func() { panic(tt.value) })

			var pe *PanicError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.message, err.Error())
			assert.NotEmpty(t, pe.Stack)
		})
	}
}

func TestCallWithoutPanic(t *testing.T) {
	ran := false
	err := Call(func() { ran = true })

	assert.NoError(t, err)
	assert.True(t, ran)
}

func TestPanicErrorUnwrap(t *testing.T) {
	sentinel := errors.New("sentinel")
	err := Call(func() { panic(sentinel) })

	assert.ErrorIs(t, err, sentinel)
}

func TestGoRecoversAndLogs(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	logger := zap.New(core)

	Go(logger, "worker", func() { panic("worker exploded") })

	require.Eventually(t, func() bool { return logs.Len() == 1 }, time.Second, 5*time.Millisecond)
	entry := logs.All()[0]
	assert.Equal(t, "worker", entry.ContextMap()["goroutine"])
	assert.Equal(t, "worker exploded", entry.ContextMap()["panic"])
}

func TestRecoverNilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		defer Recover(nil, "nil-logger")
		panic("ignored")
	})
}
