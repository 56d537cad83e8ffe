package dal

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/pipeserve/internal/infrastructure/logging"
)

type closingDAL struct{ closed bool }

func (c *closingDAL) Close() error {
	c.closed = true
	return nil
}

func TestLoadSkipsFailingDALs(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := NewRegistry(logging.Wrap(zap.New(core), false))

	require.NoError(t, r.Register(MemoryName, NewMemory))
	require.NoError(t, r.Register("broken", func(context.Context, any) (any, error) {
		return nil, errors.New("connection refused")
	}))
	require.NoError(t, r.Register("panics", func(context.Context, any) (any, error) {
		panic("driver bug")
	}))

	set := r.Load(context.Background(), []string{"memory", "broken", "panics", "ghost"}, map[string]any{
		"memory": map[string]any{"greeting": "hi"},
	})

	assert.Equal(t, []string{"memory"}, set.Names())
	assert.Equal(t, 3, logs.FilterMessage("error in dal").Len())
	assert.Equal(t, 1, logs.FilterMessage("DALs included").Len())

	v, ok := set.Get("memory")
	require.True(t, ok)
	mem := v.(*Memory)
	got, ok := mem.Get("greeting")
	assert.True(t, ok)
	assert.Equal(t, "hi", got)
}

func TestLoadNothing(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := NewRegistry(logging.Wrap(zap.New(core), false))

	set := r.Load(context.Background(), nil, nil)
	assert.Empty(t, set.Names())
	assert.Equal(t, 1, logs.FilterMessage("DALs not included").Len())
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register("a", NewMemory))
	assert.ErrorIs(t, r.Register("a", NewMemory), ErrDuplicate)
	assert.Error(t, r.Register("", NewMemory))
}

func TestSetClose(t *testing.T) {
	c := &closingDAL{}
	r := NewRegistry(nil)
	require.NoError(t, r.Register("closing", func(context.Context, any) (any, error) { return c, nil }))

	set := r.Load(context.Background(), []string{"closing"}, nil)
	require.NoError(t, set.Close())
	assert.True(t, c.closed)

	var nilSet *Set
	assert.NoError(t, nilSet.Close())
	_, ok := nilSet.Get("x")
	assert.False(t, ok)
}

func TestMemory(t *testing.T) {
	v, err := NewMemory(context.Background(), nil)
	require.NoError(t, err)
	m := v.(*Memory)

	m.Set("k", 1)
	assert.Equal(t, 1, m.Len())
	m.Delete("k")
	_, ok := m.Get("k")
	assert.False(t, ok)
}
