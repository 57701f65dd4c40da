package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestSetLevel(t *testing.T) {
	before := level.Level()
	t.Cleanup(func() { level.SetLevel(before) })

	require.NoError(t, SetLevel("WARN"))
	assert.Equal(t, zapcore.WarnLevel, level.Level())

	assert.Error(t, SetLevel("loud"))
	assert.Equal(t, zapcore.WarnLevel, level.Level(), "a bad name leaves the level alone")
}

func TestIsDevelopment(t *testing.T) {
	t.Setenv("ENV", "")
	assert.True(t, IsDevelopment())

	t.Setenv("ENV", "production")
	assert.False(t, IsDevelopment())
	assert.Equal(t, "production", GetAppEnv())
}

func TestNewTagsComponent(t *testing.T) {
	l := New("test")
	assert.Equal(t, "test", l.component)
	l.Info("logger %s ready", "test")
}
