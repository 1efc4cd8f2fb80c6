package log

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestToFields(t *testing.T) {
	now := time.Now()
	err := errors.New("boom")

	tests := []struct {
		name string
		in   []any
		keys []string
	}{
		{"empty input", nil, nil},
		{"string-int-bool", []any{"a", "x", "b", 123, "c", true}, []string{"a", "b", "c"}},
		{"time type", []any{"t", now}, []string{"t"}},
		{"error only", []any{err}, []string{"error"}},
		{"named error", []any{"cause", err}, []string{"cause"}},
		{"mixed field types", []any{"msg", "ok", zap.String("x", "y"), "num", 42}, []string{"msg", "x", "num"}},
		{"odd number of args", []any{"key1", "val1", "key2"}, []string{"key1", "arg#2"}},
		{"non-string key", []any{123, "value"}, []string{"invalid_key_1"}},
		{"nil values", []any{"a", nil, "b", (*int)(nil)}, []string{"a", "b"}},
		{"map value", []any{"a", map[string]string{"xyz": "123"}}, []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := toFields(tt.in...)
			require.Len(t, fields, len(tt.keys))
			for i, f := range fields {
				assert.Equal(t, tt.keys[i], f.Key)
			}
		})
	}
}

func TestToFieldsBinary(t *testing.T) {
	small := toFields("hdr", []byte{0xe9, 0x01})
	require.Len(t, small, 1)
	assert.Equal(t, zapcore.BinaryType, small[0].Type)

	large := toFields("chunk", make([]byte, maxBinaryField+1))
	require.Len(t, large, 1)
	assert.Equal(t, zapcore.StringType, large[0].Type)
	assert.Equal(t, "<65 bytes>", large[0].String)
}

func TestOptionsValidate(t *testing.T) {
	opts := NewOptions()
	if errs := opts.Validate(); len(errs) != 0 {
		t.Fatalf("default options should be valid, got %v", errs)
	}

	opts.Format = "xml"
	opts.Level = "loud"
	if errs := opts.Validate(); len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %v", errs)
	}
}

func TestSetLevel(t *testing.T) {
	l := NewLogger(&Options{Level: "info", Format: "json", OutputPaths: []string{"stderr"}}).(*zapLogger)
	if l.core.Core().Enabled(zap.DebugLevel) {
		t.Fatal("debug should be disabled at info level")
	}

	l.level.SetLevel(parseLevel("debug"))
	if !l.core.Core().Enabled(zap.DebugLevel) {
		t.Fatal("debug should be enabled after level change")
	}

	if got := parseLevel("bogus"); got != zap.InfoLevel {
		t.Errorf("parseLevel(bogus) = %v, want info", got)
	}
}

func TestLogrFollowsLevel(t *testing.T) {
	l := NewLogger(&Options{Level: "info", Format: "json", OutputPaths: []string{"stderr"}}).(*zapLogger)
	lr := l.Logr()
	assert.True(t, lr.Enabled())
	assert.False(t, lr.V(1).Enabled())

	l.level.SetLevel(parseLevel("debug"))
	assert.True(t, lr.V(1).Enabled())

	assert.False(t, NewNopLogger().Logr().Enabled())
}
