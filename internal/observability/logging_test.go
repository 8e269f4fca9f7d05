package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LogConfig
		wantErr bool
	}{
		{
			name: "default json config",
			cfg:  DefaultLogConfig(),
		},
		{
			name: "console format",
			cfg:  LogConfig{Level: "debug", Format: "console", Output: "stderr"},
		},
		{
			name:    "invalid level",
			cfg:     LogConfig{Level: "verbose", Format: "json"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestLogger_With(t *testing.T) {
	logger := NopLogger()

	child := logger.With(String("component", "auth"))
	assert.NotNil(t, child)

	// Logging on the child must not panic.
	child.Info("test message", Int("count", 1))
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestIDFromContext(ctx))

	ctx = ContextWithRequestID(ctx, "req-123")
	assert.Equal(t, "req-123", RequestIDFromContext(ctx))
}

func TestLogger_WithContext(t *testing.T) {
	logger := NopLogger()

	// No request ID: same logger comes back.
	same := logger.WithContext(context.Background())
	assert.Equal(t, logger, same)

	ctx := ContextWithRequestID(context.Background(), "req-456")
	enriched := logger.WithContext(ctx)
	assert.NotNil(t, enriched)
	enriched.Debug("enriched")
}

func TestGlobalLogger(t *testing.T) {
	original := GetGlobalLogger()
	defer SetGlobalLogger(original)

	nop := NopLogger()
	SetGlobalLogger(nop)
	assert.Equal(t, nop, GetGlobalLogger())
}
