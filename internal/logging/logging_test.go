package logging

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/hashicorp/terraform-plugin-log/tflogtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext(t *testing.T) (context.Context, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	ctx := tflogtest.RootLogger(context.Background(), &buf)
	return WithSubsystems(ctx), &buf
}

func decode(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	entries, err := tflogtest.MultilineJSONDecode(buf)
	require.NoError(t, err)
	return entries
}

func TestLogOperation(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		ctx, buf := testContext(t)

		err := LogOperation(ctx, "ldap", "resolve_root", map[string]any{"server": "dc01"}, func() error {
			return nil
		})
		require.NoError(t, err)

		entries := decode(t, buf)
		require.Len(t, entries, 2)
		assert.Equal(t, "Starting operation", entries[0]["@message"])
		assert.Equal(t, "provider.ldap", entries[0]["@module"])
		assert.Equal(t, "resolve_root", entries[0]["operation"])
		assert.Equal(t, "dc01", entries[0]["server"])
		assert.Equal(t, "Operation completed successfully", entries[1]["@message"])
		assert.Contains(t, entries[1], "duration_ms")
	})

	t.Run("failure", func(t *testing.T) {
		ctx, buf := testContext(t)
		boom := errors.New("boom")

		err := LogOperation(ctx, "adws", "resolve_root", nil, func() error {
			return boom
		})
		assert.Same(t, boom, err)

		entries := decode(t, buf)
		require.Len(t, entries, 2)
		assert.Equal(t, "Operation failed", entries[1]["@message"])
		assert.Equal(t, "error", entries[1]["@level"])
		assert.Equal(t, "boom", entries[1]["error"])
	})
}

func TestWithSubsystems_MasksSensitiveFields(t *testing.T) {
	ctx, buf := testContext(t)

	tflog.SubsystemInfo(ctx, "adws", "Binding", map[string]any{
		"username": "svc",
		"password": "hunter2",
	})

	entries := decode(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "svc", entries[0]["username"])
	assert.Equal(t, "***", entries[0]["password"])
}

func TestWithSubsystems_LevelFromEnv(t *testing.T) {
	t.Setenv("ADSCAN_LOG_DCLOCATOR", "ERROR")
	ctx, buf := testContext(t)

	tflog.SubsystemDebug(ctx, "dclocator", "hidden")
	tflog.SubsystemDebug(ctx, "directory", "shown")

	entries := decode(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "shown", entries[0]["@message"])
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		level string
		env   string
		want  hclog.Level
	}{
		{name: "explicit", level: "debug", want: hclog.Debug},
		{name: "explicit wins over env", level: "error", env: "TRACE", want: hclog.Error},
		{name: "env", env: "info", want: hclog.Info},
		{name: "default", want: hclog.Warn},
		{name: "unknown", level: "loud", want: hclog.Warn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvLogLevel, tt.env)
			assert.Equal(t, tt.want, ParseLevel(tt.level))
		})
	}
}

func TestSanitizeFields(t *testing.T) {
	tests := []struct {
		name     string
		input    map[string]any
		expected map[string]any
	}{
		{
			name:     "nil",
			input:    nil,
			expected: map[string]any{},
		},
		{
			name: "sensitive keys",
			input: map[string]any{
				"Password": "secret",
				"token":    "abc",
				"username": "svc",
			},
			expected: map[string]any{
				"Password": "[REDACTED]",
				"token":    "[REDACTED]",
				"username": "svc",
			},
		},
		{
			name: "sensitive values",
			input: map[string]any{
				"dsn":   "ldap://dc01?password=hunter2",
				"count": 3,
			},
			expected: map[string]any{
				"dsn":   "[REDACTED]",
				"count": 3,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeFields(tt.input))
		})
	}
}

func TestSanitizeFields_DoesNotModifyInput(t *testing.T) {
	in := map[string]any{"password": "x"}
	_ = SanitizeFields(in)
	assert.Equal(t, "x", in["password"])
}
