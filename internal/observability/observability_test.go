package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	t.Parallel()

	t.Run("json honours level", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewLogger("warn", "json", &buf)
		require.NoError(t, err)

		logger.Info("dropped")
		logger.Warn("kept", "merchant_order_id", "ORD1")

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "kept", line["msg"])
		assert.Equal(t, "ORD1", line["merchant_order_id"])
	})

	t.Run("text format", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewLogger("debug", "text", &buf)
		require.NoError(t, err)
		logger.Debug("hello")
		assert.Contains(t, buf.String(), "msg=hello")
	})

	t.Run("rejects unknown values", func(t *testing.T) {
		_, err := NewLogger("loud", "json", &bytes.Buffer{})
		assert.Error(t, err)
		_, err = NewLogger("info", "xml", &bytes.Buffer{})
		assert.Error(t, err)
	})
}

func TestSetup_DisabledWithoutEndpoint(t *testing.T) {
	t.Parallel()

	shutdown, err := Setup(context.Background(), Config{ServiceName: "paygate"}, nil)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}
