package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateUserID(t *testing.T) {
	for _, ok := range []string{"u-buyer", "jane.doe@plant1", "42"} {
		assert.NoError(t, ValidateUserID(ok), ok)
	}
	for _, bad := range []string{"", "-lead", "has space", strings.Repeat("a", 129)} {
		assert.Error(t, ValidateUserID(bad), bad)
	}
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "line1\nline2", SanitizeString("  line1\x00\nline2\x07 "))
	assert.Len(t, []rune(SanitizeString(strings.Repeat("é", MaxCommentLength+5))), MaxCommentLength)
}

func TestNewLogger_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "server.log")
	logger, err := NewLogger(LoggerConfig{Level: "debug", OutputPath: path, Format: "json"})
	require.NoError(t, err)

	NewSugaredAdapter(logger).Info("hello", "po_id", 7)
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"po_id":7`)
	assert.Contains(t, string(data), `"timestamp"`)
}
