package observability

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitAuditLogger_WritesEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	require.NoError(t, InitAuditLogger(path))
	t.Cleanup(func() { _ = GetAuditLogger().Close() })

	RecordSessionAudit(context.Background(), "session_created", "sess-1", "success", map[string]interface{}{
		"backend": "memory",
	})
	RecordDispatchAudit(context.Background(), "sess-1", "failure", nil)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "session", first["type"])
	assert.Equal(t, "sess-1", first["actor"])
	assert.Equal(t, "session_created", first["action"])
	assert.Equal(t, "memory", first["metadata"].(map[string]interface{})["backend"])

	var second map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "codex_dispatched", second["action"])
	assert.Equal(t, "failure", second["status"])
}

func TestInitAuditLogger_BadPath(t *testing.T) {
	err := InitAuditLogger(filepath.Join(t.TempDir(), "missing", "dir", "audit.log"))
	assert.Error(t, err)
}
