package audit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronoflux-labs/chronovault/pkg/audit"
)

func TestRecordWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	l := audit.NewLoggerWithWriter(&buf)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, "alice", "deposit", "entry/alice/0", audit.OutcomeOK,
		map[string]any{"amount": 1000}))
	require.NoError(t, l.Record(ctx, "mallory", "complete_withdrawal", "entry/alice/0", audit.OutcomeDenied, nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first audit.Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "deposit", first.Action)
	assert.Equal(t, audit.OutcomeOK, first.Outcome)
	assert.NotEmpty(t, first.ID)
	assert.False(t, first.Timestamp.IsZero())

	var second audit.Event
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, audit.OutcomeDenied, second.Outcome)
	assert.NotEqual(t, first.ID, second.ID)
}
