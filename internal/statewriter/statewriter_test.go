package statewriter

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iterflow/agent/internal/domain"
)

func TestHandleWritesCurrentTaskSnapshot(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, zap.NewNop())

	require.NoError(t, w.Handle(domain.ProgressEvent{Type: domain.EventPlanReady, TaskID: "t1", MaxIterations: 3}))

	b, err := os.ReadFile(filepath.Join(dir, "current-task.json"))
	require.NoError(t, err)

	var state domain.TaskState
	require.NoError(t, json.Unmarshal(b, &state))
	require.Equal(t, "t1", state.TaskID)
	require.Equal(t, domain.StatusPending, state.Status)
}

func TestHandleCompleteRemovesCurrentAndAppendsHistory(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, zap.NewNop())

	require.NoError(t, w.Handle(domain.ProgressEvent{Type: domain.EventPlanReady, TaskID: "t1", MaxIterations: 2}))
	score := 0.9
	require.NoError(t, w.Handle(domain.ProgressEvent{Type: domain.EventComplete, TaskID: "t1", Decision: domain.DecisionAccept, FinalScore: &score}))

	_, err := os.Stat(filepath.Join(dir, "current-task.json"))
	require.True(t, os.IsNotExist(err))

	b, err := os.ReadFile(filepath.Join(dir, "task-history.jsonl"))
	require.NoError(t, err)
	require.NotEmpty(t, b)
}

func TestHistoryRotatesPastLineLimit(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, zap.NewNop())

	for i := 0; i < historyRotateLines+50; i++ {
		require.NoError(t, w.Handle(domain.ProgressEvent{Type: domain.EventPlanReady, TaskID: "t"}))
		require.NoError(t, w.Handle(domain.ProgressEvent{Type: domain.EventComplete, TaskID: "t"}))
	}

	lines, err := countLines(filepath.Join(dir, "task-history.jsonl"))
	require.NoError(t, err)
	// rotation at the limit keeps historyRetainLines; the last 50 appends follow it.
	require.Equal(t, historyRetainLines+50, lines)
}
