// Package statewriter implements spec.md §4.16: subscribes to progress
// events, maintains an in-memory LiveState, and atomically serializes a
// TaskState snapshot to state/current-task.json on each event — the
// tmp-file + fsync + rename idiom grounded on the atomic-write pattern
// seen throughout the teacher's infrastructure packages. On Complete it
// removes the current-task file and appends a history record, rotating
// the history file per spec.md §4.16's size/line limits.
package statewriter

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iterflow/agent/internal/domain"
)

const (
	historyRotateBytes = 1 << 20 // 1 MB
	historyRotateLines = 1000
	historyRetainLines = 500
)

// Writer owns state/current-task.json and state/task-history.jsonl under
// dir.
type Writer struct {
	mu     sync.Mutex
	dir    string
	logger *zap.Logger
	live   domain.TaskState
}

func New(dir string, logger *zap.Logger) *Writer {
	return &Writer{dir: dir, logger: logger.With(zap.String("component", "statewriter"))}
}

func (w *Writer) currentTaskPath() string {
	return filepath.Join(w.dir, "current-task.json")
}

func (w *Writer) historyPath() string {
	return filepath.Join(w.dir, "task-history.jsonl")
}

// Handle applies one progress event to the in-memory LiveState, persists
// the resulting TaskState snapshot, and — on Complete — rotates it into
// history.
func (w *Writer) Handle(event domain.ProgressEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	applyEvent(&w.live, event)

	if err := w.writeCurrentTask(); err != nil {
		return err
	}

	if event.Type == domain.EventComplete {
		if err := w.appendHistory(); err != nil {
			return err
		}
		if err := os.Remove(w.currentTaskPath()); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove current-task.json: %w", err)
		}
	}
	return nil
}

func applyEvent(live *domain.TaskState, event domain.ProgressEvent) {
	if event.TaskID != "" {
		live.TaskID = event.TaskID
	}
	if event.Description != "" {
		live.Description = event.Description
	}
	switch event.Type {
	case domain.EventPlanReady:
		live.Status = domain.StatusPending
		live.Phase = "planned"
		live.MaxIterations = event.MaxIterations
	case domain.EventIterationStart:
		live.Status = domain.StatusRunning
		live.Phase = "executing"
		live.Iteration = event.Iteration
	case domain.EventToolCall:
		live.ToolCalls = append(live.ToolCalls, event.ToolName)
	case domain.EventIterationEnd:
		live.Status = domain.StatusEvaluated
		live.Phase = "evaluated"
		live.CurrentScore = event.Score
		if event.BestScore != nil {
			live.BestScore = event.BestScore
		}
		live.TokensUsed = event.TokensUsed
		live.CostUSD = event.CostUSD
		live.LastDecision = event.Decision
	case domain.EventSafetyWarning:
		live.Status = domain.StatusSafetyWarning
		live.Phase = "safety_warning"
	case domain.EventComplete:
		live.Status = domain.StatusComplete
		live.Phase = "complete"
		live.LastDecision = event.Decision
	}
	live.ElapsedSecs = event.ElapsedSecs
}

func (w *Writer) writeCurrentTask() error {
	b, err := json.MarshalIndent(w.live, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(w.currentTaskPath(), b)
}

func (w *Writer) appendHistory() error {
	record := domain.HistoryRecord{
		TaskID:      w.live.TaskID,
		Description: w.live.Description,
		Iterations:  w.live.Iteration,
		TotalTokens: w.live.TokensUsed,
		CostUSD:     w.live.CostUSD,
		FinalScore:  w.live.CurrentScore,
		CompletedAt: time.Now().UTC().Format(time.RFC3339),
	}
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.historyPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return w.rotateHistoryIfNeeded()
}

func (w *Writer) rotateHistoryIfNeeded() error {
	info, err := os.Stat(w.historyPath())
	if err != nil {
		return err
	}

	lines, err := countLines(w.historyPath())
	if err != nil {
		return err
	}
	if info.Size() < historyRotateBytes && lines < historyRotateLines {
		return nil
	}

	tail, err := tailLines(w.historyPath(), historyRetainLines)
	if err != nil {
		return err
	}

	var b []byte
	for _, l := range tail {
		b = append(b, l...)
		b = append(b, '\n')
	}
	return atomicWrite(w.historyPath(), b)
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	n := 0
	for scanner.Scan() {
		n++
	}
	return n, scanner.Err()
}

func tailLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	var all []string
	for scanner.Scan() {
		all = append(all, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(all) <= n {
		return all, nil
	}
	return all[len(all)-n:], nil
}

// atomicWrite writes b to path via a tmp file in the same directory,
// fsynced and renamed into place.
func atomicWrite(path string, b []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}
