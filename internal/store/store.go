// Package store is the sole owner of the SQLite database (spec.md §4.2):
// every other component reads and writes learnings, sessions, tasks,
// cycles, findings, and usage data through the typed operations here,
// never through raw SQL of their own. The connection is single-writer,
// non-concurrent, grounded on the teacher's persistence bootstrap shape
// but using database/sql + mattn/go-sqlite3 directly rather than GORM so
// the operations below can match spec.md's contract literally.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/iterflow/agent/internal/domain"
	"github.com/iterflow/agent/internal/rerr"
	"github.com/iterflow/agent/internal/store/migrate"
	apperr "github.com/iterflow/agent/pkg/errors"
)

// Store wraps the single SQLite connection used by the whole process.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens the SQLite file at path, applies any pending migrations, and
// returns a ready Store. A single connection is kept (SetMaxOpenConns(1))
// because the data model assumes a single writer, per spec.md §5.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, rerr.New(rerr.KindDatabase, fmt.Sprintf("open sqlite: %v", err))
	}
	db.SetMaxOpenConns(1)

	migrations, err := migrate.Load()
	if err != nil {
		db.Close()
		return nil, rerr.New(rerr.KindDatabase, fmt.Sprintf("load migrations: %v", err))
	}
	if err := migrate.Apply(db, migrations); err != nil {
		db.Close()
		return nil, rerr.New(rerr.KindDatabase, fmt.Sprintf("apply migrations: %v", err))
	}

	return &Store{db: db, logger: logger.With(zap.String("component", "store"))}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func wrapDBErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return rerr.New(rerr.KindDatabase, fmt.Sprintf("%s: %v", op, err))
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// --- Sessions ---

func (s *Store) InsertSession(sess *domain.Session) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, channel, model_provider, model_id, created_at, updated_at, total_tokens, total_cost_usd)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Channel, sess.ModelProvider, sess.ModelID,
		sess.CreatedAt.UTC().Format(time.RFC3339), sess.UpdatedAt.UTC().Format(time.RFC3339),
		sess.TotalTokens, sess.TotalCostUSD,
	)
	return wrapDBErr("insert_session", err)
}

// UpdateSessionTotals accumulates Δtokens/Δcost onto a session's running
// totals, per spec.md §3's "totals monotonically increase" invariant.
func (s *Store) UpdateSessionTotals(id string, deltaTokens int64, deltaCost float64) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET total_tokens = total_tokens + ?, total_cost_usd = total_cost_usd + ?, updated_at = ?
		 WHERE id = ?`,
		deltaTokens, deltaCost, nowISO(), id,
	)
	return wrapDBErr("update_session_totals", err)
}

// --- Tasks ---

func (s *Store) InsertTask(task *domain.Task) error {
	_, err := s.db.Exec(
		`INSERT INTO tasks (id, description, category, final_score, iterations, decision, total_tokens, total_cost_usd, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Description, task.Category, task.FinalScore, task.Iterations, string(task.Decision),
		task.TotalTokens, task.TotalCostUSD, task.CreatedAt.UTC().Format(time.RFC3339),
	)
	return wrapDBErr("insert_task", err)
}

func (s *Store) CompleteTask(id string, score *float64, iterations int, decision domain.Decision, tokens int64, cost float64) error {
	res, err := s.db.Exec(
		`UPDATE tasks SET final_score = ?, iterations = ?, decision = ?, total_tokens = ?, total_cost_usd = ? WHERE id = ?`,
		score, iterations, string(decision), tokens, cost, id,
	)
	if err != nil {
		return wrapDBErr("complete_task", err)
	}
	return notFoundIfNoRowsAffected(res, fmt.Sprintf("task %q not found", id))
}

// GetTask looks up one task by id, returning an AppError with CodeNotFound
// when it doesn't exist.
func (s *Store) GetTask(id string) (*domain.Task, error) {
	var t domain.Task
	var category sql.NullString
	var finalScore sql.NullFloat64
	var decision, createdAt string
	row := s.db.QueryRow(
		`SELECT id, description, category, final_score, iterations, decision, total_tokens, total_cost_usd, created_at
		 FROM tasks WHERE id = ?`, id,
	)
	if err := row.Scan(&t.ID, &t.Description, &category, &finalScore, &t.Iterations, &decision,
		&t.TotalTokens, &t.TotalCostUSD, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NewNotFoundError(fmt.Sprintf("task %q not found", id))
		}
		return nil, wrapDBErr("get_task", err)
	}
	t.Category = category.String
	t.Decision = domain.Decision(decision)
	if finalScore.Valid {
		v := finalScore.Float64
		t.FinalScore = &v
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &t, nil
}

// notFoundIfNoRowsAffected converts a zero-row UPDATE/DELETE into a
// boundary-level not-found error rather than a silent no-op.
func notFoundIfNoRowsAffected(res sql.Result, message string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBErr("rows_affected", err)
	}
	if n == 0 {
		return apperr.NewNotFoundError(message)
	}
	return nil
}

// --- Cycles & Findings ---

func (s *Store) InsertCycle(c *domain.IterationCycle) error {
	_, err := s.db.Exec(
		`INSERT INTO cycles (id, task_id, idx, score, decision, input_tokens, output_tokens, elapsed_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TaskID, c.Index, c.Score, string(c.Decision), c.InputTokens, c.OutputTokens, c.ElapsedMs,
	)
	return wrapDBErr("insert_cycle", err)
}

// QueryRecentHighSeverityFindings returns blocker/error findings from the
// most recently created tasks in category, excluding excludeTaskID, for
// recall's cross-task findings summary (spec.md §4.5).
func (s *Store) QueryRecentHighSeverityFindings(category, excludeTaskID string, limit int) ([]*domain.Finding, error) {
	rows, err := s.db.Query(
		`SELECT f.id, f.cycle_id, f.severity, f.dimension, f.title, f.detail, f.location, f.suggestion
		 FROM findings f
		 JOIN cycles c ON c.id = f.cycle_id
		 JOIN tasks t ON t.id = c.task_id
		 WHERE t.category = ? AND t.id != ? AND f.severity IN ('blocker', 'error')
		 ORDER BY t.created_at DESC
		 LIMIT ?`,
		category, excludeTaskID, limit,
	)
	if err != nil {
		return nil, wrapDBErr("query_recent_high_severity_findings", err)
	}
	defer rows.Close()

	var out []*domain.Finding
	for rows.Next() {
		var f domain.Finding
		var severity string
		var dimension, title, detail, location, suggestion sql.NullString
		if err := rows.Scan(&f.ID, &f.CycleID, &severity, &dimension, &title, &detail, &location, &suggestion); err != nil {
			return nil, wrapDBErr("scan_finding", err)
		}
		f.Severity = domain.Severity(severity)
		f.Dimension, f.Title, f.Detail, f.Location, f.Suggestion =
			dimension.String, title.String, detail.String, location.String, suggestion.String
		out = append(out, &f)
	}
	return out, wrapDBErr("scan_findings", rows.Err())
}

func (s *Store) InsertFinding(f *domain.Finding) error {
	_, err := s.db.Exec(
		`INSERT INTO findings (id, cycle_id, severity, dimension, title, detail, location, suggestion)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.CycleID, string(f.Severity), f.Dimension, f.Title, f.Detail, f.Location, f.Suggestion,
	)
	return wrapDBErr("insert_finding", err)
}

// --- Learnings ---

func (s *Store) InsertLearning(l *domain.Learning) error {
	var lastUsed any
	if l.LastUsed != nil {
		lastUsed = l.LastUsed.UTC().Format(time.RFC3339)
	}
	_, err := s.db.Exec(
		`INSERT INTO learnings (id, type, content, category, confidence, reinforced, created_at, last_used)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, string(l.Type), l.Content, l.Category, l.Confidence, l.Reinforced,
		l.CreatedAt.UTC().Format(time.RFC3339), lastUsed,
	)
	return wrapDBErr("insert_learning", err)
}

func (s *Store) UpdateLearningConfidence(id string, confidence float64) error {
	res, err := s.db.Exec(`UPDATE learnings SET confidence = ? WHERE id = ?`, confidence, id)
	if err != nil {
		return wrapDBErr("update_learning_confidence", err)
	}
	return notFoundIfNoRowsAffected(res, fmt.Sprintf("learning %q not found", id))
}

// ReinforceLearning increments the reinforcement counter and resets
// last_used to now, per spec.md §4.4's "reinforcement resets last_used
// before the next decay run".
func (s *Store) ReinforceLearning(id string) error {
	res, err := s.db.Exec(
		`UPDATE learnings SET reinforced = reinforced + 1, last_used = ? WHERE id = ?`,
		nowISO(), id,
	)
	if err != nil {
		return wrapDBErr("reinforce_learning", err)
	}
	return notFoundIfNoRowsAffected(res, fmt.Sprintf("learning %q not found", id))
}

// PruneLowConfidence deletes learnings below floor and returns the count
// removed.
func (s *Store) PruneLowConfidence(floor float64) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM learnings WHERE confidence < ?`, floor)
	if err != nil {
		return 0, wrapDBErr("prune_low_confidence", err)
	}
	n, err := res.RowsAffected()
	return n, wrapDBErr("prune_low_confidence", err)
}

func (s *Store) QueryLearningsByType(kind domain.LearningType, limit int) ([]*domain.Learning, error) {
	rows, err := s.db.Query(
		`SELECT id, type, content, category, confidence, reinforced, created_at, last_used
		 FROM learnings WHERE type = ? ORDER BY confidence DESC LIMIT ?`,
		string(kind), limit,
	)
	if err != nil {
		return nil, wrapDBErr("query_learnings_by_type", err)
	}
	defer rows.Close()
	return scanLearnings(rows)
}

func (s *Store) QueryHighConfidenceLearnings(min float64, limit int) ([]*domain.Learning, error) {
	rows, err := s.db.Query(
		`SELECT id, type, content, category, confidence, reinforced, created_at, last_used
		 FROM learnings WHERE confidence >= ? ORDER BY confidence DESC LIMIT ?`,
		min, limit,
	)
	if err != nil {
		return nil, wrapDBErr("query_high_confidence_learnings", err)
	}
	defer rows.Close()
	return scanLearnings(rows)
}

func (s *Store) QueryAllLearnings() ([]*domain.Learning, error) {
	rows, err := s.db.Query(
		`SELECT id, type, content, category, confidence, reinforced, created_at, last_used FROM learnings`,
	)
	if err != nil {
		return nil, wrapDBErr("query_all_learnings", err)
	}
	defer rows.Close()
	return scanLearnings(rows)
}

func scanLearnings(rows *sql.Rows) ([]*domain.Learning, error) {
	var out []*domain.Learning
	for rows.Next() {
		var l domain.Learning
		var typ, createdAt string
		var category sql.NullString
		var lastUsed sql.NullString
		if err := rows.Scan(&l.ID, &typ, &l.Content, &category, &l.Confidence, &l.Reinforced, &createdAt, &lastUsed); err != nil {
			return nil, wrapDBErr("scan_learning", err)
		}
		l.Type = domain.LearningType(typ)
		l.Category = category.String
		l.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		if lastUsed.Valid {
			t, _ := time.Parse(time.RFC3339, lastUsed.String)
			l.LastUsed = &t
		}
		out = append(out, &l)
	}
	return out, wrapDBErr("scan_learnings", rows.Err())
}

// --- Skill effectiveness ---

// UpsertSkillEffectiveness maintains a running mean score per (skill,
// category) with a sample count, per spec.md §4.2.
func (s *Store) UpsertSkillEffectiveness(skill, category string, score float64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return wrapDBErr("upsert_skill_effectiveness", err)
	}
	defer tx.Rollback()

	var mean float64
	var samples int64
	row := tx.QueryRow(`SELECT mean_score, samples FROM skill_effectiveness WHERE skill = ? AND category = ?`, skill, category)
	err = row.Scan(&mean, &samples)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.Exec(
			`INSERT INTO skill_effectiveness (skill, category, mean_score, samples) VALUES (?, ?, ?, 1)`,
			skill, category, score,
		); err != nil {
			return wrapDBErr("upsert_skill_effectiveness", err)
		}
	case err != nil:
		return wrapDBErr("upsert_skill_effectiveness", err)
	default:
		newSamples := samples + 1
		newMean := mean + (score-mean)/float64(newSamples)
		if _, err := tx.Exec(
			`UPDATE skill_effectiveness SET mean_score = ?, samples = ? WHERE skill = ? AND category = ?`,
			newMean, newSamples, skill, category,
		); err != nil {
			return wrapDBErr("upsert_skill_effectiveness", err)
		}
	}
	return wrapDBErr("upsert_skill_effectiveness", tx.Commit())
}

// --- Usage events & patterns ---

func (s *Store) InsertUsageEvent(e *domain.UsageEvent) error {
	var score any
	if e.Score != nil {
		score = *e.Score
	}
	var hour, dow any
	if e.Hour != nil {
		hour = *e.Hour
	}
	if e.DayOfWeek != nil {
		dow = *e.DayOfWeek
	}
	_, err := s.db.Exec(
		`INSERT INTO usage_events (id, event_type, channel, description, category, skills_used, score, date, hour, day_of_week)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.EventType, e.Channel, e.Description, e.Category, joinSkills(e.SkillsUsed), score,
		e.Date.UTC().Format(time.RFC3339), hour, dow,
	)
	return wrapDBErr("insert_usage_event", err)
}

// QueryEventsSince returns every usage event with date >= since.
func (s *Store) QueryEventsSince(since time.Time) ([]*domain.UsageEvent, error) {
	rows, err := s.db.Query(
		`SELECT id, event_type, channel, description, category, skills_used, score, date, hour, day_of_week
		 FROM usage_events WHERE date >= ? ORDER BY date ASC`,
		since.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, wrapDBErr("query_events_since", err)
	}
	defer rows.Close()

	var out []*domain.UsageEvent
	for rows.Next() {
		var e domain.UsageEvent
		var channel, description, category, skills sql.NullString
		var score sql.NullFloat64
		var date string
		var hour, dow sql.NullInt64
		if err := rows.Scan(&e.ID, &e.EventType, &channel, &description, &category, &skills, &score, &date, &hour, &dow); err != nil {
			return nil, wrapDBErr("scan_usage_event", err)
		}
		e.Channel, e.Description, e.Category = channel.String, description.String, category.String
		e.SkillsUsed = splitSkills(skills.String)
		if score.Valid {
			v := score.Float64
			e.Score = &v
		}
		e.Date, _ = time.Parse(time.RFC3339, date)
		if hour.Valid {
			v := int(hour.Int64)
			e.Hour = &v
		}
		if dow.Valid {
			v := int(dow.Int64)
			e.DayOfWeek = &v
		}
		out = append(out, &e)
	}
	return out, wrapDBErr("scan_usage_events", rows.Err())
}

func (s *Store) InsertUsagePattern(p *domain.UsagePattern, triggerJSON string) error {
	_, err := s.db.Exec(
		`INSERT INTO usage_patterns (id, pattern_type, description, frequency, trigger_json, confidence, sample_count, status, first_seen, last_seen)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.PatternType, p.Description, p.Frequency, triggerJSON, p.Confidence, p.SampleCount,
		string(p.Status), p.FirstSeen.UTC().Format(time.RFC3339), p.LastSeen.UTC().Format(time.RFC3339),
	)
	return wrapDBErr("insert_usage_pattern", err)
}

func joinSkills(skills []string) string {
	out := ""
	for i, sk := range skills {
		if i > 0 {
			out += ","
		}
		out += sk
	}
	return out
}

func splitSkills(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return out
}
