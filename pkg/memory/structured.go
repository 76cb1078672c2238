// Package memory implements the three-tier task memory: structured SQLite
// records, embedding-backed semantic recall, and in-process behavioural
// analysis. Writes flow through an async queue so task execution never
// blocks on persistence.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"deskjarvis/agent/pkg/logger"
)

// StructuredStore is the durable tier: preferences, file history, session
// summaries, knowledge triples, habits and instruction history in SQLite.
type StructuredStore struct {
	db  *sql.DB
	log logger.Logger
}

// Preference is a key-value user preference.
type Preference struct {
	Key        string
	Value      string
	Category   string
	Confidence float64
	Confirmed  bool
	UpdatedAt  time.Time
}

// FileRecord is one entry of the recent-file history.
type FileRecord struct {
	ID        int64
	Path      string
	FileType  string
	Operation string
	Tags      []string
	CreatedAt time.Time
}

// SessionSummary captures one conversation session.
type SessionSummary struct {
	SessionID     string
	Summary       string
	KeyActions    []string
	FilesInvolved []string
	Emotion       string
	UpdatedAt     time.Time
}

// Knowledge is a subject-predicate-object triple.
type Knowledge struct {
	Subject    string
	Predicate  string
	Object     string
	Target     string
	Context    string
	Confidence float64
	Importance float64
}

// Habit is a recurring behavioural pattern.
type Habit struct {
	PatternType  string
	PatternValue string
	Frequency    int
	LastSeen     time.Time
}

// InstructionRecord is one executed instruction with its plan.
type InstructionRecord struct {
	Instruction string
	Normalized  string
	StepsJSON   string
	Success     bool
	Duration    float64
	CreatedAt   time.Time
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS preferences (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		category TEXT DEFAULT 'general',
		confidence REAL DEFAULT 1.0,
		confirmed BOOLEAN DEFAULT FALSE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS recent_files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT NOT NULL,
		file_type TEXT,
		operation TEXT,
		tags TEXT,
		metadata TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_recent_files_path ON recent_files(path)`,
	`CREATE INDEX IF NOT EXISTS idx_recent_files_time ON recent_files(created_at)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT UNIQUE NOT NULL,
		summary TEXT,
		key_actions TEXT,
		files_involved TEXT,
		emotion TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS knowledge_graph (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		subject TEXT NOT NULL,
		predicate TEXT NOT NULL,
		object TEXT NOT NULL,
		target TEXT,
		context TEXT,
		confidence REAL DEFAULT 1.0,
		importance REAL DEFAULT 0.5,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_kg_subject ON knowledge_graph(subject)`,
	`CREATE INDEX IF NOT EXISTS idx_kg_object ON knowledge_graph(object)`,
	`CREATE INDEX IF NOT EXISTS idx_kg_predicate ON knowledge_graph(predicate)`,
	`CREATE TABLE IF NOT EXISTS habits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pattern_type TEXT NOT NULL,
		pattern_value TEXT NOT NULL,
		frequency INTEGER DEFAULT 1,
		last_seen DATETIME DEFAULT CURRENT_TIMESTAMP,
		metadata TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_habits_type ON habits(pattern_type)`,
	`CREATE TABLE IF NOT EXISTS instruction_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		instruction TEXT NOT NULL,
		normalized TEXT,
		steps TEXT,
		success BOOLEAN,
		duration_seconds REAL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
}

// NewStructuredStore opens (or creates) the database at dbPath and ensures
// the schema exists.
func NewStructuredStore(dbPath string, log logger.Logger) (*StructuredStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create memory directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Writes arrive from the queue worker and the maintenance job.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	log.Infof("Structured memory initialized: %s", dbPath)
	return &StructuredStore{db: db, log: log}, nil
}

// SetPreference inserts or updates a preference. Non-string values are
// stored as JSON.
func (s *StructuredStore) SetPreference(ctx context.Context, key string, value interface{}, category string, confirmed bool) error {
	if category == "" {
		category = "general"
	}
	query := `
		INSERT INTO preferences (key, value, category, confidence, confirmed, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			category = excluded.category,
			confidence = excluded.confidence,
			confirmed = excluded.confirmed,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err := s.db.ExecContext(ctx, query, key, encodeValue(value), category, 1.0, confirmed)
	if err != nil {
		return fmt.Errorf("failed to set preference: %w", err)
	}
	return nil
}

// GetPreference returns the stored value for key, or ok=false.
func (s *StructuredStore) GetPreference(ctx context.Context, key string) (string, bool) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM preferences WHERE key = ?", key).Scan(&value)
	if err != nil {
		return "", false
	}
	return value, true
}

// AllPreferences returns every preference, optionally filtered by category.
func (s *StructuredStore) AllPreferences(ctx context.Context, category string) (map[string]string, error) {
	query := "SELECT key, value FROM preferences"
	args := []interface{}{}
	if category != "" {
		query += " WHERE category = ?"
		args = append(args, category)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list preferences: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan preference: %w", err)
		}
		result[key] = value
	}
	return result, rows.Err()
}

// AddFileRecord appends one file-history entry. An empty fileType is
// guessed from the extension.
func (s *StructuredStore) AddFileRecord(ctx context.Context, path string, fileType string, operation string, tags []string) error {
	if fileType == "" {
		fileType = guessFileType(path)
	}
	if operation == "" {
		operation = "access"
	}
	tagsJSON, _ := json.Marshal(tags)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recent_files (path, file_type, operation, tags, metadata)
		VALUES (?, ?, ?, ?, ?)
	`, path, fileType, operation, string(tagsJSON), "{}")
	if err != nil {
		return fmt.Errorf("failed to add file record: %w", err)
	}
	return nil
}

// RecentFiles returns the newest file records, optionally filtered by type.
func (s *StructuredStore) RecentFiles(ctx context.Context, limit int, fileType string) ([]FileRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	query := "SELECT id, path, file_type, operation, tags, created_at FROM recent_files"
	args := []interface{}{}
	if fileType != "" {
		query += " WHERE file_type = ?"
		args = append(args, fileType)
	}
	// created_at has second granularity; id breaks insertion-order ties.
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	return s.scanFileRows(ctx, query, args...)
}

// SearchFiles matches path or tags against a keyword.
func (s *StructuredStore) SearchFiles(ctx context.Context, keyword string, limit int) ([]FileRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + keyword + "%"
	return s.scanFileRows(ctx, `
		SELECT id, path, file_type, operation, tags, created_at FROM recent_files
		WHERE path LIKE ? OR tags LIKE ?
		ORDER BY created_at DESC, id DESC LIMIT ?
	`, pattern, pattern, limit)
}

func (s *StructuredStore) scanFileRows(ctx context.Context, query string, args ...interface{}) ([]FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query file records: %w", err)
	}
	defer rows.Close()

	var records []FileRecord
	for rows.Next() {
		var rec FileRecord
		var fileType, operation, tagsJSON sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Path, &fileType, &operation, &tagsJSON, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan file record: %w", err)
		}
		rec.FileType = fileType.String
		rec.Operation = operation.String
		if tagsJSON.Valid && tagsJSON.String != "" {
			_ = json.Unmarshal([]byte(tagsJSON.String), &rec.Tags)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SaveSession upserts a session summary keyed by session ID.
func (s *StructuredStore) SaveSession(ctx context.Context, sum SessionSummary) error {
	keyActions, _ := json.Marshal(sum.KeyActions)
	files, _ := json.Marshal(sum.FilesInvolved)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, summary, key_actions, files_involved, emotion)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			summary = excluded.summary,
			key_actions = excluded.key_actions,
			files_involved = excluded.files_involved,
			emotion = excluded.emotion,
			updated_at = CURRENT_TIMESTAMP
	`, sum.SessionID, sum.Summary, string(keyActions), string(files), sum.Emotion)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// RecentSessions returns the most recently updated sessions.
func (s *StructuredStore) RecentSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, summary, key_actions, files_involved, emotion, updated_at
		FROM sessions ORDER BY updated_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		var summary, keyActions, files, emotion sql.NullString
		if err := rows.Scan(&sum.SessionID, &summary, &keyActions, &files, &emotion, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sum.Summary = summary.String
		sum.Emotion = emotion.String
		if keyActions.Valid {
			_ = json.Unmarshal([]byte(keyActions.String), &sum.KeyActions)
		}
		if files.Valid {
			_ = json.Unmarshal([]byte(files.String), &sum.FilesInvolved)
		}
		sessions = append(sessions, sum)
	}
	return sessions, rows.Err()
}

// AddKnowledge stores one triple.
func (s *StructuredStore) AddKnowledge(ctx context.Context, k Knowledge) error {
	if k.Confidence == 0 {
		k.Confidence = 1.0
	}
	if k.Importance == 0 {
		k.Importance = 0.5
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge_graph (subject, predicate, object, target, context, confidence, importance)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, k.Subject, k.Predicate, k.Object, k.Target, k.Context, k.Confidence, k.Importance)
	if err != nil {
		return fmt.Errorf("failed to add knowledge: %w", err)
	}
	return nil
}

// QueryKnowledge filters triples by fuzzy subject/predicate/object match,
// most important first.
func (s *StructuredStore) QueryKnowledge(ctx context.Context, subject, predicate, object string, limit int) ([]Knowledge, error) {
	if limit <= 0 {
		limit = 10
	}
	conditions := []string{}
	args := []interface{}{}
	if subject != "" {
		conditions = append(conditions, "subject LIKE ?")
		args = append(args, "%"+subject+"%")
	}
	if predicate != "" {
		conditions = append(conditions, "predicate LIKE ?")
		args = append(args, "%"+predicate+"%")
	}
	if object != "" {
		conditions = append(conditions, "object LIKE ?")
		args = append(args, "%"+object+"%")
	}
	where := "1=1"
	if len(conditions) > 0 {
		where = strings.Join(conditions, " AND ")
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT subject, predicate, object, target, context, confidence, importance
		FROM knowledge_graph WHERE %s
		ORDER BY importance DESC, created_at DESC LIMIT ?
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge: %w", err)
	}
	defer rows.Close()

	var triples []Knowledge
	for rows.Next() {
		var k Knowledge
		var target, kgContext sql.NullString
		if err := rows.Scan(&k.Subject, &k.Predicate, &k.Object, &target, &kgContext, &k.Confidence, &k.Importance); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge: %w", err)
		}
		k.Target = target.String
		k.Context = kgContext.String
		triples = append(triples, k)
	}
	return triples, rows.Err()
}

// RecordHabit increments the frequency of an existing pattern or inserts a
// new one with frequency 1.
func (s *StructuredStore) RecordHabit(ctx context.Context, patternType string, patternValue string) error {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM habits WHERE pattern_type = ? AND pattern_value = ?
	`, patternType, patternValue).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO habits (pattern_type, pattern_value, metadata) VALUES (?, ?, ?)
		`, patternType, patternValue, "{}")
	case err == nil:
		_, err = s.db.ExecContext(ctx, `
			UPDATE habits SET frequency = frequency + 1, last_seen = CURRENT_TIMESTAMP WHERE id = ?
		`, id)
	}
	if err != nil {
		return fmt.Errorf("failed to record habit: %w", err)
	}
	return nil
}

// Habits returns patterns at or above minFrequency, most frequent first.
func (s *StructuredStore) Habits(ctx context.Context, patternType string, minFrequency int) ([]Habit, error) {
	if minFrequency <= 0 {
		minFrequency = 1
	}
	query := "SELECT pattern_type, pattern_value, frequency, last_seen FROM habits WHERE frequency >= ?"
	args := []interface{}{minFrequency}
	if patternType != "" {
		query += " AND pattern_type = ?"
		args = append(args, patternType)
	}
	query += " ORDER BY frequency DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query habits: %w", err)
	}
	defer rows.Close()

	var habits []Habit
	for rows.Next() {
		var h Habit
		if err := rows.Scan(&h.PatternType, &h.PatternValue, &h.Frequency, &h.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan habit: %w", err)
		}
		habits = append(habits, h)
	}
	return habits, rows.Err()
}

// AddInstruction appends one instruction-history row.
func (s *StructuredStore) AddInstruction(ctx context.Context, instruction string, stepsJSON string, success bool, duration float64) error {
	if stepsJSON == "" {
		stepsJSON = "[]"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instruction_history (instruction, normalized, steps, success, duration_seconds)
		VALUES (?, ?, ?, ?, ?)
	`, instruction, NormalizeInstruction(instruction), stepsJSON, success, duration)
	if err != nil {
		return fmt.Errorf("failed to add instruction: %w", err)
	}
	return nil
}

// SimilarInstructions finds past instructions by keyword overlap on the
// normalized form. Used as the fallback when semantic search is down.
func (s *StructuredStore) SimilarInstructions(ctx context.Context, instruction string, limit int) ([]InstructionRecord, error) {
	if limit <= 0 {
		limit = 5
	}
	keywords := strings.Fields(NormalizeInstruction(instruction))
	if len(keywords) == 0 {
		return nil, nil
	}

	conditions := make([]string, len(keywords))
	args := make([]interface{}, 0, len(keywords)+1)
	for i, kw := range keywords {
		conditions[i] = "normalized LIKE ?"
		args = append(args, "%"+kw+"%")
	}
	args = append(args, limit)

	return s.scanInstructionRows(ctx, fmt.Sprintf(`
		SELECT instruction, normalized, steps, success, duration_seconds, created_at
		FROM instruction_history WHERE %s
		ORDER BY created_at DESC, id DESC LIMIT ?
	`, strings.Join(conditions, " OR ")), args...)
}

// RecentInstructions returns the newest history rows for pattern discovery.
func (s *StructuredStore) RecentInstructions(ctx context.Context, limit int) ([]InstructionRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	return s.scanInstructionRows(ctx, `
		SELECT instruction, normalized, steps, success, duration_seconds, created_at
		FROM instruction_history ORDER BY created_at DESC, id DESC LIMIT ?
	`, limit)
}

func (s *StructuredStore) scanInstructionRows(ctx context.Context, query string, args ...interface{}) ([]InstructionRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query instructions: %w", err)
	}
	defer rows.Close()

	var records []InstructionRecord
	for rows.Next() {
		var rec InstructionRecord
		var normalized, steps sql.NullString
		if err := rows.Scan(&rec.Instruction, &normalized, &steps, &rec.Success, &rec.Duration, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan instruction: %w", err)
		}
		rec.Normalized = normalized.String
		rec.StepsJSON = steps.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CleanupOldData removes rows older than the retention window while keeping
// the newest file records, important knowledge and recent instructions.
func (s *StructuredStore) CleanupOldData(ctx context.Context, days int) error {
	if days <= 0 {
		days = 90
	}
	cutoff := time.Now().AddDate(0, 0, -days).Format("2006-01-02 15:04:05")

	stmts := []struct {
		query string
		args  []interface{}
	}{
		{`DELETE FROM recent_files
			WHERE created_at < ?
			AND id NOT IN (SELECT id FROM recent_files ORDER BY created_at DESC, id DESC LIMIT 100)`, []interface{}{cutoff}},
		{`DELETE FROM knowledge_graph WHERE created_at < ? AND importance < 0.8`, []interface{}{cutoff}},
		{`DELETE FROM instruction_history
			WHERE created_at < ?
			AND id NOT IN (SELECT id FROM instruction_history ORDER BY created_at DESC, id DESC LIMIT 500)`, []interface{}{cutoff}},
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt.query, stmt.args...); err != nil {
			return fmt.Errorf("failed to clean up old data: %w", err)
		}
	}
	s.log.Infof("Cleaned up memory rows older than %d days", days)
	return nil
}

// MemoryContext renders a prompt-ready digest of preferences, recent files,
// habits and sessions.
func (s *StructuredStore) MemoryContext(ctx context.Context, limitPerCategory int) string {
	if limitPerCategory <= 0 {
		limitPerCategory = 5
	}
	var parts []string

	if prefs, err := s.AllPreferences(ctx, ""); err == nil && len(prefs) > 0 {
		items := make([]string, 0, limitPerCategory)
		for k, v := range prefs {
			if len(items) >= limitPerCategory {
				break
			}
			items = append(items, fmt.Sprintf("- %s: %s", k, v))
		}
		parts = append(parts, "**用户偏好**：\n"+strings.Join(items, "\n"))
	}

	if files, err := s.RecentFiles(ctx, limitPerCategory, ""); err == nil && len(files) > 0 {
		items := make([]string, 0, len(files))
		for _, f := range files {
			items = append(items, fmt.Sprintf("- %s (%s, %s)", f.Path, f.Operation, f.CreatedAt.Format("2006-01-02")))
		}
		parts = append(parts, "**最近文件**：\n"+strings.Join(items, "\n"))
	}

	if habits, err := s.Habits(ctx, "", 2); err == nil && len(habits) > 0 {
		if len(habits) > limitPerCategory {
			habits = habits[:limitPerCategory]
		}
		items := make([]string, 0, len(habits))
		for _, h := range habits {
			items = append(items, fmt.Sprintf("- %s: %s (使用%d次)", h.PatternType, h.PatternValue, h.Frequency))
		}
		parts = append(parts, "**用户习惯**：\n"+strings.Join(items, "\n"))
	}

	if sessions, err := s.RecentSessions(ctx, 3); err == nil && len(sessions) > 0 {
		items := make([]string, 0, len(sessions))
		for _, sess := range sessions {
			if sess.Summary == "" {
				continue
			}
			items = append(items, "- "+truncate(sess.Summary, 100))
		}
		if len(items) > 0 {
			parts = append(parts, "**最近会话**：\n"+strings.Join(items, "\n"))
		}
	}

	return strings.Join(parts, "\n\n")
}

// Counts returns per-table row counts for diagnostics.
func (s *StructuredStore) Counts(ctx context.Context) (map[string]int, error) {
	tables := []string{"preferences", "recent_files", "sessions", "knowledge_graph", "habits", "instruction_history"}
	counts := make(map[string]int, len(tables))
	for _, table := range tables {
		var n int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

// Close closes the underlying database.
func (s *StructuredStore) Close() error {
	return s.db.Close()
}

var normalizePattern = regexp.MustCompile(`[0-9.\-_/\\]`)
var spacePattern = regexp.MustCompile(`\s+`)

// NormalizeInstruction strips digits, separators and casing so near-equal
// instructions compare equal.
func NormalizeInstruction(instruction string) string {
	normalized := normalizePattern.ReplaceAllString(strings.ToLower(instruction), " ")
	return strings.TrimSpace(spacePattern.ReplaceAllString(normalized, " "))
}

var fileTypeByExt = map[string]string{
	".pdf": "document", ".doc": "document", ".docx": "document",
	".xls": "spreadsheet", ".xlsx": "spreadsheet",
	".ppt": "presentation", ".pptx": "presentation",
	".jpg": "image", ".jpeg": "image", ".png": "image", ".gif": "image",
	".mp4": "video", ".avi": "video", ".mov": "video",
	".mp3": "audio", ".wav": "audio",
	".py": "code", ".js": "code", ".ts": "code", ".java": "code",
	".zip": "archive", ".rar": "archive", ".7z": "archive",
}

func guessFileType(path string) string {
	if t, ok := fileTypeByExt[strings.ToLower(filepath.Ext(path))]; ok {
		return t
	}
	return "other"
}

func encodeValue(value interface{}) string {
	if s, ok := value.(string); ok {
		return s
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(data)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
