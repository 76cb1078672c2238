package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"deskjarvis/agent/pkg/logger"
)

// Collection names for the semantic tier.
const (
	CollectionConversations = "conversations"
	CollectionInstructions  = "instructions"
	CollectionSummaries     = "summaries"
)

// Encoder is the slice of the embedding service the vector tier needs.
type Encoder interface {
	Encode(ctx context.Context, text string) []float32
	Enabled() bool
}

// SearchResult is one semantic match.
type SearchResult struct {
	Document   string
	Metadata   map[string]interface{}
	Similarity float64
}

// VectorStore persists embedded documents in SQLite and searches them by
// cosine similarity. Every operation degrades to a no-op when the encoder
// is unavailable; semantic recall is an enhancement, never a dependency.
type VectorStore struct {
	db      *sql.DB
	encoder Encoder
	log     logger.Logger
}

// NewVectorStore opens the vector database under dir. A nil encoder yields
// a permanently disabled store.
func NewVectorStore(dir string, encoder Encoder, log logger.Logger) (*VectorStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create vector memory directory: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dir, "vectors.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open vector database: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping vector database: %w", err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS embeddings (
			id TEXT PRIMARY KEY,
			collection TEXT NOT NULL,
			document TEXT NOT NULL,
			metadata TEXT,
			vector BLOB NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_embeddings_collection ON embeddings(collection)`,
		`CREATE INDEX IF NOT EXISTS idx_embeddings_time ON embeddings(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to initialize vector schema: %w", err)
		}
	}

	return &VectorStore{db: db, encoder: encoder, log: log}, nil
}

// Enabled reports whether semantic operations can run.
func (v *VectorStore) Enabled() bool {
	return v.encoder != nil && v.encoder.Enabled()
}

// AddConversation stores one user/assistant exchange.
func (v *VectorStore) AddConversation(ctx context.Context, userMessage string, assistantResponse string, sessionID string, success bool) {
	document := fmt.Sprintf("User: %s\nAssistant: %s", userMessage, assistantResponse)
	v.add(ctx, CollectionConversations, document, map[string]interface{}{
		"session_id": sessionID,
		"success":    success,
		"timestamp":  time.Now().Format(time.RFC3339),
	})
}

// AddInstructionPattern stores an executed instruction with its step types
// so similar future instructions can reuse the plan shape.
func (v *VectorStore) AddInstructionPattern(ctx context.Context, instruction string, stepTypes []string, success bool, duration float64, filesInvolved []string) {
	v.add(ctx, CollectionInstructions, instruction, map[string]interface{}{
		"step_types":     strings.Join(stepTypes, ","),
		"success":        success,
		"duration":       duration,
		"files_involved": strings.Join(filesInvolved, ","),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

func (v *VectorStore) add(ctx context.Context, collection string, document string, metadata map[string]interface{}) {
	if !v.Enabled() || document == "" {
		return
	}
	vec := v.encoder.Encode(ctx, document)
	if len(vec) == 0 {
		return
	}
	metaJSON, _ := json.Marshal(metadata)
	_, err := v.db.ExecContext(ctx, `
		INSERT INTO embeddings (id, collection, document, metadata, vector) VALUES (?, ?, ?, ?, ?)
	`, uuid.New().String(), collection, document, string(metaJSON), floatsToBytes(vec))
	if err != nil {
		v.log.Warnf("Failed to store vector memory: %v", err)
	}
}

// Search returns the closest documents in one collection.
func (v *VectorStore) Search(ctx context.Context, collection string, query string, limit int) []SearchResult {
	if !v.Enabled() || query == "" {
		return nil
	}
	queryVec := v.encoder.Encode(ctx, query)
	if len(queryVec) == 0 {
		return nil
	}
	if limit <= 0 {
		limit = 5
	}

	rows, err := v.db.QueryContext(ctx, `
		SELECT document, metadata, vector FROM embeddings WHERE collection = ?
	`, collection)
	if err != nil {
		v.log.Warnf("Vector search failed: %v", err)
		return nil
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var document string
		var metaJSON sql.NullString
		var blob []byte
		if err := rows.Scan(&document, &metaJSON, &blob); err != nil {
			continue
		}
		res := SearchResult{
			Document:   document,
			Similarity: cosineSimilarity(queryVec, bytesToFloats(blob)),
		}
		if metaJSON.Valid && metaJSON.String != "" {
			_ = json.Unmarshal([]byte(metaJSON.String), &res.Metadata)
		}
		results = append(results, res)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// SearchAll runs the query against every collection.
func (v *VectorStore) SearchAll(ctx context.Context, query string, limit int) map[string][]SearchResult {
	out := map[string][]SearchResult{
		CollectionConversations: nil,
		CollectionInstructions:  nil,
		CollectionSummaries:     nil,
	}
	if !v.Enabled() {
		return out
	}
	for collection := range out {
		out[collection] = v.Search(ctx, collection, query, limit)
	}
	return out
}

// FindSimilarInstructions returns past instructions semantically close to
// the given one.
func (v *VectorStore) FindSimilarInstructions(ctx context.Context, instruction string, limit int) []SearchResult {
	return v.Search(ctx, CollectionInstructions, instruction, limit)
}

// MemoryContext renders the closest past experiences for prompt injection.
func (v *VectorStore) MemoryContext(ctx context.Context, instruction string, limit int) string {
	matches := v.FindSimilarInstructions(ctx, instruction, limit)
	var items []string
	for _, m := range matches {
		// Weak matches add noise, not signal.
		if m.Similarity < 0.5 {
			continue
		}
		outcome := "成功"
		if ok, has := m.Metadata["success"].(bool); has && !ok {
			outcome = "失败"
		}
		items = append(items, fmt.Sprintf("- %s (%s, 相似度%.2f)", truncate(m.Document, 80), outcome, m.Similarity))
	}
	if len(items) == 0 {
		return ""
	}
	return "**相似的历史任务**：\n" + strings.Join(items, "\n")
}

// Compress folds conversations older than a week into one summary document
// per session and deletes the originals.
func (v *VectorStore) Compress(ctx context.Context) {
	if !v.Enabled() {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -7).Format("2006-01-02 15:04:05")

	rows, err := v.db.QueryContext(ctx, `
		SELECT id, document, metadata FROM embeddings
		WHERE collection = ? AND created_at < ?
		ORDER BY created_at ASC
	`, CollectionConversations, cutoff)
	if err != nil {
		v.log.Warnf("Vector compression query failed: %v", err)
		return
	}

	type oldRow struct {
		id       string
		document string
		session  string
	}
	var old []oldRow
	for rows.Next() {
		var r oldRow
		var metaJSON sql.NullString
		if err := rows.Scan(&r.id, &r.document, &metaJSON); err != nil {
			continue
		}
		if metaJSON.Valid {
			var meta map[string]interface{}
			if json.Unmarshal([]byte(metaJSON.String), &meta) == nil {
				r.session, _ = meta["session_id"].(string)
			}
		}
		old = append(old, r)
	}
	rows.Close()
	if len(old) == 0 {
		return
	}

	bySession := make(map[string][]string)
	ids := make([]string, 0, len(old))
	for _, r := range old {
		bySession[r.session] = append(bySession[r.session], r.document)
		ids = append(ids, r.id)
	}

	for session, docs := range bySession {
		summary := fmt.Sprintf("会话归档 (%d 条对话):\n%s", len(docs), truncate(strings.Join(docs, "\n---\n"), 2000))
		v.add(ctx, CollectionSummaries, summary, map[string]interface{}{
			"session_id":   session,
			"source_count": len(docs),
			"timestamp":    time.Now().Format(time.RFC3339),
		})
	}

	for _, id := range ids {
		if _, err := v.db.ExecContext(ctx, "DELETE FROM embeddings WHERE id = ?", id); err != nil {
			v.log.Warnf("Failed to delete compressed vector row: %v", err)
		}
	}
	v.log.Infof("Compressed %d old conversations into %d summaries", len(old), len(bySession))
}

// Stats returns per-collection document counts.
func (v *VectorStore) Stats(ctx context.Context) map[string]int {
	stats := make(map[string]int)
	rows, err := v.db.QueryContext(ctx, "SELECT collection, COUNT(*) FROM embeddings GROUP BY collection")
	if err != nil {
		return stats
	}
	defer rows.Close()
	for rows.Next() {
		var collection string
		var n int
		if rows.Scan(&collection, &n) == nil {
			stats[collection] = n
		}
	}
	return stats
}

// Close closes the vector database.
func (v *VectorStore) Close() error {
	return v.db.Close()
}

func floatsToBytes(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToFloats(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

func cosineSimilarity(a []float32, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
