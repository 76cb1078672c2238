package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"deskjarvis/agent/pkg/logger"
	"deskjarvis/agent/pkg/orchestrator/types"
)

const (
	defaultContextTokens = 500
	cleanupRetentionDays = 90
)

// Stats summarizes the whole memory system.
type Stats struct {
	SessionID  string         `json:"session_id"`
	Structured map[string]int `json:"structured_memory"`
	Vector     map[string]int `json:"vector_memory"`
	Advanced   map[string]int `json:"advanced_memory"`
}

// Export is a full backup of the durable memory.
type Export struct {
	Preferences   map[string]string `json:"preferences"`
	RecentFiles   []FileRecord      `json:"recent_files"`
	Knowledge     []Knowledge       `json:"knowledge"`
	Habits        []Habit           `json:"habits"`
	AdvancedState AdvancedState     `json:"advanced_state"`
	ExportedAt    string            `json:"exported_at"`
}

// Manager unifies the three memory tiers behind one API: context retrieval
// before planning, asynchronous persistence after execution, and hourly
// maintenance in between.
type Manager struct {
	baseDir    string
	sessionID  string
	structured *StructuredStore
	vector     *VectorStore
	advanced   *AdvancedMemory
	queue      *WriteQueue
	cron       *cron.Cron
	log        logger.Logger
}

// NewManager opens all tiers under baseDir and starts the write queue and
// the hourly maintenance job.
func NewManager(baseDir string, encoder Encoder, log logger.Logger) (*Manager, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create memory base directory: %w", err)
	}

	structured, err := NewStructuredStore(filepath.Join(baseDir, "memory.db"), log)
	if err != nil {
		return nil, fmt.Errorf("failed to open structured memory: %w", err)
	}

	vector, err := NewVectorStore(filepath.Join(baseDir, "vector_memory"), encoder, log)
	if err != nil {
		structured.Close()
		return nil, fmt.Errorf("failed to open vector memory: %w", err)
	}

	m := &Manager{
		baseDir:    baseDir,
		sessionID:  uuid.New().String()[:8],
		structured: structured,
		vector:     vector,
		advanced:   NewAdvancedMemory(log),
		log:        log,
	}
	m.loadAdvancedState()

	m.queue = NewWriteQueue(filepath.Join(baseDir, ".memory_lock"), m.saveQueued, log)

	m.cron = cron.New()
	if _, err := m.cron.AddFunc("@every 1h", m.runMaintenance); err != nil {
		log.Warnf("Failed to schedule memory maintenance: %v", err)
	} else {
		m.cron.Start()
	}

	log.Infof("Memory manager initialized, session: %s", m.sessionID)
	return m, nil
}

// SessionID returns the identifier for this process's session.
func (m *Manager) SessionID() string {
	return m.sessionID
}

// ContextFor assembles the memory context injected before planning:
// emotion, structured digest, similar past tasks, behavioural patterns and
// a workflow suggestion, truncated to roughly maxTokens.
func (m *Manager) ContextFor(ctx context.Context, instruction string, maxTokens int) string {
	if maxTokens <= 0 {
		maxTokens = defaultContextTokens
	}
	var parts []string

	emotion := m.advanced.AnalyzeEmotion(instruction)
	if emotion.Emotion != "neutral" {
		parts = append(parts, fmt.Sprintf("[用户情绪: %s] %s", emotion.Emotion, emotion.Suggestion))
	}

	if structuredContext := m.structured.MemoryContext(ctx, 3); structuredContext != "" {
		parts = append(parts, structuredContext)
	}

	if m.vector.Enabled() {
		if vectorContext := m.vector.MemoryContext(ctx, instruction, 3); vectorContext != "" {
			parts = append(parts, vectorContext)
		}
	}

	if advancedContext := m.advanced.MemoryContext(); advancedContext != "" {
		parts = append(parts, advancedContext)
	}

	if suggestion := m.advanced.GetWorkflowSuggestion(instruction); suggestion != nil {
		parts = append(parts, "**工作流提示**："+suggestion.Message)
	}

	full := strings.Join(parts, "\n\n")
	maxChars := maxTokens * 2
	if runes := []rune(full); len(runes) > maxChars {
		full = string(runes[:maxChars]) + "\n...(记忆已截断)"
	}
	return full
}

// EnqueueSave schedules a task result for asynchronous persistence.
func (m *Manager) EnqueueSave(task SaveTask) {
	m.queue.Enqueue(task)
}

func (m *Manager) saveQueued(ctx context.Context, task SaveTask) {
	m.SaveTaskResult(ctx, task)
}

// SaveTaskResult writes one finished task into every tier.
func (m *Manager) SaveTaskResult(ctx context.Context, task SaveTask) {
	stepsJSON, _ := json.Marshal(task.Steps)
	if err := m.structured.AddInstruction(ctx, task.Instruction, string(stepsJSON), task.Success, task.Duration); err != nil {
		m.log.Errorf("Failed to save instruction history: %v", err)
	}

	response := ""
	if task.Result != nil {
		response, _ = task.Result["message"].(string)
		if response == "" {
			data, _ := json.Marshal(task.Result)
			response = string(data)
		}
	}
	m.vector.AddConversation(ctx, task.Instruction, response, m.sessionID, task.Success)

	stepTypes := make([]string, len(task.Steps))
	for i, step := range task.Steps {
		stepTypes[i] = step.Type
	}
	m.vector.AddInstructionPattern(ctx, task.Instruction, stepTypes, task.Success, task.Duration, task.FilesInvolved)

	for _, step := range task.Steps {
		m.advanced.RecordAction(step)
	}

	for _, path := range task.FilesInvolved {
		operation := "create"
		if !task.Success {
			operation = "failed"
		}
		if err := m.structured.AddFileRecord(ctx, path, "", operation, nil); err != nil {
			m.log.Warnf("Failed to record file %s: %v", path, err)
		}
	}

	m.extractKnowledge(ctx, task.Steps)
	m.recordHabits(ctx, task.Instruction, task.Steps)
}

// extractKnowledge mines the executed steps for durable facts.
func (m *Manager) extractKnowledge(ctx context.Context, steps []types.Step) {
	for _, step := range steps {
		param := func(key string) string {
			v, _ := step.Params[key].(string)
			return v
		}
		switch step.Type {
		case "file_save", "file_create":
			if path := param("path"); path != "" {
				m.addKnowledgeQuiet(ctx, Knowledge{Subject: "用户", Predicate: "创建", Object: path})
			}
		case "file_rename":
			oldName, newName := param("old_name"), param("new_name")
			if oldName != "" && newName != "" {
				m.addKnowledgeQuiet(ctx, Knowledge{Subject: oldName, Predicate: "重命名为", Object: newName})
			}
		case "browser_navigate":
			if url := param("url"); url != "" {
				m.addKnowledgeQuiet(ctx, Knowledge{Subject: "用户", Predicate: "访问", Object: url})
			}
		case "download_file":
			url, savePath := param("url"), param("save_path")
			if url != "" && savePath != "" {
				m.addKnowledgeQuiet(ctx, Knowledge{Subject: url, Predicate: "下载到", Object: savePath})
			}
		}
	}
}

func (m *Manager) addKnowledgeQuiet(ctx context.Context, k Knowledge) {
	if err := m.structured.AddKnowledge(ctx, k); err != nil {
		m.log.Warnf("Failed to add knowledge: %v", err)
	}
}

var habitActionWords = []string{"下载", "整理", "删除", "重命名", "移动", "复制", "总结", "搜索"}
var habitTimeWords = []string{"每天", "每周", "定时", "提醒"}

func (m *Manager) recordHabits(ctx context.Context, instruction string, steps []types.Step) {
	for _, word := range habitActionWords {
		if strings.Contains(instruction, word) {
			_ = m.structured.RecordHabit(ctx, "action", word)
		}
	}
	for _, word := range habitTimeWords {
		if strings.Contains(instruction, word) {
			_ = m.structured.RecordHabit(ctx, "time_preference", word)
		}
	}
	for _, step := range steps {
		path, _ := step.Params["path"].(string)
		if path == "" {
			path, _ = step.Params["file_path"].(string)
		}
		if ext := strings.ToLower(filepath.Ext(path)); ext != "" {
			_ = m.structured.RecordHabit(ctx, "file_type", ext)
		}
	}
}

// SaveSessionSummary persists a digest of the current session.
func (m *Manager) SaveSessionSummary(ctx context.Context, summary string, keyActions []string) error {
	var files []string
	if recent, err := m.structured.RecentFiles(ctx, 10, ""); err == nil {
		for _, f := range recent {
			files = append(files, f.Path)
		}
	}
	pattern := m.advanced.GetEmotionPattern()

	return m.structured.SaveSession(ctx, SessionSummary{
		SessionID:     m.sessionID,
		Summary:       summary,
		KeyActions:    keyActions,
		FilesInvolved: files,
		Emotion:       pattern.DominantEmotion,
	})
}

// SetPreference stores a user preference.
func (m *Manager) SetPreference(ctx context.Context, key string, value interface{}, category string, confirmed bool) error {
	return m.structured.SetPreference(ctx, key, value, category, confirmed)
}

// GetPreference returns a preference value, or ok=false.
func (m *Manager) GetPreference(ctx context.Context, key string) (string, bool) {
	return m.structured.GetPreference(ctx, key)
}

// ConfirmPreference re-saves an existing preference as user-confirmed.
func (m *Manager) ConfirmPreference(ctx context.Context, key string) error {
	value, ok := m.structured.GetPreference(ctx, key)
	if !ok {
		return nil
	}
	return m.structured.SetPreference(ctx, key, value, "", true)
}

// AllPreferences returns every stored preference.
func (m *Manager) AllPreferences(ctx context.Context) (map[string]string, error) {
	return m.structured.AllPreferences(ctx, "")
}

// AddFileRecord appends a file-history entry.
func (m *Manager) AddFileRecord(ctx context.Context, path string, operation string, tags []string) error {
	return m.structured.AddFileRecord(ctx, path, "", operation, tags)
}

// RecentFiles returns the newest file-history entries.
func (m *Manager) RecentFiles(ctx context.Context, limit int, fileType string) ([]FileRecord, error) {
	return m.structured.RecentFiles(ctx, limit, fileType)
}

// SearchFiles matches the file history against a keyword.
func (m *Manager) SearchFiles(ctx context.Context, keyword string) ([]FileRecord, error) {
	return m.structured.SearchFiles(ctx, keyword, 10)
}

// AddKnowledge stores a triple.
func (m *Manager) AddKnowledge(ctx context.Context, k Knowledge) error {
	return m.structured.AddKnowledge(ctx, k)
}

// QueryKnowledge filters stored triples.
func (m *Manager) QueryKnowledge(ctx context.Context, subject, predicate, object string, limit int) ([]Knowledge, error) {
	return m.structured.QueryKnowledge(ctx, subject, predicate, object, limit)
}

// SemanticSearch queries every vector collection.
func (m *Manager) SemanticSearch(ctx context.Context, query string, limit int) map[string][]SearchResult {
	return m.vector.SearchAll(ctx, query, limit)
}

// FindSimilarInstructions prefers semantic matching and degrades to keyword
// search over the structured history.
func (m *Manager) FindSimilarInstructions(ctx context.Context, instruction string, limit int) []SearchResult {
	if m.vector.Enabled() {
		return m.vector.FindSimilarInstructions(ctx, instruction, limit)
	}
	records, err := m.structured.SimilarInstructions(ctx, instruction, limit)
	if err != nil {
		return nil
	}
	results := make([]SearchResult, 0, len(records))
	for _, rec := range records {
		results = append(results, SearchResult{
			Document: rec.Instruction,
			Metadata: map[string]interface{}{"success": rec.Success},
		})
	}
	return results
}

// DiscoverWorkflows re-mines the instruction history for repeated patterns.
func (m *Manager) DiscoverWorkflows(ctx context.Context) []WorkflowPattern {
	history, err := m.structured.RecentInstructions(ctx, 500)
	if err != nil {
		m.log.Warnf("Failed to load instruction history: %v", err)
		return nil
	}
	return m.advanced.DiscoverWorkflows(history)
}

// WorkflowSuggestion matches an instruction against discovered patterns.
func (m *Manager) WorkflowSuggestion(instruction string) *WorkflowSuggestion {
	return m.advanced.GetWorkflowSuggestion(instruction)
}

// AnalyzeEmotion classifies and records the emotional tone of text.
func (m *Manager) AnalyzeEmotion(text string) EmotionResult {
	return m.advanced.AnalyzeEmotion(text)
}

// GetEmotionPattern summarizes the emotion history.
func (m *Manager) GetEmotionPattern() EmotionPattern {
	return m.advanced.GetEmotionPattern()
}

// PendingConfirmations returns preferences worth confirming with the user.
func (m *Manager) PendingConfirmations() []ConfirmationRequest {
	return m.advanced.PendingConfirmations()
}

// HandleConfirmationResponse applies the user's answer to a pending
// preference confirmation.
func (m *Manager) HandleConfirmationResponse(ctx context.Context, confirmationID string, response string) {
	switch response {
	case "是":
		for _, pending := range m.PendingConfirmations() {
			if pending.ID == confirmationID {
				key := "auto_" + pending.Preference.Type
				if err := m.SetPreference(ctx, key, pending.Preference.Value, "auto_discovered", true); err != nil {
					m.log.Warnf("Failed to save confirmed preference: %v", err)
				}
				return
			}
		}
	case "以后不再询问":
		parts := strings.Split(confirmationID, "_")
		if len(parts) >= 3 {
			prefType := strings.Join(parts[1:len(parts)-1], "_")
			if err := m.SetPreference(ctx, "no_ask_"+prefType, "true", "system", false); err != nil {
				m.log.Warnf("Failed to save no-ask flag: %v", err)
			}
		}
	}
}

// GetStats reports sizes of every tier.
func (m *Manager) GetStats(ctx context.Context) (Stats, error) {
	counts, err := m.structured.Counts(ctx)
	if err != nil {
		return Stats{}, err
	}
	emotions, actions, workflows := m.advanced.Counts()
	return Stats{
		SessionID:  m.sessionID,
		Structured: counts,
		Vector:     m.vector.Stats(ctx),
		Advanced: map[string]int{
			"emotions_recorded":    emotions,
			"actions_recorded":     actions,
			"workflows_discovered": workflows,
		},
	}, nil
}

// ExportAll produces a full backup.
func (m *Manager) ExportAll(ctx context.Context) (Export, error) {
	prefs, err := m.structured.AllPreferences(ctx, "")
	if err != nil {
		return Export{}, err
	}
	files, err := m.structured.RecentFiles(ctx, 100, "")
	if err != nil {
		return Export{}, err
	}
	knowledge, err := m.structured.QueryKnowledge(ctx, "", "", "", 1000)
	if err != nil {
		return Export{}, err
	}
	habits, err := m.structured.Habits(ctx, "", 1)
	if err != nil {
		return Export{}, err
	}
	return Export{
		Preferences:   prefs,
		RecentFiles:   files,
		Knowledge:     knowledge,
		Habits:        habits,
		AdvancedState: m.advanced.ExportState(),
		ExportedAt:    time.Now().Format(time.RFC3339),
	}, nil
}

func (m *Manager) advancedStatePath() string {
	return filepath.Join(m.baseDir, "advanced_state.json")
}

func (m *Manager) loadAdvancedState() {
	data, err := os.ReadFile(m.advancedStatePath())
	if err != nil {
		return
	}
	var state AdvancedState
	if err := json.Unmarshal(data, &state); err != nil {
		m.log.Warnf("Failed to parse advanced memory state: %v", err)
		return
	}
	m.advanced.ImportState(state)
	m.log.Infof("Loaded advanced memory state")
}

func (m *Manager) saveAdvancedState() {
	data, err := json.MarshalIndent(m.advanced.ExportState(), "", "  ")
	if err != nil {
		m.log.Warnf("Failed to marshal advanced memory state: %v", err)
		return
	}
	if err := os.WriteFile(m.advancedStatePath(), data, 0644); err != nil {
		m.log.Warnf("Failed to write advanced memory state: %v", err)
	}
}

func (m *Manager) runMaintenance() {
	m.log.Infof("Running memory maintenance")
	ctx := context.Background()

	m.vector.Compress(ctx)
	if err := m.structured.CleanupOldData(ctx, cleanupRetentionDays); err != nil {
		m.log.Warnf("Memory cleanup failed: %v", err)
	}
	m.saveAdvancedState()
	m.DiscoverWorkflows(ctx)

	m.log.Infof("Memory maintenance complete")
}

// Shutdown drains the queue, snapshots state and closes both databases.
func (m *Manager) Shutdown() {
	m.log.Infof("Shutting down memory manager")
	if m.cron != nil {
		m.cron.Stop()
	}
	m.queue.Shutdown()
	m.saveAdvancedState()
	if err := m.vector.Close(); err != nil {
		m.log.Warnf("Failed to close vector memory: %v", err)
	}
	if err := m.structured.Close(); err != nil {
		m.log.Warnf("Failed to close structured memory: %v", err)
	}
}
