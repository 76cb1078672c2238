package memory

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"deskjarvis/agent/pkg/logger"
	"deskjarvis/agent/pkg/orchestrator/types"
)

const (
	emotionHistoryCap = 100
	actionHistoryCap  = 500

	workflowMinOccurrences = 3
	confirmationThreshold  = 3
)

// EmotionResult is one emotion classification.
type EmotionResult struct {
	Emotion       string   `json:"emotion"`
	Confidence    float64  `json:"confidence"`
	KeywordsFound []string `json:"keywords_found"`
	Suggestion    string   `json:"suggestion"`
}

// EmotionRecord is a classification plus when and on what it happened.
type EmotionRecord struct {
	EmotionResult
	Timestamp   string `json:"timestamp"`
	TextPreview string `json:"text_preview"`
}

// ActionRecord is one executed step kept for behaviour analysis.
type ActionRecord struct {
	Type      string                 `json:"type"`
	Params    map[string]interface{} `json:"params"`
	Timestamp string                 `json:"timestamp"`
}

// WorkflowTemplate is a replayable plan extracted from repeated history.
type WorkflowTemplate struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Steps       []types.Step `json:"steps"`
	CreatedFrom string       `json:"created_from"`
}

// WorkflowPattern is a recurring instruction shape found in the history.
type WorkflowPattern struct {
	PatternName         string            `json:"pattern_name"`
	Normalized          string            `json:"normalized"`
	ActionSequence      []string          `json:"action_sequence"`
	Occurrences         int               `json:"occurrences"`
	SuccessRate         float64           `json:"success_rate"`
	ExampleInstructions []string          `json:"example_instructions"`
	SuggestedWorkflow   *WorkflowTemplate `json:"suggested_workflow,omitempty"`
}

// WorkflowSuggestion pairs a matched pattern with a user-facing prompt.
type WorkflowSuggestion struct {
	Pattern WorkflowPattern
	Message string
}

// PotentialPreference is a behaviour the user repeats often enough that it
// is worth confirming as a preference.
type PotentialPreference struct {
	Type        string `json:"type"`
	Value       string `json:"value"`
	Description string `json:"description"`
	Occurrences int    `json:"occurrences"`
	Question    string `json:"question"`
}

// ConfirmationRequest is a pending yes/no question for the user.
type ConfirmationRequest struct {
	ID         string              `json:"id"`
	Type       string              `json:"type"`
	Preference PotentialPreference `json:"preference"`
	Question   string              `json:"question"`
	Options    []string            `json:"options"`
	Timestamp  string              `json:"timestamp"`
}

// EmotionPattern summarizes the emotion history.
type EmotionPattern struct {
	EmotionDistribution map[string]int `json:"emotion_distribution"`
	DominantEmotion     string         `json:"dominant_emotion"`
	PeakTimes           map[int]string `json:"peak_times"`
	TotalRecords        int            `json:"total_records"`
}

// AdvancedState is the JSON snapshot persisted between runs.
type AdvancedState struct {
	EmotionsHistory    []EmotionRecord   `json:"emotions_history"`
	ActionsHistory     []ActionRecord    `json:"actions_history"`
	DiscoveredPatterns []WorkflowPattern `json:"discovered_patterns"`
}

var emotionKeywords = map[string][]string{
	"happy":      {"开心", "高兴", "太好了", "棒", "完美", "感谢", "谢谢", "不错", "很好", "赞"},
	"frustrated": {"烦", "烦死了", "崩溃", "气死", "怎么回事", "又", "不行", "失败", "错误"},
	"anxious":    {"着急", "紧急", "急", "快点", "赶紧", "马上", "立刻", "焦虑", "担心"},
	"tired":      {"累", "疲惫", "困", "心情不好", "心情烂透了", "不想动", "无聊"},
}

var emotionResponses = map[string]string{
	"happy":      "用户心情不错，可以适当活泼一些。",
	"frustrated": "用户可能遇到困难，保持耐心，简洁高效地帮助。",
	"anxious":    "用户比较着急，优先快速响应，减少不必要的解释。",
	"tired":      "用户可能疲惫，保持温和，不要给太多选择。",
	"neutral":    "用户情绪正常，正常响应即可。",
}

// AdvancedMemory is the in-process behavioural tier: emotion tracking,
// workflow discovery and proactive preference learning.
type AdvancedMemory struct {
	mu                 sync.Mutex
	emotionsHistory    []EmotionRecord
	actionsHistory     []ActionRecord
	discoveredPatterns []WorkflowPattern
	log                logger.Logger
}

// NewAdvancedMemory creates an empty behavioural tier.
func NewAdvancedMemory(log logger.Logger) *AdvancedMemory {
	return &AdvancedMemory{log: log}
}

// AnalyzeEmotion classifies text by keyword hits and records the result.
func (a *AdvancedMemory) AnalyzeEmotion(text string) EmotionResult {
	result := classifyEmotion(text)

	a.mu.Lock()
	a.emotionsHistory = append(a.emotionsHistory, EmotionRecord{
		EmotionResult: result,
		Timestamp:     time.Now().Format(time.RFC3339),
		TextPreview:   truncate(text, 100),
	})
	if len(a.emotionsHistory) > emotionHistoryCap {
		a.emotionsHistory = a.emotionsHistory[len(a.emotionsHistory)-emotionHistoryCap:]
	}
	a.mu.Unlock()

	return result
}

func classifyEmotion(text string) EmotionResult {
	bestEmotion := ""
	bestHits := 0
	var bestFound []string
	for emotion, keywords := range emotionKeywords {
		var found []string
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				found = append(found, kw)
			}
		}
		if len(found) > bestHits {
			bestHits = len(found)
			bestEmotion = emotion
			bestFound = found
		}
	}

	if bestHits == 0 {
		return EmotionResult{
			Emotion:    "neutral",
			Confidence: 0.5,
			Suggestion: emotionResponses["neutral"],
		}
	}

	confidence := 0.5 + float64(bestHits)*0.15
	if confidence > 1.0 {
		confidence = 1.0
	}
	return EmotionResult{
		Emotion:       bestEmotion,
		Confidence:    confidence,
		KeywordsFound: bestFound,
		Suggestion:    emotionResponses[bestEmotion],
	}
}

// RecordAction appends one executed step to the behaviour history.
func (a *AdvancedMemory) RecordAction(step types.Step) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actionsHistory = append(a.actionsHistory, ActionRecord{
		Type:      step.Type,
		Params:    step.Params,
		Timestamp: time.Now().Format(time.RFC3339),
	})
	if len(a.actionsHistory) > actionHistoryCap {
		a.actionsHistory = a.actionsHistory[len(a.actionsHistory)-actionHistoryCap:]
	}
}

// GetEmotionPattern summarizes the recorded emotions.
func (a *AdvancedMemory) GetEmotionPattern() EmotionPattern {
	a.mu.Lock()
	history := make([]EmotionRecord, len(a.emotionsHistory))
	copy(history, a.emotionsHistory)
	a.mu.Unlock()

	if len(history) == 0 {
		return EmotionPattern{DominantEmotion: "neutral"}
	}

	distribution := make(map[string]int)
	timeEmotions := make(map[int]map[string]int)
	for _, rec := range history {
		emotion := rec.Emotion
		if emotion == "" {
			emotion = "neutral"
		}
		distribution[emotion]++
		if ts, err := time.Parse(time.RFC3339, rec.Timestamp); err == nil {
			hour := ts.Hour()
			if timeEmotions[hour] == nil {
				timeEmotions[hour] = make(map[string]int)
			}
			timeEmotions[hour][emotion]++
		}
	}

	dominant := "neutral"
	best := 0
	for emotion, n := range distribution {
		if n > best {
			best = n
			dominant = emotion
		}
	}

	peakTimes := make(map[int]string)
	for hour, emotions := range timeEmotions {
		top := ""
		topN := 0
		for emotion, n := range emotions {
			if n > topN {
				topN = n
				top = emotion
			}
		}
		peakTimes[hour] = top
	}

	return EmotionPattern{
		EmotionDistribution: distribution,
		DominantEmotion:     dominant,
		PeakTimes:           peakTimes,
		TotalRecords:        len(history),
	}
}

var (
	numPattern  = regexp.MustCompile(`\d+`)
	strPattern  = regexp.MustCompile(`["'].*?["']`)
	pathPattern = regexp.MustCompile(`/[\w./]+`)
)

// normalizeForPattern maps instructions onto a shape with variable parts
// masked out so repeats of "下载 report_3.pdf" and "下载 report_7.pdf"
// group together.
func normalizeForPattern(instruction string) string {
	normalized := numPattern.ReplaceAllString(instruction, "#NUM#")
	normalized = strPattern.ReplaceAllString(normalized, "#STR#")
	normalized = pathPattern.ReplaceAllString(normalized, "#PATH#")
	normalized = spacePattern.ReplaceAllString(normalized, " ")
	return strings.ToLower(strings.TrimSpace(normalized))
}

var patternActionWords = []string{
	"下载", "整理", "删除", "重命名", "移动", "复制", "总结",
	"搜索", "打开", "关闭", "压缩", "解压", "转换", "处理",
}

func generatePatternName(instruction string) string {
	var found []string
	for _, w := range patternActionWords {
		if strings.Contains(instruction, w) {
			found = append(found, w)
			if len(found) == 3 {
				break
			}
		}
	}
	if len(found) > 0 {
		return strings.Join(found, "+") + "工作流"
	}
	return "自定义工作流"
}

// DiscoverWorkflows groups the instruction history by normalized shape and
// promotes shapes seen at least three times to workflow patterns.
func (a *AdvancedMemory) DiscoverWorkflows(history []InstructionRecord) []WorkflowPattern {
	groups := make(map[string][]InstructionRecord)
	var order []string
	for _, rec := range history {
		normalized := normalizeForPattern(rec.Instruction)
		if _, seen := groups[normalized]; !seen {
			order = append(order, normalized)
		}
		groups[normalized] = append(groups[normalized], rec)
	}

	var patterns []WorkflowPattern
	for _, normalized := range order {
		records := groups[normalized]
		if len(records) < workflowMinOccurrences {
			continue
		}

		// Most common action sequence across the group.
		seqCounts := make(map[string]int)
		seqSteps := make(map[string][]types.Step)
		successes := 0
		for _, rec := range records {
			var steps []types.Step
			if rec.StepsJSON != "" {
				_ = json.Unmarshal([]byte(rec.StepsJSON), &steps)
			}
			actions := make([]string, len(steps))
			for i, s := range steps {
				actions[i] = s.Type
			}
			key := strings.Join(actions, "→")
			seqCounts[key]++
			if _, ok := seqSteps[key]; !ok {
				seqSteps[key] = steps
			}
			if rec.Success {
				successes++
			}
		}
		topSeq := ""
		topN := 0
		for seq, n := range seqCounts {
			if n > topN {
				topN = n
				topSeq = seq
			}
		}

		examples := make([]string, 0, 3)
		for _, rec := range records {
			examples = append(examples, truncate(rec.Instruction, 100))
			if len(examples) == 3 {
				break
			}
		}

		var actionSequence []string
		if topSeq != "" {
			actionSequence = strings.Split(topSeq, "→")
		}

		patterns = append(patterns, WorkflowPattern{
			PatternName:         generatePatternName(records[0].Instruction),
			Normalized:          normalized,
			ActionSequence:      actionSequence,
			Occurrences:         len(records),
			SuccessRate:         float64(successes) / float64(len(records)),
			ExampleInstructions: examples,
			SuggestedWorkflow: &WorkflowTemplate{
				Name:        generatePatternName(records[0].Instruction),
				Description: truncate(records[0].Instruction, 200),
				Steps:       seqSteps[topSeq],
				CreatedFrom: "auto_discovery",
			},
		})
	}

	sort.Slice(patterns, func(i, j int) bool { return patterns[i].Occurrences > patterns[j].Occurrences })

	a.mu.Lock()
	a.discoveredPatterns = patterns
	a.mu.Unlock()
	return patterns
}

// GetWorkflowSuggestion matches the instruction against discovered patterns.
func (a *AdvancedMemory) GetWorkflowSuggestion(instruction string) *WorkflowSuggestion {
	a.mu.Lock()
	patterns := a.discoveredPatterns
	a.mu.Unlock()
	if len(patterns) == 0 {
		return nil
	}

	normalized := normalizeForPattern(instruction)
	for _, p := range patterns {
		if p.Normalized == normalized {
			return &WorkflowSuggestion{
				Pattern: p,
				Message: fmt.Sprintf("发现你经常执行「%s」（已执行%d次，成功率%.0f%%），是否保存为快捷命令？",
					p.PatternName, p.Occurrences, p.SuccessRate*100),
			}
		}
	}
	return nil
}

var (
	datePrefixPattern    = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	numberPrefixPattern  = regexp.MustCompile(`^\d+_`)
	versionSuffixPattern = regexp.MustCompile(`_v\d+`)
)

var namingStyleNames = map[string]string{
	"date_prefix":    "日期前缀命名（如 2024-01-01_文件）",
	"number_prefix":  "数字前缀命名（如 01_文件）",
	"version_suffix": "版本后缀命名（如 文件_v1）",
}

// PendingConfirmations analyzes the action history for naming, directory
// and schedule habits worth confirming with the user.
func (a *AdvancedMemory) PendingConfirmations() []ConfirmationRequest {
	a.mu.Lock()
	actions := make([]ActionRecord, len(a.actionsHistory))
	copy(actions, a.actionsHistory)
	a.mu.Unlock()

	var potentials []PotentialPreference
	potentials = append(potentials, analyzeNamingPatterns(actions)...)
	potentials = append(potentials, analyzeDirectoryPatterns(actions)...)
	potentials = append(potentials, analyzeTimePatterns(actions)...)

	requests := make([]ConfirmationRequest, 0, len(potentials))
	for _, p := range potentials {
		requests = append(requests, ConfirmationRequest{
			ID:         fmt.Sprintf("confirm_%s_%d", p.Type, hashString(p.Value)),
			Type:       "preference_confirmation",
			Preference: p,
			Question:   p.Question,
			Options:    []string{"是", "否", "以后不再询问"},
			Timestamp:  time.Now().Format(time.RFC3339),
		})
	}
	return requests
}

func analyzeNamingPatterns(actions []ActionRecord) []PotentialPreference {
	styles := make(map[string]int)
	for _, action := range actions {
		switch action.Type {
		case "file_rename", "file_create", "file_save":
		default:
			continue
		}
		name, _ := action.Params["new_name"].(string)
		if name == "" {
			name, _ = action.Params["path"].(string)
		}
		switch {
		case datePrefixPattern.MatchString(name):
			styles["date_prefix"]++
		case numberPrefixPattern.MatchString(name):
			styles["number_prefix"]++
		case versionSuffixPattern.MatchString(name):
			styles["version_suffix"]++
		}
	}

	var out []PotentialPreference
	for style, count := range styles {
		if count < confirmationThreshold {
			continue
		}
		desc := namingStyleNames[style]
		out = append(out, PotentialPreference{
			Type:        "naming_style",
			Value:       style,
			Description: desc,
			Occurrences: count,
			Question:    fmt.Sprintf("我注意到你最近 %d 次使用「%s」，以后默认使用这种命名方式吗？", count, desc),
		})
	}
	return out
}

func analyzeDirectoryPatterns(actions []ActionRecord) []PotentialPreference {
	usage := make(map[string]int)
	for _, action := range actions {
		path, _ := action.Params["path"].(string)
		if path == "" {
			continue
		}
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			usage[dir]++
		}
	}

	var out []PotentialPreference
	for dir, count := range usage {
		// Directories need twice the evidence of naming habits.
		if count < confirmationThreshold*2 {
			continue
		}
		out = append(out, PotentialPreference{
			Type:        "preferred_directory",
			Value:       dir,
			Description: "常用目录: " + dir,
			Occurrences: count,
			Question:    fmt.Sprintf("你经常使用「%s」目录，设为默认工作目录吗？", dir),
		})
	}
	return out
}

func analyzeTimePatterns(actions []ActionRecord) []PotentialPreference {
	hourCounts := make(map[int]int)
	total := 0
	for _, action := range actions {
		if ts, err := time.Parse(time.RFC3339, action.Timestamp); err == nil {
			hourCounts[ts.Hour()]++
			total++
		}
	}
	if total == 0 {
		return nil
	}

	peakHour, peakCount := 0, 0
	for hour, n := range hourCounts {
		if n > peakCount {
			peakCount = n
			peakHour = hour
		}
	}
	if float64(peakCount)/float64(total) <= 0.3 {
		return nil
	}
	return []PotentialPreference{{
		Type:        "active_hours",
		Value:       fmt.Sprintf("%d", peakHour),
		Description: fmt.Sprintf("活跃时段: %d:00-%d:00", peakHour, peakHour+1),
		Occurrences: peakCount,
		Question:    fmt.Sprintf("你通常在 %d:00 左右使用，需要在这个时间提醒你待办任务吗？", peakHour),
	}}
}

// MemoryContext renders the current emotion state and top workflows.
func (a *AdvancedMemory) MemoryContext() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var parts []string
	if n := len(a.emotionsHistory); n > 0 {
		latest := a.emotionsHistory[n-1]
		if latest.Emotion != "neutral" && latest.Emotion != "" {
			parts = append(parts, fmt.Sprintf("**用户情绪**：%s。%s", latest.Emotion, latest.Suggestion))
		}
	}
	if len(a.discoveredPatterns) > 0 {
		top := a.discoveredPatterns
		if len(top) > 3 {
			top = top[:3]
		}
		items := make([]string, 0, len(top))
		for _, p := range top {
			items = append(items, fmt.Sprintf("- %s (执行%d次)", p.PatternName, p.Occurrences))
		}
		parts = append(parts, "**常用工作流**：\n"+strings.Join(items, "\n"))
	}
	return strings.Join(parts, "\n\n")
}

// ExportState snapshots the newest records for persistence.
func (a *AdvancedMemory) ExportState() AdvancedState {
	a.mu.Lock()
	defer a.mu.Unlock()

	emotions := a.emotionsHistory
	if len(emotions) > 50 {
		emotions = emotions[len(emotions)-50:]
	}
	actions := a.actionsHistory
	if len(actions) > 100 {
		actions = actions[len(actions)-100:]
	}

	state := AdvancedState{
		EmotionsHistory:    make([]EmotionRecord, len(emotions)),
		ActionsHistory:     make([]ActionRecord, len(actions)),
		DiscoveredPatterns: make([]WorkflowPattern, len(a.discoveredPatterns)),
	}
	copy(state.EmotionsHistory, emotions)
	copy(state.ActionsHistory, actions)
	copy(state.DiscoveredPatterns, a.discoveredPatterns)
	return state
}

// ImportState restores a snapshot.
func (a *AdvancedMemory) ImportState(state AdvancedState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.emotionsHistory = state.EmotionsHistory
	a.actionsHistory = state.ActionsHistory
	a.discoveredPatterns = state.DiscoveredPatterns
}

// Counts reports ring sizes for diagnostics.
func (a *AdvancedMemory) Counts() (emotions int, actions int, workflows int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.emotionsHistory), len(a.actionsHistory), len(a.discoveredPatterns)
}

func hashString(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
