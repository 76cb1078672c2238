// Package intent routes instructions to fast-path intents by embedding
// similarity against a registry of canonical examples, replacing brittle
// keyword dispatch for the handful of operations that skip planning.
package intent

import (
	"context"
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	"deskjarvis/agent/pkg/logger"
)

// DefaultThreshold applies to intents without their own MinConfidence.
const DefaultThreshold = 0.65

// conflictPenalty lowers app open/close scores when the instruction smells
// like a file operation, which the planner handles better.
const conflictPenalty = 0.4

// Encoder is the slice of the embedding service the router needs.
type Encoder interface {
	Encode(ctx context.Context, text string) []float32
	EncodeBatch(ctx context.Context, texts []string) [][]float32
	WaitUntilReady(timeout time.Duration) bool
}

// Metadata describes how the orchestrator should act on a matched intent.
type Metadata struct {
	Type          string
	Action        string
	MinConfidence float64
}

// IntentMatch is a successful fast-path classification.
type IntentMatch struct {
	IntentType string
	Confidence float64
	Metadata   Metadata
	IsFastPath bool
}

// Instructions containing these tokens never take the fast path; email
// flows always need full planning.
var emailKeywords = []string{
	"邮件", "email", "收件", "发件", "搜索邮件", "search_emails", "search emails",
}

// Tokens that mark an instruction as a file operation for the conflict
// penalty.
var fileConflictKeywords = []string{
	"文件", "file", "folder", "文件夹", "directory", "目录",
}

var (
	absolutePathPattern  = regexp.MustCompile(`(?:^|\s)(?:/|~/)\S+`)
	fileExtensionPattern = regexp.MustCompile(`\.\w{2,4}\b`)
)

// Router matches instructions against the intent registry.
type Router struct {
	encoder Encoder
	log     logger.Logger

	mu       sync.Mutex
	registry map[string][]string
	metadata map[string]Metadata
	vectors  map[string][][]float32
	cached   bool
}

// NewRouter creates a router seeded with the canonical intent examples.
func NewRouter(encoder Encoder, log logger.Logger) *Router {
	return &Router{
		encoder: encoder,
		log:     log,
		registry: map[string][]string{
			"translate": {
				"Translate this to English", "翻译这段话", "How do you say X in Chinese?",
				"Translate the following text", "把这个翻译成英文", "英文翻译",
			},
			"summarize": {
				"Summarize this text", "总结一下这段话", "Give me a summary",
				"概括核心内容", "提炼要点",
			},
			"polish": {
				"Polish this text", "润色一下这段文字", "Make this sound more professional",
				"优化这段话的表达", "修改语法错误",
			},
			"screenshot": {
				"Take a screenshot", "Capture the screen", "截个图", "截屏",
				"Screenshot the desktop", "保存屏幕截图",
			},
			"volume_control": {
				"Turn up the volume", "Mute the sound", "Volume down",
				"调大音量", "静音", "声音小一点",
			},
			"brightness_control": {
				"Increase brightness", "Dim the screen", "Set brightness to 50%",
				"调亮屏幕", "屏幕太暗了", "亮度调高点",
			},
			"system_info": {
				"Check disk usage", "Show battery status", "System information",
				"查看系统信息", "内存还剩多少", "电池状态",
			},
			"app_open": {
				"Open Safari", "Launch Calculator", "Open Discord",
				"打开浏览器", "启动计算器", "打开微信",
			},
			"app_close": {
				"Close Safari", "Quit Music", "Kill the process",
				"关闭浏览器", "退出音乐", "关闭应用",
			},
		},
		metadata: map[string]Metadata{
			"translate":          {Type: "text_process", Action: "translate"},
			"summarize":          {Type: "text_process", Action: "summarize"},
			"polish":             {Type: "text_process", Action: "polish"},
			"screenshot":         {Type: "screenshot_desktop", Action: "screenshot"},
			"volume_control":     {Type: "system_control", Action: "volume"},
			"brightness_control": {Type: "system_control", Action: "brightness"},
			"system_info":        {Type: "system_control", Action: "sys_info"},
			"app_open":           {Type: "open_app", Action: "open", MinConfidence: 0.7},
			"app_close":          {Type: "close_app", Action: "close", MinConfidence: 0.7},
		},
		vectors: make(map[string][][]float32),
	}
}

// Detect classifies the instruction. Returns nil when nothing clears the
// threshold or when the embedding tier is unavailable; callers fall back to
// full planning.
func (r *Router) Detect(ctx context.Context, text string) *IntentMatch {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	lowered := strings.ToLower(text)
	for _, kw := range emailKeywords {
		if strings.Contains(lowered, kw) {
			return nil
		}
	}

	r.ensureCached(ctx)
	r.mu.Lock()
	ready := r.cached && len(r.vectors) > 0
	r.mu.Unlock()
	if !ready {
		r.log.Debugf("Intent registry embeddings not ready, skipping semantic routing")
		return nil
	}

	queryVec := r.encoder.Encode(ctx, text)
	if len(queryVec) == 0 {
		return nil
	}

	bestIntent := ""
	bestScore := -1.0
	r.mu.Lock()
	for intent, exampleVecs := range r.vectors {
		score := -1.0
		for _, vec := range exampleVecs {
			if s := cosine(queryVec, vec); s > score {
				score = s
			}
		}
		if score > bestScore {
			bestScore = score
			bestIntent = intent
		}
	}
	r.mu.Unlock()

	if bestIntent == "" {
		return nil
	}

	// The penalty applies to the argmax winner, after selection. It can
	// only push the match below threshold, never hand the win to a
	// runner-up intent.
	if (bestIntent == "app_open" || bestIntent == "app_close") && hasFileConflict(lowered, text) {
		bestScore -= conflictPenalty
	}
	r.log.Infof("Intent best match: %s (score: %.2f)", bestIntent, bestScore)

	meta := r.metadata[bestIntent]
	threshold := meta.MinConfidence
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if bestScore < threshold {
		return nil
	}

	return &IntentMatch{
		IntentType: bestIntent,
		Confidence: bestScore,
		Metadata:   meta,
		IsFastPath: true,
	}
}

// AddIntentExample extends an intent with a new canonical example. When the
// embedding matrix is already built the example is encoded incrementally.
func (r *Router) AddIntentExample(ctx context.Context, intent string, example string) {
	example = strings.TrimSpace(example)
	if example == "" {
		return
	}
	r.mu.Lock()
	if _, ok := r.registry[intent]; !ok {
		r.mu.Unlock()
		r.log.Warnf("Cannot add example to unknown intent %q", intent)
		return
	}
	r.registry[intent] = append(r.registry[intent], example)
	cached := r.cached
	r.mu.Unlock()

	if !cached {
		return
	}
	vec := r.encoder.Encode(ctx, example)
	if len(vec) == 0 {
		return
	}
	r.mu.Lock()
	r.vectors[intent] = append(r.vectors[intent], vec)
	r.mu.Unlock()
}

// ensureCached batch-encodes the registry on first use. A not-yet-ready
// encoder defers the work to the next call instead of blocking.
func (r *Router) ensureCached(ctx context.Context) {
	r.mu.Lock()
	if r.cached {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	if !r.encoder.WaitUntilReady(100 * time.Millisecond) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached {
		return
	}

	intents := make([]string, 0, len(r.registry))
	var all []string
	for intent, examples := range r.registry {
		intents = append(intents, intent)
		all = append(all, examples...)
	}

	vectors := r.encoder.EncodeBatch(ctx, all)
	if len(vectors) == len(all) {
		idx := 0
		for _, intent := range intents {
			examples := r.registry[intent]
			vecs := make([][]float32, 0, len(examples))
			for range examples {
				if len(vectors[idx]) > 0 {
					vecs = append(vecs, vectors[idx])
				}
				idx++
			}
			if len(vecs) > 0 {
				r.vectors[intent] = vecs
			}
		}
		r.cached = true
		return
	}

	// Batch failed; encode one by one.
	r.log.Warnf("Batch intent encoding failed, degrading to per-example encoding")
	for intent, examples := range r.registry {
		vecs := make([][]float32, 0, len(examples))
		for _, ex := range examples {
			if vec := r.encoder.Encode(ctx, ex); len(vec) > 0 {
				vecs = append(vecs, vec)
			}
		}
		if len(vecs) > 0 {
			r.vectors[intent] = vecs
		}
	}
	r.cached = true
}

func hasFileConflict(lowered string, original string) bool {
	for _, kw := range fileConflictKeywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return absolutePathPattern.MatchString(original) || fileExtensionPattern.MatchString(original)
}

func cosine(a []float32, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
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
