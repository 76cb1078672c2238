// Package embedding provides the shared text embedding service. Loading is
// asynchronous behind a one-shot latch; callers that cannot wait receive
// nil vectors and degrade instead of failing.
package embedding

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"deskjarvis/agent/pkg/logger"
)

const (
	// DefaultModel matches the default of the OpenAI-compatible providers.
	DefaultModel = "text-embedding-3-small"

	probeText      = "deskjarvis embedding probe"
	loadAttempts   = 3
	attemptTimeout = 300 * time.Second
	encodeTimeout  = 60 * time.Second
	encodeWait     = 5 * time.Second
	batchSize      = 32
)

// Message substrings that mark an error as transient network trouble worth
// a retry.
var networkErrorMarkers = []string{
	"ssl", "eof", "connection", "timeout", "closed", "http", "network", "client",
}

// Config steers service construction.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	CacheDir string
	Offline  bool
}

// Service encodes text into vectors. One service exists per model; use
// Shared to obtain it.
type Service struct {
	cfg   Config
	log   logger.Logger
	cache *diskCache

	newEmbedder func(Config) (embeddings.Embedder, error)

	loadOnce sync.Once
	ready    chan struct{}

	mu      sync.Mutex
	client  embeddings.Embedder
	loadErr error
}

var (
	sharedMu sync.Mutex
	shared   = map[string]*Service{}
)

// Shared returns the singleton service for cfg.Model, creating it on first
// use.
func Shared(cfg Config, log logger.Logger) *Service {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if s, ok := shared[cfg.Model]; ok {
		return s
	}
	s := NewService(cfg, log)
	shared[cfg.Model] = s
	return s
}

// NewService creates an unshared service. Call StartLoading before use.
func NewService(cfg Config, log logger.Logger) *Service {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Service{
		cfg:         cfg,
		log:         log,
		cache:       newDiskCache(cfg.CacheDir),
		newEmbedder: buildEmbedder,
		ready:       make(chan struct{}),
	}
}

func buildEmbedder(cfg Config) (embeddings.Embedder, error) {
	opts := []openai.Option{
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.APIKey != "" {
		opts = append(opts, openai.WithToken(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(client,
		embeddings.WithBatchSize(batchSize),
		embeddings.WithStripNewLines(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return embedder, nil
}

// StartLoading launches the load ladder once. Safe to call repeatedly.
func (s *Service) StartLoading() {
	s.loadOnce.Do(func() {
		go s.load()
	})
}

// load walks the ladder: cache-only when forced offline, otherwise an
// online probe with bounded retries, and a final cache-only fallback. The
// ready latch closes in every outcome.
func (s *Service) load() {
	defer close(s.ready)

	if s.cfg.Offline {
		s.log.Infof("Embedding service starting in offline mode (model: %s)", s.cfg.Model)
		return
	}

	client, err := s.newEmbedder(s.cfg)
	if err != nil {
		s.setLoadErr(fmt.Errorf("embedding client unavailable: %w", err))
		s.log.Warnf("Embedding service degraded to cache-only: %v", err)
		return
	}

	if s.cache.has(s.cfg.Model, probeText) {
		// A cached probe proves a past successful setup; skip the
		// network round trip and trust the client.
		s.setClient(client)
		s.log.Infof("Embedding service ready from cache (model: %s)", s.cfg.Model)
		return
	}

	var lastErr error
	for attempt := 1; attempt <= loadAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), attemptTimeout)
		vec, err := client.EmbedQuery(ctx, probeText)
		cancel()
		if err == nil && len(vec) > 0 {
			s.cache.put(s.cfg.Model, probeText, vec)
			s.setClient(client)
			s.log.Infof("Embedding service ready (model: %s, dimensions: %d)", s.cfg.Model, len(vec))
			return
		}
		if err == nil {
			err = fmt.Errorf("empty probe vector")
		}
		lastErr = err
		if !isNetworkError(err) {
			s.log.Warnf("Embedding probe failed with non-network error, not retrying: %v", err)
			break
		}
		backoff := time.Duration(1<<attempt) * time.Second
		s.log.Warnf("Embedding probe attempt %d/%d failed: %v (retrying in %s)", attempt, loadAttempts, err, backoff)
		time.Sleep(backoff)
	}

	s.setLoadErr(fmt.Errorf("embedding service unavailable: %w", lastErr))
	s.log.Warnf("Embedding service degraded to cache-only after failed probes: %v", lastErr)
}

func isNetworkError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range networkErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func (s *Service) setClient(client embeddings.Embedder) {
	s.mu.Lock()
	s.client = client
	s.mu.Unlock()
}

func (s *Service) setLoadErr(err error) {
	s.mu.Lock()
	s.loadErr = err
	s.mu.Unlock()
}

func (s *Service) getClient() embeddings.Embedder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// WaitUntilReady blocks until loading finishes or the timeout expires.
// Returns true once the latch is closed, even when loading ended degraded.
func (s *Service) WaitUntilReady(timeout time.Duration) bool {
	s.StartLoading()
	if timeout <= 0 {
		select {
		case <-s.ready:
			return true
		default:
			return false
		}
	}
	select {
	case <-s.ready:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Enabled reports whether Encode can return vectors at all: a live client
// or at least a populated cache.
func (s *Service) Enabled() bool {
	if !s.WaitUntilReady(0) {
		return false
	}
	return s.getClient() != nil || s.cache.nonEmpty()
}

// Encode returns the vector for text, or nil when the service is not ready
// within its internal wait, degraded, or the lookup fails. Never returns
// an error; absence of a vector is the degradation contract.
func (s *Service) Encode(ctx context.Context, text string) []float32 {
	if text == "" {
		return nil
	}
	if !s.WaitUntilReady(encodeWait) {
		s.log.Debugf("Embedding encode skipped: service not ready")
		return nil
	}
	if vec, ok := s.cache.get(s.cfg.Model, text); ok {
		return vec
	}
	client := s.getClient()
	if client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, encodeTimeout)
	defer cancel()
	vec, err := client.EmbedQuery(ctx, text)
	if err != nil {
		s.log.Warnf("Embedding encode failed: %v", err)
		return nil
	}
	s.cache.put(s.cfg.Model, text, vec)
	return vec
}

// EncodeBatch returns one vector per input text, serving cache hits
// locally and fetching only the misses. A failed fetch yields nil for the
// whole batch.
func (s *Service) EncodeBatch(ctx context.Context, texts []string) [][]float32 {
	if len(texts) == 0 {
		return nil
	}
	if !s.WaitUntilReady(encodeWait) {
		return nil
	}

	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if vec, ok := s.cache.get(s.cfg.Model, text); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out
	}

	client := s.getClient()
	if client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()
	vecs, err := client.EmbedDocuments(ctx, missing)
	if err != nil || len(vecs) != len(missing) {
		s.log.Warnf("Embedding batch encode failed: %v", err)
		return nil
	}
	for j, vec := range vecs {
		s.cache.put(s.cfg.Model, missing[j], vec)
		out[missingIdx[j]] = vec
	}
	return out
}

// Model returns the configured model name.
func (s *Service) Model() string {
	return s.cfg.Model
}
