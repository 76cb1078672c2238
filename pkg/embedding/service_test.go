package embedding

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/embeddings"

	"deskjarvis/agent/pkg/logger"
)

// fakeEmbedder hashes texts into deterministic vectors and counts calls.
type fakeEmbedder struct {
	queryCalls int32
	batchCalls int32
	failWith   error
}

var _ embeddings.Embedder = (*fakeEmbedder)(nil)

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	atomic.AddInt32(&f.queryCalls, 1)
	if f.failWith != nil {
		return nil, f.failWith
	}
	return fakeVector(text), nil
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt32(&f.batchCalls, 1)
	if f.failWith != nil {
		return nil, f.failWith
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = fakeVector(t)
	}
	return out, nil
}

func fakeVector(text string) []float32 {
	vec := make([]float32, 8)
	for i, r := range text {
		vec[i%8] += float32(r) / 1000
	}
	return vec
}

func newTestService(t *testing.T, fake *fakeEmbedder, offline bool) *Service {
	t.Helper()
	dir := t.TempDir()
	log := logger.CreateTestLogger(filepath.Join(dir, "embed.log"), "debug")
	s := NewService(Config{Model: "test-model", CacheDir: dir, Offline: offline}, log)
	s.newEmbedder = func(Config) (embeddings.Embedder, error) {
		return fake, nil
	}
	return s
}

func TestEncodeCachesVectors(t *testing.T) {
	fake := &fakeEmbedder{}
	s := newTestService(t, fake, false)
	s.StartLoading()
	require.True(t, s.WaitUntilReady(5*time.Second))

	first := s.Encode(context.Background(), "open the downloads folder")
	require.NotNil(t, first)

	callsAfterFirst := atomic.LoadInt32(&fake.queryCalls)
	second := s.Encode(context.Background(), "open the downloads folder")
	assert.Equal(t, first, second)
	assert.Equal(t, callsAfterFirst, atomic.LoadInt32(&fake.queryCalls),
		"second encode must be served from cache")
}

func TestEncodeEmptyText(t *testing.T) {
	s := newTestService(t, &fakeEmbedder{}, false)
	assert.Nil(t, s.Encode(context.Background(), ""))
}

func TestOfflineModeServesOnlyCacheHits(t *testing.T) {
	fake := &fakeEmbedder{}
	s := newTestService(t, fake, true)
	s.StartLoading()
	require.True(t, s.WaitUntilReady(5*time.Second))

	assert.Nil(t, s.Encode(context.Background(), "anything"), "offline with cold cache yields nil")
	assert.Zero(t, atomic.LoadInt32(&fake.queryCalls), "offline mode must not touch the network")

	// Seed the cache directly, then the same text resolves.
	s.cache.put("test-model", "anything", fakeVector("anything"))
	assert.NotNil(t, s.Encode(context.Background(), "anything"))
}

func TestLoadDegradesOnNonNetworkError(t *testing.T) {
	fake := &fakeEmbedder{failWith: errors.New("invalid api key provided")}
	s := newTestService(t, fake, false)
	s.StartLoading()
	require.True(t, s.WaitUntilReady(10*time.Second))

	assert.Nil(t, s.Encode(context.Background(), "hello"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&fake.queryCalls),
		"non-network probe failure must not be retried")
}

func TestEncodeBatchMixesCacheAndFetch(t *testing.T) {
	fake := &fakeEmbedder{}
	s := newTestService(t, fake, false)
	s.StartLoading()
	require.True(t, s.WaitUntilReady(5*time.Second))

	warm := s.Encode(context.Background(), "warm text")
	require.NotNil(t, warm)

	texts := []string{"warm text", "cold one", "cold two"}
	vectors := s.EncodeBatch(context.Background(), texts)
	require.Len(t, vectors, 3)
	assert.Equal(t, warm, vectors[0])
	for i, vec := range vectors {
		assert.NotEmpty(t, vec, "vector %d", i)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&fake.batchCalls))
}

func TestWaitUntilReadyTimesOut(t *testing.T) {
	fake := &fakeEmbedder{failWith: fmt.Errorf("connection refused")}
	s := newTestService(t, fake, false)
	// Network failures walk the 2s/4s/8s backoff ladder, so a short wait
	// must report not ready without blocking.
	start := time.Now()
	ready := s.WaitUntilReady(100 * time.Millisecond)
	assert.False(t, ready)
	assert.Less(t, time.Since(start), time.Second)
}

func TestIsNetworkError(t *testing.T) {
	tests := []struct {
		msg     string
		network bool
	}{
		{"dial tcp: connection refused", true},
		{"unexpected EOF", true},
		{"TLS/SSL handshake failure", true},
		{"request timeout exceeded", true},
		{"use of closed network connection", true},
		{"http 502 bad gateway", true},
		{"401 unauthorized: invalid api token provided", false},
		{"model not found", false},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.network, isNetworkError(errors.New(tt.msg)))
		})
	}
}
