package embedding

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
)

// diskCache persists vectors under <dir>/embed_cache keyed by model and
// text. Cached vectors let the service start offline and spare repeat
// lookups for the fixed intent example set.
type diskCache struct {
	dir string
}

func newDiskCache(baseDir string) *diskCache {
	return &diskCache{dir: filepath.Join(baseDir, "embed_cache")}
}

func cacheKey(model string, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func (c *diskCache) path(model string, text string) string {
	return filepath.Join(c.dir, cacheKey(model, text)+".json")
}

func (c *diskCache) get(model string, text string) ([]float32, bool) {
	payload, err := os.ReadFile(c.path(model, text))
	if err != nil {
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(payload, &vec); err != nil || len(vec) == 0 {
		return nil, false
	}
	return vec, true
}

func (c *diskCache) put(model string, text string, vec []float32) {
	if len(vec) == 0 {
		return
	}
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return
	}
	payload, err := json.Marshal(vec)
	if err != nil {
		return
	}
	_ = os.WriteFile(c.path(model, text), payload, 0644)
}

func (c *diskCache) has(model string, text string) bool {
	_, err := os.Stat(c.path(model, text))
	return err == nil
}

func (c *diskCache) nonEmpty() bool {
	entries, err := os.ReadDir(c.dir)
	return err == nil && len(entries) > 0
}
