package reflector

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"time"

	"deskjarvis/agent/pkg/logger"
)

const (
	// maxScreenshotWidth bounds the image sent to the vision model.
	maxScreenshotWidth = 1920

	screenshotMaxAge = 7 * 24 * time.Hour
	screenshotMaxKeep = 50
)

// errorScreenshotGlobs name the failure captures browser executors leave
// in the sandbox downloads directory.
var errorScreenshotGlobs = []string{
	"*error_*.png",
	"*login_error*.png",
	"*click_error*.png",
	"*fill_error*.png",
}

// latestErrorScreenshot loads the newest failure capture, downscaled to
// the vision width limit and re-encoded as PNG.
func latestErrorScreenshot(sandboxPath string, log logger.Logger) ([]byte, error) {
	path, err := newestScreenshotPath(sandboxPath)
	if err != nil {
		return nil, err
	}

	//nolint:gosec // G304: path comes from a glob over the agent's own sandbox
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open screenshot: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode screenshot %s: %w", filepath.Base(path), err)
	}

	if img.Bounds().Dx() > maxScreenshotWidth {
		img = downscale(img, maxScreenshotWidth)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode screenshot: %w", err)
	}
	log.Debugf("Attached error screenshot %s (%d bytes)", filepath.Base(path), buf.Len())
	return buf.Bytes(), nil
}

func newestScreenshotPath(sandboxPath string) (string, error) {
	dir := filepath.Join(sandboxPath, "downloads")

	var newest string
	var newestTime time.Time
	for _, pattern := range errorScreenshotGlobs {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			continue
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				continue
			}
			if info.ModTime().After(newestTime) {
				newest = m
				newestTime = info.ModTime()
			}
		}
	}
	if newest == "" {
		return "", fmt.Errorf("no error screenshot under %s", dir)
	}
	return newest, nil
}

// downscale resizes to the target width with nearest-neighbour sampling.
// Fidelity does not matter here, the model only reads rough layout.
func downscale(src image.Image, targetWidth int) image.Image {
	bounds := src.Bounds()
	ratio := float64(targetWidth) / float64(bounds.Dx())
	targetHeight := int(float64(bounds.Dy()) * ratio)
	if targetHeight < 1 {
		targetHeight = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, targetWidth, targetHeight))
	for y := 0; y < targetHeight; y++ {
		srcY := bounds.Min.Y + int(float64(y)/ratio)
		for x := 0; x < targetWidth; x++ {
			srcX := bounds.Min.X + int(float64(x)/ratio)
			dst.Set(x, y, src.At(srcX, srcY))
		}
	}
	return dst
}

// PruneScreenshots removes stale failure captures from the sandbox
// downloads directory: anything older than a week, and beyond that the
// oldest entries past the retention cap. Errors are logged, not returned;
// pruning is housekeeping.
func PruneScreenshots(sandboxPath string, log logger.Logger) {
	dir := filepath.Join(sandboxPath, "downloads")

	type entry struct {
		path string
		mod  time.Time
	}
	var entries []entry
	for _, pattern := range errorScreenshotGlobs {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			continue
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				continue
			}
			entries = append(entries, entry{path: m, mod: info.ModTime()})
		}
	}

	cutoff := time.Now().Add(-screenshotMaxAge)
	kept := entries[:0]
	for _, e := range entries {
		if e.mod.Before(cutoff) {
			if err := os.Remove(e.path); err != nil {
				log.Debugf("Screenshot prune failed for %s: %v", e.path, err)
			}
			continue
		}
		kept = append(kept, e)
	}

	if len(kept) <= screenshotMaxKeep {
		return
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].mod.After(kept[j].mod) })
	for _, e := range kept[screenshotMaxKeep:] {
		if err := os.Remove(e.path); err != nil {
			log.Debugf("Screenshot prune failed for %s: %v", e.path, err)
		}
	}
}
