// Package history records completed tasks and user favorites as JSON
// files under the agent's data directory.
package history

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"deskjarvis/agent/pkg/logger"
)

const (
	historyFile   = "history.json"
	favoritesFile = "favorites.json"

	// maxHistory caps the retained record count; older entries fall off.
	maxHistory = 100

	// favoriteNameLimit truncates auto-generated favorite names.
	favoriteNameLimit = 30
)

// Task is one completed task record.
type Task struct {
	ID          string  `json:"id"`
	Instruction string  `json:"instruction"`
	Success     bool    `json:"success"`
	StepsCount  int     `json:"steps_count"`
	Duration    float64 `json:"duration"`
	Timestamp   string  `json:"timestamp"`
}

// Favorite is one saved instruction.
type Favorite struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Instruction string `json:"instruction"`
	CreatedAt   string `json:"created_at"`
}

// Store manages history and favorites under one data directory.
type Store struct {
	historyPath   string
	favoritesPath string
	log           logger.Logger

	mu        sync.Mutex
	history   []Task
	favorites []Favorite
}

// NewStore loads both files from dataDir. Missing files are not errors.
func NewStore(dataDir string, log logger.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	s := &Store{
		historyPath:   filepath.Join(dataDir, historyFile),
		favoritesPath: filepath.Join(dataDir, favoritesFile),
		log:           log,
	}
	loadJSON(s.historyPath, &s.history, log)
	loadJSON(s.favoritesPath, &s.favorites, log)
	return s, nil
}

func loadJSON(path string, dst interface{}, log logger.Logger) {
	payload, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Errorf("Failed to load %s: %v", filepath.Base(path), err)
		}
		return
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		log.Errorf("Failed to parse %s: %v", filepath.Base(path), err)
	}
}

func (s *Store) saveJSON(path string, v interface{}) {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		s.log.Errorf("Failed to marshal %s: %v", filepath.Base(path), err)
		return
	}
	if err := os.WriteFile(path, payload, 0644); err != nil {
		s.log.Errorf("Failed to save %s: %v", filepath.Base(path), err)
	}
}

// AddTask appends a completed task, trimming to the retention cap.
func (s *Store) AddTask(instruction string, success bool, stepsCount int, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.history = append(s.history, Task{
		ID:          fmt.Sprintf("task_%d", now.UnixMilli()),
		Instruction: instruction,
		Success:     success,
		StepsCount:  stepsCount,
		Duration:    math.Round(duration.Seconds()*100) / 100,
		Timestamp:   now.Format(time.RFC3339),
	})
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
	s.saveJSON(s.historyPath, s.history)
}

// Recent returns the newest records first, up to limit.
func (s *Store) Recent(limit int) []Task {
	if limit <= 0 {
		limit = 20
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.history)
	if limit > n {
		limit = n
	}
	out := make([]Task, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.history[i])
	}
	return out
}

// Search returns records whose instruction contains keyword, newest
// first, capped at 20.
func (s *Store) Search(keyword string) []Task {
	lowered := strings.ToLower(keyword)
	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []Task
	for _, t := range s.history {
		if strings.Contains(strings.ToLower(t.Instruction), lowered) {
			matches = append(matches, t)
		}
	}
	if len(matches) > 20 {
		matches = matches[len(matches)-20:]
	}
	for i, j := 0, len(matches)-1; i < j; i, j = i+1, j-1 {
		matches[i], matches[j] = matches[j], matches[i]
	}
	return matches
}

// ClearHistory drops every record.
func (s *Store) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.saveJSON(s.historyPath, []Task{})
}

// AddFavorite saves an instruction, rejecting duplicates.
func (s *Store) AddFavorite(instruction string, name string) (Favorite, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return Favorite{}, fmt.Errorf("favorite instruction is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.favorites {
		if f.Instruction == instruction {
			return Favorite{}, fmt.Errorf("instruction already in favorites")
		}
	}

	if name == "" {
		name = truncateRunes(instruction, favoriteNameLimit)
	}
	now := time.Now()
	fav := Favorite{
		ID:          fmt.Sprintf("fav_%d", now.UnixMilli()),
		Name:        name,
		Instruction: instruction,
		CreatedAt:   now.Format(time.RFC3339),
	}
	s.favorites = append(s.favorites, fav)
	s.saveJSON(s.favoritesPath, s.favorites)
	return fav, nil
}

// RemoveFavorite deletes by id or by exact instruction text.
func (s *Store) RemoveFavorite(idOrInstruction string) (Favorite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, f := range s.favorites {
		if f.ID == idOrInstruction || f.Instruction == idOrInstruction {
			s.favorites = append(s.favorites[:i], s.favorites[i+1:]...)
			s.saveJSON(s.favoritesPath, s.favorites)
			return f, nil
		}
	}
	return Favorite{}, fmt.Errorf("favorite not found")
}

// Favorites returns every saved favorite.
func (s *Store) Favorites() []Favorite {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Favorite, len(s.favorites))
	copy(out, s.favorites)
	return out
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
