// Package workflow persists named command sequences the user can trigger
// with a single instruction, e.g. "工作模式" expanding to three app
// launches. Instruction matching runs before planning so a template hit
// skips the model entirely.
package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"deskjarvis/agent/pkg/logger"
)

const fileName = "workflows.json"

// Template is one saved command sequence. Name doubles as the trigger.
type Template struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Commands    []string `json:"commands"`
}

// Store manages the workflow collection under one data directory.
type Store struct {
	path string
	log  logger.Logger

	mu        sync.Mutex
	templates map[string]Template
}

// NewStore loads workflows.json from dataDir, seeding the default
// templates on first run. Missing files are not errors.
func NewStore(dataDir string, log logger.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workflow directory: %w", err)
	}
	s := &Store{
		path:      filepath.Join(dataDir, fileName),
		log:       log,
		templates: make(map[string]Template),
	}
	s.load()
	s.seedDefaults()
	return s, nil
}

func (s *Store) load() {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Errorf("Failed to load workflows: %v", err)
		}
		return
	}
	var templates map[string]Template
	if err := json.Unmarshal(payload, &templates); err != nil {
		s.log.Errorf("Failed to parse %s: %v", fileName, err)
		return
	}
	s.templates = templates
	s.log.Infof("Loaded %d workflow(s)", len(templates))
}

// seedDefaults adds the stock templates without touching ones the user
// already customized or deleted and re-created.
func (s *Store) seedDefaults() {
	defaults := []Template{
		{
			Name:        "工作模式",
			Description: "打开常用工作应用，静音",
			Commands:    []string{"打开企业微信", "打开飞书", "静音"},
		},
		{
			Name:        "下班模式",
			Description: "关闭工作应用，播放音乐",
			Commands:    []string{"关闭企业微信", "关闭飞书", "取消静音", "打开网易云音乐"},
		},
		{
			Name:        "截图整理",
			Description: "整理桌面上的截图文件",
			Commands:    []string{"把桌面上的截图文件移动到 ~/Pictures/Screenshots 文件夹"},
		},
		{
			Name:        "清理下载",
			Description: "清理7天前的下载文件",
			Commands:    []string{"删除下载文件夹中7天前的文件"},
		},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for _, t := range defaults {
		if _, ok := s.templates[t.Name]; !ok {
			s.templates[t.Name] = t
			changed = true
		}
	}
	if changed {
		s.persistLocked()
	}
}

func (s *Store) persistLocked() {
	payload, err := json.MarshalIndent(s.templates, "", "  ")
	if err != nil {
		s.log.Errorf("Failed to marshal workflows: %v", err)
		return
	}
	if err := os.WriteFile(s.path, payload, 0644); err != nil {
		s.log.Errorf("Failed to save workflows: %v", err)
	}
}

// Add creates or replaces a template.
func (s *Store) Add(name string, commands []string, description string) error {
	name = strings.TrimSpace(name)
	if name == "" || len(commands) == 0 {
		return fmt.Errorf("workflow needs a name and at least one command")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[name] = Template{Name: name, Description: description, Commands: commands}
	s.persistLocked()
	return nil
}

// Delete removes a template by name.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[name]; !ok {
		return fmt.Errorf("workflow %q not found", name)
	}
	delete(s.templates, name)
	s.persistLocked()
	return nil
}

// Get returns a template by exact name.
func (s *Store) Get(name string) (Template, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[name]
	return t, ok
}

// List returns every template.
func (s *Store) List() []Template {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Template, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, t)
	}
	return out
}

// Match finds the template an instruction triggers: exact name first,
// then substring containment in either direction.
func (s *Store) Match(instruction string) (Template, bool) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return Template{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.templates[instruction]; ok {
		return t, true
	}

	lowered := strings.ToLower(instruction)
	for name, t := range s.templates {
		lowerName := strings.ToLower(name)
		if strings.Contains(lowered, lowerName) || strings.Contains(lowerName, lowered) {
			return t, true
		}
	}
	return Template{}, false
}
