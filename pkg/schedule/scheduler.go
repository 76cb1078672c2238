// Package schedule runs delayed and repeating reminders. Reminders
// persist across restarts in reminders.json; triggering a reminder with a
// command re-enters the agent through a dispatch callback.
package schedule

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"deskjarvis/agent/pkg/logger"
)

const fileName = "reminders.json"

// Repeat cadences. Anything else is treated as a one-shot.
const (
	RepeatNone   = ""
	RepeatHourly = "hourly"
	RepeatDaily  = "daily"
	RepeatWeekly = "weekly"
)

// Reminder is one scheduled notification, optionally carrying a command
// to dispatch when it fires.
type Reminder struct {
	ID          string    `json:"id"`
	Message     string    `json:"message"`
	TriggerTime time.Time `json:"trigger_time"`
	Repeat      string    `json:"repeat,omitempty"`
	Command     string    `json:"command,omitempty"`
	Triggered   bool      `json:"triggered"`
}

// Dispatch receives the command of a fired reminder as a fresh
// instruction.
type Dispatch func(command string)

// Notify receives the message of every fired reminder, e.g. to surface a
// desktop notification.
type Notify func(message string)

// Scheduler checks pending reminders once a second.
type Scheduler struct {
	path string
	log  logger.Logger

	mu        sync.Mutex
	reminders map[string]*Reminder

	dispatch Dispatch
	notify   Notify

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// NewScheduler loads reminders.json from dataDir. One-shots that already
// fired are dropped on load; repeating reminders survive.
func NewScheduler(dataDir string, log logger.Logger) (*Scheduler, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scheduler directory: %w", err)
	}
	s := &Scheduler{
		path:      filepath.Join(dataDir, fileName),
		log:       log,
		reminders: make(map[string]*Reminder),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	s.load()
	return s, nil
}

func (s *Scheduler) load() {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Errorf("Failed to load reminders: %v", err)
		}
		return
	}
	var items []*Reminder
	if err := json.Unmarshal(payload, &items); err != nil {
		s.log.Errorf("Failed to parse %s: %v", fileName, err)
		return
	}
	for _, r := range items {
		if r.Triggered && r.Repeat == RepeatNone {
			continue
		}
		s.reminders[r.ID] = r
	}
	s.log.Infof("Loaded %d reminder(s)", len(s.reminders))
}

func (s *Scheduler) persistLocked() {
	items := make([]*Reminder, 0, len(s.reminders))
	for _, r := range s.reminders {
		items = append(items, r)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].TriggerTime.Before(items[j].TriggerTime) })

	payload, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		s.log.Errorf("Failed to marshal reminders: %v", err)
		return
	}
	if err := os.WriteFile(s.path, payload, 0644); err != nil {
		s.log.Errorf("Failed to save reminders: %v", err)
	}
}

// Start launches the tick loop. dispatch and notify may be nil.
func (s *Scheduler) Start(dispatch Dispatch, notify Notify) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.dispatch = dispatch
	s.notify = notify
	s.mu.Unlock()

	go s.run()
	s.log.Infof("Reminder scheduler started")
}

// Stop ends the tick loop and waits for it to drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh
	s.log.Infof("Reminder scheduler stopped")
}

func (s *Scheduler) run() {
	defer close(s.doneCh)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

// tick fires due reminders, advances repeating ones and prunes fired
// one-shots.
func (s *Scheduler) tick(now time.Time) {
	s.mu.Lock()
	var fired []*Reminder
	changed := false
	for id, r := range s.reminders {
		if now.Before(r.TriggerTime) {
			continue
		}
		fired = append(fired, &Reminder{
			ID: r.ID, Message: r.Message, Command: r.Command,
		})
		changed = true
		switch r.Repeat {
		case RepeatHourly:
			r.TriggerTime = r.TriggerTime.Add(time.Hour)
		case RepeatDaily:
			r.TriggerTime = r.TriggerTime.Add(24 * time.Hour)
		case RepeatWeekly:
			r.TriggerTime = r.TriggerTime.Add(7 * 24 * time.Hour)
		default:
			delete(s.reminders, id)
		}
	}
	if changed {
		s.persistLocked()
	}
	dispatch, notify := s.dispatch, s.notify
	s.mu.Unlock()

	for _, r := range fired {
		s.log.Infof("Reminder fired: %s", r.Message)
		if notify != nil && r.Message != "" {
			notify(r.Message)
		}
		if dispatch != nil && r.Command != "" {
			dispatch(r.Command)
		}
	}
}

// Add schedules a reminder. Exactly one of delay or triggerTime must be
// set; a zero triggerTime with no delay is an error.
func (s *Scheduler) Add(message string, delay time.Duration, triggerTime time.Time, repeat string, command string) (*Reminder, error) {
	if delay > 0 {
		triggerTime = time.Now().Add(delay)
	}
	if triggerTime.IsZero() {
		return nil, fmt.Errorf("reminder needs a delay or a trigger time")
	}

	r := &Reminder{
		ID:          fmt.Sprintf("reminder_%d", time.Now().UnixMilli()),
		Message:     message,
		TriggerTime: triggerTime,
		Repeat:      normalizeRepeat(repeat),
		Command:     command,
	}

	s.mu.Lock()
	// Millisecond ids can collide when reminders arrive back to back.
	for n := 2; ; n++ {
		if _, ok := s.reminders[r.ID]; !ok {
			break
		}
		r.ID = fmt.Sprintf("reminder_%d_%d", time.Now().UnixMilli(), n)
	}
	s.reminders[r.ID] = r
	s.persistLocked()
	s.mu.Unlock()
	return r, nil
}

// Cancel removes a reminder by id.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reminders[id]; !ok {
		return fmt.Errorf("reminder %q not found", id)
	}
	delete(s.reminders, id)
	s.persistLocked()
	return nil
}

// Pending returns reminders that have not fired, soonest first.
func (s *Scheduler) Pending() []Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Reminder, 0, len(s.reminders))
	for _, r := range s.reminders {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggerTime.Before(out[j].TriggerTime) })
	return out
}

func normalizeRepeat(repeat string) string {
	switch repeat {
	case RepeatHourly, RepeatDaily, RepeatWeekly:
		return repeat
	default:
		return RepeatNone
	}
}

var (
	hoursPattern   = regexp.MustCompile(`(\d+)\s*小时`)
	minutesPattern = regexp.MustCompile(`(\d+)\s*分钟?`)
	secondsPattern = regexp.MustCompile(`(\d+)\s*秒`)
)

// ParseDelayExpression reads expressions like "5分钟后", "1小时后" or
// "2小时30分钟后" into a duration. Zero means no delay was recognized.
func ParseDelayExpression(expr string) time.Duration {
	var total time.Duration
	if m := hoursPattern.FindStringSubmatch(expr); m != nil {
		n, _ := strconv.Atoi(m[1])
		total += time.Duration(n) * time.Hour
	}
	if m := minutesPattern.FindStringSubmatch(expr); m != nil {
		n, _ := strconv.Atoi(m[1])
		total += time.Duration(n) * time.Minute
	}
	if m := secondsPattern.FindStringSubmatch(expr); m != nil {
		n, _ := strconv.Atoi(m[1])
		total += time.Duration(n) * time.Second
	}
	return total
}
