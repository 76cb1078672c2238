package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// Emitter receives task progress events.
type Emitter interface {
	Emit(evt Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(evt Event) {
	f(evt)
}

// Discard drops every event. Useful default for tests.
var Discard Emitter = EmitterFunc(func(Event) {})

// Writer serializes JSON lines onto a single stream. Exactly one object per
// line, every line flushed before the mutex is released. The server loop
// shares one Writer between protocol replies and task events so the host
// never sees interleaved output.
type Writer struct {
	mu  sync.Mutex
	out *bufio.Writer
}

// NewWriter wraps the given stream, normally os.Stdout.
func NewWriter(w io.Writer) *Writer {
	return &Writer{out: bufio.NewWriter(w)}
}

// WriteJSON marshals v and writes it as one flushed line.
func (w *Writer) WriteJSON(v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal protocol message: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.out.Write(payload); err != nil {
		return fmt.Errorf("failed to write protocol message: %w", err)
	}
	if err := w.out.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write protocol message: %w", err)
	}
	return w.out.Flush()
}

// Emit implements Emitter. Marshal failures are swallowed; the stream must
// only ever carry valid JSON.
func (w *Writer) Emit(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	_ = w.WriteJSON(evt)
}
