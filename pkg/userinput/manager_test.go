package userinput

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskjarvis/agent/pkg/events"
	"deskjarvis/agent/pkg/logger"
	"deskjarvis/agent/pkg/orchestrator/types"
)

func testLogger(t *testing.T) logger.Logger {
	t.Helper()
	return logger.CreateTestLogger(filepath.Join(t.TempDir(), "test.log"), "debug")
}

// eventSink collects emitted events behind a lock; the manager polls from
// the test goroutine while responders run concurrently.
type eventSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *eventSink) Emit(evt events.Event) {
	s.mu.Lock()
	s.events = append(s.events, evt)
	s.mu.Unlock()
}

func (s *eventSink) byType(t events.EventType) []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Event
	for _, evt := range s.events {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}

func newTestManager(t *testing.T) (*Manager, *eventSink, string) {
	t.Helper()
	dir := t.TempDir()
	sink := &eventSink{}
	m := NewManager(dir, sink, testLogger(t))
	m.timeout = 2 * time.Second
	m.poll = 10 * time.Millisecond
	return m, sink, dir
}

// respond extracts the request id from the emitted request event and
// writes the host's answer file.
func respond(t *testing.T, sink *eventSink, dir string, build func(id string) response) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if reqs := sink.byType(events.RequestInput); len(reqs) > 0 {
			id, _ := reqs[0].Data["id"].(string)
			require.NotEmpty(t, id)
			payload, err := json.Marshal(build(id))
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(filepath.Join(dir, responseFile), payload, 0644))
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("no request event observed")
}

func TestRequestLoginRoundTrip(t *testing.T) {
	m, sink, dir := newTestManager(t)

	go respond(t, sink, dir, func(id string) response {
		return response{RequestID: id, Values: map[string]string{
			"username": "alice", "password": "secret",
		}}
	})

	values, err := m.RequestLogin(types.NewExecutionContext(), "example.com", "")
	require.NoError(t, err)
	require.NotNil(t, values)
	assert.Equal(t, "alice", values["username"])
	assert.Equal(t, "secret", values["password"])

	// The response file is consumed.
	_, statErr := os.Stat(filepath.Join(dir, responseFile))
	assert.True(t, os.IsNotExist(statErr))

	// Both the wrapped and the legacy flat event go out.
	assert.Len(t, sink.byType(events.UserInputRequest), 1)
	assert.Len(t, sink.byType(events.RequestInput), 1)
}

func TestCancelledResponseYieldsNilValues(t *testing.T) {
	m, sink, dir := newTestManager(t)

	go respond(t, sink, dir, func(id string) response {
		return response{RequestID: id, Cancelled: true}
	})

	values, err := m.RequestLogin(types.NewExecutionContext(), "", "")
	require.NoError(t, err)
	assert.Nil(t, values)
}

func TestResponseForOtherRequestIgnored(t *testing.T) {
	m, sink, dir := newTestManager(t)
	m.timeout = 300 * time.Millisecond

	go respond(t, sink, dir, func(string) response {
		return response{RequestID: "someone-else", Values: map[string]string{"captcha": "abcd"}}
	})

	values, err := m.RequestLogin(types.NewExecutionContext(), "", "")
	require.NoError(t, err)
	assert.Nil(t, values)

	// The mismatched answer stays on disk for whichever request it
	// belongs to.
	assert.FileExists(t, filepath.Join(dir, responseFile))
}

func TestTimeoutReturnsNilWithoutError(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.timeout = 100 * time.Millisecond

	values, err := m.RequestLogin(types.NewExecutionContext(), "", "")
	require.NoError(t, err)
	assert.Nil(t, values)
}

func TestStopSignalInterruptsWait(t *testing.T) {
	m, _, _ := newTestManager(t)
	ec := types.NewExecutionContext()
	stop := types.NewStopSignal()
	ec.BindStop(stop)

	go func() {
		time.Sleep(30 * time.Millisecond)
		stop.Stop()
	}()

	_, err := m.RequestLogin(ec, "", "")
	assert.ErrorIs(t, err, types.ErrTaskInterrupted)
}

func TestRequestCaptchaExtractsValue(t *testing.T) {
	m, sink, dir := newTestManager(t)

	go respond(t, sink, dir, func(id string) response {
		return response{RequestID: id, Values: map[string]string{"captcha": "x7k9"}}
	})

	code, err := m.RequestCaptcha(types.NewExecutionContext(), "data:image/png;base64,...", "example.com", "")
	require.NoError(t, err)
	assert.Equal(t, "x7k9", code)
}

func TestRequestQRLoginConfirmation(t *testing.T) {
	m, sink, dir := newTestManager(t)

	go respond(t, sink, dir, func(id string) response {
		return response{RequestID: id, Values: map[string]string{}}
	})

	ok, err := m.RequestQRLogin(types.NewExecutionContext(), "qr.png", "", "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEmailConfigDefaultsInFields(t *testing.T) {
	m, sink, dir := newTestManager(t)

	go respond(t, sink, dir, func(id string) response {
		return response{RequestID: id, Values: map[string]string{"sender_email": "a@b.c"}}
	})

	_, err := m.RequestEmailConfig(types.NewExecutionContext(), "", 0, "")
	require.NoError(t, err)

	reqs := sink.byType(events.RequestInput)
	require.Len(t, reqs, 1)
	fields, _ := reqs[0].Data["fields"].([]interface{})
	require.Len(t, fields, 4)

	var smtpDefault, portDefault string
	for _, f := range fields {
		field := f.(map[string]interface{})
		switch field["name"] {
		case "smtp_server":
			smtpDefault, _ = field["value"].(string)
		case "smtp_port":
			portDefault, _ = field["value"].(string)
		}
	}
	assert.Equal(t, "smtp.gmail.com", smtpDefault)
	assert.Equal(t, "587", portDefault)
}
