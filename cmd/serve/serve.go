// Package serve runs the stdio protocol loop: one JSON command per line
// on stdin, one JSON event per line on stdout. stdout belongs to the
// protocol alone; all logs go to the log file and stderr.
package serve

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"deskjarvis/agent/pkg/agent"
	"deskjarvis/agent/pkg/config"
	"deskjarvis/agent/pkg/events"
	"deskjarvis/agent/pkg/logger"
	"deskjarvis/agent/pkg/orchestrator/types"
)

// maxLineBytes bounds one stdin command line.
const maxLineBytes = 1 << 20

// ServeCmd starts the agent server over stdio.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent over stdio for the desktop host",
	Long: `Run the line-oriented stdio protocol the desktop host speaks:
commands arrive as JSON lines on stdin (ping, execute, stop, shutdown),
events and results leave as JSON lines on stdout.`,
	Run: runServe,
}

// Command is one decoded stdin line. Exported for the schema tool.
type Command struct {
	Cmd         string                 `json:"cmd" jsonschema:"required,description=ping, stop, execute or shutdown"`
	ID          string                 `json:"id" jsonschema:"description=Task id, echoed on every reply"`
	Instruction string                 `json:"instruction" jsonschema:"description=User instruction for execute"`
	Context     map[string]interface{} `json:"context" jsonschema:"description=Extra execution context entries, e.g. sensitive confirmations"`
}

// Flat protocol replies. These bypass the event envelope so the field
// layout matches the host's expectations exactly.
type readyMsg struct {
	Type        string  `json:"type"`
	Timestamp   float64 `json:"timestamp"`
	StartupTime float64 `json:"startup_time"`
}

type ackMsg struct {
	Type      string  `json:"type"`
	ID        string  `json:"id"`
	Timestamp float64 `json:"timestamp"`
}

type resultMsg struct {
	Type      string           `json:"type"`
	ID        string           `json:"id"`
	Timestamp float64          `json:"timestamp"`
	Data      types.TaskResult `json:"data"`
}

type errorMsg struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// server owns the loop state: the shared stdout writer and the per-task
// stop signal registry.
type server struct {
	agent *agent.Agent
	out   *events.Writer
	log   logger.Logger

	mu    sync.Mutex
	stops map[string]*types.StopSignal
	tasks sync.WaitGroup
}

func runServe(cmd *cobra.Command, _ []string) {
	start := time.Now()

	logFile := viper.GetString("log-file")
	level := viper.GetString("log-level")
	if viper.GetBool("debug") {
		level = "debug"
	}
	log, err := logger.CreateLogger(logFile, level, viper.GetString("log-format"), true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	cfgPath := viper.GetString("config")
	if cfgPath == "" {
		cfgPath, err = config.DefaultPath()
		if err != nil {
			log.Fatalf("Cannot resolve config path: %v", err)
		}
	}

	out := events.NewWriter(os.Stdout)
	cfgManager := config.NewManager(cfgPath, log)
	if _, err := cfgManager.Load(); err != nil {
		log.Errorf("Config load failed, starting unconfigured: %v", err)
	}

	a, err := agent.New(cfgManager, out, log)
	if err != nil {
		log.Fatalf("Agent initialization failed: %v", err)
	}

	s := &server{
		agent: a,
		out:   out,
		log:   log,
		stops: make(map[string]*types.StopSignal),
	}

	startup := time.Since(start).Seconds()
	_ = out.WriteJSON(readyMsg{Type: "ready", Timestamp: nowUnix(), StartupTime: round2(startup)})
	log.Infof("Agent ready in %.1fs, entering command loop", startup)

	s.loop(cmd.Context())

	s.tasks.Wait()
	a.Shutdown()
	log.Infof("Agent shut down")
}

func (s *server) loop(ctx context.Context) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var c Command
		if err := json.Unmarshal(line, &c); err != nil {
			_ = s.out.WriteJSON(errorMsg{Type: "error", Message: fmt.Sprintf("invalid command JSON: %v", err)})
			continue
		}

		switch c.Cmd {
		case "ping":
			_ = s.out.WriteJSON(ackMsg{Type: "pong", ID: c.ID, Timestamp: nowUnix()})

		case "stop":
			s.stopTask(c.ID)
			_ = s.out.WriteJSON(ackMsg{Type: "stop_ack", ID: c.ID, Timestamp: nowUnix()})

		case "execute":
			s.startTask(ctx, c)

		case "shutdown":
			s.log.Infof("Shutdown requested")
			_ = s.out.WriteJSON(ackMsg{Type: "shutdown_ack", ID: c.ID, Timestamp: nowUnix()})
			return

		default:
			_ = s.out.WriteJSON(errorMsg{Type: "error", ID: c.ID, Message: "unknown command: " + c.Cmd})
		}
	}
	if err := scanner.Err(); err != nil {
		s.log.Errorf("stdin closed with error: %v", err)
	}
}

// stopTask trips the task's stop signal, creating it first when the stop
// command races ahead of the execute.
func (s *server) stopTask(id string) {
	s.mu.Lock()
	sig, ok := s.stops[id]
	if !ok {
		sig = types.NewStopSignal()
		s.stops[id] = sig
	}
	s.mu.Unlock()
	sig.Stop()
	s.log.Infof("Stop requested for task %s", id)
}

// startTask runs one execute command on its own goroutine so the loop
// keeps serving ping and stop while the task runs.
func (s *server) startTask(ctx context.Context, c Command) {
	if c.Instruction == "" {
		_ = s.out.WriteJSON(resultMsg{
			Type: "result", ID: c.ID, Timestamp: nowUnix(),
			Data: types.TaskResult{Success: false, Message: "instruction is empty", Steps: []types.StepOutcome{}},
		})
		return
	}

	s.mu.Lock()
	// A fresh execute for an id supersedes any stale stop state.
	sig := types.NewStopSignal()
	s.stops[c.ID] = sig
	s.mu.Unlock()

	ec := types.NewExecutionContext()
	ec.BindStop(sig)
	for k, v := range c.Context {
		ec.Set(k, v)
	}
	ec.Set("_request_id", c.ID)

	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		defer func() {
			s.mu.Lock()
			delete(s.stops, c.ID)
			s.mu.Unlock()
		}()

		result := s.agent.Execute(ctx, c.ID, c.Instruction, ec)

		// A stop that lands while the final steps run still cancels the
		// task from the host's point of view.
		if sig.Stopped() {
			result = types.TaskResult{
				Success:         false,
				Message:         "task cancelled",
				Steps:           result.Steps,
				UserInstruction: c.Instruction,
			}
		}
		if result.Steps == nil {
			result.Steps = []types.StepOutcome{}
		}

		_ = s.out.WriteJSON(resultMsg{Type: "result", ID: c.ID, Timestamp: nowUnix(), Data: result})
	}()
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}
