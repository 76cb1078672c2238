// Package agent assembles the kernel: configuration, model, embedding,
// memory, executors and the per-task orchestration pipeline behind one
// facade the server loop drives.
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"deskjarvis/agent/internal/llm"
	"deskjarvis/agent/internal/llmtypes"
	"deskjarvis/agent/pkg/config"
	"deskjarvis/agent/pkg/embedding"
	"deskjarvis/agent/pkg/events"
	"deskjarvis/agent/pkg/executors"
	"deskjarvis/agent/pkg/history"
	"deskjarvis/agent/pkg/intent"
	"deskjarvis/agent/pkg/logger"
	"deskjarvis/agent/pkg/memory"
	"deskjarvis/agent/pkg/orchestrator"
	"deskjarvis/agent/pkg/orchestrator/planner"
	"deskjarvis/agent/pkg/orchestrator/reflector"
	"deskjarvis/agent/pkg/orchestrator/types"
	"deskjarvis/agent/pkg/schedule"
	"deskjarvis/agent/pkg/security"
	"deskjarvis/agent/pkg/userinput"
	"deskjarvis/agent/pkg/workflow"
)

// Agent owns the long-lived components. One Agent serves the whole
// process; orchestrators are created per task.
type Agent struct {
	cfgManager *config.Manager
	log        logger.Logger
	out        events.Emitter

	dataDir     string
	sandboxPath string

	embedding *embedding.Service
	router    *intent.Router
	memory    *memory.Manager
	workflows *workflow.Store
	history   *history.Store
	scheduler *schedule.Scheduler
	userInput *userinput.Manager
	registry  *orchestrator.Registry
	bridges   []*executors.MCPBridge

	mu        sync.RWMutex
	model     llmtypes.Model
	planner   *planner.Planner
	reflector *reflector.Reflector
}

// New builds the agent from a loaded configuration. out receives every
// host-facing event; pass the server loop's stdout writer.
func New(cfgManager *config.Manager, out events.Emitter, log logger.Logger) (*Agent, error) {
	cfg := cfgManager.Current()
	if cfg == nil {
		loaded, err := cfgManager.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = loaded
	}

	dataDir, err := config.Dir()
	if err != nil {
		return nil, err
	}
	sandboxPath := cfg.SandboxPath
	if sandboxPath == "" {
		sandboxPath = config.DefaultSandboxPath()
	}

	a := &Agent{
		cfgManager:  cfgManager,
		log:         log,
		out:         out,
		dataDir:     dataDir,
		sandboxPath: sandboxPath,
	}

	a.embedding = embedding.Shared(embedding.Config{
		Provider: cfg.Embedding.Provider,
		Model:    cfg.Embedding.Model,
		APIKey:   cfg.Embedding.APIKey,
		BaseURL:  cfg.Embedding.BaseURL,
		Offline:  cfg.Embedding.Offline,
	}, log)
	a.embedding.StartLoading()

	a.router = intent.NewRouter(a.embedding, log)

	a.memory, err = memory.NewManager(dataDir, a.embedding, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize memory: %w", err)
	}
	a.workflows, err = workflow.NewStore(dataDir, log)
	if err != nil {
		return nil, err
	}
	a.history, err = history.NewStore(dataDir, log)
	if err != nil {
		return nil, err
	}
	a.scheduler, err = schedule.NewScheduler(dataDir, log)
	if err != nil {
		return nil, err
	}
	a.userInput = userinput.NewManager(dataDir, out, log)

	if err := a.applyConfig(cfg); err != nil {
		// A broken model config must not kill the process; planning will
		// fail per task until the host fixes config.json.
		log.Errorf("Model initialization failed: %v", err)
	}
	cfgManager.OnChange(func(updated *config.Config) {
		if err := a.applyConfig(updated); err != nil {
			log.Errorf("Config reload failed: %v", err)
		} else {
			log.Infof("Configuration reloaded, provider %s model %s", updated.Provider, updated.Model)
		}
	})
	cfgManager.Watch()

	a.registry = a.buildRegistry(cfg, log)

	a.scheduler.Start(func(command string) {
		// Reminder commands re-enter the pipeline as scheduled tasks.
		result := a.Execute(context.Background(), fmt.Sprintf("reminder_%d", time.Now().UnixMilli()), command, nil)
		log.Infof("Scheduled command %q finished, success=%v", command, result.Success)
	}, nil)

	return a, nil
}

// applyConfig swaps the model-bound components. Safe to call on hot
// reload; in-flight tasks keep the instances they started with.
func (a *Agent) applyConfig(cfg *config.Config) error {
	provider := llm.Provider(cfg.Provider)
	modelID := cfg.Model
	if modelID == "" {
		modelID = llm.DefaultModelForProvider(provider)
	}
	model, err := llm.InitializeLLM(llm.Config{
		Provider:    provider,
		ModelID:     modelID,
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Temperature: cfg.Temperature,
		Logger:      a.log,
	})
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.model = model
	a.planner = planner.New(model, planner.Config{Temperature: cfg.Temperature}, a.log)
	a.reflector = reflector.New(model, reflector.Config{
		SandboxPath:   a.sandboxPath,
		VisionCapable: modelSupportsVision(modelID),
	}, a.log)
	return nil
}

// buildRegistry binds one executor per family. Families with an MCP
// command in config.json get a bridge; system_tools always carries the
// native local chain in front of its backend.
func (a *Agent) buildRegistry(cfg *config.Config, log logger.Logger) *orchestrator.Registry {
	reg := orchestrator.NewRegistry(log)

	backend := func(family string) types.Executor {
		ec, ok := cfg.Executors[family]
		if !ok || ec.MCPCommand == "" {
			return executors.NewUnsupported(family)
		}
		bridge := executors.NewMCPBridge(family, ec.MCPCommand, ec.MCPArgs, nil, log)
		a.bridges = append(a.bridges, bridge)
		return bridge
	}

	reg.Bind(types.FamilyFileManager, backend(types.FamilyFileManager))
	reg.Bind(types.FamilyBrowser, backend(types.FamilyBrowser))
	reg.Bind(types.FamilyEmail, backend(types.FamilyEmail))

	auditor := security.NewAuditor(a.sandboxPath, log)
	gate := executors.NewScriptGate(auditor, nil, backend(types.FamilySystemTools), log)
	local := executors.NewLocal(a.scheduler, a.workflows, a.history, a.runSubInstruction, gate, log)
	reg.Bind(types.FamilySystemTools, local)

	return reg
}

// runSubInstruction lets workflow_run and reminder commands re-enter the
// pipeline inside an existing task.
func (a *Agent) runSubInstruction(ctx context.Context, instruction string, ec *types.ExecutionContext) types.TaskResult {
	o := a.newOrchestrator(events.Discard)
	return o.Run(ctx, instruction, ec)
}

func (a *Agent) newOrchestrator(emitter events.Emitter) *orchestrator.Orchestrator {
	a.mu.RLock()
	pl := a.planner
	rf := a.reflector
	a.mu.RUnlock()

	var analyzer orchestrator.FailureAnalyzer
	if rf != nil {
		analyzer = rf
	}
	ex := orchestrator.NewPlanExecutor(a.registry, analyzer, emitter, a.log)
	return orchestrator.NewOrchestrator(a.router, pl, ex, a.memory, a.workflows, a.embedding, emitter, a.log)
}

// UserInput exposes the input side channel to executors that need it.
func (a *Agent) UserInput() *userinput.Manager { return a.userInput }

// Execute runs one instruction to completion, streaming filtered events
// tagged with taskID. ec may be nil.
func (a *Agent) Execute(ctx context.Context, taskID string, instruction string, ec *types.ExecutionContext) types.TaskResult {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return types.TaskResult{Success: false, Message: "instruction is empty"}
	}
	if ec == nil {
		ec = types.NewExecutionContext()
	}

	a.mu.RLock()
	ready := a.planner != nil
	a.mu.RUnlock()
	if !ready {
		return types.TaskResult{
			Success:         false,
			Message:         "no model configured; set provider and api_key in config.json",
			UserInstruction: instruction,
		}
	}

	filtered := NewFilter(taskID, a.out)
	o := a.newOrchestrator(filtered)

	start := time.Now()
	result := o.Run(ctx, instruction, ec)
	duration := time.Since(start)

	a.record(instruction, result, duration)
	reflector.PruneScreenshots(a.sandboxPath, a.log)
	return result
}

// record writes the finished task into history and queues the memory
// save. Both are fire-and-forget bookkeeping.
func (a *Agent) record(instruction string, result types.TaskResult, duration time.Duration) {
	a.history.AddTask(instruction, result.Success, len(result.Steps), duration)

	steps := make([]types.Step, 0, len(result.Steps))
	var files []string
	for _, outcome := range result.Steps {
		steps = append(steps, outcome.Step)
		for _, key := range []string{"path", "file_path", "save_path", "destination"} {
			if v, ok := outcome.Step.Params[key].(string); ok && v != "" {
				files = append(files, v)
			}
		}
	}

	a.memory.EnqueueSave(memory.SaveTask{
		Instruction:   instruction,
		Steps:         steps,
		Result:        map[string]interface{}{"success": result.Success, "message": result.Message},
		Success:       result.Success,
		Duration:      duration.Seconds(),
		FilesInvolved: files,
	})
}

// Shutdown drains the memory queue and stops background workers.
func (a *Agent) Shutdown() {
	a.scheduler.Stop()
	a.memory.Shutdown()
	for _, b := range a.bridges {
		b.Close()
	}
}

// modelSupportsVision guesses multimodality from the model id. Wrong
// guesses degrade gracefully: the reflector just skips screenshots.
func modelSupportsVision(modelID string) bool {
	lowered := strings.ToLower(modelID)
	for _, marker := range []string{"gpt-4o", "gpt-4.1", "claude", "gemini", "vision", "-vl", "qwen-vl", "grok-2-vision"} {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}
