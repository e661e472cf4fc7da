package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/harunnryd/kokoro/internal/cogobj"
	"github.com/harunnryd/kokoro/internal/config"
	"github.com/harunnryd/kokoro/internal/dispatch"
	"github.com/harunnryd/kokoro/internal/form"
	"github.com/harunnryd/kokoro/internal/graph"
	"github.com/harunnryd/kokoro/internal/intent"
	"github.com/harunnryd/kokoro/internal/memory"
	"github.com/harunnryd/kokoro/internal/model"
	"github.com/harunnryd/kokoro/internal/scheduler"
	"github.com/harunnryd/kokoro/internal/store"
	"github.com/harunnryd/kokoro/internal/toolhost"
	"github.com/harunnryd/kokoro/internal/vector"
)

// defaultSystemPrompt is the persona used when no prompt is configured. It
// matches the tone the reasoning node's format instructions are written for.
const defaultSystemPrompt = "You are Kokoro, a warm and attentive conversational companion. " +
	"You remember what the user tells you, notice how they feel, and adapt your tone to match. " +
	"Answer in the user's language. Keep replies natural and conversational, not clinical."

// RuntimeComponents holds every long-lived piece of the engine, built in
// dependency order and torn down in reverse.
type RuntimeComponents struct {
	Ctx    context.Context
	Cancel context.CancelFunc

	Config *config.Config

	FileLock *store.FileLock
	Store    *store.Store
	Router   *model.DefaultRouter

	LongTerm *memory.LongTermManager
	Plans    *memory.PlanManager
	Working  *memory.WorkingManager
	Recaller *memory.Recaller

	CogObjects *cogobj.Registry

	Recognizer *intent.Recognizer

	HostRegistry *toolhost.Registry
	Hosts        *toolhost.Manager
	Executor     *toolhost.Executor

	Pending     *form.PendingTable
	FormHandler *form.Handler

	Runner     *graph.Runner
	Vectors    *vector.Service
	Scheduler  *scheduler.Scheduler
	Dispatcher *dispatch.Dispatcher
}

func NewRuntimeComponents(ctx context.Context, cfg *config.Config) (*RuntimeComponents, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)

	r := &RuntimeComponents{
		Ctx:    ctx,
		Cancel: cancel,
		Config: cfg,
	}

	dataDir := filepath.Dir(cfg.Store.Path)

	busyTimeout, err := config.DurationOrDefault(cfg.Store.BusyTimeout, config.DefaultStoreBusyTimeout)
	if err != nil {
		r.cleanup()
		return nil, fmt.Errorf("parse store.busy_timeout: %w", err)
	}

	lock, err := store.AcquireFileLock(dataDir, busyTimeout)
	if err != nil {
		r.cleanup()
		return nil, fmt.Errorf("acquire data dir lock: %w", err)
	}
	r.FileLock = lock

	s, err := store.Open(cfg.Store.Path, busyTimeout)
	if err != nil {
		r.cleanup()
		return nil, fmt.Errorf("open store: %w", err)
	}
	r.Store = s

	router, err := model.NewRouter(cfg.Models)
	if err != nil {
		r.cleanup()
		return nil, fmt.Errorf("init model router: %w", err)
	}
	r.Router = router

	r.LongTerm = memory.NewLongTermManager(s, cfg.Memory.MaxEntries, cfg.Memory.EvictThreshold)
	r.Plans = memory.NewPlanManager(s)
	r.Working = memory.NewWorkingManager(s)
	r.Recaller = memory.NewRecaller(s, cfg.Memory.RecallLimit, cfg.Memory.CandidateCeiling)

	r.CogObjects = cogobj.NewRegistry(s)

	r.Recognizer = intent.NewRecognizer(router, cfg.Models.Model, cfg.Intent.LLMThreshold)

	stopGrace, err := config.DurationOrDefault(cfg.ToolHost.StopGrace, config.DefaultToolHostStopGrace)
	if err != nil {
		r.cleanup()
		return nil, fmt.Errorf("parse toolhost.stop_grace: %w", err)
	}
	execTimeout, err := config.DurationOrDefault(cfg.ToolHost.ExecTimeout, config.DefaultToolHostExecTimeout)
	if err != nil {
		r.cleanup()
		return nil, fmt.Errorf("parse toolhost.exec_timeout: %w", err)
	}

	r.HostRegistry = toolhost.NewRegistry(s)
	r.Hosts = toolhost.NewManager(r.HostRegistry, stopGrace)
	r.Executor = toolhost.NewExecutor(r.Hosts, execTimeout)

	formTTL, err := config.DurationOrDefault(cfg.Form.TTL, config.DefaultFormTTL)
	if err != nil {
		r.cleanup()
		return nil, fmt.Errorf("parse form.ttl: %w", err)
	}
	r.Pending = form.NewPendingTable(formTTL)
	r.FormHandler = form.NewHandler(r.Pending, r.LongTerm, r.Plans, r.Working)

	r.Runner = graph.NewRunner(graph.RunnerParams{
		Store:        s,
		Recognizer:   r.Recognizer,
		Recaller:     r.Recaller,
		Working:      r.Working,
		LongTerm:     r.LongTerm,
		Router:       router,
		Hosts:        r.Hosts,
		Executor:     r.Executor,
		Pending:      r.Pending,
		ModelName:    cfg.Models.Model,
		SystemPrompt: defaultSystemPrompt,
		FormTTL:      formTTL,
		OuterLimit:   cfg.Graph.MaxOuterCycles,
		InnerLimit:   cfg.Graph.MaxReasoningCalls,
		Features: &graph.Features{
			MemoryEmotion:     cfg.Features.UseMemoryEmotionSystem,
			HITL:              cfg.Features.UseHITLSystem,
			IntentRecognition: cfg.Features.UseIntentRecognition,
		},
	})

	vectors, err := vector.Open(dataDir, cfg.Vector.Collection, cfg.Vector.ExportPath, router)
	if err != nil {
		// Vector search is an auxiliary surface; the engine runs without it.
		slog.Warn("Vector service unavailable", "error", err)
	} else {
		r.Vectors = vectors
	}

	r.Scheduler = scheduler.New(r.Plans, cfg.Scheduler.DuePlanLimit, nil)

	r.Dispatcher = dispatch.New(dispatch.Params{
		Store:       s,
		Runner:      r.Runner,
		FormHandler: r.FormHandler,
		Pending:     r.Pending,
		Hosts:       r.Hosts,
		Registry:    r.HostRegistry,
		Vectors:     r.Vectors,
		CogObjects:  r.CogObjects,
		LongTerm:    r.LongTerm,

		Live2DDir:        cfg.Assets.Live2DDir,
		MemoryExportPath: filepath.Join(dataDir, "longterm_export.json"),
		EventBuffer:      cfg.Graph.EventBuffer,
		Port:             cfg.Server.Port,
	})

	return r, nil
}

// Start brings up the background pieces: enabled tool hosts, the plan
// scheduler, and the HTTP listener.
func (r *RuntimeComponents) Start() error {
	r.Hosts.StartEnabled()

	if r.Config.Scheduler.Enabled {
		if err := r.Scheduler.Start(r.Config.Scheduler.CronSpec); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	r.Dispatcher.Start()
	slog.Info("Kokoro is up", "port", r.Config.Server.Port)
	return nil
}

func (r *RuntimeComponents) Stop() {
	slog.Info("Stopping runtime components...")

	r.Cancel()

	if r.Dispatcher != nil {
		shutdownTimeout, err := config.DurationOrDefault(
			r.Config.Server.ShutdownTimeout, config.DefaultServerShutdownTimeout)
		if err != nil {
			shutdownTimeout = 0
		}
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := r.Dispatcher.Stop(ctx); err != nil {
			slog.Warn("Failed to stop dispatcher", "error", err)
		}
		cancel()
	}

	if r.Scheduler != nil {
		r.Scheduler.Stop()
	}

	if r.Hosts != nil {
		r.Hosts.StopAll()
	}

	if r.Store != nil {
		if err := r.Store.Close(); err != nil {
			slog.Warn("Failed to close store", "error", err)
		}
	}

	if r.FileLock != nil {
		r.FileLock.Unlock()
	}

	slog.Info("Runtime components stopped")
}

func (r *RuntimeComponents) cleanup() {
	slog.Debug("Cleaning up runtime components...")
	r.Stop()
}
