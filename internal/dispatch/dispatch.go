// Package dispatch is the HTTP surface: the turn endpoint with its
// server-sent event stream, the form answer endpoint, and the admin and
// collaborator APIs around them.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/harunnryd/kokoro/internal/cogobj"
	"github.com/harunnryd/kokoro/internal/concurrency"
	"github.com/harunnryd/kokoro/internal/form"
	"github.com/harunnryd/kokoro/internal/graph"
	"github.com/harunnryd/kokoro/internal/memory"
	"github.com/harunnryd/kokoro/internal/store"
	"github.com/harunnryd/kokoro/internal/toolhost"
	"github.com/harunnryd/kokoro/internal/vector"
)

// Dispatcher wires the engine's components behind HTTP handlers.
type Dispatcher struct {
	store       *store.Store
	runner      *graph.Runner
	formHandler *form.Handler
	pending     *form.PendingTable
	locks       *concurrency.SimpleSessionLockManager
	hosts       *toolhost.Manager
	registry    *toolhost.Registry
	vectors     *vector.Service
	cogObjects  *cogobj.Registry
	longTerm    *memory.LongTermManager

	live2dDir        string
	memoryExportPath string
	eventBuffer      int
	server           *http.Server
}

// Params wires a Dispatcher. Vectors and Live2DDir may be empty; their
// endpoints then answer 503 and 404 respectively.
type Params struct {
	Store       *store.Store
	Runner      *graph.Runner
	FormHandler *form.Handler
	Pending     *form.PendingTable
	Hosts       *toolhost.Manager
	Registry    *toolhost.Registry
	Vectors     *vector.Service
	CogObjects  *cogobj.Registry
	LongTerm    *memory.LongTermManager

	Live2DDir        string
	MemoryExportPath string
	EventBuffer      int
	Port             int
}

func New(p Params) *Dispatcher {
	if p.EventBuffer <= 0 {
		p.EventBuffer = 32
	}
	d := &Dispatcher{
		store:       p.Store,
		runner:      p.Runner,
		formHandler: p.FormHandler,
		pending:     p.Pending,
		locks:       concurrency.NewSimpleSessionLockManager(),
		hosts:       p.Hosts,
		registry:    p.Registry,
		vectors:     p.Vectors,
		cogObjects:  p.CogObjects,
		longTerm:    p.LongTerm,

		live2dDir:        p.Live2DDir,
		memoryExportPath: p.MemoryExportPath,
		eventBuffer:      p.EventBuffer,
	}
	d.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", p.Port),
		Handler: d.Routes(),
	}
	return d
}

// Routes builds the full handler tree.
func (d *Dispatcher) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /task", d.handleTask)
	mux.HandleFunc("POST /answer", d.handleAnswer)

	mux.HandleFunc("GET /sessions", d.handleListSessions)
	mux.HandleFunc("GET /sessions/{id}/messages", d.handleListSessionMessages)
	mux.HandleFunc("DELETE /sessions/{id}", d.handleDeleteSession)

	mux.HandleFunc("GET /toolhosts", d.handleListToolHosts)
	mux.HandleFunc("POST /toolhosts/{name}/start", d.handleToolHostAction)
	mux.HandleFunc("POST /toolhosts/{name}/stop", d.handleToolHostAction)
	mux.HandleFunc("POST /toolhosts/{name}/restart", d.handleToolHostAction)

	mux.HandleFunc("POST /generate", d.handleVectorGenerate)
	mux.HandleFunc("POST /search", d.handleVectorSearch)
	mux.HandleFunc("POST /compare", d.handleVectorCompare)
	mux.HandleFunc("POST /documents", d.handleVectorDocuments)
	mux.HandleFunc("GET /delete", d.handleVectorDelete)
	mux.HandleFunc("POST /export", d.handleExport)

	mux.HandleFunc("POST /cogobjects", d.handleCogObjectCreate)
	mux.HandleFunc("GET /cogobjects", d.handleCogObjectList)
	mux.HandleFunc("GET /cogobjects/{id}", d.handleCogObjectGet)
	mux.HandleFunc("PATCH /cogobjects/{id}", d.handleCogObjectUpdate)
	mux.HandleFunc("POST /cogobjects/{id}/transition", d.handleCogObjectTransition)
	mux.HandleFunc("POST /cogobjects/{id}/link", d.handleCogObjectLink)

	mux.HandleFunc("GET /live2d/", d.handleLive2D)

	return mux
}

// Start serves in a goroutine.
func (d *Dispatcher) Start() {
	concurrency.SafeGo(func() {
		slog.Info("Starting dispatcher", "addr", d.server.Addr)
		if err := d.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Dispatcher failed", "error", err)
		}
	}, nil)
}

// Stop shuts the server down gracefully.
func (d *Dispatcher) Stop(ctx context.Context) error {
	return d.server.Shutdown(ctx)
}
