// Package bridge is the request/response surface the UI talks to: a local
// HTTP API over settings, transcription, system mapping, backend proxying
// and an event stream.
//
// Endpoints (relative to basePath):
//
//	GET  /settings              current settings
//	POST /settings              body: settings patch, returns merged settings
//	POST /stt/transcribe        body: {audio(base64), ext, model?, ...}
//	POST /stt/abort             abort the active transcription
//	POST /mapping/run           body: {client}
//	GET  /context               persisted system context
//	GET  /backend/status        supervisor status and reachability
//	GET  /models                proxied
//	POST /execute               proxied with the system context attached
//	POST /models/load           proxied
//	POST /models/unload         proxied
//	POST /shortcut/trigger      body: {accelerator}
//	GET  /events                server-sent events, query: since=<seq>
//	GET  /metrics               prometheus
//	GET  /healthz               never requires a token
//
// When an auth secret is configured every other route needs a bearer token.
package bridge

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cypherdesk/cypher/internal/auth"
	"github.com/cypherdesk/cypher/internal/backend"
	"github.com/cypherdesk/cypher/internal/events"
	"github.com/cypherdesk/cypher/internal/mapping"
	"github.com/cypherdesk/cypher/internal/metrics"
	"github.com/cypherdesk/cypher/internal/settings"
	"github.com/cypherdesk/cypher/internal/shortcut"
	"github.com/cypherdesk/cypher/internal/supervisor"
	"github.com/cypherdesk/cypher/internal/sysctx"
	"github.com/cypherdesk/cypher/internal/transcribe"
)

type SettingsService interface {
	Get() settings.Settings
	Merge(p settings.Patch) settings.Settings
}

type Transcriber interface {
	Transcribe(ctx context.Context, req transcribe.Request) transcribe.Result
	Abort() bool
}

type Mapper interface {
	Run(ctx context.Context, client sysctx.ClientInfo, onProgress func(mapping.Progress)) (mapping.Report, error)
}

type ContextLoader interface {
	Load(ctx context.Context) (sysctx.Context, error)
}

// Backend is the proxied part of the backend client.
type Backend interface {
	Models(ctx context.Context) ([]string, error)
	Execute(ctx context.Context, req backend.ExecuteRequest) (backend.ExecuteResponse, error)
	LoadModel(ctx context.Context, model string) (backend.ModelResponse, error)
	UnloadModel(ctx context.Context, model string) (backend.ModelResponse, error)
}

type StatusSource interface {
	Status() supervisor.Status
}

// Prober reports backend reachability.
type Prober interface {
	AliveContext(ctx context.Context) bool
}

type Shortcuts interface {
	Trigger(accelerator string) (shortcut.Action, bool)
}

type ResourceSource interface {
	Last() (metrics.Resources, bool)
}

type EventSource interface {
	Since(seq int64) []events.Event
	Subscribe(buffer int) (<-chan events.Event, func())
}

// Deps are the services behind the routes. Nil services answer 503.
type Deps struct {
	Settings    SettingsService
	Transcriber Transcriber
	Mapper      Mapper
	Context     ContextLoader
	Backend     Backend
	Supervisor  StatusSource
	Prober      Prober
	Shortcuts   Shortcuts
	Events      EventSource
	Resources   ResourceSource // optional backend resource samples
	Metrics     http.Handler
	Auth        *auth.Service // nil or secretless leaves the bridge open
	Logger      *slog.Logger
}

type Router struct {
	deps     Deps
	basePath string
	logger   *slog.Logger
}

// NewRouter constructs a Router. basePath may be empty or start with '/'.
func NewRouter(deps Deps, basePath string) *Router {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Router{deps: deps, basePath: sanitizeBase(basePath), logger: l.With("component", "bridge")}
}

// Handler returns the gin engine as an http.Handler.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.Use(r.deps.Auth.GinAuth(r.basePath + "/healthz"))
	group.GET("/healthz", func(c *gin.Context) { writeJSON(c, http.StatusOK, okResp{OK: true}) })
	group.GET("/settings", r.handleGetSettings)
	group.POST("/settings", r.handleMergeSettings)
	group.POST("/stt/transcribe", r.handleTranscribe)
	group.POST("/stt/abort", r.handleAbort)
	group.POST("/mapping/run", r.handleMappingRun)
	group.GET("/context", r.handleContext)
	group.GET("/backend/status", r.handleBackendStatus)
	group.GET("/models", r.handleModels)
	group.POST("/execute", r.handleExecute)
	group.POST("/models/load", r.handleLoadModel)
	group.POST("/models/unload", r.handleUnloadModel)
	group.POST("/shortcut/trigger", r.handleShortcut)
	group.GET("/events", r.handleEvents)
	if r.deps.Metrics != nil {
		group.GET("/metrics", gin.WrapH(r.deps.Metrics))
	}
	return g
}

// NewServer wraps handler in an http.Server. There is no write timeout:
// transcriptions, mapping runs and the event stream are long-lived.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func unavailable(c *gin.Context, what string) {
	writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: what + " unavailable"})
}
