package bridge

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cypherdesk/cypher/internal/backend"
	"github.com/cypherdesk/cypher/internal/mapping"
	"github.com/cypherdesk/cypher/internal/metrics"
	"github.com/cypherdesk/cypher/internal/settings"
	"github.com/cypherdesk/cypher/internal/supervisor"
	"github.com/cypherdesk/cypher/internal/sysctx"
	"github.com/cypherdesk/cypher/internal/transcribe"
)

func (r *Router) handleGetSettings(c *gin.Context) {
	if r.deps.Settings == nil {
		unavailable(c, "settings")
		return
	}
	writeJSON(c, http.StatusOK, r.deps.Settings.Get())
}

func (r *Router) handleMergeSettings(c *gin.Context) {
	if r.deps.Settings == nil {
		unavailable(c, "settings")
		return
	}
	var p settings.Patch
	if err := c.ShouldBindJSON(&p); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, r.deps.Settings.Merge(p))
}

type transcribeReq struct {
	Audio       []byte  `json:"audio"` // base64 in JSON
	Ext         string  `json:"ext"`
	Model       string  `json:"model"`
	Device      string  `json:"device"`
	ComputeType string  `json:"computeType"`
	Language    *string `json:"language"`
	BatchSize   int     `json:"batchSize"`
}

// handleTranscribe always answers 200 with a Result; failures are carried
// in its error field.
func (r *Router) handleTranscribe(c *gin.Context) {
	if r.deps.Transcriber == nil {
		unavailable(c, "transcription")
		return
	}
	var req transcribeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	res := r.deps.Transcriber.Transcribe(c.Request.Context(), transcribe.Request{
		Audio:       req.Audio,
		Ext:         req.Ext,
		Model:       req.Model,
		Device:      req.Device,
		ComputeType: req.ComputeType,
		Language:    req.Language,
		BatchSize:   req.BatchSize,
	})
	writeJSON(c, http.StatusOK, res)
}

type abortResp struct {
	OK      bool `json:"ok"`
	Aborted bool `json:"aborted"`
}

func (r *Router) handleAbort(c *gin.Context) {
	if r.deps.Transcriber == nil {
		writeJSON(c, http.StatusOK, abortResp{OK: true})
		return
	}
	writeJSON(c, http.StatusOK, abortResp{OK: true, Aborted: r.deps.Transcriber.Abort()})
}

type mappingReq struct {
	Client sysctx.ClientInfo `json:"client"`
}

type mappingResp struct {
	mapping.Report
	Error string `json:"error,omitempty"`
}

func (r *Router) handleMappingRun(c *gin.Context) {
	if r.deps.Mapper == nil {
		unavailable(c, "mapping")
		return
	}
	var req mappingReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
			return
		}
	}
	report, err := r.deps.Mapper.Run(c.Request.Context(), req.Client, nil)
	switch {
	case errors.Is(err, mapping.ErrRunning):
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
	case err != nil:
		// the merged context is still returned; only persistence failed
		writeJSON(c, http.StatusOK, mappingResp{Report: report, Error: err.Error()})
	default:
		writeJSON(c, http.StatusOK, mappingResp{Report: report})
	}
}

func (r *Router) handleContext(c *gin.Context) {
	if r.deps.Context == nil {
		unavailable(c, "context store")
		return
	}
	ctx, err := r.deps.Context.Load(c.Request.Context())
	if err != nil {
		r.logger.Warn("system context load failed", "error", err)
	}
	writeJSON(c, http.StatusOK, ctx)
}

type backendStatusResp struct {
	Status    supervisor.Status  `json:"status"`
	Reachable bool               `json:"reachable"`
	Degraded  bool               `json:"degraded"`
	Resources *metrics.Resources `json:"resources,omitempty"`
}

func (r *Router) handleBackendStatus(c *gin.Context) {
	var resp backendStatusResp
	if r.deps.Supervisor != nil {
		resp.Status = r.deps.Supervisor.Status()
	}
	if r.deps.Prober != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		resp.Reachable = r.deps.Prober.AliveContext(ctx)
		cancel()
	}
	resp.Degraded = !resp.Reachable && resp.Status.Degraded()
	if r.deps.Resources != nil && resp.Status.State == supervisor.StateRunning {
		if res, ok := r.deps.Resources.Last(); ok {
			resp.Resources = &res
		}
	}
	writeJSON(c, http.StatusOK, resp)
}

// backendError maps a backend client error. Transport failures mean the
// backend is absent and the feature is degraded.
func (r *Router) backendError(c *gin.Context, op string, err error) {
	var se *backend.StatusError
	if errors.As(err, &se) {
		writeJSON(c, http.StatusBadGateway, errorResp{Error: se.Error()})
		return
	}
	r.logger.Debug("backend unreachable", "op", op, "error", err)
	writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "backend unavailable: " + err.Error(), Degraded: true})
}

func (r *Router) noBackend(c *gin.Context) bool {
	if r.deps.Backend != nil {
		return false
	}
	writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "backend unavailable", Degraded: true})
	return true
}

type modelsResp struct {
	Models []string `json:"models"`
}

func (r *Router) handleModels(c *gin.Context) {
	if r.noBackend(c) {
		return
	}
	models, err := r.deps.Backend.Models(c.Request.Context())
	if err != nil {
		r.backendError(c, "models", err)
		return
	}
	if models == nil {
		models = []string{}
	}
	writeJSON(c, http.StatusOK, modelsResp{Models: models})
}

type executeReq struct {
	Goal      string `json:"goal"`
	UseVision bool   `json:"useVision"`
	Model     string `json:"model"`
}

func (r *Router) handleExecute(c *gin.Context) {
	if r.noBackend(c) {
		return
	}
	var req executeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Goal == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "goal required"})
		return
	}
	if req.Model == "" && r.deps.Settings != nil {
		req.Model = r.deps.Settings.Get().BackendModel
	}
	er := backend.ExecuteRequest{Goal: req.Goal, UseVision: req.UseVision, Model: req.Model}
	if r.deps.Context != nil {
		if sc, err := r.deps.Context.Load(c.Request.Context()); err == nil {
			er.SystemContext = &sc
		}
	}
	resp, err := r.deps.Backend.Execute(c.Request.Context(), er)
	if err != nil {
		r.backendError(c, "execute", err)
		return
	}
	writeJSON(c, http.StatusOK, resp)
}

type modelReq struct {
	Model string `json:"model"`
}

func (r *Router) handleLoadModel(c *gin.Context) {
	r.modelOp(c, "load-model", func(ctx context.Context, m string) (backend.ModelResponse, error) {
		return r.deps.Backend.LoadModel(ctx, m)
	})
}

func (r *Router) handleUnloadModel(c *gin.Context) {
	r.modelOp(c, "unload-model", func(ctx context.Context, m string) (backend.ModelResponse, error) {
		return r.deps.Backend.UnloadModel(ctx, m)
	})
}

func (r *Router) modelOp(c *gin.Context, op string, fn func(context.Context, string) (backend.ModelResponse, error)) {
	if r.noBackend(c) {
		return
	}
	var req modelReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Model == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "model required"})
		return
	}
	resp, err := fn(c.Request.Context(), req.Model)
	if err != nil {
		r.backendError(c, op, err)
		return
	}
	writeJSON(c, http.StatusOK, resp)
}

type shortcutReq struct {
	Accelerator string `json:"accelerator"`
}

type shortcutResp struct {
	OK     bool   `json:"ok"`
	Action string `json:"action,omitempty"`
}

func (r *Router) handleShortcut(c *gin.Context) {
	if r.deps.Shortcuts == nil {
		unavailable(c, "shortcuts")
		return
	}
	var req shortcutReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Accelerator == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "accelerator required"})
		return
	}
	action, ok := r.deps.Shortcuts.Trigger(req.Accelerator)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no action bound to " + req.Accelerator})
		return
	}
	writeJSON(c, http.StatusOK, shortcutResp{OK: true, Action: string(action)})
}
