package client

import (
	"github.com/cypherdesk/cypher/internal/mapping"
	"github.com/cypherdesk/cypher/internal/settings"
	"github.com/cypherdesk/cypher/internal/supervisor"
	"github.com/cypherdesk/cypher/internal/sysctx"
	"github.com/cypherdesk/cypher/internal/transcribe"
)

// Wire types shared with the bridge.
type (
	Settings      = settings.Settings
	SettingsPatch = settings.Patch
	Result        = transcribe.Result
	Report        = mapping.Report
	SystemContext = sysctx.Context
	ClientInfo    = sysctx.ClientInfo
)

// TranscribeRequest is the body of POST /stt/transcribe.
type TranscribeRequest struct {
	Audio       []byte  `json:"audio"`
	Ext         string  `json:"ext"`
	Model       string  `json:"model,omitempty"`
	Device      string  `json:"device,omitempty"`
	ComputeType string  `json:"computeType,omitempty"`
	Language    *string `json:"language,omitempty"`
	BatchSize   int     `json:"batchSize,omitempty"`
}

// BackendStatus is the body of GET /backend/status.
type BackendStatus struct {
	Status    supervisor.Status `json:"status"`
	Reachable bool              `json:"reachable"`
	Degraded  bool              `json:"degraded"`
}

// MappingResult is a mapping report; Error is set when the run finished but
// its snapshot could not be persisted.
type MappingResult struct {
	Report
	Error string `json:"error,omitempty"`
}

type AbortResponse struct {
	OK      bool `json:"ok"`
	Aborted bool `json:"aborted"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error    string `json:"error"`
	Degraded bool   `json:"degraded,omitempty"`
}
