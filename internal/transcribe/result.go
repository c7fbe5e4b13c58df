package transcribe

import (
	"strings"
)

// Request is one transcription. Zero-valued options fall back to settings.
type Request struct {
	Audio       []byte  `json:"-"`
	Ext         string  `json:"ext"`
	Model       string  `json:"model,omitempty"`
	Device      string  `json:"device,omitempty"`
	ComputeType string  `json:"computeType,omitempty"`
	Language    *string `json:"language,omitempty"` // nil: settings; "": autodetect
	BatchSize   int     `json:"batchSize,omitempty"`
}

// Result is either a transcript or an error description.
type Result struct {
	Text     string   `json:"text"`
	Language string   `json:"language,omitempty"`
	Error    string   `json:"error,omitempty"`
	RunID    string   `json:"runId,omitempty"`
	Engine   string   `json:"engine,omitempty"`   // locator strategy of the engine
	Strategy Strategy `json:"strategy,omitempty"` // how the output was parsed
}

// OK reports a successful transcription (the text may be empty for silence).
func (r Result) OK() bool { return r.Error == "" }

func errorResult(msg string) Result {
	return Result{Error: msg}
}

// fromObject maps the engine's JSON object onto a Result.
func fromObject(m map[string]any) Result {
	var r Result
	if s, ok := m["text"].(string); ok {
		r.Text = strings.TrimSpace(s)
	}
	if s, ok := m["language"].(string); ok {
		r.Language = s
	}
	if s, ok := m["error"].(string); ok && s != "" {
		r.Error = s
		r.Text = ""
	}
	return r
}
