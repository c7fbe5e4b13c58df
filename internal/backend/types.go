package backend

import (
	"fmt"

	"github.com/cypherdesk/cypher/internal/sysctx"
)

// ExecuteRequest asks the backend to carry out a natural-language goal.
type ExecuteRequest struct {
	Goal          string          `json:"goal"`
	UseVision     bool            `json:"useVision"`
	Model         string          `json:"model"`
	SystemContext *sysctx.Context `json:"systemContext"`
	Timestamp     string          `json:"timestamp"`
}

type ExecuteResponse struct {
	Message      string        `json:"message"`
	Logs         []string      `json:"logs"`
	LiveCommands []LiveCommand `json:"liveCommands"`
}

type LiveCommand struct {
	Command   string `json:"command"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ModelRequest is the body of load-model and unload-model.
type ModelRequest struct {
	Model string `json:"model"`
}

type ModelResponse struct {
	Message string `json:"message"`
	Model   string `json:"model"`
}

type modelsResponse struct {
	Models []string `json:"models"`
}

// TopicResult is one topic-scoped mapping response. Data holds whatever
// context fields the backend returned; callers pick the ones belonging to
// the topic.
type TopicResult struct {
	Step    string             `json:"step"`
	Command string             `json:"command"`
	Data    sysctx.BackendData `json:"-"`
}

// StatusError is returned for non-2xx backend responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned HTTP %d", e.Code)
	}
	return fmt.Sprintf("backend returned HTTP %d: %s", e.Code, e.Body)
}
