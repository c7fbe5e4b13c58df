package detector

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultProbeTimeout bounds a single liveness request.
const DefaultProbeTimeout = time.Second

// HTTPDetector reports a service as alive when GET <BaseURL><Path> answers
// 2xx with a JSON body within Timeout. Every failure (refused, timeout,
// non-2xx, malformed body) collapses to not alive with a nil error.
type HTTPDetector struct {
	BaseURL string
	Path    string        // default "/models"
	Timeout time.Duration // default DefaultProbeTimeout
	Client  *http.Client  // optional
}

func (d HTTPDetector) url() string {
	p := d.Path
	if p == "" {
		p = "/models"
	}
	return strings.TrimRight(d.BaseURL, "/") + p
}

func (d HTTPDetector) Alive() (bool, error) {
	return d.AliveContext(context.Background()), nil
}

// AliveContext performs the probe under ctx, further bounded by Timeout.
func (d HTTPDetector) AliveContext(ctx context.Context) bool {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url(), nil)
	if err != nil {
		return false
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false
	}
	var body any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return false
	}
	return true
}

func (d HTTPDetector) Describe() string { return "http:" + d.url() }
