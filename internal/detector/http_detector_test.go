package detector

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPDetectorReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" || r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"models":["llama3"]}`))
	}))
	defer srv.Close()

	d := HTTPDetector{BaseURL: srv.URL + "/"}
	ok, err := d.Alive()
	if err != nil || !ok {
		t.Fatalf("expected alive, got %v %v", ok, err)
	}
	if d.Describe() != "http:"+srv.URL+"/models" {
		t.Fatalf("unexpected describe: %s", d.Describe())
	}
}

func TestHTTPDetectorUnreachableOutcomes(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json"))
	}))
	defer bad.Close()
	fail := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	}))
	defer fail.Close()
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()

	// A closed listener gives connection refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	refused := "http://" + ln.Addr().String()
	_ = ln.Close()

	cases := map[string]HTTPDetector{
		"malformed": {BaseURL: bad.URL},
		"non-2xx":   {BaseURL: fail.URL},
		"timeout":   {BaseURL: slow.URL, Timeout: 100 * time.Millisecond},
		"refused":   {BaseURL: refused},
		"bad-url":   {BaseURL: "://nope"},
	}
	for name, d := range cases {
		start := time.Now()
		ok, err := d.Alive()
		if ok || err != nil {
			t.Fatalf("%s: expected (false, nil), got (%v, %v)", name, ok, err)
		}
		if time.Since(start) > 1500*time.Millisecond {
			t.Fatalf("%s: probe not bounded", name)
		}
	}
}
