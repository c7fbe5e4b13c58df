package env

import (
	"os"
	"strings"
	"testing"
)

func lookupKV(kvs []string, key string) (string, bool) {
	for _, kv := range kvs {
		if strings.HasPrefix(kv, key+"=") {
			return kv[len(key)+1:], true
		}
	}
	return "", false
}

func TestMergeOverlayOrder(t *testing.T) {
	e := New()
	e.FromList([]string{"A=base", "B=base", "=broken"})
	e.Set("B", "overlay")
	e.Set("C", "${A}-c")
	out := e.Merge([]string{"A=run"})

	if v, _ := lookupKV(out, "A"); v != "run" {
		t.Fatalf("A = %q, want run", v)
	}
	if v, _ := lookupKV(out, "B"); v != "overlay" {
		t.Fatalf("B = %q, want overlay", v)
	}
	if v, _ := lookupKV(out, "C"); v != "run-c" {
		t.Fatalf("C = %q, want run-c", v)
	}
	for _, kv := range out {
		if strings.HasPrefix(kv, "=") {
			t.Fatalf("empty key leaked: %q", kv)
		}
	}
}

func TestSetDefaultKeepsExisting(t *testing.T) {
	e := New()
	e.FromList([]string{"SSL_CERT_FILE=/etc/custom.pem"})
	e.SetDefault("SSL_CERT_FILE", "/etc/ssl/cert.pem")
	e.SetDefault("NEW_KEY", "x")
	out := e.Merge(nil)
	if v, _ := lookupKV(out, "SSL_CERT_FILE"); v != "/etc/custom.pem" {
		t.Fatalf("SSL_CERT_FILE overwritten: %q", v)
	}
	if v, _ := lookupKV(out, "NEW_KEY"); v != "x" {
		t.Fatalf("NEW_KEY = %q", v)
	}
}

func TestPrependListDeduplicates(t *testing.T) {
	sep := string(os.PathListSeparator)
	e := New()
	e.FromList([]string{"PATH=/usr/bin" + sep + "/bin"})
	e.PrependList("PATH", "/opt/ffmpeg", "", "/usr/bin", "/opt/ffmpeg")
	v, _ := e.Lookup("PATH")
	want := "/opt/ffmpeg" + sep + "/usr/bin" + sep + "/bin"
	if v != want {
		t.Fatalf("PATH = %q, want %q", v, want)
	}

	e.PrependList("LD_LIBRARY_PATH", "/opt/rt/lib")
	if v, _ := e.Lookup("LD_LIBRARY_PATH"); v != "/opt/rt/lib" {
		t.Fatalf("LD_LIBRARY_PATH = %q", v)
	}
}

// FuzzMerge ensures Merge never emits malformed pairs.
func FuzzMerge(f *testing.F) {
	f.Add("A=1\nB=${A}-x", "C=${B}-y")
	f.Add("FOO=bar", "FOO=${FOO}")
	f.Fuzz(func(t *testing.T, global, per string) {
		e := New()
		e.FromList(nil)
		for _, kv := range strings.Split(global, "\n") {
			if i := strings.IndexByte(kv, '='); i > 0 {
				e.Set(kv[:i], kv[i+1:])
			}
		}
		for _, kv := range e.Merge(strings.Split(per, "\n")) {
			if !strings.Contains(kv, "=") || strings.HasPrefix(kv, "=") {
				t.Fatalf("bad pair: %q", kv)
			}
		}
	})
}
