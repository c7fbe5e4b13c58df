package transcribe

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/cypherdesk/cypher/internal/env"
)

var caBundles = []string{
	"/etc/ssl/cert.pem",
	"/etc/ssl/certs/ca-certificates.crt",
	"/etc/pki/tls/certs/ca-bundle.crt",
	"/usr/local/etc/openssl/cert.pem",
	"/opt/homebrew/etc/openssl@3/cert.pem",
}

// Overlay builds the engine environment from base ("K=V" list, nil means the
// host environment).
func Overlay(base []string, eng *Engine, ffmpeg string) []string {
	e := env.New()
	if base == nil {
		e.FromOS()
	} else {
		e.FromList(base)
	}
	if _, ok := e.Lookup("SSL_CERT_FILE"); !ok {
		if ca := firstExisting(caBundles); ca != "" {
			e.Set("SSL_CERT_FILE", ca)
		}
	}
	if eng != nil && eng.LibDir != "" {
		if k := libraryPathVar(runtime.GOOS); k != "" {
			e.PrependList(k, eng.LibDir)
		}
	}
	if ffmpeg != "" && filepath.IsAbs(ffmpeg) {
		e.PrependList("PATH", filepath.Dir(ffmpeg))
	}
	e.Set("PYTHONUNBUFFERED", "1")
	e.Set("PYTHONIOENCODING", "utf-8")
	e.Set("TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD", "1")
	return e.Merge(nil)
}

func libraryPathVar(goos string) string {
	switch goos {
	case "darwin":
		return "DYLD_FALLBACK_LIBRARY_PATH"
	case "linux":
		return "LD_LIBRARY_PATH"
	}
	return ""
}

func firstExisting(paths []string) string {
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}
