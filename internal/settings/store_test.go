package settings

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestFileStoreMissingGivesDefaults(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "settings.json"))
	got, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != Defaults(runtime.GOOS) {
		t.Fatalf("got %+v", got)
	}
}

func TestFileStorePartialFileKeepsDefaults(t *testing.T) {
	p := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(p, []byte(`{"sttModel":"large-v3"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := NewFileStore(p).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := Defaults(runtime.GOOS)
	want.STTModel = "large-v3"
	if got != want {
		t.Fatalf("got %+v\nwant %+v", got, want)
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(p, []byte(`{broken`), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := NewFileStore(p).Load()
	if err == nil {
		t.Fatal("expected decode error")
	}
	if got != Defaults(runtime.GOOS) {
		t.Fatalf("corrupt file did not yield defaults: %+v", got)
	}
}

func TestFileStoreSaveRoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "nested", "settings.json")
	s := NewFileStore(p)
	in := Defaults("linux")
	in.AutoExecute = true
	in.STTLanguage = "de"
	if err := s.Save(in); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out != in {
		t.Fatalf("round trip: %+v", out)
	}
	entries, _ := os.ReadDir(filepath.Dir(p))
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}
