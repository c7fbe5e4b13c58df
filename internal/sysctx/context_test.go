package sysctx

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestMergeNeverRegressesKnownFields(t *testing.T) {
	prev := BackendData{
		Directories: map[string]string{"home": "/home/u"},
		HomeDir:     "/home/u",
		Network:     &NetworkInfo{Interfaces: []string{"eth0"}, Hostname: "box"},
	}
	// a failed directories step contributes nothing
	var step BackendData
	if err := json.Unmarshal([]byte(`{"directories":null}`), &step); err != nil {
		t.Fatal(err)
	}
	got := Merge(prev, step)
	if !reflect.DeepEqual(got.Directories, prev.Directories) || got.HomeDir != "/home/u" {
		t.Fatalf("directories regressed: %+v", got)
	}
	if got.Network == nil || got.Network.Hostname != "box" {
		t.Fatalf("network regressed: %+v", got.Network)
	}
}

func TestMergeNewValuesWin(t *testing.T) {
	prev := BackendData{
		Applications: []string{"old"},
		Network:      &NetworkInfo{Interfaces: []string{"eth0"}, Hostname: "box"},
		Environment:  map[string]string{"A": "1"},
	}
	next := BackendData{
		Applications: []string{"new"},
		Network:      &NetworkInfo{Interfaces: []string{"wlan0"}},
	}
	got := Merge(prev, next)
	if !reflect.DeepEqual(got.Applications, []string{"new"}) {
		t.Fatalf("applications = %v", got.Applications)
	}
	if !reflect.DeepEqual(got.Network.Interfaces, []string{"wlan0"}) || got.Network.Hostname != "box" {
		t.Fatalf("network = %+v", got.Network)
	}
	if got.Environment["A"] != "1" {
		t.Fatalf("environment lost: %v", got.Environment)
	}
	// prev must not be mutated through the shared network pointer
	if prev.Network.Interfaces[0] != "eth0" {
		t.Fatal("merge mutated its input")
	}
}

func TestFillGapsOnlyEmpty(t *testing.T) {
	acc := BackendData{Applications: []string{"stepwise"}}
	extra := BackendData{
		Applications: []string{"consolidated"},
		Processes:    []ProcessInfo{{Name: "init", PID: "1"}},
	}
	got := FillGaps(acc, extra)
	if got.Applications[0] != "stepwise" {
		t.Fatalf("consolidated overwrote a stepwise field: %v", got.Applications)
	}
	if len(got.Processes) != 1 {
		t.Fatalf("gap not filled: %+v", got.Processes)
	}
}

func TestEmpty(t *testing.T) {
	if !(BackendData{}).Empty() {
		t.Fatal("zero value not empty")
	}
	if !(BackendData{Network: &NetworkInfo{}, Filesystem: &FilesystemInfo{}}).Empty() {
		t.Fatal("empty nested values reported as data")
	}
	if (BackendData{MusicDir: "/m"}).Empty() {
		t.Fatal("field not detected")
	}
}

func TestMergeClient(t *testing.T) {
	prev := ClientInfo{Platform: "darwin", Language: "en"}
	got := MergeClient(prev, ClientInfo{Language: "de", Screen: &Screen{Width: 1, Height: 2}})
	if got.Platform != "darwin" || got.Language != "de" || got.Screen == nil {
		t.Fatalf("client = %+v", got)
	}
}
