// Package sysctx models the system context: what the shell knows about the
// host machine, accumulated from the client and from backend mapping runs.
package sysctx

import (
	"os"
	"runtime"
	"time"
)

// SchemaVersion is written into every persisted context.
const SchemaVersion = 2

// Source records where the backend part of a context came from.
type Source string

const (
	SourceBackend    Source = "backend"     // backend data gathered in the latest run
	SourceClientOnly Source = "client-only" // no backend data ever
	SourceFallback   Source = "fallback"    // latest run failed, prior backend data kept
)

// Context is the persisted system context document.
type Context struct {
	Client  ClientInfo  `json:"client"`
	Backend BackendData `json:"backend"`
	Meta    Meta        `json:"meta"`
}

// Meta is provenance metadata.
type Meta struct {
	MappedAt time.Time `json:"mappedAt"`
	Version  int       `json:"version"`
	Source   Source    `json:"source"`
}

// ClientInfo is host data observable without the backend.
type ClientInfo struct {
	Platform  string  `json:"platform,omitempty"`
	Arch      string  `json:"arch,omitempty"`
	Hostname  string  `json:"hostname,omitempty"`
	Language  string  `json:"language,omitempty"`
	Timezone  string  `json:"timezone,omitempty"`
	UserAgent string  `json:"userAgent,omitempty"`
	Screen    *Screen `json:"screen,omitempty"`
}

type Screen struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// BackendData is what the backend observed. Every field is optional; an
// empty field means "unknown", never "known to be empty".
type BackendData struct {
	Directories  map[string]string `json:"directories,omitempty"`
	HomeDir      string            `json:"homeDir,omitempty"`
	DocumentsDir string            `json:"documentsDir,omitempty"`
	DownloadsDir string            `json:"downloadsDir,omitempty"`
	DesktopDir   string            `json:"desktopDir,omitempty"`
	PicturesDir  string            `json:"picturesDir,omitempty"`
	MusicDir     string            `json:"musicDir,omitempty"`
	VideosDir    string            `json:"videosDir,omitempty"`
	Applications []string          `json:"applications,omitempty"`
	Processes    []ProcessInfo     `json:"processes,omitempty"`
	Environment  map[string]string `json:"environment,omitempty"`
	Network      *NetworkInfo      `json:"network,omitempty"`
	Filesystem   *FilesystemInfo   `json:"filesystem,omitempty"`
}

type ProcessInfo struct {
	Name string `json:"name"`
	PID  string `json:"pid"`
}

type NetworkInfo struct {
	Interfaces []string `json:"interfaces,omitempty"`
	Hostname   string   `json:"hostname,omitempty"`
}

type FilesystemInfo struct {
	Drives []DriveInfo `json:"drives,omitempty"`
}

type DriveInfo struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Available string `json:"available"`
	Total     string `json:"total"`
}

// Empty reports whether no field carries data.
func (b BackendData) Empty() bool {
	return len(b.Directories) == 0 &&
		b.HomeDir == "" && b.DocumentsDir == "" && b.DownloadsDir == "" &&
		b.DesktopDir == "" && b.PicturesDir == "" && b.MusicDir == "" && b.VideosDir == "" &&
		len(b.Applications) == 0 && len(b.Processes) == 0 && len(b.Environment) == 0 &&
		b.Network.empty() && b.Filesystem.empty()
}

func (n *NetworkInfo) empty() bool {
	return n == nil || (len(n.Interfaces) == 0 && n.Hostname == "")
}

func (f *FilesystemInfo) empty() bool {
	return f == nil || len(f.Drives) == 0
}

// Merge returns next layered over prev field by field: non-empty fields of
// next win, empty ones keep prev. A failed or partial result can never erase
// a previously known field.
func Merge(prev, next BackendData) BackendData {
	out := prev
	if len(next.Directories) > 0 {
		out.Directories = next.Directories
	}
	out.HomeDir = str(prev.HomeDir, next.HomeDir)
	out.DocumentsDir = str(prev.DocumentsDir, next.DocumentsDir)
	out.DownloadsDir = str(prev.DownloadsDir, next.DownloadsDir)
	out.DesktopDir = str(prev.DesktopDir, next.DesktopDir)
	out.PicturesDir = str(prev.PicturesDir, next.PicturesDir)
	out.MusicDir = str(prev.MusicDir, next.MusicDir)
	out.VideosDir = str(prev.VideosDir, next.VideosDir)
	if len(next.Applications) > 0 {
		out.Applications = next.Applications
	}
	if len(next.Processes) > 0 {
		out.Processes = next.Processes
	}
	if len(next.Environment) > 0 {
		out.Environment = next.Environment
	}
	if !next.Network.empty() {
		n := NetworkInfo{}
		if prev.Network != nil {
			n = *prev.Network
		}
		if len(next.Network.Interfaces) > 0 {
			n.Interfaces = next.Network.Interfaces
		}
		n.Hostname = str(n.Hostname, next.Network.Hostname)
		out.Network = &n
	}
	if !next.Filesystem.empty() {
		out.Filesystem = next.Filesystem
	}
	return out
}

// FillGaps fills only the empty fields of acc from extra.
func FillGaps(acc, extra BackendData) BackendData {
	return Merge(extra, acc)
}

// MergeClient layers non-empty client fields over prev.
func MergeClient(prev, next ClientInfo) ClientInfo {
	out := prev
	out.Platform = str(prev.Platform, next.Platform)
	out.Arch = str(prev.Arch, next.Arch)
	out.Hostname = str(prev.Hostname, next.Hostname)
	out.Language = str(prev.Language, next.Language)
	out.Timezone = str(prev.Timezone, next.Timezone)
	out.UserAgent = str(prev.UserAgent, next.UserAgent)
	if next.Screen != nil {
		out.Screen = next.Screen
	}
	return out
}

func str(prev, next string) string {
	if next != "" {
		return next
	}
	return prev
}

// HostInfo is the client info observable from this process, used when the
// shell maps on its own rather than on behalf of the UI.
func HostInfo() ClientInfo {
	host, _ := os.Hostname()
	return ClientInfo{
		Platform: runtime.GOOS,
		Arch:     runtime.GOARCH,
		Hostname: host,
		Timezone: time.Now().Location().String(),
	}
}
