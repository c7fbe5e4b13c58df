package mapping

import "github.com/cypherdesk/cypher/internal/sysctx"

// Topic is one mapping step.
type Topic struct {
	Name    string
	Label   string
	Command string // shown when the backend does not report one
	pick    func(sysctx.BackendData) sysctx.BackendData
}

// Topics is the fixed step order.
var Topics = []Topic{
	{
		Name: "directories", Label: "Scanning directories", Command: "scan_directories --standard --user",
		pick: func(d sysctx.BackendData) sysctx.BackendData {
			return sysctx.BackendData{
				Directories:  d.Directories,
				HomeDir:      d.HomeDir,
				DocumentsDir: d.DocumentsDir,
				DownloadsDir: d.DownloadsDir,
				DesktopDir:   d.DesktopDir,
				PicturesDir:  d.PicturesDir,
				MusicDir:     d.MusicDir,
				VideosDir:    d.VideosDir,
			}
		},
	},
	{
		Name: "applications", Label: "Discovering applications", Command: "scan_applications --system --user",
		pick: func(d sysctx.BackendData) sysctx.BackendData {
			return sysctx.BackendData{Applications: d.Applications}
		},
	},
	{
		Name: "processes", Label: "Listing running processes", Command: "list_processes --limit 50",
		pick: func(d sysctx.BackendData) sysctx.BackendData {
			return sysctx.BackendData{Processes: d.Processes}
		},
	},
	{
		Name: "environment", Label: "Collecting environment", Command: "collect_env --safe",
		pick: func(d sysctx.BackendData) sysctx.BackendData {
			return sysctx.BackendData{Environment: d.Environment}
		},
	},
	{
		Name: "network", Label: "Inspecting network", Command: "inspect_network --interfaces",
		pick: func(d sysctx.BackendData) sysctx.BackendData {
			return sysctx.BackendData{Network: d.Network}
		},
	},
	{
		Name: "filesystem", Label: "Scanning filesystem", Command: "scan_filesystem --disks",
		pick: func(d sysctx.BackendData) sysctx.BackendData {
			return sysctx.BackendData{Filesystem: d.Filesystem}
		},
	},
}

// Pick keeps only the fields owned by the topic.
func (t Topic) Pick(d sysctx.BackendData) sysctx.BackendData { return t.pick(d) }

// stepPercent maps step i (0-based) of n to the 5..90 band.
func stepPercent(i, n int) int {
	if n <= 0 {
		return 5
	}
	return 5 + i*85/n
}
