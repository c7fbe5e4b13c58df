package transcribe

import (
	"context"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/cypherdesk/cypher/internal/locator"
	"github.com/cypherdesk/cypher/internal/process"
)

var systemFFmpeg = []string{
	"/opt/homebrew/bin/ffmpeg",
	"/usr/local/bin/ffmpeg",
	"/usr/bin/ffmpeg",
}

// ResolveFFmpeg finds the optional transcoder: override, bundled, well-known
// installs, then PATH. An empty string means no transcode step.
func ResolveFFmpeg(l *locator.Locator, override string) string {
	var cands []locator.Candidate
	cands = append(cands, locator.Override(override)...)
	if l != nil {
		for _, c := range l.Candidates(filepath.Join("ffmpeg", locator.ExecutableName("ffmpeg"))) {
			cands = append(cands, locator.Candidate{Strategy: locator.StrategyBundled, Path: c.Path})
		}
	}
	if runtime.GOOS != "windows" {
		cands = append(cands, locator.System(systemFFmpeg...)...)
	}
	if res := locator.First(cands...); res.Found {
		return res.Path
	}
	if p, err := exec.LookPath("ffmpeg"); err == nil {
		return p
	}
	return ""
}

// ffmpegArgs normalises input to mono 16 kHz PCM WAV.
func ffmpegArgs(input, output string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", input,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		output,
	}
}

// transcode converts input next to itself and returns the WAV path, or ""
// when conversion failed and the original should be used. aborted is set
// when the transcoder was terminated.
func (p *Pipeline) transcode(ctx context.Context, ffmpeg, input string, envList []string) (output string, aborted bool) {
	output = strings.TrimSuffix(input, filepath.Ext(input)) + ".norm.wav"
	res := p.run(ctx, process.Spec{
		Name: "ffmpeg",
		Path: ffmpeg,
		Args: ffmpegArgs(input, output),
		Env:  envList,
	}, &p.tracker)
	if res.Terminated {
		removeQuiet(output)
		return "", true
	}
	if !res.Success() {
		p.logger.Warn("transcode failed, using original audio",
			"exit_code", res.ExitCode, "error", res.Err, "stderr", tail(res.Stderr, 512))
		removeQuiet(output)
		return "", false
	}
	return output, false
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
