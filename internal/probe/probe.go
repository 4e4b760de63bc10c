// Package probe invokes an external multimedia tool to measure segment
// duration and audio loudness (spec.md §6 "External tool contract").
// Both probes are optional collaborators: absence or failure of the
// external binary degrades to a documented fallback rather than failing
// the pipeline (spec.md §4.1 step 3, §7 "Transient I/O").
package probe

import (
	"bufio"
	"context"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// FallbackDuration is used when the external tool is unavailable or
// fails (spec.md §4.1 step 3: "fall back to 6.0s if unavailable").
const FallbackDuration = 6.0

// DurationProber invokes an external tool to print a duration float on
// stdout for the file at path.
type DurationProber struct {
	binary  string
	timeout time.Duration
}

// NewDurationProber returns a prober that runs binary (e.g. "ffprobe")
// with the given timeout (default 5s per spec.md §4.1/§5).
func NewDurationProber(binary string, timeout time.Duration) *DurationProber {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DurationProber{binary: binary, timeout: timeout}
}

// Probe returns the segment's duration in seconds, or FallbackDuration
// if the tool is unavailable, times out, or produces unparseable output.
func (p *DurationProber) Probe(ctx context.Context, path string) float64 {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return FallbackDuration
	}

	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || d <= 0 {
		return FallbackDuration
	}
	return d
}

// LoudnessResult is the EBU R128 summary extracted from an external
// tool's loudnorm filter output (spec.md §6).
type LoudnessResult struct {
	MomentaryLUFS   float64
	ShortTermLUFS   float64
	IntegratedLUFS  float64
	RMSDB           float64
	IsApproximation bool
}

var (
	reIntegrated = regexp.MustCompile(`I:\s*(-?[\d.]+)\s*LUFS`)
	reMomentary  = regexp.MustCompile(`M:\s*(-?[\d.]+)\s*LUFS`)
	reShortTerm  = regexp.MustCompile(`S:\s*(-?[\d.]+)\s*LUFS`)
	reMeanVolume = regexp.MustCompile(`mean_volume:\s*(-?[\d.]+)\s*dB`)
)

// LoudnessProber invokes an external tool's loudness filter and parses
// its stderr output for LUFS and RMS fields.
type LoudnessProber struct {
	binary  string
	timeout time.Duration
}

// NewLoudnessProber returns a prober that runs binary with the given
// timeout.
func NewLoudnessProber(binary string, timeout time.Duration) *LoudnessProber {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &LoudnessProber{binary: binary, timeout: timeout}
}

// Probe runs the external tool against path and parses its stderr for
// loudness statistics. When the I:/M:/S: fields are absent but a
// mean_volume field is present, the RMS value is used as an
// approximation and IsApproximation is set (spec.md §6 / SPEC supplement
// from the original implementation's loudness fallback).
func (p *LoudnessProber) Probe(ctx context.Context, path string) (LoudnessResult, bool) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.binary,
		"-i", path,
		"-af", "loudnorm=print_format=summary",
		"-f", "null", "-",
	)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return LoudnessResult{}, false
	}
	if err := cmd.Start(); err != nil {
		return LoudnessResult{}, false
	}

	var buf strings.Builder
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		buf.WriteString(scanner.Text())
		buf.WriteByte('\n')
	}
	_ = cmd.Wait() // loudnorm analysis often exits non-zero for the null sink; parse regardless

	return parseLoudness(buf.String())
}

func parseLoudness(output string) (LoudnessResult, bool) {
	integrated := reIntegrated.FindStringSubmatch(output)
	momentary := reMomentary.FindStringSubmatch(output)
	shortTerm := reShortTerm.FindStringSubmatch(output)

	if integrated != nil {
		res := LoudnessResult{}
		res.IntegratedLUFS = mustParse(integrated[1])
		if momentary != nil {
			res.MomentaryLUFS = mustParse(momentary[1])
		}
		if shortTerm != nil {
			res.ShortTermLUFS = mustParse(shortTerm[1])
		}
		return res, true
	}

	if mean := reMeanVolume.FindStringSubmatch(output); mean != nil {
		rms := mustParse(mean[1])
		return LoudnessResult{RMSDB: rms, IsApproximation: true}, true
	}

	return LoudnessResult{}, false
}

func mustParse(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
