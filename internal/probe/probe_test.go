package probe

import (
	"context"
	"testing"
	"time"
)

func TestDurationProberFallsBackWhenBinaryMissing(t *testing.T) {
	p := NewDurationProber("definitely-not-a-real-binary-xyz", time.Second)
	d := p.Probe(context.Background(), "segment.ts")
	if d != FallbackDuration {
		t.Errorf("Probe() = %v, want fallback %v", d, FallbackDuration)
	}
}

func TestDurationProberDefaultsTimeout(t *testing.T) {
	p := NewDurationProber("ffprobe", 0)
	if p.timeout != 5*time.Second {
		t.Errorf("expected default timeout of 5s, got %v", p.timeout)
	}
}

func TestParseLoudnessIntegratedFields(t *testing.T) {
	output := "Input Integrated:\nI: -23.1 LUFS\nM: -18.4 LUFS\nS: -20.2 LUFS\n"
	res, ok := parseLoudness(output)
	if !ok {
		t.Fatal("expected parseLoudness to succeed")
	}
	if res.IntegratedLUFS != -23.1 || res.MomentaryLUFS != -18.4 || res.ShortTermLUFS != -20.2 {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.IsApproximation {
		t.Error("expected IsApproximation=false when full LUFS fields are present")
	}
}

func TestParseLoudnessFallsBackToMeanVolume(t *testing.T) {
	output := "[Parsed_volumedetect_0] mean_volume: -14.2 dB\n"
	res, ok := parseLoudness(output)
	if !ok {
		t.Fatal("expected parseLoudness to succeed on mean_volume fallback")
	}
	if !res.IsApproximation {
		t.Error("expected IsApproximation=true for mean_volume fallback")
	}
	if res.RMSDB != -14.2 {
		t.Errorf("RMSDB = %v, want -14.2", res.RMSDB)
	}
}

func TestParseLoudnessNoRecognizedFields(t *testing.T) {
	_, ok := parseLoudness("nothing useful here\n")
	if ok {
		t.Error("expected parseLoudness to fail when no known field is present")
	}
}

func TestLoudnessProberFallsBackWhenBinaryMissing(t *testing.T) {
	p := NewLoudnessProber("definitely-not-a-real-binary-xyz", time.Second)
	_, ok := p.Probe(context.Background(), "segment.ts")
	if ok {
		t.Error("expected Probe to report failure when the binary cannot run")
	}
}
