package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/nextconvert/assembler/internal/modules/animation"
	"github.com/nextconvert/assembler/internal/modules/assembly"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateAnimationCommand(t *testing.T) {
	out, err := execute(t, "validate-animation", "--type", "pan_left", "--intensity", "strong")
	require.NoError(t, err)
	assert.Contains(t, out, "pan_left/strong is valid")

	_, err = execute(t, "validate-animation", "--type", "spin")
	assert.ErrorIs(t, err, animation.ErrInvalidType)

	_, err = execute(t, "validate-animation", "--type", "zoom_in", "--intensity", "wild")
	assert.ErrorIs(t, err, animation.ErrInvalidIntensity)

	_, err = execute(t, "validate-animation", "--type", "none", "--intensity", "")
	assert.NoError(t, err)
}

func TestValidateAnimationRequiresType(t *testing.T) {
	_, err := execute(t, "validate-animation")
	assert.Error(t, err)
}

func TestRunRequiresManifest(t *testing.T) {
	_, err := execute(t, "run")
	assert.Error(t, err)

	_, err = execute(t, "run", "--manifest", "/does/not/exist.yaml")
	assert.Error(t, err)
}

type fakeBar struct {
	descriptions []string
	values       []int
}

func (b *fakeBar) Describe(d string) { b.descriptions = append(b.descriptions, d) }

func (b *fakeBar) Set(n int) error {
	b.values = append(b.values, n)
	return nil
}

func TestProgressReporter(t *testing.T) {
	bar := &fakeBar{}
	report := progressReporter(bar)

	report(assembly.Progress{Stage: assembly.StateDownloading, Percent: 0, Message: "Fetching assets for scene 1 of 2"})
	report(assembly.Progress{Stage: assembly.StateDownloading, Percent: 7.5, Message: "Fetching assets for scene 1 of 2"})
	report(assembly.Progress{Stage: assembly.StateSegmenting, Percent: 7.9})
	report(assembly.Progress{Stage: assembly.StateSegmenting, Percent: 40, Message: "Rendering scene 1 of 2"})
	report(assembly.Progress{Stage: assembly.StateCompleted, Percent: 100, Message: "Assembly complete"})

	assert.Equal(t, []string{
		"Fetching assets for scene 1 of 2",
		"segmenting",
		"Rendering scene 1 of 2",
		"Assembly complete",
	}, bar.descriptions)
	assert.Equal(t, []int{0, 7, 40, 100}, bar.values)
}

func TestPrintResult(t *testing.T) {
	res := &assembly.Result{
		RunID:           "demo",
		State:           assembly.StateCompleted,
		OutputPath:      "demo.mp4",
		DurationSeconds: 7.5,
		MusicApplied:    true,
		MusicSource:     assembly.TierSynthesized,
		Warnings:        []string{"failed to remove workspace"},
	}

	var text bytes.Buffer
	require.NoError(t, printResult(&text, res, false))
	assert.Contains(t, text.String(), "Output:   demo.mp4")
	assert.Contains(t, text.String(), "Duration: 7.50s")
	assert.Contains(t, text.String(), "Music:    synthesized")
	assert.Contains(t, text.String(), "Warning:  failed to remove workspace")

	var raw bytes.Buffer
	require.NoError(t, printResult(&raw, res, true))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw.Bytes(), &decoded))
	assert.Equal(t, "demo", decoded["runId"])
	assert.Equal(t, "completed", decoded["state"])
}
