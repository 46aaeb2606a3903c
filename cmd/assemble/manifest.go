package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nextconvert/assembler/internal/modules/assembly"
	"gopkg.in/yaml.v3"
)

// Manifest is the on-disk description of one run. JSON manifests parse too,
// since JSON is valid YAML.
type Manifest struct {
	RunID    string            `yaml:"runId"`
	Scenes   []assembly.Scene  `yaml:"scenes"`
	Settings assembly.Settings `yaml:"settings"`
}

// ParseManifest decodes a manifest, rejecting unknown fields. Relative
// image and audio paths are resolved against baseDir.
func ParseManifest(r io.Reader, baseDir string) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("manifest is empty")
		}
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(m.Scenes) == 0 {
		return nil, errors.New("manifest has no scenes")
	}

	for i := range m.Scenes {
		m.Scenes[i].ImagePath = resolveRef(m.Scenes[i].ImagePath, baseDir)
		m.Scenes[i].AudioPath = resolveRef(m.Scenes[i].AudioPath, baseDir)
	}
	return &m, nil
}

// LoadManifest reads a manifest file; "-" reads stdin.
func LoadManifest(path string) (*Manifest, error) {
	if path == "-" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		return ParseManifest(os.Stdin, wd)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return ParseManifest(f, filepath.Dir(abs))
}

// resolveRef anchors bare relative paths. URLs, data URIs, storage keys
// and asset-root paths pass through.
func resolveRef(ref, baseDir string) string {
	if ref == "" || strings.Contains(ref, ":") || filepath.IsAbs(ref) || strings.HasPrefix(ref, "/") {
		return ref
	}
	return filepath.Join(baseDir, ref)
}
