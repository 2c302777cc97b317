// Package pkgmeta defines the package descriptor embedded in every retros
// image and its YAML encoding.
package pkgmeta

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/open-edge-platform/retros/internal/config/validate"
	"github.com/open-edge-platform/retros/internal/utils/errkind"
)

const (
	// MetadataDir is the top-level image directory reserved for metadata.
	MetadataDir = "meta"
	// MetadataPath is where the descriptor lives relative to the image root.
	MetadataPath = MetadataDir + "/package.yaml"
	// LegacyMetadataPath is read when MetadataPath is absent.
	LegacyMetadataPath = "metadata.json"
)

// Descriptor placeholders filled in by New.
const (
	DefaultVersion      = "1.0"
	DefaultEmulator     = "dosbox"
	DefaultEmulatorPath = "/usr/bin/dosbox"
	DefaultGamePath     = "game.txt"
	DefaultRunCommand   = "game.exe"
)

// Descriptor is the package metadata record.
type Descriptor struct {
	Name               string   `yaml:"name" json:"name"`
	Version            string   `yaml:"version" json:"version"`
	Description        string   `yaml:"description" json:"description"`
	Emulator           string   `yaml:"emulator" json:"emulator"`
	EmulatorPath       string   `yaml:"emulator_path" json:"emulator_path"`
	EmulatorArgs       []string `yaml:"emulator_args" json:"emulator_args"`
	GamePathInPackage  string   `yaml:"game_path_in_package" json:"game_path_in_package"`
	RunCommand         string   `yaml:"run_command" json:"run_command"`
	OriginalSourceName string   `yaml:"original_source_name" json:"original_source_name"`
	Dependencies       []string `yaml:"dependencies" json:"dependencies"`
}

// New returns the descriptor create writes for name built from source.
func New(name, source string) *Descriptor {
	return &Descriptor{
		Name:               name,
		Version:            DefaultVersion,
		Description:        fmt.Sprintf("A retro package for %s", name),
		Emulator:           DefaultEmulator,
		EmulatorPath:       DefaultEmulatorPath,
		EmulatorArgs:       nil,
		GamePathInPackage:  DefaultGamePath,
		RunCommand:         DefaultRunCommand,
		OriginalSourceName: SourceName(source),
		Dependencies:       []string{DefaultEmulator},
	}
}

// SourceName is the base name of source after resolving it to an absolute
// path, so "." names the current directory.
func SourceName(source string) string {
	if abs, err := filepath.Abs(source); err == nil {
		source = abs
	}
	return filepath.Base(filepath.Clean(source))
}

// Encode renders d as YAML with keys in field order.
func Encode(d *Descriptor) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("encode descriptor: nil descriptor")
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(descriptorNode(d)); err != nil {
		return nil, fmt.Errorf("encode descriptor: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode descriptor: %w", err)
	}
	return buf.Bytes(), nil
}

func descriptorNode(d *Descriptor) *yaml.Node {
	m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	add := func(key string, value *yaml.Node) {
		m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, value)
	}
	add("name", stringNode(d.Name))
	add("version", stringNode(d.Version))
	add("description", stringNode(d.Description))
	add("emulator", stringNode(d.Emulator))
	add("emulator_path", stringNode(d.EmulatorPath))
	add("emulator_args", listNode(d.EmulatorArgs))
	add("game_path_in_package", stringNode(d.GamePathInPackage))
	add("run_command", stringNode(d.RunCommand))
	add("original_source_name", stringNode(d.OriginalSourceName))
	add("dependencies", listNode(d.Dependencies))
	return m
}

// stringNode double-quotes strings that a plain or block scalar would not
// reproduce exactly: line breaks, tabs, and leading or trailing whitespace.
// Other strings keep the encoder's own quoting.
func stringNode(v string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
	if strings.ContainsAny(v, "\n\r\t") || strings.TrimSpace(v) != v {
		n.Style = yaml.DoubleQuotedStyle
	}
	return n
}

func listNode(items []string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	if len(items) == 0 {
		n.Style = yaml.FlowStyle
	}
	for _, it := range items {
		n.Content = append(n.Content, stringNode(it))
	}
	return n
}

// Decode parses a YAML (or JSON) descriptor. The document must be a
// mapping; unknown keys are ignored and absent fields stay empty. Empty
// lists decode as nil.
func Decode(b []byte) (*Descriptor, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", errkind.ErrMalformedMetadata, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("%w: empty document", errkind.ErrMalformedMetadata)
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: expected a mapping at line %d", errkind.ErrMalformedMetadata, root.Line)
	}

	d := &Descriptor{}
	if err := root.Decode(d); err != nil {
		return nil, fmt.Errorf("%w: %v", errkind.ErrMalformedMetadata, err)
	}
	if len(d.EmulatorArgs) == 0 {
		d.EmulatorArgs = nil
	}
	if len(d.Dependencies) == 0 {
		d.Dependencies = nil
	}
	return d, nil
}

// Validate checks d against the package schema.
func Validate(d *Descriptor) error {
	data, err := Encode(d)
	if err != nil {
		return err
	}
	if err := validate.ValidatePackageYAML(data); err != nil {
		return fmt.Errorf("%w: %v", errkind.ErrMalformedMetadata, err)
	}
	return nil
}

// Write stores d at MetadataPath under root.
func Write(root string, d *Descriptor) (string, error) {
	data, err := Encode(d)
	if err != nil {
		return "", err
	}
	path := filepath.Join(root, MetadataPath)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create metadata directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write metadata: %w", err)
	}
	return path, nil
}

// Read loads the descriptor of the image tree mounted at root, preferring
// MetadataPath over LegacyMetadataPath. It returns the path that was read.
// When neither exists the error wraps errkind.ErrNotFound.
func Read(root string) (*Descriptor, string, error) {
	for _, rel := range []string{MetadataPath, LegacyMetadataPath} {
		path := filepath.Join(root, rel)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, path, fmt.Errorf("failed to read %s: %w", path, err)
		}
		d, err := Decode(data)
		if err != nil {
			return nil, path, fmt.Errorf("%s: %w", path, err)
		}
		return d, path, nil
	}
	return nil, "", fmt.Errorf("no %s in %s: %w", MetadataPath, root, errkind.ErrNotFound)
}
