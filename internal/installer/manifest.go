package installer

import (
	"fmt"
	"os"

	"github.com/tidwall/gjson"

	"github.com/blackwell-systems/addonsync/internal/addon"
)

// Package types recognised in a manifest's "type" field.
const (
	TypePlugin = "latus-plugin"
	TypeTheme  = "latus-theme"
)

// Manifest is the part of a composer.json-shaped package manifest that
// drives the lifecycle.
type Manifest struct {
	Name      string
	Kind      addon.Kind
	Version   string
	Supports  []string
	Listeners addon.Listeners
}

// LoadManifest reads and parses the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// ParseManifest parses a manifest document. Listener lists may be given as a
// single string or an array; unknown event keys are rejected.
func ParseManifest(data []byte) (*Manifest, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid JSON")
	}
	doc := gjson.ParseBytes(data)

	m := &Manifest{
		Name:      doc.Get("name").String(),
		Version:   doc.Get("version").String(),
		Listeners: addon.Listeners{},
	}
	if m.Name == "" {
		return nil, fmt.Errorf("missing package name")
	}

	switch t := doc.Get("type").String(); t {
	case TypePlugin:
		m.Kind = addon.KindPlugin
	case TypeTheme:
		m.Kind = addon.KindTheme
	default:
		return nil, fmt.Errorf("package type %q is not %s or %s", t, TypePlugin, TypeTheme)
	}

	if m.Kind == addon.KindTheme {
		m.Supports = []string{}
		for _, v := range doc.Get("extra.latus.modules").Array() {
			m.Supports = append(m.Supports, v.String())
		}
	}

	var parseErr error
	doc.Get("extra.latus.listeners").ForEach(func(key, value gjson.Result) bool {
		kind, err := addon.ParseEventKind(key.String())
		if err != nil {
			parseErr = err
			return false
		}
		m.Listeners[kind] = append(m.Listeners[kind], stringList(value)...)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}

	return m, nil
}

func stringList(v gjson.Result) []string {
	if !v.IsArray() {
		if s := v.String(); s != "" {
			return []string{s}
		}
		return nil
	}
	var out []string
	for _, item := range v.Array() {
		if s := item.String(); s != "" {
			out = append(out, s)
		}
	}
	return out
}
