package persist

import (
	"fmt"
	"sort"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/dshills/strata/internal/config/layer"
)

// ProfileRecord is the persisted form of a profile.
type ProfileRecord struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Overrides   map[string]any    `json:"overrides"`
	CreatedAt   string            `json:"created_at,omitempty"`
}

// Document is the root of a persisted or exported configuration file.
//
// Saved files carry the GLOBAL and USER scopes. Exports may carry every
// scope and the profile list.
type Document struct {
	Version       string                    `json:"version"`
	SavedAt       string                    `json:"saved_at,omitempty"`
	Format        string                    `json:"format,omitempty"`
	Scopes        map[string]map[string]any `json:"scopes"`
	Profiles      []ProfileRecord           `json:"profiles,omitempty"`
	ActiveProfile string                    `json:"active_profile,omitempty"`
}

// NewDocument creates a document holding the given scopes.
func NewDocument(version string, scopes map[layer.Scope]map[string]any) Document {
	doc := Document{
		Version: version,
		Scopes:  make(map[string]map[string]any, len(scopes)),
	}
	for scope, data := range scopes {
		doc.Scopes[scope.String()] = layer.CloneMap(data)
	}
	return doc
}

// ScopeData returns the scopes held by the document keyed by Scope.
// Unknown scope names are an error.
func (d Document) ScopeData() (map[layer.Scope]map[string]any, error) {
	out := make(map[layer.Scope]map[string]any, len(d.Scopes))
	for name, data := range d.Scopes {
		scope, err := layer.ParseScope(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		if data == nil {
			data = make(map[string]any)
		}
		if err := layer.ValidateTree(data); err != nil {
			return nil, fmt.Errorf("%w: scope %s: %v", ErrInvalidDocument, name, err)
		}
		out[scope] = layer.CloneMap(data)
	}
	return out, nil
}

// ToMap converts the document into the nested map written by codecs.
func (d Document) ToMap() map[string]any {
	m := map[string]any{
		"version": d.Version,
	}
	if d.SavedAt != "" {
		m["saved_at"] = d.SavedAt
	}
	if d.Format != "" {
		m["format"] = d.Format
	}

	scopes := make(map[string]any, len(d.Scopes))
	for name, data := range d.Scopes {
		if data == nil {
			data = map[string]any{}
		}
		scopes[name] = layer.CloneMap(data)
	}
	m["scopes"] = scopes

	if len(d.Profiles) > 0 {
		profiles := make([]any, 0, len(d.Profiles))
		for _, p := range d.Profiles {
			rec := map[string]any{
				"id":        p.ID,
				"name":      p.Name,
				"overrides": layer.CloneMap(p.Overrides),
			}
			if rec["overrides"] == nil {
				rec["overrides"] = map[string]any{}
			}
			if p.Description != "" {
				rec["description"] = p.Description
			}
			if p.CreatedAt != "" {
				rec["created_at"] = p.CreatedAt
			}
			if len(p.Metadata) > 0 {
				md := make(map[string]any, len(p.Metadata))
				for k, v := range p.Metadata {
					md[k] = v
				}
				rec["metadata"] = md
			}
			profiles = append(profiles, rec)
		}
		m["profiles"] = profiles
	}
	if d.ActiveProfile != "" {
		m["active_profile"] = d.ActiveProfile
	}
	return m
}

// DocumentFromMap decodes a nested map produced by a codec.
func DocumentFromMap(m map[string]any) (Document, error) {
	if _, ok := m["scopes"]; !ok {
		return Document{}, fmt.Errorf("%w: missing scopes", ErrInvalidDocument)
	}

	var doc Document
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &doc,
	})
	if err != nil {
		return Document{}, err
	}
	if err := dec.Decode(m); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if doc.Scopes == nil {
		doc.Scopes = make(map[string]map[string]any)
	}
	for i := range doc.Profiles {
		if doc.Profiles[i].ID == "" {
			return Document{}, fmt.Errorf("%w: profile %d has no id", ErrInvalidDocument, i)
		}
		if doc.Profiles[i].Overrides == nil {
			doc.Profiles[i].Overrides = make(map[string]any)
		}
	}
	return doc, nil
}

// ScopeNames returns the document's scope names in priority order.
func (d Document) ScopeNames() []string {
	names := make([]string, 0, len(d.Scopes))
	for name := range d.Scopes {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, _ := layer.ParseScope(names[i])
		b, _ := layer.ParseScope(names[j])
		return a < b
	})
	return names
}

// Stamp returns the timestamp format used in documents.
func Stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
