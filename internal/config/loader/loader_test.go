package loader

import (
	"errors"
	"io/fs"
	"reflect"
	"strings"
	"testing"
	"time"
)

// MemFS is an in-memory file system for testing.
type MemFS struct {
	files map[string][]byte
}

func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string][]byte)}
}

func (m *MemFS) AddFile(path string, content string) {
	m.files[path] = []byte(content)
}

func (m *MemFS) Open(name string) (fs.File, error) {
	return nil, fs.ErrNotExist
}

func (m *MemFS) ReadFile(path string) ([]byte, error) {
	data, ok := m.files[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return data, nil
}

func (m *MemFS) Stat(path string) (fs.FileInfo, error) {
	if _, ok := m.files[path]; ok {
		return &memFileInfo{name: path}, nil
	}
	return nil, fs.ErrNotExist
}

type memFileInfo struct {
	name string
}

func (f *memFileInfo) Name() string       { return f.name }
func (f *memFileInfo) Size() int64        { return 0 }
func (f *memFileInfo) Mode() fs.FileMode  { return 0644 }
func (f *memFileInfo) ModTime() time.Time { return time.Now() }
func (f *memFileInfo) IsDir() bool        { return false }
func (f *memFileInfo) Sys() any           { return nil }

func TestForPath(t *testing.T) {
	tests := []struct {
		path    string
		want    string
		wantErr bool
	}{
		{"config.json", "json", false},
		{"config.TOML", "toml", false},
		{"config.yaml", "yaml", false},
		{"config.yml", "yaml", false},
		{"config", "json", false},
		{"config.ini", "", true},
	}

	for _, tt := range tests {
		c, err := ForPath(tt.path)
		if tt.wantErr {
			if !errors.Is(err, ErrUnsupportedFormat) {
				t.Errorf("ForPath(%q) error = %v, want ErrUnsupportedFormat", tt.path, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ForPath(%q) error = %v", tt.path, err)
			continue
		}
		if c.Name() != tt.want {
			t.Errorf("ForPath(%q) = %s, want %s", tt.path, c.Name(), tt.want)
		}
	}

	if c, err := ForName("YAML"); err != nil || c != YAML {
		t.Errorf("ForName(YAML) = %v, %v", c, err)
	}
}

func TestCodecs_RoundTrip(t *testing.T) {
	data := map[string]any{
		"editor": map[string]any{
			"tab_size":      float64(4),
			"insert_spaces": true,
			"rulers":        []any{float64(80), float64(120)},
		},
		"ui": map[string]any{"theme": "dark"},
	}

	for _, c := range Codecs() {
		t.Run(c.Name(), func(t *testing.T) {
			out, err := c.Encode(data)
			if err != nil {
				t.Fatalf("Encode error = %v", err)
			}
			got, err := c.Decode(out)
			if err != nil {
				t.Fatalf("Decode error = %v\n%s", err, out)
			}
			if !reflect.DeepEqual(got, data) {
				t.Errorf("round trip = %#v, want %#v", got, data)
			}
		})
	}
}

func TestCodecs_NormalizeNumbers(t *testing.T) {
	inputs := map[Codec]string{
		JSON: `{"a": {"n": 3}}`,
		TOML: "[a]\nn = 3\n",
		YAML: "a:\n  n: 3\n",
	}
	for c, in := range inputs {
		got, err := c.Decode([]byte(in))
		if err != nil {
			t.Fatalf("%s Decode error = %v", c.Name(), err)
		}
		n := got["a"].(map[string]any)["n"]
		if n != float64(3) {
			t.Errorf("%s decoded n = %v (%T), want float64(3)", c.Name(), n, n)
		}
	}
}

func TestCodecs_Invalid(t *testing.T) {
	tests := []struct {
		codec Codec
		input string
	}{
		{JSON, `{"a": `},
		{JSON, `[1, 2]`},
		{TOML, "[editor\ntab = 4"},
		{YAML, "- a\n- b\n"},
		{YAML, "a: [unclosed"},
	}

	for _, tt := range tests {
		_, err := tt.codec.Decode([]byte(tt.input))
		var perr *ParseError
		if !errors.As(err, &perr) {
			t.Errorf("%s Decode(%q) error = %v, want *ParseError", tt.codec.Name(), tt.input, err)
		}
	}
}

func TestJSON_SyntaxErrorPosition(t *testing.T) {
	_, err := JSON.Decode([]byte("{\n  \"a\": 1,\n  \"b\": }\n"))
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v", err)
	}
	if perr.Line != 3 {
		t.Errorf("Line = %d, want 3", perr.Line)
	}
}

func TestCodecs_Empty(t *testing.T) {
	for _, c := range []Codec{JSON, YAML, TOML} {
		got, err := c.Decode([]byte(""))
		if err != nil {
			t.Errorf("%s Decode(empty) error = %v", c.Name(), err)
			continue
		}
		if got == nil || len(got) != 0 {
			t.Errorf("%s Decode(empty) = %v", c.Name(), got)
		}
	}
}

func TestTOML_EncodeDropsNil(t *testing.T) {
	out, err := TOML.Encode(map[string]any{"a": nil, "b": map[string]any{"c": nil, "d": "x"}})
	if err != nil {
		t.Fatalf("Encode error = %v", err)
	}
	got, err := TOML.Decode(out)
	if err != nil {
		t.Fatalf("Decode error = %v", err)
	}
	want := map[string]any{"b": map[string]any{"d": "x"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Decode(Encode) = %v, want %v\n%s", got, want, out)
	}
}

func TestFileLoader_LoadFrom(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/config.toml", `
[editor]
tab_size = 4
word_wrap = "on"
`)
	l := NewFileLoaderWithFS(memfs)

	config, err := l.LoadFrom("/config.toml")
	if err != nil {
		t.Fatalf("LoadFrom error = %v", err)
	}
	editor := config["editor"].(map[string]any)
	if editor["tab_size"] != float64(4) || editor["word_wrap"] != "on" {
		t.Errorf("editor = %v", editor)
	}

	config, err = l.LoadFrom("/missing.toml")
	if err != nil || config != nil {
		t.Errorf("LoadFrom(missing) = %v, %v; want nil, nil", config, err)
	}

	memfs.AddFile("/bad.json", `{`)
	_, err = l.LoadFrom("/bad.json")
	var perr *ParseError
	if !errors.As(err, &perr) || perr.Path != "/bad.json" {
		t.Errorf("LoadFrom(bad) error = %v", err)
	}
}

func TestFileLoader_LoadFromReader(t *testing.T) {
	l := NewFileLoader()
	config, err := l.LoadFromReader(YAML, strings.NewReader("ui:\n  theme: dark\n"))
	if err != nil {
		t.Fatalf("LoadFromReader error = %v", err)
	}
	if config["ui"].(map[string]any)["theme"] != "dark" {
		t.Errorf("config = %v", config)
	}
}

func TestFileLoader_LoadWithIncludes(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/cfg/base.yaml", "editor:\n  tab_size: 8\n  word_wrap: false\n")
	memfs.AddFile("/cfg/main.toml", `
"@include" = ["base.yaml"]

[editor]
tab_size = 2
`)
	l := NewFileLoaderWithFS(memfs)

	config, err := l.LoadWithIncludes("/cfg/main.toml", 5)
	if err != nil {
		t.Fatalf("LoadWithIncludes error = %v", err)
	}
	if _, ok := config["@include"]; ok {
		t.Error("@include should be removed")
	}
	editor := config["editor"].(map[string]any)
	if editor["tab_size"] != float64(2) {
		t.Errorf("tab_size = %v, want main file value 2", editor["tab_size"])
	}
	if editor["word_wrap"] != false {
		t.Errorf("word_wrap = %v, want included value false", editor["word_wrap"])
	}
}

func TestFileLoader_LoadWithIncludes_DepthExceeded(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/a.json", `{"@include": "b.json"}`)
	memfs.AddFile("/b.json", `{"@include": "a.json"}`)
	l := NewFileLoaderWithFS(memfs)

	_, err := l.LoadWithIncludes("/a.json", 3)
	if err == nil || !strings.Contains(err.Error(), "include depth exceeded") {
		t.Errorf("error = %v, want depth exceeded", err)
	}
}
