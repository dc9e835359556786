// Package loader reads and writes Strata configuration documents.
//
// A Codec converts between raw bytes and a nested map for one file format.
// JSON, TOML and YAML are supported; the codec is chosen from the file
// extension. EnvLoader builds a map from prefixed environment variables.
package loader

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dshills/strata/internal/config/layer"
)

// ErrUnsupportedFormat is returned when no codec handles a file extension.
var ErrUnsupportedFormat = errors.New("unsupported configuration format")

// Codec encodes and decodes one configuration file format.
type Codec interface {
	// Name returns the format name ("json", "toml", "yaml").
	Name() string
	// Extensions returns the file extensions handled, with leading dot.
	Extensions() []string
	// Decode parses data into a normalized nested map.
	Decode(data []byte) (map[string]any, error)
	// Encode renders a nested map.
	Encode(data map[string]any) ([]byte, error)
}

var codecs = []Codec{JSON, TOML, YAML}

// Codecs returns every built-in codec.
func Codecs() []Codec {
	return append([]Codec(nil), codecs...)
}

// ForPath returns the codec for path's extension.
func ForPath(path string) (Codec, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return JSON, nil
	}
	for _, c := range codecs {
		for _, e := range c.Extensions() {
			if e == ext {
				return c, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
}

// ForName returns the codec with the given format name.
func ForName(name string) (Codec, error) {
	for _, c := range codecs {
		if strings.EqualFold(c.Name(), name) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
}

// FileSystem is an abstraction for file system operations.
// This allows for easy testing with in-memory file systems.
type FileSystem interface {
	fs.FS
	// ReadFile reads the entire file at path.
	ReadFile(path string) ([]byte, error)
	// Stat returns file info for path.
	Stat(path string) (fs.FileInfo, error)
}

// OSFS implements FileSystem using the real OS file system.
type OSFS struct{}

// Open implements fs.FS.
func (OSFS) Open(name string) (fs.File, error) {
	return os.Open(name)
}

// ReadFile reads the entire file at path.
func (OSFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Stat returns file info for path.
func (OSFS) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

// DefaultFS returns the default file system (OS).
func DefaultFS() FileSystem {
	return OSFS{}
}

// FileLoader loads configuration files, picking the codec by extension.
type FileLoader struct {
	fs FileSystem
}

// NewFileLoader creates a loader over the OS file system.
func NewFileLoader() *FileLoader {
	return &FileLoader{fs: DefaultFS()}
}

// NewFileLoaderWithFS creates a loader with a custom file system.
func NewFileLoaderWithFS(fsys FileSystem) *FileLoader {
	return &FileLoader{fs: fsys}
}

// LoadFrom reads configuration from path.
// Returns nil, nil if the file doesn't exist.
func (l *FileLoader) LoadFrom(path string) (map[string]any, error) {
	codec, err := ForPath(path)
	if err != nil {
		return nil, err
	}

	data, err := l.fs.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	return decode(codec, path, data)
}

// LoadFromReader reads configuration in the given codec's format.
func (l *FileLoader) LoadFromReader(codec Codec, r io.Reader) (map[string]any, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return decode(codec, "<reader>", data)
}

// LoadWithIncludes loads a file and processes @include directives.
// Included files may use any supported format and are lower priority than
// the including file. maxDepth limits nesting.
func (l *FileLoader) LoadWithIncludes(path string, maxDepth int) (map[string]any, error) {
	if maxDepth <= 0 {
		return nil, fmt.Errorf("include depth exceeded for %s", path)
	}

	config, err := l.LoadFrom(path)
	if err != nil {
		return nil, err
	}
	if config == nil {
		return nil, nil
	}

	includes, hasIncludes := config["@include"]
	if !hasIncludes {
		return config, nil
	}
	delete(config, "@include")

	baseDir := filepath.Dir(path)
	var includeList []string

	switch v := includes.(type) {
	case string:
		includeList = []string{v}
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("@include must be string or array of strings")
			}
			includeList = append(includeList, s)
		}
	default:
		return nil, fmt.Errorf("@include must be string or array of strings, got %T", includes)
	}

	for _, inc := range includeList {
		incPath := inc
		if !filepath.IsAbs(inc) {
			incPath = filepath.Join(baseDir, inc)
		}

		incConfig, err := l.LoadWithIncludes(incPath, maxDepth-1)
		if err != nil {
			return nil, fmt.Errorf("loading include %s: %w", incPath, err)
		}

		// Main file values override include values.
		config = layer.DeepMerge(incConfig, config)
	}

	return config, nil
}

func decode(codec Codec, source string, data []byte) (map[string]any, error) {
	m, err := codec.Decode(data)
	if err != nil {
		var perr *ParseError
		if errors.As(err, &perr) {
			perr.Path = source
			return nil, perr
		}
		return nil, &ParseError{Path: source, Message: err.Error(), Err: err}
	}
	return m, nil
}

// ParseError represents an error while parsing a configuration file.
type ParseError struct {
	Path    string
	Line    int
	Column  int
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	path := e.Path
	if path == "" {
		path = "<input>"
	}
	if e.Line > 0 && e.Column > 0 {
		return fmt.Sprintf("parse error in %s at line %d, column %d: %s", path, e.Line, e.Column, e.Message)
	}
	if e.Line > 0 {
		return fmt.Sprintf("parse error in %s at line %d: %s", path, e.Line, e.Message)
	}
	return fmt.Sprintf("parse error in %s: %s", path, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// normalize converts decoded data to the canonical value forms.
func normalize(m map[string]any) (map[string]any, error) {
	if m == nil {
		return make(map[string]any), nil
	}
	out, err := layer.NormalizeMap(m)
	if err != nil {
		return nil, &ParseError{Message: err.Error(), Err: err}
	}
	return out, nil
}
