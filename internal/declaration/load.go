package declaration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/specialistvlad/deploygrid/internal/ctxlog"
	"github.com/specialistvlad/deploygrid/internal/fsutil"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// Extensions lists the file extensions picked up when loading a directory.
var Extensions = []string{".yaml", ".yml", ".json", ".hcl"}

// Declaration is the merged, still untyped content of one or more
// declaration documents.
type Declaration struct {
	// Sets maps a deploy-set name to its raw value.
	Sets map[string]any
	// Sources maps a deploy-set name to the file that declared it.
	Sources map[string]string
}

// New returns an empty declaration.
func New() *Declaration {
	return &Declaration{Sets: map[string]any{}, Sources: map[string]string{}}
}

// Add merges one decoded document into the declaration. A deploy set may only
// be declared once across all documents.
func (d *Declaration) Add(source string, doc map[string]any) error {
	for name, value := range doc {
		if prev, ok := d.Sources[name]; ok {
			return &MalformedDeclarationError{
				Path:   name,
				Reason: fmt.Sprintf("deploy set already declared in %s", prev),
				Source: source,
			}
		}
		d.Sets[name] = value
		d.Sources[name] = source
	}
	return nil
}

// Load reads every declaration document under the given paths and merges
// them. Files are decoded concurrently but merged in sorted path order so
// the result and any error are deterministic.
func Load(ctx context.Context, paths ...string) (*Declaration, error) {
	logger := ctxlog.FromContext(ctx)

	var files []string
	for _, p := range paths {
		found, err := fsutil.FindFilesByExtension(p, Extensions...)
		if err != nil {
			return nil, fmt.Errorf("failed to find declaration files in %s: %w", p, err)
		}
		if len(found) == 0 {
			logger.Warn("No declaration files found in path.", "path", p)
		}
		files = append(files, found...)
	}
	logger.Debug("Declaration files discovered.", "files", files)

	docs := make([]map[string]any, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, file := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			doc, err := LoadFile(file)
			if err != nil {
				return err
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	decl := New()
	for i, doc := range docs {
		if err := decl.Add(files[i], doc); err != nil {
			return nil, err
		}
	}
	logger.Debug("Declarations loaded.", "files", len(files), "deploy_sets", len(decl.Sets))
	return decl, nil
}

// LoadFile decodes a single declaration document, choosing the format by
// file extension. Unknown extensions are decoded as YAML, which also
// covers JSON.
func LoadFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read declaration file %s: %w", path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".hcl") {
		return decodeHCL(path, data)
	}
	return decodeYAML(path, data)
}

func decodeYAML(path string, data []byte) (map[string]any, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse declaration file %s: %w", path, err)
	}
	if raw == nil {
		return map[string]any{}, nil
	}
	doc, ok := stringKeys(raw).(map[string]any)
	if !ok {
		return nil, &MalformedDeclarationError{Path: "/", Reason: "document root must be a mapping of deploy sets", Source: path}
	}
	return doc, nil
}

// stringKeys rewrites map[any]any values produced for non-string YAML keys
// into map[string]any so the normalizer only deals with one map shape.
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = stringKeys(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = stringKeys(val)
		}
		return out
	case []any:
		for i, val := range t {
			t[i] = stringKeys(val)
		}
		return t
	default:
		return v
	}
}
