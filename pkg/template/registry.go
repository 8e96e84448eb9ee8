package template

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"metaflow/pkg/logx"
)

//go:embed builtin/*.json
var builtinFS embed.FS

// ErrTemplateNotFound is returned by LoadTemplate for unknown IDs.
var ErrTemplateNotFound = errors.New("template not found")

// Source identifies where a template was loaded from.
type Source string

const (
	SourceBuiltin Source = "builtin"
	SourceUser    Source = "user"
)

// Meta is the listing view of a registered template.
type Meta struct {
	ID          string
	Name        string
	Description string
	Source      Source
}

// Registry indexes built-in and user templates. The index is immutable
// between Reload calls; built-ins win naming collisions.
type Registry struct {
	userDir   string
	templates map[string]*Template
	metas     []Meta
	loadErrs  []error
	logger    *logx.Logger
}

// NewRegistry loads built-ins and, when userDir is non-empty, any .json,
// .yaml, or .yml files under it. A malformed user file is recorded and
// skipped; it never poisons the rest of the registry.
func NewRegistry(userDir string) (*Registry, error) {
	r := &Registry{
		userDir: userDir,
		logger:  logx.NewLogger("template"),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload rebuilds the index from scratch.
func (r *Registry) Reload() error {
	templates := make(map[string]*Template)
	metas := make([]Meta, 0)
	var loadErrs []error

	entries, err := builtinFS.ReadDir("builtin")
	if err != nil {
		return logx.Wrap(err, "read builtin templates")
	}
	for _, entry := range entries {
		data, err := builtinFS.ReadFile("builtin/" + entry.Name())
		if err != nil {
			return logx.Wrap(err, fmt.Sprintf("read builtin template %s", entry.Name()))
		}
		tmpl, err := decode(entry.Name(), data)
		if err != nil {
			// Built-ins ship with the binary; a bad one is a build defect.
			return err
		}
		templates[tmpl.ID] = tmpl
		metas = append(metas, Meta{ID: tmpl.ID, Name: tmpl.Name, Description: tmpl.Description, Source: SourceBuiltin})
	}

	if r.userDir != "" {
		userTemplates, userMetas, errs := loadUserDir(r.userDir, templates)
		for id, tmpl := range userTemplates {
			templates[id] = tmpl
		}
		metas = append(metas, userMetas...)
		loadErrs = errs
		for _, e := range errs {
			r.logger.Warn("skipping template: %v", e)
		}
	}

	sort.Slice(metas, func(i, j int) bool { return metas[i].ID < metas[j].ID })

	r.templates = templates
	r.metas = metas
	r.loadErrs = loadErrs
	return nil
}

// loadUserDir parses user template files, skipping anything malformed or
// colliding with a built-in ID.
func loadUserDir(dir string, existing map[string]*Template) (map[string]*Template, []Meta, []error) {
	loaded := make(map[string]*Template)
	var metas []Meta
	var errs []error

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return loaded, metas, nil
		}
		return loaded, metas, []error{fmt.Errorf("read template dir %s: %w", dir, err)}
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("read %s: %w", path, err))
			continue
		}

		tmpl, err := decode(entry.Name(), data)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if _, taken := existing[tmpl.ID]; taken {
			errs = append(errs, &ValidationError{File: entry.Name(), Field: "template_id",
				Msg: fmt.Sprintf("id %q collides with a builtin template", tmpl.ID)})
			continue
		}
		if _, taken := loaded[tmpl.ID]; taken {
			errs = append(errs, &ValidationError{File: entry.Name(), Field: "template_id",
				Msg: fmt.Sprintf("duplicate id %q in template dir", tmpl.ID)})
			continue
		}

		loaded[tmpl.ID] = tmpl
		metas = append(metas, Meta{ID: tmpl.ID, Name: tmpl.Name, Description: tmpl.Description, Source: SourceUser})
	}

	return loaded, metas, errs
}

// decode parses and validates one template file, JSON or YAML by extension.
func decode(filename string, data []byte) (*Template, error) {
	var tmpl Template
	var err error
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &tmpl)
	default:
		err = json.Unmarshal(data, &tmpl)
	}
	if err != nil {
		return nil, &ValidationError{File: filename, Field: "", Msg: err.Error()}
	}

	if err := tmpl.Validate(); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			verr.File = filename
			return nil, verr
		}
		return nil, &ValidationError{File: filename, Msg: err.Error()}
	}

	return &tmpl, nil
}

// ListTemplates returns metadata for every registered template, sorted by ID.
func (r *Registry) ListTemplates() []Meta {
	out := make([]Meta, len(r.metas))
	copy(out, r.metas)
	return out
}

// LoadTemplate returns the template with the given ID.
func (r *Registry) LoadTemplate(id string) (*Template, error) {
	tmpl, ok := r.templates[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	return tmpl, nil
}

// LoadErrors reports per-file problems from the last Reload. An empty slice
// means every user file parsed cleanly.
func (r *Registry) LoadErrors() []error {
	out := make([]error, len(r.loadErrs))
	copy(out, r.loadErrs)
	return out
}
