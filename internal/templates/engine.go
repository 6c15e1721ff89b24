// Package templates renders SOL003 request bodies from execution request
// properties.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"sigs.k8s.io/yaml"

	"github.com/thc1006/nephoran-sol003-driver/pkg/models"
)

const (
	// NamePrefix is prepended to the lifecycle name to find its template.
	NamePrefix = "VnfmSol003-"
	fileSuffix = ".yaml.tmpl"
)

//go:embed defaults/*.yaml.tmpl
var defaults embed.FS

// Data is the template context.
type Data struct {
	Properties         map[string]interface{}
	SystemProperties   map[string]interface{}
	DeploymentLocation models.DeploymentTarget
}

// NewData builds the template context of an execution request.
func NewData(req *models.ExecutionRequest) Data {
	return Data{
		Properties:         req.Properties.Values(),
		SystemProperties:   req.SystemProperties.Values(),
		DeploymentLocation: req.DeploymentLocation,
	}
}

// Name returns the template name of a lifecycle.
func Name(lifecycle string) string {
	return NamePrefix + lifecycle
}

// Engine holds parsed request templates by name.
type Engine struct {
	templates map[string]*template.Template
}

// NewEngine loads the built-in templates, then any *.yaml.tmpl files in
// overrideDir, which replace built-ins of the same name.
func NewEngine(overrideDir string) (*Engine, error) {
	e := &Engine{templates: make(map[string]*template.Template)}
	if err := e.load(defaults, "defaults"); err != nil {
		return nil, err
	}
	if overrideDir != "" {
		if err := e.load(os.DirFS(overrideDir), "."); err != nil {
			return nil, fmt.Errorf("failed to load templates from %s: %w", overrideDir, err)
		}
	}
	return e, nil
}

func (e *Engine) load(fsys fs.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileSuffix) {
			continue
		}
		raw, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(entry.Name(), fileSuffix)
		if err := e.Add(name, string(raw)); err != nil {
			return err
		}
	}
	return nil
}

// Add parses and registers a template.
func (e *Engine) Add(name, raw string) error {
	tmpl, err := template.New(name).Funcs(FuncMap()).Parse(raw)
	if err != nil {
		return fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	e.templates[name] = tmpl
	return nil
}

// Has reports whether a template is registered.
func (e *Engine) Has(name string) bool {
	_, ok := e.templates[name]
	return ok
}

// Render executes the named template and returns its YAML output as JSON.
func (e *Engine) Render(name string, data Data) ([]byte, error) {
	tmpl, ok := e.templates[name]
	if !ok {
		return nil, fmt.Errorf("no template named %s", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render template %s: %w", name, err)
	}
	if strings.TrimSpace(buf.String()) == "" {
		return []byte("{}"), nil
	}
	out, err := yaml.YAMLToJSON(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("template %s did not render valid YAML: %w", name, err)
	}
	return out, nil
}

// FuncMap is sprig without environment access, plus required.
func FuncMap() template.FuncMap {
	fm := sprig.TxtFuncMap()
	delete(fm, "env")
	delete(fm, "expandenv")
	fm["required"] = required
	return fm
}

func required(msg string, v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("%s", msg)
	case string:
		if val == "" {
			return nil, fmt.Errorf("%s", msg)
		}
	}
	return v, nil
}
