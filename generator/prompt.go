package generator

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Prompt is the set of messages sent to an LLM.
type Prompt struct {
	System  string
	User    string
	History []Message
	Images  []string
	// JSON asks providers that support it for a JSON-only answer.
	JSON bool
}

// Message is one prior turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

//go:embed roles/*.yaml
var roleFS embed.FS

// Role is a declarative agent: system prompt, user template and the model it runs on.
type Role struct {
	Name         string   `yaml:"-"`
	SystemPrompt string   `yaml:"system_prompt"`
	Template     string   `yaml:"template"`
	Args         []string `yaml:"args"`
	UseModel     string   `yaml:"use_model"`
	ReturnJSON   bool     `yaml:"return_json"`

	tmpl *template.Template
}

var templateFuncs = template.FuncMap{
	"json": func(v any) (string, error) {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return "", err
		}
		return strings.TrimRight(buf.String(), "\n"), nil
	},
	"join": strings.Join,
	"inc":  func(i int) int { return i + 1 },
}

// ParseRole compiles a role definition.
func ParseRole(name string, data []byte) (*Role, error) {
	var r Role
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("role %s: %w", name, err)
	}
	r.Name = name
	if strings.TrimSpace(r.Template) == "" {
		return nil, fmt.Errorf("role %s: template is empty", name)
	}
	switch r.UseModel {
	case "", ModelLanguage, ModelVision:
	default:
		return nil, fmt.Errorf("role %s: unknown use_model %q", name, r.UseModel)
	}
	tmpl, err := template.New(name).Option("missingkey=error").Funcs(templateFuncs).Parse(r.Template)
	if err != nil {
		return nil, fmt.Errorf("role %s: %w", name, err)
	}
	r.tmpl = tmpl
	return &r, nil
}

// LoadRoles reads every built-in role.
func LoadRoles() (map[string]*Role, error) {
	entries, err := fs.ReadDir(roleFS, "roles")
	if err != nil {
		return nil, err
	}
	roles := make(map[string]*Role, len(entries))
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".yaml" {
			continue
		}
		data, err := roleFS.ReadFile(path.Join("roles", e.Name()))
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(e.Name(), ".yaml")
		r, err := ParseRole(name, data)
		if err != nil {
			return nil, err
		}
		roles[name] = r
	}
	return roles, nil
}

// Render fills the user template. Every declared arg must be supplied.
func (r *Role) Render(vars map[string]any) (string, error) {
	var missing []string
	for _, a := range r.Args {
		if _, ok := vars[a]; !ok {
			missing = append(missing, a)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("role %s: missing template variables %q", r.Name, missing)
	}
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("role %s: render: %w", r.Name, err)
	}
	return buf.String(), nil
}
