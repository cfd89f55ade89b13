// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package spawner

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"text/template"
)

const defaultTemplateText = `# zooid variant definition
niche: {{ .Niche }}
ecosystem: {{ .Ecosystem }}
{{- if .Parent }}
parent: {{ .Parent }}
{{- end }}
parameters:
{{- range .Params }}
  {{ .Key }}: {{ printf "%v" .Value }}
{{- end }}
`

// DefaultTemplate is the built-in variant artifact template.
var DefaultTemplate = template.Must(template.New("variant").Parse(defaultTemplateText))

// LoadTemplate parses a variant template file. An empty path returns
// DefaultTemplate.
func LoadTemplate(path string) (*template.Template, error) {
	if path == "" {
		return DefaultTemplate, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading variant template: %w", err)
	}
	parsed, err := template.New("variant").Option("missingkey=error").Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parsing variant template %s: %w", path, err)
	}
	return parsed, nil
}

// Param is one key/value pair in template data.
type Param struct {
	Key   string
	Value any
}

// TemplateData is what a variant template is rendered with. It does
// not include the variant's name, which is derived from the rendered
// result.
type TemplateData struct {
	Niche     string
	Ecosystem string
	Parent    string
	Params    []Param
}

// Render executes tmpl for one variant with parameters in key order.
func Render(tmpl *template.Template, niche, ecosystem, parent string, phenotype map[string]any) ([]byte, error) {
	data := TemplateData{Niche: niche, Ecosystem: ecosystem, Parent: parent}
	for key, value := range phenotype {
		data.Params = append(data.Params, Param{Key: key, Value: value})
	}
	sort.Slice(data.Params, func(i, j int) bool { return data.Params[i].Key < data.Params[j].Key })

	var buffer bytes.Buffer
	if err := tmpl.Execute(&buffer, data); err != nil {
		return nil, fmt.Errorf("rendering variant for %s: %w", niche, err)
	}
	return buffer.Bytes(), nil
}
