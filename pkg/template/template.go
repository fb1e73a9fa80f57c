// Package template renders the base workload manifest and decodes it into a
// typed pod document. A template that fails to render or parse is a fatal
// configuration error, never retried.
package template

import (
	"bytes"
	"fmt"
	"text/template"

	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/yaml"
)

// Render substitutes bindings into a manifest template. Missing bindings are
// an error so configuration mistakes surface at build time, not on cluster
// rejection.
func Render(manifest string, bindings map[string]any) ([]byte, error) {
	tmpl, err := template.New("pod").Option("missingkey=error").Parse(manifest)
	if err != nil {
		return nil, fmt.Errorf("parse pod template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, bindings); err != nil {
		return nil, fmt.Errorf("render pod template: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodePod parses a rendered YAML manifest into a pod document.
func DecodePod(manifest []byte) (*corev1.Pod, error) {
	var pod corev1.Pod
	if err := yaml.Unmarshal(manifest, &pod); err != nil {
		return nil, fmt.Errorf("decode pod manifest: %w", err)
	}
	return &pod, nil
}
