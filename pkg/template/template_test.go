package template

import (
	"strings"
	"testing"
)

const manifest = `apiVersion: v1
kind: Pod
metadata:
  name: "{{.pod_name}}"
spec:
  containers:
    - name: "{{.pod_name}}"
      image: "{{.container}}"
`

func TestRenderAndDecode(t *testing.T) {
	rendered, err := Render(manifest, map[string]any{
		"pod_name":  "beta_15-abc",
		"container": "node:4",
	})
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}

	pod, err := DecodePod(rendered)
	if err != nil {
		t.Fatalf("DecodePod returned error: %v", err)
	}
	if pod.Name != "beta_15-abc" {
		t.Fatalf("pod name = %q", pod.Name)
	}
	if pod.Spec.Containers[0].Image != "node:4" {
		t.Fatalf("image = %q", pod.Spec.Containers[0].Image)
	}
}

func TestRenderMissingBinding(t *testing.T) {
	_, err := Render(manifest, map[string]any{"pod_name": "beta_15-abc"})
	if err == nil || !strings.Contains(err.Error(), "render pod template") {
		t.Fatalf("err = %v, want render failure for missing binding", err)
	}
}

func TestRenderMalformedTemplate(t *testing.T) {
	if _, err := Render("{{.unclosed", nil); err == nil {
		t.Fatalf("expected parse failure")
	}
}

func TestDecodeMalformedManifest(t *testing.T) {
	if _, err := DecodePod([]byte("{not yaml: [")); err == nil {
		t.Fatalf("expected decode failure")
	}
}
