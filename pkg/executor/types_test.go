package executor

import "testing"

func TestIsPullRequest(t *testing.T) {
	cases := map[string]bool{
		"PR-1":        true,
		"PR-1234":     true,
		"PR-15:main":  true,
		"PR-":         false,
		"PR-main":     false,
		"main":        false,
		"deploy-PR-1": false,
	}
	for name, want := range cases {
		if got := IsPullRequest(name); got != want {
			t.Fatalf("IsPullRequest(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestSelector(t *testing.T) {
	if got := Selector("beta_", 15); got != "sdbuild=beta_15" {
		t.Fatalf("Selector = %q", got)
	}
	if got := Selector("", 7); got != "sdbuild=7" {
		t.Fatalf("Selector = %q", got)
	}
}

func TestAnnotationQualifiedForm(t *testing.T) {
	desc := BuildDescriptor{Annotations: map[string]string{"screwdriver.cd/ram": "HIGH"}}
	v, ok := desc.Annotation(AnnotationRAM)
	if !ok || v != "HIGH" {
		t.Fatalf("Annotation(ram) = %q, %v", v, ok)
	}
}
