package workflow

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadTable_EmbeddedDefaults(t *testing.T) {
	tbl, err := LoadTable("")
	if err != nil {
		t.Fatalf("loading embedded definitions failed: %v", err)
	}

	def, err := tbl.Definition("ticket")
	if err != nil {
		t.Fatalf("expected a ticket workflow: %v", err)
	}
	if def.FirstStep() != "fetch_ticket" {
		t.Errorf("expected first step fetch_ticket, got %s", def.FirstStep())
	}
	if !def.HasStep("implement") {
		t.Error("expected an implement step")
	}
	if !def.CanTransition("fetch_ticket", "plan") {
		t.Error("expected fetch_ticket -> plan to be legal")
	}
	if def.CanTransition("fetch_ticket", "push") {
		t.Error("fetch_ticket -> push must not be legal")
	}
}

func TestLoadTable_FileOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflows.yaml")
	content := `
workflows:
  - name: mini
    steps: [a, b]
    transitions:
      a: [b]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	tbl, err := LoadTable(path)
	if err != nil {
		t.Fatalf("loading override failed: %v", err)
	}
	if _, err := tbl.Definition("mini"); err != nil {
		t.Errorf("expected mini workflow: %v", err)
	}
	// The override replaces the defaults entirely.
	if _, err := tbl.Definition("ticket"); err == nil {
		t.Error("expected embedded definitions to be replaced by the override")
	}
}

func TestLoadTable_MissingFile(t *testing.T) {
	if _, err := LoadTable("/no/such/definitions.yaml"); err == nil {
		t.Error("expected error for missing definitions file")
	}
}

func TestParseTable_RejectsBadDefinitions(t *testing.T) {
	cases := map[string]string{
		"no name":         "workflows:\n  - steps: [a]\n",
		"no steps":        "workflows:\n  - name: w\n",
		"undeclared from": "workflows:\n  - name: w\n    steps: [a]\n    transitions:\n      x: [a]\n",
		"undeclared to":   "workflows:\n  - name: w\n    steps: [a]\n    transitions:\n      a: [x]\n",
		"duplicate name":  "workflows:\n  - name: w\n    steps: [a]\n  - name: w\n    steps: [b]\n",
		"not yaml at all": "workflows: [',",
	}
	for name, content := range cases {
		if _, err := parseTable([]byte(content)); err == nil {
			t.Errorf("%s: expected parse error", name)
		}
	}
}

func TestValidateTransition(t *testing.T) {
	tbl, err := LoadTable("")
	if err != nil {
		t.Fatal(err)
	}

	if err := tbl.ValidateTransition("ticket", "plan", "implement"); err != nil {
		t.Errorf("legal transition rejected: %v", err)
	}

	err = tbl.ValidateTransition("ticket", "plan", "push")
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if invalid.From != "plan" || invalid.To != "push" {
		t.Errorf("error does not name the steps: %+v", invalid)
	}

	if err := tbl.ValidateTransition("ticket", "plan", "no_such_step"); err == nil {
		t.Error("expected error for undeclared target step")
	}
	if err := tbl.ValidateTransition("nope", "a", "b"); err == nil {
		t.Error("expected error for unknown workflow")
	}
}

func TestNames(t *testing.T) {
	tbl, err := LoadTable("")
	if err != nil {
		t.Fatal(err)
	}
	names := tbl.Names()
	if len(names) < 2 {
		t.Fatalf("expected at least two default workflows, got %v", names)
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Errorf("names not sorted: %v", names)
		}
	}
}
