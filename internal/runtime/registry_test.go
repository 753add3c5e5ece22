package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/haasonsaas/strand/pkg/models"
)

func noopHandler(ctx context.Context, input json.RawMessage) (string, error) {
	return "", nil
}

func TestRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	schema := models.ToolSchema{
		Name:        "list_files",
		Description: "lists files",
		Parameters:  json.RawMessage(`{"type": "object", "properties": {"path": {"type": "string"}}}`),
	}
	if err := r.Register(schema, noopHandler); err != nil {
		t.Fatalf("Register: %v", err)
	}

	handler, got, err := r.Resolve("list_files")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if handler == nil {
		t.Fatal("Resolve returned nil handler")
	}
	if got.Name != "list_files" || got.Description != "lists files" {
		t.Errorf("schema = %+v, want the registered one", got)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	schema := models.ToolSchema{Name: "echo"}
	if err := r.Register(schema, noopHandler); err != nil {
		t.Fatalf("first Register: %v", err)
	}

	err := r.Register(schema, noopHandler)
	var dup *DuplicateToolError
	if !errors.As(err, &dup) {
		t.Fatalf("second Register = %v, want DuplicateToolError", err)
	}
	if dup.Name != "echo" {
		t.Errorf("DuplicateToolError.Name = %q, want echo", dup.Name)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d after rejected duplicate, want 1", r.Len())
	}
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(models.ToolSchema{}, noopHandler); err == nil {
		t.Error("Register with empty name succeeded, want error")
	}
	if err := r.Register(models.ToolSchema{Name: "x"}, nil); err == nil {
		t.Error("Register with nil handler succeeded, want error")
	}
	if err := r.Register(models.ToolSchema{
		Name:       "bad",
		Parameters: json.RawMessage(`{"type":`),
	}, noopHandler); err == nil {
		t.Error("Register with a malformed schema succeeded, want error")
	}
}

func TestResolveUnknown(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.Resolve("nope")

	var unknown *UnknownToolError
	if !errors.As(err, &unknown) {
		t.Fatalf("Resolve = %v, want UnknownToolError", err)
	}
	if unknown.Name != "nope" {
		t.Errorf("UnknownToolError.Name = %q, want nope", unknown.Name)
	}
}

func TestSchemasRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"charlie", "alpha", "bravo"} {
		if err := r.Register(models.ToolSchema{Name: name}, noopHandler); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}

	var got []string
	for _, schema := range r.Schemas() {
		got = append(got, schema.Name)
	}
	want := []string{"charlie", "alpha", "bravo"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Schemas order = %v, want %v", got, want)
		}
	}

	// Repeat calls see the same order.
	again := r.Schemas()
	for i := range want {
		if again[i].Name != want[i] {
			t.Fatalf("second Schemas order = %v, want %v", again, want)
		}
	}
}
