package document

import "testing"

func TestNewAssignsIDAndDefaults(t *testing.T) {
	d := New(Document{State: "link"})
	if d.ID == "" {
		t.Fatalf("expected an assigned id")
	}
	if d.MediaType != DefaultMediaType {
		t.Fatalf("expected default media type, got %q", d.MediaType)
	}
	if !d.IsRoot() {
		t.Fatalf("expected document with no parent_id to be root")
	}
	if d.Metadata == nil {
		t.Fatalf("expected an initialized metadata map")
	}
}

func TestNewKeepsGivenID(t *testing.T) {
	d := New(Document{ID: "fixed", State: "link"})
	if d.ID != "fixed" {
		t.Fatalf("expected given id to be preserved, got %q", d.ID)
	}
}

func TestAddChildrenDeduplicates(t *testing.T) {
	d := New(Document{State: "link"})
	d.AddChildren("a", "b", "a")
	if len(d.ChildIDs) != 2 {
		t.Fatalf("expected deduplicated children, got %v", d.ChildIDs)
	}
	if !d.HasChildren() {
		t.Fatalf("expected HasChildren to be true")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	content := "original"
	d := New(Document{State: "link", Content: &content})
	d.Metadata["k"] = "v"
	c := d.Clone()

	*c.Content = "changed"
	c.Metadata["k"] = "other"
	c.AddChildren("x")

	if *d.Content != "original" {
		t.Fatalf("mutating clone's content leaked into original")
	}
	if d.Metadata["k"] != "v" {
		t.Fatalf("mutating clone's metadata leaked into original")
	}
	if d.HasChildren() {
		t.Fatalf("mutating clone's children leaked into original")
	}
}
