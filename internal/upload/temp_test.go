package upload

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiskTempStore_AppendAndSize(t *testing.T) {
	temp := newDiskTemp(t)

	path, err := temp.Create("session-1")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if filepath.Dir(path) != temp.Dir() {
		t.Errorf("Expected temp object under %s, got %s", temp.Dir(), path)
	}

	for _, chunk := range []string{"hello ", "huddle"} {
		if err := temp.Append(path, []byte(chunk)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	size, err := temp.Size(path)
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if size != 12 {
		t.Errorf("Expected size 12, got %d", size)
	}

	content, _ := os.ReadFile(path)
	if string(content) != "hello huddle" {
		t.Errorf("Unexpected content %q", content)
	}
}

func TestDiskTempStore_CreateRejectsExisting(t *testing.T) {
	temp := newDiskTemp(t)

	if _, err := temp.Create("dup"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := temp.Create("dup"); err == nil {
		t.Error("Expected error creating the same temp object twice")
	}
}

func TestDiskTempStore_AppendAfterRemoveFails(t *testing.T) {
	temp := newDiskTemp(t)

	path, _ := temp.Create("gone")
	if err := temp.Remove(path); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := temp.Append(path, []byte("x")); !os.IsNotExist(err) {
		t.Errorf("Expected not-exist error, got %v", err)
	}
	if err := temp.Remove(path); err != nil {
		t.Errorf("Removing a missing temp object should succeed, got %v", err)
	}
}
