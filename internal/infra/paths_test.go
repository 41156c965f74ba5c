package infra

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateLockFile_SingleInstance(t *testing.T) {
	dir := t.TempDir()

	unlock, err := CreateLockFile(dir)
	if err != nil {
		t.Fatalf("first lock failed: %v", err)
	}

	if _, err := CreateLockFile(dir); err == nil {
		t.Fatal("second lock should fail while the first is held")
	}

	unlock()
	unlock2, err := CreateLockFile(dir)
	if err != nil {
		t.Fatalf("lock after release failed: %v", err)
	}
	unlock2()
}

func TestEnsureDir_Nested(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data", "live")
	if err := EnsureDir(dir); err != nil {
		t.Fatalf("EnsureDir failed: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("directory was not created: %v", err)
	}
}
