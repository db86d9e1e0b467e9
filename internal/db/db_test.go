package db

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenCreatesWorkspace(t *testing.T) {
	ws := t.TempDir()
	conn, err := Open(Config{Workspace: ws})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if _, err := os.Stat(filepath.Join(ws, ".santa")); err != nil {
		t.Fatalf("workspace dir: %v", err)
	}
	if got := Path(Config{Workspace: ws}); got != filepath.Join(ws, ".santa", "santa.db") {
		t.Fatalf("path = %s", got)
	}
	var fk int
	if err := conn.QueryRow(`PRAGMA foreign_keys`).Scan(&fk); err != nil || fk != 1 {
		t.Fatalf("foreign_keys = %d, %v", fk, err)
	}
}

func TestOpenExplicitFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "nested", "party.db")
	conn, err := Open(Config{Workspace: "ignored", File: file})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if _, err := os.Stat(file); err != nil {
		t.Fatalf("db file: %v", err)
	}
	if Path(Config{File: file}) != file {
		t.Fatal("explicit file not honored")
	}
}
