package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSource(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLintFile(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "q.go", "package q\n\n"+
		"const cols = `id, user_id`\n\n"+
		"const QGood = `--sql 11111111-2222-4333-8444-555555555555\nselect ` + cols + ` from t`\n\n"+
		"const QMissing = `select 1`\n\n"+
		"const QBadMarker = \"--sql not-a-uuid\\nupdate t set x = 1\"\n")

	queries, violations, err := lintFile(path)
	if err != nil {
		t.Fatalf("lintFile: %v", err)
	}
	if len(queries) != 1 || queries[0].name != "QGood" {
		t.Fatalf("unexpected queries: %+v", queries)
	}
	if len(violations) != 2 || violations[0].name != "QMissing" || violations[1].name != "QBadMarker" {
		t.Fatalf("unexpected violations: %+v", violations)
	}
}

func TestRunReportsDuplicateMarkers(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "a.go", "package q\n\nconst QA = `--sql 11111111-2222-4333-8444-555555555555\nselect 1`\n")
	writeSource(t, dir, "b.go", "package q\n\nconst QB = `--sql 11111111-2222-4333-8444-555555555555\nselect 2`\n")

	var stderr bytes.Buffer
	if code := run([]string{dir}, &stderr); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "already used by QA") {
		t.Fatalf("unexpected report: %s", stderr.String())
	}
}

func TestRunCleanTree(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "a.go", "package q\n\nconst QA = `--sql 11111111-2222-4333-8444-555555555555\nselect 1`\n")
	var stderr bytes.Buffer
	if code := run([]string{dir}, &stderr); code != 0 {
		t.Fatalf("exit code = %d, report %s", code, stderr.String())
	}
}
