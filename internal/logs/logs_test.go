package logs

import (
	"archive/zip"
	"bytes"
	"testing"
)

func buildArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("creating %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing archive: %v", err)
	}
	return buf.Bytes()
}

func TestParse_CountsErrorsPerJob(t *testing.T) {
	archive := buildArchive(t, map[string]string{
		"build/1_Set up job.txt": "2026-08-24T10:00:00.000Z ok\n",
		"build/2_Run tests.txt": "2026-08-24T10:00:01.000Z ##[error]Process completed with exit code 1.\n" +
			"2026-08-24T10:00:02.000Z ##[error]test TestFoo failed\n",
		"lint/1_Run linter.txt": "2026-08-24T10:00:00.000Z all clean\n",
	})

	jobs, err := Parse(archive)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].Name != "build" || jobs[0].ErrorCount != 2 {
		t.Errorf("build job mismatch: %+v", jobs[0])
	}
	if jobs[0].Errors[0] != "Process completed with exit code 1." {
		t.Errorf("unexpected error line: %q", jobs[0].Errors[0])
	}
	if jobs[1].Name != "lint" || jobs[1].ErrorCount != 0 {
		t.Errorf("lint job mismatch: %+v", jobs[1])
	}
}

func TestParse_TopLevelFilesUseOrdinalPrefix(t *testing.T) {
	archive := buildArchive(t, map[string]string{
		"0_build.txt": "2026-08-24T10:00:00.000Z ::error file=main.go,line=3::undefined: foo\n",
	})

	jobs, err := Parse(archive)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Name != "build" {
		t.Fatalf("expected job 'build', got %+v", jobs)
	}
	if jobs[0].ErrorCount != 1 || jobs[0].Errors[0] != "undefined: foo" {
		t.Errorf("unexpected errors: %+v", jobs[0])
	}
}

func TestParse_EmptyArchive(t *testing.T) {
	jobs, err := Parse(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if jobs != nil {
		t.Fatalf("expected no jobs, got %v", jobs)
	}
}

func TestParse_GarbageIsAnError(t *testing.T) {
	if _, err := Parse([]byte("not a zip")); err == nil {
		t.Fatal("expected error for invalid archive")
	}
}

func TestErrorLine(t *testing.T) {
	tests := []struct {
		line string
		want string
		ok   bool
	}{
		{"2026-08-24T10:00:00Z ##[error]boom", "boom", true},
		{"##[error]no timestamp", "no timestamp", true},
		{"2026-08-24T10:00:00Z plain output", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := errorLine(tt.line)
		if ok != tt.ok || got != tt.want {
			t.Errorf("errorLine(%q) = %q,%v; want %q,%v", tt.line, got, ok, tt.want, tt.ok)
		}
	}
}

func TestTrimOrdinal(t *testing.T) {
	if trimOrdinal("3_Run tests") != "Run tests" {
		t.Error("ordinal prefix should be stripped")
	}
	if trimOrdinal("build") != "build" {
		t.Error("names without prefix stay as is")
	}
	if trimOrdinal("12") != "12" {
		t.Error("bare numbers stay as is")
	}
}
