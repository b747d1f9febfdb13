// Package logs parses GitHub Actions run log archives. The API hands back
// a zip with one file per job step; we extract per-job error lines and
// counts for the build-log viewer.
package logs

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
)

// JobLog is the parsed summary of one job's log output.
type JobLog struct {
	Name       string
	ErrorCount int
	Errors     []string
}

// maxErrorsPerJob bounds how many error lines we keep for display.
const maxErrorsPerJob = 50

// Parse extracts per-job error summaries from a run log archive. Jobs are
// returned sorted by name. An empty archive yields no jobs and no error.
func Parse(archive []byte) ([]JobLog, error) {
	if len(archive) == 0 {
		return nil, nil
	}
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("opening log archive: %w", err)
	}

	byJob := make(map[string]*JobLog)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(f.Name, ".txt") {
			continue
		}
		job := jobName(f.Name)
		jl, ok := byJob[job]
		if !ok {
			jl = &JobLog{Name: job}
			byJob[job] = jl
		}
		if err := scanFile(f, jl); err != nil {
			return nil, err
		}
	}

	out := make([]JobLog, 0, len(byJob))
	for _, jl := range byJob {
		out = append(out, *jl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func scanFile(f *zip.File, jl *JobLog) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening %s in archive: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("reading %s in archive: %w", f.Name, err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		if msg, ok := errorLine(line); ok {
			jl.ErrorCount++
			if len(jl.Errors) < maxErrorsPerJob {
				jl.Errors = append(jl.Errors, msg)
			}
		}
	}
	return nil
}

// errorLine reports whether a log line carries an error workflow command
// and returns its message. Lines are prefixed with an ISO timestamp, which
// is stripped.
func errorLine(line string) (string, bool) {
	body := line
	if i := strings.IndexByte(line, ' '); i > 0 && strings.Contains(line[:i], "T") {
		body = line[i+1:]
	}
	if strings.HasPrefix(body, "##[error]") {
		return strings.TrimSpace(strings.TrimPrefix(body, "##[error]")), true
	}
	if strings.HasPrefix(body, "::error") {
		if i := strings.Index(body, "::"); i >= 0 {
			rest := body[i+len("::"):]
			if j := strings.Index(rest, "::"); j >= 0 {
				return strings.TrimSpace(rest[j+2:]), true
			}
		}
		return strings.TrimSpace(body), true
	}
	return "", false
}

// jobName derives the job a log file belongs to. Archives nest step files
// under a directory per job ("build/3_Run tests.txt"); top-level files
// ("0_build.txt") carry the job name after the ordinal prefix.
func jobName(name string) string {
	name = strings.TrimPrefix(name, "./")
	if dir := path.Dir(name); dir != "." {
		return trimOrdinal(dir)
	}
	base := strings.TrimSuffix(path.Base(name), ".txt")
	return trimOrdinal(base)
}

// trimOrdinal strips the "N_" prefix the archive puts on file and
// directory names.
func trimOrdinal(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i > 0 && i < len(s) && s[i] == '_' {
		return s[i+1:]
	}
	return s
}
