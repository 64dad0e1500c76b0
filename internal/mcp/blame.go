package mcp

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// HistoryEntry is one commit touching a symbol's line range, as reported by
// git log -L.
type HistoryEntry struct {
	Commit  string `json:"commit"`
	Author  string `json:"author"`
	Date    string `json:"date"`
	Summary string `json:"summary"`
}

// blameHistory shells out to git log -L to retrieve the commit history for
// a symbol's line range. This is the sole git collaborator get_symbol_history
// uses; absence of a git binary or a non-repo file path degrades the result
// to a warning rather than a failure.
func blameHistory(filePath string, startLine, endLine int64, maxEntries int) ([]HistoryEntry, error) {
	if _, err := exec.LookPath("git"); err != nil {
		return nil, fmt.Errorf("git not available: %w", err)
	}

	dir := filepath.Dir(filePath)
	base := filepath.Base(filePath)

	lineRange := fmt.Sprintf("%d,%d:%s", startLine, endLine, base)
	args := []string{
		"log",
		"-L", lineRange,
		"--no-patch",
		"--format=%H%x1f%an%x1f%ad%x1f%s%x1e",
		"--date=short",
	}
	if maxEntries > 0 {
		args = append(args, fmt.Sprintf("-n%d", maxEntries))
	}

	cmd := exec.Command("git", args...)
	cmd.Dir = dir

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git log -L failed: %w", err)
	}

	return parseGitLogRecords(string(output)), nil
}

// parseGitLogRecords splits a %x1e-delimited, %x1f-separated git log output
// into structured history entries.
func parseGitLogRecords(output string) []HistoryEntry {
	var entries []HistoryEntry
	for _, record := range strings.Split(output, "\x1e") {
		record = strings.TrimSpace(record)
		if record == "" {
			continue
		}
		fields := strings.Split(record, "\x1f")
		if len(fields) < 4 {
			continue
		}
		entries = append(entries, HistoryEntry{
			Commit:  fields[0],
			Author:  fields[1],
			Date:    fields[2],
			Summary: fields[3],
		})
	}
	return entries
}
