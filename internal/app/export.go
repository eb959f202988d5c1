package app

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/interviewd/internal/interview"
)

var unsafeFileChars = regexp.MustCompile(`[\\/:*?"<>|\x00-\x1f\s]+`)

// ExportFileName returns interview_<user>_<yyyymmdd_hhmmss>.json.
func ExportFileName(userName string, at time.Time) string {
	name := strings.Trim(unsafeFileChars.ReplaceAllString(userName, "_"), "._")
	if name == "" {
		name = "session"
	}
	return fmt.Sprintf("interview_%s_%s.json", name, at.Format("20060102_150405"))
}

// ExportSummary writes sum as indented JSON under dir and returns the file path.
func ExportSummary(dir string, sum interview.Summary, at time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}
	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal summary: %w", err)
	}
	path := filepath.Join(dir, ExportFileName(sum.UserName, at))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}
	return path, nil
}
