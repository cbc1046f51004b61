// Package artifact names, types and persists the one output file a job
// produces.
package artifact

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/v0xg/browserpilot/internal/failure"
)

// Format is an output encoding.
type Format string

const (
	TXT  Format = "txt"
	MD   Format = "md"
	JSON Format = "json"
	HTML Format = "html"
	CSV  Format = "csv"
	PDF  Format = "pdf"
)

// Formats lists the recognized formats.
var Formats = []Format{TXT, MD, JSON, HTML, CSV, PDF}

var contentTypes = map[Format]string{
	TXT:  "text/plain",
	MD:   "text/markdown",
	JSON: "application/json",
	HTML: "text/html",
	CSV:  "text/csv",
	PDF:  "application/pdf",
}

// ParseFormat returns the Format named by s, case-insensitively.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if f == "markdown" {
		f = MD
	}
	if _, ok := contentTypes[f]; !ok {
		return "", failure.Inputf("artifact.ParseFormat", "unsupported format %q", s)
	}
	return f, nil
}

// Normalize is ParseFormat with unknown formats mapped to TXT.
func Normalize(s string) Format {
	f, err := ParseFormat(s)
	if err != nil {
		return TXT
	}
	return f
}

// Ext returns the file extension, without the dot.
func (f Format) Ext() string {
	if _, ok := contentTypes[f]; !ok {
		return "output"
	}
	return string(f)
}

// ContentType returns the MIME type served for the format.
func (f Format) ContentType() string {
	if ct, ok := contentTypes[f]; ok {
		return ct
	}
	return "application/octet-stream"
}

// ValidJobID reports whether jobID can name a file directly inside the
// output directory.
func ValidJobID(jobID string) bool {
	if jobID == "" || jobID == "." || jobID == ".." {
		return false
	}
	if strings.ContainsAny(jobID, `/\`+"\x00") || strings.Contains(jobID, "..") {
		return false
	}
	return filepath.Base(jobID) == jobID
}

// FileName is the deterministic artifact name for a job.
func FileName(jobID string, f Format) string {
	return fmt.Sprintf("%s.%s", jobID, f.Ext())
}
