package plan

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// DiffSummary describes how the plan file changed between two reads.
type DiffSummary struct {
	Added   int
	Removed int
	Text    string
}

// Empty reports whether nothing changed.
func (d DiffSummary) Empty() bool {
	return d.Added == 0 && d.Removed == 0
}

func (d DiffSummary) String() string {
	return fmt.Sprintf("+%d -%d lines", d.Added, d.Removed)
}

// Diff returns a unified diff between two versions of the plan file.
func Diff(before, after []byte, name string) (DiffSummary, error) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(before)),
		B:        difflib.SplitLines(string(after)),
		FromFile: name + " (last write)",
		ToFile:   name,
		Context:  2,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return DiffSummary{}, fmt.Errorf("diff %s: %w", name, err)
	}

	summary := DiffSummary{Text: text}
	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			summary.Added++
		case strings.HasPrefix(line, "-"):
			summary.Removed++
		}
	}
	return summary, nil
}
