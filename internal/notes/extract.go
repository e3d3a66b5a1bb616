// Package notes extracts reviewable chunks from a markdown vault and
// reconciles them with the chunk store.
package notes

import (
	"bufio"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/memoai/memopush/internal/domain"
)

const (
	importancePrefix = "importance:"
	reviewPrefix     = "review:"
)

// Section is one reviewable piece of a note: a heading plus the prose
// under it, up to the next heading.
type Section struct {
	Heading    string
	Content    string
	Importance domain.ImportanceLevel
}

// ExtractFile reads a markdown file and extracts its sections.
func ExtractFile(path string) ([]Section, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Extract(file)
}

// Extract splits markdown into heading-delimited sections. Prose before
// the first heading becomes its own section with an empty heading.
// Directive lines inside a section are dropped from the content:
// "importance: high" sets its importance (default medium), and
// "review: false" excludes the section entirely.
func Extract(r io.Reader) ([]Section, error) {
	scanner := bufio.NewScanner(r)
	var sections []Section
	var current Section
	var block []string
	var skip bool
	current.Importance = domain.ImportanceMedium

	finishSection := func() {
		current.Content = strings.TrimSpace(strings.Join(block, "\n"))
		if !skip && (current.Content != "" || current.Heading != "") {
			if current.Heading != "" {
				current.Content = strings.TrimSpace(current.Heading + "\n" + current.Content)
			}
			if current.Content != "" {
				sections = append(sections, current)
			}
		}
		current = Section{Importance: domain.ImportanceMedium}
		block = nil
		skip = false
	}

	for scanner.Scan() {
		line := scanner.Text()

		if isHeading(line) {
			finishSection()
			current.Heading = line
			continue
		}

		trimmed := strings.ToLower(strings.TrimSpace(line))
		if strings.HasPrefix(trimmed, importancePrefix) {
			value := strings.TrimSpace(strings.TrimPrefix(trimmed, importancePrefix))
			switch value {
			case "low":
				current.Importance = domain.ImportanceLow
			case "medium":
				current.Importance = domain.ImportanceMedium
			case "high":
				current.Importance = domain.ImportanceHigh
			}
			continue
		}
		if strings.HasPrefix(trimmed, reviewPrefix) {
			value := strings.TrimSpace(strings.TrimPrefix(trimmed, reviewPrefix))
			if value == "false" || value == "no" || value == "skip" {
				skip = true
			}
			continue
		}

		block = append(block, line)
	}
	finishSection()

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return sections, nil
}

func isHeading(line string) bool {
	rest := strings.TrimLeft(line, "#")
	return len(rest) < len(line) && strings.HasPrefix(rest, " ")
}

// Normalize lowercases, trims and converts CRLF line endings so that
// cosmetic edits do not change a section's identity.
func Normalize(content string) string {
	c := strings.ToLower(content)
	c = strings.TrimSpace(c)
	c = strings.ReplaceAll(c, "\r\n", "\n")
	return c
}

// Hash returns the SHA-256 of the normalized content as a hex string.
func Hash(content string) string {
	sum := sha256.Sum256([]byte(Normalize(content)))
	return fmt.Sprintf("%x", sum)
}
