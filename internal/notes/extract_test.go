package notes

import (
	"strings"
	"testing"

	"github.com/memoai/memopush/internal/domain"
)

func TestExtract(t *testing.T) {
	testCases := []struct {
		name               string
		input              string
		expectedSections   int
		expectedContent    string
		expectedImportance domain.ImportanceLevel
	}{
		{
			name:               "Single heading with body",
			input:              "## Goroutines\nGoroutines are lightweight threads.",
			expectedSections:   1,
			expectedContent:    "## Goroutines\nGoroutines are lightweight threads.",
			expectedImportance: domain.ImportanceMedium,
		},
		{
			name:               "Preamble before first heading",
			input:              "Intro text.\n\n## First\nBody.",
			expectedSections:   2,
			expectedContent:    "Intro text.",
			expectedImportance: domain.ImportanceMedium,
		},
		{
			name:               "Importance directive",
			input:              "## Channels\nimportance: high\nChannels synchronize goroutines.",
			expectedSections:   1,
			expectedContent:    "## Channels\nChannels synchronize goroutines.",
			expectedImportance: domain.ImportanceHigh,
		},
		{
			name:               "Unknown importance keeps default",
			input:              "## Select\nimportance: critical\nThe select statement.",
			expectedSections:   1,
			expectedContent:    "## Select\nThe select statement.",
			expectedImportance: domain.ImportanceMedium,
		},
		{
			name:               "Review false excludes the section",
			input:              "## Draft\nreview: false\nNot ready yet.\n\n## Keep\nBody.",
			expectedSections:   1,
			expectedContent:    "## Keep\nBody.",
			expectedImportance: domain.ImportanceMedium,
		},
		{
			name:             "Multiple headings",
			input:            "# One\na\n## Two\nb\n### Three\nc",
			expectedSections: 3,
		},
		{
			name:               "Heading with empty body",
			input:              "## Placeholder",
			expectedSections:   1,
			expectedContent:    "## Placeholder",
			expectedImportance: domain.ImportanceMedium,
		},
		{
			name:             "Blank input",
			input:            "\n\n",
			expectedSections: 0,
		},
		{
			name:             "Hash marks without space are not headings",
			input:            "#hashtag text only",
			expectedSections: 1,
			expectedContent:  "#hashtag text only",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sections, err := Extract(strings.NewReader(tc.input))
			if err != nil {
				t.Fatalf("Extract() returned an unexpected error: %v", err)
			}
			if len(sections) != tc.expectedSections {
				t.Fatalf("Expected %d sections, but got %d: %+v", tc.expectedSections, len(sections), sections)
			}
			if tc.expectedContent != "" {
				if sections[0].Content != tc.expectedContent {
					t.Errorf("Expected content %q, but got %q", tc.expectedContent, sections[0].Content)
				}
			}
			if tc.expectedImportance != "" {
				if sections[0].Importance != tc.expectedImportance {
					t.Errorf("Expected importance %s, but got %s", tc.expectedImportance, sections[0].Importance)
				}
			}
		})
	}
}

func TestHashIgnoresCosmeticDifferences(t *testing.T) {
	base := Hash("## Goroutines\nLightweight threads.")
	if Hash("  ## Goroutines\nLightweight threads.  ") != base {
		t.Error("surrounding whitespace changed the hash")
	}
	if Hash("## GOROUTINES\nLIGHTWEIGHT THREADS.") != base {
		t.Error("letter case changed the hash")
	}
	if Hash("## Goroutines\r\nLightweight threads.") != base {
		t.Error("CRLF line endings changed the hash")
	}
	if Hash("## Goroutines\nHeavyweight threads.") == base {
		t.Error("different content produced the same hash")
	}
}
