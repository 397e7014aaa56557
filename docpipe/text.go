package docpipe

import (
	"os"
	"strings"
)

// extractText extracts content from a plain text file. Intra-line spacing is
// preserved — the loose table detector keys on multi-space runs.
func extractText(path string) (string, []Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}

	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil, nil
	}

	return firstLine(text), []Page{{Number: 1, Text: text}}, nil
}

// firstLine returns the first non-empty line of text, trimmed.
func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
