package docpipe

import (
	"os"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// extractHTMLFile extracts the visible text of an HTML file, one line per
// block-level element. Script, style and head content is skipped.
func extractHTMLFile(path string) (string, []Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}

	root, err := html.Parse(strings.NewReader(string(data)))
	if err != nil {
		return "", nil, err
	}

	var lines []string
	var current strings.Builder
	var title string

	flush := func() {
		if line := strings.TrimSpace(current.String()); line != "" {
			lines = append(lines, line)
		}
		current.Reset()
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			case atom.Title:
				if title == "" && n.FirstChild != nil {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			case atom.Br:
				flush()
			}
		}
		if n.Type == html.TextNode {
			text := strings.Join(strings.Fields(n.Data), " ")
			if text != "" {
				if current.Len() > 0 {
					current.WriteByte(' ')
				}
				current.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode {
			// Tab-delimit table cells so the grid detector sees the structure.
			if n.DataAtom == atom.Td || n.DataAtom == atom.Th {
				current.WriteByte('\t')
			}
			if isBlockElement(n.DataAtom) {
				flush()
			}
		}
	}
	walk(root)
	flush()

	if len(lines) == 0 {
		return "", nil, nil
	}
	if title == "" {
		title = lines[0]
	}

	return title, []Page{{Number: 1, Text: strings.Join(lines, "\n")}}, nil
}

func isBlockElement(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Li, atom.Tr, atom.Table, atom.Section, atom.Article, atom.Blockquote, atom.Pre:
		return true
	}
	return false
}
