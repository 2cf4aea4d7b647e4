package atlassian

import (
	"encoding/json"
	"strings"
)

// ADF is an Atlassian Document Format node. Jira v3 takes descriptions and
// comments in this form instead of plain text.
type ADF struct {
	Type    string `json:"type"`
	Version int    `json:"version,omitempty"`
	Text    string `json:"text,omitempty"`
	Content []ADF  `json:"content,omitempty"`
}

// PlainADF wraps text in a document, one paragraph per blank-line separated
// block.
func PlainADF(text string) ADF {
	doc := ADF{Type: "doc", Version: 1}
	for _, block := range strings.Split(text, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		doc.Content = append(doc.Content, ADF{
			Type:    "paragraph",
			Content: []ADF{{Type: "text", Text: block}},
		})
	}
	if len(doc.Content) == 0 {
		doc.Content = []ADF{{Type: "paragraph"}}
	}
	return doc
}

// ADFText flattens a raw ADF document back to plain text. Unknown or
// malformed input yields "".
func ADFText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var doc ADF
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}

	var paragraphs []string
	for _, block := range doc.Content {
		var b strings.Builder
		collectText(&b, block)
		if t := strings.TrimSpace(b.String()); t != "" {
			paragraphs = append(paragraphs, t)
		}
	}
	return strings.Join(paragraphs, "\n\n")
}

func collectText(b *strings.Builder, n ADF) {
	if n.Type == "text" {
		b.WriteString(n.Text)
	}
	if n.Type == "hardBreak" {
		b.WriteString("\n")
	}
	for _, child := range n.Content {
		collectText(b, child)
	}
}
