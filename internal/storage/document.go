// Package storage persists task records, the ingestion registry, and their
// on-disk document format.
package storage

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/valter-silva-au/vaultq/pkg/models"
	"gopkg.in/yaml.v3"
)

// headerDelimiter opens and closes the header block of a record.
const headerDelimiter = "---"

// ParseDocument splits raw record content into header and body. Content that
// does not open with a delimiter line, or never closes it, is returned with an
// empty header and the whole text as body.
func ParseDocument(data []byte) (h *models.Header, body string, ok bool) {
	text := strings.TrimPrefix(string(data), "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")

	lines := strings.SplitAfter(text, "\n")
	start := -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if trimmed == headerDelimiter {
			start = i
		}
		break
	}
	if start < 0 {
		return models.NewHeader(), text, false
	}

	end := -1
	for i := start + 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == headerDelimiter {
			end = i
			break
		}
	}
	if end < 0 {
		return models.NewHeader(), text, false
	}

	block := strings.Join(lines[start+1:end], "")
	body = strings.Join(lines[end+1:], "")
	return parseHeader(block), body, true
}

// parseHeader decodes a header block with yaml.v3, keeping key order. Blocks
// that are not valid YAML (values with unquoted ": " are common in hand-edited
// records) fall back to a line-based reader, as do blocks where YAML would
// read part of a value as a trailing comment.
func parseHeader(block string) *models.Header {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(block), &doc); err == nil && !hasLineComment(&doc) {
		if h, ok := headerFromNode(&doc); ok {
			return h
		}
	}
	return parseHeaderLines(block)
}

// hasLineComment reports whether any node carries a trailing comment. In a
// flat header that is text like "issue #42" cut from the end of a value.
func hasLineComment(n *yaml.Node) bool {
	if n.LineComment != "" {
		return true
	}
	for _, c := range n.Content {
		if hasLineComment(c) {
			return true
		}
	}
	return false
}

func headerFromNode(doc *yaml.Node) (*models.Header, bool) {
	h := models.NewHeader()
	if doc.Kind == 0 {
		return h, true
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 {
		return nil, false
	}
	m := doc.Content[0]
	if m.Kind == yaml.ScalarNode && m.Value == "" {
		return h, true
	}
	if m.Kind != yaml.MappingNode {
		return nil, false
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		key, val := m.Content[i], m.Content[i+1]
		switch val.Kind {
		case yaml.ScalarNode:
			h.Set(key.Value, val.Value)
		case yaml.SequenceNode:
			items := make([]string, 0, len(val.Content))
			for _, item := range val.Content {
				items = append(items, item.Value)
			}
			h.SetList(key.Value, items)
		default:
			// Nested values are outside the flat contract; keep their text.
			raw, err := yaml.Marshal(val)
			if err != nil {
				return nil, false
			}
			h.Set(key.Value, strings.TrimSpace(string(raw)))
		}
	}
	return h, true
}

// parseHeaderLines reads "key: value" lines, taking the remainder of the line
// after the first colon as the value, and "- item" lines as list items of the
// preceding key.
func parseHeaderLines(block string) *models.Header {
	h := models.NewHeader()
	var listKey string
	var listItems []string
	flush := func() {
		if listKey != "" {
			h.SetList(listKey, listItems)
		}
		listKey, listItems = "", nil
	}

	scanner := bufio.NewScanner(strings.NewReader(block))
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if strings.HasPrefix(trimmed, "- ") || trimmed == "-" {
			if listKey != "" {
				listItems = append(listItems, unquote(strings.TrimSpace(strings.TrimPrefix(trimmed, "-"))))
			}
			continue
		}
		key, value, found := strings.Cut(trimmed, ":")
		if !found {
			continue
		}
		flush()
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch {
		case value == "":
			listKey = key
			h.Set(key, "")
		case strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]"):
			h.SetList(key, splitInlineList(value))
		default:
			h.Set(key, unquote(value))
		}
	}
	flush()
	return h
}

func splitInlineList(value string) []string {
	inner := strings.TrimSpace(value[1 : len(value)-1])
	if inner == "" {
		return []string{}
	}
	parts := strings.Split(inner, ",")
	items := make([]string, 0, len(parts))
	for _, p := range parts {
		items = append(items, unquote(strings.TrimSpace(p)))
	}
	return items
}

func unquote(s string) string {
	return strings.Trim(s, `"'`)
}

// RenderDocument serializes a header and body back into the delimiter-bounded
// on-disk shape. Values are written plain where YAML allows and quoted only
// when they would otherwise not read back verbatim.
func RenderDocument(h *models.Header, body string) ([]byte, error) {
	mapping := &yaml.Node{Kind: yaml.MappingNode}
	for _, f := range h.Fields() {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: f.Key}
		var valNode *yaml.Node
		if f.IsList {
			valNode = &yaml.Node{Kind: yaml.SequenceNode}
			if len(f.List) == 0 {
				valNode.Style = yaml.FlowStyle
			}
			for _, item := range f.List {
				valNode.Content = append(valNode.Content, scalarNode(item))
			}
		} else {
			valNode = scalarNode(f.Value)
		}
		mapping.Content = append(mapping.Content, keyNode, valNode)
	}

	var buf bytes.Buffer
	buf.WriteString(headerDelimiter + "\n")
	if len(mapping.Content) > 0 {
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(mapping); err != nil {
			return nil, fmt.Errorf("encoding record header: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encoding record header: %w", err)
		}
	}
	buf.WriteString(headerDelimiter + "\n")
	buf.WriteString(body)
	return buf.Bytes(), nil
}

func scalarNode(v string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.ScalarNode, Value: v}
	if v == "" {
		n.Style = yaml.DoubleQuotedStyle
	}
	return n
}

// DecodeRecord parses raw content into a record named name in folder f.
func DecodeRecord(name string, f models.Folder, data []byte) *models.TaskRecord {
	h, body, ok := ParseDocument(data)
	return &models.TaskRecord{
		Name:      name,
		Folder:    f,
		Header:    h,
		Body:      body,
		HasHeader: ok,
	}
}

// EncodeRecord renders a record to its on-disk bytes.
func EncodeRecord(rec *models.TaskRecord) ([]byte, error) {
	return RenderDocument(rec.Header, rec.Body)
}
