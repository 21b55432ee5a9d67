// Package frontmatter parses and serializes a Markdown document as a
// structured header plus a free-form body, following the same
// regex-delimited section convention the markdown syncer builds on.
package frontmatter

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// frontmatterRegex matches a leading "---\n<header>\n---\n" block. It is
// compiled once at package init, in the style of the section-header
// regexes a Markdown-aware caller would compile alongside it.
var frontmatterRegex = regexp.MustCompile(`(?s)\A---\r?\n(.*?)\r?\n---\r?\n?`)

// Header is an order-preserving string-keyed map. Plain Go maps don't
// preserve insertion order, so round-tripping a file's frontmatter
// through one would silently reorder unrelated keys on every sync.
type Header struct {
	keys   []string
	values map[string]any
}

// NewHeader returns an empty, order-preserving Header.
func NewHeader() *Header {
	return &Header{values: map[string]any{}}
}

// Set assigns key, appending it to the key order the first time it is seen.
func (h *Header) Set(key string, value any) {
	if h.values == nil {
		h.values = map[string]any{}
	}
	if _, ok := h.values[key]; !ok {
		h.keys = append(h.keys, key)
	}
	h.values[key] = value
}

// Get returns the value for key and whether it was present.
func (h *Header) Get(key string) (any, bool) {
	if h == nil || h.values == nil {
		return nil, false
	}
	v, ok := h.values[key]
	return v, ok
}

// GetString returns key's value rendered as a string, or "" if absent.
func (h *Header) GetString(key string) string {
	v, ok := h.Get(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Keys returns the header's keys in insertion order.
func (h *Header) Keys() []string {
	if h == nil {
		return nil
	}
	return append([]string(nil), h.keys...)
}

// Len reports how many keys the header holds.
func (h *Header) Len() int {
	if h == nil {
		return 0
	}
	return len(h.keys)
}

// Parse splits text into (header, body). When no valid "---" delimited
// header is found, or the header fails to parse as YAML, Parse never
// errors — it returns an empty header and the stripped full text, per
// the syncer's "never throws" contract.
func Parse(text string) (*Header, string) {
	loc := frontmatterRegex.FindStringSubmatchIndex(text)
	if loc == nil {
		return NewHeader(), strings.TrimSpace(text)
	}

	raw := text[loc[2]:loc[3]]
	body := strings.TrimSpace(text[loc[1]:])

	var node yaml.Node
	if err := yaml.Unmarshal([]byte(raw), &node); err != nil {
		return NewHeader(), strings.TrimSpace(text)
	}
	if len(node.Content) == 0 || node.Content[0].Kind != yaml.MappingNode {
		return NewHeader(), strings.TrimSpace(text)
	}

	header := NewHeader()
	mapping := node.Content[0]
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		keyNode := mapping.Content[i]
		valNode := mapping.Content[i+1]
		var val any
		if err := valNode.Decode(&val); err != nil {
			continue
		}
		header.Set(keyNode.Value, val)
	}
	return header, body
}

// Serialize renders (header, body) back to text: "---", the header as
// order-preserving YAML, "---", a blank line, the body, and a trailing
// newline.
func Serialize(header *Header, body string) string {
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.WriteString(serializeHeader(header))
	buf.WriteString("---\n\n")
	buf.WriteString(strings.TrimRight(body, "\n"))
	buf.WriteString("\n")
	return buf.String()
}

func serializeHeader(header *Header) string {
	if header == nil || header.Len() == 0 {
		return ""
	}
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, k := range header.Keys() {
		v, _ := header.Get(k)
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: k}
		valNode := &yaml.Node{}
		_ = valNode.Encode(v)
		node.Content = append(node.Content, keyNode, valNode)
	}
	doc := &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{node}}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return ""
	}
	return string(out)
}

// requiredStoryKeys are the header keys every story file must carry.
var requiredStoryKeys = []string{"epic", "story_num", "title", "status"}

// Validate checks for the presence of the required story keys, returning
// the subset that is missing.
func Validate(header *Header) []string {
	var missing []string
	for _, k := range requiredStoryKeys {
		if _, ok := header.Get(k); !ok {
			missing = append(missing, k)
		}
	}
	return missing
}
