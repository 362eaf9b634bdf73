package models

import "strings"

// HeaderField is one key of a record header. A field holds either a scalar
// value or a list.
type HeaderField struct {
	Key    string
	Value  string
	List   []string
	IsList bool
}

// Header is the flat, ordered key/value block at the top of a record. Key
// order is preserved so rewriting a record keeps unrelated keys in place.
type Header struct {
	fields []HeaderField
	index  map[string]int
}

// NewHeader returns an empty header.
func NewHeader() *Header {
	return &Header{index: make(map[string]int)}
}

// Has reports whether key is present.
func (h *Header) Has(key string) bool {
	_, ok := h.index[key]
	return ok
}

// Get returns the scalar value for key, or "" when absent. List fields return
// their items joined by ", ".
func (h *Header) Get(key string) string {
	i, ok := h.index[key]
	if !ok {
		return ""
	}
	f := h.fields[i]
	if f.IsList {
		return strings.Join(f.List, ", ")
	}
	return f.Value
}

// List returns the list value for key. A scalar field yields a one-item list.
func (h *Header) List(key string) []string {
	i, ok := h.index[key]
	if !ok {
		return nil
	}
	f := h.fields[i]
	if f.IsList {
		return append([]string(nil), f.List...)
	}
	if f.Value == "" {
		return nil
	}
	return []string{f.Value}
}

var newlineFolder = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// Set assigns a scalar value, appending the key if new. Newlines are folded
// to spaces so the header stays one line per key.
func (h *Header) Set(key, value string) {
	value = strings.TrimSpace(newlineFolder.Replace(value))
	h.put(HeaderField{Key: key, Value: value})
}

// SetList assigns a list value, appending the key if new.
func (h *Header) SetList(key string, items []string) {
	h.put(HeaderField{Key: key, List: append([]string{}, items...), IsList: true})
}

func (h *Header) put(f HeaderField) {
	if i, ok := h.index[f.Key]; ok {
		h.fields[i] = f
		return
	}
	h.index[f.Key] = len(h.fields)
	h.fields = append(h.fields, f)
}

// Delete removes key if present.
func (h *Header) Delete(key string) {
	i, ok := h.index[key]
	if !ok {
		return
	}
	h.fields = append(h.fields[:i], h.fields[i+1:]...)
	delete(h.index, key)
	for j := i; j < len(h.fields); j++ {
		h.index[h.fields[j].Key] = j
	}
}

// Keys returns the header keys in order.
func (h *Header) Keys() []string {
	keys := make([]string, len(h.fields))
	for i, f := range h.fields {
		keys[i] = f.Key
	}
	return keys
}

// Fields returns a copy of the ordered fields.
func (h *Header) Fields() []HeaderField {
	out := make([]HeaderField, len(h.fields))
	copy(out, h.fields)
	return out
}

// WithPrefix returns the scalar fields whose key starts with prefix, keyed by
// the remainder of the key.
func (h *Header) WithPrefix(prefix string) map[string]string {
	out := make(map[string]string)
	for _, f := range h.fields {
		if f.IsList || !strings.HasPrefix(f.Key, prefix) {
			continue
		}
		out[strings.TrimPrefix(f.Key, prefix)] = f.Value
	}
	return out
}

// Len returns the number of keys.
func (h *Header) Len() int {
	return len(h.fields)
}
