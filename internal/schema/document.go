package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// HeadersKey is the reserved document key carrying the spreadsheet header row.
// It is kept verbatim but never rendered or remapped.
const HeadersKey = "headers"

// FieldEntry is one row of a mapping document.
type FieldEntry struct {
	Title   string `json:"title"`
	Content string `json:"content"`

	// Resolution hints produced by the inference service. They are passed
	// through to the pipeline service untouched.
	Column      *int    `json:"column,omitempty"`
	Constant    *string `json:"constant,omitempty"`
	UseFilename *bool   `json:"useFilename,omitempty"`
}

func (e FieldEntry) clone() FieldEntry {
	out := e
	if e.Column != nil {
		v := *e.Column
		out.Column = &v
	}
	if e.Constant != nil {
		v := *e.Constant
		out.Constant = &v
	}
	if e.UseFilename != nil {
		v := *e.UseFilename
		out.UseFilename = &v
	}
	return out
}

// MappingDocument maps field keys to entries. It remembers the order keys were
// first seen in so that encoding and rendering follow the inference service's order.
type MappingDocument struct {
	keys    []string
	fields  map[string]FieldEntry
	headers json.RawMessage
}

// NewMappingDocument returns an empty document.
func NewMappingDocument() MappingDocument {
	return MappingDocument{fields: make(map[string]FieldEntry)}
}

// Set installs entry under key. A new key is appended to the key order, an
// existing key keeps its position.
func (d *MappingDocument) Set(key string, entry FieldEntry) {
	if d.fields == nil {
		d.fields = make(map[string]FieldEntry)
	}
	if key == HeadersKey {
		d.headers = nil
	}
	if !slices.Contains(d.keys, key) {
		d.keys = append(d.keys, key)
	}
	d.fields[key] = entry.clone()
}

// SetHeaders stores the spreadsheet header row under the reserved key.
func (d *MappingDocument) SetHeaders(headers []string) error {
	raw, err := json.Marshal(headers)
	if err != nil {
		return fmt.Errorf("failed to encode headers: %w", err)
	}
	d.setRawHeaders(raw)
	return nil
}

func (d *MappingDocument) setRawHeaders(raw json.RawMessage) {
	var compacted bytes.Buffer
	if err := json.Compact(&compacted, raw); err != nil {
		compacted.Reset()
		compacted.Write(raw)
	}
	delete(d.fields, HeadersKey)
	if !slices.Contains(d.keys, HeadersKey) {
		d.keys = append(d.keys, HeadersKey)
	}
	d.headers = compacted.Bytes()
}

// Entry returns the entry stored under key.
func (d MappingDocument) Entry(key string) (FieldEntry, bool) {
	entry, ok := d.fields[key]
	if !ok {
		return FieldEntry{}, false
	}
	return entry.clone(), true
}

// Keys returns the document keys in order, including the reserved key when present.
func (d MappingDocument) Keys() []string {
	return slices.Clone(d.keys)
}

// Len counts field entries. The raw header row is not a field entry.
func (d MappingDocument) Len() int {
	return len(d.fields)
}

// Headers decodes the reserved header row. It returns nil when the row is
// absent or is not a list of strings.
func (d MappingDocument) Headers() []string {
	if d.headers == nil {
		return nil
	}
	var headers []string
	if err := json.Unmarshal(d.headers, &headers); err != nil {
		return nil
	}
	return headers
}

// Clone returns a deep copy of the document.
func (d MappingDocument) Clone() MappingDocument {
	out := MappingDocument{
		keys:    slices.Clone(d.keys),
		headers: bytes.Clone(d.headers),
	}
	if d.fields != nil {
		out.fields = make(map[string]FieldEntry, len(d.fields))
		for key, entry := range d.fields {
			out.fields[key] = entry.clone()
		}
	}
	return out
}

func (d *MappingDocument) setContent(key, content string) bool {
	entry, ok := d.fields[key]
	if !ok {
		return false
	}
	entry.Content = content
	d.fields[key] = entry
	return true
}

// MarshalJSON encodes the document as a flat JSON object in key order.
func (d MappingDocument) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		encodedKey, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(encodedKey)
		buf.WriteByte(':')

		if key == HeadersKey && d.headers != nil {
			buf.Write(d.headers)
			continue
		}
		value, err := json.Marshal(d.fields[key])
		if err != nil {
			return nil, fmt.Errorf("failed to encode field %q: %w", key, err)
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a flat JSON object of key -> {title, content}. The
// reserved headers value is kept as raw JSON whatever its shape.
func (d *MappingDocument) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("mapping document must be a JSON object, got %v", tok)
	}

	doc := NewMappingDocument()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v in mapping document", tok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		if key == HeadersKey {
			doc.setRawHeaders(raw)
			continue
		}

		var entry FieldEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		doc.Set(key, entry)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*d = doc
	return nil
}
