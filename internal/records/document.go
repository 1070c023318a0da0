package records

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Document is the canonical in-memory form of a row's content: a JSON object.
type Document map[string]any

// String returns the string value of key, or "" when absent or not a string.
func (d Document) String(key string) string {
	if v, ok := d[key].(string); ok {
		return v
	}
	return ""
}

// Clone returns a shallow copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// NormalizeDocument accepts a stored content value in any of the representations the
// storage layers produce (a decoded object, raw JSON bytes, or JSON text that itself holds a
// serialized object) and returns it as a Document.
func NormalizeDocument(v any) (Document, error) {
	switch t := v.(type) {
	case nil:
		return Document{}, nil
	case Document:
		return t, nil
	case map[string]any:
		return Document(t), nil
	case json.RawMessage:
		return decodeDocument([]byte(t), 0)
	case []byte:
		return decodeDocument(t, 0)
	case string:
		return decodeDocument([]byte(t), 0)
	default:
		return nil, fmt.Errorf("unsupported document representation %T", v)
	}
}

// maxNesting bounds how many times a document may be string-encoded.
const maxNesting = 2

func decodeDocument(data []byte, depth int) (Document, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return Document{}, nil
	}

	switch data[0] {
	case '{':
		var doc Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
		return doc, nil
	case '"':
		if depth >= maxNesting {
			return nil, fmt.Errorf("document is string-encoded too deeply")
		}
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil, fmt.Errorf("failed to decode serialized document: %w", err)
		}
		return decodeDocument([]byte(inner), depth+1)
	default:
		return nil, fmt.Errorf("document must be a JSON object")
	}
}
