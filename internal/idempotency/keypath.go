package idempotency

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jmespath/go-jmespath"
)

// KeyPath is a compiled JMESPath expression used to pull a fragment out of a payload.
type KeyPath struct {
	expr     string
	compiled *jmespath.JMESPath
}

// CompileKeyPath compiles expr. An empty expr selects the whole document.
func CompileKeyPath(expr string) (*KeyPath, error) {
	if expr == "" {
		return &KeyPath{}, nil
	}
	compiled, err := jmespath.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile jmespath %q: %w", expr, err)
	}
	return &KeyPath{expr: expr, compiled: compiled}, nil
}

// String returns the source expression.
func (k *KeyPath) String() string { return k.expr }

// Search evaluates the expression against a normalized document.
func (k *KeyPath) Search(doc any) (any, error) {
	if k == nil || k.compiled == nil {
		return doc, nil
	}
	out, err := k.compiled.Search(doc)
	if err != nil {
		return nil, fmt.Errorf("search jmespath %q: %w", k.expr, err)
	}
	return out, nil
}

// NormalizePayload turns a payload into the generic tree JMESPath operates on.
// Raw JSON ([]byte, json.RawMessage) is decoded; other values, strings included,
// are round-tripped through encoding/json. Numbers are kept as json.Number so large
// identifiers hash exactly.
func NormalizePayload(payload any) (any, error) {
	var raw []byte
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case []byte:
		raw = v
	case json.RawMessage:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		raw = b
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return doc, nil
}
