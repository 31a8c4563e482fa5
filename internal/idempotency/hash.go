package idempotency

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"log/slog"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// DefaultHashFunction is used when no algorithm is configured or the configured one is unknown.
const DefaultHashFunction = "MD5"

var hashFactories = map[string]func() hash.Hash{
	"MD5":     md5.New,
	"SHA-1":   sha1.New,
	"SHA1":    sha1.New,
	"SHA-256": sha256.New,
	"SHA256":  sha256.New,
	"SHA-512": sha512.New,
	"SHA512":  sha512.New,
	"XXH64":   func() hash.Hash { return xxhash.New() },
}

// Hasher digests JSON document fragments.
type Hasher struct {
	name    string
	factory func() hash.Hash
}

// NewHasher resolves algorithm by name. Unknown names fall back to MD5 with a warning.
func NewHasher(algorithm string, logger *slog.Logger) *Hasher {
	name := strings.ToUpper(strings.TrimSpace(algorithm))
	if name == "" {
		name = DefaultHashFunction
	}
	factory, ok := hashFactories[name]
	if !ok {
		if logger != nil {
			logger.Warn("unknown hash function, falling back to MD5", "hash_function", algorithm)
		}
		name = DefaultHashFunction
		factory = hashFactories[DefaultHashFunction]
	}
	return &Hasher{name: name, factory: factory}
}

// Algorithm returns the resolved algorithm name.
func (h *Hasher) Algorithm() string { return h.name }

// Hash returns the lower-case hex digest of node. Objects and arrays are hashed from
// their canonical JSON text; scalars from their natural string form, so 42 and "42"
// produce the same digest.
func (h *Hasher) Hash(node any) (string, error) {
	text, err := hashInput(node)
	if err != nil {
		return "", err
	}
	d := h.factory()
	d.Write([]byte(text))
	return hex.EncodeToString(d.Sum(nil)), nil
}

func hashInput(node any) (string, error) {
	switch v := node.(type) {
	case nil:
		return "null", nil
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v), nil
	default:
		b, err := canonicalJSON(v)
		if err != nil {
			return "", fmt.Errorf("canonical json: %w", err)
		}
		return string(b), nil
	}
}

// canonicalJSON encodes v with sorted object keys and without HTML escaping.
func canonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// IsMissing reports whether an extracted key carries no usable data: null, or a
// container whose elements are all null (empty containers included).
func IsMissing(node any) bool {
	switch v := node.(type) {
	case nil:
		return true
	case map[string]any:
		for _, e := range v {
			if e != nil {
				return false
			}
		}
		return true
	case []any:
		for _, e := range v {
			if e != nil {
				return false
			}
		}
		return true
	}
	return false
}
