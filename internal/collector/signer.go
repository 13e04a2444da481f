package collector

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Params are request parameters. Values are strings, string slices or
// scalars printable with fmt.
type Params map[string]any

// Clone returns a shallow copy of p.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Signer computes Mixpanel request signatures
type Signer struct {
	secret string
}

// NewSigner creates a signer for the given API secret
func NewSigner(secret string) *Signer {
	return &Signer{secret: secret}
}

// Sign returns md5(k1=v1k2=v2...secret) over the keys in sorted order.
// Slice values keep their element order.
func (s *Signer) Sign(params Params) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(formatParam(params[k]))
	}
	b.WriteString(s.secret)

	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Format renders every value as the string that is both signed and sent.
func (p Params) Format() map[string]string {
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = formatParam(v)
	}
	return out
}

// formatParam renders slices as ["a", "b"]: JSON string elements joined by
// ", " in their original order.
func formatParam(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []string:
		quoted := make([]string, len(x))
		for i, e := range x {
			b, err := json.Marshal(e)
			if err != nil {
				b = []byte(`""`)
			}
			quoted[i] = string(b)
		}
		return "[" + strings.Join(quoted, ", ") + "]"
	default:
		return fmt.Sprint(x)
	}
}
