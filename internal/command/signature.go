package command

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/text/unicode/norm"
)

// DomainSignature prefixes signature hashes. The version suffix allows the
// canonical form to change without colliding with stored signatures.
const DomainSignature = "evalbot/command/v1"

// Signature returns a stable identity for what the command asks for.
//
// Two texts that recognize to the same kind, options, arguments, and help
// flag share a signature, so an edit that only changes, say, the order of
// flags is a no-op. NotRecognized results have an empty signature.
func (r Result) Signature() string {
	var obj map[string]any
	switch r.Outcome {
	case Recognized:
		opts := make(map[string]any, len(r.Command.Options))
		for k, v := range r.Command.Options {
			opts[k] = v
		}
		obj = map[string]any{
			"kind":    string(r.Command.Kind),
			"options": opts,
			"args":    r.Command.Args,
			"help":    r.Command.Help,
		}
	case Invalid:
		token := ""
		if r.Err != nil {
			token = r.Err.Token
		}
		obj = map[string]any{
			"kind":    string(r.Command.Kind),
			"invalid": token,
		}
	default:
		return ""
	}

	data, err := marshalCanonical(obj)
	if err != nil {
		// Only strings, bools, and maps of those are ever passed in.
		panic(fmt.Sprintf("command signature: %v", err))
	}
	return hashWithDomain(DomainSignature, data)
}

// hashWithDomain computes SHA256(domain + 0x00 + data) as hex.
// The null separator keeps domain and data from running together.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// marshalCanonical writes JSON with sorted keys, NFC-normalized strings, and
// no HTML escaping. Equal values always produce equal bytes.
func marshalCanonical(v any) ([]byte, error) {
	switch val := v.(type) {
	case string:
		return marshalCanonicalString(val)
	case bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case map[string]any:
		return marshalCanonicalObject(val)
	default:
		return nil, fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
}

func marshalCanonicalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

func marshalCanonicalObject(obj map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := marshalCanonicalString(k)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := marshalCanonical(obj[k])
		if err != nil {
			return nil, fmt.Errorf("value for key %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
