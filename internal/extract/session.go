// File: internal/extract/session.go
package extract

import (
	"encoding/base64"
	"fmt"
	"strconv"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// sessionPayload is the JSON document the challenge keeps obfuscated in
// session storage. The codes table is an array indexed by the step number
// the code must be submitted on; older payload revisions used a map keyed
// by the step number, so both shapes are accepted.
type sessionPayload struct {
	Codes jsoniter.RawMessage `json:"codes"`
}

// XORTransform applies the repeating-key XOR the challenge uses to obfuscate
// its session payload. The transform is an involution: applying it twice
// with the same key returns the input.
func XORTransform(data []byte, key string) []byte {
	if key == "" {
		return data
	}
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ key[i%len(key)]
	}
	return out
}

// EncodeSessionPayload applies the obfuscation in the write direction: XOR,
// then base64.
func EncodeSessionPayload(plain []byte, key string) string {
	return base64.StdEncoding.EncodeToString(XORTransform(plain, key))
}

// DecodeSessionPayload reverses the challenge's obfuscation: base64 decode,
// repeating-key XOR, then JSON parse. The returned table maps step numbers
// to codes.
func DecodeSessionPayload(raw, key string) (map[int]string, error) {
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("session payload is not valid base64: %w", err)
	}
	plain := XORTransform(decoded, key)

	var payload sessionPayload
	if err := json.Unmarshal(plain, &payload); err != nil {
		return nil, fmt.Errorf("session payload is not valid JSON after decryption: %w", err)
	}
	if len(payload.Codes) == 0 {
		return nil, fmt.Errorf("session payload has no codes table")
	}

	codes := make(map[int]string)
	var asArray []string
	if err := json.Unmarshal(payload.Codes, &asArray); err == nil {
		for i, c := range asArray {
			codes[i] = c
		}
		return codes, nil
	}
	var asMap map[string]string
	if err := json.Unmarshal(payload.Codes, &asMap); err != nil {
		return nil, fmt.Errorf("session payload codes table has an unknown shape")
	}
	for k, c := range asMap {
		n, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		codes[n] = c
	}
	return codes, nil
}

// SessionCode returns the code for one step from a decoded payload.
func SessionCode(codes map[int]string, step int) (string, bool) {
	code, ok := codes[step]
	if !ok || !ValidCode(code) {
		return "", false
	}
	return code, true
}

// MarkStepCompleted records a step in the payload's completed list and
// re-encrypts. Every other field, the codes table included, passes through
// untouched. The last step has no code to submit; writing it into the
// completed list is how the page itself is told the run is done.
func MarkStepCompleted(raw, key string, step int) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("session payload is not valid base64: %w", err)
	}
	plain := XORTransform(decoded, key)

	var doc map[string]any
	if err := json.Unmarshal(plain, &doc); err != nil {
		return "", fmt.Errorf("session payload is not valid JSON after decryption: %w", err)
	}

	completed, _ := doc["completed"].([]any)
	present := false
	for _, v := range completed {
		if n, ok := v.(float64); ok && int(n) == step {
			present = true
			break
		}
	}
	if !present {
		completed = append(completed, step)
	}
	doc["completed"] = completed

	out, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("re-encode session payload: %w", err)
	}
	return EncodeSessionPayload(out, key), nil
}
