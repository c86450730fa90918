// File: internal/extract/code_test.go
package extract

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidCode(t *testing.T) {
	tests := []struct {
		name  string
		code  string
		valid bool
	}{
		{name: "should accept an uppercase alphanumeric token", code: "A1B2C3", valid: true},
		{name: "should accept an all-digit token", code: "123456", valid: true},
		{name: "should reject a lowercase token", code: "a1b2c3", valid: false},
		{name: "should reject a short token", code: "A1B2C", valid: false},
		{name: "should reject a long token", code: "A1B2C3D", valid: false},
		{name: "should reject the word SUBMIT", code: "SUBMIT", valid: false},
		{name: "should reject the word BUTTON", code: "BUTTON", valid: false},
		{name: "should reject the word HIDDEN", code: "HIDDEN", valid: false},
		{name: "should reject step labels", code: "STEP12", valid: false},
		{name: "should reject an empty string", code: "", valid: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.valid, ValidCode(tc.code))
		})
	}
}

func TestFindCodes(t *testing.T) {
	t.Run("should find codes embedded in text", func(t *testing.T) {
		text := "Your code is XK42ZP. Also try 9Q8W7E somewhere else."
		assert.Equal(t, []string{"XK42ZP", "9Q8W7E"}, FindCodes(text))
	})

	t.Run("should drop false-positive words and duplicates", func(t *testing.T) {
		text := "SUBMIT the form. Code XK42ZP appears twice: XK42ZP."
		assert.Equal(t, []string{"XK42ZP"}, FindCodes(text))
	})

	t.Run("should return nothing for plain prose", func(t *testing.T) {
		assert.Empty(t, FindCodes("click the button below to continue"))
	})
}

func TestXORTransform(t *testing.T) {
	t.Run("should be its own inverse", func(t *testing.T) {
		key := "WO_2024_CHALLENGE"
		plain := []byte(`{"codes":["XK42ZP","9Q8W7E"]}`)

		scrambled := XORTransform(plain, key)
		require.NotEqual(t, plain, scrambled)
		assert.Equal(t, plain, XORTransform(scrambled, key))
	})

	t.Run("should pass data through with an empty key", func(t *testing.T) {
		plain := []byte("unchanged")
		assert.Equal(t, plain, XORTransform(plain, ""))
	})
}

func TestDecodeSessionPayload(t *testing.T) {
	const key = "WO_2024_CHALLENGE"

	encode := func(t *testing.T, payload string) string {
		t.Helper()
		return base64.StdEncoding.EncodeToString(XORTransform([]byte(payload), key))
	}

	t.Run("should recover the codes table from an array payload", func(t *testing.T) {
		raw := encode(t, `{"codes":["A0A0A0","B1B1B1","C2C2C2","XK42ZP","9Q8W7E"]}`)

		codes, err := DecodeSessionPayload(raw, key)
		require.NoError(t, err)

		code, ok := SessionCode(codes, 3)
		require.True(t, ok)
		assert.Equal(t, "XK42ZP", code)

		_, ok = SessionCode(codes, 9)
		assert.False(t, ok)
	})

	t.Run("should tolerate a map-shaped codes table", func(t *testing.T) {
		raw := encode(t, `{"codes":{"3":"XK42ZP"}}`)

		codes, err := DecodeSessionPayload(raw, key)
		require.NoError(t, err)

		code, ok := SessionCode(codes, 3)
		require.True(t, ok)
		assert.Equal(t, "XK42ZP", code)
	})

	t.Run("should fail on invalid base64", func(t *testing.T) {
		_, err := DecodeSessionPayload("not-base64!!!", key)
		assert.Error(t, err)
	})

	t.Run("should fail when the key does not match", func(t *testing.T) {
		raw := encode(t, `{"codes":["XK42ZP"]}`)
		_, err := DecodeSessionPayload(raw, "WRONG_KEY")
		assert.Error(t, err)
	})
}

func TestMarkStepCompleted(t *testing.T) {
	const key = "WO_2024_CHALLENGE"

	encode := func(t *testing.T, payload string) string {
		t.Helper()
		return base64.StdEncoding.EncodeToString(XORTransform([]byte(payload), key))
	}

	decode := func(t *testing.T, raw string) map[string]any {
		t.Helper()
		plain, err := base64.StdEncoding.DecodeString(raw)
		require.NoError(t, err)
		var doc map[string]any
		require.NoError(t, json.Unmarshal(XORTransform(plain, key), &doc))
		return doc
	}

	t.Run("should record the step and keep the codes table intact", func(t *testing.T) {
		raw := encode(t, `{"codes":["A0A0A0","B1B1B1"],"completed":[28,29]}`)

		updated, err := MarkStepCompleted(raw, key, 30)
		require.NoError(t, err)

		doc := decode(t, updated)
		assert.ElementsMatch(t, []any{float64(28), float64(29), float64(30)}, doc["completed"])
		assert.Len(t, doc["codes"], 2)
	})

	t.Run("should create the completed list when the payload lacks one", func(t *testing.T) {
		raw := encode(t, `{"codes":["A0A0A0"]}`)

		updated, err := MarkStepCompleted(raw, key, 30)
		require.NoError(t, err)

		doc := decode(t, updated)
		assert.ElementsMatch(t, []any{float64(30)}, doc["completed"])
	})

	t.Run("should not duplicate an already recorded step", func(t *testing.T) {
		raw := encode(t, `{"completed":[30]}`)

		updated, err := MarkStepCompleted(raw, key, 30)
		require.NoError(t, err)

		doc := decode(t, updated)
		assert.ElementsMatch(t, []any{float64(30)}, doc["completed"])
	})

	t.Run("should fail on a garbage payload", func(t *testing.T) {
		_, err := MarkStepCompleted("%%%", key, 30)
		assert.Error(t, err)
	})
}
