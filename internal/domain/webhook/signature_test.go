package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	apperrors "github.com/mimi6060/hookrelay/internal/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{
			name:    "strips whitespace from JSON object",
			payload: "{\n  \"a\": 1,\n  \"b\": \"two\"\n}",
			want:    `{"a":1,"b":"two"}`,
		},
		{
			name:    "preserves key order",
			payload: `{"z": 1, "a": 2}`,
			want:    `{"z":1,"a":2}`,
		},
		{
			name:    "nested structures",
			payload: `{ "a": [1, 2, {"b": true}] }`,
			want:    `{"a":[1,2,{"b":true}]}`,
		},
		{
			name:    "scalar JSON",
			payload: ` 42 `,
			want:    `42`,
		},
		{
			name:    "non-JSON returned verbatim",
			payload: "not json at all",
			want:    "not json at all",
		},
		{
			name:    "empty payload returned verbatim",
			payload: "",
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(Canonicalize([]byte(tt.payload))))
		})
	}
}

func TestCanonicalize_FixedPoint(t *testing.T) {
	payloads := []string{
		`{"a": 1, "b": [true, null, "x"]}`,
		`{"nested": {"deep": {"deeper": 1}}}`,
		"plain text",
		`[1,2,3]`,
		`"just a string"`,
	}

	for _, payload := range payloads {
		once := Canonicalize([]byte(payload))
		twice := Canonicalize(once)
		assert.Equal(t, once, twice, "canonicalize must be idempotent for %q", payload)
	}
}

func TestSign(t *testing.T) {
	payload := []byte(`{"a":1}`)
	secret := []byte("s")

	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, expected, Sign(payload, secret))
}

func TestSign_CanonicalizesBeforeSigning(t *testing.T) {
	// Whitespace variants of the same document must produce the same signature.
	assert.Equal(t,
		Sign([]byte(`{"a":1}`), []byte("s")),
		Sign([]byte("{ \"a\": 1 }"), []byte("s")))
}

func TestVerify(t *testing.T) {
	payload := []byte(`{"order_id": 7, "total": 12.50}`)
	secret := []byte("super-secret")

	t.Run("round trip", func(t *testing.T) {
		ok, err := Verify(payload, Sign(payload, secret), secret, "orders")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("wrong secret fails", func(t *testing.T) {
		ok, err := Verify(payload, Sign(payload, []byte("other-secret")), secret, "orders")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("tampered payload fails", func(t *testing.T) {
		sig := Sign(payload, secret)
		ok, err := Verify([]byte(`{"order_id": 8, "total": 12.50}`), sig, secret, "orders")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("missing signature", func(t *testing.T) {
		ok, err := Verify(payload, "", secret, "orders")
		assert.False(t, ok)
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperrors.ErrMissingSignature))
	})

	t.Run("wrong scheme prefix", func(t *testing.T) {
		ok, err := Verify(payload, "md5=abcdef", secret, "orders")
		assert.False(t, ok)
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperrors.ErrInvalidSignatureFormat))
	})

	t.Run("error does not leak expected signature", func(t *testing.T) {
		_, err := Verify(payload, "bogus", secret, "orders")
		require.Error(t, err)
		assert.NotContains(t, err.Error(), Sign(payload, secret))
	})
}

func TestCanonicalizeValue(t *testing.T) {
	got, err := CanonicalizeValue(map[string]interface{}{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got))

	_, err = CanonicalizeValue(make(chan int))
	assert.Error(t, err)
}
