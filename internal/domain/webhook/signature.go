package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/mimi6060/hookrelay/internal/pkg/errors"
)

// SignaturePrefix is the scheme tag carried in the X-Webhook-Signature header.
const SignaturePrefix = "sha256="

// Canonicalize normalizes a payload so that signing and verification always
// operate on the same bytes. Textual JSON is re-emitted with whitespace
// stripped and key order preserved; anything else is returned verbatim.
func Canonicalize(payload []byte) []byte {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return payload
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return payload
	}
	return buf.Bytes()
}

// CanonicalizeValue serializes a structured value through the same
// deterministic encoder used for textual payloads.
func CanonicalizeValue(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidPayload, "Payload is not serializable").
			WithPhase(errors.PhaseSignature)
	}
	return Canonicalize(raw), nil
}

// Sign computes the canonical HMAC-SHA256 signature of a payload.
func Sign(payload, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(Canonicalize(payload))
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a provided signature against the expected HMAC of the
// payload. The comparison is constant time. webhookName is only used to
// contextualize errors; the expected signature is never included in them.
func Verify(payload []byte, provided string, secret []byte, webhookName string) (bool, error) {
	if provided == "" {
		return false, errors.Wrap(errors.ErrMissingSignature, errors.ErrCodeMissingSignature,
			"Signature header is required").WithWebhook(webhookName).WithPhase(errors.PhaseSignature)
	}
	if !strings.HasPrefix(provided, SignaturePrefix) {
		return false, errors.Wrap(errors.ErrInvalidSignatureFormat, errors.ErrCodeInvalidSignatureFormat,
			"Signature must use the "+SignaturePrefix+" scheme").WithWebhook(webhookName).WithPhase(errors.PhaseSignature)
	}

	expected := Sign(payload, secret)
	return hmac.Equal([]byte(provided), []byte(expected)), nil
}
