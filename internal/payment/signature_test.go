package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifySignature(t *testing.T) {
	const secret = "webhook-secret"
	valid := "ts=1704908010,v1=" + sign(secret, "id:123456;request-id:req-1;ts:1704908010;")

	assert.NoError(t, VerifySignature(secret, valid, "req-1", "123456"))
	assert.NoError(t, VerifySignature(secret, " ts=1704908010 , v1="+sign(secret, "id:123456;request-id:req-1;ts:1704908010;"), "req-1", "123456"))

	assert.ErrorIs(t, VerifySignature(secret, valid, "req-2", "123456"), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature(secret, valid, "req-1", "654321"), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("other-secret", valid, "req-1", "123456"), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature(secret, "", "req-1", "123456"), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature(secret, "ts=1704908010", "req-1", "123456"), ErrInvalidSignature)
}

func TestSignedManifest(t *testing.T) {
	assert.Equal(t, "id:abc123;request-id:r;ts:1;", signedManifest("ABC123", "r", "1"))
	assert.Equal(t, "id:42;ts:1;", signedManifest("42", "", "1"))
	assert.Equal(t, "ts:1;", signedManifest("", "", "1"))
}
