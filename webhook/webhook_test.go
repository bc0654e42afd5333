package webhook

import (
	"testing"

	"github.com/skiff-cd/skiff/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main"}`)
	signature := Sign("s3cret", body)

	assert.Contains(t, signature, "sha256=")
	require.NoError(t, Verify("s3cret", body, signature))
}

func TestVerifyRejects(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main"}`)
	signature := Sign("s3cret", body)

	tests := []struct {
		name      string
		secret    string
		body      []byte
		signature string
	}{
		{name: "wrong secret", secret: "other", body: body, signature: signature},
		{name: "tampered body", secret: "s3cret", body: []byte(`{"ref":"refs/heads/evil"}`), signature: signature},
		{name: "missing signature", secret: "s3cret", body: body, signature: ""},
		{name: "missing prefix", secret: "s3cret", body: body, signature: "deadbeef"},
		{name: "malformed hex", secret: "s3cret", body: body, signature: "sha256=not-hex"},
		{name: "empty secret", secret: "", body: body, signature: signature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Verify(tt.secret, tt.body, tt.signature)
			assert.ErrorIs(t, err, domain.ErrWebhookAuth)
		})
	}
}
