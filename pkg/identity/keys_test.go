package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPair(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	pub, err := DecodePublicKey(kp.PublicKey)
	require.NoError(t, err)
	assert.Len(t, pub, 32)

	priv, err := DecodePrivateKey(kp.PrivateKey)
	require.NoError(t, err)
	assert.Len(t, priv, 64)
}

func TestGenerateKeyPair_Unique(t *testing.T) {
	a, err := GenerateKeyPair()
	require.NoError(t, err)
	b, err := GenerateKeyPair()
	require.NoError(t, err)

	assert.NotEqual(t, a.PublicKey, b.PublicKey)
	assert.NotEqual(t, a.PrivateKey, b.PrivateKey)
}

func TestDecodePublicKey_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
	}{
		{"not base64url", "!!!not-base64!!!"},
		{"wrong length", "c2hvcnQ"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePublicKey(tt.encoded)
			assert.Error(t, err)
		})
	}
}

func TestNewPassportID(t *testing.T) {
	id, err := NewPassportID()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(id, PassportIDPrefix))
	assert.Len(t, id, len(PassportIDPrefix)+12)
	assert.True(t, ValidPassportID(id))
}

func TestValidPassportID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"ap_000000000001", true},
		{"ap_abcdef012345", true},
		{"ap_ABCDEF012345", false}, // uppercase hex is not canonical
		{"ap_abcdef01234", false},  // too short
		{"ap_abcdef0123456", false},
		{"pp_abcdef012345", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.valid, ValidPassportID(tt.id))
		})
	}
}
