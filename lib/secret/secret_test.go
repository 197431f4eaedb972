package secret

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProtectRoundTrip(t *testing.T) {
	key := DeriveKey([]byte("correct horse"), []byte("gakujo"))

	sealed, err := Protect(key, "hunter2")
	require.NoError(t, err)
	require.True(t, IsProtected(sealed))
	require.NotContains(t, sealed, "hunter2")

	plain, err := Unprotect(key, sealed)
	require.NoError(t, err)
	require.Equal(t, "hunter2", plain)
}

func TestUnprotectPassesThroughPlaintext(t *testing.T) {
	key := DeriveKey([]byte("pass"), []byte("salt"))

	plain, err := Unprotect(key, "legacy-plaintext-password")
	require.NoError(t, err)
	require.Equal(t, "legacy-plaintext-password", plain)
}

func TestUnprotectRejectsWrongKey(t *testing.T) {
	key := DeriveKey([]byte("pass"), []byte("salt"))
	other := DeriveKey([]byte("different"), []byte("salt"))

	sealed, err := Protect(key, "secret")
	require.NoError(t, err)

	_, err = Unprotect(other, sealed)
	require.Error(t, err)
}

func TestUnprotectRejectsMalformedEnvelope(t *testing.T) {
	key := DeriveKey([]byte("pass"), []byte("salt"))

	_, err := Unprotect(key, "enc:v1:!!!not-base64!!!")
	require.Error(t, err)

	_, err = Unprotect(key, "enc:v1:AAAA")
	require.Error(t, err)
}

func TestDeriveKeyDeterministic(t *testing.T) {
	a := DeriveKey([]byte("p"), []byte("s"))
	b := DeriveKey([]byte("p"), []byte("s"))
	require.Equal(t, a, b)
	require.Len(t, a, 32)

	c := DeriveKey([]byte("p"), []byte("s2"))
	require.NotEqual(t, a, c)
}
