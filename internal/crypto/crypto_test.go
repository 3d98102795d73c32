package crypto

import (
	"encoding/base64"
	"encoding/hex"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Canonical secp256k1 test key (k=1) and its well-known address.
const (
	testKeyHex  = "0000000000000000000000000000000000000000000000000000000000000001"
	testAddress = "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf"
)

func TestNewSigner(t *testing.T) {
	t.Run("derives_address_from_key", func(t *testing.T) {
		s, err := NewSigner(testKeyHex, 137)
		require.NoError(t, err)
		assert.Equal(t, testAddress, s.Address().Hex())
	})

	t.Run("accepts_0x_prefix", func(t *testing.T) {
		s, err := NewSigner("0x"+testKeyHex, 137)
		require.NoError(t, err)
		assert.Equal(t, testAddress, s.Address().Hex())
	})

	t.Run("rejects_invalid_hex", func(t *testing.T) {
		_, err := NewSigner("not-a-key", 137)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid private key")
	})
}

func TestSignAuthMessage(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	require.NoError(t, err)

	sig, err := s.SignAuthMessage(s.Address().Hex(), 1700000000, 0)
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(sig, "0x"))
	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	require.NoError(t, err)
	require.Len(t, raw, 65)
	assert.Contains(t, []byte{27, 28}, raw[64])

	t.Run("deterministic", func(t *testing.T) {
		again, err := s.SignAuthMessage(s.Address().Hex(), 1700000000, 0)
		require.NoError(t, err)
		assert.Equal(t, sig, again)
	})

	t.Run("recovers_to_signer_address", func(t *testing.T) {
		// Rebuild the digest with the same helpers and recover the pubkey.
		addr := s.Address()
		structHash := ethcrypto.Keccak256(concatBytes(
			clobAuthTypeHash,
			common.LeftPadBytes(addr.Bytes(), 32),
			bigIntTo32Bytes(big.NewInt(1700000000)),
			bigIntTo32Bytes(big.NewInt(0)),
		))
		digest := eip712Hash(s.domainSep, structHash)

		recoverable := make([]byte, 65)
		copy(recoverable, raw)
		recoverable[64] -= 27
		pub, err := ethcrypto.SigToPub(digest, recoverable)
		require.NoError(t, err)
		assert.Equal(t, addr, ethcrypto.PubkeyToAddress(*pub))
	})

	t.Run("different_nonce_changes_signature", func(t *testing.T) {
		other, err := s.SignAuthMessage(s.Address().Hex(), 1700000000, 1)
		require.NoError(t, err)
		assert.NotEqual(t, sig, other)
	})
}

func TestL2Headers(t *testing.T) {
	auth := &HMACAuth{
		Key:        "api-key-1",
		Secret:     base64.StdEncoding.EncodeToString([]byte("topsecret")),
		Passphrase: "phrase",
	}

	headers := auth.L2HeadersAt(testAddress, "GET", "/orders", "", 1700000000)

	assert.Equal(t, testAddress, headers["POLY_ADDRESS"])
	assert.Equal(t, "api-key-1", headers["POLY_API_KEY"])
	assert.Equal(t, "1700000000", headers["POLY_TIMESTAMP"])
	assert.Equal(t, "phrase", headers["POLY_PASSPHRASE"])

	// Signature is HMAC-SHA256 over ts+method+path+body keyed with the
	// base64-decoded secret.
	expected := hmacSHA256Base64([]byte("topsecret"), "1700000000GET/orders")
	assert.Equal(t, expected, headers["POLY_SIGNATURE"])

	t.Run("body_changes_signature", func(t *testing.T) {
		withBody := auth.L2HeadersAt(testAddress, "GET", "/orders", `{"x":1}`, 1700000000)
		assert.NotEqual(t, headers["POLY_SIGNATURE"], withBody["POLY_SIGNATURE"])
	})

	t.Run("string_redacts_credentials", func(t *testing.T) {
		s := auth.String()
		assert.NotContains(t, s, auth.Secret)
		assert.Contains(t, s, "api-****")
	})
}

func TestKeyManager(t *testing.T) {
	t.Run("encrypt_decrypt_roundtrip", func(t *testing.T) {
		blob, err := EncryptKey("0x"+testKeyHex, "correct horse")
		require.NoError(t, err)

		got, err := DecryptKey(blob, "correct horse")
		require.NoError(t, err)
		assert.Equal(t, testKeyHex, got)
	})

	t.Run("wrong_password_fails", func(t *testing.T) {
		blob, err := EncryptKey(testKeyHex, "right")
		require.NoError(t, err)

		_, err = DecryptKey(blob, "wrong")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decryption failed")
	})

	t.Run("rejects_short_key", func(t *testing.T) {
		_, err := EncryptKey("abcd", "pw")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "32-byte key")
	})

	t.Run("load_raw_key_strips_prefix", func(t *testing.T) {
		got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKeyHex})
		require.NoError(t, err)
		assert.Equal(t, testKeyHex, got)
	})

	t.Run("load_from_encrypted_file", func(t *testing.T) {
		blob, err := EncryptKey(testKeyHex, "pw")
		require.NoError(t, err)
		path := filepath.Join(t.TempDir(), "key.json")
		require.NoError(t, os.WriteFile(path, blob, 0o600))

		got, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
		require.NoError(t, err)
		assert.Equal(t, testKeyHex, got)
	})

	t.Run("no_source_is_an_error", func(t *testing.T) {
		_, err := LoadKey(KeyConfig{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no private key source")
	})
}
