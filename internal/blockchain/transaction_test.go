package blockchain

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"math/big"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) *KeyPair {
	t.Helper()
	seed := bytes.Repeat([]byte{42}, ed25519.SeedSize)
	key, err := ParseKeyPair("ed25519:" + base58.Encode(seed))
	require.NoError(t, err)
	return key
}

func TestParseKeyPair(t *testing.T) {
	key := testKey(t)

	expanded, err := ParseKeyPair("ed25519:" + base58.Encode(key.private))
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey(), expanded.PublicKey())

	_, err = ParseKeyPair("secp256k1:abc")
	assert.Error(t, err)
	_, err = ParseKeyPair("ed25519:" + base58.Encode([]byte("short")))
	assert.Error(t, err)
}

func TestPublicKeyRoundTrip(t *testing.T) {
	pk := testKey(t).PublicKey()
	parsed, err := ParsePublicKey(pk.String())
	require.NoError(t, err)
	assert.Equal(t, pk, parsed)
	assert.Len(t, pk.String(), 52)

	_, err = ParsePublicKey("ed25519:" + base58.Encode([]byte{1, 2, 3}))
	assert.Error(t, err)
}

func TestSerializeTransfer(t *testing.T) {
	var blockHash [32]byte
	for i := range blockHash {
		blockHash[i] = 1
	}
	tx := &Transaction{
		SignerID:   "a",
		Nonce:      1,
		ReceiverID: "b",
		BlockHash:  blockHash,
		Actions:    []Action{Transfer{Deposit: big.NewInt(1)}},
	}

	var want []byte
	want = append(want, 1, 0, 0, 0, 'a')
	want = append(want, 0)
	want = append(want, make([]byte, 32)...)
	want = append(want, 1, 0, 0, 0, 0, 0, 0, 0)
	want = append(want, 1, 0, 0, 0, 'b')
	want = append(want, blockHash[:]...)
	want = append(want, 1, 0, 0, 0)
	want = append(want, 3, 1)
	want = append(want, make([]byte, 15)...)

	assert.Equal(t, want, tx.Serialize())
}

func TestSerializeAccountActions(t *testing.T) {
	pk := testKey(t).PublicKey()
	w := &borshWriter{}
	AddFullAccessKey{PublicKey: pk}.encode(w)
	got := w.buf.Bytes()
	require.Len(t, got, 1+1+32+8+1)
	assert.Equal(t, byte(5), got[0])
	assert.Equal(t, pk[:], got[2:34])
	assert.Equal(t, byte(1), got[len(got)-1])

	w = &borshWriter{}
	DeleteAccount{BeneficiaryID: "1000fans.near"}.encode(w)
	assert.Equal(t, append([]byte{7, 13, 0, 0, 0}, []byte("1000fans.near")...), w.buf.Bytes())

	w = &borshWriter{}
	CreateAccount{}.encode(w)
	assert.Equal(t, []byte{0}, w.buf.Bytes())
}

func TestU128LittleEndian(t *testing.T) {
	yocto, ok := new(big.Int).SetString("1000000000000000000000000", 10)
	require.True(t, ok)

	w := &borshWriter{}
	w.u128(yocto)
	le := w.buf.Bytes()
	require.Len(t, le, 16)

	be := make([]byte, 16)
	for i := range le {
		be[15-i] = le[i]
	}
	assert.Equal(t, 0, new(big.Int).SetBytes(be).Cmp(yocto))
}

func TestSignedTransactionVerifies(t *testing.T) {
	key := testKey(t)
	tx := &Transaction{
		SignerID:   "1000fans.near",
		PublicKey:  key.PublicKey(),
		Nonce:      11,
		ReceiverID: "fan.1000fans.near",
		Actions:    []Action{CreateAccount{}},
	}

	signed := tx.Sign(key)
	body := signed[:len(signed)-65]
	assert.Equal(t, tx.Serialize(), body)
	assert.Equal(t, byte(0), signed[len(signed)-65])

	hash := sha256.Sum256(body)
	pk := key.PublicKey()
	assert.True(t, ed25519.Verify(pk[:], hash[:], signed[len(signed)-64:]))
	assert.Equal(t, hash, tx.Hash())
}

func TestVerifyMessage(t *testing.T) {
	key := testKey(t)
	message := []byte("1000fans content access")
	sig := key.Sign(message)
	encoded := base64.StdEncoding.EncodeToString(sig[:])

	require.NoError(t, VerifyMessage(key.PublicKey().String(), message, encoded))

	assert.Error(t, VerifyMessage(key.PublicKey().String(), []byte("other message"), encoded))
	other := PublicKey{1}
	assert.Error(t, VerifyMessage(other.String(), message, encoded))
	assert.Error(t, VerifyMessage(key.PublicKey().String(), message, "not base64!"))
	assert.Error(t, VerifyMessage(key.PublicKey().String(), message, base64.StdEncoding.EncodeToString([]byte("short"))))
}
