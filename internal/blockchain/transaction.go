package blockchain

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"math/big"
)

// Action discriminants of the NEAR transaction enum.
const (
	actionCreateAccount byte = 0
	actionFunctionCall  byte = 2
	actionTransfer      byte = 3
	actionAddKey        byte = 5
	actionDeleteKey     byte = 6
	actionDeleteAccount byte = 7

	keyTypeED25519       byte = 0
	permissionFullAccess byte = 1
)

// Action is one step of a transaction, encoded in borsh.
type Action interface {
	encode(w *borshWriter)
}

type CreateAccount struct{}

func (CreateAccount) encode(w *borshWriter) {
	w.u8(actionCreateAccount)
}

type FunctionCall struct {
	MethodName string
	Args       []byte
	Gas        uint64
	Deposit    *big.Int
}

func (a FunctionCall) encode(w *borshWriter) {
	w.u8(actionFunctionCall)
	w.str(a.MethodName)
	w.bytes(a.Args)
	w.u64(a.Gas)
	w.u128(a.Deposit)
}

type Transfer struct {
	Deposit *big.Int
}

func (a Transfer) encode(w *borshWriter) {
	w.u8(actionTransfer)
	w.u128(a.Deposit)
}

// AddFullAccessKey adds a full access key with nonce zero.
type AddFullAccessKey struct {
	PublicKey PublicKey
}

func (a AddFullAccessKey) encode(w *borshWriter) {
	w.u8(actionAddKey)
	w.publicKey(a.PublicKey)
	w.u64(0)
	w.u8(permissionFullAccess)
}

type DeleteKey struct {
	PublicKey PublicKey
}

func (a DeleteKey) encode(w *borshWriter) {
	w.u8(actionDeleteKey)
	w.publicKey(a.PublicKey)
}

type DeleteAccount struct {
	BeneficiaryID string
}

func (a DeleteAccount) encode(w *borshWriter) {
	w.u8(actionDeleteAccount)
	w.str(a.BeneficiaryID)
}

type Transaction struct {
	SignerID   string
	PublicKey  PublicKey
	Nonce      uint64
	ReceiverID string
	BlockHash  [32]byte
	Actions    []Action
}

// Serialize returns the borsh encoding of the transaction.
func (tx *Transaction) Serialize() []byte {
	w := &borshWriter{}
	w.str(tx.SignerID)
	w.publicKey(tx.PublicKey)
	w.u64(tx.Nonce)
	w.str(tx.ReceiverID)
	w.raw(tx.BlockHash[:])
	w.u32(uint32(len(tx.Actions)))
	for _, action := range tx.Actions {
		action.encode(w)
	}
	return w.buf.Bytes()
}

// Hash is the sha256 of the serialized transaction, the message that gets signed.
func (tx *Transaction) Hash() [32]byte {
	return sha256.Sum256(tx.Serialize())
}

// Sign returns the borsh encoded SignedTransaction.
func (tx *Transaction) Sign(key *KeyPair) []byte {
	body := tx.Serialize()
	hash := sha256.Sum256(body)
	sig := key.Sign(hash[:])

	w := &borshWriter{}
	w.raw(body)
	w.u8(keyTypeED25519)
	w.raw(sig[:])
	return w.buf.Bytes()
}

type borshWriter struct {
	buf bytes.Buffer
}

func (w *borshWriter) raw(b []byte) { w.buf.Write(b) }

func (w *borshWriter) u8(v byte) { w.buf.WriteByte(v) }

func (w *borshWriter) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *borshWriter) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

// u128 writes a non-negative amount below 2^128 as 16 little endian bytes.
func (w *borshWriter) u128(v *big.Int) {
	var b [16]byte
	if v != nil {
		be := v.Bytes()
		for i := 0; i < len(be) && i < 16; i++ {
			b[i] = be[len(be)-1-i]
		}
	}
	w.buf.Write(b[:])
}

func (w *borshWriter) str(s string) {
	w.bytes([]byte(s))
}

func (w *borshWriter) bytes(b []byte) {
	w.u32(uint32(len(b)))
	w.buf.Write(b)
}

func (w *borshWriter) publicKey(pk PublicKey) {
	w.u8(keyTypeED25519)
	w.raw(pk[:])
}
