package solana

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

const (
	signatureLen = 64
	pubkeyLen    = 32
	versionFlag  = 0x80
)

// ErrMalformedTransaction is returned for bytes that do not parse as a transaction.
var ErrMalformedTransaction = errors.New("malformed transaction")

// WireTransaction is a serialized transaction split into its signatures and message.
// It supports legacy and v0 messages; everything after the recent blockhash is kept opaque.
type WireTransaction struct {
	Signatures            [][]byte
	Message               []byte
	NumRequiredSignatures int
	AccountKeys           []string // static account keys only
	blockhashOffset       int      // offset of the recent blockhash within Message
}

// ParseTransaction parses a serialized transaction.
func ParseTransaction(raw []byte) (*WireTransaction, error) {
	numSigs, n, err := decodeCompactU16(raw)
	if err != nil {
		return nil, err
	}
	off := n
	if numSigs == 0 || len(raw) < off+numSigs*signatureLen {
		return nil, fmt.Errorf("%w: %d signatures in %d bytes", ErrMalformedTransaction, numSigs, len(raw))
	}

	tx := &WireTransaction{Signatures: make([][]byte, numSigs)}
	for i := 0; i < numSigs; i++ {
		sig := make([]byte, signatureLen)
		copy(sig, raw[off:off+signatureLen])
		tx.Signatures[i] = sig
		off += signatureLen
	}
	tx.Message = append([]byte(nil), raw[off:]...)

	msg := tx.Message
	m := 0
	if len(msg) > 0 && msg[0]&versionFlag != 0 {
		if msg[0]&^versionFlag != 0 {
			return nil, fmt.Errorf("%w: unsupported message version %d", ErrMalformedTransaction, msg[0]&^versionFlag)
		}
		m++
	}
	if len(msg) < m+3 {
		return nil, fmt.Errorf("%w: short message header", ErrMalformedTransaction)
	}
	tx.NumRequiredSignatures = int(msg[m])
	m += 3

	numKeys, n, err := decodeCompactU16(msg[m:])
	if err != nil {
		return nil, err
	}
	m += n
	if len(msg) < m+numKeys*pubkeyLen+pubkeyLen {
		return nil, fmt.Errorf("%w: short account keys", ErrMalformedTransaction)
	}
	tx.AccountKeys = make([]string, numKeys)
	for i := 0; i < numKeys; i++ {
		tx.AccountKeys[i] = base58.Encode(msg[m : m+pubkeyLen])
		m += pubkeyLen
	}
	tx.blockhashOffset = m

	if tx.NumRequiredSignatures != numSigs || numSigs > numKeys {
		return nil, fmt.Errorf("%w: header wants %d signatures, have %d", ErrMalformedTransaction, tx.NumRequiredSignatures, numSigs)
	}
	return tx, nil
}

// FeePayer returns the first account key, which pays fees and signs first.
func (tx *WireTransaction) FeePayer() string {
	if len(tx.AccountKeys) == 0 {
		return ""
	}
	return tx.AccountKeys[0]
}

// RecentBlockhash returns the blockhash embedded in the message.
func (tx *WireTransaction) RecentBlockhash() string {
	return base58.Encode(tx.Message[tx.blockhashOffset : tx.blockhashOffset+pubkeyLen])
}

// SetRecentBlockhash replaces the blockhash and clears every signature,
// since the old signatures no longer cover the message.
func (tx *WireTransaction) SetRecentBlockhash(blockhash string) error {
	raw, err := base58.Decode(blockhash)
	if err != nil || len(raw) != pubkeyLen {
		return fmt.Errorf("invalid blockhash %q", blockhash)
	}
	copy(tx.Message[tx.blockhashOffset:], raw)
	for i := range tx.Signatures {
		tx.Signatures[i] = make([]byte, signatureLen)
	}
	return nil
}

// SetSignature places sig at the slot of signer.
func (tx *WireTransaction) SetSignature(signer string, sig []byte) error {
	if len(sig) != signatureLen {
		return fmt.Errorf("signature is %d bytes, want %d", len(sig), signatureLen)
	}
	for i := 0; i < tx.NumRequiredSignatures && i < len(tx.AccountKeys); i++ {
		if tx.AccountKeys[i] == signer {
			tx.Signatures[i] = append([]byte(nil), sig...)
			return nil
		}
	}
	return fmt.Errorf("%s is not a required signer", signer)
}

// Signature returns the first signature in base58, which identifies the transaction.
func (tx *WireTransaction) Signature() string {
	return base58.Encode(tx.Signatures[0])
}

// Signed reports whether every required signature is present.
func (tx *WireTransaction) Signed() bool {
	for _, s := range tx.Signatures {
		if isZero(s) {
			return false
		}
	}
	return true
}

// Verify checks every signature against its signer key.
func (tx *WireTransaction) Verify() error {
	for i, sig := range tx.Signatures {
		key, err := base58.Decode(tx.AccountKeys[i])
		if err != nil {
			return err
		}
		if !ed25519.Verify(ed25519.PublicKey(key), tx.Message, sig) {
			return fmt.Errorf("signature %d does not verify for %s", i, tx.AccountKeys[i])
		}
	}
	return nil
}

// Serialize encodes the transaction back to wire format.
func (tx *WireTransaction) Serialize() []byte {
	out := encodeCompactU16(len(tx.Signatures))
	for _, s := range tx.Signatures {
		out = append(out, s...)
	}
	return append(out, tx.Message...)
}

// SignatureOf returns the transaction signature of a serialized transaction.
func SignatureOf(raw []byte) (string, error) {
	tx, err := ParseTransaction(raw)
	if err != nil {
		return "", err
	}
	return tx.Signature(), nil
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// decodeCompactU16 reads Solana's shortvec length prefix.
func decodeCompactU16(b []byte) (int, int, error) {
	val := 0
	for i := 0; i < 3; i++ {
		if i >= len(b) {
			return 0, 0, fmt.Errorf("%w: truncated length prefix", ErrMalformedTransaction)
		}
		val |= int(b[i]&0x7f) << (7 * i)
		if b[i]&0x80 == 0 {
			return val, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: length prefix too long", ErrMalformedTransaction)
}

func encodeCompactU16(n int) []byte {
	var out []byte
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}
