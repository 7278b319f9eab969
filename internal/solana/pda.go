package solana

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Well-known program IDs.
const (
	TokenProgramID                  = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ProgramID              = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
	AssociatedTokenAccountProgramID = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
)

const pdaMarker = "ProgramDerivedAddress"

// ErrNoViableBump is returned when no bump seed yields an off-curve address.
var ErrNoViableBump = errors.New("no viable bump seed")

// DecodePublicKey decodes a base58 public key and checks its length.
func DecodePublicKey(s string) ([]byte, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("decode %q: %w", s, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("public key %q is %d bytes, want 32", s, len(raw))
	}
	return raw, nil
}

// FindProgramAddress derives the PDA for seeds under programID, searching bumps from 255 down.
func FindProgramAddress(seeds [][]byte, programID []byte) (string, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{byte(bump)})
		h.Write(programID)
		h.Write([]byte(pdaMarker))
		hash := h.Sum(nil)

		if !isOnCurve(hash) {
			return base58.Encode(hash), uint8(bump), nil
		}
	}
	return "", 0, ErrNoViableBump
}

// FindAssociatedTokenAddress returns the associated token account of owner for mint.
// tokenProgram selects between the legacy token program and Token-2022.
func FindAssociatedTokenAddress(owner, mint, tokenProgram string) (string, error) {
	if tokenProgram == "" {
		tokenProgram = TokenProgramID
	}
	ownerKey, err := DecodePublicKey(owner)
	if err != nil {
		return "", fmt.Errorf("owner: %w", err)
	}
	mintKey, err := DecodePublicKey(mint)
	if err != nil {
		return "", fmt.Errorf("mint: %w", err)
	}
	programKey, err := DecodePublicKey(tokenProgram)
	if err != nil {
		return "", fmt.Errorf("token program: %w", err)
	}
	ataProgram, err := DecodePublicKey(AssociatedTokenAccountProgramID)
	if err != nil {
		return "", err
	}

	addr, _, err := FindProgramAddress([][]byte{ownerKey, programKey, mintKey}, ataProgram)
	return addr, err
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
