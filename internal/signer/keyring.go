package signer

import "sync"

// Keyring holds the signers available to unattended jobs, keyed by wallet.
type Keyring struct {
	mu      sync.RWMutex
	signers map[string]Signer
}

// NewKeyring creates a keyring holding signers.
func NewKeyring(signers ...Signer) *Keyring {
	k := &Keyring{signers: make(map[string]Signer, len(signers))}
	for _, s := range signers {
		k.Add(s)
	}
	return k
}

// Add registers s under its public key, replacing any previous signer.
func (k *Keyring) Add(s Signer) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.signers[s.PublicKey()] = s
}

// Signer returns the signer of wallet, if held.
func (k *Keyring) Signer(wallet string) (Signer, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, ok := k.signers[wallet]
	return s, ok
}

// Len returns the number of signers held.
func (k *Keyring) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.signers)
}
