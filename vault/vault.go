package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightninglabs/p2pswap/swapmsg"
	"github.com/lightningnetwork/lnd/lntypes"
)

const (
	// nonceSize is the GCM nonce size. The nonce is always zero, every key
	// is unique to a swap hash and the seal log refuses a second
	// plaintext under the same key.
	nonceSize = 16

	// tagSize is the GCM authentication tag size.
	tagSize = 16
)

var (
	// ErrTagMismatch is returned when sealed secrets fail authentication,
	// either because they were tampered with or because they were sealed
	// for a different swap hash or node.
	ErrTagMismatch = errors.New("encrypted secrets failed authentication")

	// ErrKeyReuse is returned when a different plaintext is sealed under a
	// swap hash that was already used.
	ErrKeyReuse = errors.New("swap hash already sealed a different " +
		"plaintext")
)

// KeyRing provides the node identity operations the vault derives its keys
// from.
type KeyRing interface {
	// NodePubKey returns the node's identity public key.
	NodePubKey(ctx context.Context) (*btcec.PublicKey, error)

	// DeriveSharedKey returns the ECDH shared secret between the node's
	// identity key and the given public key.
	DeriveSharedKey(ctx context.Context,
		pubKey *btcec.PublicKey) ([32]byte, error)
}

// Vault seals and opens swap secrets with keys bound to the node identity and
// the swap hash.
type Vault struct {
	keys    KeyRing
	sealLog SealLog

	mu     sync.Mutex
	shared *[32]byte
}

// New returns a vault deriving keys from the key ring. Every sealed hash is
// recorded in the seal log.
func New(keys KeyRing, sealLog SealLog) *Vault {
	return &Vault{
		keys:    keys,
		sealLog: sealLog,
	}
}

// sharedSecret returns the self ECDH secret of the node identity, deriving it
// on first use.
func (v *Vault) sharedSecret(ctx context.Context) ([32]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.shared != nil {
		return *v.shared, nil
	}

	identity, err := v.keys.NodePubKey(ctx)
	if err != nil {
		return [32]byte{}, fmt.Errorf("unable to get identity key: %w",
			err)
	}

	shared, err := v.keys.DeriveSharedKey(ctx, identity)
	if err != nil {
		return [32]byte{}, fmt.Errorf("unable to derive shared key: %w",
			err)
	}

	v.shared = &shared

	return shared, nil
}

// aead returns the cipher for a swap hash.
func (v *Vault) aead(ctx context.Context, hash lntypes.Hash) (cipher.AEAD,
	error) {

	shared, err := v.sharedSecret(ctx)
	if err != nil {
		return nil, err
	}

	key := sha256.Sum256(append(shared[:], hash[:]...))

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	return cipher.NewGCMWithNonceSize(block, nonceSize)
}

// Seal encrypts the secrets of the swap with the given hash.
func (v *Vault) Seal(ctx context.Context, hash lntypes.Hash,
	secrets *Secrets) (*swapmsg.EncryptedSecrets, error) {

	plaintext, err := secrets.encode()
	if err != nil {
		return nil, err
	}

	if err := v.sealLog.Record(hash, sha256.Sum256(plaintext)); err != nil {
		return nil, err
	}

	aead, err := v.aead(ctx, hash)
	if err != nil {
		return nil, err
	}

	var nonce [nonceSize]byte
	sealed := aead.Seal(nil, nonce[:], plaintext, nil)

	split := len(sealed) - tagSize
	encrypted := &swapmsg.EncryptedSecrets{
		CipherText: sealed[:split],
	}
	copy(encrypted.Tag[:], sealed[split:])

	log.Debugf("Sealed %v byte secrets for swap %v", len(plaintext),
		hash)

	return encrypted, nil
}

// Open authenticates and decrypts the secrets of the swap with the given
// hash.
func (v *Vault) Open(ctx context.Context, hash lntypes.Hash,
	encrypted *swapmsg.EncryptedSecrets) (*Secrets, error) {

	if encrypted == nil {
		return nil, ErrTagMismatch
	}

	aead, err := v.aead(ctx, hash)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(encrypted.CipherText)+tagSize)
	sealed = append(sealed, encrypted.CipherText...)
	sealed = append(sealed, encrypted.Tag[:]...)

	var nonce [nonceSize]byte
	plaintext, err := aead.Open(nil, nonce[:], sealed, nil)
	if err != nil {
		return nil, ErrTagMismatch
	}

	return decodeSecrets(plaintext)
}
