package test

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/btcec/v2"
)

// CreateKey returns the key pair whose private scalar is index+1, so that
// tests can refer to stable keys by number.
func CreateKey(index int32) (*btcec.PrivateKey, *btcec.PublicKey) {
	var scalar [32]byte
	binary.BigEndian.PutUint32(scalar[28:], uint32(index)+1)

	return btcec.PrivKeyFromBytes(scalar[:])
}
