package zksync

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrSenderMismatch = errors.New("signer does not match transaction sender")

// HashSigner signs EIP-712 digests. wallet.Signer implements it.
type HashSigner interface {
	Address() common.Address
	SignTypedHash(digest common.Hash) ([]byte, error)
}

// Sign computes the EIP-712 digest of tx and signs it. tx.From must be the
// signer's address.
func Sign(tx *Transaction, signer HashSigner) (*SignedTransaction, error) {
	if err := tx.validate(); err != nil {
		return nil, err
	}
	if tx.From != signer.Address() {
		return nil, fmt.Errorf("%w: from %s, signer %s", ErrSenderMismatch, tx.From.Hex(), signer.Address().Hex())
	}

	digest, err := Digest(tx)
	if err != nil {
		return nil, err
	}
	sig, err := signer.SignTypedHash(digest)
	if err != nil {
		return nil, err
	}
	if len(sig) != crypto.SignatureLength {
		return nil, fmt.Errorf("signature has %d bytes", len(sig))
	}

	signed := &SignedTransaction{Tx: tx, digest: digest}
	copy(signed.Signature[:], sig)
	if signed.Signature[64] < 27 {
		signed.Signature[64] += 27
	}
	return signed, nil
}

// RecoverSender returns the address whose key produced the signature.
func RecoverSender(signed *SignedTransaction) (common.Address, error) {
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signed.Signature[:])
	sig[64] -= 27

	pub, err := crypto.SigToPub(signed.digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recovering sender: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
