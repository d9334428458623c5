package wallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrSigning is wrapped by every signing failure.
var ErrSigning = errors.New("signing failed")

// Signer handles key management and signing for Ethereum transactions.
// The key never leaves the process: Signer has no serialization and its
// String method prints the address only.
type Signer struct {
	privKey *ecdsa.PrivateKey
	chainID *big.Int
}

// NewSigner creates a new Ethereum signer with the given private key and chain ID
func NewSigner(privKey *ecdsa.PrivateKey, chainID *big.Int) *Signer {
	return &Signer{
		privKey: privKey,
		chainID: new(big.Int).Set(chainID),
	}
}

// NewSignerFromHex parses a hex private key, with or without 0x prefix.
func NewSignerFromHex(hexKey string, chainID *big.Int) (*Signer, error) {
	pk, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		// the parse error can echo key material, so it is dropped.
		return nil, errors.New("invalid private key")
	}
	return NewSigner(pk, chainID), nil
}

// Address returns the Ethereum address derived from the private key
func (s *Signer) Address() common.Address {
	return crypto.PubkeyToAddress(s.privKey.PublicKey)
}

// FormattedAddress returns the hex-encoded Ethereum address with 0x prefix
func (s *Signer) FormattedAddress() string {
	return s.Address().Hex()
}

func (s *Signer) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

func (s *Signer) String() string {
	return fmt.Sprintf("Signer(%s)", s.FormattedAddress())
}

// SignDynamicFeeTx signs an EIP-1559 dynamic fee transaction
func (s *Signer) SignDynamicFeeTx(tx *types.Transaction) (*types.Transaction, error) {
	signer := types.NewLondonSigner(s.chainID)
	signed, err := types.SignTx(tx, signer, s.privKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigning, err)
	}
	return signed, nil
}

// SignTypedHash signs a 32 byte digest. The signature is [R || S || V] with V in
// {0, 1}. secp256k1 nonces are derived per RFC 6979, so the same key and
// digest always yield the same signature.
func (s *Signer) SignTypedHash(digest common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(digest.Bytes(), s.privKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigning, err)
	}
	return sig, nil
}

// PublicKey returns the public key
func (s *Signer) PublicKey() *ecdsa.PublicKey {
	return &s.privKey.PublicKey
}

// CreateDynamicFeeTransaction creates a new EIP-1559 transaction with dynamic fees
func (s *Signer) CreateDynamicFeeTransaction(to *common.Address, value *big.Int, gas uint64, gasFeeCap, gasTipCap *big.Int, data []byte, nonce uint64) *types.Transaction {
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gas,
		To:        to,
		Value:     value,
		Data:      data,
	})
}

// RecoverAddress returns the address that produced sig over digest.
func RecoverAddress(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	normalized := make([]byte, crypto.SignatureLength)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("recovering public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
