// Package zksync implements the EIP-712 (type 0x71) transaction used by
// zkSync Era to carry paymaster parameters.
package zksync

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

const (
	// TxType is the EIP-2718 type byte of zkSync EIP-712 transactions.
	TxType = 0x71

	// DefaultGasPerPubdata is the gas per pubdata byte limit the SDKs send by default.
	DefaultGasPerPubdata = 50000
)

var (
	ErrNotEIP712Tx  = errors.New("not an eip-712 transaction")
	ErrMissingField = errors.New("missing transaction field")
)

// PaymasterParams selects the paymaster contract and the flow it runs.
type PaymasterParams struct {
	Paymaster      common.Address
	PaymasterInput []byte
}

// Transaction is an unsigned zkSync EIP-712 transaction.
type Transaction struct {
	ChainID              *big.Int
	Nonce                uint64
	From                 common.Address
	To                   common.Address
	Data                 []byte
	Value                *uint256.Int
	GasLimit             *uint256.Int
	GasPerPubdata        *uint256.Int
	MaxFeePerGas         *uint256.Int
	MaxPriorityFeePerGas *uint256.Int
	FactoryDeps          [][]byte // raw bytecode, hashed with HashBytecode when signing
	PaymasterParams      *PaymasterParams
}

func (tx *Transaction) validate() error {
	switch {
	case tx == nil:
		return fmt.Errorf("%w: nil transaction", ErrMissingField)
	case tx.ChainID == nil || tx.ChainID.Sign() <= 0:
		return fmt.Errorf("%w: chain id", ErrMissingField)
	case tx.GasLimit == nil:
		return fmt.Errorf("%w: gas limit", ErrMissingField)
	case tx.MaxFeePerGas == nil:
		return fmt.Errorf("%w: max fee per gas", ErrMissingField)
	case tx.MaxPriorityFeePerGas == nil:
		return fmt.Errorf("%w: max priority fee per gas", ErrMissingField)
	}
	return nil
}

func (tx *Transaction) value() *uint256.Int {
	if tx.Value == nil {
		return new(uint256.Int)
	}
	return tx.Value
}

func (tx *Transaction) gasPerPubdata() *uint256.Int {
	if tx.GasPerPubdata == nil {
		return uint256.NewInt(DefaultGasPerPubdata)
	}
	return tx.GasPerPubdata
}

// TotalFee is the most the transaction can cost: gasLimit * maxFeePerGas.
func (tx *Transaction) TotalFee() *big.Int {
	return new(big.Int).Mul(tx.GasLimit.ToBig(), tx.MaxFeePerGas.ToBig())
}

// envelope is the RLP layout shared by signed and unsigned encodings. For an
// unsigned transaction V carries the chain id and R, S are empty.
type envelope struct {
	Nonce                uint64
	MaxPriorityFeePerGas *big.Int
	MaxFeePerGas         *big.Int
	GasLimit             *big.Int
	To                   common.Address
	Value                *big.Int
	Data                 []byte
	V                    *big.Int
	R                    *big.Int
	S                    *big.Int
	ChainID              *big.Int
	From                 common.Address
	GasPerPubdata        *big.Int
	FactoryDeps          [][]byte
	CustomSignature      []byte
	Paymaster            [][]byte
}

func (tx *Transaction) envelope() *envelope {
	env := &envelope{
		Nonce:                tx.Nonce,
		MaxPriorityFeePerGas: tx.MaxPriorityFeePerGas.ToBig(),
		MaxFeePerGas:         tx.MaxFeePerGas.ToBig(),
		GasLimit:             tx.GasLimit.ToBig(),
		To:                   tx.To,
		Value:                tx.value().ToBig(),
		Data:                 tx.Data,
		V:                    new(big.Int).Set(tx.ChainID),
		R:                    new(big.Int),
		S:                    new(big.Int),
		ChainID:              new(big.Int).Set(tx.ChainID),
		From:                 tx.From,
		GasPerPubdata:        tx.gasPerPubdata().ToBig(),
		FactoryDeps:          tx.FactoryDeps,
		Paymaster:            [][]byte{},
	}
	if env.Data == nil {
		env.Data = []byte{}
	}
	if env.FactoryDeps == nil {
		env.FactoryDeps = [][]byte{}
	}
	if pm := tx.PaymasterParams; pm != nil {
		env.Paymaster = [][]byte{pm.Paymaster.Bytes(), pm.PaymasterInput}
	}
	return env
}

// UnsignedBytes returns the 0x71-prefixed encoding without a signature.
func (tx *Transaction) UnsignedBytes() ([]byte, error) {
	if err := tx.validate(); err != nil {
		return nil, err
	}
	return encode(tx.envelope())
}

func encode(env *envelope) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(TxType)
	if err := rlp.Encode(&buf, env); err != nil {
		return nil, fmt.Errorf("rlp encoding transaction: %w", err)
	}
	return buf.Bytes(), nil
}

// SignedTransaction pairs a transaction with its 65 byte [R || S || V]
// signature, V being 27 or 28.
type SignedTransaction struct {
	Tx        *Transaction
	Signature [crypto.SignatureLength]byte
	digest    common.Hash
}

// RawBytes returns the encoding accepted by eth_sendRawTransaction.
func (s *SignedTransaction) RawBytes() ([]byte, error) {
	if err := s.Tx.validate(); err != nil {
		return nil, err
	}
	env := s.Tx.envelope()
	env.V = big.NewInt(int64(s.Signature[64] - 27))
	env.R = new(big.Int).SetBytes(s.Signature[:32])
	env.S = new(big.Int).SetBytes(s.Signature[32:64])
	env.CustomSignature = s.Signature[:]
	return encode(env)
}

// Digest is the EIP-712 hash the signature covers.
func (s *SignedTransaction) Digest() common.Hash {
	return s.digest
}

// Hash is the transaction hash a zkSync node reports:
// keccak256(digest || keccak256(signature)).
func (s *SignedTransaction) Hash() common.Hash {
	return crypto.Keccak256Hash(s.digest.Bytes(), crypto.Keccak256(s.Signature[:]))
}

// DecodeSigned parses a signed 0x71 transaction and recomputes its digest.
func DecodeSigned(raw []byte) (*SignedTransaction, error) {
	if len(raw) == 0 || raw[0] != TxType {
		return nil, ErrNotEIP712Tx
	}
	var env envelope
	if err := rlp.DecodeBytes(raw[1:], &env); err != nil {
		return nil, fmt.Errorf("rlp decoding transaction: %w", err)
	}
	if len(env.CustomSignature) != crypto.SignatureLength {
		return nil, fmt.Errorf("%w: signature has %d bytes", ErrMissingField, len(env.CustomSignature))
	}

	tx := &Transaction{
		ChainID:     env.ChainID,
		Nonce:       env.Nonce,
		From:        env.From,
		To:          env.To,
		Data:        env.Data,
		FactoryDeps: env.FactoryDeps,
	}
	var overflow bool
	for _, f := range []struct {
		dst **uint256.Int
		src *big.Int
	}{
		{&tx.Value, env.Value},
		{&tx.GasLimit, env.GasLimit},
		{&tx.GasPerPubdata, env.GasPerPubdata},
		{&tx.MaxFeePerGas, env.MaxFeePerGas},
		{&tx.MaxPriorityFeePerGas, env.MaxPriorityFeePerGas},
	} {
		if *f.dst, overflow = uint256.FromBig(f.src); overflow {
			return nil, fmt.Errorf("transaction field overflows 256 bits: %s", f.src)
		}
	}
	switch len(env.Paymaster) {
	case 0:
	case 2:
		if len(env.Paymaster[0]) != common.AddressLength {
			return nil, fmt.Errorf("paymaster address has %d bytes", len(env.Paymaster[0]))
		}
		tx.PaymasterParams = &PaymasterParams{
			Paymaster:      common.BytesToAddress(env.Paymaster[0]),
			PaymasterInput: env.Paymaster[1],
		}
	default:
		return nil, fmt.Errorf("paymaster params have %d fields", len(env.Paymaster))
	}

	digest, err := Digest(tx)
	if err != nil {
		return nil, err
	}
	signed := &SignedTransaction{Tx: tx, digest: digest}
	copy(signed.Signature[:], env.CustomSignature)
	return signed, nil
}
