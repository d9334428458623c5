package zksync

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	domainName    = "zkSync"
	domainVersion = "2"
	primaryType   = "Transaction"
)

var eip712Types = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
	},
	primaryType: {
		{Name: "txType", Type: "uint256"},
		{Name: "from", Type: "uint256"},
		{Name: "to", Type: "uint256"},
		{Name: "gasLimit", Type: "uint256"},
		{Name: "gasPerPubdataByteLimit", Type: "uint256"},
		{Name: "maxFeePerGas", Type: "uint256"},
		{Name: "maxPriorityFeePerGas", Type: "uint256"},
		{Name: "paymaster", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "value", Type: "uint256"},
		{Name: "data", Type: "bytes"},
		{Name: "factoryDeps", Type: "bytes32[]"},
		{Name: "paymasterInput", Type: "bytes"},
	},
}

func addressAsUint(addr common.Address) *big.Int {
	return new(big.Int).SetBytes(addr.Bytes())
}

// TypedData returns the EIP-712 structure a wallet signs for tx.
func TypedData(tx *Transaction) (apitypes.TypedData, error) {
	if err := tx.validate(); err != nil {
		return apitypes.TypedData{}, err
	}

	var (
		paymaster      common.Address
		paymasterInput = []byte{}
	)
	if pm := tx.PaymasterParams; pm != nil {
		paymaster = pm.Paymaster
		if pm.PaymasterInput != nil {
			paymasterInput = pm.PaymasterInput
		}
	}
	data := tx.Data
	if data == nil {
		data = []byte{}
	}
	// FactoryDeps carry bytecode; the signed struct commits to their hashes.
	deps := make([]interface{}, 0, len(tx.FactoryDeps))
	for i, dep := range tx.FactoryDeps {
		h, err := HashBytecode(dep)
		if err != nil {
			return apitypes.TypedData{}, fmt.Errorf("factory dep %d: %w", i, err)
		}
		// hex strings keep apitypes from treating a [32]byte as a nested array
		deps = append(deps, hexutil.Encode(h.Bytes()))
	}

	return apitypes.TypedData{
		Types:       eip712Types,
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:    domainName,
			Version: domainVersion,
			ChainId: math.NewHexOrDecimal256(tx.ChainID.Int64()),
		},
		Message: apitypes.TypedDataMessage{
			"txType":                 big.NewInt(TxType),
			"from":                   addressAsUint(tx.From),
			"to":                     addressAsUint(tx.To),
			"gasLimit":               tx.GasLimit.ToBig(),
			"gasPerPubdataByteLimit": tx.gasPerPubdata().ToBig(),
			"maxFeePerGas":           tx.MaxFeePerGas.ToBig(),
			"maxPriorityFeePerGas":   tx.MaxPriorityFeePerGas.ToBig(),
			"paymaster":              addressAsUint(paymaster),
			"nonce":                  new(big.Int).SetUint64(tx.Nonce),
			"value":                  tx.value().ToBig(),
			"data":                   data,
			"factoryDeps":            deps,
			"paymasterInput":         paymasterInput,
		},
	}, nil
}

// Digest returns keccak256("\x19\x01" || domainSeparator || hashStruct(tx)).
func Digest(tx *Transaction) (common.Hash, error) {
	typed, err := TypedData(tx)
	if err != nil {
		return common.Hash{}, err
	}
	hash, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return common.Hash{}, fmt.Errorf("hashing typed data: %w", err)
	}
	return common.BytesToHash(hash), nil
}
