// Package token binds the mintable ERC20 used to pay sponsored fees.
package token

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// MintableERC20ABI covers the calls the relay flow makes.
const MintableERC20ABI = `[
{"type":"function","name":"mint","inputs":[{"name":"_to","type":"address"},{"name":"_amount","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"},
{"type":"function","name":"balanceOf","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
{"type":"function","name":"decimals","inputs":[],"outputs":[{"name":"","type":"uint8"}],"stateMutability":"view"},
{"type":"function","name":"symbol","inputs":[],"outputs":[{"name":"","type":"string"}],"stateMutability":"view"}
]`

var parsedABI abi.ABI

func init() {
	var err error
	parsedABI, err = abi.JSON(strings.NewReader(MintableERC20ABI))
	if err != nil {
		panic(fmt.Sprintf("token abi: %v", err))
	}
}

// Token is a read binding plus calldata encoders for a mintable ERC20.
type Token struct {
	address  common.Address
	contract *bind.BoundContract
}

// New binds the token at address. Writes are not sent through the binding:
// mint calldata is packed and submitted by the caller.
func New(address common.Address, caller bind.ContractCaller) *Token {
	return &Token{
		address:  address,
		contract: bind.NewBoundContract(address, parsedABI, caller, nil, nil),
	}
}

func (t *Token) Address() common.Address {
	return t.address
}

// PackMint returns calldata for mint(to, amount).
func PackMint(to common.Address, amount *big.Int) ([]byte, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, errors.New("mint amount must be non-negative")
	}
	return parsedABI.Pack("mint", to, amount)
}

// BalanceOf returns the token balance of holder at the latest block.
func (t *Token) BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error) {
	var out []interface{}
	if err := t.contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", holder); err != nil {
		return nil, fmt.Errorf("balanceOf %s: %w", holder.Hex(), err)
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

func (t *Token) Decimals(ctx context.Context) (uint8, error) {
	var out []interface{}
	if err := t.contract.Call(&bind.CallOpts{Context: ctx}, &out, "decimals"); err != nil {
		return 0, fmt.Errorf("decimals: %w", err)
	}
	return *abi.ConvertType(out[0], new(uint8)).(*uint8), nil
}

// PackBalanceResult encodes a balanceOf return value. Used to answer eth_call in tests.
func PackBalanceResult(balance *big.Int) ([]byte, error) {
	return parsedABI.Methods["balanceOf"].Outputs.Pack(balance)
}

// IsBalanceOfCall reports whether data is balanceOf calldata and returns the holder.
func IsBalanceOfCall(data []byte) (common.Address, bool) {
	method := parsedABI.Methods["balanceOf"]
	if len(data) < 4 || string(data[:4]) != string(method.ID) {
		return common.Address{}, false
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil || len(args) != 1 {
		return common.Address{}, false
	}
	holder, ok := args[0].(common.Address)
	return holder, ok
}

// UnpackMint decodes mint calldata.
func UnpackMint(data []byte) (common.Address, *big.Int, error) {
	method := parsedABI.Methods["mint"]
	if len(data) < 4 || string(data[:4]) != string(method.ID) {
		return common.Address{}, nil, errors.New("not mint calldata")
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return common.Address{}, nil, err
	}
	return args[0].(common.Address), args[1].(*big.Int), nil
}
