package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/skip-mev/feerelay/chains/ethereum/zksync"
)

// SponsorshipRequest asks the relayer to cover the fees of a call.
type SponsorshipRequest struct {
	FeeToken  common.Address
	IsTestnet bool
	From      common.Address
	To        common.Address
	Data      []byte
}

// SponsorshipResponse holds the transaction parameters the relayer proposes.
// Fields are checked for presence and type only; policy checks happen when
// the transaction is built.
type SponsorshipResponse struct {
	ChainID         *big.Int
	From            common.Address
	To              common.Address
	Data            []byte
	GasLimit        *big.Int
	MaxFeePerGas    *big.Int
	PaymasterParams zksync.PaymasterParams
	// Extra keeps top level fields other than txData, e.g. feeTokenAmount or expirationTime.
	Extra map[string]json.RawMessage
}

type txDataRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Data string `json:"data"`
}

type sponsorshipRequestBody struct {
	FeeTokenAddress string        `json:"feeTokenAddress"`
	IsTestnet       bool          `json:"isTestnet"`
	TxData          txDataRequest `json:"txData"`
}

func (r SponsorshipRequest) body() sponsorshipRequestBody {
	return sponsorshipRequestBody{
		FeeTokenAddress: r.FeeToken.Hex(),
		IsTestnet:       r.IsTestnet,
		TxData: txDataRequest{
			From: r.From.Hex(),
			To:   r.To.Hex(),
			Data: hexutil.Encode(r.Data),
		},
	}
}

// quantity accepts a JSON number, a decimal string or a 0x hex string.
type quantity struct {
	*big.Int
}

func (q *quantity) UnmarshalJSON(input []byte) error {
	input = bytes.TrimSpace(input)
	if bytes.Equal(input, []byte("null")) {
		return nil
	}

	var text string
	if len(input) > 0 && input[0] == '"' {
		if err := json.Unmarshal(input, &text); err != nil {
			return err
		}
	} else {
		text = string(input)
	}
	text = strings.TrimSpace(text)

	v, ok := new(big.Int), false
	if strings.HasPrefix(text, "0x") || strings.HasPrefix(text, "0X") {
		v, ok = v.SetString(text[2:], 16)
	} else {
		v, ok = v.SetString(text, 10)
	}
	if !ok || text == "" {
		return fmt.Errorf("invalid quantity %s", input)
	}
	q.Int = v
	return nil
}

// byteString accepts a 0x hex string or an array of byte values.
type byteString []byte

func (b *byteString) UnmarshalJSON(input []byte) error {
	input = bytes.TrimSpace(input)
	if len(input) > 0 && input[0] == '[' {
		var values []uint8
		if err := json.Unmarshal(input, &values); err != nil {
			return err
		}
		*b = values
		return nil
	}
	var text string
	if err := json.Unmarshal(input, &text); err != nil {
		return err
	}
	if text == "" {
		*b = []byte{}
		return nil
	}
	decoded, err := hexutil.Decode(text)
	if err != nil {
		return fmt.Errorf("invalid hex %q: %w", text, err)
	}
	*b = decoded
	return nil
}

type wirePaymasterParams struct {
	Paymaster      *string     `json:"paymaster"`
	PaymasterInput *byteString `json:"paymasterInput"`
}

type wireCustomData struct {
	PaymasterParams *wirePaymasterParams `json:"paymasterParams"`
}

type wireTxData struct {
	ChainID      *quantity       `json:"chainId"`
	From         *string         `json:"from"`
	To           *string         `json:"to"`
	Data         *byteString     `json:"data"`
	GasLimit     *quantity       `json:"gasLimit"`
	MaxFeePerGas *quantity       `json:"maxFeePerGas"`
	CustomData   *wireCustomData `json:"customData"`
}

func parseAddress(field string, v *string) (common.Address, error) {
	if v == nil {
		return common.Address{}, malformed("missing %s", field)
	}
	if !common.IsHexAddress(*v) {
		return common.Address{}, malformed("%s is not an address: %q", field, *v)
	}
	return common.HexToAddress(*v), nil
}

func requireQuantity(field string, q *quantity) (*big.Int, error) {
	if q == nil || q.Int == nil {
		return nil, malformed("missing %s", field)
	}
	return q.Int, nil
}

// parseResponse turns a relayer body into a SponsorshipResponse. Unknown
// fields are ignored; missing or mistyped required fields fail.
func parseResponse(body []byte) (*SponsorshipResponse, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, malformed("body is not a json object: %v", err)
	}
	rawTx, ok := top["txData"]
	if !ok || bytes.Equal(bytes.TrimSpace(rawTx), []byte("null")) {
		return nil, malformed("missing txData")
	}

	var tx wireTxData
	if err := json.Unmarshal(rawTx, &tx); err != nil {
		return nil, malformed("txData: %v", err)
	}

	resp := &SponsorshipResponse{Extra: make(map[string]json.RawMessage)}
	for k, v := range top {
		if k != "txData" {
			resp.Extra[k] = v
		}
	}

	var err error
	if resp.ChainID, err = requireQuantity("txData.chainId", tx.ChainID); err != nil {
		return nil, err
	}
	if resp.From, err = parseAddress("txData.from", tx.From); err != nil {
		return nil, err
	}
	if resp.To, err = parseAddress("txData.to", tx.To); err != nil {
		return nil, err
	}
	if tx.Data == nil {
		return nil, malformed("missing txData.data")
	}
	resp.Data = *tx.Data
	if resp.GasLimit, err = requireQuantity("txData.gasLimit", tx.GasLimit); err != nil {
		return nil, err
	}
	if resp.MaxFeePerGas, err = requireQuantity("txData.maxFeePerGas", tx.MaxFeePerGas); err != nil {
		return nil, err
	}

	if tx.CustomData == nil || tx.CustomData.PaymasterParams == nil {
		return nil, malformed("missing txData.customData.paymasterParams")
	}
	pm := tx.CustomData.PaymasterParams
	if resp.PaymasterParams.Paymaster, err = parseAddress("paymasterParams.paymaster", pm.Paymaster); err != nil {
		return nil, err
	}
	if pm.PaymasterInput == nil {
		return nil, malformed("missing paymasterParams.paymasterInput")
	}
	resp.PaymasterParams.PaymasterInput = *pm.PaymasterInput

	return resp, nil
}
