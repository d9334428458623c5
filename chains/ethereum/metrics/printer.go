package metrics

import (
	"fmt"
	"io"
	"math/big"
	"os"

	relaytypes "github.com/skip-mev/feerelay/chains/types"
)

func PrintResults(result relaytypes.FlowResult) {
	FprintResults(os.Stdout, result)
}

func FprintResults(w io.Writer, result relaytypes.FlowResult) {
	fmt.Fprintln(w, "\n=== Sponsored Transaction Flow ===")
	fmt.Fprintf(w, "Flow ID: %s\n", result.FlowID)
	if result.Name != "" {
		fmt.Fprintf(w, "Name: %s\n", result.Name)
	}
	fmt.Fprintf(w, "Account: %s\n", result.Account)
	fmt.Fprintf(w, "Final State: %s\n", result.State)
	if result.Outcome != "" {
		fmt.Fprintf(w, "Outcome: %s\n", result.Outcome)
	}
	if result.Reason != "" {
		fmt.Fprintf(w, "Failure Reason: %s\n", result.Reason)
	}
	fmt.Fprintf(w, "Runtime: %s\n", result.Runtime)

	if result.MintTx != nil || result.SponsoredTx != nil {
		fmt.Fprintln(w, "\n📨 Transactions:")
		printTx(w, "Mint", result.MintTx)
		printTx(w, "Sponsored", result.SponsoredTx)
	}

	if s := result.Sponsorship; s != nil {
		fmt.Fprintln(w, "\n⛽ Sponsorship:")
		fmt.Fprintf(w, "  Paymaster: %s (%s flow)\n", s.Paymaster, s.Flow)
		fmt.Fprintf(w, "  Gas Limit: %s\n", orDash(s.GasLimit))
		fmt.Fprintf(w, "  Max Fee Per Gas: %s\n", orDash(s.MaxFeePerGas))
	}

	if b := result.Balances; b != nil {
		fmt.Fprintln(w, "\n💰 Balances:")
		fmt.Fprintf(w, "  Token: %s\n", b.Token)
		if b.TokenBeforeMint != nil || b.TokenAfterMint != nil {
			fmt.Fprintf(w, "  Account token before mint: %s\n", orDash(b.TokenBeforeMint))
			fmt.Fprintf(w, "  Account token after mint: %s\n", orDash(b.TokenAfterMint))
		}
		fmt.Fprintf(w, "  Account %s\n", b.Account)
		fmt.Fprintf(w, "    Native: %s\n", orDash(b.AccountNative))
		fmt.Fprintf(w, "    Token: %s\n", orDash(b.AccountToken))
		if b.Paymaster != "" {
			fmt.Fprintf(w, "  Paymaster %s\n", b.Paymaster)
			fmt.Fprintf(w, "    Native: %s\n", orDash(b.PaymasterNative))
			fmt.Fprintf(w, "    Token: %s\n", orDash(b.PaymasterToken))
		}
	}

	if result.Error != "" {
		fmt.Fprintf(w, "\nError: %s\n", result.Error)
	}
}

func printTx(w io.Writer, label string, tx *relaytypes.TxRecord) {
	if tx == nil {
		return
	}
	fmt.Fprintf(w, "%s: %s (nonce %d)\n", label, tx.Hash, tx.Nonce)
	if tx.Status != nil {
		fmt.Fprintf(w, "  Status: %d, Block: %d, Gas Used: %d, Inclusion: %s\n", *tx.Status, tx.BlockNumber, tx.GasUsed, tx.Inclusion)
	}
}

func orDash(v *big.Int) string {
	if v == nil {
		return "-"
	}
	return v.String()
}
