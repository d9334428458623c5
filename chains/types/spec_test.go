package types_test

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	ethtypes "github.com/skip-mev/feerelay/chains/ethereum/types"
	relaytypes "github.com/skip-mev/feerelay/chains/types"
)

const fullSpec = `
name: crown-paymaster
rpc_url: https://sepolia.era.zksync.dev
token_address: "0x927488F48ffbc32112F1fF721759649A89721F8F"
private_key_env: MY_KEY
tx_timeout: 120s
poll_interval: 250ms
mint: {enabled: false, amount: 10}
sponsored_mint_amount: 3
relay:
  base_url: https://api.zyfi.org
  is_testnet: true
  timeout: 5s
  requests_per_second: 2
  max_attempts: 3
  api_key_env: ZYFI_API_KEY
limits:
  max_gas_limit: 1000000
  max_fee_per_gas: 50000000000
  priority_fee_per_gas: 0
  max_total_fee_wei: "1000000000000000000"
  max_fee_token_allowance: "1000000000000000000000"
metrics_addr: ":9090"
tracing: {endpoint: "localhost:4317", insecure: true}
results_file: /tmp/out.json
`

func TestParseSpec(t *testing.T) {
	spec, err := relaytypes.ParseSpec([]byte(fullSpec))
	require.NoError(t, err)

	require.Equal(t, "crown-paymaster", spec.Name)
	require.Equal(t, "MY_KEY", spec.PrivateKeyEnv)
	require.Equal(t, 120*time.Second, spec.TxTimeout)
	require.Equal(t, 250*time.Millisecond, spec.PollInterval)
	require.False(t, spec.Mint.IsEnabled())
	require.Equal(t, int64(10), spec.Mint.Amount)
	require.Equal(t, int64(3), spec.SponsoredMintAmount)
	require.Equal(t, relaytypes.RelayConfig{
		BaseURL:           "https://api.zyfi.org",
		IsTestnet:         true,
		Timeout:           5 * time.Second,
		RequestsPerSecond: 2,
		MaxAttempts:       3,
		APIKeyEnv:         "ZYFI_API_KEY",
	}, spec.Relay)

	require.Equal(t, uint64(1_000_000), spec.Limits.MaxGasLimit)
	require.Equal(t, big.NewInt(50_000_000_000), spec.Limits.MaxFeePerGas)
	require.Equal(t, 0, spec.Limits.PriorityFeePerGas.Sign())
	require.Equal(t, "1000000000000000000", spec.Limits.MaxTotalFeeWei.String())
	require.Equal(t, "1000000000000000000000", spec.Limits.MaxFeeTokenAllowance.String())
	require.Equal(t, uint64(ethtypes.DefaultGasPerPubdata), spec.Limits.GasPerPubdata)

	require.Equal(t, ":9090", spec.MetricsAddr)
	require.Equal(t, relaytypes.TracingConfig{Endpoint: "localhost:4317", Insecure: true}, spec.Tracing)
	require.Equal(t, "/tmp/out.json", spec.ResultsFile)
}

func TestParseSpecDefaults(t *testing.T) {
	spec, err := relaytypes.ParseSpec([]byte(`
rpc_url: http://localhost:8011
token_address: "0x927488F48ffbc32112F1fF721759649A89721F8F"
relay:
  base_url: https://api.zyfi.org
`))
	require.NoError(t, err)

	require.Equal(t, relaytypes.DefaultPrivateKeyEnv, spec.PrivateKeyEnv)
	require.Equal(t, relaytypes.DefaultTxTimeout, spec.TxTimeout)
	require.Equal(t, relaytypes.DefaultPollInterval, spec.PollInterval)
	require.True(t, spec.Mint.IsEnabled())
	require.Equal(t, int64(relaytypes.DefaultMintAmount), spec.Mint.Amount)
	require.Equal(t, int64(relaytypes.DefaultSponsoredMintAmount), spec.SponsoredMintAmount)
	require.Equal(t, relaytypes.DefaultRelayTimeout, spec.Relay.Timeout)
	require.Equal(t, 1, spec.Relay.MaxAttempts)
	require.False(t, spec.Relay.IsTestnet)
	require.Equal(t, relaytypes.DefaultResultsFile, spec.ResultsFile)
	require.Equal(t, uint64(ethtypes.DefaultMaxGasLimit), spec.Limits.MaxGasLimit)
	require.Equal(t, ethtypes.DefaultMaxFeePerGas, spec.Limits.MaxFeePerGas)
	require.Nil(t, spec.Limits.MaxTotalFeeWei)
}

func TestParseSpecInvalid(t *testing.T) {
	base := func() map[string]interface{} {
		var m map[string]interface{}
		require.NoError(t, yaml.Unmarshal([]byte(fullSpec), &m))
		return m
	}

	tests := []struct {
		name   string
		mutate func(m map[string]interface{})
	}{
		{"missing_rpc_url", func(m map[string]interface{}) { delete(m, "rpc_url") }},
		{"bad_token_address", func(m map[string]interface{}) { m["token_address"] = "0x1234" }},
		{"poll_above_timeout", func(m map[string]interface{}) { m["poll_interval"] = "10m" }},
		{"negative_mint", func(m map[string]interface{}) { m["sponsored_mint_amount"] = -1 }},
		{"missing_relay_url", func(m map[string]interface{}) {
			delete(m["relay"].(map[string]interface{}), "base_url")
		}},
		{"relative_relay_url", func(m map[string]interface{}) {
			m["relay"].(map[string]interface{})["base_url"] = "api.zyfi.org"
		}},
		{"negative_max_attempts", func(m map[string]interface{}) {
			m["relay"].(map[string]interface{})["max_attempts"] = -2
		}},
		{"priority_above_max_fee", func(m map[string]interface{}) {
			m["limits"].(map[string]interface{})["priority_fee_per_gas"] = "60000000000"
		}},
		{"bad_big_int", func(m map[string]interface{}) {
			m["limits"].(map[string]interface{})["max_fee_per_gas"] = "lots"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := base()
			tt.mutate(m)
			data, err := yaml.Marshal(m)
			require.NoError(t, err)

			_, err = relaytypes.ParseSpec(data)
			require.Error(t, err)
		})
	}
}

func TestLoadSpec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spec.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fullSpec), 0o600))

	spec, err := relaytypes.LoadSpec(path)
	require.NoError(t, err)
	require.Equal(t, "crown-paymaster", spec.Name)

	_, err = relaytypes.LoadSpec(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		result relaytypes.FlowResult
		want   int
	}{
		{relaytypes.FlowResult{State: ethtypes.StateConfirmed, Outcome: ethtypes.OutcomeSuccess}, relaytypes.ExitSuccess},
		{relaytypes.FlowResult{State: ethtypes.StateConfirmed, Outcome: ethtypes.OutcomeReverted}, relaytypes.ExitReverted},
		{relaytypes.FlowResult{State: ethtypes.StateFailed, Reason: ethtypes.ReasonRelayError}, relaytypes.ExitFailed},
		{relaytypes.FlowResult{State: ethtypes.StateFailed, Reason: ethtypes.ReasonValidationError}, relaytypes.ExitFailed},
		{relaytypes.FlowResult{
			State:   ethtypes.StateUnconfirmed,
			Reason:  ethtypes.ReasonConfirmationTimeout,
			Outcome: ethtypes.OutcomeUnknown,
		}, relaytypes.ExitUnknown},
		{relaytypes.FlowResult{State: ethtypes.StateFailed, Reason: ethtypes.ReasonConfirmationTimeout}, relaytypes.ExitFailed},
		{relaytypes.FlowResult{State: ethtypes.StateSigned}, relaytypes.ExitSetup},
		{relaytypes.FlowResult{}, relaytypes.ExitSetup},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, tt.result.ExitCode(), "%s/%s/%s", tt.result.State, tt.result.Reason, tt.result.Outcome)
	}
}
