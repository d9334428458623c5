package types

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	ethtypes "github.com/skip-mev/feerelay/chains/ethereum/types"
)

const (
	DefaultTxTimeout           = 240 * time.Second
	DefaultPollInterval        = 500 * time.Millisecond
	DefaultRelayTimeout        = 15 * time.Second
	DefaultMintAmount          = 50
	DefaultSponsoredMintAmount = 7
	DefaultPrivateKeyEnv       = "FEERELAY_PRIVATE_KEY"
	DefaultResultsFile         = "/tmp/feerelay/result.json"
)

type RelaySpec struct {
	Name                string          `yaml:"name" json:"name"`
	Description         string          `yaml:"description,omitempty" json:"description,omitempty"`
	RPCURL              string          `yaml:"rpc_url" json:"rpc_url"`
	TokenAddress        string          `yaml:"token_address" json:"token_address"`
	PrivateKeyEnv       string          `yaml:"private_key_env" json:"private_key_env"`
	TxTimeout           time.Duration   `yaml:"tx_timeout,omitempty" json:"tx_timeout,omitempty"`
	PollInterval        time.Duration   `yaml:"poll_interval,omitempty" json:"poll_interval,omitempty"`
	Mint                MintConfig      `yaml:"mint" json:"mint"`
	SponsoredMintAmount int64           `yaml:"sponsored_mint_amount" json:"sponsored_mint_amount"`
	Relay               RelayConfig     `yaml:"relay" json:"relay"`
	Limits              ethtypes.Limits `yaml:"limits" json:"limits"`
	MetricsAddr         string          `yaml:"metrics_addr,omitempty" json:"metrics_addr,omitempty"`
	Tracing             TracingConfig   `yaml:"tracing" json:"tracing"`
	ResultsFile         string          `yaml:"results_file,omitempty" json:"results_file,omitempty"`
}

type MintConfig struct {
	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Amount  int64 `yaml:"amount" json:"amount"`
}

func (m MintConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

type RelayConfig struct {
	BaseURL           string        `yaml:"base_url" json:"base_url"`
	IsTestnet         bool          `yaml:"is_testnet" json:"is_testnet"`
	Timeout           time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	RequestsPerSecond float64       `yaml:"requests_per_second,omitempty" json:"requests_per_second,omitempty"`
	MaxAttempts       int           `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	APIKeyEnv         string        `yaml:"api_key_env,omitempty" json:"api_key_env,omitempty"`
}

type TracingConfig struct {
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Insecure bool   `yaml:"insecure,omitempty" json:"insecure,omitempty"`
}

// LoadSpec reads, defaults and validates the YAML config file at path.
func LoadSpec(path string) (RelaySpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RelaySpec{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseSpec(data)
}

func ParseSpec(data []byte) (RelaySpec, error) {
	var spec RelaySpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return RelaySpec{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	spec.ApplyDefaults()
	if err := spec.Validate(); err != nil {
		return RelaySpec{}, fmt.Errorf("failed to validate config file: %w", err)
	}
	return spec, nil
}

// ApplyDefaults fills every optional field left unset.
func (s *RelaySpec) ApplyDefaults() {
	if s.PrivateKeyEnv == "" {
		s.PrivateKeyEnv = DefaultPrivateKeyEnv
	}
	if s.TxTimeout == 0 {
		s.TxTimeout = DefaultTxTimeout
	}
	if s.PollInterval == 0 {
		s.PollInterval = DefaultPollInterval
	}
	if s.Mint.Amount == 0 {
		s.Mint.Amount = DefaultMintAmount
	}
	if s.SponsoredMintAmount == 0 {
		s.SponsoredMintAmount = DefaultSponsoredMintAmount
	}
	if s.Relay.Timeout == 0 {
		s.Relay.Timeout = DefaultRelayTimeout
	}
	if s.Relay.MaxAttempts == 0 {
		s.Relay.MaxAttempts = 1
	}
	if s.ResultsFile == "" {
		s.ResultsFile = DefaultResultsFile
	}
	s.Limits = s.Limits.WithDefaults()
}

// Validate validates the RelaySpec and returns an error if it's invalid
func (s *RelaySpec) Validate() error {
	if strings.TrimSpace(s.RPCURL) == "" {
		return fmt.Errorf("rpc_url must be specified")
	}

	if !common.IsHexAddress(s.TokenAddress) {
		return fmt.Errorf("token_address %q is not a hex address", s.TokenAddress)
	}

	if s.PrivateKeyEnv == "" {
		return fmt.Errorf("private_key_env must be specified")
	}

	if s.TxTimeout <= 0 || s.PollInterval <= 0 {
		return fmt.Errorf("tx_timeout and poll_interval must be greater than zero")
	}

	if s.PollInterval > s.TxTimeout {
		return fmt.Errorf("poll_interval %s exceeds tx_timeout %s", s.PollInterval, s.TxTimeout)
	}

	if s.Mint.Amount < 0 || s.SponsoredMintAmount < 0 {
		return fmt.Errorf("mint amounts must not be negative")
	}

	if err := s.Relay.Validate(); err != nil {
		return fmt.Errorf("validating relay config: %w", err)
	}

	if err := s.Limits.Validate(); err != nil {
		return fmt.Errorf("validating limits: %w", err)
	}

	return nil
}

func (rc RelayConfig) Validate() error {
	u, err := url.Parse(strings.TrimSpace(rc.BaseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url %q is not an absolute URL", rc.BaseURL)
	}
	if rc.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if rc.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must not be negative")
	}
	if rc.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	return nil
}
