package chains

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/skip-mev/feerelay/chains/ethereum/metrics"
	"github.com/skip-mev/feerelay/chains/ethereum/relay"
	ethrunner "github.com/skip-mev/feerelay/chains/ethereum/runner"
	"github.com/skip-mev/feerelay/chains/ethereum/wallet"
	relaytypes "github.com/skip-mev/feerelay/chains/types"
	"github.com/skip-mev/feerelay/config"
)

// Flow is a sponsored transaction flow wired from a spec
type Flow struct {
	spec          relaytypes.RelaySpec
	runner        *ethrunner.Runner
	chain         *wallet.ChainClient
	metricsServer *http.Server
}

// NewFlow dials the node, loads the signing key from the environment and
// prepares the runner. Nothing is sent yet.
func NewFlow(ctx context.Context, logger *zap.Logger, spec relaytypes.RelaySpec) (*Flow, error) {
	return newFlow(ctx, logger, spec, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

func newFlow(ctx context.Context, logger *zap.Logger, spec relaytypes.RelaySpec,
	reg prometheus.Registerer, gatherer prometheus.Gatherer,
) (*Flow, error) {
	spec.ApplyDefaults()
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	key, err := config.Secret(spec.PrivateKeyEnv)
	if err != nil {
		return nil, fmt.Errorf("failed to load private key: %w", err)
	}
	var apiKey string
	if spec.Relay.APIKeyEnv != "" {
		if apiKey, err = config.Secret(spec.Relay.APIKeyEnv); err != nil {
			return nil, fmt.Errorf("failed to load relayer api key: %w", err)
		}
	}

	chain, err := wallet.Dial(ctx, logger, spec.RPCURL)
	if err != nil {
		return nil, err
	}
	chainID, err := chain.ChainID(ctx)
	if err != nil {
		chain.Close()
		return nil, err
	}
	signer, err := wallet.NewSignerFromHex(key, chainID)
	if err != nil {
		chain.Close()
		return nil, err
	}

	relayClient, err := relay.NewClient(logger, relay.Config{
		BaseURL:           spec.Relay.BaseURL,
		Timeout:           spec.Relay.Timeout,
		RequestsPerSecond: spec.Relay.RequestsPerSecond,
		MaxAttempts:       spec.Relay.MaxAttempts,
		APIKey:            apiKey,
	})
	if err != nil {
		chain.Close()
		return nil, err
	}

	m := metrics.NewMetrics(reg)
	runner, err := ethrunner.NewRunner(ctx, logger, spec, signer, chain, relayClient, ethrunner.WithMetrics(m))
	if err != nil {
		chain.Close()
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}

	f := &Flow{spec: spec, runner: runner, chain: chain}
	if spec.MetricsAddr != "" {
		f.metricsServer = startPrometheusServer(spec.MetricsAddr, reg, gatherer, logger)
	}
	return f, nil
}

// Run executes the flow, prints the report to stdout and saves the result.
func (f *Flow) Run(ctx context.Context, logger *zap.Logger) (relaytypes.FlowResult, error) {
	logger.Info("starting sponsored transaction flow", zap.String("flow_id", f.runner.FlowID()))
	result, err := f.runner.Run(ctx)

	f.runner.PrintResults(result)

	if config.EnvFromContext(ctx).NoResultsFile {
		return result, err
	}
	if saveErr := SaveResults(result, f.spec.ResultsFile, logger); saveErr != nil {
		logger.Error("failed to save results", zap.Error(saveErr))
	}
	return result, err
}

func (f *Flow) Close(ctx context.Context) {
	if f.metricsServer != nil {
		_ = f.metricsServer.Shutdown(ctx)
	}
	f.chain.Close()
}

// SaveResults writes results as indented JSON to path, creating its directory.
func SaveResults(results relaytypes.FlowResult, path string, logger *zap.Logger) error {
	if path == "" {
		path = relaytypes.DefaultResultsFile
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Error("failed to create results directory",
			zap.String("dir", dir),
			zap.Error(err))
		return err
	}

	jsonData, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		logger.Error("failed to marshal results to JSON",
			zap.Error(err))
		return err
	}

	if err := os.WriteFile(path, jsonData, 0o644); err != nil {
		logger.Error("failed to write results to file",
			zap.String("path", path),
			zap.Error(err))
		return err
	}

	logger.Debug("successfully saved flow results",
		zap.String("path", path))

	return nil
}
