package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/skip-mev/feerelay/chains"
	logging "github.com/skip-mev/feerelay/chains/log"
	"github.com/skip-mev/feerelay/chains/types"
	"github.com/skip-mev/feerelay/config"
	"github.com/skip-mev/feerelay/internal/tracing"
)

const serviceName = "feerelay"

var errFailed = errors.New("failure")

func main() {
	os.Exit(run())
}

func run() int {
	var (
		env  = config.ParseEnv()
		args = parseArgs()
	)

	logger, _ := logging.DefaultLogger(env.DevLogging)
	defer logging.CloseLogFile()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx = config.WithEnv(ctx, env)
	ctx = logging.WithLogger(ctx, logger)

	setupErr := func(err error, message string) int {
		err = errors.Wrap(err, message)
		logger.Error("Failure", zap.Error(err))
		if !env.NoResultsFile {
			saveConfigError(err, args.ResultsFile, logger)
		}
		return types.ExitSetup
	}

	if args.ConfigPath == "" {
		return setupErr(errFailed, "config file path is required")
	}

	spec, err := types.LoadSpec(args.ConfigPath)
	if err != nil {
		return setupErr(err, "failed to load config")
	}
	if args.ResultsFile != "" {
		spec.ResultsFile = args.ResultsFile
	}

	shutdownTracing, err := tracing.Init(ctx, serviceName, spec.Tracing.Endpoint, spec.Tracing.Insecure)
	if err != nil {
		return setupErr(err, "failed to initialise tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	flow, err := chains.NewFlow(ctx, logger, spec)
	if err != nil {
		return setupErr(err, "failed to create flow")
	}
	defer flow.Close(context.Background())

	result, err := flow.Run(ctx, logger)
	code := result.ExitCode()
	if err != nil {
		logger.Error("flow did not succeed",
			zap.String("state", string(result.State)),
			zap.String("reason", string(result.Reason)),
			zap.Int("exit_code", code),
			zap.Error(errors.Wrap(err, "sponsored transaction flow")))
	}
	return code
}

func parseArgs() config.Config {
	configPath := flag.String("config", "", "Path to flow configuration file")
	resultsFile := flag.String("results", "", "Override the results file from the configuration")
	flag.Parse()

	return config.Config{
		ConfigPath:  *configPath,
		ResultsFile: *resultsFile,
	}
}

func saveConfigError(err error, path string, logger *zap.Logger) {
	out := types.FlowResult{
		Error: err.Error(),
	}

	if errSave := chains.SaveResults(out, path, logger); errSave != nil {
		logger.Error("failed to save results", zap.Error(errSave))
	}
}
