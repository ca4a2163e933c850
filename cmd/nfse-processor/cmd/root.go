package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rezonia/nfse-processor/internal/config"
	"github.com/rezonia/nfse-processor/internal/logger"
	"github.com/rezonia/nfse-processor/internal/metrics"
	"github.com/rezonia/nfse-processor/internal/response"
	"github.com/rezonia/nfse-processor/pkg/nfselib"
)

var (
	version = "1.0.0"

	// Global flags
	cfgFile      string
	verbose      bool
	outputFormat string
	outputFile   string
	municipio    string
)

var rootCmd = &cobra.Command{
	Use:   "nfse-processor",
	Short: "Query and issue Brazilian service invoices (NFSe)",
	Long: `NFSe Processor talks to the national NFSe environment (Sefin Nacional
and ADN) through a provider registry.

Supports:
  - Municipality and ISS aliquot catalog with local cache and stale fallback
  - NFSe lookup by access key, RPS or protocol
  - XML and DANFSe download
  - HTTP API server

Examples:
  # Validate the configuration
  nfse-processor validar-config --config nfse.yaml

  # List municipalities in the national NFSe
  nfse-processor municipios -f table

  # Look up the ISS aliquot of a service in Curitiba
  nfse-processor aliquotas 4106902 --servico 01.07

  # Fetch an NFSe
  nfse-processor consultar <chave>`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (env: NFSE_CONFIG, default: ./nfse.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "f", "json", "Output format (json, table)")
	rootCmd.PersistentFlags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	rootCmd.PersistentFlags().StringVarP(&municipio, "municipio", "m", "", "Municipality key used to select the provider")

	cobra.OnInitialize(initConfig)
}

func initConfig() {
	if cfgFile == "" {
		cfgFile = os.Getenv("NFSE_CONFIG")
	}
}

func printVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// loadConfig reads the configuration and builds the logger for it
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	printVerbose("Environment: %s\n", cfg.Provider.Environment)
	printVerbose("Base URL: %s\n", cfg.Provider.BaseURL)
	return cfg, logger.New(cfg.LoggerConfig()), nil
}

// newClient wires a client from the configuration. The returned function
// releases the cache and flushes the logger.
func newClient(ctx context.Context, m *metrics.Metrics) (*nfselib.Client, *config.Config, *zap.Logger, func(), error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, nil, nil, func() {}, err
	}

	client, closeFn, err := nfselib.NewFromConfig(ctx, cfg, log, m)
	if err != nil {
		_ = log.Sync()
		return nil, nil, nil, func() {}, err
	}
	return client, cfg, log, func() {
		closeFn()
		_ = log.Sync()
	}, nil
}

// withClient runs fn against a configured client and prints its response
func withClient(cmd *cobra.Command, fn func(ctx context.Context, client *nfselib.Client) *response.Response) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	client, _, _, closeFn, err := newClient(ctx, nil)
	if err != nil {
		return err
	}
	defer closeFn()

	return outputResponse(fn(ctx, client))
}

func outputResponse(resp *response.Response) error {
	var writer = os.Stdout
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		writer = f
	}

	switch outputFormat {
	case "json":
		if err := outputJSON(writer, resp); err != nil {
			return err
		}
	case "table":
		if err := outputTable(writer, resp); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported output format: %s", outputFormat)
	}

	if resp.IsError() {
		return fmt.Errorf("%s failed: %s", resp.Operation(), resp.ErrorMessage())
	}
	return nil
}

func outputJSON(w *os.File, resp *response.Response) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(resp)
}
