package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rezonia/nfse-processor/internal/metrics"
	"github.com/rezonia/nfse-processor/internal/server"
)

var (
	serverAddr  string
	serverDebug bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start an HTTP API server in front of the NFSe client.

The API provides endpoints for:
  - GET  /api/v1/config/validar                 - Validate the provider configuration
  - GET  /api/v1/municipios                     - List municipalities
  - GET  /api/v1/municipios/{codigo}/aliquotas  - ISS aliquots of a municipality
  - GET  /api/v1/municipios/{codigo}/aliquotas/historico - Aliquot history
  - GET  /api/v1/municipios/{codigo}/convenio   - Agreement with the national NFSe
  - POST /api/v1/catalogo/aquecer               - Preload the catalog cache
  - POST /api/v1/nfse                           - Issue an NFSe
  - GET  /api/v1/nfse/{chave}                   - Fetch an NFSe
  - POST /api/v1/nfse/{chave}/cancelamento      - Cancel an NFSe
  - POST /api/v1/nfse/{chave}/substituicao      - Replace an NFSe
  - GET  /api/v1/nfse/{chave}/xml               - Download the XML
  - GET  /api/v1/nfse/{chave}/danfse            - Download the DANFSe PDF
  - GET  /api/v1/rps/{numero}                   - Fetch an NFSe by RPS
  - GET  /api/v1/lotes/{protocolo}              - Fetch a submission by protocol
  - GET  /metrics                               - Prometheus metrics
  - GET  /health                                - Health check

Examples:
  # Start server with the address from the config file
  nfse-processor serve

  # Start on a custom port in debug mode
  nfse-processor serve --address :9090 --debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverAddr, "address", "", "Server listen address (overrides server.addr)")
	serveCmd.Flags().BoolVar(&serverDebug, "debug", false, "Enable debug mode")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	client, cfg, log, closeFn, err := newClient(ctx, m)
	if err != nil {
		return err
	}
	defer closeFn()

	if len(cfg.Catalog.Warmup) > 0 {
		warmCtx, cancel := context.WithTimeout(ctx, time.Minute)
		resp := client.Warmup(warmCtx, cfg.Catalog.Warmup)
		cancel()
		if resp.IsError() {
			log.Warn("catalog warmup failed", zap.String("error", resp.ErrorMessage()))
		}
	}

	addr := cfg.Server.Addr
	if serverAddr != "" {
		addr = serverAddr
	}

	srv := server.NewServer(&server.Config{
		Address:      addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		Debug:        serverDebug,
	}, client,
		server.WithLogger(log),
		server.WithGatherer(reg),
	)

	fmt.Printf("Starting server on %s (%s)\n", addr, cfg.Provider.Environment)
	return srv.Run(ctx)
}
