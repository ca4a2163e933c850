package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/rezonia/nfse-processor/internal/response"
	"github.com/rezonia/nfse-processor/pkg/nfselib"
)

var (
	forceRefresh bool
	servico      string
	competencia  string
	historico    bool
)

var municipiosCmd = &cobra.Command{
	Use:   "municipios",
	Short: "List the municipalities taking part in the national NFSe",
	Long: `List the municipalities taking part in the national NFSe.

Answers come from the local cache while it is fresh. When the remote catalog
fails, a stale cached copy is returned with metadata.stale=true.

Examples:
  nfse-processor municipios
  nfse-processor municipios --refresh -f table`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, client *nfselib.Client) *response.Response {
			return client.ListarMunicipios(ctx, forceRefresh)
		})
	},
}

var aliquotasCmd = &cobra.Command{
	Use:   "aliquotas <codigo-ibge>",
	Short: "Show the ISS aliquots of a municipality",
	Long: `Show the ISS aliquots of a municipality for a service code.

Examples:
  nfse-processor aliquotas 4106902 --servico 01.07
  nfse-processor aliquotas 3550308 --servico 01.07 --competencia 2025-01-01
  nfse-processor aliquotas 4106902 --servico 01.07 --historico`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, client *nfselib.Client) *response.Response {
			if historico {
				return client.HistoricoAliquotas(ctx, args[0], servico, forceRefresh)
			}
			return client.ConsultarAliquotasMunicipio(ctx, args[0], servico, competencia, forceRefresh)
		})
	},
}

var convenioCmd = &cobra.Command{
	Use:   "convenio <codigo-ibge>",
	Short: "Show the agreement of a municipality with the national NFSe",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, client *nfselib.Client) *response.Response {
			return client.ConsultarConvenio(ctx, args[0], forceRefresh)
		})
	},
}

var warmupCmd = &cobra.Command{
	Use:   "aquecer [codigos...]",
	Short: "Preload the catalog cache",
	Long: `Preload the municipality list and the agreements of the given
municipalities. Without arguments, catalog.warmup from the config is used.`,
	RunE: runWarmup,
}

func runWarmup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	client, cfg, _, closeFn, err := newClient(ctx, nil)
	if err != nil {
		return err
	}
	defer closeFn()

	codigos := args
	if len(codigos) == 0 {
		codigos = cfg.Catalog.Warmup
	}
	printVerbose("Warming up %d municipalities\n", len(codigos))
	return outputResponse(client.Warmup(ctx, codigos))
}

func init() {
	rootCmd.AddCommand(municipiosCmd)
	rootCmd.AddCommand(aliquotasCmd)
	rootCmd.AddCommand(convenioCmd)
	rootCmd.AddCommand(warmupCmd)

	municipiosCmd.Flags().BoolVar(&forceRefresh, "refresh", false, "Bypass the cache")
	aliquotasCmd.Flags().BoolVar(&forceRefresh, "refresh", false, "Bypass the cache")
	aliquotasCmd.Flags().StringVar(&servico, "servico", "", "Service code from the national list (e.g. 01.07)")
	aliquotasCmd.Flags().BoolVar(&historico, "historico", false, "Show the aliquot history instead")
	convenioCmd.Flags().BoolVar(&forceRefresh, "refresh", false, "Bypass the cache")
	aliquotasCmd.Flags().StringVar(&competencia, "competencia", "", "Reference date YYYY-MM-DD (default: today)")
	_ = aliquotasCmd.MarkFlagRequired("servico")
}
