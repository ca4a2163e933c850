package cmd

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rezonia/nfse-processor/internal/provider"
	"github.com/rezonia/nfse-processor/internal/response"
	"github.com/rezonia/nfse-processor/pkg/nfselib"
)

var (
	rpsSerie     string
	rpsTipo      string
	rpsCNPJ      string
	motivo       string
	protocolo    string
	dpsFile      string
	downloadPath string
)

var validarCmd = &cobra.Command{
	Use:   "validar-config",
	Short: "Validate the provider configuration",
	Long: `Resolve the provider for --municipio and validate its configuration.

Examples:
  nfse-processor validar-config
  nfse-processor validar-config --municipio curitiba -f table`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, client *nfselib.Client) *response.Response {
			return client.ValidarConfiguracao(ctx, municipio)
		})
	},
}

var consultarCmd = &cobra.Command{
	Use:   "consultar <chave>",
	Short: "Fetch an NFSe by its 50-digit access key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, client *nfselib.Client) *response.Response {
			return client.Consultar(ctx, municipio, args[0])
		})
	},
}

var consultarRpsCmd = &cobra.Command{
	Use:   "consultar-rps <numero>",
	Short: "Fetch an NFSe by the RPS that originated it",
	Long: `Fetch an NFSe by the RPS that originated it.

Examples:
  nfse-processor consultar-rps 123 --serie 900 --cnpj 11222333000181`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rps := provider.RpsIdentification{
			Numero:        args[0],
			Serie:         rpsSerie,
			Tipo:          rpsTipo,
			CNPJPrestador: rpsCNPJ,
		}
		return withClient(cmd, func(ctx context.Context, client *nfselib.Client) *response.Response {
			return client.ConsultarPorRps(ctx, municipio, rps)
		})
	},
}

var consultarLoteCmd = &cobra.Command{
	Use:   "consultar-lote <protocolo>",
	Short: "Fetch the outcome of a submission by protocol",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, client *nfselib.Client) *response.Response {
			return client.ConsultarLote(ctx, municipio, args[0])
		})
	},
}

var emitirCmd = &cobra.Command{
	Use:   "emitir",
	Short: "Issue an NFSe from a signed DPS XML",
	Long: `Issue an NFSe from a signed DPS XML file.

Examples:
  nfse-processor emitir --dps dps-assinada.xml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readDPS(dpsFile)
		if err != nil {
			return err
		}
		return withClient(cmd, func(ctx context.Context, client *nfselib.Client) *response.Response {
			return client.Emitir(ctx, municipio, data)
		})
	},
}

var substituirCmd = &cobra.Command{
	Use:   "substituir <chave>",
	Short: "Replace an NFSe with a new signed DPS XML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readDPS(dpsFile)
		if err != nil {
			return err
		}
		return withClient(cmd, func(ctx context.Context, client *nfselib.Client) *response.Response {
			return client.Substituir(ctx, municipio, args[0], data)
		})
	},
}

var cancelarCmd = &cobra.Command{
	Use:   "cancelar <chave>",
	Short: "Register the cancellation of an NFSe",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, client *nfselib.Client) *response.Response {
			return client.Cancelar(ctx, municipio, args[0], motivo, protocolo)
		})
	},
}

var baixarXMLCmd = &cobra.Command{
	Use:   "baixar-xml <chave>",
	Short: "Download the NFSe XML",
	Long: `Download the NFSe XML. With --to the document is written to a file,
otherwise the response envelope is printed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return download(cmd, func(ctx context.Context, client *nfselib.Client) (*response.Response, []byte, error) {
			resp := client.BaixarXML(ctx, municipio, args[0])
			doc, _ := resp.DataKey("xml").(string)
			return resp, []byte(doc), nil
		})
	},
}

var baixarDanfseCmd = &cobra.Command{
	Use:   "baixar-danfse <chave>",
	Short: "Download the DANFSe PDF",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return download(cmd, func(ctx context.Context, client *nfselib.Client) (*response.Response, []byte, error) {
			resp := client.BaixarDanfse(ctx, municipio, args[0])
			encoded, _ := resp.DataKey("pdf_base64").(string)
			pdf, err := base64.StdEncoding.DecodeString(encoded)
			return resp, pdf, err
		})
	},
}

func init() {
	rootCmd.AddCommand(validarCmd, consultarCmd, consultarRpsCmd, consultarLoteCmd,
		emitirCmd, substituirCmd, cancelarCmd, baixarXMLCmd, baixarDanfseCmd)

	consultarRpsCmd.Flags().StringVar(&rpsSerie, "serie", "", "RPS series (default: 1)")
	consultarRpsCmd.Flags().StringVar(&rpsTipo, "tipo", "", "RPS type")
	consultarRpsCmd.Flags().StringVar(&rpsCNPJ, "cnpj", "", "Issuer CNPJ")
	_ = consultarRpsCmd.MarkFlagRequired("cnpj")

	for _, c := range []*cobra.Command{emitirCmd, substituirCmd} {
		c.Flags().StringVar(&dpsFile, "dps", "", "Signed DPS XML file")
		_ = c.MarkFlagRequired("dps")
	}

	cancelarCmd.Flags().StringVar(&motivo, "motivo", "", "Cancellation reason")
	cancelarCmd.Flags().StringVar(&protocolo, "protocolo", "", "Issuance protocol")
	_ = cancelarCmd.MarkFlagRequired("motivo")

	baixarXMLCmd.Flags().StringVar(&downloadPath, "to", "", "Write the document to this file")
	baixarDanfseCmd.Flags().StringVar(&downloadPath, "to", "", "Write the document to this file")
}

// readDPS loads a DPS XML file, or a JSON object of fields when the file
// ends in .json
func readDPS(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read DPS: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		var data map[string]any
		if err := json.Unmarshal(b, &data); err != nil {
			return nil, fmt.Errorf("failed to parse DPS fields: %w", err)
		}
		return data, nil
	}
	return map[string]any{"dps_xml": string(b)}, nil
}

func download(cmd *cobra.Command, fn func(ctx context.Context, client *nfselib.Client) (*response.Response, []byte, error)) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	client, _, _, closeFn, err := newClient(ctx, nil)
	if err != nil {
		return err
	}
	defer closeFn()

	resp, doc, err := fn(ctx, client)
	if downloadPath == "" || resp.IsError() {
		return outputResponse(resp)
	}
	if err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	if err := os.WriteFile(downloadPath, doc, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", downloadPath, err)
	}
	printVerbose("Wrote %d bytes to %s\n", len(doc), downloadPath)
	return nil
}
