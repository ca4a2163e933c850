package nacional

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/rezonia/nfse-processor/internal/model"
	"github.com/rezonia/nfse-processor/internal/provider"
)

// Event types
const (
	EventoCancelamento = "101101"
)

// Cancellation reason codes
const (
	MotivoErroEmissao        = "1"
	MotivoServicoNaoPrestado = "2"
	MotivoOutros             = "9"
)

const (
	namespaceNFSe = "http://www.sped.fazenda.gov.br/nfse"
	eventVersion  = "1.00"
	appVersion    = "nfse-processor"
)

// Evento describes an event registration request
type Evento struct {
	Tipo         string
	ChaveAcesso  string
	CodigoMotivo string
	Motivo       string
	Sequencia    int
}

// DocumentBuilder produces the XML documents sent to the national API.
// Implementations are expected to sign what they produce.
type DocumentBuilder interface {
	BuildDPS(data map[string]any) ([]byte, error)
	BuildEvento(ev Evento) ([]byte, error)
}

// XMLBuilder is the default DocumentBuilder. DPS documents must be supplied
// ready-made in the "dps_xml" field; events are rendered unsigned.
type XMLBuilder struct {
	cfg provider.Config
	now func() time.Time
}

// NewXMLBuilder creates the default builder
func NewXMLBuilder(cfg provider.Config, now func() time.Time) *XMLBuilder {
	if now == nil {
		now = time.Now
	}
	return &XMLBuilder{cfg: cfg, now: now}
}

// BuildDPS returns the "dps_xml" field of data
func (b *XMLBuilder) BuildDPS(data map[string]any) ([]byte, error) {
	raw, _ := data["dps_xml"].(string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, model.NewValidationError(model.ErrCodeInvalidField, "dps_xml", nil,
			"required", "a DPS XML document is required")
	}
	return []byte(raw), nil
}

type pedRegEvento struct {
	XMLName   xml.Name  `xml:"pedRegEvento"`
	Xmlns     string    `xml:"xmlns,attr"`
	Versao    string    `xml:"versao,attr"`
	InfPedReg infPedReg `xml:"infPedReg"`
}

type infPedReg struct {
	ID            string        `xml:"Id,attr"`
	TpAmb         string        `xml:"tpAmb"`
	VerAplic      string        `xml:"verAplic"`
	DhEvento      string        `xml:"dhEvento"`
	CNPJAutor     string        `xml:"CNPJAutor,omitempty"`
	ChNFSe        string        `xml:"chNFSe"`
	NPedRegEvento string        `xml:"nPedRegEvento"`
	Cancelamento  *cancelamento `xml:"e101101,omitempty"`
}

type cancelamento struct {
	XDesc   string `xml:"xDesc"`
	CMotivo string `xml:"cMotivo"`
	XMotivo string `xml:"xMotivo"`
}

// BuildEvento renders a pedRegEvento document
func (b *XMLBuilder) BuildEvento(ev Evento) ([]byte, error) {
	if ev.Tipo != EventoCancelamento {
		return nil, model.NewValidationError(model.ErrCodeInvalidField, "tipo_evento", ev.Tipo,
			"supported", "unsupported event type")
	}
	seq := ev.Sequencia
	if seq <= 0 {
		seq = 1
	}
	code := ev.CodigoMotivo
	if code == "" {
		code = MotivoOutros
	}

	doc := pedRegEvento{
		Xmlns:  namespaceNFSe,
		Versao: eventVersion,
		InfPedReg: infPedReg{
			ID:            fmt.Sprintf("PRE%s%s%03d", ev.ChaveAcesso, ev.Tipo, seq),
			TpAmb:         tpAmb(b.cfg.Environment),
			VerAplic:      appVersion,
			DhEvento:      b.now().Format(time.RFC3339),
			CNPJAutor:     b.cfg.Auth["cnpj"],
			ChNFSe:        ev.ChaveAcesso,
			NPedRegEvento: fmt.Sprintf("%03d", seq),
			Cancelamento: &cancelamento{
				XDesc:   "Cancelamento de NFS-e",
				CMotivo: code,
				XMotivo: ev.Motivo,
			},
		},
	}

	out, err := xml.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

func tpAmb(env string) string {
	if env == provider.EnvProducao {
		return "1"
	}
	return "2"
}
