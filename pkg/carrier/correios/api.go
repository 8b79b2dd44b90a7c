package correios

import (
	"context"
	"fmt"
	"strings"
)

// APIClient defines the raw Correios REST operations.
// This abstraction allows for mock implementations during testing
// and real implementations in production.
type APIClient interface {
	// AuthenticateContract obtains a contract-scoped token
	// (POST /token/v1/autentica/contrato).
	AuthenticateContract(ctx context.Context, basic BasicCredentials, req *ContractRequest) (*TokenResponse, error)

	// AuthenticateBasic obtains an account-level token (POST /token/v1/autentica).
	AuthenticateBasic(ctx context.Context, basic BasicCredentials) (*TokenResponse, error)

	// TrackObjects queries one or more codes (GET /srorastro/v1/objetos).
	TrackObjects(ctx context.Context, token string, codes []string, result string) (*ObjectsResponse, error)
}

// ============================================================================
// API Request/Response Types (match the Correios JSON API structure)
// ============================================================================

// BasicCredentials are the account identifier (CPF/CNPJ) and access code.
type BasicCredentials struct {
	Identifier string
	AccessCode string
}

// ContractRequest is the body of a contract authentication.
type ContractRequest struct {
	Numero string `json:"numero"`
	DR     *int   `json:"dr,omitempty"`
}

// TokenResponse is returned by both authentication endpoints.
type TokenResponse struct {
	Token    string        `json:"token"`
	ExpiraEm string        `json:"expiraEm"`
	Ambiente string        `json:"ambiente,omitempty"`
	Contrato *ContractInfo `json:"contrato,omitempty"`
}

// ContractInfo echoes the contract the token is scoped to.
type ContractInfo struct {
	Numero string `json:"numero"`
	DR     *int   `json:"dr,omitempty"`
}

// ObjectsResponse is the tracking query response.
type ObjectsResponse struct {
	Versao        string          `json:"versao,omitempty"`
	Quantidade    int             `json:"quantidade"`
	Objetos       []TrackedObject `json:"objetos"`
	TipoResultado string          `json:"tipoResultado,omitempty"`
}

// TrackedObject is one code in a tracking response.
type TrackedObject struct {
	CodObjeto string  `json:"codObjeto"`
	Mensagem  string  `json:"mensagem,omitempty"`
	Eventos   []Event `json:"eventos"`
}

// Event is a single tracking event, newest first.
type Event struct {
	Codigo         string `json:"codigo"`
	Tipo           string `json:"tipo"`
	Descricao      string `json:"descricao"`
	DtHrCriado     string `json:"dtHrCriado"`
	Unidade        *Unit  `json:"unidade,omitempty"`
	UnidadeDestino *Unit  `json:"unidadeDestino,omitempty"`
}

// Unit is a Correios operational unit.
type Unit struct {
	Endereco Address `json:"endereco"`
}

// Address is a unit address.
type Address struct {
	Cidade string `json:"cidade"`
	UF     string `json:"uf"`
}

// APIError represents a non-2xx response from the Correios API.
type APIError struct {
	StatusCode int      `json:"-"`
	Msgs       []string `json:"msgs,omitempty"`
	Message    string   `json:"message,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Text())
}

// Text returns the carrier's message: the first msgs entry, then message.
func (e *APIError) Text() string {
	for _, m := range e.Msgs {
		if s := strings.TrimSpace(m); s != "" {
			return s
		}
	}
	if s := strings.TrimSpace(e.Message); s != "" {
		return s
	}
	return "no message"
}
