package correios

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// MockAPIClient is a mock implementation of APIClient for testing and for
// running the service without carrier access.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	OnAuthenticateContract func(ctx context.Context, basic BasicCredentials, req *ContractRequest) (*TokenResponse, error)
	OnAuthenticateBasic    func(ctx context.Context, basic BasicCredentials) (*TokenResponse, error)
	OnTrackObjects         func(ctx context.Context, token string, codes []string, result string) (*ObjectsResponse, error)

	authCalls  atomic.Int64
	trackCalls atomic.Int64
}

// NewMockAPIClient creates a new mock API client with default behavior.
func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{}
}

// AuthCalls returns how many authentication calls were made.
func (m *MockAPIClient) AuthCalls() int { return int(m.authCalls.Load()) }

// TrackCalls returns how many tracking calls were made.
func (m *MockAPIClient) TrackCalls() int { return int(m.trackCalls.Load()) }

// AuthenticateContract returns a mock token valid for 24 hours.
func (m *MockAPIClient) AuthenticateContract(ctx context.Context, basic BasicCredentials, req *ContractRequest) (*TokenResponse, error) {
	m.authCalls.Add(1)
	m.simulateLatency()

	if m.SimulateErrors {
		return nil, &APIError{StatusCode: 500, Msgs: []string{"Simulated API error"}}
	}

	if m.OnAuthenticateContract != nil {
		return m.OnAuthenticateContract(ctx, basic, req)
	}

	return &TokenResponse{
		Token:    "mock-" + uuid.New().String(),
		ExpiraEm: time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
		Ambiente: "HOMOLOGACAO",
		Contrato: &ContractInfo{Numero: req.Numero, DR: req.DR},
	}, nil
}

// AuthenticateBasic returns a mock account-level token.
func (m *MockAPIClient) AuthenticateBasic(ctx context.Context, basic BasicCredentials) (*TokenResponse, error) {
	m.authCalls.Add(1)
	m.simulateLatency()

	if m.SimulateErrors {
		return nil, &APIError{StatusCode: 500, Msgs: []string{"Simulated API error"}}
	}

	if m.OnAuthenticateBasic != nil {
		return m.OnAuthenticateBasic(ctx, basic)
	}

	return &TokenResponse{
		Token:    "mock-basic-" + uuid.New().String(),
		ExpiraEm: time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
		Ambiente: "HOMOLOGACAO",
	}, nil
}

// TrackObjects returns one "posted" event per code, except codes starting
// with "NF" which are reported as unknown to the carrier.
func (m *MockAPIClient) TrackObjects(ctx context.Context, token string, codes []string, result string) (*ObjectsResponse, error) {
	m.trackCalls.Add(1)
	m.simulateLatency()

	if m.SimulateErrors {
		return nil, &APIError{StatusCode: 500, Msgs: []string{"Simulated API error"}}
	}

	if m.OnTrackObjects != nil {
		return m.OnTrackObjects(ctx, token, codes, result)
	}

	now := time.Now().Format(eventTimeLayout)
	resp := &ObjectsResponse{
		Versao:        "1.0.0",
		Quantidade:    len(codes),
		TipoResultado: result,
		Objetos:       make([]TrackedObject, 0, len(codes)),
	}
	for _, code := range codes {
		if len(code) >= 2 && code[:2] == "NF" {
			resp.Objetos = append(resp.Objetos, TrackedObject{
				CodObjeto: code,
				Mensagem:  "SRO-020: Objeto não encontrado na base de dados dos Correios.",
			})
			continue
		}
		resp.Objetos = append(resp.Objetos, TrackedObject{
			CodObjeto: code,
			Eventos: []Event{{
				Codigo:     "PO",
				Tipo:       "01",
				Descricao:  "Objeto postado",
				DtHrCriado: now,
				Unidade:    &Unit{Endereco: Address{Cidade: "SAO PAULO", UF: "SP"}},
			}},
		})
	}
	return resp, nil
}

func (m *MockAPIClient) simulateLatency() {
	if m.SimulateLatency > 0 {
		time.Sleep(m.SimulateLatency)
	}
}

// Ensure MockAPIClient implements APIClient interface
var _ APIClient = (*MockAPIClient)(nil)
