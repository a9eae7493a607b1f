package api

import (
	"bytes"
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/blndgs/aawallet/builder"
	"github.com/blndgs/aawallet/consolidation"
	"github.com/blndgs/aawallet/registry"
	"github.com/blndgs/aawallet/storage"
)

var owner = common.HexToAddress("0xAAAaAAAaaAaAAaAaaAAAaaAAaAAAAaaAAaaaaAaA")

type hashResolver struct{}

func (hashResolver) Resolve(_ context.Context, o common.Address, salt uint32, _ common.Address) (common.Address, error) {
	return common.BytesToAddress(crypto.Keccak256(o.Bytes(), big.NewInt(int64(salt)).Bytes())), nil
}

type fakeConsolidator struct {
	plan     *consolidation.Plan
	err      error
	progress *consolidation.Progress
	running  bool
	started  bool
	cleared  bool
}

func (f *fakeConsolidator) Plan(context.Context) (*consolidation.Plan, error) {
	return f.plan, f.err
}

func (f *fakeConsolidator) Start(context.Context) (*consolidation.Plan, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.running {
		return nil, consolidation.ErrAlreadyRunning
	}
	f.started = true
	return f.plan, nil
}

func (f *fakeConsolidator) Progress() *consolidation.Progress { return f.progress }
func (f *fakeConsolidator) Running() bool                     { return f.running }

func (f *fakeConsolidator) Clear() error {
	if f.running {
		return consolidation.ErrAlreadyRunning
	}
	f.cleared = true
	f.progress = nil
	return nil
}

func setupServer(t *testing.T) (*Server, *registry.Registry, *fakeConsolidator) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := registry.New(registry.Config{
		Store:    storage.NewMemoryStore(),
		Resolver: hashResolver{},
		Factory:  common.HexToAddress("0x9406Cc6185a346906296840746125a0E44976454"),
		ChainID:  big.NewInt(137),
		Instances: func(context.Context, common.Address, registry.Account) (*builder.Builder, error) {
			return &builder.Builder{}, nil
		},
	})
	require.NoError(t, reg.Load(context.Background(), registry.AuthContext{Owner: owner}))

	cons := &fakeConsolidator{plan: &consolidation.Plan{TotalTransfers: 2, CanExecute: true}}
	return NewServer(context.Background(), reg, cons), reg, cons
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestServer_AccountLifecycle(t *testing.T) {
	s, reg, _ := setupServer(t)

	w := do(t, s, http.MethodPost, "/accounts", `{"name":"Savings"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[registry.Account](t, w)
	require.Equal(t, "Savings", created.Name)
	require.NotZero(t, created.Salt)

	w = do(t, s, http.MethodGet, "/accounts", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[accountsResponse](t, w)
	require.Len(t, list.Accounts, 2)
	require.Equal(t, created.ID, list.ActiveID)

	w = do(t, s, http.MethodPatch, "/accounts/"+created.ID, `{"name":"Vault"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "Vault", decode[registry.Account](t, w).Name)

	w = do(t, s, http.MethodPost, "/accounts/"+created.ID+"/hide", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, decode[registry.Account](t, w).Hidden)

	w = do(t, s, http.MethodGet, "/accounts", "")
	require.Len(t, decode[accountsResponse](t, w).Accounts, 1)
	w = do(t, s, http.MethodGet, "/accounts?hidden=true", "")
	require.Len(t, decode[accountsResponse](t, w).Accounts, 2)

	w = do(t, s, http.MethodPost, "/accounts/"+created.ID+"/switch", "")
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(t, s, http.MethodPost, "/accounts/"+created.ID+"/unhide", "")
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, s, http.MethodPost, "/accounts/"+created.ID+"/switch", "")
	require.Equal(t, http.StatusOK, w.Code)

	active, err := reg.ActiveAccount()
	require.NoError(t, err)
	require.Equal(t, created.ID, active.ID)

	w = do(t, s, http.MethodGet, "/accounts/active", "")
	require.Equal(t, created.ID, decode[registry.Account](t, w).ID)
}

func TestServer_AccountErrors(t *testing.T) {
	s, reg, _ := setupServer(t)
	primary, err := reg.Primary()
	require.NoError(t, err)

	testCases := []struct {
		description string
		method      string
		path        string
		body        string
		expectCode  int
	}{
		{"hide primary", http.MethodPost, "/accounts/" + primary.ID + "/hide", "", http.StatusUnprocessableEntity},
		{"unknown account", http.MethodGet, "/accounts/nope", "", http.StatusNotFound},
		{"rename unknown", http.MethodPatch, "/accounts/nope", `{"name":"x"}`, http.StatusNotFound},
		{"rename without name", http.MethodPatch, "/accounts/" + primary.ID, `{}`, http.StatusBadRequest},
		{"rename too long", http.MethodPatch, "/accounts/" + primary.ID, `{"name":"` + strings.Repeat("a", 65) + `"}`, http.StatusBadRequest},
		{"malformed create", http.MethodPost, "/accounts", `{"name":`, http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			w := do(t, s, tc.method, tc.path, tc.body)
			require.Equal(t, tc.expectCode, w.Code, w.Body.String())
		})
	}
}

func TestServer_Consolidation(t *testing.T) {
	s, _, cons := setupServer(t)

	w := do(t, s, http.MethodGet, "/consolidation/progress", "")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, s, http.MethodGet, "/consolidation/plan", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 2, decode[consolidation.Plan](t, w).TotalTransfers)

	w = do(t, s, http.MethodPost, "/consolidation", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	require.True(t, cons.started)

	cons.running = true
	cons.progress = &consolidation.Progress{Accounts: []consolidation.AccountProgress{{
		Transfers: []consolidation.TransferRecord{{Symbol: "USDC", Status: consolidation.StatusProcessing}},
	}}}
	w = do(t, s, http.MethodPost, "/consolidation", "")
	require.Equal(t, http.StatusConflict, w.Code)

	w = do(t, s, http.MethodGet, "/consolidation/progress", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"running":true`)
	require.Contains(t, w.Body.String(), `"status":"processing"`)

	w = do(t, s, http.MethodDelete, "/consolidation/progress", "")
	require.Equal(t, http.StatusConflict, w.Code)

	cons.running = false
	w = do(t, s, http.MethodDelete, "/consolidation/progress", "")
	require.Equal(t, http.StatusNoContent, w.Code)
	require.True(t, cons.cleared)

	cons.err = consolidation.ErrNothingToConsolidate
	w = do(t, s, http.MethodPost, "/consolidation", "")
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestServer_Health(t *testing.T) {
	s, _, _ := setupServer(t)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", "").Code)
	w := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
}
