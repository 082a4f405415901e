package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tally/core/events"
	"tally/core/state"
	"tally/crypto"
	"tally/native/bank"
	"tally/native/subscription"
	"tally/storage"
)

const (
	testSecret = "rpc-test-secret-0123456789"
	testIssuer = "tally-test"
	testAmount = 10_000_000
	testPeriod = 2_592_000
	testStart  = 1_700_000_000
)

func testAddr(fill byte) crypto.Address {
	var a crypto.Address
	for i := range a {
		a[i] = fill
	}
	return a
}

type testEnv struct {
	t       *testing.T
	server  *Server
	handler http.Handler
	engine  *subscription.Engine
	log     *events.Log
	now     atomic.Int64

	admin      crypto.Address
	platform   crypto.Address
	merchant   crypto.Address
	payer      crypto.Address
	payerAcct  crypto.Address
	keeper     crypto.Address
	keeperAcct crypto.Address
	payee      crypto.Address
	terms      crypto.Address
}

func newTestEnv(t *testing.T, mutate ...func(*ServerConfig)) *testEnv {
	t.Helper()
	env := &testEnv{
		t:        t,
		admin:    testAddr(0xa0),
		platform: testAddr(0xa1),
		merchant: testAddr(0xb0),
		payer:    testAddr(0xc0),
		keeper:   testAddr(0xd0),
	}
	env.now.Store(testStart)

	engine, err := subscription.NewEngine(bank.NewLedger())
	require.NoError(t, err)
	engine.SetState(state.NewManager(storage.NewMemDB()))
	engine.SetAdmin(env.admin)
	engine.SetDepositPerByte(1)
	engine.SetNowFunc(func() int64 { return env.now.Load() })
	env.log = events.NewLog(0)
	engine.SetEmitter(env.log)
	env.engine = engine

	platformAcct := env.openAccount(env.platform, 0)
	_, err = engine.InitConfig(env.admin, subscription.ConfigParams{
		PlatformAuthority:   env.platform,
		PlatformDestination: platformAcct,
		MinPlatformFeeBps:   50,
		MaxPlatformFeeBps:   1_000,
		KeeperFeeBps:        50,
		MinPeriodSecs:       subscription.MinPeriodFloor,
		MaxGraceSecs:        7 * 86_400,
	})
	require.NoError(t, err)
	merchantAcct := env.openAccount(env.merchant, 0)
	require.NoError(t, engine.FundDeposits(env.admin, env.merchant, 10_000))
	env.payee, err = engine.InitPayee(env.merchant, merchantAcct, 150)
	require.NoError(t, err)
	env.terms, err = engine.CreateTerms(env.merchant, env.payee, subscription.TermsParams{
		ID: "pro", Amount: testAmount, PeriodSecs: testPeriod,
	})
	require.NoError(t, err)
	env.payerAcct = env.openAccount(env.payer, 100*testAmount)
	require.NoError(t, engine.FundDeposits(env.admin, env.payer, 10_000))
	env.keeperAcct = env.openAccount(env.keeper, 0)

	cfg := ServerConfig{JWTSecret: testSecret, JWTIssuer: testIssuer}
	for _, fn := range mutate {
		fn(&cfg)
	}
	server, err := NewServer(engine, env.log, cfg, WithClock(func() time.Time { return time.Unix(env.now.Load(), 0) }))
	require.NoError(t, err)
	env.server = server
	env.handler = server.Handler()
	return env
}

func (env *testEnv) openAccount(owner crypto.Address, balance uint64) crypto.Address {
	env.t.Helper()
	acct, err := env.engine.OpenFundingAccount(owner, "main")
	require.NoError(env.t, err)
	if balance > 0 {
		require.NoError(env.t, env.engine.Mint(env.admin, acct, balance))
	}
	return acct
}

func (env *testEnv) token(subject crypto.Address) string {
	env.t.Helper()
	token, err := IssueToken([]byte(testSecret), testIssuer, "", subject, time.Hour)
	require.NoError(env.t, err)
	return token
}

type rpcResult struct {
	status int
	result json.RawMessage
	err    *RPCError
}

func (env *testEnv) call(caller *crypto.Address, method string, params interface{}) rpcResult {
	env.t.Helper()
	req := RPCRequest{JSONRPC: jsonRPCVersion, Method: method, ID: 1}
	if params != nil {
		raw, err := json.Marshal(params)
		require.NoError(env.t, err)
		req.Params = []json.RawMessage{raw}
	}
	body, err := json.Marshal(req)
	require.NoError(env.t, err)
	httpReq := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
	if caller != nil {
		httpReq.Header.Set("Authorization", "Bearer "+env.token(*caller))
	}
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httpReq)

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	require.NoError(env.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rpcResult{status: rec.Code, result: resp.Result, err: resp.Error}
}

func (r rpcResult) decode(t *testing.T, out interface{}) {
	t.Helper()
	require.Nil(t, r.err, "unexpected rpc error: %+v", r.err)
	require.NoError(t, json.Unmarshal(r.result, out))
}
