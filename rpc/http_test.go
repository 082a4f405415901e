package rpc

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tally/crypto"
	"tally/native/subscription"
)

func startParamsFor(env *testEnv, periods uint64) map[string]interface{} {
	return map[string]interface{}{
		"terms":            env.terms.String(),
		"fundingAccount":   env.payerAcct.String(),
		"allowancePeriods": periods,
	}
}

func TestStartExecuteLifecycle(t *testing.T) {
	env := newTestEnv(t)

	var started addressResult
	env.call(&env.payer, "subscription_start", startParamsFor(env, 0)).decode(t, &started)
	require.Equal(t, subscription.AgreementAddress(env.terms, env.payer).String(), started.Address)

	var ag AgreementResult
	env.call(nil, "subscription_getAgreement", map[string]string{"agreement": started.Address}).decode(t, &ag)
	require.Equal(t, uint64(1), ag.PaymentCount)
	require.Equal(t, string(subscription.StatusCurrent), ag.Status)
	require.Equal(t, uint64(testStart+testPeriod), ag.NextPaymentAt)

	env.now.Add(testPeriod)
	var res ExecutionResult
	env.call(&env.keeper, "subscription_execute", map[string]string{
		"agreement":     started.Address,
		"keeperAccount": env.keeperAcct.String(),
	}).decode(t, &res)
	require.Equal(t, uint64(2), res.PaymentCount)
	require.Equal(t, uint64(50_000), res.KeeperFee)
	require.Equal(t, uint64(150_000), res.PlatformFee)
	require.Equal(t, uint64(9_800_000), res.PayeeShare)

	again := env.call(&env.keeper, "subscription_execute", map[string]string{
		"agreement":     started.Address,
		"keeperAccount": env.keeperAcct.String(),
	})
	require.Equal(t, http.StatusConflict, again.status)
	require.Equal(t, codeConflict, again.err.Code)
	require.Equal(t, "payment not due", again.err.Message)

	var acct AccountResult
	env.call(nil, "bank_getAccount", map[string]string{"account": env.keeperAcct.String()}).decode(t, &acct)
	require.Equal(t, uint64(50_000), acct.Balance)
}

func TestAllowanceExceededMapsToPaymentRequired(t *testing.T) {
	env := newTestEnv(t)
	var started addressResult
	env.call(&env.payer, "subscription_start", startParamsFor(env, 1)).decode(t, &started)

	env.now.Add(testPeriod)
	res := env.call(&env.keeper, "subscription_execute", map[string]string{
		"agreement":     started.Address,
		"keeperAccount": env.keeperAcct.String(),
	})
	require.Equal(t, http.StatusPaymentRequired, res.status)
	require.Equal(t, codePaymentRequired, res.err.Code)
	require.Equal(t, "allowance exceeded", res.err.Message)
}

func TestPayerOnlyOperationsAreForbidden(t *testing.T) {
	env := newTestEnv(t)
	var started addressResult
	env.call(&env.payer, "subscription_start", startParamsFor(env, 0)).decode(t, &started)

	stranger := testAddr(0xee)
	res := env.call(&stranger, "subscription_pause", map[string]interface{}{"agreement": started.Address})
	require.Equal(t, http.StatusForbidden, res.status)
	require.Equal(t, codeForbidden, res.err.Code)

	var ok okResult
	env.call(&env.payer, "subscription_pause", map[string]interface{}{"agreement": started.Address, "revokeAllowance": true}).decode(t, &ok)
	require.True(t, ok.OK)

	var closed closeResult
	env.call(&env.payer, "subscription_close", map[string]string{"agreement": started.Address}).decode(t, &closed)
	require.NotZero(t, closed.Reclaimed)

	missing := env.call(nil, "subscription_getAgreement", map[string]string{"agreement": started.Address})
	require.Equal(t, http.StatusNotFound, missing.status)
	require.Equal(t, codeNotFound, missing.err.Code)
}

func TestMerchantFlowOverRPC(t *testing.T) {
	env := newTestEnv(t)
	merchant := testAddr(0xb5)

	var acct addressResult
	env.call(&merchant, "bank_openAccount", map[string]string{"label": "payouts"}).decode(t, &acct)
	var ok okResult
	env.call(&env.admin, "bank_fundDeposits", map[string]interface{}{"holder": merchant.String(), "amount": 5_000}).decode(t, &ok)

	var payee addressResult
	env.call(&merchant, "subscription_initPayee", map[string]interface{}{"destination": acct.Address, "feeBps": 100}).decode(t, &payee)
	require.Equal(t, subscription.PayeeAddress(merchant).String(), payee.Address)

	var terms addressResult
	env.call(&merchant, "subscription_createTerms", map[string]interface{}{
		"id": "basic", "amount": 1_000, "periodSecs": subscription.MinPeriodFloor,
	}).decode(t, &terms)

	var listed []string
	env.call(nil, "subscription_listTerms", map[string]string{"payee": payee.Address}).decode(t, &listed)
	require.Equal(t, []string{terms.Address}, listed)

	var derived deriveResult
	env.call(nil, "subscription_deriveAddresses", map[string]string{
		"authority": merchant.String(), "termsId": "basic", "payer": env.payer.String(), "label": "main",
	}).decode(t, &derived)
	require.Equal(t, terms.Address, derived.Terms)
	require.Equal(t, subscription.DelegateAddress().String(), derived.Delegate)
	require.Equal(t, env.payerAcct.String(), derived.FundingAccount)

	var updated TermsResult
	env.call(&merchant, "subscription_updateTerms", map[string]interface{}{"terms": terms.Address, "amount": 2_000}).decode(t, &updated)
	require.Equal(t, uint64(2_000), updated.Amount)

	env.call(&merchant, "subscription_deactivateTerms", map[string]string{"terms": terms.Address}).decode(t, &ok)
	var fetched TermsResult
	env.call(nil, "subscription_getTerms", map[string]string{"terms": terms.Address}).decode(t, &fetched)
	require.False(t, fetched.Active)
}

func TestAdminOperations(t *testing.T) {
	env := newTestEnv(t)

	var cfg ConfigResult
	env.call(&env.platform, "subscription_setPaused", map[string]bool{"paused": true}).decode(t, &cfg)
	require.True(t, cfg.Paused)

	res := env.call(&env.payer, "subscription_start", startParamsFor(env, 0))
	require.Equal(t, http.StatusConflict, res.status)
	require.Equal(t, "program paused", res.err.Message)

	denied := env.call(&env.payer, "bank_mint", map[string]interface{}{"account": env.payerAcct.String(), "amount": 1})
	require.Equal(t, http.StatusForbidden, denied.status)

	env.call(&env.platform, "subscription_updateConfig", map[string]interface{}{"paused": false, "keeperFeeBps": 25}).decode(t, &cfg)
	require.False(t, cfg.Paused)
	require.Equal(t, uint32(25), cfg.KeeperFeeBps)
}

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t)

	res := env.call(nil, "subscription_start", startParamsFor(env, 0))
	require.Equal(t, http.StatusUnauthorized, res.status)
	require.Equal(t, codeUnauthorized, res.err.Code)

	expired, err := IssueToken([]byte(testSecret), testIssuer, "", env.payer, -time.Hour)
	require.NoError(t, err)
	wrongIssuer, err := IssueToken([]byte(testSecret), "someone-else", "", env.payer, time.Hour)
	require.NoError(t, err)
	wrongKey, err := IssueToken([]byte("another-secret-0123456789"), testIssuer, "", env.payer, time.Hour)
	require.NoError(t, err)

	for name, token := range map[string]string{"expired": expired, "issuer": wrongIssuer, "key": wrongKey} {
		t.Run(name, func(t *testing.T) {
			body := []byte(`{"jsonrpc":"2.0","id":1,"method":"bank_openAccount","params":[{"label":"x"}]}`)
			req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
			req.Header.Set("Authorization", "Bearer "+token)
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, req)
			require.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAuthDisabledWithoutSecret(t *testing.T) {
	env := newTestEnv(t, func(cfg *ServerConfig) { cfg.JWTSecret = "" })
	res := env.call(&env.payer, "bank_openAccount", map[string]string{"label": "x"})
	require.Equal(t, http.StatusUnauthorized, res.status)

	var cfg ConfigResult
	env.call(nil, "subscription_getConfig", nil).decode(t, &cfg)
	require.Equal(t, env.platform.String(), cfg.PlatformAuthority)
}

func TestRejectsShortSecret(t *testing.T) {
	env := newTestEnv(t)
	_, err := NewServer(env.engine, env.log, ServerConfig{JWTSecret: "short"})
	require.Error(t, err)
}

func TestRequestValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name   string
		body   string
		status int
		code   int
	}{
		{"empty", "", http.StatusBadRequest, codeInvalidRequest},
		{"malformed", "{", http.StatusBadRequest, codeParseError},
		{"version", `{"jsonrpc":"1.0","method":"subscription_getConfig"}`, http.StatusBadRequest, codeInvalidRequest},
		{"no method", `{"jsonrpc":"2.0"}`, http.StatusBadRequest, codeInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","method":"nope"}`, http.StatusNotFound, codeMethodNotFound},
		{"two params", `{"jsonrpc":"2.0","method":"subscription_getConfig","params":[{},{}]}`, http.StatusBadRequest, codeInvalidParams},
		{"unknown field", `{"jsonrpc":"2.0","method":"subscription_getTerms","params":[{"bogus":1}]}`, http.StatusBadRequest, codeInvalidParams},
		{"bad address", `{"jsonrpc":"2.0","method":"subscription_getTerms","params":[{"terms":"xyz"}]}`, http.StatusBadRequest, codeInvalidParams},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader([]byte(tc.body)))
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, req)
			require.Equal(t, tc.status, rec.Code)
			require.Contains(t, rec.Body.String(), `"code":`)
			require.NotEmpty(t, rec.Header().Get(requestIDHeader))
		})
	}
}

func TestInvalidParameterCarriesField(t *testing.T) {
	env := newTestEnv(t)
	merchant := testAddr(0xb6)
	res := env.call(&merchant, "subscription_createTerms", map[string]interface{}{
		"payee": env.payee.String(), "id": "bad id!", "amount": 1, "periodSecs": subscription.MinPeriodFloor,
	})
	require.Equal(t, http.StatusBadRequest, res.status)
	data, ok := res.err.Data.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "terms_id", data["field"])
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(cfg *ServerConfig) {
		cfg.RateLimitPerSecond = 0.001
		cfg.RateLimitBurst = 1
	})
	first := env.call(nil, "subscription_getConfig", nil)
	require.Nil(t, first.err)
	second := env.call(nil, "subscription_getConfig", nil)
	require.Equal(t, http.StatusTooManyRequests, second.status)
	require.Equal(t, codeRateLimited, second.err.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/healthz", "/metrics"} {
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestDueAgreementsQuery(t *testing.T) {
	env := newTestEnv(t)
	var started addressResult
	env.call(&env.payer, "subscription_start", startParamsFor(env, 0)).decode(t, &started)

	var due []AgreementResult
	env.call(nil, "subscription_dueAgreements", map[string]interface{}{}).decode(t, &due)
	require.Empty(t, due)

	env.now.Add(testPeriod)
	env.call(nil, "subscription_dueAgreements", map[string]interface{}{"limit": 10}).decode(t, &due)
	require.Len(t, due, 1)
	require.Equal(t, started.Address, due[0].Address)

	var byPayer []string
	env.call(nil, "subscription_listAgreements", map[string]string{"payer": env.payer.String()}).decode(t, &byPayer)
	require.Equal(t, []string{started.Address}, byPayer)

	both := env.call(nil, "subscription_listAgreements", map[string]string{})
	require.Equal(t, http.StatusBadRequest, both.status)
}

func TestToRPCErrorHidesInfrastructureDetail(t *testing.T) {
	err := toRPCError(errFake("leveldb: closed"))
	require.Equal(t, http.StatusServiceUnavailable, err.status)
	require.Equal(t, codeUnavailable, err.Code)
	require.NotContains(t, err.Data.(errorData).Detail, "leveldb")

	err = toRPCError(subscription.ErrArithmeticFault)
	require.Equal(t, http.StatusInternalServerError, err.status)

	err = toRPCError(subscription.ErrAlreadyExists)
	require.Equal(t, http.StatusConflict, err.status)
	require.Equal(t, "already exists", err.Message)

	err = toRPCError(fmt.Errorf("%w: stored 2", subscription.ErrIncompatibleRecord))
	require.Equal(t, http.StatusConflict, err.status)
	require.Equal(t, "incompatible record", err.Message)

	var zero crypto.Address
	_, decodeErr := decodeAddress("payer", "")
	require.Error(t, decodeErr)
	require.Equal(t, "", addrString(zero))
}

type errFake string

func (e errFake) Error() string { return string(e) }
