package webhooks

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tally/crypto"
	"tally/native/subscription"
)

func addr(b byte) crypto.Address {
	var a crypto.Address
	a[0] = b
	return a
}

func TestDispatcherSignsPayload(t *testing.T) {
	secret := []byte("secret")
	var (
		mu        sync.Mutex
		body      []byte
		signature string
		eventType string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		mu.Lock()
		body, signature, eventType = raw, r.Header.Get(headerSignature), r.Header.Get(headerEvent)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dispatcher, err := NewDispatcher(server.URL, secret)
	require.NoError(t, err)
	defer dispatcher.Close()

	dispatcher.Emit(subscription.PaymentFailed{Agreement: addr(1), Amount: 10, Reason: subscription.ReasonInsufficientFunds})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return signature != ""
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, subscription.EventTypePaymentFailed, eventType)
	require.True(t, Verify(secret, body, signature))

	var payload Payload
	require.NoError(t, json.Unmarshal(body, &payload))
	require.Equal(t, subscription.ReasonInsufficientFunds, payload.Attributes["reason"])
	require.NotEmpty(t, payload.DeliveryID)
}

func TestDispatcherRetries(t *testing.T) {
	attempts := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithRetryPolicy(5, 10*time.Millisecond, 20*time.Millisecond))
	require.NoError(t, err)
	defer dispatcher.Close()

	require.NoError(t, dispatcher.Enqueue(subscription.AgreementPaused{Agreement: addr(1), Payer: addr(2)}))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&attempts) >= 3 }, time.Second, 10*time.Millisecond)
}

func TestDispatcherFiltersTopics(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithTopics(subscription.EventTypeLowAllowanceWarning))
	require.NoError(t, err)
	defer dispatcher.Close()

	require.ErrorIs(t, dispatcher.Enqueue(subscription.AgreementPaused{Agreement: addr(1)}), errSkipped)
	require.NoError(t, dispatcher.Enqueue(subscription.LowAllowanceWarning{Agreement: addr(1), Remaining: 1, Required: 2}))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&hits) == 1 }, time.Second, 10*time.Millisecond)
}

func TestDispatcherRejectsAfterClose(t *testing.T) {
	dispatcher, err := NewDispatcher("http://127.0.0.1:1", []byte("secret"))
	require.NoError(t, err)
	dispatcher.Close()
	require.ErrorIs(t, dispatcher.Enqueue(subscription.AgreementPaused{Agreement: addr(1)}), ErrDispatcherClosed)
}

func TestCloseDeliversQueuedEvents(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dispatcher, err := NewDispatcher(server.URL, []byte("secret"))
	require.NoError(t, err)
	for i := byte(1); i <= 3; i++ {
		require.NoError(t, dispatcher.Enqueue(subscription.AgreementPaused{Agreement: addr(i)}))
	}
	dispatcher.Close()
	require.Equal(t, int32(3), atomic.LoadInt32(&hits))
	dispatcher.Close()
}

func TestCloseAbortsAfterDrainTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithDrainTimeout(50*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, dispatcher.Enqueue(subscription.AgreementPaused{Agreement: addr(1)}))
	require.NoError(t, dispatcher.Enqueue(subscription.AgreementPaused{Agreement: addr(2)}))

	started := time.Now()
	dispatcher.Close()
	require.Less(t, time.Since(started), 5*time.Second)
}

func TestNewDispatcherValidates(t *testing.T) {
	_, err := NewDispatcher(" ", []byte("secret"))
	require.Error(t, err)
	_, err = NewDispatcher("http://localhost", nil)
	require.Error(t, err)
}

func TestNextBackoff(t *testing.T) {
	require.Equal(t, 4*time.Second, nextBackoff(2*time.Second, 30*time.Second))
	require.Equal(t, 30*time.Second, nextBackoff(20*time.Second, 30*time.Second))
}
