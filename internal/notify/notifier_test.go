package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTimeoutRequiresPositiveTimeout(t *testing.T) {
	_, err := WithTimeout(LogNotifier{}, 0)
	assert.Error(t, err)
}

func TestWithTimeoutAbandonsHungCall(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	hung := NotifierFunc(func(ctx context.Context, n Notification) error {
		<-release
		return nil
	})

	n, err := WithTimeout(hung, 10*time.Millisecond)
	require.NoError(t, err)

	err = n.Notify(context.Background(), Notification{Recipient: "a@example.com"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithTimeoutPassesThrough(t *testing.T) {
	n, err := WithTimeout(LogNotifier{}, time.Second)
	require.NoError(t, err)
	assert.NoError(t, n.Notify(context.Background(), Notification{Recipient: "a@example.com"}))
}

func TestWebhookNotifierRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n Notification
		_ = json.NewDecoder(r.Body).Decode(&n)
		if n.Recipient != "a@example.com" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n, err := NewWebhookNotifier(WebhookConfig{URL: srv.URL, MaxTries: 5, InitialInterval: time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, n.Notify(context.Background(), Notification{Recipient: "a@example.com", Subject: "s"}))
	assert.EqualValues(t, 3, calls.Load())
}

func TestWebhookNotifierClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n, err := NewWebhookNotifier(WebhookConfig{URL: srv.URL, MaxTries: 5, InitialInterval: time.Millisecond})
	require.NoError(t, err)

	assert.Error(t, n.Notify(context.Background(), Notification{Recipient: "a@example.com"}))
	assert.EqualValues(t, 1, calls.Load())
}

func TestWebhookNotifierGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n, err := NewWebhookNotifier(WebhookConfig{URL: srv.URL, MaxTries: 2, InitialInterval: time.Millisecond})
	require.NoError(t, err)

	assert.Error(t, n.Notify(context.Background(), Notification{Recipient: "a@example.com"}))
	assert.EqualValues(t, 2, calls.Load())
}

func TestNewWebhookNotifierRequiresURL(t *testing.T) {
	_, err := NewWebhookNotifier(WebhookConfig{})
	assert.Error(t, err)
}
