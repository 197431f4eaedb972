package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWebhookNotify(t *testing.T) {
	var received Message
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	webhook := NewWebhook(WebhookConfig{Url: server.URL})
	err := webhook.Notify(context.Background(), Message{
		Feature: "reports",
		Title:   "第1回レポート",
		Body:    "微分積分学の新しいレポートがあります。",
	})
	require.NoError(t, err)
	require.Equal(t, "reports", received.Feature)
	require.Equal(t, "第1回レポート", received.Title)
}

func TestWebhookNotifyRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	webhook := NewWebhook(WebhookConfig{Url: server.URL})
	err := webhook.Notify(context.Background(), Message{Feature: "reports"})
	require.Error(t, err)
}

type failing struct{}

func (failing) Notify(context.Context, Message) error {
	return context.DeadlineExceeded
}

type recording struct {
	got *Message
}

func (r recording) Notify(_ context.Context, msg Message) error {
	*r.got = msg
	return nil
}

func TestMultiKeepsDelivering(t *testing.T) {
	var got Message
	multi := Multi{failing{}, recording{got: &got}}

	err := multi.Notify(context.Background(), Message{Feature: "contacts"})
	require.Error(t, err)
	// the failing channel must not starve the rest
	require.Equal(t, "contacts", got.Feature)
}

func TestFromConfig(t *testing.T) {
	require.Nil(t, FromConfig(Config{}))

	notifier := FromConfig(Config{Webhook: WebhookConfig{Url: "http://localhost:9"}})
	require.NotNil(t, notifier)
	require.Len(t, notifier.(Multi), 1)
}
