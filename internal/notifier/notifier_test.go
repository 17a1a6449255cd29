package notifier

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recording struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recording) Notify(_ context.Context, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, message)
}

func (r *recording) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func TestMulti_FansOut(t *testing.T) {
	a := &recording{}
	b := &recording{}
	Multi{a, b}.Notify(context.Background(), "hot")
	assert.Equal(t, []string{"hot"}, a.messages())
	assert.Equal(t, []string{"hot"}, b.messages())
}

func TestSlog_WritesAlert(t *testing.T) {
	var buf strings.Builder
	lg := slog.New(slog.NewTextHandler(&buf, nil))
	Slog{Log: lg}.Notify(context.Background(), "worker throttled")
	assert.Contains(t, buf.String(), "worker throttled")
}

func TestDiscord_DeliversEmbedToEveryChannel(t *testing.T) {
	var mu sync.Mutex
	got := map[string]discordMessage{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bot secret-token", r.Header.Get("Authorization"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var msg discordMessage
		require.NoError(t, json.Unmarshal(body, &msg))
		mu.Lock()
		got[r.URL.Path] = msg
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := &Discord{
		Token:      "secret-token",
		ChannelIDs: []string{"111", "222"},
		APIBase:    srv.URL,
		RetryDelay: time.Millisecond,
	}
	d.deliver(context.Background(), "🔥 overheating")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	for _, path := range []string{"/channels/111/messages", "/channels/222/messages"} {
		msg, ok := got[path]
		require.True(t, ok, "missing post to %s", path)
		require.Len(t, msg.Embeds, 1)
		assert.Equal(t, "🔥 overheating", msg.Embeds[0].Description)
		assert.NotEmpty(t, msg.Embeds[0].Timestamp)
	}
}

func TestDiscord_RetriesThenSucceeds(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := &Discord{ChannelIDs: []string{"1"}, APIBase: srv.URL, RetryDelay: time.Millisecond}
	err := d.postWithRetry(context.Background(), "1", []byte(`{}`))
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, attempts)
}

func TestDiscord_GivesUpAfterMaxRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	d := &Discord{ChannelIDs: []string{"1"}, APIBase: srv.URL, RetryDelay: time.Millisecond}
	err := d.postWithRetry(context.Background(), "1", []byte(`{}`))
	assert.Error(t, err)
}
