package sms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRESTProviderSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "secret", pass)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "+15550001111", r.PostForm.Get("To"))
		assert.Equal(t, "+15559990000", r.PostForm.Get("From"))
		assert.Equal(t, "Pipe burst at Maple", r.PostForm.Get("Body"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1","status":"queued"}`))
	}))
	defer srv.Close()

	p := NewREST(Config{BaseURL: srv.URL, AccountSID: "AC123", AuthToken: "secret", From: "+15559990000"}, zap.NewNop())
	require.NoError(t, p.Send(context.Background(), "+15550001111", "Pipe burst at Maple"))
}

func TestRESTProviderSendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"invalid To number"}`))
	}))
	defer srv.Close()

	p := NewREST(Config{BaseURL: srv.URL, AccountSID: "AC123", AuthToken: "secret"}, zap.NewNop())
	err := p.Send(context.Background(), "bogus", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid To number")
}

func TestRESTProviderRejectsEmptyRecipient(t *testing.T) {
	p := NewREST(Config{BaseURL: "http://127.0.0.1:1"}, zap.NewNop())
	require.ErrorIs(t, p.Send(context.Background(), " ", "hi"), ErrInvalidRecipient)
}
