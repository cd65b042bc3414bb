package identity

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testProvider = "provider-1"
	testAuthKey  = "s3cret"
	testAppID    = "app-1"
)

func newTestProvider(t *testing.T, appIDs ...string) *httptest.Server {
	t.Helper()
	signer, err := NewSigner(testProvider, testAuthKey, time.Minute)
	require.NoError(t, err)

	server := httptest.NewServer(NewHandler(signer, appIDs, zerolog.New(io.Discard)).Routes())
	t.Cleanup(server.Close)
	return server
}

func TestSignAndVerify(t *testing.T) {
	signer, err := NewSigner(testProvider, testAuthKey, time.Minute)
	require.NoError(t, err)
	verifier, err := NewVerifier(testProvider, testAuthKey)
	require.NoError(t, err)

	token, err := signer.Sign(testAppID, "alice@example.com", "nonce-1")
	require.NoError(t, err)

	claims, err := verifier.Verify(token, testAppID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", claims.Subject)
	assert.Equal(t, "nonce-1", claims.Nonce)
	assert.Equal(t, testProvider, claims.Issuer)
}

func TestVerify_Rejects(t *testing.T) {
	signer, err := NewSigner(testProvider, testAuthKey, time.Minute)
	require.NoError(t, err)
	token, err := signer.Sign(testAppID, "alice", "nonce-1")
	require.NoError(t, err)

	t.Run("wrong app", func(t *testing.T) {
		verifier, err := NewVerifier(testProvider, testAuthKey)
		require.NoError(t, err)
		_, err = verifier.Verify(token, "other-app")
		assert.Error(t, err)
	})

	t.Run("wrong key", func(t *testing.T) {
		verifier, err := NewVerifier(testProvider, "different")
		require.NoError(t, err)
		_, err = verifier.Verify(token, testAppID)
		assert.Error(t, err)
	})

	t.Run("wrong provider", func(t *testing.T) {
		verifier, err := NewVerifier("provider-2", testAuthKey)
		require.NoError(t, err)
		_, err = verifier.Verify(token, testAppID)
		assert.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		verifier, err := NewVerifier(testProvider, testAuthKey)
		require.NoError(t, err)
		_, err = verifier.Verify("not-a-token", testAppID)
		assert.Error(t, err)
	})
}

func TestDeriveKey(t *testing.T) {
	a, err := DeriveKey("p1", "key")
	require.NoError(t, err)
	b, err := DeriveKey("p2", "key")
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)

	_, err = DeriveKey("p1", "")
	assert.Error(t, err)
}

func TestClient_IdentityToken(t *testing.T) {
	server := newTestProvider(t, testAppID)

	client, err := NewClient(ClientConfig{URL: server.URL})
	require.NoError(t, err)

	token, err := client.IdentityToken(context.Background(), testAppID, "alice", "nonce-1")
	require.NoError(t, err)

	verifier, err := NewVerifier(testProvider, testAuthKey)
	require.NoError(t, err)
	claims, err := verifier.Verify(token, testAppID)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
}

func TestClient_ProviderError(t *testing.T) {
	server := newTestProvider(t, testAppID)

	client, err := NewClient(ClientConfig{URL: server.URL})
	require.NoError(t, err)

	_, err = client.IdentityToken(context.Background(), "unknown-app", "alice", "nonce-1")

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusForbidden, perr.Status)
	assert.Equal(t, ProviderErrorRecovery, perr.Recovery())
	assert.Contains(t, perr.Error(), ProviderErrorDescription)
}

func TestClient_SendsJSONHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, TokenPath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]string{"app_id": "a", "user_id": "u", "nonce": "n"}, body)

		_, _ = w.Write([]byte(`{"identity_token":"tok"}`))
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{URL: server.URL + "/"})
	require.NoError(t, err)

	token, err := client.IdentityToken(context.Background(), "a", "u", "n")
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
}

func TestClient_ErrorDocumentStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error":{"code":"x"},"status":401}`))
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{URL: server.URL})
	require.NoError(t, err)

	_, err = client.IdentityToken(context.Background(), "a", "u", "n")

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 401, perr.Status)
	assert.Empty(t, perr.Detail)
}

func TestClient_NonJSONFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{URL: server.URL})
	require.NoError(t, err)

	_, err = client.IdentityToken(context.Background(), "a", "u", "n")

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusBadGateway, perr.Status)
}

func TestClient_ContextCanceled(t *testing.T) {
	server := newTestProvider(t)

	client, err := NewClient(ClientConfig{URL: server.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = client.IdentityToken(ctx, "a", "u", "n")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewClient_RequiresURL(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	assert.Error(t, err)
}

func TestHandler_Validation(t *testing.T) {
	server := newTestProvider(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{name: "malformed", body: `{`, wantStatus: http.StatusBadRequest, wantError: "invalid request body"},
		{name: "missing nonce", body: `{"app_id":"a","user_id":"u"}`, wantStatus: http.StatusUnprocessableEntity, wantError: "nonce is required"},
		{name: "missing user", body: `{"app_id":"a","nonce":"n"}`, wantStatus: http.StatusUnprocessableEntity, wantError: "user_id is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(server.URL+TokenPath, "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close() //nolint:errcheck

			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			var doc tokenResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
			assert.Equal(t, tt.wantError, doc.Error)
			assert.Equal(t, tt.wantStatus, doc.Status)
		})
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	server := newTestProvider(t)

	resp, err := http.Get(server.URL + TokenPath)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
