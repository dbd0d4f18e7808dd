package generator

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crosspost/internal/channel"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testClient(baseURL string) *Client {
	return New(Config{
		BaseURL:        baseURL,
		TargetLength:   150,
		Timeout:        2 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		RatePerSec:     1000,
		RateBurst:      10,
	}, testLogger())
}

func igSpec() channel.Spec {
	return channel.Spec{
		ChannelID:      "ig",
		CharacterLimit: 2200,
		ToneDescriptor: "casual, emoji-friendly",
	}
}

func TestClient_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "casual, emoji-friendly", req.ToneDescriptor)
		assert.Equal(t, 2200, req.CharacterLimit)
		assert.Equal(t, 150, req.TargetLength)
		assert.Equal(t, "Launch day!", req.SourceText)

		json.NewEncoder(w).Encode(generateResponse{Text: "adapted text #launch"})
	}))
	defer server.Close()

	client := testClient(server.URL)

	text, err := client.Generate(context.Background(), igSpec(), "Launch day!")
	require.NoError(t, err)
	assert.Equal(t, "adapted text #launch", text)
}

func TestClient_Generate_RetriesOnServerError(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(generateResponse{Text: "finally"})
	}))
	defer server.Close()

	client := testClient(server.URL)

	text, err := client.Generate(context.Background(), igSpec(), "Launch day!")
	require.NoError(t, err)
	assert.Equal(t, "finally", text)
	assert.Equal(t, 3, attempts)
}

func TestClient_Generate_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := testClient(server.URL)

	_, err := client.Generate(context.Background(), igSpec(), "Launch day!")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, attempts)
}

func TestClient_Generate_EmptyResponseIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{Text: ""})
	}))
	defer server.Close()

	client := testClient(server.URL)

	_, err := client.Generate(context.Background(), igSpec(), "Launch day!")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "empty generation response")
}

func TestClient_Generate_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := testClient(server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Generate(ctx, igSpec(), "Launch day!")
	assert.ErrorIs(t, err, context.Canceled)
}
