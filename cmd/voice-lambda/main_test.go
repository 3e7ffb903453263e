package main

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	method     string
	path       string
	query      string
	secret     string
	body       string
	host       string
	remoteAddr string
}

func testRouter(got *captured) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Post("/tool-webhook", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		*got = captured{
			method:     r.Method,
			path:       r.URL.Path,
			query:      r.URL.RawQuery,
			secret:     r.Header.Get("X-Vapi-Secret"),
			body:       string(body),
			host:       r.Host,
			remoteAddr: r.RemoteAddr,
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"results":[]}`))
	})
	return r
}

func event(method, path, body string) events.APIGatewayV2HTTPRequest {
	return events.APIGatewayV2HTTPRequest{
		RawPath: path,
		Body:    body,
		RequestContext: events.APIGatewayV2HTTPRequestContext{
			HTTP: events.APIGatewayV2HTTPRequestContextHTTPDescription{Method: method, Path: path},
		},
	}
}

func TestServeHealth(t *testing.T) {
	resp := serve(context.Background(), testRouter(&captured{}), event(http.MethodGet, "/health", ""))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, resp.Body)
	assert.Equal(t, "application/json", resp.Headers["content-type"])
}

func TestServeToolWebhook(t *testing.T) {
	var got captured
	evt := event(http.MethodPost, "/tool-webhook", `{"message":{"type":"tool-calls"}}`)
	evt.RawQueryString = "trace=1"
	evt.Headers = map[string]string{"x-vapi-secret": "shh", "content-type": "application/json"}
	evt.RequestContext.DomainName = "assistant.example.com"
	evt.RequestContext.HTTP.SourceIP = "203.0.113.9"

	resp := serve(context.Background(), testRouter(&got), evt)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.JSONEq(t, `{"results":[]}`, resp.Body)

	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/tool-webhook", got.path)
	assert.Equal(t, "trace=1", got.query)
	assert.Equal(t, "shh", got.secret)
	assert.Equal(t, `{"message":{"type":"tool-calls"}}`, got.body)
	assert.Equal(t, "assistant.example.com", got.host)
	assert.Equal(t, "203.0.113.9:0", got.remoteAddr)
}

func TestServeBase64Body(t *testing.T) {
	var got captured
	evt := event(http.MethodPost, "/tool-webhook", base64.StdEncoding.EncodeToString([]byte(`{"a":1}`)))
	evt.IsBase64Encoded = true

	resp := serve(context.Background(), testRouter(&got), evt)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, `{"a":1}`, got.body)
}

func TestServeInvalidBase64Body(t *testing.T) {
	evt := event(http.MethodPost, "/tool-webhook", "not-base64!")
	evt.IsBase64Encoded = true

	resp := serve(context.Background(), testRouter(&captured{}), evt)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid body", resp.Body)
}

func TestServeUnknownRoute(t *testing.T) {
	resp := serve(context.Background(), testRouter(&captured{}), event(http.MethodPost, "/webhooks/unknown", ""))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
