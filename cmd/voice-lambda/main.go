package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"net"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/wolfman30/dental-scheduling-assistant/internal/app/bootstrap"
	appconfig "github.com/wolfman30/dental-scheduling-assistant/internal/config"
	"github.com/wolfman30/dental-scheduling-assistant/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	api, err := bootstrap.BuildAPI(context.Background(), cfg, logger, bootstrap.Options{})
	if err != nil {
		logger.Error("failed to build api", "error", err)
		panic(err)
	}

	lambda.Start(func(ctx context.Context, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		return serve(ctx, api.Handler, evt), nil
	})
}

// serve runs one API Gateway HTTP event through the router.
func serve(ctx context.Context, h http.Handler, evt events.APIGatewayV2HTTPRequest) events.APIGatewayV2HTTPResponse {
	method := strings.ToUpper(strings.TrimSpace(evt.RequestContext.HTTP.Method))
	if method == "" {
		method = http.MethodGet
	}
	path := strings.TrimSpace(evt.RawPath)
	if path == "" {
		path = strings.TrimSpace(evt.RequestContext.HTTP.Path)
	}

	body, err := decodeBody(evt)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusBadRequest, Body: "invalid body"}
	}

	target := path
	if qs := strings.TrimSpace(evt.RawQueryString); qs != "" {
		target += "?" + qs
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusBadRequest, Body: "invalid request"}
	}
	for k, v := range evt.Headers {
		req.Header.Set(k, v)
	}
	if host := strings.TrimSpace(evt.RequestContext.DomainName); host != "" {
		req.Host = host
	}
	if ip := strings.TrimSpace(evt.RequestContext.HTTP.SourceIP); ip != "" {
		req.RemoteAddr = net.JoinHostPort(ip, "0")
	}

	rw := newResponseWriter()
	h.ServeHTTP(rw, req)
	return rw.response()
}

func decodeBody(evt events.APIGatewayV2HTTPRequest) ([]byte, error) {
	if !evt.IsBase64Encoded {
		return []byte(evt.Body), nil
	}
	return base64.StdEncoding.DecodeString(evt.Body)
}

type responseWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseWriter() *responseWriter {
	return &responseWriter{header: http.Header{}}
}

func (w *responseWriter) Header() http.Header { return w.header }

func (w *responseWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
}

func (w *responseWriter) Write(p []byte) (int, error) {
	w.WriteHeader(http.StatusOK)
	return w.body.Write(p)
}

func (w *responseWriter) response() events.APIGatewayV2HTTPResponse {
	status := w.status
	if status == 0 {
		status = http.StatusOK
	}
	headers := make(map[string]string, len(w.header))
	for k, v := range w.header {
		headers[strings.ToLower(k)] = strings.Join(v, ",")
	}
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers:    headers,
		Body:       w.body.String(),
	}
}
