package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dental-scheduling-assistant/internal/callstate"
	appconfig "github.com/wolfman30/dental-scheduling-assistant/internal/config"
	"github.com/wolfman30/dental-scheduling-assistant/internal/practice"
	"github.com/wolfman30/dental-scheduling-assistant/pkg/logging"
)

func writePracticeFile(t *testing.T) string {
	t.Helper()
	entries := []practice.StaticPractice{{
		Practice: practice.Practice{
			ID:                  "prac-1",
			Name:                "Bright Smiles",
			Timezone:            "America/Chicago",
			OfficePhone:         "555-000-1111",
			NexHealthSubdomain:  "bright",
			NexHealthLocationID: 42,
			AssistantID:         "asst-1",
			AcceptedInsurance:   []string{"Delta Dental PPO"},
			AppointmentTypes: []practice.AppointmentType{
				{ID: "cleaning", Name: "Cleaning", DurationMinutes: 30, Active: true},
			},
		},
	}}
	data, err := json.Marshal(entries)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "practices.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func testConfig(t *testing.T) *appconfig.Config {
	return &appconfig.Config{
		Env:                "test",
		StateStore:         "memory",
		CallStateTTL:       time.Hour,
		HoldTTL:            10 * time.Minute,
		NexHealthBaseURL:   "http://nexhealth.invalid",
		NexHealthAPIKey:    "test-key",
		LLMProvider:        "none",
		VapiWebhookSecret:  "shh",
		PracticeConfigFile: writePracticeFile(t),
		WebhookRateLimit:   100,
		WebhookRateBurst:   100,
	}
}

func TestBuildAPIServesToolWebhook(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	api, err := BuildAPI(context.Background(), testConfig(t), logging.Default(), Options{
		Registry: prometheus.NewRegistry(),
		Redis:    rdb,
	})
	require.NoError(t, err)
	defer api.Close()

	srv := httptest.NewServer(api.Handler)
	defer srv.Close()

	body := `{"message":{"type":"tool-calls","call":{"id":"call-1","assistantId":"asst-1"},
		"toolCallList":[{"id":"tc-1","function":{"name":"checkInsurance","arguments":{"planName":"delta dental"}}}]}}`
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/tool-webhook", bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err = http.NewRequest(http.MethodPost, srv.URL+"/tool-webhook", bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("X-Vapi-Secret", "shh")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Results []struct {
			ToolCallID string `json:"toolCallId"`
			Result     string `json:"result"`
			Error      string `json:"error"`
		} `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Results, 1)
	assert.Equal(t, "tc-1", out.Results[0].ToolCallID)
	assert.Empty(t, out.Results[0].Error)
	assert.Contains(t, out.Results[0].Result, "Delta Dental PPO")

	st, err := api.Orchestrator.State(context.Background(), "call-1")
	require.NoError(t, err)
	assert.Equal(t, callstate.InsuranceInNetwork, st.Insurance.Status)

	health, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)

	metricsResp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	raw, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `dental_webhook_requests_total{message_type="tool-calls",status="ok"} 1`)
}

func TestBuildAPIConfigErrors(t *testing.T) {
	t.Run("no practice source", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.PracticeConfigFile = ""
		_, err := BuildAPI(context.Background(), cfg, nil, Options{Registry: prometheus.NewRegistry()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "PRACTICE_CONFIG_FILE")
	})
	t.Run("unknown state store", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.StateStore = "etcd"
		_, err := BuildAPI(context.Background(), cfg, nil, Options{Registry: prometheus.NewRegistry()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "etcd")
	})
	t.Run("redis store without redis", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.StateStore = "redis"
		_, err := BuildAPI(context.Background(), cfg, nil, Options{Registry: prometheus.NewRegistry()})
		require.Error(t, err)
	})
	t.Run("missing nexhealth key", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.NexHealthAPIKey = ""
		_, err := BuildAPI(context.Background(), cfg, nil, Options{Registry: prometheus.NewRegistry()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "APIKey")
	})
}

func TestBuildRedisClient(t *testing.T) {
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{}, nil, true))

	mr := miniredis.RunT(t)
	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, nil, true)
	require.NotNil(t, client)
	defer client.Close()
	assert.NoError(t, client.Ping(context.Background()).Err())

	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: "127.0.0.1:1"}, nil, true))
}

func TestBuildPostgresDisabled(t *testing.T) {
	pool, db, err := BuildPostgres(context.Background(), &appconfig.Config{})
	require.NoError(t, err)
	assert.Nil(t, pool)
	assert.Nil(t, db)
}

func TestLoadAWSConfigEndpointOverride(t *testing.T) {
	cfg, err := LoadAWSConfig(context.Background(), &appconfig.Config{
		AWSRegion:           "us-west-2",
		AWSAccessKeyID:      "test",
		AWSSecretAccessKey:  "test",
		AWSEndpointOverride: "http://localhost:4566",
	})
	require.NoError(t, err)
	assert.Equal(t, "us-west-2", cfg.Region)
	require.NotNil(t, cfg.BaseEndpoint)
	assert.Equal(t, "http://localhost:4566", *cfg.BaseEndpoint)

	creds, err := cfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test", creds.AccessKeyID)
}
