package main

import (
	"bytes"
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragctx/internal/app"
	"ragctx/internal/testutils"
)

func TestSmoke_Startup(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping smoke test in short mode")
	}

	// 1. Start Infrastructure
	suite := testutils.NewIntegrationSuite(t)
	suite.Setup()
	defer suite.Teardown()

	// 2. Configure App to use Infrastructure
	cfg := suite.AppConfig()
	cfg.EnableIngestWorker = false

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, err := app.Bootstrap(ctx, cfg, app.BootstrapOptions{Messaging: true})
	require.NoError(t, err)
	defer deps.Close()

	a, err := app.New(cfg, deps)
	require.NoError(t, err)

	// 3. Run App in Background
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// 4. Wait for Health Check
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://localhost:8081/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 500*time.Millisecond)

	// Nothing ingested yet.
	resp, err := http.Post("http://localhost:8081/query", "application/json", bytes.NewBufferString(`{"query":"hello"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	// Triggers are accepted once nsqd is reachable.
	resp, err = http.Post("http://localhost:8081/runs", "application/json", bytes.NewBufferString(`{"resume":true}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("app did not stop")
	}
}
