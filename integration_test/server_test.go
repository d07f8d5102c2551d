package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhejian/pastebin/internal/analytics"
	"github.com/zhejian/pastebin/internal/api"
	"github.com/zhejian/pastebin/internal/config"
	"github.com/zhejian/pastebin/internal/events"
	"github.com/zhejian/pastebin/internal/observability"
	"github.com/zhejian/pastebin/internal/repository"
	"github.com/zhejian/pastebin/internal/server"
	"github.com/zhejian/pastebin/internal/testutil"
)

var (
	testDB     *testutil.TestDB
	testCache  *testutil.TestCache
	testRabbit *testutil.TestRabbit
	testCfg    *config.Config
	testObs    *observability.Observability
)

// TestMain sets up the test environment once for all tests
func TestMain(m *testing.M) {
	ctx := context.Background()

	// Setup test database
	var err error
	testDB, err = testutil.SetupTestDB(ctx)
	if err != nil {
		panic("failed to setup test database: " + err.Error())
	}

	// Setup test cache
	testCache, err = testutil.SetupTestCache(ctx)
	if err != nil {
		panic("failed to setup test cache: " + err.Error())
	}

	// Setup test broker
	testRabbit, err = testutil.SetupTestRabbit(ctx)
	if err != nil {
		panic("failed to setup test rabbitmq: " + err.Error())
	}

	// Load test configuration
	os.Setenv("TEST_MODE", "1")
	os.Setenv("BASE_URL", "http://paste.test")
	testCfg, err = config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	testCfg.Server.Port = "0"
	testCfg.Events.Exchange = "paste.events.integration"

	// test observability
	testObs, err = observability.Setup(ctx, observability.Config{
		ServiceName: "pastebin-integration",
		Environment: "development",
	})
	if err != nil {
		panic("failed to setup observability: " + err.Error())
	}

	// Run tests
	code := m.Run()

	// Cleanup
	testObs.Shutdown(ctx)
	testRabbit.Teardown(ctx)
	testCache.Teardown(ctx)
	testDB.Teardown(ctx)
	os.Exit(code)
}

func setupTestServer(t *testing.T, publisher events.Publisher) (*http.Server, string) {
	gin.SetMode(gin.TestMode)
	srv := server.NewServer(testCfg, server.Dependencies{
		Store:         repository.NewPasteRepository(testDB.Pool),
		Cache:         testCache.Client,
		Publisher:     publisher,
		Observability: testObs,
	})

	// Create listener on localhost
	listener, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)

	// Get the actual port
	baseURL := "http://" + listener.Addr().String()

	// Start server in goroutine
	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			t.Logf("Server error: %v", err)
		}
	}()
	// Wait for server to be ready
	waitForServer(t, baseURL+"/api/healthz", 3*time.Second)

	return srv, baseURL
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
			t.Logf("Health check returned %d:", resp.StatusCode)
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("Server did not become ready within %v", timeout)
}

func resetState(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	testDB.Cleanup(ctx)
	testCache.Cleanup(ctx)
}

func createPaste(t *testing.T, baseURL, body string) map[string]any {
	t.Helper()
	resp, err := http.Post(baseURL+"/api/pastes", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	return created
}

func fetchPaste(t *testing.T, baseURL, id string, nowMs int64) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, baseURL+"/api/pastes/"+id, nil)
	require.NoError(t, err)
	if nowMs > 0 {
		req.Header.Set(api.TestNowHeader, strconv.FormatInt(nowMs, 10))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode, body
}

// TestHealthCheck verifies the health check endpoints
func TestHealthCheck(t *testing.T) {
	resetState(t)
	srv, baseURL := setupTestServer(t, nil)
	defer srv.Shutdown(context.Background())

	resp, err := http.Get(baseURL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var response map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&response))
	assert.Equal(t, "ok", response["status"])
	assert.Equal(t, map[string]any{"cache": "up", "database": "up"}, response["dependencies"])

	resp, err = http.Get(baseURL + "/api/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

// TestCreatePaste_Persisted verifies the paste lands in Postgres and the cache
func TestCreatePaste_Persisted(t *testing.T) {
	resetState(t)
	srv, baseURL := setupTestServer(t, nil)
	defer srv.Shutdown(context.Background())

	created := createPaste(t, baseURL, `{"content":"persist me","ttl_Seconds":120,"max_Views":3}`)
	id := created["id"].(string)
	assert.Equal(t, "http://paste.test/p/"+id, created["url"])
	assert.NotEmpty(t, created["expires_at"])

	var content string
	var ttl, maxViews, viewCount int64
	err := testDB.Pool.QueryRow(context.Background(),
		"SELECT content, ttl_seconds, max_views, view_count FROM pastes WHERE id = $1", id).
		Scan(&content, &ttl, &maxViews, &viewCount)
	require.NoError(t, err)
	assert.Equal(t, "persist me", content)
	assert.Equal(t, int64(120), ttl)
	assert.Equal(t, int64(3), maxViews)
	assert.Equal(t, int64(0), viewCount)

	_, cached := testCache.PasteEntry(context.Background(), id)
	assert.True(t, cached, "paste should be cached after creation")
}

// TestCreatePaste_InvalidRequest tests error handling
func TestCreatePaste_InvalidRequest(t *testing.T) {
	resetState(t)
	srv, baseURL := setupTestServer(t, nil)
	defer srv.Shutdown(context.Background())

	tests := []struct {
		name        string
		requestBody string
		field       string
	}{
		{"empty body", "", ""},
		{"missing content", `{"ttl_seconds": 10}`, "content"},
		{"whitespace content", `{"content": "  \n"}`, "content"},
		{"zero ttl", `{"content": "x", "ttl_seconds": 0}`, "ttl_seconds"},
		{"fractional max views", `{"content": "x", "max_views": 1.5}`, "max_views"},
		{"string max views", `{"content": "x", "max_Views": "2"}`, "max_views"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(baseURL+"/api/pastes", "application/json", bytes.NewReader([]byte(tt.requestBody)))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var body map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			if tt.field != "" {
				assert.Equal(t, tt.field, body["field"])
			}
		})
	}

	var count int
	require.NoError(t, testDB.Pool.QueryRow(context.Background(), "SELECT COUNT(*) FROM pastes").Scan(&count))
	assert.Zero(t, count)
}

// TestFetchPaste_ViewLimit walks a paste through its whole view budget
func TestFetchPaste_ViewLimit(t *testing.T) {
	resetState(t)
	srv, baseURL := setupTestServer(t, nil)
	defer srv.Shutdown(context.Background())

	id := createPaste(t, baseURL, `{"content":"twice","max_views":2}`)["id"].(string)

	status, body := fetchPaste(t, baseURL, id, 0)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "twice", body["content"])
	assert.Equal(t, float64(1), body["remaining_views"])
	assert.Nil(t, body["expires_at"])

	status, body = fetchPaste(t, baseURL, id, 0)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), body["remaining_views"])

	status, _ = fetchPaste(t, baseURL, id, 0)
	assert.Equal(t, http.StatusNotFound, status)

	var viewCount int64
	require.NoError(t, testDB.Pool.QueryRow(context.Background(),
		"SELECT view_count FROM pastes WHERE id = $1", id).Scan(&viewCount))
	assert.Equal(t, int64(2), viewCount)
}

// TestFetchPaste_ConcurrentViewLimit checks the store never over-serves
func TestFetchPaste_ConcurrentViewLimit(t *testing.T) {
	resetState(t)
	srv, baseURL := setupTestServer(t, nil)
	defer srv.Shutdown(context.Background())

	id := createPaste(t, baseURL, `{"content":"contended","max_views":5}`)["id"].(string)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		served int
	)
	for range 25 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Get(baseURL + "/api/pastes/" + id)
			if err != nil {
				return
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				mu.Lock()
				served++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, served)
}

// TestFetchPaste_DeterministicClock drives expiry through the test clock header
func TestFetchPaste_DeterministicClock(t *testing.T) {
	resetState(t)
	srv, baseURL := setupTestServer(t, nil)
	defer srv.Shutdown(context.Background())

	id := createPaste(t, baseURL, `{"content":"ticking","ttl_seconds":1}`)["id"].(string)

	var createdAt int64
	require.NoError(t, testDB.Pool.QueryRow(context.Background(),
		"SELECT created_at FROM pastes WHERE id = $1", id).Scan(&createdAt))
	expiresAt := createdAt + 1000

	status, _ := fetchPaste(t, baseURL, id, expiresAt-1)
	assert.Equal(t, http.StatusOK, status)

	status, _ = fetchPaste(t, baseURL, id, expiresAt)
	assert.Equal(t, http.StatusOK, status)

	status, _ = fetchPaste(t, baseURL, id, expiresAt+1)
	assert.Equal(t, http.StatusNotFound, status)

	// Expiry is permanent
	status, _ = fetchPaste(t, baseURL, id, expiresAt+1)
	assert.Equal(t, http.StatusNotFound, status)
}

// TestFetchPaste_NotFoundIsUniform compares the three unavailable states
func TestFetchPaste_NotFoundIsUniform(t *testing.T) {
	resetState(t)
	srv, baseURL := setupTestServer(t, nil)
	defer srv.Shutdown(context.Background())

	expired := createPaste(t, baseURL, `{"content":"e","ttl_seconds":1}`)["id"].(string)
	exhausted := createPaste(t, baseURL, `{"content":"x","max_views":1}`)["id"].(string)
	status, _ := fetchPaste(t, baseURL, exhausted, 0)
	require.Equal(t, http.StatusOK, status)

	far := time.Now().Add(time.Hour).UnixMilli()
	_, missingBody := fetchPaste(t, baseURL, "doesnotexist", 0)
	_, expiredBody := fetchPaste(t, baseURL, expired, far)
	_, exhaustedBody := fetchPaste(t, baseURL, exhausted, 0)

	assert.Equal(t, missingBody, expiredBody)
	assert.Equal(t, missingBody, exhaustedBody)
}

// TestViewPaste_HTML verifies the HTML page escapes content and consumes a view
func TestViewPaste_HTML(t *testing.T) {
	resetState(t)
	srv, baseURL := setupTestServer(t, nil)
	defer srv.Shutdown(context.Background())

	id := createPaste(t, baseURL, `{"content":"<script>alert(1)</script>","max_views":1}`)["id"].(string)

	resp, err := http.Get(baseURL + "/p/" + id)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.NotContains(t, string(body), "<script>alert(1)</script>")
	assert.Contains(t, string(body), "&lt;script&gt;")

	resp, err = http.Get(baseURL + "/p/" + id)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// TestMetrics verifies the Prometheus endpoint reports paste counters
func TestMetrics(t *testing.T) {
	resetState(t)
	srv, baseURL := setupTestServer(t, nil)
	defer srv.Shutdown(context.Background())

	id := createPaste(t, baseURL, `{"content":"counted"}`)["id"].(string)
	status, _ := fetchPaste(t, baseURL, id, 0)
	require.Equal(t, http.StatusOK, status)

	resp, err := http.Get(baseURL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "pastes_created_total")
	assert.Contains(t, string(body), "paste_fetches_total")
}

// TestEvents_RecordedByAnalytics runs the publish, consume and record path
func TestEvents_RecordedByAnalytics(t *testing.T) {
	resetState(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exchange := testCfg.Events.Exchange
	queue := "paste.analytics.integration"

	// Bind the queue before anything is published
	ch, err := testRabbit.Conn.Channel()
	require.NoError(t, err)
	require.NoError(t, ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil))
	_, err = ch.QueueDeclare(queue, true, false, false, false, nil)
	require.NoError(t, err)
	require.NoError(t, ch.QueueBind(queue, "paste.#", exchange, false, nil))
	require.NoError(t, ch.Close())

	publisher, err := events.NewAMQPPublisher(testRabbit.URL, exchange, testObs.Logger)
	require.NoError(t, err)
	defer publisher.Close()

	sink := analytics.NewSink(testDB.Pool)
	consumer := events.NewConsumer(testRabbit.Conn, exchange, queue, testObs.Logger)
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx, sink.Record) }()

	srv, baseURL := setupTestServer(t, publisher)
	defer srv.Shutdown(context.Background())

	id := createPaste(t, baseURL, `{"content":"tracked","max_views":5}`)["id"].(string)
	for range 2 {
		status, _ := fetchPaste(t, baseURL, id, 0)
		require.Equal(t, http.StatusOK, status)
	}

	require.Eventually(t, func() bool {
		stats, err := sink.Stats(ctx, id)
		return err == nil && stats.Created && stats.Views == 2
	}, 10*time.Second, 100*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
