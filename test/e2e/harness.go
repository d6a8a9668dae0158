package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atlasops/atlas/pkg/agent"
	"github.com/atlasops/atlas/pkg/api"
	"github.com/atlasops/atlas/pkg/approval"
	"github.com/atlasops/atlas/pkg/engine"
	"github.com/atlasops/atlas/pkg/store"
	"github.com/atlasops/atlas/pkg/tools"
)

const testModel = "claude-sonnet-4-20250514"

// TestApp boots a complete instance against in-memory stores, a fake
// cluster, and a scripted LLM, served over a real HTTP listener.
type TestApp struct {
	LLM     *ScriptedLLMClient
	Cluster *FakeCluster

	Conversations agent.ConversationStore
	Pendings      store.PendingStore
	Audits        store.AuditStore
	Driver        *agent.Driver
	Controller    *approval.Controller
	Sweeper       *approval.Sweeper

	BaseURL string

	t      *testing.T
	server *httptest.Server
}

// testAppConfig holds options accumulated before creating the TestApp.
type testAppConfig struct {
	llm           *ScriptedLLMClient
	pendingTTL    time.Duration
	sweepInterval time.Duration
	startSweeper  bool
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithLLMClient sets a pre-scripted LLM client.
func WithLLMClient(client *ScriptedLLMClient) TestAppOption {
	return func(c *testAppConfig) { c.llm = client }
}

// WithPendingTTL shortens the approval window, for expiry scenarios.
func WithPendingTTL(ttl time.Duration) TestAppOption {
	return func(c *testAppConfig) { c.pendingTTL = ttl }
}

// WithSweeper starts the background retention loop at the given interval.
func WithSweeper(interval time.Duration) TestAppOption {
	return func(c *testAppConfig) {
		c.startSweeper = true
		c.sweepInterval = interval
	}
}

// NewTestApp wires the full pipeline and starts its HTTP server. Cleanup is
// registered on t.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	cfg := &testAppConfig{
		llm:        NewScriptedLLMClient(),
		pendingTTL: time.Hour,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	logger := slog.Default()
	cluster := NewFakeCluster()
	registry := tools.NewRegistry()
	require.NoError(t, cluster.Register(registry))

	conversations := store.NewMemoryConversationStore()
	pendings := store.NewMemoryPendingStore()
	audits := store.NewMemoryAuditStore()

	eng := engine.New(engine.Config{PendingTTL: cfg.pendingTTL}, registry, pendings, audits, logger)

	driver := agent.NewDriver(agent.DriverConfig{
		DefaultModel:  testModel,
		AllowedModels: []string{testModel},
	}, cfg.llm, eng, conversations, nil, logger)

	controller := approval.NewController(pendings, audits, eng, driver, logger)

	var sweeper *approval.Sweeper
	if cfg.startSweeper {
		sweeper = approval.NewSweeper(pendings, audits, cfg.sweepInterval, store.DefaultAuditRetention, logger)
		sweeper.Start(context.Background())
		t.Cleanup(sweeper.Stop)
	}

	server := api.NewServer(api.ServerConfig{
		DefaultModel:  testModel,
		AllowedModels: []string{testModel},
	}, driver, controller, conversations, pendings, audits, registry, nil, logger)

	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)

	return &TestApp{
		LLM:           cfg.llm,
		Cluster:       cluster,
		Conversations: conversations,
		Pendings:      pendings,
		Audits:        audits,
		Driver:        driver,
		Controller:    controller,
		Sweeper:       sweeper,
		BaseURL:       ts.URL,
		t:             t,
		server:        ts,
	}
}

// Chat posts one message and decodes the response body into out. Returns
// the HTTP status code.
func (a *TestApp) Chat(body map[string]any, out any) int {
	a.t.Helper()
	return a.postJSON("/api/v1/chat", body, out)
}

// Approve posts one approval decision.
func (a *TestApp) Approve(executionID string, approved bool, out any) int {
	a.t.Helper()
	return a.postJSON("/api/v1/approve", map[string]any{
		"execution_id": executionID,
		"approved":     approved,
	}, out)
}

// GetJSON fetches path and decodes the body into out.
func (a *TestApp) GetJSON(path string, out any) int {
	a.t.Helper()
	resp, err := http.Get(a.BaseURL + path)
	require.NoError(a.t, err)
	return a.decode(resp, out)
}

func (a *TestApp) postJSON(path string, body map[string]any, out any) int {
	a.t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(a.t, err)
	resp, err := http.Post(a.BaseURL+path, "application/json", bytes.NewReader(raw))
	require.NoError(a.t, err)
	return a.decode(resp, out)
}

func (a *TestApp) decode(resp *http.Response, out any) int {
	a.t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(a.t, err)
	if out != nil {
		require.NoError(a.t, json.Unmarshal(raw, out), "body: %s", raw)
	}
	return resp.StatusCode
}

// AuditRecords returns the newest audit entries, up to limit.
func (a *TestApp) AuditRecords(limit int) []*store.AuditRecord {
	a.t.Helper()
	recs, err := a.Audits.List(context.Background(), limit)
	require.NoError(a.t, err)
	return recs
}

// FakeCluster is the in-memory workload state the scenario tools act on.
type FakeCluster struct {
	mu          sync.Mutex
	pods        []string
	deployments map[string]int
}

// NewFakeCluster seeds a small workload set.
func NewFakeCluster() *FakeCluster {
	return &FakeCluster{
		pods:        []string{"api-7f9c-x2k4", "api-7f9c-m1p8", "worker-5d21-q7r3"},
		deployments: map[string]int{"api": 2, "worker": 1},
	}
}

// Replicas reports the current replica count for a deployment.
func (f *FakeCluster) Replicas(deployment string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deployments[deployment]
}

// Pods returns a copy of the current pod list.
func (f *FakeCluster) Pods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pods...)
}

// Register adds the scenario tool set to the catalog: one safe read, two
// dangerous mutations.
func (f *FakeCluster) Register(registry *tools.Registry) error {
	if err := registry.Register(tools.ToolSpec{
		Name:        "kubectl_get_pods",
		Description: "List pods in the cluster",
		Class:       tools.ClassSafe,
		Schema:      json.RawMessage(`{"type":"object","properties":{"namespace":{"type":"string"}},"additionalProperties":false}`),
	}, f.getPods); err != nil {
		return err
	}
	if err := registry.Register(tools.ToolSpec{
		Name:        "kubectl_scale_deployment",
		Description: "Scale a deployment to a replica count",
		Class:       tools.ClassDangerous,
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"deployment": {"type": "string"},
				"replicas": {"type": "integer", "minimum": 1, "maximum": 50}
			},
			"required": ["deployment", "replicas"],
			"additionalProperties": false
		}`),
	}, f.scaleDeployment); err != nil {
		return err
	}
	return registry.Register(tools.ToolSpec{
		Name:        "kubectl_delete_pod",
		Description: "Delete a pod",
		Class:       tools.ClassDangerous,
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {"pod": {"type": "string"}},
			"required": ["pod"],
			"additionalProperties": false
		}`),
	}, f.deletePod)
}

func (f *FakeCluster) getPods(_ context.Context, _ json.RawMessage) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return map[string]any{"pods": append([]string(nil), f.pods...)}, nil
}

func (f *FakeCluster) scaleDeployment(_ context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Deployment string `json:"deployment"`
		Replicas   int    `json:"replicas"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.deployments[p.Deployment]; !ok {
		return nil, fmt.Errorf("deployment %q not found", p.Deployment)
	}
	f.deployments[p.Deployment] = p.Replicas
	return map[string]any{"deployment": p.Deployment, "replicas": p.Replicas}, nil
}

func (f *FakeCluster) deletePod(_ context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Pod string `json:"pod"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, pod := range f.pods {
		if pod == p.Pod {
			f.pods = append(f.pods[:i], f.pods[i+1:]...)
			return map[string]any{"deleted": p.Pod}, nil
		}
	}
	return nil, fmt.Errorf("pod %q not found", p.Pod)
}
