package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prefab-labs/prefab-gateway/internal/acl"
	"github.com/prefab-labs/prefab-gateway/internal/domain"
	"github.com/prefab-labs/prefab-gateway/internal/platform/auth"
	"github.com/prefab-labs/prefab-gateway/internal/registry"
	"github.com/prefab-labs/prefab-gateway/internal/specstore"
	"github.com/prefab-labs/prefab-gateway/internal/vault"
)

type fakeExecutor struct {
	lastCaller    string
	lastRequestID string
	lastCalls     []domain.CallRequest
	job           domain.Job
}

func (f *fakeExecutor) Execute(_ context.Context, caller, requestID string, calls []domain.CallRequest) domain.Job {
	f.lastCaller = caller
	f.lastRequestID = requestID
	f.lastCalls = calls
	job := f.job
	job.JobID = requestID
	return job
}

type fakeDeployments struct {
	events   map[string]*registry.WebhookEvent
	recorded []registry.Deployment
}

func (f *fakeDeployments) Record(_ context.Context, d registry.Deployment) error {
	if d.Status == registry.StatusDeployed && d.Endpoint == "" {
		return errors.New("deployed status requires an endpoint")
	}
	f.recorded = append(f.recorded, d)
	return nil
}

func (f *fakeDeployments) RecordEvent(_ context.Context, eventID, eventType, prefabID, version string) (bool, error) {
	if f.events == nil {
		f.events = map[string]*registry.WebhookEvent{}
	}
	if _, exists := f.events[eventID]; exists {
		return false, nil
	}
	f.events[eventID] = &registry.WebhookEvent{
		EventID:    eventID,
		EventType:  eventType,
		PrefabID:   prefabID,
		Version:    version,
		ReceivedAt: time.Now().UTC(),
	}
	return true, nil
}

func (f *fakeDeployments) MarkEventProcessed(_ context.Context, eventID string) error {
	event, ok := f.events[eventID]
	if !ok {
		return errors.New("unknown event")
	}
	now := time.Now().UTC()
	event.Processed = true
	event.ProcessedAt = &now
	return nil
}

func (f *fakeDeployments) GetEvent(_ context.Context, eventID string) (registry.WebhookEvent, error) {
	event, ok := f.events[eventID]
	if !ok {
		return registry.WebhookEvent{}, registry.ErrEventNotFound
	}
	return *event, nil
}

type apiFixture struct {
	api         *gatewayAPI
	mux         *http.ServeMux
	exec        *fakeExecutor
	secrets     *vault.Memory
	specs       *specstore.Memory
	files       *acl.Memory
	deployments *fakeDeployments
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		exec: &fakeExecutor{job: domain.Job{
			Status:  domain.JobCompleted,
			Results: []domain.CallResult{{Status: domain.CallSuccess, Output: map[string]any{"ok": true}}},
		}},
		secrets:     vault.NewMemory(),
		specs:       specstore.NewMemory(),
		files:       acl.NewMemory(),
		deployments: &fakeDeployments{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.api = newGatewayAPI(logger, f.exec, f.secrets, f.specs, f.files, f.deployments, nil, "webhook-secret")
	f.mux = http.NewServeMux()
	f.api.register(f.mux)
	return f
}

func (f *apiFixture) do(method, target string, body string, identity *auth.Identity) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if identity != nil {
		req = req.WithContext(auth.ContextWithIdentity(req.Context(), *identity))
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func alice() *auth.Identity {
	return &auth.Identity{Subject: "alice", Scopes: []string{"prefabs:write"}}
}

func TestHandleRunExecutesForCaller(t *testing.T) {
	f := newAPIFixture(t)

	body := `{"calls": [{"prefab_id": "transcriber", "version": "1.0.0", "function_name": "hello", "inputs": {"name": "x"}}]}`
	rec := f.do(http.MethodPost, "/v1/run", body, alice())

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if f.exec.lastCaller != "alice" {
		t.Fatalf("caller = %s", f.exec.lastCaller)
	}
	if len(f.exec.lastCalls) != 1 || f.exec.lastCalls[0].Function != "hello" {
		t.Fatalf("calls = %+v", f.exec.lastCalls)
	}

	var job domain.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if job.Status != domain.JobCompleted || len(job.Results) != 1 {
		t.Fatalf("job = %+v", job)
	}
	if job.JobID == "" {
		t.Fatalf("missing job_id")
	}
}

func TestHandleRunRejectsBadRequests(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "empty calls", body: `{"calls": []}`},
		{name: "missing identity fields", body: `{"calls": [{"prefab_id": "", "version": "1.0.0", "function_name": "f", "inputs": {}}]}`},
		{name: "unknown field", body: `{"calls": [], "parallel": true}`},
		{name: "not json", body: `calls`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/v1/run", tc.body, alice())
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}
	if f.exec.lastCalls != nil {
		t.Fatalf("executor ran for an invalid request")
	}
}

func TestSecretEndpointsNeverReturnValues(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodPost, "/v1/secrets",
		`{"prefab_id": "transcriber", "secret_name": "API_KEY", "secret_value": "hunter2"}`, alice())
	if rec.Code != http.StatusNoContent {
		t.Fatalf("put status = %d: %s", rec.Code, rec.Body)
	}

	rec = f.do(http.MethodGet, "/v1/secrets/transcriber", "", alice())
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "hunter2") {
		t.Fatalf("secret value leaked in listing: %s", rec.Body)
	}
	var listing struct {
		Secrets []vault.Metadata `json:"secrets"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(listing.Secrets) != 1 || listing.Secrets[0].Name != "API_KEY" {
		t.Fatalf("listing = %+v", listing)
	}

	rec = f.do(http.MethodDelete, "/v1/secrets/transcriber/API_KEY", "", alice())
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if _, err := f.secrets.Get(context.Background(), "alice", "transcriber", "API_KEY"); err == nil {
		t.Fatalf("secret survived delete")
	}
}

func TestSecretsAreScopedToTheCaller(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodPost, "/v1/secrets",
		`{"prefab_id": "transcriber", "secret_name": "API_KEY", "secret_value": "alice-value"}`, alice())
	if rec.Code != http.StatusNoContent {
		t.Fatalf("put status = %d", rec.Code)
	}

	bob := &auth.Identity{Subject: "bob"}
	rec = f.do(http.MethodGet, "/v1/secrets/transcriber", "", bob)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var listing struct {
		Secrets []vault.Metadata `json:"secrets"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(listing.Secrets) != 0 {
		t.Fatalf("bob sees alice's secrets: %+v", listing.Secrets)
	}
}

const manifestYAML = `
prefab_id: transcriber
version: 1.0.0
functions:
  - name: hello
    parameters:
      - name: name
        type: string
        required: true
`

func TestSpecIngestAndRead(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodPost, "/v1/prefabs/transcriber/1.0.0/spec", manifestYAML, alice())
	if rec.Code != http.StatusCreated {
		t.Fatalf("put status = %d: %s", rec.Code, rec.Body)
	}

	rec = f.do(http.MethodGet, "/v1/prefabs/transcriber/1.0.0/spec", "", alice())
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var spec domain.InterfaceSpec
	if err := json.Unmarshal(rec.Body.Bytes(), &spec); err != nil {
		t.Fatalf("decode spec: %v", err)
	}
	if spec.PrefabID != "transcriber" || len(spec.Functions) != 1 {
		t.Fatalf("spec = %+v", spec)
	}
}

func TestSpecIngestRequiresWriteScope(t *testing.T) {
	f := newAPIFixture(t)

	reader := &auth.Identity{Subject: "carol"}
	rec := f.do(http.MethodPost, "/v1/prefabs/transcriber/1.0.0/spec", manifestYAML, reader)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestSpecIngestRejectsIdentityMismatch(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodPost, "/v1/prefabs/other/2.0.0/spec", manifestYAML, alice())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSpecReadMissReturns404(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodGet, "/v1/prefabs/ghost/1.0.0/spec", "", alice())
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func signWebhook(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestFactoryWebhookRecordsDeployment(t *testing.T) {
	f := newAPIFixture(t)

	body := `{"event_id": "evt-1", "event_type": "prefab.deployed", "prefab_id": "transcriber", "version": "1.0.0", "endpoint": "http://transcriber.prefabs.svc"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/factory", strings.NewReader(body))
	req.Header.Set("X-Webhook-Signature", signWebhook("webhook-secret", body))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if len(f.deployments.recorded) != 1 {
		t.Fatalf("recorded = %+v", f.deployments.recorded)
	}
	d := f.deployments.recorded[0]
	if d.PrefabID != "transcriber" || d.Status != registry.StatusDeployed {
		t.Fatalf("deployment = %+v", d)
	}
}

func TestFactoryWebhookRejectsBadSignature(t *testing.T) {
	f := newAPIFixture(t)

	body := `{"event_id": "evt-2", "event_type": "prefab.deployed", "prefab_id": "x", "version": "1", "endpoint": "http://x"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/factory", strings.NewReader(body))
	req.Header.Set("X-Webhook-Signature", signWebhook("wrong-secret", body))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if len(f.deployments.recorded) != 0 {
		t.Fatalf("deployment recorded despite bad signature")
	}
}

func TestFactoryWebhookSkipsReplayedEvents(t *testing.T) {
	f := newAPIFixture(t)

	body := `{"event_id": "evt-3", "event_type": "prefab.deployed", "prefab_id": "x", "version": "1", "endpoint": "http://x"}`
	sig := signWebhook("webhook-secret", body)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/factory", strings.NewReader(body))
		req.Header.Set("X-Webhook-Signature", sig)
		rec := httptest.NewRecorder()
		f.mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d status = %d", i, rec.Code)
		}
	}
	if len(f.deployments.recorded) != 1 {
		t.Fatalf("recorded = %d, want 1 (replay must not re-apply)", len(f.deployments.recorded))
	}
}

func TestFactoryWebhookRejectsUnknownEventType(t *testing.T) {
	f := newAPIFixture(t)

	body := `{"event_id": "evt-4", "event_type": "prefab.rebooted", "prefab_id": "x", "version": "1"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/factory", strings.NewReader(body))
	req.Header.Set("X-Webhook-Signature", signWebhook("webhook-secret", body))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleRunIgnoresCallerSuppliedRequestID(t *testing.T) {
	f := newAPIFixture(t)
	body := `{"calls": [{"prefab_id": "transcriber", "version": "1.0.0", "function_name": "hello", "inputs": {}}]}`

	// Two requests carrying the same correlation header must still get
	// disjoint job ids, or their workspaces would collide.
	var ids []string
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/run", strings.NewReader(body))
		req.Header.Set("X-Request-Id", "caller-chosen-id")
		req = req.WithContext(auth.ContextWithIdentity(req.Context(), *alice()))
		rec := httptest.NewRecorder()
		f.mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d: %s", i, rec.Code, rec.Body)
		}
		ids = append(ids, f.exec.lastRequestID)
	}

	for i, id := range ids {
		if id == "caller-chosen-id" {
			t.Fatalf("request %d used the header value as its job id", i)
		}
		if id == "" {
			t.Fatalf("request %d had no job id", i)
		}
	}
	if ids[0] == ids[1] {
		t.Fatalf("two requests shared job id %s", ids[0])
	}
}

func TestWebhookEventStatusReflectsProcessing(t *testing.T) {
	f := newAPIFixture(t)

	body := `{"event_id": "evt-status", "event_type": "prefab.deployed", "prefab_id": "transcriber", "version": "1.0.0", "endpoint": "http://transcriber.prefabs.svc"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/factory", strings.NewReader(body))
	req.Header.Set("X-Webhook-Signature", signWebhook("webhook-secret", body))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("ingest status = %d: %s", rec.Code, rec.Body)
	}

	rec = f.do(http.MethodGet, "/webhooks/events/evt-status", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("lookup status = %d", rec.Code)
	}
	var event registry.WebhookEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.EventID != "evt-status" || event.EventType != "prefab.deployed" {
		t.Fatalf("event = %+v", event)
	}
	if event.PrefabID != "transcriber" || event.Version != "1.0.0" {
		t.Fatalf("event = %+v", event)
	}
	if !event.Processed || event.ProcessedAt == nil {
		t.Fatalf("event not marked processed: %+v", event)
	}
}

func TestWebhookEventStatusUnknownReturns404(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodGet, "/webhooks/events/evt-ghost", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestFileListingAndRevoke(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	for _, uri := range []string{"s3://prefab-outputs/b.json", "s3://prefab-outputs/a.json"} {
		if err := f.files.GrantOwnership(ctx, "alice", uri); err != nil {
			t.Fatalf("grant: %v", err)
		}
	}

	rec := f.do(http.MethodGet, "/v1/files", "", alice())
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var listing struct {
		Files []string `json:"files"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(listing.Files) != 2 || listing.Files[0] != "s3://prefab-outputs/a.json" {
		t.Fatalf("files = %v", listing.Files)
	}

	rec = f.do(http.MethodDelete, "/v1/files?uri=s3://prefab-outputs/a.json", "", alice())
	if rec.Code != http.StatusNoContent {
		t.Fatalf("revoke status = %d", rec.Code)
	}
	ok, err := f.files.CanRead(ctx, "alice", "s3://prefab-outputs/a.json")
	if err != nil {
		t.Fatalf("CanRead: %v", err)
	}
	if ok {
		t.Fatalf("access survived revoke")
	}

	rec = f.do(http.MethodDelete, "/v1/files", "", alice())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing uri status = %d, want 400", rec.Code)
	}
}
