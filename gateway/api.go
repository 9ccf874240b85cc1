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
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prefab-labs/prefab-gateway/internal/domain"
	"github.com/prefab-labs/prefab-gateway/internal/platform/auditlog"
	"github.com/prefab-labs/prefab-gateway/internal/platform/auth"
	"github.com/prefab-labs/prefab-gateway/internal/registry"
	"github.com/prefab-labs/prefab-gateway/internal/specstore"
	"github.com/prefab-labs/prefab-gateway/internal/vault"
)

const maxCallsPerRequest = 32

type executor interface {
	Execute(ctx context.Context, caller, requestID string, calls []domain.CallRequest) domain.Job
}

type specStore interface {
	Get(ctx context.Context, prefabID, version string) (domain.InterfaceSpec, error)
	Put(ctx context.Context, spec domain.InterfaceSpec) error
	Invalidate(prefabID, version string)
}

type fileACL interface {
	ListFiles(ctx context.Context, caller string) ([]string, error)
	Revoke(ctx context.Context, caller, uri string) error
}

type deploymentStore interface {
	Record(ctx context.Context, d registry.Deployment) error
	RecordEvent(ctx context.Context, eventID, eventType, prefabID, version string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID string) error
	GetEvent(ctx context.Context, eventID string) (registry.WebhookEvent, error)
}

type gatewayAPI struct {
	logger        *slog.Logger
	pipe          executor
	secrets       vault.Vault
	specs         specStore
	files         fileACL
	deployments   deploymentStore
	audit         auditlog.QueryRower
	webhookSecret string
}

func newGatewayAPI(
	logger *slog.Logger,
	pipe executor,
	secrets vault.Vault,
	specs specStore,
	files fileACL,
	deployments deploymentStore,
	audit auditlog.QueryRower,
	webhookSecret string,
) *gatewayAPI {
	return &gatewayAPI{
		logger:        logger,
		pipe:          pipe,
		secrets:       secrets,
		specs:         specs,
		files:         files,
		deployments:   deployments,
		audit:         audit,
		webhookSecret: strings.TrimSpace(webhookSecret),
	}
}

func (api *gatewayAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/run", api.handleRun)

	mux.HandleFunc("POST /v1/secrets", api.handlePutSecret)
	mux.HandleFunc("GET /v1/secrets/{prefab_id}", api.handleListSecrets)
	mux.HandleFunc("DELETE /v1/secrets/{prefab_id}/{secret_name}", api.handleDeleteSecret)

	mux.HandleFunc("GET /v1/files", api.handleListFiles)
	mux.HandleFunc("DELETE /v1/files", api.handleRevokeFile)

	mux.HandleFunc("GET /v1/prefabs/{prefab_id}/{version}/spec", api.handleGetSpec)
	mux.HandleFunc("POST /v1/prefabs/{prefab_id}/{version}/spec", api.handlePutSpec)

	mux.HandleFunc("POST /webhooks/factory", api.handleFactoryWebhook)
	mux.HandleFunc("GET /webhooks/events/{event_id}", api.handleWebhookEventStatus)
}

type runRequest struct {
	Calls []domain.CallRequest `json:"calls"`
}

func (api *gatewayAPI) handleRun(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	var req runRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if len(req.Calls) == 0 {
		api.writeError(w, r, http.StatusBadRequest, "calls_required")
		return
	}
	if len(req.Calls) > maxCallsPerRequest {
		api.writeError(w, r, http.StatusBadRequest, "too_many_calls")
		return
	}
	for _, call := range req.Calls {
		if strings.TrimSpace(call.PrefabID) == "" || strings.TrimSpace(call.Version) == "" || strings.TrimSpace(call.Function) == "" {
			api.writeError(w, r, http.StatusBadRequest, "call_identity_required")
			return
		}
	}

	// The job id names the workspace directory, so it is generated
	// here and never taken from the request: a caller-chosen id could
	// collide with another in-flight request's workspace. X-Request-Id
	// stays a log/audit correlation value only.
	jobID := uuid.NewString()

	job := api.pipe.Execute(r.Context(), identity.Subject, jobID, req.Calls)

	api.auditEvent(r, identity, "run.execute", "job", job.JobID, map[string]any{
		"status": string(job.Status),
		"calls":  len(req.Calls),
	})
	api.writeJSON(w, http.StatusOK, job)
}

type putSecretRequest struct {
	PrefabID    string `json:"prefab_id"`
	SecretName  string `json:"secret_name"`
	SecretValue string `json:"secret_value"`
}

func (api *gatewayAPI) handlePutSecret(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	var req putSecretRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	prefabID := strings.TrimSpace(req.PrefabID)
	name := strings.TrimSpace(req.SecretName)
	if prefabID == "" || name == "" {
		api.writeError(w, r, http.StatusBadRequest, "prefab_id_and_secret_name_required")
		return
	}
	if req.SecretValue == "" {
		api.writeError(w, r, http.StatusBadRequest, "secret_value_required")
		return
	}

	if err := api.secrets.Put(r.Context(), identity.Subject, prefabID, name, req.SecretValue); err != nil {
		api.logger.Error("secret put failed", "prefab_id", prefabID, "secret_name", name, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	// Audit records the key, never the value.
	api.auditEvent(r, identity, "secret.put", "secret", prefabID+"/"+name, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (api *gatewayAPI) handleListSecrets(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	prefabID := r.PathValue("prefab_id")
	metadata, err := api.secrets.List(r.Context(), identity.Subject, prefabID)
	if err != nil {
		api.logger.Error("secret list failed", "prefab_id", prefabID, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	if metadata == nil {
		metadata = []vault.Metadata{}
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"prefab_id": prefabID,
		"secrets":   metadata,
	})
}

func (api *gatewayAPI) handleDeleteSecret(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	prefabID := r.PathValue("prefab_id")
	name := r.PathValue("secret_name")
	if err := api.secrets.Delete(r.Context(), identity.Subject, prefabID, name); err != nil {
		api.logger.Error("secret delete failed", "prefab_id", prefabID, "secret_name", name, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	api.auditEvent(r, identity, "secret.delete", "secret", prefabID+"/"+name, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (api *gatewayAPI) handleListFiles(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	files, err := api.files.ListFiles(r.Context(), identity.Subject)
	if err != nil {
		api.logger.Error("file list failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	if files == nil {
		files = []string{}
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

// handleRevokeFile drops the caller's own access to a durable object.
// The URI rides in a query parameter because object keys contain
// slashes.
func (api *gatewayAPI) handleRevokeFile(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	uri := strings.TrimSpace(r.URL.Query().Get("uri"))
	if uri == "" {
		api.writeError(w, r, http.StatusBadRequest, "uri_required")
		return
	}

	if err := api.files.Revoke(r.Context(), identity.Subject, uri); err != nil {
		api.logger.Error("file revoke failed", "uri", uri, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	api.auditEvent(r, identity, "file.revoke", "file", uri, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (api *gatewayAPI) handleGetSpec(w http.ResponseWriter, r *http.Request) {
	prefabID := r.PathValue("prefab_id")
	version := r.PathValue("version")

	spec, err := api.specs.Get(r.Context(), prefabID, version)
	if errors.Is(err, specstore.ErrNotFound) {
		api.writeError(w, r, http.StatusNotFound, "spec_not_found")
		return
	}
	if err != nil {
		api.logger.Error("spec get failed", "prefab_id", prefabID, "version", version, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, spec)
}

// handlePutSpec ingests a prefab manifest (YAML or JSON body). Reserved
// for callers holding the prefabs:write scope; the factory uses it when
// publishing a new prefab version.
func (api *gatewayAPI) handlePutSpec(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	if !identity.HasScope("prefabs:write") {
		api.writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_body")
		return
	}
	spec, err := domain.ParseManifest(body)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_manifest")
		return
	}
	if spec.PrefabID != r.PathValue("prefab_id") || spec.Version != r.PathValue("version") {
		api.writeError(w, r, http.StatusBadRequest, "manifest_identity_mismatch")
		return
	}

	if err := api.specs.Put(r.Context(), spec); err != nil {
		api.logger.Error("spec put failed", "prefab_id", spec.PrefabID, "version", spec.Version, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	api.auditEvent(r, identity, "spec.put", "prefab", spec.PrefabID+"@"+spec.Version, nil)
	api.writeJSON(w, http.StatusCreated, spec)
}

type factoryEvent struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	PrefabID  string `json:"prefab_id"`
	Version   string `json:"version"`
	Endpoint  string `json:"endpoint,omitempty"`
}

// handleFactoryWebhook records deployment state reported by the prefab
// factory. The route bypasses caller auth; the HMAC signature over the
// raw body is the authentication.
func (api *gatewayAPI) handleFactoryWebhook(w http.ResponseWriter, r *http.Request) {
	if api.webhookSecret == "" {
		api.writeError(w, r, http.StatusServiceUnavailable, "webhook_disabled")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_body")
		return
	}
	if err := verifyWebhookSignature(api.webhookSecret, body, r.Header.Get("X-Webhook-Signature")); err != nil {
		api.logger.Warn("factory webhook rejected", "error", err)
		api.writeError(w, r, http.StatusUnauthorized, "invalid_signature")
		return
	}

	var event factoryEvent
	if err := decodeJSONBytes(body, &event); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if strings.TrimSpace(event.EventID) == "" {
		api.writeError(w, r, http.StatusBadRequest, "event_id_required")
		return
	}

	var status string
	switch event.EventType {
	case "prefab.deployed":
		status = registry.StatusDeployed
	case "prefab.removed":
		status = registry.StatusRemoved
	default:
		api.writeError(w, r, http.StatusBadRequest, "unknown_event_type")
		return
	}

	fresh, err := api.deployments.RecordEvent(r.Context(), event.EventID, event.EventType, event.PrefabID, event.Version)
	if err != nil {
		api.logger.Error("webhook dedup failed", "event_id", event.EventID, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	if !fresh {
		api.writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
		return
	}

	err = api.deployments.Record(r.Context(), registry.Deployment{
		PrefabID: event.PrefabID,
		Version:  event.Version,
		Endpoint: event.Endpoint,
		Status:   status,
	})
	if err != nil {
		api.logger.Error("deployment record failed", "event_id", event.EventID, "error", err)
		api.writeError(w, r, http.StatusBadRequest, "invalid_event")
		return
	}

	if err := api.deployments.MarkEventProcessed(r.Context(), event.EventID); err != nil {
		api.logger.Warn("webhook processed flag failed", "event_id", event.EventID, "error", err)
	}

	// A redeploy may ship a changed contract; force the next spec read
	// through to the durable store.
	api.specs.Invalidate(event.PrefabID, event.Version)

	api.logger.Info("deployment recorded",
		"event_id", event.EventID,
		"prefab_id", event.PrefabID,
		"version", event.Version,
		"status", status)
	api.writeJSON(w, http.StatusOK, map[string]any{"status": "accepted"})
}

// handleWebhookEventStatus lets the factory confirm whether a delivery
// was received and applied.
func (api *gatewayAPI) handleWebhookEventStatus(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("event_id")

	event, err := api.deployments.GetEvent(r.Context(), eventID)
	if errors.Is(err, registry.ErrEventNotFound) {
		api.writeError(w, r, http.StatusNotFound, "event_not_found")
		return
	}
	if err != nil {
		api.logger.Error("webhook event lookup failed", "event_id", eventID, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, event)
}

func verifyWebhookSignature(secret string, body []byte, signature string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return errors.New("missing signature")
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return errors.New("invalid signature encoding")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), got) {
		return errors.New("invalid signature")
	}
	return nil
}

func (api *gatewayAPI) auditEvent(r *http.Request, identity auth.Identity, action, resourceType, resourceID string, payload map[string]any) {
	if api.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 750*time.Millisecond)
	defer cancel()
	_, err := auditlog.Insert(ctx, api.audit, auditlog.Event{
		OccurredAt:   time.Now().UTC(),
		Actor:        identity.Subject,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		RequestID:    r.Header.Get("X-Request-Id"),
		Payload:      payload,
	})
	if err != nil {
		api.logger.Warn("audit insert failed", "action", action, "error", err)
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 4<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func decodeJSONBytes(raw []byte, dst any) error {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *gatewayAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *gatewayAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}
