// Package pipeline orchestrates prefab call execution: contract
// validation, access control, secret resolution, file staging,
// invocation and output publishing, in that order, one call at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/prefab-labs/prefab-gateway/internal/domain"
	"github.com/prefab-labs/prefab-gateway/internal/invoker"
	"github.com/prefab-labs/prefab-gateway/internal/registry"
	"github.com/prefab-labs/prefab-gateway/internal/specstore"
	"github.com/prefab-labs/prefab-gateway/internal/transfer"
	"github.com/prefab-labs/prefab-gateway/internal/vault"
	"github.com/prefab-labs/prefab-gateway/internal/workspace"
)

// SpecSource yields the declared contract for a prefab version.
type SpecSource interface {
	Get(ctx context.Context, prefabID, version string) (domain.InterfaceSpec, error)
}

// AccessControl answers read permission and records output ownership.
type AccessControl interface {
	CanRead(ctx context.Context, caller, uri string) (bool, error)
	GrantOwnership(ctx context.Context, caller, uri string) error
}

// Workspaces manages the request-scoped staging directory.
type Workspaces interface {
	Open(requestID string) (workspace.Workspace, error)
	Close(ws workspace.Workspace) error
}

// Transferer moves files between object storage and the workspace.
type Transferer interface {
	Download(ctx context.Context, uri transfer.FileURI, dir, paramName string) (string, error)
	Upload(ctx context.Context, localPath, requestID string) (transfer.FileURI, error)
}

type Config struct {
	// ContinueOnFailure keeps executing later calls after one fails.
	// Off by default: later calls may depend on files a failed call
	// was supposed to produce.
	ContinueOnFailure bool

	// RequestTimeout bounds the whole request so a hung first call
	// cannot block the caller indefinitely.
	RequestTimeout time.Duration
}

func ConfigDefaults() Config {
	return Config{RequestTimeout: 15 * time.Minute}
}

type Pipeline struct {
	cfg      Config
	specs    SpecSource
	secrets  vault.Vault
	access   AccessControl
	spaces   Workspaces
	transfer Transferer
	caller   invoker.Caller
	resolver registry.Resolver
	logger   *slog.Logger
}

func New(
	cfg Config,
	specs SpecSource,
	secrets vault.Vault,
	access AccessControl,
	spaces Workspaces,
	tr Transferer,
	caller invoker.Caller,
	resolver registry.Resolver,
	logger *slog.Logger,
) *Pipeline {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = ConfigDefaults().RequestTimeout
	}
	return &Pipeline{
		cfg:      cfg,
		specs:    specs,
		secrets:  secrets,
		access:   access,
		spaces:   spaces,
		transfer: tr,
		caller:   caller,
		resolver: resolver,
		logger:   logger,
	}
}

// Execute runs the calls strictly in order and returns one result per
// executed call, in request order. Under the default abort policy the
// result list stops at the first failure; completed results are kept.
//
// The request's workspace is opened up front and removed on every exit
// path; the background sweep covers the crash window.
func (p *Pipeline) Execute(ctx context.Context, caller, requestID string, calls []domain.CallRequest) domain.Job {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	job := domain.Job{JobID: requestID}

	ws, err := p.spaces.Open(requestID)
	if err != nil {
		p.logger.Error("workspace open failed", "request_id", requestID, "error", err)
		job.Status = domain.JobFailed
		job.Results = []domain.CallResult{failure(domain.KindInternal, "request staging unavailable")}
		return job
	}
	defer func() {
		if err := p.spaces.Close(ws); err != nil {
			p.logger.Warn("workspace close failed", "request_id", requestID, "error", err)
		}
	}()

	// Outputs uploaded earlier in this request stay staged locally so a
	// later call can consume them without a round trip to storage.
	staged := map[string]string{}

	aborted := false
	for i, call := range calls {
		result := p.executeCall(ctx, caller, requestID, ws, staged, call)
		job.Results = append(job.Results, result)
		if result.Status == domain.CallFailed {
			p.logger.Warn("prefab call failed",
				"request_id", requestID,
				"caller", caller,
				"prefab_id", call.PrefabID,
				"function", call.Function,
				"index", i,
				"kind", result.Error.Kind)
			if !p.cfg.ContinueOnFailure {
				aborted = true
				break
			}
		}
	}

	job.Status = overallStatus(job.Results, aborted)
	return job
}

func overallStatus(results []domain.CallResult, aborted bool) domain.JobStatus {
	failures := 0
	for _, r := range results {
		if r.Status == domain.CallFailed {
			failures++
		}
	}
	switch {
	case failures == 0:
		return domain.JobCompleted
	case aborted || failures == len(results):
		return domain.JobFailed
	default:
		return domain.JobPartial
	}
}

func failure(kind domain.ErrorKind, format string, args ...any) domain.CallResult {
	return domain.CallResult{
		Status: domain.CallFailed,
		Error:  &domain.CallError{Kind: kind, Message: fmt.Sprintf(format, args...)},
	}
}

func (p *Pipeline) executeCall(
	ctx context.Context,
	caller, requestID string,
	ws workspace.Workspace,
	staged map[string]string,
	call domain.CallRequest,
) domain.CallResult {
	// Spec fetch.
	spec, err := p.specs.Get(ctx, call.PrefabID, call.Version)
	if errors.Is(err, specstore.ErrNotFound) {
		return failure(domain.KindNotFound, "no interface spec for %s@%s", call.PrefabID, call.Version)
	}
	if err != nil {
		return failure(domain.KindInternal, "load interface spec: %v", err)
	}
	fn, ok := spec.Function(call.Function)
	if !ok {
		return failure(domain.KindNotFound, "prefab %s@%s has no function %q", call.PrefabID, call.Version, call.Function)
	}

	// Validation against the declared contract.
	if msg := validateInputs(fn, call.Inputs); msg != "" {
		return failure(domain.KindValidation, "%s", msg)
	}

	// Access control over every input file reference.
	fileInputs, msg := collectFileInputs(fn, call.Inputs)
	if msg != "" {
		return failure(domain.KindValidation, "%s", msg)
	}
	for _, in := range fileInputs {
		allowed, err := p.access.CanRead(ctx, caller, in.uri.String())
		if err != nil {
			return failure(domain.KindInternal, "access check for %s: %v", in.param, err)
		}
		if !allowed {
			return failure(domain.KindPermissionDenied, "caller may not read input %q", in.param)
		}
	}

	// Secret resolution, all declared secrets before any invocation.
	secrets, missing, err := p.resolveSecrets(ctx, caller, call.PrefabID, fn)
	if err != nil {
		return failure(domain.KindInternal, "resolve secrets: %v", err)
	}
	if len(missing) > 0 {
		return failure(domain.KindBadRequest,
			"secrets not configured for caller: %s", strings.Join(missing, ", "))
	}
	// Secrets exist in memory for this call only.
	defer clear(secrets)

	// Workspace staging: file references become local paths.
	inputs := make(map[string]any, len(call.Inputs))
	for k, v := range call.Inputs {
		inputs[k] = v
	}
	for _, in := range fileInputs {
		localPath, ok := staged[in.uri.String()]
		if !ok {
			localPath, err = p.transfer.Download(ctx, in.uri, ws.Dir, in.param)
			if err != nil {
				return transferFailure("download input "+in.param, err)
			}
		}
		inputs[in.param] = localPath
	}

	// Downstream invocation.
	endpoint, err := p.resolver.Resolve(ctx, call.PrefabID, call.Version)
	if errors.Is(err, registry.ErrNotFound) {
		return failure(domain.KindServiceNotFound, "no deployed service for %s@%s", call.PrefabID, call.Version)
	}
	if err != nil {
		return failure(domain.KindInternal, "resolve endpoint: %v", err)
	}
	output, err := p.caller.Invoke(ctx, endpoint, call.Function, invoker.Payload{
		Inputs:  inputs,
		Secrets: secrets,
	})
	if errors.Is(err, invoker.ErrUnavailable) {
		return failure(domain.KindUnavailable, "invoke %s: %v", call.Function, err)
	}
	if err != nil {
		return failure(domain.KindInternal, "invoke %s: %v", call.Function, err)
	}

	// Output publishing: local artifacts become owned durable objects.
	for _, ret := range fn.Returns {
		if !ret.IsOutputFile() {
			continue
		}
		raw, present := output[ret.Name]
		if !present {
			continue
		}
		localPath, ok := raw.(string)
		if !ok {
			return failure(domain.KindUnavailable, "output %q is not a file path", ret.Name)
		}
		if !withinDir(ws.Dir, localPath) {
			return failure(domain.KindUnavailable, "output %q escapes the request workspace", ret.Name)
		}
		uri, err := p.transfer.Upload(ctx, localPath, requestID)
		if err != nil {
			return transferFailure("upload output "+ret.Name, err)
		}
		if err := p.access.GrantOwnership(ctx, caller, uri.String()); err != nil {
			return failure(domain.KindInternal, "grant ownership of %s: %v", ret.Name, err)
		}
		staged[uri.String()] = localPath
		output[ret.Name] = uri.String()
	}

	return domain.CallResult{Status: domain.CallSuccess, Output: output}
}

type fileInput struct {
	param string
	uri   transfer.FileURI
}

// collectFileInputs parses every present input-file parameter. Returns
// parameters in declaration order.
func collectFileInputs(fn domain.FunctionSpec, inputs map[string]any) ([]fileInput, string) {
	var out []fileInput
	for _, param := range fn.Parameters {
		if !param.IsInputFile() {
			continue
		}
		raw, present := inputs[param.Name]
		if !present {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Sprintf("parameter %q must be a durable-storage uri", param.Name)
		}
		uri, err := transfer.ParseURI(s)
		if err != nil {
			return nil, fmt.Sprintf("parameter %q: %v", param.Name, err)
		}
		out = append(out, fileInput{param: param.Name, uri: uri})
	}
	return out, ""
}

func (p *Pipeline) resolveSecrets(ctx context.Context, caller, prefabID string, fn domain.FunctionSpec) (map[string]string, []string, error) {
	secrets := make(map[string]string, len(fn.Secrets))
	var missing []string
	for _, sec := range fn.Secrets {
		value, err := p.secrets.Get(ctx, caller, prefabID, sec.Name)
		if errors.Is(err, vault.ErrNotFound) {
			if sec.Required {
				missing = append(missing, sec.Name)
			}
			continue
		}
		if err != nil {
			clear(secrets)
			return nil, nil, err
		}
		secrets[sec.Name] = value
	}
	if len(missing) > 0 {
		clear(secrets)
		return nil, missing, nil
	}
	return secrets, nil, nil
}

func transferFailure(op string, err error) domain.CallResult {
	switch {
	case errors.Is(err, transfer.ErrObjectNotFound):
		return failure(domain.KindNotFound, "%s: %v", op, err)
	case errors.Is(err, transfer.ErrAccessDenied):
		return failure(domain.KindPermissionDenied, "%s: %v", op, err)
	default:
		return failure(domain.KindUnavailable, "%s: %v", op, err)
	}
}

func withinDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
