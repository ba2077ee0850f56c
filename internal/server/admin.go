package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	gateway "github.com/leenhawk/gproxy/internal"
	"github.com/leenhawk/gproxy/internal/storage"
)

// maxAdminBody is the maximum allowed admin request body size (1 MB).
const maxAdminBody = 1 << 20

// decodeJSON limits body size, decodes JSON into v, and writes a 400 on error.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return false
	}
	return true
}

// writeAdminError logs the full error server-side and returns a sanitized
// message to the client to avoid leaking internal details (e.g. SQLite errors).
func writeAdminError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	switch {
	case errors.Is(err, gateway.ErrNotFound):
		writeJSON(w, status, errorResponse("not found"))
	case errors.Is(err, gateway.ErrConflict):
		writeJSON(w, status, errorResponse("conflict"))
	default:
		slog.LogAttrs(r.Context(), slog.LevelError, "admin error",
			slog.String("error", err.Error()),
		)
		writeJSON(w, status, errorResponse("internal error"))
	}
}

// reload calls the Reloader hook, if wired, after a store mutation. Admin
// handlers that change pool-affecting state (providers, credentials,
// disallow marks) call this so the live registry doesn't drift from the
// database; key mutations call authReload instead (the auth snapshot is a
// separate concern from credential pools).
func (s *server) reload(w http.ResponseWriter, r *http.Request) bool {
	if s.deps.Reload == nil {
		return true
	}
	if err := s.deps.Reload(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("reload failed"))
		return false
	}
	return true
}

func (s *server) authReload(w http.ResponseWriter, r *http.Request) bool {
	if s.deps.AuthKeys == nil {
		return true
	}
	if err := s.deps.AuthKeys.Reload(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("auth reload failed"))
		return false
	}
	return true
}

type pagination struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Total  int `json:"total"`
}

type listResponse struct {
	Data       any        `json:"data"`
	Pagination pagination `json:"pagination"`
}

func parsePagination(r *http.Request) (offset, limit int) {
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return
}

// --- Providers ---

type providerDTO struct {
	ID      string          `json:"id,omitempty"`
	Name    string          `json:"name"`
	Dialect string          `json:"dialect"`
	BaseURL string          `json:"base_url"`
	Config  json.RawMessage `json:"config,omitempty"`
}

func dialectFromString(s string) (gateway.Dialect, bool) {
	switch s {
	case "claude":
		return gateway.DialectClaude, true
	case "gemini":
		return gateway.DialectGemini, true
	case "openai-chat":
		return gateway.DialectOpenAIChat, true
	case "openai-responses":
		return gateway.DialectOpenAIResponses, true
	default:
		return 0, false
	}
}

func providerToDTO(p *storage.ProviderRecord) providerDTO {
	return providerDTO{ID: p.ID, Name: p.Name, Dialect: p.Dialect.String(), BaseURL: p.BaseURL, Config: p.Config}
}

func (s *server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := s.deps.Store.ListProviders(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("failed to list providers"))
		return
	}
	out := make([]providerDTO, len(providers))
	for i, p := range providers {
		out[i] = providerToDTO(p)
	}
	writeJSON(w, http.StatusOK, listResponse{Data: out, Pagination: pagination{Limit: len(out), Total: len(out)}})
}

func (s *server) handleCreateProvider(w http.ResponseWriter, r *http.Request) {
	var dto providerDTO
	if !decodeJSON(w, r, &dto) {
		return
	}
	if dto.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("name is required"))
		return
	}
	dialect, ok := dialectFromString(dto.Dialect)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid dialect"))
		return
	}
	if dto.ID == "" {
		dto.ID = dto.Name
	}
	rec := &storage.ProviderRecord{
		ID:        dto.ID,
		Name:      dto.Name,
		Dialect:   dialect,
		BaseURL:   dto.BaseURL,
		Config:    dto.Config,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.deps.Store.CreateProvider(r.Context(), rec); err != nil {
		writeAdminError(w, r, err)
		return
	}
	if !s.reload(w, r) {
		return
	}
	w.Header().Set("Location", "/admin/v1/providers/"+rec.ID)
	writeJSON(w, http.StatusCreated, providerToDTO(rec))
}

func (s *server) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.deps.Store.GetProvider(r.Context(), id)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, providerToDTO(p))
}

func (s *server) handleUpdateProvider(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var dto providerDTO
	if !decodeJSON(w, r, &dto) {
		return
	}
	dialect, ok := dialectFromString(dto.Dialect)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid dialect"))
		return
	}
	rec := &storage.ProviderRecord{ID: id, Name: dto.Name, Dialect: dialect, BaseURL: dto.BaseURL, Config: dto.Config}
	if err := s.deps.Store.UpdateProvider(r.Context(), rec); err != nil {
		writeAdminError(w, r, err)
		return
	}
	if !s.reload(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, providerToDTO(rec))
}

func (s *server) handleDeleteProvider(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Store.DeleteProvider(r.Context(), id); err != nil {
		writeAdminError(w, r, err)
		return
	}
	if !s.reload(w, r) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Credentials ---

// credentialDTO accepts either provider_id or provider_name; when both are
// present and disagree, provider_id wins (SPEC_FULL open question (c)).
type credentialDTO struct {
	ID           int64           `json:"id,omitempty"`
	ProviderID   string          `json:"provider_id,omitempty"`
	ProviderName string          `json:"provider_name,omitempty"`
	Label        string          `json:"label"`
	Secret       json.RawMessage `json:"secret,omitempty"`
	Meta         json.RawMessage `json:"meta,omitempty"` // e.g. {"base_url": "..."}
	Weight       int             `json:"weight"`
	Enabled      bool            `json:"enabled"`
}

// resolveProviderID implements the id-wins rule and, when only a name is
// given, looks the provider up by name.
func (s *server) resolveProviderID(r *http.Request, dto credentialDTO) (string, error) {
	if dto.ProviderID != "" {
		return dto.ProviderID, nil
	}
	if dto.ProviderName == "" {
		return "", gateway.NewClientError(http.StatusBadRequest, "provider_id or provider_name is required")
	}
	p, err := s.deps.Store.GetProviderByName(r.Context(), dto.ProviderName)
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

func credentialToDTO(c *storage.CredentialRecord) credentialDTO {
	return credentialDTO{ID: c.ID, ProviderID: c.ProviderID, Label: c.Label, Meta: c.Meta, Weight: c.Weight, Enabled: c.Enabled}
}

func (s *server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")
	creds, err := s.deps.Store.ListCredentials(r.Context(), providerID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("failed to list credentials"))
		return
	}
	out := make([]credentialDTO, len(creds))
	for i, c := range creds {
		out[i] = credentialToDTO(c)
	}
	writeJSON(w, http.StatusOK, listResponse{Data: out, Pagination: pagination{Limit: len(out), Total: len(out)}})
}

func (s *server) handleCreateCredential(w http.ResponseWriter, r *http.Request) {
	var dto credentialDTO
	if !decodeJSON(w, r, &dto) {
		return
	}
	dto.ProviderID = chi.URLParam(r, "providerID")
	providerID, err := s.resolveProviderID(r, dto)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	rec := &storage.CredentialRecord{
		ProviderID: providerID,
		Label:      dto.Label,
		SecretJSON: dto.Secret,
		Meta:       dto.Meta,
		Weight:     dto.Weight,
		Enabled:    dto.Enabled,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.deps.Store.CreateCredential(r.Context(), rec); err != nil {
		writeAdminError(w, r, err)
		return
	}
	if !s.reload(w, r) {
		return
	}
	w.Header().Set("Location", "/admin/v1/credentials/"+strconv.FormatInt(rec.ID, 10))
	writeJSON(w, http.StatusCreated, credentialToDTO(rec))
}

func (s *server) handleGetCredential(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid id"))
		return
	}
	c, err := s.deps.Store.GetCredential(r.Context(), id)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, credentialToDTO(c))
}

func (s *server) handleUpdateCredential(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid id"))
		return
	}
	var dto credentialDTO
	if !decodeJSON(w, r, &dto) {
		return
	}
	providerID, err := s.resolveProviderID(r, dto)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	rec := &storage.CredentialRecord{
		ID:         id,
		ProviderID: providerID,
		Label:      dto.Label,
		SecretJSON: dto.Secret,
		Meta:       dto.Meta,
		Weight:     dto.Weight,
		Enabled:    dto.Enabled,
	}
	if err := s.deps.Store.UpdateCredential(r.Context(), rec); err != nil {
		writeAdminError(w, r, err)
		return
	}
	if !s.reload(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, credentialToDTO(rec))
}

func (s *server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid id"))
		return
	}
	if err := s.deps.Store.DeleteCredential(r.Context(), id); err != nil {
		writeAdminError(w, r, err)
		return
	}
	if !s.reload(w, r) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Disallow ---

type disallowDTO struct {
	CredentialID int64   `json:"credential_id"`
	Model        string  `json:"model,omitempty"` // empty means all-models scope
	Level        string  `json:"level"`
	Until        *string `json:"until,omitempty"` // RFC3339
	Reason       string  `json:"reason,omitempty"`
}

func levelFromString(s string) (gateway.DisallowLevel, bool) {
	switch s {
	case "cooldown":
		return gateway.Cooldown, true
	case "transient":
		return gateway.Transient, true
	case "dead":
		return gateway.Dead, true
	default:
		return 0, false
	}
}

func (d disallowDTO) scope() gateway.Scope {
	if d.Model == "" {
		return gateway.AllModels()
	}
	return gateway.ModelScope(d.Model)
}

func (s *server) handleListDisallows(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")
	entries, err := s.deps.Store.ListDisallows(r.Context(), providerID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("failed to list disallow marks"))
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Data: entries, Pagination: pagination{Limit: len(entries), Total: len(entries)}})
}

func (s *server) handleUpsertDisallow(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")
	var dto disallowDTO
	if !decodeJSON(w, r, &dto) {
		return
	}
	level, ok := levelFromString(dto.Level)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid level"))
		return
	}
	until, ok := parseExpiresAt(w, dto.Until)
	if !ok {
		return
	}
	entry := gateway.DisallowEntry{
		CredentialID: dto.CredentialID,
		Scope:        dto.scope(),
		Level:        level,
		Until:        until,
		Reason:       dto.Reason,
		UpdatedAt:    time.Now().UTC(),
	}
	if err := s.deps.Store.UpsertDisallow(r.Context(), providerID, entry); err != nil {
		writeAdminError(w, r, err)
		return
	}
	if !s.reload(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *server) handleClearDisallow(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")
	var dto disallowDTO
	if !decodeJSON(w, r, &dto) {
		return
	}
	if err := s.deps.Store.ClearDisallow(r.Context(), providerID, dto.CredentialID, dto.scope()); err != nil {
		writeAdminError(w, r, err)
		return
	}
	if !s.reload(w, r) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseExpiresAt parses an optional RFC3339 string pointer. Writes 400 and
// returns false on invalid format.
func parseExpiresAt(w http.ResponseWriter, raw *string) (*time.Time, bool) {
	if raw == nil {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, *raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid timestamp, use RFC3339"))
		return nil, false
	}
	return &t, true
}

// --- Keys ---
//
// No store method reads or writes the schema's "users" table: a user is
// identified by the
// (user_id, org_id, role) triple carried on each api_key row, so the admin
// "users" surface SPEC_FULL §6 names is served by this same CRUD rather
// than a distinct resource -- see DESIGN.md.

type keyCreateRequest struct {
	UserID string `json:"user_id"`
	OrgID  string `json:"org_id,omitempty"`
	Role   string `json:"role,omitempty"`
}

type keyCreateResponse struct {
	*gateway.APIKey
	PlaintextKey string `json:"key"`
}

func (s *server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	offset, limit := parsePagination(r)
	keys, err := s.deps.Store.ListKeys(r.Context(), offset, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("failed to list keys"))
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Data: keys, Pagination: pagination{Offset: offset, Limit: limit, Total: len(keys)}})
}

func (s *server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req keyCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Role != "" {
		if _, ok := gateway.RolePermissions[req.Role]; !ok {
			writeJSON(w, http.StatusBadRequest, errorResponse("invalid role"))
			return
		}
	}
	if s.deps.Keys == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse("key issuance unavailable"))
		return
	}
	plaintext, key, err := s.deps.Keys.CreateKey(r.Context(), req.UserID, req.OrgID, req.Role)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	if !s.authReload(w, r) {
		return
	}
	w.Header().Set("Location", "/admin/v1/keys/"+key.ID)
	writeJSON(w, http.StatusCreated, keyCreateResponse{APIKey: key, PlaintextKey: plaintext})
}

func (s *server) handleGetKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	key, err := s.deps.Store.GetKey(r.Context(), id)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

func (s *server) handleUpdateKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existing, err := s.deps.Store.GetKey(r.Context(), id)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}

	var update struct {
		Role    *string `json:"role,omitempty"`
		Enabled *bool   `json:"enabled,omitempty"`
	}
	if !decodeJSON(w, r, &update) {
		return
	}
	if update.Role != nil {
		if _, ok := gateway.RolePermissions[*update.Role]; !ok {
			writeJSON(w, http.StatusBadRequest, errorResponse("invalid role"))
			return
		}
		existing.Role = *update.Role
	}
	if update.Enabled != nil {
		existing.Enabled = *update.Enabled
	}

	if err := s.deps.Store.UpdateKey(r.Context(), existing); err != nil {
		writeAdminError(w, r, err)
		return
	}
	if !s.authReload(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (s *server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Store.DeleteKey(r.Context(), id); err != nil {
		writeAdminError(w, r, err)
		return
	}
	if !s.authReload(w, r) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Global config ---

func (s *server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.deps.Store.GetGlobalConfig(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("failed to load config"))
		return
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(http.StatusOK)
	w.Write(cfg)
}

// handlePutConfig replaces the global config row and triggers Reload, which
// per SPEC_FULL must re-validate the DSN, reconnect storage if it changed,
// re-emit the watch-channel bind if host/port changed, and rebuild pools --
// all of that lives behind the Reload hook wired by cmd/gproxy, not here.
func (s *server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	if !json.Valid(body) {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid JSON"))
		return
	}
	if err := s.deps.Store.PutGlobalConfig(r.Context(), body); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("failed to store config"))
		return
	}
	if !s.reload(w, r) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleAdminReload(w http.ResponseWriter, r *http.Request) {
	if !s.reload(w, r) {
		return
	}
	if !s.authReload(w, r) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Cache ---

func (s *server) handleCachePurge(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache != nil {
		s.deps.Cache.Purge(r.Context())
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Admin health/stats ---

// handleAdminHealth reports the provider registry's known names, distinct
// from the public /healthz liveness probe.
func (s *server) handleAdminHealth(w http.ResponseWriter, r *http.Request) {
	var providers []string
	if s.deps.Registry != nil {
		providers = s.deps.Registry.List()
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": providers})
}

// handleStats reports per-provider pool snapshot sizes. Deeper usage/cost
// rollups have no home in storage.Store yet -- see DESIGN.md's open
// question on a dedicated rollup store.
func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{}
	if s.deps.Registry != nil {
		for _, name := range s.deps.Registry.List() {
			h, err := s.deps.Registry.Get(name)
			if err != nil {
				continue
			}
			snap := h.Pool.Snapshot()
			stats[name] = map[string]int{"credentials": len(snap.Credentials)}
		}
	}
	writeJSON(w, http.StatusOK, stats)
}
