// Package http provides the HTTP transport adapter for the policy engine.
package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/identitygate/identitygate/internal/domain/abac"
	"github.com/identitygate/identitygate/internal/domain/credential"
	"github.com/identitygate/identitygate/internal/domain/identity"
	"github.com/identitygate/identitygate/internal/service"
)

// bodyValidator enforces struct-tag constraints (e.g. riskScore's [0,100]
// bound) on decoded ABAC request bodies (the evaluate and policies-debug
// handlers), beyond what JSON unmarshaling alone checks. SCIM request
// bodies are not run through it.
var bodyValidator = validator.New(validator.WithRequiredStructEnabled())

// validateBody runs bodyValidator against v and, on failure, writes a 400
// and reports false so the caller can return early.
func validateBody(w http.ResponseWriter, v any) bool {
	if err := bodyValidator.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, "request validation failed: "+err.Error())
		return false
	}
	return true
}

// maxRequestBodySize is the maximum allowed request body size (1 MB).
const maxRequestBodySize = 1 << 20

// adminGroup is the SCIM group whose members may reload policies.
const adminGroup = "ADMINS"

// correlationIDHeader carries the caller's tracing identifier through to
// the audit trail.
const correlationIDHeader = "X-Correlation-ID"

// errorBody is the uniform JSON error shape the handlers use outside the
// OAuth2-specific token endpoint, which has its own shape.
type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

// decodeJSONBody reads and decodes r's body into dst, enforcing the size
// cap and rejecting trailing garbage. Mirrors the request-validation shape
// used throughout the HTTP adapter: fail fast on malformed input before
// any downstream service call.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer func() { _ = r.Body.Close() }()

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("body must contain a single JSON object")
	}
	return nil
}

// tokenHandlerRequest is the wire shape of POST /auth/token: an
// application/x-www-form-urlencoded or JSON body, either is accepted since
// spec.md §6 doesn't pin one down and both are common for this grant shape.
type tokenHandlerRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	Scope        string `json:"scope"`
}

type oauthErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func writeOAuthError(w http.ResponseWriter, status int, errCode, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(oauthErrorBody{Error: errCode, ErrorDescription: description})
}

// handleToken issues a bearer token for the client_credentials or password
// grant. It is excluded from the Gatekeeper filter and rate-limited
// separately by the transport layer.
func handleToken(authService *service.AuthService, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}

		var req tokenHandlerRequest
		if err := parseTokenRequest(w, r, &req); err != nil {
			writeOAuthError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		if req.GrantType == "" {
			writeOAuthError(w, http.StatusBadRequest, "invalid_request", "grant_type is required")
			return
		}

		resp, err := authService.AuthenticateAndIssue(r.Context(), service.TokenRequest{
			GrantType:    service.GrantType(req.GrantType),
			ClientID:     req.ClientID,
			ClientSecret: req.ClientSecret,
			Username:     req.Username,
			Password:     req.Password,
			Scope:        req.Scope,
		})
		if err != nil {
			switch {
			case errors.Is(err, service.ErrUnsupportedGrantType):
				writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", err.Error())
			case errors.Is(err, credential.ErrInvalidCredentials):
				writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "invalid credentials")
			case errors.Is(err, service.ErrUserInactive):
				writeOAuthError(w, http.StatusUnauthorized, "invalid_grant", "user is inactive")
			default:
				writeOAuthError(w, http.StatusInternalServerError, "server_error", "token issuance failed")
			}
			return
		}

		if metrics != nil {
			metrics.RecordTokenIssued(req.GrantType)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// parseTokenRequest accepts either a JSON body or a form-encoded body,
// since OAuth2 token endpoints conventionally take the latter but a JSON
// body is a reasonable convenience for a service-to-service caller.
func parseTokenRequest(w http.ResponseWriter, r *http.Request, dst *tokenHandlerRequest) error {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := r.ParseForm(); err != nil {
			return err
		}
		dst.GrantType = r.PostForm.Get("grant_type")
		dst.ClientID = r.PostForm.Get("client_id")
		dst.ClientSecret = r.PostForm.Get("client_secret")
		dst.Username = r.PostForm.Get("username")
		dst.Password = r.PostForm.Get("password")
		dst.Scope = r.PostForm.Get("scope")
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		return err
	}
	defer func() { _ = r.Body.Close() }()
	if len(body) == 0 {
		return errors.New("empty request body")
	}
	return json.Unmarshal(body, dst)
}

// handleMe returns the decoded claims for the caller's bearer token.
func handleMe(w http.ResponseWriter, r *http.Request, claims service.Claims) {
	writeJSON(w, http.StatusOK, claims)
}

// handleEvaluate runs a single ABAC evaluation and always returns 200, since
// the decision itself (Permit/Deny/Challenge) is carried in the response
// body, never in the status code.
func handleEvaluate(authz *service.AuthorizationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}

		var req abac.Request
		if err := decodeJSONBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
			return
		}
		if !validateBody(w, &req) {
			return
		}

		correlationID := r.Header.Get(correlationIDHeader)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		resp := authz.Evaluate(r.Context(), req, correlationID)
		w.Header().Set(correlationIDHeader, correlationID)
		writeJSON(w, http.StatusOK, resp)
	}
}

// handlePoliciesReload reloads the policy file from disk. Restricted to
// callers whose claims carry the ADMINS group.
func handlePoliciesReload(authz *service.AuthorizationService) func(w http.ResponseWriter, r *http.Request, claims service.Claims) {
	return func(w http.ResponseWriter, r *http.Request, claims service.Claims) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		if !hasGroup(claims.Groups, adminGroup) {
			writeError(w, http.StatusForbidden, "admin group membership required")
			return
		}

		result := authz.ReloadPolicies(r.Context())
		status := http.StatusOK
		if !result.Valid {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, result)
	}
}

func hasGroup(groups []string, want string) bool {
	for _, g := range groups {
		if g == want {
			return true
		}
	}
	return false
}

// handlePoliciesDebug returns the applicability breakdown for a candidate
// request: each policy's conditions are evaluated, but no decision is
// resolved and nothing is cached or audited. Useful for policy
// authoring/debugging.
func handlePoliciesDebug(authz *service.AuthorizationService) func(w http.ResponseWriter, r *http.Request, claims *service.Claims) {
	return func(w http.ResponseWriter, r *http.Request, _ *service.Claims) {
		var req abac.Request
		if r.Method == http.MethodPost {
			if err := decodeJSONBody(w, r, &req); err != nil {
				writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
				return
			}
			if !validateBody(w, &req) {
				return
			}
		}

		report := authz.GetApplicablePolicies(r.Context(), req)
		writeJSON(w, http.StatusOK, report)
	}
}

// handleMetrics reports the authorization service's observability snapshot
// and mirrors it into the Prometheus gauges before responding.
func handleMetrics(authz *service.AuthorizationService, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := authz.Metrics(r.Context())
		if metrics != nil {
			metrics.SyncFromServiceMetrics(snapshot)
		}
		writeJSON(w, http.StatusOK, snapshot)
	}
}

// scimUserBody is the wire shape for SCIM user create/read operations.
// It is a deliberately narrowed view of the full SCIM 2.0 user schema, per
// spec.md's Non-goal excluding full enterprise-extension SCIM support.
type scimUserBody struct {
	ID          string   `json:"id,omitempty"`
	UserName    string   `json:"userName"`
	Active      bool     `json:"active"`
	DisplayName string   `json:"displayName,omitempty"`
	Dept        string   `json:"dept,omitempty"`
	Groups      []string `json:"groups,omitempty"`
}

func userToBody(u identity.User) scimUserBody {
	return scimUserBody{
		ID:          u.ID,
		UserName:    u.UserName,
		Active:      u.Active,
		DisplayName: u.DisplayName,
		Dept:        u.Dept,
		Groups:      u.Groups,
	}
}

// handleSCIMUsers dispatches GET (list, with an optional exact-match
// userName filter per ListUsers' narrowed support) and POST (create).
func handleSCIMUsers(store identity.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			filter, err := parseUserNameFilter(r.URL.Query().Get("filter"))
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			users, err := store.ListUsers(r.Context(), filter)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to list users")
				return
			}
			bodies := make([]scimUserBody, 0, len(users))
			for _, u := range users {
				bodies = append(bodies, userToBody(u))
			}
			writeJSON(w, http.StatusOK, bodies)
		case http.MethodPost:
			var body scimUserBody
			if err := decodeJSONBody(w, r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
				return
			}
			if body.UserName == "" {
				writeError(w, http.StatusBadRequest, "userName is required")
				return
			}
			body.ID = uuid.New().String()
			created, err := store.CreateUser(r.Context(), identity.User{
				ID:          body.ID,
				UserName:    body.UserName,
				Active:      body.Active,
				DisplayName: body.DisplayName,
				Dept:        body.Dept,
				Groups:      body.Groups,
			})
			if err != nil {
				if errors.Is(err, identity.ErrAlreadyExists) {
					writeError(w, http.StatusConflict, "userName already exists")
					return
				}
				writeError(w, http.StatusInternalServerError, "failed to create user")
				return
			}
			writeJSON(w, http.StatusCreated, userToBody(created))
		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		}
	}
}

// parseUserNameFilter recognizes only the single SCIM filter expression
// this store can push down: `userName eq "value"`. Anything richer is a
// 400, per the narrowed SCIM surface.
func parseUserNameFilter(filter string) (string, error) {
	if filter == "" {
		return "", nil
	}
	const prefix = "userName eq "
	if !strings.HasPrefix(filter, prefix) {
		return "", errors.New("unsupported filter expression")
	}
	value := strings.TrimPrefix(filter, prefix)
	value = strings.Trim(value, `"`)
	if value == "" {
		return "", errors.New("unsupported filter expression")
	}
	return value, nil
}

// handleSCIMUserByID handles GET /scim/v2/Users/{id}.
func handleSCIMUserByID(store identity.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		id := r.PathValue("id")
		u, err := store.GetUser(r.Context(), id)
		if err != nil {
			if errors.Is(err, identity.ErrNotFound) {
				writeError(w, http.StatusNotFound, "user not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to fetch user")
			return
		}
		writeJSON(w, http.StatusOK, userToBody(u))
	}
}

// scimGroupBody is the wire shape for SCIM group create/list operations.
type scimGroupBody struct {
	ID          string   `json:"id,omitempty"`
	DisplayName string   `json:"displayName"`
	Members     []string `json:"members,omitempty"`
}

func groupToBody(g identity.Group) scimGroupBody {
	return scimGroupBody{ID: g.ID, DisplayName: g.DisplayName, Members: g.Members}
}

// handleSCIMGroups dispatches GET (list) and POST (create).
func handleSCIMGroups(store identity.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			groups, err := store.ListGroups(r.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to list groups")
				return
			}
			bodies := make([]scimGroupBody, 0, len(groups))
			for _, g := range groups {
				bodies = append(bodies, groupToBody(g))
			}
			writeJSON(w, http.StatusOK, bodies)
		case http.MethodPost:
			var body scimGroupBody
			if err := decodeJSONBody(w, r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
				return
			}
			if body.DisplayName == "" {
				writeError(w, http.StatusBadRequest, "displayName is required")
				return
			}
			body.ID = uuid.New().String()
			created, err := store.CreateGroup(r.Context(), identity.Group{
				ID:          body.ID,
				DisplayName: body.DisplayName,
				Members:     body.Members,
			})
			if err != nil {
				if errors.Is(err, identity.ErrAlreadyExists) {
					writeError(w, http.StatusConflict, "displayName already exists")
					return
				}
				writeError(w, http.StatusInternalServerError, "failed to create group")
				return
			}
			writeJSON(w, http.StatusCreated, groupToBody(created))
		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		}
	}
}
