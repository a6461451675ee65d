package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	gocmd "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-taskhooks/command"
	"github.com/goliatone/go-taskhooks/core"
	"github.com/goliatone/go-taskhooks/ingest"
	"github.com/goliatone/go-taskhooks/query"
	"github.com/goliatone/go-taskhooks/todoist"
	"github.com/goliatone/go-taskhooks/webhooks"
)

const maxHookBodyBytes = 1 << 20

// OAuthExchanger is the authorization-code exchange the callback route needs.
type OAuthExchanger interface {
	ExchangeOAuthCode(
		ctx context.Context,
		code string,
		clientID string,
		clientSecret string,
		redirectURI string,
	) (todoist.OAuthToken, error)
}

// Server is the HTTP surface: the webhook intake, a liveness probe, the
// token-gated admin API, and the OAuth callback.
type Server struct {
	cfg        core.ServerConfig
	todoistCfg core.TodoistConfig

	process  *command.ProcessDeliveryCommand
	list     *query.ListLedgerEntriesQuery
	get      *query.GetLedgerEntryQuery
	outcomes *query.ListActionOutcomesQuery
	oauth    OAuthExchanger
	admin    core.Verifier
	logger   core.Logger
}

type Option func(*Server)

func WithLogger(logger core.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithOAuthExchanger(exchanger OAuthExchanger) Option {
	return func(s *Server) { s.oauth = exchanger }
}

func New(
	cfg core.ServerConfig,
	todoistCfg core.TodoistConfig,
	process *command.ProcessDeliveryCommand,
	list *query.ListLedgerEntriesQuery,
	get *query.GetLedgerEntryQuery,
	outcomes *query.ListActionOutcomesQuery,
	opts ...Option,
) (*Server, error) {
	if process == nil {
		return nil, fmt.Errorf("server: process command is required")
	}
	if list == nil || get == nil || outcomes == nil {
		return nil, fmt.Errorf("server: ledger queries are required")
	}
	server := &Server{
		cfg:        cfg,
		todoistCfg: todoistCfg,
		process:    process,
		list:       list,
		get:        get,
		outcomes:   outcomes,
		admin: webhooks.HeaderTokenVerifier{
			Header: "Authorization",
			Prefix: "Bearer",
			Token:  cfg.AdminToken,
		},
		logger: glog.Nop(),
	}
	for _, opt := range opts {
		opt(server)
	}
	return server, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /hooks/todoist", s.handleHook)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/events", s.withAdmin(s.handleListEvents))
	mux.HandleFunc("GET /api/events/{deliveryID}", s.withAdmin(s.handleGetEvent))
	mux.HandleFunc("GET /oauth/callback", s.handleOAuthCallback)
	return mux
}

// Start serves until the context ends, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	s.logger.Info("http server listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxHookBodyBytes))
	if err != nil {
		s.writeError(w, core.BadInput("server: read request body", nil))
		return
	}

	msg := command.ProcessDeliveryMessage{Request: inboundRequest(r, body)}
	if err := msg.Validate(); err != nil {
		s.writeError(w, core.BadInput(err.Error(), nil))
		return
	}

	collector := gocmd.NewResult[ingest.Result]()
	ctx := gocmd.ContextWithResult(r.Context(), collector)
	if err := s.process.Execute(ctx, msg); err != nil {
		s.writeError(w, err)
		return
	}

	result, ok := collector.Load()
	if !ok {
		s.writeError(w, core.Internal(nil, "server: delivery result was not stored"))
		return
	}
	s.writeJSON(w, http.StatusOK, deliveryResponse(result))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) withAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := core.InboundRequest{Headers: flattenHeaders(r.Header)}
		if err := s.admin.Verify(r.Context(), req); err != nil {
			s.writeError(w, err)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	msg := query.ListLedgerEntriesMessage{Filter: core.LedgerFilter{
		Status:    core.EntryStatus(strings.TrimSpace(params.Get("status"))),
		EventName: strings.TrimSpace(params.Get("event_name")),
		UserID:    strings.TrimSpace(params.Get("user_id")),
		ProjectID: strings.TrimSpace(params.Get("project_id")),
		Page:      intParam(params.Get("page")),
		PerPage:   intParam(params.Get("per_page")),
	}}
	if err := msg.Validate(); err != nil {
		s.writeError(w, core.BadInput(err.Error(), nil))
		return
	}

	page, err := s.list.Query(r.Context(), msg)
	if err != nil {
		s.writeError(w, err)
		return
	}
	items := make([]map[string]any, 0, len(page.Items))
	for _, entry := range page.Items {
		items = append(items, entryPayload(entry))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"items":    items,
		"page":     page.Page,
		"per_page": page.PerPage,
		"total":    page.Total,
		"has_next": page.HasNext,
	})
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	deliveryID := r.PathValue("deliveryID")
	msg := query.GetLedgerEntryMessage{DeliveryID: deliveryID}
	if err := msg.Validate(); err != nil {
		s.writeError(w, core.BadInput(err.Error(), nil))
		return
	}

	entry, err := s.get.Query(r.Context(), msg)
	if err != nil {
		s.writeError(w, err)
		return
	}
	outcomes, err := s.outcomes.Query(r.Context(), query.ListActionOutcomesMessage{DeliveryID: deliveryID})
	if err != nil {
		s.writeError(w, err)
		return
	}

	payload := entryPayload(entry)
	actions := make([]map[string]any, 0, len(outcomes))
	for _, outcome := range outcomes {
		actions = append(actions, map[string]any{
			"rule_id":     outcome.RuleID,
			"action_type": outcome.ActionType,
			"target_type": outcome.TargetType,
			"target_id":   outcome.TargetID,
			"result":      outcome.Result,
			"metadata":    outcome.Metadata,
		})
	}
	payload["actions"] = actions
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	clientID := strings.TrimSpace(s.todoistCfg.ClientID)
	if clientID == "" || s.oauth == nil {
		s.writeError(w, core.Internal(nil, "server: oauth exchange is not configured"))
		return
	}
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		s.writeError(w, core.BadInput("server: code query parameter is required", nil))
		return
	}

	token, err := s.oauth.ExchangeOAuthCode(
		r.Context(),
		code,
		clientID,
		s.todoistCfg.ClientSecret,
		s.todoistCfg.OAuthRedirectURI,
	)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("oauth code exchanged", "token_type", token.TokenType, "scope", token.Scope)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"token_type": token.TokenType,
		"scope":      token.Scope,
	})
}

func deliveryResponse(result ingest.Result) map[string]any {
	payload := map[string]any{
		"delivery_id": result.Entry.DeliveryID,
		"status":      string(result.Entry.Status),
		"duplicate":   result.Duplicate,
	}
	if result.Entry.RuleID != "" {
		payload["rule_id"] = result.Entry.RuleID
	}
	if result.Simulated {
		payload["simulated"] = true
	}
	return payload
}

func entryPayload(entry core.LedgerEntry) map[string]any {
	return map[string]any{
		"delivery_id":    entry.DeliveryID,
		"event_name":     entry.EventName,
		"user_id":        entry.UserID,
		"project_id":     entry.ProjectID,
		"task_id":        entry.TaskID,
		"signature_ok":   entry.SignatureOK,
		"payload_sha256": entry.PayloadSHA256,
		"status":         string(entry.Status),
		"rule_id":        entry.RuleID,
		"error_detail":   entry.ErrorDetail,
		"summary":        entry.Summary,
		"attempts":       entry.Attempts,
		"received_at":    entry.ReceivedAt,
		"updated_at":     entry.UpdatedAt,
	}
}

func inboundRequest(r *http.Request, body []byte) core.InboundRequest {
	return core.InboundRequest{
		Headers: flattenHeaders(r.Header),
		Body:    body,
	}
}

func flattenHeaders(headers http.Header) map[string]string {
	flattened := make(map[string]string, len(headers))
	for key, values := range headers {
		if len(values) > 0 {
			flattened[key] = values[0]
		}
	}
	return flattened
}

func intParam(value string) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return parsed
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := core.HTTPStatus(err)
	payload := map[string]any{"message": err.Error()}
	var rich *goerrors.Error
	if errors.As(err, &rich) {
		payload["message"] = rich.Message
		if rich.TextCode != "" {
			payload["code"] = rich.TextCode
		}
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	s.writeJSON(w, status, map[string]any{"error": payload})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response failed", "error", err)
	}
}
