package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"bargain/internal/featureflag"
	"bargain/internal/pkg/logger"
	"bargain/internal/ratelimit"
	"bargain/internal/service/bargain/application"
	"bargain/internal/service/bargain/domain"
	"bargain/internal/service/bargain/domain/port"
)

const maxBodyBytes = 1 << 20

// BargainHandler 封装了议价服务的 HTTP 处理器
type BargainHandler struct {
	store *application.SessionStore
	flags *featureflag.Controller
}

// NewBargainHandler flags 为空时不注册管理接口
func NewBargainHandler(store *application.SessionStore, flags *featureflag.Controller) *BargainHandler {
	return &BargainHandler{store: store, flags: flags}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *BargainHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /bargain/start", h.handleStart)
	mux.HandleFunc("POST /bargain/round", h.handleRound)
	mux.HandleFunc("POST /bargain/select", h.handleSelect)
	mux.HandleFunc("POST /bargain/abandon", h.handleAbandon)
	mux.HandleFunc("GET /bargain/session/{id}", h.handleGetSession)
	mux.HandleFunc("GET /bargain/settings", h.handleSettings)
	if h.flags != nil {
		mux.HandleFunc("GET /admin/flags", h.handleGetFlags)
		mux.HandleFunc("PUT /admin/flags", h.handlePutFlags)
	}
}

type startBody struct {
	SessionID string         `json:"sessionId,omitempty"`
	Product   domain.Product `json:"product"`
	BasePrice float64        `json:"basePrice,omitempty"`
	UserType  string         `json:"userType,omitempty"`
	UserID    string         `json:"userId,omitempty"`
	PromoCode string         `json:"promoCode,omitempty"`
}

func (h *BargainHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)

	var body startBody
	if !decode(ctx, w, r, &body) {
		return
	}
	if body.Product.BasePrice == 0 {
		body.Product.BasePrice = body.BasePrice
	}

	resp, err := h.store.Start(ctx, callerFrom(r, body.UserID), application.StartRequest{
		SessionID: body.SessionID,
		Product:   body.Product,
		UserType:  body.UserType,
		PromoCode: body.PromoCode,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *BargainHandler) handleRound(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)

	var req application.RoundRequest
	if !decode(ctx, w, r, &req) {
		return
	}
	resp, err := h.store.SubmitRound(ctx, callerFrom(r, ""), req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *BargainHandler) handleSelect(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)

	var req application.SelectRequest
	if !decode(ctx, w, r, &req) {
		return
	}
	resp, err := h.store.Select(ctx, callerFrom(r, ""), req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *BargainHandler) handleAbandon(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)

	var req application.AbandonRequest
	if !decode(ctx, w, r, &req) {
		return
	}
	resp, err := h.store.Abandon(ctx, callerFrom(r, ""), req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *BargainHandler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)

	view, err := h.store.Get(ctx, r.PathValue("id"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *BargainHandler) handleSettings(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)

	q := r.URL.Query()
	st, err := h.store.GetSettings(ctx, port.SettingsQuery{
		Module:      q.Get("module"),
		CountryCode: q.Get("country_code"),
		City:        q.Get("city"),
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	w.Header().Set("Cache-Control", "max-age=300")
	writeJSON(w, http.StatusOK, st)
}

func (h *BargainHandler) handleGetFlags(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)
	writeJSON(w, http.StatusOK, h.flags.Snapshot(ctx))
}

func (h *BargainHandler) handlePutFlags(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)

	var patch featureflag.Patch
	if !decode(ctx, w, r, &patch) {
		return
	}
	actor := r.Header.Get("X-User-ID")
	if actor == "" {
		actor = "admin"
	}
	st, err := h.flags.Apply(ctx, patch, actor)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// extract 取出上游传播的 trace context，并把 trace_id 绑定到日志
func extract(r *http.Request) context.Context {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	return logger.WithTraceID(ctx)
}

// callerFrom 身份来自 X-User-ID 或请求体，未经校验
func callerFrom(r *http.Request, bodyUserID string) application.Caller {
	userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if userID == "" {
		userID = strings.TrimSpace(bodyUserID)
	}
	return application.Caller{IP: clientIP(r), UserID: userID}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func decode(ctx context.Context, w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		logger.Ctx(ctx).Debug().Err(err).Str("path", r.URL.Path).Msg("invalid request body")
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: "invalid request body"})
		return false
	}
	return true
}

type errorBody struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds *int   `json:"retryAfterSeconds,omitempty"`
}

// statusFor 根据错误类型返回不同的 HTTP 状态码
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ratelimit.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrSessionExpired):
		return http.StatusGone, "session_expired"
	case errors.Is(err, domain.ErrClosed):
		return http.StatusGone, "session_closed"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrNoApplicableMarkup):
		return http.StatusUnprocessableEntity, "no_applicable_markup"
	case errors.Is(err, domain.ErrBargainUnavailable):
		return http.StatusForbidden, "bargain_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	body := errorBody{Error: code, Message: err.Error()}

	var rl *ratelimit.Error
	if errors.As(err, &rl) {
		secs := int(math.Ceil(rl.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		body.RetryAfterSeconds = &secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	if status == http.StatusInternalServerError {
		logger.Ctx(ctx).Error().Err(err).Msg("request failed")
		body.Message = "internal error"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
