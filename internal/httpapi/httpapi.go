package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"outletcash/backend/internal/config"
	"outletcash/backend/internal/domain"
	"outletcash/backend/internal/metrics"
	"outletcash/backend/internal/service"
	"outletcash/backend/internal/snapshot"
	"outletcash/backend/internal/store"
	"outletcash/backend/internal/timeutil"
)

var (
	staffRoles   = []string{domain.RoleAttendant, domain.RoleAssistant, domain.RoleSupervisor, domain.RoleAdmin}
	managerRoles = []string{domain.RoleSupervisor, domain.RoleAdmin}
	anyRole      = []string{domain.RoleAttendant, domain.RoleAssistant, domain.RoleSupplier, domain.RoleSupervisor, domain.RoleAdmin}
)

type Options struct {
	AllowedOrigin string
	Capabilities  config.Capabilities
	Location      *time.Location
	Logger        *zap.Logger
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	caps          config.Capabilities
	loc           *time.Location
	logger        *zap.Logger
	loginLimiter  *attemptLimiter
	csrfSecret    []byte
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := opts.Location
	if loc == nil {
		loc = timeutil.LoadLocation("")
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: opts.AllowedOrigin,
		caps:          opts.Capabilities,
		loc:           loc,
		logger:        logger.Named("http"),
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (expressed as Unix time truncated to the hour). The token is hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	return a.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Unix())
}

// validateCSRFToken accepts the current and the previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	current := time.Now().UTC().Truncate(time.Hour).Unix()
	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current-3600)))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(a.metricsMiddleware, a.withMiddleware)

	r.HandleFunc("/healthz", a.handleHealth).Methods(http.MethodGet)
	r.Handle("/prometheus", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/metrics", a.requireAuth(a.handleMetrics, staffRoles...)).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/auth/login", a.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/auth/csrf-token", a.handleCSRFToken).Methods(http.MethodGet)

	api.HandleFunc("/deposits", a.requireAuth(a.handleAddDeposit, staffRoles...)).Methods(http.MethodPost)
	api.HandleFunc("/deposits", a.requireAuth(a.handleListDeposits, staffRoles...)).Methods(http.MethodGet)
	api.HandleFunc("/deposits/{id}/status", a.requireAuth(a.handleDepositStatus, managerRoles...)).Methods(http.MethodPatch)

	api.HandleFunc("/closings", a.requireAuth(a.handleClosings, domain.RoleAttendant, domain.RoleSupervisor, domain.RoleAdmin)).Methods(http.MethodPost)
	api.HandleFunc("/supply", a.requireAuth(a.handleSupply, domain.RoleSupplier, domain.RoleSupervisor, domain.RoleAdmin)).Methods(http.MethodPost)
	api.HandleFunc("/expenses", a.requireAuth(a.handleExpenses, staffRoles...)).Methods(http.MethodPost)
	api.HandleFunc("/till-payments", a.requireAuth(a.handleTillPayments, managerRoles...)).Methods(http.MethodPost)

	api.HandleFunc("/snapshots/{date}/{outlet}/{closeIndex:[0-9]+}", a.requireAuth(a.handleSnapshot, staffRoles...)).Methods(http.MethodGet)
	api.HandleFunc("/periods/{outlet}/state", a.requireAuth(a.handlePeriodState, anyRole...)).Methods(http.MethodGet)
	api.HandleFunc("/periods/{outlet}/recompute", a.requireAuth(a.handleRecompute, managerRoles...)).Methods(http.MethodPost)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{a.allowedOrigin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	return a.recoverPanics(c.Handler(r))
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			a.writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			a.writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		a.writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		var ambiguous *store.AmbiguousCodeError
		if errors.As(err, &ambiguous) {
			a.writeError(w, http.StatusConflict, err)
			return
		}
		a.writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless CSRF token valid for the current hour
// bucket. Mutating requests carry it in X-CSRF-Token.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	method := r.Method
	if method != http.MethodPost && method != http.MethodPut && method != http.MethodPatch {
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		a.writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	date := strings.TrimSpace(query.Get("date"))
	if date == "" {
		date = timeutil.DateOf(time.Now(), a.loc)
	}
	resp, err := a.service.Metrics(r.Context(), domain.MetricsQuery{
		Outlet:    query.Get("outlet"),
		Attendant: query.Get("attendant"),
		Date:      date,
		View:      strings.ToLower(strings.TrimSpace(query.Get("period"))),
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleAddDeposit(w http.ResponseWriter, r *http.Request) {
	var req domain.DepositRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := a.service.AddDeposit(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func (a *API) handleListDeposits(w http.ResponseWriter, r *http.Request) {
	deposits, err := a.service.ListDeposits(r.Context(), r.URL.Query().Get("outlet"), r.URL.Query().Get("date"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deposits": deposits})
}

func (a *API) handleDepositStatus(w http.ResponseWriter, r *http.Request) {
	var req domain.DepositStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	dep, err := a.service.SetDepositStatus(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deposit": dep})
}

func (a *API) handleClosings(w http.ResponseWriter, r *http.Request) {
	var sub domain.ClosingSubmission
	if err := decodeJSON(r, &sub); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := a.service.SubmitClosings(r.Context(), sub)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleSupply(w http.ResponseWriter, r *http.Request) {
	var req domain.SupplyRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	rows, err := a.service.AddSupply(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"rows": rows})
}

func (a *API) handleExpenses(w http.ResponseWriter, r *http.Request) {
	var req domain.ExpenseRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	expense, err := a.service.AddExpense(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"expense": expense})
}

func (a *API) handleTillPayments(w http.ResponseWriter, r *http.Request) {
	var req domain.TillPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	payment, err := a.service.RecordTillPayment(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"payment": payment})
}

func (a *API) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	closeIndex, err := strconv.Atoi(vars["closeIndex"])
	if err != nil {
		a.writeError(w, http.StatusBadRequest, errors.New("invalid close index"))
		return
	}
	rec, err := a.service.GetSnapshot(r.Context(), vars["date"], vars["outlet"], closeIndex)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshot": rec})
}

func (a *API) handlePeriodState(w http.ResponseWriter, r *http.Request) {
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date == "" {
		date = timeutil.DateOf(time.Now(), a.loc)
	}
	status, err := a.service.PeriodState(r.Context(), mux.Vars(r)["outlet"], date)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *API) handleRecompute(w http.ResponseWriter, r *http.Request) {
	result, err := a.service.Recompute(r.Context(), mux.Vars(r)["outlet"], r.URL.Query().Get("date"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// withMiddleware applies security headers, the body limit, CSRF and the
// schema capabilities every store call reads from the context.
func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}
		if !a.checkCSRF(w, r) {
			return
		}

		next.ServeHTTP(w, r.WithContext(config.WithCapabilities(r.Context(), a.caps)))
	})
}

// recoverPanics turns a panicking handler into a generic 500 so one bad
// request cannot take the process down.
func (a *API) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				a.logger.Error("panic recovered",
					zap.Any("panic", rec), zap.String("method", r.Method), zap.String("path", r.URL.Path),
					zap.ByteString("stack", debug.Stack()))
				writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (a *API) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		elapsed := time.Since(start)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
		a.logger.Debug("request",
			zap.String("method", r.Method), zap.String("route", route),
			zap.Int("status", wrapped.statusCode), zap.Duration("elapsed", elapsed))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var ambiguous *store.AmbiguousCodeError
	switch {
	case errors.As(err, &ambiguous):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, snapshot.ErrSchema):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	a.writeError(w, statusFor(err), err)
}

func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; the cause goes to the log.
	msg := err.Error()
	if status >= 500 {
		a.logger.Error("internal error", zap.Int("status", status), zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
