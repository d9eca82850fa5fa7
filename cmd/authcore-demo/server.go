package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/metrics/export/prometheus"
	"github.com/MrEthical07/authcore/middleware"
	"github.com/MrEthical07/authcore/session"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type server struct {
	engine *authcore.Engine
	logger *zap.Logger
}

// routes wires the JSON API. Every route runs behind the CSRF check, so
// clients fetch GET /csrf first and echo the token in X-CSRF-Token.
func (s *server) routes(adminRole string) http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.Use(middleware.CSRF(s.engine))

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", prometheus.NewExporter(s.engine).Handler()).Methods(http.MethodGet)
	r.HandleFunc("/csrf", s.handleCSRF).Methods(http.MethodGet)

	auth := r.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	auth.HandleFunc("/verify", s.handleVerifyEmail).Methods(http.MethodPost)
	auth.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	auth.HandleFunc("/mfa", s.handleMFA).Methods(http.MethodPost)
	auth.HandleFunc("/password/forgot", s.handleForgotPassword).Methods(http.MethodPost)
	auth.HandleFunc("/password/reset", s.handleResetPassword).Methods(http.MethodPost)

	account := r.PathPrefix("/account").Subrouter()
	account.Use(middleware.Guard(s.engine, nil))
	account.HandleFunc("/me", s.handleMe).Methods(http.MethodGet)
	account.HandleFunc("/me", s.handleDeleteAccount).Methods(http.MethodDelete)
	account.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	account.HandleFunc("/logout-all", s.handleLogoutAll).Methods(http.MethodPost)
	account.HandleFunc("/verify/resend", s.handleResendVerification).Methods(http.MethodPost)
	account.HandleFunc("/password", s.handleChangePassword).Methods(http.MethodPost)
	account.HandleFunc("/mfa/setup", s.handleMFASetup).Methods(http.MethodPost)
	account.HandleFunc("/mfa/confirm", s.handleMFAConfirm).Methods(http.MethodPost)
	account.HandleFunc("/mfa/disable", s.handleMFADisable).Methods(http.MethodPost)
	account.HandleFunc("/backup-codes", s.handleBackupCodes).Methods(http.MethodGet)
	account.HandleFunc("/backup-codes", s.handleRegenerateBackupCodes).Methods(http.MethodPost)
	account.HandleFunc("/security-logs", s.handleSecurityLogs).Methods(http.MethodGet)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.Guard(s.engine, nil), middleware.RequireRole(s.engine, adminRole))
	admin.HandleFunc("/security-report", s.handleSecurityReport).Methods(http.MethodGet)

	return r
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

/*
====================================
PUBLIC
====================================
*/

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.engine.Health(r.Context())
	status := http.StatusOK
	if !h.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (s *server) handleCSRF(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"csrf_token": middleware.CSRFTokenFromContext(r.Context())})
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		FullName string `json:"full_name"`
	}
	if !decode(w, r, &body) {
		return
	}
	user, err := s.engine.Register(r.Context(), authcore.RegisterRequest{
		Email:    body.Email,
		Password: body.Password,
		FullName: body.FullName,
	}, authcore.DeviceFromRequest(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if !decode(w, r, &body) {
		return
	}
	user, err := s.engine.VerifyEmail(r.Context(), body.Token, authcore.DeviceFromRequest(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decode(w, r, &body) {
		return
	}
	sess := s.session(r)
	res, err := s.engine.Login(r.Context(), sess, body.Email, body.Password, authcore.DeviceFromRequest(r))
	if !s.save(w, sess) {
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	if res.MFARequired {
		writeJSON(w, http.StatusAccepted, map[string]bool{"mfa_required": true})
		return
	}
	writeJSON(w, http.StatusOK, res.User)
}

func (s *server) handleMFA(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if !decode(w, r, &body) {
		return
	}
	sess := s.session(r)
	res, err := s.engine.CompleteMFALogin(r.Context(), sess, body.Code, authcore.DeviceFromRequest(r))
	if !s.save(w, sess) {
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":             res.User,
		"used_backup_code": res.UsedBackupCode,
		"backup_codes":     res.BackupCodes,
	})
}

func (s *server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if !decode(w, r, &body) {
		return
	}
	if err := s.engine.RequestPasswordReset(r.Context(), body.Email, authcore.DeviceFromRequest(r)); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if !decode(w, r, &body) {
		return
	}
	if err := s.engine.ResetPassword(r.Context(), body.Token, body.NewPassword, authcore.DeviceFromRequest(r)); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/*
====================================
ACCOUNT (guarded)
====================================
*/

func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, user)
}

func (s *server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CurrentPassword string `json:"current_password"`
	}
	if !decode(w, r, &body) {
		return
	}
	user, _ := middleware.UserFromContext(r.Context())
	sess := s.session(r)
	err := s.engine.DeleteAccount(r.Context(), sess, user.ID, body.CurrentPassword, authcore.DeviceFromRequest(r))
	if !s.save(w, sess) {
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	err := s.engine.Logout(r.Context(), sess, authcore.DeviceFromRequest(r))
	if !s.save(w, sess) {
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFromContext(r.Context())
	sess := s.session(r)
	err := s.engine.LogoutAll(r.Context(), sess, user.ID, authcore.DeviceFromRequest(r))
	if !s.save(w, sess) {
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFromContext(r.Context())
	if err := s.engine.RequestEmailVerification(r.Context(), user.ID, authcore.DeviceFromRequest(r)); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if !decode(w, r, &body) {
		return
	}
	user, _ := middleware.UserFromContext(r.Context())
	sess := s.session(r)
	_, err := s.engine.ChangePassword(r.Context(), sess, user.ID, body.CurrentPassword, body.NewPassword, authcore.DeviceFromRequest(r))
	if !s.save(w, sess) {
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleMFASetup(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFromContext(r.Context())
	sess := s.session(r)
	setup, err := s.engine.BeginMFASetup(r.Context(), sess, user.ID, authcore.DeviceFromRequest(r))
	if !s.save(w, sess) {
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"secret": setup.Secret, "uri": setup.URI})
}

func (s *server) handleMFAConfirm(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if !decode(w, r, &body) {
		return
	}
	user, _ := middleware.UserFromContext(r.Context())
	sess := s.session(r)
	conf, err := s.engine.ConfirmMFASetup(r.Context(), sess, user.ID, body.Code, authcore.DeviceFromRequest(r))
	if !s.save(w, sess) {
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"backup_codes": conf.BackupCodes})
}

func (s *server) handleMFADisable(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CurrentPassword string `json:"current_password"`
	}
	if !decode(w, r, &body) {
		return
	}
	user, _ := middleware.UserFromContext(r.Context())
	sess := s.session(r)
	_, err := s.engine.DisableMFA(r.Context(), sess, user.ID, body.CurrentPassword, authcore.DeviceFromRequest(r))
	if !s.save(w, sess) {
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleBackupCodes(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFromContext(r.Context())
	stats, err := s.engine.BackupCodeStats(r.Context(), user.ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *server) handleRegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CurrentPassword string `json:"current_password"`
	}
	if !decode(w, r, &body) {
		return
	}
	user, _ := middleware.UserFromContext(r.Context())
	codes, err := s.engine.RegenerateBackupCodes(r.Context(), user.ID, body.CurrentPassword, authcore.DeviceFromRequest(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"backup_codes": codes})
}

func (s *server) handleSecurityLogs(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFromContext(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	logs, err := s.engine.SecurityLogs(r.Context(), user.ID, limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *server) handleSecurityReport(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.SecurityReport())
}

/*
====================================
HELPERS
====================================
*/

func (s *server) session(r *http.Request) *session.Session {
	if sess, ok := middleware.SessionFromContext(r.Context()); ok {
		return sess
	}
	return s.engine.LoadSession(r)
}

func (s *server) save(w http.ResponseWriter, sess *session.Session) bool {
	if err := s.engine.SaveSession(w, sess); err != nil {
		s.logger.Error("save session", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return false
	}
	return true
}

// fail maps engine errors to status codes. Messages stay generic for
// credential and token failures.
func (s *server) fail(w http.ResponseWriter, err error) {
	var (
		validation *authcore.ValidationError
		limited    *authcore.RateLimitError
		locked     *authcore.LockedError
	)
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"field": validation.Field, "error": validation.Message})
	case errors.As(err, &limited):
		w.Header().Set("Retry-After", strconv.Itoa(int(limited.RetryAfter.Seconds())+1))
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many attempts"})
	case errors.As(err, &locked):
		writeJSON(w, http.StatusLocked, map[string]string{"error": "account locked", "until": locked.Until.UTC().Format(time.RFC3339)})
	case errors.Is(err, authcore.ErrEmailNotVerified):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "email not verified"})
	case errors.Is(err, authcore.ErrInvalidCredentials),
		errors.Is(err, authcore.ErrReauthRequired),
		errors.Is(err, authcore.ErrMFARequired),
		errors.Is(err, authcore.ErrRefreshReuse):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	case errors.Is(err, authcore.ErrInvalidToken):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid or expired token"})
	case errors.Is(err, authcore.ErrMFANotPending),
		errors.Is(err, authcore.ErrMFAAlreadyEnabled),
		errors.Is(err, authcore.ErrMFANotEnabled),
		errors.Is(err, authcore.ErrMFASetupNotStarted),
		errors.Is(err, authcore.ErrEmailAlreadyVerified):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, authcore.ErrUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "service unavailable"})
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
