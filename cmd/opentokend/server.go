package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/opentoken"
	"github.com/MrEthical07/opentoken/middleware"
)

const maxJSONBody = 64 << 10

type server struct {
	engine *opentoken.Engine
	logger *slog.Logger
}

// routes mounts the JSON API. Routes under "signed" require a request
// signature made with a session secret.
func (s *server) routes(mux *http.ServeMux) {
	signed := middleware.RequireSignature(s.engine)
	optional := middleware.OptionalSignature(s.engine)

	mux.HandleFunc("POST /v1/registrations", s.register)
	mux.HandleFunc("POST /v1/registrations/{regID}/secure", s.secure)
	mux.HandleFunc("POST /v1/registrations/{regID}/resend", s.resend)
	mux.HandleFunc("POST /v1/registrations/{regID}/confirm", s.confirm)
	mux.HandleFunc("GET /v1/confirm", s.confirmLink)

	mux.HandleFunc("GET /v1/accounts/{accountID}/login", s.loginHashConfig)
	mux.HandleFunc("POST /v1/accounts/{accountID}/login", s.login)

	mux.Handle("POST /v1/logout", signed(http.HandlerFunc(s.logout)))
	mux.Handle("POST /v1/mfa/rotate", signed(http.HandlerFunc(s.rotateMFA)))
	mux.Handle("POST /v1/tokens", signed(http.HandlerFunc(s.createToken)))
	mux.Handle("DELETE /v1/tokens/{tokenID}", signed(http.HandlerFunc(s.deleteToken)))
	mux.Handle("GET /v1/accounts/{accountID}/tokens/{tokenID}", optional(http.HandlerFunc(s.getToken)))
}

func (s *server) register(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	reg, err := s.engine.Register(clientContext(r), body.Email)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"reg_id":          reg.RegID,
		"password_config": reg.PasswordConfig,
		"mfa": map[string]any{
			"secret": reg.Provisioning.Secret,
			"uri":    reg.Provisioning.URI,
			"qr_png": reg.Provisioning.PNG,
		},
		"expires_at": reg.ExpiresAt.UTC(),
	})
}

func (s *server) secure(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PasswordHash string `json:"password_hash"`
		MFA          struct {
			Current  string `json:"current"`
			Previous string `json:"previous"`
		} `json:"mfa"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	codes := opentoken.MFACodes{Current: body.MFA.Current, Previous: body.MFA.Previous}
	if err := s.engine.Secure(clientContext(r), r.PathValue("regID"), body.PasswordHash, codes); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) resend(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ResendConfirmation(clientContext(r), r.PathValue("regID")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) confirm(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	accountID, err := s.engine.Confirm(clientContext(r), r.PathValue("regID"), body.Code)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"account_id": accountID})
}

func (s *server) confirmLink(w http.ResponseWriter, r *http.Request) {
	accountID, err := s.engine.ConfirmLink(clientContext(r), r.URL.Query().Get("token"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"account_id": accountID})
}

func (s *server) loginHashConfig(w http.ResponseWriter, r *http.Request) {
	hc, err := s.engine.LoginHashConfig(clientContext(r), r.PathValue("accountID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"password_config":   hc.PasswordConfig,
		"challenge_config":  hc.ChallengeConfig,
		"challenge_id":      hc.ChallengeID,
		"challenge_expires": hc.ChallengeExpires.UTC(),
	})
}

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ChallengeHash string `json:"challenge_hash"`
		MFACode       string `json:"mfa_code"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	sess, err := s.engine.Login(clientContext(r), r.PathValue("accountID"), opentoken.LoginRequest{
		ChallengeHash: body.ChallengeHash,
		MFACode:       body.MFACode,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": sess.ID,
		"secret":     sess.Secret,
		"expires_at": sess.ExpiresAt.UTC(),
	})
}

func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	p, _ := opentoken.PrincipalFromContext(r.Context())
	if err := s.engine.Logout(r.Context(), p.AccountID, p.SessionID); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) rotateMFA(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	p, _ := opentoken.PrincipalFromContext(r.Context())
	prov, err := s.engine.RotateMFA(r.Context(), p.AccountID, body.Code)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"secret": prov.Secret,
		"uri":    prov.URI,
		"qr_png": prov.PNG,
	})
}

// createToken stores the raw request body. ?public=true makes it readable
// without a signature; ?ttl= takes a Go duration.
func (s *server) createToken(w http.ResponseWriter, r *http.Request) {
	p, _ := opentoken.PrincipalFromContext(r.Context())

	opts := opentoken.TokenOptions{ContentType: r.Header.Get("Content-Type")}
	q := r.URL.Query()
	if v := q.Get("public"); v != "" {
		public, err := strconv.ParseBool(v)
		if err != nil {
			s.fail(w, r, opentoken.ErrInvalidInput)
			return
		}
		opts.Public = public
	}
	if v := q.Get("ttl"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			s.fail(w, r, opentoken.ErrInvalidInput)
			return
		}
		opts.Lifetime = ttl
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		s.fail(w, r, opentoken.ErrInvalidInput)
		return
	}
	tok, err := s.engine.CreateToken(r.Context(), p.AccountID, data, opts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":           tok.ID,
		"content_type": tok.ContentType,
		"public":       tok.Public,
		"expires_at":   tok.ExpiresAt.UTC(),
	})
}

func (s *server) getToken(w http.ResponseWriter, r *http.Request) {
	var caller string
	if p, ok := opentoken.PrincipalFromContext(r.Context()); ok {
		caller = p.AccountID
	}
	tok, err := s.engine.GetToken(r.Context(), caller, r.PathValue("accountID"), r.PathValue("tokenID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", tok.ContentType)
	w.Header().Set("Expires", tok.ExpiresAt.UTC().Format(http.TimeFormat))
	_, _ = w.Write(tok.Data)
}

func (s *server) deleteToken(w http.ResponseWriter, r *http.Request) {
	p, _ := opentoken.PrincipalFromContext(r.Context())
	if err := s.engine.DeleteToken(r.Context(), p.AccountID, r.PathValue("tokenID")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.fail(w, r, opentoken.ErrInvalidInput)
		return false
	}
	return true
}

// fail writes the status for err. A mail failure after Secure is reported
// as 202: the registration is secured and resend can be retried.
func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := middleware.Status(err)
	if errors.Is(err, opentoken.ErrMail) {
		status = http.StatusAccepted
	}
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func clientContext(r *http.Request) context.Context {
	return opentoken.WithClientIP(r.Context(), clientIP(r))
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
