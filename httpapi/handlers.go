package httpapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	goSentinel "github.com/MrEthical07/goSentinel"
	"github.com/MrEthical07/goSentinel/mfa"
	"github.com/MrEthical07/goSentinel/portal"
)

type handler struct {
	engine *goSentinel.Engine
	logger *slog.Logger
}

/*
====================================
REQUEST / RESPONSE BODIES
====================================
*/

type loginRequest struct {
	Email        string        `json:"email"`
	Password     string        `json:"password"`
	TenantDomain string        `json:"tenantDomain"`
	Portal       portal.Portal `json:"portalType"`
	MFAToken     string        `json:"mfaToken,omitempty"`
	MFAMethod    mfa.Method    `json:"mfaMethod,omitempty"`
}

type sessionRef struct {
	ID     string        `json:"id"`
	Portal portal.Portal `json:"portalType"`
}

type loginResponse struct {
	AccessToken      string     `json:"accessToken"`
	RefreshToken     string     `json:"refreshToken"`
	ExpiresIn        int64      `json:"expiresIn"`
	Session          sessionRef `json:"session"`
	MFASetupRequired bool       `json:"mfaSetupRequired,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type tokenPairResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type logoutRequest struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type mfaCodeRequest struct {
	Code   string     `json:"code"`
	Method mfa.Method `json:"method,omitempty"`
}

type sessionsResponse struct {
	Sessions []goSentinel.SessionInfo `json:"sessions"`
}

func decode(r *http.Request, v interface{}) error {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		return fmt.Errorf("%w: malformed request body", goSentinel.ErrValidation)
	}
	return nil
}

/*
====================================
PUBLIC ROUTES
====================================
*/

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Ping(r.Context()); err != nil {
		h.logger.WarnContext(r.Context(), "health check failed", slog.Any("error", err))
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, map[string]string{"status": "unavailable"})
		return
	}
	render.JSON(w, r, map[string]string{"status": "ok"})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if err := decode(r, &body); err != nil {
		h.renderError(w, r, err)
		return
	}

	res, err := h.engine.Login(r.Context(), goSentinel.LoginRequest{
		Email:        body.Email,
		Password:     body.Password,
		TenantDomain: body.TenantDomain,
		Portal:       body.Portal,
		MFAToken:     body.MFAToken,
		MFAMethod:    body.MFAMethod,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	render.JSON(w, r, loginResponse{
		AccessToken:      res.AccessToken,
		RefreshToken:     res.RefreshToken,
		ExpiresIn:        int64(res.ExpiresIn.Seconds()),
		Session:          sessionRef{ID: res.Session.ID, Portal: res.Session.Portal},
		MFASetupRequired: res.MFASetupRequired,
	})
}

func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if err := decode(r, &body); err != nil {
		h.renderError(w, r, err)
		return
	}
	if body.RefreshToken == "" {
		h.renderError(w, r, fmt.Errorf("%w: refreshToken required", goSentinel.ErrValidation))
		return
	}

	pair, err := h.engine.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, tokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    int64(pair.ExpiresIn.Seconds()),
	})
}

// logout ends the session behind either token. Both tokens name the same
// session, so the first one that parses is enough.
func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	var body logoutRequest
	if err := decode(r, &body); err != nil {
		h.renderError(w, r, err)
		return
	}

	var err error = fmt.Errorf("%w: accessToken or refreshToken required", goSentinel.ErrValidation)
	for _, tok := range []string{body.RefreshToken, body.AccessToken} {
		if tok == "" {
			continue
		}
		if err = h.engine.Logout(r.Context(), tok); err == nil || !errors.Is(err, goSentinel.ErrTokenInvalid) {
			break
		}
	}
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/*
====================================
AUTHENTICATED ROUTES
====================================
*/

func (h *handler) whoami(w http.ResponseWriter, r *http.Request) {
	principal, _ := goSentinel.PrincipalFromContext(r.Context())
	who, err := h.engine.WhoAmIFor(r.Context(), principal)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, who)
}

func (h *handler) sessions(w http.ResponseWriter, r *http.Request) {
	principal, _ := goSentinel.PrincipalFromContext(r.Context())
	list, err := h.engine.ListSessions(r.Context(), principal.IdentityID, principal.TenantID, principal.SessionID)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	if list == nil {
		list = []goSentinel.SessionInfo{}
	}
	render.JSON(w, r, sessionsResponse{Sessions: list})
}

func (h *handler) mfaSetup(w http.ResponseWriter, r *http.Request) {
	principal, _ := goSentinel.PrincipalFromContext(r.Context())
	setup, err := h.engine.SetupMFA(r.Context(), principal.IdentityID)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, setup)
}

func (h *handler) mfaEnable(w http.ResponseWriter, r *http.Request) {
	h.withCode(w, r, func(p *goSentinel.Principal, body mfaCodeRequest) error {
		return h.engine.EnableMFA(r.Context(), p.IdentityID, body.Code)
	})
}

func (h *handler) mfaVerify(w http.ResponseWriter, r *http.Request) {
	h.withCode(w, r, func(p *goSentinel.Principal, body mfaCodeRequest) error {
		return h.engine.VerifyMFA(r.Context(), p.IdentityID, body.Code, body.Method)
	})
}

func (h *handler) mfaDisable(w http.ResponseWriter, r *http.Request) {
	h.withCode(w, r, func(p *goSentinel.Principal, body mfaCodeRequest) error {
		return h.engine.DisableMFA(r.Context(), p.IdentityID, body.Code)
	})
}

func (h *handler) withCode(w http.ResponseWriter, r *http.Request, fn func(*goSentinel.Principal, mfaCodeRequest) error) {
	principal, _ := goSentinel.PrincipalFromContext(r.Context())

	var body mfaCodeRequest
	if err := decode(r, &body); err != nil {
		h.renderError(w, r, err)
		return
	}
	if body.Code == "" {
		h.renderError(w, r, fmt.Errorf("%w: code required", goSentinel.ErrValidation))
		return
	}
	if err := fn(principal, body); err != nil {
		h.renderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
