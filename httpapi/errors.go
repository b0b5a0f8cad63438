package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	goSentinel "github.com/MrEthical07/goSentinel"
)

type errorResponse struct {
	Code        string     `json:"error"`
	Message     string     `json:"message"`
	LockedUntil *time.Time `json:"lockedUntil,omitempty"`
	MFAMethod   string     `json:"mfaMethod,omitempty"`

	status int
}

func (e *errorResponse) Render(_ http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.status)
	return nil
}

func newErrorResponse(err error) *errorResponse {
	resp := &errorResponse{
		Code:    goSentinel.ErrorCode(err),
		Message: goSentinel.PublicMessage(err),
		status:  goSentinel.HTTPStatus(err),
	}

	var locked *goSentinel.LockedError
	if errors.As(err, &locked) {
		until := locked.Until.UTC()
		resp.LockedUntil = &until
	}
	var required *goSentinel.MFARequiredError
	if errors.As(err, &required) {
		resp.MFAMethod = string(required.Method)
	}
	return resp
}

func (h *handler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	resp := newErrorResponse(err)
	if goSentinel.Classify(err) == goSentinel.KindInfra {
		h.logger.ErrorContext(r.Context(), "request failed",
			slog.String("request_id", chimw.GetReqID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
	_ = render.Render(w, r, resp)
}
