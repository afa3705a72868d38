package verification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/middleware"
	userentity "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/verification/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/apierror"
)

// Handler exposes the verification endpoints. Every route expects
// middleware.RequireAuth in front of it.
type Handler struct {
	mgr    *Manager
	logger *zap.SugaredLogger
}

func NewHandler(mgr *Manager, logger *zap.SugaredLogger) *Handler {
	return &Handler{mgr: mgr, logger: logger}
}

type SendRequest struct {
	Type string `json:"type"`
}

type SendResponse struct {
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type VerifyRequest struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

// UserSummary is the camelCase user returned after a successful verify.
type UserSummary struct {
	ID                      string    `json:"id"`
	Email                   string    `json:"email"`
	Name                    string    `json:"name"`
	PhoneNumber             string    `json:"phoneNumber"`
	EmailVerified           bool      `json:"emailVerified"`
	PhoneVerified           bool      `json:"phoneVerified"`
	ProfileCompletionStatus string    `json:"profileCompletionStatus"`
	CreatedAt               time.Time `json:"createdAt"`
}

type VerifyResponse struct {
	Message string      `json:"message"`
	User    UserSummary `json:"user"`
}

func summarize(u *userentity.User) UserSummary {
	v := u.View()
	return UserSummary{
		ID:                      v.ID,
		Email:                   v.Email,
		Name:                    v.Name,
		PhoneNumber:             v.PhoneNumber,
		EmailVerified:           v.IsEmailVerified,
		PhoneVerified:           v.IsPhoneVerified,
		ProfileCompletionStatus: v.ProfileCompletionStatus,
		CreatedAt:               v.CreatedAt,
	}
}

func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	h.send(w, r, h.mgr.Send)
}

func (h *Handler) Resend(w http.ResponseWriter, r *http.Request) {
	h.send(w, r, h.mgr.Resend)
}

type sendFunc func(ctx context.Context, userID string, ch entity.Channel) (*SendResult, error)

func (h *Handler) send(w http.ResponseWriter, r *http.Request, fn sendFunc) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Debugw("invalid send payload", "err", err)
		apierror.Write(w, http.StatusBadRequest, apierror.InvalidRequest, "Invalid request body")
		return
	}
	ch := entity.Channel(req.Type)
	res, err := fn(r.Context(), middleware.UserIDFromContext(r.Context()), ch)
	if err != nil {
		h.writeError(w, err, ch, "Failed to send verification code")
		return
	}
	apierror.WriteJSON(w, http.StatusOK, SendResponse{
		Message:   "Verification code sent to your " + string(ch),
		ExpiresAt: res.ExpiresAt.UTC(),
	})
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Debugw("invalid verify payload", "err", err)
		apierror.Write(w, http.StatusBadRequest, apierror.InvalidRequest, "Invalid request body")
		return
	}
	ch := entity.Channel(req.Type)
	u, err := h.mgr.Verify(r.Context(), middleware.UserIDFromContext(r.Context()), ch, req.Code)
	if err != nil {
		h.writeError(w, err, ch, "Failed to verify code")
		return
	}
	msg := "Email verified successfully"
	if ch == entity.ChannelPhone {
		msg = "Phone number verified successfully"
	}
	apierror.WriteJSON(w, http.StatusOK, VerifyResponse{Message: msg, User: summarize(u)})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.mgr.Status(r.Context(), middleware.UserIDFromContext(r.Context()))
	if err != nil {
		h.writeError(w, err, "", "Failed to get verification status")
		return
	}
	apierror.WriteJSON(w, http.StatusOK, st)
}

func (h *Handler) writeError(w http.ResponseWriter, err error, ch entity.Channel, fallback string) {
	switch {
	case errors.Is(err, ErrInvalidChannel):
		apierror.Write(w, http.StatusBadRequest, apierror.InvalidType, `Type must be either "email" or "phone"`)
	case errors.Is(err, ErrUserNotFound):
		apierror.Write(w, http.StatusNotFound, apierror.UserNotFound, "User not found")
	case errors.Is(err, ErrAlreadyVerified):
		what := "Email is"
		if ch == entity.ChannelPhone {
			what = "Phone number is"
		}
		apierror.Write(w, http.StatusBadRequest, apierror.AlreadyVerified, what+" already verified")
	case errors.Is(err, ErrRateLimited):
		apierror.Write(w, http.StatusTooManyRequests, apierror.RateLimit, "Please wait 1 minute before requesting a new code")
	case errors.Is(err, ErrDispatchFailed):
		apierror.Write(w, http.StatusInternalServerError, apierror.EmailSendFailed, "Failed to send verification email")
	case errors.Is(err, ErrMalformedCode):
		apierror.Write(w, http.StatusBadRequest, apierror.InvalidCode, "Code must be a 6-digit number")
	case errors.Is(err, ErrNoSuchCode):
		apierror.Write(w, http.StatusBadRequest, apierror.InvalidCode, "Invalid verification code")
	case errors.Is(err, ErrAlreadyUsed):
		apierror.Write(w, http.StatusBadRequest, apierror.CodeAlreadyUsed, "This verification code has already been used")
	case errors.Is(err, ErrExpired):
		apierror.Write(w, http.StatusBadRequest, apierror.CodeExpired, "Verification code has expired. Please request a new one.")
	default:
		h.logger.Errorw(fallback, "err", err)
		apierror.Write(w, http.StatusInternalServerError, apierror.ServerError, fallback)
	}
}
