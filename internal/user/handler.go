package user

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/middleware"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/apierror"
)

// Handler exposes the /auth endpoints.
type Handler struct {
	svc    *UserService
	logger *zap.SugaredLogger
}

func NewHandler(svc *UserService, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type GoogleLoginRequest struct {
	IDToken string `json:"id_token"`
}

type RegisterRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	PhoneNumber  string `json:"phone_number"`
	CPF          string `json:"cpf"`
	BirthDate    string `json:"birth_date"`
	CEP          string `json:"cep"`
	Street       string `json:"street"`
	Number       string `json:"number"`
	Complement   string `json:"complement"`
	Neighborhood string `json:"neighborhood"`
	City         string `json:"city"`
	State        string `json:"state"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type CompleteProfileRequest struct {
	CPF          string `json:"cpf"`
	PhoneNumber  string `json:"phone_number"`
	BirthDate    string `json:"birth_date"`
	CEP          string `json:"cep"`
	Street       string `json:"street"`
	Number       string `json:"number"`
	Complement   string `json:"complement"`
	Neighborhood string `json:"neighborhood"`
	City         string `json:"city"`
	State        string `json:"state"`
}

// ProfileResponse wraps the user returned by profile completion.
type ProfileResponse struct {
	User entity.UserView `json:"user"`
}

// optional maps "" to nil for nullable columns.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func address(cep, street, number, complement, neighborhood, city, state string) entity.Address {
	return entity.Address{
		CEP:          optional(cep),
		Street:       optional(street),
		Number:       optional(number),
		Complement:   optional(complement),
		Neighborhood: optional(neighborhood),
		City:         optional(city),
		State:        optional(state),
	}
}

// decode reads a JSON body into v. An empty body leaves v zero.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Debugw("invalid payload", "path", r.URL.Path, "err", err)
		apierror.Write(w, http.StatusBadRequest, apierror.InvalidRequest, "Invalid request body")
		return false
	}
	return true
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	pair, err := h.svc.LoginWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidRequest):
			apierror.Write(w, http.StatusBadRequest, apierror.InvalidRequest, "Email and password are required")
		case errors.Is(err, ErrInvalidCredentials):
			apierror.Write(w, http.StatusUnauthorized, apierror.InvalidCredentials, "Invalid email or password")
		default:
			h.internal(w, "login failed", err)
		}
		return
	}
	apierror.WriteJSON(w, http.StatusOK, pair)
}

func (h *Handler) LoginGoogle(w http.ResponseWriter, r *http.Request) {
	var req GoogleLoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	pair, err := h.svc.LoginWithExternalIdentity(r.Context(), req.IDToken)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidRequest):
			apierror.Write(w, http.StatusBadRequest, apierror.InvalidRequest, "Google ID token is required")
		case errors.Is(err, ErrInvalidToken):
			apierror.Write(w, http.StatusUnauthorized, apierror.InvalidToken, "Invalid Google ID token")
		case errors.Is(err, ErrUserExists):
			apierror.Write(w, http.StatusConflict, apierror.UserExists, "User with this email already exists")
		default:
			h.internal(w, "google login failed", err)
		}
		return
	}
	apierror.WriteJSON(w, http.StatusOK, pair)
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}
	pair, err := h.svc.Register(r.Context(), RegisterInput{
		Name:        req.Name,
		Email:       req.Email,
		Password:    req.Password,
		PhoneNumber: req.PhoneNumber,
		CPF:         optional(req.CPF),
		BirthDate:   req.BirthDate,
		Address:     address(req.CEP, req.Street, req.Number, req.Complement, req.Neighborhood, req.City, req.State),
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidRequest):
			apierror.Write(w, http.StatusBadRequest, apierror.InvalidRequest, "Name, email, password, and phone number are required")
		case errors.Is(err, ErrInvalidBirthDate):
			apierror.Write(w, http.StatusBadRequest, apierror.InvalidRequest, "Birth date must be in YYYY-MM-DD format")
		case errors.Is(err, ErrUserExists):
			apierror.Write(w, http.StatusConflict, apierror.UserExists, "User with this email or CPF already exists")
		default:
			h.internal(w, "register failed", err)
		}
		return
	}
	apierror.WriteJSON(w, http.StatusCreated, pair)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !h.decode(w, r, &req) {
		return
	}
	pair, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidRequest):
			apierror.Write(w, http.StatusBadRequest, apierror.InvalidRequest, "Refresh token is required")
		case errors.Is(err, token.ErrInvalidOrExpiredToken):
			apierror.Write(w, http.StatusUnauthorized, apierror.InvalidToken, "Invalid or expired refresh token")
		case errors.Is(err, ErrUserNotFound):
			apierror.Write(w, http.StatusUnauthorized, apierror.UserNotFound, "User not found")
		default:
			h.internal(w, "refresh failed", err)
		}
		return
	}
	apierror.WriteJSON(w, http.StatusOK, pair)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.Logout(r.Context(), req.RefreshToken); err != nil {
		h.internal(w, "logout failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.ForgotPassword(r.Context(), req.Email); err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			apierror.Write(w, http.StatusBadRequest, apierror.InvalidRequest, "Email is required")
			return
		}
		h.internal(w, "forgot password failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me requires middleware.RequireAuth.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.Me(r.Context(), middleware.UserIDFromContext(r.Context()))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			apierror.Write(w, http.StatusNotFound, apierror.UserNotFound, "User not found")
			return
		}
		h.internal(w, "get current user failed", err)
		return
	}
	apierror.WriteJSON(w, http.StatusOK, u.View())
}

// CompleteProfile requires middleware.RequireAuth.
func (h *Handler) CompleteProfile(w http.ResponseWriter, r *http.Request) {
	var req CompleteProfileRequest
	if !h.decode(w, r, &req) {
		return
	}
	u, err := h.svc.CompleteProfile(r.Context(), middleware.UserIDFromContext(r.Context()), ProfileInput{
		CPF:         req.CPF,
		PhoneNumber: req.PhoneNumber,
		BirthDate:   req.BirthDate,
		Address:     address(req.CEP, req.Street, req.Number, req.Complement, req.Neighborhood, req.City, req.State),
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidRequest):
			apierror.Write(w, http.StatusBadRequest, apierror.InvalidRequest, "CPF, phone number, and CEP are required")
		case errors.Is(err, ErrInvalidBirthDate):
			apierror.Write(w, http.StatusBadRequest, apierror.InvalidRequest, "Birth date must be in YYYY-MM-DD format")
		case errors.Is(err, ErrUserNotFound):
			apierror.Write(w, http.StatusNotFound, apierror.UserNotFound, "User not found")
		case errors.Is(err, ErrUserExists):
			apierror.Write(w, http.StatusConflict, apierror.UserExists, "User with this CPF already exists")
		default:
			h.internal(w, "complete profile failed", err)
		}
		return
	}
	apierror.WriteJSON(w, http.StatusOK, ProfileResponse{User: u.View()})
}

func (h *Handler) internal(w http.ResponseWriter, msg string, err error) {
	h.logger.Errorw(msg, "err", err)
	apierror.Internal(w)
}
