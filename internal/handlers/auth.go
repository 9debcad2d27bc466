package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/vehicle-care/internal/auth"
	"github.com/ukydev/vehicle-care/internal/db"
	"github.com/ukydev/vehicle-care/internal/httputil"
	"github.com/ukydev/vehicle-care/internal/middleware"
	"github.com/ukydev/vehicle-care/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AuthHandler handles authentication and profile requests
type AuthHandler struct {
	authService    *auth.Service
	userCollection db.UserCollection
	logger         *log.Entry
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(authService *auth.Service, userCollection db.UserCollection) *AuthHandler {
	return &AuthHandler{
		authService:    authService,
		userCollection: userCollection,
		logger:         log.WithField("component", "auth"),
	}
}

// Login handles user login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var loginReq models.LoginRequest
	if !decodeJSON(w, r, &loginReq) {
		return
	}

	if loginReq.Username == "" || loginReq.Password == "" {
		httputil.WriteError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	user, err := h.userCollection.FindUserByUsername(r.Context(), loginReq.Username)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			h.logger.WithError(err).Error("Failed to look up user")
		}
		httputil.WriteError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	if !user.IsActive {
		httputil.WriteError(w, http.StatusUnauthorized, "Account is deactivated")
		return
	}

	if !h.authService.CheckPassword(loginReq.Password, user.PasswordHash) {
		httputil.WriteError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	response, err := h.issueTokens(user)
	if err != nil {
		h.logger.WithError(err).Error("Failed to generate token")
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	if err := h.userCollection.UpdateLastLogin(r.Context(), user.ID.Hex()); err != nil {
		h.logger.WithError(err).WithField("user_id", user.ID.Hex()).Warn("Failed to update last login")
	}

	httputil.WriteJSON(w, http.StatusOK, response)
}

// Register handles user registration. Accounts default to the owner role;
// admin accounts cannot be self-registered.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var registerReq models.RegisterRequest
	if !decodeJSON(w, r, &registerReq) {
		return
	}
	registerReq.Username = strings.TrimSpace(registerReq.Username)
	registerReq.Email = strings.TrimSpace(registerReq.Email)
	if registerReq.Role == "" {
		registerReq.Role = models.RoleOwner
	}

	for _, err := range []error{
		h.authService.ValidateUsername(registerReq.Username),
		h.authService.ValidateEmail(registerReq.Email),
		h.authService.ValidatePassword(registerReq.Password),
		h.authService.ValidatePhone(registerReq.Phone),
	} {
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if !models.IsValidRole(registerReq.Role) {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid role")
		return
	}
	if registerReq.Role == models.RoleAdmin {
		httputil.WriteError(w, http.StatusForbidden, "Admin accounts cannot be self-registered")
		return
	}

	if _, err := h.userCollection.FindUserByUsername(r.Context(), registerReq.Username); err == nil {
		httputil.WriteError(w, http.StatusConflict, "Username already exists")
		return
	}
	if _, err := h.userCollection.FindUserByEmail(r.Context(), registerReq.Email); err == nil {
		httputil.WriteError(w, http.StatusConflict, "Email already exists")
		return
	}

	passwordHash, err := h.authService.HashPassword(registerReq.Password)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to hash password")
		return
	}

	now := time.Now()
	user := models.User{
		ID:           primitive.NewObjectID(),
		Username:     registerReq.Username,
		Email:        registerReq.Email,
		PasswordHash: passwordHash,
		Role:         registerReq.Role,
		FirstName:    registerReq.FirstName,
		LastName:     registerReq.LastName,
		Phone:        registerReq.Phone,
		Address:      registerReq.Address,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := h.userCollection.InsertUser(r.Context(), user); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			httputil.WriteError(w, http.StatusConflict, "Username or email already exists")
			return
		}
		h.logger.WithError(err).Error("Failed to create user")
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	response, err := h.issueTokens(&user)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	h.logger.WithFields(log.Fields{"username": user.Username, "role": user.Role}).Info("User registered")
	httputil.WriteJSON(w, http.StatusCreated, response)
}

func (h *AuthHandler) issueTokens(user *models.User) (*models.LoginResponse, error) {
	token, err := h.authService.GenerateToken(user)
	if err != nil {
		return nil, err
	}
	refreshToken, err := h.authService.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	return &models.LoginResponse{Token: token, RefreshToken: refreshToken, User: *user}, nil
}

// GetProfile returns the current user's profile
func (h *AuthHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

// UpdateProfile updates the current user's profile. Empty fields are kept.
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var updateReq models.ProfileUpdate
	if !decodeJSON(w, r, &updateReq) {
		return
	}

	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	if updateReq.FirstName != "" {
		user.FirstName = updateReq.FirstName
	}
	if updateReq.LastName != "" {
		user.LastName = updateReq.LastName
	}
	if updateReq.Phone != "" {
		if err := h.authService.ValidatePhone(updateReq.Phone); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		user.Phone = updateReq.Phone
	}
	if updateReq.Address != "" {
		user.Address = updateReq.Address
	}
	if updateReq.Email != "" {
		if err := h.authService.ValidateEmail(updateReq.Email); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		existingUser, err := h.userCollection.FindUserByEmail(r.Context(), updateReq.Email)
		if err == nil && existingUser.ID != user.ID {
			httputil.WriteError(w, http.StatusConflict, "Email already exists")
			return
		}
		user.Email = updateReq.Email
	}

	if err := h.userCollection.UpdateUser(r.Context(), user.ID.Hex(), *user); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			httputil.WriteError(w, http.StatusConflict, "Email already exists")
			return
		}
		h.logger.WithError(err).Error("Failed to update user")
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to update user")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, user)
}

// ChangePassword changes the current user's password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var passwordReq struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if !decodeJSON(w, r, &passwordReq) {
		return
	}

	if passwordReq.CurrentPassword == "" || passwordReq.NewPassword == "" {
		httputil.WriteError(w, http.StatusBadRequest, "Current password and new password are required")
		return
	}
	if err := h.authService.ValidatePassword(passwordReq.NewPassword); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	if !h.authService.CheckPassword(passwordReq.CurrentPassword, user.PasswordHash) {
		httputil.WriteError(w, http.StatusUnauthorized, "Current password is incorrect")
		return
	}

	newPasswordHash, err := h.authService.HashPassword(passwordReq.NewPassword)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to hash password")
		return
	}

	user.PasswordHash = newPasswordHash
	if err := h.userCollection.UpdateUser(r.Context(), user.ID.Hex(), *user); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to update password")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{"message": "Password changed successfully"})
}

// currentUser loads the authenticated user or writes the error reply.
func (h *AuthHandler) currentUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "User context not found")
		return nil, false
	}

	user, err := h.userCollection.FindUserByID(r.Context(), claims.UserID)
	if err != nil {
		httputil.WriteError(w, http.StatusNotFound, "User not found")
		return nil, false
	}
	return user, true
}
