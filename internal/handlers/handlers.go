package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"questtable-backend/internal/common"
	"questtable-backend/internal/config"
	"questtable-backend/internal/models"
	"questtable-backend/internal/notifications"
	"questtable-backend/internal/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"
	"github.com/redis/go-redis/v9"
	"github.com/tidwall/gjson"
	"gorm.io/gorm"
)

type AuthHandler struct {
	common.ServerState
	SocialAuth common.SocialAuthProvider
}

type SignInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordRequest struct {
	Password string `json:"password" validate:"required,min=8"`
}

func NewAuthHandler(db *gorm.DB, cfg *config.Config, jwt common.JWTIssuer, redis *redis.Client, socialAuth common.SocialAuthProvider) *AuthHandler {
	return &AuthHandler{
		ServerState: common.ServerState{
			DB:        db,
			Config:    cfg,
			JwtIssuer: jwt,
			Redis:     redis,
		},
		SocialAuth: socialAuth,
	}
}

type RealGothicProvider struct{}

func (r *RealGothicProvider) CompleteUserAuth(res http.ResponseWriter, req *http.Request) (goth.User, error) {
	return gothic.CompleteUserAuth(res, req)
}

func (h *AuthHandler) SocialLogin(c echo.Context) error {
	provider := c.Param("provider")

	req := c.Request()
	// Set the provider in the query parameters for gothic to work
	q := req.URL.Query()
	q.Set("provider", provider)
	req.URL.RawQuery = q.Encode()

	gothic.BeginAuthHandler(c.Response(), req)
	return nil
}

func (h *AuthHandler) SocialLoginCallback(c echo.Context) error {
	user, err := h.SocialAuth.CompleteUserAuth(c.Response(), c.Request())
	if err != nil {
		return err
	}

	if user.Email == "" {
		c.Logger().Error("User email is empty from provider")
		return echo.NewHTTPError(http.StatusBadRequest, "Email is required but not provided by the authentication provider")
	}

	var u models.User
	providerName := c.Param("provider")
	isNewUser := false // Flag to track if a new user was created

	err = h.DB.Transaction(func(tx *gorm.DB) error {
		// Check if user exists or not
		result := tx.Where("email = ?", user.Email).First(&u)

		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			isNewUser = true

			u = models.User{
				FirstName: user.FirstName,
				LastName:  user.LastName,
				Email:     user.Email,
				AvatarURL: user.AvatarURL,
			}
			if err := tx.Create(&u).Error; err != nil {
				return fmt.Errorf("failed to create user: %w", err)
			}

			if providerName == "github" && user.RawData != nil {
				// GitHub profiles often carry a location we can prefill
				rawData, err := json.Marshal(user.RawData)
				if err != nil {
					c.Logger().Warnf("Failed to marshal GitHub RawData: %v", err)
				} else {
					location := gjson.GetBytes(rawData, "location")
					if location.Exists() && location.String() != "" {
						u.City = location.String()
						if err := tx.Save(&u).Error; err != nil {
							return fmt.Errorf("failed to update user: %w", err)
						}
					}
				}
			}
		}

		return nil
	})

	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	// Send welcome email if a new user was created
	if isNewUser && h.EmailClient != nil {
		h.EmailClient.SendWelcomeEmail(&u)
	}

	// Create a JWT token
	token, err := h.JwtIssuer.GenerateToken(u.Email)
	if err != nil {
		return c.String(http.StatusInternalServerError, "Failed to generate token")
	}

	_ = notifications.SendSlackNotification(fmt.Sprintf("New social sign-in via %s: %s", providerName, u.ID), h.Config)

	// Redirect to the web app with the JWT token
	return c.Redirect(http.StatusFound, fmt.Sprintf("/login?token=%s", token))
}

func (h *AuthHandler) ManualSignUp(c echo.Context) error {
	c.Logger().Info("Received manual sign-up request")

	u := new(models.User)
	if err := c.Bind(u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := c.Validate(u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := utils.ValidateEmailAddress(u.Email); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result := h.DB.Create(u)
	if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
		return echo.NewHTTPError(http.StatusConflict, "user with this email already exists")
	}

	if result.Error != nil {
		c.Logger().Errorf("Failed to create user: %v", result.Error)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to create user")
	}

	// Send welcome email after successful creation
	if h.EmailClient != nil {
		h.EmailClient.SendWelcomeEmail(u)
	}

	// Create a JWT token
	token, err := h.JwtIssuer.GenerateToken(u.Email)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to generate token")
	}

	_ = notifications.SendSlackNotification(fmt.Sprintf("New sign-up: %s", u.ID), h.Config)

	return c.JSON(http.StatusCreated, map[string]string{"token": token})
}

func (h *AuthHandler) ManualSignIn(c echo.Context) error {
	c.Logger().Info("Received manual sign-in request")
	req := &SignInRequest{}

	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	u := &models.User{}
	result := h.DB.Where("email = ?", req.Email).First(u)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid email or password")
	}

	if !u.CheckPassword(req.Password) {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid email or password")
	}

	// Create a JWT token
	token, err := h.JwtIssuer.GenerateToken(u.Email)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to generate token")
	}

	return c.JSON(http.StatusOK, map[string]string{"token": token})
}

func (h *AuthHandler) ForgotPassword(c echo.Context) error {
	c.Logger().Info("Received forgot password request")
	req := &ForgotPasswordRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	// Check if the user exists
	u := &models.User{}
	result := h.DB.Where("email = ?", req.Email).First(u)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "User not found")
	}

	baseURL := "https://" + h.Config.Server.DeployDomain

	// Check if a valid unused reset token already exists for this user
	var existingToken models.Token
	tokenResult := h.DB.Where("user_id = ? AND token_type = ? AND is_used = ?", u.ID, models.TokenTypePasswordReset, false).
		Order("created_at DESC").First(&existingToken)

	// If we found an unused token, verify it's still valid
	if tokenResult.Error == nil {
		token, err := jwt.ParseWithClaims(existingToken.Token, jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
			jwtAuth, ok := h.JwtIssuer.(*JwtAuth)
			if !ok {
				return nil, fmt.Errorf("failed to access JWT configuration")
			}
			return []byte(jwtAuth.Secret), nil
		})

		// If token is valid, resend the existing reset email
		if err == nil && token.Valid {
			if h.EmailClient != nil {
				resetLink := fmt.Sprintf("%s/reset-password?token=%s", baseURL, existingToken.Token)
				h.EmailClient.SendPasswordResetEmail(u.Email, resetLink)
			}
			return c.JSON(http.StatusOK, map[string]string{"message": "Password reset token sent"})
		}
	}

	claims := jwt.MapClaims{
		"email_id": u.Email,
		"exp":      jwt.NewNumericDate(time.Now().Add(models.TokenExpirationDuration)),
		"iat":      jwt.NewNumericDate(time.Now()),
		"purpose":  "password_reset",
	}

	// Create password reset token (JWT) with claims
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	jwtAuth, ok := h.JwtIssuer.(*JwtAuth)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to access JWT configuration")
	}
	tokenString, err := token.SignedString([]byte(jwtAuth.Secret))
	if err != nil {
		c.Logger().Error("Failed to generate password reset token:", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to generate token")
	}

	// Persist password reset token in the database
	resetToken := &models.Token{UserID: u.ID}
	if err := resetToken.CreateToken(h.DB, models.TokenTypePasswordReset, tokenString); err != nil {
		c.Logger().Error("Failed to persist password reset token:", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to create password reset token")
	}

	if h.EmailClient != nil {
		resetLink := fmt.Sprintf("%s/reset-password?token=%s", baseURL, tokenString)
		h.EmailClient.SendPasswordResetEmail(u.Email, resetLink)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Password reset token sent"})
}

func (h *AuthHandler) ResetPassword(c echo.Context) error {
	c.Logger().Info("Received reset password request")
	req := &ResetPasswordRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	tokenString := c.Param("token")
	if tokenString == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing token")
	}

	// Check if the token exists in the database and is not used
	var existingToken models.Token
	if err := h.DB.Where("token = ? AND token_type = ?", tokenString, models.TokenTypePasswordReset).First(&existingToken).Error; err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
	}
	if existingToken.IsUsed {
		return echo.NewHTTPError(http.StatusUnauthorized, "Token already used. Request a new password reset.")
	}

	// Parse and validate the JWT token
	token, err := jwt.ParseWithClaims(tokenString, jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
		jwtAuth, ok := h.JwtIssuer.(*JwtAuth)
		if !ok {
			return nil, fmt.Errorf("failed to access JWT configuration")
		}
		return []byte(jwtAuth.Secret), nil
	})

	if err != nil {
		c.Logger().Error("Failed to parse reset password token:", err)
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token claims")
	}

	// Check token purpose
	purpose, ok := claims["purpose"].(string)
	if !ok || purpose != "password_reset" {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token purpose")
	}

	email, ok := claims["email_id"].(string)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid email ID in token")
	}

	u := &models.User{}
	result := h.DB.Where("email = ?", email).First(u)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "User not found")
	}

	hashedPassword, err := models.HashPassword(req.Password)
	if err != nil {
		c.Logger().Error("Failed to hash password:", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to reset password")
	}
	u.HashedPassword = hashedPassword
	u.Password = ""
	if err := h.DB.Save(u).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to reset password")
	}

	// Mark the password reset token as used (best-effort)
	existingToken.IsUsed = true
	now := time.Now()
	existingToken.UsedAt = &now
	if err := h.DB.Save(&existingToken).Error; err != nil {
		c.Logger().Warn("Failed to mark password reset token as used:", err)
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "Your password has been changed. You can now use it to log in."})
}

func (h *AuthHandler) User(c echo.Context) error {
	user, isAuthenticated := h.getAuthenticatedUserFromJWT(c)
	if !isAuthenticated {
		return c.String(http.StatusUnauthorized, "Unauthorized request")
	}

	// We need additional payload for subscription information
	userWithSubscription, err := models.GetUserWithSubscription(h.DB, user)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, userWithSubscription)
}

func (h *AuthHandler) UpdateProfile(c echo.Context) error {
	user, isAuthenticated := h.getAuthenticatedUserFromJWT(c)
	if !isAuthenticated {
		return c.String(http.StatusUnauthorized, "Unauthorized")
	}

	type UpdateRequest struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		City      string `json:"city"`
		Bio       string `json:"bio"`
	}

	req := new(UpdateRequest)
	if err := c.Bind(req); err != nil {
		c.Logger().Error("Failed to bind request:", err)
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	user.FirstName = req.FirstName
	user.LastName = req.LastName
	user.City = req.City
	user.Bio = req.Bio

	if err := h.DB.Save(user).Error; err != nil {
		c.Logger().Error("Failed to save to db:", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to update user")
	}

	return c.JSON(http.StatusOK, user)
}

// UnsubscribeUser handles both GET and POST requests for unsubscribing users.
// Follows instructions from:
// https://resend.com/docs/dashboard/emails/add-unsubscribe-to-transactional-emails
func (h *AuthHandler) UnsubscribeUser(c echo.Context) error {
	token := c.Param("token")
	if token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Token is required")
	}

	// Find user by "unsubscribe" token
	var user models.User
	result := h.DB.Where("unsubscribe_id = ?", token).First(&user)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "User not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to retrieve user details, cannot unsubscribe")
	}

	// Handle POST request (one-click unsubscribe)
	if c.Request().Method == http.MethodPost {
		if err := user.UnsubscribeFromAllEmails(h.DB); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to unsubscribe")
		}

		return c.String(http.StatusOK, "You are now unsubscribed from all QuestTable emails")
	}

	// Handle GET request (show unsubscribe page)
	if c.Request().Method == http.MethodGet {
		// Check if already unsubscribed
		if user.EmailSubscriptions.UnsubscribedAt != nil {
			return c.Render(http.StatusOK, "unsubscribe-success.html", nil)
		}

		// Show unsubscribe form
		data := map[string]interface{}{
			"Email": user.Email,
			"Token": token,
		}
		return c.Render(http.StatusOK, "unsubscribe-form.html", data)
	}

	return echo.NewHTTPError(http.StatusMethodNotAllowed, "Method not allowed")
}
