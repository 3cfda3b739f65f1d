package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"gainable/config"
	"gainable/models"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

// Claims is the session token payload.
type Claims struct {
	UserID   uint        `json:"user_id"`
	ExpertID uint        `json:"expert_id,omitempty"`
	Role     models.Role `json:"role"`
	jwt.RegisteredClaims
}

// AuthService issues and verifies session tokens.
type AuthService struct {
	Config *config.Config
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config, db *gorm.DB, logger *zap.Logger) *AuthService {
	return &AuthService{Config: cfg, DB: db, Logger: logger}
}

// HashPassword returns the bcrypt hash of a password.
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", invalid("password", fmt.Sprintf("le mot de passe doit comporter au moins %d caractères", MinPasswordLength))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// IssueToken signs a session token for user.
func (a *AuthService) IssueToken(user models.User, expertID uint) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   user.ID,
		ExpertID: expertID,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprint(user.ID),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.Config.TokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(a.Config.JWTSecret))
}

// ParseToken verifies a session token and returns its claims.
func (a *AuthService) ParseToken(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(a.Config.JWTSecret), nil
	})
	if err != nil {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

// Login checks credentials and returns a fresh token.
func (a *AuthService) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	var user models.User
	err := a.DB.WithContext(ctx).Where("LOWER(email) = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil, ErrUnauthorized
	}
	if err != nil {
		return "", nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		a.Logger.Info("Failed login", zap.String("email", email))
		return "", nil, ErrUnauthorized
	}

	var expert models.Expert
	var expertID uint
	if err := a.DB.WithContext(ctx).Select("id").Where("user_id = ?", user.ID).First(&expert).Error; err == nil {
		expertID = expert.ID
	}
	token, err := a.IssueToken(user, expertID)
	if err != nil {
		return "", nil, err
	}
	return token, &user, nil
}
