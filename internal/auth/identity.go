package auth

import (
	"errors"
	"strings"

	"knowte-api/internal/apperr"
	"knowte-api/internal/models"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Subject is a verified caller.
type Subject struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
}

// LocalIdentity keeps credentials in the users table and issues JWTs.
type LocalIdentity struct {
	db     *gorm.DB
	tokens *TokenIssuer
}

func NewLocalIdentity(db *gorm.DB, tokens *TokenIssuer) *LocalIdentity {
	return &LocalIdentity{db: db, tokens: tokens}
}

// Tokens returns the issuer used for access tokens.
func (l *LocalIdentity) Tokens() *TokenIssuer { return l.tokens }

type credentials struct {
	Email    string
	Password string
}

func (c credentials) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Email, validation.Required, is.EmailFormat),
		validation.Field(&c.Password, validation.Required, validation.RuneLength(8, 128)),
	)
}

// RegisterCredential creates a user and returns its subject id.
func (l *LocalIdentity) RegisterCredential(email, password, displayName string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := (credentials{Email: email, Password: password}).Validate(); err != nil {
		return "", apperr.InvalidInput("%s", err.Error())
	}

	var count int64
	if err := l.db.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return "", apperr.Wrap(apperr.KindInternal, err, "Failed to look up user")
	}
	if count > 0 {
		return "", apperr.New(apperr.KindConflict, "Email is already registered.")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, err, "Failed to hash password")
	}
	user := models.User{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: string(hash),
	}
	if err := l.db.Create(&user).Error; err != nil {
		return "", apperr.Wrap(apperr.KindInternal, err, "Failed to create user")
	}
	return user.ID, nil
}

// Authenticate checks an email and password and returns the subject.
func (l *LocalIdentity) Authenticate(email, password string) (Subject, error) {
	var user models.User
	err := l.db.Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Subject{}, apperr.New(apperr.KindUnauthorized, "Invalid email or password.")
	}
	if err != nil {
		return Subject{}, apperr.Wrap(apperr.KindInternal, err, "Failed to look up user")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return Subject{}, apperr.New(apperr.KindUnauthorized, "Invalid email or password.")
	}
	return subjectOf(user), nil
}

// IssueToken returns an access token for s.
func (l *LocalIdentity) IssueToken(s Subject) (string, error) {
	token, err := l.tokens.Generate(s.ID, s.Email)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, err, "Failed to generate token")
	}
	return token, nil
}

// VerifyCredential validates a token and checks its subject still exists
// with the same email.
func (l *LocalIdentity) VerifyCredential(token string) (Subject, error) {
	claims, err := l.tokens.Validate(token)
	if err != nil {
		return Subject{}, apperr.Wrap(apperr.KindUnauthorized, err, "Invalid or expired token")
	}
	var user models.User
	if err := l.db.Where("id = ?", claims.SubjectID).First(&user).Error; err != nil {
		return Subject{}, apperr.Wrap(apperr.KindUnauthorized, err, "Invalid or expired token")
	}
	if user.Email != claims.Email {
		return Subject{}, apperr.New(apperr.KindUnauthorized, "Invalid or expired token")
	}
	return subjectOf(user), nil
}

func subjectOf(u models.User) Subject {
	return Subject{ID: u.ID, Email: u.Email, DisplayName: u.DisplayName}
}
