package backend

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	apperrors "algotrader/internal/errors"
	"algotrader/internal/gateway"
	"algotrader/internal/models"
)

// DefaultTokenTTL is the lifetime of an issued token.
const DefaultTokenTTL = 24 * time.Hour

// MinPasswordLength is enforced on registration.
const MinPasswordLength = 8

type userRow struct {
	ID           string `gorm:"primaryKey;size:36"`
	Email        string `gorm:"size:255;uniqueIndex"`
	FullName     string `gorm:"size:255"`
	Role         string `gorm:"size:32"`
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (userRow) TableName() string { return "users" }

func (r userRow) user() *models.User {
	created := r.CreatedAt.UTC()
	updated := r.UpdatedAt.UTC()
	return &models.User{
		Meta:     models.Meta{ID: r.ID, CreatedDate: &created, UpdatedDate: &updated},
		Email:    r.Email,
		FullName: r.FullName,
		Role:     r.Role,
	}
}

type tokenClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator registers users, issues HS256 tokens and verifies them.
type Authenticator struct {
	db     *gorm.DB
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time
}

// NewAuthenticator creates an Authenticator. An empty secret gets a random
// one, so tokens do not survive a restart.
func NewAuthenticator(db *gorm.DB, secret string, ttl time.Duration, now func() time.Time) *Authenticator {
	if secret == "" {
		secret = uuid.NewString() + uuid.NewString()
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Authenticator{
		db:      db,
		secret:  []byte(secret),
		ttl:     ttl,
		now:     now,
		revoked: make(map[string]time.Time),
	}
}

// Register creates a user with a bcrypt-hashed password.
func (a *Authenticator) Register(ctx context.Context, email, fullName, password, role string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperrors.NewValidationError("email", email, "is not a valid address")
	}
	if len(password) < MinPasswordLength {
		return nil, apperrors.NewValidationError("password", nil, fmt.Sprintf("must be at least %d characters", MinPasswordLength))
	}
	if role == "" {
		role = models.RoleUser
	}
	if role != models.RoleUser && role != models.RoleAdmin {
		return nil, apperrors.NewValidationError("role", role, "must be user or admin")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	row := userRow{
		ID:           uuid.NewString(),
		Email:        email,
		FullName:     strings.TrimSpace(fullName),
		Role:         role,
		PasswordHash: string(hash),
	}
	if err := a.db.WithContext(ctx).Create(&row).Error; err != nil {
		if a.exists(ctx, email) {
			return nil, apperrors.NewValidationError("email", email, "is already registered")
		}
		return nil, apperrors.NewPersistenceError("User", err)
	}
	return row.user(), nil
}

func (a *Authenticator) exists(ctx context.Context, email string) bool {
	var n int64
	a.db.WithContext(ctx).Model(&userRow{}).Where("email = ?", email).Count(&n)
	return n > 0
}

// EnsureAdmin creates the bootstrap admin when no user has that email yet.
func (a *Authenticator) EnsureAdmin(ctx context.Context, email, password string) (bool, error) {
	if email == "" {
		return false, nil
	}
	if a.exists(ctx, strings.ToLower(strings.TrimSpace(email))) {
		return false, nil
	}
	if _, err := a.Register(ctx, email, "Administrator", password, models.RoleAdmin); err != nil {
		return false, err
	}
	return true, nil
}

// Login checks the password and issues a token.
func (a *Authenticator) Login(ctx context.Context, email, password string) (string, error) {
	var row userRow
	err := a.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", apperrors.ErrInvalidCredentials
	}
	if err != nil {
		return "", apperrors.NewPersistenceError("User", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(row.PasswordHash), []byte(password)); err != nil {
		return "", apperrors.ErrInvalidCredentials
	}
	return a.issue(row)
}

func (a *Authenticator) issue(row userRow) (string, error) {
	now := a.now()
	claims := tokenClaims{
		Email: row.Email,
		Role:  row.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   row.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return token, nil
}

func (a *Authenticator) parse(token string) (*tokenClaims, error) {
	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, apperrors.ErrNotAuthenticated
	}
	a.mu.Lock()
	_, revoked := a.revoked[claims.ID]
	a.mu.Unlock()
	if revoked {
		return nil, apperrors.ErrNotAuthenticated
	}
	return claims, nil
}

// Verify returns the user a token was issued to.
func (a *Authenticator) Verify(ctx context.Context, token string) (*models.User, error) {
	claims, err := a.parse(token)
	if err != nil {
		return nil, err
	}
	var row userRow
	err = a.db.WithContext(ctx).Where("id = ?", claims.Subject).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotAuthenticated
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("User", err)
	}
	return row.user(), nil
}

// Revoke invalidates a token until it would have expired anyway.
func (a *Authenticator) Revoke(token string) {
	claims, err := a.parse(token)
	if err != nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	for id, exp := range a.revoked {
		if exp.Before(now) {
			delete(a.revoked, id)
		}
	}
	if claims.ExpiresAt != nil {
		a.revoked[claims.ID] = claims.ExpiresAt.Time
	}
}

// Users lists every user as entity records. Admin only.
func (a *Authenticator) Users(ctx context.Context, caller *models.User, opts gateway.ListOptions) ([]gateway.Record, error) {
	if !caller.IsAdmin() {
		role := ""
		if caller != nil {
			role = caller.Role
		}
		return nil, apperrors.NewPermissionError("entities/User.list", models.RoleAdmin, role)
	}
	var rows []userRow
	if err := a.db.WithContext(ctx).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, apperrors.NewPersistenceError("User", err)
	}
	recs := make([]gateway.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := gateway.ToRecord(row.user())
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	gateway.SortRecords(recs, opts.Sort)
	if opts.Limit > 0 && len(recs) > opts.Limit {
		recs = recs[:opts.Limit]
	}
	return recs, nil
}
