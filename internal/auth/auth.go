package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"jammy/internal/content"
	"jammy/internal/models"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTokenExpiry = 7 * 24 * time.Hour
	DefaultIssuer      = "jammy"
	loginFailedMessage = "Invalid credentials"
	minPasswordLength  = 6
	maxFailedLogins    = 5
	lockDuration       = 30 * time.Minute
)

var (
	ErrUserExists   = errors.New("user already exists")
	ErrWeakPassword = errors.New("password must be at least 6 characters")
	ErrInvalidRole  = errors.New("role must be admin or member")
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegistrationRequest creates a new account with the member role unless the
// username is listed in Config.AdminUsers.
type RegistrationRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Success     bool        `json:"success"`
	Message     string      `json:"message,omitempty"`
	Token       string      `json:"token,omitempty"`
	TokenExpiry int64       `json:"tokenExpiry,omitempty"`
	Username    string      `json:"username,omitempty"`
	Role        models.Role `json:"role,omitempty"`
}

type UserCredentials struct {
	models.User
	PasswordHash string `json:"passwordHash"`
	// Consecutive failed logins; the account locks at maxFailedLogins.
	FailedLoginAttempts int   `json:"failedLoginAttempts"`
	LockedUntil         int64 `json:"lockedUntil"`
}

func (uc *UserCredentials) locked(now time.Time) bool {
	return uc.LockedUntil > now.Unix()
}

func (uc *UserCredentials) registerFailure(now time.Time) {
	uc.FailedLoginAttempts++
	if uc.FailedLoginAttempts >= maxFailedLogins {
		uc.LockedUntil = now.Add(lockDuration).Unix()
	}
}

func (uc *UserCredentials) resetFailures() {
	uc.FailedLoginAttempts = 0
	uc.LockedUntil = 0
}

// CredentialStore persists accounts.
type CredentialStore interface {
	UpsertCredentials(credentials UserCredentials) error
	ListCredentials() ([]UserCredentials, error)
}

type Config struct {
	Secret      string        `json:"secret"`
	TokenExpiry time.Duration `json:"tokenExpiry"`
	Issuer      string        `json:"issuer"`
	AdminUsers  []string      `json:"adminUsers"`
	BcryptCost  int           `json:"-"`
}

func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("secret is required")
	}
	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}
	if c.Issuer == "" {
		c.Issuer = DefaultIssuer
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = bcrypt.DefaultCost
	}
	return nil
}

type AuthService struct {
	Config
	store  CredentialStore
	tokens *TokenManager
	users  *geche.Locker[string, *UserCredentials]
	// revoked holds logged-off token IDs until they would have expired anyway.
	revoked geche.Geche[string, string]
	now     func() time.Time
}

func NewAuthService(ctx context.Context, config Config, store CredentialStore) (*AuthService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	as := &AuthService{
		Config:  config,
		store:   store,
		tokens:  NewTokenManager([]byte(config.Secret), config.Issuer, config.TokenExpiry),
		users:   geche.NewLocker[string, *UserCredentials](geche.NewMapCache[string, *UserCredentials]()),
		revoked: geche.NewMapTTLCache[string, string](ctx, config.TokenExpiry, time.Minute),
		now:     time.Now,
	}

	credentials, err := store.ListCredentials()
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	tx := as.users.Lock()
	for _, c := range credentials {
		tx.Set(c.Username, &c)
	}
	tx.Unlock()

	return as, nil
}

// Register creates an account from a public registration request.
func (as *AuthService) Register(req RegistrationRequest) (models.User, error) {
	role := models.RoleMember
	if slices.Contains(as.AdminUsers, req.Username) {
		role = models.RoleAdmin
	}
	return as.AddUser(req.Username, req.Password, role)
}

// AddUser creates an account with an explicit role.
func (as *AuthService) AddUser(username, password string, role models.Role) (models.User, error) {
	username = strings.TrimSpace(username)
	if err := content.ValidateUsername(username); err != nil {
		return models.User{}, err
	}
	if len(password) < minPasswordLength {
		return models.User{}, ErrWeakPassword
	}
	if role != models.RoleAdmin {
		role = models.RoleMember
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), as.BcryptCost)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	tx := as.users.Lock()
	defer tx.Unlock()
	if _, err := tx.Get(username); err == nil {
		return models.User{}, ErrUserExists
	}

	creds := &UserCredentials{
		User: models.User{
			ID:        uuid.NewString(),
			Username:  username,
			Role:      role,
			CreatedAt: as.now().UTC(),
		},
		PasswordHash: string(hash),
	}
	if err := as.store.UpsertCredentials(*creds); err != nil {
		return models.User{}, fmt.Errorf("failed to store user: %w", err)
	}
	tx.Set(username, creds)

	return creds.User, nil
}

func (as *AuthService) Login(req LoginRequest) LoginResponse {
	now := as.now()

	tx := as.users.RLock()
	cached, err := tx.Get(req.Username)
	var user UserCredentials
	if err == nil {
		user = *cached
	}
	tx.Unlock()
	if err != nil {
		return LoginResponse{Message: loginFailedMessage}
	}

	if user.locked(now) {
		minutes := (user.LockedUntil - now.Unix() + 59) / 60
		return LoginResponse{
			Message: fmt.Sprintf("Account locked. Try again in %d minutes", minutes),
		}
	}

	// bcrypt runs without holding the user lock.
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		as.update(user.Username, user.ID, func(uc *UserCredentials) bool {
			uc.registerFailure(now)
			return true
		})
		return LoginResponse{Message: loginFailedMessage}
	}

	token, expiresAt, err := as.tokens.Issue(models.UserIdentity{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
	})
	if err != nil {
		slog.Error("login failed", "user_id", user.ID, "error", err)
		return LoginResponse{Message: "internal error"}
	}

	as.update(user.Username, user.ID, func(uc *UserCredentials) bool {
		if uc.FailedLoginAttempts == 0 && uc.LockedUntil == 0 {
			return false
		}
		uc.resetFailures()
		return true
	})

	return LoginResponse{
		Success:     true,
		Token:       token,
		TokenExpiry: expiresAt.Unix(),
		Username:    user.Username,
		Role:        user.Role,
	}
}

// update applies fn to the cached account of username and persists it when
// fn reports a change. Accounts replaced since the caller read them are left
// alone.
func (as *AuthService) update(username, userID string, fn func(uc *UserCredentials) bool) {
	tx := as.users.Lock()
	defer tx.Unlock()
	uc, err := tx.Get(username)
	if err != nil || uc.ID != userID {
		return
	}
	if fn(uc) {
		as.persist(*uc)
	}
}

// Logoff revokes token until its natural expiry.
func (as *AuthService) Logoff(token string) error {
	claims, err := as.tokens.Parse(token)
	if err != nil {
		return err
	}
	as.revoked.Set(claims.ID, claims.Subject)
	return nil
}

// Verify resolves a bearer token to the current identity of the account it
// was issued for.
func (as *AuthService) Verify(token string) (models.UserIdentity, error) {
	claims, err := as.tokens.Parse(token)
	if err != nil {
		return models.UserIdentity{}, err
	}
	if _, err := as.revoked.Get(claims.ID); err == nil {
		return models.UserIdentity{}, ErrInvalidToken
	}

	tx := as.users.RLock()
	user, err := tx.Get(claims.Username)
	var identity models.UserIdentity
	if err == nil && user.ID == claims.Subject {
		identity = models.UserIdentity{UserID: user.ID, Username: user.Username, Role: user.Role}
	}
	tx.Unlock()
	if identity.UserID == "" {
		return models.UserIdentity{}, ErrInvalidToken
	}

	// The stored role wins over the role the token was issued with.
	return identity, nil
}

// SetRole changes the role of username. Tokens already issued carry the new
// role from their next verification.
func (as *AuthService) SetRole(username string, role models.Role) (models.User, error) {
	if role != models.RoleAdmin && role != models.RoleMember {
		return models.User{}, ErrInvalidRole
	}
	tx := as.users.Lock()
	defer tx.Unlock()
	uc, err := tx.Get(username)
	if err != nil {
		return models.User{}, models.ErrNotFound
	}
	updated := *uc
	updated.Role = role
	if err := as.store.UpsertCredentials(updated); err != nil {
		return models.User{}, fmt.Errorf("failed to store user: %w", err)
	}
	*uc = updated
	return uc.User, nil
}

// GetUser returns the account of username.
func (as *AuthService) GetUser(username string) (models.User, error) {
	tx := as.users.RLock()
	defer tx.Unlock()
	user, err := tx.Get(username)
	if err != nil {
		return models.User{}, models.ErrNotFound
	}
	return user.User, nil
}

func (as *AuthService) persist(creds UserCredentials) {
	if err := as.store.UpsertCredentials(creds); err != nil {
		slog.Error("failed to persist credentials", "user_id", creds.ID, "error", err)
	}
}
