package server

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/jmorel/visio/internal/domain"
)

var (
	ErrUserExists     = errors.New("username already taken")
	ErrBadCredentials = errors.New("invalid username or password")
)

type account struct {
	user *domain.User
	hash []byte
}

// Auth holds registered accounts and the bearer tokens issued to them.
// Tokens live for the process lifetime; logging in again issues a new one
// without revoking the old.
type Auth struct {
	mu     sync.RWMutex
	users  map[string]*account
	tokens map[string]string
}

func NewAuth() *Auth {
	return &Auth{
		users:  make(map[string]*account),
		tokens: make(map[string]string),
	}
}

func (a *Auth) Register(username, email, password string) (*domain.User, error) {
	user, err := domain.NewUser(username, email)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, ErrBadCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.users[user.Username]; ok {
		return nil, ErrUserExists
	}
	a.users[user.Username] = &account{user: user, hash: hash}
	log.Info().Str("module", "server.auth").Str("username", user.Username).Msg("user registered")
	return user, nil
}

// Login checks the password and issues a bearer token for the session.
func (a *Auth) Login(username, password string) (string, error) {
	a.mu.RLock()
	acc, ok := a.users[username]
	a.mu.RUnlock()
	if !ok {
		return "", ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acc.hash, []byte(password)); err != nil {
		return "", ErrBadCredentials
	}

	token := uuid.NewString()
	a.mu.Lock()
	a.tokens[token] = username
	a.mu.Unlock()
	return token, nil
}

// Principal resolves a bearer token to the username it was issued for.
func (a *Auth) Principal(token string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	username, ok := a.tokens[token]
	return username, ok
}

// bearerToken extracts the token from an Authorization header value, falling
// back to the raw value so websocket clients can pass it as a query param.
func bearerToken(header string) string {
	if t, ok := strings.CutPrefix(header, "Bearer "); ok {
		return t
	}
	return header
}
