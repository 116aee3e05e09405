package engine

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"aprsgate/config"
)

// MinPasswordLength is the shortest accepted API password.
const MinPasswordLength = 8

// SetWebUser creates or replaces an API user, storing a bcrypt hash of the
// password, and saves the config.
func (e *Engine) SetWebUser(username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if strings.Contains(username, ":") {
		return fmt.Errorf("%w: username must not contain ':'", ErrInvalidInput)
	}
	if len(password) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, MinPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	e.cfg.Lock()
	e.cfg.SetWebUser(config.WebUser{Username: username, PasswordHash: string(hash)})
	if err := e.saveConfig(); err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}
	e.emit(EventConfigChanged, SystemEvent{Detail: "web user " + username})
	return nil
}

// CheckWebUser reports whether the credentials match a configured API user.
func (e *Engine) CheckWebUser(username, password string) bool {
	e.cfg.Lock()
	u := e.cfg.FindWebUser(username)
	var hash string
	if u != nil {
		hash = u.PasswordHash
	}
	e.cfg.Unlock()
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// WebAuthRequired reports whether any API user is configured.
func (e *Engine) WebAuthRequired() bool {
	e.cfg.Lock()
	defer e.cfg.Unlock()
	return len(e.cfg.Web.Users) > 0
}
