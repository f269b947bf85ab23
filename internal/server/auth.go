package server

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/charmbracelet/ssh"
	"github.com/johan-st/dbconsole/internal/access"
	"github.com/johan-st/dbconsole/internal/config"
	gossh "golang.org/x/crypto/ssh"
)

// NameGenerator produces names for anonymous users.
type NameGenerator interface {
	GenerateAnonymousName() string
}

// Authenticator handles SSH authentication.
type Authenticator struct {
	config *config.Config
	names  NameGenerator
	logger *slog.Logger
}

// NewAuthenticator creates a new authenticator.
func NewAuthenticator(cfg *config.Config, names NameGenerator, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		config: cfg,
		names:  names,
		logger: logger,
	}
}

// PublicKeyHandler returns a handler for public key authentication.
func (a *Authenticator) PublicKeyHandler() ssh.PublicKeyHandler {
	return func(ctx ssh.Context, key ssh.PublicKey) bool {
		fingerprint := FingerprintKey(key)

		if user := a.findUserByKey(fingerprint, key); user != nil {
			user.RemoteAddr = ctx.RemoteAddr().String()
			ctx.SetValue(ctxKeyUser, user)
			a.logger.Info("authenticated", "user", user.Name, "remote", user.RemoteAddr)
			return true
		}

		if _, unknownKeys := a.config.AnonymousLogins(); unknownKeys {
			user := a.anonymous(ctx.RemoteAddr().String())
			user.PublicKeyFP = fingerprint
			ctx.SetValue(ctxKeyUser, user)
			a.logger.Info("anonymous login", "name", user.AnonymousName, "remote", user.RemoteAddr, "key", FingerprintKeyShort(key))
			return true
		}

		a.logger.Warn("authentication failed", "key", fingerprint, "remote", ctx.RemoteAddr().String())
		return false
	}
}

// KeyboardInteractiveHandler returns a handler for keyboard-interactive auth,
// or nil when keyless logins are disabled.
func (a *Authenticator) KeyboardInteractiveHandler() ssh.KeyboardInteractiveHandler {
	if keyless, _ := a.config.AnonymousLogins(); !keyless {
		return nil
	}

	return func(ctx ssh.Context, _ gossh.KeyboardInteractiveChallenge) bool {
		// Re-checked per login since the config may have been reloaded.
		if keyless, _ := a.config.AnonymousLogins(); !keyless {
			return false
		}
		user := a.anonymous(ctx.RemoteAddr().String())
		ctx.SetValue(ctxKeyUser, user)
		a.logger.Info("anonymous keyboard-interactive login", "name", user.AnonymousName, "remote", user.RemoteAddr)
		return true
	}
}

func (a *Authenticator) anonymous(remoteAddr string) *access.UserInfo {
	return &access.UserInfo{
		IsAnonymous:   true,
		AnonymousName: a.names.GenerateAnonymousName(),
		RemoteAddr:    remoteAddr,
	}
}

// findUserByKey finds a configured user by their public key, either as an
// authorized_keys line or as a bare fingerprint.
func (a *Authenticator) findUserByKey(fingerprint string, key ssh.PublicKey) *access.UserInfo {
	for _, user := range a.config.UserList() {
		for _, pubKeyStr := range user.PublicKeys {
			parsedKey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(pubKeyStr))
			if err == nil && ssh.KeysEqual(parsedKey, key) {
				return &access.UserInfo{Name: user.Name, IsAdmin: user.Admin, PublicKeyFP: fingerprint}
			}
		}
	}
	if user := a.config.FindUserByPublicKey(fingerprint); user != nil {
		return &access.UserInfo{Name: user.Name, IsAdmin: user.Admin, PublicKeyFP: fingerprint}
	}
	return nil
}

// GetUserFromContext retrieves user info stored during authentication.
func GetUserFromContext(ctx context.Context) *access.UserInfo {
	if user, ok := ctx.Value(ctxKeyUser).(*access.UserInfo); ok {
		return user
	}
	return nil
}

// FingerprintKey returns the SHA256 fingerprint of a public key.
func FingerprintKey(key ssh.PublicKey) string {
	hash := sha256.Sum256(key.Marshal())
	return fmt.Sprintf("SHA256:%s", base64.RawStdEncoding.EncodeToString(hash[:]))
}

// FingerprintKeyShort returns a shortened fingerprint for display.
func FingerprintKeyShort(key ssh.PublicKey) string {
	fp := FingerprintKey(key)
	if len(fp) > 20 {
		return fp[:20] + "..."
	}
	return fp
}
