// Package settings manages the user preferences record, including the
// optional password that gates destructive actions in strict mode.
package settings

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/haukened/sitewall/internal/block/common/log"
	"github.com/haukened/sitewall/internal/block/domain"
	"github.com/haukened/sitewall/internal/block/repos/rulestore"
)

const (
	pbkdf2Iterations = 100_000
	pbkdf2KeyLen     = 32
	saltLen          = 16
	minPasswordLen   = 6
)

// ErrPasswordTooShort is returned by SetPassword for passwords under six
// characters.
var ErrPasswordTooShort = errors.New("password must be at least 6 characters")

// Service reads and writes the settings record.
type Service struct {
	store  rulestore.Store
	logger log.Logger
}

func New(store rulestore.Store, logger log.Logger) *Service {
	if logger == nil {
		logger = log.GetLogger()
	}
	return &Service{store: store, logger: logger}
}

// Get returns the persisted settings, defaulted when absent.
func (s *Service) Get(ctx context.Context) (domain.Settings, error) {
	return s.store.Settings(ctx)
}

// Save persists the settings record. Unknown modes are rejected.
func (s *Service) Save(ctx context.Context, settings domain.Settings) error {
	if settings.Mode != domain.ModeNormal && settings.Mode != domain.ModeStrict {
		return fmt.Errorf("unknown mode %q", settings.Mode)
	}
	if err := s.store.SaveSettings(ctx, settings); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}

// SetPassword hashes and stores a new password, enabling password
// protection. The stored form is "salt:hex(pbkdf2-sha256)".
func (s *Service) SetPassword(ctx context.Context, password string) error {
	if len(password) < minPasswordLen {
		return ErrPasswordTooShort
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generating salt: %w", err)
	}

	settings, err := s.store.Settings(ctx)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	settings.EnablePassword = true
	settings.PasswordHash = hashPassword(password, hex.EncodeToString(salt))

	if err := s.store.SaveSettings(ctx, settings); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	s.logger.Info(nil, "password updated")
	return nil
}

// VerifyPassword checks input against the stored hash. An empty stored
// hash never verifies.
func (s *Service) VerifyPassword(ctx context.Context, input string) (bool, error) {
	settings, err := s.store.Settings(ctx)
	if err != nil {
		return false, fmt.Errorf("loading settings: %w", err)
	}
	if settings.PasswordHash == "" {
		return false, nil
	}

	salt, _, ok := strings.Cut(settings.PasswordHash, ":")
	if !ok {
		return false, nil
	}
	candidate := hashPassword(input, salt)
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(settings.PasswordHash)) == 1, nil
}

// ClearPassword disables password protection and drops the stored hash.
func (s *Service) ClearPassword(ctx context.Context) error {
	settings, err := s.store.Settings(ctx)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	settings.EnablePassword = false
	settings.PasswordHash = ""
	if err := s.store.SaveSettings(ctx, settings); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}

func hashPassword(password, salt string) string {
	key := pbkdf2.Key([]byte(password), []byte(salt), pbkdf2Iterations, pbkdf2KeyLen, sha256.New)
	return salt + ":" + hex.EncodeToString(key)
}
