package session

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/matheus3301/golaco/internal/config"
)

const DefaultSessionName = "main"

// ErrInvalidName is wrapped by every session name rejection.
var ErrInvalidName = errors.New("invalid session name")

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name can be used as a session directory.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("%w %q: must match %s", ErrInvalidName, name, nameRegexp)
	}
	return nil
}

// Resolve determines the active session name using precedence:
// 1. flagOverride (--session flag)
// 2. GOLACO_SESSION
// 3. config.toml default_session
// 4. "main"
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if env := os.Getenv("GOLACO_SESSION"); env != "" {
		return env
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}

// ResolveValid is Resolve followed by ValidateName.
func ResolveValid(flagOverride string) (string, error) {
	name := Resolve(flagOverride)
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}
