package federation

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/fidelio/fidelio/internal/apperr"
)

// Profile holds identity attributes an external provider has vouched for.
// EmailVerified is only ever taken from the provider's own claim.
type Profile struct {
	Provider      string
	Subject       string
	Email         string
	Name          string
	AvatarURL     string
	EmailVerified bool
}

// Provider exchanges an authorization artifact for a verified profile.
type Provider interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (Profile, error)
}

// StaticProvider resolves pre-registered codes. Used in development and tests.
type StaticProvider struct {
	mu       sync.Mutex
	profiles map[string]Profile
	baseURL  string
}

func NewStaticProvider(baseURL string) *StaticProvider {
	return &StaticProvider{profiles: make(map[string]Profile), baseURL: baseURL}
}

// Register makes code exchangeable for p exactly once.
func (s *StaticProvider) Register(code string, p Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Provider == "" {
		p.Provider = "static"
	}
	s.profiles[code] = p
}

func (s *StaticProvider) AuthURL(state string) string {
	return strings.TrimRight(s.baseURL, "/") + "/authorize?state=" + state
}

func (s *StaticProvider) Exchange(_ context.Context, code string) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[code]
	if !ok {
		return Profile{}, fmt.Errorf("unknown authorization code: %w", apperr.ErrInvalidCredentials)
	}
	delete(s.profiles, code)
	return p, nil
}
