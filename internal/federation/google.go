package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/fidelio/fidelio/internal/apperr"
	"github.com/fidelio/fidelio/internal/infra"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// GoogleProvider runs the OAuth2 authorization-code exchange against Google
// and reads the userinfo endpoint. Calls go through a circuit breaker.
type GoogleProvider struct {
	cfg         *oauth2.Config
	userInfoURL string
	breaker     *gobreaker.CircuitBreaker
}

func NewGoogleProvider(clientID, clientSecret, redirectURL string, logger *slog.Logger) *GoogleProvider {
	return &GoogleProvider{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL: googleUserInfoURL,
		breaker:     infra.NewBreaker("google-oauth", 5, 30*time.Second, logger),
	}
}

func (g *GoogleProvider) AuthURL(state string) string {
	return g.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

type googleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func (g *GoogleProvider) Exchange(ctx context.Context, code string) (Profile, error) {
	if strings.TrimSpace(code) == "" {
		return Profile{}, fmt.Errorf("authorization code is required: %w", apperr.ErrValidation)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := g.breaker.Execute(func() (any, error) {
		tok, err := g.cfg.Exchange(ctx, code)
		if err != nil {
			var re *oauth2.RetrieveError
			if errors.As(err, &re) {
				return nil, fmt.Errorf("code exchange rejected: %w", apperr.ErrInvalidCredentials)
			}
			return nil, fmt.Errorf("code exchange: %w", err)
		}
		return g.fetchProfile(ctx, g.cfg.Client(ctx, tok))
	})
	if err != nil {
		return Profile{}, err
	}
	return out.(Profile), nil
}

func (g *GoogleProvider) fetchProfile(ctx context.Context, client *http.Client) (Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userInfoURL, nil)
	if err != nil {
		return Profile{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("fetch userinfo: status %d", resp.StatusCode)
	}
	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return Profile{}, fmt.Errorf("decode userinfo: %w", err)
	}
	return Profile{
		Provider:      "google",
		Subject:       info.ID,
		Email:         strings.ToLower(strings.TrimSpace(info.Email)),
		Name:          info.Name,
		AvatarURL:     info.Picture,
		EmailVerified: info.VerifiedEmail,
	}, nil
}
