package auth

import (
	"context"
	"fmt"

	"github.com/zhouzirui/abby/backend/internal/model/user"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	googleoauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// Provider is an OAuth2 identity provider.
type Provider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (user.User, error)
}

// GoogleConfig configures GoogleProvider. Endpoint and APIEndpoint default
// to Google's production endpoints.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Endpoint     *oauth2.Endpoint
	APIEndpoint  string
}

// GoogleProvider signs users in with Google and reads their profile.
type GoogleProvider struct {
	oauth      *oauth2.Config
	apiOptions []option.ClientOption
}

func NewGoogleProvider(cfg GoogleConfig) *GoogleProvider {
	endpoint := google.Endpoint
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}

	p := &GoogleProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", googleoauth2.UserinfoEmailScope, googleoauth2.UserinfoProfileScope},
			Endpoint:     endpoint,
		},
	}
	if cfg.APIEndpoint != "" {
		p.apiOptions = append(p.apiOptions, option.WithEndpoint(cfg.APIEndpoint))
	}
	return p
}

func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
}

// Exchange trades the authorization code for a token and fetches the profile.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (user.User, error) {
	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return user.User{}, fmt.Errorf("exchange authorization code: %w", err)
	}

	opts := append([]option.ClientOption{option.WithTokenSource(p.oauth.TokenSource(ctx, tok))}, p.apiOptions...)
	svc, err := googleoauth2.NewService(ctx, opts...)
	if err != nil {
		return user.User{}, fmt.Errorf("create userinfo service: %w", err)
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return user.User{}, fmt.Errorf("fetch userinfo: %w", err)
	}
	if info.Id == "" {
		return user.User{}, fmt.Errorf("fetch userinfo: missing user id")
	}

	return user.User{
		UID:         info.Id,
		DisplayName: user.StringPtr(info.Name),
		Email:       user.StringPtr(info.Email),
		PhotoURL:    user.StringPtr(info.Picture),
	}, nil
}
