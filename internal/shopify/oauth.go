package shopify

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/openshiporg/openship-sub005/internal/adapter"
	"github.com/openshiporg/openship-sub005/internal/model"
)

// oauthConfig builds the per-shop OAuth2 config. Shopify's endpoints live on
// the shop's own domain.
func (c *Client) oauthConfig(domain, clientID, clientSecret, redirectURL string) *oauth2.Config {
	base := shopURL(domain)
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       c.scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   base + "/admin/oauth/authorize",
			TokenURL:  base + "/admin/oauth/access_token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// oauthContext makes the oauth2 package use the adapter's HTTP client.
func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// OAuthStart returns the shop's app install URL.
func (c *Client) OAuthStart(ctx context.Context, req *adapter.OAuthRequest) (*adapter.OAuthResult, error) {
	if req.Platform.Domain == "" {
		return nil, model.NewValidationError("domain", "is required")
	}
	if req.Platform.AppKey == "" {
		return nil, model.NewValidationError("appKey", "platform has no Shopify client id")
	}
	cfg := c.oauthConfig(req.Platform.Domain, req.Platform.AppKey, req.Platform.AppSecret, req.CallbackURL)
	return &adapter.OAuthResult{AuthURL: cfg.AuthCodeURL(req.State)}, nil
}

// OAuthCallback exchanges the authorization code for tokens. App
// credentials on the request override the platform's.
func (c *Client) OAuthCallback(ctx context.Context, req *adapter.OAuthCallbackRequest) (*adapter.OAuthTokens, error) {
	if req.Code == "" {
		return nil, model.NewValidationError("code", "is required")
	}
	domain := req.Shop
	if domain == "" {
		domain = req.Platform.Domain
	}
	if domain == "" || !validShopDomain(domain) {
		return nil, model.NewValidationError("shop", "must be a myshopify.com domain")
	}
	key, secret := req.Platform.AppKey, req.Platform.AppSecret
	if req.AppKey != "" {
		key = req.AppKey
	}
	if req.AppSecret != "" {
		secret = req.AppSecret
	}

	cfg := c.oauthConfig(domain, key, secret, req.RedirectURI)
	tok, err := cfg.Exchange(c.oauthContext(ctx), req.Code)
	if err != nil {
		return nil, oauthError(err)
	}
	return tokensFrom(tok), nil
}

// RefreshToken renews an expiring offline access token.
func (c *Client) RefreshToken(ctx context.Context, p adapter.PlatformConfig) (*adapter.OAuthTokens, error) {
	if p.RefreshToken == "" {
		return nil, model.NewUnauthorizedError("Shopify token expired and no refresh token is stored")
	}
	cfg := c.oauthConfig(p.Domain, p.AppKey, p.AppSecret, "")
	// An expiry in the past forces the token source to refresh.
	src := cfg.TokenSource(c.oauthContext(ctx), &oauth2.Token{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		Expiry:       c.now().Add(-time.Minute),
	})
	tok, err := src.Token()
	if err != nil {
		return nil, oauthError(err)
	}
	return tokensFrom(tok), nil
}

func tokensFrom(tok *oauth2.Token) *adapter.OAuthTokens {
	out := &adapter.OAuthTokens{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry
		out.TokenExpiresAt = &exp
	}
	return out
}

func oauthError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < 500 {
		return model.NewUnauthorizedError("Shopify rejected the OAuth grant: " + strings.TrimSpace(string(re.Body)))
	}
	return model.NewUpstreamError("Shopify", err)
}

// validShopDomain rejects callback shop values that could redirect the
// token exchange to an arbitrary host.
func validShopDomain(domain string) bool {
	d := strings.TrimPrefix(strings.TrimPrefix(domain, "https://"), "http://")
	d = strings.TrimSuffix(d, "/")
	if strings.HasPrefix(domain, "http://") {
		// plain http is only accepted for local test servers
		return strings.HasPrefix(d, "127.0.0.1:") || strings.HasPrefix(d, "localhost:")
	}
	if !strings.Contains(d, ".") {
		return d != "" && !strings.ContainsAny(d, "/:?#@")
	}
	return strings.HasSuffix(d, ".myshopify.com") && !strings.ContainsAny(d, "/:?#@")
}
