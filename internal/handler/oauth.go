package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/openshiporg/openship-sub005/internal/adapter"
	"github.com/openshiporg/openship-sub005/internal/executor"
	"github.com/openshiporg/openship-sub005/internal/model"
	"github.com/openshiporg/openship-sub005/internal/store"
)

const (
	stateIssuer = "openship"
	stateTTL    = 10 * time.Minute
)

// stateClaims carry the install being authorized through the platform's
// redirect. The subject is the user id.
type stateClaims struct {
	jwt.RegisteredClaims
	PlatformID string `json:"platform_id"`
	Domain     string `json:"domain,omitempty"`
	Name       string `json:"name,omitempty"`
}

type oauthStartResponse struct {
	AuthURL string `json:"authUrl"`
}

type oauthCallbackResponse struct {
	Kind model.PlatformKind `json:"kind"`
	ID   string             `json:"id"`
}

func (h *Handler) callbackURL() string {
	return h.baseURL + "/api/oauth/callback"
}

func (h *Handler) signState(c stateClaims) (string, error) {
	if len(h.stateSecret) == 0 {
		return "", model.NewInternalError(errors.New("oauth state secret not configured"))
	}
	now := h.now()
	c.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    stateIssuer,
		Subject:   c.Subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(h.stateSecret)
}

func (h *Handler) parseState(s string) (*stateClaims, error) {
	if len(h.stateSecret) == 0 {
		return nil, model.NewInternalError(errors.New("oauth state secret not configured"))
	}
	var c stateClaims
	_, err := jwt.ParseWithClaims(s, &c,
		func(*jwt.Token) (any, error) { return h.stateSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithTimeFunc(h.now),
	)
	if err != nil || c.Subject == "" || c.PlatformID == "" {
		return nil, model.NewUnauthorizedError("invalid or expired OAuth state")
	}
	return &c, nil
}

// oauthStart returns the platform's authorization URL for installing a shop
// or channel at domain.
func (h *Handler) oauthStart(ctx context.Context, user *model.User, platformID, domain, name string) (string, error) {
	p, err := h.Store.GetPlatform(ctx, platformID)
	if err != nil {
		return "", notFound(err, "platform")
	}
	if p.UserID != "" && p.UserID != user.ID {
		return "", model.NewNotFoundError("platform")
	}
	state, err := h.signState(stateClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: user.ID},
		PlatformID:       p.ID,
		Domain:           domain,
		Name:             name,
	})
	if err != nil {
		return "", err
	}
	ep := executor.PlatformEndpoint(p)
	ep.Binding.Domain = domain
	res, err := h.Adapters.OAuthStart(ctx, ep, h.callbackURL(), state)
	if err != nil {
		return "", err
	}
	return res.AuthURL, nil
}

// oauthCallback exchanges the code and stores the tokens on the user's shop
// or channel for the domain, creating it on first install.
func (h *Handler) oauthCallback(ctx context.Context, code, state, shop string) (*oauthCallbackResponse, error) {
	if code == "" {
		return nil, model.NewValidationError("code", "is required")
	}
	claims, err := h.parseState(state)
	if err != nil {
		return nil, err
	}
	p, err := h.Store.GetPlatform(ctx, claims.PlatformID)
	if err != nil {
		return nil, notFound(err, "platform")
	}
	domain := claims.Domain
	if domain == "" {
		domain = shop
	}
	if domain == "" {
		return nil, model.NewValidationError("shop", "is required")
	}

	ep := executor.PlatformEndpoint(p)
	ep.Binding.Domain = domain
	tokens, err := h.Adapters.OAuthCallback(ctx, ep, code, shop, state, h.callbackURL())
	if err != nil {
		return nil, err
	}
	if tokens.AccessToken == "" {
		return nil, model.NewUpstreamError(p.Name, errors.New("no access token returned"))
	}

	id, err := h.saveInstall(ctx, claims, p, domain, tokens)
	if err != nil {
		return nil, err
	}
	h.logger.Info("platform authorized",
		zap.String("kind", string(p.Kind)),
		zap.String("id", id),
		zap.String("platform_id", p.ID),
		zap.String("user_id", claims.Subject),
	)
	return &oauthCallbackResponse{Kind: p.Kind, ID: id}, nil
}

func (h *Handler) saveInstall(ctx context.Context, claims *stateClaims, p *model.Platform, domain string, tokens *adapter.OAuthTokens) (string, error) {
	expires := tokens.ExpiresAt(h.now())
	binding := model.Binding{
		Domain:         domain,
		AccessToken:    tokens.AccessToken,
		RefreshToken:   tokens.RefreshToken,
		TokenExpiresAt: expires,
	}
	name := claims.Name
	if name == "" {
		name = domain
	}

	switch p.Kind {
	case model.PlatformKindShop:
		existing, err := h.Store.FindShopByDomain(ctx, claims.Subject, p.ID, domain)
		if err == nil {
			return existing.ID, h.Store.SaveTokens(ctx, p.Kind, existing.ID, tokens.AccessToken, tokens.RefreshToken, expires)
		}
		if !errors.Is(err, store.ErrNotFound) {
			return "", err
		}
		s := &model.Shop{Name: name, Binding: binding, LinkMode: model.LinkModeSequential, PlatformID: p.ID, UserID: claims.Subject}
		if err := h.Store.CreateShop(ctx, s); err != nil {
			return "", err
		}
		return s.ID, nil
	case model.PlatformKindChannel:
		existing, err := h.Store.FindChannelByDomain(ctx, claims.Subject, p.ID, domain)
		if err == nil {
			return existing.ID, h.Store.SaveTokens(ctx, p.Kind, existing.ID, tokens.AccessToken, tokens.RefreshToken, expires)
		}
		if !errors.Is(err, store.ErrNotFound) {
			return "", err
		}
		c := &model.Channel{Name: name, Binding: binding, PlatformID: p.ID, UserID: claims.Subject}
		if err := h.Store.CreateChannel(ctx, c); err != nil {
			return "", err
		}
		return c.ID, nil
	}
	return "", model.NewValidationError("platform", "unknown kind "+string(p.Kind))
}

// GET /api/oauth/{platformId}/start?domain=&name=
func (h *Handler) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	q := r.URL.Query()
	authURL, err := h.oauthStart(r.Context(), user, r.PathValue("platformId"), q.Get("domain"), q.Get("name"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, oauthStartResponse{AuthURL: authURL})
}

// GET /api/oauth/callback?code=&state=&shop=
func (h *Handler) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := h.oauthCallback(r.Context(), q.Get("code"), q.Get("state"), q.Get("shop"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}
