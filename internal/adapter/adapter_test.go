package adapter

import (
	"testing"
	"time"

	"github.com/openshiporg/openship-sub005/internal/model"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	m := &Mock{}
	r.Register("shopify", m)
	r.Register("woocommerce", &Mock{})

	got, ok := r.Lookup("shopify")
	if !ok || got != m {
		t.Errorf("Lookup(shopify) = %v, %v; want registered mock", got, ok)
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Error("Lookup(missing) ok = true, want false")
	}
	names := r.Names()
	if len(names) != 2 || names[0] != "shopify" || names[1] != "woocommerce" {
		t.Errorf("Names() = %v", names)
	}
}

func TestConfigFor(t *testing.T) {
	exp := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := model.Binding{Domain: "shop.example", AccessToken: "tok", RefreshToken: "ref", TokenExpiresAt: &exp}
	p := &model.Platform{AppKey: "key", AppSecret: "secret"}

	cfg := ConfigFor(b, p)
	if cfg.Domain != "shop.example" || cfg.AccessToken != "tok" || cfg.RefreshToken != "ref" {
		t.Errorf("ConfigFor() binding fields = %+v", cfg)
	}
	if cfg.AppKey != "key" || cfg.AppSecret != "secret" {
		t.Errorf("ConfigFor() app fields = %q/%q", cfg.AppKey, cfg.AppSecret)
	}
	if cfg := ConfigFor(b, nil); cfg.AppKey != "" {
		t.Errorf("ConfigFor(nil platform).AppKey = %q, want empty", cfg.AppKey)
	}
}

func TestOAuthTokens_ExpiresAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	abs := now.Add(2 * time.Hour)

	tests := []struct {
		name   string
		tokens OAuthTokens
		want   *time.Time
	}{
		{"absolute wins", OAuthTokens{ExpiresIn: 60, TokenExpiresAt: &abs}, &abs},
		{"relative", OAuthTokens{ExpiresIn: 3600}, ptr(now.Add(time.Hour))},
		{"none", OAuthTokens{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.tokens.ExpiresAt(now)
			if (got == nil) != (tt.want == nil) || (got != nil && !got.Equal(*tt.want)) {
				t.Errorf("ExpiresAt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShippingFor(t *testing.T) {
	o := &model.Order{FirstName: "Ada", LastName: "L", StreetAddress1: "1 Main", State: "CA", Email: "a@x.io"}
	s := ShippingFor(o)
	if s.Address1 != "1 Main" || s.Province != "CA" || s.Email != "a@x.io" {
		t.Errorf("ShippingFor() = %+v", s)
	}
}

func ptr[T any](v T) *T { return &v }
