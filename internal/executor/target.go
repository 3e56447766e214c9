package executor

import (
	"strings"

	"github.com/openshiporg/openship-sub005/internal/model"
)

// TargetKind distinguishes in-process modules from remote HTTP adapters.
type TargetKind int

const (
	Local TargetKind = iota
	Remote
)

// Target is a resolved function slot.
type Target struct {
	Kind   TargetKind
	Module string // Local
	URL    string // Remote
}

func (t Target) String() string {
	if t.Kind == Remote {
		return t.URL
	}
	return t.Module
}

// Resolve maps a platform function slot to a Target. Values starting with
// "http" are remote endpoints; anything else names a registered module.
func Resolve(p *model.Platform, slot string) (Target, error) {
	v := strings.TrimSpace(p.Function(slot))
	if v == "" {
		return Target{}, &AdapterError{Cause: CauseMissingFunction, Function: slot, Module: "unwired"}
	}
	if strings.HasPrefix(v, "http") {
		return Target{Kind: Remote, URL: v}, nil
	}
	return Target{Kind: Local, Module: v}, nil
}

// Endpoint is a shop or channel binding on its platform: everything the
// executor needs to build the "platform" argument and persist refreshed tokens.
type Endpoint struct {
	Kind     model.PlatformKind
	ID       string
	Binding  model.Binding
	Platform *model.Platform
}

func ShopEndpoint(s *model.Shop) Endpoint {
	return Endpoint{Kind: model.PlatformKindShop, ID: s.ID, Binding: s.Binding, Platform: s.Platform}
}

func ChannelEndpoint(c *model.Channel) Endpoint {
	return Endpoint{Kind: model.PlatformKindChannel, ID: c.ID, Binding: c.Binding, Platform: c.Platform}
}

// PlatformEndpoint is used before a binding exists (OAuth start and callback).
func PlatformEndpoint(p *model.Platform) Endpoint {
	return Endpoint{Kind: p.Kind, Platform: p}
}
