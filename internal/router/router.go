// Package router maps a front-protocol model name to the upstream tier that
// serves it.
package router

import (
	"strings"

	"github.com/tjfontaine/messages-bridge/internal/config"
)

// Tier names.
const (
	TierPrimary   = "primary"
	TierSecondary = "secondary"
)

// Route is everything the provider client needs for one request.
type Route struct {
	Tier       string
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	APIVersion string
}

// Resolve returns the route for name. Native upstream names pass through to
// the primary tier, names containing the secondary marker go to the secondary
// tier, and everything else goes to the primary tier's model. Callers pass the
// snapshot they hold for the whole request.
func Resolve(cfg *config.Config, name string) Route {
	for _, prefix := range cfg.Routing.NativePrefixes {
		if prefix != "" && strings.HasPrefix(name, prefix) {
			route := ForTier(cfg, TierPrimary)
			route.Model = name
			return route
		}
	}

	marker := strings.ToLower(cfg.Routing.SecondaryMarker)
	if marker != "" && strings.Contains(strings.ToLower(name), marker) {
		return ForTier(cfg, TierSecondary)
	}

	return ForTier(cfg, TierPrimary)
}

// ForTier returns the route for a tier's configured model. Unknown tiers get
// the primary tier.
func ForTier(cfg *config.Config, tier string) Route {
	tc := cfg.Primary
	if tier == TierSecondary {
		tc = cfg.Secondary
	} else {
		tier = TierPrimary
	}
	return Route{
		Tier:       tier,
		Provider:   tc.Provider,
		Model:      tc.Model,
		APIKey:     tc.APIKey,
		BaseURL:    tc.BaseURL,
		APIVersion: tc.APIVersion,
	}
}
