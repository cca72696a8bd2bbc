package offline

import (
	"errors"
	"fmt"
	"strings"
)

// Policy decides the order in which the store and the network are consulted
// for a sub-resource request.
type Policy string

const (
	PolicyStoreFirst   Policy = "store-first"
	PolicyNetworkFirst Policy = "network-first"
)

// ParsePolicy accepts the policy names used in the config file. An empty
// value selects store-first.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyStoreFirst:
		return PolicyStoreFirst, nil
	case PolicyNetworkFirst:
		return PolicyNetworkFirst, nil
	default:
		return "", fmt.Errorf("unknown policy %q", s)
	}
}

// State is the lifecycle state of the proxy.
type State int

const (
	StateInstalling State = iota
	StateWaiting
	StateUpdating
	StateActive
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateWaiting:
		return "waiting"
	case StateUpdating:
		return "updating"
	case StateActive:
		return "active"
	}
	return "unknown"
}

// RequestKey identifies a cached response. Only GET keys are ever stored.
type RequestKey struct {
	Method string
	URL    string
}

func (k RequestKey) String() string { return k.Method + " " + k.URL }

// Values of the X-Offline-Cache response header.
const (
	OutcomeHit                = "hit"
	OutcomeMiss               = "miss"
	OutcomeNetwork            = "network"
	OutcomeNavigationFallback = "navigation-fallback"
	OutcomeFallback           = "fallback"
	OutcomeBypass             = "bypass"
	OutcomeIgnoreByCookie     = "ignore-by-cookie"
	OutcomeUncontrolled       = "uncontrolled"
	OutcomeBadGateway         = "bad-gateway"
)

// HeaderOutcome carries the outcome on every proxied response.
const HeaderOutcome = "X-Offline-Cache"

var (
	// ErrNotInstalled is returned by Activate before install has finished.
	ErrNotInstalled = errors.New("offline: generation not installed")
	// ErrNotValidated is returned by NewService for a config that skipped Validate.
	ErrNotValidated = errors.New("offline: config not validated")
)
