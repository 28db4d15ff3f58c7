package rpcclient

import (
	"errors"
	"fmt"
	"strings"
)

// URLSchemePreference selects which URL of an RPC is dialed when both are configured.
type URLSchemePreference int

const (
	URLSchemePreferenceNone URLSchemePreference = iota
	URLSchemePreferenceWS
	URLSchemePreferenceHTTP
)

func (p URLSchemePreference) String() string {
	switch p {
	case URLSchemePreferenceWS:
		return "ws"
	case URLSchemePreferenceHTTP:
		return "http"
	default:
		return "none"
	}
}

// URLSchemePreferenceFromString parses "ws", "http" or "none"/"" (case insensitive).
func URLSchemePreferenceFromString(s string) (URLSchemePreference, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ws", "wss":
		return URLSchemePreferenceWS, nil
	case "http", "https":
		return URLSchemePreferenceHTTP, nil
	case "", "none":
		return URLSchemePreferenceNone, nil
	default:
		return URLSchemePreferenceNone, fmt.Errorf("unknown URL scheme preference %q", s)
	}
}

// UnmarshalText allows the preference to be decoded from configuration files.
func (p *URLSchemePreference) UnmarshalText(text []byte) error {
	v, err := URLSchemePreferenceFromString(string(text))
	if err != nil {
		return err
	}
	*p = v

	return nil
}

// RPC is a single node endpoint. At least one of WSURL and HTTPURL must be set.
type RPC struct {
	Name               string
	WSURL              string
	HTTPURL            string
	PreferredURLScheme URLSchemePreference
}

// ToEndpoint returns the URL to dial: the preferred scheme when it is configured, otherwise
// whichever URL is set. Without a preference HTTP is used first, since deployments only need
// request/response calls.
func (r RPC) ToEndpoint() (string, error) {
	var candidates []string
	switch r.PreferredURLScheme {
	case URLSchemePreferenceWS:
		candidates = []string{r.WSURL, r.HTTPURL}
	default:
		candidates = []string{r.HTTPURL, r.WSURL}
	}

	for _, url := range candidates {
		if url != "" {
			return url, nil
		}
	}

	return "", fmt.Errorf("rpc %q has no URL configured", r.Name)
}

// RPCConfig is the set of RPCs of a single chain, in order of preference.
type RPCConfig struct {
	ChainSelector uint64
	RPCs          []RPC
}

func (c RPCConfig) validate() error {
	if len(c.RPCs) == 0 {
		return errors.New("no RPCs provided, need at least one")
	}

	return nil
}
