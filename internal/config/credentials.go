package config

import (
	"fmt"
	"strings"
	"unicode"
)

// External service identifiers, in the order their branches are merged
const (
	ServiceTwoCaptcha  = "2captcha"
	ServiceAntiCaptcha = "anticaptcha"
	ServiceCapMonster  = "capmonster"
)

// Services lists every supported external service
var Services = []string{ServiceTwoCaptcha, ServiceAntiCaptcha, ServiceCapMonster}

// ConfigurationError reports a malformed credential map
type ConfigurationError struct {
	Service string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if e.Service == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration for %s: %s", e.Service, e.Reason)
}

// Credentials is a read-only map of service identifier to API key.
// A service without a key is disabled.
type Credentials struct {
	keys map[string]string
}

// NewCredentials validates raw and returns an immutable copy of it.
// Empty values are dropped; unknown services and keys containing
// whitespace or control characters are rejected.
func NewCredentials(raw map[string]string) (Credentials, error) {
	keys := make(map[string]string, len(raw))
	for service, key := range raw {
		if !IsKnownService(service) {
			return Credentials{}, &ConfigurationError{Service: service, Reason: "unknown service"}
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if strings.IndexFunc(key, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
			return Credentials{}, &ConfigurationError{Service: service, Reason: "api key contains whitespace or control characters"}
		}
		keys[service] = key
	}
	return Credentials{keys: keys}, nil
}

// IsKnownService reports whether service is one of Services
func IsKnownService(service string) bool {
	for _, s := range Services {
		if s == service {
			return true
		}
	}
	return false
}

// Get returns the API key for service
func (c Credentials) Get(service string) (string, bool) {
	key, ok := c.keys[service]
	return key, ok
}

// Enabled returns the configured services in merge order
func (c Credentials) Enabled() []string {
	var out []string
	for _, s := range Services {
		if _, ok := c.keys[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of configured services
func (c Credentials) Len() int {
	return len(c.keys)
}

// Merge returns a new map where keys from over replace keys from c
func (c Credentials) Merge(over Credentials) Credentials {
	keys := make(map[string]string, len(c.keys)+len(over.keys))
	for k, v := range c.keys {
		keys[k] = v
	}
	for k, v := range over.keys {
		keys[k] = v
	}
	return Credentials{keys: keys}
}

// Masked returns every configured key in masked form, for display
func (c Credentials) Masked() map[string]string {
	out := make(map[string]string, len(c.keys))
	for k, v := range c.keys {
		out[k] = MaskKey(v)
	}
	return out
}

// MaskKey hides the middle of an API key
func MaskKey(key string) string {
	if len(key) > 16 {
		return key[:8] + "..." + key[len(key)-8:]
	}
	if len(key) >= 4 {
		return key[:4] + "..."
	}
	return "..."
}
