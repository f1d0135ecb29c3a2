package common

import (
	"github.com/mstoykov/envconfig"
	"gopkg.in/guregu/null.v3"
)

// DefaultListenAddr is where the bridge accepts BiDi clients unless
// configured otherwise.
const DefaultListenAddr = "localhost:8908"

// Options is the bridge configuration. Nullable fields distinguish "not
// set" from zero values so that config layers overlay cleanly: defaults,
// then environment, then command-line flags.
type Options struct {
	// Address the BiDi WebSocket server listens on.
	ListenAddr null.String `json:"listenAddr" envconfig:"BIDIBRIDGE_LISTEN_ADDR"`
	// DevTools WebSocket endpoint of the browser to bridge to.
	BrowserWSURL null.String `json:"browserWsUrl" envconfig:"BIDIBRIDGE_BROWSER_WS_URL"`
	// Bypass the browser HTTP cache on every bridged target.
	CacheDisabled null.Bool `json:"cacheDisabled" envconfig:"BIDIBRIDGE_CACHE_DISABLED"`
	// Logger category filter regexp, empty means everything.
	CategoryFilter null.String `json:"categoryFilter" envconfig:"BIDIBRIDGE_CATEGORY_FILTER"`
}

// NewOptions returns the built-in defaults.
func NewOptions() Options {
	return Options{
		ListenAddr:    null.NewString(DefaultListenAddr, false),
		CacheDisabled: null.NewBool(false, false),
	}
}

// Apply overlays the set fields of other on top of o and returns the
// result.
func (o Options) Apply(other Options) Options {
	if other.ListenAddr.Valid {
		o.ListenAddr = other.ListenAddr
	}
	if other.BrowserWSURL.Valid {
		o.BrowserWSURL = other.BrowserWSURL
	}
	if other.CacheDisabled.Valid {
		o.CacheDisabled = other.CacheDisabled
	}
	if other.CategoryFilter.Valid {
		o.CategoryFilter = other.CategoryFilter
	}
	return o
}

// OptionsFromEnv reads the BIDIBRIDGE_* environment variables.
func OptionsFromEnv() (Options, error) {
	var opts Options
	if err := envconfig.Process("", &opts); err != nil {
		return opts, err
	}
	return opts, nil
}
