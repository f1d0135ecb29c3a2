package common

import "strings"

// Internal emitter events.
const (
	// Connection
	EventConnectionClose string = "close"

	// Session
	EventSessionClosed string = "close"
)

// WebDriver BiDi event names, grouped by module. The set is closed: every
// event the bridge can emit is listed here, and subscription validation
// rejects names outside of it.
const (
	EventContextCreated          string = "browsingContext.contextCreated"
	EventContextDestroyed        string = "browsingContext.contextDestroyed"
	EventNavigationStarted       string = "browsingContext.navigationStarted"
	EventFragmentNavigated       string = "browsingContext.fragmentNavigated"
	EventDomContentLoaded        string = "browsingContext.domContentLoaded"
	EventLoad                    string = "browsingContext.load"
	EventUserPromptOpened        string = "browsingContext.userPromptOpened"
	EventUserPromptClosed        string = "browsingContext.userPromptClosed"

	EventRealmCreated   string = "script.realmCreated"
	EventRealmDestroyed string = "script.realmDestroyed"

	EventBeforeRequestSent string = "network.beforeRequestSent"
	EventResponseStarted   string = "network.responseStarted"
	EventResponseCompleted string = "network.responseCompleted"
	EventAuthRequired      string = "network.authRequired"
	EventFetchError        string = "network.fetchError"

	EventDevicePromptUpdated string = "bluetooth.requestDevicePromptUpdated"

	// Raw CDP passthrough. The unprefixed name is a deprecated alias kept
	// for older clients; both names are emitted for every forwarded
	// notification.
	EventCdpEventReceived           string = "goog:cdp.eventReceived"
	EventCdpEventReceivedDeprecated string = "cdp.eventReceived"
)

// knownEvents is the closed set of subscribable event names.
var knownEvents = map[string]struct{}{
	EventContextCreated:             {},
	EventContextDestroyed:           {},
	EventNavigationStarted:          {},
	EventFragmentNavigated:          {},
	EventDomContentLoaded:           {},
	EventLoad:                       {},
	EventUserPromptOpened:           {},
	EventUserPromptClosed:           {},
	EventRealmCreated:               {},
	EventRealmDestroyed:             {},
	EventBeforeRequestSent:          {},
	EventResponseStarted:            {},
	EventResponseCompleted:          {},
	EventAuthRequired:               {},
	EventFetchError:                 {},
	EventDevicePromptUpdated:        {},
	EventCdpEventReceived:           {},
	EventCdpEventReceivedDeprecated: {},
}

// knownModules is the set of module names accepted as shorthand for every
// event of the module.
var knownModules = map[string]struct{}{
	"browsingContext": {},
	"script":          {},
	"network":         {},
	"bluetooth":       {},
	"goog:cdp":        {},
	"cdp":             {},
}

// moduleOf returns the module prefix of an event name, e.g.
// "browsingContext" for "browsingContext.contextCreated". A bare module
// name is returned unchanged.
func moduleOf(name string) string {
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[:i]
	}
	return name
}

// isKnownSubscription reports whether name is a subscribable event or
// module name.
func isKnownSubscription(name string) bool {
	if _, ok := knownEvents[name]; ok {
		return true
	}
	_, ok := knownModules[name]
	return ok
}
