package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModuleOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "browsingContext", moduleOf(EventContextCreated))
	assert.Equal(t, "network", moduleOf(EventBeforeRequestSent))
	assert.Equal(t, "goog:cdp", moduleOf(EventCdpEventReceived))
	assert.Equal(t, "cdp", moduleOf(EventCdpEventReceivedDeprecated))
	assert.Equal(t, "browsingContext", moduleOf("browsingContext"))
}

func TestIsKnownSubscription(t *testing.T) {
	t.Parallel()

	assert.True(t, isKnownSubscription(EventLoad))
	assert.True(t, isKnownSubscription("network"))
	assert.True(t, isKnownSubscription("goog:cdp"))
	assert.True(t, isKnownSubscription("cdp"))
	assert.False(t, isKnownSubscription("log.entryAdded"))
	assert.False(t, isKnownSubscription(""))
}
