package common

import (
	"encoding/json"
	"testing"

	"github.com/chromedp/cdproto/cdp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeParams(t *testing.T) {
	t.Parallel()

	type navigateParams struct {
		Context string `json:"context"`
		URL     string `json:"url"`
	}

	t.Run("ok", func(t *testing.T) {
		t.Parallel()
		cmd := &Command{
			Method: "browsingContext.navigate",
			Params: json.RawMessage(`{"context":"top","url":"https://a.test/"}`),
		}
		var p navigateParams
		require.NoError(t, decodeParams(cmd, &p))
		assert.Equal(t, "top", p.Context)
		assert.Equal(t, "https://a.test/", p.URL)
	})

	t.Run("missing params decode to zero value", func(t *testing.T) {
		t.Parallel()
		var p navigateParams
		require.NoError(t, decodeParams(&Command{Method: "browsingContext.getTree"}, &p))
		assert.Empty(t, p.Context)
	})

	t.Run("malformed", func(t *testing.T) {
		t.Parallel()
		cmd := &Command{
			Method: "browsingContext.navigate",
			Params: json.RawMessage(`{"context":42}`),
		}
		var p navigateParams
		err := decodeParams(cmd, &p)
		require.Error(t, err)
		assert.Equal(t, ErrorCodeInvalidArgument, asBidiError(err).Code)
	})
}

func TestSessionSubscriptionScopes(t *testing.T) {
	t.Parallel()

	p := &sessionSubscriptionParams{Contexts: []string{"a", "b"}}
	assert.Equal(t, []cdp.FrameID{"a", "b"}, p.scopes())

	assert.Empty(t, (&sessionSubscriptionParams{}).scopes())
}
