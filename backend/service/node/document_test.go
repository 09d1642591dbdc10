package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderRefs(t *testing.T) {
	t.Parallel()

	doc := `
proxy-providers:
  airport:
    type: http
    url: " https://a.example.com/sub "
    interval: 3600
  local:
    type: file
    path: ./local.yaml
proxy-groups:
  - name: Auto
    type: select
    use: [airport]
`
	refs := ProviderRefs(doc)
	require.Len(t, refs, 1)
	assert.Equal(t, ProviderRef{Name: "airport", URL: "https://a.example.com/sub"}, refs[0])
}

func TestProviderRefs_RequiresSectionMarker(t *testing.T) {
	t.Parallel()

	assert.Empty(t, ProviderRefs("foo: bar"))
	assert.Empty(t, ProviderRefs("ss://aes-128-gcm:pw@h:1"))
	assert.Empty(t, ProviderRefs("proxies: [broken"))
}

func TestResolveSubscriptionURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://a.example.com/sub?token=1",
		ResolveSubscriptionURL("clash://install-config?url=https%3A%2F%2Fa.example.com%2Fsub%3Ftoken%3D1&name=x"))
	assert.Equal(t, "https://b.example.com",
		ResolveSubscriptionURL("CLASH://Install-Config?name=x&URL=https://b.example.com"))
	assert.Equal(t, "clash://install-config?name=x",
		ResolveSubscriptionURL("clash://install-config?name=x"))
	assert.Equal(t, "https://c.example.com/sub",
		ResolveSubscriptionURL(" https://c.example.com/sub "))
}
