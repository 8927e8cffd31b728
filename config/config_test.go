package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCPOConfigDefaults(t *testing.T) {
	c := CPOConfig{Name: "central", Clients: []ClientConfig{{Name: "alpha", Secret: "c2VjcmV0"}}}
	c.SetDefaults()
	require.NoError(t, c.Validate())
	assert.Equal(t, DefaultPort, c.Port)
	assert.Equal(t, DefaultPingIntervalMS, c.PingIntervalMS)
	assert.Equal(t, DefaultMaxMessageSize, c.MaxMessageSize)
}

func TestCPOConfigRejectsBadSecret(t *testing.T) {
	c := CPOConfig{Name: "central", Clients: []ClientConfig{{Name: "alpha", Secret: "not-base64!"}}}
	c.SetDefaults()
	assert.Error(t, c.Validate())
}

func TestCPOConfigRejectsDuplicateClientNames(t *testing.T) {
	c := CPOConfig{
		Name: "central",
		Clients: []ClientConfig{
			{Name: "alpha", Secret: "c2VjcmV0"},
			{Name: "alpha", Secret: "c2VjcmV0Mg=="},
		},
	}
	c.SetDefaults()
	assert.Error(t, c.Validate())
}

func TestPOConfigDefaults(t *testing.T) {
	c := POConfig{Name: "alpha", Secret: "c2VjcmV0", CPOHost: "localhost"}
	c.SetDefaults()
	require.NoError(t, c.Validate())
	assert.Equal(t, DefaultQueueSize, c.QueueSize)
	assert.Equal(t, DefaultPort, c.CPOPort)
}

func TestLoadCPOConfigFromJSON(t *testing.T) {
	r := strings.NewReader(`{
		"name": "central",
		"clients": [{"name":"alpha","secret":"c2VjcmV0"}]
	}`)
	c, err := LoadCPOConfig(r)
	require.NoError(t, err)
	assert.Equal(t, "central", c.Name)
	assert.Equal(t, DefaultPort, c.Port)
}
