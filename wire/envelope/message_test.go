package envelope

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMessage() *Message {
	m := New()
	m.Env.From = "alpha.io"
	m.Env.To = "beta.io"
	m.Env.Type = "sensor.temperature"
	m.Env.ID = "AAB.alpha"
	m.Body["temp"] = 21.5
	m.Body["cred"] = map[string]interface{}{"user": "xyz"}
	return m
}

func TestMessageJSONRoundTrip(t *testing.T) {
	m := sampleMessage()
	data, err := json.Marshal(m)
	require.NoError(t, err)

	var back Message
	require.NoError(t, json.Unmarshal(data, &back))

	assert.Equal(t, m.Env.From, back.Env.From)
	assert.Equal(t, m.Env.To, back.Env.To)
	assert.Equal(t, m.Env.Type, back.Env.Type)
	assert.Equal(t, m.Env.ID, back.Env.ID)
	assert.Equal(t, m.Body["temp"], back.Body["temp"])
}

func TestPublishMessageOmitsTo(t *testing.T) {
	m := sampleMessage()
	m.Env.To = ""
	data, err := json.Marshal(m)
	require.NoError(t, err)

	raw := make(map[string]interface{})
	require.NoError(t, json.Unmarshal(data, &raw))
	env := raw[EnvelopeKey].(map[string]interface{})
	_, hasTo := env["to"]
	assert.False(t, hasTo)
}

func TestDottedAccessors(t *testing.T) {
	m := New()
	m.PutDotted("a.b.c", "v")
	v, ok := m.GetDotted("a.b.c")
	require.True(t, ok)
	assert.Equal(t, "v", v)
	assert.True(t, m.HasDotted("a.b"))
	m.RemoveDotted("a.b.c")
	assert.False(t, m.HasDotted("a.b.c"))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	m := sampleMessage()
	secret := []byte("sharedsecret1234")

	require.NoError(t, m.Encrypt(secret, "cred"))
	assert.NotEmpty(t, m.Env.Secure)
	assert.False(t, m.HasDotted("cred"))

	require.NoError(t, m.Decrypt(secret))
	assert.Empty(t, m.Env.Secure)
	v, ok := m.GetDotted("cred.user")
	require.True(t, ok)
	assert.Equal(t, "xyz", v)
}

func TestEncryptMissingFieldFails(t *testing.T) {
	m := sampleMessage()
	err := m.Encrypt([]byte("s"), "nope")
	assert.ErrorIs(t, err, ErrFieldAbsent)
}

func TestReEncryptEquivalence(t *testing.T) {
	m := sampleMessage()
	s1 := []byte("secretone")
	s2 := []byte("secrettwo")

	original := m.Clone()
	require.NoError(t, original.Encrypt(s1, "cred"))
	require.NoError(t, original.Decrypt(s1))
	wantCred, _ := original.GetDotted("cred.user")

	m2 := m.Clone()
	require.NoError(t, m2.Encrypt(s1, "cred"))
	require.NoError(t, m2.ReEncrypt(s1, s2))
	require.NoError(t, m2.Decrypt(s2))
	gotCred, _ := m2.GetDotted("cred.user")

	assert.Equal(t, wantCred, gotCred)
}

func TestAuthenticator(t *testing.T) {
	a := Authenticator([]byte("s"), "alpha", "id-1")
	assert.True(t, VerifyAuthenticator([]byte("s"), "alpha", "id-1", a))
	assert.False(t, VerifyAuthenticator([]byte("s"), "alpha", "id-2", a))
	assert.False(t, VerifyAuthenticator([]byte("wrong"), "alpha", "id-1", a))
}
