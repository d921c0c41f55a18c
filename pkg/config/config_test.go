package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	s := Default()
	require.NoError(t, s.Validate())
	require.Equal(t, []string{"test", "time"}, s.Topics)
	require.Equal(t, "Message: ", s.Prefixes["test"])
	require.False(t, s.Reconnect.Enabled)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	path := writeConfig(t, `
transport: socket
endpoint: localhost:9000
topics: [socket]
outbound:
  mode: channel
  topic: socket
  timeout: 3s
reconnect:
  enabled: true
  initial-interval: 250ms
ui:
  markdown: true
`)
	t.Setenv("CHATSYNC_ENDPOINT", "example.org:9001")
	t.Setenv("CHATSYNC_LOG_LEVEL", "debug")
	t.Setenv("CHATSYNC_RECONNECT_MAX_ATTEMPTS", "4")

	s, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, s.Validate())

	require.Equal(t, TransportSocket, s.Transport)
	require.Equal(t, "example.org:9001", s.Endpoint)
	require.Equal(t, []string{"socket"}, s.Topics)
	require.Equal(t, "channel", s.Outbound.Mode)
	require.Equal(t, 3*time.Second, s.Outbound.Timeout)
	require.True(t, s.Reconnect.Enabled)
	require.Equal(t, 250*time.Millisecond, s.Reconnect.InitialInterval)
	require.Equal(t, uint64(4), s.Reconnect.MaxAttempts)
	require.True(t, s.UI.Markdown)
	require.Equal(t, 3, s.UI.FollowThreshold)
	require.Equal(t, "debug", s.Log.Level)
	require.Equal(t, "127.0.0.1:8080", s.Relay.Addr)
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoad_MissingDefaultPathIsFine(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	s, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default().Endpoint, s.Endpoint)
}

func TestLoad_RejectsBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "topics: [unterminated"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"unknown transport", func(s *Settings) { s.Transport = "carrier-pigeon" }},
		{"missing endpoint", func(s *Settings) { s.Endpoint = "" }},
		{"empty topic", func(s *Settings) { s.Topics = []string{"test", ""} }},
		{"http mode without url", func(s *Settings) { s.Outbound.URL = "" }},
		{"http mode with bad url", func(s *Settings) { s.Outbound.URL = "not a url" }},
		{"channel mode without topic", func(s *Settings) { s.Outbound.Mode = "channel" }},
		{"bad log level", func(s *Settings) { s.Log.Level = "loud" }},
		{"bad relay addr", func(s *Settings) { s.Relay.Addr = "nowhere" }},
		{"socket sends off-stream", func(s *Settings) {
			s.Transport = TransportSocket
			s.Outbound.Mode = "channel"
			s.Outbound.Topic = "test"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			tt.mutate(&s)
			require.Error(t, s.Validate())
		})
	}

	s := Default()
	s.Transport = TransportMemory
	s.Endpoint = ""
	require.NoError(t, s.Validate())
}
