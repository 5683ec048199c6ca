package cli

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joebot/utilbot/internal/config"
)

func key(t tea.KeyType) tea.KeyMsg { return tea.KeyMsg{Type: t} }

func typeText(m tea.Model, s string) tea.Model {
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
	return m
}

func TestOnboardModelChoice(t *testing.T) {
	var m tea.Model = onboardModel{path: "/tmp/c.json", choices: []string{"a", "b", "c"}}
	assert.Contains(t, m.View(), "/tmp/c.json")

	m, _ = m.Update(key(tea.KeyDown))
	m, _ = m.Update(key(tea.KeyDown))
	m, _ = m.Update(key(tea.KeyDown))
	m, _ = m.Update(key(tea.KeyUp))
	m, cmd := m.Update(key(tea.KeyEnter))
	require.NotNil(t, cmd)

	final := m.(onboardModel)
	assert.True(t, final.chosen)
	assert.Equal(t, choiceOverwrite, final.choice)
	assert.Empty(t, final.View())
}

func TestOnboardModelCancelSkips(t *testing.T) {
	var m tea.Model = onboardModel{choices: []string{"a", "b", "c"}}
	m, _ = m.Update(key(tea.KeyCtrlC))
	assert.Equal(t, choiceSkip, m.(onboardModel).choice)
}

func TestSecretsModel(t *testing.T) {
	var m tea.Model = newSecretsModel(
		secretField{label: "Discord bot token"},
		secretField{label: "Link signing key material"},
	)
	assert.Contains(t, m.View(), "Discord bot token")

	m = typeText(m, "s3cr3t")
	m, _ = m.Update(key(tea.KeyEnter))
	m = typeText(m, "k3y")
	assert.NotContains(t, m.View(), "s3cr3t", "secrets are masked")

	m, cmd := m.Update(key(tea.KeyEnter))
	require.NotNil(t, cmd)
	final := m.(secretsModel)
	assert.True(t, final.done)
	assert.Equal(t, []string{"s3cr3t", "k3y"}, final.values())
}

func TestSecretsModelNavigationClamps(t *testing.T) {
	var m tea.Model = newSecretsModel(secretField{label: "one"}, secretField{label: "two"})
	m, _ = m.Update(key(tea.KeyUp))
	assert.Equal(t, 0, m.(secretsModel).focus)
	m, _ = m.Update(key(tea.KeyTab))
	m, _ = m.Update(key(tea.KeyTab))
	assert.Equal(t, 1, m.(secretsModel).focus)

	m, _ = m.Update(key(tea.KeyEsc))
	assert.True(t, m.(secretsModel).cancelled)
}

func TestApplySecretsKeepsBlankFields(t *testing.T) {
	a, b := "old", ""
	applySecrets([]*string{&a, &b}, []string{"", "new"})
	assert.Equal(t, "old", a)
	assert.Equal(t, "new", b)
}

func TestGenerateKeyMaterial(t *testing.T) {
	one, err := generateKeyMaterial()
	require.NoError(t, err)
	two, err := generateKeyMaterial()
	require.NoError(t, err)
	assert.Len(t, one, 64)
	assert.NotEqual(t, one, two)
}

func TestRunStatus(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Discord.Token = "secret-token"
	cfg.HTTP.UnixSocket = "/run/utilbot.sock"

	var buf bytes.Buffer
	RunStatus(context.Background(), &buf, cfg, StatusOptions{
		ConfigPath: filepath.Join(t.TempDir(), "missing.json"),
		PingCache:  func(context.Context) error { return errors.New("connection refused") },
	})

	out := buf.String()
	assert.Contains(t, out, "utilbot Status")
	assert.NotContains(t, out, "secret-token")
	assert.Contains(t, out, "not set (config or "+config.EnvKeyMaterial+")")
	assert.Contains(t, out, "unix:/run/utilbot.sock")
	assert.Contains(t, out, "connection refused")
	assert.Contains(t, out, "up to 3 links per message")
	assert.Contains(t, out, "config validation failed")
}

func TestRunStatusMemoryCache(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Cache.Backend = config.BackendMemory

	var buf bytes.Buffer
	RunStatus(context.Background(), &buf, cfg, StatusOptions{
		PingCache: func(context.Context) error {
			t.Fatal("memory cache is not pinged")
			return nil
		},
	})
	assert.Contains(t, buf.String(), "in-process memory")
}
