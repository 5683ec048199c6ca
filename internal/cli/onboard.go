package cli

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/joebot/utilbot/internal/config"
)

// --- onboard selection model ---

type onboardChoice int

const (
	choiceUpgrade onboardChoice = iota
	choiceOverwrite
	choiceSkip
)

type onboardModel struct {
	path    string
	choices []string
	cursor  int
	chosen  bool
	choice  onboardChoice
}

func (m onboardModel) Init() tea.Cmd { return nil }

func (m onboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.choice = choiceSkip
			m.chosen = true
			return m, tea.Quit
		case tea.KeyUp, tea.KeyShiftTab:
			if m.cursor > 0 {
				m.cursor--
			}
		case tea.KeyDown, tea.KeyTab:
			if m.cursor < len(m.choices)-1 {
				m.cursor++
			}
		case tea.KeyEnter:
			m.choice = onboardChoice(m.cursor)
			m.chosen = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m onboardModel) View() string {
	if m.chosen {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("  Config already exists at %s\n\n", DimStyle.Render(m.path)))
	for i, choice := range m.choices {
		cursor := "  "
		if i == m.cursor {
			cursor = CursorStyle.Render("❯ ")
		}
		sb.WriteString("  " + cursor + choice + "\n")
	}
	sb.WriteString("\n" + DimStyle.Render("  ↑/↓ navigate · enter select · ctrl+c cancel") + "\n")
	return sb.String()
}

// --- secrets prompt model ---

type secretField struct {
	label string
	hint  string
}

type secretsModel struct {
	fields    []secretField
	inputs    []textinput.Model
	focus     int
	done      bool
	cancelled bool
}

func newSecretsModel(fields ...secretField) secretsModel {
	m := secretsModel{fields: fields, inputs: make([]textinput.Model, len(fields))}
	for i, f := range fields {
		ti := textinput.New()
		ti.Placeholder = f.hint
		ti.Prompt = "❯ "
		ti.PromptStyle = CursorStyle
		ti.EchoMode = textinput.EchoPassword
		ti.EchoCharacter = '•'
		ti.CharLimit = 256
		m.inputs[i] = ti
	}
	if len(m.inputs) > 0 {
		m.inputs[0].Focus()
	}
	return m
}

func (m secretsModel) Init() tea.Cmd { return textinput.Blink }

func (m secretsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.cancelled = true
			return m, tea.Quit
		case tea.KeyEnter:
			if m.focus == len(m.inputs)-1 {
				m.done = true
				return m, tea.Quit
			}
			return m, m.move(1)
		case tea.KeyTab, tea.KeyDown:
			return m, m.move(1)
		case tea.KeyShiftTab, tea.KeyUp:
			return m, m.move(-1)
		}
	}

	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

// move shifts focus by delta, clamped to the field list.
func (m *secretsModel) move(delta int) tea.Cmd {
	next := m.focus + delta
	if next < 0 || next >= len(m.inputs) {
		return nil
	}
	m.inputs[m.focus].Blur()
	m.focus = next
	return m.inputs[m.focus].Focus()
}

func (m secretsModel) View() string {
	if m.done || m.cancelled {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n")
	for i, f := range m.fields {
		sb.WriteString("  " + BoldStyle.Render(f.label) + "\n")
		sb.WriteString("  " + m.inputs[i].View() + "\n\n")
	}
	sb.WriteString(DimStyle.Render("  tab next field · enter confirm · esc cancel") + "\n")
	return sb.String()
}

func (m secretsModel) values() []string {
	out := make([]string, len(m.inputs))
	for i, in := range m.inputs {
		out[i] = strings.TrimSpace(in.Value())
	}
	return out
}

// RunOnboard creates or upgrades the config file at path and asks for the
// secrets it is missing.
func RunOnboard(path string) error {
	fmt.Println()
	fmt.Println(Banner("Onboard"))

	cfg, err := prepareConfig(path)
	if err != nil || cfg == nil {
		return err
	}

	if err := promptSecrets(cfg); err != nil {
		return err
	}
	if err := config.SaveTo(cfg, path); err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(OkStyle.Render("  utilbot is ready!"))
	fmt.Println()
	fmt.Println(DimStyle.Render("  Next steps:"))
	fmt.Println(DimStyle.Render("  1. Point juxtapose.baseUrl in " + path + " at your viewer page"))
	fmt.Println(DimStyle.Render("  2. Run: utilbot gateway"))
	fmt.Println()
	return nil
}

// prepareConfig returns the config to fill in, or nil when the user chose to
// leave an existing file alone.
func prepareConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); err != nil {
		cfg := config.DefaultConfig()
		if err := config.SaveTo(cfg, path); err != nil {
			return nil, err
		}
		fmt.Println()
		fmt.Println("  " + OkStyle.Render("✓") + " Created config at " + DimStyle.Render(path))
		return cfg, nil
	}

	m := onboardModel{
		path: path,
		choices: []string{
			"Upgrade · add new fields, keep existing values",
			"Overwrite · replace with fresh defaults",
			"Skip · do not modify config",
		},
	}
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return nil, err
	}

	fmt.Println()
	switch final.(onboardModel).choice {
	case choiceUpgrade:
		cfg, err := config.Upgrade(path)
		if err != nil {
			return nil, err
		}
		fmt.Println("  " + OkStyle.Render("✓") + " Upgraded config")
		return cfg, nil
	case choiceOverwrite:
		cfg := config.DefaultConfig()
		if err := config.SaveTo(cfg, path); err != nil {
			return nil, err
		}
		fmt.Println("  " + OkStyle.Render("✓") + " Overwritten config")
		return cfg, nil
	default:
		fmt.Println("  " + DimStyle.Render("Config unchanged"))
		return nil, nil
	}
}

func promptSecrets(cfg *config.Config) error {
	var fields []secretField
	var targets []*string
	if cfg.Discord.Token == "" {
		fields = append(fields, secretField{label: "Discord bot token", hint: "leave blank to use " + config.EnvBotToken})
		targets = append(targets, &cfg.Discord.Token)
	}
	if cfg.Juxtapose.KeyMaterial == "" {
		fields = append(fields, secretField{label: "Link signing key material", hint: "leave blank to generate"})
		targets = append(targets, &cfg.Juxtapose.KeyMaterial)
	}
	if len(fields) == 0 {
		return nil
	}

	final, err := tea.NewProgram(newSecretsModel(fields...)).Run()
	if err != nil {
		return err
	}
	m := final.(secretsModel)
	if m.cancelled {
		return errors.New("onboarding cancelled")
	}
	applySecrets(targets, m.values())

	if cfg.Juxtapose.KeyMaterial == "" {
		material, err := generateKeyMaterial()
		if err != nil {
			return err
		}
		cfg.Juxtapose.KeyMaterial = material
		fmt.Println("  " + OkStyle.Render("✓") + " Generated signing key material")
	}
	return nil
}

func applySecrets(targets []*string, values []string) {
	for i, v := range values {
		if v != "" && i < len(targets) {
			*targets[i] = v
		}
	}
}

func generateKeyMaterial() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key material: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
