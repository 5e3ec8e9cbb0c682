// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sigil-dev/warden/internal/config"
	"github.com/sigil-dev/warden/internal/provider"
	"github.com/sigil-dev/warden/internal/secrets"
	wardenerr "github.com/sigil-dev/warden/pkg/errors"
)

type initStep int

const (
	stepProvider    initStep = iota // select provider
	stepAPIKey                      // enter API key
	stepValidateKey                 // checking the key (spinner)
	stepDone
	stepError
)

type initResult struct {
	Provider provider.Name
	APIKey   string
}

type (
	keyValidMsg   struct{}
	keyInvalidMsg struct{ err error }
	configWritten struct{ path string }
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	promptStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	boxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
)

// initModel is the bubbletea model for the setup wizard.
type initModel struct {
	step          initStep
	providerIdx   int
	apiKeyInput   textinput.Model
	spinner       spinner.Model
	result        initResult
	validationErr string
	secretStore   secrets.Store
	configPath    string
	skipCheck     bool
	force         bool
	errFinal      error
}

func newInitModel(store secrets.Store, configPath string) initModel {
	apiKey := textinput.New()
	apiKey.Placeholder = "paste API key here"
	apiKey.EchoMode = textinput.EchoPassword
	apiKey.EchoCharacter = '•'

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return initModel{
		step:        stepProvider,
		apiKeyInput: apiKey,
		spinner:     sp,
		secretStore: store,
		configPath:  configPath,
	}
}

func (m initModel) Init() tea.Cmd {
	return nil
}

func (m initModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch m.step {
		case stepProvider:
			return m.handleProviderKey(msg)
		case stepAPIKey:
			return m.handleAPIKeyInput(msg)
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case keyValidMsg:
		return m, writeConfigCmd(m.result, m.secretStore, m.configPath, m.force)

	case keyInvalidMsg:
		m.validationErr = msg.err.Error()
		m.step = stepAPIKey
		m.apiKeyInput.Focus()
		return m, nil

	case configWritten:
		m.step = stepDone
		m.configPath = msg.path
		return m, tea.Quit

	case error:
		m.step = stepError
		m.errFinal = msg
		return m, tea.Quit
	}

	if m.step == stepAPIKey {
		var cmd tea.Cmd
		m.apiKeyInput, cmd = m.apiKeyInput.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m initModel) handleProviderKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.providerIdx > 0 {
			m.providerIdx--
		}
	case "down", "j":
		if m.providerIdx < len(provider.Names)-1 {
			m.providerIdx++
		}
	case "enter":
		m.result.Provider = provider.Names[m.providerIdx]
		m.step = stepAPIKey
		m.validationErr = ""
		m.apiKeyInput.SetValue("")
		m.apiKeyInput.Focus()
		return m, textinput.Blink
	case "q", "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

func (m initModel) handleAPIKeyInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		key := strings.TrimSpace(m.apiKeyInput.Value())
		if key == "" {
			m.validationErr = "API key must not be empty"
			return m, nil
		}
		m.result.APIKey = key
		m.validationErr = ""
		if m.skipCheck {
			return m, writeConfigCmd(m.result, m.secretStore, m.configPath, m.force)
		}
		m.step = stepValidateKey
		return m, tea.Batch(m.spinner.Tick, validateKeyCmd(m.result.Provider, key))
	case "esc":
		m.step = stepProvider
		m.validationErr = ""
		return m, nil
	case "ctrl+c":
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.apiKeyInput, cmd = m.apiKeyInput.Update(msg)
	return m, cmd
}

func (m initModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("  warden setup  ") + "\n\n")

	switch m.step {
	case stepProvider:
		b.WriteString(promptStyle.Render("Choose the LLM provider for the default model") + "\n\n")
		for i, p := range provider.Names {
			if i == m.providerIdx {
				b.WriteString(selectedStyle.Render("  > "+string(p)) + "\n")
			} else {
				b.WriteString(dimStyle.Render("    "+string(p)) + "\n")
			}
		}
		b.WriteString("\n" + dimStyle.Render("↑/↓ to navigate  enter to select  q to quit"))

	case stepAPIKey:
		b.WriteString(promptStyle.Render(string(m.result.Provider)+" API key") + "\n\n")
		b.WriteString(m.apiKeyInput.View() + "\n")
		if m.validationErr != "" {
			b.WriteString("\n" + errorStyle.Render("  "+m.validationErr) + "\n")
		}
		b.WriteString("\n" + dimStyle.Render("enter to continue  esc to go back  ctrl+c to quit"))

	case stepValidateKey:
		b.WriteString(m.spinner.View() + " Checking " + string(m.result.Provider) + " API key…\n")

	case stepDone:
		b.WriteString(successStyle.Render("  Setup complete  ") + "\n\n")
		b.WriteString(dimStyle.Render("Config written to: "+m.configPath) + "\n\n")
		b.WriteString("Run " + promptStyle.Render("warden chat") + " in a project directory to start.\n")

	case stepError:
		b.WriteString(errorStyle.Render("Setup failed: "+m.errFinal.Error()) + "\n")
	}

	return boxStyle.Render(b.String())
}

func validateKeyCmd(name provider.Name, key string) tea.Cmd {
	return func() tea.Msg {
		if err := keyValidator(context.Background(), name, key); err != nil {
			return keyInvalidMsg{err: err}
		}
		return keyValidMsg{}
	}
}

func writeConfigCmd(result initResult, store secrets.Store, path string, force bool) tea.Cmd {
	return func() tea.Msg {
		if err := storeSecretAndWriteConfig(result, store, path, force); err != nil {
			return err
		}
		return configWritten{path: path}
	}
}

// defaultModels maps each provider to the model init selects for it.
var defaultModels = map[provider.Name]string{
	provider.NameAnthropic:  "anthropic/claude-sonnet-4-5",
	provider.NameOpenAI:     "openai/gpt-4.1",
	provider.NameGoogle:     "google/gemini-2.5-flash",
	provider.NameOpenRouter: "openrouter/anthropic/claude-sonnet-4-5",
}

type generatedConfig struct {
	Providers map[string]generatedProvider `yaml:"providers"`
	Models    generatedModels              `yaml:"models"`
}

type generatedProvider struct {
	APIKey string `yaml:"api_key"`
}

type generatedModels struct {
	Default string `yaml:"default"`
}

// GenerateConfigYAML renders the config init writes. The API key is
// referenced by keyring URI and never written in plain text.
func GenerateConfigYAML(result initResult) (string, error) {
	doc := generatedConfig{
		Providers: map[string]generatedProvider{
			string(result.Provider): {APIKey: secrets.URIFor(string(result.Provider))},
		},
		Models: generatedModels{Default: defaultModels[result.Provider]},
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", wardenerr.Errorf(wardenerr.CodeCLISetupFailure, "rendering config: %w", err)
	}
	return "# warden configuration, generated by `warden init`.\n" +
		"# Every other setting uses its default; see `warden --help`.\n\n" + string(out), nil
}

// storeSecretAndWriteConfig saves the API key to the secret store and writes
// the config to path. An existing config is only replaced when force is set
// or when it is still the untouched bootstrap default.
func storeSecretAndWriteConfig(result initResult, store secrets.Store, path string, force bool) error {
	if !force {
		existing, err := os.ReadFile(path)
		if err == nil && !bytes.Equal(existing, config.DefaultConfigYAML) {
			return wardenerr.Errorf(wardenerr.CodeConfigWriteConflict,
				"config file already exists at %s; use --force to overwrite", path)
		}
	}

	content, err := GenerateConfigYAML(result)
	if err != nil {
		return err
	}

	if err := store.Store(secrets.DefaultService, secrets.KeyFor(string(result.Provider)), result.APIKey); err != nil {
		return wardenerr.Errorf(wardenerr.CodeSecretStoreFailure, "storing %s API key: %w", result.Provider, err)
	}

	// A keyring entry left behind by a failed write below is overwritten on
	// the next run.
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return wardenerr.Errorf(wardenerr.CodeConfigLoadReadFailure, "creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return wardenerr.Errorf(wardenerr.CodeConfigLoadReadFailure, "writing config to %s: %w", path, err)
	}
	return nil
}

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive first-run setup",
		Long: `Walks through choosing an LLM provider and entering its API key.

The key is stored in the OS keyring and referenced from the config file by
a keyring:// URI, so no secret is written in plain text.`,
		Args: cobra.NoArgs,
		RunE: runInit,
	}
	cmd.Flags().Bool("force", false, "overwrite an existing config file")
	cmd.Flags().Bool("no-check", false, "store the key without checking it against the provider")
	return cmd
}

func runInit(cmd *cobra.Command, _ []string) error {
	f, ok := cmd.InOrStdin().(*os.File)
	if !ok || !isTerminal(f) {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(),
			"warden init needs an interactive terminal.\n"+
				"Use `warden secret set <provider>` and edit the config file instead.")
		return wardenerr.New(wardenerr.CodeCLISetupFailure, "warden init: not an interactive terminal")
	}

	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		var err error
		if path, err = config.DefaultConfigPath(); err != nil {
			return err
		}
	}

	m := newInitModel(secretStoreFactory(), path)
	m.force, _ = cmd.Flags().GetBool("force")
	m.skipCheck, _ = cmd.Flags().GetBool("no-check")

	final, err := tea.NewProgram(m, tea.WithInput(f), tea.WithOutput(cmd.OutOrStdout())).Run()
	if err != nil {
		return wardenerr.Errorf(wardenerr.CodeCLISetupFailure, "setup wizard: %w", err)
	}
	if fm, ok := final.(initModel); ok && fm.errFinal != nil {
		return fm.errFinal
	}
	return nil
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
