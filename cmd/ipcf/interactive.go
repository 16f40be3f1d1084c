package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"golang.org/x/term"

	ipcf "github.com/wippyai/irm-fileapi"
	"github.com/wippyai/irm-fileapi/fileapi"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	protectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	plainStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type browserState int

const (
	stateBrowse browserState = iota
	stateTemplate
	stateBusy
	stateShowResult
)

type fileEntry struct {
	err    error
	name   string
	path   string
	status ipcf.FileStatus
}

type browserModel struct {
	ctx      context.Context
	err      error
	adapter  *fileapi.Adapter
	license  ipcf.License
	opts     fileapi.Options
	dir      string
	result   string
	files    []fileEntry
	input    textinput.Model
	spinner  spinner.Model
	selected int
	state    browserState
	loaded   bool
	flags    ipcf.EncryptFlags
	dflags   ipcf.DecryptFlags
}

type scannedMsg struct {
	err   error
	files []fileEntry
}

type opResultMsg struct {
	err    error
	result string
}

func newBrowserModel(ctx context.Context, ad *fileapi.Adapter, dir string) *browserModel {
	ti := textinput.New()
	ti.Placeholder = "00000000-0000-0000-0000-000000000000"
	ti.Prompt = "template: "
	ti.Width = 40
	ti.CharLimit = 38

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &browserModel{
		ctx:     ctx,
		adapter: ad,
		dir:     dir,
		input:   ti,
		spinner: sp,
		state:   stateBrowse,
	}
}

func (m *browserModel) Init() tea.Cmd {
	return m.scan
}

func (m *browserModel) scan() tea.Msg {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return scannedMsg{err: err}
	}

	var files []fileEntry
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		f := fileEntry{name: e.Name(), path: filepath.Join(m.dir, e.Name())}
		f.status, f.err = m.adapter.FileStatus(m.ctx, f.path)
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	return scannedMsg{files: files}
}

func (m *browserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.state == stateTemplate {
			return m.updateTemplate(msg)
		}

		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit

		case "up", "k":
			if m.state == stateBrowse && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateBrowse && m.selected < len(m.files)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateBrowse:
				f, ok := m.current()
				if !ok || f.err != nil {
					return m, nil
				}
				if f.status.Encrypted() {
					return m.start(m.decrypt(f))
				}
				if m.license == nil {
					return m.editTemplate()
				}
				return m.start(m.encrypt(f))

			case stateShowResult:
				m.state = stateBrowse
				m.result = ""
				m.err = nil
				return m, m.scan
			}

		case "t":
			if m.state == stateBrowse {
				return m.editTemplate()
			}

		case "l":
			if f, ok := m.current(); ok && m.state == stateBrowse && f.err == nil && f.status.Encrypted() {
				return m.start(m.showLicense(f))
			}

		case "r":
			if m.state == stateBrowse {
				return m, m.scan
			}

		case "esc":
			if m.state == stateShowResult {
				m.state = stateBrowse
				m.result = ""
				m.err = nil
			}
		}

	case scannedMsg:
		m.loaded = true
		m.err = msg.err
		m.files = msg.files
		if m.selected >= len(m.files) {
			m.selected = max(len(m.files)-1, 0)
		}

	case opResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult

	case spinner.TickMsg:
		if m.state == stateBusy {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
	}

	return m, nil
}

func (m *browserModel) updateTemplate(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit

	case "esc":
		m.state = stateBrowse
		m.input.Blur()
		m.err = nil
		return m, nil

	case "enter":
		value := strings.TrimSpace(m.input.Value())
		if _, err := uuid.Parse(value); err != nil {
			m.err = fmt.Errorf("template is not a GUID: %w", err)
			return m, nil
		}
		m.license = ipcf.TemplateID(value)
		m.input.Blur()
		m.err = nil
		m.state = stateBrowse
		if f, ok := m.current(); ok && !f.status.Encrypted() {
			return m.start(m.encrypt(f))
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *browserModel) editTemplate() (tea.Model, tea.Cmd) {
	m.state = stateTemplate
	if t, ok := m.license.(ipcf.TemplateID); ok {
		m.input.SetValue(string(t))
	}
	return m, m.input.Focus()
}

func (m *browserModel) start(op tea.Cmd) (tea.Model, tea.Cmd) {
	m.state = stateBusy
	return m, tea.Batch(m.spinner.Tick, op)
}

func (m *browserModel) current() (fileEntry, bool) {
	if m.selected < 0 || m.selected >= len(m.files) {
		return fileEntry{}, false
	}
	return m.files[m.selected], true
}

func (m *browserModel) encrypt(f fileEntry) tea.Cmd {
	return func() tea.Msg {
		out, err := m.adapter.EncryptFile(m.ctx, f.path, m.license, m.flags, m.opts)
		if err != nil {
			return opResultMsg{err: err}
		}
		return opResultMsg{result: fmt.Sprintf("protected %s -> %s", f.name, out)}
	}
}

func (m *browserModel) decrypt(f fileEntry) tea.Cmd {
	return func() tea.Msg {
		out, err := m.adapter.DecryptFile(m.ctx, f.path, m.dflags, m.opts)
		if err != nil {
			return opResultMsg{err: err}
		}
		return opResultMsg{result: fmt.Sprintf("unprotected %s -> %s", f.name, out)}
	}
}

func (m *browserModel) showLicense(f fileEntry) tea.Cmd {
	return func() tea.Msg {
		lic, err := m.adapter.SerializedLicenseFromFile(m.ctx, f.path)
		if err != nil {
			return opResultMsg{err: err}
		}
		enc := base64.StdEncoding.EncodeToString(lic)
		if len(enc) > 64 {
			enc = enc[:64] + "..."
		}
		return opResultMsg{result: fmt.Sprintf("license of %s (%d bytes)\n%s", f.name, len(lic), enc)}
	}
}

func (m *browserModel) View() string {
	if m.err != nil && m.state == stateBrowse {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}
	if !m.loaded {
		return "Scanning " + m.dir + "..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("IPCF"))
	b.WriteString(" ")
	b.WriteString(m.dir)
	b.WriteString("\n\n")

	switch m.state {
	case stateBrowse, stateTemplate:
		if len(m.files) == 0 {
			b.WriteString("No files.\n")
		}
		for i, f := range m.files {
			line := m.formatEntry(f)
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + f.name))
				b.WriteString(" " + m.formatStatus(f))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		if m.state == stateTemplate {
			b.WriteString(m.input.View())
			b.WriteString("\n")
			if m.err != nil {
				b.WriteString(errorStyle.Render(m.err.Error()))
				b.WriteString("\n")
			}
			b.WriteString(helpStyle.Render("enter protect • esc cancel"))
		} else {
			b.WriteString(helpStyle.Render("↑/↓ select • enter protect/unprotect • l license • t template • r rescan • q quit"))
		}

	case stateBusy:
		b.WriteString(m.spinner.View())
		b.WriteString(" working...")

	case stateShowResult:
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func (m *browserModel) formatEntry(f fileEntry) string {
	return f.name + " " + m.formatStatus(f)
}

func (m *browserModel) formatStatus(f fileEntry) string {
	switch {
	case f.err != nil:
		return errorStyle.Render("[" + f.err.Error() + "]")
	case f.status.Encrypted():
		return protectedStyle.Render("[" + f.status.String() + "]")
	default:
		return plainStyle.Render("[" + f.status.String() + "]")
	}
}

func (a *app) runInteractive(ctx context.Context, dir string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("interactive mode needs a terminal")
	}
	return a.withAdapter(ctx, func(ad *fileapi.Adapter) error {
		m := newBrowserModel(ctx, ad, dir)
		m.license = a.cfg.Template()
		m.opts = a.callOptions("")
		m.dflags = a.cfg.DecryptFlags()
		flags, err := a.cfg.EncryptFlags()
		if err != nil {
			return err
		}
		m.flags = flags

		p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
		_, err = p.Run()
		return err
	})
}
