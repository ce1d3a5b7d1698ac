// This file implements the interactive chat interface using bubbletea.
package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"wildfiregpt/internal/session"
	"wildfiregpt/internal/tools"
)

// chatStyles groups the lipgloss styles used by the chat view.
type chatStyles struct {
	Title     lipgloss.Style
	Stage     lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	Artifact  lipgloss.Style
	Error     lipgloss.Style
	Help      lipgloss.Style
	Spinner   lipgloss.Style
	Prompt    lipgloss.Style
}

func defaultChatStyles() chatStyles {
	return chatStyles{
		Title:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("208")),
		Stage:     lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		User:      lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
		Assistant: lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		Artifact:  lipgloss.NewStyle().Foreground(lipgloss.Color("114")).Italic(true),
		Error:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		Help:      lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		Spinner:   lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		Prompt:    lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
	}
}

// chatModel is the main model for the interactive chat interface
type chatModel struct {
	// UI components
	textinput textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model
	styles    chatStyles
	renderer  *glamour.TermRenderer

	// State
	history   []chatMessage
	isLoading bool
	err       error
	width     int
	height    int
	ready     bool

	// Backend
	app *appSession
}

type chatMessage struct {
	role      string // "user", "assistant", or "system"
	content   string
	artifacts []tools.Artifact
	time      time.Time
}

// Messages for tea updates
type (
	turnMsg  session.TurnResult
	errorMsg error
)

// initChat initializes the interactive chat model
func initChat(app *appSession) chatModel {
	styles := defaultChatStyles()

	ti := textinput.New()
	ti.Placeholder = "Describe your wildfire concern... (Enter to send, Ctrl+C to exit)"
	ti.Focus()
	ti.Prompt = "│ "
	ti.CharLimit = 4096
	ti.Width = 80
	ti.PromptStyle = styles.Prompt

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	vp := viewport.New(80, 20)
	vp.SetContent("")

	renderer, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)

	return chatModel{
		textinput: ti,
		viewport:  vp,
		spinner:   sp,
		styles:    styles,
		renderer:  renderer,
		history:   []chatMessage{},
		app:       app,
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
		m.startSession(),
	)
}

// startSession opens the consultation and surfaces the first stage's
// greeting.
func (m chatModel) startSession() tea.Cmd {
	return func() tea.Msg {
		result, err := m.app.orchestrator.Start(context.Background())
		if err != nil {
			return errorMsg(err)
		}
		return turnMsg(result)
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		spCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if !m.isLoading {
				return m.handleSubmit()
			}
		}
		if !m.isLoading {
			m.textinput, tiCmd = m.textinput.Update(msg)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 3
		footerHeight := 2
		inputHeight := 3

		if !m.ready {
			m.viewport = viewport.New(msg.Width-4, msg.Height-headerHeight-footerHeight-inputHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 4
			m.viewport.Height = msg.Height - headerHeight - footerHeight - inputHeight
		}
		m.textinput.Width = msg.Width - 4

		if m.renderer != nil {
			m.renderer, _ = glamour.NewTermRenderer(
				glamour.WithAutoStyle(),
				glamour.WithWordWrap(msg.Width-8),
			)
		}

	case spinner.TickMsg:
		if m.isLoading {
			m.spinner, spCmd = m.spinner.Update(msg)
			return m, spCmd
		}

	case turnMsg:
		m.isLoading = false
		if msg.Text != "" || len(msg.Visualizations) > 0 {
			m.history = append(m.history, chatMessage{
				role:      "assistant",
				content:   msg.Text,
				artifacts: msg.Visualizations,
				time:      time.Now(),
			})
		}
		m.viewport.SetContent(m.renderHistory())
		m.viewport.GotoBottom()
		m.textinput.Focus()
		return m, textinput.Blink

	case errorMsg:
		m.isLoading = false
		m.err = msg
		m.history = append(m.history, chatMessage{
			role:    "system",
			content: fmt.Sprintf("Error: %v", error(msg)),
			time:    time.Now(),
		})
		m.viewport.SetContent(m.renderHistory())
		m.viewport.GotoBottom()
		return m, nil
	}

	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(tiCmd, vpCmd, spCmd)
}

// handleSubmit sends the typed message (or executes a slash command).
func (m chatModel) handleSubmit() (tea.Model, tea.Cmd) {
	input := strings.TrimSpace(m.textinput.Value())
	if input == "" {
		return m, nil
	}
	m.textinput.Reset()

	if strings.HasPrefix(input, "/") {
		return m.handleCommand(input)
	}

	m.history = append(m.history, chatMessage{role: "user", content: input, time: time.Now()})
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
	m.isLoading = true

	orch := m.app.orchestrator
	return m, tea.Batch(m.spinner.Tick, func() tea.Msg {
		result, err := orch.HandleUserMessage(context.Background(), input)
		if err != nil {
			return errorMsg(err)
		}
		return turnMsg(result)
	})
}

// handleCommand executes a slash command locally.
func (m chatModel) handleCommand(input string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/quit", "/exit":
		return m, tea.Quit

	case "/back":
		m.isLoading = true
		orch := m.app.orchestrator
		return m, tea.Batch(m.spinner.Tick, func() tea.Msg {
			result, err := orch.EditPreviousStage(context.Background())
			if err != nil {
				return errorMsg(err)
			}
			return turnMsg(result)
		})

	case "/feedback":
		// /feedback <turn-index> <note>
		if len(fields) < 3 {
			return m.systemNote("Usage: /feedback <turn-index> <note>")
		}
		idx, err := strconv.Atoi(fields[1])
		if err != nil {
			return m.systemNote("Turn index must be a number")
		}
		note := strings.Join(fields[2:], " ")
		if err := m.app.orchestrator.AddFeedback(idx, note); err != nil {
			return m.systemNote(fmt.Sprintf("Feedback failed: %v", err))
		}
		return m.systemNote("Feedback recorded")

	case "/state":
		view := m.app.orchestrator.State().Snapshot()
		var b strings.Builder
		fmt.Fprintf(&b, "Session: %s\nStage: %s\nThread: %s", view.ID, view.Stage, view.ThreadID)
		if view.Profile != "" {
			fmt.Fprintf(&b, "\nProfile:\n%s", view.Profile)
		}
		if view.Plan != "" {
			fmt.Fprintf(&b, "\nPlan:\n%s", view.Plan)
		}
		return m.systemNote(b.String())

	default:
		return m.systemNote("Commands: /back /feedback /state /quit")
	}
}

func (m chatModel) systemNote(text string) (tea.Model, tea.Cmd) {
	m.history = append(m.history, chatMessage{role: "system", content: text, time: time.Now()})
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
	return m, nil
}

// renderHistory formats the conversation for the viewport.
func (m chatModel) renderHistory() string {
	var b strings.Builder
	for _, msg := range m.history {
		switch msg.role {
		case "user":
			b.WriteString(m.styles.User.Render("You"))
			b.WriteString("\n")
			b.WriteString(msg.content)
		case "assistant":
			b.WriteString(m.styles.Stage.Render("WildfireGPT"))
			b.WriteString("\n")
			rendered := msg.content
			if m.renderer != nil {
				if out, err := m.renderer.Render(msg.content); err == nil {
					rendered = out
				}
			}
			b.WriteString(rendered)
			for _, a := range msg.artifacts {
				b.WriteString("\n")
				b.WriteString(m.styles.Artifact.Render(fmt.Sprintf("[%s] %s", a.Kind, a.Title)))
			}
		case "system":
			b.WriteString(m.styles.Help.Render(msg.content))
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

func (m chatModel) View() string {
	if !m.ready {
		return "Starting WildfireGPT..."
	}

	view := m.app.orchestrator.State().Snapshot()
	header := m.styles.Title.Render("WildfireGPT") + "  " +
		m.styles.Stage.Render(fmt.Sprintf("stage: %s", view.Stage))

	var status string
	if m.isLoading {
		status = m.spinner.View() + " thinking..."
	} else {
		status = m.styles.Help.Render("/back /feedback /state /quit")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		m.textinput.View(),
		status,
	)
}

// runInteractiveChat launches the bubbletea chat interface.
func runInteractiveChat() error {
	app, err := bootstrapSession()
	if err != nil {
		return err
	}
	defer app.Close()

	p := tea.NewProgram(initChat(app), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
