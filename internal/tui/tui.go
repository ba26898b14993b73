package tui

import (
	"fmt"
	"strings"
	"time"

	"trustchain/internal/ledger"
	"trustchain/internal/models"
	"trustchain/internal/reputation"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

var (
	validStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	invalidStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

func padToWidth(s string, width int) string {
	current := runewidth.StringWidth(s)
	if current >= width {
		return s
	}
	return s + strings.Repeat(" ", width-current)
}

// truncateToWidth cuts s to at most width display cells, marking the cut with "..."
func truncateToWidth(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= width {
		return s
	}
	if width <= 3 {
		return runewidth.Truncate(s, width, "")
	}
	return runewidth.Truncate(s, width, "...")
}

func separatorLine(width int) string {
	if width < 2 {
		return strings.Repeat("─", width)
	}
	return "├" + strings.Repeat("─", width-2) + "┤"
}

func formatInfoLine(text string, width int) string {
	if width < 2 {
		return padToWidth(text, width)
	}
	return "│" + padToWidth(truncateToWidth(text, width-2), width-2) + "│"
}

// shortHash keeps both ends of a hash, the way block cards print them
func shortHash(h string) string {
	if len(h) <= 16 {
		return h
	}
	return h[:8] + "..." + h[len(h)-8:]
}

// Loader fetches the chain to display
type Loader func() (*reputation.TrustChain, error)

// chainMsg carries a freshly loaded chain
type chainMsg struct {
	chain *reputation.TrustChain
	err   error
}

// Model holds the TUI state
type Model struct {
	load   Loader
	chain  *reputation.TrustChain
	err    error
	offset int
	width  int
	height int
}

// NewModel creates a new TUI model
func NewModel(load Loader) Model {
	return Model{load: load}
}

func (m Model) fetch() tea.Msg {
	chain, err := m.load()
	return chainMsg{chain: chain, err: err}
}

// Init loads the chain
func (m Model) Init() tea.Cmd {
	return m.fetch
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case chainMsg:
		m.chain = msg.chain
		m.err = msg.err
		m.offset = 0
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.fetch
		case "down", "j":
			if m.chain != nil && m.offset < len(m.chain.Blocks)-1 {
				m.offset++
			}
		case "up", "k":
			if m.offset > 0 {
				m.offset--
			}
		case "home", "g":
			m.offset = 0
		}
	}

	return m, nil
}

// View renders the UI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	if m.err != nil {
		return invalidStyle.Render("failed to load chain: "+m.err.Error()) + "\n" + dimStyle.Render("r retry  q quit")
	}
	if m.chain == nil {
		return "Loading..."
	}

	return lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(), m.renderBlocks())
}

// renderHeader renders the owner, score and verification banner
func (m Model) renderHeader() string {
	c := m.chain
	owner := c.Name
	if owner == "" {
		owner = c.UserID
	}

	status, statusStyle := "Chain Verified", validStyle
	if !c.Verification.Valid {
		status, statusStyle = "Chain Compromised", invalidStyle
	}
	mode := "strict"
	if !c.Verification.Strict {
		mode = "links only"
	}

	lines := []string{
		fmt.Sprintf("Trust Chain Ledger: %s", owner),
		fmt.Sprintf("score: %d pts (%s)   blocks: %d   verification: %s", c.Points, c.Tier, len(c.Blocks), mode),
		status,
	}
	if !c.Verification.Valid {
		lines = append(lines, fmt.Sprintf("block #%d: %s", len(c.Blocks)-c.Verification.BrokenAt, c.Verification.Reason))
	}

	top := "┌" + strings.Repeat("─", max(m.width-2, 0)) + "┐"
	rows := make([]string, 0, len(lines))
	for _, l := range lines {
		row := formatInfoLine(" "+l, m.width)
		if l == status {
			// style after padding so escape codes do not count as width
			row = strings.Replace(row, status, statusStyle.Render(status), 1)
		}
		rows = append(rows, row)
	}
	return top + "\n" + strings.Join(rows, "\n")
}

// renderBlocks renders one card row per block, newest first, from the scroll offset
func (m Model) renderBlocks() string {
	blocks := m.chain.Blocks
	bottom := "└" + strings.Repeat("─", max(m.width-2, 0)) + "┘"
	if len(blocks) == 0 {
		return separatorLine(m.width) + "\n" + formatInfoLine(" No reputation blocks mined yet.", m.width) + "\n" + bottom
	}

	// header box (up to 5 lines) + separators, genesis row and help (5 lines); 3 lines per block
	visible := (m.height - 10) / 3
	if visible < 1 {
		visible = 1
	}

	var lines []string
	end := m.offset + visible
	if end > len(blocks) {
		end = len(blocks)
	}
	for i := m.offset; i < end; i++ {
		lines = append(lines, m.renderBlock(i, blocks[i])...)
	}
	if end == len(blocks) {
		lines = append(lines, formatInfoLine(" ○ Genesis Origin", m.width))
	}

	help := fmt.Sprintf("blocks %d-%d of %d   ↑/↓ scroll  r reload  q quit", m.offset+1, end, len(blocks))
	return separatorLine(m.width) + "\n" + strings.Join(lines, "\n") + "\n" +
		separatorLine(m.width) + "\n" + formatInfoLine(help, m.width) + "\n" + bottom
}

func (m Model) renderBlock(i int, b *models.ReputationBlock) []string {
	number := len(m.chain.Blocks) - i
	marker := "■"
	if b.PreviousHash == ledger.Genesis {
		marker = "★"
	}
	if !m.chain.Verification.Valid && m.chain.Verification.BrokenAt == i {
		marker = "✗"
	}

	action := strings.ReplaceAll(b.ActionType, "_", " ")
	title := fmt.Sprintf(" %s #%-4d %-24s %+d Rep   %s", marker, number, action, b.Points, b.CreatedAt.Local().Format(time.DateTime))
	links := fmt.Sprintf("   PREV %s   CURR %s", shortHash(b.PreviousHash), shortHash(b.CurrentHash))
	meta := ""
	if len(b.Metadata) > 0 && string(b.Metadata) != "{}" {
		meta = "   " + string(b.Metadata)
	}
	return []string{
		formatInfoLine(title, m.width),
		formatInfoLine(links, m.width),
		formatInfoLine(meta, m.width),
	}
}

// Run starts the TUI program
func Run(load Loader) error {
	p := tea.NewProgram(NewModel(load), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
