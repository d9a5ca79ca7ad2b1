package viz

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/san-kum/diffdyn/internal/neural"
	"github.com/san-kum/diffdyn/internal/scenario"
)

var (
	cursorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	itemStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	descStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

// Picker lists the registered scenarios and opens the live view on the
// chosen one.
type Picker struct {
	registry *scenario.Registry
	stepper  *neural.Stepper
	names    []string
	cursor   int
	err      error

	live   *Model
	width  int
	height int
}

func NewPicker(reg *scenario.Registry, stepper *neural.Stepper) Picker {
	return Picker{registry: reg, stepper: stepper, names: reg.List()}
}

// Selected is the live view, once a scenario has been opened.
func (p Picker) Selected() *Model { return p.live }
func (p Picker) Err() error       { return p.err }

func (p Picker) Init() tea.Cmd { return nil }

func (p Picker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if p.live != nil {
		next, cmd := p.live.Update(msg)
		live := next.(Model)
		p.live = &live
		return p, cmd
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		p.width, p.height = msg.Width, msg.Height
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return p, tea.Quit
		case "up", "k":
			if p.cursor > 0 {
				p.cursor--
			}
		case "down", "j":
			if p.cursor < len(p.names)-1 {
				p.cursor++
			}
		case "enter", " ":
			return p.open()
		}
	}
	return p, nil
}

func (p Picker) open() (tea.Model, tea.Cmd) {
	if len(p.names) == 0 {
		return p, nil
	}
	name := p.names[p.cursor]
	w, err := p.registry.Build(name)
	if err != nil {
		p.err = err
		return p, nil
	}
	live := NewModel(name, w, p.stepper)
	p.live = &live
	return p, live.Init()
}

func (p Picker) View() string {
	if p.live != nil {
		return p.live.View()
	}

	var s strings.Builder
	s.WriteString(TitleStyle.Render("diffdyn scenarios") + "\n\n")
	for i, name := range p.names {
		desc, _ := p.registry.Describe(name)
		prefix, style := "  ", itemStyle
		if i == p.cursor {
			prefix, style = "> ", cursorStyle
		}
		s.WriteString(prefix + style.Render(name) + "  " + descStyle.Render(desc) + "\n")
	}
	if p.err != nil {
		s.WriteString("\n" + FailStyle.Render(p.err.Error()) + "\n")
	}
	s.WriteString("\n" + Subtle.Render("↑↓ select  enter open  q quit"))
	return s.String()
}

func RunInteractive(reg *scenario.Registry, stepper *neural.Stepper) error {
	_, err := tea.NewProgram(NewPicker(reg, stepper), tea.WithAltScreen()).Run()
	return err
}
