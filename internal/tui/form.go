package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

type field struct {
	label       string
	secret      bool
	placeholder string
}

// form is a column of text inputs with one focused at a time.
type form struct {
	labels []string
	inputs []textinput.Model
	focus  int

	busy bool
	err  string
}

func newForm(fields ...field) form {
	f := form{}
	for _, fd := range fields {
		ti := textinput.New()
		ti.Placeholder = fd.placeholder
		ti.CharLimit = 256
		ti.Width = 40
		if fd.secret {
			ti.EchoMode = textinput.EchoPassword
			ti.EchoCharacter = '•'
		}
		f.labels = append(f.labels, fd.label)
		f.inputs = append(f.inputs, ti)
	}
	return f
}

// activate focuses the first input and clears previous input.
func (f *form) activate() tea.Cmd {
	for i := range f.inputs {
		f.inputs[i].SetValue("")
		f.inputs[i].Blur()
	}
	f.focus = 0
	f.busy = false
	f.err = ""
	return f.inputs[0].Focus()
}

func (f *form) move(delta int) tea.Cmd {
	f.inputs[f.focus].Blur()
	f.focus = (f.focus + delta + len(f.inputs)) % len(f.inputs)
	return f.inputs[f.focus].Focus()
}

func (f *form) update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	f.inputs[f.focus], cmd = f.inputs[f.focus].Update(msg)
	return cmd
}

func (f *form) value(i int) string {
	return f.inputs[i].Value()
}

func (f *form) set(i int, v string) {
	f.inputs[i].SetValue(v)
}

func (f form) view() string {
	var b strings.Builder
	for i, ti := range f.inputs {
		b.WriteString(LabelStyle.Render(f.labels[i]))
		b.WriteString("\n")
		b.WriteString(ti.View())
		b.WriteString("\n\n")
	}
	switch {
	case f.busy:
		b.WriteString(SubtitleStyle.Render("Working..."))
	case f.err != "":
		b.WriteString(ErrorStyle.Render(f.err))
	}
	return b.String()
}
