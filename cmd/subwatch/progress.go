package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pders01/subwatch/internal/task"
)

type progressMsg task.Progress

type taskDoneMsg task.Result

// progressModel follows one task until it ends. Tasks cannot be cancelled,
// so ctrl+c only prints a note.
type progressModel struct {
	title   string
	handle  *task.Handle
	bar     progress.Model
	current task.Progress
	result  task.Result
	done    bool
	note    string
}

func newProgressModel(title string, h *task.Handle) *progressModel {
	return &progressModel{
		title:  title,
		handle: h,
		bar:    progress.New(progress.WithGradient(string(PrimaryColor), string(SecondaryColor)), progress.WithWidth(50)),
	}
}

func (m *progressModel) Init() tea.Cmd {
	return m.waitForProgress()
}

func (m *progressModel) waitForProgress() tea.Cmd {
	return func() tea.Msg {
		update, ok := <-m.handle.Progress()
		if !ok {
			return taskDoneMsg(m.handle.Wait())
		}
		return progressMsg(update)
	}
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case progressMsg:
		m.current = task.Progress(msg)
		return m, m.waitForProgress()

	case taskDoneMsg:
		m.result = task.Result(msg)
		m.done = true
		return m, tea.Quit

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.note = "Running tasks cannot be cancelled, waiting for it to finish."
		}

	case tea.WindowSizeMsg:
		if w := msg.Width - 10; w > 10 && w < 80 {
			m.bar.Width = w
		}
	}
	return m, nil
}

func (m *progressModel) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(m.title))
	b.WriteString("\n\n")
	b.WriteString(m.bar.ViewAs(m.current.Fraction))
	b.WriteString("\n")
	if m.current.Message != "" {
		b.WriteString(MutedStyle.Render(m.current.Message))
		b.WriteString("\n")
	}
	if m.note != "" {
		b.WriteString(ErrorStyle.Render(m.note))
		b.WriteString("\n")
	}
	if m.done {
		b.WriteString("\n")
	}
	return b.String()
}

// followTask shows the progress of h and returns its result. With plain set,
// updates are printed as lines instead of a progress bar.
func followTask(out io.Writer, plain bool, title string, h *task.Handle) (task.Result, error) {
	if plain {
		fmt.Fprintln(out, title)
		for p := range h.Progress() {
			fmt.Fprintf(out, "[%3.0f%%] %s\n", p.Fraction*100, p.Message)
		}
		return h.Wait(), nil
	}

	m := newProgressModel(title, h)
	if _, err := tea.NewProgram(m, tea.WithOutput(out)).Run(); err != nil {
		// The task still finishes on the worker.
		return h.Wait(), fmt.Errorf("progress view: %w", err)
	}
	return m.result, nil
}
