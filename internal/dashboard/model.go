package dashboard

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

type viewMsg struct {
	view View
	err  error
}

type tickMsg time.Time

type model struct {
	ctx      context.Context
	loader   Loader
	interval time.Duration

	view   View
	err    error
	width  int
	height int
}

func newModel(ctx context.Context, loader Loader, interval time.Duration) model {
	if interval <= 0 {
		interval = time.Second
	}
	return model{ctx: ctx, loader: loader, interval: interval, width: 100}
}

func (m model) Init() tea.Cmd {
	return m.load()
}

func (m model) load() tea.Cmd {
	return func() tea.Msg {
		v, err := m.loader.Load(m.ctx)
		return viewMsg{view: v, err: err}
	}
}

func (m model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case "r":
			return m, m.load()
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case viewMsg:
		if msg.err != nil {
			log.Debugf("[dashboard] 刷新失败: %v", msg.err)
			m.err = msg.err
		} else {
			m.view = msg.view
			m.err = nil
		}
		return m, m.tick()
	case tickMsg:
		return m, m.load()
	}
	return m, nil
}

func (m model) View() string {
	return Render(m.view, m.err, m.width)
}

// Run 运行看板直到用户退出或 ctx 取消。
func Run(ctx context.Context, loader Loader, interval time.Duration) error {
	p := tea.NewProgram(newModel(ctx, loader, interval), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
