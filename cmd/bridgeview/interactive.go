package main

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	nativebridge "github.com/omnisdk/native-bridge"
	"github.com/omnisdk/native-bridge/app"
	"github.com/omnisdk/native-bridge/database"
	"github.com/omnisdk/native-bridge/dispatch"
	"github.com/omnisdk/native-bridge/native/fake"
	"github.com/omnisdk/native-bridge/storage"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	statStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	eventStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// session owns the app on a dedicated goroutine. The dispatcher binds to
// its creating goroutine, so every bridge call and every drain happens
// there; the TUI only exchanges closures and snapshots with it.
type session struct {
	cmds chan func()
	quit chan struct{}
	done chan struct{}

	mu    sync.Mutex
	log   []string
	stats sessionStats

	a  *app.App
	be *fake.Backend
	db *database.Database
	st *storage.Storage
}

type sessionStats struct {
	instances int
	destroyed int
	queued    int
	routes    int
}

func startSession(appName string) (*session, error) {
	s := &session{
		cmds: make(chan func(), 16),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}

	errc := make(chan error, 1)
	go s.loop(appName, errc)
	if err := <-errc; err != nil {
		return nil, err
	}
	return s, nil
}

func (s *session) loop(appName string, errc chan<- error) {
	defer close(s.done)

	s.be = fake.New()
	a, err := app.New(app.Config{Name: appName}, s.be)
	if err != nil {
		errc <- err
		return
	}
	s.a = a
	defer a.Dispose()

	if s.db, err = database.GetInstance(a, "https://demo.example.dev"); err != nil {
		errc <- err
		return
	}
	if s.st, err = storage.GetInstance(a, "gs://demo-bucket"); err != nil {
		errc <- err
		return
	}
	errc <- nil

	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-s.quit:
			return
		case fn := <-s.cmds:
			fn()
		case <-tick.C:
			if err := a.Dispatcher().Drain(); err != nil {
				s.logf("%s", errorStyle.Render(fmt.Sprintf("drain: %v", err)))
			}
			s.mu.Lock()
			s.stats = sessionStats{
				instances: s.be.LiveInstances(),
				destroyed: s.be.DestroyedInstances(),
				queued:    a.Dispatcher().Len(),
				routes:    a.Registry().Len(),
			}
			s.mu.Unlock()
		}
	}
}

func (s *session) stop() {
	close(s.quit)
	<-s.done
}

// run executes fn on the owning goroutine and waits for it.
func (s *session) run(fn func()) {
	donec := make(chan struct{})
	select {
	case s.cmds <- func() { fn(); close(donec) }:
		<-donec
	case <-s.done:
	}
}

func (s *session) logf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, fmt.Sprintf(format, args...))
	if len(s.log) > 200 {
		s.log = s.log[len(s.log)-200:]
	}
}

func (s *session) snapshot() ([]string, sessionStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...), s.stats
}

// execute parses and runs one command line. Runs on the owning goroutine.
func (s *session) execute(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	logResult := func(task *dispatch.Task[any], what string) {
		go func() {
			<-task.C()
			if v, err := task.Result(); err != nil {
				s.logf("%s", errorStyle.Render(fmt.Sprintf("%s: %v", what, err)))
			} else {
				s.logf("%s", resultStyle.Render(fmt.Sprintf("%s: %v", what, v)))
			}
		}()
	}

	switch fields[0] {
	case "set":
		if len(fields) < 3 {
			s.logf("usage: set <path> <value>")
			return
		}
		task, err := s.db.Ref(fields[1]).SetValue(parseValue(strings.Join(fields[2:], " ")))
		if err != nil {
			s.logf("%s", errorStyle.Render(err.Error()))
			return
		}
		logResult(task, "set "+fields[1])

	case "get":
		if len(fields) != 2 {
			s.logf("usage: get <path>")
			return
		}
		task, err := s.db.Ref(fields[1]).GetValue()
		if err != nil {
			s.logf("%s", errorStyle.Render(err.Error()))
			return
		}
		logResult(task, "get "+fields[1])

	case "listen":
		if len(fields) != 2 {
			s.logf("usage: listen <path>")
			return
		}
		path := fields[1]
		reg, err := s.db.Ref(path).OnValue(func(e *nativebridge.Event) error {
			s.logf("%s", eventStyle.Render(fmt.Sprintf("event %s = %v", e.Path, e.Value)))
			return nil
		})
		if err != nil {
			s.logf("%s", errorStyle.Render(err.Error()))
			return
		}
		s.logf("listening on %s (callback id %d)", path, reg.ID())

	case "incr":
		if len(fields) != 2 {
			s.logf("usage: incr <path>")
			return
		}
		task, err := s.db.Ref(fields[1]).RunTransaction(func(current any, attempt int32) (any, bool) {
			n, _ := current.(int64)
			return n + 1, false
		})
		if err != nil {
			s.logf("%s", errorStyle.Render(err.Error()))
			return
		}
		logResult(task, "incr "+fields[1])

	case "put":
		if len(fields) < 3 {
			s.logf("usage: put <path> <text>")
			return
		}
		tr, err := s.st.Reference(fields[1]).PutBytes([]byte(strings.Join(fields[2:], " ")))
		if err != nil {
			s.logf("%s", errorStyle.Render(err.Error()))
			return
		}
		go func() {
			<-tr.Task().C()
			if n, err := tr.Task().Result(); err != nil {
				s.logf("%s", errorStyle.Render(fmt.Sprintf("put %s: %v", fields[1], err)))
			} else {
				s.logf("%s", resultStyle.Render(fmt.Sprintf("put %s: %d bytes", fields[1], n)))
			}
		}()

	case "fetch":
		if len(fields) != 2 {
			s.logf("usage: fetch <path>")
			return
		}
		tr, err := s.st.Reference(fields[1]).GetBytes(1 << 20)
		if err != nil {
			s.logf("%s", errorStyle.Render(err.Error()))
			return
		}
		go func() {
			<-tr.Task().C()
			if data, err := tr.Task().Result(); err != nil {
				s.logf("%s", errorStyle.Render(fmt.Sprintf("fetch %s: %v", fields[1], err)))
			} else {
				s.logf("%s", resultStyle.Render(fmt.Sprintf("fetch %s: %q", fields[1], data)))
			}
		}()

	default:
		s.logf("commands: set get listen incr put fetch")
	}
}

// parseValue keeps integers as int64 so they survive transactions.
func parseValue(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

type tickMsg time.Time

type interactiveModel struct {
	sess    *session
	appName string
	input   textinput.Model
	log     []string
	stats   sessionStats
}

func newInteractiveModel(appName string, sess *session) *interactiveModel {
	ti := textinput.New()
	ti.Placeholder = "set counters/visits 1"
	ti.Prompt = "> "
	ti.Width = 60
	ti.Focus()

	return &interactiveModel{
		sess:    sess,
		appName: appName,
		input:   ti,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.sess.stop()
			return m, tea.Quit
		case "enter":
			line := m.input.Value()
			m.input.SetValue("")
			if line != "" {
				m.sess.run(func() { m.sess.execute(line) })
			}
			return m, nil
		}

	case tickMsg:
		m.log, m.stats = m.sess.snapshot()
		return m, tickCmd()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Bridge View"))
	b.WriteString(" app=" + m.appName)
	b.WriteString("\n\n")

	b.WriteString(statStyle.Render(fmt.Sprintf(
		"instances %d  destroyed %d  queued %d  routes %d",
		m.stats.instances, m.stats.destroyed, m.stats.queued, m.stats.routes)))
	b.WriteString("\n\n")

	start := 0
	if len(m.log) > 12 {
		start = len(m.log) - 12
	}
	for _, line := range m.log[start:] {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("set/get/listen/incr on the database • put/fetch on storage • esc quit"))

	return b.String()
}

func runInteractive(appName string) error {
	sess, err := startSession(appName)
	if err != nil {
		return err
	}

	p := tea.NewProgram(newInteractiveModel(appName, sess), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
