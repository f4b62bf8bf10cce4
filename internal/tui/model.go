// Package tui is the terminal front end of the explorer client. Every view
// is chosen by the route guard; the model never decides on its own whether
// a view may be shown.
package tui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kardianos/explorer"
	"github.com/kardianos/explorer/xapi"
	"github.com/kardianos/explorer/xdef"
	"github.com/kardianos/explorer/xguard"
	"github.com/kardianos/explorer/xsession"
)

const (
	msgRegistered    = "Account created successfully! Please sign in."
	msgSignInFirst   = "Please sign in to continue"
	msgDashboardFail = "Failed to fetch dashboard data"
	msgSearchFail    = "Failed to perform search"
	msgImageFail     = "Failed to generate image"
	msgDeleteFail    = "Failed to delete entry"
)

// routeChangedMsg tells the model to re-read the navigator.
type routeChangedMsg struct{}

type authDoneMsg struct {
	op  string
	err error
}

type dashboardMsg struct {
	dash xapi.Dashboard
	err  error
}

type searchDoneMsg struct {
	res xapi.SearchResponse
	err error
}

type imageDoneMsg struct {
	res xapi.ImageResponse
	err error
}

type deletedMsg struct {
	cleared int
	err     error
}

// Model is the root bubbletea model.
type Model struct {
	ctx    context.Context
	client *explorer.Client
	nav    *xguard.Navigator
	events chan tea.Msg
	keys   KeyMap

	route   xguard.Resolution
	spinner spinner.Model
	notice  string
	width   int

	login    form
	register form
	search   form
	image    form

	dash        xapi.Dashboard
	dashLoading bool
	dashErr     string
	cursor      int

	searchRes *xapi.SearchResponse
	imageRes  *xapi.ImageResponse
}

// New creates the model. Call Close when the program exits.
func New(ctx context.Context, c *explorer.Client) Model {
	m := Model{
		ctx:     ctx,
		client:  c,
		events:  make(chan tea.Msg, 1),
		keys:    DefaultKeyMap(),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		login: newForm(
			field{label: "Username", placeholder: "Enter your username"},
			field{label: "Password", placeholder: "Enter your password", secret: true},
		),
		register: newForm(
			field{label: "Username", placeholder: "Choose a username"},
			field{label: "Password", placeholder: "Create a password", secret: true},
			field{label: "Confirm Password", placeholder: "Confirm your password", secret: true},
		),
		search: newForm(field{label: "Search the web", placeholder: "What would you like to know?"}),
		image:  newForm(field{label: "Describe an image", placeholder: "A lighthouse at dusk, oil painting"}),
	}
	events := m.events
	m.nav = c.Navigator(func(xguard.Resolution) {
		select {
		case events <- routeChangedMsg{}:
		default:
		}
	})
	m.route = m.nav.Current()
	return m
}

// Close detaches the model from the session.
func (m Model) Close() {
	m.nav.Close()
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.waitEvent(),
		m.spinner.Tick,
		textinput.Blink,
	)
}

func (m Model) waitEvent() tea.Cmd {
	events := m.events
	return func() tea.Msg { return <-events }
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case routeChangedMsg:
		cmd := m.enter(m.nav.Current())
		return m, tea.Batch(cmd, m.waitEvent())

	case authDoneMsg:
		return m, m.authDone(msg)

	case dashboardMsg:
		m.dashLoading = false
		if msg.err != nil {
			m.dashErr = xdef.Reason(msg.err, msgDashboardFail)
			return m, nil
		}
		m.dashErr = ""
		m.dash = msg.dash
		m.cursor = min(m.cursor, max(m.entries()-1, 0))
		return m, nil

	case searchDoneMsg:
		m.search.busy = false
		if msg.err != nil {
			m.search.err = xdef.Reason(msg.err, msgSearchFail)
			return m, nil
		}
		m.searchRes = &msg.res
		return m, nil

	case imageDoneMsg:
		m.image.busy = false
		if msg.err != nil {
			m.image.err = xdef.Reason(msg.err, msgImageFail)
			return m, nil
		}
		m.imageRes = &msg.res
		return m, nil

	case deletedMsg:
		if msg.err != nil {
			m.dashErr = xdef.Reason(msg.err, msgDeleteFail)
		}
		if msg.cleared > 0 {
			m.notice = fmt.Sprintf("Cleared %d searches", msg.cleared)
		}
		return m, m.loadDashboard()

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			return m, tea.Quit
		}
		return m, m.handleKey(msg)
	}
	return m, nil
}

// navigate asks the guard for target and shows wherever it lands.
func (m *Model) navigate(target xdef.Route) tea.Cmd {
	return m.enter(m.nav.Navigate(string(target)))
}

// enter switches to res, running the view's setup when the view changes.
func (m *Model) enter(res xguard.Resolution) tea.Cmd {
	if res.Route == m.route.Route && res.Placeholder == m.route.Placeholder {
		return nil
	}
	m.route = res
	if res.Placeholder {
		return nil
	}
	switch res.Route {
	case xdef.RouteLanding:
		m.notice = ""
	case xdef.RouteLogin:
		m.notice = ""
		if res.Redirected() {
			m.notice = msgSignInFirst
		}
		return m.login.activate()
	case xdef.RouteRegister:
		m.notice = ""
		return m.register.activate()
	case xdef.RouteDashboard:
		m.notice = ""
		return m.loadDashboard()
	case xdef.RouteSearch:
		m.searchRes = nil
		return m.search.activate()
	case xdef.RouteImageGen:
		m.imageRes = nil
		return m.image.activate()
	}
	return nil
}

func (m *Model) authDone(msg authDoneMsg) tea.Cmd {
	switch msg.op {
	case "login":
		m.login.busy = false
		if msg.err != nil {
			m.login.err = xsession.Message(msg.err)
			return nil
		}
		// The session change already moved the navigator.
		return m.enter(m.nav.Current())
	case "register":
		m.register.busy = false
		if msg.err != nil {
			m.register.err = xsession.Message(msg.err)
			return nil
		}
		cmd := m.navigate(xdef.RouteLogin)
		m.notice = msgRegistered
		return cmd
	}
	return nil
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	if m.route.Placeholder {
		return nil
	}
	switch m.route.Route {
	case xdef.RouteLanding:
		switch {
		case key.Matches(msg, m.keys.Login):
			return m.navigate(xdef.RouteLogin)
		case key.Matches(msg, m.keys.Register):
			return m.navigate(xdef.RouteRegister)
		case key.Matches(msg, m.keys.Dashboard):
			return m.navigate(xdef.RouteDashboard)
		}
		return nil

	case xdef.RouteLogin:
		return m.formKey(&m.login, msg, xdef.RouteLanding, func() tea.Cmd {
			return m.loginCmd(m.login.value(0), m.login.value(1))
		})

	case xdef.RouteRegister:
		return m.formKey(&m.register, msg, xdef.RouteLanding, func() tea.Cmd {
			return m.registerCmd(m.register.value(0), m.register.value(1), m.register.value(2))
		})

	case xdef.RouteSearch:
		return m.formKey(&m.search, msg, xdef.RouteDashboard, func() tea.Cmd {
			m.searchRes = nil
			return m.searchCmd(m.search.value(0))
		})

	case xdef.RouteImageGen:
		return m.formKey(&m.image, msg, xdef.RouteDashboard, func() tea.Cmd {
			m.imageRes = nil
			return m.imageCmd(m.image.value(0))
		})

	case xdef.RouteDashboard:
		return m.dashboardKey(msg)
	}
	return nil
}

func (m *Model) formKey(f *form, msg tea.KeyMsg, back xdef.Route, submit func() tea.Cmd) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Back):
		return m.navigate(back)
	case f.busy:
		return nil
	case key.Matches(msg, m.keys.Submit):
		f.busy = true
		f.err = ""
		return submit()
	case len(f.inputs) > 1 && key.Matches(msg, m.keys.Next):
		return f.move(1)
	case len(f.inputs) > 1 && key.Matches(msg, m.keys.Prev):
		return f.move(-1)
	}
	return f.update(msg)
}

func (m *Model) dashboardKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < m.entries()-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Search):
		return m.navigate(xdef.RouteSearch)
	case key.Matches(msg, m.keys.Image):
		return m.navigate(xdef.RouteImageGen)
	case key.Matches(msg, m.keys.Refresh):
		return m.loadDashboard()
	case key.Matches(msg, m.keys.Delete):
		return m.deleteSelected()
	case key.Matches(msg, m.keys.Clear):
		return m.clearHistoryCmd()
	case key.Matches(msg, m.keys.Logout):
		m.client.Session.Logout()
		return m.navigate(xdef.RouteLanding)
	case key.Matches(msg, m.keys.Back):
		return m.navigate(xdef.RouteLanding)
	}
	return nil
}

// entries counts the selectable dashboard rows: searches, then images.
func (m Model) entries() int {
	return len(m.dash.Searches) + len(m.dash.Images)
}

func (m *Model) deleteSelected() tea.Cmd {
	if m.entries() == 0 {
		return nil
	}
	api, ctx := m.client.API, m.ctx
	if m.cursor < len(m.dash.Searches) {
		id := m.dash.Searches[m.cursor].ID
		return func() tea.Msg { return deletedMsg{err: api.DeleteSearch(ctx, id)} }
	}
	id := m.dash.Images[m.cursor-len(m.dash.Searches)].ID
	return func() tea.Msg { return deletedMsg{err: api.DeleteImage(ctx, id)} }
}

func (m *Model) loadDashboard() tea.Cmd {
	m.dashLoading = true
	api, ctx := m.client.API, m.ctx
	return func() tea.Msg {
		d, err := api.Dashboard(ctx)
		return dashboardMsg{dash: d, err: err}
	}
}

func (m Model) clearHistoryCmd() tea.Cmd {
	api, ctx := m.client.API, m.ctx
	return func() tea.Msg {
		n, err := api.ClearSearchHistory(ctx)
		return deletedMsg{cleared: n, err: err}
	}
}

func (m Model) loginCmd(username, password string) tea.Cmd {
	s, ctx := m.client.Session, m.ctx
	return func() tea.Msg {
		return authDoneMsg{op: "login", err: s.Login(ctx, username, password)}
	}
}

func (m Model) registerCmd(username, password, confirm string) tea.Cmd {
	s, ctx := m.client.Session, m.ctx
	return func() tea.Msg {
		return authDoneMsg{op: "register", err: s.RegisterConfirm(ctx, username, password, confirm)}
	}
}

func (m Model) searchCmd(query string) tea.Cmd {
	api, ctx := m.client.API, m.ctx
	return func() tea.Msg {
		res, err := api.Search(ctx, query)
		return searchDoneMsg{res: res, err: err}
	}
}

func (m Model) imageCmd(prompt string) tea.Cmd {
	api, ctx := m.client.API, m.ctx
	return func() tea.Msg {
		res, err := api.GenerateImage(ctx, prompt)
		return imageDoneMsg{res: res, err: err}
	}
}
