package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"

	"github.com/kardianos/explorer/xapi"
	"github.com/kardianos/explorer/xdef"
)

func (m Model) View() string {
	var body string
	var keys []key.Binding
	switch {
	case m.route.Placeholder:
		body = m.spinner.View() + " Loading..."
	case m.route.Route == xdef.RouteLanding:
		body = m.landingView()
		keys = []key.Binding{m.keys.Login, m.keys.Register, m.keys.Dashboard}
	case m.route.Route == xdef.RouteLogin:
		body = m.formView("Welcome back", "Sign in to your AI Explorer account", m.login)
		keys = []key.Binding{m.keys.Submit, m.keys.Next, m.keys.Back}
	case m.route.Route == xdef.RouteRegister:
		body = m.formView("Create your account", "Start exploring with AI-powered search and image generation", m.register)
		keys = []key.Binding{m.keys.Submit, m.keys.Next, m.keys.Back}
	case m.route.Route == xdef.RouteDashboard:
		body = m.dashboardView()
		keys = []key.Binding{m.keys.Up, m.keys.Down, m.keys.Search, m.keys.Image, m.keys.Delete, m.keys.Clear, m.keys.Refresh, m.keys.Logout}
	case m.route.Route == xdef.RouteSearch:
		body = m.formView(m.title(), "Search the web and save results", m.search) + m.searchResultsView()
		keys = []key.Binding{m.keys.Submit, m.keys.Back}
	case m.route.Route == xdef.RouteImageGen:
		body = m.formView(m.title(), "Generate images from text prompts", m.image) + m.imageResultView()
		keys = []key.Binding{m.keys.Submit, m.keys.Back}
	}
	keys = append(keys, m.keys.Quit)

	panel := PanelStyle
	if m.width > 4 {
		panel = panel.Width(m.width - 4)
	}
	h := help.New()
	out := lipgloss.JoinVertical(lipgloss.Left,
		m.header(),
		m.navBar(),
		panel.Render(body),
		HelpStyle.Render(h.ShortHelpView(keys)),
	)
	return out + "\n"
}

func (m Model) header() string {
	title := TitleStyle.Render("AI Explorer")
	if s := m.client.Session.Snapshot(); s.Authenticated() && s.Username() != "" {
		title += SubtitleStyle.Render("  signed in as " + s.Username())
	}
	return title
}

// title is the route table's title for the visible view.
func (m Model) title() string {
	if e, ok := m.client.Router.Lookup(m.route.Route); ok {
		return e.Title
	}
	return string(m.route.Route)
}

// navBar lists the views the current session may open without being
// redirected.
func (m Model) navBar() string {
	status := m.client.Session.Status()
	var items []string
	for _, e := range m.client.Router.Entries() {
		res := m.client.Router.Resolve(string(e.Route), status)
		if res.Placeholder || res.Redirected() {
			continue
		}
		style := ItemStyle
		if e.Route == m.route.Route && !m.route.Placeholder {
			style = SelectedStyle
		}
		items = append(items, style.Render(e.Title))
	}
	return strings.Join(items, SubtitleStyle.Render(" | "))
}

func (m Model) landingView() string {
	var b strings.Builder
	b.WriteString(LabelStyle.Render("Explore the web and create with AI"))
	b.WriteString("\n\n")
	for _, f := range []string{
		"AI-Powered Web Search",
		"Image Generation",
		"Smart Dashboard",
		"Secure & Private",
	} {
		b.WriteString(ItemStyle.Render("  • " + f))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) formView(title, subtitle string, f form) string {
	var b strings.Builder
	b.WriteString(LabelStyle.Render(title))
	b.WriteString("\n")
	b.WriteString(SubtitleStyle.Render(subtitle))
	b.WriteString("\n\n")
	if m.notice != "" {
		b.WriteString(NoticeStyle.Render(m.notice))
		b.WriteString("\n\n")
	}
	b.WriteString(f.view())
	return b.String()
}

func (m Model) dashboardView() string {
	var b strings.Builder
	if s := m.client.Session.Snapshot(); s.Username() != "" {
		fmt.Fprintf(&b, "%s\n", LabelStyle.Render("Welcome back, "+s.Username()+"!"))
	}
	fmt.Fprintf(&b, "%s\n\n", SubtitleStyle.Render(fmt.Sprintf(
		"Total Searches %d   Images Generated %d   Total Activity %d",
		len(m.dash.Searches), len(m.dash.Images), m.entries())))

	switch {
	case m.dashErr != "":
		b.WriteString(ErrorStyle.Render(m.dashErr))
		b.WriteString("\n\n")
	case m.notice != "":
		b.WriteString(NoticeStyle.Render(m.notice))
		b.WriteString("\n\n")
	}
	if m.dashLoading && m.entries() == 0 {
		b.WriteString(m.spinner.View() + " Loading...")
		return b.String()
	}

	b.WriteString(LabelStyle.Render("Recent Searches"))
	b.WriteString("\n")
	if len(m.dash.Searches) == 0 {
		b.WriteString(SubtitleStyle.Render("  No searches yet"))
		b.WriteString("\n")
	}
	for i, s := range m.dash.Searches {
		line := fmt.Sprintf("%s  %s (%d results)", s.Timestamp.Format("Jan 2 15:04"), s.Query, len(s.ParsedResults()))
		b.WriteString(m.row(i, line))
	}

	b.WriteString("\n")
	b.WriteString(LabelStyle.Render("Generated Images"))
	b.WriteString("\n")
	if len(m.dash.Images) == 0 {
		b.WriteString(SubtitleStyle.Render("  No images yet"))
		b.WriteString("\n")
	}
	for i, img := range m.dash.Images {
		line := fmt.Sprintf("%s  %s  %s", img.Timestamp.Format("Jan 2 15:04"), img.Prompt, img.ImageURL)
		b.WriteString(m.row(len(m.dash.Searches)+i, line))
	}
	return b.String()
}

func (m Model) row(i int, line string) string {
	if i == m.cursor {
		return SelectedStyle.Render("> "+line) + "\n"
	}
	return ItemStyle.Render("  "+line) + "\n"
}

func (m Model) searchResultsView() string {
	if m.searchRes == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\n", LabelStyle.Render(fmt.Sprintf("Results for %q", m.searchRes.Query)))
	if len(m.searchRes.Results) == 0 {
		b.WriteString(SubtitleStyle.Render("No results found"))
		b.WriteString("\n")
	}
	for _, r := range m.searchRes.Results {
		b.WriteString(resultView(r))
	}
	return b.String()
}

func resultView(r xapi.SearchResult) string {
	return fmt.Sprintf("%s  %s\n%s\n\n",
		ItemStyle.Bold(true).Render(r.Title),
		SiteStyle.Render(r.Site()),
		SubtitleStyle.Render(r.Body),
	)
}

func (m Model) imageResultView() string {
	if m.imageRes == nil {
		return ""
	}
	msg := m.imageRes.Message
	if msg == "" {
		msg = "Image generated"
	}
	return fmt.Sprintf("\n%s\n%s\n", NoticeStyle.Render(msg), SiteStyle.Render(m.imageRes.ImageURL))
}
