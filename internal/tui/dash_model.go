package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/felixgeelhaar/gantry/internal/domain/extension"
	"github.com/felixgeelhaar/gantry/internal/domain/registry"
	"github.com/felixgeelhaar/gantry/internal/domain/updater"
	"github.com/felixgeelhaar/gantry/internal/tui/ui"
)

const (
	stateEnabled  = "enabled"
	stateDisabled = "disabled"
	statePending  = "pending"

	// feedHeight is the event panel height in rows.
	feedHeight = 6
	// feedCap bounds the event history kept for scrolling.
	feedCap = 50
)

// dashRow is one line of the extension table.
type dashRow struct {
	ID       string
	Name     string
	Version  string
	Kind     string
	State    string
	Location string
}

// dashEventMsg wraps a registry event forwarded into the program.
type dashEventMsg registry.Event

// dashSnapshotMsg carries a fresh read of the registry's live sets.
type dashSnapshotMsg struct {
	rows []dashRow
	err  error
}

// dashStatusMsg carries a fresh updater status snapshot.
type dashStatusMsg updater.Status

// dashTickMsg drives the periodic refresh.
type dashTickMsg time.Time

// dashModel is the Bubble Tea model for the extension dashboard.
type dashModel struct {
	ctx  context.Context
	deps DashDeps
	opts DashOptions

	styles ui.Styles
	keys   ui.KeyMap
	width  int
	height int

	rows    []dashRow
	cursor  int
	loadErr string

	filter    textinput.Model
	filtering bool

	feed     []string
	eventLog viewport.Model

	spin     spinner.Model
	checking bool

	status updater.Status

	notice    string
	noticeErr bool
	cancelled bool
}

// newDashModel creates a new dashboard model.
func newDashModel(ctx context.Context, deps DashDeps, opts DashOptions) dashModel {
	styles := ui.DefaultStyles()

	ti := textinput.New()
	ti.Placeholder = "name or id"
	ti.Prompt = "/ "
	ti.CharLimit = ui.DefaultSearchCharLimit
	ti.Width = ui.DefaultWidthSmall

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	if opts.Refresh <= 0 {
		opts.Refresh = NewDashOptions().Refresh
	}

	m := dashModel{
		ctx:      ctx,
		deps:     deps,
		opts:     opts,
		styles:   styles,
		keys:     ui.DefaultKeyMap(),
		width:    ui.DefaultWidthLarge,
		height:   ui.DefaultHeightLarge,
		filter:   ti,
		eventLog: viewport.New(ui.DefaultWidthLarge, feedHeight),
		spin:     sp,
	}
	if deps.Updater != nil {
		m.status = deps.Updater.Status()
	}
	return m
}

// Init initializes the model.
func (m dashModel) Init() tea.Cmd {
	return tea.Batch(tea.WindowSize(), m.spin.Tick, m.loadSnapshot(), m.tick())
}

// Update handles messages.
func (m dashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.styles = m.styles.WithWidth(msg.Width)
		m.eventLog.Width = max(20, msg.Width-4)
		return m, nil

	case tea.KeyMsg:
		return m.updateKeys(msg)

	case dashEventMsg:
		m.appendEvent(registry.Event(msg))
		return m, m.loadSnapshot()

	case dashSnapshotMsg:
		if msg.err != nil {
			m.loadErr = msg.err.Error()
			return m, nil
		}
		m.loadErr = ""
		m.rows = msg.rows
		m.clampCursor()
		return m, nil

	case dashStatusMsg:
		m.status = updater.Status(msg)
		return m, nil

	case dashTickMsg:
		return m, tea.Batch(m.loadSnapshot(), m.loadStatus(), m.tick())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case ui.SuccessMsg:
		m.checking = false
		m.notice, m.noticeErr = msg.Message, false
		return m, tea.Batch(m.loadSnapshot(), m.loadStatus())

	case ui.ErrorMsg:
		m.checking = false
		m.notice, m.noticeErr = msg.Err.Error(), true
		return m, m.loadSnapshot()
	}

	return m, nil
}

func (m dashModel) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.filtering {
		switch msg.Type {
		case tea.KeyEsc:
			m.filtering = false
			m.filter.SetValue("")
			m.filter.Blur()
			m.clampCursor()
			return m, nil
		case tea.KeyEnter:
			m.filtering = false
			m.filter.Blur()
			return m, nil
		default:
			var cmd tea.Cmd
			m.filter, cmd = m.filter.Update(msg)
			m.clampCursor()
			return m, cmd
		}
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case msg.Type == tea.KeyEsc:
		m.cancelled = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Filter):
		m.filtering = true
		m.filter.Focus()
		return m, textinput.Blink

	case m.keys.IsUp(msg):
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case m.keys.IsDown(msg):
		if m.cursor < len(m.visibleRows())-1 {
			m.cursor++
		}
		return m, nil

	case key.Matches(msg, m.keys.Home):
		m.cursor = 0
		return m, nil

	case key.Matches(msg, m.keys.End):
		m.cursor = max(0, len(m.visibleRows())-1)
		return m, nil

	case key.Matches(msg, m.keys.PageUp), key.Matches(msg, m.keys.PageDown):
		var cmd tea.Cmd
		m.eventLog, cmd = m.eventLog.Update(msg)
		return m, cmd

	case key.Matches(msg, m.keys.Toggle):
		return m, m.toggleSelected()

	case msg.String() == "r":
		return m, m.reloadSelected()

	case msg.String() == "u":
		if m.deps.Updater != nil && !m.checking {
			m.checking = true
			m.notice = ""
			return m, m.runCheck()
		}
		return m, nil
	}

	return m, nil
}

// View renders the model.
func (m dashModel) View() string {
	var b strings.Builder

	title := "Gantry Extensions"
	if m.deps.Profile != "" {
		title += " — " + m.deps.Profile
	}
	b.WriteString(m.styles.Title.Render(title))
	b.WriteString("\n")

	if m.filtering {
		b.WriteString(m.filter.View())
	} else {
		b.WriteString(m.styles.Help.Render(m.summaryLine()))
	}
	b.WriteString("\n\n")

	if m.loadErr != "" {
		b.WriteString(m.styles.Error.Render("Reading the registry failed: " + m.loadErr))
		b.WriteString("\n")
	}

	rows := m.visibleRows()
	switch {
	case len(rows) == 0 && len(m.rows) == 0:
		b.WriteString(m.styles.Paragraph.Render("No extensions installed."))
		b.WriteString("\n")
	case len(rows) == 0:
		b.WriteString(m.styles.Paragraph.Render("Nothing matches the filter."))
		b.WriteString("\n")
	default:
		start, end := m.tableWindow(len(rows))
		for i := start; i < end; i++ {
			b.WriteString(m.renderRow(rows[i], i == m.cursor))
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")

	b.WriteString(m.updaterLine())
	b.WriteString("\n")

	if m.notice != "" {
		if m.noticeErr {
			b.WriteString(m.styles.Error.Render(m.notice))
		} else {
			b.WriteString(m.styles.Success.Render(m.notice))
		}
		b.WriteString("\n")
	}

	if len(m.feed) > 0 {
		b.WriteString(m.styles.PanelTitle.Render("Events"))
		b.WriteString("\n")
		b.WriteString(m.eventLog.View())
		b.WriteString("\n")
	}

	helpItems := []string{"↑/↓ move", "space toggle", "r reload"}
	if m.deps.Updater != nil {
		helpItems = append(helpItems, "u check updates")
	}
	helpItems = append(helpItems, "/ filter", "pgup/pgdn events", "q quit")
	b.WriteString(m.styles.Help.Render(strings.Join(helpItems, " • ")))

	return b.String()
}

func (m dashModel) summaryLine() string {
	var enabled, disabled, pending int
	for _, row := range m.rows {
		switch row.State {
		case stateEnabled:
			enabled++
		case stateDisabled:
			disabled++
		case statePending:
			pending++
		}
	}
	line := fmt.Sprintf("%d enabled · %d disabled", enabled, disabled)
	if pending > 0 {
		line += fmt.Sprintf(" · %d pending", pending)
	}
	return line
}

func (m dashModel) updaterLine() string {
	if m.deps.Updater == nil {
		return m.styles.Help.Render("Updates: disabled in this profile")
	}
	if m.checking {
		return m.spin.View() + m.styles.Info.Render(" checking for updates...")
	}
	line := fmt.Sprintf("Updates: %s · checks %d · applied %d",
		m.status.State, m.status.CheckCount, m.status.UpdateCount)
	if !m.status.NextCheckAt.IsZero() {
		line += " · next " + m.status.NextCheckAt.Format("15:04:05")
	}
	out := m.styles.Help.Render(line)
	if m.status.LastError != "" {
		out += " " + m.styles.Error.Render(clip("last error: "+m.status.LastError, 48))
	}
	return out
}

func (m dashModel) renderRow(row dashRow, selected bool) string {
	prefix := "  "
	if selected {
		prefix = "> "
	}
	line := fmt.Sprintf("%s%s %-24s %-10s %-9s %s",
		prefix, m.stateGlyph(row.State), clip(row.Name, 24), row.Version, row.Kind, row.Location)
	if selected {
		return m.styles.ListItemActive.UnsetPaddingLeft().Render(line)
	}
	return line
}

func (m dashModel) stateGlyph(state string) string {
	switch state {
	case stateEnabled:
		return m.styles.Success.Render("●")
	case stateDisabled:
		return m.styles.Warning.Render("○")
	case statePending:
		return m.styles.Info.Render("◌")
	}
	return " "
}

// tableWindow keeps the cursor visible when the table outgrows the
// terminal.
func (m dashModel) tableWindow(n int) (int, int) {
	maxRows := m.height - 14
	if maxRows < 5 {
		maxRows = 5
	}
	if n <= maxRows {
		return 0, n
	}
	start := m.cursor - maxRows/2
	if start < 0 {
		start = 0
	}
	if start+maxRows > n {
		start = n - maxRows
	}
	return start, start + maxRows
}

func (m dashModel) visibleRows() []dashRow {
	query := strings.ToLower(strings.TrimSpace(m.filter.Value()))
	if query == "" {
		return m.rows
	}
	out := make([]dashRow, 0, len(m.rows))
	for _, row := range m.rows {
		if strings.Contains(strings.ToLower(row.Name), query) || strings.Contains(row.ID, query) {
			out = append(out, row)
		}
	}
	return out
}

func (m dashModel) selectedRow() (dashRow, bool) {
	rows := m.visibleRows()
	if len(rows) == 0 || m.cursor < 0 || m.cursor >= len(rows) {
		return dashRow{}, false
	}
	return rows[m.cursor], true
}

func (m *dashModel) clampCursor() {
	if n := len(m.visibleRows()); m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m *dashModel) appendEvent(ev registry.Event) {
	m.feed = append(m.feed, time.Now().Format("15:04:05")+" "+describeEvent(ev))
	if len(m.feed) > feedCap {
		m.feed = m.feed[len(m.feed)-feedCap:]
	}
	m.eventLog.SetContent(strings.Join(m.feed, "\n"))
	m.eventLog.GotoBottom()
}

// loadSnapshot re-reads the live sets off the Update loop.
func (m dashModel) loadSnapshot() tea.Cmd {
	ctx, reg := m.ctx, m.deps.Registry
	return func() tea.Msg {
		rows, err := collectDashRows(ctx, reg)
		return dashSnapshotMsg{rows: rows, err: err}
	}
}

func (m dashModel) loadStatus() tea.Cmd {
	agent := m.deps.Updater
	if agent == nil {
		return nil
	}
	return func() tea.Msg { return dashStatusMsg(agent.Status()) }
}

func (m dashModel) tick() tea.Cmd {
	return tea.Tick(m.opts.Refresh, func(t time.Time) tea.Msg { return dashTickMsg(t) })
}

// toggleSelected flips the selected extension between enabled and
// disabled. The fresh lookup keeps a stale row from turning into a
// registry fault.
func (m dashModel) toggleSelected() tea.Cmd {
	row, ok := m.selectedRow()
	if !ok || row.State == statePending {
		return nil
	}
	ctx, reg := m.ctx, m.deps.Registry
	id, name := row.ID, row.Name
	if row.State == stateEnabled {
		return func() tea.Msg {
			if err := reg.DisableExtension(ctx, id); err != nil {
				return ui.NewErrorMsg(err)
			}
			return ui.NewSuccessMsg("Disabled " + name)
		}
	}
	return func() tea.Msg {
		if _, err := reg.Extension(ctx, id, false); err == nil {
			return ui.NewSuccessMsg(name + " is already enabled")
		}
		if err := reg.EnableExtension(ctx, id); err != nil {
			return ui.NewErrorMsg(err)
		}
		return ui.NewSuccessMsg("Enabled " + name)
	}
}

func (m dashModel) reloadSelected() tea.Cmd {
	row, ok := m.selectedRow()
	if !ok || row.State == statePending {
		return nil
	}
	ctx, reg := m.ctx, m.deps.Registry
	id, name := row.ID, row.Name
	return func() tea.Msg {
		if _, err := reg.Extension(ctx, id, true); err != nil {
			return ui.NewErrorMsg(fmt.Errorf("extension %s: %w", id, err))
		}
		if err := reg.ReloadExtension(ctx, id); err != nil {
			return ui.NewErrorMsg(err)
		}
		return ui.NewSuccessMsg("Reloaded " + name)
	}
}

func (m dashModel) runCheck() tea.Cmd {
	ctx, agent := m.ctx, m.deps.Updater
	return func() tea.Msg {
		if err := agent.CheckNow(ctx); err != nil {
			return ui.NewErrorMsg(fmt.Errorf("update check: %w", err))
		}
		return ui.NewSuccessMsg("Update check finished")
	}
}

// collectDashRows reads the enabled, disabled, and pending sets into
// display rows: live extensions sorted by name, requested installs by id.
func collectDashRows(ctx context.Context, reg RegistryService) ([]dashRow, error) {
	enabled, err := reg.Extensions(ctx)
	if err != nil {
		return nil, err
	}
	disabled, err := reg.DisabledExtensions(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := reg.PendingInstalls(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]dashRow, 0, len(enabled)+len(disabled)+len(pending))
	for _, ext := range enabled {
		rows = append(rows, rowForDash(ext, stateEnabled))
	}
	sortRows(rows)

	base := len(rows)
	for _, ext := range disabled {
		rows = append(rows, rowForDash(ext, stateDisabled))
	}
	sortRows(rows[base:])

	ids := make([]string, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		info := pending[id]
		row := dashRow{ID: id, Name: id, Kind: "extension", State: statePending}
		if info.IsTheme {
			row.Kind = "theme"
		}
		if info.ExpectedVersion != nil {
			row.Version = info.ExpectedVersion.Original()
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func rowForDash(ext *extension.Extension, state string) dashRow {
	kind := "extension"
	if ext.IsTheme() {
		kind = "theme"
	}
	return dashRow{
		ID:       ext.ID,
		Name:     ext.Name(),
		Version:  ext.Manifest.Version,
		Kind:     kind,
		State:    state,
		Location: string(ext.Location),
	}
}

func sortRows(rows []dashRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Name != rows[j].Name {
			return rows[i].Name < rows[j].Name
		}
		return rows[i].ID < rows[j].ID
	})
}

func describeEvent(ev registry.Event) string {
	name := ""
	if ev.Extension != nil {
		name = " " + ev.Extension.Name() + " " + ev.Extension.Manifest.Version
	}
	switch ev.Kind {
	case registry.EventLoaded:
		return "loaded" + name
	case registry.EventUnloaded, registry.EventUnloadedDisabled:
		return "unloaded" + name
	case registry.EventInstalled:
		return "installed" + name
	case registry.EventThemeInstalled:
		return "theme installed" + name
	case registry.EventNoThemeDetected:
		return "already installed" + name
	case registry.EventOverinstalled:
		return "already installed" + name
	case registry.EventUpdateDisabled:
		return "update disabled, needs new permissions" + name
	case registry.EventInstallError:
		if ev.Path != "" {
			return "install failed: " + ev.Err + " (" + ev.Path + ")"
		}
		return "install failed: " + ev.Err
	case registry.EventReady:
		return "registry ready"
	}
	return string(ev.Kind) + name
}

func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n < 1 {
		return ""
	}
	return string(runes[:n-1]) + "…"
}
