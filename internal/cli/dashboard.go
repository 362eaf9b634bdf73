package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/valter-silva-au/vaultq/pkg/models"
)

// Dashboard panel indices.
const (
	panelQueue = iota
	panelMetrics
	panelAlerts
	panelCount
)

// dashboardRefresh is how often the dashboard reloads on its own.
const dashboardRefresh = 5 * time.Second

// queuePreview caps the queued records listed in the queue panel.
const queuePreview = 8

type dashboardModel struct {
	activePanel int
	width       int
	height      int

	// Data.
	folderCounts map[models.Folder]int
	queued       []string
	metricsData  *metricsSnapshot
	alerts       []alertSnapshot
	loadedAt     time.Time

	// State.
	loading bool
	err     error
}

type metricsSnapshot struct {
	ingested   int
	completed  int
	failed     int
	parked     int
	retries    int
	eventCount int
}

type alertSnapshot struct {
	severity string
	message  string
	time     string
}

// dataLoadedMsg carries loaded data back to the model.
type dataLoadedMsg struct {
	folderCounts map[models.Folder]int
	queued       []string
	metrics      *metricsSnapshot
	alerts       []alertSnapshot
	err          error
}

type refreshMsg time.Time

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(1, 2)

	activePanelStyle = lipgloss.NewStyle().
				BorderStyle(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62")).
				Padding(1, 2)

	panelHeaderStyle = headerStyle.MarginBottom(1)

	severityHigh   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	severityMedium = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	severityLow    = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func newDashboardModel() dashboardModel {
	return dashboardModel{
		activePanel:  panelQueue,
		loading:      true,
		folderCounts: make(map[models.Folder]int),
	}
}

func (m dashboardModel) Init() tea.Cmd {
	return tea.Batch(loadData, scheduleRefresh())
}

func scheduleRefresh() tea.Cmd {
	return tea.Tick(dashboardRefresh, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.activePanel = (m.activePanel + 1) % panelCount
			return m, nil
		case "shift+tab":
			m.activePanel = (m.activePanel - 1 + panelCount) % panelCount
			return m, nil
		case "r":
			m.loading = true
			return m, loadData
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case refreshMsg:
		return m, tea.Batch(loadData, scheduleRefresh())

	case dataLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.folderCounts = msg.folderCounts
		m.queued = msg.queued
		m.metricsData = msg.metrics
		m.alerts = msg.alerts
		m.loadedAt = time.Now()
		m.err = nil
		return m, nil
	}

	return m, nil
}

func (m dashboardModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	title := titleStyle.Render(" vaultq ")
	help := helpStyle.Render("tab: switch panel | r: refresh | q: quit")

	if m.loading && m.loadedAt.IsZero() {
		return fmt.Sprintf("%s\n\n  Loading data...\n\n%s", title, help)
	}

	if m.err != nil {
		return fmt.Sprintf("%s\n\n  Error: %s\n\n%s", title, m.err, help)
	}

	queuePanel := m.renderQueuePanel()
	metricsPanel := m.renderMetricsPanel()
	alertsPanel := m.renderAlertsPanel()

	availableWidth := m.width - 2

	var body string
	if availableWidth > 120 {
		colWidth := availableWidth / 3
		queuePanel = m.applyPanelStyle(panelQueue, queuePanel, colWidth-4)
		metricsPanel = m.applyPanelStyle(panelMetrics, metricsPanel, colWidth-4)
		alertsPanel = m.applyPanelStyle(panelAlerts, alertsPanel, colWidth-4)
		body = lipgloss.JoinHorizontal(lipgloss.Top, queuePanel, metricsPanel, alertsPanel)
	} else {
		panelWidth := availableWidth - 4
		if panelWidth < 20 {
			panelWidth = 20
		}
		queuePanel = m.applyPanelStyle(panelQueue, queuePanel, panelWidth)
		metricsPanel = m.applyPanelStyle(panelMetrics, metricsPanel, panelWidth)
		alertsPanel = m.applyPanelStyle(panelAlerts, alertsPanel, panelWidth)
		body = lipgloss.JoinVertical(lipgloss.Left, queuePanel, metricsPanel, alertsPanel)
	}

	updated := helpStyle.Render("updated " + m.loadedAt.Format("15:04:05"))
	return fmt.Sprintf("%s  %s\n\n%s\n\n%s", title, updated, body, help)
}

func (m dashboardModel) applyPanelStyle(panel int, content string, width int) string {
	style := panelStyle
	if m.activePanel == panel {
		style = activePanelStyle
	}
	return style.Width(width).Render(content)
}

func (m dashboardModel) renderQueuePanel() string {
	var b strings.Builder
	b.WriteString(panelHeaderStyle.Render("Queue"))
	b.WriteString("\n")

	for _, f := range statusFolders {
		label := fmt.Sprintf("  %-16s %d", f, m.folderCounts[f])
		b.WriteString(styleForFolder(f).Render(label))
		b.WriteString("\n")
	}

	if len(m.queued) == 0 {
		b.WriteString("\n  Nothing queued.")
		return b.String()
	}
	b.WriteString(fmt.Sprintf("\n  Next up (%d):\n", len(m.queued)))
	for i, name := range m.queued {
		if i == queuePreview {
			b.WriteString(fmt.Sprintf("  ... %d more\n", len(m.queued)-queuePreview))
			break
		}
		b.WriteString(fmt.Sprintf("  %d. %s\n", i+1, name))
	}
	return b.String()
}

func (m dashboardModel) renderMetricsPanel() string {
	var b strings.Builder
	b.WriteString(panelHeaderStyle.Render("Metrics (7d)"))
	b.WriteString("\n")

	if m.metricsData == nil {
		b.WriteString("  No metrics available.")
		return b.String()
	}

	md := m.metricsData
	lines := []struct {
		label string
		value int
	}{
		{"Events", md.eventCount},
		{"Ingested", md.ingested},
		{"Completed", md.completed},
		{"Failed", md.failed},
		{"Parked", md.parked},
		{"Retries", md.retries},
	}

	for _, l := range lines {
		b.WriteString(fmt.Sprintf("  %-14s %d\n", l.label, l.value))
	}

	return b.String()
}

func (m dashboardModel) renderAlertsPanel() string {
	var b strings.Builder
	b.WriteString(panelHeaderStyle.Render("Alerts"))
	b.WriteString("\n")

	if len(m.alerts) == 0 {
		b.WriteString("  No active alerts.")
		return b.String()
	}

	for _, a := range m.alerts {
		sev := styleForSeverity(a.severity).Render(fmt.Sprintf("[%s]", strings.ToUpper(a.severity)))
		b.WriteString(fmt.Sprintf("  %s %s\n", sev, a.message))
	}

	b.WriteString(fmt.Sprintf("\n  Total: %d alert(s)", len(m.alerts)))

	return b.String()
}

func styleForFolder(f models.Folder) lipgloss.Style {
	switch f {
	case models.FolderNeedsApproval:
		return warnStyle
	case models.FolderDone:
		return okStyle
	case models.FolderInbox:
		return dimStyle
	default:
		return lipgloss.NewStyle()
	}
}

func styleForSeverity(severity string) lipgloss.Style {
	switch strings.ToLower(severity) {
	case "high":
		return severityHigh
	case "medium":
		return severityMedium
	case "low":
		return severityLow
	default:
		return lipgloss.NewStyle()
	}
}

func loadData() tea.Msg {
	result := dataLoadedMsg{
		folderCounts: make(map[models.Folder]int),
	}

	if Store != nil {
		for _, f := range statusFolders {
			names, err := Store.Names(f)
			if err != nil {
				result.err = fmt.Errorf("listing %s: %w", f, err)
				return result
			}
			result.folderCounts[f] = len(names)
		}
	}

	if Sched != nil {
		queue, err := Sched.Queue("")
		if err != nil {
			result.err = fmt.Errorf("loading queue: %w", err)
			return result
		}
		for _, rec := range queue {
			result.queued = append(result.queued, rec.Name)
		}
	}

	if MetricsCalc != nil {
		since := time.Now().UTC().AddDate(0, 0, -7)
		metrics, err := MetricsCalc.Calculate(since)
		if err != nil {
			result.err = fmt.Errorf("loading metrics: %w", err)
			return result
		}
		result.metrics = &metricsSnapshot{
			ingested:   metrics.Ingested,
			completed:  metrics.Completed,
			failed:     metrics.Failed,
			parked:     metrics.Parked,
			retries:    metrics.Retries,
			eventCount: metrics.EventCount,
		}
	}

	if AlertEngine != nil {
		alerts, err := AlertEngine.Evaluate()
		if err != nil {
			result.err = fmt.Errorf("loading alerts: %w", err)
			return result
		}
		result.alerts = make([]alertSnapshot, 0, len(alerts))

		sort.SliceStable(alerts, func(i, j int) bool {
			return severityRank(string(alerts[i].Severity)) < severityRank(string(alerts[j].Severity))
		})

		for _, a := range alerts {
			result.alerts = append(result.alerts, alertSnapshot{
				severity: string(a.Severity),
				message:  a.Message,
				time:     a.TriggeredAt.Format("2006-01-02 15:04 UTC"),
			})
		}
	}

	return result
}

func severityRank(s string) int {
	switch s {
	case "high":
		return 0
	case "medium":
		return 1
	case "low":
		return 2
	default:
		return 3
	}
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Interactive TUI showing the queue, metrics and alerts",
	Long: `Launch an interactive terminal dashboard showing folder counts, the
dispatch queue, metrics and alerts. The view refreshes every few seconds.

Navigate between panels with Tab, refresh with r, quit with q.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Store == nil {
			return fmt.Errorf("record store not initialized")
		}
		p := tea.NewProgram(newDashboardModel(), tea.WithAltScreen(), tea.WithContext(commandContext(cmd)))
		_, err := p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}
