package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/antiprophet/studio/pkg/models"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4"))
	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))
	failedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F87"))
	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262"))
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3C3C3C")).
			Padding(0, 1)
)

// jobLister is what the model needs from the API
type jobLister interface {
	PendingJobs(ctx context.Context) ([]models.PendingJob, error)
	Dismiss(ctx context.Context, jobID string) error
}

type jobsMsg struct {
	jobs []models.PendingJob
	err  error
}

type dismissedMsg struct {
	jobID string
	err   error
}

type tickMsg time.Time

type model struct {
	client   jobLister
	interval time.Duration

	jobs      []models.PendingJob
	cursor    int
	err       error
	fetchedAt time.Time
}

func newModel(client jobLister, interval time.Duration) model {
	return model{client: client, interval: interval}
}

func fetchJobs(client jobLister) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		jobs, err := client.PendingJobs(ctx)
		return jobsMsg{jobs: jobs, err: err}
	}
}

func dismissJob(client jobLister, jobID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return dismissedMsg{jobID: jobID, err: client.Dismiss(ctx, jobID)}
	}
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init implements tea.Model
func (m model) Init() tea.Cmd {
	return tea.Batch(fetchJobs(m.client), tick(m.interval))
}

// Update implements tea.Model
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tickMsg:
		return m, tea.Batch(fetchJobs(m.client), tick(m.interval))
	case jobsMsg:
		m.err = msg.err
		if msg.err == nil {
			m.jobs = msg.jobs
			m.fetchedAt = time.Now()
			m.clampCursor()
		}
		return m, nil
	case dismissedMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("dismiss %s: %w", msg.jobID, msg.err)
			return m, nil
		}
		m.jobs = removeJob(m.jobs, msg.jobID)
		m.clampCursor()
		return m, fetchJobs(m.client)
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.jobs)-1 {
			m.cursor++
		}
	case "r":
		return m, fetchJobs(m.client)
	case "d":
		if len(m.jobs) > 0 {
			return m, dismissJob(m.client, m.jobs[m.cursor].JobID)
		}
	}
	return m, nil
}

func (m *model) clampCursor() {
	if m.cursor >= len(m.jobs) {
		m.cursor = len(m.jobs) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func removeJob(jobs []models.PendingJob, jobID string) []models.PendingJob {
	out := jobs[:0:0]
	for _, j := range jobs {
		if j.JobID != jobID {
			out = append(out, j)
		}
	}
	return out
}

// View implements tea.Model
func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Pending video jobs"))
	b.WriteString("\n\n")

	if len(m.jobs) == 0 {
		b.WriteString(mutedStyle.Render("No jobs in progress"))
		b.WriteString("\n")
	}
	for i, j := range m.jobs {
		line := fmt.Sprintf("%-24s %-10s attempts=%d", j.JobID, j.Status, j.Attempts)
		if j.Message != "" {
			line += "  " + j.Message
		}
		switch {
		case i == m.cursor:
			line = selectedStyle.Render(line)
		case j.Status == models.JobStatusFailed:
			line = failedStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(failedStyle.Render("Error: " + m.err.Error()))
		b.WriteString("\n")
	}

	footer := "j/k move  d dismiss  r refresh  q quit"
	if !m.fetchedAt.IsZero() {
		footer += "  updated " + m.fetchedAt.Format("15:04:05")
	}
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(footer))

	return boxStyle.Render(b.String())
}
