package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"pdsworker/internal/events"
	"pdsworker/internal/worker"
)

var (
	statusURL     string
	statusTimeout time.Duration
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1).
			Bold(true)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true).
			MarginTop(1)

	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8BE9FD")).
			Width(40)

	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#50FA7B"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6272A4"))
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a running worker's system events",
	Long:  `Fetch the status report of a running worker and print it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := fetchStatus(cmd.Context(), statusURL, statusTimeout)
		if err != nil {
			return err
		}
		cmd.Println(renderStatus(report))
		return nil
	},
}

func fetchStatus(ctx context.Context, baseURL string, timeout time.Duration) (*worker.StatusReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := strings.TrimRight(baseURL, "/") + "/systemStatus?rawJsonOnly=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach worker at %s: %w", baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("worker status returned %d", resp.StatusCode)
	}

	var report worker.StatusReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to decode status report: %w", err)
	}
	return &report, nil
}

func renderStatus(report *worker.StatusReport) string {
	var lines []string

	if info := report.ServiceInfo; info != nil {
		lines = append(lines, titleStyle.Render(info.Name))
		lines = append(lines, sectionStyle.Render("Service Info"))
		lines = append(lines,
			row("Version", info.Version),
			row("Author", info.Author),
			row("Uptime", info.Uptime),
			row("Debug level", info.DebugLevel),
		)
	}

	if len(report.SystemEvents) > 0 {
		lines = append(lines, sectionStyle.Render("Service System Events"))
		for _, entry := range report.SystemEvents {
			lines = append(lines, eventRow(entry))
		}
	}

	lines = append(lines, "", mutedStyle.Render("Rendered at "+report.RenderedAt))
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func row(key, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, keyStyle.Render(key), value)
}

func eventRow(entry events.Entry) string {
	value := fmt.Sprint(entry.Value)
	switch {
	case value == events.NotSet:
		value = mutedStyle.Render(value)
	case strings.HasPrefix(value, worker.StatusPollErrorPrefix), strings.HasPrefix(value, worker.StatusPostErrorPrefix):
		value = errorStyle.Render(value)
	case value == worker.StatusPollOK, value == worker.StatusPostOK:
		value = okStyle.Render(value)
	}
	return row(entry.Name, value)
}

func init() {
	statusCmd.Flags().StringVarP(&statusURL, "url", "u", "http://localhost:9005", "Base URL of the worker status server")
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 5*time.Second, "Request timeout")
}
