package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/runmerge/internal/pipeline"
)

var (
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	greenStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyanStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	redStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	boldStyle   = lipgloss.NewStyle().Bold(true)
)

const separator = "    ─────────────────────────────────"

func printStartupBanner(w io.Writer, cfg appConfig) {
	check := greenStyle.Render("●")
	dot := dimStyle.Render("●")

	row := func(on bool, label, value string) string {
		marker := dot
		if on {
			marker = check
		}
		return fmt.Sprintf("    %s  %-14s %s", marker, label, value)
	}
	enabled := func(on bool, value string) string {
		if on {
			return cyanStyle.Render(value)
		}
		return dimStyle.Render("disabled")
	}

	var lines []string
	lines = append(lines, "")
	lines = append(lines, "    "+cyanStyle.Bold(true).Render("runmerge")+" "+dimStyle.Render("v"+version))
	lines = append(lines, "")
	lines = append(lines, dimStyle.Render(separator))
	lines = append(lines, "")

	lines = append(lines, boldStyle.Render("    Input"))
	lines = append(lines, "")
	if cfg.InputDir != "" {
		lines = append(lines, row(true, "Runs", dimStyle.Render(shortenPath(cfg.InputDir))))
	} else {
		lines = append(lines, row(false, "Runs", dimStyle.Render("none (serve only)")))
	}
	lines = append(lines, row(true, "Pairing", dimStyle.Render("*"+cfg.PrimarySuffix+" + *"+cfg.ToolSuffix)))
	lines = append(lines, row(true, "Workers", dimStyle.Render(fmt.Sprint(cfg.Workers))))
	lines = append(lines, "")

	lines = append(lines, boldStyle.Render("    Alignment"))
	lines = append(lines, "")
	lines = append(lines, row(true, "Clock Offset", dimStyle.Render(cfg.ClockOffset.String())))
	lines = append(lines, row(true, "Join Window", dimStyle.Render(cfg.JoinTolerance.String())))
	lines = append(lines, row(true, "Merge Window", dimStyle.Render(cfg.MergeThreshold.String())))
	lines = append(lines, row(cfg.JoinPhy, "PHY Join", enabled(cfg.JoinPhy, cfg.PhyChannel)))
	lines = append(lines, row(cfg.MinLevel != "", "Min Level", enabled(cfg.MinLevel != "", cfg.MinLevel)))
	lines = append(lines, "")

	lines = append(lines, boldStyle.Render("    Output"))
	lines = append(lines, "")
	lines = append(lines, row(cfg.OutputDir != "", "Tables", dimStyle.Render(shortenPath(cfg.OutputDir))))
	lines = append(lines, row(cfg.SplitTables, "Split Tables", enabled(cfg.SplitTables, "on")))
	lines = append(lines, row(cfg.Compress, "Compression", enabled(cfg.Compress, "zstd")))
	lines = append(lines, row(cfg.DBPath != "", "Storage", enabled(cfg.DBPath != "", shortenPath(cfg.DBPath))))
	lines = append(lines, row(cfg.APIEnabled, "HTTP API", enabled(cfg.APIEnabled, cfg.APIAddr)))
	lines = append(lines, "")

	lines = append(lines, boldStyle.Render("    Config"))
	lines = append(lines, "")
	if cfg.ConfigPath != "" {
		lines = append(lines, row(true, "Config File", dimStyle.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, row(false, "Config File", dimStyle.Render("default (no file)")))
	}

	lines = append(lines, "")
	lines = append(lines, dimStyle.Render(separator))
	lines = append(lines, "")
	if cfg.Serve {
		lines = append(lines, "    "+dimStyle.Render("Press ")+yellowStyle.Render("Ctrl+C")+dimStyle.Render(" to stop"))
		lines = append(lines, "")
	}

	fmt.Fprintln(w, strings.Join(lines, "\n"))
}

func printSummary(w io.Writer, s pipeline.Summary, elapsed time.Duration) {
	count := func(style lipgloss.Style, n int) string {
		if n == 0 {
			return dimStyle.Render("0")
		}
		return style.Render(fmt.Sprint(n))
	}

	var lines []string
	lines = append(lines, "")
	lines = append(lines, boldStyle.Render("    Batch ")+dimStyle.Render(s.BatchID))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("    %-14s %s", "Processed", count(greenStyle, s.Processed)))
	lines = append(lines, fmt.Sprintf("    %-14s %s", "Skipped", count(dimStyle, s.Skipped)))
	lines = append(lines, fmt.Sprintf("    %-14s %s", "Missing", count(yellowStyle, s.Missing)))
	lines = append(lines, fmt.Sprintf("    %-14s %s", "Failed", count(redStyle, s.Failed)))
	lines = append(lines, fmt.Sprintf("    %-14s %s", "Elapsed", dimStyle.Render(elapsed.Round(time.Millisecond).String())))

	if len(s.Failures) > 0 {
		ids := make([]string, 0, len(s.Failures))
		for id := range s.Failures {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		lines = append(lines, "")
		for _, id := range ids {
			lines = append(lines, fmt.Sprintf("    %s %s  %s", redStyle.Render("✗"), id, dimStyle.Render(s.Failures[id].Error())))
		}
	}
	lines = append(lines, "")

	fmt.Fprintln(w, strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
