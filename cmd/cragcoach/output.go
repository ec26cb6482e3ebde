package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fatih/color"
	"golang.org/x/term"

	"cragcoach/internal/climbing"
	"cragcoach/internal/formatter"
	jsonx "cragcoach/internal/shared/json"
)

var (
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	cyan  = color.New(color.FgCyan).SprintFunc()
	gray  = color.New(color.FgHiBlack).SprintFunc()
	bold  = color.New(color.Bold).SprintFunc()
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func encodeDocument(doc *formatter.Document, indent bool) ([]byte, error) {
	if indent {
		return jsonx.MarshalIndent(doc, "", "  ")
	}
	return jsonx.Marshal(doc)
}

func errorText(msg string) string {
	return red("x " + msg)
}

func okText(msg string) string {
	return green(msg)
}

// printResults writes one line per user, sorted, followed by a tally.
func printResults(w io.Writer, results map[climbing.UserID]bool) {
	ids := make([]string, 0, len(results))
	for uid := range results {
		ids = append(ids, uid.String())
	}
	sort.Strings(ids)

	succeeded := 0
	for _, uid := range ids {
		if results[climbing.UserID(uid)] {
			succeeded++
			fmt.Fprintf(w, "  %s %s\n", okText("ok"), uid)
		} else {
			fmt.Fprintf(w, "  %s %s\n", red("failed"), uid)
		}
	}
	fmt.Fprintf(w, "%s %d/%d refreshed\n", bold("bulk refresh:"), succeeded, len(ids))
}

func printTicks(w io.Writer, ticks []climbing.Tick) {
	for _, t := range ticks {
		status := t.Status
		if status == "" {
			status = "-"
		}
		fmt.Fprintf(w, "  %s  %-28s %-6s %s\n", gray(t.Date), t.RouteName, cyan(t.Grade), status)
	}
}
