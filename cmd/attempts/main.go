package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gridwalk.ai/internal/captcha"
	"gridwalk.ai/internal/persistence/indexdb"
	plog "gridwalk.ai/internal/persistence/log"
)

func main() {
	var (
		dataDir   = flag.String("data", "./data", "bot data directory")
		attemptID = flag.String("attempt", "", "print every event of one attempt")
		useIndex  = flag.Bool("index", false, "summarise from the sqlite index instead of the logs")
		indexPath = flag.String("index_path", "", "sqlite index path (default: <data>/attempts.sqlite)")
		limit     = flag.Int("limit", 20, "max attempts to print")
	)
	flag.Parse()

	if *useIndex {
		p := *indexPath
		if p == "" {
			p = filepath.Join(*dataDir, "attempts.sqlite")
		}
		if err := printIndex(os.Stdout, p, *limit); err != nil {
			fmt.Fprintln(os.Stderr, "index:", err)
			os.Exit(1)
		}
		return
	}

	events, err := plog.ReadAttempts(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read attempts:", err)
		os.Exit(1)
	}
	if len(events) == 0 {
		fmt.Fprintln(os.Stderr, "no attempt events found in", plog.AttemptDir(*dataDir))
		os.Exit(1)
	}
	if *attemptID != "" {
		printEvents(os.Stdout, events, *attemptID)
		return
	}
	printSummaries(os.Stdout, summarize(events), *limit)
}

type summary struct {
	ID        string
	Started   time.Time
	Finished  time.Time
	Tiles     int
	Rejected  int
	PathLen   int
	Waypoints int
	Status    string
	Error     string
}

// summarize folds events into one summary per attempt, in first-seen order.
func summarize(events []captcha.Event) []summary {
	byID := map[string]*summary{}
	var order []string
	for _, ev := range events {
		s := byID[ev.AttemptID]
		if s == nil {
			s = &summary{ID: ev.AttemptID, Started: ev.At, Status: "INCOMPLETE"}
			byID[ev.AttemptID] = s
			order = append(order, ev.AttemptID)
		}
		switch ev.Kind {
		case captcha.EventGrid:
			s.Tiles, s.Rejected = ev.Tiles, ev.Rejected
		case captcha.EventPath:
			s.PathLen = len(ev.Path)
		case captcha.EventWaypoint:
			s.Waypoints++
		case captcha.EventDone:
			s.Finished = ev.At
			s.Status = ev.Status
			s.Error = ev.Error
		}
	}
	out := make([]summary, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out
}

func printSummaries(w io.Writer, all []summary, limit int) {
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	counts := map[string]int{}
	for _, s := range all {
		counts[s.Status]++
		line := fmt.Sprintf("%s %s status=%s tiles=%d path=%d waypoints=%d",
			s.Started.Format(time.RFC3339), s.ID, s.Status, s.Tiles, s.PathLen, s.Waypoints)
		if !s.Finished.IsZero() {
			line += fmt.Sprintf(" took=%s", s.Finished.Sub(s.Started).Round(time.Millisecond))
		}
		if s.Rejected > 0 {
			line += fmt.Sprintf(" rejected=%d", s.Rejected)
		}
		if s.Error != "" {
			line += fmt.Sprintf(" error=%q", s.Error)
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "attempts=%d %s\n", len(all), formatCounts(counts))
}

func printEvents(w io.Writer, events []captcha.Event, id string) {
	for _, ev := range events {
		if ev.AttemptID != id {
			continue
		}
		switch ev.Kind {
		case captcha.EventWaypoint:
			fmt.Fprintf(w, "%s %s #%d key=%s pos=%v final=%v\n", ev.At.Format(time.RFC3339Nano), ev.Kind, ev.Index+1, ev.Key, ev.Pos, ev.Final)
		case captcha.EventPath:
			fmt.Fprintf(w, "%s %s %s\n", ev.At.Format(time.RFC3339Nano), ev.Kind, strings.Join(ev.Path, " -> "))
		default:
			fmt.Fprintf(w, "%s %s tiles=%d status=%s %s\n", ev.At.Format(time.RFC3339Nano), ev.Kind, ev.Tiles, ev.Status, ev.Error)
		}
	}
}

func printIndex(w io.Writer, path string, limit int) error {
	r, err := indexdb.OpenReader(path)
	if err != nil {
		return err
	}
	defer r.Close()
	ctx := context.Background()
	rows, err := r.Recent(ctx, limit)
	if err != nil {
		return err
	}
	for _, a := range rows {
		fmt.Fprintf(w, "%s %s agent=%s status=%s tiles=%d path=%d took=%s %s\n",
			a.StartedAt.Format(time.RFC3339), a.AttemptID, a.Agent, a.Status, a.Tiles, a.PathLen, a.Elapsed, a.Error)
	}
	counts, err := r.StatusCounts(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "all attempts: %s\n", formatCounts(counts))
	return nil
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", strings.ToLower(k), counts[k]))
	}
	return strings.Join(parts, " ")
}
