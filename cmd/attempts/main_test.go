package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"gridwalk.ai/internal/captcha"
)

func TestSummarize(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	events := []captcha.Event{
		{AttemptID: "a", At: t0, Kind: captcha.EventStart},
		{AttemptID: "a", At: t0, Kind: captcha.EventGrid, Tiles: 25},
		{AttemptID: "a", At: t0, Kind: captcha.EventPath, Path: []string{"1", "2", "3"}},
		{AttemptID: "b", At: t0.Add(time.Second), Kind: captcha.EventStart},
		{AttemptID: "a", At: t0, Kind: captcha.EventWaypoint},
		{AttemptID: "a", At: t0.Add(2 * time.Second), Kind: captcha.EventDone, Status: captcha.StatusSolved},
	}
	got := summarize(events)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("summaries=%+v", got)
	}
	if got[0].Status != captcha.StatusSolved || got[0].PathLen != 3 || got[0].Tiles != 25 || got[0].Waypoints != 1 {
		t.Fatalf("a=%+v", got[0])
	}
	if got[1].Status != "INCOMPLETE" {
		t.Fatalf("b=%+v", got[1])
	}

	var buf bytes.Buffer
	printSummaries(&buf, got, 0)
	out := buf.String()
	if !strings.Contains(out, "took=2s") || !strings.Contains(out, "attempts=2 incomplete=1 solved=1") {
		t.Fatalf("output:\n%s", out)
	}
}
