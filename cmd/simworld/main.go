package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gridwalk.ai/internal/simworld"
	"gridwalk.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		coursePath = flag.String("course", "", "course layout (yaml); empty uses the built-in course")
		tickRate   = flag.Int("tick_rate", 10, "ticks per second")
		speed      = flag.Float64("speed", 0.13, "blocks moved per tick while a control is held")
		password   = flag.String("password", "", "password accepted by /login (empty accepts any)")
		seed       = flag.Int64("seed", 1337, "world seed reported in WELCOME")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[simworld] ", log.LstdFlags|log.Lmicroseconds)

	course := simworld.DefaultCourse()
	if *coursePath != "" {
		c, err := simworld.LoadCourse(*coursePath)
		if err != nil {
			logger.Fatalf("load course: %v", err)
		}
		course = c
	}
	w, err := simworld.New(simworld.Config{
		TickRateHz: *tickRate,
		Seed:       *seed,
		Speed:      *speed,
		Password:   *password,
	}, course)
	if err != nil {
		logger.Fatalf("world: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go w.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprintf(rw, "# HELP gridwalk_sim_tick Current world tick.\n")
		fmt.Fprintf(rw, "# TYPE gridwalk_sim_tick gauge\n")
		fmt.Fprintf(rw, "gridwalk_sim_tick %d\n", w.CurrentTick())
		fmt.Fprintf(rw, "# HELP gridwalk_sim_agents Connected agents.\n")
		fmt.Fprintf(rw, "# TYPE gridwalk_sim_agents gauge\n")
		fmt.Fprintf(rw, "gridwalk_sim_agents %d\n", w.Agents())
	})
	mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]any{"tick": w.CurrentTick(), "agents": w.Agents()})
	})
	// Broadcast lets an operator replay server announcements such as
	// restart warnings: POST the chat line as the request body.
	mux.HandleFunc("/admin/v1/broadcast", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		b, err := io.ReadAll(io.LimitReader(r.Body, 4096))
		text := strings.TrimSpace(string(b))
		if err != nil || text == "" {
			http.Error(rw, "empty message", http.StatusBadRequest)
			return
		}
		w.Broadcast(text)
		logger.Printf("broadcast: %s", text)
		rw.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/v1/ws", ws.NewServer(w, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s (%d course rows, tick rate %d)", *addr, len(course.Rows), *tickRate)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}
