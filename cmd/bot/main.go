package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gridwalk.ai/internal/agent"
	"gridwalk.ai/internal/captcha"
	"gridwalk.ai/internal/config"
	"gridwalk.ai/internal/persistence/indexdb"
	plog "gridwalk.ai/internal/persistence/log"
	"gridwalk.ai/internal/transport/viewer"
)

func main() {
	var (
		configPath = flag.String("config", "configs/bot.yaml", "bot config (yaml); empty uses defaults")
		url        = flag.String("url", "", "world ws url (overrides config)")
		name       = flag.String("name", "", "agent name (overrides config)")
		password   = flag.String("password", "", "login password (overrides config)")
		proxyURL   = flag.String("proxy", "", "socks5://[user:pass@]host:port (overrides config)")
		debug      = flag.Bool("debug", false, "draw debug geometry and log every poll")
		viewerAddr = flag.String("viewer", "", "debug viewer listen addr (overrides config)")
		dataDir    = flag.String("data", "", "attempt log + index directory (overrides config)")
		noIndex    = flag.Bool("no_index", false, "disable the sqlite attempt index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	override(&cfg.World.URL, *url)
	override(&cfg.World.AgentName, *name)
	override(&cfg.World.Password, *password)
	override(&cfg.World.Proxy, *proxyURL)
	override(&cfg.Debug.ViewerAddr, *viewerAddr)
	override(&cfg.Data.Dir, *dataDir)
	if *debug {
		cfg.Debug.Enabled = true
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("config: %v", err)
	}

	attempts := plog.NewAttemptLogger(cfg.Data.Dir)
	defer attempts.Close()
	sessions := plog.NewSessionLogger(cfg.Data.Dir)
	defer sessions.Close()

	var idx *indexdb.SQLiteIndex
	if !*noIndex && cfg.Data.Index != "" {
		p := cfg.Data.Index
		if !filepath.IsAbs(p) {
			p = filepath.Join(cfg.Data.Dir, p)
		}
		idx, err = indexdb.OpenSQLite(p)
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		logger.Printf("attempt index: %s", p)
	}

	opts := captcha.Options{
		Logger: log.New(os.Stdout, "[captcha] ", log.LstdFlags|log.Lmicroseconds),
		Events: attempts,
		Agent:  cfg.World.AgentName,
	}
	if idx != nil {
		opts.Outcomes = idx
	}

	var view *viewer.Server
	var viewSrv *http.Server
	if cfg.Debug.Enabled {
		view = viewer.NewServer(log.New(os.Stdout, "[viewer] ", log.LstdFlags|log.Lmicroseconds))
		opts.Drawer = view
		viewSrv = &http.Server{Addr: cfg.Debug.ViewerAddr, Handler: view.Handler()}
		go func() {
			logger.Printf("debug viewer on ws://%s/v1/viewer/ws", cfg.Debug.ViewerAddr)
			if err := viewSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("viewer: %v", err)
			}
		}()
	}

	sess, err := agent.NewSession(agent.Config{
		URL:            cfg.World.URL,
		AgentName:      cfg.World.AgentName,
		Token:          cfg.World.Token,
		Proxy:          cfg.World.Proxy,
		ReconnectDelay: cfg.World.ReconnectDelay(),
	}, logger)
	if err != nil {
		logger.Fatalf("session: %v", err)
	}
	sess.Start()
	defer sess.Close()

	r := newRunner(cfg, sess, captcha.New(cfg.Solver(), opts), logger)
	if view != nil {
		r.clear = view.Clear
	}
	r.record = func(kind, text string) {
		now := time.Now().UTC()
		if err := sessions.WriteSession(plog.SessionEntry{At: now, Agent: cfg.World.AgentName, Kind: kind, Text: text}); err != nil {
			logger.Printf("session log: %v", err)
		}
		idx.RecordSession(now, cfg.World.AgentName, kind, text)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger.Printf("starting %s -> %s", cfg.World.AgentName, cfg.World.URL)
	_ = r.run(ctx)
	logger.Printf("shutting down")

	if viewSrv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = viewSrv.Shutdown(sctx)
		cancel()
	}
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
