package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/flmrun/flm/internal/config"
	"github.com/flmrun/flm/internal/httpapi"
)

func serveCommand(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	host := fs.String("host", "0.0.0.0", "HTTP listen host")
	port := fs.Int("port", 0, "HTTP listen port (default: FLM_SERVE_PORT or 52625)")
	qLen := fs.Int("q-len", 0, "deferred-request queue bound (0 uses the runtime default)")
	cors := fs.Bool("cors", false, "enable permissive CORS for browser clients")
	maxConns := fs.Int("max-conns", 0, "max concurrent TCP connections (0 uses the runtime default)")
	preemption := fs.Bool("preemption", false, "enable hardware-context preemption")
	_ = fs.String("socket", "", "unix socket path (unused: TCP only)")
	_ = fs.Int("ctx-len", 0, "override the model's max context length (unused: sized from config.json)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, cat, err := loadCatalog()
	if err != nil {
		return err
	}

	dev, ctxMgr, cleanup, err := openAccelerator(*preemption, "balanced")
	if err != nil {
		return err
	}
	defer cleanup()

	listenPort := *port
	if listenPort == 0 {
		listenPort = cfg.ServePort
	}

	opts := httpapi.Options{
		Addr:           fmt.Sprintf("%s:%d", *host, listenPort),
		MaxConnections: *maxConns,
		MaxQueue:       *qLen,
		CORSEnabled:    *cors,
	}
	server := httpapi.New(opts, cat, cfg.ModelPath, dev, ctxMgr)

	if fs.NArg() > 0 {
		if err := server.PreloadModel(fs.Arg(0)); err != nil {
			return fmt.Errorf("preload model %s: %w", fs.Arg(0), err)
		}
	}

	if err := config.WritePortFile(listenPort); err != nil {
		fmt.Fprintf(os.Stderr, "flm: warning: could not record port file: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return server.Run(ctx)
}
