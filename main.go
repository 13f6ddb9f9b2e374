package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"walkietalkie/internal/core"
	"walkietalkie/internal/httpapi"
	"walkietalkie/internal/ws"
)

func main() {
	addr := flag.String("addr", ":"+envOr("PORT", defaultPort), "listen address for the websocket + admin HTTP surface")
	idleTimeout := flag.Duration("idle-timeout", defaultIdleTimeout, "HTTP idle timeout")
	certValidity := flag.Duration("cert-validity", defaultCertValidity, "self-signed TLS certificate validity")
	useTLS := flag.Bool("tls", false, "serve HTTPS with a self-signed certificate instead of plain HTTP")
	flag.Parse()

	token := envOr("ADMIN_TOKEN", defaultAdminToken)
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	state := core.NewState(logger)
	mixer := core.NewMixer(state, core.TickInterval, logger)
	state.SetMixer(mixer)

	handler := ws.NewHandler(state, logger)
	state.SetKicker(handler)

	api := httpapi.New(state, token, logger)
	handler.Register(api.Echo())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[server] shutting down...")
		cancel()
	}()

	go RunMetrics(ctx, state, 5*time.Second)

	watchdog := core.NewWatchdog(state, logger)
	go watchdog.Run(ctx)

	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           api.Echo(),
		IdleTimeout:       *idleTimeout,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if *useTLS {
		hostname := ""
		if host, _, err := net.SplitHostPort(*addr); err == nil {
			hostname = host
		}
		tlsConfig, fingerprint, err := generateTLSConfig(*certValidity, hostname)
		if err != nil {
			log.Fatalf("[server] %v", err)
		}
		log.Printf("[server] TLS certificate fingerprint: %s", fingerprint)
		httpSrv.TLSConfig = tlsConfig
	}

	go func() {
		<-ctx.Done()
		mixer.Stop()
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutCancel()
		if err := httpSrv.Shutdown(shutCtx); err != nil {
			log.Printf("[server] shutdown: %v", err)
		}
	}()

	log.Printf("[server] listening on %s (tls=%v)", *addr, *useTLS)

	var err error
	if *useTLS {
		err = httpSrv.ListenAndServeTLS("", "")
	} else {
		err = httpSrv.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		log.Fatalf("[server] %v", err)
	}
}

// envOr returns the named environment variable or fallback if unset/empty.
func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
