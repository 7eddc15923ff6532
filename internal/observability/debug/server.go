// Package debug serves a local health endpoint and net/http/pprof.
package debug

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"taskmanager/internal/runtime/supervisor"
	logx "taskmanager/pkg/logx"
)

type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
}

func (c Config) addr() string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return "127.0.0.1:6060"
}

// StatusFunc renders the /healthz body.
type StatusFunc func(ctx context.Context) any

var ErrInsecureBind = errors.New("debug: non-loopback address needs a token or allow_insecure")

type Server struct {
	status StatusFunc
	log    logx.Logger

	mu   sync.Mutex
	cfg  Config
	sup  *supervisor.Supervisor
	addr string
}

func New(status StatusFunc, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{status: status, log: log}
}

// Addr is the bound address while running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Apply starts, stops or restarts the listener to match cfg.
func (s *Server) Apply(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	prev, running := s.cfg, s.sup != nil
	s.mu.Unlock()

	if running && (!cfg.Enabled || prev != cfg) {
		s.Stop(ctx)
		running = false
	}
	if !cfg.Enabled || running {
		return nil
	}
	if cfg.Token == "" && !cfg.AllowInsecure && !isLoopback(cfg.addr()) {
		return ErrInsecureBind
	}

	ln, err := net.Listen("tcp", cfg.addr())
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.handler(cfg.Token), ReadHeaderTimeout: 5 * time.Second}
	sup := supervisor.New(context.Background(), supervisor.WithLogger(s.log))
	sup.Go("debug.http", func(ctx context.Context) error {
		go func() {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	s.mu.Lock()
	s.cfg, s.sup, s.addr = cfg, sup, ln.Addr().String()
	s.mu.Unlock()
	s.log.Info("debug server started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", cfg.Token != ""))
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup, s.addr = nil, ""
	s.cfg = Config{}
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if err := sup.Stop(ctx); err != nil {
		s.log.Warn("debug server stop", logx.Err(err))
	}
}

func (s *Server) handler(token string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		var body any = map[string]string{"status": "ok"}
		if s.status != nil {
			body = s.status(r.Context())
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("/debug/pprof/", hpprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	return requireToken(token, mux)
}

// requireToken accepts "Authorization: Bearer <token>" or ?token=.
func requireToken(token string, next http.Handler) http.Handler {
	token = strings.TrimSpace(token)
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			got = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		}
		if got != token {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
