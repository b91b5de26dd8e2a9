package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	session "github.com/swfrench/aerospike-session"
	"golang.org/x/exp/slog"
)

// profile is the session payload of the demo application.
type profile struct {
	User string `json:"user"`
}

type demo struct {
	sm *session.Manager[profile]
}

func (d *demo) whoami(w http.ResponseWriter, r *http.Request) {
	s := d.sm.GetSession(r.Context())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"user":       s.Data,
		"csrf_token": s.CSRFToken,
		"created":    s.Created,
	})
}

func (d *demo) login(w http.ResponseWriter, r *http.Request) {
	s := d.sm.GetSession(r.Context())
	if err := d.sm.VerifySessionCSRFToken(r.FormValue("csrf_token"), s); err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	user := r.FormValue("user")
	if user == "" {
		http.Error(w, "missing user", http.StatusBadRequest)
		return
	}
	s.Data = &profile{User: user}
	if err := d.sm.Save(r.Context(), s); err != nil {
		slog.Error("Failed to save session", "sid", s.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *demo) logout(w http.ResponseWriter, r *http.Request) {
	s := d.sm.GetSession(r.Context())
	if err := d.sm.VerifySessionCSRFToken(r.FormValue("csrf_token"), s); err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if _, err := d.sm.Clear(r.Context(), w, s.ID); err != nil {
		slog.Error("Failed to clear session", "sid", s.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *demo) active(w http.ResponseWriter, r *http.Request) {
	var users []string
	for _, s := range d.sm.Active(r.Context()) {
		if s.Data != nil {
			users = append(users, s.Data.User)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"users": users})
}

func newRouter(sm *session.Manager[profile], reg *prometheus.Registry) http.Handler {
	d := &demo{sm: sm}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Group(func(r chi.Router) {
		r.Use(sm.Manage)
		r.Get("/", d.whoami)
		r.Post("/login", d.login)
		r.Post("/logout", d.logout)
		r.Get("/active", d.active)
	})
	return r
}

func serveSecret(cmd *cobra.Command) ([]byte, error) {
	encoded, _ := cmd.Flags().GetString("secret")
	if encoded == "" {
		encoded = os.Getenv("SESSIONCTL_SECRET")
	}
	if encoded == "" {
		slog.Warn("No secret configured, generating an ephemeral one; sessions will not survive a restart")
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
		return secret, nil
	}
	secret, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("secret is not valid base64: %w", err)
	}
	return secret, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a demo application using the configured session store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		secret, err := serveSecret(cmd)
		if err != nil {
			return err
		}
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		st, closeFn, err := openStore[profile](cfg, reg)
		if err != nil {
			return err
		}
		defer closeFn()

		insecure, _ := cmd.Flags().GetBool("insecure-cookies")
		opts := &session.Options{}
		if insecure {
			opts.CreateCookie = func(name, value string, expires time.Time) *http.Cookie {
				c := session.CreateStrictCookie(name, value, expires)
				c.Secure = false
				c.Path = "/"
				return c
			}
		}
		sm, err := session.NewManager[profile](st, secret, opts)
		if err != nil {
			return err
		}

		addr, _ := cmd.Flags().GetString("addr")
		srv := &http.Server{
			Addr:              addr,
			Handler:           newRouter(sm, reg),
			ReadHeaderTimeout: 10 * time.Second,
		}
		serverErrors := make(chan error, 1)
		go func() {
			slog.Info("Serving", "addr", addr, "backend", cfg.Backend)
			serverErrors <- srv.ListenAndServe()
		}()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
			slog.Info("Shutting down")
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				slog.Error("Graceful shutdown did not complete", "error", err)
				return srv.Close()
			}
			return nil
		}
	},
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "Listen address")
	serveCmd.Flags().String("secret", "", "Base64 secret authenticating cookies and CSRF tokens (default $SESSIONCTL_SECRET)")
	serveCmd.Flags().Bool("insecure-cookies", false, "Omit the Secure cookie attribute (for local testing without TLS)")
	rootCmd.AddCommand(serveCmd)
}
