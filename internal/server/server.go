// Package server exposes the recorder and its chunk jobs over HTTP and a
// websocket event stream.
package server

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Deps wires the handler to the running client.
type Deps struct {
	Hub             *Hub
	Recorder        Recorder
	Jobs            Jobs
	History         History
	Metrics         http.Handler
	StaticFS        fs.FS
	SegmentDuration time.Duration
	Logger          *zap.Logger
}

func Handler(d Deps) (http.Handler, error) {
	if d.Recorder == nil || d.Jobs == nil {
		return nil, errors.New("server: recorder and jobs are required")
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	hub := d.Hub
	if hub == nil {
		hub = NewHub(logger)
	}

	mux := http.NewServeMux()

	registerWSRoute(mux, hub, logger)
	registerAPIRoutes(mux, &api{
		rec:             d.Recorder,
		jobs:            d.Jobs,
		history:         d.History,
		segmentDuration: d.SegmentDuration,
		logger:          logger,
	})
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics)
	}

	if d.StaticFS != nil {
		fileServer := http.FileServer(http.FS(d.StaticFS))
		mux.HandleFunc("/", serveSPA(fileServer))
	}

	return mux, nil
}

// Serve runs h on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func serveSPA(fileServer http.Handler) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/ws" {
			http.NotFound(w, r)
			return
		}

		cleanPath := path.Clean(strings.TrimPrefix(r.URL.Path, "/"))
		if cleanPath == "." || cleanPath == "" {
			r.URL.Path = "/"
		} else if !strings.Contains(cleanPath, ".") {
			r.URL.Path = "/index.html"
		} else {
			r.URL.Path = "/" + cleanPath
		}

		fileServer.ServeHTTP(w, r)
	}
}
