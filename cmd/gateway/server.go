package gateway

import (
	"context"
	"net/http"
	"time"

	"example.com/chainfeed/internal/feed"
	"example.com/chainfeed/internal/follow"
	"example.com/chainfeed/internal/logger"
	"example.com/chainfeed/internal/middleware"
	"example.com/chainfeed/internal/store"
)

var logg = logger.New()

// Submitter queues viewer actions for on-chain confirmation.
type Submitter interface {
	SubmitEntry(author, content string) error
	SubmitLike(author, entryID string, delta int) error
}

// Gateway serves one viewer's reconciled feed over HTTP.
type Gateway struct {
	viewer    string
	store     store.StoreInterface
	engine    *feed.Engine
	follows   *follow.Graph
	submitter Submitter
}

// Options bundles the gateway's pre-initialized dependencies.
type Options struct {
	Viewer    string
	Store     store.StoreInterface
	Engine    *feed.Engine
	Follows   *follow.Graph
	Submitter Submitter
	Addr      string
	CertFile  string
	KeyFile   string
}

// Run starts the HTTP server with JWT-protected routes and graceful shutdown.
func Run(ctx context.Context, opts Options) {
	g := &Gateway{
		viewer:    opts.Viewer,
		store:     opts.Store,
		engine:    opts.Engine,
		follows:   opts.Follows,
		submitter: opts.Submitter,
	}

	// --- HTTP routes ---
	mux := http.NewServeMux()

	// Protected endpoints with JWT authentication middleware
	mux.Handle("/feed", middleware.JWTAuth(http.HandlerFunc(g.getFeedHandler)))
	mux.Handle("/entries", middleware.JWTAuth(http.HandlerFunc(g.createEntryHandler)))
	mux.Handle("/likes", middleware.JWTAuth(http.HandlerFunc(g.likeHandler)))
	mux.Handle("/follow", middleware.JWTAuth(http.HandlerFunc(g.followHandler)))
	mux.Handle("/unfollow", middleware.JWTAuth(http.HandlerFunc(g.unfollowHandler)))
	mux.Handle("/profile", middleware.JWTAuth(http.HandlerFunc(g.profileHandler)))

	// Public endpoint for session issuance (no JWT required)
	mux.Handle("/session", http.HandlerFunc(g.sessionHandler))

	srv := &http.Server{
		Addr:         opts.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second, // prevent slowloris attacks
		WriteTimeout: 10 * time.Second,
	}

	// --- Start server in a goroutine ---
	go func() {
		var err error
		if opts.CertFile != "" && opts.KeyFile != "" {
			logg.Info("gateway", "Starting HTTPS server on "+opts.Addr)
			err = srv.ListenAndServeTLS(opts.CertFile, opts.KeyFile)
		} else {
			logg.Info("gateway", "Starting HTTP server on "+opts.Addr)
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logg.Error("gateway", "Server stopped unexpectedly", err)
		}
	}()

	// --- Graceful shutdown ---
	<-ctx.Done()
	logg.Info("gateway", "Shutdown signal received")

	g.engine.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error("gateway", "Error during server shutdown", err)
	} else {
		logg.Info("gateway", "Server stopped gracefully")
	}
}
