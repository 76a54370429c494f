package gateway

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"example.com/chainfeed/internal/middleware"
	"github.com/golang-jwt/jwt/v5"
)

// --- HTTP Handlers ---

// sessionHandler issues a JWT for the configured viewer address and reports
// registration status. Registration becoming true triggers the engine's
// initial snapshot round.
// Expects JSON body: {"address": "0x..."}
func (g *Gateway) sessionHandler(w http.ResponseWriter, r *http.Request) {
	type req struct {
		Address string `json:"address"`
	}
	var body req

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		logg.Error("http/session", "Invalid request body", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if !strings.EqualFold(body.Address, g.viewer) {
		logg.Info("http/session", "Session request for a different viewer rejected")
		http.Error(w, "unknown viewer address", http.StatusForbidden)
		return
	}

	registered, err := g.store.IsRegistered(r.Context(), body.Address)
	if err != nil {
		logg.Error("http/session", "Failed to check registration", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	g.engine.SetRegistered(r.Context(), registered)

	secret := []byte(os.Getenv("JWT_SECRET"))
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"address": strings.ToLower(body.Address),
		"exp":     time.Now().Add(time.Hour * 24).Unix(),
	})
	tokenStr, err := token.SignedString(secret)
	if err != nil {
		http.Error(w, "failed to generate token", http.StatusInternalServerError)
		return
	}

	resp := map[string]any{
		"address":    strings.ToLower(body.Address),
		"registered": registered,
		"token":      tokenStr,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// getFeedHandler returns the current reconciled feed.
func (g *Gateway) getFeedHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.AddressFromContext(r.Context()); !ok {
		logg.Info("http/feed", "Unauthorized feed access attempt")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(g.engine.CurrentFeed())
}

// createEntryHandler records an optimistic entry and queues it for on-chain
// confirmation. A failed submission rolls the optimistic entry back so the
// viewer can retry.
// Expects JSON body: {"content": "entry text"}
func (g *Gateway) createEntryHandler(w http.ResponseWriter, r *http.Request) {
	type req struct {
		Content string `json:"content"`
	}
	var body req

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		logg.Error("http/entries", "Invalid request body", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	viewer, ok := middleware.AddressFromContext(r.Context())
	if !ok {
		logg.Info("http/entries", "Unauthorized entry creation attempt")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	content := strings.TrimSpace(body.Content)
	if len(content) == 0 || len(content) > 280 {
		logg.Info("http/entries", "Entry content length invalid")
		http.Error(w, "entry content must be 1-280 characters", http.StatusBadRequest)
		return
	}

	entry := g.engine.SubmitNewLocalEntry(content)

	if err := g.submitter.SubmitEntry(viewer, content); err != nil {
		logg.Error("http/entries", "Submission failed, rolling back optimistic entry", err)
		g.engine.RollbackEntry(entry.ID)
		http.Error(w, "failed to submit entry: "+err.Error(), http.StatusInternalServerError)
		return
	}

	logg.Info("http/entries", "Entry created optimistically, confirmation pending")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entry)
}

// likeHandler applies an optimistic like or unlike and queues it for
// confirmation. A failed submission reverses the optimistic delta.
// Expects JSON body: {"entry_id": "42", "author": "0x...", "delta": 1}
func (g *Gateway) likeHandler(w http.ResponseWriter, r *http.Request) {
	type req struct {
		EntryID string `json:"entry_id"`
		Author  string `json:"author"`
		Delta   int    `json:"delta"`
	}
	var body req

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		logg.Error("http/likes", "Invalid request body", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	viewer, ok := middleware.AddressFromContext(r.Context())
	if !ok {
		logg.Info("http/likes", "Unauthorized like attempt")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if body.EntryID == "" || body.Author == "" || (body.Delta != 1 && body.Delta != -1) {
		http.Error(w, "entry_id, author and delta of +1/-1 required", http.StatusBadRequest)
		return
	}

	g.engine.SubmitLikeDelta(body.Author, body.EntryID, body.Delta)

	if err := g.submitter.SubmitLike(viewer, body.EntryID, body.Delta); err != nil {
		logg.Error("http/likes", "Submission failed, reversing optimistic like", err)
		g.engine.SubmitLikeDelta(body.Author, body.EntryID, -body.Delta)
		http.Error(w, "failed to submit like: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// followHandler adds an address to the viewer's follow graph. The follow
// mutation itself triggers the snapshot refresh.
// Expects JSON body: {"address": "0x..."}
func (g *Gateway) followHandler(w http.ResponseWriter, r *http.Request) {
	g.mutateFollows(w, r, g.follows.Add, "followed")
}

// unfollowHandler removes an address from the viewer's follow graph.
func (g *Gateway) unfollowHandler(w http.ResponseWriter, r *http.Request) {
	g.mutateFollows(w, r, g.follows.Remove, "unfollowed")
}

func (g *Gateway) mutateFollows(w http.ResponseWriter, r *http.Request, op func(string) error, verb string) {
	type req struct {
		Address string `json:"address"`
	}
	var body req

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		logg.Error("http/follow", "Invalid request body", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if _, ok := middleware.AddressFromContext(r.Context()); !ok {
		logg.Info("http/follow", "Unauthorized follow attempt")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if strings.TrimSpace(body.Address) == "" {
		http.Error(w, "address required", http.StatusBadRequest)
		return
	}

	if err := op(body.Address); err != nil {
		logg.Error("http/follow", "Failed to update follow graph", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	logg.Info("http/follow", "Viewer "+verb+" "+body.Address)
	w.WriteHeader(http.StatusOK)
}

// profileHandler returns the profile and aggregate like count for an
// address, defaulting to the viewer.
// Query parameters: ?address=0x...
func (g *Gateway) profileHandler(w http.ResponseWriter, r *http.Request) {
	viewer, ok := middleware.AddressFromContext(r.Context())
	if !ok {
		logg.Info("http/profile", "Unauthorized profile access attempt")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	address := r.URL.Query().Get("address")
	if address == "" {
		address = viewer
	}

	profile, err := g.store.GetProfile(r.Context(), address)
	if err != nil {
		logg.Error("http/profile", "Failed to get profile", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	totalLikes, err := g.store.TotalLikes(r.Context(), address)
	if err != nil {
		logg.Error("http/profile", "Failed to get total likes", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := map[string]any{
		"profile":     profile,
		"total_likes": totalLikes,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
