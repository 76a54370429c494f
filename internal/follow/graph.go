package follow

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"

	"example.com/chainfeed/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

var logg = logger.New()

// Graph is the viewer's set of followed addresses. It is viewer-owned and
// non-authoritative: following requires no consent from the followed address.
// Addresses are normalized to lowercase on every operation.
//
// Mutations are persisted to a local sqlite database and observers are
// notified synchronously, so a newly followed address shows up on the very
// next computed feed.
type Graph struct {
	mu        sync.Mutex
	db        *sql.DB
	addrs     map[string]struct{}
	observers []func()
}

// New creates an in-memory graph without persistence. Used in tests and
// wherever durability is not needed.
func New() *Graph {
	return &Graph{addrs: make(map[string]struct{})}
}

// Open loads the followed address set from the sqlite database at path,
// creating it if necessary.
func Open(path string) (*Graph, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open follow db: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS followed_addresses (
			address TEXT PRIMARY KEY
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init follow db: %w", err)
	}

	g := &Graph{db: db, addrs: make(map[string]struct{})}

	rows, err := db.Query(`SELECT address FROM followed_addresses`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load followed addresses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			db.Close()
			return nil, err
		}
		g.addrs[strings.ToLower(addr)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		db.Close()
		return nil, err
	}

	logg.Info("follow", fmt.Sprintf("Loaded %d followed addresses", len(g.addrs)))
	return g, nil
}

// OnChange registers an observer called synchronously after every mutation.
func (g *Graph) OnChange(fn func()) {
	g.mu.Lock()
	g.observers = append(g.observers, fn)
	g.mu.Unlock()
}

// Add follows an address. Adding an already followed address is a no-op
// and does not notify observers.
func (g *Graph) Add(addr string) error {
	addr = strings.ToLower(addr)

	g.mu.Lock()
	if _, ok := g.addrs[addr]; ok {
		g.mu.Unlock()
		return nil
	}
	g.addrs[addr] = struct{}{}

	if g.db != nil {
		if _, err := g.db.Exec(
			`INSERT OR IGNORE INTO followed_addresses (address) VALUES (?)`, addr,
		); err != nil {
			delete(g.addrs, addr)
			g.mu.Unlock()
			logg.Error("follow", "Failed to persist follow", err)
			return err
		}
	}
	obs := append([]func(){}, g.observers...)
	g.mu.Unlock()

	g.notify(obs)
	return nil
}

// Remove unfollows an address.
func (g *Graph) Remove(addr string) error {
	addr = strings.ToLower(addr)

	g.mu.Lock()
	if _, ok := g.addrs[addr]; !ok {
		g.mu.Unlock()
		return nil
	}
	delete(g.addrs, addr)

	if g.db != nil {
		if _, err := g.db.Exec(
			`DELETE FROM followed_addresses WHERE address = ?`, addr,
		); err != nil {
			g.addrs[addr] = struct{}{}
			g.mu.Unlock()
			logg.Error("follow", "Failed to persist unfollow", err)
			return err
		}
	}
	obs := append([]func(){}, g.observers...)
	g.mu.Unlock()

	g.notify(obs)
	return nil
}

// Contains reports whether addr is followed.
func (g *Graph) Contains(addr string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.addrs[strings.ToLower(addr)]
	return ok
}

// List returns the followed addresses in deterministic order.
func (g *Graph) List() []string {
	g.mu.Lock()
	res := make([]string, 0, len(g.addrs))
	for a := range g.addrs {
		res = append(res, a)
	}
	g.mu.Unlock()

	sort.Strings(res)
	return res
}

// notify runs outside the lock so observers may call back into the graph.
func (g *Graph) notify(obs []func()) {
	for _, fn := range obs {
		fn()
	}
}

// Close closes the underlying database.
func (g *Graph) Close() error {
	if g.db != nil {
		return g.db.Close()
	}
	return nil
}
