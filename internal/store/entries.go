package store

import (
	"context"
	"strings"

	"example.com/chainfeed/internal/models"
	"github.com/gocql/gocql"
)

// --- Entry reads (snapshot fetches) ---

// ListEntries returns every confirmed entry known for one author. Rows that
// do not conform to the minimal entry shape are logged and dropped here so
// they never reach the feed.
func (s *Store) ListEntries(ctx context.Context, identity string) ([]models.Entry, error) {
	iter := s.Session.Query(`
		SELECT entry_id, author, content, created_at, likes
		FROM entries_by_author WHERE author = ?`,
		strings.ToLower(identity),
	).WithContext(ctx).Iter()

	var res []models.Entry
	var raw models.RawEntry

	for iter.Scan(&raw.ID, &raw.Author, &raw.Content, &raw.Timestamp, &raw.Likes) {
		entry, err := raw.Validate(models.Authoritative)
		if err != nil {
			logg.Error("store", "Dropping malformed entry row", err)
			continue
		}
		res = append(res, entry)
	}

	if err := iter.Close(); err != nil {
		logg.Error("store", "Failed to list entries for author", err)
		return nil, err
	}
	return res, nil
}

// TotalLikes sums the like counts over one author's entries. Used by the
// profile stats, not by the feed merge.
func (s *Store) TotalLikes(ctx context.Context, identity string) (int, error) {
	iter := s.Session.Query(`
		SELECT likes FROM entries_by_author WHERE author = ?`,
		strings.ToLower(identity),
	).WithContext(ctx).Iter()

	var likes, total int
	for iter.Scan(&likes) {
		total += likes
	}

	if err := iter.Close(); err != nil {
		logg.Error("store", "Failed to sum likes for author", err)
		return 0, err
	}
	return total, nil
}

// --- Entry writes (indexer side) ---

// UpsertEntry records a confirmed entry from the chain.
func (s *Store) UpsertEntry(ctx context.Context, e models.Entry) error {
	if err := s.Session.Query(`
		INSERT INTO entries_by_author (author, entry_id, content, created_at, likes)
		VALUES (?, ?, ?, ?, ?)`,
		strings.ToLower(e.Author), e.ID, e.Content, e.CreatedAt, e.Likes,
	).WithContext(ctx).Exec(); err != nil {
		logg.Error("store", "Failed to upsert entry", err)
		return err
	}
	return nil
}

// ApplyLike overwrites the like count of one confirmed entry.
func (s *Store) ApplyLike(ctx context.Context, author, id string, likes int) error {
	if err := s.Session.Query(`
		UPDATE entries_by_author SET likes = ?
		WHERE author = ? AND entry_id = ?`,
		likes, strings.ToLower(author), id,
	).WithContext(ctx).Exec(); err != nil {
		logg.Error("store", "Failed to apply like update", err)
		return err
	}
	return nil
}

// --- Profile operations ---

// GetProfile returns the profile for one address. An unknown address yields
// an unregistered zero profile without an error.
func (s *Store) GetProfile(ctx context.Context, identity string) (models.Profile, error) {
	addr := strings.ToLower(identity)
	p := models.Profile{Address: addr}

	err := s.Session.Query(`
		SELECT display_name, bio FROM profiles WHERE address = ?`,
		addr,
	).WithContext(ctx).Scan(&p.DisplayName, &p.Bio)
	if err != nil {
		if err == gocql.ErrNotFound {
			return p, nil
		}
		logg.Error("store", "Failed to query profile", err)
		return models.Profile{}, err
	}

	p.Registered = true
	return p, nil
}

// IsRegistered reports whether an address has a profile on record.
func (s *Store) IsRegistered(ctx context.Context, identity string) (bool, error) {
	p, err := s.GetProfile(ctx, identity)
	if err != nil {
		return false, err
	}
	return p.Registered, nil
}

// UpsertProfile records a profile-created event.
func (s *Store) UpsertProfile(ctx context.Context, p models.Profile) error {
	if err := s.Session.Query(`
		INSERT INTO profiles (address, display_name, bio)
		VALUES (?, ?, ?)`,
		strings.ToLower(p.Address), p.DisplayName, p.Bio,
	).WithContext(ctx).Exec(); err != nil {
		logg.Error("store", "Failed to upsert profile", err)
		return err
	}
	return nil
}
