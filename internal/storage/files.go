package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	rerrors "rscope/internal/errors"
)

// FileRecord is one indexed file. Facts is the JSON encoding of the
// extracted facts; the store does not interpret it.
type FileRecord struct {
	URI         string          `json:"uri"`
	Size        int64           `json:"size"`
	ModTime     time.Time       `json:"modTime"`
	ContentHash uint64          `json:"contentHash"`
	Content     string          `json:"-"`
	Facts       json.RawMessage `json:"-"`
	IndexedAt   time.Time       `json:"indexedAt"`
}

// Fresh reports whether the record still describes a file with the given
// size and modification time.
func (r *FileRecord) Fresh(size int64, modTime time.Time) bool {
	return r.Size == size && r.ModTime.Equal(modTime)
}

// FileStore reads and writes indexed files.
type FileStore struct {
	db    *DB
	codec *codec
}

// NewFileStore wraps db.
func NewFileStore(db *DB) (*FileStore, error) {
	c, err := newCodec()
	if err != nil {
		return nil, err
	}
	return &FileStore{db: db, codec: c}, nil
}

// OpenFileStore opens the database at path and wraps it.
func OpenFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	conn, err := Open(path, logger)
	if err != nil {
		return nil, rerrors.NewRscopeError(rerrors.StoreFailed, "open index store", err)
	}
	fs, err := NewFileStore(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return fs, nil
}

// Close releases the codec and the database.
func (s *FileStore) Close() error {
	s.codec.close()
	return s.db.Close()
}

// Get loads the record for uri. A missing record is (nil, nil).
func (s *FileStore) Get(uri string) (*FileRecord, error) {
	var (
		rec                FileRecord
		mtime, indexed     int64
		hash               string
		content, factsBlob []byte
	)
	err := s.db.QueryRow(`
		SELECT uri, size, mtime_ns, content_hash, content, facts, indexed_at
		FROM indexed_files WHERE uri = ?
	`, uri).Scan(&rec.URI, &rec.Size, &mtime, &hash, &content, &factsBlob, &indexed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, rerrors.NewRscopeError(rerrors.StoreFailed, "read indexed file "+uri, err)
	}
	if err := s.decode(&rec, mtime, hash, content, factsBlob, indexed); err != nil {
		return nil, rerrors.NewRscopeError(rerrors.StoreFailed, "decode indexed file "+uri, err)
	}
	return &rec, nil
}

// Put inserts or replaces the record.
func (s *FileStore) Put(rec *FileRecord) error {
	return s.PutAll([]*FileRecord{rec})
}

// PutAll writes the records in one transaction.
func (s *FileStore) PutAll(recs []*FileRecord) error {
	if len(recs) == 0 {
		return nil
	}
	err := s.db.WithTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO indexed_files
				(uri, size, mtime_ns, content_hash, content, facts, indexed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, rec := range recs {
			indexed := rec.IndexedAt
			if indexed.IsZero() {
				indexed = time.Now()
			}
			_, err := stmt.Exec(
				rec.URI,
				rec.Size,
				rec.ModTime.UnixNano(),
				strconv.FormatUint(rec.ContentHash, 16),
				s.codec.compress([]byte(rec.Content)),
				s.codec.compress(rec.Facts),
				indexed.UnixNano(),
			)
			if err != nil {
				return fmt.Errorf("write %s: %w", rec.URI, err)
			}
		}
		return nil
	})
	if err != nil {
		return rerrors.NewRscopeError(rerrors.StoreFailed, "write indexed files", err)
	}
	return nil
}

// Delete removes the record for uri if present.
func (s *FileStore) Delete(uri string) error {
	if _, err := s.db.Exec("DELETE FROM indexed_files WHERE uri = ?", uri); err != nil {
		return rerrors.NewRscopeError(rerrors.StoreFailed, "delete indexed file "+uri, err)
	}
	return nil
}

// List returns every record without content or facts, ordered by uri.
func (s *FileStore) List() ([]FileRecord, error) {
	rows, err := s.db.Query(`
		SELECT uri, size, mtime_ns, content_hash, indexed_at
		FROM indexed_files ORDER BY uri
	`)
	if err != nil {
		return nil, rerrors.NewRscopeError(rerrors.StoreFailed, "list indexed files", err)
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		var (
			rec            FileRecord
			mtime, indexed int64
			hash           string
		)
		if err := rows.Scan(&rec.URI, &rec.Size, &mtime, &hash, &indexed); err != nil {
			return nil, rerrors.NewRscopeError(rerrors.StoreFailed, "scan indexed file", err)
		}
		rec.ModTime = time.Unix(0, mtime)
		rec.IndexedAt = time.Unix(0, indexed)
		rec.ContentHash, _ = strconv.ParseUint(hash, 16, 64)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, rerrors.NewRscopeError(rerrors.StoreFailed, "list indexed files", err)
	}
	return out, nil
}

// Prune deletes records whose uri is not in keep and returns how many
// were removed.
func (s *FileStore) Prune(keep map[string]bool) (int, error) {
	recs, err := s.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	err = s.db.WithTx(func(tx *sql.Tx) error {
		for _, rec := range recs {
			if keep[rec.URI] {
				continue
			}
			if _, err := tx.Exec("DELETE FROM indexed_files WHERE uri = ?", rec.URI); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, rerrors.NewRscopeError(rerrors.StoreFailed, "prune indexed files", err)
	}
	return removed, nil
}

// Stats summarises the store.
type Stats struct {
	Files       int   `json:"files"`
	StoredBytes int64 `json:"storedBytes"`
	SourceBytes int64 `json:"sourceBytes"`
}

func (s *FileStore) Stats() (Stats, error) {
	var st Stats
	err := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(LENGTH(content) + LENGTH(facts)), 0), COALESCE(SUM(size), 0)
		FROM indexed_files
	`).Scan(&st.Files, &st.StoredBytes, &st.SourceBytes)
	if err != nil {
		return st, rerrors.NewRscopeError(rerrors.StoreFailed, "read store stats", err)
	}
	return st, nil
}

func (s *FileStore) decode(rec *FileRecord, mtime int64, hash string, content, facts []byte, indexed int64) error {
	rec.ModTime = time.Unix(0, mtime)
	rec.IndexedAt = time.Unix(0, indexed)
	h, err := strconv.ParseUint(hash, 16, 64)
	if err != nil {
		return fmt.Errorf("content hash %q: %w", hash, err)
	}
	rec.ContentHash = h

	text, err := s.codec.decompress(content)
	if err != nil {
		return err
	}
	rec.Content = string(text)

	raw, err := s.codec.decompress(facts)
	if err != nil {
		return err
	}
	rec.Facts = raw
	return nil
}
