package ledger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"

	"github.com/bitfsorg/libpayplan-go/plan"
)

var (
	bucketAccounts      = []byte("accounts")
	bucketHistory       = []byte("history")
	bucketHistoryByUser = []byte("history_by_user")
	bucketConfig        = []byte("config")

	keyPlan = []byte("plan")
)

// BoltStore persists the ledger in a single bbolt database. bbolt runs one
// write transaction at a time, which serializes every account update.
type BoltStore struct {
	db *bbolt.DB
}

// Compile-time interface check.
var _ Store = (*BoltStore)(nil)

// OpenBoltStore opens or creates the bbolt database at dbPath.
// The parent directory is created if it does not exist.
func OpenBoltStore(dbPath string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("ledger: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketAccounts, bucketHistory, bucketHistoryByUser, bucketConfig} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("boltstore: create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error { return s.db.Close() }

// seqKey encodes a history sequence number as an 8-byte big-endian key.
func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// userIndexKey is username, a zero separator, then the sequence key, so a
// prefix scan returns one user's entries in append order.
func userIndexKey(username string, seq []byte) []byte {
	k := make([]byte, 0, len(username)+1+len(seq))
	k = append(k, username...)
	k = append(k, 0)
	return append(k, seq...)
}

// encodeGob serializes a value using gob encoding.
func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeGob deserializes gob-encoded data into a value.
func decodeGob(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func getAccount(tx *bbolt.Tx, username string) (*Account, error) {
	data := tx.Bucket(bucketAccounts).Get([]byte(username))
	if data == nil {
		return nil, ErrAccountNotFound
	}
	var a Account
	if err := decodeGob(data, &a); err != nil {
		return nil, fmt.Errorf("boltstore: decode account %s: %w", username, err)
	}
	return &a, nil
}

func putAccount(tx *bbolt.Tx, a *Account) error {
	data, err := encodeGob(a)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}
	if err := tx.Bucket(bucketAccounts).Put([]byte(a.Username), data); err != nil {
		return fmt.Errorf("boltstore: put account: %w", err)
	}
	return nil
}

func appendHistory(tx *bbolt.Tx, e *HistoryEntry) error {
	hb := tx.Bucket(bucketHistory)
	seq, err := hb.NextSequence()
	if err != nil {
		return fmt.Errorf("boltstore: history sequence: %w", err)
	}
	data, err := encodeGob(e)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	key := seqKey(seq)
	if err := hb.Put(key, data); err != nil {
		return fmt.Errorf("boltstore: put history: %w", err)
	}
	if err := tx.Bucket(bucketHistoryByUser).Put(userIndexKey(e.Username, key), []byte{}); err != nil {
		return fmt.Errorf("boltstore: put history index: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by username.
func (s *BoltStore) GetAccount(ctx context.Context, username string) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var a *Account
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		a, err = getAccount(tx, NormalizeUsername(username))
		return err
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// CreateAccount stores a new account.
func (s *BoltStore) CreateAccount(ctx context.Context, a *Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkAccount(a); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketAccounts).Get([]byte(a.Username)) != nil {
			return ErrAccountExists
		}
		return putAccount(tx, a)
	})
}

// UpdateAccount runs fn inside a bbolt write transaction.
func (s *BoltStore) UpdateAccount(ctx context.Context, username string, fn UpdateFunc) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: update func", ErrNilParam)
	}
	username = NormalizeUsername(username)

	var out *Account
	err := s.db.Update(func(tx *bbolt.Tx) error {
		a, err := getAccount(tx, username)
		if err != nil {
			return err
		}
		rev := a.Rev
		entry, err := fn(a)
		if err != nil {
			return err
		}
		a.Username = username
		a.Rev = rev + 1
		if err := putAccount(tx, a); err != nil {
			return err
		}
		if entry != nil {
			PrepareEntry(entry, username)
			if err := appendHistory(tx, entry); err != nil {
				return err
			}
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListAccounts scans all accounts in key order, which is username order.
func (s *BoltStore) ListAccounts(ctx context.Context, f Filter) ([]*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*Account
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAccounts).ForEach(func(k, v []byte) error {
			var a Account
			if err := decodeGob(v, &a); err != nil {
				return fmt.Errorf("boltstore: decode account in list: %w", err)
			}
			if f.match(&a) {
				out = append(out, &a)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: list accounts: %w", err)
	}
	return out, nil
}

// AppendHistory appends a standalone history entry.
func (s *BoltStore) AppendHistory(ctx context.Context, e *HistoryEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("%w: history entry", ErrNilParam)
	}
	PrepareEntry(e, NormalizeUsername(e.Username))
	return s.db.Update(func(tx *bbolt.Tx) error {
		return appendHistory(tx, e)
	})
}

// ListHistory returns one user's history via the prefix index.
func (s *BoltStore) ListHistory(ctx context.Context, username string) ([]*HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := userIndexKey(NormalizeUsername(username), nil)

	var out []*HistoryEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		hb := tx.Bucket(bucketHistory)
		c := tx.Bucket(bucketHistoryByUser).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			data := hb.Get(k[len(prefix):])
			if data == nil {
				continue // stale index entry
			}
			var e HistoryEntry
			if err := decodeGob(data, &e); err != nil {
				return fmt.Errorf("boltstore: decode history: %w", err)
			}
			out = append(out, &e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: list history: %w", err)
	}
	return out, nil
}

func getPlan(tx *bbolt.Tx) (*plan.Plan, error) {
	data := tx.Bucket(bucketConfig).Get(keyPlan)
	if data == nil {
		return nil, ErrPlanNotFound
	}
	var p plan.Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("boltstore: decode plan: %w", err)
	}
	return &p, nil
}

func putPlan(tx *bbolt.Tx, p *plan.Plan) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	if err := tx.Bucket(bucketConfig).Put(keyPlan, data); err != nil {
		return fmt.Errorf("boltstore: put plan: %w", err)
	}
	return nil
}

// GetPlan returns the stored plan.
func (s *BoltStore) GetPlan(ctx context.Context) (*plan.Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var p *plan.Plan
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		p, err = getPlan(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// PutPlan overwrites the stored plan.
func (s *BoltStore) PutPlan(ctx context.Context, p *plan.Plan) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: plan", ErrNilParam)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putPlan(tx, p)
	})
}

// UpdatePlan applies fn to the stored plan inside a write transaction.
func (s *BoltStore) UpdatePlan(ctx context.Context, fn func(p *plan.Plan) error) (*plan.Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *plan.Plan
	err := s.db.Update(func(tx *bbolt.Tx) error {
		p, err := getPlan(tx)
		if errors.Is(err, ErrPlanNotFound) {
			p, err = plan.Default(), nil
		}
		if err != nil {
			return err
		}
		version := p.Version
		if err := fn(p); err != nil {
			return err
		}
		p.Version = version + 1
		if err := putPlan(tx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
