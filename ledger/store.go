package ledger

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bitfsorg/libpayplan-go/plan"
)

// UpdateFunc mutates a copy of an account inside an atomic read-modify-write.
// Returning an error aborts the update and nothing is written; the error is
// returned unchanged by UpdateAccount. A non-nil history entry is appended
// in the same transaction. Implementations may call fn more than once when
// retrying, so fn must derive everything from the account it is given.
type UpdateFunc func(a *Account) (*HistoryEntry, error)

// Filter narrows an account scan. Zero values match everything.
type Filter struct {
	Membership Membership
}

func (f Filter) match(a *Account) bool {
	return f.Membership == "" || a.Membership == f.Membership
}

// Store is the durable ledger: accounts, the append-only history log and
// the plan singleton.
type Store interface {
	// GetAccount returns the account for username or ErrAccountNotFound.
	GetAccount(ctx context.Context, username string) (*Account, error)

	// CreateAccount inserts a new account. Returns ErrAccountExists if taken.
	CreateAccount(ctx context.Context, a *Account) error

	// UpdateAccount atomically applies fn to the account and persists the
	// result together with the optional history entry.
	UpdateAccount(ctx context.Context, username string, fn UpdateFunc) (*Account, error)

	// ListAccounts returns every account matching f, ordered by username.
	ListAccounts(ctx context.Context, f Filter) ([]*Account, error)

	// AppendHistory appends a standalone history entry with no balance
	// change. Credits never use it; their entries are written by
	// UpdateAccount. It is the hook for importing statements from another
	// system.
	AppendHistory(ctx context.Context, e *HistoryEntry) error

	// ListHistory returns the history of username in append order.
	ListHistory(ctx context.Context, username string) ([]*HistoryEntry, error)

	// GetPlan returns the stored plan or ErrPlanNotFound.
	GetPlan(ctx context.Context) (*plan.Plan, error)

	// PutPlan overwrites the stored plan.
	PutPlan(ctx context.Context, p *plan.Plan) error

	// UpdatePlan atomically applies fn to the stored plan, starting from
	// plan.Default when none is stored, and bumps its Version.
	UpdatePlan(ctx context.Context, fn func(p *plan.Plan) error) (*plan.Plan, error)
}

// PrepareEntry fills the identity fields of e the caller left empty.
func PrepareEntry(e *HistoryEntry, username string) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Username == "" {
		e.Username = username
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
}

func checkAccount(a *Account) error {
	if a == nil {
		return fmt.Errorf("%w: account", ErrNilParam)
	}
	a.Username = NormalizeUsername(a.Username)
	if a.Username == "" {
		return ErrInvalidUsername
	}
	return nil
}

// ---------------------------------------------------------------------------
// MemStore
// ---------------------------------------------------------------------------

// MemStore is an in-memory Store for tests and the "memory" backend.
// Updates to one account are serialized by a per-account mutex; updates
// to different accounts run concurrently.
type MemStore struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	locks    map[string]*sync.Mutex
	history  []*HistoryEntry

	planMu sync.Mutex
	plan   *plan.Plan
}

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		accounts: make(map[string]*Account),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *MemStore) lockFor(username string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[username]
	if !ok {
		l = &sync.Mutex{}
		s.locks[username] = l
	}
	return l
}

// GetAccount returns a copy of the account.
func (s *MemStore) GetAccount(ctx context.Context, username string) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[NormalizeUsername(username)]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return a.Clone(), nil
}

// CreateAccount stores a copy of a.
func (s *MemStore) CreateAccount(ctx context.Context, a *Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkAccount(a); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.Username]; ok {
		return ErrAccountExists
	}
	s.accounts[a.Username] = a.Clone()
	return nil
}

// UpdateAccount applies fn under the account's mutex.
func (s *MemStore) UpdateAccount(ctx context.Context, username string, fn UpdateFunc) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: update func", ErrNilParam)
	}
	username = NormalizeUsername(username)

	l := s.lockFor(username)
	l.Lock()
	defer l.Unlock()

	s.mu.RLock()
	cur, ok := s.accounts[username]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrAccountNotFound
	}

	next := cur.Clone()
	entry, err := fn(next)
	if err != nil {
		return nil, err
	}
	next.Username = username
	next.Rev = cur.Rev + 1

	s.mu.Lock()
	s.accounts[username] = next
	if entry != nil {
		PrepareEntry(entry, username)
		e := *entry
		s.history = append(s.history, &e)
	}
	s.mu.Unlock()
	return next.Clone(), nil
}

// ListAccounts returns copies of matching accounts sorted by username.
func (s *MemStore) ListAccounts(ctx context.Context, f Filter) ([]*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		if f.match(a) {
			out = append(out, a.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *Account) int { return strings.Compare(a.Username, b.Username) })
	return out, nil
}

// AppendHistory appends a copy of e.
func (s *MemStore) AppendHistory(ctx context.Context, e *HistoryEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("%w: history entry", ErrNilParam)
	}
	PrepareEntry(e, NormalizeUsername(e.Username))
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *e
	s.history = append(s.history, &c)
	return nil
}

// ListHistory returns copies of username's entries in append order.
func (s *MemStore) ListHistory(ctx context.Context, username string) ([]*HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	username = NormalizeUsername(username)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*HistoryEntry
	for _, e := range s.history {
		if e.Username == username {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

// GetPlan returns a copy of the stored plan.
func (s *MemStore) GetPlan(ctx context.Context) (*plan.Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.planMu.Lock()
	defer s.planMu.Unlock()
	if s.plan == nil {
		return nil, ErrPlanNotFound
	}
	return s.plan.Clone(), nil
}

// PutPlan stores a copy of p.
func (s *MemStore) PutPlan(ctx context.Context, p *plan.Plan) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: plan", ErrNilParam)
	}
	s.planMu.Lock()
	defer s.planMu.Unlock()
	s.plan = p.Clone()
	return nil
}

// UpdatePlan applies fn to a copy of the stored plan.
func (s *MemStore) UpdatePlan(ctx context.Context, fn func(p *plan.Plan) error) (*plan.Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.planMu.Lock()
	defer s.planMu.Unlock()

	cur := s.plan
	if cur == nil {
		cur = plan.Default()
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Version = cur.Version + 1
	s.plan = next
	return next.Clone(), nil
}
