// Package mongoledger implements ledger.Store on MongoDB. Account updates
// run in multi-document transactions, so the server must be a replica set
// or sharded cluster.
package mongoledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/bitfsorg/libpayplan-go/ledger"
	"github.com/bitfsorg/libpayplan-go/logger"
	"github.com/bitfsorg/libpayplan-go/plan"
)

const (
	collAccounts = "accounts"
	collHistory  = "history"
	collConfig   = "config"

	planDocID = "plan"
)

// Config describes the MongoDB connection.
type Config struct {
	URI      string
	Database string
	Retry    RetryConfig
	Logger   *slog.Logger
}

// Store is a MongoDB-backed ledger.Store.
type Store struct {
	client   *mongo.Client
	accounts *mongo.Collection
	history  *mongo.Collection
	config   *mongo.Collection
	retry    RetryConfig
	log      *slog.Logger
}

// Compile-time interface check.
var _ ledger.Store = (*Store)(nil)

type planDoc struct {
	ID      string     `bson:"_id"`
	Version int64      `bson:"version"`
	Plan    *plan.Plan `bson:"plan"`
}

// Open connects, pings the primary and ensures indexes exist.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongoledger: empty URI")
	}
	if cfg.Database == "" {
		cfg.Database = "payplan"
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	log := logger.OrDiscard(cfg.Logger)

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Client().ApplyURI(cfg.URI).SetRegistry(NewRegistry())
	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongoledger: connect: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongoledger: ping: %w", err)
	}

	db := client.Database(cfg.Database)
	s := &Store{
		client:   client,
		accounts: db.Collection(collAccounts),
		history:  db.Collection(collHistory),
		config:   db.Collection(collConfig),
		retry:    cfg.Retry,
		log:      log,
	}
	if err := s.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	log.Info("mongoledger: connected", "uri", maskURI(cfg.URI), "database", cfg.Database)
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	if _, err := s.history.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "username", Value: 1}, {Key: "createdAt", Value: 1}},
	}); err != nil {
		return fmt.Errorf("mongoledger: history index: %w", err)
	}
	if _, err := s.accounts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "membership", Value: 1}},
	}); err != nil {
		return fmt.Errorf("mongoledger: membership index: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Drop removes every collection of the store's database.
func (s *Store) Drop(ctx context.Context) error {
	return s.accounts.Database().Drop(ctx)
}

// inTxn runs fn in a session transaction, retrying revision conflicts and
// transient failures.
func (s *Store) inTxn(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	return withRetry(ctx, s.retry, func() error {
		sess, err := s.client.StartSession()
		if err != nil {
			return fmt.Errorf("mongoledger: start session: %w", err)
		}
		defer sess.EndSession(ctx)
		_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
			return nil, fn(sc)
		})
		return err
	})
}

// GetAccount retrieves an account by username.
func (s *Store) GetAccount(ctx context.Context, username string) (*ledger.Account, error) {
	var a ledger.Account
	err := s.accounts.FindOne(ctx, bson.M{"_id": ledger.NormalizeUsername(username)}).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongoledger: get account: %w", err)
	}
	return &a, nil
}

// CreateAccount inserts a new account.
func (s *Store) CreateAccount(ctx context.Context, a *ledger.Account) error {
	if a == nil {
		return fmt.Errorf("%w: account", ledger.ErrNilParam)
	}
	a.Username = ledger.NormalizeUsername(a.Username)
	if a.Username == "" {
		return ledger.ErrInvalidUsername
	}
	if _, err := s.accounts.InsertOne(ctx, a); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ledger.ErrAccountExists
		}
		return fmt.Errorf("mongoledger: create account: %w", err)
	}
	return nil
}

// UpdateAccount reads, mutates and replaces the account guarded by its
// revision, appending the history entry in the same transaction.
func (s *Store) UpdateAccount(ctx context.Context, username string, fn ledger.UpdateFunc) (*ledger.Account, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: update func", ledger.ErrNilParam)
	}
	username = ledger.NormalizeUsername(username)

	var out *ledger.Account
	err := s.inTxn(ctx, func(sc mongo.SessionContext) error {
		var a ledger.Account
		err := s.accounts.FindOne(sc, bson.M{"_id": username}).Decode(&a)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ledger.ErrAccountNotFound
		}
		if err != nil {
			return fmt.Errorf("mongoledger: read account: %w", err)
		}

		rev := a.Rev
		entry, err := fn(&a)
		if err != nil {
			return err
		}
		a.Username = username
		a.Rev = rev + 1

		res, err := s.accounts.ReplaceOne(sc, bson.M{"_id": username, "rev": rev}, &a)
		if err != nil {
			return fmt.Errorf("mongoledger: replace account: %w", err)
		}
		if res.MatchedCount == 0 {
			return ledger.ErrConflict
		}
		if entry != nil {
			ledger.PrepareEntry(entry, username)
			if _, err := s.history.InsertOne(sc, entry); err != nil {
				return fmt.Errorf("mongoledger: insert history: %w", err)
			}
		}
		out = &a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListAccounts scans accounts sorted by username.
func (s *Store) ListAccounts(ctx context.Context, f ledger.Filter) ([]*ledger.Account, error) {
	filter := bson.M{}
	if f.Membership != "" {
		filter["membership"] = f.Membership
	}
	cur, err := s.accounts.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("mongoledger: list accounts: %w", err)
	}
	var out []*ledger.Account
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongoledger: decode accounts: %w", err)
	}
	return out, nil
}

// AppendHistory inserts a standalone history entry.
func (s *Store) AppendHistory(ctx context.Context, e *ledger.HistoryEntry) error {
	if e == nil {
		return fmt.Errorf("%w: history entry", ledger.ErrNilParam)
	}
	ledger.PrepareEntry(e, ledger.NormalizeUsername(e.Username))
	if _, err := s.history.InsertOne(ctx, e); err != nil {
		return fmt.Errorf("mongoledger: append history: %w", err)
	}
	return nil
}

// ListHistory returns one user's entries ordered by creation time.
func (s *Store) ListHistory(ctx context.Context, username string) ([]*ledger.HistoryEntry, error) {
	cur, err := s.history.Find(ctx,
		bson.M{"username": ledger.NormalizeUsername(username)},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("mongoledger: list history: %w", err)
	}
	var out []*ledger.HistoryEntry
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongoledger: decode history: %w", err)
	}
	return out, nil
}

func (s *Store) readPlan(ctx context.Context) (*planDoc, error) {
	var doc planDoc
	err := s.config.FindOne(ctx, bson.M{"_id": planDocID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ledger.ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongoledger: read plan: %w", err)
	}
	if doc.Plan == nil {
		return nil, ledger.ErrPlanNotFound
	}
	return &doc, nil
}

// GetPlan returns the stored plan.
func (s *Store) GetPlan(ctx context.Context) (*plan.Plan, error) {
	doc, err := s.readPlan(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Plan, nil
}

// PutPlan overwrites the stored plan.
func (s *Store) PutPlan(ctx context.Context, p *plan.Plan) error {
	if p == nil {
		return fmt.Errorf("%w: plan", ledger.ErrNilParam)
	}
	doc := planDoc{ID: planDocID, Version: p.Version, Plan: p}
	_, err := s.config.ReplaceOne(ctx, bson.M{"_id": planDocID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongoledger: put plan: %w", err)
	}
	return nil
}

// UpdatePlan applies fn to the stored plan guarded by its version.
func (s *Store) UpdatePlan(ctx context.Context, fn func(p *plan.Plan) error) (*plan.Plan, error) {
	var out *plan.Plan
	err := s.inTxn(ctx, func(sc mongo.SessionContext) error {
		doc, err := s.readPlan(sc)
		exists := err == nil
		if errors.Is(err, ledger.ErrPlanNotFound) {
			doc, err = &planDoc{ID: planDocID, Plan: plan.Default()}, nil
		}
		if err != nil {
			return err
		}

		p := doc.Plan
		version := p.Version
		if err := fn(p); err != nil {
			return err
		}
		p.Version = version + 1
		next := planDoc{ID: planDocID, Version: p.Version, Plan: p}

		if !exists {
			if _, err := s.config.InsertOne(sc, next); err != nil {
				if mongo.IsDuplicateKeyError(err) {
					return ledger.ErrConflict
				}
				return fmt.Errorf("mongoledger: insert plan: %w", err)
			}
		} else {
			res, err := s.config.ReplaceOne(sc, bson.M{"_id": planDocID, "version": doc.Version}, next)
			if err != nil {
				return fmt.Errorf("mongoledger: replace plan: %w", err)
			}
			if res.MatchedCount == 0 {
				return ledger.ErrConflict
			}
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// maskURI hides the password in a connection string for logging.
func maskURI(uri string) string {
	hostStart := strings.Index(uri, "://") + 3
	if idx := strings.Index(uri, "@"); idx > hostStart {
		if colonIdx := strings.LastIndex(uri[:idx], ":"); colonIdx >= hostStart {
			return uri[:colonIdx+1] + "***" + uri[idx:]
		}
	}
	return uri
}
