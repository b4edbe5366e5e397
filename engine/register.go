package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/bitfsorg/libpayplan-go/ledger"
)

// maxPlacementScan bounds the breadth-first slot search.
const maxPlacementScan = 100_000

// placementAttempts bounds retries when a found slot is taken concurrently.
const placementAttempts = 5

var errSlotTaken = errors.New("engine: slot taken")

// RegisterRequest describes a new member. Placement defaults to the
// sponsor and Side to Left. An account with neither sponsor nor placement
// parent starts a new tree.
type RegisterRequest struct {
	Username        string
	Sponsor         string
	PlacementParent string
	Side            ledger.Side
}

// Register creates a free account and places it in the binary tree at the
// first open slot under the placement parent, searching breadth-first on
// the requested side and preferring that side at every node.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*ledger.Account, error) {
	username := ledger.NormalizeUsername(req.Username)
	if username == "" {
		return nil, ErrInvalidUsername
	}
	sponsor := ledger.NormalizeUsername(req.Sponsor)
	parent := ledger.NormalizeUsername(req.PlacementParent)
	side := req.Side
	if side == "" {
		side = ledger.Left
	}
	if !side.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSide, req.Side)
	}

	if _, err := e.store.GetAccount(ctx, username); err == nil {
		return nil, ledger.ErrAccountExists
	} else if !isNotFound(err) {
		return nil, err
	}
	if sponsor != "" {
		if _, err := e.store.GetAccount(ctx, sponsor); isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrSponsorNotFound, sponsor)
		} else if err != nil {
			return nil, err
		}
	}
	if parent == "" {
		parent = sponsor
	}

	acct := ledger.NewAccount(username, sponsor, e.clock.Now().UTC())
	if parent != "" {
		slotParent, slotSide, err := e.attach(ctx, parent, side, username)
		if err != nil {
			return nil, err
		}
		acct.PlacementParent, acct.PlacementSide = slotParent, slotSide
	}

	if err := e.store.CreateAccount(ctx, acct); err != nil {
		if acct.PlacementParent != "" {
			e.detach(ctx, acct.PlacementParent, acct.PlacementSide, username)
		}
		return nil, err
	}
	e.log.Info("engine: member registered",
		"user", username,
		"sponsor", sponsor,
		"parent", acct.PlacementParent,
		"side", acct.PlacementSide,
	)
	return acct, nil
}

// attach reserves an open slot for child under start's subtree.
func (e *Engine) attach(ctx context.Context, start string, side ledger.Side, child string) (string, ledger.Side, error) {
	for range placementAttempts {
		parent, s, err := e.findSlot(ctx, start, side)
		if err != nil {
			return "", "", err
		}
		_, err = e.store.UpdateAccount(ctx, parent, func(a *ledger.Account) (*ledger.HistoryEntry, error) {
			if a.ChildOn(s) != "" {
				return nil, errSlotTaken
			}
			a.SetChild(s, child)
			return nil, nil
		})
		if errors.Is(err, errSlotTaken) {
			continue
		}
		if err != nil {
			return "", "", fmt.Errorf("engine: attach %s under %s: %w", child, parent, err)
		}
		return parent, s, nil
	}
	return "", "", ErrNoOpenSlot
}

// detach clears a reserved slot after a failed registration.
func (e *Engine) detach(ctx context.Context, parent string, side ledger.Side, child string) {
	_, err := e.store.UpdateAccount(ctx, parent, func(a *ledger.Account) (*ledger.HistoryEntry, error) {
		if a.ChildOn(side) == child {
			a.SetChild(side, "")
		}
		return nil, nil
	})
	if err != nil {
		e.log.Error("engine: release placement slot", "parent", parent, "child", child, "error", err)
	}
}

// findSlot returns the first open position under start. start's own slot
// on side comes first; below that the side subtree is searched level by
// level.
func (e *Engine) findSlot(ctx context.Context, start string, side ledger.Side) (string, ledger.Side, error) {
	root, err := e.store.GetAccount(ctx, start)
	if isNotFound(err) {
		return "", "", fmt.Errorf("%w: %s", ErrPlacementNotFound, start)
	}
	if err != nil {
		return "", "", err
	}
	if root.ChildOn(side) == "" {
		return root.Username, side, nil
	}

	visited := map[string]bool{root.Username: true}
	queue := []string{root.ChildOn(side)}
	for len(queue) > 0 && len(visited) < maxPlacementScan {
		name := queue[0]
		queue = queue[1:]
		if name == "" || visited[name] {
			continue
		}
		visited[name] = true

		a, err := e.store.GetAccount(ctx, name)
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return "", "", err
		}
		for _, s := range []ledger.Side{side, side.Other()} {
			if a.ChildOn(s) == "" {
				return a.Username, s, nil
			}
		}
		queue = append(queue, a.ChildOn(side), a.ChildOn(side.Other()))
	}
	return "", "", ErrNoOpenSlot
}
