package usecase

import (
	"sort"

	"github.com/avdev/alert_relay/internal/domain"
)

type ActionType string

const (
	ActionClose    ActionType = "CLOSE"
	ActionSuppress ActionType = "SUPPRESS_DUPLICATE"
)

const (
	CloseReasonExternal    = "external_close"
	CloseReasonSideChanged = "side_changed"
)

// Action is a drift-resolution decision. CLOSE is a request to the ledger,
// not a command: a rejection (trade already closed by a concurrent path) is
// a no-op for the caller.
type Action struct {
	Type    ActionType
	TradeID string
	Reason  string
}

// Reconcile compares the ledger's open entries against this cycle's
// snapshots and the previous cycle's, and returns the actions needed to
// converge the ledger with exchange reality.
//
// Per canonical symbol, the earliest-created PLACED record is authoritative:
//   - snapshot missing, stale, or still awaiting first confirmation: no
//     action (a fresh order can take a cycle or more to show up);
//   - position existed last cycle and is gone now: the position was closed
//     outside this system, CLOSE(external_close);
//   - exchange reports the opposite side: the exchange wins,
//     CLOSE(side_changed);
//   - a later open record for the same symbol+side: SUPPRESS_DUPLICATE
//     (view-level only, the ledger keeps the record).
//
// Output order is deterministic for a given input.
func Reconcile(open []*domain.TradeRecord, snaps, prev map[string]*domain.PositionSnapshot) []Action {
	bySymbol := make(map[string][]*domain.TradeRecord)
	var keys []string
	for _, t := range open {
		key := t.CanonicalKey()
		if _, seen := bySymbol[key]; !seen {
			keys = append(keys, key)
		}
		bySymbol[key] = append(bySymbol[key], t)
	}
	sort.Strings(keys)

	var actions []Action
	for _, key := range keys {
		group := bySymbol[key]
		sort.Slice(group, func(i, j int) bool {
			if !group[i].CreatedAt.Equal(group[j].CreatedAt) {
				return group[i].CreatedAt.Before(group[j].CreatedAt)
			}
			return group[i].ID < group[j].ID
		})

		actions = append(actions, reconcileSymbol(key, group, snaps[key], prev[key])...)
	}
	return actions
}

func reconcileSymbol(key string, group []*domain.TradeRecord, snap, prev *domain.PositionSnapshot) []Action {
	var actions []Action

	// Earliest-created per side stays authoritative for aggregates; later
	// same-direction records are duplicates.
	seenSide := make(map[domain.Side]bool)
	for _, t := range group {
		if seenSide[t.Side] {
			actions = append(actions, Action{Type: ActionSuppress, TradeID: t.ID})
			continue
		}
		seenSide[t.Side] = true
	}

	authoritative := earliestPlaced(group)
	if authoritative == nil {
		// Signal-only records (RECEIVED); nothing exchange-backed to
		// reconcile against.
		return actions
	}

	switch {
	case snap == nil || snap.Stale:
		// No usable data this cycle; decisions wait for a clean one.

	case !snap.Found:
		// A stale prior counts: a retained found=true copy is still evidence
		// the position existed, and a transient failure between sighting and
		// disappearance must not lose the close forever.
		if snap.Failure == domain.FailureNotFound && prev != nil && prev.Found {
			actions = append(actions, Action{
				Type:    ActionClose,
				TradeID: authoritative.ID,
				Reason:  CloseReasonExternal,
			})
		}
		// Never-seen or breaker-reason snapshots are "awaiting", not drift.

	case snap.Side != authoritative.Side:
		actions = append(actions, Action{
			Type:    ActionClose,
			TradeID: authoritative.ID,
			Reason:  CloseReasonSideChanged,
		})
	}

	return actions
}

func earliestPlaced(group []*domain.TradeRecord) *domain.TradeRecord {
	for _, t := range group { // group is sorted by CreatedAt
		if t.Status == domain.StatusPlaced {
			return t
		}
	}
	return nil
}
