package engine

import (
	"context"
	"fmt"
	"math/rand/v2"
)

const (
	workItemMin = 10000
	workItemMax = 99999
)

// WorkItemMinter hands out external work-item ids for approved initiatives.
type WorkItemMinter interface {
	Mint(ctx context.Context) (int64, error)
}

// WorkItemLookup reports whether a work-item id is already stamped.
type WorkItemLookup interface {
	WorkItemExists(ctx context.Context, workItemID int64) (bool, error)
}

// RandomMinter draws ids from 10000..99999 until it finds one no initiative
// uses.
type RandomMinter struct {
	Lookup      WorkItemLookup
	Rand        func() int64
	MaxAttempts int
}

func NewRandomMinter(lookup WorkItemLookup) RandomMinter {
	return RandomMinter{Lookup: lookup, MaxAttempts: 20}
}

func (m RandomMinter) draw() int64 {
	if m.Rand != nil {
		return m.Rand()
	}
	return workItemMin + rand.Int64N(workItemMax-workItemMin+1)
}

func (m RandomMinter) Mint(ctx context.Context) (int64, error) {
	attempts := m.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		id := m.draw()
		if m.Lookup == nil {
			return id, nil
		}
		used, err := m.Lookup.WorkItemExists(ctx, id)
		if err != nil {
			return 0, err
		}
		if !used {
			return id, nil
		}
	}
	return 0, fmt.Errorf("no free work item id after %d attempts", attempts)
}
