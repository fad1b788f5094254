package cacheserver

import (
	"time"

	"github.com/grafana/olivehc/internal/dynhash"
)

// PassbyItem is a negative cache entry (spec.md §3): same hash-node
// header as a real Item, but carrying only {fingerprint, expiration, LRU
// link}. Passby entries never consume device space.
type PassbyItem struct {
	hashLink dynhash.Link
	lru      LRUChain
	Expire   int64
}

func (p *PassbyItem) Chain() *dynhash.Link { return &p.hashLink }
func (p *PassbyItem) IsPassby() bool       { return true }
func (p *PassbyItem) LRULink() *LRUChain   { return &p.lru }

func (p *PassbyItem) Expired(now time.Time) bool {
	return !time.Unix(p.Expire, 0).After(now)
}

// HashEntry is satisfied by both Item and PassbyItem, letting a lookup
// tell the two apart via the single tag bit spec.md §9 calls for.
type HashEntry interface {
	dynhash.Entry
	IsPassby() bool
}
