// internal/core/manager/store.go
package manager

import (
	"sort"
	"sync/atomic"

	"github.com/solatis/pmengine/internal/types"
)

/*
 * Copy-on-write rule store.
 *
 * The current snapshot sits behind an atomic pointer. Readers load it and
 * never block; the rules inside a snapshot are never modified after it is
 * published. Writers (always holding the manager lock) build a new map from
 * the old one, apply their change and swap the pointer.
 *
 * Rule values are cloned on the way in and on the way out, so neither the
 * caller nor a reader can reach into a published snapshot.
 */

type snapshot struct {
	rules map[int]types.Rule
}

type store struct {
	current atomic.Pointer[snapshot]
}

func newStore() *store {
	s := &store{}
	s.current.Store(&snapshot{rules: map[int]types.Rule{}})
	return s
}

func (s *store) load() *snapshot {
	return s.current.Load()
}

// get returns a copy of the rule with the given id.
func (s *store) get(id int) (types.Rule, bool) {
	r, ok := s.load().rules[id]
	if !ok {
		return types.Rule{}, false
	}
	return r.Clone(), true
}

// filter returns copies of the rules matching keep, ordered by id.
func (s *store) filter(keep func(types.Rule) bool) []types.Rule {
	snap := s.load()
	out := make([]types.Rule, 0, len(snap.rules))
	for _, r := range snap.rules {
		if keep == nil || keep(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *store) count() int {
	return len(s.load().rules)
}

// mutate publishes a snapshot derived from the current one. Caller holds
// the manager lock.
func (s *store) mutate(fn func(rules map[int]types.Rule)) {
	old := s.load()
	next := make(map[int]types.Rule, len(old.rules)+1)
	for id, r := range old.rules {
		next[id] = r
	}
	fn(next)
	s.current.Store(&snapshot{rules: next})
}

// put stores a copy of r under r.ID, replacing any previous version.
func (s *store) put(rs ...types.Rule) {
	s.mutate(func(rules map[int]types.Rule) {
		for _, r := range rs {
			rules[r.ID] = r.Clone()
		}
	})
}

func (s *store) remove(ids ...int) {
	s.mutate(func(rules map[int]types.Rule) {
		for _, id := range ids {
			delete(rules, id)
		}
	})
}

func (s *store) clear() {
	s.current.Store(&snapshot{rules: map[int]types.Rule{}})
}
