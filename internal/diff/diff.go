// Package diff computes change sets between journaled snapshots.
package diff

import (
	"sort"

	"github.com/fastygo/journal/domain"
	"github.com/fastygo/journal/internal/snapshot"
)

// Diff compares two snapshots of the same journable. A nil prev yields the
// initial change set where every non-blank value changed from nil.
func Diff(schema *domain.Schema, prev, cur *domain.Snapshot) domain.ChangeSet {
	if prev == nil {
		prev = &domain.Snapshot{}
	}
	if cur == nil {
		cur = &domain.Snapshot{}
	}

	changes := domain.ChangeSet{}
	diffAttributes(schema, prev.Attributes, cur.Attributes, changes)
	for _, spec := range schema.Associations {
		if spec.Keyed {
			diffKeyed(spec, prev.Associations[spec.Name], cur.Associations[spec.Name], changes)
		} else {
			diffSet(spec, prev.Associations[spec.Name], cur.Associations[spec.Name], changes)
		}
	}
	return changes
}

func diffAttributes(schema *domain.Schema, prev, cur map[string]any, changes domain.ChangeSet) {
	keys := make(map[string]struct{}, len(prev)+len(cur))
	for k := range prev {
		keys[k] = struct{}{}
	}
	for k := range cur {
		keys[k] = struct{}{}
	}

	for k := range keys {
		if domain.IsTechnical(k) {
			continue
		}
		if f, ok := schema.Field(k); ok && !f.Journaled {
			continue
		}
		oldValue, newValue := prev[k], cur[k]
		if snapshot.Equal(oldValue, newValue) {
			continue
		}
		changes[k] = domain.Change{Old: oldValue, New: newValue}
	}
}

// diffSet reports membership changes; a relabeled member counts as changed
// unless only trailing newlines or line endings differ.
func diffSet(spec domain.AssociationSpec, prev, cur []domain.AssociationItem, changes domain.ChangeSet) {
	before := index(prev, false)
	after := index(cur, false)

	for _, key := range unionKeys(before, after) {
		oldLabel, hadOld := before[key]
		newLabel, hasNew := after[key]
		switch {
		case hadOld && !hasNew:
			changes[spec.DetailKey(key)] = domain.Change{Old: oldLabel, New: nil}
		case !hadOld && hasNew:
			changes[spec.DetailKey(key)] = domain.Change{Old: nil, New: newLabel}
		case !snapshot.LabelEqual(oldLabel, newLabel):
			changes[spec.DetailKey(key)] = domain.Change{Old: oldLabel, New: newLabel}
		}
	}
}

// diffKeyed reports value changes per key; blank values count as absent.
func diffKeyed(spec domain.AssociationSpec, prev, cur []domain.AssociationItem, changes domain.ChangeSet) {
	before := index(prev, true)
	after := index(cur, true)

	for _, key := range unionKeys(before, after) {
		oldValue, newValue := before[key], after[key]
		if snapshot.LabelEqual(oldValue, newValue) {
			continue
		}
		changes[spec.DetailKey(key)] = domain.Change{Old: blankToNil(oldValue), New: blankToNil(newValue)}
	}
}

func index(items []domain.AssociationItem, dropBlank bool) map[int64]any {
	out := make(map[int64]any, len(items))
	for _, item := range items {
		if dropBlank && snapshot.Normalize(item.Value) == nil {
			continue
		}
		out[item.Key] = item.Value
	}
	return out
}

func unionKeys(a, b map[int64]any) []int64 {
	keys := make([]int64, 0, len(a)+len(b))
	for k := range a {
		keys = append(keys, k)
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func blankToNil(v any) any {
	if snapshot.Normalize(v) == nil {
		return nil
	}
	return v
}

// Identical reports whether two change sets carry the same keys with pairs
// equal under the comparison Diff applies to each key. Key order is irrelevant.
func Identical(schema *domain.Schema, a, b domain.ChangeSet) bool {
	if len(a) != len(b) {
		return false
	}
	for k, ca := range a {
		cb, ok := b[k]
		if !ok || !samePair(schema, k, ca, cb) {
			return false
		}
	}
	return true
}

// Mismatch lists the keys on which two change sets disagree, sorted.
func Mismatch(schema *domain.Schema, a, b domain.ChangeSet) []string {
	var keys []string
	for k, ca := range a {
		cb, ok := b[k]
		if !ok || !samePair(schema, k, ca, cb) {
			keys = append(keys, k)
		}
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// samePair compares attribute values strictly and association labels
// ignoring trailing newlines.
func samePair(schema *domain.Schema, key string, a, b domain.Change) bool {
	eq := snapshot.LabelEqual
	if schema != nil {
		if _, ok := schema.Field(key); ok {
			eq = snapshot.Equal
		}
	}
	return eq(a.Old, b.Old) && eq(a.New, b.New)
}
