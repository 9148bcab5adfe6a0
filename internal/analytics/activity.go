package analytics

import (
	"cmp"
	"slices"
	"sort"
	"time"

	"pocketsync/internal/events"
	"pocketsync/internal/model"
	"pocketsync/internal/store/journal"
)

// HourlyActivity counts journaled events per hour and kind.
func HourlyActivity(evs []journal.Event) map[time.Time]map[events.Kind]int {
	buckets := make(map[time.Time]map[events.Kind]int)
	for _, e := range evs {
		key := e.TS.UTC().Truncate(time.Hour)
		if _, ok := buckets[key]; !ok {
			buckets[key] = make(map[events.Kind]int)
		}
		buckets[key][e.Kind]++
	}
	return buckets
}

// SortedBucketKeys returns sorted hour keys.
func SortedBucketKeys(m map[time.Time]map[events.Kind]int) []time.Time {
	keys := make([]time.Time, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })
	return keys
}

// MostReacted returns up to n messages with the longest kind list, newest
// first among ties.
func MostReacted(msgs []model.Message, kind model.ReactionKind, n int) []model.Message {
	out := slices.Clone(msgs)
	slices.SortStableFunc(out, func(a, b model.Message) int {
		if c := cmp.Compare(len(b.Reactions.List(kind)), len(a.Reactions.List(kind))); c != 0 {
			return c
		}
		return b.Timestamps.Created.Compare(a.Timestamps.Created)
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
