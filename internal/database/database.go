// Package database implements one logical keyspace: five typed value
// families, each with its own expiration dictionary, lazy deletion on
// access, and periodic sampling of expired keys.
package database

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tsenart/tb"

	"kvstore/internal/skiplist"
	"kvstore/internal/store"
)

// Family selects one of the five value shapes spec §3.2 defines.
type Family int

// Family tags match the snapshot codec's family tags (spec §4.3) exactly,
// so the wire format and in-memory selector never need a translation table.
const (
	FamilyString Family = iota
	FamilyList
	FamilyHash
	FamilySet
	FamilySortedSet
)

// AllFamilies lists every family in the fixed order the periodic sampler
// walks them (spec §4.2).
var AllFamilies = [...]Family{FamilyString, FamilyList, FamilyHash, FamilySet, FamilySortedSet}

// ExpirationPolicy makes the deletion strategy an explicit, exhaustive
// configuration value rather than a bitmask (spec §9 redesign note:
// "multiple competing deletion policies with a bitmask").
type ExpirationPolicy struct {
	Lazy     bool // delete on access if the deadline has passed
	Periodic bool // sample families on a timer and delete what has expired
	// TimerAtSet would fire a per-key timer at the deadline. Spec §4.2
	// calls this a possible optional mode, not a requirement; not
	// implemented here — no production path sets it.
	TimerAtSet bool
}

// DefaultExpirationPolicy enables the two required mechanisms.
func DefaultExpirationPolicy() ExpirationPolicy {
	return ExpirationPolicy{Lazy: true, Periodic: true}
}

const (
	// SampleSize is K in spec §4.2: up to this many keys are sampled per
	// periodic pass, proportionally across the five families.
	SampleSize = 20
	// SampleInterval is the default periodic-sampling period.
	SampleInterval = 3 * time.Second
)

// Database is one of the engine's 16 logical keyspaces.
type Database struct {
	policy ExpirationPolicy

	strings       map[string]string
	stringExpires map[string]time.Time

	lists       map[string]*store.List
	listExpires map[string]time.Time

	hashes       map[string]*store.Hash
	hashExpires  map[string]time.Time

	sets       map[string]*store.Set
	setExpires map[string]time.Time

	zsets       map[string]*store.SortedSet
	zsetExpires map[string]time.Time

	// refireLimiter caps the immediate periodic-sampler re-fires (spec
	// §4.2: ">K/2 deletions => run again immediately"), as a safety valve on
	// top of the spec's own termination argument (each pass either shrinks
	// the expired set or fails the threshold). It holds 8 tokens and is
	// created with a fill interval of -1, so it is never refilled: at most 8
	// immediate re-fires happen over the Database's lifetime, after which
	// each RunPeriodicSampling call runs a single pass. Modeled on
	// soundcloud-roshi's ratepolice/tb throttle.
	refireLimiter *tb.Bucket
}

// New creates an empty Database using the default expiration policy.
func New() *Database {
	return NewWithPolicy(DefaultExpirationPolicy())
}

// NewWithPolicy creates an empty Database with an explicit policy.
func NewWithPolicy(policy ExpirationPolicy) *Database {
	return &Database{
		policy:        policy,
		strings:       make(map[string]string),
		stringExpires: make(map[string]time.Time),
		lists:         make(map[string]*store.List),
		listExpires:   make(map[string]time.Time),
		hashes:        make(map[string]*store.Hash),
		hashExpires:   make(map[string]time.Time),
		sets:          make(map[string]*store.Set),
		setExpires:    make(map[string]time.Time),
		zsets:         make(map[string]*store.SortedSet),
		zsetExpires:   make(map[string]time.Time),
		refireLimiter: tb.NewBucket(8, -1),
	}
}

// Add creates or mutates key within family, per spec §4.2's add contract.
// For String, value is the literal value (fieldOrMember is ignored). For
// List, fieldOrMember is the element to append and for Set the member to
// insert (value is ignored for both). For Hash, fieldOrMember is the field
// and value its value. For SortedSet, fieldOrMember is the member and value
// its score as decimal text.
func (db *Database) Add(family Family, key, fieldOrMember, value string) bool {
	switch family {
	case FamilyString:
		db.strings[key] = value
		// spec §6.2 `set`: overwriting a String drops any prior expiration.
		delete(db.stringExpires, key)
		return true

	case FamilyList:
		l, ok := db.lists[key]
		if !ok {
			l = store.NewList()
			db.lists[key] = l
		}
		l.PushBack(fieldOrMember)
		return true

	case FamilyHash:
		h, ok := db.hashes[key]
		if !ok {
			h = store.NewHash()
			db.hashes[key] = h
		}
		h.Set(fieldOrMember, value)
		return true

	case FamilySet:
		s, ok := db.sets[key]
		if !ok {
			s = store.NewSet()
			db.sets[key] = s
		}
		s.Add(fieldOrMember)
		return true

	case FamilySortedSet:
		score, err := parseFloat(value)
		if err != nil {
			return false
		}
		z, ok := db.zsets[key]
		if !ok {
			z = store.NewSortedSet()
			db.zsets[key] = z
		}
		z.Add(fieldOrMember, score)
		return true
	}
	return false
}

// Del removes key from family and its expiration map. Returns whether a
// key was present.
//
// Reproduces spec §9 OQ3 faithfully: the source's DelKey has no SortedSet
// branch at all, so deleting a SortedSet key through this path is a no-op
// on the data — but the original function falls through to an unconditional
// success return regardless of which (or whether any) branch matched, so
// callers are told the key was removed even though it was not.
func (db *Database) Del(family Family, key string) bool {
	switch family {
	case FamilyString:
		if _, ok := db.strings[key]; !ok {
			return false
		}
		delete(db.strings, key)
		delete(db.stringExpires, key)
		return true

	case FamilyList:
		if _, ok := db.lists[key]; !ok {
			return false
		}
		delete(db.lists, key)
		delete(db.listExpires, key)
		return true

	case FamilyHash:
		if _, ok := db.hashes[key]; !ok {
			return false
		}
		delete(db.hashes, key)
		delete(db.hashExpires, key)
		return true

	case FamilySet:
		if _, ok := db.sets[key]; !ok {
			return false
		}
		delete(db.sets, key)
		delete(db.setExpires, key)
		return true

	case FamilySortedSet:
		return true
	}
	return true
}

// applyLazy deletes key from family if it is expired, per the lazy
// deletion policy.
func (db *Database) applyLazy(family Family, key string) {
	if !db.policy.Lazy {
		return
	}
	if db.isExpiredNoLazy(family, key) {
		if family == FamilySortedSet {
			// Del has no SortedSet branch; remove the expired key directly.
			delete(db.zsets, key)
			delete(db.zsetExpires, key)
			return
		}
		db.Del(family, key)
	}
}

// Get returns the family-specific rendering of key (spec §4.2 "get
// shapes") and whether it was found. Lazy deletion is applied first.
func (db *Database) Get(family Family, key string) (string, bool) {
	db.applyLazy(family, key)

	switch family {
	case FamilyString:
		v, ok := db.strings[key]
		return v, ok

	case FamilyHash:
		h, ok := db.hashes[key]
		if !ok {
			return "", false
		}
		out := ""
		for _, field := range h.SortedFields() {
			value, _ := h.Get(field)
			out += field + ":" + value + " "
		}
		return out, true

	case FamilySet:
		s, ok := db.sets[key]
		if !ok {
			return "", false
		}
		out := ""
		for _, m := range s.Members() {
			out += m + " "
		}
		return out, true

	case FamilySortedSet:
		return db.getSortedSet(key)

	case FamilyList:
		l, ok := db.lists[key]
		if !ok {
			return "", false
		}
		out := ""
		for _, v := range l.ToSlice() {
			out += v + " "
		}
		return out, true
	}
	return "", false
}

// GetField reads a single Hash field (used by `hget`), applying lazy
// expiry first.
func (db *Database) GetField(key, field string) (string, bool) {
	db.applyLazy(FamilyHash, key)
	h, ok := db.hashes[key]
	if !ok {
		return "", false
	}
	return h.Get(field)
}

// getSortedSet renders a SortedSet per spec §4.2: members ascending by
// score, "member:score" newline-separated. The key argument may carry an
// inline score range "<key>:<lo>@<hi>"; absent a range, [-MaxFloat, MaxFloat]
// is used.
func (db *Database) getSortedSet(key string) (string, bool) {
	realKey, r := parseZSetKeyRange(key)
	db.applyLazy(FamilySortedSet, realKey)
	z, ok := db.zsets[realKey]
	if !ok {
		return "", false
	}
	members := z.Range(r)
	out := ""
	for i, m := range members {
		if i > 0 {
			out += "\n"
		}
		out += m.Member + ":" + formatFloat(m.Score)
	}
	return out, true
}

// ZCard returns the size of the SortedSet at key (applies lazy expiry).
func (db *Database) ZCard(key string) (int, bool) {
	db.applyLazy(FamilySortedSet, key)
	z, ok := db.zsets[key]
	if !ok {
		return 0, false
	}
	return z.Len(), true
}

// ZCount returns the count of members in [lo, hi] for the SortedSet at key.
func (db *Database) ZCount(key string, lo, hi float64) (int, bool) {
	db.applyLazy(FamilySortedSet, key)
	z, ok := db.zsets[key]
	if !ok {
		return 0, false
	}
	return z.Count(skiplist.Range{Min: lo, Max: hi}), true
}

// ZRange returns members with lo <= score <= hi, ascending, rendered
// "member:score" newline-separated.
func (db *Database) ZRange(key string, lo, hi float64) (string, bool) {
	db.applyLazy(FamilySortedSet, key)
	z, ok := db.zsets[key]
	if !ok {
		return "", false
	}
	members := z.Range(skiplist.Range{Min: lo, Max: hi})
	out := ""
	for i, m := range members {
		if i > 0 {
			out += "\n"
		}
		out += m.Member + ":" + formatFloat(m.Score)
	}
	return out, true
}

// SetExpire sets key's deadline in family to now+ttl. Returns whether the
// key existed.
func (db *Database) SetExpire(family Family, key string, ttl time.Duration) bool {
	deadline := time.Now().Add(ttl)
	switch family {
	case FamilyString:
		if _, ok := db.strings[key]; !ok {
			return false
		}
		db.stringExpires[key] = deadline
	case FamilyList:
		if _, ok := db.lists[key]; !ok {
			return false
		}
		db.listExpires[key] = deadline
	case FamilyHash:
		if _, ok := db.hashes[key]; !ok {
			return false
		}
		db.hashExpires[key] = deadline
	case FamilySet:
		if _, ok := db.sets[key]; !ok {
			return false
		}
		db.setExpires[key] = deadline
	case FamilySortedSet:
		if _, ok := db.zsets[key]; !ok {
			return false
		}
		db.zsetExpires[key] = deadline
	default:
		return false
	}
	return true
}

// IsExpired reports whether key's deadline in family is set and strictly
// in the past.
func (db *Database) IsExpired(family Family, key string) bool {
	return db.isExpiredNoLazy(family, key)
}

func (db *Database) isExpiredNoLazy(family Family, key string) bool {
	var deadline time.Time
	var ok bool
	switch family {
	case FamilyString:
		deadline, ok = db.stringExpires[key]
	case FamilyList:
		deadline, ok = db.listExpires[key]
	case FamilyHash:
		deadline, ok = db.hashExpires[key]
	case FamilySet:
		deadline, ok = db.setExpires[key]
	case FamilySortedSet:
		deadline, ok = db.zsetExpires[key]
	}
	if !ok {
		return false
	}
	return time.Now().After(deadline)
}

// Contains reports whether key exists in family, without applying lazy
// deletion (used to resolve which family a pexpire/expire targets).
func (db *Database) Contains(family Family, key string) bool {
	switch family {
	case FamilyString:
		_, ok := db.strings[key]
		return ok
	case FamilyList:
		_, ok := db.lists[key]
		return ok
	case FamilyHash:
		_, ok := db.hashes[key]
		return ok
	case FamilySet:
		_, ok := db.sets[key]
		return ok
	case FamilySortedSet:
		_, ok := db.zsets[key]
		return ok
	}
	return false
}

// RPop removes and returns the tail of the List at key. ok is false for a
// missing key or an empty List.
func (db *Database) RPop(key string) (string, bool) {
	db.applyLazy(FamilyList, key)
	l, ok := db.lists[key]
	if !ok {
		return "", false
	}
	return l.PopBack()
}

// SizeOf returns the number of keys in family.
func (db *Database) SizeOf(family Family) int {
	switch family {
	case FamilyString:
		return len(db.strings)
	case FamilyList:
		return len(db.lists)
	case FamilyHash:
		return len(db.hashes)
	case FamilySet:
		return len(db.sets)
	case FamilySortedSet:
		return len(db.zsets)
	}
	return 0
}

// Size returns the total number of keys across every family.
func (db *Database) Size() int {
	total := 0
	for _, f := range AllFamilies {
		total += db.SizeOf(f)
	}
	return total
}

// SampleExpirations runs one periodic-sampling pass (spec §4.2): up to K
// keys are sampled proportionally across the five families; any expired
// keys found are deleted. It returns the number deleted. Callers re-invoke
// immediately when the return value exceeds K/2, bounded by refireLimiter.
func (db *Database) SampleExpirations(k int) int {
	if !db.policy.Periodic {
		return 0
	}
	total := db.Size()
	if total == 0 {
		return 0
	}

	deleted := 0
	for _, family := range AllFamilies {
		share := k * db.SizeOf(family) / total
		deleted += db.sampleFamily(family, share)
	}
	return deleted
}

func (db *Database) sampleFamily(family Family, count int) int {
	if count <= 0 {
		return 0
	}
	deleted := 0
	examined := 0
	for _, key := range db.keysOf(family) {
		if examined >= count {
			break
		}
		examined++
		if db.isExpiredNoLazy(family, key) {
			if family == FamilySortedSet {
				delete(db.zsets, key)
				delete(db.zsetExpires, key)
			} else {
				db.Del(family, key)
			}
			deleted++
		}
	}
	return deleted
}

func (db *Database) keysOf(family Family) []string {
	var keys []string
	switch family {
	case FamilyString:
		keys = make([]string, 0, len(db.strings))
		for k := range db.strings {
			keys = append(keys, k)
		}
	case FamilyList:
		keys = make([]string, 0, len(db.lists))
		for k := range db.lists {
			keys = append(keys, k)
		}
	case FamilyHash:
		keys = make([]string, 0, len(db.hashes))
		for k := range db.hashes {
			keys = append(keys, k)
		}
	case FamilySet:
		keys = make([]string, 0, len(db.sets))
		for k := range db.sets {
			keys = append(keys, k)
		}
	case FamilySortedSet:
		keys = make([]string, 0, len(db.zsets))
		for k := range db.zsets {
			keys = append(keys, k)
		}
	}
	return keys
}

// RunPeriodicSampling drives spec §4.2's re-fire rule: if more than K/2
// deletions occurred, sample again immediately, as long as refireLimiter
// still has a token (it is never refilled; see the field comment).
func (db *Database) RunPeriodicSampling() {
	for {
		deleted := db.SampleExpirations(SampleSize)
		if deleted <= SampleSize/2 {
			return
		}
		if db.refireLimiter.Take(1) == 0 {
			return
		}
	}
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

// parseZSetKeyRange splits a `get` argument for the SortedSet family into
// its real key and an optional inline score range "<key>:<lo>@<hi>" (spec
// §4.2). Absent a range suffix, the widest possible range is returned.
func parseZSetKeyRange(raw string) (string, skiplist.Range) {
	full := skiplist.Range{Min: -maxFloat, Max: maxFloat}

	idx := strings.LastIndex(raw, ":")
	if idx < 0 {
		return raw, full
	}
	rangePart := raw[idx+1:]
	at := strings.Index(rangePart, "@")
	if at < 0 {
		return raw, full
	}
	lo, err1 := strconv.ParseFloat(rangePart[:at], 64)
	hi, err2 := strconv.ParseFloat(rangePart[at+1:], 64)
	if err1 != nil || err2 != nil {
		return raw, full
	}
	return raw[:idx], skiplist.Range{Min: lo, Max: hi}
}

// Snapshot-facing accessors below let internal/snapshot walk every family
// without reaching into unexported fields directly from another package —
// see snapshot.go for how these are used.

// Entry pairs a key with its optional expiration deadline (zero value means
// no expiration).
type Entry struct {
	Key     string
	Expires time.Time
}

// StringEntries returns every String key with its value; expirations are
// returned separately by StringExpires.
func (db *Database) StringEntries() map[string]string {
	return db.strings
}

// StringExpires returns the String family's expiration map.
func (db *Database) StringExpires() map[string]time.Time { return db.stringExpires }

// ListEntries returns every List key and its contents.
func (db *Database) ListEntries() map[string]*store.List { return db.lists }

// ListExpires returns the List family's expiration map.
func (db *Database) ListExpires() map[string]time.Time { return db.listExpires }

// HashEntries returns every Hash key and its fields.
func (db *Database) HashEntries() map[string]*store.Hash { return db.hashes }

// HashExpires returns the Hash family's expiration map.
func (db *Database) HashExpires() map[string]time.Time { return db.hashExpires }

// SetEntries returns every Set key and its members.
func (db *Database) SetEntries() map[string]*store.Set { return db.sets }

// SetExpires returns the Set family's expiration map.
func (db *Database) SetExpires() map[string]time.Time { return db.setExpires }

// SortedSetEntries returns every SortedSet key and its members.
func (db *Database) SortedSetEntries() map[string]*store.SortedSet { return db.zsets }

// SortedSetExpires returns the SortedSet family's expiration map.
func (db *Database) SortedSetExpires() map[string]time.Time { return db.zsetExpires }

// Reset clears every family. Nothing in this repository calls it: neither
// the startup load nor `select` clears a database first, so a reload merges
// into the existing maps (spec §9 OQ2; see Reader.LoadInto in
// internal/snapshot).
func (db *Database) Reset() {
	db.strings = make(map[string]string)
	db.stringExpires = make(map[string]time.Time)
	db.lists = make(map[string]*store.List)
	db.listExpires = make(map[string]time.Time)
	db.hashes = make(map[string]*store.Hash)
	db.hashExpires = make(map[string]time.Time)
	db.sets = make(map[string]*store.Set)
	db.setExpires = make(map[string]time.Time)
	db.zsets = make(map[string]*store.SortedSet)
	db.zsetExpires = make(map[string]time.Time)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

const maxFloat = math.MaxFloat64

// Clone returns an independent deep copy, used to take the point-in-time
// view a background snapshot writer serializes from (spec §5: the writer
// must observe a consistent view without blocking the main request path).
func (db *Database) Clone() *Database {
	clone := NewWithPolicy(db.policy)

	for k, v := range db.strings {
		clone.strings[k] = v
	}
	for k, v := range db.stringExpires {
		clone.stringExpires[k] = v
	}
	for k, v := range db.lists {
		clone.lists[k] = v.Clone()
	}
	for k, v := range db.listExpires {
		clone.listExpires[k] = v
	}
	for k, v := range db.hashes {
		clone.hashes[k] = v.Clone()
	}
	for k, v := range db.hashExpires {
		clone.hashExpires[k] = v
	}
	for k, v := range db.sets {
		clone.sets[k] = v.Clone()
	}
	for k, v := range db.setExpires {
		clone.setExpires[k] = v
	}
	for k, v := range db.zsets {
		clone.zsets[k] = v.Clone()
	}
	for k, v := range db.zsetExpires {
		clone.zsetExpires[k] = v
	}
	return clone
}

// MicrosecondDeadline returns the absolute deadline for key in family as
// microseconds since the Unix epoch, and whether one is set. Used by the
// snapshot codec's `ST` field (spec §4.3).
func (db *Database) MicrosecondDeadline(family Family, key string) (int64, bool) {
	var deadline time.Time
	var ok bool
	switch family {
	case FamilyString:
		deadline, ok = db.stringExpires[key]
	case FamilyList:
		deadline, ok = db.listExpires[key]
	case FamilyHash:
		deadline, ok = db.hashExpires[key]
	case FamilySet:
		deadline, ok = db.setExpires[key]
	case FamilySortedSet:
		deadline, ok = db.zsetExpires[key]
	}
	if !ok {
		return 0, false
	}
	return deadline.UnixMicro(), true
}

// SetExpireAtMicros installs an absolute deadline (microseconds since the
// Unix epoch) on key within family, as the snapshot loader does. A zero
// value means "no expiration" and is a no-op.
func (db *Database) SetExpireAtMicros(family Family, key string, micros int64) {
	if micros == 0 {
		return
	}
	deadline := time.UnixMicro(micros)
	switch family {
	case FamilyString:
		db.stringExpires[key] = deadline
	case FamilyList:
		db.listExpires[key] = deadline
	case FamilyHash:
		db.hashExpires[key] = deadline
	case FamilySet:
		db.setExpires[key] = deadline
	case FamilySortedSet:
		db.zsetExpires[key] = deadline
	}
}
