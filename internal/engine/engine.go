// Package engine dispatches textual commands against the currently
// selected database and owns the fixed 16-database keyspace, the snapshot
// file, and the background expiration sampler.
package engine

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"kvstore/internal/database"
	"kvstore/internal/instrumentation"
	"kvstore/internal/snapshot"
	"kvstore/internal/wire"
)

const numDatabases = 16

// snapshotInterval is the minimum time between successful bgsave writes
// (spec §4.3 Save: "at least 1000 seconds have elapsed since the last
// save").
const snapshotInterval = 1000 * time.Second

// commandFunc executes one verb against the currently selected database
// and returns the full textual reply (without the trailing newline the
// wire layer appends).
type commandFunc func(e *Engine, args []string) string

// Engine holds the 16 logical databases and dispatches commands against
// whichever is currently selected.
type Engine struct {
	mu sync.Mutex

	databases    [numDatabases]*database.Database
	currentIndex int

	lastSnapshotTime time.Time
	writer           *snapshot.Writer
	reader           *snapshot.Reader

	instr    instrumentation.Instrumentation
	commands map[string]commandFunc

	stopSampling chan struct{}
}

// New creates an Engine backed by the snapshot file at dumpPath, loads any
// existing snapshot at startup, and registers the command table.
func New(dumpPath string, instr instrumentation.Instrumentation) *Engine {
	if instr == nil {
		instr = instrumentation.NopInstrumentation{}
	}

	e := &Engine{
		writer:       snapshot.NewWriter(dumpPath, instr),
		reader:       snapshot.NewReader(dumpPath),
		instr:        instr,
		stopSampling: make(chan struct{}),
	}
	for i := range e.databases {
		e.databases[i] = database.New()
	}
	// Snapshot-file corruption during load is fatal (spec §7): New panics,
	// aborting startup rather than serving partial state.
	if err := e.reader.LoadAll(&e.databases); err != nil {
		panic(fmt.Sprintf("engine: fatal snapshot load error: %v", err))
	}

	e.commands = map[string]commandFunc{
		"set":      cmdSet,
		"get":      cmdGet,
		"pexpire":  cmdPExpire,
		"expire":   cmdExpire,
		"bgsave":   cmdBgsave,
		"select":   cmdSelect,
		"rpush":    cmdRpush,
		"rpop":     cmdRpop,
		"hset":     cmdHset,
		"hget":     cmdHget,
		"hgetall":  cmdHgetall,
		"sadd":     cmdSadd,
		"smembers": cmdSmembers,
		"zadd":     cmdZadd,
		"zcard":    cmdZcard,
		"zrange":   cmdZrange,
		"zcount":   cmdZcount,
		"zgetall":  cmdZgetall,
	}
	return e
}

// RunPeriodicSampling launches the background ticker that drives each
// database's periodic expiration sweep (spec §4.2). It acquires the same
// mutex Dispatch does, so sampling and commands never interleave mid-step
// (spec §5: "periodic sampling runs between commands, never mid-command").
func (e *Engine) RunPeriodicSampling() {
	ticker := time.NewTicker(database.SampleInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.mu.Lock()
				for _, db := range e.databases {
					before := db.Size()
					db.RunPeriodicSampling()
					if after := db.Size(); after < before {
						// KeyExpired is reported per sweep, not per key:
						// the database doesn't expose which keys it
						// deleted, only how many disappeared.
						e.instr.KeyExpired("sweep")
					}
				}
				e.mu.Unlock()
			case <-e.stopSampling:
				return
			}
		}
	}()
}

// Stop halts the background sampler.
func (e *Engine) Stop() {
	close(e.stopSampling)
}

// Dispatch parses one request line, executes it against the current
// database, and returns the full reply text (without trailing newline).
func (e *Engine) Dispatch(line string) string {
	verb, args := wire.Tokenize(line)
	if verb == "" {
		return ioError("Parameter error")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	handler, ok := e.commands[verb]
	if !ok {
		return notFound("command")
	}

	start := time.Now()
	reply := handler(e, args)
	e.instr.CommandProcessed(verb)
	e.instr.CommandDuration(verb, time.Since(start))
	return reply
}

func (e *Engine) current() *database.Database {
	return e.databases[e.currentIndex]
}

func ok() string                 { return "OK" }
func ioError(msg string) string  { return "IO Error: " + msg }
func notFound(msg string) string { return "NotFound: " + msg }
func paramError() string         { return ioError("Parameter error") }

var familyOrder = [...]database.Family{
	database.FamilyString,
	database.FamilyList,
	database.FamilyHash,
	database.FamilySet,
	database.FamilySortedSet,
}

// resolveExpireFamily tries each family in the fixed order the source
// does (String→List→Hash→Set→SortedSet) and sets the expiration on the
// first one that contains key.
func resolveExpireFamily(db *database.Database, key string, ttl time.Duration) bool {
	for _, family := range familyOrder {
		if db.Contains(family, key) {
			return db.SetExpire(family, key, ttl)
		}
	}
	return false
}

func cmdSet(e *Engine, args []string) string {
	if len(args) != 2 {
		return paramError()
	}
	db := e.current()
	if db.Add(database.FamilyString, args[0], "", args[1]) {
		return ok()
	}
	return ioError("set error")
}

func cmdGet(e *Engine, args []string) string {
	if len(args) != 1 {
		return paramError()
	}
	v, found := e.current().Get(database.FamilyString, args[0])
	if !found {
		return notFound("Empty Content")
	}
	return v
}

func cmdPExpire(e *Engine, args []string) string {
	if len(args) != 2 {
		return paramError()
	}
	ms, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return paramError()
	}
	ttl := time.Duration(ms * float64(time.Millisecond))
	if resolveExpireFamily(e.current(), args[0], ttl) {
		return ok()
	}
	return ioError("pExpire error")
}

func cmdExpire(e *Engine, args []string) string {
	if len(args) != 2 {
		return paramError()
	}
	seconds, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return paramError()
	}
	ttl := time.Duration(seconds * float64(time.Second))
	if resolveExpireFamily(e.current(), args[0], ttl) {
		return ok()
	}
	return ioError("expire error")
}

func cmdBgsave(e *Engine, args []string) string {
	if len(args) != 0 {
		return paramError()
	}
	if time.Since(e.lastSnapshotTime) < snapshotInterval {
		return ioError("bgsave error")
	}
	e.writer.SaveInBackground(e.databases)
	e.lastSnapshotTime = time.Now()
	return ok()
}

func cmdSelect(e *Engine, args []string) string {
	if len(args) != 1 {
		return paramError()
	}
	idx, err := strconv.Atoi(args[0])
	if err != nil {
		return paramError()
	}
	target := idx - 1
	if target < 0 || target >= numDatabases {
		return ioError("select error")
	}
	e.currentIndex = target
	// Per spec §9 OQ2 / source behavior: this reloads the selected
	// database's keys from the snapshot file on top of whatever is
	// already in memory — it does not clear the database first, so this
	// is a merge, not a replace. Preserved as-is; see DESIGN.md.
	if err := e.reader.LoadInto(target, e.databases[target]); err != nil {
		return ioError("select error")
	}
	return ok()
}

func cmdRpush(e *Engine, args []string) string {
	if len(args) < 2 {
		return paramError()
	}
	db := e.current()
	key := args[0]
	success := false
	for _, v := range args[1:] {
		success = db.Add(database.FamilyList, key, v, "")
	}
	if success {
		return ok()
	}
	return ioError("rpush error")
}

func cmdRpop(e *Engine, args []string) string {
	if len(args) != 1 {
		return paramError()
	}
	v, found := e.current().RPop(args[0])
	if !found {
		return ioError("rpop error")
	}
	return v
}

func cmdHset(e *Engine, args []string) string {
	if len(args) != 3 {
		return paramError()
	}
	db := e.current()
	if db.Add(database.FamilyHash, args[0], args[1], args[2]) {
		return ok()
	}
	return ioError("hset error")
}

func cmdHget(e *Engine, args []string) string {
	if len(args) != 2 {
		return paramError()
	}
	v, found := e.current().GetField(args[0], args[1])
	if !found {
		return notFound("Empty Content")
	}
	return v
}

func cmdHgetall(e *Engine, args []string) string {
	if len(args) != 1 {
		return paramError()
	}
	v, found := e.current().Get(database.FamilyHash, args[0])
	if !found {
		return ioError("Empty Content")
	}
	return v
}

func cmdSadd(e *Engine, args []string) string {
	if len(args) != 2 {
		return paramError()
	}
	db := e.current()
	if db.Add(database.FamilySet, args[0], args[1], "") {
		return ok()
	}
	return ioError("sadd error")
}

func cmdSmembers(e *Engine, args []string) string {
	if len(args) != 1 {
		return paramError()
	}
	v, found := e.current().Get(database.FamilySet, args[0])
	if !found {
		return notFound("Empty Content")
	}
	return v
}

func cmdZadd(e *Engine, args []string) string {
	if len(args) != 3 {
		return paramError()
	}
	db := e.current()
	if db.Add(database.FamilySortedSet, args[0], args[1], args[2]) {
		return ok()
	}
	return ioError("zadd error")
}

func cmdZcard(e *Engine, args []string) string {
	if len(args) != 1 {
		return paramError()
	}
	card, found := e.current().ZCard(args[0])
	if !found {
		return notFound("key")
	}
	return strconv.Itoa(card)
}

func cmdZrange(e *Engine, args []string) string {
	if len(args) != 3 {
		return paramError()
	}
	lo, err1 := strconv.ParseFloat(args[1], 64)
	hi, err2 := strconv.ParseFloat(args[2], 64)
	if err1 != nil || err2 != nil {
		return paramError()
	}
	v, found := e.current().ZRange(args[0], lo, hi)
	if !found {
		return notFound("Empty Content")
	}
	return v
}

func cmdZcount(e *Engine, args []string) string {
	if len(args) != 3 {
		return paramError()
	}
	lo, err1 := strconv.ParseFloat(args[1], 64)
	hi, err2 := strconv.ParseFloat(args[2], 64)
	if err1 != nil || err2 != nil {
		return paramError()
	}
	count, found := e.current().ZCount(args[0], lo, hi)
	if !found {
		return notFound("key")
	}
	return "(count)" + strconv.Itoa(count)
}

func cmdZgetall(e *Engine, args []string) string {
	if len(args) != 1 {
		return paramError()
	}
	v, found := e.current().ZRange(args[0], -maxScore, maxScore)
	if !found {
		return notFound("Empty Content")
	}
	return v
}

const maxScore = 1.7976931348623157e+308
