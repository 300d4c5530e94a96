package snapshot

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"kvstore/internal/database"
)

// Reader parses a dump file written by Writer.
type Reader struct {
	path string
}

// NewReader returns a Reader targeting path.
func NewReader(path string) *Reader {
	return &Reader{path: path}
}

// LoadInto parses the file and, for every entry belonging to database
// targetIndex, replays it into db via Add (and SetExpireAtMicros when the
// parsed deadline is still in the future). Per spec §4.3: a missing or
// empty file is not an error; any parse failure halts loading of that
// database and is surfaced to the caller. This is what `select` triggers
// (spec §4.4): it reloads only the newly selected database, leaving every
// other in-memory database exactly as it was.
func (r *Reader) LoadInto(targetIndex int, db *database.Database) error {
	return r.load(func(index int) *database.Database {
		if index == targetIndex {
			return db
		}
		return nil
	})
}

// LoadAll parses the file once and replays every database block into the
// matching entry of dbs. Used at process startup.
func (r *Reader) LoadAll(dbs *[16]*database.Database) error {
	return r.load(func(index int) *database.Database {
		if index < 0 || index >= len(dbs) {
			return nil
		}
		return dbs[index]
	})
}

// load drives the shared grammar walk; dispatch maps a parsed database
// index to the in-memory Database it should be replayed into, or nil to
// skip that block entirely (still parsed, just not applied).
func (r *Reader) load(dispatch func(index int) *database.Database) error {
	file, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("snapshot: open: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("snapshot: stat: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}

	s := &scanner{r: bufio.NewReader(file)}
	if err := s.expectLiteral(header); err != nil {
		return fmt.Errorf("snapshot: bad header: %w", err)
	}

	for {
		done, err := s.atEOFMarker()
		if err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
		if done {
			return nil
		}

		index, err := parseDatabaseHeader(s)
		if err != nil {
			return fmt.Errorf("snapshot: database header: %w", err)
		}
		target := dispatch(index)
		if err := parseDatabaseBody(s, target != nil, target); err != nil {
			return fmt.Errorf("snapshot: database %d body: %w", index, err)
		}
	}
}

func parseDatabaseHeader(s *scanner) (int, error) {
	if err := s.expectLiteral("SD"); err != nil {
		return 0, err
	}
	index, err := s.readDecimal()
	if err != nil {
		return 0, err
	}
	return int(index), nil
}

// parseDatabaseBody consumes every TYPE_BLOCK belonging to one DATABASE
// block. When apply is true, entries are replayed into db.
func parseDatabaseBody(s *scanner, apply bool, db *database.Database) error {
	for {
		isBlock, err := s.peekLiteral("^")
		if err != nil {
			return err
		}
		if !isBlock {
			return nil
		}
		if err := s.expectLiteral("^"); err != nil {
			return err
		}
		tag, err := s.readDecimal()
		if err != nil {
			return err
		}
		if err := parseTypeBlock(s, database.Family(tag), apply, db); err != nil {
			return err
		}
	}
}

func parseTypeBlock(s *scanner, family database.Family, apply bool, db *database.Database) error {
	for {
		isEntry, err := s.peekLiteral("ST")
		if err != nil {
			return err
		}
		if !isEntry {
			return nil
		}
		if err := parseEntry(s, family, apply, db); err != nil {
			return err
		}
	}
}

func parseEntry(s *scanner, family database.Family, apply bool, db *database.Database) error {
	if err := s.expectLiteral("ST"); err != nil {
		return err
	}
	micros, err := s.readDecimal()
	if err != nil {
		return err
	}

	if err := s.expectLiteral("!"); err != nil {
		return err
	}
	keyLen, err := s.readDecimal()
	if err != nil {
		return err
	}
	if err := s.expectLiteral("#"); err != nil {
		return err
	}
	keyBytes, err := s.readExact(int(keyLen))
	if err != nil {
		return err
	}
	key := string(keyBytes)

	switch family {
	case database.FamilyString:
		return parseStringPayload(s, key, micros, apply, db)
	case database.FamilyList:
		return parseListPayload(s, key, micros, apply, db)
	case database.FamilyHash:
		return parseHashPayload(s, key, micros, apply, db)
	case database.FamilySet:
		return parseSetPayload(s, key, micros, apply, db)
	case database.FamilySortedSet:
		return parseZSetPayload(s, key, micros, apply, db)
	}
	return fmt.Errorf("unknown family tag %d", family)
}

func (s *scanner) readLengthPrefixedBytes(delim byte) ([]byte, error) {
	if err := s.expectLiteral("!"); err != nil {
		return nil, err
	}
	n, err := s.readDecimal()
	if err != nil {
		return nil, err
	}
	if err := s.expectLiteral(string(rune(delim))); err != nil {
		return nil, err
	}
	return s.readExact(int(n))
}

func parseStringPayload(s *scanner, key string, micros int64, apply bool, db *database.Database) error {
	value, err := s.readLengthPrefixedBytes('$')
	if err != nil {
		return err
	}
	if apply {
		applyEntry(db, database.FamilyString, key, "", string(value), micros)
	}
	return nil
}

func parseListPayload(s *scanner, key string, micros int64, apply bool, db *database.Database) error {
	if err := s.expectLiteral("!"); err != nil {
		return err
	}
	count, err := s.readDecimal()
	if err != nil {
		return err
	}
	for i := int64(0); i < count; i++ {
		value, err := s.readLengthPrefixedBytes('$')
		if err != nil {
			return err
		}
		if apply {
			db.Add(database.FamilyList, key, string(value), "")
		}
	}
	if apply {
		applyExpireIfFuture(db, database.FamilyList, key, micros)
	}
	return nil
}

func parseHashPayload(s *scanner, key string, micros int64, apply bool, db *database.Database) error {
	if err := s.expectLiteral("!"); err != nil {
		return err
	}
	count, err := s.readDecimal()
	if err != nil {
		return err
	}
	for i := int64(0); i < count; i++ {
		field, err := s.readLengthPrefixedBytes('#')
		if err != nil {
			return err
		}
		value, err := s.readLengthPrefixedBytes('$')
		if err != nil {
			return err
		}
		if apply {
			db.Add(database.FamilyHash, key, string(field), string(value))
		}
	}
	if apply {
		// Spec §9 OQ4: the source sets the *List* family's expiration here
		// by mistake when reloading Hash entries. Fixed: set it on the
		// family actually being reloaded.
		applyExpireIfFuture(db, database.FamilyHash, key, micros)
	}
	return nil
}

func parseSetPayload(s *scanner, key string, micros int64, apply bool, db *database.Database) error {
	if err := s.expectLiteral("!"); err != nil {
		return err
	}
	count, err := s.readDecimal()
	if err != nil {
		return err
	}
	for i := int64(0); i < count; i++ {
		member, err := s.readLengthPrefixedBytes('$')
		if err != nil {
			return err
		}
		if apply {
			db.Add(database.FamilySet, key, string(member), "")
		}
	}
	if apply {
		applyExpireIfFuture(db, database.FamilySet, key, micros)
	}
	return nil
}

func parseZSetPayload(s *scanner, key string, micros int64, apply bool, db *database.Database) error {
	if err := s.expectLiteral("!"); err != nil {
		return err
	}
	count, err := s.readDecimal()
	if err != nil {
		return err
	}
	for i := int64(0); i < count; i++ {
		member, err := s.readLengthPrefixedBytes('#')
		if err != nil {
			return err
		}
		score, err := s.readLengthPrefixedBytes('$')
		if err != nil {
			return err
		}
		if apply {
			db.Add(database.FamilySortedSet, key, string(member), string(score))
		}
	}
	if apply {
		applyExpireIfFuture(db, database.FamilySortedSet, key, micros)
	}
	return nil
}

func applyEntry(db *database.Database, family database.Family, key, fieldOrMember, value string, micros int64) {
	db.Add(family, key, fieldOrMember, value)
	applyExpireIfFuture(db, family, key, micros)
}

func applyExpireIfFuture(db *database.Database, family database.Family, key string, micros int64) {
	if micros == 0 {
		return
	}
	if !isFuture(micros) {
		return
	}
	db.SetExpireAtMicros(family, key, micros)
}

// scanner provides the digit-run tokenizer the grammar needs: decimal
// lengths have no explicit terminator, so a run of ASCII digits is read
// until the next non-digit byte (which is always the start of the next
// literal token).
type scanner struct {
	r *bufio.Reader
}

func (s *scanner) readExact(n int) ([]byte, error) {
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *scanner) expectLiteral(tok string) error {
	buf, err := s.readExact(len(tok))
	if err != nil {
		return err
	}
	if string(buf) != tok {
		return fmt.Errorf("expected %q, got %q", tok, string(buf))
	}
	return nil
}

// peekLiteral reports whether the next len(tok) bytes equal tok, without
// consuming them. EOF while peeking means "no".
func (s *scanner) peekLiteral(tok string) (bool, error) {
	buf, err := s.r.Peek(len(tok))
	if err != nil {
		if err == io.EOF {
			return false, nil
		}
		return false, err
	}
	return string(buf) == tok, nil
}

// atEOFMarker reports whether the file's trailing EOF literal is next,
// consuming it if so. Tolerates the non-conforming placement described in
// spec §9 OQ5 (an EOF emitted after every database rather than once at the
// very end) by treating the first EOF literal encountered as the end of
// parsing.
func (s *scanner) atEOFMarker() (bool, error) {
	ok, err := s.peekLiteral(eof)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return true, s.expectLiteral(eof)
}

func (s *scanner) readDecimal() (int64, error) {
	var digits []byte
	for {
		b, err := s.r.Peek(1)
		if err != nil {
			if err == io.EOF {
				break
			}
			return 0, err
		}
		if b[0] < '0' || b[0] > '9' {
			break
		}
		digits = append(digits, b[0])
		if _, err := s.r.Discard(1); err != nil {
			return 0, err
		}
	}
	if len(digits) == 0 {
		return 0, fmt.Errorf("expected decimal digits")
	}
	return strconv.ParseInt(string(digits), 10, 64)
}

func isFuture(micros int64) bool {
	return micros > time.Now().UnixMicro()
}
