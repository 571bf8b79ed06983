package betting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sidestake/sidestake/internal/domain"
)

// memDB is an in-memory backend for service tests. It implements the entity
// stores plus domain.TxRunner; mutual exclusion comes from the runner, which
// holds one lock across each callback the way the row lock serializes
// transactions in Postgres. Rollback is snapshot/restore.
type memDB struct {
	mu sync.Mutex

	identByToken map[string]domain.Identity
	identByID    map[string]domain.Identity
	bets         map[string]domain.Bet // by id
	codes        map[string]string     // code -> bet id
	parts        []domain.Participation
	entries      []domain.SettlementEntry

	identSeq int
}

func newMemDB() *memDB {
	return &memDB{
		identByToken: make(map[string]domain.Identity),
		identByID:    make(map[string]domain.Identity),
		bets:         make(map[string]domain.Bet),
		codes:        make(map[string]string),
	}
}

func (db *memDB) stores() domain.Stores {
	return domain.Stores{
		Identities:     (*memIdentityStore)(db),
		Bets:           (*memBetStore)(db),
		Participations: (*memParticipationStore)(db),
		Settlements:    (*memSettlementStore)(db),
	}
}

type memSnapshot struct {
	identByToken map[string]domain.Identity
	identByID    map[string]domain.Identity
	bets         map[string]domain.Bet
	codes        map[string]string
	parts        []domain.Participation
	entries      []domain.SettlementEntry
	identSeq     int
}

func (db *memDB) snapshot() memSnapshot {
	snap := memSnapshot{
		identByToken: make(map[string]domain.Identity, len(db.identByToken)),
		identByID:    make(map[string]domain.Identity, len(db.identByID)),
		bets:         make(map[string]domain.Bet, len(db.bets)),
		codes:        make(map[string]string, len(db.codes)),
		parts:        append([]domain.Participation(nil), db.parts...),
		entries:      append([]domain.SettlementEntry(nil), db.entries...),
		identSeq:     db.identSeq,
	}
	for k, v := range db.identByToken {
		snap.identByToken[k] = v
	}
	for k, v := range db.identByID {
		snap.identByID[k] = v
	}
	for k, v := range db.bets {
		snap.bets[k] = v
	}
	for k, v := range db.codes {
		snap.codes[k] = v
	}
	return snap
}

func (db *memDB) restore(snap memSnapshot) {
	db.identByToken = snap.identByToken
	db.identByID = snap.identByID
	db.bets = snap.bets
	db.codes = snap.codes
	db.parts = snap.parts
	db.entries = snap.entries
	db.identSeq = snap.identSeq
}

func (db *memDB) Within(ctx context.Context, fn func(ctx context.Context, s domain.Stores) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	snap := db.snapshot()
	if err := fn(ctx, db.stores()); err != nil {
		db.restore(snap)
		return err
	}
	return nil
}

func (db *memDB) WithinBet(ctx context.Context, code string, fn func(ctx context.Context, s domain.Stores) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.codes[code]; !ok {
		return domain.ErrNotFound
	}
	snap := db.snapshot()
	if err := fn(ctx, db.stores()); err != nil {
		db.restore(snap)
		return err
	}
	return nil
}

var _ domain.TxRunner = (*memDB)(nil)

// raceDB fails the first few bet inserts with ErrAlreadyExists to simulate a
// share code landing in another transaction between the pre-check and the
// insert. Each failure rolls the attempt back, like a real unique violation.
type raceDB struct {
	*memDB
	failures int
}

func (db *raceDB) Within(ctx context.Context, fn func(ctx context.Context, s domain.Stores) error) error {
	return db.memDB.Within(ctx, func(ctx context.Context, st domain.Stores) error {
		st.Bets = &racingBetStore{BetStore: st.Bets, db: db}
		return fn(ctx, st)
	})
}

type racingBetStore struct {
	domain.BetStore
	db *raceDB
}

func (s *racingBetStore) Create(ctx context.Context, bet domain.Bet) error {
	if s.db.failures > 0 {
		s.db.failures--
		return domain.ErrAlreadyExists
	}
	return s.BetStore.Create(ctx, bet)
}

var _ domain.TxRunner = (*raceDB)(nil)

type memIdentityStore memDB

func (s *memIdentityStore) Upsert(ctx context.Context, token, displayName string) (domain.Identity, error) {
	db := (*memDB)(s)
	if ident, ok := db.identByToken[token]; ok {
		if ident.DisplayName != displayName {
			ident.DisplayName = displayName
			ident.UpdatedAt = time.Now().UTC()
			db.identByToken[token] = ident
			db.identByID[ident.ID] = ident
		}
		return ident, nil
	}

	db.identSeq++
	ident := domain.Identity{
		ID:          fmt.Sprintf("ident-%d", db.identSeq),
		Token:       token,
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	db.identByToken[token] = ident
	db.identByID[ident.ID] = ident
	return ident, nil
}

func (s *memIdentityStore) GetByToken(ctx context.Context, token string) (domain.Identity, error) {
	db := (*memDB)(s)
	ident, ok := db.identByToken[token]
	if !ok {
		return domain.Identity{}, domain.ErrNotFound
	}
	return ident, nil
}

func (s *memIdentityStore) GetByIDs(ctx context.Context, ids []string) (map[string]domain.Identity, error) {
	db := (*memDB)(s)
	out := make(map[string]domain.Identity, len(ids))
	for _, id := range ids {
		if ident, ok := db.identByID[id]; ok {
			out[id] = ident
		}
	}
	return out, nil
}

type memBetStore memDB

func (s *memBetStore) Create(ctx context.Context, bet domain.Bet) error {
	db := (*memDB)(s)
	if _, ok := db.codes[bet.Code]; ok {
		return domain.ErrAlreadyExists
	}
	db.bets[bet.ID] = bet
	db.codes[bet.Code] = bet.ID
	return nil
}

func (s *memBetStore) GetByCode(ctx context.Context, code string) (domain.Bet, error) {
	db := (*memDB)(s)
	id, ok := db.codes[code]
	if !ok {
		return domain.Bet{}, domain.ErrNotFound
	}
	return db.bets[id], nil
}

func (s *memBetStore) UpdateStatus(ctx context.Context, id string, status domain.BetStatus) error {
	db := (*memDB)(s)
	bet, ok := db.bets[id]
	if !ok || bet.Status == domain.StatusResolved {
		return domain.ErrNotFound
	}
	bet.Status = status
	bet.UpdatedAt = time.Now().UTC()
	db.bets[id] = bet
	return nil
}

func (s *memBetStore) Resolve(ctx context.Context, id, winnerID string, at time.Time) error {
	db := (*memDB)(s)
	bet, ok := db.bets[id]
	if !ok {
		return domain.ErrNotFound
	}
	if bet.Status == domain.StatusResolved {
		return domain.ErrAlreadyResolved
	}
	bet.Status = domain.StatusResolved
	bet.WinnerID = &winnerID
	bet.ResolvedAt = &at
	bet.UpdatedAt = at
	db.bets[id] = bet
	return nil
}

type memParticipationStore memDB

func (s *memParticipationStore) Create(ctx context.Context, p domain.Participation) error {
	db := (*memDB)(s)
	for _, existing := range db.parts {
		if existing.BetID == p.BetID && existing.IdentityID == p.IdentityID {
			return domain.ErrAlreadyExists
		}
	}
	db.parts = append(db.parts, p)
	return nil
}

func (s *memParticipationStore) UpdateDecision(ctx context.Context, id string, decision domain.Decision) error {
	db := (*memDB)(s)
	for i, p := range db.parts {
		if p.ID == id {
			db.parts[i].Decision = decision
			db.parts[i].UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *memParticipationStore) GetForIdentity(ctx context.Context, betID, identityID string) (domain.Participation, error) {
	db := (*memDB)(s)
	for _, p := range db.parts {
		if p.BetID == betID && p.IdentityID == identityID {
			return p, nil
		}
	}
	return domain.Participation{}, domain.ErrNotFound
}

func (s *memParticipationStore) ListByBet(ctx context.Context, betID string) ([]domain.Participation, error) {
	db := (*memDB)(s)
	var out []domain.Participation
	for _, p := range db.parts {
		if p.BetID == betID {
			out = append(out, p)
		}
	}
	return out, nil
}

type memSettlementStore memDB

func (s *memSettlementStore) InsertBatch(ctx context.Context, entries []domain.SettlementEntry) error {
	db := (*memDB)(s)
	db.entries = append(db.entries, entries...)
	return nil
}

func (s *memSettlementStore) ListByBet(ctx context.Context, betID string) ([]domain.SettlementEntry, error) {
	db := (*memDB)(s)
	var out []domain.SettlementEntry
	for _, e := range db.entries {
		if e.BetID == betID {
			out = append(out, e)
		}
	}
	return out, nil
}

// fakeLeaderboardStore returns canned rows and counts calls.
type fakeLeaderboardStore struct {
	mu    sync.Mutex
	rows  []domain.LeaderboardRow
	calls int
}

func (f *fakeLeaderboardStore) Rollup(ctx context.Context) ([]domain.LeaderboardRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.rows, nil
}

// fakeLeaderboardCache is a single-value cache with call counters.
type fakeLeaderboardCache struct {
	mu          sync.Mutex
	rows        []domain.LeaderboardRow
	populated   bool
	sets        int
	invalidates int
}

func (f *fakeLeaderboardCache) Get(ctx context.Context) ([]domain.LeaderboardRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.populated {
		return nil, domain.ErrNotFound
	}
	return f.rows, nil
}

func (f *fakeLeaderboardCache) Set(ctx context.Context, rows []domain.LeaderboardRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = rows
	f.populated = true
	f.sets++
	return nil
}

func (f *fakeLeaderboardCache) Invalidate(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = nil
	f.populated = false
	f.invalidates++
	return nil
}

// fakeBus records published events.
type fakeBus struct {
	mu        sync.Mutex
	published []domain.BusMessage
}

func (f *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, domain.BusMessage{Channel: channel, Payload: payload})
	return nil
}

func (f *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan domain.BusMessage, error) {
	ch := make(chan domain.BusMessage)
	close(ch)
	return ch, nil
}
