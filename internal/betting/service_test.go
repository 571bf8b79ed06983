package betting

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sidestake/sidestake/internal/domain"
)

var fixedTime = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(db *memDB) *Service {
	svc := NewService(db, db.stores(), &fakeLeaderboardStore{}, discardLogger())
	svc.clock = func() time.Time { return fixedTime }
	svc.newID = seqIDs("id")
	return svc
}

func createTestBet(t *testing.T, svc *Service, mode domain.BetMode) string {
	t.Helper()
	code, err := svc.CreateBet(context.Background(), CreateTerms{
		Token:       "tok-alice",
		DisplayName: "Alice",
		Title:       "Who does the dishes",
		Stake:       decimal.NewFromInt(100),
		Currency:    domain.CurrencyEUR,
		Mode:        mode,
	})
	if err != nil {
		t.Fatalf("create bet: %v", err)
	}
	return code
}

func TestCreateBetEnrollsCreator(t *testing.T) {
	db := newMemDB()
	svc := newTestService(db)

	code := createTestBet(t, svc, domain.ModeH2H)
	if len(code) != codeLength {
		t.Fatalf("expected %d-char code, got %q", codeLength, code)
	}

	detail, views, err := svc.GetBet(context.Background(), code)
	if err != nil {
		t.Fatalf("get bet: %v", err)
	}
	if views != nil {
		t.Fatalf("expected no settlements on an open bet, got %d", len(views))
	}
	if detail.Status != domain.StatusOpen {
		t.Fatalf("expected OPEN, got %s", detail.Status)
	}
	if !detail.Stake.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected stake 100, got %s", detail.Stake)
	}
	if len(detail.Participants) != 1 {
		t.Fatalf("expected creator enrolled, got %d participants", len(detail.Participants))
	}
	p := detail.Participants[0]
	if !p.IsCreator || p.Decision != domain.DecisionAccepted {
		t.Fatalf("expected creator ACCEPTED, got creator=%v decision=%s", p.IsCreator, p.Decision)
	}
	if p.DisplayName != "Alice" {
		t.Fatalf("expected display name Alice, got %q", p.DisplayName)
	}
}

func TestCreateBetValidation(t *testing.T) {
	svc := newTestService(newMemDB())

	valid := CreateTerms{
		Token:       "tok",
		DisplayName: "Alice",
		Title:       "T",
		Stake:       decimal.NewFromInt(1),
		Currency:    domain.CurrencyEUR,
		Mode:        domain.ModeH2H,
	}

	cases := []struct {
		name   string
		mutate func(*CreateTerms)
	}{
		{"empty token", func(tm *CreateTerms) { tm.Token = "" }},
		{"empty display name", func(tm *CreateTerms) { tm.DisplayName = "   " }},
		{"long display name", func(tm *CreateTerms) { tm.DisplayName = strings.Repeat("a", 101) }},
		{"empty title", func(tm *CreateTerms) { tm.Title = "" }},
		{"long title", func(tm *CreateTerms) { tm.Title = strings.Repeat("a", 201) }},
		{"long description", func(tm *CreateTerms) { tm.Description = strings.Repeat("a", 2001) }},
		{"zero stake", func(tm *CreateTerms) { tm.Stake = decimal.Zero }},
		{"negative stake", func(tm *CreateTerms) { tm.Stake = decimal.NewFromInt(-5) }},
		{"stake over cap", func(tm *CreateTerms) { tm.Stake = domain.MaxStake.Add(decimal.NewFromInt(1)) }},
		{"bad currency", func(tm *CreateTerms) { tm.Currency = "JPY" }},
		{"bad mode", func(tm *CreateTerms) { tm.Mode = "TEAMS" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			terms := valid
			tc.mutate(&terms)
			_, err := svc.CreateBet(context.Background(), terms)
			if !domain.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCreateBetCodeCollisionGrowsCode(t *testing.T) {
	db := newMemDB()
	svc := newTestService(db)
	svc.newCode = func(length int) string { return strings.Repeat("z", length) }

	first := createTestBet(t, svc, domain.ModeMulti)
	if first != strings.Repeat("z", codeLength) {
		t.Fatalf("unexpected first code %q", first)
	}

	second := createTestBet(t, svc, domain.ModeMulti)
	if second != strings.Repeat("z", codeLength+1) {
		t.Fatalf("expected collision retry to grow the code, got %q", second)
	}
}

func TestCreateBetCodeSpaceExhausted(t *testing.T) {
	db := newMemDB()
	svc := newTestService(db)
	svc.newCode = func(length int) string { return strings.Repeat("z", codeLength) }

	createTestBet(t, svc, domain.ModeMulti)
	_, err := svc.CreateBet(context.Background(), CreateTerms{
		Token:       "tok-bob",
		DisplayName: "Bob",
		Title:       "Second",
		Stake:       decimal.NewFromInt(1),
		Currency:    domain.CurrencyUSD,
		Mode:        domain.ModeMulti,
	})
	if err == nil {
		t.Fatal("expected error when every candidate code collides")
	}
	if domain.IsValidation(err) {
		t.Fatalf("exhaustion is a server fault, not a validation error: %v", err)
	}
}

func TestRespondAcceptThenDecline(t *testing.T) {
	db := newMemDB()
	svc := newTestService(db)
	code := createTestBet(t, svc, domain.ModeMulti)

	detail, err := svc.Respond(context.Background(), code, "tok-bob", "Bob", domain.DecisionAccepted)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if len(detail.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(detail.Participants))
	}

	detail, err = svc.Respond(context.Background(), code, "tok-bob", "Bob", domain.DecisionDeclined)
	if err != nil {
		t.Fatalf("decline: %v", err)
	}
	if len(detail.Participants) != 2 {
		t.Fatalf("revised decision must not add a row, got %d participants", len(detail.Participants))
	}
	var bob *domain.BetParticipant
	for i := range detail.Participants {
		if detail.Participants[i].DisplayName == "Bob" {
			bob = &detail.Participants[i]
		}
	}
	if bob == nil || bob.Decision != domain.DecisionDeclined {
		t.Fatalf("expected Bob DECLINED, got %+v", bob)
	}
}

func TestRespondUnknownCode(t *testing.T) {
	svc := newTestService(newMemDB())
	_, err := svc.Respond(context.Background(), "nosuch", "tok-bob", "Bob", domain.DecisionAccepted)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRespondRejectedWhenNotOpen(t *testing.T) {
	db := newMemDB()
	svc := newTestService(db)
	code := createTestBet(t, svc, domain.ModeMulti)

	if _, err := svc.SetLock(context.Background(), code, "tok-alice", true); err != nil {
		t.Fatalf("lock: %v", err)
	}

	_, err := svc.Respond(context.Background(), code, "tok-bob", "Bob", domain.DecisionAccepted)
	if !errors.Is(err, domain.ErrBetNotOpen) {
		t.Fatalf("expected ErrBetNotOpen, got %v", err)
	}

	detail, _, err := svc.GetBet(context.Background(), code)
	if err != nil {
		t.Fatalf("get bet: %v", err)
	}
	if len(detail.Participants) != 1 {
		t.Fatalf("rejected response must not write a participation, got %d", len(detail.Participants))
	}
}

func TestRespondH2HSecondChallengerRejected(t *testing.T) {
	db := newMemDB()
	svc := newTestService(db)
	code := createTestBet(t, svc, domain.ModeH2H)

	if _, err := svc.Respond(context.Background(), code, "tok-bob", "Bob", domain.DecisionAccepted); err != nil {
		t.Fatalf("first challenger: %v", err)
	}

	_, err := svc.Respond(context.Background(), code, "tok-carol", "Carol", domain.DecisionAccepted)
	if !errors.Is(err, domain.ErrChallengerSlotTaken) {
		t.Fatalf("expected ErrChallengerSlotTaken, got %v", err)
	}

	// Declining is always allowed; it does not contend for the slot.
	if _, err := svc.Respond(context.Background(), code, "tok-carol", "Carol", domain.DecisionDeclined); err != nil {
		t.Fatalf("decline with slot taken: %v", err)
	}

	// The standing challenger may re-accept their own slot.
	if _, err := svc.Respond(context.Background(), code, "tok-bob", "Bob", domain.DecisionAccepted); err != nil {
		t.Fatalf("challenger re-accept: %v", err)
	}
}

func TestRespondH2HConcurrentAcceptsSingleWinner(t *testing.T) {
	db := newMemDB()
	svc := newTestService(db)
	svc.newID = func() string { return newCode(16) } // unique across goroutines
	code := createTestBet(t, svc, domain.ModeH2H)

	tokens := []string{"tok-bob", "tok-carol", "tok-dave", "tok-erin"}
	errs := make([]error, len(tokens))

	var wg sync.WaitGroup
	for i, tok := range tokens {
		wg.Add(1)
		go func(i int, tok string) {
			defer wg.Done()
			_, errs[i] = svc.Respond(context.Background(), code, tok, "Challenger", domain.DecisionAccepted)
		}(i, tok)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, domain.ErrChallengerSlotTaken):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly one challenger to win the race, got %d", won)
	}

	detail, _, err := svc.GetBet(context.Background(), code)
	if err != nil {
		t.Fatalf("get bet: %v", err)
	}
	accepted := 0
	for _, p := range detail.Participants {
		if p.Decision == domain.DecisionAccepted && !p.IsCreator {
			accepted++
		}
	}
	if accepted != 1 {
		t.Fatalf("expected one accepted challenger on record, got %d", accepted)
	}
}

func TestSetLockCreatorOnly(t *testing.T) {
	db := newMemDB()
	svc := newTestService(db)
	code := createTestBet(t, svc, domain.ModeMulti)

	if _, err := svc.SetLock(context.Background(), code, "tok-bob", true); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}

	detail, err := svc.SetLock(context.Background(), code, "tok-alice", true)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if detail.Status != domain.StatusLocked {
		t.Fatalf("expected LOCKED, got %s", detail.Status)
	}

	detail, err = svc.SetLock(context.Background(), code, "tok-alice", false)
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if detail.Status != domain.StatusOpen {
		t.Fatalf("expected OPEN after unlock, got %s", detail.Status)
	}
}

func TestResolveWritesSettlementLedger(t *testing.T) {
	db := newMemDB()
	svc := newTestService(db)
	code := createTestBet(t, svc, domain.ModeMulti)

	if _, err := svc.Respond(context.Background(), code, "tok-bob", "Bob", domain.DecisionAccepted); err != nil {
		t.Fatalf("bob accepts: %v", err)
	}
	carolDetail, err := svc.Respond(context.Background(), code, "tok-carol", "Carol", domain.DecisionAccepted)
	if err != nil {
		t.Fatalf("carol accepts: %v", err)
	}

	var winnerID string
	for _, p := range carolDetail.Participants {
		if p.DisplayName == "Bob" {
			winnerID = p.IdentityID
		}
	}

	detail, views, err := svc.Resolve(context.Background(), code, "tok-alice", winnerID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if detail.Status != domain.StatusResolved {
		t.Fatalf("expected RESOLVED, got %s", detail.Status)
	}
	if detail.WinnerID == nil || *detail.WinnerID != winnerID {
		t.Fatalf("expected winner %q recorded, got %v", winnerID, detail.WinnerID)
	}
	if detail.ResolvedAt == nil || !detail.ResolvedAt.Equal(fixedTime) {
		t.Fatalf("expected resolved_at %v, got %v", fixedTime, detail.ResolvedAt)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 settlement entries (Alice and Carol owe), got %d", len(views))
	}
	for _, v := range views {
		if v.ToID != winnerID || v.ToName != "Bob" {
			t.Fatalf("expected all entries owed to Bob, got %+v", v)
		}
		if !v.Amount.Equal(decimal.NewFromInt(100)) {
			t.Fatalf("expected full stake owed, got %s", v.Amount)
		}
	}

	// The resolved bet serves its ledger on subsequent reads.
	_, readViews, err := svc.GetBet(context.Background(), code)
	if err != nil {
		t.Fatalf("get bet: %v", err)
	}
	if len(readViews) != 2 {
		t.Fatalf("expected persisted entries on read, got %d", len(readViews))
	}
}

func TestResolveTwiceFailsSecond(t *testing.T) {
	db := newMemDB()
	svc := newTestService(db)
	code := createTestBet(t, svc, domain.ModeH2H)

	detail, err := svc.Respond(context.Background(), code, "tok-bob", "Bob", domain.DecisionAccepted)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	var bobID string
	for _, p := range detail.Participants {
		if !p.IsCreator {
			bobID = p.IdentityID
		}
	}

	if _, _, err := svc.Resolve(context.Background(), code, "tok-alice", bobID); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	entriesBefore := len(db.entries)

	_, _, err = svc.Resolve(context.Background(), code, "tok-alice", detail.CreatorID)
	if !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
	if len(db.entries) != entriesBefore {
		t.Fatalf("failed resolve must not append entries: had %d, now %d", entriesBefore, len(db.entries))
	}

	// The recorded winner is still the first one.
	after, _, err := svc.GetBet(context.Background(), code)
	if err != nil {
		t.Fatalf("get bet: %v", err)
	}
	if after.WinnerID == nil || *after.WinnerID != bobID {
		t.Fatalf("expected winner %q unchanged, got %v", bobID, after.WinnerID)
	}
}

func TestResolveConcurrentSingleWinner(t *testing.T) {
	db := newMemDB()
	svc := newTestService(db)
	code := createTestBet(t, svc, domain.ModeH2H)

	detail, err := svc.Respond(context.Background(), code, "tok-bob", "Bob", domain.DecisionAccepted)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	var bobID string
	for _, p := range detail.Participants {
		if !p.IsCreator {
			bobID = p.IdentityID
		}
	}

	const resolvers = 8
	errs := make([]error, resolvers)
	var wg sync.WaitGroup
	for i := 0; i < resolvers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = svc.Resolve(context.Background(), code, "tok-alice", bobID)
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, domain.ErrAlreadyResolved):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly one resolve to win, got %d", won)
	}
	if len(db.entries) != 1 {
		t.Fatalf("expected exactly one settlement entry, got %d", len(db.entries))
	}
}

func TestCreateBetRetriesLostInsertRace(t *testing.T) {
	db := &raceDB{memDB: newMemDB(), failures: 1}
	svc := NewService(db, db.memDB.stores(), &fakeLeaderboardStore{}, discardLogger())
	svc.clock = func() time.Time { return fixedTime }
	svc.newID = seqIDs("id")

	code := createTestBet(t, svc, domain.ModeMulti)
	if len(code) != codeLength+1 {
		t.Fatalf("expected the lost insert race to consume one attempt, got code %q", code)
	}

	detail, _, err := svc.GetBet(context.Background(), code)
	if err != nil {
		t.Fatalf("get bet: %v", err)
	}
	if len(detail.Participants) != 1 || !detail.Participants[0].IsCreator {
		t.Fatalf("expected creator enrolled after retry, got %+v", detail.Participants)
	}
}

func TestCreateBetLostRaceEveryAttempt(t *testing.T) {
	db := &raceDB{memDB: newMemDB(), failures: codeAttempts}
	svc := NewService(db, db.memDB.stores(), &fakeLeaderboardStore{}, discardLogger())
	svc.clock = func() time.Time { return fixedTime }
	svc.newID = seqIDs("id")

	_, err := svc.CreateBet(context.Background(), CreateTerms{
		Token:       "tok-alice",
		DisplayName: "Alice",
		Title:       "Unlucky",
		Stake:       decimal.NewFromInt(1),
		Currency:    domain.CurrencyEUR,
		Mode:        domain.ModeMulti,
	})
	if err == nil {
		t.Fatal("expected error after losing every attempt")
	}
	if domain.IsValidation(err) {
		t.Fatalf("exhaustion is a server fault, not a validation error: %v", err)
	}
	if len(db.memDB.bets) != 0 || len(db.memDB.parts) != 0 {
		t.Fatalf("failed creation must leave no rows, got %d bets %d participations",
			len(db.memDB.bets), len(db.memDB.parts))
	}
}

func TestResolveWinnerMustHaveAccepted(t *testing.T) {
	db := newMemDB()
	svc := newTestService(db)
	code := createTestBet(t, svc, domain.ModeMulti)

	detail, err := svc.Respond(context.Background(), code, "tok-bob", "Bob", domain.DecisionDeclined)
	if err != nil {
		t.Fatalf("decline: %v", err)
	}
	var bobID string
	for _, p := range detail.Participants {
		if !p.IsCreator {
			bobID = p.IdentityID
		}
	}

	if _, _, err := svc.Resolve(context.Background(), code, "tok-alice", bobID); !errors.Is(err, domain.ErrInvalidWinner) {
		t.Fatalf("expected ErrInvalidWinner for declined participant, got %v", err)
	}
	if _, _, err := svc.Resolve(context.Background(), code, "tok-alice", "stranger"); !errors.Is(err, domain.ErrInvalidWinner) {
		t.Fatalf("expected ErrInvalidWinner for non-participant, got %v", err)
	}
}

func TestResolveCreatorOnly(t *testing.T) {
	db := newMemDB()
	svc := newTestService(db)
	code := createTestBet(t, svc, domain.ModeH2H)

	if _, _, err := svc.Resolve(context.Background(), code, "tok-bob", "anyone"); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestSetLockAfterResolveRejected(t *testing.T) {
	db := newMemDB()
	svc := newTestService(db)
	code := createTestBet(t, svc, domain.ModeH2H)

	detail, _, err := svc.GetBet(context.Background(), code)
	if err != nil {
		t.Fatalf("get bet: %v", err)
	}
	if _, _, err := svc.Resolve(context.Background(), code, "tok-alice", detail.CreatorID); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if _, err := svc.SetLock(context.Background(), code, "tok-alice", true); !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
}

func TestUpsertIdentityIdempotent(t *testing.T) {
	svc := newTestService(newMemDB())

	first, err := svc.UpsertIdentity(context.Background(), "tok-alice", "Alice")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	second, err := svc.UpsertIdentity(context.Background(), "tok-alice", "Alice")
	if err != nil {
		t.Fatalf("repeat upsert: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected stable identity id, got %q then %q", first.ID, second.ID)
	}

	renamed, err := svc.UpsertIdentity(context.Background(), "tok-alice", "Alicia")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if renamed.ID != first.ID || renamed.DisplayName != "Alicia" {
		t.Fatalf("expected rename in place, got %+v", renamed)
	}
}

func TestLeaderboardUsesCache(t *testing.T) {
	db := newMemDB()
	store := &fakeLeaderboardStore{rows: []domain.LeaderboardRow{
		{IdentityID: "ident-1", DisplayName: "Alice", Net: decimal.NewFromInt(100), WinCount: 1},
	}}
	cache := &fakeLeaderboardCache{}
	svc := NewService(db, db.stores(), store, discardLogger()).WithCache(cache)
	svc.clock = func() time.Time { return fixedTime }
	svc.newID = seqIDs("id")

	rows, err := svc.Leaderboard(context.Background())
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(rows) != 1 || store.calls != 1 || cache.sets != 1 {
		t.Fatalf("expected rollup then cache fill, got rows=%d calls=%d sets=%d", len(rows), store.calls, cache.sets)
	}

	if _, err := svc.Leaderboard(context.Background()); err != nil {
		t.Fatalf("cached leaderboard: %v", err)
	}
	if store.calls != 1 {
		t.Fatalf("expected cache hit to skip the rollup, got %d calls", store.calls)
	}

	// A resolution invalidates; the next read recomputes.
	code := createTestBet(t, svc, domain.ModeH2H)
	detail, _, err := svc.GetBet(context.Background(), code)
	if err != nil {
		t.Fatalf("get bet: %v", err)
	}
	if _, _, err := svc.Resolve(context.Background(), code, "tok-alice", detail.CreatorID); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cache.invalidates != 1 {
		t.Fatalf("expected resolution to invalidate the cache, got %d", cache.invalidates)
	}
	if _, err := svc.Leaderboard(context.Background()); err != nil {
		t.Fatalf("leaderboard after resolve: %v", err)
	}
	if store.calls != 2 {
		t.Fatalf("expected rollup recompute after invalidation, got %d calls", store.calls)
	}
}

func TestRespondPublishesBetEvent(t *testing.T) {
	db := newMemDB()
	bus := &fakeBus{}
	svc := NewService(db, db.stores(), &fakeLeaderboardStore{}, discardLogger()).WithBus(bus)
	svc.clock = func() time.Time { return fixedTime }
	svc.newID = seqIDs("id")

	code := createTestBet(t, svc, domain.ModeMulti)
	if _, err := svc.Respond(context.Background(), code, "tok-bob", "Bob", domain.DecisionAccepted); err != nil {
		t.Fatalf("respond: %v", err)
	}

	if len(bus.published) != 1 {
		t.Fatalf("expected one published event, got %d", len(bus.published))
	}
	msg := bus.published[0]
	if msg.Channel != "bet:"+code {
		t.Fatalf("expected channel bet:%s, got %s", code, msg.Channel)
	}
	if !strings.Contains(string(msg.Payload), `"bet_updated"`) {
		t.Fatalf("expected bet_updated payload, got %s", msg.Payload)
	}
}
