package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/louisbranch/cueledger/internal/ledger"
	"github.com/louisbranch/cueledger/internal/rating"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(context.Background(), filepath.Join(dir, "ledger.db"), filepath.Join(dir, "backups"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func currentSeasonID(t *testing.T, store *Store) int64 {
	t.Helper()
	season, err := store.CurrentSeason(context.Background())
	if err != nil {
		t.Fatalf("current season: %v", err)
	}
	return season.ID
}

func singles(seasonID int64, date time.Time, winner, loser string) ledger.NewMatch {
	return ledger.NewMatch{
		SeasonID:   seasonID,
		Date:       date,
		Side1:      []string{winner},
		Side2:      []string{loser},
		WinnerSide: 1,
	}
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), "", t.TempDir()); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestOpenCreatesDefaultSeason(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	season, err := store.CurrentSeason(context.Background())
	if err != nil {
		t.Fatalf("current season: %v", err)
	}
	if season.ID != 1 {
		t.Fatalf("default season id = %d, want 1", season.ID)
	}
}

func TestAddPlayerIsIdempotent(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	for range 2 {
		if err := store.AddPlayer(ctx, "Ana"); err != nil {
			t.Fatalf("add player: %v", err)
		}
	}
	names, err := store.AllPlayerNames(ctx)
	if err != nil {
		t.Fatalf("player names: %v", err)
	}
	if len(names) != 1 || names[0] != "Ana" {
		t.Fatalf("names = %v, want [Ana]", names)
	}
	player, err := store.PlayerByName(ctx, "Ana")
	if err != nil {
		t.Fatalf("player by name: %v", err)
	}
	if player.CurrentRating != rating.InitialRating {
		t.Fatalf("rating = %d, want %d", player.CurrentRating, rating.InitialRating)
	}
}

func TestRecordMatchProvisionalPlayersUseHigherK(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seasonID := currentSeasonID(t, store)

	// Both players are brand new (lifetime 0), so the provisional K of 40
	// applies and an even match moves 20 points each way.
	match, err := store.RecordMatch(ctx, singles(seasonID, time.Now(), "Ana", "Bo"))
	if err != nil {
		t.Fatalf("record match: %v", err)
	}
	if got := match.Side1[0].RatingAfter; got != 1220 {
		t.Fatalf("winner rating = %d, want 1220", got)
	}
	if got := match.Side2[0].RatingAfter; got != 1180 {
		t.Fatalf("loser rating = %d, want 1180", got)
	}
}

func TestRecordMatchProvisionalWinnerLiftsEstablishedLoser(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seasonID := currentSeasonID(t, store)
	base := time.Date(2026, time.January, 5, 19, 0, 0, 0, time.UTC)

	// Veteran and Wall trade 10 wins each so both are established.
	for i := range 10 {
		if _, err := store.RecordMatch(ctx, singles(seasonID, base.Add(time.Duration(i)*time.Minute), "Veteran", "Wall")); err != nil {
			t.Fatalf("seed match %d: %v", i, err)
		}
		if _, err := store.RecordMatch(ctx, singles(seasonID, base.Add(time.Duration(i)*time.Minute+30*time.Second), "Wall", "Veteran")); err != nil {
			t.Fatalf("seed match %d: %v", i, err)
		}
	}
	veteran, err := store.PlayerByName(ctx, "Veteran")
	if err != nil {
		t.Fatalf("player by name: %v", err)
	}
	if veteran.TotalLifetimeGames != 20 {
		t.Fatalf("veteran lifetime = %d, want 20", veteran.TotalLifetimeGames)
	}

	// A fresh player beating the veteran makes the whole match provisional.
	match, err := store.RecordMatch(ctx, singles(seasonID, base.Add(time.Hour), "Rookie", "Veteran"))
	if err != nil {
		t.Fatalf("record provisional match: %v", err)
	}
	rookieBefore := match.Side1[0].RatingBefore
	rookieAfter := match.Side1[0].RatingAfter
	wantWinner, _ := rating.ApplyResult(rookieBefore, match.Side2[0].RatingBefore, rating.KProvisional)
	if rookieAfter != wantWinner {
		t.Fatalf("rookie rating = %d, want %d (provisional K)", rookieAfter, wantWinner)
	}
}

func TestRecordMatchRejectsMissingSeason(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	_, err := store.RecordMatch(context.Background(), singles(99, time.Now(), "Ana", "Bo"))
	if !errors.Is(err, ledger.ErrNoActiveSeason) {
		t.Fatalf("err = %v, want %v", err, ledger.ErrNoActiveSeason)
	}
}

func TestRecordMatchRejectsInvalidParticipants(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	seasonID := currentSeasonID(t, store)
	_, err := store.RecordMatch(context.Background(), singles(seasonID, time.Now(), "Ana", "Ana"))
	if !errors.Is(err, ledger.ErrInvalidParticipants) {
		t.Fatalf("err = %v, want %v", err, ledger.ErrInvalidParticipants)
	}
	// An aborted record leaves no lazily created player behind.
	names, err := store.AllPlayerNames(context.Background())
	if err != nil {
		t.Fatalf("player names: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("names = %v, want none", names)
	}
}

func TestRecordDoublesSharesSideDeltas(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seasonID := currentSeasonID(t, store)

	match, err := store.RecordMatch(ctx, ledger.NewMatch{
		SeasonID:   seasonID,
		Date:       time.Now(),
		Side1:      []string{"Ana", "Bo"},
		Side2:      []string{"Cat", "Dee"},
		WinnerSide: 1,
		IsDoubles:  true,
	})
	if err != nil {
		t.Fatalf("record doubles: %v", err)
	}

	winDelta := match.Side1[0].RatingAfter - match.Side1[0].RatingBefore
	if other := match.Side1[1].RatingAfter - match.Side1[1].RatingBefore; other != winDelta {
		t.Fatalf("winner deltas differ: %d vs %d", winDelta, other)
	}
	loseDelta := match.Side2[0].RatingAfter - match.Side2[0].RatingBefore
	if other := match.Side2[1].RatingAfter - match.Side2[1].RatingBefore; other != loseDelta {
		t.Fatalf("loser deltas differ: %d vs %d", loseDelta, other)
	}
	// Four fresh players at 1200 vs 1200 under the provisional K of 40.
	if winDelta != 20 || loseDelta != -20 {
		t.Fatalf("deltas = (%d, %d), want (20, -20)", winDelta, loseDelta)
	}
}

func TestStartNewSeasonResetsStatsKeepsLifetime(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seasonID := currentSeasonID(t, store)
	base := time.Date(2026, time.February, 1, 20, 0, 0, 0, time.UTC)

	for i := range 3 {
		if _, err := store.RecordMatch(ctx, singles(seasonID, base.Add(time.Duration(i)*time.Minute), "Ana", "Bo")); err != nil {
			t.Fatalf("record match %d: %v", i, err)
		}
	}
	if err := store.ArchivePlayer(ctx, "Bo"); err != nil {
		t.Fatalf("archive player: %v", err)
	}

	season, err := store.StartNewSeason(ctx, "S2")
	if err != nil {
		t.Fatalf("start season: %v", err)
	}
	if current := currentSeasonID(t, store); current != season.ID {
		t.Fatalf("current season = %d, want %d", current, season.ID)
	}

	for _, name := range []string{"Ana", "Bo"} {
		player, err := store.PlayerByName(ctx, name)
		if err != nil {
			t.Fatalf("player %s: %v", name, err)
		}
		if player.CurrentRating != rating.InitialRating || player.CurrentWins != 0 || player.CurrentLosses != 0 {
			t.Fatalf("%s after reset = (%d, %d, %d), want (1200, 0, 0)",
				name, player.CurrentRating, player.CurrentWins, player.CurrentLosses)
		}
		if player.TotalLifetimeGames != 3 {
			t.Fatalf("%s lifetime = %d, want 3", name, player.TotalLifetimeGames)
		}
	}
}

func TestStartNewSeasonRejectsDuplicateName(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	if _, err := store.StartNewSeason(ctx, "S2"); err != nil {
		t.Fatalf("start season: %v", err)
	}
	_, err := store.StartNewSeason(ctx, "S2")
	if !errors.Is(err, ledger.ErrDuplicateSeasonName) {
		t.Fatalf("err = %v, want %v", err, ledger.ErrDuplicateSeasonName)
	}
}

func TestRecomputeReproducesStoredRatings(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seasonID := currentSeasonID(t, store)
	base := time.Date(2026, time.March, 2, 18, 0, 0, 0, time.UTC)

	// Enough matches that both players cross the provisional threshold
	// mid-history, so replay must reconstruct the K sequence too.
	winners := []string{"Ana", "Bo", "Ana", "Ana", "Bo", "Ana", "Bo", "Bo", "Ana", "Bo", "Ana", "Ana", "Bo", "Ana"}
	for i, winner := range winners {
		loser := "Bo"
		if winner == "Bo" {
			loser = "Ana"
		}
		if _, err := store.RecordMatch(ctx, singles(seasonID, base.Add(time.Duration(i)*time.Minute), winner, loser)); err != nil {
			t.Fatalf("record match %d: %v", i, err)
		}
	}

	before, err := store.MatchesForSeason(ctx, seasonID)
	if err != nil {
		t.Fatalf("matches before recompute: %v", err)
	}
	playersBefore, err := store.Leaderboard(ctx)
	if err != nil {
		t.Fatalf("leaderboard before recompute: %v", err)
	}

	if err := store.RecomputeAllRatings(ctx); err != nil {
		t.Fatalf("recompute: %v", err)
	}

	after, err := store.MatchesForSeason(ctx, seasonID)
	if err != nil {
		t.Fatalf("matches after recompute: %v", err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("recompute changed match rows:\nbefore %+v\nafter  %+v", before, after)
	}
	playersAfter, err := store.Leaderboard(ctx)
	if err != nil {
		t.Fatalf("leaderboard after recompute: %v", err)
	}
	if !reflect.DeepEqual(playersBefore, playersAfter) {
		t.Fatalf("recompute changed players:\nbefore %+v\nafter  %+v", playersBefore, playersAfter)
	}
}

func TestRecomputeHonorsSeasonBoundaries(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	firstSeason := currentSeasonID(t, store)
	base := time.Date(2026, time.March, 9, 18, 0, 0, 0, time.UTC)

	for i := range 4 {
		if _, err := store.RecordMatch(ctx, singles(firstSeason, base.Add(time.Duration(i)*time.Minute), "Ana", "Bo")); err != nil {
			t.Fatalf("record first season match %d: %v", i, err)
		}
	}
	season2, err := store.StartNewSeason(ctx, "S2")
	if err != nil {
		t.Fatalf("start season: %v", err)
	}
	if _, err := store.RecordMatch(ctx, singles(season2.ID, base.Add(time.Hour), "Bo", "Ana")); err != nil {
		t.Fatalf("record second season match: %v", err)
	}

	firstBefore, err := store.MatchesForSeason(ctx, firstSeason)
	if err != nil {
		t.Fatalf("first season matches: %v", err)
	}
	secondBefore, err := store.MatchesForSeason(ctx, season2.ID)
	if err != nil {
		t.Fatalf("second season matches: %v", err)
	}
	playersBefore, err := store.Leaderboard(ctx)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}

	if err := store.RecomputeAllRatings(ctx); err != nil {
		t.Fatalf("recompute: %v", err)
	}

	firstAfter, err := store.MatchesForSeason(ctx, firstSeason)
	if err != nil {
		t.Fatalf("first season matches after: %v", err)
	}
	secondAfter, err := store.MatchesForSeason(ctx, season2.ID)
	if err != nil {
		t.Fatalf("second season matches after: %v", err)
	}
	playersAfter, err := store.Leaderboard(ctx)
	if err != nil {
		t.Fatalf("leaderboard after: %v", err)
	}
	if !reflect.DeepEqual(firstBefore, firstAfter) {
		t.Fatalf("first season rows changed:\nbefore %+v\nafter  %+v", firstBefore, firstAfter)
	}
	if !reflect.DeepEqual(secondBefore, secondAfter) {
		t.Fatalf("second season rows changed:\nbefore %+v\nafter  %+v", secondBefore, secondAfter)
	}
	if !reflect.DeepEqual(playersBefore, playersAfter) {
		t.Fatalf("players changed:\nbefore %+v\nafter  %+v", playersBefore, playersAfter)
	}
}

func TestDeleteLastMatchThenReAddRestoresState(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seasonID := currentSeasonID(t, store)
	base := time.Date(2026, time.April, 10, 21, 0, 0, 0, time.UTC)

	for i, winner := range []string{"Ana", "Bo", "Ana"} {
		loser := "Bo"
		if winner == "Bo" {
			loser = "Ana"
		}
		if _, err := store.RecordMatch(ctx, singles(seasonID, base.Add(time.Duration(i)*time.Minute), winner, loser)); err != nil {
			t.Fatalf("record match %d: %v", i, err)
		}
	}
	matchesBefore, err := store.MatchesForSeason(ctx, seasonID)
	if err != nil {
		t.Fatalf("matches: %v", err)
	}
	playersBefore, err := store.Leaderboard(ctx)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	last := matchesBefore[len(matchesBefore)-1]

	if err := store.DeleteLastMatch(ctx, seasonID); err != nil {
		t.Fatalf("delete last match: %v", err)
	}
	if _, err := store.RecordMatch(ctx, singles(seasonID, last.Date, last.Winners()[0].Name, last.Losers()[0].Name)); err != nil {
		t.Fatalf("re-add match: %v", err)
	}

	matchesAfter, err := store.MatchesForSeason(ctx, seasonID)
	if err != nil {
		t.Fatalf("matches after re-add: %v", err)
	}
	if len(matchesAfter) != len(matchesBefore) {
		t.Fatalf("match count = %d, want %d", len(matchesAfter), len(matchesBefore))
	}
	// Surrogate ids advance on re-insert; everything else must round-trip.
	for i := range matchesBefore {
		want := matchesBefore[i]
		got := matchesAfter[i]
		got.ID = want.ID
		if !reflect.DeepEqual(want, got) {
			t.Fatalf("match %d changed:\nbefore %+v\nafter  %+v", i, want, got)
		}
	}
	playersAfter, err := store.Leaderboard(ctx)
	if err != nil {
		t.Fatalf("leaderboard after re-add: %v", err)
	}
	if !reflect.DeepEqual(playersBefore, playersAfter) {
		t.Fatalf("players changed:\nbefore %+v\nafter  %+v", playersBefore, playersAfter)
	}
}

func TestDeleteLastMatchRequiresMatch(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	err := store.DeleteLastMatch(context.Background(), currentSeasonID(t, store))
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("err = %v, want %v", err, ledger.ErrNotFound)
	}
}

func TestDeletePlayerCascadesAcrossAllSlots(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seasonID := currentSeasonID(t, store)
	base := time.Date(2026, time.May, 3, 19, 30, 0, 0, time.UTC)

	if _, err := store.RecordMatch(ctx, singles(seasonID, base, "Ana", "Bo")); err != nil {
		t.Fatalf("record singles: %v", err)
	}
	if _, err := store.RecordMatch(ctx, ledger.NewMatch{
		SeasonID:   seasonID,
		Date:       base.Add(time.Minute),
		Side1:      []string{"Cat", "Bo"},
		Side2:      []string{"Ana", "Dee"},
		WinnerSide: 2,
		IsDoubles:  true,
	}); err != nil {
		t.Fatalf("record doubles: %v", err)
	}
	if _, err := store.RecordMatch(ctx, singles(seasonID, base.Add(2*time.Minute), "Cat", "Dee")); err != nil {
		t.Fatalf("record unrelated singles: %v", err)
	}

	if err := store.DeletePlayer(ctx, "Bo"); err != nil {
		t.Fatalf("delete player: %v", err)
	}

	names, err := store.AllPlayerNames(ctx)
	if err != nil {
		t.Fatalf("player names: %v", err)
	}
	for _, name := range names {
		if name == "Bo" {
			t.Fatal("deleted player still listed")
		}
	}
	matches, err := store.MatchesForSeason(ctx, seasonID)
	if err != nil {
		t.Fatalf("matches: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("remaining matches = %d, want 1", len(matches))
	}
	for _, name := range matches[0].Names() {
		if name == "Bo" {
			t.Fatal("remaining match still references deleted player")
		}
	}
	// The survivors were replayed from scratch. Lifetime counters are not
	// recomputed from the surviving history, so Cat keeps both games.
	cat, err := store.PlayerByName(ctx, "Cat")
	if err != nil {
		t.Fatalf("player Cat: %v", err)
	}
	if cat.CurrentRating != 1220 || cat.TotalLifetimeGames != 2 {
		t.Fatalf("Cat after cascade = (%d, %d), want (1220, 2)", cat.CurrentRating, cat.TotalLifetimeGames)
	}
}

func TestArchivePlayerHidesFromActiveLists(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	for _, name := range []string{"Ana", "Bo"} {
		if err := store.AddPlayer(ctx, name); err != nil {
			t.Fatalf("add player: %v", err)
		}
	}
	if err := store.ArchivePlayer(ctx, "Bo"); err != nil {
		t.Fatalf("archive: %v", err)
	}

	names, err := store.AllPlayerNames(ctx)
	if err != nil {
		t.Fatalf("player names: %v", err)
	}
	if len(names) != 1 || names[0] != "Ana" {
		t.Fatalf("names = %v, want [Ana]", names)
	}
	leaderboard, err := store.Leaderboard(ctx)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(leaderboard) != 1 || leaderboard[0].Name != "Ana" {
		t.Fatalf("leaderboard = %+v, want only Ana", leaderboard)
	}
	// History access by name still works.
	player, err := store.PlayerByName(ctx, "Bo")
	if err != nil {
		t.Fatalf("player by name: %v", err)
	}
	if !player.Archived {
		t.Fatal("player not flagged archived")
	}
}

func TestArchivePlayerMissingIsNotFound(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	err := store.ArchivePlayer(context.Background(), "Nobody")
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("err = %v, want %v", err, ledger.ErrNotFound)
	}
}

func TestBackupWritesFileAndUpdatesLastTime(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	if _, found, err := store.LastBackupTime(); err != nil || found {
		t.Fatalf("fresh store last backup = (%v, %v), want none", found, err)
	}

	path, err := store.Backup(ctx, "manual")
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if filepath.Ext(path) != ".db" {
		t.Fatalf("backup path = %q, want .db file", path)
	}
	if _, found, err := store.LastBackupTime(); err != nil || !found {
		t.Fatalf("last backup after create = (%v, %v), want found", found, err)
	}
}

func seedLegacyStore(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open legacy store: %v", err)
	}
	defer db.Close()
	statements := []string{
		`CREATE TABLE seasons (
		    id INTEGER PRIMARY KEY AUTOINCREMENT,
		    name TEXT NOT NULL UNIQUE,
		    created_at TEXT NOT NULL
		)`,
		`CREATE TABLE players (
		    id INTEGER PRIMARY KEY AUTOINCREMENT,
		    name TEXT NOT NULL UNIQUE,
		    current_rating INTEGER NOT NULL,
		    current_wins INTEGER NOT NULL,
		    current_losses INTEGER NOT NULL,
		    total_lifetime_games INTEGER NOT NULL
		)`,
		`CREATE TABLE matches (
		    id INTEGER PRIMARY KEY AUTOINCREMENT,
		    season_id INTEGER NOT NULL,
		    date TEXT NOT NULL,
		    player1_name TEXT NOT NULL,
		    player2_name TEXT NOT NULL,
		    winner_name TEXT NOT NULL,
		    winner_elo_before INTEGER NOT NULL,
		    winner_elo_after INTEGER NOT NULL,
		    loser_elo_before INTEGER NOT NULL,
		    loser_elo_after INTEGER NOT NULL,
		    win_reason TEXT,
		    FOREIGN KEY (season_id) REFERENCES seasons (id)
		)`,
		`INSERT INTO seasons (name, created_at) VALUES ('Season started 2025-11-01', '2025-11-01T09:00:00')`,
		`INSERT INTO players (name, current_rating, current_wins, current_losses, total_lifetime_games)
		 VALUES ('Ana', 1216, 1, 0, 1), ('Bo', 1184, 0, 1, 1)`,
		`INSERT INTO matches (
		    season_id, date, player1_name, player2_name, winner_name,
		    winner_elo_before, winner_elo_after, loser_elo_before, loser_elo_after, win_reason
		 ) VALUES (1, '2025-11-02T20:15:00', 'Ana', 'Bo', 'Bo', 1200, 1216, 1200, 1184, 'Won normally')`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed legacy store: %v", err)
		}
	}
}

func TestOpenMigratesLegacyStore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.db")
	seedLegacyStore(t, path)

	store, err := Open(context.Background(), path, filepath.Join(dir, "backups"))
	if err != nil {
		t.Fatalf("open migrated store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	matches, err := store.MatchesForSeason(ctx, 1)
	if err != nil {
		t.Fatalf("matches: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("match count = %d, want 1", len(matches))
	}
	match := matches[0]
	if match.IsDoubles {
		t.Fatal("legacy singles match flagged as doubles")
	}
	// Bo was the winner, so the winner side is side 2.
	if match.WinnerSide != 2 {
		t.Fatalf("winner side = %d, want 2", match.WinnerSide)
	}
	if match.Side1[0].Name != "Ana" || match.Side1[0].RatingBefore != 1200 || match.Side1[0].RatingAfter != 1184 {
		t.Fatalf("side1 = %+v, want Ana 1200 -> 1184", match.Side1[0])
	}
	if match.Side2[0].Name != "Bo" || match.Side2[0].RatingBefore != 1200 || match.Side2[0].RatingAfter != 1216 {
		t.Fatalf("side2 = %+v, want Bo 1200 -> 1216", match.Side2[0])
	}
	if want := time.Date(2025, time.November, 2, 20, 15, 0, 0, time.UTC); !match.Date.Equal(want) {
		t.Fatalf("date = %v, want %v", match.Date, want)
	}

	// The archived flag arrived in the last step and defaults to false.
	player, err := store.PlayerByName(ctx, "Ana")
	if err != nil {
		t.Fatalf("player: %v", err)
	}
	if player.Archived {
		t.Fatal("migrated player unexpectedly archived")
	}

	// Season timestamps were ISO text in the legacy layout and must scan as
	// millis after migration.
	season, err := store.CurrentSeason(ctx)
	if err != nil {
		t.Fatalf("current season on migrated store: %v", err)
	}
	if season.ID != 1 {
		t.Fatalf("current season id = %d, want 1", season.ID)
	}
	if want := time.Date(2025, time.November, 1, 9, 0, 0, 0, time.UTC); !season.CreatedAt.Equal(want) {
		t.Fatalf("season created_at = %v, want %v", season.CreatedAt, want)
	}

	// The migrated players table has no column defaults, so creation must
	// still supply full rows rather than silently inserting nothing.
	if err := store.AddPlayer(ctx, "Zed"); err != nil {
		t.Fatalf("add player on migrated store: %v", err)
	}
	zed, err := store.PlayerByName(ctx, "Zed")
	if err != nil {
		t.Fatalf("added player missing on migrated store: %v", err)
	}
	if zed.CurrentRating != rating.InitialRating {
		t.Fatalf("added player rating = %d, want %d", zed.CurrentRating, rating.InitialRating)
	}

	recorded, err := store.RecordMatch(ctx, singles(season.ID, time.Time{}, "Zed", "Cat"))
	if err != nil {
		t.Fatalf("record match on migrated store: %v", err)
	}
	if recorded.Winners()[0].RatingAfter <= recorded.Winners()[0].RatingBefore {
		t.Fatalf("recorded winner ratings = %+v, want an increase", recorded.Winners()[0])
	}

	// Migration snapshots the pre-migration store.
	if _, found, err := store.LastBackupTime(); err != nil || !found {
		t.Fatalf("premigration backup = (%v, %v), want found", found, err)
	}
}

func TestQueriesOnEmptyStoreReturnEmptyCollections(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	leaderboard, err := store.Leaderboard(ctx)
	if err != nil || len(leaderboard) != 0 {
		t.Fatalf("leaderboard = (%v, %v), want empty", leaderboard, err)
	}
	names, err := store.AllPlayerNames(ctx)
	if err != nil || len(names) != 0 {
		t.Fatalf("names = (%v, %v), want empty", names, err)
	}
	matches, err := store.MatchesForSeason(ctx, currentSeasonID(t, store))
	if err != nil || len(matches) != 0 {
		t.Fatalf("matches = (%v, %v), want empty", matches, err)
	}
}
