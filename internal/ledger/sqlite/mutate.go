package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/louisbranch/cueledger/internal/ledger"
	"github.com/louisbranch/cueledger/internal/rating"
)

// AddPlayer inserts a player with the initial rating. An existing name is a
// no-op, not an error.
func (s *Store) AddPlayer(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("player name is required")
	}
	// Values are explicit rather than column defaults: the players table of a
	// legacy-migrated store declares none, and OR IGNORE would swallow the
	// NOT NULL violation as a silent no-op.
	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT OR IGNORE INTO players (name, current_rating, current_wins, current_losses, total_lifetime_games, archived)
VALUES (?, ?, 0, 0, 0, 0)`, name, rating.InitialRating); err != nil {
		return fmt.Errorf("add player: %w", err)
	}
	return nil
}

// ArchivePlayer flags a player out of active lists. Match history and
// season stats are untouched.
func (s *Store) ArchivePlayer(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE players SET archived = 1 WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("archive player: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("archive player: %w", err)
	}
	if affected == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

// DeletePlayer removes the player row and every match where the player
// appears in any participant slot, then replays the remaining history. This
// is destructive and has no undo; use ArchivePlayer to retain history.
func (s *Store) DeletePlayer(ctx context.Context, name string) error {
	ctx, span := s.tracer.Start(ctx, "ledger.DeletePlayer")
	defer span.End()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete player: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var playerID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM players WHERE name = ?`, name).Scan(&playerID)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("look up player: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
DELETE FROM matches
 WHERE side1_name = ? OR side1b_name = ? OR side2_name = ? OR side2b_name = ?`,
		name, name, name, name); err != nil {
		return fmt.Errorf("delete player matches: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM players WHERE id = ?`, playerID); err != nil {
		return fmt.Errorf("delete player: %w", err)
	}
	if err := s.recomputeTx(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete player: %w", err)
	}
	return nil
}

// StartNewSeason appends a season and resets rating, wins, and losses for
// every player, archived included. Lifetime game counts persist.
func (s *Store) StartNewSeason(ctx context.Context, name string) (ledger.Season, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ledger.Season{}, fmt.Errorf("season name is required")
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Season{}, fmt.Errorf("begin new season: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	createdAt := s.now().UTC()
	result, err := tx.ExecContext(ctx,
		`INSERT INTO seasons (name, created_at) VALUES (?, ?)`, name, toMillis(createdAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.Season{}, ledger.ErrDuplicateSeasonName
		}
		return ledger.Season{}, fmt.Errorf("insert season: %w", err)
	}
	seasonID, err := result.LastInsertId()
	if err != nil {
		return ledger.Season{}, fmt.Errorf("insert season: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE players
   SET current_rating = ?, current_wins = 0, current_losses = 0`,
		rating.InitialRating); err != nil {
		return ledger.Season{}, fmt.Errorf("reset player stats: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ledger.Season{}, fmt.Errorf("commit new season: %w", err)
	}
	return ledger.Season{ID: seasonID, Name: name, CreatedAt: createdAt}, nil
}

// RecordMatch commits one immutable match row plus the resulting player
// updates as a single transaction.
func (s *Store) RecordMatch(ctx context.Context, nm ledger.NewMatch) (ledger.Match, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.RecordMatch")
	defer span.End()

	if err := nm.Validate(); err != nil {
		return ledger.Match{}, err
	}
	date := nm.Date
	if date.IsZero() {
		date = s.now()
	}
	date = date.UTC()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Match{}, fmt.Errorf("begin record match: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seasonID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM seasons WHERE id = ?`, nm.SeasonID).Scan(&seasonID)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Match{}, ledger.ErrNoActiveSeason
	}
	if err != nil {
		return ledger.Match{}, fmt.Errorf("look up season: %w", err)
	}

	side1, err := ensurePlayers(ctx, tx, nm.Side1)
	if err != nil {
		return ledger.Match{}, err
	}
	side2, err := ensurePlayers(ctx, tx, nm.Side2)
	if err != nil {
		return ledger.Match{}, err
	}

	winners, losers := side1, side2
	if nm.WinnerSide == 2 {
		winners, losers = side2, side1
	}
	outcome := rating.Compute(
		ratingsOf(winners), ratingsOf(losers),
		lifetimesOf(winners), lifetimesOf(losers),
	)

	match := ledger.Match{
		SeasonID:   nm.SeasonID,
		Date:       date,
		IsDoubles:  nm.IsDoubles,
		WinnerSide: nm.WinnerSide,
		Side1:      participants(side1, sideDelta(1, nm.WinnerSide, outcome)),
		Side2:      participants(side2, sideDelta(2, nm.WinnerSide, outcome)),
	}
	match.ID, err = insertMatch(ctx, tx, match)
	if err != nil {
		return ledger.Match{}, err
	}

	for _, p := range match.Winners() {
		if _, err := tx.ExecContext(ctx, `
UPDATE players
   SET current_rating = ?, current_wins = current_wins + 1,
       total_lifetime_games = total_lifetime_games + 1
 WHERE name = ?`, p.RatingAfter, p.Name); err != nil {
			return ledger.Match{}, fmt.Errorf("update winner %s: %w", p.Name, err)
		}
	}
	for _, p := range match.Losers() {
		if _, err := tx.ExecContext(ctx, `
UPDATE players
   SET current_rating = ?, current_losses = current_losses + 1,
       total_lifetime_games = total_lifetime_games + 1
 WHERE name = ?`, p.RatingAfter, p.Name); err != nil {
			return ledger.Match{}, fmt.Errorf("update loser %s: %w", p.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return ledger.Match{}, fmt.Errorf("commit record match: %w", err)
	}
	return match, nil
}

// DeleteLastMatch removes the most recently inserted match for the season and
// replays the remaining history, since later rows assumed it happened.
func (s *Store) DeleteLastMatch(ctx context.Context, seasonID int64) error {
	ctx, span := s.tracer.Start(ctx, "ledger.DeleteLastMatch")
	defer span.End()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete last match: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		matchSelect+` WHERE season_id = ? ORDER BY id DESC LIMIT 1`, seasonID)
	if err != nil {
		return fmt.Errorf("look up last match: %w", err)
	}
	defer rows.Close()
	last, err := collectMatches(rows)
	if err != nil {
		return err
	}
	if len(last) == 0 {
		return ledger.ErrNotFound
	}
	match := last[0]

	if _, err := tx.ExecContext(ctx, `DELETE FROM matches WHERE id = ?`, match.ID); err != nil {
		return fmt.Errorf("delete last match: %w", err)
	}
	// Undo the lifetime increments the deleted match applied, so re-adding
	// an identical match restores the exact pre-deletion state.
	for _, name := range match.Names() {
		if _, err := tx.ExecContext(ctx, `
UPDATE players
   SET total_lifetime_games = MAX(total_lifetime_games - 1, 0)
 WHERE name = ?`, name); err != nil {
			return fmt.Errorf("roll back lifetime for %s: %w", name, err)
		}
	}
	if err := s.recomputeTx(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete last match: %w", err)
	}
	return nil
}

// RecomputeAllRatings deterministically replays the whole match history,
// rewriting the stored before/after ratings in place. This is the only path
// that mutates committed match rows.
func (s *Store) RecomputeAllRatings(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "ledger.RecomputeAllRatings")
	defer span.End()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin recompute: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.recomputeTx(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit recompute: %w", err)
	}
	return nil
}

type replayPlayer struct {
	id       int64
	rating   int
	wins     int
	losses   int
	lifetime int
}

// recomputeTx replays all matches in date-then-id order inside tx.
//
// Lifetime counters are rebaselined to stored-count-minus-history before the
// replay so each match sees the same provisional/standard K it saw when first
// recorded, and they end back at their stored values. A stored counter
// smaller than the history it supposedly covers is clamped to zero with a
// warning instead of being trusted blindly.
func (s *Store) recomputeTx(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, `SELECT id, name, total_lifetime_games FROM players`)
	if err != nil {
		return fmt.Errorf("load players for recompute: %w", err)
	}
	players := map[string]*replayPlayer{}
	for rows.Next() {
		var id int64
		var name string
		var lifetime int
		if err := rows.Scan(&id, &name, &lifetime); err != nil {
			_ = rows.Close()
			return fmt.Errorf("load players for recompute: %w", err)
		}
		players[name] = &replayPlayer{id: id, rating: rating.InitialRating, lifetime: lifetime}
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("load players for recompute: %w", err)
	}

	matches, err := s.allMatches(ctx, tx)
	if err != nil {
		return err
	}

	appearances := map[string]int{}
	for _, match := range matches {
		for _, name := range match.Names() {
			appearances[name]++
		}
	}
	for name, player := range players {
		base := player.lifetime - appearances[name]
		if base < 0 {
			log.Printf("lifetime counter for %q is %d but history holds %d matches; rebaselining to 0",
				name, player.lifetime, appearances[name])
			base = 0
		}
		player.lifetime = base
	}

	// Season starts reset rating and season counters, so the replay resets
	// at every season boundary exactly as StartNewSeason did.
	replayedSeason := int64(-1)
	for i := range matches {
		if matches[i].SeasonID != replayedSeason {
			replayedSeason = matches[i].SeasonID
			for _, player := range players {
				player.rating = rating.InitialRating
				player.wins = 0
				player.losses = 0
			}
		}
		if err := replayMatch(ctx, tx, &matches[i], players); err != nil {
			return err
		}
	}

	// A newer season with no matches yet still reset everyone when it
	// started; leave the stats in that reset state, not the prior season's.
	var maxSeason sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(id) FROM seasons`).Scan(&maxSeason); err != nil {
		return fmt.Errorf("look up current season: %w", err)
	}
	if maxSeason.Valid && maxSeason.Int64 != replayedSeason {
		for _, player := range players {
			player.rating = rating.InitialRating
			player.wins = 0
			player.losses = 0
		}
	}

	for _, player := range players {
		if _, err := tx.ExecContext(ctx, `
UPDATE players
   SET current_rating = ?, current_wins = ?, current_losses = ?, total_lifetime_games = ?
 WHERE id = ?`,
			player.rating, player.wins, player.losses, player.lifetime, player.id); err != nil {
			return fmt.Errorf("write replayed player: %w", err)
		}
	}
	return nil
}

func replayMatch(ctx context.Context, tx *sql.Tx, match *ledger.Match, players map[string]*replayPlayer) error {
	winners, err := replaySide(match.Winners(), players, match.ID)
	if err != nil {
		return err
	}
	losers, err := replaySide(match.Losers(), players, match.ID)
	if err != nil {
		return err
	}

	outcome := rating.Compute(
		replayRatings(winners), replayRatings(losers),
		replayLifetimes(winners), replayLifetimes(losers),
	)

	applyReplay := func(side []ledger.Participant, sidePlayers []*replayPlayer, delta int, won bool) {
		for i := range side {
			side[i].RatingBefore = sidePlayers[i].rating
			side[i].RatingAfter = sidePlayers[i].rating + delta
			sidePlayers[i].rating += delta
			sidePlayers[i].lifetime++
			if won {
				sidePlayers[i].wins++
			} else {
				sidePlayers[i].losses++
			}
		}
	}
	applyReplay(match.Winners(), winners, outcome.WinnerDelta, true)
	applyReplay(match.Losers(), losers, outcome.LoserDelta, false)

	return updateMatchRatings(ctx, tx, *match)
}

func replaySide(side []ledger.Participant, players map[string]*replayPlayer, matchID int64) ([]*replayPlayer, error) {
	resolved := make([]*replayPlayer, len(side))
	for i, p := range side {
		player, ok := players[p.Name]
		if !ok {
			return nil, fmt.Errorf("match %d references unknown player %q", matchID, p.Name)
		}
		resolved[i] = player
	}
	return resolved, nil
}

func replayRatings(side []*replayPlayer) []int {
	out := make([]int, len(side))
	for i, p := range side {
		out[i] = p.rating
	}
	return out
}

func replayLifetimes(side []*replayPlayer) []int {
	out := make([]int, len(side))
	for i, p := range side {
		out[i] = p.lifetime
	}
	return out
}

func ensurePlayers(ctx context.Context, tx *sql.Tx, names []string) ([]ledger.Player, error) {
	side := make([]ledger.Player, len(names))
	for i, name := range names {
		name = strings.TrimSpace(name)
		if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO players (name, current_rating, current_wins, current_losses, total_lifetime_games, archived)
VALUES (?, ?, 0, 0, 0, 0)`, name, rating.InitialRating); err != nil {
			return nil, fmt.Errorf("create player %s: %w", name, err)
		}
		player, err := scanPlayer(tx.QueryRowContext(ctx, `
SELECT id, name, current_rating, current_wins, current_losses, total_lifetime_games, archived
  FROM players
 WHERE name = ?`, name))
		if err != nil {
			return nil, fmt.Errorf("load player %s: %w", name, err)
		}
		side[i] = player
	}
	return side, nil
}

func ratingsOf(side []ledger.Player) []int {
	out := make([]int, len(side))
	for i, p := range side {
		out[i] = p.CurrentRating
	}
	return out
}

func lifetimesOf(side []ledger.Player) []int {
	out := make([]int, len(side))
	for i, p := range side {
		out[i] = p.TotalLifetimeGames
	}
	return out
}

func sideDelta(side, winnerSide int, outcome rating.Outcome) int {
	if side == winnerSide {
		return outcome.WinnerDelta
	}
	return outcome.LoserDelta
}

func participants(side []ledger.Player, delta int) []ledger.Participant {
	out := make([]ledger.Participant, len(side))
	for i, p := range side {
		out[i] = ledger.Participant{
			Name:         p.Name,
			RatingBefore: p.CurrentRating,
			RatingAfter:  p.CurrentRating + delta,
		}
	}
	return out
}

func sideColumns(side []ledger.Participant) (name string, before, after int, bName sql.NullString, bBefore, bAfter sql.NullInt64) {
	name = side[0].Name
	before = side[0].RatingBefore
	after = side[0].RatingAfter
	if len(side) > 1 {
		bName = sql.NullString{String: side[1].Name, Valid: true}
		bBefore = sql.NullInt64{Int64: int64(side[1].RatingBefore), Valid: true}
		bAfter = sql.NullInt64{Int64: int64(side[1].RatingAfter), Valid: true}
	}
	return name, before, after, bName, bBefore, bAfter
}

func insertMatch(ctx context.Context, tx *sql.Tx, match ledger.Match) (int64, error) {
	s1Name, s1Before, s1After, s1bName, s1bBefore, s1bAfter := sideColumns(match.Side1)
	s2Name, s2Before, s2After, s2bName, s2bBefore, s2bAfter := sideColumns(match.Side2)
	isDoubles := 0
	if match.IsDoubles {
		isDoubles = 1
	}
	result, err := tx.ExecContext(ctx, `
INSERT INTO matches (
    season_id, date, is_doubles,
    side1_name, side1_rating_before, side1_rating_after,
    side1b_name, side1b_rating_before, side1b_rating_after,
    side2_name, side2_rating_before, side2_rating_after,
    side2b_name, side2b_rating_before, side2b_rating_after,
    winner_side
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		match.SeasonID, toMillis(match.Date), isDoubles,
		s1Name, s1Before, s1After, s1bName, s1bBefore, s1bAfter,
		s2Name, s2Before, s2After, s2bName, s2bBefore, s2bAfter,
		match.WinnerSide,
	)
	if err != nil {
		return 0, fmt.Errorf("insert match: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert match: %w", err)
	}
	return id, nil
}

func updateMatchRatings(ctx context.Context, tx *sql.Tx, match ledger.Match) error {
	_, s1Before, s1After, _, s1bBefore, s1bAfter := sideColumns(match.Side1)
	_, s2Before, s2After, _, s2bBefore, s2bAfter := sideColumns(match.Side2)
	if _, err := tx.ExecContext(ctx, `
UPDATE matches
   SET side1_rating_before = ?, side1_rating_after = ?,
       side1b_rating_before = ?, side1b_rating_after = ?,
       side2_rating_before = ?, side2_rating_after = ?,
       side2b_rating_before = ?, side2b_rating_after = ?
 WHERE id = ?`,
		s1Before, s1After, s1bBefore, s1bAfter,
		s2Before, s2After, s2bBefore, s2bAfter,
		match.ID,
	); err != nil {
		return fmt.Errorf("rewrite match %d ratings: %w", match.ID, err)
	}
	return nil
}
