package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/louisbranch/cueledger/internal/platform/storage/schemamigrate"
	"github.com/louisbranch/cueledger/internal/rating"
)

// CurrentVersion is the schema version this package reads and writes.
const CurrentVersion = 3

// Steps maps each schema version to the transformation bringing it to the
// next one. The registry must be gap-free up to CurrentVersion; the runner
// refuses to start otherwise.
var Steps = map[int]schemamigrate.Step{
	0: migrateV0ToV1,
	1: migrateV1ToV2,
	2: migrateV2ToV3,
}

// migrateV0ToV1 bootstraps schema versioning on a legacy store. The runner
// records the new version itself.
func migrateV0ToV1(ctx context.Context, tx *sql.Tx) error {
	return schemamigrate.EnsureVersionTable(ctx, tx)
}

// migrateV1ToV2 rebuilds the matches table from the legacy winner/loser
// representation into side-indexed participant slots, converting ISO-8601
// text dates to UTC Unix millis and dropping win_reason. Season timestamps
// are text in the legacy layout too, so the seasons table is rebuilt with
// millis the same way.
func migrateV1ToV2(ctx context.Context, tx *sql.Tx) error {
	if err := migrateSeasonDates(ctx, tx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
CREATE TABLE matches_new (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    season_id INTEGER NOT NULL,
    date INTEGER NOT NULL,
    is_doubles INTEGER NOT NULL DEFAULT 0,
    side1_name TEXT NOT NULL,
    side1_rating_before INTEGER NOT NULL,
    side1_rating_after INTEGER NOT NULL,
    side1b_name TEXT,
    side1b_rating_before INTEGER,
    side1b_rating_after INTEGER,
    side2_name TEXT NOT NULL,
    side2_rating_before INTEGER NOT NULL,
    side2_rating_after INTEGER NOT NULL,
    side2b_name TEXT,
    side2b_rating_before INTEGER,
    side2b_rating_after INTEGER,
    winner_side INTEGER NOT NULL,
    FOREIGN KEY (season_id) REFERENCES seasons (id)
)`); err != nil {
		return fmt.Errorf("create side-indexed matches table: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
SELECT id, season_id, date, player1_name, player2_name, winner_name,
       winner_elo_before, winner_elo_after, loser_elo_before, loser_elo_after
  FROM matches
 ORDER BY id ASC`)
	if err != nil {
		return fmt.Errorf("read legacy matches: %w", err)
	}
	defer rows.Close()

	type legacyMatch struct {
		id, seasonID          int64
		date                  string
		p1, p2, winner        string
		winBefore, winAfter   int
		loseBefore, loseAfter int
	}
	var legacy []legacyMatch
	for rows.Next() {
		var m legacyMatch
		if err := rows.Scan(&m.id, &m.seasonID, &m.date, &m.p1, &m.p2, &m.winner,
			&m.winBefore, &m.winAfter, &m.loseBefore, &m.loseAfter); err != nil {
			return fmt.Errorf("scan legacy match: %w", err)
		}
		legacy = append(legacy, m)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read legacy matches: %w", err)
	}

	for _, m := range legacy {
		date, err := parseLegacyDate(m.date)
		if err != nil {
			return fmt.Errorf("match %d: %w", m.id, err)
		}
		winnerSide := 1
		s1Before, s1After := m.winBefore, m.winAfter
		s2Before, s2After := m.loseBefore, m.loseAfter
		if m.winner != m.p1 {
			winnerSide = 2
			s1Before, s1After = m.loseBefore, m.loseAfter
			s2Before, s2After = m.winBefore, m.winAfter
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO matches_new (
    id, season_id, date, is_doubles,
    side1_name, side1_rating_before, side1_rating_after,
    side2_name, side2_rating_before, side2_rating_after,
    winner_side
) VALUES (?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?)`,
			m.id, m.seasonID, toMillis(date),
			m.p1, s1Before, s1After,
			m.p2, s2Before, s2After,
			winnerSide,
		); err != nil {
			return fmt.Errorf("rewrite match %d: %w", m.id, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DROP TABLE matches`); err != nil {
		return fmt.Errorf("drop legacy matches table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `ALTER TABLE matches_new RENAME TO matches`); err != nil {
		return fmt.Errorf("rename matches table: %w", err)
	}
	return nil
}

func migrateSeasonDates(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, `SELECT id, name, created_at FROM seasons ORDER BY id ASC`)
	if err != nil {
		return fmt.Errorf("read legacy seasons: %w", err)
	}
	defer rows.Close()

	type legacySeason struct {
		id        int64
		name      string
		createdAt string
	}
	var legacy []legacySeason
	for rows.Next() {
		var s legacySeason
		if err := rows.Scan(&s.id, &s.name, &s.createdAt); err != nil {
			return fmt.Errorf("scan legacy season: %w", err)
		}
		legacy = append(legacy, s)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read legacy seasons: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
CREATE TABLE seasons_new (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    created_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("create millis seasons table: %w", err)
	}
	for _, s := range legacy {
		createdAt, err := parseLegacyDate(s.createdAt)
		if err != nil {
			return fmt.Errorf("season %d: %w", s.id, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO seasons_new (id, name, created_at) VALUES (?, ?, ?)`,
			s.id, s.name, toMillis(createdAt)); err != nil {
			return fmt.Errorf("rewrite season %d: %w", s.id, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DROP TABLE seasons`); err != nil {
		return fmt.Errorf("drop legacy seasons table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `ALTER TABLE seasons_new RENAME TO seasons`); err != nil {
		return fmt.Errorf("rename seasons table: %w", err)
	}
	return nil
}

// migrateV2ToV3 adds the archived flag to players.
func migrateV2ToV3(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx,
		`ALTER TABLE players ADD COLUMN archived INTEGER NOT NULL DEFAULT 0`); err != nil {
		return fmt.Errorf("add archived column: %w", err)
	}
	return nil
}

var legacyDateLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseLegacyDate(value string) (time.Time, error) {
	for _, layout := range legacyDateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable legacy date %q", value)
}

// createSchema lays out a fresh store at CurrentVersion with a default
// season, so first runs work without an explicit season setup step.
func createSchema(ctx context.Context, db *sql.DB, now time.Time) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema creation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := schemamigrate.EnsureVersionTable(ctx, tx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
CREATE TABLE seasons (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    created_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("create seasons table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
CREATE TABLE players (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    current_rating INTEGER NOT NULL DEFAULT `+fmt.Sprint(rating.InitialRating)+`,
    current_wins INTEGER NOT NULL DEFAULT 0,
    current_losses INTEGER NOT NULL DEFAULT 0,
    total_lifetime_games INTEGER NOT NULL DEFAULT 0,
    archived INTEGER NOT NULL DEFAULT 0
)`); err != nil {
		return fmt.Errorf("create players table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
CREATE TABLE matches (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    season_id INTEGER NOT NULL,
    date INTEGER NOT NULL,
    is_doubles INTEGER NOT NULL DEFAULT 0,
    side1_name TEXT NOT NULL,
    side1_rating_before INTEGER NOT NULL,
    side1_rating_after INTEGER NOT NULL,
    side1b_name TEXT,
    side1b_rating_before INTEGER,
    side1b_rating_after INTEGER,
    side2_name TEXT NOT NULL,
    side2_rating_before INTEGER NOT NULL,
    side2_rating_after INTEGER NOT NULL,
    side2b_name TEXT,
    side2b_rating_before INTEGER,
    side2b_rating_after INTEGER,
    winner_side INTEGER NOT NULL,
    FOREIGN KEY (season_id) REFERENCES seasons (id)
)`); err != nil {
		return fmt.Errorf("create matches table: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`CREATE INDEX idx_matches_season ON matches (season_id, date, id)`); err != nil {
		return fmt.Errorf("create matches index: %w", err)
	}
	if err := schemamigrate.SetVersion(ctx, tx, CurrentVersion); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO seasons (name, created_at) VALUES (?, ?)`,
		"Season started "+now.UTC().Format("2006-01-02"), toMillis(now),
	); err != nil {
		return fmt.Errorf("create default season: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema creation: %w", err)
	}
	return nil
}
