// Package sqlite provides the SQLite-backed ledger implementation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/louisbranch/cueledger/internal/ledger"
	"github.com/louisbranch/cueledger/internal/platform/backup"
	"github.com/louisbranch/cueledger/internal/platform/storage/schemamigrate"
)

// Store persists ledger state in a single SQLite file.
type Store struct {
	sqlDB     *sql.DB
	path      string
	backupDir string
	tracer    trace.Tracer
	now       func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the ledger store at path, creating a fresh store when the file
// is absent and migrating an existing one to CurrentVersion. Pre-migration
// snapshots go to backupDir.
func Open(ctx context.Context, path, backupDir string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if strings.TrimSpace(backupDir) == "" {
		return nil, fmt.Errorf("backup dir is required")
	}
	cleanPath := filepath.Clean(path)

	fresh := false
	if _, err := os.Stat(cleanPath); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat store: %w", err)
		}
		fresh = true
	}
	if !fresh {
		if err := schemamigrate.Run(ctx, cleanPath, Steps, CurrentVersion, backupDir); err != nil {
			return nil, err
		}
	}

	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{
		sqlDB:     sqlDB,
		path:      cleanPath,
		backupDir: backupDir,
		tracer:    otel.Tracer("cueledger/ledger/sqlite"),
		now:       time.Now,
	}
	if fresh {
		if err := createSchema(ctx, sqlDB, store.now()); err != nil {
			_ = sqlDB.Close()
			_ = os.Remove(cleanPath)
			return nil, err
		}
	}
	return store, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Backup checkpoints the store and copies it into the backup directory.
func (s *Store) Backup(ctx context.Context, prefix string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := s.sqlDB.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return "", fmt.Errorf("checkpoint store: %w", err)
	}
	return backup.Create(s.path, s.backupDir, prefix, s.now())
}

// LastBackupTime reports when the most recent backup was written, if any.
func (s *Store) LastBackupTime() (time.Time, bool, error) {
	return backup.LastTime(s.backupDir)
}

// Leaderboard returns non-archived players ordered by current rating.
func (s *Store) Leaderboard(ctx context.Context) ([]ledger.Player, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, name, current_rating, current_wins, current_losses, total_lifetime_games, archived
  FROM players
 WHERE archived = 0
 ORDER BY current_rating DESC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list leaderboard: %w", err)
	}
	defer rows.Close()

	players := []ledger.Player{}
	for rows.Next() {
		player, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("list leaderboard: %w", err)
		}
		players = append(players, player)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list leaderboard: %w", err)
	}
	return players, nil
}

// AllPlayerNames returns non-archived player names in alphabetical order.
func (s *Store) AllPlayerNames(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT name FROM players WHERE archived = 0 ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list player names: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("list player names: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list player names: %w", err)
	}
	return names, nil
}

// PlayerByName returns one player row, archived or not.
func (s *Store) PlayerByName(ctx context.Context, name string) (ledger.Player, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, name, current_rating, current_wins, current_losses, total_lifetime_games, archived
  FROM players
 WHERE name = ?`, name)
	player, err := scanPlayer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Player{}, ledger.ErrNotFound
		}
		return ledger.Player{}, fmt.Errorf("get player: %w", err)
	}
	return player, nil
}

// Seasons returns all seasons, most recent first.
func (s *Store) Seasons(ctx context.Context) ([]ledger.Season, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, name, created_at FROM seasons ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list seasons: %w", err)
	}
	defer rows.Close()

	seasons := []ledger.Season{}
	for rows.Next() {
		var season ledger.Season
		var createdAt int64
		if err := rows.Scan(&season.ID, &season.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("list seasons: %w", err)
		}
		season.CreatedAt = fromMillis(createdAt)
		seasons = append(seasons, season)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list seasons: %w", err)
	}
	return seasons, nil
}

// CurrentSeason returns the season with the highest id. It is computed on
// demand from the seasons table, never cached.
func (s *Store) CurrentSeason(ctx context.Context) (ledger.Season, error) {
	var season ledger.Season
	var createdAt int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM seasons ORDER BY id DESC LIMIT 1`,
	).Scan(&season.ID, &season.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Season{}, ledger.ErrNoActiveSeason
	}
	if err != nil {
		return ledger.Season{}, fmt.Errorf("get current season: %w", err)
	}
	season.CreatedAt = fromMillis(createdAt)
	return season, nil
}

// MatchesForSeason returns the season's matches, oldest first.
func (s *Store) MatchesForSeason(ctx context.Context, seasonID int64) ([]ledger.Match, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		matchSelect+` WHERE season_id = ? ORDER BY date ASC, id ASC`, seasonID)
	if err != nil {
		return nil, fmt.Errorf("list season matches: %w", err)
	}
	defer rows.Close()
	return collectMatches(rows)
}

// allMatches returns the full history in replay order: seasons are appended
// chronologically, so season id ascending is chronological across epochs.
func (s *Store) allMatches(ctx context.Context, tx *sql.Tx) ([]ledger.Match, error) {
	rows, err := tx.QueryContext(ctx, matchSelect+` ORDER BY season_id ASC, date ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()
	return collectMatches(rows)
}

const matchSelect = `
SELECT id, season_id, date, is_doubles,
       side1_name, side1_rating_before, side1_rating_after,
       side1b_name, side1b_rating_before, side1b_rating_after,
       side2_name, side2_rating_before, side2_rating_after,
       side2b_name, side2b_rating_before, side2b_rating_after,
       winner_side
  FROM matches`

func collectMatches(rows *sql.Rows) ([]ledger.Match, error) {
	matches := []ledger.Match{}
	for rows.Next() {
		match, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read matches: %w", err)
	}
	return matches, nil
}

func scanMatch(rows *sql.Rows) (ledger.Match, error) {
	var match ledger.Match
	var date int64
	var isDoubles int
	var s1 ledger.Participant
	var s2 ledger.Participant
	var s1bName, s2bName sql.NullString
	var s1bBefore, s1bAfter, s2bBefore, s2bAfter sql.NullInt64
	if err := rows.Scan(
		&match.ID, &match.SeasonID, &date, &isDoubles,
		&s1.Name, &s1.RatingBefore, &s1.RatingAfter,
		&s1bName, &s1bBefore, &s1bAfter,
		&s2.Name, &s2.RatingBefore, &s2.RatingAfter,
		&s2bName, &s2bBefore, &s2bAfter,
		&match.WinnerSide,
	); err != nil {
		return ledger.Match{}, err
	}
	match.Date = fromMillis(date)
	match.IsDoubles = isDoubles != 0
	match.Side1 = []ledger.Participant{s1}
	match.Side2 = []ledger.Participant{s2}
	if s1bName.Valid {
		match.Side1 = append(match.Side1, ledger.Participant{
			Name:         s1bName.String,
			RatingBefore: int(s1bBefore.Int64),
			RatingAfter:  int(s1bAfter.Int64),
		})
	}
	if s2bName.Valid {
		match.Side2 = append(match.Side2, ledger.Participant{
			Name:         s2bName.String,
			RatingBefore: int(s2bBefore.Int64),
			RatingAfter:  int(s2bAfter.Int64),
		})
	}
	return match, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlayer(row rowScanner) (ledger.Player, error) {
	var player ledger.Player
	var archived int
	if err := row.Scan(
		&player.ID, &player.Name, &player.CurrentRating,
		&player.CurrentWins, &player.CurrentLosses,
		&player.TotalLifetimeGames, &archived,
	); err != nil {
		return ledger.Player{}, err
	}
	player.Archived = archived != 0
	return player, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var _ ledger.Store = (*Store)(nil)
