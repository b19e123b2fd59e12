// Package ledger defines the persistence contract for players, seasons, and
// match history.
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound indicates a referenced player, season, or match is missing.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateSeasonName indicates a season name collision.
	ErrDuplicateSeasonName = errors.New("season name already exists")
	// ErrInvalidParticipants indicates malformed side composition.
	ErrInvalidParticipants = errors.New("invalid participants")
	// ErrNoActiveSeason indicates a match was recorded with no season present.
	ErrNoActiveSeason = errors.New("no active season")
)

// Player stores one player row. Rating, wins, and losses are scoped to the
// current season; the lifetime game counter is never reset.
type Player struct {
	ID                 int64
	Name               string
	CurrentRating      int
	CurrentWins        int
	CurrentLosses      int
	TotalLifetimeGames int
	Archived           bool
}

// Season stores one rating epoch. The season with the highest ID is current.
type Season struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// Participant stores one match slot with the ratings immediately before and
// after the match was applied.
type Participant struct {
	Name         string
	RatingBefore int
	RatingAfter  int
}

// Match stores one committed match. Sides hold one member for singles and two
// for doubles. Rows are immutable except through full recomputation or
// deletion of the season's most recent match.
type Match struct {
	ID         int64
	SeasonID   int64
	Date       time.Time
	IsDoubles  bool
	Side1      []Participant
	Side2      []Participant
	WinnerSide int
}

// Winners returns the participants on the winning side.
func (m Match) Winners() []Participant {
	if m.WinnerSide == 2 {
		return m.Side2
	}
	return m.Side1
}

// Losers returns the participants on the losing side.
func (m Match) Losers() []Participant {
	if m.WinnerSide == 2 {
		return m.Side1
	}
	return m.Side2
}

// Names returns every participant name on both sides.
func (m Match) Names() []string {
	names := make([]string, 0, len(m.Side1)+len(m.Side2))
	for _, p := range m.Side1 {
		names = append(names, p.Name)
	}
	for _, p := range m.Side2 {
		names = append(names, p.Name)
	}
	return names
}

// NewMatch describes a match being composed by the caller. Players named here
// are created lazily when missing. A zero Date means "now".
type NewMatch struct {
	SeasonID   int64
	Date       time.Time
	Side1      []string
	Side2      []string
	WinnerSide int
	IsDoubles  bool
}

// Validate checks side composition: one member per side for singles, two for
// doubles, no blank or repeated names, and a winner side of 1 or 2.
func (nm NewMatch) Validate() error {
	want := 1
	if nm.IsDoubles {
		want = 2
	}
	if len(nm.Side1) != want || len(nm.Side2) != want {
		return ErrInvalidParticipants
	}
	if nm.WinnerSide != 1 && nm.WinnerSide != 2 {
		return ErrInvalidParticipants
	}
	seen := make(map[string]bool, len(nm.Side1)+len(nm.Side2))
	for _, name := range append(append([]string{}, nm.Side1...), nm.Side2...) {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			return ErrInvalidParticipants
		}
		seen[name] = true
	}
	return nil
}

// Store persists ledger state. Every mutating operation executes as one
// atomic transaction; a failed operation leaves no partial state.
type Store interface {
	// AddPlayer inserts a player with the initial rating. Adding an existing
	// name is a no-op.
	AddPlayer(ctx context.Context, name string) error
	// ArchivePlayer flags a player out of active lists without touching
	// history.
	ArchivePlayer(ctx context.Context, name string) error
	// DeletePlayer removes a player and every match the player appears in,
	// then recomputes all ratings. No undo.
	DeletePlayer(ctx context.Context, name string) error

	// RecordMatch validates, creates missing players, computes deltas, and
	// commits one immutable match row plus the player updates.
	RecordMatch(ctx context.Context, nm NewMatch) (Match, error)
	// DeleteLastMatch removes the most recently inserted match for the
	// season, then recomputes all ratings.
	DeleteLastMatch(ctx context.Context, seasonID int64) error
	// RecomputeAllRatings replays the full match history deterministically,
	// rewriting before/after ratings in place.
	RecomputeAllRatings(ctx context.Context) error

	// StartNewSeason appends a season and resets every player's rating and
	// season counters. Lifetime game counts are untouched.
	StartNewSeason(ctx context.Context, name string) (Season, error)

	Leaderboard(ctx context.Context) ([]Player, error)
	MatchesForSeason(ctx context.Context, seasonID int64) ([]Match, error)
	AllPlayerNames(ctx context.Context) ([]string, error)
	PlayerByName(ctx context.Context, name string) (Player, error)
	CurrentSeason(ctx context.Context) (Season, error)
	Seasons(ctx context.Context) ([]Season, error)

	// Backup copies the store into the backup directory with an optional
	// file name prefix and returns the backup path.
	Backup(ctx context.Context, prefix string) (string, error)
	// LastBackupTime reports when the most recent backup was written.
	LastBackupTime() (time.Time, bool, error)

	Close() error
}
