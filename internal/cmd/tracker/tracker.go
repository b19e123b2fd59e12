// Package tracker parses tracker CLI flags and runs subcommands against the
// match ledger.
package tracker

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/louisbranch/cueledger/internal/importer"
	"github.com/louisbranch/cueledger/internal/ledger"
	"github.com/louisbranch/cueledger/internal/ledger/sqlite"
	entrypoint "github.com/louisbranch/cueledger/internal/platform/cmd"
	"github.com/louisbranch/cueledger/internal/report"
)

// autoBackupInterval is how stale the newest backup may be before a command
// takes a fresh one on startup.
const autoBackupInterval = 24 * time.Hour

// Config holds tracker command configuration.
type Config struct {
	DBPath    string `env:"CUELEDGER_DB_PATH" envDefault:"cueledger.db"`
	BackupDir string `env:"CUELEDGER_BACKUP_DIR" envDefault:"backups"`
}

// ParseConfig parses environment and flags into Config. Remaining arguments
// after the global flags select the subcommand.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the ledger database file")
	fs.StringVar(&cfg.BackupDir, "backup-dir", cfg.BackupDir, "Directory for database backups")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes one tracker subcommand.
func Run(ctx context.Context, cfg Config, args []string, out io.Writer) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceTracker, func(ctx context.Context) error {
		return run(ctx, cfg, args, out)
	})
}

func run(ctx context.Context, cfg Config, args []string, out io.Writer) error {
	if len(args) == 0 {
		return usageError()
	}
	name, rest := args[0], args[1:]

	store, err := sqlite.Open(ctx, cfg.DBPath, cfg.BackupDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("close store: %v", err)
		}
	}()

	if name != "backup" {
		autoBackup(ctx, store)
	}

	switch name {
	case "leaderboard":
		return runLeaderboard(ctx, store, out)
	case "record":
		return runRecord(ctx, store, rest, out)
	case "history":
		return runHistory(ctx, store, rest, out)
	case "seasons":
		return runSeasons(ctx, store, out)
	case "new-season":
		return runNewSeason(ctx, store, rest, out)
	case "add-player":
		return runAddPlayer(ctx, store, rest, out)
	case "archive-player":
		return runArchivePlayer(ctx, store, rest, out)
	case "delete-player":
		return runDeletePlayer(ctx, store, rest, out)
	case "delete-last":
		return runDeleteLast(ctx, store, rest, out)
	case "recompute":
		return runRecompute(ctx, store, out)
	case "backup":
		return runBackup(ctx, store, rest, out)
	case "import":
		return runImport(ctx, store, rest, out)
	case "matrix":
		return runMatrix(ctx, store, rest, out)
	default:
		return fmt.Errorf("unknown command %q: %w", name, usageError())
	}
}

func usageError() error {
	return fmt.Errorf("usage: cueledger [flags] <command>\ncommands: leaderboard, record, history, seasons, new-season, add-player, archive-player, delete-player, delete-last, recompute, backup, import, matrix")
}

// autoBackup refreshes the on-disk backup when the newest one is older than
// the backup interval. Failures are logged, never fatal: the command the user
// asked for still runs.
func autoBackup(ctx context.Context, store ledger.Store) {
	last, ok, err := store.LastBackupTime()
	if err != nil {
		log.Printf("check last backup: %v", err)
		return
	}
	if ok && time.Since(last) < autoBackupInterval {
		return
	}
	path, err := store.Backup(ctx, "auto")
	if err != nil {
		log.Printf("auto backup: %v", err)
		return
	}
	log.Printf("auto backup written to %s", path)
}

func seasonFromFlag(ctx context.Context, store ledger.Store, id int64) (ledger.Season, error) {
	if id <= 0 {
		return store.CurrentSeason(ctx)
	}
	seasons, err := store.Seasons(ctx)
	if err != nil {
		return ledger.Season{}, err
	}
	for _, season := range seasons {
		if season.ID == id {
			return season, nil
		}
	}
	return ledger.Season{}, fmt.Errorf("season %d: %w", id, ledger.ErrNotFound)
}

func runLeaderboard(ctx context.Context, store ledger.Store, out io.Writer) error {
	season, err := store.CurrentSeason(ctx)
	if err != nil {
		return err
	}
	players, err := store.Leaderboard(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s\n", season.Name)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tPLAYER\tRATING\tW\tL\tLIFETIME")
	for i, p := range players {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%d\n",
			i+1, p.Name, p.CurrentRating, p.CurrentWins, p.CurrentLosses, p.TotalLifetimeGames)
	}
	return w.Flush()
}

func runRecord(ctx context.Context, store ledger.Store, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("record", flag.ContinueOnError)
	seasonID := fs.Int64("season", 0, "Season id (default: current season)")
	side1 := fs.String("side1", "", "Side 1 player, or two comma-separated players for doubles")
	side2 := fs.String("side2", "", "Side 2 player, or two comma-separated players for doubles")
	winner := fs.Int("winner", 0, "Winning side (1 or 2)")
	doubles := fs.Bool("doubles", false, "Record a doubles match")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return err
	}

	season, err := seasonFromFlag(ctx, store, *seasonID)
	if err != nil {
		return err
	}
	match, err := store.RecordMatch(ctx, ledger.NewMatch{
		SeasonID:   season.ID,
		Side1:      splitNames(*side1),
		Side2:      splitNames(*side2),
		WinnerSide: *winner,
		IsDoubles:  *doubles,
	})
	if err != nil {
		return err
	}

	for _, p := range match.Winners() {
		fmt.Fprintf(out, "%s: %d -> %d\n", p.Name, p.RatingBefore, p.RatingAfter)
	}
	for _, p := range match.Losers() {
		fmt.Fprintf(out, "%s: %d -> %d\n", p.Name, p.RatingBefore, p.RatingAfter)
	}
	return nil
}

func splitNames(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	names := make([]string, 0, len(parts))
	for _, part := range parts {
		names = append(names, strings.TrimSpace(part))
	}
	return names
}

func runHistory(ctx context.Context, store ledger.Store, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	seasonID := fs.Int64("season", 0, "Season id (default: current season)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return err
	}
	season, err := seasonFromFlag(ctx, store, *seasonID)
	if err != nil {
		return err
	}
	matches, err := store.MatchesForSeason(ctx, season.ID)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s\n", season.Name)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tWINNERS\tLOSERS\tRATINGS")
	for _, match := range matches {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			match.Date.Format("2006-01-02 15:04"),
			sideLabel(match.Winners()),
			sideLabel(match.Losers()),
			ratingLabel(match))
	}
	return w.Flush()
}

func sideLabel(side []ledger.Participant) string {
	names := make([]string, len(side))
	for i, p := range side {
		names[i] = p.Name
	}
	return strings.Join(names, " & ")
}

func ratingLabel(match ledger.Match) string {
	var parts []string
	for _, p := range append(append([]ledger.Participant{}, match.Side1...), match.Side2...) {
		parts = append(parts, fmt.Sprintf("%s %d->%d", p.Name, p.RatingBefore, p.RatingAfter))
	}
	return strings.Join(parts, ", ")
}

func runSeasons(ctx context.Context, store ledger.Store, out io.Writer) error {
	seasons, err := store.Seasons(ctx)
	if err != nil {
		return err
	}
	current, err := store.CurrentSeason(ctx)
	if err != nil && !errors.Is(err, ledger.ErrNoActiveSeason) {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTARTED")
	for _, season := range seasons {
		marker := ""
		if season.ID == current.ID {
			marker = " (current)"
		}
		fmt.Fprintf(w, "%d\t%s%s\t%s\n", season.ID, season.Name, marker,
			season.CreatedAt.Format("2006-01-02"))
	}
	return w.Flush()
}

func runNewSeason(ctx context.Context, store ledger.Store, args []string, out io.Writer) error {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return fmt.Errorf("usage: cueledger new-season <name>")
	}
	season, err := store.StartNewSeason(ctx, strings.TrimSpace(args[0]))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "started season %q (id %d); all ratings reset\n", season.Name, season.ID)
	return nil
}

func runAddPlayer(ctx context.Context, store ledger.Store, args []string, out io.Writer) error {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return fmt.Errorf("usage: cueledger add-player <name>")
	}
	name := strings.TrimSpace(args[0])
	if err := store.AddPlayer(ctx, name); err != nil {
		return err
	}
	fmt.Fprintf(out, "added player %q\n", name)
	return nil
}

func runArchivePlayer(ctx context.Context, store ledger.Store, args []string, out io.Writer) error {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return fmt.Errorf("usage: cueledger archive-player <name>")
	}
	name := strings.TrimSpace(args[0])
	if err := store.ArchivePlayer(ctx, name); err != nil {
		return err
	}
	fmt.Fprintf(out, "archived player %q\n", name)
	return nil
}

func runDeletePlayer(ctx context.Context, store ledger.Store, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("delete-player", flag.ContinueOnError)
	confirm := fs.Bool("confirm", false, "Required; deletion removes the player's matches and cannot be undone")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 || strings.TrimSpace(fs.Arg(0)) == "" {
		return fmt.Errorf("usage: cueledger delete-player -confirm <name>")
	}
	if !*confirm {
		return fmt.Errorf("delete-player removes the player and every match they played; pass -confirm to proceed")
	}
	name := strings.TrimSpace(fs.Arg(0))
	if err := store.DeletePlayer(ctx, name); err != nil {
		return err
	}
	fmt.Fprintf(out, "deleted player %q and their matches; ratings recomputed\n", name)
	return nil
}

func runDeleteLast(ctx context.Context, store ledger.Store, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("delete-last", flag.ContinueOnError)
	seasonID := fs.Int64("season", 0, "Season id (default: current season)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return err
	}
	season, err := seasonFromFlag(ctx, store, *seasonID)
	if err != nil {
		return err
	}
	if err := store.DeleteLastMatch(ctx, season.ID); err != nil {
		return err
	}
	fmt.Fprintf(out, "deleted last match of %q; ratings recomputed\n", season.Name)
	return nil
}

func runRecompute(ctx context.Context, store ledger.Store, out io.Writer) error {
	if err := store.RecomputeAllRatings(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "ratings recomputed from full match history")
	return nil
}

func runBackup(ctx context.Context, store ledger.Store, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("backup", flag.ContinueOnError)
	prefix := fs.String("prefix", "", "Optional backup file name prefix")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return err
	}
	path, err := store.Backup(ctx, *prefix)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "backup written to %s\n", path)
	return nil
}

func runImport(ctx context.Context, store ledger.Store, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	file := fs.String("file", "", "Legacy history.csv export to import")
	seasonID := fs.Int64("season", 0, "Season id to import into (default: current season)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("usage: cueledger import -file <history.csv> [-season id]")
	}
	season, err := seasonFromFlag(ctx, store, *seasonID)
	if err != nil {
		return err
	}
	f, err := os.Open(*file)
	if err != nil {
		return fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()

	n, err := importer.Run(ctx, store, f, season.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "imported %d matches into %q; ratings recomputed\n", n, season.Name)
	return nil
}

func runMatrix(ctx context.Context, store ledger.Store, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("matrix", flag.ContinueOnError)
	seasonID := fs.Int64("season", 0, "Season id (default: current season)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return err
	}
	season, err := seasonFromFlag(ctx, store, *seasonID)
	if err != nil {
		return err
	}
	matches, err := store.MatchesForSeason(ctx, season.ID)
	if err != nil {
		return err
	}
	m := report.Compute(matches)
	if len(m.Players) == 0 {
		fmt.Fprintf(out, "no matches in %q\n", season.Name)
		return nil
	}

	fmt.Fprintf(out, "%s — matchup share (row vs column)\n", season.Name)
	if err := writeMatrix(out, m.Players, func(i, j int) string {
		return fmt.Sprintf("%.1f%% (%d)", m.MatchupShare[i][j], m.MatchupCounts[i][j])
	}); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%s — win rate (row vs column)\n", season.Name)
	return writeMatrix(out, m.Players, func(i, j int) string {
		if m.HeadToHeadTotals[i][j] == 0 {
			return "-"
		}
		return fmt.Sprintf("%.1f%% (%d)", m.WinRate[i][j], m.HeadToHeadTotals[i][j])
	})
}

func writeMatrix(out io.Writer, players []string, cell func(i, j int) string) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "\t%s\n", strings.Join(players, "\t"))
	for i, row := range players {
		cells := make([]string, len(players))
		for j := range players {
			if i == j {
				cells[j] = "-"
				continue
			}
			cells[j] = cell(i, j)
		}
		fmt.Fprintf(w, "%s\t%s\n", row, strings.Join(cells, "\t"))
	}
	return w.Flush()
}
