// Package report derives read-only statistics from committed match history.
// Functions operate on query results only and never touch storage.
package report

import (
	"sort"

	"github.com/louisbranch/cueledger/internal/ledger"
	"github.com/louisbranch/cueledger/internal/rating"
)

// HeadToHeadWins counts the matches where a was on the winning side and b on
// the losing side. Doubles matches count once per pairing.
func HeadToHeadWins(matches []ledger.Match, a, b string) int {
	wins := 0
	for _, match := range matches {
		if sideHas(match.Winners(), a) && sideHas(match.Losers(), b) {
			wins++
		}
	}
	return wins
}

// Matrices holds the pairwise summary of a match set. All matrices are
// indexed [row][col] by position in Players; diagonals are zero.
type Matrices struct {
	// Players lists every participant name, sorted.
	Players []string
	// MatchupCounts[i][j] is how many times i and j faced each other.
	MatchupCounts [][]int
	// MatchupShare[i][j] is the percentage of i's games played against j.
	MatchupShare [][]float64
	// WinRate[i][j] is the percentage of decided i-vs-j matches that i won.
	WinRate [][]float64
	// HeadToHeadTotals[i][j] is the number of decided i-vs-j matches.
	HeadToHeadTotals [][]int
}

// Compute builds the matchup and win-rate matrices for a match set. An empty
// match set yields zero-length matrices.
func Compute(matches []ledger.Match) Matrices {
	players := participantNames(matches)
	index := make(map[string]int, len(players))
	for i, name := range players {
		index[name] = i
	}

	m := Matrices{
		Players:          players,
		MatchupCounts:    intGrid(len(players)),
		MatchupShare:     floatGrid(len(players)),
		WinRate:          floatGrid(len(players)),
		HeadToHeadTotals: intGrid(len(players)),
	}

	for _, match := range matches {
		for _, p1 := range match.Side1 {
			for _, p2 := range match.Side2 {
				i, j := index[p1.Name], index[p2.Name]
				m.MatchupCounts[i][j]++
				m.MatchupCounts[j][i]++
			}
		}
	}
	for i := range players {
		total := 0
		for _, count := range m.MatchupCounts[i] {
			total += count
		}
		if total == 0 {
			continue
		}
		for j, count := range m.MatchupCounts[i] {
			m.MatchupShare[i][j] = float64(count) / float64(total) * 100
		}
	}

	for i, a := range players {
		for j, b := range players {
			if i == j {
				continue
			}
			winsA := HeadToHeadWins(matches, a, b)
			winsB := HeadToHeadWins(matches, b, a)
			decided := winsA + winsB
			m.HeadToHeadTotals[i][j] = decided
			if decided > 0 {
				m.WinRate[i][j] = float64(winsA) / float64(decided) * 100
			}
		}
	}
	return m
}

// RatingSeries builds each participant's rating timeline across the match
// set. Every series starts at the initial rating and gains one point per
// match: participants move to their post-match rating, everyone else carries
// the previous value forward.
func RatingSeries(matches []ledger.Match) map[string][]int {
	players := participantNames(matches)
	series := make(map[string][]int, len(players))
	current := make(map[string]int, len(players))
	for _, name := range players {
		series[name] = []int{rating.InitialRating}
		current[name] = rating.InitialRating
	}

	for _, match := range matches {
		for _, p := range match.Side1 {
			current[p.Name] = p.RatingAfter
		}
		for _, p := range match.Side2 {
			current[p.Name] = p.RatingAfter
		}
		for _, name := range players {
			series[name] = append(series[name], current[name])
		}
	}
	return series
}

func participantNames(matches []ledger.Match) []string {
	seen := map[string]bool{}
	for _, match := range matches {
		for _, name := range match.Names() {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sideHas(side []ledger.Participant, name string) bool {
	for _, p := range side {
		if p.Name == name {
			return true
		}
	}
	return false
}

func intGrid(n int) [][]int {
	grid := make([][]int, n)
	for i := range grid {
		grid[i] = make([]int, n)
	}
	return grid
}

func floatGrid(n int) [][]float64 {
	grid := make([][]float64, n)
	for i := range grid {
		grid[i] = make([]float64, n)
	}
	return grid
}
