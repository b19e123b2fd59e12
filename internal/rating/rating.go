// Package rating computes Elo-style rating deltas for pool matches.
package rating

import "math"

// Rating constants shared across the ledger.
const (
	// InitialRating is assigned to new players and restored on season resets.
	InitialRating = 1200

	// KStandard applies when every participant has an established history.
	KStandard = 32

	// KProvisional applies while any participant is still provisional.
	KProvisional = 40

	// ProvisionalGames is the lifetime game count below which a player is
	// provisional.
	ProvisionalGames = 10
)

// ExpectedScore returns the logistic win expectation of a rating against b.
// ExpectedScore(a, b) + ExpectedScore(b, a) == 1 within floating tolerance.
func ExpectedScore(a, b float64) float64 {
	return 1 / (1 + math.Pow(10, (b-a)/400))
}

// SideDeltas computes the integer rating delta for the winning and losing
// side from their effective (averaged) ratings.
//
// The loser expectation is recomputed from the loser's perspective instead of
// being derived as 1-winnerExpected. Both are equal in exact arithmetic but
// can differ by one point after rounding; historical match rows were produced
// by this exact computation path, so it is kept as-is.
//
// Results round half away from zero (math.Round).
func SideDeltas(winnerAvg, loserAvg float64, k int) (winDelta, loseDelta int) {
	winDelta = int(math.Round(float64(k) * (1 - ExpectedScore(winnerAvg, loserAvg))))
	loseDelta = int(math.Round(float64(k) * (0 - ExpectedScore(loserAvg, winnerAvg))))
	return winDelta, loseDelta
}

// ApplyResult returns the post-match ratings for a singles result. Because
// stored ratings are integers, adding the side delta matches rounding the
// full expression.
func ApplyResult(winnerRating, loserRating, k int) (newWinner, newLoser int) {
	winDelta, loseDelta := SideDeltas(float64(winnerRating), float64(loserRating), k)
	return winnerRating + winDelta, loserRating + loseDelta
}

// IsProvisional reports whether a lifetime game count is still provisional.
func IsProvisional(lifetimeGames int) bool {
	return lifetimeGames < ProvisionalGames
}

func sideK(lifetimes []int) int {
	for _, games := range lifetimes {
		if IsProvisional(games) {
			return KProvisional
		}
	}
	return KStandard
}

// KForSides returns the K-factor for one match. A side uses KProvisional when
// any of its members is provisional; the match uses the higher of the two
// side values.
func KForSides(winnerLifetimes, loserLifetimes []int) int {
	k := sideK(winnerLifetimes)
	if lk := sideK(loserLifetimes); lk > k {
		k = lk
	}
	return k
}

// SideAverage returns the effective rating of a side: the arithmetic mean of
// its members' current ratings.
func SideAverage(ratings []int) float64 {
	if len(ratings) == 0 {
		return 0
	}
	sum := 0
	for _, r := range ratings {
		sum += r
	}
	return float64(sum) / float64(len(ratings))
}

// Outcome is one computed delta pair. The same side delta applies to every
// member of that side.
type Outcome struct {
	K           int
	WinnerDelta int
	LoserDelta  int
}

// Compute selects the K-factor and computes the delta pair for a match given
// each side's member ratings and lifetime game counts.
func Compute(winnerRatings, loserRatings, winnerLifetimes, loserLifetimes []int) Outcome {
	k := KForSides(winnerLifetimes, loserLifetimes)
	winDelta, loseDelta := SideDeltas(SideAverage(winnerRatings), SideAverage(loserRatings), k)
	return Outcome{K: k, WinnerDelta: winDelta, LoserDelta: loseDelta}
}
