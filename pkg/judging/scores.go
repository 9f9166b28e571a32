package judging

import (
	"fmt"
	"strings"
	"time"

	"github.com/codeclash-io/codeclash/pkg/models"
)

// memoryCeilingBytes is the sandbox memory limit the memory ladder is
// fractioned against.
const memoryCeilingBytes = 512 * 1024 * 1024

// efficiencyScore combines the time ladder and the memory ladder 70/30.
func efficiencyScore(avgTimeMs float64, peakMemBytes int64, optimalTimeMs float64) float64 {
	return 0.7*timeScore(avgTimeMs, optimalTimeMs) + 0.3*memoryScore(peakMemBytes)
}

// timeScore ladders average execution time: against the known optimal when
// available, against fixed thresholds otherwise.
func timeScore(avgTimeMs, optimalTimeMs float64) float64 {
	if optimalTimeMs > 0 {
		ratio := avgTimeMs / optimalTimeMs
		switch {
		case ratio <= 1.0:
			return 10
		case ratio <= 1.5:
			return 9
		case ratio <= 2.0:
			return 8
		case ratio <= 3.0:
			return 6
		case ratio <= 5.0:
			return 4
		case ratio <= 10.0:
			return 2
		default:
			return 1
		}
	}
	switch {
	case avgTimeMs < 100:
		return 10
	case avgTimeMs < 250:
		return 9
	case avgTimeMs < 500:
		return 8
	case avgTimeMs < 1000:
		return 6
	case avgTimeMs < 1500:
		return 4
	case avgTimeMs < 2000:
		return 2
	default:
		return 1
	}
}

// memoryScore ladders the peak as a fraction of the sandbox ceiling.
func memoryScore(peakBytes int64) float64 {
	fraction := float64(peakBytes) / float64(memoryCeilingBytes)
	switch {
	case fraction <= 0.10:
		return 10
	case fraction <= 0.20:
		return 9
	case fraction <= 0.35:
		return 8
	case fraction <= 0.50:
		return 6
	case fraction <= 0.70:
		return 4
	case fraction <= 0.90:
		return 2
	default:
		return 1
	}
}

// creativityScore is 0 when no tests passed; otherwise base 2 with small
// increments for richer constructs, capped at 10.
func creativityScore(code string, passedTests int) float64 {
	if passedTests == 0 {
		return 0
	}
	score := 2.0

	if countFunctions(code) >= 2 {
		score += 2
	}
	for _, marker := range []string{".map(", ".filter(", ".reduce(", "lambda", "=>"} {
		if strings.Contains(code, marker) {
			score += 1.5
			break
		}
	}
	if hasRecursion(code) {
		score += 2
	}
	for _, ds := range []string{"Map(", "Set(", "dict(", "defaultdict", "heapq", "deque", "{}"} {
		if strings.Contains(code, ds) {
			score += 1.5
			break
		}
	}
	for _, prim := range []string{"sort", "bisect", "binary"} {
		if strings.Contains(code, prim) {
			score += 1
			break
		}
	}

	if score > 10 {
		score = 10
	}
	return score
}

func countFunctions(code string) int {
	return strings.Count(code, "def ") +
		strings.Count(code, "function ") +
		strings.Count(code, "func ") +
		strings.Count(code, "=>")
}

// hasRecursion approximates: a defined function name that occurs again
// after its definition.
func hasRecursion(code string) bool {
	for _, kw := range []string{"def ", "function ", "func "} {
		rest := code
		for {
			idx := strings.Index(rest, kw)
			if idx < 0 {
				break
			}
			rest = rest[idx+len(kw):]
			name := leadingIdentifier(rest)
			if name != "" && strings.Count(code, name) >= 3 {
				// definition + at least two mentions suggests a self-call
				return true
			}
		}
	}
	return false
}

func leadingIdentifier(s string) string {
	end := 0
	for end < len(s) {
		c := s[end]
		if c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || (end > 0 && '0' <= c && c <= '9') {
			end++
			continue
		}
		break
	}
	return s[:end]
}

// Winner identifies the decision of DetermineWinner.
type Winner int

// Winner outcomes.
const (
	Tie Winner = iota
	Player1Wins
	Player2Wins
)

// DetermineWinner applies the strict priority ladder:
//  1. both passed zero tests → tie
//  2. more passed tests wins
//  3. same passes, both submission times known → earlier submission wins
//  4. same/unknown submission times → higher final score wins
//  5. otherwise tie
func DetermineWinner(r1, r2 *models.Result, submitted1, submitted2 *time.Time) Winner {
	if r1.PassedTests == 0 && r2.PassedTests == 0 {
		return Tie
	}
	if r1.PassedTests != r2.PassedTests {
		if r1.PassedTests > r2.PassedTests {
			return Player1Wins
		}
		return Player2Wins
	}
	if submitted1 != nil && submitted2 != nil && !submitted1.Equal(*submitted2) {
		if submitted1.Before(*submitted2) {
			return Player1Wins
		}
		return Player2Wins
	}
	if r1.FinalScore != r2.FinalScore {
		if r1.FinalScore > r2.FinalScore {
			return Player1Wins
		}
		return Player2Wins
	}
	return Tie
}

// Feedback generates the per-player result summary conditioned on the
// outcome, the pass ratio, and each sub-score band.
func Feedback(r *models.Result, won, tie bool) string {
	var b strings.Builder

	switch {
	case tie:
		b.WriteString("Dead heat — the match ends in a tie. ")
	case won:
		b.WriteString("Victory! ")
	default:
		b.WriteString("Defeat this time. ")
	}

	if r.TotalTests > 0 {
		ratio := float64(r.PassedTests) / float64(r.TotalTests)
		switch {
		case ratio == 1:
			b.WriteString("You passed every test case. ")
		case ratio >= 0.5:
			fmt.Fprintf(&b, "You passed %d of %d tests — the core logic works, chase the edge cases. ", r.PassedTests, r.TotalTests)
		case ratio > 0:
			fmt.Fprintf(&b, "Only %d of %d tests passed; re-read the problem statement and expected output format. ", r.PassedTests, r.TotalTests)
		default:
			b.WriteString("No tests passed — verify your output format matches the expected output exactly. ")
		}
	}

	b.WriteString(bandComment("Speed", r.Efficiency))
	b.WriteString(bandComment("Code quality", r.Quality))
	b.WriteString(bandComment("Creativity", r.Creativity))

	return strings.TrimSpace(b.String())
}

func bandComment(dimension string, score float64) string {
	switch {
	case score >= 8:
		return dimension + " was excellent. "
	case score >= 5:
		return dimension + " was solid. "
	case score > 0:
		return dimension + " has room to improve. "
	default:
		return ""
	}
}
