// Package council fans one scammer message out to a panel of LLM
// voters and condenses their votes into a deterministic verdict.
package council

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hivetrap/backend/internal/core"
)

// minScamVotes is the floor below which a scam majority is ignored: a
// single paranoid voter must never flip a session on its own.
const minScamVotes = 2

// demoteBelow drops a scam verdict whose pooled confidence is too weak
// to act on.
const demoteBelow = 0.5

// Council runs the full voter panel concurrently and aggregates.
type Council struct {
	voters []*Voter
	logger *log.Logger
}

func New(voters []*Voter) *Council {
	return &Council{
		voters: voters,
		logger: log.New(log.Writer(), "[COUNCIL] ", log.LstdFlags),
	}
}

// Size reports the configured panel size, failed voters included.
func (c *Council) Size() int { return len(c.voters) }

// Analyze fans the message out to every voter and waits for all of
// them. Failed voters are dropped before aggregation; the verdict
// carries only the successful votes.
func (c *Council) Analyze(ctx context.Context, message, contextStr, sessionID string, turn int) core.Verdict {
	started := time.Now()
	votes := make([]core.Vote, len(c.voters))

	var wg sync.WaitGroup
	for i, v := range c.voters {
		wg.Add(1)
		go func(i int, v *Voter) {
			defer wg.Done()
			votes[i] = v.Vote(ctx, message, contextStr, sessionID, turn)
		}(i, v)
	}
	wg.Wait()

	verdict := Aggregate(votes)
	c.logger.Printf("📡 session %s turn %d: %d/%d voters ok, %d scam votes, verdict=%v conf=%.2f type=%s (%s)",
		sessionID, turn, verdict.VoterCount, len(c.voters), verdict.ScamVotes,
		verdict.IsScam, verdict.Confidence, verdict.ScamType, time.Since(started).Round(time.Millisecond))
	return verdict
}

// Aggregate condenses votes into a verdict. Deterministic: the same
// votes always produce the same verdict.
//
// A scam verdict needs a strict majority of the successful voters and
// at least two scam votes; ties stay safe. Confidence pools only the
// scam voters, taking the smaller of their average and maximum, and a
// verdict pooled below 0.5 is demoted to safe.
func Aggregate(votes []core.Vote) core.Verdict {
	var ok []core.Vote
	for _, v := range votes {
		if !v.Failed {
			ok = append(ok, v)
		}
	}

	var scamVotes int
	var sum, max float64
	typeCounts := make(map[string]int)
	var typeOrder []string
	for _, v := range ok {
		if !v.IsScam {
			continue
		}
		scamVotes++
		sum += v.Confidence
		if v.Confidence > max {
			max = v.Confidence
		}
		if t := v.ScamType; t != "" && t != "safe" {
			if typeCounts[t] == 0 {
				typeOrder = append(typeOrder, t)
			}
			typeCounts[t]++
		}
	}

	verdict := core.Verdict{
		ScamVotes:  scamVotes,
		VoterCount: len(ok),
		Votes:      ok,
	}

	isScam := scamVotes*2 > len(ok) && scamVotes >= minScamVotes
	if isScam {
		avg := sum / float64(scamVotes)
		confidence := avg
		if max < confidence {
			confidence = max
		}
		if confidence < demoteBelow {
			isScam = false
			confidence = 0
		}
		verdict.Confidence = confidence
	}
	verdict.IsScam = isScam

	verdict.ScamType = "unknown"
	if isScam {
		best := ""
		for _, t := range typeOrder {
			if best == "" || typeCounts[t] > typeCounts[best] {
				best = t
			}
		}
		if best != "" {
			verdict.ScamType = best
		}
	}

	verdict.Reasoning = summariseVotes(ok, scamVotes)
	return verdict
}

// summariseVotes builds a compact human-readable tally for logs and
// the judge prompt.
func summariseVotes(votes []core.Vote, scamVotes int) string {
	if len(votes) == 0 {
		return "no successful voters"
	}
	parts := make([]string, 0, len(votes))
	for _, v := range votes {
		stance := "safe"
		if v.IsScam {
			stance = fmt.Sprintf("scam/%s@%.2f", v.ScamType, v.Confidence)
		}
		parts = append(parts, v.Voter+"="+stance)
	}
	sort.Strings(parts)
	return fmt.Sprintf("%d/%d scam votes: %s", scamVotes, len(votes), strings.Join(parts, ", "))
}

// MergeIntelligence unions the intelligence of every successful vote.
func MergeIntelligence(votes []core.Vote) core.Intelligence {
	var merged core.Intelligence
	for _, v := range votes {
		if v.Failed {
			continue
		}
		merged = merged.Merge(v.Intel)
	}
	return merged
}
