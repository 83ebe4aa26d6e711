package consensus

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"maestro/internal/messages"
	"maestro/internal/observability"
)

func vote(voter string, approved bool, confidence float64) messages.ConsensusVote {
	return messages.ConsensusVote{
		TaskID: "t1", VoterID: voter, Approved: approved, Confidence: confidence,
	}
}

func await(t *testing.T, ch <-chan messages.ConsensusResult) messages.ConsensusResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no consensus result")
		return messages.ConsensusResult{}
	}
}

// Three votes, split 2-1 with lopsided confidence: each strategy resolves
// differently.
func TestStrategiesOnSplitVote(t *testing.T) {
	votes := []messages.ConsensusVote{
		vote("r1", true, 0.9),
		vote("r2", false, 0.9),
		vote("r3", true, 0.4),
	}
	tests := []struct {
		strategy string
		want     bool
	}{
		{StrategyMajority, true},   // 2 > 1
		{StrategyUnanimous, false}, // one rejection
		{StrategyWeighted, true},   // 1.3 > 0.9
	}
	for _, tt := range tests {
		t.Run(tt.strategy, func(t *testing.T) {
			c := NewCollector(nil, nil)
			ch := c.Open("t1", 3, tt.strategy)
			for _, v := range votes {
				c.Vote(v)
			}
			r := await(t, ch)
			if r.Approved != tt.want {
				t.Errorf("approved = %v, want %v", r.Approved, tt.want)
			}
			if len(r.Votes) != 3 || r.TimedOut {
				t.Errorf("result = %+v", r)
			}
		})
	}
}

func TestDuplicateVoterIgnored(t *testing.T) {
	c := NewCollector(nil, nil)
	ch := c.Open("t1", 2, StrategyMajority)
	c.Vote(vote("r1", false, 0.9))
	c.Vote(vote("r1", true, 0.9)) // ignored
	c.Vote(vote("r2", true, 0.9))

	r := await(t, ch)
	if len(r.Votes) != 2 {
		t.Fatalf("votes = %d, want 2", len(r.Votes))
	}
	if r.Approved {
		t.Error("1-1 split must not approve under majority")
	}
}

func TestEarlyVotesBufferedAndReplayed(t *testing.T) {
	c := NewCollector(nil, nil)
	c.Vote(vote("r1", true, 0.8))
	c.Vote(vote("r2", true, 0.7))

	ch := c.Open("t1", 2, StrategyUnanimous)
	r := await(t, ch)
	if !r.Approved || len(r.Votes) != 2 {
		t.Errorf("result = %+v", r)
	}
}

func TestDeadlineWithNoVotesRejects(t *testing.T) {
	c := NewCollector(nil, nil, WithDeadline(20*time.Millisecond))
	ch := c.Open("t1", 3, StrategyMajority)

	r := await(t, ch)
	if r.Approved || !r.TimedOut || len(r.Votes) != 0 {
		t.Errorf("result = %+v", r)
	}
}

func TestDeadlineResolvesWithPartialVotes(t *testing.T) {
	c := NewCollector(nil, nil, WithDeadline(20*time.Millisecond))
	ch := c.Open("t1", 3, StrategyMajority)
	c.Vote(vote("r1", true, 0.9))

	r := await(t, ch)
	if !r.TimedOut || !r.Approved || len(r.Votes) != 1 {
		t.Errorf("result = %+v", r)
	}
}

func TestConfidenceClamped(t *testing.T) {
	c := NewCollector(nil, nil)
	ch := c.Open("t1", 2, StrategyWeighted)
	c.Vote(vote("r1", true, 0.4))
	c.Vote(vote("r2", false, -3.0)) // would invert the sum unclamped

	r := await(t, ch)
	if !r.Approved {
		t.Error("negative confidence must clamp to 0, leaving 0.4 > 0")
	}
	for _, v := range r.Votes {
		if v.Confidence < 0 || v.Confidence > 1 {
			t.Errorf("vote confidence %v escaped clamp", v.Confidence)
		}
	}
}

func TestCancelDropsSessionSilently(t *testing.T) {
	c := NewCollector(nil, nil, WithDeadline(20*time.Millisecond))
	ch := c.Open("t1", 1, StrategyMajority)
	c.Cancel("t1")
	c.Vote(vote("r1", true, 0.9)) // buffered for a future session, not this one

	select {
	case r := <-ch:
		t.Fatalf("cancelled session delivered %+v", r)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestResolvedRoundsReachTheCollectorMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := observability.NewMetricsCollector(true, reg)
	if err != nil {
		t.Fatal(err)
	}
	c := NewCollector(nil, nil, WithMetrics(m))
	ch := c.Open("t1", 1, StrategyMajority)
	c.Vote(vote("r1", true, 0.9))
	await(t, ch)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), "maestro_consensus_rounds") {
			return
		}
	}
	t.Error("no consensus round recorded on the registry")
}

func TestReopenWithExtraVoteForSecondOpinion(t *testing.T) {
	c := NewCollector(nil, nil)
	first := c.Open("t1", 2, StrategyMajority)
	c.Cancel("t1")

	second := c.Open("t1", 3, StrategyMajority)
	c.Vote(vote("r1", true, 0.9))
	c.Vote(vote("r2", true, 0.8))
	c.Vote(vote("r3", false, 0.5))

	r := await(t, second)
	if !r.Approved || len(r.Votes) != 3 {
		t.Errorf("result = %+v", r)
	}
	select {
	case <-first:
		t.Error("first session should stay silent after cancel")
	default:
	}
}
