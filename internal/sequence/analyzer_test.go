package sequence

import (
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/riskwatch/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 15, 14, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestAnalyzer(t *testing.T, clock *fakeClock, opts ...Option) *Analyzer {
	t.Helper()
	opts = append([]Option{WithClock(clock.Now), WithLogger(log.New(io.Discard))}, opts...)
	return NewAnalyzer(10, 5*time.Minute, opts...)
}

func cmd(id, session string, types ...model.ActionType) model.CommandContext {
	actions := make([]model.Action, len(types))
	for i, at := range types {
		actions[i] = model.Action{ActionType: at, Name: fmt.Sprintf("step-%d", i)}
	}
	return model.CommandContext{CommandID: id, CommandName: "cmd-" + id, SessionID: session, Actions: actions}
}

func findAlert(alerts []Alert, pattern string) (Alert, bool) {
	for _, a := range alerts {
		if a.Pattern == pattern {
			return a, true
		}
	}
	return Alert{}, false
}

func TestReconnaissanceFiresAtThresholdBoundary(t *testing.T) {
	a := newTestAnalyzer(t, newFakeClock())

	assert.Empty(t, a.AddCommand(cmd("1", "s1", model.ActionIORead)))
	assert.Empty(t, a.AddCommand(cmd("2", "s1", model.ActionIORead)))

	alerts := a.AddCommand(cmd("3", "s1", model.ActionIORead))
	recon, ok := findAlert(alerts, PatternReconnaissance)
	require.True(t, ok, "confidence equal to threshold must fire")
	assert.Equal(t, 0.5, recon.Confidence)
	assert.Equal(t, model.Medium, recon.Severity)
	assert.Equal(t, []string{"1", "2", "3"}, recon.CommandsInvolved)
	assert.Len(t, alerts, 1)
}

func TestBelowThresholdDoesNotFire(t *testing.T) {
	p := Pattern{
		Name:                "strict",
		Triggers:            [][]model.ActionType{{model.ActionIORead}},
		ConfidenceThreshold: 0.51,
	}
	a := newTestAnalyzer(t, newFakeClock(), WithPatterns([]Pattern{p}))
	assert.Empty(t, a.AddCommand(cmd("1", "s", model.ActionIORead)))
}

func TestMatchConfidenceComponents(t *testing.T) {
	p := Pattern{
		Triggers: [][]model.ActionType{{model.ActionIORead, model.ActionExternalCall}},
		Keywords: []string{"upload", "send", "export", "curl", "scp", "post"},
	}

	// Subsequence only.
	cmds := []model.CommandContext{cmd("1", "s", model.ActionIORead, model.ActionExternalCall)}
	assert.Equal(t, 0.5, Match(p, cmds))

	// Keywords only: 2 hits.
	cmds = []model.CommandContext{{CommandName: "upload then send", Actions: []model.Action{{ActionType: model.ActionCompute}}}}
	assert.Equal(t, 0.2, Match(p, cmds))

	// Keyword bonus caps at 0.4.
	cmds = []model.CommandContext{{CommandName: "upload send export curl scp post"}}
	assert.Equal(t, 0.4, Match(p, cmds))

	// Subsequence must be contiguous.
	cmds = []model.CommandContext{cmd("1", "s", model.ActionIORead, model.ActionCompute, model.ActionExternalCall)}
	assert.Equal(t, 0.0, Match(p, cmds))

	// Length bonus at five action types, clamped at 1.0.
	cmds = []model.CommandContext{
		cmd("1", "s", model.ActionIORead, model.ActionExternalCall, model.ActionCompute, model.ActionCompute, model.ActionCompute),
	}
	cmds[0].CommandName = "upload send export curl scp"
	assert.Equal(t, 1.0, Match(p, cmds))
}

func TestMatchSpansCommands(t *testing.T) {
	p := Catalog()[1] // data exfiltration
	require.Equal(t, PatternDataExfiltration, p.Name)
	cmds := []model.CommandContext{
		cmd("1", "s", model.ActionIORead),
		cmd("2", "s", model.ActionExternalCall),
	}
	assert.Equal(t, 0.5, Match(p, cmds))
}

func TestDataExfiltrationWithKeywords(t *testing.T) {
	a := newTestAnalyzer(t, newFakeClock())

	read := model.CommandContext{CommandID: "r", CommandName: "read customers", SessionID: "s",
		Actions: []model.Action{{ActionType: model.ActionIORead}}}
	send := model.CommandContext{CommandID: "u", CommandName: "upload via curl", SessionID: "s",
		Actions: []model.Action{{ActionType: model.ActionExternalCall}}}

	a.AddCommand(read)
	alerts := a.AddCommand(send)

	exfil, ok := findAlert(alerts, PatternDataExfiltration)
	require.True(t, ok)
	assert.Equal(t, 0.7, exfil.Confidence)
	assert.Equal(t, model.Critical, exfil.Severity)
	assert.Equal(t, "s", exfil.SessionID)
}

func TestSessionsAreIsolated(t *testing.T) {
	a := newTestAnalyzer(t, newFakeClock())
	a.AddCommand(cmd("1", "a", model.ActionIORead))
	a.AddCommand(cmd("2", "b", model.ActionIORead))
	alerts := a.AddCommand(cmd("3", "a", model.ActionIORead))
	assert.Empty(t, alerts)
	assert.Equal(t, []string{"a", "b"}, a.ActiveSessions())
}

func TestWindowSizeBound(t *testing.T) {
	clock := newFakeClock()
	a := NewAnalyzer(3, time.Hour, WithClock(clock.Now), WithLogger(log.New(io.Discard)))
	for i := 0; i < 7; i++ {
		a.AddCommand(cmd(fmt.Sprint(i), "s", model.ActionCompute))
	}
	sum, ok := a.SessionSummary("s")
	require.True(t, ok)
	assert.Equal(t, 3, sum.CommandCount)
	assert.Equal(t, []string{"4", "5", "6"}, sum.CommandIDs)
}

func TestTimeWindowEviction(t *testing.T) {
	clock := newFakeClock()
	a := newTestAnalyzer(t, clock)

	a.AddCommand(cmd("old-1", "s", model.ActionIORead))
	a.AddCommand(cmd("old-2", "s", model.ActionIORead))
	clock.Advance(6 * time.Minute)

	alerts := a.AddCommand(cmd("new", "s", model.ActionIORead))
	assert.Empty(t, alerts, "expired reads must not count toward reconnaissance")

	sum, ok := a.SessionSummary("s")
	require.True(t, ok)
	assert.Equal(t, []string{"new"}, sum.CommandIDs)
}

func TestNoEntryOlderThanWindowAfterAdd(t *testing.T) {
	clock := newFakeClock()
	a := newTestAnalyzer(t, clock)

	for i := 0; i < 20; i++ {
		a.AddCommand(cmd(fmt.Sprint(i), "s", model.ActionCompute))
		clock.Advance(47 * time.Second)

		s := a.lockSession("s", false)
		require.NotNil(t, s)
		now := clock.Now()
		for _, e := range s.entries {
			assert.LessOrEqual(t, now.Sub(e.at)-47*time.Second, 5*time.Minute)
		}
		s.mu.Unlock()
	}
}

func TestEvictionFollowsCommandTimestamps(t *testing.T) {
	clock := newFakeClock()
	a := newTestAnalyzer(t, clock)

	// Replayed history: the analyzer clock never moves, the commands are
	// half an hour apart.
	base := clock.Now().Add(-2 * time.Hour)
	var alerts []Alert
	for i := 0; i < 3; i++ {
		c := cmd(fmt.Sprint(i), "replay", model.ActionIORead)
		c.Timestamp = base.Add(time.Duration(i) * 30 * time.Minute)
		alerts = a.AddCommand(c)
	}
	_, ok := findAlert(alerts, PatternReconnaissance)
	assert.False(t, ok, "reads outside the window must not correlate")

	s := a.lockSession("replay", false)
	require.NotNil(t, s)
	require.Len(t, s.entries, 1)
	assert.Equal(t, base.Add(time.Hour), s.entries[0].at)
	s.mu.Unlock()

	// Same spacing inside the window does correlate.
	for i := 0; i < 3; i++ {
		c := cmd(fmt.Sprint(i), "burst", model.ActionIORead)
		c.Timestamp = base.Add(time.Duration(i) * time.Minute)
		alerts = a.AddCommand(c)
	}
	_, ok = findAlert(alerts, PatternReconnaissance)
	assert.True(t, ok)
}

func TestZeroTimestampUsesClock(t *testing.T) {
	clock := newFakeClock()
	a := newTestAnalyzer(t, clock)

	a.AddCommand(cmd("1", "s", model.ActionCompute))
	sum, ok := a.SessionSummary("s")
	require.True(t, ok)
	assert.Equal(t, clock.Now(), sum.FirstSeen)
}

func TestBusySessionDoesNotStallOthers(t *testing.T) {
	a := newTestAnalyzer(t, newFakeClock())
	a.AddCommand(cmd("0", "busy", model.ActionCompute))

	busy := a.lockSession("busy", false)
	require.NotNil(t, busy)

	blocked := make(chan struct{})
	go func() {
		defer close(blocked)
		a.AddCommand(cmd("1", "busy", model.ActionCompute))
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.AddCommand(cmd("1", "other", model.ActionCompute))
		a.ActiveSessions()
		a.SessionSummary("other")
	}()
	require.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)

	busy.mu.Unlock()
	<-blocked
	sum, ok := a.SessionSummary("busy")
	require.True(t, ok)
	assert.Equal(t, 2, sum.CommandCount)
}

func TestClearWhileWaitingStartsFreshSession(t *testing.T) {
	a := newTestAnalyzer(t, newFakeClock())
	a.AddCommand(cmd("0", "s", model.ActionCompute))

	held := a.lockSession("s", false)
	require.NotNil(t, held)

	added := make(chan struct{})
	go func() {
		defer close(added)
		a.AddCommand(cmd("1", "s", model.ActionCompute))
	}()

	// Remove the session while the adder waits on it.
	a.remove("s", held)
	held.mu.Unlock()
	<-added

	sum, ok := a.SessionSummary("s")
	require.True(t, ok)
	assert.Equal(t, []string{"1"}, sum.CommandIDs)
}

func TestSessionSummary(t *testing.T) {
	clock := newFakeClock()
	a := newTestAnalyzer(t, clock)

	c1 := cmd("1", "s", model.ActionIORead, model.ActionCompute)
	c1.Assessment = &model.RiskAssessment{Profile: model.RiskProfile{Level: model.Low}}
	c2 := cmd("2", "s", model.ActionExternalCall)
	c2.Assessment = &model.RiskAssessment{Profile: model.RiskProfile{Level: model.High}}

	a.AddCommand(c1)
	clock.Advance(time.Second)
	a.AddCommand(c2)

	sum, ok := a.SessionSummary("s")
	require.True(t, ok)
	assert.Equal(t, 2, sum.CommandCount)
	assert.Equal(t, 1, sum.ActionTypeCounts[model.ActionIORead])
	assert.Equal(t, 1, sum.ActionTypeCounts[model.ActionExternalCall])
	assert.Equal(t, 1, sum.RiskLevelCounts[model.High])
	assert.Equal(t, model.High, sum.WorstLevel)
	assert.Equal(t, time.Second, sum.LastSeen.Sub(sum.FirstSeen))

	_, ok = a.SessionSummary("missing")
	assert.False(t, ok)
}

func TestClearSessionAndPrune(t *testing.T) {
	clock := newFakeClock()
	a := newTestAnalyzer(t, clock)

	a.AddCommand(cmd("1", "keep", model.ActionIORead))
	a.AddCommand(cmd("2", "drop", model.ActionIORead))
	a.AddCommand(cmd("3", "", model.ActionIORead))

	assert.True(t, a.ClearSession("drop"))
	assert.False(t, a.ClearSession("drop"))
	assert.Equal(t, []string{"default", "keep"}, a.ActiveSessions())

	clock.Advance(10 * time.Minute)
	assert.Equal(t, 2, a.PruneExpired())
	assert.Empty(t, a.ActiveSessions())
}

func TestCatalogIsCopied(t *testing.T) {
	c := Catalog()
	c[0].Keywords[0] = "mutated"
	c[0].Triggers[0][0] = model.ActionCompute
	assert.NotEqual(t, "mutated", catalog[0].Keywords[0])
	assert.NotEqual(t, model.ActionCompute, catalog[0].Triggers[0][0])
	assert.Len(t, c, 6)
}

func TestConfidenceAlwaysInUnitRange(t *testing.T) {
	all := []model.ActionType{
		model.ActionIORead, model.ActionIOWrite, model.ActionIODelete, model.ActionSystemCommand,
		model.ActionPrivilegeChange, model.ActionStateChange, model.ActionExternalCall,
	}
	var cmds []model.CommandContext
	for i, at := range all {
		c := cmd(fmt.Sprint(i), "s", at, at)
		c.CommandName = "sudo upload wipe bypass scan cron delete remove drop"
		cmds = append(cmds, c)
	}
	for _, p := range Catalog() {
		conf := Match(p, cmds)
		assert.GreaterOrEqual(t, conf, 0.0, p.Name)
		assert.LessOrEqual(t, conf, 1.0, p.Name)
	}
}

func TestConcurrentSessions(t *testing.T) {
	a := newTestAnalyzer(t, newFakeClock())
	var wg sync.WaitGroup
	for s := 0; s < 8; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			id := fmt.Sprintf("s-%d", s)
			for i := 0; i < 50; i++ {
				a.AddCommand(cmd(fmt.Sprint(i), id, model.ActionIORead))
				if i%10 == 0 {
					a.SessionSummary(id)
				}
			}
		}(s)
	}
	wg.Wait()
	assert.Len(t, a.ActiveSessions(), 8)
	for _, id := range a.ActiveSessions() {
		sum, _ := a.SessionSummary(id)
		assert.Equal(t, 10, sum.CommandCount)
	}
}
