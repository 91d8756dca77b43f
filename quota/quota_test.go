package quota

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelgalvisc/clawkernel/clock"
	"github.com/angelgalvisc/clawkernel/schema"
)

func TestUnlimited(t *testing.T) {
	c := New()
	for i := 0; i < 100; i++ {
		assert.True(t, c.Check("echo").Allowed)
	}
}

func TestExhausted(t *testing.T) {
	c := New(WithExhausted("expensive-tool"))
	r := c.Check("expensive-tool")
	assert.False(t, r.Allowed)
	assert.Contains(t, r.Message, "Provider quota exceeded")
	assert.True(t, c.Check("echo").Allowed)
}

func TestToolRate(t *testing.T) {
	fc := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	c := New(WithClock(fc), WithToolCallsPerMinute("search", 2))

	assert.True(t, c.Check("search").Allowed)
	assert.True(t, c.Check("search").Allowed)
	r := c.Check("search")
	assert.False(t, r.Allowed)
	assert.Equal(t, "Provider quota exceeded: rate limit for search", r.Message)
	assert.True(t, c.Check("other").Allowed)

	fc.Advance(30 * time.Second)
	assert.True(t, c.Check("search").Allowed)
}

func TestGlobalRateFromPolicy(t *testing.T) {
	fc := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	opts := append(FromPolicy(&schema.PolicySpec{RateLimits: &schema.PolicyRateLimits{ToolCallsPerMinute: 3}}, nil), WithClock(fc))
	c := New(opts...)

	for i := 0; i < 3; i++ {
		assert.True(t, c.Check("t"+string(rune('a'+i))).Allowed)
	}
	assert.False(t, c.Check("td").Allowed)
}

func TestDailyBudgetResets(t *testing.T) {
	fc := clock.Fake(time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC))
	c := New(WithClock(fc), WithDailyCalls("translate", 2))

	assert.True(t, c.Check("translate").Allowed)
	assert.True(t, c.Check("translate").Allowed)
	r := c.Check("translate")
	assert.False(t, r.Allowed)
	assert.Contains(t, r.Message, "daily budget for translate is spent")

	fc.Advance(time.Hour)
	assert.True(t, c.Check("translate").Allowed)
}

func TestDeniedCallKeepsToolBudget(t *testing.T) {
	fc := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	c := New(WithClock(fc), WithCallsPerMinute(60), WithToolCallsPerMinute("search", 1), WithDailyCalls("search", 5))

	for i := 0; i < 60; i++ {
		require.True(t, c.Check("other").Allowed)
	}
	for i := 0; i < 5; i++ {
		r := c.Check("search")
		require.False(t, r.Allowed)
		assert.Equal(t, "Provider quota exceeded: tool call rate limit", r.Message)
	}

	// one global token refills per second; the tool limit was never spent
	fc.Advance(time.Second)
	assert.True(t, c.Check("search").Allowed)

	fc.Advance(time.Second)
	r := c.Check("search")
	assert.False(t, r.Allowed)
	assert.Equal(t, "Provider quota exceeded: rate limit for search", r.Message)
}
