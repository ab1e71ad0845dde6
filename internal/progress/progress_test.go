package progress

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReporter_TracksCountAndPercent(t *testing.T) {
	r := NewReporter(context.Background(), "pass1", 200, 0)
	r.Add(50)
	assert.EqualValues(t, 50, r.Count())
	assert.Equal(t, 25, r.Percent())
}

func TestReporter_TotalGrowsWhenOvertaken(t *testing.T) {
	r := NewReporter(context.Background(), "pass1", 100, 0)
	r.Add(150)

	assert.Greater(t, r.Total(), r.Count(), "total must stay ahead of the count")
	assert.LessOrEqual(t, r.Percent(), 100)
}

func TestReporter_FinishSnapsTotalToCount(t *testing.T) {
	r := NewReporter(context.Background(), "pass1", 500, 0)
	r.Add(321)
	r.Finish()

	assert.EqualValues(t, 321, r.Total())
	assert.Equal(t, 100, r.Percent())
}

func TestReporter_IgnoresNonPositiveAdds(t *testing.T) {
	r := NewReporter(context.Background(), "pass1", 10, 0)
	r.Add(0)
	r.Add(-3)
	assert.EqualValues(t, 0, r.Count())
}

func TestReporter_ZeroTotalPercent(t *testing.T) {
	r := NewReporter(context.Background(), "pass1", 0, 0)
	assert.Equal(t, 0, r.Percent())
}
