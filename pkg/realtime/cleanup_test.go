package realtime

import (
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/josecentenodev/crm-aurelia/pkg/logging"
	"github.com/stretchr/testify/assert"
)

func TestCleanerBoundsFailureRecords(t *testing.T) {
	mock := clock.NewMock()
	c := newCleaner(&stubTransport{}, mock, 0, newMetrics().teardownFailures, logging.NewNopLogger())

	for i := 0; i <= maxTeardownFailures; i++ {
		c.record(fmt.Sprintf("conv-%d", i), "remove", fmt.Errorf("gone"))
		mock.Add(time.Second)
	}

	failures := c.snapshot()
	assert.Len(t, failures, maxTeardownFailures)
	assert.NotContains(t, failures, "conv-0")
	assert.Contains(t, failures, fmt.Sprintf("conv-%d", maxTeardownFailures))

	// A repeat failure for a tracked name updates it in place.
	c.record("conv-1", "unsubscribe", fmt.Errorf("again"))
	failures = c.snapshot()
	assert.Len(t, failures, maxTeardownFailures)
	assert.Equal(t, 2, failures["conv-1"].Count)
}
