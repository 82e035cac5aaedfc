package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	assert.True(t, healthy)
	assert.Empty(t, statuses)
}

func TestRegistryAggregation(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(_ context.Context) Status {
		return Status{Name: "database", Healthy: true}
	})
	r.Register("events", func(_ context.Context) Status {
		return Status{Name: "events", Healthy: true, Detail: "3 clients"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	assert.True(t, healthy)
	require.Len(t, statuses, 2)
	assert.Equal(t, "database", statuses[0].Name)
}

func TestRegistryOneUnhealthyFailsAggregate(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(_ context.Context) Status {
		return Status{Name: "database", Healthy: false, Detail: "connection refused"}
	})
	r.Register("events", func(_ context.Context) Status {
		return Status{Name: "events", Healthy: true}
	})

	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	require.Len(t, statuses, 2)
	assert.Equal(t, "connection refused", statuses[0].Detail)
}

func TestRegistryBoundsCheckerTime(t *testing.T) {
	r := NewRegistry()
	r.Register("slow", func(ctx context.Context) Status {
		select {
		case <-ctx.Done():
			return Status{Name: "slow", Healthy: false, Detail: ctx.Err().Error()}
		case <-time.After(10 * time.Second):
			return Status{Name: "slow", Healthy: true}
		}
	})

	done := make(chan struct{})
	go func() {
		healthy, _ := r.CheckAll(context.Background())
		assert.False(t, healthy)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("CheckAll did not enforce the per-check timeout")
	}
}
