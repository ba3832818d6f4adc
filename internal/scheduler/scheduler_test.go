package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/zgpcy/cloudspend/internal/tasks"
)

type fakeSubmitter struct {
	billing   atomic.Int32
	instances atomic.Int32
	err       error
}

func (f *fakeSubmitter) GetAllBilling(ctx context.Context) ([]string, error) {
	f.billing.Add(1)
	return []string{"a"}, f.err
}

func (f *fakeSubmitter) GetInstanceCountAll(ctx context.Context) ([]string, error) {
	f.instances.Add(1)
	return nil, f.err
}

func TestStartRunsImmediatelyAndOnInterval(t *testing.T) {
	sub := &fakeSubmitter{}
	s := New(Config{BillingInterval: 5 * time.Millisecond, MetricsInterval: time.Hour}, sub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	assert.Equal(t, int32(1), sub.billing.Load())
	assert.Equal(t, int32(1), sub.instances.Load())

	assert.Eventually(t, func() bool { return sub.billing.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	s.Wait()
	assert.Equal(t, int32(1), sub.instances.Load())
}

func TestStartTwiceIsIgnored(t *testing.T) {
	sub := &fakeSubmitter{}
	s := New(Config{BillingInterval: time.Hour}, sub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	s.Start(ctx)
	assert.Equal(t, int32(1), sub.billing.Load())
	assert.Equal(t, int32(0), sub.instances.Load(), "zero interval disables the job")
}

func TestErrorsDoNotStopTheLoop(t *testing.T) {
	for _, err := range []error{tasks.ErrNoAccounts, errors.New("db down")} {
		sub := &fakeSubmitter{err: err}
		s := New(Config{BillingInterval: time.Millisecond}, sub, nil)
		ctx, cancel := context.WithCancel(context.Background())
		s.Start(ctx)
		assert.Eventually(t, func() bool { return sub.billing.Load() >= 2 }, time.Second, time.Millisecond)
		cancel()
		s.Wait()
	}
}
