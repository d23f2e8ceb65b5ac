package rungroup

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sentinelsh/sentinel/pkg/log/multislogger"
)

func TestRun_NoActors(t *testing.T) {
	t.Parallel()

	testRunGroup := NewRunGroup(multislogger.NewNopLogger())
	require.NoError(t, testRunGroup.Run())
}

func TestRun_MultipleActors(t *testing.T) {
	t.Parallel()

	testRunGroup := NewRunGroup(multislogger.NewNopLogger())

	groupReceivedInterrupts := make(chan struct{}, 3)

	// First actor blocks until interrupted.
	firstActorStop := make(chan struct{})
	testRunGroup.Add("blockingActor", func() error {
		<-firstActorStop
		return nil
	}, func(error) {
		groupReceivedInterrupts <- struct{}{}
		close(firstActorStop)
	})

	// Second actor returns an error, which should bring the group down.
	expectedError := errors.New("test error from interruptingActor")
	testRunGroup.Add("interruptingActor", func() error {
		time.Sleep(100 * time.Millisecond)
		return expectedError
	}, func(error) {
		groupReceivedInterrupts <- struct{}{}
	})

	// Third actor also blocks until interrupted.
	thirdActorStop := make(chan struct{})
	testRunGroup.Add("secondBlockingActor", func() error {
		<-thirdActorStop
		return nil
	}, func(error) {
		groupReceivedInterrupts <- struct{}{}
		close(thirdActorStop)
	})

	runCompleted := make(chan error, 1)
	go func() {
		runCompleted <- testRunGroup.Run()
	}()

	select {
	case err := <-runCompleted:
		require.ErrorIs(t, err, expectedError, "group should surface the error that triggered shutdown")
	case <-time.After(30 * time.Second):
		t.Fatal("rungroup did not shut down within timeout")
	}

	require.Len(t, groupReceivedInterrupts, 3, "all actors should have been interrupted")
}

func TestRun_RecoversActorPanic(t *testing.T) {
	t.Parallel()

	testRunGroup := NewRunGroup(multislogger.NewNopLogger())

	stop := make(chan struct{})
	testRunGroup.Add("blockingActor", func() error {
		<-stop
		return nil
	}, func(error) {
		close(stop)
	})

	testRunGroup.Add("panickingActor", func() error {
		panic("watcher exploded")
	}, func(error) {})

	runCompleted := make(chan error, 1)
	go func() {
		runCompleted <- testRunGroup.Run()
	}()

	select {
	case err := <-runCompleted:
		require.Error(t, err)
		require.Contains(t, err.Error(), "panicked")
	case <-time.After(30 * time.Second):
		t.Fatal("rungroup did not recover from actor panic")
	}
}
