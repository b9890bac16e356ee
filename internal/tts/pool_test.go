package tts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSynth struct {
	audio []byte
	err   error
	delay time.Duration
}

func (f *fakeSynth) Synthesize(ctx context.Context, text, speakerID string, speed float64, format string) ([]byte, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.audio, nil
}

func TestPool_SubmitDeliversResultToSink(t *testing.T) {
	synth := &fakeSynth{audio: []byte("audio-bytes")}
	pool := NewPool(Config{Concurrency: 1}, synth, nil, nil)
	defer pool.Close()

	sink := make(chan Result, 1)
	pool.Submit(Request{SessionID: "s1", SentenceOrder: 0, Text: "hi"}, sink)

	select {
	case res := <-sink:
		require.NoError(t, res.Err)
		require.Equal(t, "s1", res.SessionID)
		require.Equal(t, []byte("audio-bytes"), res.Audio)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestPool_CancelledSessionDropsJobBeforeDispatch(t *testing.T) {
	synth := &fakeSynth{audio: []byte("audio")}
	cancelled := func(sessionID string) bool { return sessionID == "cancelled-session" }
	pool := NewPool(Config{Concurrency: 1}, synth, cancelled, nil)
	defer pool.Close()

	sink := make(chan Result, 1)
	pool.Submit(Request{SessionID: "cancelled-session", Text: "hi"}, sink)

	select {
	case <-sink:
		t.Fatal("expected no result for a cancelled session")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPool_FailedSynthesisRecordsDeadLetter(t *testing.T) {
	synth := &fakeSynth{err: errors.New("engine down")}
	dlq := NewDeadLetterQueue(nil)
	pool := NewPool(Config{Concurrency: 1}, synth, nil, dlq)
	defer pool.Close()

	sink := make(chan Result, 1)
	pool.Submit(Request{SessionID: "s1", Text: "hi"}, sink)

	select {
	case res := <-sink:
		require.Error(t, res.Err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}

	require.Eventually(t, func() bool {
		return len(dlq.Recent(10)) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestPool_CloseWaitsForInFlightWorkers(t *testing.T) {
	synth := &fakeSynth{audio: []byte("audio"), delay: 20 * time.Millisecond}
	pool := NewPool(Config{Concurrency: 2}, synth, nil, nil)

	sink := make(chan Result, 4)
	for i := 0; i < 4; i++ {
		pool.Submit(Request{SessionID: "s1", SentenceOrder: i, Text: "hi"}, sink)
	}
	pool.Close()
	require.Len(t, sink, 4)
}
