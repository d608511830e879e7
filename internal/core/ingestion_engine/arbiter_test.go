package ingestion_engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaushikharsh99/Dropvault/internal/models"
	"github.com/kaushikharsh99/Dropvault/internal/pkg/logger"
)

type arbiterFixture struct {
	arbiter                  *Arbiter
	visionQ, speechQ, embedQ *Queue[Task]
	vision                   *fakeVision
	speech                   *fakeSpeech
	calls                    *callLog
	progress                 *fakeProgress
	up                       *fakeUpstream
}

func newArbiterFixture(batch int) *arbiterFixture {
	calls := &callLog{}
	f := &arbiterFixture{
		visionQ:  NewQueue[Task](),
		speechQ:  NewQueue[Task](),
		embedQ:   NewQueue[Task](),
		vision:   &fakeVision{log: calls, caption: "a chart", tags: []string{"chart"}},
		speech:   &fakeSpeech{log: calls, text: "hello there"},
		calls:    calls,
		progress: &fakeProgress{},
		up:       &fakeUpstream{},
	}
	f.arbiter = NewArbiter(f.vision, f.speech, f.visionQ, f.speechQ, f.embedQ, f.up,
		batch, 10*time.Millisecond, newTestLifecycle(f.progress), logger.NewNopLogger())
	return f
}

func imageTask(id string) Task {
	return Task{ItemID: id, Type: models.ItemTypeImage, LocalPath: "/tmp/" + id + ".png"}
}

func audioTask(id string) Task {
	return Task{ItemID: id, Type: models.ItemTypeAudio, LocalPath: "/tmp/" + id + ".mp3"}
}

func TestArbiter_VisionPreemptsSpeech(t *testing.T) {
	f := newArbiterFixture(12)
	ctx := context.Background()
	require.NoError(t, f.speechQ.Push(audioTask("a1")))
	require.NoError(t, f.visionQ.Push(imageTask("i1")))

	require.True(t, f.arbiter.step(ctx))
	assert.Equal(t, 1, f.speechQ.Len(), "speech must wait while vision is queued")
	assert.Equal(t, StateVisionLoaded, f.arbiter.State())

	require.True(t, f.arbiter.step(ctx))
	assert.Equal(t, 0, f.speechQ.Len())
	assert.Equal(t, StateSpeechLoaded, f.arbiter.State())

	assert.Equal(t, []string{
		"vision.load", "vision.analyze",
		"vision.unload", "speech.load", "speech.transcribe",
	}, f.calls.all())
	assert.Equal(t, 2, f.embedQ.Len())
}

func TestArbiter_BatchesVision(t *testing.T) {
	f := newArbiterFixture(12)
	for i := 0; i < 15; i++ {
		require.NoError(t, f.visionQ.Push(imageTask(string(rune('a'+i)))))
	}

	f.arbiter.step(context.Background())
	f.arbiter.step(context.Background())

	require.Len(t, f.vision.batches, 2)
	assert.Len(t, f.vision.batches[0], 12)
	assert.Len(t, f.vision.batches[1], 3)
	assert.Equal(t, 15, f.embedQ.Len())
	assert.Equal(t, []string{"vision.load", "vision.analyze", "vision.analyze"}, f.calls.all())
}

func TestArbiter_SpeechWaitsForUpstream(t *testing.T) {
	f := newArbiterFixture(12)
	f.up.n = 1
	require.NoError(t, f.speechQ.Push(audioTask("a1")))

	start := time.Now()
	assert.True(t, f.arbiter.step(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	assert.Equal(t, 1, f.speechQ.Len())
	assert.Empty(t, f.calls.all())

	f.up.n = 0
	f.arbiter.step(context.Background())
	assert.Equal(t, 0, f.speechQ.Len())
}

func TestArbiter_IdleWithoutWork(t *testing.T) {
	f := newArbiterFixture(12)
	assert.False(t, f.arbiter.step(context.Background()))
	assert.Equal(t, StateIdle, f.arbiter.State())
}

func TestArbiter_VideoGoesToSpeechAfterVision(t *testing.T) {
	f := newArbiterFixture(12)
	video := Task{ItemID: "v1", Type: models.ItemTypeVideo, LocalPath: "/tmp/v.mp4", LocalThumb: "/tmp/v.jpg"}
	require.NoError(t, f.visionQ.Push(video))

	f.arbiter.step(context.Background())
	require.Equal(t, 1, f.speechQ.Len())
	assert.Equal(t, []string{"/tmp/v.jpg"}, f.vision.batches[0])

	f.arbiter.step(context.Background())
	next, ok := f.embedQ.TryPop()
	require.True(t, ok)
	assert.Equal(t, "a chart", next.VisionCaption)
	assert.Equal(t, "hello there", next.Transcript)
}

func TestArbiter_BatchFailureFailsEachTask(t *testing.T) {
	f := newArbiterFixture(12)
	f.vision.err = errBoom
	require.NoError(t, f.visionQ.Push(imageTask("i1")))
	require.NoError(t, f.visionQ.Push(imageTask("i2")))

	assert.NotPanics(t, func() { f.arbiter.step(context.Background()) })

	for _, id := range []string{"i1", "i2"} {
		p, ok := f.progress.last(id)
		require.True(t, ok)
		assert.Equal(t, models.StatusFailed, p.Status)
	}
	assert.Equal(t, 0, f.embedQ.Len())
}

func TestArbiter_MissingImageFailsOnlyThatTask(t *testing.T) {
	f := newArbiterFixture(12)
	require.NoError(t, f.visionQ.Push(Task{ItemID: "bad", Type: models.ItemTypeImage}))
	require.NoError(t, f.visionQ.Push(imageTask("good")))

	f.arbiter.step(context.Background())

	bad, _ := f.progress.last("bad")
	assert.Equal(t, models.StatusFailed, bad.Status)
	require.Equal(t, 1, f.embedQ.Len())
	assert.Equal(t, [][]string{{"/tmp/good.png"}}, f.vision.batches)
}

func TestArbiter_LoadFailureFailsBatch(t *testing.T) {
	f := newArbiterFixture(12)
	f.vision.loadErr = errBoom
	require.NoError(t, f.visionQ.Push(imageTask("i1")))

	f.arbiter.step(context.Background())

	p, _ := f.progress.last("i1")
	assert.Equal(t, models.StatusFailed, p.Status)
	assert.Equal(t, StateIdle, f.arbiter.State())
}

func TestArbiter_RunUnloadsOnExit(t *testing.T) {
	f := newArbiterFixture(12)
	require.NoError(t, f.visionQ.Push(imageTask("i1")))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.arbiter.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return f.embedQ.Len() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	calls := f.calls.all()
	assert.Equal(t, "vision.unload", calls[len(calls)-1])
	assert.Equal(t, StateIdle, f.arbiter.State())
}

func TestArbiter_ResidentSpeechSkipsUpstreamWait(t *testing.T) {
	f := newArbiterFixture(12)
	require.NoError(t, f.speechQ.Push(audioTask("a1")))
	f.arbiter.step(context.Background())
	require.Equal(t, StateSpeechLoaded, f.arbiter.State())

	f.up.n = 3
	require.NoError(t, f.speechQ.Push(audioTask("a2")))

	start := time.Now()
	assert.True(t, f.arbiter.step(context.Background()))
	assert.Less(t, time.Since(start), 10*time.Millisecond)
	assert.Equal(t, 0, f.speechQ.Len())
	assert.Equal(t, []string{"speech.load", "speech.transcribe", "speech.transcribe"}, f.calls.all())
}

func TestArbiter_CancelledBatchIsNotFailed(t *testing.T) {
	f := newArbiterFixture(12)
	require.NoError(t, f.visionQ.Push(imageTask("i1")))
	require.NoError(t, f.speechQ.Push(audioTask("a1")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.vision.err = ctx.Err()
	f.speech.err = ctx.Err()

	f.arbiter.step(ctx)
	f.arbiter.step(ctx)

	for _, id := range []string{"i1", "a1"} {
		p, ok := f.progress.last(id)
		require.True(t, ok, id)
		assert.Equal(t, models.StatusProcessing, p.Status, id)
	}
	assert.Equal(t, 0, f.embedQ.Len())
}
