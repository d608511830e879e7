package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kaushikharsh99/Dropvault/internal/core"
	"github.com/kaushikharsh99/Dropvault/internal/models"
	"github.com/kaushikharsh99/Dropvault/internal/pkg/logger"
)

// ArbiterState is which model family currently holds the accelerator.
type ArbiterState string

const (
	StateIdle         ArbiterState = "idle"
	StateVisionLoaded ArbiterState = "vision-loaded"
	StateSpeechLoaded ArbiterState = "speech-loaded"
)

// Upstream reports work that has not yet reached the arbiter's queues.
type Upstream interface {
	Pending() int
}

// Arbiter is the only goroutine that talks to the accelerator. Vision work
// always goes first; speech runs only once vision and the router are drained.
type Arbiter struct {
	vision core.VisionModel
	speech core.SpeechModel

	visionQ *Queue[Task]
	speechQ *Queue[Task]
	embedQ  *Queue[Task]
	up      Upstream

	batchSize int
	drainWait time.Duration
	idleWait  time.Duration

	mu    sync.Mutex
	state ArbiterState

	life *lifecycle
	log  logger.ILogger
}

func NewArbiter(vision core.VisionModel, speech core.SpeechModel, visionQ, speechQ, embedQ *Queue[Task],
	up Upstream, batchSize int, drainWait time.Duration, life *lifecycle, log logger.ILogger) *Arbiter {

	if batchSize <= 0 {
		batchSize = 12
	}
	if drainWait <= 0 {
		drainWait = 200 * time.Millisecond
	}
	return &Arbiter{
		vision:    vision,
		speech:    speech,
		visionQ:   visionQ,
		speechQ:   speechQ,
		embedQ:    embedQ,
		up:        up,
		batchSize: batchSize,
		drainWait: drainWait,
		idleWait:  time.Second,
		state:     StateIdle,
		life:      life,
		log:       log,
	}
}

func (a *Arbiter) State() ArbiterState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Run loops until ctx is cancelled. On exit whatever family is loaded is unloaded.
func (a *Arbiter) Run(ctx context.Context) {
	defer a.release()
	for ctx.Err() == nil {
		if !a.step(ctx) {
			a.wait(ctx, a.idleWait, a.speechQ.Ready())
		}
	}
}

// step performs one scheduling decision and reports whether it did any work.
func (a *Arbiter) step(ctx context.Context) (worked bool) {
	defer func() {
		if p := recover(); p != nil {
			a.log.Error("arbiter", "scheduling step panicked", map[string]interface{}{"panic": fmt.Sprint(p)})
			worked = true
		}
	}()

	if a.visionQ.Len() > 0 {
		a.runVision(ctx, a.visionQ.PopN(a.batchSize))
		return true
	}
	if a.speechQ.Len() == 0 {
		return false
	}

	// The router may still produce vision work; give it a moment before
	// swapping the accelerator over to speech. Already resident speech runs.
	if a.State() != StateSpeechLoaded && a.up != nil && a.up.Pending() > 0 {
		a.wait(ctx, a.drainWait, nil)
		return true
	}
	if t, ok := a.speechQ.TryPop(); ok {
		a.runSpeech(ctx, t)
	}
	return true
}

func (a *Arbiter) runVision(ctx context.Context, batch []Task) {
	ctx, span := tracer.Start(ctx, "arbiter.vision")
	span.SetAttributes(attribute.Int("batch.size", len(batch)))
	defer span.End()

	ready := make([]Task, 0, len(batch))
	paths := make([]string, 0, len(batch))
	for _, t := range batch {
		target := t.VisionTarget()
		if target == "" {
			a.life.fail(ctx, t, errors.New("no local image to analyze"))
			continue
		}
		a.life.report(ctx, t, models.StageVisual, 40, "Analyzing visuals...")
		ready = append(ready, t)
		paths = append(paths, target)
	}
	if len(ready) == 0 {
		return
	}

	if err := a.ensure(ctx, StateVisionLoaded); err != nil {
		a.failAll(ctx, ready, err)
		return
	}
	results, err := a.vision.AnalyzeImages(ctx, paths)
	if err == nil && len(results) != len(ready) {
		err = fmt.Errorf("vision returned %d results for %d images", len(results), len(ready))
	}
	if err != nil {
		a.failAll(ctx, ready, err)
		return
	}

	for i, t := range ready {
		next := t.WithVision(results[i])
		q := a.embedQ
		if next.Type == models.ItemTypeVideo {
			q = a.speechQ
		}
		if err := q.Push(next); err != nil {
			a.life.fail(ctx, next, err)
		}
	}
}

func (a *Arbiter) runSpeech(ctx context.Context, t Task) {
	ctx, span := tracer.Start(ctx, "arbiter.speech")
	span.SetAttributes(attribute.String("item.id", t.ItemID))
	defer span.End()

	if t.LocalPath == "" {
		a.life.fail(ctx, t, errors.New("no local media to transcribe"))
		return
	}
	a.life.report(ctx, t, models.StageWhisper, 70, "Transcribing...")

	if err := a.ensure(ctx, StateSpeechLoaded); err != nil {
		a.life.fail(ctx, t, err)
		return
	}
	text, err := a.speech.Transcribe(ctx, t.LocalPath)
	if err != nil {
		a.life.fail(ctx, t, fmt.Errorf("transcribe: %w", err))
		return
	}
	if err := a.embedQ.Push(t.WithTranscript(text)); err != nil {
		a.life.fail(ctx, t, err)
	}
}

// ensure makes target the resident family, unloading the other one first.
func (a *Arbiter) ensure(ctx context.Context, target ArbiterState) error {
	a.mu.Lock()
	current := a.state
	a.mu.Unlock()
	if current == target {
		return nil
	}

	if err := a.unload(ctx, current); err != nil {
		a.log.Warn("arbiter", "unload failed", map[string]interface{}{"state": string(current), "error": err.Error()})
	}
	a.setState(StateIdle)

	var err error
	switch target {
	case StateVisionLoaded:
		err = a.vision.Load(ctx)
	case StateSpeechLoaded:
		err = a.speech.Load(ctx)
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", target, err)
	}
	a.setState(target)
	a.log.Info("arbiter", "model family loaded", map[string]interface{}{"state": string(target)})
	return nil
}

func (a *Arbiter) unload(ctx context.Context, s ArbiterState) error {
	switch s {
	case StateVisionLoaded:
		return a.vision.Unload(ctx)
	case StateSpeechLoaded:
		return a.speech.Unload(ctx)
	}
	return nil
}

func (a *Arbiter) release() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.unload(ctx, a.State()); err != nil {
		a.log.Warn("arbiter", "unload on shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	a.setState(StateIdle)
}

func (a *Arbiter) setState(s ArbiterState) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

func (a *Arbiter) failAll(ctx context.Context, tasks []Task, err error) {
	for _, t := range tasks {
		a.life.fail(ctx, t, err)
	}
}

// wait sleeps for d or until vision work (or anything on extra) shows up.
// A nil extra channel never fires.
func (a *Arbiter) wait(ctx context.Context, d time.Duration, extra <-chan struct{}) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-a.visionQ.Ready():
	case <-extra:
	case <-timer.C:
	}
}
