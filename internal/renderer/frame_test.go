package renderer

import (
	"fmt"
	"strings"
	"testing"
)

// fakeBackend scripts the presentation engine: images are granted
// round-robin, and acquire/present outcomes can be queued up front. Every
// call is appended to trace so tests can assert on ordering.
type fakeBackend struct {
	imageCount int

	acquireOutcomes []AcquireOutcome
	presentOutcomes []PresentOutcome

	acquires     int
	rebuildCount int

	// rebuildImageCount, when nonzero, is the image count the next rebuild
	// reports (simulates the driver granting a different count).
	rebuildImageCount int

	trace []string
}

func (f *fakeBackend) log(format string, args ...any) {
	f.trace = append(f.trace, fmt.Sprintf(format, args...))
}

func (f *fakeBackend) WaitFrame(slot int) error {
	f.log("wait %d", slot)
	return nil
}

func (f *fakeBackend) ResetFrame(slot int) error {
	f.log("reset %d", slot)
	return nil
}

func (f *fakeBackend) AcquireImage(slot int) (int, AcquireOutcome, error) {
	f.log("acquire %d", slot)

	outcome := AcquireSuccess
	if len(f.acquireOutcomes) > 0 {
		outcome = f.acquireOutcomes[0]
		f.acquireOutcomes = f.acquireOutcomes[1:]
	}
	if outcome == AcquireOutOfDate {
		return 0, outcome, nil
	}

	image := f.acquires % f.imageCount
	f.acquires++
	return image, outcome, nil
}

func (f *fakeBackend) UpdateUniforms(slot int) error {
	f.log("update %d", slot)
	return nil
}

func (f *fakeBackend) RecordCommands(slot, imageIndex int) error {
	f.log("record %d %d", slot, imageIndex)
	return nil
}

func (f *fakeBackend) SubmitCommands(slot, imageIndex int) error {
	f.log("submit %d %d", slot, imageIndex)
	return nil
}

func (f *fakeBackend) PresentImage(slot, imageIndex int) (PresentOutcome, error) {
	f.log("present %d %d", slot, imageIndex)

	outcome := PresentSuccess
	if len(f.presentOutcomes) > 0 {
		outcome = f.presentOutcomes[0]
		f.presentOutcomes = f.presentOutcomes[1:]
	}
	return outcome, nil
}

func (f *fakeBackend) RecreateSwapchain() (int, error) {
	f.log("rebuild")
	f.rebuildCount++
	if f.rebuildImageCount > 0 {
		f.imageCount = f.rebuildImageCount
	}
	// A fresh swapchain starts granting images from the beginning.
	f.acquires = 0
	return f.imageCount, nil
}

func drawFrames(t *testing.T, loop *FrameLoop, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		err := loop.DrawFrame()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}
}

// eventSlots extracts the slot argument of every trace event with the given
// verb, in order.
func eventSlots(trace []string, verb string) []int {
	var slots []int
	for _, event := range trace {
		var slot, image int
		n, _ := fmt.Sscanf(event, verb+" %d %d", &slot, &image)
		if n >= 1 {
			slots = append(slots, slot)
		}
	}
	return slots
}

func TestFrameSlotRotation(t *testing.T) {
	backend := &fakeBackend{imageCount: 3}
	loop := NewFrameLoop(backend, 3, backend.imageCount)

	drawFrames(t, loop, 7)

	got := eventSlots(backend.trace, "submit")
	want := []int{0, 1, 2, 0, 1, 2, 0}
	if len(got) != len(want) {
		t.Fatalf("submitted %d frames, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("submission %d used slot %d, want %d", i, got[i], want[i])
		}
	}
}

// TestFenceWaitPrecedesRecord checks that a slot's command buffer is never
// re-recorded without a wait on that slot's fence since its previous
// recording.
func TestFenceWaitPrecedesRecord(t *testing.T) {
	backend := &fakeBackend{imageCount: 2}
	loop := NewFrameLoop(backend, 3, backend.imageCount)

	drawFrames(t, loop, 12)

	lastEvent := map[int]string{}
	for _, event := range backend.trace {
		var slot, image int
		if n, _ := fmt.Sscanf(event, "wait %d", &slot); n == 1 {
			lastEvent[slot] = "wait"
			continue
		}
		if n, _ := fmt.Sscanf(event, "record %d %d", &slot, &image); n == 2 {
			if lastEvent[slot] != "wait" {
				t.Fatalf("slot %d recorded without an intervening fence wait; trace: %s",
					slot, strings.Join(backend.trace, ", "))
			}
			lastEvent[slot] = "record"
		}
	}
}

// TestImageFenceCrossCheck runs 3 slots against a 2-image swapchain. Frame 2
// (slot 2) acquires image 0, last submitted by slot 0, so slot 0's fence
// must be waited on again before slot 2 records, even though slot 0's own
// reuse is a whole frame away.
func TestImageFenceCrossCheck(t *testing.T) {
	backend := &fakeBackend{imageCount: 2}
	loop := NewFrameLoop(backend, 3, backend.imageCount)

	drawFrames(t, loop, 3)

	// Isolate frame 2's events.
	var frame2 []string
	seen := 0
	for _, event := range backend.trace {
		if strings.HasPrefix(event, "wait 2") {
			seen = 1
		}
		if seen == 1 {
			frame2 = append(frame2, event)
		}
	}
	if len(frame2) == 0 {
		t.Fatalf("frame 2 never started; trace: %s", strings.Join(backend.trace, ", "))
	}

	joined := strings.Join(frame2, ", ")
	wantOrder := []string{"wait 2", "acquire 2", "wait 0", "record 2 0"}
	pos := -1
	for _, want := range wantOrder {
		found := -1
		for i, event := range frame2 {
			if i > pos && event == want {
				found = i
				break
			}
		}
		if found < 0 {
			t.Fatalf("missing %q after position %d in frame 2 events: %s", want, pos, joined)
		}
		pos = found
	}
}

// TestImageFenceCrossCheckWideMismatch covers the other mismatch shape,
// fewer slots than images. With 2 slots and 5 images, image 0
// comes back on frame 5 while slot 0's fence guards it from frame 0; slot 1
// must wait that fence before recording.
func TestImageFenceCrossCheckWideMismatch(t *testing.T) {
	backend := &fakeBackend{imageCount: 5}
	loop := NewFrameLoop(backend, 2, backend.imageCount)

	drawFrames(t, loop, 5)
	before := len(backend.trace)
	drawFrames(t, loop, 1) // frame 5: slot 1, image 0, owned by slot 0

	frame5 := backend.trace[before:]
	joined := strings.Join(frame5, ", ")
	if frame5[0] != "wait 1" || frame5[1] != "acquire 1" {
		t.Fatalf("unexpected frame 5 opening: %s", joined)
	}
	if frame5[2] != "wait 0" {
		t.Errorf("slot 1 did not wait image 0's guarding fence (slot 0): %s", joined)
	}
	for _, event := range frame5 {
		if event == "record 1 0" {
			return
		}
	}
	t.Errorf("frame 5 never recorded against image 0: %s", joined)
}

// TestNoRedundantImageWait: when a slot re-acquires the image it guarded
// itself, the slot's own fence wait already happened in step 1 and must not
// repeat.
func TestNoRedundantImageWait(t *testing.T) {
	// 2 slots, 2 images: every slot always gets its own previous image.
	backend := &fakeBackend{imageCount: 2}
	loop := NewFrameLoop(backend, 2, backend.imageCount)

	drawFrames(t, loop, 6)

	waits := eventSlots(backend.trace, "wait")
	submits := eventSlots(backend.trace, "submit")
	if len(waits) != len(submits) {
		t.Errorf("got %d fence waits for %d submissions, want exactly one wait per frame", len(waits), len(submits))
	}
}

func TestAcquireOutOfDateRebuildsWithoutSubmit(t *testing.T) {
	backend := &fakeBackend{
		imageCount:      2,
		acquireOutcomes: []AcquireOutcome{AcquireOutOfDate, AcquireOutOfDate},
	}
	loop := NewFrameLoop(backend, 3, backend.imageCount)

	// Two consecutive out-of-date acquires: rebuild twice, submit nothing.
	drawFrames(t, loop, 2)

	if backend.rebuildCount != 2 {
		t.Errorf("rebuilds = %d, want 2", backend.rebuildCount)
	}
	for _, event := range backend.trace {
		if strings.HasPrefix(event, "submit") || strings.HasPrefix(event, "present") {
			t.Fatalf("abandoned frame reached the queue: %s", strings.Join(backend.trace, ", "))
		}
	}

	// The abandoned frames never advanced the ring.
	if loop.currentFrame != 0 {
		t.Errorf("currentFrame = %d after abandoned frames, want 0", loop.currentFrame)
	}

	for i, owner := range loop.imageOwner {
		if owner != -1 {
			t.Errorf("imageOwner[%d] = %d after rebuild, want -1", i, owner)
		}
	}
}

func TestAcquireSuboptimalRendersThenRebuilds(t *testing.T) {
	backend := &fakeBackend{
		imageCount:      2,
		acquireOutcomes: []AcquireOutcome{AcquireSuboptimal},
	}
	loop := NewFrameLoop(backend, 3, backend.imageCount)

	drawFrames(t, loop, 1)

	var sawSubmit, sawPresent bool
	for _, event := range backend.trace {
		switch {
		case strings.HasPrefix(event, "submit"):
			sawSubmit = true
		case strings.HasPrefix(event, "present"):
			sawPresent = true
		case event == "rebuild":
			if !sawSubmit || !sawPresent {
				t.Fatalf("rebuild before submit/present on suboptimal acquire: %s", strings.Join(backend.trace, ", "))
			}
		}
	}
	if backend.rebuildCount != 1 {
		t.Errorf("rebuilds = %d, want 1", backend.rebuildCount)
	}
	if loop.currentFrame != 1 {
		t.Errorf("currentFrame = %d, want 1 (suboptimal frames still advance)", loop.currentFrame)
	}
}

func TestPresentOutcomesTriggerRebuild(t *testing.T) {
	for _, outcome := range []PresentOutcome{PresentOutOfDate, PresentSuboptimal} {
		backend := &fakeBackend{
			imageCount:      2,
			presentOutcomes: []PresentOutcome{outcome},
		}
		loop := NewFrameLoop(backend, 3, backend.imageCount)

		drawFrames(t, loop, 1)

		if backend.rebuildCount != 1 {
			t.Errorf("outcome %v: rebuilds = %d, want 1", outcome, backend.rebuildCount)
		}
		if last := backend.trace[len(backend.trace)-1]; last != "rebuild" {
			t.Errorf("outcome %v: rebuild did not follow the present attempt: %s", outcome, last)
		}
	}
}

func TestResizeFlagRebuildsAfterPresent(t *testing.T) {
	backend := &fakeBackend{imageCount: 2}
	loop := NewFrameLoop(backend, 3, backend.imageCount)

	loop.NoteResize()
	drawFrames(t, loop, 1)

	if backend.rebuildCount != 1 {
		t.Fatalf("rebuilds = %d, want 1", backend.rebuildCount)
	}
	if last := backend.trace[len(backend.trace)-1]; last != "rebuild" {
		t.Errorf("rebuild did not follow the present attempt: %s", last)
	}

	// Flag is consumed: the next frame must not rebuild again.
	drawFrames(t, loop, 1)
	if backend.rebuildCount != 1 {
		t.Errorf("resize flag not cleared, rebuilds = %d", backend.rebuildCount)
	}
}

// TestRebuildTracksImageCount: a rebuild that changes the image count must
// resize the ownership table; stale owners for vanished images would index
// out of bounds or wait on the wrong fence.
func TestRebuildTracksImageCount(t *testing.T) {
	backend := &fakeBackend{
		imageCount:        3,
		acquireOutcomes:   []AcquireOutcome{AcquireOutOfDate},
		rebuildImageCount: 5,
	}
	loop := NewFrameLoop(backend, 3, backend.imageCount)

	drawFrames(t, loop, 1)

	if len(loop.imageOwner) != 5 {
		t.Fatalf("owner table has %d entries after rebuild, want 5", len(loop.imageOwner))
	}

	// And the loop keeps running against the wider chain.
	drawFrames(t, loop, 5)
	if got := len(eventSlots(backend.trace, "submit")); got != 5 {
		t.Errorf("submitted %d frames against rebuilt chain, want 5", got)
	}
}
