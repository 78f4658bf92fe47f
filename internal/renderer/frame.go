package renderer

// AcquireOutcome classifies the result of asking the presentation engine for
// the next image. Anything the engine reports beyond these three comes back
// as an error and is fatal.
type AcquireOutcome int

const (
	AcquireSuccess AcquireOutcome = iota
	// AcquireSuboptimal means the image is usable but the swapchain no
	// longer matches the surface exactly; render it, then rebuild.
	AcquireSuboptimal
	// AcquireOutOfDate means the image is unusable; rebuild without
	// submitting or presenting this frame.
	AcquireOutOfDate
)

// PresentOutcome classifies the result of a present request. OutOfDate and
// Suboptimal both trigger a rebuild after the attempt; the frame's image was
// already handed over either way.
type PresentOutcome int

const (
	PresentSuccess PresentOutcome = iota
	PresentSuboptimal
	PresentOutOfDate
)

// FrameBackend is everything the frame state machine asks of the GPU side,
// expressed in slot and image indices so the machine itself holds no native
// handles. The renderer implements it against the Vulkan driver; tests
// implement it with a script.
type FrameBackend interface {
	// WaitFrame blocks until the slot's in-flight fence signals.
	WaitFrame(slot int) error
	// ResetFrame unsignals the slot's fence ahead of the next submission.
	ResetFrame(slot int) error
	// AcquireImage requests the next presentable image, signaling the
	// slot's image-available semaphore when the image is ready.
	AcquireImage(slot int) (imageIndex int, outcome AcquireOutcome, err error)
	// UpdateUniforms writes the slot's per-frame uniform data.
	UpdateUniforms(slot int) error
	// RecordCommands re-records the slot's command buffer targeting the
	// given image's framebuffer.
	RecordCommands(slot, imageIndex int) error
	// SubmitCommands submits the slot's command buffer, waiting on the
	// image-available semaphore and signaling the render-finished
	// semaphore plus the slot's fence.
	SubmitCommands(slot, imageIndex int) error
	// PresentImage queues the image for presentation after the slot's
	// render-finished semaphore.
	PresentImage(slot, imageIndex int) (PresentOutcome, error)
	// RecreateSwapchain drains the device, rebuilds every
	// swapchain-dependent resource and reports the new image count.
	RecreateSwapchain() (imageCount int, err error)
}

// FrameLoop coordinates a fixed ring of in-flight frame slots against a
// swapchain whose image count need not match the ring size. One slot is
// touched per DrawFrame call; the GPU and the presentation engine run
// concurrently behind the backend's fences and semaphores.
type FrameLoop struct {
	backend FrameBackend
	frames  int

	currentFrame int

	// imageOwner maps swapchain image index to the slot whose fence guards
	// the image's last submission, or -1. It prevents two CPU frames from
	// racing on one physical image when the image count differs from the
	// ring size.
	imageOwner []int

	resized bool
}

// NewFrameLoop sets up a loop over framesInFlight slots and a swapchain
// currently holding imageCount images.
func NewFrameLoop(backend FrameBackend, framesInFlight, imageCount int) *FrameLoop {
	loop := &FrameLoop{
		backend: backend,
		frames:  framesInFlight,
	}
	loop.resetImageOwners(imageCount)
	return loop
}

func (l *FrameLoop) resetImageOwners(imageCount int) {
	l.imageOwner = make([]int, imageCount)
	for i := range l.imageOwner {
		l.imageOwner[i] = -1
	}
}

// NoteResize records an externally observed resize. The flag is consumed at
// the present step of the next frame; call Rebuild as well for an immediate
// rebuild.
func (l *FrameLoop) NoteResize() {
	l.resized = true
}

// Rebuild tears down and recreates the swapchain-dependent state and resets
// the image ownership tracking, since the new chain's images share nothing
// with the old ones.
func (l *FrameLoop) Rebuild() error {
	imageCount, err := l.backend.RecreateSwapchain()
	if err != nil {
		return err
	}

	l.resetImageOwners(imageCount)
	l.resized = false
	return nil
}

// DrawFrame runs one pass of the per-frame protocol on the current slot:
// wait, acquire, cross-check the image's previous owner, update, record,
// reset+submit, present, advance. Transient presentation failures trigger a
// rebuild and are not surfaced; every other failure is returned as fatal.
func (l *FrameLoop) DrawFrame() error {
	slot := l.currentFrame

	err := l.backend.WaitFrame(slot)
	if err != nil {
		return err
	}

	imageIndex, outcome, err := l.backend.AcquireImage(slot)
	if outcome == AcquireOutOfDate {
		// No image to render into; this frame is abandoned.
		return l.Rebuild()
	} else if err != nil {
		return err
	}

	rebuildAfterPresent := outcome == AcquireSuboptimal

	// The acquired image may still be referenced by a submission from a
	// different slot whose fence has not been waited on via this path.
	if owner := l.imageOwner[imageIndex]; owner >= 0 && owner != slot {
		err = l.backend.WaitFrame(owner)
		if err != nil {
			return err
		}
	}
	l.imageOwner[imageIndex] = slot

	err = l.backend.UpdateUniforms(slot)
	if err != nil {
		return err
	}

	err = l.backend.RecordCommands(slot, imageIndex)
	if err != nil {
		return err
	}

	err = l.backend.ResetFrame(slot)
	if err != nil {
		return err
	}

	err = l.backend.SubmitCommands(slot, imageIndex)
	if err != nil {
		return err
	}

	presentOutcome, err := l.backend.PresentImage(slot, imageIndex)
	if presentOutcome == PresentOutOfDate || presentOutcome == PresentSuboptimal || l.resized {
		rebuildAfterPresent = true
	} else if err != nil {
		return err
	}

	l.currentFrame = (l.currentFrame + 1) % l.frames

	if rebuildAfterPresent {
		return l.Rebuild()
	}
	return nil
}
