package renderer

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
)

func TestChooseSurfaceFormatPrefersBGRAUnorm(t *testing.T) {
	preferred := khr_surface.SurfaceFormat{
		Format:     core1_0.FormatB8G8R8A8UnsignedNormalized,
		ColorSpace: khr_surface.ColorSpaceSRGBNonlinear,
	}
	other := khr_surface.SurfaceFormat{
		Format:     core1_0.FormatR8G8B8A8UnsignedNormalized,
		ColorSpace: khr_surface.ColorSpaceSRGBNonlinear,
	}

	got := chooseSurfaceFormat([]khr_surface.SurfaceFormat{other, preferred})
	if got.Format != preferred.Format {
		t.Errorf("got format %v, want BGRA unorm", got.Format)
	}
}

func TestChooseSurfaceFormatFallsBackToFirst(t *testing.T) {
	only := khr_surface.SurfaceFormat{
		Format:     core1_0.FormatR8G8B8A8UnsignedNormalized,
		ColorSpace: khr_surface.ColorSpaceSRGBNonlinear,
	}

	got := chooseSurfaceFormat([]khr_surface.SurfaceFormat{only})
	if got.Format != only.Format {
		t.Errorf("got format %v, want the only offered format", got.Format)
	}
}

func TestChoosePresentMode(t *testing.T) {
	got := choosePresentMode([]khr_surface.PresentMode{khr_surface.PresentModeFIFO, khr_surface.PresentModeMailbox})
	if got != khr_surface.PresentModeMailbox {
		t.Errorf("got %v, want mailbox when offered", got)
	}

	got = choosePresentMode([]khr_surface.PresentMode{khr_surface.PresentModeFIFO})
	if got != khr_surface.PresentModeFIFO {
		t.Errorf("got %v, want FIFO fallback", got)
	}
}

func TestChooseExtentFixedBySurface(t *testing.T) {
	caps := &khr_surface.SurfaceCapabilities{
		CurrentExtent: core1_0.Extent2D{Width: 1024, Height: 768},
	}

	got := chooseExtent(caps, 800, 600)
	if got.Width != 1024 || got.Height != 768 {
		t.Errorf("got %dx%d, want the surface-reported 1024x768", got.Width, got.Height)
	}
}

func TestChooseExtentClampsDrawableSize(t *testing.T) {
	caps := &khr_surface.SurfaceCapabilities{
		// -1 is the surface's "window decides" sentinel.
		CurrentExtent:  core1_0.Extent2D{Width: -1, Height: -1},
		MinImageExtent: core1_0.Extent2D{Width: 64, Height: 64},
		MaxImageExtent: core1_0.Extent2D{Width: 4096, Height: 4096},
	}

	got := chooseExtent(caps, 800, 600)
	if got.Width != 800 || got.Height != 600 {
		t.Errorf("in-bounds drawable: got %dx%d, want 800x600", got.Width, got.Height)
	}

	got = chooseExtent(caps, 8, 9000)
	if got.Width != 64 || got.Height != 4096 {
		t.Errorf("out-of-bounds drawable: got %dx%d, want clamped 64x4096", got.Width, got.Height)
	}
}

func TestChooseImageCount(t *testing.T) {
	got := chooseImageCount(&khr_surface.SurfaceCapabilities{MinImageCount: 2, MaxImageCount: 0})
	if got != 3 {
		t.Errorf("unbounded surface: got %d images, want min+1 = 3", got)
	}

	got = chooseImageCount(&khr_surface.SurfaceCapabilities{MinImageCount: 2, MaxImageCount: 2})
	if got != 2 {
		t.Errorf("capped surface: got %d images, want 2", got)
	}
}

func TestPlanSwapchainSharingMode(t *testing.T) {
	support := swapchainSupport{
		capabilities: &khr_surface.SurfaceCapabilities{
			CurrentExtent: core1_0.Extent2D{Width: 800, Height: 600},
			MinImageCount: 2,
		},
		formats:      []khr_surface.SurfaceFormat{{Format: core1_0.FormatB8G8R8A8UnsignedNormalized, ColorSpace: khr_surface.ColorSpaceSRGBNonlinear}},
		presentModes: []khr_surface.PresentMode{khr_surface.PresentModeFIFO},
	}

	plan, err := planSwapchain(support, 800, 600, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if plan.sharingMode != core1_0.SharingModeExclusive {
		t.Errorf("same family: got sharing mode %v, want exclusive", plan.sharingMode)
	}
	if len(plan.queueFamilyIndices) != 0 {
		t.Errorf("same family: got explicit family list %v, want none", plan.queueFamilyIndices)
	}

	plan, err = planSwapchain(support, 800, 600, 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if plan.sharingMode != core1_0.SharingModeConcurrent {
		t.Errorf("split families: got sharing mode %v, want concurrent", plan.sharingMode)
	}
	if len(plan.queueFamilyIndices) != 2 || plan.queueFamilyIndices[0] != 0 || plan.queueFamilyIndices[1] != 2 {
		t.Errorf("split families: got family list %v, want [0 2]", plan.queueFamilyIndices)
	}
}

func TestPlanSwapchainZeroExtent(t *testing.T) {
	support := swapchainSupport{
		capabilities: &khr_surface.SurfaceCapabilities{
			CurrentExtent:  core1_0.Extent2D{Width: -1, Height: -1},
			MaxImageExtent: core1_0.Extent2D{Width: 4096, Height: 4096},
			MinImageCount:  2,
		},
		formats:      []khr_surface.SurfaceFormat{{Format: core1_0.FormatB8G8R8A8UnsignedNormalized, ColorSpace: khr_surface.ColorSpaceSRGBNonlinear}},
		presentModes: []khr_surface.PresentMode{khr_surface.PresentModeFIFO},
	}

	_, err := planSwapchain(support, 0, 0, 0, 0)
	if !errors.Is(err, ErrZeroExtent) {
		t.Errorf("got %v, want ErrZeroExtent", err)
	}
}

// TestAwaitDrawableSize feeds the stall loop a minimized window that
// restores on the third poll: the loop must block twice and hand back the
// first nonzero size, so exactly one swapchain creation follows.
func TestAwaitDrawableSize(t *testing.T) {
	sizes := [][2]int{{0, 0}, {0, 0}, {800, 600}}
	polls := 0
	waits := 0

	w, h := awaitDrawableSize(
		func() (int, int) {
			size := sizes[polls]
			polls++
			return size[0], size[1]
		},
		func() { waits++ },
	)

	if w != 800 || h != 600 {
		t.Errorf("got %dx%d, want 800x600", w, h)
	}
	if polls != 3 {
		t.Errorf("polled %d times, want 3", polls)
	}
	if waits != 2 {
		t.Errorf("blocked %d times, want 2 (once per zero-sized poll)", waits)
	}
}
