package renderer

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

type swapchainSupport struct {
	capabilities *khr_surface.SurfaceCapabilities
	formats      []khr_surface.SurfaceFormat
	presentModes []khr_surface.PresentMode
}

func querySwapchainSupport(surfaceExt khr_surface.ExtensionDriver, surface khr_surface.Surface, device core1_0.PhysicalDevice) (swapchainSupport, error) {
	var support swapchainSupport
	var err error

	support.capabilities, _, err = surfaceExt.GetPhysicalDeviceSurfaceCapabilities(surface, device)
	if err != nil {
		return support, err
	}

	support.formats, _, err = surfaceExt.GetPhysicalDeviceSurfaceFormats(surface, device)
	if err != nil {
		return support, err
	}

	support.presentModes, _, err = surfaceExt.GetPhysicalDeviceSurfacePresentModes(surface, device)
	return support, err
}

// swapchainPlan is everything negotiated with the surface before the
// swapchain itself is created. Separating the negotiation from the create
// call keeps the selection policies testable without a driver.
type swapchainPlan struct {
	surfaceFormat      khr_surface.SurfaceFormat
	presentMode        khr_surface.PresentMode
	extent             core1_0.Extent2D
	imageCount         int
	sharingMode        core1_0.SharingMode
	queueFamilyIndices []int
	preTransform       khr_surface.SurfaceTransformFlags
}

func planSwapchain(support swapchainSupport, drawableWidth, drawableHeight int, graphicsFamily, presentFamily int) (swapchainPlan, error) {
	plan := swapchainPlan{
		surfaceFormat: chooseSurfaceFormat(support.formats),
		presentMode:   choosePresentMode(support.presentModes),
		extent:        chooseExtent(support.capabilities, drawableWidth, drawableHeight),
		imageCount:    chooseImageCount(support.capabilities),
		sharingMode:   core1_0.SharingModeExclusive,
		preTransform:  support.capabilities.CurrentTransform,
	}

	if plan.extent.Width == 0 || plan.extent.Height == 0 {
		return plan, ErrZeroExtent
	}

	if graphicsFamily != presentFamily {
		// Concurrent sharing trades some bandwidth for not having to record
		// explicit ownership transfers between the two families.
		plan.sharingMode = core1_0.SharingModeConcurrent
		plan.queueFamilyIndices = append(plan.queueFamilyIndices, graphicsFamily, presentFamily)
	}

	return plan, nil
}

// chooseSurfaceFormat prefers 8-bit BGRA unorm; anything else falls back to
// the first format the surface offers.
func chooseSurfaceFormat(availableFormats []khr_surface.SurfaceFormat) khr_surface.SurfaceFormat {
	for _, format := range availableFormats {
		if format.Format == core1_0.FormatB8G8R8A8UnsignedNormalized && format.ColorSpace == khr_surface.ColorSpaceSRGBNonlinear {
			return format
		}
	}

	return availableFormats[0]
}

// choosePresentMode prefers mailbox; FIFO is the guaranteed fallback.
func choosePresentMode(availablePresentModes []khr_surface.PresentMode) khr_surface.PresentMode {
	for _, presentMode := range availablePresentModes {
		if presentMode == khr_surface.PresentModeMailbox {
			return presentMode
		}
	}

	return khr_surface.PresentModeFIFO
}

// chooseExtent uses the surface-reported extent verbatim unless the surface
// reports the "window decides" sentinel, in which case the drawable size is
// clamped into the surface's bounds.
func chooseExtent(capabilities *khr_surface.SurfaceCapabilities, drawableWidth, drawableHeight int) core1_0.Extent2D {
	if capabilities.CurrentExtent.Width != -1 {
		return capabilities.CurrentExtent
	}

	width := drawableWidth
	height := drawableHeight

	if width < capabilities.MinImageExtent.Width {
		width = capabilities.MinImageExtent.Width
	}
	if width > capabilities.MaxImageExtent.Width {
		width = capabilities.MaxImageExtent.Width
	}
	if height < capabilities.MinImageExtent.Height {
		height = capabilities.MinImageExtent.Height
	}
	if height > capabilities.MaxImageExtent.Height {
		height = capabilities.MaxImageExtent.Height
	}

	return core1_0.Extent2D{Width: width, Height: height}
}

// chooseImageCount asks for one more image than the minimum so the
// application is not stuck waiting on the driver, capped by the surface
// maximum when one exists (zero means unbounded).
func chooseImageCount(capabilities *khr_surface.SurfaceCapabilities) int {
	imageCount := capabilities.MinImageCount + 1
	if capabilities.MaxImageCount > 0 && capabilities.MaxImageCount < imageCount {
		imageCount = capabilities.MaxImageCount
	}
	return imageCount
}

// awaitDrawableSize polls until the drawable area has a nonzero size,
// blocking on events between polls. This is how a minimized window stalls
// the rebuild path instead of failing it.
func awaitDrawableSize(poll func() (int, int), wait func()) (int, int) {
	for {
		w, h := poll()
		if w > 0 && h > 0 {
			return w, h
		}
		wait()
	}
}

func (r *Renderer) createSwapchain() error {
	support, err := querySwapchainSupport(r.ctx.surfaceExtension, r.ctx.surface, r.ctx.physicalDevice)
	if err != nil {
		return err
	}

	w, h := r.drawableSize()
	plan, err := planSwapchain(support, w, h, r.ctx.graphicsFamily, r.ctx.presentFamily)
	if err != nil {
		return err
	}

	swapchain, _, err := r.swapchainExtension.CreateSwapchain(nil, khr_swapchain.SwapchainCreateInfo{
		Surface: r.ctx.surface,

		MinImageCount:    plan.imageCount,
		ImageFormat:      plan.surfaceFormat.Format,
		ImageColorSpace:  plan.surfaceFormat.ColorSpace,
		ImageExtent:      plan.extent,
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageColorAttachment,

		ImageSharingMode:   plan.sharingMode,
		QueueFamilyIndices: plan.queueFamilyIndices,

		PreTransform:   plan.preTransform,
		CompositeAlpha: khr_surface.CompositeAlphaOpaque,
		PresentMode:    plan.presentMode,
		Clipped:        true,
	})
	if err != nil {
		return errors.Wrapf(ErrSwapchainCreation, "%v", err)
	}

	r.swapchain = swapchain
	r.swapchainExtent = plan.extent
	r.swapchainImageFormat = plan.surfaceFormat.Format

	return nil
}

func (r *Renderer) createImageViews() error {
	images, _, err := r.swapchainExtension.GetSwapchainImages(r.swapchain)
	if err != nil {
		return err
	}
	r.swapchainImages = images

	var imageViews []core1_0.ImageView
	for _, image := range images {
		view, _, err := r.ctx.deviceDriver.CreateImageView(nil, core1_0.ImageViewCreateInfo{
			Image:    image,
			ViewType: core1_0.ImageViewType2D,
			Format:   r.swapchainImageFormat,
			SubresourceRange: core1_0.ImageSubresourceRange{
				AspectMask:     core1_0.ImageAspectColor,
				BaseMipLevel:   0,
				LevelCount:     1,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
		})
		if err != nil {
			return err
		}

		imageViews = append(imageViews, view)
	}
	r.swapchainImageViews = imageViews

	return nil
}

func (r *Renderer) createFramebuffers() error {
	for _, imageView := range r.swapchainImageViews {
		framebuffer, _, err := r.ctx.deviceDriver.CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
			RenderPass: r.renderPass,
			Layers:     1,
			Attachments: []core1_0.ImageView{
				imageView,
			},
			Width:  r.swapchainExtent.Width,
			Height: r.swapchainExtent.Height,
		})
		if err != nil {
			return err
		}

		r.swapchainFramebuffers = append(r.swapchainFramebuffers, framebuffer)
	}

	return nil
}

// releaseSwapchainResources tears down everything that depends on the
// swapchain's format or extent, in reverse creation order. Handles are
// zeroed as they go so a second call (rebuild raced by another rebuild)
// cannot double-free. The presentable images belong to the presentation
// engine and are never destroyed here.
func (r *Renderer) releaseSwapchainResources() {
	device := r.ctx.deviceDriver

	for _, framebuffer := range r.swapchainFramebuffers {
		device.DestroyFramebuffer(framebuffer, nil)
	}
	r.swapchainFramebuffers = nil

	if len(r.commandBuffers) > 0 {
		device.FreeCommandBuffers(r.commandBuffers...)
		r.commandBuffers = nil
	}

	if r.pipeline.Initialized() {
		device.DestroyPipeline(r.pipeline, nil)
		r.pipeline = core1_0.Pipeline{}
	}

	if r.pipelineLayout.Initialized() {
		device.DestroyPipelineLayout(r.pipelineLayout, nil)
		r.pipelineLayout = core1_0.PipelineLayout{}
	}

	if r.renderPass.Initialized() {
		device.DestroyRenderPass(r.renderPass, nil)
		r.renderPass = core1_0.RenderPass{}
	}

	for _, imageView := range r.swapchainImageViews {
		device.DestroyImageView(imageView, nil)
	}
	r.swapchainImageViews = nil

	if r.swapchain.Initialized() {
		r.swapchainExtension.DestroySwapchain(r.swapchain, nil)
		r.swapchain = khr_swapchain.Swapchain{}
	}
	r.swapchainImages = nil
}

// buildSwapchainResources runs the creation half of the rebuild cycle:
// swapchain, views, render pass, pipeline, framebuffers, command buffers.
func (r *Renderer) buildSwapchainResources() error {
	err := r.createSwapchain()
	if err != nil {
		return err
	}

	err = r.createImageViews()
	if err != nil {
		return err
	}

	err = r.createRenderPass()
	if err != nil {
		return err
	}

	err = r.createGraphicsPipeline()
	if err != nil {
		return err
	}

	err = r.createFramebuffers()
	if err != nil {
		return err
	}

	return r.createCommandBuffers()
}

// RecreateSwapchain implements the rebuild sub-protocol: drain the device,
// tear down, stall until the drawable is nonzero, rebuild. Returns the new
// image count so the frame loop can resize its per-image fence tracking.
func (r *Renderer) RecreateSwapchain() (int, error) {
	_, err := r.ctx.deviceDriver.DeviceWaitIdle()
	if err != nil {
		return 0, err
	}

	r.releaseSwapchainResources()

	awaitDrawableSize(r.drawableSize, r.waitEvents)

	err = r.buildSwapchainResources()
	if err != nil {
		return 0, err
	}

	return len(r.swapchainImages), nil
}
