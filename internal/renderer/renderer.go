package renderer

import (
	"unsafe"

	"github.com/loov/hrtime"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

// Renderer owns every GPU object below the Context and implements
// FrameBackend for the frame loop. One Renderer drives one window.
type Renderer struct {
	ctx    *Context
	cfg    Config
	window *sdl.Window

	frameCount int

	swapchainExtension    khr_swapchain.ExtensionDriver
	swapchain             khr_swapchain.Swapchain
	swapchainImages       []core1_0.Image
	swapchainImageFormat  core1_0.Format
	swapchainExtent       core1_0.Extent2D
	swapchainImageViews   []core1_0.ImageView
	swapchainFramebuffers []core1_0.Framebuffer

	renderPass          core1_0.RenderPass
	descriptorSetLayout core1_0.DescriptorSetLayout
	descriptorPool      core1_0.DescriptorPool
	descriptorSets      []core1_0.DescriptorSet
	pipelineLayout      core1_0.PipelineLayout
	pipelineCache       core1_0.PipelineCache
	pipeline            core1_0.Pipeline

	commandPool    core1_0.CommandPool
	commandBuffers []core1_0.CommandBuffer

	imageAvailableSemaphore []core1_0.Semaphore
	renderFinishedSemaphore []core1_0.Semaphore
	inFlightFence           []core1_0.Fence

	vertexBuffer       core1_0.Buffer
	vertexBufferMemory core1_0.DeviceMemory

	uniformBuffers       []core1_0.Buffer
	uniformBuffersMemory []core1_0.DeviceMemory

	// clock feeds the rotation angle; replaceable so tests can pin time.
	clock func() float64

	loop *FrameLoop
}

// New builds the full renderer for an SDL window created with
// sdl.WINDOW_VULKAN. On error, everything acquired so far is released.
func New(window *sdl.Window, cfg Config) (*Renderer, error) {
	ctx, err := NewContext(window, cfg)
	if err != nil {
		return nil, err
	}

	r := &Renderer{
		ctx:        ctx,
		cfg:        cfg,
		window:     window,
		frameCount: cfg.framesInFlight(),
		clock:      func() float64 { return hrtime.Now().Seconds() },
	}

	err = r.init()
	if err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Renderer) init() error {
	r.swapchainExtension = khr_swapchain.CreateExtensionDriverFromCoreDriver(r.ctx.deviceDriver)

	err := r.createDescriptorSetLayout()
	if err != nil {
		return err
	}

	err = r.createPipelineCache()
	if err != nil {
		return err
	}

	err = r.createCommandPool()
	if err != nil {
		return err
	}

	err = r.buildSwapchainResources()
	if err != nil {
		return err
	}

	err = r.createVertexBuffer()
	if err != nil {
		return err
	}

	err = r.createUniformBuffers()
	if err != nil {
		return err
	}

	err = r.createDescriptorSets()
	if err != nil {
		return err
	}

	err = r.createSyncObjects()
	if err != nil {
		return err
	}

	r.loop = NewFrameLoop(r, r.frameCount, len(r.swapchainImages))
	return nil
}

func (r *Renderer) drawableSize() (int, int) {
	w, h := r.window.VulkanGetDrawableSize()
	return int(w), int(h)
}

// waitEvents blocks until the window produces an event. Used only while
// stalled on a zero-area drawable (minimized window).
func (r *Renderer) waitEvents() {
	sdl.WaitEventTimeout(100)
}

func (r *Renderer) createCommandPool() error {
	// Command buffers are re-recorded every frame, so the pool must allow
	// per-buffer reset.
	pool, _, err := r.ctx.deviceDriver.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		QueueFamilyIndex: r.ctx.graphicsFamily,
		Flags:            core1_0.CommandPoolCreateResetBuffer,
	})
	if err != nil {
		return err
	}
	r.commandPool = pool

	return nil
}

// createCommandBuffers allocates one command buffer per frame slot. They
// start empty; RecordCommands fills the current slot's buffer each frame.
func (r *Renderer) createCommandBuffers() error {
	buffers, _, err := r.ctx.deviceDriver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        r.commandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: r.frameCount,
	})
	if err != nil {
		return err
	}
	r.commandBuffers = buffers

	return nil
}

func (r *Renderer) createDescriptorSets() error {
	var err error
	r.descriptorPool, _, err = r.ctx.deviceDriver.CreateDescriptorPool(nil, core1_0.DescriptorPoolCreateInfo{
		MaxSets: r.frameCount,
		PoolSizes: []core1_0.DescriptorPoolSize{
			{
				Type:            core1_0.DescriptorTypeUniformBuffer,
				DescriptorCount: r.frameCount,
			},
		},
	})
	if err != nil {
		return err
	}

	var allocLayouts []core1_0.DescriptorSetLayout
	for i := 0; i < r.frameCount; i++ {
		allocLayouts = append(allocLayouts, r.descriptorSetLayout)
	}

	r.descriptorSets, _, err = r.ctx.deviceDriver.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: r.descriptorPool,
		SetLayouts:     allocLayouts,
	})
	if err != nil {
		return err
	}

	for i := 0; i < r.frameCount; i++ {
		err = r.ctx.deviceDriver.UpdateDescriptorSets([]core1_0.WriteDescriptorSet{
			{
				DstSet:          r.descriptorSets[i],
				DstBinding:      0,
				DstArrayElement: 0,

				DescriptorType: core1_0.DescriptorTypeUniformBuffer,

				BufferInfo: []core1_0.DescriptorBufferInfo{
					{
						Buffer: r.uniformBuffers[i],
						Offset: 0,
						Range:  int(unsafe.Sizeof(CameraMatrices{})),
					},
				},
			},
		}, nil)
		if err != nil {
			return err
		}
	}

	return nil
}

// createSyncObjects builds each slot's trio: image-available semaphore,
// render-finished semaphore, and the in-flight fence. Fences start signaled
// so the first wait on a fresh slot falls straight through.
func (r *Renderer) createSyncObjects() error {
	for i := 0; i < r.frameCount; i++ {
		imageAvailable, _, err := r.ctx.deviceDriver.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
		if err != nil {
			return err
		}
		r.imageAvailableSemaphore = append(r.imageAvailableSemaphore, imageAvailable)

		renderFinished, _, err := r.ctx.deviceDriver.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
		if err != nil {
			return err
		}
		r.renderFinishedSemaphore = append(r.renderFinishedSemaphore, renderFinished)

		fence, _, err := r.ctx.deviceDriver.CreateFence(nil, core1_0.FenceCreateInfo{
			Flags: core1_0.FenceCreateSignaled,
		})
		if err != nil {
			return err
		}
		r.inFlightFence = append(r.inFlightFence, fence)
	}

	return nil
}

// DrawFrame renders and presents one frame.
func (r *Renderer) DrawFrame() error {
	return r.loop.DrawFrame()
}

// HandleResize reacts to a window resize event: flag the loop and rebuild
// immediately so the next frame draws at the new size.
func (r *Renderer) HandleResize() error {
	r.loop.NoteResize()
	return r.loop.Rebuild()
}

// WaitIdle drains all in-flight GPU work.
func (r *Renderer) WaitIdle() error {
	_, err := r.ctx.deviceDriver.DeviceWaitIdle()
	return err
}

func (r *Renderer) WaitFrame(slot int) error {
	_, err := r.ctx.deviceDriver.WaitForFences(true, common.NoTimeout, r.inFlightFence[slot])
	return err
}

func (r *Renderer) ResetFrame(slot int) error {
	_, err := r.ctx.deviceDriver.ResetFences(r.inFlightFence[slot])
	return err
}

func (r *Renderer) AcquireImage(slot int) (int, AcquireOutcome, error) {
	imageIndex, res, err := r.swapchainExtension.AcquireNextImage(r.swapchain, common.NoTimeout, &r.imageAvailableSemaphore[slot], nil)
	switch res {
	case khr_swapchain.VKErrorOutOfDate:
		return imageIndex, AcquireOutOfDate, nil
	case khr_swapchain.VKSuboptimal:
		return imageIndex, AcquireSuboptimal, nil
	}
	return imageIndex, AcquireSuccess, err
}

// RecordCommands re-records the slot's command buffer from scratch: begin
// the render pass on the acquired image's framebuffer, bind everything,
// push the current model transform, draw the triangle.
func (r *Renderer) RecordCommands(slot, imageIndex int) error {
	device := r.ctx.deviceDriver
	buffer := r.commandBuffers[slot]

	_, err := device.BeginCommandBuffer(buffer, core1_0.CommandBufferBeginInfo{})
	if err != nil {
		return err
	}

	err = device.CmdBeginRenderPass(buffer, core1_0.SubpassContentsInline,
		core1_0.RenderPassBeginInfo{
			RenderPass:  r.renderPass,
			Framebuffer: r.swapchainFramebuffers[imageIndex],
			RenderArea: core1_0.Rect2D{
				Offset: core1_0.Offset2D{X: 0, Y: 0},
				Extent: r.swapchainExtent,
			},
			ClearValues: []core1_0.ClearValue{
				core1_0.ClearValueFloat{0, 0, 0, 1},
			},
		})
	if err != nil {
		return err
	}

	device.CmdBindPipeline(buffer, core1_0.PipelineBindPointGraphics, r.pipeline)
	device.CmdBindVertexBuffers(buffer, 0, []core1_0.Buffer{r.vertexBuffer}, []int{0})
	device.CmdBindDescriptorSets(buffer, core1_0.PipelineBindPointGraphics, r.pipelineLayout, 0, []core1_0.DescriptorSet{
		r.descriptorSets[slot],
	}, nil)

	transform := modelTransform(r.clock())
	pushData, err := encodeBlob(&transform)
	if err != nil {
		return err
	}
	device.CmdPushConstants(buffer, r.pipelineLayout, core1_0.StageVertex, 0, pushData)

	device.CmdDraw(buffer, len(triangleVertices), 1, 0, 0)
	device.CmdEndRenderPass(buffer)

	_, err = device.EndCommandBuffer(buffer)
	return err
}

func (r *Renderer) SubmitCommands(slot, imageIndex int) error {
	_, err := r.ctx.deviceDriver.QueueSubmit(r.ctx.graphicsQueue, &r.inFlightFence[slot],
		core1_0.SubmitInfo{
			WaitSemaphores:   []core1_0.Semaphore{r.imageAvailableSemaphore[slot]},
			WaitDstStageMask: []core1_0.PipelineStageFlags{core1_0.PipelineStageColorAttachmentOutput},
			CommandBuffers:   []core1_0.CommandBuffer{r.commandBuffers[slot]},
			SignalSemaphores: []core1_0.Semaphore{r.renderFinishedSemaphore[slot]},
		},
	)
	return err
}

func (r *Renderer) PresentImage(slot, imageIndex int) (PresentOutcome, error) {
	res, err := r.swapchainExtension.QueuePresent(r.ctx.presentQueue, khr_swapchain.PresentInfo{
		WaitSemaphores: []core1_0.Semaphore{r.renderFinishedSemaphore[slot]},
		Swapchains:     []khr_swapchain.Swapchain{r.swapchain},
		ImageIndices:   []int{imageIndex},
	})
	switch res {
	case khr_swapchain.VKErrorOutOfDate:
		return PresentOutOfDate, nil
	case khr_swapchain.VKSuboptimal:
		return PresentSuboptimal, nil
	}
	return PresentSuccess, err
}

// Close drains the device and releases everything in reverse dependency
// order, finishing with the context. Safe on a partially built renderer.
func (r *Renderer) Close() {
	device := r.ctx.deviceDriver

	if device != nil {
		_, _ = device.DeviceWaitIdle()

		r.savePipelineCache()

		r.releaseSwapchainResources()

		for i := 0; i < len(r.uniformBuffers); i++ {
			device.DestroyBuffer(r.uniformBuffers[i], nil)
		}
		r.uniformBuffers = nil

		for i := 0; i < len(r.uniformBuffersMemory); i++ {
			device.FreeMemory(r.uniformBuffersMemory[i], nil)
		}
		r.uniformBuffersMemory = nil

		if r.vertexBuffer.Initialized() {
			device.DestroyBuffer(r.vertexBuffer, nil)
			r.vertexBuffer = core1_0.Buffer{}
		}

		if r.vertexBufferMemory.Initialized() {
			device.FreeMemory(r.vertexBufferMemory, nil)
			r.vertexBufferMemory = core1_0.DeviceMemory{}
		}

		for _, fence := range r.inFlightFence {
			device.DestroyFence(fence, nil)
		}
		r.inFlightFence = nil

		for _, semaphore := range r.renderFinishedSemaphore {
			device.DestroySemaphore(semaphore, nil)
		}
		r.renderFinishedSemaphore = nil

		for _, semaphore := range r.imageAvailableSemaphore {
			device.DestroySemaphore(semaphore, nil)
		}
		r.imageAvailableSemaphore = nil

		if r.descriptorPool.Initialized() {
			device.DestroyDescriptorPool(r.descriptorPool, nil)
			r.descriptorPool = core1_0.DescriptorPool{}
		}

		if r.descriptorSetLayout.Initialized() {
			device.DestroyDescriptorSetLayout(r.descriptorSetLayout, nil)
			r.descriptorSetLayout = core1_0.DescriptorSetLayout{}
		}

		if r.pipelineCache.Initialized() {
			device.DestroyPipelineCache(r.pipelineCache, nil)
			r.pipelineCache = core1_0.PipelineCache{}
		}

		if r.commandPool.Initialized() {
			device.DestroyCommandPool(r.commandPool, nil)
			r.commandPool = core1_0.CommandPool{}
		}
	}

	r.ctx.Close()
}
