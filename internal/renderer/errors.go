package renderer

import "github.com/cockroachdb/errors"

// ErrNoSuitableDevice means no physical device offers a graphics queue, a
// present queue, the swapchain extension and at least one surface
// format/present mode.
var ErrNoSuitableDevice = errors.New("vulkan: no suitable physical device")

// ErrMissingLayer means validation was requested but the Khronos validation
// layer is not installed.
var ErrMissingLayer = errors.New("vulkan: requested validation layer not available")

// ErrZeroExtent means the drawable area is zero-sized and a swapchain cannot
// be created until the window produces a nonzero size.
var ErrZeroExtent = errors.New("vulkan: swapchain extent has zero area")

// ErrPipelineCreation means the graphics pipeline could not be built. There
// is no fallback pipeline; this is always fatal.
var ErrPipelineCreation = errors.New("vulkan: graphics pipeline creation failed")

// ErrSwapchainCreation means the driver rejected the swapchain itself.
var ErrSwapchainCreation = errors.New("vulkan: swapchain creation failed")
