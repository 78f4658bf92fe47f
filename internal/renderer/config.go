package renderer

import "github.com/vkngwrapper/extensions/v3/khr_swapchain"

var validationLayers = []string{"VK_LAYER_KHRONOS_validation"}
var deviceExtensions = []string{khr_swapchain.ExtensionName}

// Config carries everything the renderer needs beyond the window itself.
// There is no ambient state, so two renderers with two configs can coexist
// in one process.
type Config struct {
	AppName string

	// FramesInFlight is the size of the frame slot ring. It is independent
	// of the swapchain image count the driver ends up granting.
	FramesInFlight int

	// EnableValidation turns on the Khronos validation layer and the debug
	// messenger. Startup fails if the layer is requested but absent.
	EnableValidation bool

	// PipelineCachePath is where the driver's pipeline cache blob is kept
	// between runs. Empty disables the on-disk cache.
	PipelineCachePath string
}

func DefaultConfig() Config {
	return Config{
		AppName:           "Spinning Triangle",
		FramesInFlight:    3,
		EnableValidation:  true,
		PipelineCachePath: "pipeline_cache.bin",
	}
}

func (c Config) framesInFlight() int {
	if c.FramesInFlight <= 0 {
		return 3
	}
	return c.FramesInFlight
}
