// Package renderer draws one rotating triangle with Vulkan. The interesting
// part is everything around the swapchain: device and queue selection, the
// per-frame fence/semaphore protocol, and the teardown/rebuild cycle that
// window resizes and out-of-date presents force on every Vulkan application.
package renderer

import (
	"log"

	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v3"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v3/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/v3/khr_portability_subset"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	vkng_sdl2 "github.com/vkngwrapper/integrations/sdl2/v3"
)

// queueFamilyIndices resolves once per physical device and never changes for
// the lifetime of a Context.
type queueFamilyIndices struct {
	GraphicsFamily *int
	PresentFamily  *int
}

func (i *queueFamilyIndices) IsComplete() bool {
	return i.GraphicsFamily != nil && i.PresentFamily != nil
}

// Context owns the connection to the GPU driver: instance, debug messenger,
// surface, selected physical device, logical device and the two queues.
// It is created once, torn down last.
type Context struct {
	globalDriver   core1_0.GlobalDriver
	instanceDriver core1_0.CoreInstanceDriver
	deviceDriver   core1_0.CoreDeviceDriver

	debugDriver      ext_debug_utils.ExtensionDriver
	debugMessenger   ext_debug_utils.DebugUtilsMessenger
	surfaceExtension khr_surface.ExtensionDriver
	surface          khr_surface.Surface

	physicalDevice core1_0.PhysicalDevice

	graphicsQueue core1_0.Queue
	presentQueue  core1_0.Queue

	graphicsFamily int
	presentFamily  int
}

// NewContext brings up the driver connection for the given SDL window. On
// error, everything acquired so far is released before returning.
func NewContext(window *sdl.Window, cfg Config) (*Context, error) {
	ctx := &Context{}

	err := ctx.init(window, cfg)
	if err != nil {
		ctx.Close()
		return nil, err
	}
	return ctx, nil
}

func (ctx *Context) init(window *sdl.Window, cfg Config) error {
	var err error
	ctx.globalDriver, err = core.CreateDriverFromProcAddr(sdl.VulkanGetVkGetInstanceProcAddr())
	if err != nil {
		return err
	}

	err = ctx.createInstance(window, cfg)
	if err != nil {
		return err
	}

	err = ctx.setupDebugMessenger(cfg)
	if err != nil {
		return err
	}

	err = ctx.createSurface(window)
	if err != nil {
		return err
	}

	err = ctx.pickPhysicalDevice()
	if err != nil {
		return err
	}

	return ctx.createLogicalDevice()
}

func (ctx *Context) createInstance(window *sdl.Window, cfg Config) error {
	instanceOptions := core1_0.InstanceCreateInfo{
		ApplicationName:    cfg.AppName,
		ApplicationVersion: common.CreateVersion(1, 0, 0),
		EngineName:         "No Engine",
		EngineVersion:      common.CreateVersion(1, 0, 0),
		APIVersion:         common.Vulkan1_2,
	}

	// Add extensions
	sdlExtensions := window.VulkanGetInstanceExtensions()
	extensions, _, err := ctx.globalDriver.AvailableExtensions()
	if err != nil {
		return err
	}

	for _, ext := range sdlExtensions {
		_, hasExt := extensions[ext]
		if !hasExt {
			return errors.Errorf("createInstance: surface support requires missing extension %s", ext)
		}
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext)
	}

	if cfg.EnableValidation {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext_debug_utils.ExtensionName)
	}

	_, enumerationSupported := extensions[khr_portability_enumeration.ExtensionName]
	if enumerationSupported {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, khr_portability_enumeration.ExtensionName)
		instanceOptions.Flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	// Add layers
	layers, _, err := ctx.globalDriver.AvailableLayers()
	if err != nil {
		return err
	}

	if cfg.EnableValidation {
		for _, layer := range validationLayers {
			_, hasValidation := layers[layer]
			if !hasValidation {
				return errors.Wrapf(ErrMissingLayer, "%s (install the LunarG Vulkan SDK)", layer)
			}
			instanceOptions.EnabledLayerNames = append(instanceOptions.EnabledLayerNames, layer)
		}

		// Route messages produced during instance creation itself
		instanceOptions.Next = debugMessengerOptions()
	}

	ctx.instanceDriver, _, err = ctx.globalDriver.CreateInstance(nil, instanceOptions)
	return err
}

func debugMessengerOptions() ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback:    logDebug,
	}
}

func logDebug(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	log.Printf("[%s %s] - %s", severity, msgType, data.Message)
	return false
}

func (ctx *Context) setupDebugMessenger(cfg Config) error {
	if !cfg.EnableValidation {
		return nil
	}

	var err error
	ctx.debugDriver = ext_debug_utils.CreateExtensionDriverFromCoreDriver(ctx.instanceDriver)
	ctx.debugMessenger, _, err = ctx.debugDriver.CreateDebugUtilsMessenger(nil, debugMessengerOptions())
	return err
}

func (ctx *Context) createSurface(window *sdl.Window) error {
	ctx.surfaceExtension = khr_surface.CreateExtensionDriverFromCoreDriver(ctx.instanceDriver)
	surface, err := vkng_sdl2.CreateSurface(ctx.instanceDriver.Instance(), ctx.surfaceExtension, window)
	if err != nil {
		return err
	}

	ctx.surface = surface
	return nil
}

// pickPhysicalDevice takes the first device satisfying every constraint.
// There is no scoring: the first match wins.
func (ctx *Context) pickPhysicalDevice() error {
	physicalDevices, _, err := ctx.instanceDriver.EnumeratePhysicalDevices()
	if err != nil {
		return err
	}

	for _, device := range physicalDevices {
		if ctx.isDeviceSuitable(device) {
			ctx.physicalDevice = device
			break
		}
	}

	if !ctx.physicalDevice.Initialized() {
		return ErrNoSuitableDevice
	}

	return nil
}

func (ctx *Context) isDeviceSuitable(device core1_0.PhysicalDevice) bool {
	indices, err := ctx.findQueueFamilies(device)
	if err != nil {
		return false
	}

	extensionsSupported := ctx.checkDeviceExtensionSupport(device)

	var swapchainAdequate bool
	if extensionsSupported {
		support, err := querySwapchainSupport(ctx.surfaceExtension, ctx.surface, device)
		if err != nil {
			return false
		}

		swapchainAdequate = len(support.formats) > 0 && len(support.presentModes) > 0
	}

	return indices.IsComplete() && extensionsSupported && swapchainAdequate
}

func (ctx *Context) checkDeviceExtensionSupport(device core1_0.PhysicalDevice) bool {
	extensions, _, err := ctx.instanceDriver.EnumerateDeviceExtensionProperties(device)
	if err != nil {
		return false
	}

	for _, extension := range deviceExtensions {
		_, hasExtension := extensions[extension]
		if !hasExtension {
			return false
		}
	}

	return true
}

func (ctx *Context) findQueueFamilies(device core1_0.PhysicalDevice) (queueFamilyIndices, error) {
	indices := queueFamilyIndices{}
	queueFamilies := ctx.instanceDriver.GetPhysicalDeviceQueueFamilyProperties(device)

	for queueFamilyIdx, queueFamily := range queueFamilies {
		if (queueFamily.QueueFlags & core1_0.QueueGraphics) != 0 {
			indices.GraphicsFamily = new(int)
			*indices.GraphicsFamily = queueFamilyIdx
		}

		supported, _, err := ctx.surfaceExtension.GetPhysicalDeviceSurfaceSupport(ctx.surface, device, queueFamilyIdx)
		if err != nil {
			return indices, err
		}

		if supported {
			indices.PresentFamily = new(int)
			*indices.PresentFamily = queueFamilyIdx
		}

		if indices.IsComplete() {
			break
		}
	}

	return indices, nil
}

func (ctx *Context) createLogicalDevice() error {
	indices, err := ctx.findQueueFamilies(ctx.physicalDevice)
	if err != nil {
		return err
	}

	uniqueQueueFamilies := []int{*indices.GraphicsFamily}
	if uniqueQueueFamilies[0] != *indices.PresentFamily {
		uniqueQueueFamilies = append(uniqueQueueFamilies, *indices.PresentFamily)
	}

	var queueFamilyOptions []core1_0.DeviceQueueCreateInfo
	queuePriority := float32(1.0)
	for _, queueFamily := range uniqueQueueFamilies {
		queueFamilyOptions = append(queueFamilyOptions, core1_0.DeviceQueueCreateInfo{
			QueueFamilyIndex: queueFamily,
			QueuePriorities:  []float32{queuePriority},
		})
	}

	var extensionNames []string
	extensionNames = append(extensionNames, deviceExtensions...)

	// Keeps this renderer compatible with vulkan portability, necessary to run on mobile & mac
	extensions, _, err := ctx.instanceDriver.EnumerateDeviceExtensionProperties(ctx.physicalDevice)
	if err != nil {
		return err
	}

	_, supported := extensions[khr_portability_subset.ExtensionName]
	if supported {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	ctx.deviceDriver, _, err = ctx.instanceDriver.CreateDevice(ctx.physicalDevice, nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos:      queueFamilyOptions,
		EnabledExtensionNames: extensionNames,
	})
	if err != nil {
		return err
	}

	ctx.graphicsFamily = *indices.GraphicsFamily
	ctx.presentFamily = *indices.PresentFamily
	ctx.graphicsQueue = ctx.deviceDriver.GetQueue(ctx.graphicsFamily, 0)
	ctx.presentQueue = ctx.deviceDriver.GetQueue(ctx.presentFamily, 0)
	return nil
}

// Close releases everything the context owns, in reverse creation order.
// Safe on a partially constructed context: zero-value handles are skipped.
func (ctx *Context) Close() {
	if ctx.deviceDriver != nil {
		ctx.deviceDriver.DestroyDevice(nil)
		ctx.deviceDriver = nil
	}

	if ctx.debugMessenger.Initialized() {
		ctx.debugDriver.DestroyDebugUtilsMessenger(ctx.debugMessenger, nil)
		ctx.debugMessenger = ext_debug_utils.DebugUtilsMessenger{}
	}

	if ctx.surface.Initialized() {
		ctx.surfaceExtension.DestroySurface(ctx.surface, nil)
		ctx.surface = khr_surface.Surface{}
	}

	if ctx.instanceDriver != nil {
		ctx.instanceDriver.DestroyInstance(nil)
		ctx.instanceDriver = nil
	}
}
