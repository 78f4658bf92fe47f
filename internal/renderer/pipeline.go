package renderer

import (
	"bytes"
	"encoding/binary"
	"log"
	"os"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
)

func (r *Renderer) createDescriptorSetLayout() error {
	var err error
	r.descriptorSetLayout, _, err = r.ctx.deviceDriver.CreateDescriptorSetLayout(nil, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: []core1_0.DescriptorSetLayoutBinding{
			{
				Binding:         0,
				DescriptorType:  core1_0.DescriptorTypeUniformBuffer,
				DescriptorCount: 1,

				StageFlags: core1_0.StageVertex,
			},
		},
	})
	return err
}

// createGraphicsPipeline compiles the one fixed-function configuration this
// application ever uses. Viewport and scissor are baked to the swapchain
// extent rather than dynamic, so an extent change forces a rebuild through
// here, not just a new swapchain.
func (r *Renderer) createGraphicsPipeline() error {
	vertShader, fragShader, err := r.loadShaderModules()
	if err != nil {
		return err
	}
	defer r.ctx.deviceDriver.DestroyShaderModule(vertShader, nil)
	defer r.ctx.deviceDriver.DestroyShaderModule(fragShader, nil)

	vertexInput := &core1_0.PipelineVertexInputStateCreateInfo{
		VertexBindingDescriptions:   getVertexBindingDescription(),
		VertexAttributeDescriptions: getVertexAttributeDescriptions(),
	}

	inputAssembly := &core1_0.PipelineInputAssemblyStateCreateInfo{
		Topology:               core1_0.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: false,
	}

	vertStage := core1_0.PipelineShaderStageCreateInfo{
		Stage:  core1_0.StageVertex,
		Module: vertShader,
		Name:   "main",
	}

	fragStage := core1_0.PipelineShaderStageCreateInfo{
		Stage:  core1_0.StageFragment,
		Module: fragShader,
		Name:   "main",
	}

	viewport := &core1_0.PipelineViewportStateCreateInfo{
		Viewports: []core1_0.Viewport{
			{
				X:        0,
				Y:        0,
				Width:    float32(r.swapchainExtent.Width),
				Height:   float32(r.swapchainExtent.Height),
				MinDepth: 0,
				MaxDepth: 1,
			},
		},
		Scissors: []core1_0.Rect2D{
			{
				Offset: core1_0.Offset2D{X: 0, Y: 0},
				Extent: r.swapchainExtent,
			},
		},
	}

	rasterization := &core1_0.PipelineRasterizationStateCreateInfo{
		DepthClampEnable:        false,
		RasterizerDiscardEnable: false,

		PolygonMode: core1_0.PolygonModeFill,
		CullMode:    core1_0.CullModeBack,
		FrontFace:   core1_0.FrontFaceClockwise,

		DepthBiasEnable: false,

		LineWidth: 1.0,
	}

	multisample := &core1_0.PipelineMultisampleStateCreateInfo{
		SampleShadingEnable:  false,
		RasterizationSamples: core1_0.Samples1,
		MinSampleShading:     1.0,
	}

	colorBlend := &core1_0.PipelineColorBlendStateCreateInfo{
		LogicOpEnabled: false,
		LogicOp:        core1_0.LogicOpCopy,

		BlendConstants: [4]float32{0, 0, 0, 0},
		Attachments: []core1_0.PipelineColorBlendAttachmentState{
			{
				BlendEnabled:   false,
				ColorWriteMask: core1_0.ColorComponentRed | core1_0.ColorComponentGreen | core1_0.ColorComponentBlue | core1_0.ColorComponentAlpha,
			},
		},
	}

	r.pipelineLayout, _, err = r.ctx.deviceDriver.CreatePipelineLayout(nil, core1_0.PipelineLayoutCreateInfo{
		SetLayouts: []core1_0.DescriptorSetLayout{
			r.descriptorSetLayout,
		},
		PushConstantRanges: []core1_0.PushConstantRange{
			{
				StageFlags: core1_0.StageVertex,
				Offset:     0,
				Size:       int(unsafe.Sizeof(ModelTransform{})),
			},
		},
	})
	if err != nil {
		return err
	}

	pipelines, _, err := r.ctx.deviceDriver.CreateGraphicsPipelines(&r.pipelineCache, nil,
		core1_0.GraphicsPipelineCreateInfo{
			Stages: []core1_0.PipelineShaderStageCreateInfo{
				vertStage,
				fragStage,
			},
			VertexInputState:   vertexInput,
			InputAssemblyState: inputAssembly,
			ViewportState:      viewport,
			RasterizationState: rasterization,
			MultisampleState:   multisample,
			ColorBlendState:    colorBlend,
			Layout:             r.pipelineLayout,
			RenderPass:         r.renderPass,
			Subpass:            0,
			BasePipelineIndex:  -1,
		},
	)
	if err != nil {
		return errors.Wrapf(ErrPipelineCreation, "%v", err)
	}
	r.pipeline = pipelines[0]

	return nil
}

// validatePipelineCacheData checks the Vulkan pipeline cache header against
// the physical device that will consume it. A blob written by a different
// driver or GPU must not be fed back to CreatePipelineCache.
//
// Header layout (least significant byte first):
//
//	Offset  Size  Meaning
//	     0     4  length in bytes of the entire header
//	     4     4  a VkPipelineCacheHeaderVersion value
//	     8     4  VkPhysicalDeviceProperties::vendorID
//	    12     4  VkPhysicalDeviceProperties::deviceID
//	    16    16  VkPhysicalDeviceProperties::pipelineCacheUUID
func validatePipelineCacheData(blob []byte, vendorID, deviceID uint32, pipelineCacheUUID uuid.UUID) bool {
	var headerLength uint32
	var headerVersion core1_0.PipelineCacheHeaderVersion
	var blobVendorID, blobDeviceID uint32
	var blobUUID uuid.UUID

	reader := bytes.NewReader(blob)
	for _, field := range []any{&headerLength, &headerVersion, &blobVendorID, &blobDeviceID, &blobUUID} {
		err := binary.Read(reader, common.ByteOrder, field)
		if err != nil {
			return false
		}
	}

	if headerLength == 0 || headerVersion != core1_0.PipelineCacheHeaderVersionOne {
		return false
	}

	return blobVendorID == vendorID && blobDeviceID == deviceID && blobUUID == pipelineCacheUUID
}

// createPipelineCache seeds the driver's pipeline cache from disk when a
// valid blob exists. Stale blobs are deleted so the next run repopulates.
func (r *Renderer) createPipelineCache() error {
	var initialData []byte

	if r.cfg.PipelineCachePath != "" {
		blob, err := os.ReadFile(r.cfg.PipelineCachePath)
		if err != nil && !os.IsNotExist(err) {
			return err
		}

		if blob != nil {
			properties, err := r.ctx.instanceDriver.GetPhysicalDeviceProperties(r.ctx.physicalDevice)
			if err != nil {
				return err
			}

			if validatePipelineCacheData(blob, properties.VendorID, properties.DeviceID, properties.PipelineCacheUUID) {
				initialData = blob
			} else {
				log.Printf("discarding stale pipeline cache %s", r.cfg.PipelineCachePath)
				_ = os.Remove(r.cfg.PipelineCachePath)
			}
		}
	}

	var err error
	r.pipelineCache, _, err = r.ctx.deviceDriver.CreatePipelineCache(nil, core1_0.PipelineCacheCreateInfo{
		InitialData: initialData,
	})
	return err
}

// savePipelineCache writes the populated cache back to disk. Failures only
// cost the next run a cache miss, so they are logged, not propagated.
func (r *Renderer) savePipelineCache() {
	if r.cfg.PipelineCachePath == "" || !r.pipelineCache.Initialized() {
		return
	}

	blob, _, err := r.ctx.deviceDriver.GetPipelineCacheData(r.pipelineCache)
	if err != nil {
		log.Printf("reading pipeline cache: %v", err)
		return
	}

	err = os.WriteFile(r.cfg.PipelineCachePath, blob, 0666)
	if err != nil {
		log.Printf("writing pipeline cache %s: %v", r.cfg.PipelineCachePath, err)
	}
}
