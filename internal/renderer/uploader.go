package renderer

import (
	"bytes"
	"encoding/binary"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// encodeBlob marshals data into the byte layout the GPU reads. All traffic
// into mapped memory funnels through this so raw pointers stay inside this
// file.
func encodeBlob(data any) ([]byte, error) {
	buf := &bytes.Buffer{}
	err := binary.Write(buf, common.ByteOrder, data)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeBlob maps a memory region, copies the marshalled data in and unmaps.
// The write is refused if the encoded size exceeds the region's capacity;
// destinations never silently truncate.
func writeBlob(device core1_0.CoreDeviceDriver, memory core1_0.DeviceMemory, offset, capacity int, data any) error {
	blob, err := encodeBlob(data)
	if err != nil {
		return err
	}

	if len(blob) > capacity {
		return errors.Errorf("writeBlob: encoded size %d exceeds destination capacity %d", len(blob), capacity)
	}

	memoryPtr, _, err := device.MapMemory(memory, offset, len(blob), 0)
	if err != nil {
		return err
	}
	defer device.UnmapMemory(memory)

	dst := unsafe.Slice((*byte)(memoryPtr), len(blob))
	copy(dst, blob)
	return nil
}

func (r *Renderer) createBuffer(size int, usage core1_0.BufferUsageFlags, properties core1_0.MemoryPropertyFlags) (core1_0.Buffer, core1_0.DeviceMemory, error) {
	buffer, _, err := r.ctx.deviceDriver.CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       usage,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return core1_0.Buffer{}, core1_0.DeviceMemory{}, err
	}

	memRequirements := r.ctx.deviceDriver.GetBufferMemoryRequirements(buffer)
	memoryTypeIndex, err := r.findMemoryType(memRequirements.MemoryTypeBits, properties)
	if err != nil {
		return buffer, core1_0.DeviceMemory{}, err
	}

	memory, _, err := r.ctx.deviceDriver.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memRequirements.Size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		return buffer, core1_0.DeviceMemory{}, err
	}

	_, err = r.ctx.deviceDriver.BindBufferMemory(buffer, memory, 0)
	return buffer, memory, err
}

func (r *Renderer) findMemoryType(typeFilter uint32, properties core1_0.MemoryPropertyFlags) (int, error) {
	memProperties := r.ctx.instanceDriver.GetPhysicalDeviceMemoryProperties(r.ctx.physicalDevice)
	for i, memoryType := range memProperties.MemoryTypes {
		typeBit := uint32(1 << i)

		if (typeFilter&typeBit) != 0 && (memoryType.PropertyFlags&properties) == properties {
			return i, nil
		}
	}

	return 0, errors.New("no suitable memory type for buffer")
}

func (r *Renderer) beginOneShotCommands() (core1_0.CommandBuffer, error) {
	buffers, _, err := r.ctx.deviceDriver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        r.commandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return core1_0.CommandBuffer{}, err
	}

	buffer := buffers[0]
	_, err = r.ctx.deviceDriver.BeginCommandBuffer(buffer, core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	return buffer, err
}

// endOneShotCommands submits and blocks until the queue drains. Only the
// startup upload path comes through here, so the stall is acceptable.
func (r *Renderer) endOneShotCommands(buffer core1_0.CommandBuffer) error {
	_, err := r.ctx.deviceDriver.EndCommandBuffer(buffer)
	if err != nil {
		return err
	}

	_, err = r.ctx.deviceDriver.QueueSubmit(r.ctx.graphicsQueue, nil,
		core1_0.SubmitInfo{
			CommandBuffers: []core1_0.CommandBuffer{buffer},
		},
	)
	if err != nil {
		return err
	}

	_, err = r.ctx.deviceDriver.QueueWaitIdle(r.ctx.graphicsQueue)
	if err != nil {
		return err
	}

	r.ctx.deviceDriver.FreeCommandBuffers(buffer)
	return nil
}

// uploadToDevice pushes static data through a host-visible staging buffer
// into a device-local one. The staging buffer lives exactly as long as the
// copy takes.
func (r *Renderer) uploadToDevice(data any, usage core1_0.BufferUsageFlags) (core1_0.Buffer, core1_0.DeviceMemory, error) {
	bufferSize := binary.Size(data)

	stagingBuffer, stagingMemory, err := r.createBuffer(bufferSize, core1_0.BufferUsageTransferSrc, core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
	if stagingBuffer.Initialized() {
		defer r.ctx.deviceDriver.DestroyBuffer(stagingBuffer, nil)
	}
	if stagingMemory.Initialized() {
		defer r.ctx.deviceDriver.FreeMemory(stagingMemory, nil)
	}

	if err != nil {
		return core1_0.Buffer{}, core1_0.DeviceMemory{}, err
	}

	err = writeBlob(r.ctx.deviceDriver, stagingMemory, 0, bufferSize, data)
	if err != nil {
		return core1_0.Buffer{}, core1_0.DeviceMemory{}, err
	}

	deviceBuffer, deviceMemory, err := r.createBuffer(bufferSize, core1_0.BufferUsageTransferDst|usage, core1_0.MemoryPropertyDeviceLocal)
	if err != nil {
		return deviceBuffer, deviceMemory, err
	}

	cmdBuffer, err := r.beginOneShotCommands()
	if err != nil {
		return deviceBuffer, deviceMemory, err
	}

	err = r.ctx.deviceDriver.CmdCopyBuffer(cmdBuffer, stagingBuffer, deviceBuffer,
		core1_0.BufferCopy{
			SrcOffset: 0,
			DstOffset: 0,
			Size:      bufferSize,
		},
	)
	if err != nil {
		return deviceBuffer, deviceMemory, err
	}

	return deviceBuffer, deviceMemory, r.endOneShotCommands(cmdBuffer)
}

func (r *Renderer) createVertexBuffer() error {
	var err error
	r.vertexBuffer, r.vertexBufferMemory, err = r.uploadToDevice(triangleVertices, core1_0.BufferUsageVertexBuffer)
	return err
}

// createUniformBuffers allocates one persistent host-visible uniform buffer
// per frame slot. Each slot writes only its own buffer, serialized by that
// slot's fence, so no cross-frame synchronization is needed on the contents.
func (r *Renderer) createUniformBuffers() error {
	bufferSize := int(unsafe.Sizeof(CameraMatrices{}))

	for i := 0; i < r.frameCount; i++ {
		buffer, memory, err := r.createBuffer(bufferSize, core1_0.BufferUsageUniformBuffer, core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
		if err != nil {
			return err
		}

		r.uniformBuffers = append(r.uniformBuffers, buffer)
		r.uniformBuffersMemory = append(r.uniformBuffersMemory, memory)
	}

	return nil
}

// UpdateUniforms writes the slot's camera matrices. The happens-before edge
// to the GPU read is the queue submission that follows; no barrier needed.
func (r *Renderer) UpdateUniforms(slot int) error {
	cam := cameraMatrices(r.swapchainExtent)
	return writeBlob(r.ctx.deviceDriver, r.uniformBuffersMemory[slot], 0, int(unsafe.Sizeof(CameraMatrices{})), &cam)
}
