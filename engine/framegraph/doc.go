// Package framegraph schedules GPU work as a directed acyclic graph of nodes.
//
// Nodes are bound to one hardware queue each and declare, per frame, which regions of which
// buffers and images they touch through BufferUsage and ImageUsage objects. Edges connect a
// producer usage to a consumer usage of the same resource. Bake orders the nodes
// topologically and creates one semaphore per producer/consumer pair; Execute then runs the
// pre-render, record, submit and post-render phases over every node in that order,
// synthesizing the pipeline barriers and queue family ownership transfers between them.
//
// The graph keeps up to FramesInFlight frames pending on the GPU. A node never re-records a
// frame slot before the fence of that slot's previous submission has signaled.
//
// All GPU access goes through the Device, Queue, CommandBuffer and Surface interfaces so the
// scheduler can run against the Vulkan backend in engine/renderer/vulkan or a test double.
package framegraph
