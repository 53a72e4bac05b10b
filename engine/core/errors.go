package core

import (
	"errors"
)

var (
	ErrSwapchainBooting = errors.New("swapchain resized or recreated, booting")
	ErrUnknown          = errors.New("unknown")

	ErrGraphCycle        = errors.New("render graph is not acyclic")
	ErrGraphBaked        = errors.New("render graph already baked")
	ErrGraphNotBaked     = errors.New("render graph not baked")
	ErrUsageKindMismatch = errors.New("edge connects usages of different resource kinds")
	ErrForeignUsage      = errors.New("usage does not belong to a node of this graph")
	ErrSelfEdge          = errors.New("edge connects a node to itself")
	ErrInvalidNodeState  = errors.New("invalid node state transition")
	ErrStagingOverflow   = errors.New("staging buffer capacity exceeded")
	ErrDeferredQueueFull = errors.New("deferred transfer queue is full")
	ErrInvalidFrameCount = errors.New("frames in flight must be at least 1")
)
