/*
Voxel streams terrain chunks through a Vulkan frame graph. The
testbed game flies a camera over the world and pages the chunks
around it into a device local vertex buffer.
*/
package main

import (
	"os"

	"github.com/spaghettifunk/voxel/engine/core"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		core.LogError(err.Error())
		os.Exit(1)
	}
}
