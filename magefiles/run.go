//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Builds the binary and runs the engine with voxel.toml.
func (Run) Engine() error {
	mg.Deps(Build.Config)
	fmt.Println("Run engine...")
	return voxel("run", "--config", "voxel.toml")
}

// Runs the unit tests of every package.
func (Run) Tests() error {
	return goTool("test", "-race", "./...")
}

// Runs the frame graph and chunk tests verbosely.
func (Run) GraphTests() error {
	return goTool("test", "-v", "./engine/framegraph/...", "./engine/chunks/...")
}
