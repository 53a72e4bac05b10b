//go:build mage

package main

import (
	"fmt"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const binary = "bin/voxel"

// glfw and the Vulkan loader are cgo bindings.
var cgoEnv = map[string]string{"CGO_ENABLED": "1"}

func goTool(args ...string) error {
	return run(cgoEnv, "go", args...)
}

func voxel(args ...string) error {
	return run(nil, binary, args...)
}

// run prints the command line and streams the command's output.
func run(env map[string]string, command string, args ...string) error {
	fmt.Printf("Executing: %s %s\n", command, strings.Join(args, " "))
	if err := sh.RunWithV(env, command, args...); err != nil {
		return fmt.Errorf("error executing %s: %w", command, err)
	}
	return nil
}

// runQuiet only shows output with mage -v.
func runQuiet(env map[string]string, command string, args ...string) error {
	if mg.Verbose() {
		return run(env, command, args...)
	}
	return sh.RunWith(env, command, args...)
}
