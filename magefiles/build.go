//go:build mage

package main

import (
	"os"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Compiles the voxel binary into bin/.
func (Build) Binary() error {
	return goTool("build", "-o", binary, ".")
}

// Writes the default config to voxel.toml unless it already exists.
func (Build) Config() error {
	mg.Deps(Build.Binary)
	if _, err := os.Stat("voxel.toml"); err == nil {
		return voxel("config", "check", "voxel.toml")
	}
	return voxel("config", "init", "voxel.toml")
}

// Tidies go.mod and vets every package.
func (Build) Vet() error {
	if err := runQuiet(nil, "go", "mod", "tidy"); err != nil {
		return err
	}
	return goTool("vet", "./...")
}
