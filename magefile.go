//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/magefile/mage/mg"
)

// Default target to run when none is specified
var Default = Build

// Build compiles the sipmpos executable into ./bin.
func Build() error {
	fmt.Println("Building sipmpos executable...")
	cmd := exec.Command("go", "build", "-o", "./bin/sipmpos", "./cmd/sipmpos")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// Test runs the package tests.
func Test() error {
	mg.Deps(Build)
	fmt.Println("Running tests...")
	cmd := exec.Command("go", "test", "./...")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
