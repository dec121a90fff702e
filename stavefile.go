//go:build stave

package main

import (
	"fmt"
	"os"

	"github.com/yaklabco/stave/pkg/sh"
	"github.com/yaklabco/stave/pkg/st"
	"github.com/yaklabco/stave/pkg/target"
)

// Default target when running `stave` with no arguments.
var Default = All

// Aliases for common targets.
var Aliases = map[string]interface{}{
	"b": Build,
	"t": Test,
	"c": Clean,
}

var binaries = []string{"wikigec", "wikigec-runs"}

// All vets, tests and builds.
func All() error {
	st.Deps(Vet, Test)
	st.Deps(Build)
	return nil
}

// Build compiles the command binaries into bin/.
func Build() error {
	for _, name := range binaries {
		out := "bin/" + name
		rebuild, err := target.Glob(out, "**/*.go", "go.mod", "go.sum")
		if err != nil {
			return fmt.Errorf("checking %s: %w", name, err)
		}
		if !rebuild {
			if st.Verbose() {
				fmt.Printf("%s is up to date\n", name)
			}
			continue
		}
		if err := sh.RunV("go", "build", "-trimpath", "-o", out, "./cmd/"+name); err != nil {
			return err
		}
	}
	return nil
}

// Test runs all tests with race detection.
func Test() error {
	return sh.RunV("go", "test", "-race", "-cover", "./...")
}

// TestShort skips the collaborator-driven end-to-end tests.
func TestShort() error {
	return sh.RunV("go", "test", "-short", "./...")
}

// Vet runs go vet on all packages.
func Vet() error {
	return sh.RunV("go", "vet", "./...")
}

// Smoke runs the pipeline on the dump named by WIKIGEC_DUMP with the real
// WikiEdits and ERRANT checkouts.
func Smoke() error {
	st.Deps(Build)
	dump := os.Getenv("WIKIGEC_DUMP")
	if dump == "" {
		return fmt.Errorf("WIKIGEC_DUMP is not set")
	}
	gold := os.Getenv("WIKIGEC_GOLD")
	if gold == "" {
		gold = "fce"
	}
	return sh.RunV("bin/wikigec", "-dump", dump, "-gold", gold)
}

// Clean removes build artifacts.
func Clean() error {
	return sh.Rm("bin/")
}
