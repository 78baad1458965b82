// Command archcheck fails when a package imports across a forbidden layer
// boundary. It reads the import graph from `go list -json -test ./...`.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
)

const modulePath = "deskbridge"

// boundary forbids importing `to` from inside `from`. Packages under
// `unless` are exempt even when they sit inside `from`.
type boundary struct {
	from   string
	to     string
	unless string
}

func (b boundary) String() string {
	return b.from + "/* must not import " + b.to + "/*"
}

var boundaries = []boundary{
	{from: "pkg", to: "internal"},
	{from: "pkg", to: "modules"},
	{from: "modules", to: "internal"},
	{from: "internal", to: "cmd"},
	{from: "internal/kernel", to: "internal/driver"},
	{from: "internal/driver", to: "modules"},
	{from: "pkg/llm", to: "pkg/llm/providers", unless: "pkg/llm/providers"},
}

type goPackage struct {
	ImportPath   string
	Imports      []string
	TestImports  []string
	XTestImports []string
}

func (p goPackage) allImports() []string {
	return slices.Concat(p.Imports, p.TestImports, p.XTestImports)
}

func main() {
	packages, err := loadPackages()
	if err != nil {
		fmt.Fprintln(os.Stderr, "archcheck:", err)
		os.Exit(2)
	}

	violations := findViolations(packages)
	if len(violations) == 0 {
		fmt.Println("archcheck: ok")
		return
	}
	fmt.Printf("archcheck: %d layering violation(s)\n", len(violations))
	for _, violation := range violations {
		fmt.Println("  " + violation)
	}
	os.Exit(1)
}

func loadPackages() ([]goPackage, error) {
	cmd := exec.Command("go", "list", "-json", "-test", "./...")
	cmd.Stderr = os.Stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("go list: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("go list: %w", err)
	}

	var packages []goPackage
	decoder := json.NewDecoder(stdout)
	for {
		var pkg goPackage
		err := decoder.Decode(&pkg)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_ = cmd.Wait()
			return nil, fmt.Errorf("decode go list output: %w", err)
		}
		if pkg.ImportPath != "" {
			packages = append(packages, pkg)
		}
	}
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("go list: %w", err)
	}

	return packages, nil
}

// findViolations returns one sorted line per distinct offending edge.
func findViolations(packages []goPackage) []string {
	var violations []string
	for _, pkg := range packages {
		for _, imported := range pkg.allImports() {
			if rule, broken := brokenBoundary(pkg.ImportPath, imported); broken {
				violations = append(violations, fmt.Sprintf("%s -> %s (%s)", pkg.ImportPath, imported, rule))
			}
		}
	}
	slices.Sort(violations)

	return slices.Compact(violations)
}

func brokenBoundary(importer, imported string) (boundary, bool) {
	from, ok := localPath(importer)
	if !ok {
		return boundary{}, false
	}
	to, ok := localPath(imported)
	if !ok {
		return boundary{}, false
	}

	for _, rule := range boundaries {
		if within(from, rule.from) && within(to, rule.to) && (rule.unless == "" || !within(from, rule.unless)) {
			return rule, true
		}
	}

	return boundary{}, false
}

// localPath strips the module path and the " [pkg.test]" suffix go list
// adds to test variants.
func localPath(importPath string) (string, bool) {
	importPath, _, _ = strings.Cut(importPath, " ")
	rest, ok := strings.CutPrefix(importPath, modulePath+"/")

	return rest, ok
}

func within(path, dir string) bool {
	return path == dir || strings.HasPrefix(path, dir+"/")
}
