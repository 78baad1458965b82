package main

import (
	"slices"
	"testing"
)

func TestBrokenBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		importer string
		imported string
		want     string
	}{
		{
			name:     "bridge api reaching into the kernel",
			importer: "deskbridge/pkg/bridge",
			imported: "deskbridge/internal/kernel",
			want:     "pkg/* must not import internal/*",
		},
		{
			name:     "ticket module reaching into the cache",
			importer: "deskbridge/modules/tickets",
			imported: "deskbridge/internal/respcache",
			want:     "modules/* must not import internal/*",
		},
		{
			name:     "ops server importing the binary",
			importer: "deskbridge/internal/opsserver",
			imported: "deskbridge/cmd/bridge",
			want:     "internal/* must not import cmd/*",
		},
		{
			name:     "kernel test variant importing telegram",
			importer: "deskbridge/internal/kernel [deskbridge/internal/kernel.test]",
			imported: "deskbridge/internal/driver/telegram",
			want:     "internal/kernel/* must not import internal/driver/*",
		},
		{
			name:     "llm registry importing a vendor",
			importer: "deskbridge/pkg/llm",
			imported: "deskbridge/pkg/llm/providers/openai",
			want:     "pkg/llm/* must not import pkg/llm/providers/*",
		},
		{
			name:     "vendor importing a sibling vendor",
			importer: "deskbridge/pkg/llm/providers/gemini",
			imported: "deskbridge/pkg/llm/providers/openai",
		},
		{
			name:     "similar prefix is a different directory",
			importer: "deskbridge/pkgtools/gen",
			imported: "deskbridge/internal/kernel",
		},
		{
			name:     "module using the bridge api",
			importer: "deskbridge/modules/help",
			imported: "deskbridge/pkg/bridge",
		},
		{
			name:     "binary wires everything",
			importer: "deskbridge/cmd/bridge",
			imported: "deskbridge/internal/zendesk",
		},
		{
			name:     "third party import",
			importer: "deskbridge/pkg/bridge",
			imported: "github.com/gotd/td/tg",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			rule, broken := brokenBoundary(testCase.importer, testCase.imported)
			if broken != (testCase.want != "") {
				t.Fatalf("brokenBoundary() broken = %v, want %v", broken, testCase.want != "")
			}
			if broken && rule.String() != testCase.want {
				t.Fatalf("rule = %q, want %q", rule, testCase.want)
			}
		})
	}
}

func TestFindViolations(t *testing.T) {
	t.Parallel()

	got := findViolations([]goPackage{
		{
			ImportPath:  "deskbridge/modules/tickets",
			Imports:     []string{"deskbridge/internal/zendesk", "deskbridge/pkg/bridge"},
			TestImports: []string{"deskbridge/internal/zendesk"},
		},
		{
			ImportPath: "deskbridge/internal/admission",
			Imports:    []string{"deskbridge/cmd/bridge"},
		},
	})

	want := []string{
		"deskbridge/internal/admission -> deskbridge/cmd/bridge (internal/* must not import cmd/*)",
		"deskbridge/modules/tickets -> deskbridge/internal/zendesk (modules/* must not import internal/*)",
	}
	if !slices.Equal(got, want) {
		t.Fatalf("findViolations() = %q, want %q", got, want)
	}
}
