package kernel

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"deskbridge/pkg/bridge"
)

type commandEntry struct {
	module string
	spec   bridge.CommandSpec
}

// commandTable maps prefix and normalized name to the owning module. It is
// also the bridge.CommandCatalog service.
type commandTable struct {
	mu      sync.RWMutex
	entries map[string]commandEntry
}

func newCommandTable() *commandTable {
	return &commandTable{entries: make(map[string]commandEntry)}
}

// register adds every command of module, or none of them when one name is
// already owned by another module.
func (t *commandTable) register(module string, specs []bridge.CommandSpec) error {
	entries := make(map[string]commandEntry, len(specs))
	for index, spec := range specs {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("register command[%d] for module %s: %w", index, module, err)
		}
		spec = normalizeCommandSpec(spec)
		entries[commandKey(spec.Prefix, spec.Name)] = commandEntry{module: module, spec: spec}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for key, entry := range entries {
		if owner, taken := t.entries[key]; taken {
			return fmt.Errorf("register command %s for module %s: already registered by module %s",
				entry.spec.Label(), module, owner.module)
		}
	}
	maps.Copy(t.entries, entries)

	return nil
}

func (t *commandTable) drop(module string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	maps.DeleteFunc(t.entries, func(_ string, entry commandEntry) bool {
		return entry.module == module
	})
}

func (t *commandTable) lookup(prefix bridge.CommandPrefix, name string) (bridge.CommandSpec, bool) {
	t.mu.RLock()
	entry, found := t.entries[commandKey(prefix, name)]
	t.mu.RUnlock()
	if !found {
		return bridge.CommandSpec{}, false
	}

	return normalizeCommandSpec(entry.spec), true
}

// ListCommands returns copies of every registration ordered by label, then
// module name.
func (t *commandTable) ListCommands(ctx context.Context) ([]bridge.RegisteredCommand, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}

	t.mu.RLock()
	commands := make([]bridge.RegisteredCommand, 0, len(t.entries))
	for entry := range maps.Values(t.entries) {
		commands = append(commands, bridge.RegisteredCommand{
			ModuleName: entry.module,
			Command:    normalizeCommandSpec(entry.spec),
		})
	}
	t.mu.RUnlock()

	slices.SortFunc(commands, func(a, b bridge.RegisteredCommand) int {
		return cmp.Or(
			strings.Compare(a.Command.Label(), b.Command.Label()),
			strings.Compare(a.ModuleName, b.ModuleName),
		)
	})

	return commands, nil
}

func commandKey(prefix bridge.CommandPrefix, name string) string {
	return string(prefix) + ":" + bridge.NormalizeCommandName(name)
}

// normalizeCommandSpec returns a copy that shares no slices with spec.
func normalizeCommandSpec(spec bridge.CommandSpec) bridge.CommandSpec {
	spec.Name = bridge.NormalizeCommandName(spec.Name)
	spec.Usage = strings.TrimSpace(spec.Usage)
	spec.Notes = slices.Clone(spec.Notes)

	return spec
}

var _ bridge.CommandCatalog = (*commandTable)(nil)
