package commands

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Registry manages command registrations and execution.
type Registry struct {
	commands map[string]*Command // name -> command
	aliases  map[string]string   // alias -> name
	families map[string]int      // family -> command count
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewRegistry creates a new command registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		commands: make(map[string]*Command),
		aliases:  make(map[string]string),
		families: make(map[string]int),
		logger:   logger.With("component", "commands"),
	}
}

// Register adds a command to the registry.
func (r *Registry) Register(cmd *Command) error {
	if cmd == nil {
		return fmt.Errorf("command is nil")
	}
	if cmd.Name == "" {
		return fmt.Errorf("command name is required")
	}
	if cmd.Handler == nil {
		return fmt.Errorf("command handler is required")
	}

	name := strings.ToLower(strings.TrimSpace(cmd.Name))

	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for conflicts
	if _, exists := r.commands[name]; exists {
		return fmt.Errorf("command %q already registered", name)
	}
	if existingName, exists := r.aliases[name]; exists {
		return fmt.Errorf("command name %q conflicts with alias for %q", name, existingName)
	}

	r.commands[name] = cmd

	for _, alias := range cmd.Aliases {
		aliasLower := strings.ToLower(strings.TrimSpace(alias))
		if aliasLower == "" || aliasLower == name {
			continue
		}
		if _, exists := r.commands[aliasLower]; exists {
			r.logger.Warn("alias conflicts with command", "alias", aliasLower, "command", name)
			continue
		}
		if _, exists := r.aliases[aliasLower]; exists {
			r.logger.Warn("alias already registered", "alias", aliasLower, "command", name)
			continue
		}
		r.aliases[aliasLower] = name
	}

	if cmd.Family != "" {
		r.families[strings.ToLower(cmd.Family)]++
	}

	r.logger.Debug("registered command",
		"name", name,
		"aliases", cmd.Aliases,
		"family", cmd.Family)

	return nil
}

// Unregister removes a command from the registry.
func (r *Registry) Unregister(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))

	r.mu.Lock()
	defer r.mu.Unlock()

	cmd, exists := r.commands[name]
	if !exists {
		return false
	}

	for _, alias := range cmd.Aliases {
		delete(r.aliases, strings.ToLower(alias))
	}
	if cmd.Family != "" {
		family := strings.ToLower(cmd.Family)
		if r.families[family]--; r.families[family] <= 0 {
			delete(r.families, family)
		}
	}

	delete(r.commands, name)
	r.logger.Debug("unregistered command", "name", name)
	return true
}

// Get retrieves a command by name or alias.
func (r *Registry) Get(name string) (*Command, bool) {
	name = strings.ToLower(strings.TrimSpace(name))

	r.mu.RLock()
	defer r.mu.RUnlock()

	if cmd, exists := r.commands[name]; exists {
		return cmd, true
	}
	if realName, exists := r.aliases[name]; exists {
		if cmd, exists := r.commands[realName]; exists {
			return cmd, true
		}
	}
	return nil, false
}

// HasFamily reports whether any registered command belongs to family.
func (r *Registry) HasFamily(family string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.families[strings.ToLower(family)] > 0
}

// List returns all registered commands.
func (r *Registry) List() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	commands := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		commands = append(commands, cmd)
	}

	sort.Slice(commands, func(i, j int) bool {
		return commands[i].Name < commands[j].Name
	})

	return commands
}

// Names returns all registered command names (not aliases).
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs a command by name with arguments.
func (r *Registry) Execute(ctx context.Context, inv *Invocation) (*Result, error) {
	if inv == nil {
		return nil, fmt.Errorf("invocation is nil")
	}

	cmd, exists := r.Get(inv.Name)
	if !exists {
		return nil, fmt.Errorf("command %q not found", inv.Name)
	}

	if cmd.AdminOnly && !inv.IsAdmin {
		return &Result{Error: "This command requires admin privileges"}, nil
	}

	if cmd.MinArgs > 0 {
		if fields, _ := inv.Fields(cmd.MinArgs); len(fields) < cmd.MinArgs || fields[len(fields)-1] == "" {
			return &Result{Text: "Usage: " + cmd.Usage}, nil
		}
	}

	inv.Command = cmd
	return cmd.Handler(ctx, inv)
}
