// Package js hosts trading strategies written in JavaScript on goja VMs.
// A module exports lifecycle callbacks and trades through the global algo
// object; a running callback can be interrupted from another goroutine.
package js

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dop251/goja"
)

// Metadata is the optional metadata export of a module.
type Metadata struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Module is a compiled strategy source.
type Module struct {
	Name     string
	Filename string
	Path     string
	Hash     string
	Metadata Metadata
	Program  *goja.Program
	Size     int64
}

// ModuleSummary exposes immutable module details.
type ModuleSummary struct {
	Name     string   `json:"name"`
	File     string   `json:"file"`
	Path     string   `json:"path"`
	Hash     string   `json:"hash"`
	Size     int64    `json:"size"`
	Metadata Metadata `json:"metadata"`
}

// Loader compiles every JavaScript file in a directory.
type Loader struct {
	mu     sync.RWMutex
	root   string
	byName map[string]*Module
}

// NewLoader constructs a Loader rooted at an existing directory.
func NewLoader(root string) (*Loader, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		return nil, fmt.Errorf("strategy loader: root directory required")
	}
	clean := filepath.Clean(trimmed)
	info, err := os.Stat(clean)
	if err != nil {
		return nil, fmt.Errorf("strategy loader: stat %q: %w", clean, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("strategy loader: %q is not a directory", clean)
	}
	return &Loader{root: clean, byName: make(map[string]*Module)}, nil
}

// Root returns the directory the loader reads.
func (l *Loader) Root() string { return l.root }

// Refresh recompiles every module on disk. On error the previous catalog is kept.
func (l *Loader) Refresh(ctx context.Context) error {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return fmt.Errorf("strategy loader: read directory %q: %w", l.root, err)
	}
	next := make(map[string]*Module)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("strategy loader: refresh canceled: %w", err)
		}
		if entry.IsDir() || !isJavaScriptFile(entry.Name()) {
			continue
		}
		fullPath := filepath.Join(l.root, entry.Name())
		// #nosec G304 -- fullPath comes from os.ReadDir within the loader root.
		source, err := os.ReadFile(fullPath)
		if err != nil {
			return fmt.Errorf("strategy loader: read %q: %w", fullPath, err)
		}
		module, err := Compile(fullPath, source)
		if err != nil {
			return err
		}
		key := strings.ToLower(module.Name)
		if _, exists := next[key]; exists {
			return fmt.Errorf("strategy loader: duplicate strategy name %q", module.Name)
		}
		next[key] = module
	}
	l.mu.Lock()
	l.byName = next
	l.mu.Unlock()
	return nil
}

// List returns the loaded modules sorted by name.
func (l *Loader) List() []ModuleSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]ModuleSummary, 0, len(l.byName))
	for _, m := range l.byName {
		out = append(out, ModuleSummary{
			Name: m.Name, File: m.Filename, Path: m.Path, Hash: m.Hash, Size: m.Size, Metadata: m.Metadata,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the compiled module for a strategy name.
func (l *Loader) Get(name string) (*Module, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("strategy loader: %q: %w", name, ErrModuleNotFound)
	}
	return m, nil
}

// LoadFile compiles a single module from disk.
func LoadFile(path string) (*Module, error) {
	// #nosec G304 -- the path is chosen by the operator.
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("strategy loader: read %q: %w", path, err)
	}
	return Compile(path, source)
}

// Compile parses source and evaluates it once on a scratch VM to read its
// metadata. The module name defaults to the file name without extension.
func Compile(path string, source []byte) (*Module, error) {
	prog, err := goja.Compile(path, string(source), true)
	if err != nil {
		return nil, fmt.Errorf("strategy loader: compile %q: %w", path, err)
	}
	meta, err := extractMetadata(prog)
	if err != nil {
		return nil, fmt.Errorf("strategy loader: %s: %w", path, err)
	}
	base := filepath.Base(path)
	if meta.Name == "" {
		meta.Name = strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
	}
	sum := sha256.Sum256(source)
	return &Module{
		Name:     meta.Name,
		Filename: base,
		Path:     path,
		Hash:     hex.EncodeToString(sum[:]),
		Metadata: meta,
		Program:  prog,
		Size:     int64(len(source)),
	}, nil
}

func extractMetadata(program *goja.Program) (Metadata, error) {
	rt := goja.New()
	exports, err := runModule(rt, program, nil)
	if err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	raw := exports.Get("metadata")
	if raw == nil || goja.IsUndefined(raw) || goja.IsNull(raw) {
		return meta, nil
	}
	if err := rt.ExportTo(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("metadata export invalid: %w", err)
	}
	meta.Name = strings.ToLower(strings.TrimSpace(meta.Name))
	return meta, nil
}

// runModule evaluates program with CommonJS-style module and exports
// objects and returns module.exports.
func runModule(rt *goja.Runtime, program *goja.Program, console *goja.Object) (*goja.Object, error) {
	rt.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	module := rt.NewObject()
	exports := rt.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, fmt.Errorf("module init: %w", err)
	}
	if err := rt.Set("exports", exports); err != nil {
		return nil, fmt.Errorf("module init: %w", err)
	}
	if err := rt.Set("module", module); err != nil {
		return nil, fmt.Errorf("module init: %w", err)
	}
	if console == nil {
		console = silentConsole(rt)
	}
	if err := rt.Set("console", console); err != nil {
		return nil, fmt.Errorf("module init: %w", err)
	}
	if _, err := rt.RunProgram(program); err != nil {
		return nil, fmt.Errorf("module run: %w", err)
	}
	object := module.Get("exports").ToObject(rt)
	if object == nil {
		return nil, fmt.Errorf("module exports must be an object")
	}
	return object, nil
}

func silentConsole(rt *goja.Runtime) *goja.Object {
	console := rt.NewObject()
	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	for _, name := range []string{"log", "info", "warn", "error"} {
		_ = console.Set(name, noop)
	}
	return console
}

func isJavaScriptFile(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return strings.HasSuffix(lower, ".js") || strings.HasSuffix(lower, ".mjs")
}
