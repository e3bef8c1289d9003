package js

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
)

// Instance is one goja VM running a module. Calls are serialised; Interrupt
// may be called from any goroutine.
type Instance struct {
	module *Module
	rt     *goja.Runtime
	export *goja.Object

	mu     sync.Mutex
	closed atomic.Bool
}

// NewInstance evaluates module on a fresh VM. setup runs before the module
// body so globals it installs are visible at load time.
func NewInstance(module *Module, setup func(rt *goja.Runtime) (console *goja.Object, err error)) (*Instance, error) {
	if module == nil {
		return nil, fmt.Errorf("strategy instance: module required")
	}
	rt := goja.New()
	var console *goja.Object
	if setup != nil {
		var err error
		if console, err = setup(rt); err != nil {
			return nil, fmt.Errorf("strategy instance: setup %s: %w", module.Name, err)
		}
	}
	export, err := runModule(rt, module.Program, console)
	if err != nil {
		return nil, fmt.Errorf("strategy instance: execute %s: %w", module.Path, err)
	}
	return &Instance{module: module, rt: rt, export: export}, nil
}

// Execute runs fn with exclusive use of the VM. A pending interrupt left
// over from an earlier call is cleared first.
func (i *Instance) Execute(fn func(rt *goja.Runtime, exports *goja.Object) (goja.Value, error)) (goja.Value, error) {
	if fn == nil {
		return nil, fmt.Errorf("strategy instance: callback required")
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed.Load() {
		return nil, errClosed
	}
	i.rt.ClearInterrupt()
	return fn(i.rt, i.export)
}

// Has reports whether the module exports a function named name.
func (i *Instance) Has(name string) bool {
	ok := false
	_, _ = i.Execute(func(_ *goja.Runtime, exports *goja.Object) (goja.Value, error) {
		_, ok = goja.AssertFunction(exports.Get(name))
		return nil, nil
	})
	return ok
}

// Call invokes the named export. Go arguments are converted with ToValue.
// A missing export returns ErrFunctionMissing. An interrupted call returns
// the interrupt reason when it is an error.
func (i *Instance) Call(function string, args ...any) (goja.Value, error) {
	name := strings.TrimSpace(function)
	if name == "" {
		return nil, fmt.Errorf("strategy instance: function name required")
	}
	return i.Execute(func(rt *goja.Runtime, exports *goja.Object) (goja.Value, error) {
		value := exports.Get(name)
		if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
			return nil, ErrFunctionMissing
		}
		callable, ok := goja.AssertFunction(value)
		if !ok {
			return nil, fmt.Errorf("strategy instance: export %q not callable", name)
		}
		params := make([]goja.Value, len(args))
		for idx, arg := range args {
			params[idx] = rt.ToValue(arg)
		}
		res, err := callable(exports, params...)
		if err != nil {
			return nil, unwrapInterrupt(err)
		}
		return res, nil
	})
}

// Interrupt aborts the JavaScript currently running, if any. The pending
// call returns reason.
func (i *Instance) Interrupt(reason error) {
	i.rt.Interrupt(reason)
}

// Close makes later calls fail and interrupts a call still running.
func (i *Instance) Close() {
	if i.closed.CompareAndSwap(false, true) {
		i.rt.Interrupt(errClosed)
	}
}

var errClosed = errors.New("strategy instance: closed")

func unwrapInterrupt(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if reason, ok := interrupted.Value().(error); ok {
			return reason
		}
	}
	return err
}
