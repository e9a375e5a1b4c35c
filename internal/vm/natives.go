package vm

import (
	"time"

	"vela/internal/value"
)

// DefineNative registers fn as a global named name. Called during VM
// setup, before any user source is compiled, so the global table
// already holds it by the time GET_GLOBAL looks it up.
func (vm *VM) DefineNative(name string, fn NativeFn) {
	nameStr := vm.CopyString(name)
	vm.globals.Set(nameStr, value.FromObj(vm.AllocateNative(name, fn)))
}

// DefineStandardNatives installs the small set of natives every
// program can rely on.
func (vm *VM) DefineStandardNatives() {
	vm.DefineNative("clock", func(args []value.Value) (value.Value, error) {
		return value.Number(float64(time.Now().UnixNano()) / 1e9), nil
	})
}
