// Package vm implements the Vela virtual machine.
//
// This package contains:
//   - the tagged Value representation
//   - code objects and programs
//   - the image loader and writer
//   - the stack-based bytecode interpreter
//   - the Heap interface and a simple arena
//
// A Program is immutable once loaded and may be shared by any number of VM
// instances. Each VM is single-threaded and owns its frames and globals.
// Failures are reported as *LoadError at load time and *Trap at run time.
package vm
