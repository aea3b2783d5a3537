// Package proc is a low-level package that provides methods to control an
// inspected process from the outside.
//
// proc implements the OS independent part of:
// * creating / attaching to a process (through a backend in proc/native)
// * process manipulation (resume, wait, suspend, kill, detach)
// * thread enumeration and isolated single stepping
// * reading and writing the memory and registers of the process
//
package proc
