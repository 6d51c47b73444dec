// Package native maps compiled x86-64 code into the running process and
// calls its functions directly. Only the functions run, never the startup
// stub, so modules that need the runtime context block are refused. It is
// available on linux/amd64 only.
package native
