//go:build linux && amd64

package native

import (
	"debug/elf"
	"errors"
	"fmt"
	"unsafe"

	"github.com/ebitengine/purego"
	"golang.org/x/sys/unix"

	"github.com/tinyrange/seraph/internal/ir/backend"
)

var (
	ErrMachine = errors.New("native: code is not for this machine")
	ErrContext = errors.New("native: module needs the runtime context block")
)

// MaxArgs is the number of register arguments Call passes.
const MaxArgs = 6

// Image is compiled code mapped executable, followed by its read-write
// data sections.
type Image struct {
	out  *backend.Output
	mem  []byte
	text uintptr
}

func alignUp(v, a int) int { return (v + a - 1) &^ (a - 1) }

// Load maps out. The caller must Close the image.
func Load(out *backend.Output) (*Image, error) {
	if out.Target.Machine != elf.EM_X86_64 {
		return nil, fmt.Errorf("%w: %v", ErrMachine, out.Target.Machine)
	}
	if out.UsesContext {
		return nil, ErrContext
	}

	page := unix.Getpagesize()
	textSize := alignUp(len(out.Code), page)
	rodataOff := textSize
	dataOff := alignUp(rodataOff+len(out.Rodata), 16)
	bssOff := alignUp(dataOff+len(out.Data), 16)
	size := alignUp(bssOff+int(out.BSSSize), page)

	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("native: mmap %d bytes: %w", size, err)
	}
	base := uint64(uintptr(unsafe.Pointer(&mem[0])))
	copy(mem, out.Code)
	copy(mem[rodataOff:], out.Rodata)
	copy(mem[dataOff:], out.Data)

	layout := backend.Layout{
		Text:   base,
		Rodata: base + uint64(rodataOff),
		Data:   base + uint64(dataOff),
		BSS:    base + uint64(bssOff),
	}
	if err := out.Relocate(mem[:len(out.Code)], layout); err != nil {
		unix.Munmap(mem)
		return nil, err
	}
	if err := unix.Mprotect(mem[:textSize], unix.PROT_READ|unix.PROT_EXEC); err != nil {
		unix.Munmap(mem)
		return nil, fmt.Errorf("native: mprotect text: %w", err)
	}
	return &Image{out: out, mem: mem, text: uintptr(base)}, nil
}

// Call runs the named function with register arguments and returns RAX.
func (im *Image) Call(name string, args ...uint64) (uint64, error) {
	if im.mem == nil {
		return 0, errors.New("native: image is closed")
	}
	sym, ok := im.out.Function(name)
	if !ok {
		return 0, fmt.Errorf("native: no function %s", name)
	}
	if len(args) > MaxArgs {
		return 0, fmt.Errorf("native: %s: %d arguments, at most %d", name, len(args), MaxArgs)
	}
	a := make([]uintptr, len(args))
	for i, x := range args {
		a[i] = uintptr(x)
	}
	r1, _, _ := purego.SyscallN(im.text+uintptr(sym.Offset), a...)
	return uint64(r1), nil
}

// Close unmaps the image.
func (im *Image) Close() error {
	if im.mem == nil {
		return nil
	}
	err := unix.Munmap(im.mem)
	im.mem = nil
	return err
}
