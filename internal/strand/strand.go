// Package strand implements proof-guarded check sites. A strand may carry
// a verified proof blob; each check first asks the blob whether its site
// was proven and skips the runtime test when it was.
package strand

import (
	"sync/atomic"

	"github.com/tinyrange/seraph/internal/ir"
	"github.com/tinyrange/seraph/internal/proof"
)

type Flags uint32

const (
	// FlagElide lets checks consult the attached blob.
	FlagElide Flags = 1 << iota
	// FlagStats counts skipped and performed checks.
	FlagStats
)

// Site identifies one check within a module.
type Site struct {
	Module   uint64
	Function uint64
	Offset   uint32
	Expr     uint32
}

// NewSite hashes the module and function names.
func NewSite(module, function string, offset, expr uint32) Site {
	return Site{
		Module:   proof.Hash(module),
		Function: proof.Hash(function),
		Offset:   offset,
		Expr:     expr,
	}
}

func (s Site) Hash() uint64 {
	return proof.SiteHash(s.Module, s.Function, s.Offset, s.Expr)
}

// Strand is one execution context. Its zero value performs every check.
type Strand struct {
	blob  atomic.Pointer[proof.View]
	flags atomic.Uint32

	skipped   atomic.Uint64
	performed atomic.Uint64
}

// Attach installs a blob. Unverified blobs never elide a check.
func (s *Strand) Attach(v *proof.View, flags Flags) {
	s.blob.Store(v)
	s.flags.Store(uint32(flags))
}

func (s *Strand) Detach() {
	s.blob.Store(nil)
	s.flags.Store(0)
}

func (s *Strand) Blob() *proof.View { return s.blob.Load() }

// Stats returns the elided and executed check counts since the strand
// was created. Counting requires FlagStats.
func (s *Strand) Stats() (skipped, performed uint64) {
	return s.skipped.Load(), s.performed.Load()
}

func (s *Strand) ResetStats() {
	s.skipped.Store(0)
	s.performed.Store(0)
}

// guard reports whether the check at site may be skipped and updates the
// counters for whichever way it goes.
func (s *Strand) guard(site Site, kind proof.Kind) bool {
	flags := Flags(s.flags.Load())
	skip := flags&FlagElide != 0 && proof.IsProven(s.blob.Load(), site.Hash(), kind)
	if flags&FlagStats != 0 {
		if skip {
			s.skipped.Add(1)
		} else {
			s.performed.Add(1)
		}
	}
	return skip
}

// CheckBounds reports whether index lies in [0, length).
func (s *Strand) CheckBounds(site Site, index int64, length uint64) bool {
	if s.guard(site, proof.KindBounds) {
		return true
	}
	return index >= 0 && uint64(index) < length
}

// CheckAccess reports whether size bytes at addr lie inside the region
// [base, base+length).
func (s *Strand) CheckAccess(site Site, addr, size, base, length uint64) bool {
	if s.guard(site, proof.KindBounds) {
		return true
	}
	return addr >= base && size <= length && addr-base <= length-size
}

// CheckPermission reports whether granted covers every bit of required.
func (s *Strand) CheckPermission(site Site, granted, required uint64) bool {
	if s.guard(site, proof.KindPermission) {
		return true
	}
	return granted&required == required
}

// CheckGeneration reports whether a capability of generation gen is still
// live in ctx.
func (s *Strand) CheckGeneration(site Site, gen uint64, ctx *Context) bool {
	if s.guard(site, proof.KindGeneration) {
		return true
	}
	return gen >= ctx.Generation()
}

// Capability mirrors the 32-byte capability record.
type Capability struct {
	Base       uint64
	Length     uint64
	Generation uint64
	Perms      uint64
}

// Context is a capability context. Revoke publishes a new generation that
// every check started afterwards observes.
type Context struct {
	gen atomic.Uint64
}

func NewContext() *Context {
	c := &Context{}
	c.gen.Store(1)
	return c
}

func (c *Context) Generation() uint64 { return c.gen.Load() }

// Grant creates a capability at the current generation.
func (c *Context) Grant(base, length, perms uint64) Capability {
	return Capability{Base: base, Length: length, Generation: c.Generation(), Perms: perms}
}

// Revoke invalidates every capability granted so far and returns the new
// generation.
func (c *Context) Revoke() uint64 { return c.gen.Add(1) }

// Access runs the generation, bounds and permission checks for an access
// of size bytes at offset off through c, in the order compiled code
// performs them.
func (s *Strand) Access(site Site, ctx *Context, c Capability, off, size uint64, write bool) bool {
	need := uint64(ir.PermRead)
	if write {
		need = uint64(ir.PermWrite)
	}
	if !s.CheckGeneration(site, c.Generation, ctx) {
		return false
	}
	if !s.CheckAccess(site, c.Base+off, size, c.Base, c.Length) {
		return false
	}
	return s.CheckPermission(site, c.Perms, need)
}
