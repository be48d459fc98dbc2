package wasmsdk

import (
	"fmt"

	"github.com/tetratelabs/wazero/api"

	nativebridge "github.com/omnisdk/native-bridge"
	"github.com/omnisdk/native-bridge/errors"
)

// packPtrLen packs a guest pointer and length into one u64, pointer in
// the high half. Guest exports returning strings use this layout.
func packPtrLen(ptr, n uint32) uint64 {
	return uint64(ptr)<<32 | uint64(n)
}

func unpackPtrLen(v uint64) (ptr, n uint32) {
	return uint32(v >> 32), uint32(v)
}

// writeString copies s into guest memory through nb_alloc. Caller holds
// callMu and owns the buffer until it frees it or hands it to the guest.
func (b *Backend) writeString(s string) (ptr, n uint32, err error) {
	if s == "" {
		return 0, 0, nil
	}

	res, err := b.fnAlloc.Call(b.ctx, uint64(len(s)))
	if err != nil {
		return 0, 0, callErr("nb_alloc", err)
	}
	ptr = uint32(res[0])
	if ptr == 0 {
		return 0, 0, errors.New(errors.PhaseNative, errors.KindNativeFailure).
			Op("nb_alloc").
			Detail("guest allocator returned null for %d bytes", len(s)).
			Build()
	}
	if !b.mod.Memory().WriteString(ptr, s) {
		b.freeGuest(ptr, uint32(len(s)))
		return 0, 0, errors.New(errors.PhaseNative, errors.KindNativeFailure).
			Op("write").
			Detail("guest allocation out of memory range").
			Build()
	}
	return ptr, uint32(len(s)), nil
}

// freeGuest returns a buffer obtained from nb_alloc. Caller holds callMu.
func (b *Backend) freeGuest(ptr, n uint32) {
	if ptr == 0 {
		return
	}
	if _, err := b.fnFree.Call(b.ctx, uint64(ptr), uint64(n)); err != nil {
		nativebridge.Logger().Sugar().Warnw("guest free failed", "error", err)
	}
}

// readPacked calls a guest export returning a packed (ptr, len) string
// and copies it out. Caller holds callMu.
func (b *Backend) readPacked(fn api.Function, params ...uint64) (string, error) {
	res, err := fn.Call(b.ctx, params...)
	if err != nil {
		return "", callErr("read", err)
	}
	ptr, n := unpackPtrLen(res[0])
	if ptr == 0 || n == 0 {
		return "", nil
	}
	s, ok := readGuestString(b.mod, ptr, n)
	if !ok {
		return "", errors.New(errors.PhaseNative, errors.KindNativeFailure).
			Op("read").
			Detail("guest string out of memory range").
			Build()
	}
	return s, nil
}

// readGuestString copies a (ptr, len) string out of guest memory.
func readGuestString(mod api.Module, ptr, n uint32) (string, bool) {
	if n == 0 {
		return "", true
	}
	buf, ok := mod.Memory().Read(ptr, n)
	if !ok {
		return "", false
	}
	return string(buf), true
}

// lastErrorLocked reads the guest's last error message. Caller holds
// callMu.
func (b *Backend) lastErrorLocked() string {
	s, err := b.readPacked(b.fnLastError)
	if err != nil {
		return fmt.Sprintf("(unreadable: %v)", err)
	}
	return s
}
