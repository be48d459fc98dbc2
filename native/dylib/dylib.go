//go:build !ios && !android && (amd64 || arm64)

package dylib

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"

	nativebridge "github.com/omnisdk/native-bridge"
)

// shimName is the base name of the bridge shim library, resolved to
// libomnibridge.so / libomnibridge.dylib / omnibridge.dll per platform.
const shimName = "omnibridge"

// shimVersions are tried newest first before an unversioned name.
var shimVersions = []int{1}

var (
	libShim uintptr

	loadOnce sync.Once
	loadErr  error

	nbCreateInstance  func(module, key string) uintptr
	nbDestroyInstance func(entity uintptr) int32
	nbLastError       func() *byte

	nbAddListener    func(entity uintptr, kind, callbackID int32) int32
	nbRemoveListener func(entity uintptr, callbackID int32) int32

	nbCall          func(entity uintptr, op, argsJSON string) uintptr
	nbFutureStatus  func(f uintptr) int32
	nbFutureValue   func(f uintptr) *byte
	nbFutureCode    func(f uintptr) int32
	nbFutureMessage func(f uintptr) *byte
	nbFutureRelease func(f uintptr)

	nbTransferController func(f uintptr) uintptr
	nbTransferPause      func(c uintptr) int32
	nbTransferResume     func(c uintptr) int32
	nbTransferCancel     func(c uintptr) int32

	nbSetEventCallback       func(fn uintptr)
	nbSetTransactionCallback func(fn uintptr)
	nbPayloadRelease         func(p uintptr)
	nbTransactionResult      func(token uintptr, abort int32, valueJSON string)
)

// Load opens the bridge shim library and registers all bindings and
// callback trampolines. Safe to call more than once; later calls return
// the first result. An explicit path overrides the search.
func Load(path string) error {
	loadOnce.Do(func() {
		loadErr = doLoad(path)
	})
	return loadErr
}

func doLoad(path string) error {
	var err error
	if path != "" {
		libShim, err = tryOpen(path)
	} else {
		libShim, err = findShim()
	}
	if err != nil {
		return fmt.Errorf("loading %s: %w", shimName, err)
	}

	purego.RegisterLibFunc(&nbCreateInstance, libShim, "nb_create_instance")
	purego.RegisterLibFunc(&nbDestroyInstance, libShim, "nb_destroy_instance")
	purego.RegisterLibFunc(&nbLastError, libShim, "nb_last_error")

	purego.RegisterLibFunc(&nbAddListener, libShim, "nb_add_listener")
	purego.RegisterLibFunc(&nbRemoveListener, libShim, "nb_remove_listener")

	purego.RegisterLibFunc(&nbCall, libShim, "nb_call")
	purego.RegisterLibFunc(&nbFutureStatus, libShim, "nb_future_status")
	purego.RegisterLibFunc(&nbFutureValue, libShim, "nb_future_value")
	purego.RegisterLibFunc(&nbFutureCode, libShim, "nb_future_code")
	purego.RegisterLibFunc(&nbFutureMessage, libShim, "nb_future_message")
	purego.RegisterLibFunc(&nbFutureRelease, libShim, "nb_future_release")

	purego.RegisterLibFunc(&nbTransferController, libShim, "nb_transfer_controller")
	purego.RegisterLibFunc(&nbTransferPause, libShim, "nb_transfer_pause")
	purego.RegisterLibFunc(&nbTransferResume, libShim, "nb_transfer_resume")
	purego.RegisterLibFunc(&nbTransferCancel, libShim, "nb_transfer_cancel")

	purego.RegisterLibFunc(&nbSetEventCallback, libShim, "nb_set_event_callback")
	purego.RegisterLibFunc(&nbSetTransactionCallback, libShim, "nb_set_transaction_callback")
	purego.RegisterLibFunc(&nbPayloadRelease, libShim, "nb_payload_release")
	purego.RegisterLibFunc(&nbTransactionResult, libShim, "nb_transaction_result")

	installTrampolines()
	return nil
}

func tryOpen(path string) (uintptr, error) {
	return purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
}

func findShim() (uintptr, error) {
	for _, dir := range searchPaths() {
		for _, name := range candidateNames() {
			if lib, err := tryOpen(filepath.Join(dir, name)); err == nil {
				return lib, nil
			}
		}
	}
	// Let the system loader resolve it.
	for _, name := range candidateNames() {
		if lib, err := tryOpen(name); err == nil {
			return lib, nil
		}
	}
	return 0, fmt.Errorf("%s not found in search paths", shimName)
}

func searchPaths() []string {
	var paths []string
	if env := os.Getenv("OMNIBRIDGE_LIB_PATH"); env != "" {
		paths = append(paths, filepath.SplitList(env)...)
	}
	switch runtime.GOOS {
	case "darwin":
		paths = append(paths, "/usr/local/lib", "/opt/homebrew/lib")
	case "windows":
	default:
		paths = append(paths, "/usr/local/lib", "/usr/lib")
	}
	return paths
}

func candidateNames() []string {
	var names []string
	for _, v := range shimVersions {
		names = append(names, libraryFileName(shimName, v))
	}
	return append(names, libraryFileName(shimName, 0))
}

func libraryFileName(name string, version int) string {
	switch runtime.GOOS {
	case "darwin":
		if version > 0 {
			return fmt.Sprintf("lib%s.%d.dylib", name, version)
		}
		return fmt.Sprintf("lib%s.dylib", name)
	case "windows":
		if version > 0 {
			return fmt.Sprintf("%s-%d.dll", name, version)
		}
		return fmt.Sprintf("%s.dll", name)
	default:
		if version > 0 {
			return fmt.Sprintf("lib%s.so.%d", name, version)
		}
		return fmt.Sprintf("lib%s.so", name)
	}
}

// goString copies a NUL-terminated C string.
func goString(p *byte) string {
	if p == nil {
		return ""
	}
	n := 0
	for *(*byte)(unsafe.Add(unsafe.Pointer(p), n)) != 0 {
		n++
	}
	return string(unsafe.Slice(p, n))
}

// lastError reads the shim's thread-local error message.
func lastError() string {
	if nbLastError == nil {
		return ""
	}
	return goString(nbLastError())
}

// installTrampolines wires the two static callbacks. Trampolines are
// created once per process; the native side holds them for its lifetime,
// so they must never be garbage collected or rebound.
func installTrampolines() {
	eventCB := purego.NewCallback(func(_ purego.CDecl, callbackID, kind int32, path, value *byte, payload uintptr) uintptr {
		b := activeBackend.Load()
		if b == nil {
			if payload != 0 {
				nbPayloadRelease(payload)
			}
			return 0
		}
		b.dispatchEvent(callbackID, nativebridge.EventKind(kind), goString(path), goString(value), payload)
		return 0
	})
	nbSetEventCallback(eventCB)

	txCB := purego.NewCallback(func(_ purego.CDecl, callbackID int32, token, entity uintptr, value *byte, attempt int32) uintptr {
		b := activeBackend.Load()
		if b == nil {
			nbTransactionResult(token, 1, "")
			return 0
		}
		b.dispatchTransaction(callbackID, token, entity, goString(value), attempt)
		return 0
	})
	nbSetTransactionCallback(txCB)
}
