package app

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/omnisdk/native-bridge/errors"
)

// Clock abstracts time for the bridge; tests substitute a fixed clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// Services is the platform service set injected into App construction.
// Constructors receive it explicitly; nothing in the bridge reads
// process-wide state beyond the one documented default below.
type Services struct {
	Clock  Clock
	Logger *zap.Logger
}

var (
	defaultMu        sync.Mutex
	defaultServices  = &Services{Clock: systemClock{}, Logger: zap.NewNop()}
	defaultInstalled bool
)

// Default returns the process default Services. Until SetDefault is called
// it is a stub: system clock, no-op logger.
func Default() *Services {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultServices
}

// SetDefault installs the real platform services over the boot stub. The
// swap happens exactly once, during app startup; a second call is a
// configuration error.
func SetDefault(s *Services) error {
	if s == nil || s.Clock == nil {
		return errors.InvalidInput(errors.PhaseConfig, "services require a clock")
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultInstalled {
		return errors.AlreadyInstalled("platform services")
	}
	defaultInstalled = true
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}
	defaultServices = s
	return nil
}
