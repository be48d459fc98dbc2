package native

import (
	"time"

	nativebridge "github.com/omnisdk/native-bridge"
	"github.com/omnisdk/native-bridge/dispatch"
	"github.com/omnisdk/native-bridge/errors"
)

// DefaultFuturePollInterval is how often a bridged native future is polled
// for completion.
const DefaultFuturePollInterval = 10 * time.Millisecond

// BridgeOption configures future bridging.
type BridgeOption func(*bridgeConfig)

type bridgeConfig struct {
	interval time.Duration
}

// WithPollInterval overrides the future polling interval.
func WithPollInterval(d time.Duration) BridgeOption {
	return func(c *bridgeConfig) {
		if d > 0 {
			c.interval = d
		}
	}
}

// Bridge converts a native future into a managed task. A poll goroutine
// watches the future; on completion the result is read, the native future
// released, and the task completed through the dispatcher so continuations
// observe it from the owning goroutine's drain.
//
// Error-code completions become native failure errors. A completion value
// of the wrong dynamic type is a backend bug and also surfaces as an error,
// never a panic.
func Bridge[T any](api API, d *dispatch.Dispatcher, op string, f nativebridge.FutureHandle, opts ...BridgeOption) *dispatch.Task[T] {
	cfg := bridgeConfig{interval: DefaultFuturePollInterval}
	for _, opt := range opts {
		opt(&cfg)
	}

	task := dispatch.NewTask[T]()

	go func() {
		tick := time.NewTicker(cfg.interval)
		defer tick.Stop()

		for {
			switch api.PollFuture(f) {
			case nativebridge.FuturePending:
				<-tick.C
				continue
			case nativebridge.FutureInvalid:
				completeVia(d, task, *new(T), errors.New(errors.PhaseNative, errors.KindNativeFailure).
					Op(op).
					Detail("future handle invalidated").
					Build())
				return
			case nativebridge.FutureComplete:
				value, code, message := api.FutureResult(f)
				api.ReleaseFuture(f)

				if code != 0 {
					completeVia(d, task, *new(T), errors.NativeFailure(op, code, message))
					return
				}

				typed, ok := value.(T)
				if !ok && value != nil {
					completeVia(d, task, *new(T), errors.New(errors.PhaseNative, errors.KindInvalidInput).
						Op(op).
						Detail("future completed with unexpected value type %T", value).
						Build())
					return
				}
				completeVia(d, task, typed, nil)
				return
			}
		}
	}()

	return task
}

// completeVia resolves the task from a drain on the owning goroutine, or
// directly when the dispatcher has shut down.
func completeVia[T any](d *dispatch.Dispatcher, task *dispatch.Task[T], v T, err error) {
	if d == nil || !d.TryPost(func() { task.Complete(v, err) }) {
		task.Complete(v, err)
	}
}
