// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for pinning the reactor goroutine to a CPU.
// Platform-specific implementations are located in separate files guarded
// by build tags.

package affinity

import "runtime"

// Pin locks the calling goroutine to its OS thread and restricts that thread
// to cpuID. The returned func undoes the thread lock; the affinity mask stays
// with the thread. On failure the goroutine is left unlocked.
func Pin(cpuID int) (unpin func(), err error) {
	runtime.LockOSThread()
	if err := setAffinityPlatform(cpuID); err != nil {
		runtime.UnlockOSThread()
		return func() {}, err
	}
	return runtime.UnlockOSThread, nil
}
