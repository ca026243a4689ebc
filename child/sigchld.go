package child

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

var sigchldOnce sync.Once

// installSigchldHandler registers process-wide interest in SIGCHLD exactly
// once, per §4.6: "replacing only SIG_IGN/SIG_DFL, never overriding a
// user handler". Go's os/signal.Notify is additive by construction — it
// never replaces a handler installed via signal.Notify elsewhere in the
// process — so registering a standing listener here is enough to ensure
// waitpid is never short-circuited by the kernel auto-reaping a
// SIG_IGN'd SIGCHLD, without disturbing any handler the embedding
// application installed itself.
func installSigchldHandler() {
	sigchldOnce.Do(func() {
		ch := make(chan os.Signal, 8)
		signal.Notify(ch, syscall.SIGCHLD)
		go func() {
			for range ch {
			}
		}()
	})
}
