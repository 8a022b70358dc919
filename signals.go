package flume

import (
	"os"
	"os/signal"
	"sync"
)

var signalBridgeOnce sync.Once

// startSignalBridge installs the process signal listener. It runs at most
// once per process: outside test mode a pipeline is installed once and its
// signal table never changes afterwards. The listener goroutine applies the
// bound action to whatever pipeline is active when the signal arrives, so a
// late signal never touches retired sinks.
func startSignalBridge(sigs []os.Signal) {
	signalBridgeOnce.Do(func() {
		ch := make(chan os.Signal, 4)
		signal.Notify(ch, sigs...)
		go func() {
			for sig := range ch {
				if p := active.Load(); p != nil {
					p.handleSignal(sig)
				}
			}
		}()
	})
}
