// Command songscout listens to the microphone and names the song that is playing.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rbright/songscout/internal/app"
)

func main() {
	// SIGHUP arrives when the launching terminal closes; treat it like an interrupt so
	// an owner cancels its session and removes the socket.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	code := app.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
