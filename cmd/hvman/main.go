// hvman manages Frame-Relay switches and VirtualBox VMs on a remote
// hypervisor.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/frobware/go-hvman/cmd/hvman/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := cli.CLI{Out: os.Stdout}
	kctx := kong.Parse(&c, cli.KongOptions()...)
	kctx.BindTo(ctx, (*context.Context)(nil))
	err := kctx.Run(&c)
	stop()
	kctx.FatalIfErrorf(err)
}
