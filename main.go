package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"
)

func main() {
	// set up a context that is canceled when a command is interrupted
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// set up a signal handler to cancel the context
	go func() {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, syscall.SIGTERM, syscall.SIGINT)

		select {
		case <-interrupt:
			fmt.Println()
			klog.Info("received interrupt signal")
			cancel()
		case <-ctx.Done():
		}

		// Allow any further SIGTERM or SIGINT to kill process
		signal.Stop(interrupt)
	}()

	app := &cli.App{
		Name:        "cdtb",
		Version:     versionString(),
		Description: "CLI to decode, extract and mine WAD, PROP/PTCH and RST assets of a League of Legends-style distribution pipeline.",
		Flags:       NewKlogFlagSet(),
		Commands: []*cli.Command{
			newCmd_WadList(),
			newCmd_WadExtract(),
			newCmd_BinDump(),
			newCmd_RstDump(),
			newCmd_HashesGuess(),
			newCmd_Version(),
		},
	}

	sort.Sort(cli.FlagsByName(app.Flags))
	sort.Sort(cli.CommandsByName(app.Commands))

	if err := app.RunContext(ctx, os.Args); err != nil {
		klog.Errorf("%v", err)
		os.Exit(exitCode(err))
	}
}
