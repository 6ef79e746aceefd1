package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"deferkit/internal/app"
)

// Options are parsed by github.com/jessevdk/go-flags.
type Options struct {
	Config string        `short:"c" long:"config" description:"config file (JSON or YAML); defaults are used when empty"`
	Drain  bool          `long:"drain" description:"on EOF wait for pending operations before exiting"`
	Wait   time.Duration `long:"drain-timeout" default:"10s" description:"upper bound for --drain"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.Usage = "[OPTIONS]\n\nReads lines from stdin and feeds them through debounce, throttle and delay."
	if _, err := parser.Parse(); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			fmt.Println(err)
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(opts.Config, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	eof := make(chan struct{})
	go func() {
		defer close(eof)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			if err := a.HandleLine(sc.Text()); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
		}
	}()

	select {
	case <-ctx.Done():
	case <-eof:
		if opts.Drain {
			dctx, dcancel := context.WithTimeout(ctx, opts.Wait)
			if err := a.Drain(dctx); err != nil {
				fmt.Fprintln(os.Stderr, "drain:", err)
			}
			dcancel()
		}
	}

	if err := a.Stop(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "stop:", err)
		os.Exit(1)
	}
}
