// Package main is cube-host, the host tool for the instrument's serial
// interface.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"cubefw/host/client"
	"cubefw/host/serial"
)

const (
	flagDevice  = "device"
	flagBaud    = "baud"
	flagTimeout = "timeout"
	flagDebug   = "debug"
	flagEvery   = "every"
)

func main() {
	app := &cli.App{
		Name:  "cube-host",
		Usage: "control the instrument over its serial port",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagDevice,
				Aliases: []string{"d"},
				Value:   "/dev/ttyACM0",
				Usage:   "serial device path",
				EnvVars: []string{"CUBE_DEVICE"},
			},
			&cli.IntFlag{
				Name:  flagBaud,
				Value: serial.DefaultConfig("").Baud,
				Usage: "baud rate (ignored for USB CDC)",
			},
			&cli.DurationFlag{
				Name:  flagTimeout,
				Value: 30 * time.Second,
				Usage: "how long to wait for each response",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "log traffic and firmware messages",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "send",
				Usage:     "send commands and print the responses",
				ArgsUsage: "<command>...",
				Action:    sendAction,
			},
			{
				Name:   "shell",
				Usage:  "interactive session",
				Action: shellAction,
			},
			{
				Name:  "report",
				Usage: "stream periodic reports until interrupted",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  flagEvery,
						Value: 500 * time.Millisecond,
						Usage: "report interval",
					},
				},
				Action: reportAction,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(c *cli.Context) (*zap.SugaredLogger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !c.Bool(flagDebug) {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// connect opens the port and drops whatever the instrument printed before
// we attached.
func connect(c *cli.Context) (*client.Client, *zap.SugaredLogger, error) {
	log, err := newLogger(c)
	if err != nil {
		return nil, nil, err
	}
	cfg := serial.DefaultConfig(c.String(flagDevice))
	cfg.Baud = c.Int(flagBaud)
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := port.Flush(); err != nil {
		log.Warnw("flush", "error", err)
	}
	return client.New(port, client.WithLogger(log), client.WithTimeoutEOF()), log, nil
}

func send(c *cli.Context, cl *client.Client, w io.Writer, line string) error {
	ctx, cancel := context.WithTimeout(c.Context, c.Duration(flagTimeout))
	defer cancel()
	resp, err := cl.Send(ctx, line)
	for _, l := range resp.Lines {
		fmt.Fprintln(w, l)
	}
	return err
}

func sendAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("no commands given")
	}
	cl, log, err := connect(c)
	if err != nil {
		return err
	}
	defer cl.Close()
	defer log.Sync() //nolint:errcheck

	for _, line := range c.Args().Slice() {
		if err := send(c, cl, c.App.Writer, line); err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, "ok")
	}
	return nil
}

func shellAction(c *cli.Context) error {
	cl, log, err := connect(c)
	if err != nil {
		return err
	}
	defer cl.Close()
	defer log.Sync() //nolint:errcheck

	go func() {
		for r := range cl.Reports() {
			fmt.Fprintln(c.App.Writer, formatReport(r))
		}
	}()

	out := c.App.Writer
	sc := bufio.NewScanner(os.Stdin)
	fmt.Fprint(out, "> ")
	for sc.Scan() {
		line, quit, err := translate(sc.Text())
		switch {
		case quit:
			return nil
		case err != nil:
			fmt.Fprintln(out, "error:", err)
		case line == helpLine:
			printHelp(out)
		case line != "":
			for _, l := range strings.Split(line, "\n") {
				if err := send(c, cl, out, l); err != nil {
					fmt.Fprintln(out, "error:", err)
					break
				}
				fmt.Fprintln(out, "ok")
			}
		}
		fmt.Fprint(out, "> ")
	}
	return sc.Err()
}

func reportAction(c *cli.Context) error {
	cl, log, err := connect(c)
	if err != nil {
		return err
	}
	defer cl.Close()
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	every := c.Duration(flagEvery)
	if err := send(c, cl, c.App.Writer, fmt.Sprintf("M1 %d", every.Milliseconds())); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			// Leave the instrument quiet for the next session.
			off, cancel := context.WithTimeout(context.Background(), c.Duration(flagTimeout))
			defer cancel()
			_, err := cl.Send(off, "M1 0")
			return err
		case r := <-cl.Reports():
			fmt.Fprintln(c.App.Writer, formatReport(r))
		}
	}
}

func formatReport(r client.Report) string {
	mode := "abs"
	if r.Relative {
		mode = "rel"
	}
	return fmt.Sprintf("%8.2f V  %s  current %d  target %d", r.Voltage, mode, r.CurrentSteps, r.TargetSteps)
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, strings.TrimSpace(`
Shell commands (anything else is sent as is):
  move <um>                 G1 Z<um>
  home                      G28
  abs | rel                 G90 | G91
  enable | disable          M17 | M18
  status                    M1
  report <ms>               M1 <ms>
  pulse <on_ns> <off_ns>    M100 S<on>:<off>
  pulse off                 M101
  level <normal> <inv>      M20 / M21
  touch <low> <high>        M102
  auto <low> <high> <sens>  M103
  exit-mode                 M104
  ack                       M105
  thresholds <l> <h> <s>    M106
  help | quit`))
}
