// Program tcpms-client connects to a TcpMs server, prints whatever it
// receives, and sends each line typed on stdin as a String Data package.
package main

import (
	"bufio"
	"context"
	"expvar"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/creachadair/command"

	"github.com/tcpms/tcpms"
	"github.com/tcpms/tcpms/client"
)

var flags struct {
	password string
}

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Help: "Connect to a TcpMs server and exchange messages over stdio.",
		Commands: []*command.C{
			{
				Name:  "connect",
				Usage: "<address>",
				Help: `Connect to a TcpMs server and run an interactive send/receive loop.

Lines typed on stdin are sent as String Data packages; anything the server
sends is printed to stdout. Example:

  tcpms-client connect -password secret localhost:4000
`,
				SetFlags: func(_ *command.Env, fs *flag.FlagSet) {
					fs.StringVar(&flags.password, "password", "", "shared password")
				},
				Run: runConnect,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

func runConnect(env *command.Env) error {
	if len(env.Args) != 1 {
		return env.Usagef("expected exactly one server address")
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	hooks := &tcpms.Hooks{
		OnDisconnected: func(tcpms.ClientSessionKey) {
			log.Info("disconnected")
		},
		OnPanic: func(tcpms.ClientSessionKey) {
			log.Warn("recovered from panic")
		},
		OnStringReceived: func(_ tcpms.ClientSessionKey, s string) {
			fmt.Println(s)
		},
		OnBlobReceived: func(_ tcpms.ClientSessionKey, blob []byte) {
			fmt.Printf("<blob: %d bytes>\n", len(blob))
		},
		OnError: func(_ tcpms.ClientSessionKey, err error) {
			log.Warn("session error", "error", err)
		},
	}

	c := client.New(hooks)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ok, err := c.Connect(ctx, env.Args[0], flags.password)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("authentication failed")
	}
	defer c.Disconnect()
	log.Info("connected", "addr", env.Args[0])
	expvar.Publish("tcpms_client", c.Metrics())

	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		if err := c.SendString(line); err != nil {
			log.Warn("send failed", "error", err)
		}
	}
	return sc.Err()
}
