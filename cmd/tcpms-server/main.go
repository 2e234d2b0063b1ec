// Program tcpms-server runs a TcpMs server that logs client activity and
// broadcasts each line typed on stdin to every connected client as a string.
package main

import (
	"bufio"
	"context"
	"expvar"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/creachadair/command"

	"github.com/tcpms/tcpms"
	"github.com/tcpms/tcpms/server"
)

var flags struct {
	password     string
	noEncryption bool
	maxClients   int
	pingInterval time.Duration
	pingTimeout  time.Duration
}

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Help: "Run a TcpMs server and log client activity.",
		Commands: []*command.C{
			{
				Name:  "serve",
				Usage: "<listen-address>",
				Help: `Start a TcpMs server listening on the given address.

Lines typed on stdin are broadcast to every connected client as String Data
packages. Example:

  tcpms-server serve -password secret :4000
`,
				SetFlags: func(_ *command.Env, fs *flag.FlagSet) {
					fs.StringVar(&flags.password, "password", "", "shared password (required unless -no-encryption)")
					fs.BoolVar(&flags.noEncryption, "no-encryption", false, "disable the encryption handshake")
					fs.IntVar(&flags.maxClients, "max-clients", 15, "maximum simultaneously registered sessions")
					fs.DurationVar(&flags.pingInterval, "ping-interval", 10*time.Second, "liveness ping period (0 disables)")
					fs.DurationVar(&flags.pingTimeout, "ping-timeout", 8*time.Second, "liveness pong deadline")
				},
				Run: runServe,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

func runServe(env *command.Env) error {
	if len(env.Args) != 1 {
		return env.Usagef("expected exactly one listen address")
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	settings := tcpms.DefaultServerSettings()
	settings.Password = flags.password
	settings.EncryptionEnabled = !flags.noEncryption
	settings.MaxClients = flags.maxClients
	settings.PingInterval = flags.pingInterval
	settings.PingTimeout = flags.pingTimeout
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	hooks := &tcpms.Hooks{
		OnConnected: func(id tcpms.ClientSessionKey) {
			log.Info("client connected", "id", id)
		},
		OnDisconnected: func(id tcpms.ClientSessionKey) {
			log.Info("client disconnected", "id", id)
		},
		OnPanic: func(id tcpms.ClientSessionKey) {
			log.Warn("client recovered from panic", "id", id)
		},
		OnStringReceived: func(id tcpms.ClientSessionKey, s string) {
			log.Info("string received", "id", id, "text", s)
		},
		OnBlobReceived: func(id tcpms.ClientSessionKey, blob []byte) {
			log.Info("blob received", "id", id, "bytes", len(blob))
		},
		OnError: func(id tcpms.ClientSessionKey, err error) {
			log.Warn("session error", "id", id, "error", err)
		},
	}

	srv := server.New(settings, hooks)
	expvar.Publish("tcpms_server", srv.Metrics())

	lst, err := net.Listen("tcp", env.Args[0])
	if err != nil {
		return err
	}
	defer lst.Close()
	log.Info("listening", "addr", lst.Addr(), "encryption", settings.EncryptionEnabled, "max_clients", settings.MaxClients)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go broadcastStdin(srv, log)

	return srv.Serve(ctx, lst)
}

// broadcastStdin reads lines from stdin and broadcasts each as a String
// Data package, so the server binary is useful for manual smoke testing
// without a separate client.
func broadcastStdin(srv *server.Server, log *slog.Logger) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		srv.BroadcastString(line)
		log.Info("broadcast sent", "text", line, "clients", srv.NumClients())
	}
}
