// Command turnclient is a minimal debug CLI exercising the façade: it
// allocates a relay, prints the relayed/mapped addresses, and optionally
// establishes a permission and channel to a peer. It is not the SIP/WebRTC
// application wrapper spec.md scopes out — just enough surface to drive
// the transport from a shell for manual testing, in the teacher's own
// cobra-based CLI idiom (pkg/cli in the teacher module).
package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/khryptorgraphics/ollamamax/turnclient/pkg/config"
	"github.com/khryptorgraphics/ollamamax/turnclient/pkg/logging"
	"github.com/khryptorgraphics/ollamamax/turnclient/pkg/qos"
	"github.com/khryptorgraphics/ollamamax/turnclient/pkg/resolver"
	"github.com/khryptorgraphics/ollamamax/turnclient/pkg/sockdriver"
	"github.com/khryptorgraphics/ollamamax/turnclient/pkg/turn"
)

var (
	flagServer   string
	flagUsername string
	flagPassword string
	flagRealm    string
	flagPeer     string
	flagTCP      bool
	flagConfig   string
)

func main() {
	root := &cobra.Command{
		Use:   "turnclient",
		Short: "Debug CLI for the TURN client transport",
	}

	allocCmd := &cobra.Command{
		Use:   "alloc",
		Short: "Allocate a relay against a TURN server and print its addresses",
		RunE:  runAlloc,
	}
	allocCmd.Flags().StringVar(&flagServer, "server", "", "TURN server domain (required)")
	allocCmd.Flags().StringVar(&flagUsername, "username", "", "long-term credential username")
	allocCmd.Flags().StringVar(&flagPassword, "password", "", "long-term credential password")
	allocCmd.Flags().StringVar(&flagRealm, "realm", "", "realm (ignored: the realm is always taken from the server's 401 challenge)")
	allocCmd.Flags().StringVar(&flagPeer, "peer", "", "optional peer host:port to install a permission and channel for")
	allocCmd.Flags().BoolVar(&flagTCP, "tcp", false, "use a TCP connection to the server instead of UDP")
	allocCmd.Flags().StringVar(&flagConfig, "config", "", "optional config file (viper-loaded)")
	_ = allocCmd.MarkFlagRequired("server")

	root.AddCommand(allocCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runAlloc(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	log := logging.NewStructuredLogger(&logging.LoggerConfig{
		Level:       parseLevel(cfg.LogLevel),
		Console:     true,
		ServiceName: "turnclient",
		Component:   "cmd",
	})

	kind := sockdriver.KindUDP
	transport := resolver.TransportUDP
	if flagTCP {
		kind = sockdriver.KindTCP
		transport = resolver.TransportTCP
	}

	done := make(chan struct{})
	var allocErr error

	ts, err := turn.Create(turn.Config{
		Kind:          kind,
		ServerDomain:  flagServer,
		Transport:     transport,
		PortMin:       cfg.PortMin,
		PortMax:       cfg.PortMax,
		QoS:           qos.Params{Type: qos.TypeBestEffort, IgnoreError: cfg.QoSIgnoreError},
		MaxPacketSize: cfg.MaxPacketSize,
		Creds:         turn.StaticCredentialStore{Username: flagUsername, Password: flagPassword},
		Lifetime:      cfg.Lifetime,
		Logger:        log,
		OnState: func(state turn.State) {
			log.Info("state transition", "state", state.String())
			if state == turn.StateReady {
				close(done)
			}
			if state >= turn.StateDestroying {
				select {
				case <-done:
				default:
					allocErr = fmt.Errorf("session reached %s before becoming ready", state)
					close(done)
				}
			}
		},
		OnData: func(data []byte, peer *net.UDPAddr) {
			log.Info("received data", "from", peer.String(), "bytes", fmt.Sprintf("%d", len(data)))
		},
		OnError: func(err error) {
			log.Error("transport error", err)
		},
	})
	if err != nil {
		return err
	}
	defer ts.Destroy()

	select {
	case <-done:
	case <-time.After(15 * time.Second):
		return fmt.Errorf("timed out waiting for allocation")
	}
	if allocErr != nil {
		return allocErr
	}

	info := ts.GetInfo()
	fmt.Printf("relayed address: %s\n", addrString(info.RelayedAddr))
	fmt.Printf("mapped address:  %s\n", addrString(info.MappedAddr))

	if flagPeer != "" {
		peerAddr, err := net.ResolveUDPAddr("udp", flagPeer)
		if err != nil {
			return fmt.Errorf("resolving --peer: %w", err)
		}
		if err := ts.SetPerm(peerAddr); err != nil {
			return fmt.Errorf("SetPerm: %w", err)
		}
		if err := ts.BindChannel(peerAddr); err != nil {
			return fmt.Errorf("BindChannel: %w", err)
		}
		fmt.Printf("permission + channel established for %s\n", peerAddr)
	}

	return nil
}

func addrString(a *net.UDPAddr) string {
	if a == nil {
		return "(none)"
	}
	return a.String()
}

func parseLevel(s string) logging.LogLevel {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
