// Package main runs an ObscuraProto server node with its HTTP admin
// API. The demo dispatcher answers opcode 0x1001 ("hello", n) with
// opcode 0x2002 ("ack").
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/kretoffer/obscuraproto/pkg/api"
	"github.com/kretoffer/obscuraproto/pkg/auditlog"
	"github.com/kretoffer/obscuraproto/pkg/crypto"
	"github.com/kretoffer/obscuraproto/pkg/network"
	"github.com/kretoffer/obscuraproto/pkg/protocol"
)

var (
	listenAddr = flag.String("listen", ":9000", "Protocol listen address")
	apiPort    = flag.Int("api-port", 8080, "HTTP admin API port")
	dataDir    = flag.String("data", "./obscura-data", "Data directory for keys and audit log")
	genKey     = flag.Bool("genkey", false, "Generate a new identity key, replacing any existing one")
)

func main() {
	flag.Parse()

	identity, err := loadOrGenerateIdentity(filepath.Join(*dataDir, "identity.key"), *genKey)
	if err != nil {
		log.Fatalf("Failed to load identity: %v", err)
	}
	pub := identity.Public
	log.Printf("Identity public key: %s", hex.EncodeToString(pub[:]))

	store, err := auditlog.Open(filepath.Join(*dataDir, "audit.db"))
	if err != nil {
		log.Fatalf("Failed to open audit log: %v", err)
	}
	defer store.Close()

	server, err := network.NewServer(identity)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}
	server.SetSecurityEventHandler(store.Record)
	server.OnConnect = func(id network.ConnID) {
		log.Printf("conn %d connected", id)
	}
	server.OnDisconnect = func(id network.ConnID) {
		log.Printf("conn %d disconnected", id)
	}

	registerHandlers(server)

	if err := server.Start(*listenAddr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	apiConfig := api.DefaultConfig()
	apiConfig.Port = *apiPort
	adminAPI := api.NewServer(server, store, apiConfig)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down...")
		cancel()
	}()

	if err := adminAPI.Start(ctx); err != nil {
		log.Printf("Admin API shutdown: %v", err)
	}
}

func registerHandlers(server *network.Server) {
	d := server.Dispatcher()

	d.Handle(0x1001, []network.ArgType{network.ArgString, network.ArgUint}, func(conn network.ConnID, args []interface{}) {
		log.Printf("conn %d: hello %q / %d", conn, args[0], args[1])
		reply := protocol.NewPayloadBuilder(0x2002).AddString("ack").Build()
		if err := server.Send(conn, reply); err != nil {
			log.Printf("conn %d: reply failed: %v", conn, err)
		}
	})

	d.HandleDefault(func(conn network.ConnID, p *protocol.Payload) {
		log.Printf("conn %d: unhandled opcode 0x%04x (%d params)", conn, p.OpCode(), p.ParamCount())
	})

	d.SetErrorHandler(func(e *network.DispatchError) {
		log.Printf("dispatch error: %v", e)
	})
}

func loadOrGenerateIdentity(path string, regenerate bool) (crypto.KeyPair, error) {
	if !regenerate {
		if kp, err := crypto.LoadSignKeyPair(path); err == nil {
			return kp, nil
		} else if !os.IsNotExist(err) {
			return crypto.KeyPair{}, err
		}
	}

	kp, err := crypto.GenerateSignKeyPair()
	if err != nil {
		return crypto.KeyPair{}, err
	}
	if err := crypto.SaveSignKeyPair(kp, path); err != nil {
		return crypto.KeyPair{}, err
	}
	log.Printf("Generated new identity key at %s", path)
	return kp, nil
}
