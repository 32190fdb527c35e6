// Package main runs a demo ObscuraProto client: it connects to a
// server, sends opcode 0x1001 ("hello", 42), and prints the 0x2002
// acknowledgement.
package main

import (
	"flag"
	"log"
	"time"

	"github.com/kretoffer/obscuraproto/pkg/crypto"
	"github.com/kretoffer/obscuraproto/pkg/network"
	"github.com/kretoffer/obscuraproto/pkg/protocol"
)

var (
	serverURL = flag.String("server", "ws://127.0.0.1:9000/ws", "Server WebSocket URL")
	serverKey = flag.String("key", "", "Server identity public key, hex encoded (required)")
	timeout   = flag.Duration("timeout", 5*time.Second, "Time to wait for the acknowledgement")
)

func main() {
	flag.Parse()

	if *serverKey == "" {
		log.Fatal("Error: -key flag is required (the server's public key, from its logs or /api/v1/publickey)")
	}
	pub, err := crypto.ParsePublicKey(*serverKey)
	if err != nil {
		log.Fatalf("Invalid server key: %v", err)
	}

	client := network.NewClient(pub)

	acked := make(chan string, 1)
	client.Dispatcher().Handle(0x2002, []network.ArgType{network.ArgString}, func(conn network.ConnID, args []interface{}) {
		acked <- args[0].(string)
	})
	client.OnDisconnect = func() {
		log.Println("Disconnected from server")
	}

	if err := client.Connect(*serverURL); err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer client.Disconnect()

	log.Printf("Negotiated protocol version %s", client.SelectedVersion())

	hello := protocol.NewPayloadBuilder(0x1001).AddString("hello").AddUint(42).Build()
	if err := client.Send(hello); err != nil {
		log.Fatalf("Failed to send: %v", err)
	}

	select {
	case reply := <-acked:
		log.Printf("Server replied: %q", reply)
	case <-time.After(*timeout):
		log.Fatal("No acknowledgement from server")
	}
}
