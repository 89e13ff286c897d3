package main

import (
	"flag"
	"log"
	"log/slog"
	"net"
	"os"

	"github.com/petrkotek/dns-forwarder/internal/forwarder"
)

func main() {
	addr := flag.String("addr", forwarder.DefaultAddr, "address to listen on for client queries")
	resolverAddr := flag.String("resolver", "", "address of the upstream resolver to forward queries to (shorthand -r)")
	flag.StringVar(resolverAddr, "r", "", "shorthand for --resolver")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelDebug,
	}))

	conn, err := net.ListenPacket("udp", *addr)
	if err != nil {
		log.Fatalln(err)
	}
	defer conn.Close()

	var resolver net.Addr
	if *resolverAddr != "" {
		resolver, err = net.ResolveUDPAddr("udp", *resolverAddr)
		if err != nil {
			log.Fatalln(err)
		}
	}

	logger.Info("starting DNS forwarder",
		slog.Any("listener", conn.LocalAddr()),
		slog.Any("resolver", resolver))

	f := forwarder.New(conn, resolver, logger)
	if err := f.Run(); err != nil {
		log.Fatalln(err)
	}
}
