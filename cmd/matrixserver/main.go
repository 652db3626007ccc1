// Command matrixserver runs a matrix-multiplication RPC server using one
// of three connection-handling strategies.
//
// Usage:
//
//	matrixserver -s st_blocking|mt_blocking|st_nonblocking [options]
//
// Options:
//
//	-s, --server_type    required: st_blocking | mt_blocking | st_nonblocking
//	-a, --address        bind address (default "0.0.0.0")
//	-p, --port            TCP port (default 8080)
//	-k, --keepalive       keep connections open after a successful response (default false)
//	-thread-limit         MT-blocking worker pool bound (default 8, ignored otherwise)
//	-etcd-endpoints       comma-separated etcd endpoints for optional self-registration
//
// Exit codes: 0 normal or -h/--help, 1 invalid arguments.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"matrixrpc/reactor"
	"matrixrpc/registry"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("matrixserver", flag.ContinueOnError)

	var serverType string
	fs.StringVar(&serverType, "s", "", "server type: st_blocking | mt_blocking | st_nonblocking (required)")
	fs.StringVar(&serverType, "server_type", "", "alias for -s")

	var address string
	fs.StringVar(&address, "a", "0.0.0.0", "bind address")
	fs.StringVar(&address, "address", "0.0.0.0", "alias for -a")

	var port uint
	fs.UintVar(&port, "p", 8080, "TCP port")
	fs.UintVar(&port, "port", 8080, "alias for -p")

	var keepalive bool
	fs.BoolVar(&keepalive, "k", false, "keep connection open after a successful response")
	fs.BoolVar(&keepalive, "keepalive", false, "alias for -k")

	threadLimit := fs.Int("thread-limit", 8, "MT-blocking worker pool bound")
	etcdEndpoints := fs.String("etcd-endpoints", "", "comma-separated etcd endpoints for optional self-registration")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 1
	}

	kind := reactor.Kind(serverType)
	switch kind {
	case reactor.STBlocking, reactor.MTBlocking, reactor.STNonblocking:
	default:
		fmt.Fprintf(os.Stderr, "matrixserver: -s/--server_type is required and must be one of %s | %s | %s\n",
			reactor.STBlocking, reactor.MTBlocking, reactor.STNonblocking)
		return 1
	}
	if port == 0 || port > 65535 {
		fmt.Fprintf(os.Stderr, "matrixserver: -p/--port must be between 1 and 65535\n")
		return 1
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "matrixserver: failed to build logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	cfg := reactor.Config{
		ListeningAddress: address,
		Port:             uint16(port),
		Keepalive:        keepalive,
		ThreadLimit:      *threadLimit,
		Logger:           logger,
	}

	r, err := reactor.New(kind, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "matrixserver: %v\n", err)
		return 1
	}

	var reg *registry.EtcdRegistry
	advertiseAddr := fmt.Sprintf("%s:%d", address, port)
	if *etcdEndpoints != "" {
		reg, err = registry.NewEtcdRegistry(strings.Split(*etcdEndpoints, ","))
		if err != nil {
			logger.Error("failed to connect to etcd, continuing without self-registration", zap.Error(err))
		} else {
			instance := registry.Instance{Addr: advertiseAddr, ReactorKind: string(kind)}
			const leaseTTLSeconds = 10
			if err := reg.Register("matrixserver", instance, leaseTTLSeconds); err != nil {
				logger.Error("etcd registration failed", zap.Error(err))
			}
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		if reg != nil {
			if err := reg.Deregister("matrixserver", advertiseAddr); err != nil {
				logger.Error("etcd deregistration failed", zap.Error(err))
			}
		}
		r.Stop()
	}()

	logger.Info("starting matrixserver",
		zap.String("server_type", string(kind)),
		zap.String("address", advertiseAddr),
		zap.Bool("keepalive", keepalive))

	if err := r.Run(); err != nil {
		logger.Error("reactor exited with error", zap.Error(err))
		return 1
	}
	return 0
}
