// Command tscan is the process entry point: it parses flags, builds
// every engine component in dependency order, runs the lifecycle
// handshake (spawn receiver, wait ready, spawn senders + monitor,
// join, summarize), and reports a final summary.
//
// main is organized as small named helper functions called in
// sequence, a single *slog.Logger built once and threaded through
// every component, and fatal setup errors reported to stderr before
// anything network-facing runs.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/cvsouth/tscan/capture"
	"github.com/cvsouth/tscan/config"
	"github.com/cvsouth/tscan/constraint"
	"github.com/cvsouth/tscan/cyclic"
	"github.com/cvsouth/tscan/iface"
	"github.com/cvsouth/tscan/monitor"
	"github.com/cvsouth/tscan/probe"
	"github.com/cvsouth/tscan/probe/tcpsyn"
	"github.com/cvsouth/tscan/rawsock"
	"github.com/cvsouth/tscan/recv"
	"github.com/cvsouth/tscan/scanstate"
	"github.com/cvsouth/tscan/send"
	"github.com/cvsouth/tscan/validate"

	"golang.org/x/sys/unix"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := setupLogging(cfg.Verbose)

	tree, err := constraint.Load(cfg.WhitelistFile, cfg.BlacklistFile)
	if err != nil {
		logger.Error("loading constraint files", "err", err)
		os.Exit(3)
	}
	logger.Info("constraint tree built", "allowed", tree.Count(constraint.Allowed))

	cyc, err := cyclic.New(cfg.Seed)
	if err != nil {
		logger.Error("building permutation", "err", err)
		os.Exit(3)
	}

	validator, err := validate.New()
	if err != nil {
		logger.Error("building validator", "err", err)
		os.Exit(3)
	}

	module := tcpsyn.Module{}

	srcMAC, gwMAC, ifaceInfo, err := resolveNetwork(cfg, logger)
	if err != nil {
		logger.Error("resolving network", "err", err)
		os.Exit(4)
	}
	srcIP := ifaceInfo.IPv4
	if cfg.SourceIPFirst != "0.0.0.0" {
		srcIP = cfg.SourceIP()
	}

	outFile, err := os.Create(cfg.OutputFile)
	if err != nil {
		logger.Error("opening output file", "err", err)
		os.Exit(2)
	}
	defer outFile.Close()

	sock, handle, err := openIO(cfg, ifaceInfo, module)
	if err != nil {
		logger.Error("opening network I/O", "err", err)
		os.Exit(5)
	}
	defer handle.Close()
	if closer, ok := sock.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	senderState := &scanstate.SenderState{}
	receiverState := &scanstate.ReceiverState{}
	dedup := scanstate.NewSeenIPs()

	sendLoop := send.New(cyc, tree, validator, module, sock, senderState, logger)
	recvLoop := recv.New(handle, validator, module, dedup, senderState, receiverState, outFile, logger)
	mon := monitor.New(senderState, receiverState, logger, time.Second)

	run(cfg, srcMAC, gwMAC, srcIP, sendLoop, recvLoop, mon, senderState, receiverState, logger)
}

func setupLogging(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// resolveNetwork discovers the sending interface and gateway MAC
// unless the operator pinned them via --interface/--gw-mac.
func resolveNetwork(cfg *config.Config, logger *slog.Logger) (srcMAC, gwMAC net.HardwareAddr, ifc iface.Info, err error) {
	ifc, err = iface.Discover(cfg.Interface)
	if err != nil {
		return nil, nil, iface.Info{}, fmt.Errorf("interface discovery: %w", err)
	}
	logger.Info("using interface", "name", ifc.Name, "index", ifc.Index)

	if cfg.GwMAC != "" {
		gwMAC, err = net.ParseMAC(cfg.GwMAC)
		if err != nil {
			return nil, nil, iface.Info{}, fmt.Errorf("parsing --gw-mac: %w", err)
		}
		return ifc.MAC, gwMAC, ifc, nil
	}

	gwIP, err := iface.DefaultGatewayIP(ifc.Name)
	if err != nil {
		return nil, nil, iface.Info{}, fmt.Errorf("gateway discovery: %w (pass --gw-mac explicitly)", err)
	}
	gwMAC, err = iface.DiscoverGateway(gwIP)
	if err != nil {
		return nil, nil, iface.Info{}, fmt.Errorf("gateway MAC discovery: %w (pass --gw-mac explicitly)", err)
	}
	return ifc.MAC, gwMAC, ifc, nil
}

// openIO builds the raw send socket and capture handle, substituting
// in-memory fakes for --dryrun so the scan runs without raw-socket
// privileges: dryrun opens neither the raw socket nor the capture,
// which spares the operator from needing CAP_NET_RAW just to print
// packets.
func openIO(cfg *config.Config, ifc iface.Info, mod probe.Module) (rawsock.Sender, capture.Handle, error) {
	var sock rawsock.Sender
	var handle capture.Handle
	var err error

	if cfg.Dryrun {
		sock = &rawsock.Fake{}
		handle = &capture.Fake{}
		return sock, handle, nil
	}

	realSock, err := rawsock.Open(ifc.Index)
	if err != nil {
		return nil, nil, fmt.Errorf("raw socket: %w", err)
	}
	sock = realSock

	filter := mod.PcapFilter()
	if cfg.ICMP {
		if icmpMod, ok := mod.(interface{ PcapFilterICMP() string }); ok {
			filter = icmpMod.PcapFilterICMP()
		}
	}
	handle, err = capture.Open(ifc.Name, mod.PcapSnaplen(), filter)
	if err != nil {
		realSock.Close()
		return nil, nil, fmt.Errorf("capture: %w", err)
	}
	return sock, handle, nil
}

// run drives the lifecycle handshake: spawn the receiver pinned to
// core 0, spin until it signals ready, spawn sender-threads pinned to
// cores 1..N and a monitor pinned to core N+1 mod cores, then join the
// senders, the receiver and the monitor in that order; the monitor
// logs the final summary as it stops.
func run(cfg *config.Config, srcMAC, gwMAC net.HardwareAddr, srcIP uint32, sendLoop *send.Loop, recvLoop *recv.Loop, mon *monitor.Monitor, senderState *scanstate.SenderState, receiverState *scanstate.ReceiverState, logger *slog.Logger) {
	cores := runtime.NumCPU()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("signal received, entering cooldown")
		senderState.ForceComplete(time.Now())
	}()

	var recvWG sync.WaitGroup
	recvWG.Add(1)
	go func() {
		defer recvWG.Done()
		pinToCore(0, cores)
		rp := recv.Params{
			OurIP:           srcIP,
			TargetPort:      cfg.TargetPort,
			SourcePortFirst: cfg.SourcePortFirst,
			SourcePortLast:  cfg.SourcePortLast,
			Probes:          cfg.Probes,
			MaxResults:      uint64(cfg.MaxResults),
			CooldownSecs:    time.Duration(cfg.CooldownSecs) * time.Second,
			ICMP:            cfg.ICMP,
		}
		if err := recvLoop.Run(rp); err != nil {
			logger.Error("receiver loop", "err", err)
		}
	}()

	waitForReceiverReady(receiverState)

	var sendWG sync.WaitGroup
	for i := 0; i < cfg.SenderThreads; i++ {
		sendWG.Add(1)
		go func(idx int) {
			defer sendWG.Done()
			pinToCore(idx+1, cores)
			p := send.Params{
				ThreadIndex:     idx,
				Threads:         cfg.SenderThreads,
				SrcMAC:          srcMAC,
				GwMAC:           gwMAC,
				SrcIP:           srcIP,
				SourcePortFirst: cfg.SourcePortFirst,
				SourcePortLast:  cfg.SourcePortLast,
				TargetPort:      cfg.TargetPort,
				Probes:          cfg.Probes,
				MaxTargets:      uint64(cfg.MaxTargets),
				Rate:            cfg.Rate,
				MaxRuntime:      time.Duration(cfg.MaxRuntime) * time.Second,
				Dryrun:          cfg.Dryrun,
				Quiet:           cfg.Quiet,
			}
			if err := sendLoop.Run(p); err != nil {
				logger.Error("sender loop", "err", err)
			}
		}(i)
	}

	monCtx, monCancel := context.WithCancel(ctx)
	monDone := make(chan struct{})
	go func() {
		defer close(monDone)
		pinToCore(cfg.SenderThreads+1, cores)
		mon.Run(monCtx)
	}()

	sendWG.Wait()
	recvWG.Wait()
	monCancel()
	<-monDone

	logger.Info("scan complete")
}

// waitForReceiverReady spins until the receiver has opened its
// capture and signalled ready: main spawns the receiver, spins until
// receiver.ready, then spawns the sender(s).
func waitForReceiverReady(receiverState *scanstate.ReceiverState) {
	for !receiverState.IsReady() {
		time.Sleep(time.Millisecond)
	}
}

// pinToCore locks the calling goroutine to its OS thread and pins that
// thread to core%cores, eliminating migration-induced jitter.
// Best-effort: a failure is not fatal, since affinity is a
// performance concern, not a correctness one.
func pinToCore(core, cores int) {
	if cores <= 0 {
		return
	}
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Zero()
	set.Set(core % cores)
	_ = unix.SchedSetaffinity(0, &set)
}
