package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/behrlich/rocecap"
	"github.com/behrlich/rocecap/internal/logging"
	"github.com/behrlich/rocecap/internal/verbs"
)

func main() {
	params := rocecap.DefaultParams()

	var device int
	flag.IntVar(&device, "d", params.Device, "IB device index")
	flag.IntVar(&device, "device", params.Device, "IB device index (alias for -d)")

	var (
		smac       = flag.String("smac", "", "source MAC for flow steering")
		dmac       = flag.String("dmac", "", "destination MAC for flow steering")
		sip        = flag.String("sip", "", "source IPv4 for flow steering")
		dip        = flag.String("dip", "", "destination IPv4 for flow steering")
		sport      = flag.Uint("sport", 0, "source UDP port")
		dport      = flag.Uint("dport", 0, "destination UDP port")
		pktSize    = flag.Int("pkt_size", params.PktSize, "payload bytes per packet")
		sendN      = flag.Int("send_n", params.SendN, "packets per burst / WR batch")
		nsge       = flag.Int("nsge", params.NSGE, "scatter-gather entries per WR (0 normalizes to default)")
		keyStr     = flag.String("key", "0x0", "ring attachment key, 32-bit hex")
		gpu        = flag.Int("gpu", params.GPU, "GPU device index; any value other than -1 selects staged-copy mode (the staging buffer is host memory)")
		cpu        = flag.Int("cpu", params.CPU, "CPU index to pin the capture worker to; -1 leaves it unpinned")
		nbufs      = flag.Int("nbufs", params.NBufs, "ring buffer count")
		fileBytes  = flag.String("file-bytes", "0", "target total bytes per ring (e.g. 64M, 1G)")
		dumpDir    = flag.String("dump-dir", "", "when set, keep an in-memory mirror of recently published blocks (nothing is written to this path)")
		dumpHeader = flag.String("dump-header", "", "path to the header template file written into the ring at attach (required)")
		debug      = flag.Bool("debug", false, "enable debug-level logging")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *debug {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	key, err := parseHexKey(*keyStr)
	if err != nil {
		logger.Error("invalid --key", "error", err)
		os.Exit(1)
	}

	fb, err := parseSize(*fileBytes)
	if err != nil {
		logger.Error("invalid --file-bytes", "error", err)
		os.Exit(1)
	}

	flow, err := buildFlow(*smac, *dmac, *sip, *dip, uint16(*sport), uint16(*dport))
	if err != nil {
		logger.Error("invalid flow steering flags", "error", err)
		os.Exit(1)
	}

	params.Device = device
	params.Flow = flow
	params.PktSize = *pktSize
	params.SendN = *sendN
	params.NSGE = *nsge
	params.Key = key
	params.GPU = *gpu
	params.CPU = *cpu
	params.NBufs = *nbufs
	params.FileBytes = fb
	params.DumpDir = *dumpDir
	params.DumpHeader = *dumpHeader
	params.Debug = *debug
	params.BlockSize = int64(*pktSize) * int64(*sendN)

	if err := params.Validate(); err != nil {
		logger.Error("invalid capture parameters", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, err := rocecap.CreateAndCapture(ctx, params, nil)
	if err != nil {
		logger.Error("failed to start capture", "error", err)
		os.Exit(1)
	}

	logger.Info("capture running",
		"device", params.Device,
		"key", fmt.Sprintf("%#x", params.Key),
		"block_size", params.BlockSize,
		"nbufs", params.NBufs)
	fmt.Printf("Capturing on device %d, key %#x\n", params.Device, params.Key)
	fmt.Printf("Press Ctrl+C to stop...\n")
	fmt.Printf("Send SIGUSR1 (kill -USR1 %d) to dump a metrics snapshot and goroutine stacks\n", os.Getpid())

	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			dumpMetricsAndStacks(logger, session)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")
	cancel()

	stopDone := make(chan error, 1)
	go func() { stopDone <- session.Stop() }()

	select {
	case err := <-stopDone:
		if err != nil {
			logger.Error("error during shutdown", "error", err)
			os.Exit(1)
		}
		logger.Info("capture stopped cleanly")
	case <-time.After(5 * time.Second):
		logger.Warn("shutdown taking too long, exiting anyway")
	}
}

// dumpMetricsAndStacks logs a metrics snapshot and writes a full
// goroutine stack dump.
func dumpMetricsAndStacks(logger *logging.Logger, session *rocecap.Capture) {
	snap := session.MetricsSnapshot()
	logger.Info("=== METRICS SNAPSHOT ===",
		"packets_received", snap.PacketsReceived,
		"bytes_written", snap.BytesWritten,
		"blocks_published", snap.BlocksPublished,
		"blocks_partial", snap.BlocksPartial,
		"receive_errors", snap.ReceiveErrors,
		"flow_steer_fallbacks", snap.FlowSteerFallbacks,
		"mr_fallbacks", snap.MRFallbacks,
		"avg_publish_latency_ns", snap.AvgPublishLatencyNs,
		"latency_p99_ns", snap.LatencyP99Ns)

	buf := make([]byte, 1024*1024)
	n := runtime.Stack(buf, true)
	fmt.Fprintf(os.Stderr, "\n=== FULL GOROUTINE STACK DUMP ===\n%s\n=== END STACK DUMP ===\n\n", buf[:n])

	filename := fmt.Sprintf("rocecap-stacks-%d.txt", time.Now().Unix())
	if f, err := os.Create(filename); err == nil {
		fmt.Fprintf(f, "Goroutine stack dump at %s\n\n", time.Now().Format(time.RFC3339))
		f.Write(buf[:n])
		fmt.Fprintf(f, "\n\n=== GOROUTINE PROFILE ===\n")
		pprof.Lookup("goroutine").WriteTo(f, 2)
		f.Close()
		logger.Info("stack trace written to file", "file", filename)
	}
}

// buildFlow assembles a FiveTuple from the CLI's string flags. The full
// 5-tuple is required; any absent flag is a startup-fatal error.
func buildFlow(smac, dmac, sip, dip string, sport, dport uint16) (verbs.FiveTuple, error) {
	var flow verbs.FiveTuple

	if smac == "" || dmac == "" || sip == "" || dip == "" || sport == 0 || dport == 0 {
		return flow, fmt.Errorf("missing required network parameters: --smac, --dmac, --sip, --dip, --sport, and --dport must all be given")
	}
	flow.SrcPort = sport
	flow.DstPort = dport

	mac, err := net.ParseMAC(smac)
	if err != nil {
		return flow, fmt.Errorf("--smac: %w", err)
	}
	copy(flow.SrcMAC[:], mac)

	mac, err = net.ParseMAC(dmac)
	if err != nil {
		return flow, fmt.Errorf("--dmac: %w", err)
	}
	copy(flow.DstMAC[:], mac)

	ip := net.ParseIP(sip).To4()
	if ip == nil {
		return flow, fmt.Errorf("--sip: invalid IPv4 address %q", sip)
	}
	copy(flow.SrcIP[:], ip)

	ip = net.ParseIP(dip).To4()
	if ip == nil {
		return flow, fmt.Errorf("--dip: invalid IPv4 address %q", dip)
	}
	copy(flow.DstIP[:], ip)

	return flow, nil
}

// parseHexKey parses a 32-bit ring attachment key, with or without a
// "0x" prefix; the digits are always read as hexadecimal.
func parseHexKey(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// parseSize parses a size string like "64M", "1G", "512K".
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))

	var multiplier int64 = 1
	var numStr string

	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "G")
	default:
		numStr = s
	}

	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, err
	}
	return num * multiplier, nil
}
