//go:build pcap
// +build pcap

package network

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/aerosense-labs/skywatch/internal/monitoring"
)

// ReplayPCAPFile replays sensor datagrams from a capture file through
// handle, one UDP payload per call. Pacing follows the capture timestamps
// scaled by rate; rate <= 0 replays as fast as possible.
// Only available when building with the 'pcap' build tag.
func ReplayPCAPFile(ctx context.Context, pcapFile string, udpPort int, rate float64, handle func(data []byte)) error {
	pcapHandle, err := pcap.OpenOffline(pcapFile)
	if err != nil {
		return fmt.Errorf("failed to open PCAP file %s: %w", pcapFile, err)
	}
	defer pcapHandle.Close()

	// Only the sensor's UDP stream is of interest.
	filterStr := fmt.Sprintf("udp port %d", udpPort)
	if err := pcapHandle.SetBPFFilter(filterStr); err != nil {
		return fmt.Errorf("failed to set BPF filter %q: %w", filterStr, err)
	}
	monitoring.Logf("PCAP BPF filter set: %s", filterStr)

	packetSource := gopacket.NewPacketSource(pcapHandle, pcapHandle.LinkType())
	datagramCount := 0
	startTime := time.Now()
	var lastCaptureTime time.Time

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("PCAP replay stopping due to context cancellation (replayed %d datagrams)", datagramCount)
			return ctx.Err()
		case packet := <-packetSource.Packets():
			if packet == nil {
				elapsed := time.Since(startTime)
				monitoring.Logf("PCAP replay complete: %d datagrams in %v", datagramCount, elapsed)
				return nil
			}

			udpLayer := packet.Layer(layers.LayerTypeUDP)
			if udpLayer == nil {
				continue // non-UDP despite the filter
			}
			udp, ok := udpLayer.(*layers.UDP)
			if !ok || len(udp.Payload) == 0 {
				continue
			}

			// Pace replay by the inter-packet gaps recorded in the capture.
			captureTime := packet.Metadata().Timestamp
			if rate > 0 && !lastCaptureTime.IsZero() {
				gap := captureTime.Sub(lastCaptureTime)
				if gap > 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(time.Duration(float64(gap) / rate)):
					}
				}
			}
			lastCaptureTime = captureTime

			handle(udp.Payload)
			datagramCount++

			if datagramCount%10000 == 0 {
				elapsed := time.Since(startTime)
				monitoring.Logf("PCAP progress: %d datagrams in %v (%.0f/s)",
					datagramCount, elapsed, float64(datagramCount)/elapsed.Seconds())
			}
		}
	}
}
