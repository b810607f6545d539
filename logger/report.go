package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	warnCount      int64
	errorCount     int64
	framesRead     int64
	pushesOut      int64
	subscribeAcks  int64
	heartbeats     int64
	handlerErrors  int64
	decodeErrors   int64
	recorderWrites int64
	channels       sync.Map // map[string]*channelStat
)

func recordWarn()  { atomic.AddInt64(&warnCount, 1) }
func recordError() { atomic.AddInt64(&errorCount, 1) }

// IncrementFrameRead counts one raw frame received from the link.
func IncrementFrameRead(size int) {
	atomic.AddInt64(&framesRead, 1)
	recordChannel("link_read", size)
}

// IncrementPushDispatched counts one publication delivered to consumers.
func IncrementPushDispatched(channel string, size int) {
	atomic.AddInt64(&pushesOut, 1)
	recordChannel(channel, size)
}

// IncrementSubscribeAck counts one confirmed channel subscription.
func IncrementSubscribeAck(channel string) {
	atomic.AddInt64(&subscribeAcks, 1)
	recordChannel(channel, 0)
}

// IncrementHeartbeat counts one ping answered.
func IncrementHeartbeat() {
	atomic.AddInt64(&heartbeats, 1)
}

// IncrementHandlerError counts one consumer callback failure.
func IncrementHandlerError() {
	atomic.AddInt64(&handlerErrors, 1)
}

// IncrementDecodeError counts one dropped undecodable frame.
func IncrementDecodeError() {
	atomic.AddInt64(&decodeErrors, 1)
}

// IncrementRecorderWrite counts one flushed recorder batch.
func IncrementRecorderWrite(size int64) {
	atomic.AddInt64(&recorderWrites, 1)
	recordChannel("recorder_write", int(size))
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

// StartReport begins periodic logging of system and session statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"warns":           atomic.LoadInt64(&warnCount),
		"errors":          atomic.LoadInt64(&errorCount),
		"frames_read":     atomic.LoadInt64(&framesRead),
		"pushes":          atomic.LoadInt64(&pushesOut),
		"subscribe_acks":  atomic.LoadInt64(&subscribeAcks),
		"heartbeats":      atomic.LoadInt64(&heartbeats),
		"handler_errors":  atomic.LoadInt64(&handlerErrors),
		"decode_errors":   atomic.LoadInt64(&decodeErrors),
		"recorder_writes": atomic.LoadInt64(&recorderWrites),
		"goroutines":      runtime.NumGoroutine(),
		"cpu_percent":     cpuPct,
		"memory_mb":       int64(memStats.Used) / 1024 / 1024,
		"disk_mb":         int64(diskStats.Used) / 1024 / 1024,
		"channels":        channelData,
		"net_bytes_sent":  int64(bytesSent),
		"net_bytes_recv":  int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("Warns"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&warnCount)))},
		cwtypes.MetricDatum{MetricName: aws.String("Errors"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&errorCount)))},
		cwtypes.MetricDatum{MetricName: aws.String("FramesRead"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&framesRead)))},
		cwtypes.MetricDatum{MetricName: aws.String("Pushes"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&pushesOut)))},
		cwtypes.MetricDatum{MetricName: aws.String("SubscribeAcks"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&subscribeAcks)))},
		cwtypes.MetricDatum{MetricName: aws.String("Heartbeats"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&heartbeats)))},
		cwtypes.MetricDatum{MetricName: aws.String("HandlerErrors"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&handlerErrors)))},
		cwtypes.MetricDatum{MetricName: aws.String("DecodeErrors"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&decodeErrors)))},
		cwtypes.MetricDatum{MetricName: aws.String("RecorderWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&recorderWrites)))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
