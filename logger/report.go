package logger

import (
	"context"
	"runtime"
	"strings"
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
	streamErrors  int64
	streamWarns   int64
	cacheErrors   int64
	cacheWarns    int64
	linesRead     int64
	decodeErrors  int64
	reconnects    int64
	marketApplies int64
	orderApplies  int64
	channels      sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "cache") {
		atomic.AddInt64(&cacheWarns, 1)
	} else {
		atomic.AddInt64(&streamWarns, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "cache") {
		atomic.AddInt64(&cacheErrors, 1)
	} else {
		atomic.AddInt64(&streamErrors, 1)
	}
}

// IncrementLineRead counts one raw line received from the socket.
func IncrementLineRead(size int) {
	atomic.AddInt64(&linesRead, 1)
	recordChannel("stream_lines", size)
}

// IncrementDecodeError counts a poison line that was logged and skipped.
func IncrementDecodeError() {
	atomic.AddInt64(&decodeErrors, 1)
}

// IncrementReconnect counts one reconnect attempt.
func IncrementReconnect() {
	atomic.AddInt64(&reconnects, 1)
}

// IncrementMarketApply counts one change message folded into the market cache.
func IncrementMarketApply() {
	atomic.AddInt64(&marketApplies, 1)
}

// IncrementOrderApply counts one change message folded into the order cache.
func IncrementOrderApply() {
	atomic.AddInt64(&orderApplies, 1)
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
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

// StartReport begins periodic logging of system and stream statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
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
		"stream_errors":  atomic.LoadInt64(&streamErrors),
		"stream_warns":   atomic.LoadInt64(&streamWarns),
		"cache_errors":   atomic.LoadInt64(&cacheErrors),
		"cache_warns":    atomic.LoadInt64(&cacheWarns),
		"lines_read":     atomic.LoadInt64(&linesRead),
		"decode_errors":  atomic.LoadInt64(&decodeErrors),
		"reconnects":     atomic.LoadInt64(&reconnects),
		"market_applies": atomic.LoadInt64(&marketApplies),
		"order_applies":  atomic.LoadInt64(&orderApplies),
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_mb":      int64(memStats.Used) / 1024 / 1024,
		"disk_mb":        int64(diskStats.Used) / 1024 / 1024,
		"channels":       channelData,
		"net_bytes_sent": int64(bytesSent),
		"net_bytes_recv": int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("StreamErrors"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["stream_errors"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("StreamWarns"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["stream_warns"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("CacheErrors"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["cache_errors"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("LinesRead"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["lines_read"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("DecodeErrors"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["decode_errors"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Reconnects"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["reconnects"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("MarketApplies"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["market_applies"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OrderApplies"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["order_applies"].(int64)))},
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
