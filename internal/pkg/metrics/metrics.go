package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// 定义指标变量
var (
	// OTAInProgress 记录是否有升级正在进行 (1 = 进行中, 0 = 空闲)
	OTAInProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fwagent_ota_in_progress",
			Help: "Whether a firmware update is in progress (1) or not (0).",
		},
	)

	// OTAUpdatesTotal 按结果统计升级次数
	OTAUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fwagent_ota_updates_total",
			Help: "Total number of firmware update attempts by outcome.",
		},
		[]string{"outcome"}, // outcome: activated 或 abort reason
	)

	// OTABytesWritten 记录写入分区的总字节数
	OTABytesWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fwagent_ota_bytes_written_total",
			Help: "Total number of image bytes written to update partitions.",
		},
	)

	// OTADuration 记录单次升级耗时
	OTADuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fwagent_ota_duration_seconds",
			Help:    "Duration of firmware update attempts.",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"outcome"},
	)

	// CommandsTotal 按命令名统计收到的命令
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fwagent_commands_total",
			Help: "Total number of inbound command messages by command.",
		},
		[]string{"command"}, // command: fwupdate/restart/unknown/malformed/foreign
	)

	// MQTTConnected 记录 broker 连接状态 (1 = 已连接)
	MQTTConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fwagent_mqtt_connected",
			Help: "The connectivity status to the MQTT broker (1=Connected, 0=Disconnected).",
		},
	)

	// StatusReportsTotal 按结果统计状态上报
	StatusReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fwagent_status_reports_total",
			Help: "Total number of status reports by result.",
		},
		[]string{"result"}, // result: success/failed
	)
)

// init 将指标注册到默认 Registry，由 /metrics 端点导出
func init() {
	prometheus.MustRegister(
		OTAInProgress,
		OTAUpdatesTotal,
		OTABytesWritten,
		OTADuration,
		CommandsTotal,
		MQTTConnected,
		StatusReportsTotal,
	)
}
