package conf

import (
	"time"
)

// Bootstrap 全局配置
type Bootstrap struct {
	Debug        bool      `toml:"debug" comment:"调试模式，输出 debug 日志"`
	BuildVersion string    `toml:"-"`
	Server       Server    `toml:"server"`
	Data         Data      `toml:"data"`
	Log          Log       `toml:"log"`
	Sync         Sync      `toml:"sync" comment:"双摄像头帧同步"`
	Pipeline     Pipeline  `toml:"pipeline" comment:"采集/推理/持久化三级流水线"`
	Violation    Violation `toml:"violation" comment:"违章判定"`
	Retry        Retry     `toml:"retry" comment:"数据库重试策略"`
	Cameras      Cameras   `toml:"cameras"`
	Analysis     Analysis  `toml:"analysis" comment:"外部检测/识别服务"`
	Storage      Storage   `toml:"storage"`
}

type Server struct {
	HTTP ServerHTTP `toml:"http"`
}

type ServerHTTP struct {
	Port      int      `toml:"port"`
	Timeout   Duration `toml:"timeout"`
	AllowCORS []string `toml:"allow_cors" comment:"允许跨域的来源，空表示全部允许"`
}

type Data struct {
	Database Database `toml:"database"`
}

type Database struct {
	Dsn             string   `toml:"dsn" comment:"以 postgres/mysql 开头使用对应驱动，否则视为 sqlite 文件路径"`
	MaxIdleConns    int32    `toml:"max_idle_conns"`
	MaxOpenConns    int32    `toml:"max_open_conns"`
	ConnMaxLifetime Duration `toml:"conn_max_lifetime"`
	SlowThreshold   Duration `toml:"slow_threshold"`
}

type Log struct {
	Dir          string   `toml:"dir"`
	Level        string   `toml:"level" comment:"debug/info/warn/error"`
	MaxAge       Duration `toml:"max_age"`
	RotationTime Duration `toml:"rotation_time"`
}

type Sync struct {
	Tolerance  Duration `toml:"tolerance" comment:"两路帧时间差容忍度"`
	BufferSize int      `toml:"buffer_size" comment:"每路缓冲帧数"`
	MaxAge     Duration `toml:"max_age" comment:"缓冲帧最大存活时长"`
}

type Pipeline struct {
	AutoStart            bool     `toml:"auto_start" comment:"启动服务后立即运行流水线"`
	CaptureFPS           int      `toml:"capture_fps"`
	InferenceQueueSize   int      `toml:"inference_queue_size"`
	PersistenceQueueSize int      `toml:"persistence_queue_size"`
	QueueTimeout         Duration `toml:"queue_timeout" comment:"队列阻塞等待上限，也是停止信号的最大感知延迟"`
	StopTimeout          Duration `toml:"stop_timeout"`
	MaxViolationsPerMin  int      `toml:"max_violations_per_minute" comment:"每分钟最多记录违章数，0 表示不限制"`
	StatsEvery           int      `toml:"stats_every" comment:"每处理 N 条结果输出一次统计"`
	SweepInterval        Duration `toml:"sweep_interval" comment:"清理判定引擎闲置跟踪记录的间隔"`
}

type Violation struct {
	RequiredFrames     int      `toml:"required_frames"`
	VerificationWindow Duration `toml:"verification_window"`
	DuplicateWindow    Duration `toml:"duplicate_window"`
	RetainDays         int      `toml:"retain_days" comment:"违章证据保留天数，<=0 不清理"`
	Rules              []Rule   `toml:"rules" comment:"按优先级排列，先匹配先生效"`
}

type Rule struct {
	Category      string  `toml:"category"`
	MinConfidence float64 `toml:"min_confidence"`
}

type Retry struct {
	MaxRetries int      `toml:"max_retries"`
	BaseDelay  Duration `toml:"base_delay"`
}

type Cameras struct {
	Primary   Camera `toml:"primary" comment:"广角摄像头，用于头盔检测"`
	Secondary Camera `toml:"secondary" comment:"车牌摄像头"`
}

type Camera struct {
	ID        string `toml:"id"`
	RTSPURL   string `toml:"rtsp_url" comment:"为空表示该路不启用"`
	Width     int    `toml:"width"`
	Height    int    `toml:"height"`
	FPS       int    `toml:"fps"`
	Transport string `toml:"transport"`
	Location  string `toml:"location"`
}

type Analysis struct {
	URL      string   `toml:"url" comment:"检测与 OCR 服务 HTTP 地址"`
	GRPCAddr string   `toml:"grpc_addr" comment:"检测服务 gRPC 健康检查地址，为空不检查"`
	Timeout  Duration `toml:"timeout"`
}

type Storage struct {
	EvidenceDir string `toml:"evidence_dir"`
	JPEGQuality int    `toml:"jpeg_quality"`
}

// DefaultConfig 默认配置
func DefaultConfig() Bootstrap {
	return Bootstrap{
		Server: Server{
			HTTP: ServerHTTP{
				Port:    5000,
				Timeout: Duration(60 * time.Second),
			},
		},
		Data: Data{
			Database: Database{
				Dsn:             "configs/data.db",
				MaxIdleConns:    10,
				MaxOpenConns:    30,
				ConnMaxLifetime: Duration(time.Hour),
				SlowThreshold:   Duration(200 * time.Millisecond),
			},
		},
		Log: Log{
			Dir:          "configs/logs",
			Level:        "info",
			MaxAge:       Duration(7 * 24 * time.Hour),
			RotationTime: Duration(12 * time.Hour),
		},
		Sync: Sync{
			Tolerance:  Duration(100 * time.Millisecond),
			BufferSize: 30,
			MaxAge:     Duration(2 * time.Second),
		},
		Pipeline: Pipeline{
			AutoStart:            true,
			CaptureFPS:           30,
			InferenceQueueSize:   5,
			PersistenceQueueSize: 20,
			QueueTimeout:         Duration(500 * time.Millisecond),
			StopTimeout:          Duration(2 * time.Second),
			MaxViolationsPerMin:  10,
			StatsEvery:           100,
			SweepInterval:        Duration(time.Minute),
		},
		Violation: Violation{
			RequiredFrames:     3,
			VerificationWindow: Duration(5 * time.Second),
			DuplicateWindow:    Duration(60 * time.Second),
			Rules: []Rule{
				{Category: "no_helmet", MinConfidence: 0.6},
				{Category: "nutshell_helmet", MinConfidence: 0.6},
			},
		},
		Retry: Retry{
			MaxRetries: 3,
			BaseDelay:  Duration(500 * time.Millisecond),
		},
		Cameras: Cameras{
			Primary: Camera{
				ID:        "CAM-WA-001",
				Width:     1280,
				Height:    720,
				FPS:       30,
				Transport: "tcp",
			},
			Secondary: Camera{
				ID:        "CAM-PL-001",
				Width:     1280,
				Height:    720,
				FPS:       30,
				Transport: "tcp",
			},
		},
		Analysis: Analysis{
			URL:     "http://127.0.0.1:8000",
			Timeout: Duration(5 * time.Second),
		},
		Storage: Storage{
			EvidenceDir: "configs/violations",
			JPEGQuality: 85,
		},
	}
}
