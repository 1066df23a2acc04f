package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"

	"Route_go/pkg/receiver"
	"Route_go/pkg/receiver/writer"
)

type AppConfig struct {
	Receiver ReceiverConfigSection `yaml:"receiver"`
}

type ReceiverConfigSection struct {
	Mode     string                 `yaml:"mode"` // "atsc" | "route" | "flute"
	Network  ReceiverNetworkConfig  `yaml:"network"`
	Tune     ReceiverTuneConfig     `yaml:"tune"`
	Dispatch ReceiverDispatchConfig `yaml:"dispatch"`
	Output   ReceiverOutputConfig   `yaml:"output"`
	Logging  ReceiverLoggingConfig  `yaml:"logging"`
}

type ReceiverNetworkConfig struct {
	Destination     string `yaml:"destination"`      // "235.35.3.5:3937"，atsc 模式忽略
	DestinationPort uint16 `yaml:"destination_port"`
	Interface       string `yaml:"interface"`
	SockBufferSize  int    `yaml:"sock_buffer_size"` // 0 = 缺省 0x2000
	CaptureFile     string `yaml:"capture_file"`     // 回放录制文件
}

type ReceiverTuneConfig struct {
	ServiceID  string `yaml:"service_id"` // 数字 / "all" / "first" / "none"
	TuneOthers bool   `yaml:"tune_others"`
}

type ReceiverDispatchConfig struct {
	Mode          string `yaml:"mode"` // "full" | "progressive" | "out_of_order"
	IgnoreOrder   *bool  `yaml:"ignore_order,omitempty"`
	TimeoutMicros uint32 `yaml:"timeout_micros"` // 0 = 任何乱序即结束前一对象
}

type ReceiverOutputConfig struct {
	Directory string `yaml:"directory"`
}

type ReceiverLoggingConfig struct {
	Level            string `yaml:"level"`
	ProgressInterval uint32 `yaml:"progress_interval"` // 秒，0 = 不打印
}

func loadConfig(path string) (*AppConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return &cfg, nil
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config")
	flag.Parse()

	fmt.Printf("[route-receiver] loading config: %s\n", *configPath)
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := hclog.New(&hclog.LoggerOptions{
		Name:  "route-receiver",
		Level: hclog.LevelFromString(cfg.Receiver.Logging.Level),
	})

	sink, err := writer.New(cfg.Receiver.Output.Directory, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "output sink: %v\n", err)
		os.Exit(1)
	}

	opts := &receiver.Options{
		Ifce:           cfg.Receiver.Network.Interface,
		SockBufferSize: cfg.Receiver.Network.SockBufferSize,
		Logger:         log,
		CaptureFile:    cfg.Receiver.Network.CaptureFile,
	}

	dmx, err := buildDmx(cfg, sink.HandleEvent, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create demuxer: %v\n", err)
		os.Exit(1)
	}
	defer dmx.Close()

	applyDispatchConfig(dmx, &cfg.Receiver.Dispatch)
	dmx.TuneIn(parseTuneService(cfg.Receiver.Tune.ServiceID), cfg.Receiver.Tune.TuneOthers)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	progressEvery := time.Duration(cfg.Receiver.Logging.ProgressInterval) * time.Second
	lastProgress := time.Now()

	fmt.Printf("[route-receiver] running, mode=%s output=%s\n",
		cfg.Receiver.Mode, cfg.Receiver.Output.Directory)

	for {
		select {
		case <-stop:
			printStats(dmx, sink)
			return
		default:
		}

		err := dmx.Process()
		if errors.Is(err, receiver.ErrNetworkEmpty) {
			dmx.CheckTimeouts()
			time.Sleep(time.Millisecond)
		} else if err != nil {
			fmt.Fprintf(os.Stderr, "process error: %v\n", err)
		}

		if progressEvery > 0 && time.Since(lastProgress) >= progressEvery {
			log.Info("progress", "pkts", dmx.NbPackets(), "bytes", dmx.RecvBytes(),
				"dropped", dmx.NbDropped(), "files", sink.NbFiles())
			lastProgress = time.Now()
		}
	}
}

func buildDmx(cfg *AppConfig, handler receiver.EventHandler, opts *receiver.Options) (*receiver.RouteDmx, error) {
	switch cfg.Receiver.Mode {
	case "atsc", "":
		return receiver.NewATSCDmx(handler, opts)
	case "route":
		ip, port, err := splitDest(cfg.Receiver.Network.Destination, cfg.Receiver.Network.DestinationPort)
		if err != nil {
			return nil, err
		}
		return receiver.NewRouteDmx(ip, port, handler, opts)
	case "flute":
		ip, port, err := splitDest(cfg.Receiver.Network.Destination, cfg.Receiver.Network.DestinationPort)
		if err != nil {
			return nil, err
		}
		return receiver.NewDVBFluteDmx(ip, port, handler, opts)
	default:
		return nil, fmt.Errorf("unsupported mode %q", cfg.Receiver.Mode)
	}
}

func splitDest(dest string, port uint16) (string, uint16, error) {
	if dest == "" {
		return "", 0, fmt.Errorf("network.destination required")
	}
	for i := len(dest) - 1; i >= 0; i-- {
		if dest[i] == ':' {
			var p int
			if _, err := fmt.Sscanf(dest[i+1:], "%d", &p); err != nil {
				return "", 0, fmt.Errorf("bad destination %q", dest)
			}
			return dest[:i], uint16(p), nil
		}
	}
	if port == 0 {
		return "", 0, fmt.Errorf("no port in destination %q", dest)
	}
	return dest, port, nil
}

func parseTuneService(s string) uint32 {
	switch s {
	case "all":
		return receiver.TuneServiceAll
	case "first", "":
		return receiver.TuneServiceFirst
	case "none":
		return receiver.TuneServiceNone
	}
	var id uint32
	if _, err := fmt.Sscanf(s, "%d", &id); err != nil {
		return receiver.TuneServiceFirst
	}
	return id
}

func applyDispatchConfig(dmx *receiver.RouteDmx, cfg *ReceiverDispatchConfig) {
	switch cfg.Mode {
	case "progressive":
		dmx.SetDispatchMode(receiver.DispatchProgressive)
	case "out_of_order":
		dmx.SetDispatchMode(receiver.DispatchOutOfOrder)
	default:
		dmx.SetDispatchMode(receiver.DispatchFull)
	}
	ignoreOrder := true
	if cfg.IgnoreOrder != nil {
		ignoreOrder = *cfg.IgnoreOrder
	}
	timeout := cfg.TimeoutMicros
	if cfg.IgnoreOrder == nil && timeout == 0 {
		timeout = 1000
	}
	dmx.SetReorder(ignoreOrder, timeout)
}

func printStats(dmx *receiver.RouteDmx, sink *writer.Writer) {
	fmt.Println("============================================")
	fmt.Println("RECEPTION STOPPED")
	fmt.Println("============================================")
	fmt.Printf("Total packets:   %d\n", dmx.NbPackets())
	fmt.Printf("Total data:      %.2f MB\n", float64(dmx.RecvBytes())/(1024*1024))
	fmt.Printf("Dropped packets: %d\n", dmx.NbDropped())
	fmt.Printf("Files written:   %d (%.2f MB)\n", sink.NbFiles(), float64(sink.NbBytes())/(1024*1024))
	fmt.Println("============================================")
}
