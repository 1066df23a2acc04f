package writer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"

	"Route_go/pkg/receiver"
)

// Writer 把接收完成的对象落盘的事件汇。
// 只处理最终事件；分片事件与迟到数据忽略。
type Writer struct {
	dir string
	log hclog.Logger

	nbFiles uint64
	nbBytes uint64
}

func New(dir string, log hclog.Logger) (*Writer, error) {
	if dir == "" {
		return nil, fmt.Errorf("empty output directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir %q: %w", dir, err)
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Writer{dir: dir, log: log.Named("writer")}, nil
}

// HandleEvent receiver.EventHandler 实现
func (w *Writer) HandleEvent(evt *receiver.Event) {
	switch evt.Type {
	case receiver.EventServiceFound:
		w.log.Info("service found", "service_id", evt.ServiceID)
		return
	case receiver.EventManifest, receiver.EventHLSVariant, receiver.EventFile, receiver.EventDynSeg:
		// 落盘
	case receiver.EventFileDelete:
		if evt.File != nil {
			w.remove(evt.File.Filename)
		}
		return
	default:
		return
	}

	fi := evt.File
	if fi == nil || fi.Partial != receiver.PartialNone {
		return
	}
	path, err := w.safePath(fi.Filename)
	if err != nil {
		w.log.Warn("skip object", "name", fi.Filename, "err", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		w.log.Warn("mkdir failed", "path", path, "err", err)
		return
	}
	blob := fi.Blob
	if fi.TotalSize != 0 && uint64(len(blob)) > uint64(fi.TotalSize) {
		blob = blob[:fi.TotalSize]
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		w.log.Warn("write failed", "path", path, "err", err)
		return
	}
	w.nbFiles++
	w.nbBytes += uint64(len(blob))
	w.log.Info("object written", "name", fi.Filename, "bytes", len(blob),
		"tsi", fi.TSI, "toi", fi.TOI, "download_ms", fi.DownloadMs)
}

func (w *Writer) remove(name string) {
	path, err := w.safePath(name)
	if err != nil {
		return
	}
	if err := os.Remove(path); err == nil {
		w.log.Debug("object removed", "name", name)
	}
}

// safePath 拒绝越出输出目录的文件名
func (w *Writer) safePath(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("object has no name")
	}
	clean := filepath.Clean("/" + name)
	if strings.Contains(clean, "..") {
		return "", fmt.Errorf("unsafe object name %q", name)
	}
	return filepath.Join(w.dir, clean), nil
}

// NbFiles 已写出的对象数
func (w *Writer) NbFiles() uint64 { return w.nbFiles }

// NbBytes 已写出的字节数
func (w *Writer) NbBytes() uint64 { return w.nbBytes }
