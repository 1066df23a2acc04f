package receiver

import (
	"fmt"
	"time"

	"Route_go/pkg/lct"
)

// ObjectStatus 对象状态机：Receiving → Complete | TimedOut，
// Deleted 从任意状态可达（显式移除 / purge / reset）。
type ObjectStatus uint8

const (
	StatusReceiving ObjectStatus = iota
	StatusComplete
	StatusTimedOut
	StatusDeleted
)

func (s ObjectStatus) String() string {
	switch s {
	case StatusReceiving:
		return "Receiving"
	case StatusComplete:
		return "Complete"
	case StatusTimedOut:
		return "TimedOutIncomplete"
	case StatusDeleted:
		return "Deleted"
	default:
		return "Unknown"
	}
}

// LCTObject 一个 (TSI, TOI) 传输对象。
// 数据缓冲由引擎独占写入；对外只暴露共享只读视图。
type LCTObject struct {
	TSI uint32
	TOI uint32

	frags  FragTable
	buffer []byte

	// totalSize 0 表示未知；一旦确定不再减小
	totalSize uint32

	filename   string
	mime       string
	staticName bool // 静态名对象始终按 FULL 语义派发

	// 传输层内容编码，完成后解码（仅信令/FDT 使用）
	cenc lct.Cenc

	status    ObjectStatus
	forceKeep bool

	startTime    time.Time // 首包
	lastActivity time.Time // 最近分片

	// 创建时固化的派发模式（中途切换模式不影响在途对象）
	dispatchMode         DispatchMode
	lastDispatchedPrefix uint32
	finalDispatched      bool

	// FLUTE: 当前 FDT 实例号（仅 FDT 对象）
	fdtInstanceID uint32
	hasFdtID      bool

	// DASH/HLS 元数据，来自 S-TSID / 信令
	dashPeriodID string
	dashASID     int32
	dashRepID    string

	firstTOI bool

	// 调用方不透明令牌
	udata any
}

// setTotalSize 一旦已知不再减小；与既有覆盖矛盾则拒绝
func (o *LCTObject) setTotalSize(sz uint32) error {
	if sz == 0 || o.totalSize == sz {
		return nil
	}
	if o.totalSize != 0 && sz < o.totalSize {
		return fmt.Errorf("%w: total size shrink %d -> %d", ErrNonCompliant, o.totalSize, sz)
	}
	if o.frags.MaxEnd() > uint64(sz) {
		return fmt.Errorf("%w: coverage exceeds declared size %d", ErrNonCompliant, sz)
	}
	o.totalSize = sz
	if uint64(len(o.buffer)) < uint64(sz) {
		grown := make([]byte, sz)
		copy(grown, o.buffer)
		o.buffer = grown
	}
	return nil
}

// pushFragment 写入一个分片。返回覆盖是否增长。
// 越过已知总长的分片被拒绝（坏包，调用方丢弃并计数）。
func (o *LCTObject) pushFragment(offset uint32, data []byte, now time.Time) (bool, error) {
	if len(data) == 0 {
		return false, nil
	}
	end := uint64(offset) + uint64(len(data))
	if o.totalSize != 0 && end > uint64(o.totalSize) {
		return false, fmt.Errorf("%w: fragment [%d,%d) exceeds total size %d", ErrNonCompliant, offset, end, o.totalSize)
	}
	if end > uint64(len(o.buffer)) {
		grown := make([]byte, end)
		copy(grown, o.buffer)
		o.buffer = grown
	}
	copy(o.buffer[offset:end], data)
	grew := o.frags.Insert(offset, uint32(len(data)))
	o.lastActivity = now
	return grew, nil
}

// isFullyCovered 覆盖恰好等于已知总长
func (o *LCTObject) isFullyCovered() bool {
	return o.frags.IsComplete(o.totalSize)
}

// finalize 结束接收：覆盖完整 → Complete，否则 TimedOut
func (o *LCTObject) finalize() {
	if o.status != StatusReceiving {
		return
	}
	if o.isFullyCovered() {
		o.status = StatusComplete
	} else {
		o.status = StatusTimedOut
	}
}

// blobView 当前共享数据视图
func (o *LCTObject) blobView() []byte {
	return o.buffer
}
