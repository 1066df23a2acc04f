package receiver

// EventType 推送给调用方的事件类型
type EventType int

const (
	// EventServiceFound 发现新服务，ServiceID 有效，无文件信息
	EventServiceFound EventType = iota
	// EventServiceScan 服务扫描完成
	EventServiceScan
	// EventManifest 新的 MPD 或 HLS master playlist
	EventManifest
	// EventHLSVariant HLS variant playlist 更新
	EventHLSVariant
	// EventFile 静态文件（TOI 预先关联文件名）
	EventFile
	// EventDynSeg 按模板命名的媒体分段接收完成
	EventDynSeg
	// EventDynSegFrag 分段的部分数据（progressive / out-of-order 模式）
	EventDynSegFrag
	// EventFileDelete 对象从缓存中移除（仅动态 TOI）
	EventFileDelete
	// EventLateData 迟到数据（对象已完成后收到的补充分片）
	EventLateData
)

func (e EventType) String() string {
	switch e {
	case EventServiceFound:
		return "ServiceFound"
	case EventServiceScan:
		return "ServiceScan"
	case EventManifest:
		return "Manifest"
	case EventHLSVariant:
		return "HLSVariant"
	case EventFile:
		return "File"
	case EventDynSeg:
		return "DynSeg"
	case EventDynSegFrag:
		return "DynSegFrag"
	case EventFileDelete:
		return "FileDelete"
	case EventLateData:
		return "LateData"
	default:
		return "Unknown"
	}
}

// Partial 部分接收标记
type Partial uint8

const (
	// PartialNone 对象接收完毕
	PartialNone Partial = iota
	// PartialBegin 数据是载荷的起始连续前缀
	PartialBegin
	// PartialAny 数据是当前接收缓冲，可能有洞
	PartialAny
)

// DispatchMode 对象派发模式
type DispatchMode int

const (
	// DispatchFull 整个对象接收完成后通知一次
	DispatchFull DispatchMode = iota
	// DispatchProgressive 起始连续前缀每次增长都通知
	DispatchProgressive
	// DispatchOutOfOrder 每收到一个分片就通知
	DispatchOutOfOrder
)

// Frag 对象内一段已接收的连续字节范围
type Frag struct {
	Offset uint32
	Size   uint32
}

// FileInfo 文件事件的载荷。Blob 与 Frags 和正在重组的对象共享，
// 调用方只读；改动只能走 PatchFragInfo / PatchBlobSize。
type FileInfo struct {
	Filename  string
	Mime      string
	Blob      []byte
	TotalSize uint32 // 0 = 未知
	TSI       uint32
	TOI       uint32
	// StartTime 首包时刻（毫秒，相对引擎创建）
	StartTime uint32
	// DownloadMs 下载耗时（毫秒）
	DownloadMs uint32
	// Updated 静态文件内容相对上次有变化
	Updated bool
	// FirstTOI 该 TSI 的第一个分段
	FirstTOI bool
	Frags    []Frag
	// LateFragmentOffset 仅 EventLateData 有效
	LateFragmentOffset uint32

	// DASH/HLS 元数据，仅媒体分段对象
	DashPeriodID string
	DashASID     int32
	DashRepID    string

	Partial Partial

	// Udata 调用方不透明令牌：回调里设置后由引擎保存，
	// 同一对象的后续事件原样带回
	Udata any
}

// Event 一次回调的内容
type Event struct {
	Type      EventType
	ServiceID uint32
	File      *FileInfo
}

// EventHandler 构造时提供的同步回调
type EventHandler func(evt *Event)
