package receiver

import (
	"hash/crc32"
	"strings"
)

// buildFileInfo 组装事件载荷。Blob/Frags 与对象共享，只读约定。
func (d *RouteDmx) buildFileInfo(obj *LCTObject, partial Partial) *FileInfo {
	return &FileInfo{
		Filename:     obj.filename,
		Mime:         obj.mime,
		Blob:         obj.blobView(),
		TotalSize:    obj.totalSize,
		TSI:          obj.TSI,
		TOI:          obj.TOI,
		StartTime:    uint32(obj.startTime.Sub(d.start).Milliseconds()),
		DownloadMs:   uint32(obj.lastActivity.Sub(obj.startTime).Milliseconds()),
		FirstTOI:     obj.firstTOI,
		Frags:        obj.frags.Frags(),
		DashPeriodID: obj.dashPeriodID,
		DashASID:     obj.dashASID,
		DashRepID:    obj.dashRepID,
		Partial:      partial,
		Udata:        obj.udata,
	}
}

// emit 同步回调，并把调用方在回调里设置的 Udata 固化回对象
func (d *RouteDmx) emit(evt EventType, serviceID uint32, obj *LCTObject, fi *FileInfo) {
	if d.handler == nil {
		return
	}
	d.handler(&Event{Type: evt, ServiceID: serviceID, File: fi})
	if fi != nil && obj != nil {
		obj.udata = fi.Udata
	}
}

// dispatchFragment 接收中对象收到新分片后的派发决策。
// 静态名对象一律 FULL 语义，不发分片事件。
func (d *RouteDmx) dispatchFragment(svc *Service, fl *flow, obj *LCTObject, grew bool) {
	if obj.staticName || obj.TSI == 0 || !fl.selected {
		return
	}
	switch obj.dispatchMode {
	case DispatchProgressive:
		prefix := obj.frags.ContiguousPrefix()
		if prefix > obj.lastDispatchedPrefix {
			fi := d.buildFileInfo(obj, PartialBegin)
			fi.Blob = obj.buffer[:prefix]
			d.emit(EventDynSegFrag, svc.ID, obj, fi)
			obj.lastDispatchedPrefix = prefix
		}
	case DispatchOutOfOrder:
		if grew {
			d.emit(EventDynSegFrag, svc.ID, obj, d.buildFileInfo(obj, PartialAny))
		}
	}
}

// dispatchFinal 对象结束接收（Complete 或 TimedOut）后的唯一一次最终派发
func (d *RouteDmx) dispatchFinal(svc *Service, obj *LCTObject) {
	if obj.finalDispatched {
		return
	}
	obj.finalDispatched = true

	fl := svc.getFlow(obj.TSI)

	partial := PartialNone
	if obj.status == StatusTimedOut {
		partial = PartialAny
	}
	fi := d.buildFileInfo(obj, partial)

	evt := EventDynSeg
	if obj.staticName {
		evt = d.classifyStatic(svc, obj, fi)
	} else {
		if !fl.firstSegDone {
			fi.FirstTOI = true
			obj.firstTOI = true
			fl.firstSegDone = true
		}
	}

	d.emit(evt, svc.ID, obj, fi)
}

// classifyStatic 静态文件事件细分：MPD / HLS playlist / 普通文件，
// 并维护 updated 标志（按内容 CRC）。
func (d *RouteDmx) classifyStatic(svc *Service, obj *LCTObject, fi *FileInfo) EventType {
	crc := crc32.ChecksumIEEE(obj.blobView())
	prev, seen := svc.crcByName[obj.filename]
	fi.Updated = !seen || prev != crc
	svc.crcByName[obj.filename] = crc

	name := strings.ToLower(obj.filename)
	switch {
	case strings.HasSuffix(name, ".mpd"):
		return EventManifest
	case strings.HasSuffix(name, ".m3u8"):
		if d.resolveHLS(svc, obj) {
			return EventManifest // master playlist
		}
		return EventHLSVariant
	default:
		return EventFile
	}
}

// guessMime 动态分段的 mime 兜底
func guessMime(filename string) string {
	name := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(name, ".mpd"):
		return "application/dash+xml"
	case strings.HasSuffix(name, ".m3u8"):
		return "application/vnd.apple.mpegurl"
	case strings.HasSuffix(name, ".mp4"), strings.HasSuffix(name, ".m4s"), strings.HasSuffix(name, ".m4v"):
		return "video/mp4"
	case strings.HasSuffix(name, ".m4a"):
		return "audio/mp4"
	case strings.HasSuffix(name, ".ts"):
		return "video/mp2t"
	default:
		return ""
	}
}
