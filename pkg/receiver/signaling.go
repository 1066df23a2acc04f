package receiver

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"encoding/xml"
	"fmt"
	"hash/crc32"
	"io"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"

	"Route_go/pkg/lct"
	"Route_go/pkg/object"
	"Route_go/pkg/transport"
)

// LLS 表类型 (A/331)
const llsTableSLT = 1

// sltXML ATSC 3.0 Service List Table
type sltXML struct {
	XMLName  xml.Name     `xml:"SLT"`
	BsID     string       `xml:"bsid,attr"`
	Services []sltService `xml:"Service"`
}

type sltService struct {
	ServiceID uint32          `xml:"serviceId,attr"`
	ShortName string          `xml:"shortServiceName,attr"`
	Signaling *sltBcastSvcSig `xml:"BroadcastSvcSignaling"`
}

type sltBcastSvcSig struct {
	Protocol uint8  `xml:"slsProtocol,attr"`
	DestIP   string `xml:"slsDestinationIpAddress,attr"`
	DestPort uint16 `xml:"slsDestinationUdpPort,attr"`
}

// stsidXML ROUTE 会话描述 (S-TSID)
type stsidXML struct {
	XMLName xml.Name  `xml:"S-TSID"`
	RS      []stsidRS `xml:"RS"`
}

type stsidRS struct {
	DIpAddr string    `xml:"dIpAddr,attr"`
	DPort   uint16    `xml:"dPort,attr"`
	LS      []stsidLS `xml:"LS"`
}

type stsidLS struct {
	TSI     uint32        `xml:"tsi,attr"`
	SrcFlow *stsidSrcFlow `xml:"SrcFlow"`
}

type stsidSrcFlow struct {
	EFDT        *stsidEFDT        `xml:"EFDT"`
	ContentInfo *stsidContentInfo `xml:"ContentInfo"`
}

type stsidEFDT struct {
	FileTemplate string              `xml:"FileTemplate"`
	Files        []object.FdtFile    `xml:"FDTParameters>File"`
	FdtInstance  *object.FdtInstance `xml:"FDT-Instance"`
}

type stsidContentInfo struct {
	MediaInfo *stsidMediaInfo `xml:"MediaInfo"`
}

type stsidMediaInfo struct {
	RepID    string `xml:"repId,attr"`
	PeriodID string `xml:"periodId,attr"`
	ASID     *int32 `xml:"asId,attr"`
}

// handleLLS 处理 bootstrap 会话上的低层信令表。
// 表头 4 字节：table_id, group_id, group_count_minus1, version。
func (d *RouteDmx) handleLLS(data []byte) {
	if len(data) < 5 {
		d.stats.nbDropped++
		return
	}
	tableID := data[0]
	version := data[3]
	if tableID != llsTableSLT {
		d.log.Debug("ignoring LLS table", "table_id", tableID)
		return
	}
	if d.sltVersionSeen && d.sltVersion == version {
		return // 轮播的同版本 SLT
	}

	payload, err := gunzip(data[4:])
	if err != nil {
		d.log.Debug("bad SLT payload", "err", err)
		d.stats.nbDropped++
		return
	}
	var slt sltXML
	if err := xml.Unmarshal(payload, &slt); err != nil {
		d.log.Debug("bad SLT xml", "err", err)
		d.stats.nbDropped++
		return
	}

	d.sltVersion = version
	d.sltVersionSeen = true

	for _, s := range slt.Services {
		if s.Signaling == nil {
			continue
		}
		if _, ok := d.services[s.ServiceID]; ok {
			continue
		}
		svc := newService(s.ServiceID)
		svc.tunedMedia = d.serviceTuned(s.ServiceID)
		d.services[s.ServiceID] = svc
		d.serviceOrder = append(d.serviceOrder, s.ServiceID)

		if svc.tunedMedia || d.tuneOthers {
			d.openServiceSource(svc, transport.NewUDPEndpoint(nil, s.Signaling.DestIP, s.Signaling.DestPort))
		}
		d.log.Info("service found", "service_id", s.ServiceID, "name", s.ShortName,
			"sls", fmt.Sprintf("%s:%d", s.Signaling.DestIP, s.Signaling.DestPort))
		d.emit(EventServiceFound, s.ServiceID, nil, nil)

		if d.tuneFirst && !d.tunedFirstDone {
			d.tunedFirstDone = true
			d.tunedService = s.ServiceID
			svc.tunedMedia = true
		}
	}

	d.emit(EventServiceScan, 0, nil, nil)
}

// serviceTuned 该服务是否收取完整媒体数据
func (d *RouteDmx) serviceTuned(serviceID uint32) bool {
	switch {
	case d.tuneAll:
		return true
	case d.tuneFirst:
		return !d.tunedFirstDone
	default:
		return d.tunedService == serviceID
	}
}

// handleSignalingObject TSI=0 对象接收完成：按内容分类
func (d *RouteDmx) handleSignalingObject(svc *Service, obj *LCTObject) {
	data := obj.blobView()
	if obj.totalSize != 0 && uint64(len(data)) > uint64(obj.totalSize) {
		data = data[:obj.totalSize]
	}
	if obj.cenc != lct.CencNull {
		dec, err := decompressBuffer(data, obj.cenc)
		if err != nil {
			d.log.Warn("signaling decode failed", "service", svc.ID, "cenc", obj.cenc, "err", err)
			return
		}
		data = dec
	}
	text := string(data)

	switch {
	case strings.Contains(text, "<S-TSID"):
		d.applySTSID(svc, data)
	case strings.Contains(text, "<FDT-Instance"):
		d.applyFDT(svc, obj.TSI, data)
	case strings.Contains(text, "<MPD"):
		if obj.filename == "" {
			obj.filename = "manifest.mpd"
		}
		obj.mime = "application/dash+xml"
		fi := d.buildFileInfo(obj, PartialNone)
		fi.Blob = data
		fi.TotalSize = uint32(len(data))
		fi.Updated = d.trackUpdated(svc, obj)
		d.emit(EventManifest, svc.ID, obj, fi)
	case strings.HasPrefix(text, "#EXTM3U"):
		if obj.filename == "" {
			obj.filename = "master.m3u8"
		}
		obj.mime = "application/vnd.apple.mpegurl"
		evt := EventHLSVariant
		if d.resolveHLSData(svc, data) {
			evt = EventManifest
		}
		fi := d.buildFileInfo(obj, PartialNone)
		fi.Blob = data
		fi.TotalSize = uint32(len(data))
		fi.Updated = d.trackUpdated(svc, obj)
		d.emit(evt, svc.ID, obj, fi)
	default:
		d.log.Debug("unclassified signaling object", "service", svc.ID, "toi", obj.TOI, "size", len(data))
	}
}

func (d *RouteDmx) trackUpdated(svc *Service, obj *LCTObject) bool {
	crc := crc32.ChecksumIEEE(obj.blobView())
	prev, seen := svc.crcByName[obj.filename]
	svc.crcByName[obj.filename] = crc
	return !seen || prev != crc
}

// applySTSID 应用会话描述：为各 TSI 建流、记录命名与 DASH 元数据，
// 需要时打开新的媒体会话 socket。
func (d *RouteDmx) applySTSID(svc *Service, data []byte) {
	var st stsidXML
	if err := xml.Unmarshal(data, &st); err != nil {
		d.log.Warn("bad S-TSID", "service", svc.ID, "err", err)
		return
	}
	for _, rs := range st.RS {
		for _, ls := range rs.LS {
			fl := svc.getFlow(ls.TSI)
			if ls.SrcFlow == nil {
				continue
			}
			if efdt := ls.SrcFlow.EFDT; efdt != nil {
				if efdt.FileTemplate != "" {
					fl.fileTemplate = efdt.FileTemplate
				}
				for i := range efdt.Files {
					d.registerStaticFile(svc, fl, &efdt.Files[i])
				}
				if efdt.FdtInstance != nil {
					for i := range efdt.FdtInstance.Files {
						d.registerStaticFile(svc, fl, &efdt.FdtInstance.Files[i])
					}
					fl.oti = efdt.FdtInstance.GetOtiForFile(&object.FdtFile{})
				}
			}
			if ci := ls.SrcFlow.ContentInfo; ci != nil && ci.MediaInfo != nil {
				fl.dashRepID = ci.MediaInfo.RepID
				fl.dashPeriodID = ci.MediaInfo.PeriodID
				if ci.MediaInfo.ASID != nil {
					fl.dashASID = *ci.MediaInfo.ASID
				}
			}
		}
		if rs.DIpAddr != "" && svc.tunedMedia {
			d.openServiceSource(svc, transport.NewUDPEndpoint(nil, rs.DIpAddr, rs.DPort))
		}
	}
	d.log.Debug("S-TSID applied", "service", svc.ID, "nb_flows", len(svc.flows))
}

// registerStaticFile 登记 TOI 预关联文件，并为在途对象回填名字/大小
func (d *RouteDmx) registerStaticFile(svc *Service, fl *flow, f *object.FdtFile) {
	toi64, err := strconv.ParseUint(f.TOI, 10, 32)
	if err != nil {
		return
	}
	toi := uint32(toi64)
	fl.staticFiles[toi] = fileMeta{
		name:           f.ContentLocation,
		mime:           f.GetContentType(),
		transferLength: f.GetTransferLength(),
	}
	if obj := svc.object(fl.tsi, toi); obj != nil {
		obj.filename = f.ContentLocation
		obj.staticName = true
		if obj.mime == "" {
			obj.mime = f.GetContentType()
		}
		if tl := f.GetTransferLength(); tl != 0 {
			if err := obj.setTotalSize(uint32(tl)); err != nil {
				d.log.Debug("FDT size conflicts with reception", "err", err)
			}
		}
	}
}

// applyFDT FLUTE FDT 实例：给 TOI 命名、设总长、记 OTI
func (d *RouteDmx) applyFDT(svc *Service, tsi uint32, data []byte) {
	fdt, err := object.ParseFdtInstance(data)
	if err != nil {
		d.log.Warn("bad FDT instance", "service", svc.ID, "tsi", tsi, "err", err)
		return
	}
	fl := svc.getFlow(tsi)
	for i := range fdt.Files {
		f := &fdt.Files[i]
		d.registerStaticFile(svc, fl, f)
		if o := fdt.GetOtiForFile(f); o != nil {
			fl.oti = o
		}
	}
	d.log.Debug("FDT applied", "service", svc.ID, "tsi", tsi, "nb_files", len(fdt.Files))
}

// resolveHLS 判定 master/variant；master 记录 variant URI 供
// MarkActiveQuality 按 URL 匹配。
func (d *RouteDmx) resolveHLS(svc *Service, obj *LCTObject) bool {
	data := obj.blobView()
	if obj.totalSize != 0 && uint64(len(data)) > uint64(obj.totalSize) {
		data = data[:obj.totalSize]
	}
	return d.resolveHLSData(svc, data)
}

func (d *RouteDmx) resolveHLSData(svc *Service, data []byte) bool {
	pl, listType, err := m3u8.DecodeFrom(bytes.NewReader(data), true)
	if err != nil {
		return strings.Contains(string(data), "#EXT-X-STREAM-INF")
	}
	if listType != m3u8.MASTER {
		return false
	}
	master := pl.(*m3u8.MasterPlaylist)
	for _, v := range master.Variants {
		if v != nil {
			svc.variantURIs[v.URI] = true
		}
	}
	return true
}

// decompressBuffer CENC 内容解码（FDT/信令可能被压缩传输）
func decompressBuffer(data []byte, cenc lct.Cenc) ([]byte, error) {
	switch cenc {
	case lct.CencNull:
		return data, nil
	case lct.CencGzip:
		return gunzip(data)
	case lct.CencZlib:
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case lct.CencDeflate:
		r := flate.NewReader(bytes.NewReader(data))
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("unsupported content encoding %d", cenc)
	}
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
