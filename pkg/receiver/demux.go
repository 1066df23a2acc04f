package receiver

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"Route_go/pkg/lct"
	"Route_go/pkg/object"
	"Route_go/pkg/oti"
	"Route_go/pkg/profile"
	"Route_go/pkg/transport"
)

// ATSC 3.0 bootstrap 会话 (A/331)
const (
	ATSCBootstrapAddress = "224.0.23.60"
	ATSCBootstrapPort    = 4937
)

// TuneIn 的服务号哨兵
const (
	// TuneServiceNone 不收任何媒体，只收信令
	TuneServiceNone uint32 = 0
	// TuneServiceAll 收取所有服务
	TuneServiceAll uint32 = 0xFFFFFFFF
	// TuneServiceFirst 收取发现的第一个服务
	TuneServiceFirst uint32 = 0xFFFFFFFE
)

const (
	defaultSockBufferSize = 0x2000
	defaultTimeoutUs      = 1000
	maxDatagramSize       = 65536
)

// Options 引擎可选配置
type Options struct {
	// Ifce 组播加组使用的网卡名，空则由内核选择
	Ifce string
	// SockBufferSize socket 接收缓冲，0 使用缺省 0x2000
	SockBufferSize int
	// Logger 为空时使用 NullLogger
	Logger hclog.Logger
	// CaptureFile 回放录制文件而不打开真实 socket
	CaptureFile string
	// Source 直接注入数据报来源（测试 / 自定义捕获），
	// 设置后不打开真实 socket
	Source transport.DatagramSource
}

type dmxStats struct {
	firstPktUs uint64
	lastPktUs  uint64
	nbPkts     uint64
	nbBytes    uint64
	nbDropped  uint64
}

// RouteDmx ROUTE/FLUTE 接收引擎。单线程 run-to-completion，
// 所有方法须在同一 goroutine 串行调用（含 Patch*）。
type RouteDmx struct {
	log     hclog.Logger
	prof    profile.Profile
	handler EventHandler
	opts    Options

	// bootstrap ATSC LLS 会话，非 ATSC 模式为 nil
	bootstrap transport.DatagramSource

	services     map[uint32]*Service
	serviceOrder []uint32

	dispatchMode DispatchMode

	// ignoreOrder true（缺省）按 timeoutUs 容忍乱序；
	// false 时同 TSI 出现新 TOI 即强制结束前一对象
	ignoreOrder bool
	timeoutUs   uint32

	tunedService   uint32
	tuneAll        bool
	tuneFirst      bool
	tuneOthers     bool
	tunedFirstDone bool

	sltVersion     uint8
	sltVersionSeen bool

	debugTSI    uint32
	debugTSISet bool

	stats dmxStats

	start time.Time
	now   func() time.Time

	buf []byte
}

func newDmx(prof profile.Profile, handler EventHandler, opts *Options) (*RouteDmx, error) {
	if handler == nil {
		return nil, fmt.Errorf("%w: nil event handler", ErrBadParam)
	}
	o := Options{}
	if opts != nil {
		o = *opts
	}
	if o.SockBufferSize == 0 {
		o.SockBufferSize = defaultSockBufferSize
	}
	log := o.Logger
	if log == nil {
		log = hclog.NewNullLogger()
	}
	d := &RouteDmx{
		log:          log.Named("routedmx"),
		prof:         prof,
		handler:      handler,
		opts:         o,
		services:     make(map[uint32]*Service),
		dispatchMode: DispatchFull,
		ignoreOrder:  true,
		timeoutUs:    defaultTimeoutUs,
		now:          time.Now,
		buf:          make([]byte, maxDatagramSize),
	}
	d.start = d.now()
	return d, nil
}

// openSource 打开一路会话来源，尊重注入与回放配置
func (d *RouteDmx) openSource(ep transport.UDPEndpoint) (transport.DatagramSource, error) {
	if d.opts.Source != nil {
		return d.opts.Source, nil
	}
	if d.opts.CaptureFile != "" {
		return transport.OpenFileSource(ep, d.opts.CaptureFile)
	}
	return transport.OpenUDPSource(ep, d.opts.Ifce, d.opts.SockBufferSize)
}

// NewATSCDmx 监听 ATSC 3.0 bootstrap 会话做服务发现。
// 初始不收任何媒体，由 TuneIn 选择服务。
func NewATSCDmx(handler EventHandler, opts *Options) (*RouteDmx, error) {
	d, err := newDmx(profile.RouteATSC, handler, opts)
	if err != nil {
		return nil, err
	}
	src, err := d.openSource(transport.NewUDPEndpoint(nil, ATSCBootstrapAddress, ATSCBootstrapPort))
	if err != nil {
		return nil, fmt.Errorf("open bootstrap session: %w", err)
	}
	d.bootstrap = src
	return d, nil
}

// NewRouteDmx 直连一个已知的 ROUTE 会话，服务号固定为 1
func NewRouteDmx(ip string, port uint16, handler EventHandler, opts *Options) (*RouteDmx, error) {
	d, err := newDmx(profile.RouteATSC, handler, opts)
	if err != nil {
		return nil, err
	}
	if err := d.addDirectService(ip, port); err != nil {
		return nil, err
	}
	return d, nil
}

// NewDVBFluteDmx 直连一个 DVB-MABR FLUTE 会话，服务号固定为 1
func NewDVBFluteDmx(ip string, port uint16, handler EventHandler, opts *Options) (*RouteDmx, error) {
	d, err := newDmx(profile.DVBFlute, handler, opts)
	if err != nil {
		return nil, err
	}
	if err := d.addDirectService(ip, port); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *RouteDmx) addDirectService(ip string, port uint16) error {
	ep := transport.NewUDPEndpoint(nil, ip, port)
	src, err := d.openSource(ep)
	if err != nil {
		return fmt.Errorf("open session %s: %w", ep.DestAddr(), err)
	}
	svc := newService(1)
	svc.endpoints = append(svc.endpoints, ep)
	svc.sources = append(svc.sources, src)
	d.services[1] = svc
	d.serviceOrder = append(d.serviceOrder, 1)
	d.tunedService = 1
	d.emit(EventServiceFound, 1, nil, nil)
	return nil
}

// openServiceSource 记录端点并在需要时打开 socket；
// 回放/注入模式下端点只登记不开 socket。
func (d *RouteDmx) openServiceSource(svc *Service, ep transport.UDPEndpoint) {
	for _, known := range svc.endpoints {
		if known.DestAddr() == ep.DestAddr() {
			return
		}
	}
	svc.endpoints = append(svc.endpoints, ep)
	if d.opts.Source != nil || d.opts.CaptureFile != "" {
		return
	}
	src, err := transport.OpenUDPSource(ep, d.opts.Ifce, d.opts.SockBufferSize)
	if err != nil {
		d.log.Warn("cannot open session", "service", svc.ID, "dst", ep.DestAddr(), "err", err)
		return
	}
	svc.sources = append(svc.sources, src)
	d.log.Debug("session opened", "service", svc.ID, "dst", ep.DestAddr())
}

// Process 排空所有会话上排队的数据报并逐包处理。
// 没有任何数据可读时返回 ErrNetworkEmpty，调用方应转去 CheckTimeouts。
// 网络层的真实错误（socket 已关、回放文件损坏）在排空其余会话后
// 原样上抛，是否继续由调用方决定。
func (d *RouteDmx) Process() error {
	processed := false
	var netErr error
	for {
		got := false

		if d.bootstrap != nil {
			n, err := d.bootstrap.Receive(d.buf)
			switch {
			case err == nil && n > 0:
				d.handleLLS(append([]byte(nil), d.buf[:n]...))
				got = true
			case err != nil && !errors.Is(err, transport.ErrEmpty):
				if netErr == nil {
					netErr = fmt.Errorf("bootstrap receive: %w", err)
				}
			}
		}

		for _, id := range d.serviceOrder {
			svc := d.services[id]
			if svc == nil {
				continue
			}
			for _, src := range svc.sources {
				n, err := src.Receive(d.buf)
				if err != nil {
					if !errors.Is(err, transport.ErrEmpty) && netErr == nil {
						netErr = fmt.Errorf("service %d receive: %w", svc.ID, err)
					}
					continue
				}
				if n == 0 {
					continue
				}
				d.processDatagram(svc, d.buf[:n])
				got = true
			}
		}

		if !got {
			break
		}
		processed = true
	}
	if netErr != nil {
		return netErr
	}
	if !processed {
		return ErrNetworkEmpty
	}
	return nil
}

// processDatagram 解码一个 LCT 包并推进对象状态。
// 坏包静默丢弃并计数，永不向上抛错。
func (d *RouteDmx) processDatagram(svc *Service, data []byte) {
	nowT := d.now()
	us := uint64(nowT.Sub(d.start).Microseconds())
	if d.stats.nbPkts == 0 {
		d.stats.firstPktUs = us
	}
	d.stats.lastPktUs = us
	d.stats.nbPkts++
	d.stats.nbBytes += uint64(len(data))

	hdr, err := lct.ParseHeader(data)
	if err != nil {
		d.log.Debug("drop packet", "err", err)
		d.stats.nbDropped++
		return
	}
	exts, err := lct.ParseExtensions(data, hdr)
	if err != nil {
		d.log.Debug("drop packet", "err", err)
		d.stats.nbDropped++
		return
	}

	tsi := uint32(hdr.Tsi)
	toi := hdr.Toi.ToUint32()

	if d.debugTSISet && tsi != d.debugTSI && tsi != 0 {
		return
	}
	if hdr.CloseSession {
		d.log.Debug("session close flagged", "service", svc.ID, "tsi", tsi)
	}

	signaling := d.isSignaling(tsi, toi)
	if !signaling && !svc.tunedMedia {
		return
	}

	fl := svc.getFlow(tsi)
	if !signaling && !fl.selected {
		return
	}

	// 聚合扩展头
	var fti *lct.FtiInfo
	var fdt *lct.FdtInfo
	var tol *uint64
	cenc := lct.CencNull
	for i := range exts {
		switch {
		case exts[i].Fti != nil:
			fti = exts[i].Fti
		case exts[i].Fdt != nil:
			fdt = exts[i].Fdt
		case exts[i].Cenc != nil:
			cenc = *exts[i].Cenc
		case exts[i].TransferLength != nil:
			tol = exts[i].TransferLength
		}
	}

	// 排序策略：同 TSI 的 TOI 变化可能结束前一对象
	if fl.hasCurrent && fl.currentTOI != toi {
		if !d.ignoreOrder || d.timeoutUs == 0 {
			if prev := svc.object(tsi, fl.currentTOI); prev != nil && prev.status == StatusReceiving {
				d.finalizeObject(svc, prev)
			}
		}
	}
	fl.currentTOI = toi
	fl.hasCurrent = true

	obj := svc.object(tsi, toi)
	if obj == nil {
		obj = d.newObject(svc, fl, tsi, toi, nowT)
		svc.addObject(obj)
	}
	if cenc != lct.CencNull {
		obj.cenc = cenc
	}

	// FLUTE FDT 实例轮换：新实例号重开对象
	if fdt != nil {
		if obj.hasFdtID && obj.fdtInstanceID != fdt.FdtInstanceID && obj.status != StatusReceiving {
			svc.removeObject(obj)
			obj = d.newObject(svc, fl, tsi, toi, nowT)
			svc.addObject(obj)
		}
		obj.fdtInstanceID = fdt.FdtInstanceID
		obj.hasFdtID = true
	}

	// 传输参数：FTI 或 TOL 声明对象总长。
	// 线上字段宽 48 位，超出 32 位对象上限的声明按非法包丢弃，不能截断。
	if fti != nil {
		if fti.EncodingSymbolLength != 0 {
			fl.oti = otiFromFti(hdr.Cp, fti)
		}
		if fti.TransferLength > 0xFFFFFFFF {
			d.log.Debug("drop packet", "err", "transfer length exceeds object limit", "len", fti.TransferLength)
			d.stats.nbDropped++
			return
		}
		if err := obj.setTotalSize(uint32(fti.TransferLength)); err != nil {
			d.log.Debug("drop packet", "err", err)
			d.stats.nbDropped++
			return
		}
	}
	if tol != nil {
		if *tol > 0xFFFFFFFF {
			d.log.Debug("drop packet", "err", "transfer length exceeds object limit", "len", *tol)
			d.stats.nbDropped++
			return
		}
		if err := obj.setTotalSize(uint32(*tol)); err != nil {
			d.log.Debug("drop packet", "err", err)
			d.stats.nbDropped++
			return
		}
	}

	// FEC payload id → 对象内字节偏移
	off, payload, perr := d.payloadOffset(fl, obj, data, hdr)
	if perr != nil {
		d.log.Debug("drop packet", "err", perr)
		d.stats.nbDropped++
		return
	}

	if obj.status != StatusReceiving {
		d.handleLateData(svc, obj, off, payload, nowT)
		return
	}

	grew, err := obj.pushFragment(off, payload, nowT)
	if err != nil {
		d.log.Debug("drop packet", "err", err)
		d.stats.nbDropped++
		return
	}

	if hdr.CloseObject && obj.totalSize == 0 {
		// 无 FTI/TOL 的对象以 close 标志收尾：覆盖无洞即为总长
		if p := obj.frags.ContiguousPrefix(); p != 0 && uint64(p) == obj.frags.MaxEnd() {
			_ = obj.setTotalSize(p)
		}
	}
	if hdr.CloseObject || obj.isFullyCovered() {
		d.finalizeObject(svc, obj)
		return
	}
	if !signaling {
		d.dispatchFragment(svc, fl, obj, grew)
	}
}

// isSignaling ROUTE 信令走 TSI=0，FLUTE FDT 走 TOI=0
func (d *RouteDmx) isSignaling(tsi, toi uint32) bool {
	if d.prof == profile.RouteATSC {
		return tsi == 0
	}
	return toi == 0
}

func (d *RouteDmx) newObject(svc *Service, fl *flow, tsi, toi uint32, now time.Time) *LCTObject {
	obj := &LCTObject{
		TSI:          tsi,
		TOI:          toi,
		status:       StatusReceiving,
		dispatchMode: d.dispatchMode,
		startTime:    now,
		lastActivity: now,
		dashPeriodID: fl.dashPeriodID,
		dashASID:     fl.dashASID,
		dashRepID:    fl.dashRepID,
	}
	if meta, ok := fl.staticFiles[toi]; ok {
		obj.filename = meta.name
		obj.mime = meta.mime
		obj.staticName = true
		if meta.transferLength != 0 {
			_ = obj.setTotalSize(uint32(meta.transferLength))
		}
	} else if fl.fileTemplate != "" {
		obj.filename = strings.ReplaceAll(fl.fileTemplate, "$TOI$", strconv.FormatUint(uint64(toi), 10))
		obj.mime = guessMime(obj.filename)
	}
	return obj
}

// payloadOffset 解析 FEC payload id 并换算字节偏移
func (d *RouteDmx) payloadOffset(fl *flow, obj *LCTObject, data []byte, hdr *lct.Header) (uint32, []byte, error) {
	hdrEnd := int(hdr.Len)
	if d.prof == profile.RouteATSC {
		pid, next, err := object.ParseRoutePayloadID(data, hdrEnd)
		if err != nil {
			return 0, nil, err
		}
		return pid.StartOffset, data[next:], nil
	}

	pid, next, err := object.ParseFlutePayloadID(data, hdrEnd)
	if err != nil {
		return 0, nil, err
	}
	if pid.Sbn == 0 && fl.oti == nil {
		// 单块顺序传输的兜底：无 OTI 时 ESI 直接乘符号长不可行，
		// 只有 ESI=0 的整对象包可以处理
		if pid.Esi == 0 {
			return 0, data[next:], nil
		}
		return 0, nil, fmt.Errorf("%w: FLUTE payload without OTI", ErrNonCompliant)
	}
	tl := uint64(obj.totalSize)
	byteOff, err := pid.ByteOffset(fl.oti, tl)
	if err != nil {
		return 0, nil, err
	}
	return uint32(byteOff), data[next:], nil
}

// handleLateData 已结束对象的迟到分片：仅在扩展覆盖时接受并上报
func (d *RouteDmx) handleLateData(svc *Service, obj *LCTObject, off uint32, payload []byte, now time.Time) {
	if len(payload) == 0 || obj.frags.Contains(off, uint32(len(payload))) {
		return
	}
	grew, err := obj.pushFragment(off, payload, now)
	if err != nil || !grew {
		d.stats.nbDropped++
		return
	}
	if obj.status == StatusTimedOut && obj.isFullyCovered() {
		obj.status = StatusComplete
	}
	fi := d.buildFileInfo(obj, PartialAny)
	fi.LateFragmentOffset = off
	d.emit(EventLateData, svc.ID, obj, fi)
}

// finalizeObject 结束接收并做最终派发或信令处理
func (d *RouteDmx) finalizeObject(svc *Service, obj *LCTObject) {
	obj.finalize()
	if d.isSignaling(obj.TSI, obj.TOI) {
		if obj.status != StatusComplete {
			d.log.Debug("incomplete signaling object dropped", "service", svc.ID,
				"tsi", obj.TSI, "toi", obj.TOI, "covered", obj.frags.Covered())
			return
		}
		if d.prof == profile.RouteATSC {
			d.handleSignalingObject(svc, obj)
		} else {
			d.handleFluteFdt(svc, obj)
		}
		return
	}
	d.dispatchFinal(svc, obj)
}

// handleFluteFdt FLUTE TOI=0 对象即 FDT 实例
func (d *RouteDmx) handleFluteFdt(svc *Service, obj *LCTObject) {
	data := obj.blobView()
	if obj.totalSize != 0 && uint64(len(data)) > uint64(obj.totalSize) {
		data = data[:obj.totalSize]
	}
	if obj.cenc != lct.CencNull {
		dec, err := decompressBuffer(data, obj.cenc)
		if err != nil {
			d.log.Warn("FDT decode failed", "service", svc.ID, "cenc", obj.cenc, "err", err)
			return
		}
		data = dec
	}
	d.applyFDT(svc, obj.TSI, data)
}

// otiFromFti 由 EXT_FTI 组装流级 OTI（codepoint 给出编码号）
func otiFromFti(cp uint8, fti *lct.FtiInfo) *oti.Oti {
	id, err := oti.FECEncodingIDFromByte(cp)
	if err != nil {
		id = oti.NoCode
	}
	var parity uint32
	if fti.MaxNumberOfSymbols > fti.MaximumSourceBlockLength {
		parity = fti.MaxNumberOfSymbols - fti.MaximumSourceBlockLength
	}
	return &oti.Oti{
		FecEncodingID:            id,
		MaximumSourceBlockLength: fti.MaximumSourceBlockLength,
		EncodingSymbolLength:     fti.EncodingSymbolLength,
		MaxNumberOfParitySymbols: parity,
		InBandFti:                true,
	}
}

// CheckTimeouts 空闲驱动的超时回收。由调用方在 Process 返回
// ErrNetworkEmpty 后调用。
func (d *RouteDmx) CheckTimeouts() {
	if !d.ignoreOrder {
		return // 有序流靠 TOI 变化结束对象，无定时器
	}
	nowT := d.now()
	window := time.Duration(d.timeoutUs) * time.Microsecond
	for _, id := range d.serviceOrder {
		svc := d.services[id]
		if svc == nil {
			continue
		}
		// finalizeObject 不改 objects 切片，可安全遍历
		for _, obj := range svc.objects {
			if obj.status != StatusReceiving {
				continue
			}
			if d.timeoutUs == 0 {
				fl := svc.flows[obj.TSI]
				if fl != nil && fl.hasCurrent && fl.currentTOI != obj.TOI {
					d.finalizeObject(svc, obj)
				}
				continue
			}
			if nowT.Sub(obj.lastActivity) >= window {
				d.log.Debug("object timed out", "service", svc.ID, "tsi", obj.TSI,
					"toi", obj.TOI, "covered", obj.frags.Covered(), "total", obj.totalSize)
				d.finalizeObject(svc, obj)
			}
		}
	}
}

// SetReorder 配置乱序策略。ignoreOrder=false 时严格按 TOI 顺序，
// timeoutUs 为乱序容忍窗口（0 = 任何乱序立即结束前一对象）。
func (d *RouteDmx) SetReorder(ignoreOrder bool, timeoutUs uint32) {
	d.ignoreOrder = ignoreOrder
	d.timeoutUs = timeoutUs
}

// SetDispatchMode 切换派发模式，只影响之后新建的对象
func (d *RouteDmx) SetDispatchMode(mode DispatchMode) {
	d.dispatchMode = mode
}

// TuneIn 选择收取媒体的服务。serviceID 支持哨兵：
// TuneServiceNone / TuneServiceAll / TuneServiceFirst。
// tuneOthers 为 true 时其余服务仍打开会话（只收信令）。
func (d *RouteDmx) TuneIn(serviceID uint32, tuneOthers bool) {
	d.tuneOthers = tuneOthers
	d.tuneAll = serviceID == TuneServiceAll
	d.tuneFirst = serviceID == TuneServiceFirst
	d.tunedFirstDone = false
	if !d.tuneAll && !d.tuneFirst {
		d.tunedService = serviceID
	}
	if d.tuneFirst && len(d.serviceOrder) > 0 {
		d.tunedService = d.serviceOrder[0]
		d.tunedFirstDone = true
	}
	for _, id := range d.serviceOrder {
		svc := d.services[id]
		svc.tunedMedia = d.serviceTuned(id)
		if svc.tunedMedia || d.tuneOthers {
			for _, ep := range svc.endpoints {
				d.ensureSourceOpen(svc, ep)
			}
		}
	}
}

func (d *RouteDmx) ensureSourceOpen(svc *Service, ep transport.UDPEndpoint) {
	if d.opts.Source != nil || d.opts.CaptureFile != "" {
		return
	}
	for _, src := range svc.sources {
		if src.Endpoint().DestAddr() == ep.DestAddr() {
			return
		}
	}
	src, err := transport.OpenUDPSource(ep, d.opts.Ifce, d.opts.SockBufferSize)
	if err != nil {
		d.log.Warn("cannot open session", "service", svc.ID, "dst", ep.DestAddr(), "err", err)
		return
	}
	svc.sources = append(svc.sources, src)
}

// HasActiveMulticast 是否还有打开的会话来源
func (d *RouteDmx) HasActiveMulticast() bool {
	if d.bootstrap != nil {
		return true
	}
	for _, svc := range d.services {
		if len(svc.sources) > 0 {
			return true
		}
	}
	return false
}

// FindService 服务是否已被发现
func (d *RouteDmx) FindService(serviceID uint32) bool {
	_, ok := d.services[serviceID]
	return ok
}

// GetObjectCount 服务当前缓存的对象数
func (d *RouteDmx) GetObjectCount(serviceID uint32) (int, error) {
	svc := d.services[serviceID]
	if svc == nil {
		return 0, fmt.Errorf("%w: service %d", ErrNotFound, serviceID)
	}
	return len(svc.objects), nil
}

// RemoveObjectByName 按文件名移除对象。purgePrevious 时同 TSI 上
// 更早的 TOI 一并移除并逐个上报 FileDelete（force-keep 与下载中除外）。
func (d *RouteDmx) RemoveObjectByName(serviceID uint32, name string, purgePrevious bool) error {
	svc := d.services[serviceID]
	if svc == nil {
		return fmt.Errorf("%w: service %d", ErrNotFound, serviceID)
	}
	obj := svc.objectByName(name)
	if obj == nil {
		return fmt.Errorf("%w: object %q", ErrNotFound, name)
	}
	if purgePrevious {
		for _, o := range svc.olderSiblings(obj.TSI, obj.TOI) {
			if o.forceKeep || o.status == StatusReceiving {
				continue
			}
			svc.removeObject(o)
			if !o.staticName {
				fi := d.buildFileInfo(o, PartialNone)
				d.emit(EventFileDelete, serviceID, o, fi)
			}
		}
	}
	svc.removeObject(obj)
	return nil
}

// ForceKeepObjectByName 标记对象不被 purge / 级联删除
func (d *RouteDmx) ForceKeepObjectByName(serviceID uint32, name string) error {
	svc := d.services[serviceID]
	if svc == nil {
		return fmt.Errorf("%w: service %d", ErrNotFound, serviceID)
	}
	obj := svc.objectByName(name)
	if obj == nil {
		return fmt.Errorf("%w: object %q", ErrNotFound, name)
	}
	obj.forceKeep = true
	return nil
}

// ForceKeepObject 按 (TSI, TOI) 设置或清除 force-keep
func (d *RouteDmx) ForceKeepObject(serviceID, tsi, toi uint32, keep bool) error {
	svc := d.services[serviceID]
	if svc == nil {
		return fmt.Errorf("%w: service %d", ErrNotFound, serviceID)
	}
	obj := svc.object(tsi, toi)
	if obj == nil {
		return fmt.Errorf("%w: object tsi=%d toi=%d", ErrNotFound, tsi, toi)
	}
	obj.forceKeep = keep
	return nil
}

// RemoveFirstObject 移除服务最早的媒体对象，腾出缓存。
// 最早对象仍在下载中时拒绝并返回 ErrInDownload。
func (d *RouteDmx) RemoveFirstObject(serviceID uint32) (bool, error) {
	svc := d.services[serviceID]
	if svc == nil {
		return false, fmt.Errorf("%w: service %d", ErrNotFound, serviceID)
	}
	for _, obj := range svc.objects {
		if obj.TSI == 0 || obj.forceKeep {
			continue
		}
		if obj.status == StatusReceiving {
			return false, fmt.Errorf("%w: tsi=%d toi=%d", ErrInDownload, obj.TSI, obj.TOI)
		}
		svc.removeObject(obj)
		return true, nil
	}
	return false, nil
}

// PurgeObjects 清空服务缓存：TSI!=0、非下载中、非 force-keep 的对象
func (d *RouteDmx) PurgeObjects(serviceID uint32) error {
	svc := d.services[serviceID]
	if svc == nil {
		return fmt.Errorf("%w: service %d", ErrNotFound, serviceID)
	}
	for _, obj := range svc.purgeCandidates() {
		svc.removeObject(obj)
	}
	return nil
}

// ResetAll 丢弃所有在缓对象与统计，保留服务与会话
func (d *RouteDmx) ResetAll() {
	for _, svc := range d.services {
		for _, obj := range svc.objects {
			obj.status = StatusDeleted
		}
		svc.objects = nil
		svc.byKey = make(map[objKey]*LCTObject)
		for _, fl := range svc.flows {
			fl.hasCurrent = false
			fl.firstSegDone = false
		}
	}
	d.stats = dmxStats{}
}

// FirstPacketTime 首包时刻（微秒，相对引擎创建）
func (d *RouteDmx) FirstPacketTime() uint64 { return d.stats.firstPktUs }

// LastPacketTime 最近一包时刻（微秒，相对引擎创建）
func (d *RouteDmx) LastPacketTime() uint64 { return d.stats.lastPktUs }

// NbPackets 已处理的数据报总数（含丢弃）
func (d *RouteDmx) NbPackets() uint64 { return d.stats.nbPkts }

// RecvBytes 已接收的字节总数
func (d *RouteDmx) RecvBytes() uint64 { return d.stats.nbBytes }

// NbDropped 解码失败或越界被丢弃的包数
func (d *RouteDmx) NbDropped() uint64 { return d.stats.nbDropped }

// DebugTSI 只处理指定 TSI（信令 TSI=0 始终放行），0 取消过滤
func (d *RouteDmx) DebugTSI(tsi uint32) {
	d.debugTSI = tsi
	d.debugTSISet = tsi != 0
}

// SetServiceUdta 关联调用方数据到服务
func (d *RouteDmx) SetServiceUdta(serviceID uint32, udta any) error {
	svc := d.services[serviceID]
	if svc == nil {
		return fmt.Errorf("%w: service %d", ErrNotFound, serviceID)
	}
	svc.udta = udta
	return nil
}

// ServiceUdta 取回 SetServiceUdta 关联的数据
func (d *RouteDmx) ServiceUdta(serviceID uint32) any {
	svc := d.services[serviceID]
	if svc == nil {
		return nil
	}
	return svc.udta
}

// PatchFragInfo 外部修复流程把 [brStart, brEnd) 标记为已接收。
// 修复数据须已写入该对象共享的 Blob；须与 Process 串行调用。
// 补齐覆盖会触发对象的最终派发。
func (d *RouteDmx) PatchFragInfo(serviceID, tsi, toi, brStart, brEnd uint32) error {
	svc := d.services[serviceID]
	if svc == nil {
		return fmt.Errorf("%w: service %d", ErrNotFound, serviceID)
	}
	obj := svc.object(tsi, toi)
	if obj == nil {
		return fmt.Errorf("%w: object tsi=%d toi=%d", ErrNotFound, tsi, toi)
	}
	if brEnd <= brStart {
		return fmt.Errorf("%w: empty patch range [%d,%d)", ErrBadParam, brStart, brEnd)
	}
	if obj.totalSize != 0 && brEnd > obj.totalSize {
		return fmt.Errorf("%w: patch end %d exceeds total size %d", ErrBadParam, brEnd, obj.totalSize)
	}
	if uint64(brEnd) > uint64(len(obj.buffer)) {
		grown := make([]byte, brEnd)
		copy(grown, obj.buffer)
		obj.buffer = grown
	}
	obj.frags.Insert(brStart, brEnd-brStart)
	obj.lastActivity = d.now()
	if obj.status == StatusReceiving && obj.isFullyCovered() {
		d.finalizeObject(svc, obj)
	}
	return nil
}

// PatchBlobSize 外部修复流程声明对象总长（信令缺失时）。
// 声明后覆盖恰好完整会触发最终派发。
func (d *RouteDmx) PatchBlobSize(serviceID, tsi, toi, size uint32) error {
	svc := d.services[serviceID]
	if svc == nil {
		return fmt.Errorf("%w: service %d", ErrNotFound, serviceID)
	}
	obj := svc.object(tsi, toi)
	if obj == nil {
		return fmt.Errorf("%w: object tsi=%d toi=%d", ErrNotFound, tsi, toi)
	}
	if err := obj.setTotalSize(size); err != nil {
		return err
	}
	if obj.status == StatusReceiving && obj.isFullyCovered() {
		d.finalizeObject(svc, obj)
	}
	return nil
}

// MarkActiveQuality 选择或退选一路质量（ABR）。
// repID 匹配 S-TSID 的 MediaInfo，或 HLS master 中的 variant URI。
func (d *RouteDmx) MarkActiveQuality(serviceID uint32, periodID string, asID int32, repID string, selected bool) error {
	svc := d.services[serviceID]
	if svc == nil {
		return fmt.Errorf("%w: service %d", ErrNotFound, serviceID)
	}
	matched := false
	for _, fl := range svc.flows {
		if fl.tsi == 0 {
			continue
		}
		if flowMatchesQuality(fl, periodID, asID, repID) {
			fl.selected = selected
			matched = true
		}
	}
	if !matched && svc.variantURIs[repID] {
		dir := pathDir(repID)
		for _, fl := range svc.flows {
			if fl.tsi != 0 && fl.fileTemplate != "" && pathDir(fl.fileTemplate) == dir {
				fl.selected = selected
				matched = true
			}
		}
	}
	if !matched {
		return fmt.Errorf("%w: quality %q", ErrNotFound, repID)
	}
	return nil
}

func flowMatchesQuality(fl *flow, periodID string, asID int32, repID string) bool {
	if repID != "" && fl.dashRepID != repID {
		return false
	}
	if periodID != "" && fl.dashPeriodID != periodID {
		return false
	}
	if asID >= 0 && fl.dashASID >= 0 && fl.dashASID != asID {
		return false
	}
	return repID != "" || periodID != "" || asID >= 0
}

func pathDir(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return ""
}

// Close 关闭全部会话来源
func (d *RouteDmx) Close() error {
	if d.bootstrap != nil {
		_ = d.bootstrap.Close()
		d.bootstrap = nil
	}
	for _, svc := range d.services {
		svc.closeSources()
	}
	return nil
}
