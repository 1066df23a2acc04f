package receiver

import (
	"bytes"
	"compress/gzip"
	"errors"
	"testing"
	"time"

	"Route_go/pkg/lct"
	"Route_go/pkg/object"
	"Route_go/pkg/transport"
	t128 "Route_go/pkg/type"
)

// memSource 内存数据报队列，测试里代替 socket
type memSource struct {
	pkts [][]byte
	ep   transport.UDPEndpoint
}

func (m *memSource) Receive(buf []byte) (int, error) {
	if len(m.pkts) == 0 {
		return 0, transport.ErrEmpty
	}
	p := m.pkts[0]
	m.pkts = m.pkts[1:]
	copy(buf, p)
	return len(p), nil
}

func (m *memSource) Close() error                    { return nil }
func (m *memSource) Endpoint() transport.UDPEndpoint { return m.ep }

func (m *memSource) push(pkts ...[]byte) { m.pkts = append(m.pkts, pkts...) }

// routePacket 合成一个 ROUTE 数据包
func routePacket(tsi, toi uint32, total uint64, closeObj bool, off uint32, payload []byte) []byte {
	var buf []byte
	lct.PushHeader(&buf, 0, t128.Uint128{}, uint64(tsi), t128.FromUint64(uint64(toi)), 0, closeObj, false)
	if total > 0 {
		lct.PushTol48(&buf, total)
	}
	object.PushRoutePayloadID(&buf, off)
	return append(buf, payload...)
}

// flutePacket 合成一个 FLUTE 数据包（compact no-code payload id）
func flutePacket(tsi, toi uint32, closeObj bool, sbn, esi uint16, payload []byte) []byte {
	var buf []byte
	lct.PushHeader(&buf, 0, t128.Uint128{}, uint64(tsi), t128.FromUint64(uint64(toi)), 0, closeObj, false)
	object.PushFlutePayloadID(&buf, sbn, esi)
	return append(buf, payload...)
}

func newTestDmx(t *testing.T) (*RouteDmx, *memSource, *[]*Event) {
	t.Helper()
	src := &memSource{ep: transport.NewUDPEndpoint(nil, "239.0.0.1", 3000)}
	var events []*Event
	d, err := NewRouteDmx("239.0.0.1", 3000, func(e *Event) { events = append(events, e) }, &Options{Source: src})
	if err != nil {
		t.Fatalf("NewRouteDmx failed: %v", err)
	}
	return d, src, &events
}

func eventsOfType(events []*Event, et EventType) []*Event {
	var out []*Event
	for _, e := range events {
		if e.Type == et {
			out = append(out, e)
		}
	}
	return out
}

func fillSeq(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func TestProcessEmpty(t *testing.T) {
	d, _, _ := newTestDmx(t)
	if err := d.Process(); !errors.Is(err, ErrNetworkEmpty) {
		t.Fatalf("expected ErrNetworkEmpty, got %v", err)
	}
}

// failSource 先交出排队的数据报，之后每次读都报网络错误
type failSource struct {
	pkts [][]byte
	err  error
	ep   transport.UDPEndpoint
}

func (f *failSource) Receive(buf []byte) (int, error) {
	if len(f.pkts) > 0 {
		p := f.pkts[0]
		f.pkts = f.pkts[1:]
		copy(buf, p)
		return len(p), nil
	}
	return 0, f.err
}

func (f *failSource) Close() error                    { return nil }
func (f *failSource) Endpoint() transport.UDPEndpoint { return f.ep }

func TestProcessSurfacesReceiveError(t *testing.T) {
	srcErr := errors.New("read udp 0.0.0.0:3000: connection refused")
	src := &failSource{err: srcErr, ep: transport.NewUDPEndpoint(nil, "239.0.0.1", 3000)}
	d, err := NewRouteDmx("239.0.0.1", 3000, func(e *Event) {}, &Options{Source: src})
	if err != nil {
		t.Fatalf("NewRouteDmx failed: %v", err)
	}
	if err := d.Process(); !errors.Is(err, srcErr) {
		t.Fatalf("expected source error to surface, got %v", err)
	}
}

func TestProcessDrainsBeforeErroring(t *testing.T) {
	srcErr := errors.New("read udp 0.0.0.0:3000: connection refused")
	src := &failSource{err: srcErr, ep: transport.NewUDPEndpoint(nil, "239.0.0.1", 3000)}
	var events []*Event
	d, err := NewRouteDmx("239.0.0.1", 3000, func(e *Event) { events = append(events, e) }, &Options{Source: src})
	if err != nil {
		t.Fatalf("NewRouteDmx failed: %v", err)
	}

	data := fillSeq(100)
	src.pkts = append(src.pkts, routePacket(3, 7, 100, true, 0, data))

	if err := d.Process(); !errors.Is(err, srcErr) {
		t.Fatalf("expected source error to surface, got %v", err)
	}
	segs := eventsOfType(events, EventDynSeg)
	if len(segs) != 1 {
		t.Fatalf("expected queued datagram to be processed before the error, got %d DynSeg events", len(segs))
	}
}

func TestFullDispatchComplete(t *testing.T) {
	d, src, events := newTestDmx(t)

	data := fillSeq(150)
	src.push(
		routePacket(3, 7, 150, false, 0, data[:100]),
		routePacket(3, 7, 150, false, 100, data[100:]),
	)
	if err := d.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	segs := eventsOfType(*events, EventDynSeg)
	if len(segs) != 1 {
		t.Fatalf("expected 1 DynSeg event, got %d", len(segs))
	}
	fi := segs[0].File
	if fi.TSI != 3 || fi.TOI != 7 || fi.TotalSize != 150 {
		t.Errorf("bad file info: tsi=%d toi=%d total=%d", fi.TSI, fi.TOI, fi.TotalSize)
	}
	if fi.Partial != PartialNone {
		t.Errorf("expected PartialNone, got %v", fi.Partial)
	}
	if !fi.FirstTOI {
		t.Error("first segment of the TSI must carry FirstTOI")
	}
	if len(fi.Frags) != 1 {
		t.Errorf("expected 1 merged frag, got %d", len(fi.Frags))
	}
	if !bytes.Equal(fi.Blob[:150], data) {
		t.Error("blob differs from sent payload")
	}

	// 中途无分片事件（FULL 模式）
	if n := len(eventsOfType(*events, EventDynSegFrag)); n != 0 {
		t.Errorf("FULL mode must not emit fragment events, got %d", n)
	}
}

func TestProgressiveDispatch(t *testing.T) {
	d, src, events := newTestDmx(t)
	d.SetDispatchMode(DispatchProgressive)

	data := fillSeq(150)
	src.push(
		routePacket(3, 7, 150, false, 0, data[:50]),
		routePacket(3, 7, 150, false, 50, data[50:100]),
		routePacket(3, 7, 150, false, 100, data[100:]),
	)
	if err := d.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	frags := eventsOfType(*events, EventDynSegFrag)
	if len(frags) != 2 {
		t.Fatalf("expected 2 prefix-growth events, got %d", len(frags))
	}
	if frags[0].File.Partial != PartialBegin || len(frags[0].File.Blob) != 50 {
		t.Errorf("first frag event: partial=%v blob=%d", frags[0].File.Partial, len(frags[0].File.Blob))
	}
	if len(frags[1].File.Blob) != 100 {
		t.Errorf("second frag event blob=%d, want 100", len(frags[1].File.Blob))
	}
	if len(eventsOfType(*events, EventDynSeg)) != 1 {
		t.Fatal("expected final DynSeg event")
	}
}

func TestProgressiveNoEventOnHole(t *testing.T) {
	d, src, events := newTestDmx(t)
	d.SetDispatchMode(DispatchProgressive)

	// 前缀不增长（洞在前面），不得有分片事件
	src.push(routePacket(3, 7, 150, false, 100, fillSeq(50)))
	if err := d.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if n := len(eventsOfType(*events, EventDynSegFrag)); n != 0 {
		t.Fatalf("expected no frag events for non-prefix data, got %d", n)
	}
}

func TestOutOfOrderDispatch(t *testing.T) {
	d, src, events := newTestDmx(t)
	d.SetDispatchMode(DispatchOutOfOrder)

	data := fillSeq(150)
	src.push(
		routePacket(3, 7, 150, false, 100, data[100:]),
		routePacket(3, 7, 150, false, 0, data[:100]),
	)
	if err := d.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	frags := eventsOfType(*events, EventDynSegFrag)
	if len(frags) != 1 {
		t.Fatalf("expected 1 fragment event, got %d", len(frags))
	}
	if frags[0].File.Partial != PartialAny {
		t.Errorf("expected PartialAny, got %v", frags[0].File.Partial)
	}
	if len(eventsOfType(*events, EventDynSeg)) != 1 {
		t.Fatal("expected final DynSeg event")
	}
}

func TestReorderDisabledSupersede(t *testing.T) {
	d, src, events := newTestDmx(t)
	d.SetReorder(false, 1000)

	src.push(
		routePacket(3, 1, 150, false, 0, fillSeq(100)), // 不完整
		routePacket(3, 2, 50, false, 0, fillSeq(50)),   // 新 TOI
	)
	if err := d.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	segs := eventsOfType(*events, EventDynSeg)
	if len(segs) != 2 {
		t.Fatalf("expected forced final for TOI 1 plus final for TOI 2, got %d", len(segs))
	}
	if segs[0].File.TOI != 1 || segs[0].File.Partial != PartialAny {
		t.Errorf("superseded object must dispatch partial: toi=%d partial=%v",
			segs[0].File.TOI, segs[0].File.Partial)
	}
	if segs[1].File.TOI != 2 || segs[1].File.Partial != PartialNone {
		t.Errorf("bad final for TOI 2: %+v", segs[1].File)
	}
}

func TestTimeoutZeroCompletesOnNewTOI(t *testing.T) {
	d, src, events := newTestDmx(t)
	d.SetReorder(true, 0)

	src.push(
		routePacket(3, 1, 150, false, 0, fillSeq(100)),
		routePacket(3, 2, 50, false, 0, fillSeq(50)),
	)
	if err := d.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	segs := eventsOfType(*events, EventDynSeg)
	if len(segs) != 2 || segs[0].File.TOI != 1 {
		t.Fatalf("timeout 0 must finish prior object on any TOI change, got %d finals", len(segs))
	}
}

func TestIdleTimeout(t *testing.T) {
	d, src, events := newTestDmx(t)
	cur := time.Now()
	d.now = func() time.Time { return cur }
	d.SetReorder(true, 1000)

	src.push(routePacket(3, 1, 150, false, 0, fillSeq(100)))
	if err := d.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if n := len(eventsOfType(*events, EventDynSeg)); n != 0 {
		t.Fatalf("object must still be receiving, got %d finals", n)
	}

	// 窗口内不超时
	cur = cur.Add(500 * time.Microsecond)
	d.CheckTimeouts()
	if n := len(eventsOfType(*events, EventDynSeg)); n != 0 {
		t.Fatal("timed out before window elapsed")
	}

	cur = cur.Add(2 * time.Millisecond)
	d.CheckTimeouts()
	segs := eventsOfType(*events, EventDynSeg)
	if len(segs) != 1 {
		t.Fatalf("expected timeout final, got %d", len(segs))
	}
	if segs[0].File.Partial != PartialAny {
		t.Errorf("timed-out object must be partial, got %v", segs[0].File.Partial)
	}
}

func TestLateDataAfterTimeout(t *testing.T) {
	d, src, events := newTestDmx(t)
	cur := time.Now()
	d.now = func() time.Time { return cur }

	src.push(routePacket(3, 1, 150, false, 0, fillSeq(100)))
	if err := d.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	cur = cur.Add(5 * time.Millisecond)
	d.CheckTimeouts()
	if len(eventsOfType(*events, EventDynSeg)) != 1 {
		t.Fatal("expected timeout final")
	}

	// 迟到的缺失分片：补洞并上报 LateData
	src.push(routePacket(3, 1, 150, false, 100, fillSeq(50)))
	if err := d.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	late := eventsOfType(*events, EventLateData)
	if len(late) != 1 {
		t.Fatalf("expected 1 LateData event, got %d", len(late))
	}
	if late[0].File.LateFragmentOffset != 100 {
		t.Errorf("expected late offset 100, got %d", late[0].File.LateFragmentOffset)
	}

	// 重传已覆盖的数据不再上报
	src.push(routePacket(3, 1, 150, false, 0, fillSeq(100)))
	_ = d.Process()
	if len(eventsOfType(*events, EventLateData)) != 1 {
		t.Fatal("duplicate data must not emit LateData")
	}
}

func TestFragmentBeyondTotalDropped(t *testing.T) {
	d, src, _ := newTestDmx(t)
	src.push(routePacket(3, 1, 150, false, 140, fillSeq(20)))
	if err := d.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if d.NbDropped() != 1 {
		t.Fatalf("fragment exceeding total size must be dropped, dropped=%d", d.NbDropped())
	}
}

func TestOversizeTransferLengthDropped(t *testing.T) {
	d, src, events := newTestDmx(t)

	// TOL 宣告超出 32 位对象上限，整包按非法丢弃，不得回绕成小值
	src.push(routePacket(3, 7, 0x1_0000_0000, false, 0, fillSeq(50)))
	if err := d.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if d.NbDropped() != 1 {
		t.Fatalf("oversize transfer length must drop the packet, dropped=%d", d.NbDropped())
	}
	if len(*events) != 0 {
		t.Fatalf("expected no events, got %d", len(*events))
	}

	// 之后同对象的合法声明仍然有效
	data := fillSeq(100)
	src.push(
		routePacket(3, 7, 100, false, 0, data[:60]),
		routePacket(3, 7, 100, true, 60, data[60:]),
	)
	if err := d.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	segs := eventsOfType(*events, EventDynSeg)
	if len(segs) != 1 {
		t.Fatalf("expected object to complete after valid declaration, got %d DynSeg events", len(segs))
	}
	if segs[0].File.TotalSize != 100 {
		t.Errorf("expected total 100, got %d", segs[0].File.TotalSize)
	}
}

func TestRemoveFirstAndPurge(t *testing.T) {
	d, src, _ := newTestDmx(t)
	src.push(
		routePacket(3, 1, 50, false, 0, fillSeq(50)),
		routePacket(3, 2, 50, false, 0, fillSeq(50)),
		routePacket(3, 3, 150, false, 0, fillSeq(100)), // 仍在接收
	)
	if err := d.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if n, _ := d.GetObjectCount(1); n != 3 {
		t.Fatalf("expected 3 objects, got %d", n)
	}

	if ok, err := d.RemoveFirstObject(1); !ok || err != nil {
		t.Fatalf("remove first: ok=%v err=%v", ok, err)
	}
	if ok, err := d.RemoveFirstObject(1); !ok || err != nil {
		t.Fatalf("remove second: ok=%v err=%v", ok, err)
	}
	// 只剩接收中的对象，拒绝
	if ok, err := d.RemoveFirstObject(1); ok || !errors.Is(err, ErrInDownload) {
		t.Fatalf("expected ErrInDownload, got ok=%v err=%v", ok, err)
	}

	if err := d.PurgeObjects(1); err != nil {
		t.Fatalf("PurgeObjects failed: %v", err)
	}
	if n, _ := d.GetObjectCount(1); n != 1 {
		t.Fatalf("receiving object must survive purge, got %d", n)
	}
}

func TestForceKeepSurvivesPurge(t *testing.T) {
	d, src, _ := newTestDmx(t)
	src.push(routePacket(3, 1, 50, false, 0, fillSeq(50)))
	if err := d.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if err := d.ForceKeepObject(1, 3, 1, true); err != nil {
		t.Fatalf("ForceKeepObject failed: %v", err)
	}
	if err := d.PurgeObjects(1); err != nil {
		t.Fatalf("PurgeObjects failed: %v", err)
	}
	if n, _ := d.GetObjectCount(1); n != 1 {
		t.Fatalf("force-kept object must survive purge, got %d", n)
	}

	if err := d.ForceKeepObject(1, 3, 1, false); err != nil {
		t.Fatalf("clear force keep failed: %v", err)
	}
	_ = d.PurgeObjects(1)
	if n, _ := d.GetObjectCount(1); n != 0 {
		t.Fatalf("expected purge after clearing force keep, got %d", n)
	}
}

func TestRemoveObjectByNamePurgePrevious(t *testing.T) {
	d, src, events := newTestDmx(t)
	svc := d.services[1]
	svc.getFlow(3).fileTemplate = "seg-$TOI$.m4s"

	src.push(
		routePacket(3, 1, 50, false, 0, fillSeq(50)),
		routePacket(3, 2, 50, false, 0, fillSeq(50)),
		routePacket(3, 3, 50, false, 0, fillSeq(50)),
	)
	if err := d.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if err := d.RemoveObjectByName(1, "seg-3.m4s", true); err != nil {
		t.Fatalf("RemoveObjectByName failed: %v", err)
	}
	dels := eventsOfType(*events, EventFileDelete)
	if len(dels) != 2 {
		t.Fatalf("expected FileDelete for the 2 cascaded objects only, got %d", len(dels))
	}
	if n, _ := d.GetObjectCount(1); n != 0 {
		t.Fatalf("expected empty cache, got %d", n)
	}

	if err := d.RemoveObjectByName(1, "seg-3.m4s", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for removed object, got %v", err)
	}
}

func TestPatchFragInfoCompletesObject(t *testing.T) {
	d, src, events := newTestDmx(t)
	src.push(routePacket(3, 7, 150, false, 0, fillSeq(100)))
	if err := d.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if err := d.PatchFragInfo(1, 3, 7, 100, 150); err != nil {
		t.Fatalf("PatchFragInfo failed: %v", err)
	}
	segs := eventsOfType(*events, EventDynSeg)
	if len(segs) != 1 || segs[0].File.Partial != PartialNone {
		t.Fatalf("patch filling last hole must dispatch complete object: %+v", segs)
	}

	if err := d.PatchFragInfo(1, 3, 7, 10, 10); !errors.Is(err, ErrBadParam) {
		t.Fatalf("expected ErrBadParam for empty range, got %v", err)
	}
	if err := d.PatchFragInfo(1, 9, 9, 0, 10); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPatchBlobSizeCompletesObject(t *testing.T) {
	d, src, events := newTestDmx(t)
	// 无任何长度信令的对象
	src.push(routePacket(3, 7, 0, false, 0, fillSeq(150)))
	if err := d.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(eventsOfType(*events, EventDynSeg)) != 0 {
		t.Fatal("object without total size must stay receiving")
	}

	if err := d.PatchBlobSize(1, 3, 7, 150); err != nil {
		t.Fatalf("PatchBlobSize failed: %v", err)
	}
	if len(eventsOfType(*events, EventDynSeg)) != 1 {
		t.Fatal("declaring the exact size must complete the object")
	}
}

func TestUdataRoundTrip(t *testing.T) {
	src := &memSource{ep: transport.NewUDPEndpoint(nil, "239.0.0.1", 3000)}
	var finals []*Event
	token := &struct{ n int }{n: 42}
	handler := func(e *Event) {
		if e.File == nil {
			return
		}
		switch e.Type {
		case EventDynSegFrag:
			e.File.Udata = token
		case EventDynSeg:
			finals = append(finals, e)
		}
	}
	d, err := NewRouteDmx("239.0.0.1", 3000, handler, &Options{Source: src})
	if err != nil {
		t.Fatalf("NewRouteDmx failed: %v", err)
	}
	d.SetDispatchMode(DispatchProgressive)

	data := fillSeq(150)
	src.push(
		routePacket(3, 7, 150, false, 0, data[:100]),
		routePacket(3, 7, 150, false, 100, data[100:]),
	)
	if err := d.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(finals) != 1 {
		t.Fatalf("expected 1 final event, got %d", len(finals))
	}
	if finals[0].File.Udata != any(token) {
		t.Fatal("udata set in fragment callback must be carried to the final event")
	}
}

const testSTSID = `<?xml version="1.0" encoding="UTF-8"?>
<S-TSID xmlns="tag:atsc.org,2016:XMLSchemas/ATSC3/Delivery/S-TSID/1.0/">
  <RS dIpAddr="239.255.1.1" dPort="5000">
    <LS tsi="10">
      <SrcFlow>
        <EFDT>
          <FileTemplate>video/seg-$TOI$.m4s</FileTemplate>
        </EFDT>
        <ContentInfo>
          <MediaInfo repId="video-hq" periodId="p1" asId="1"/>
        </ContentInfo>
      </SrcFlow>
    </LS>
  </RS>
</S-TSID>`

func TestSTSIDNamesMediaFlow(t *testing.T) {
	d, src, events := newTestDmx(t)

	src.push(
		routePacket(0, 1, 0, true, 0, []byte(testSTSID)),
		routePacket(10, 4, 50, false, 0, fillSeq(50)),
	)
	if err := d.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	segs := eventsOfType(*events, EventDynSeg)
	if len(segs) != 1 {
		t.Fatalf("expected 1 DynSeg, got %d", len(segs))
	}
	fi := segs[0].File
	if fi.Filename != "video/seg-4.m4s" {
		t.Errorf("expected templated name, got %q", fi.Filename)
	}
	if fi.DashRepID != "video-hq" || fi.DashPeriodID != "p1" || fi.DashASID != 1 {
		t.Errorf("bad DASH metadata: rep=%q period=%q as=%d", fi.DashRepID, fi.DashPeriodID, fi.DashASID)
	}
	if fi.Mime != "video/mp4" {
		t.Errorf("expected mp4 mime from segment name, got %q", fi.Mime)
	}
}

func TestMarkActiveQualityDropsFlow(t *testing.T) {
	d, src, events := newTestDmx(t)
	src.push(routePacket(0, 1, 0, true, 0, []byte(testSTSID)))
	if err := d.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if err := d.MarkActiveQuality(1, "p1", 1, "video-hq", false); err != nil {
		t.Fatalf("MarkActiveQuality failed: %v", err)
	}
	src.push(routePacket(10, 4, 50, false, 0, fillSeq(50)))
	_ = d.Process()
	if n := len(eventsOfType(*events, EventDynSeg)); n != 0 {
		t.Fatalf("deselected flow must not dispatch, got %d events", n)
	}

	if err := d.MarkActiveQuality(1, "", -1, "no-such-rep", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown quality, got %v", err)
	}
}

const testSLT = `<?xml version="1.0" encoding="UTF-8"?>
<SLT bsid="1">
  <Service serviceId="5" shortServiceName="TEST">
    <BroadcastSvcSignaling slsProtocol="1" slsDestinationIpAddress="239.255.2.2" slsDestinationUdpPort="5002"/>
  </Service>
</SLT>`

func llsDatagram(t *testing.T, version byte, xmlBody string) []byte {
	t.Helper()
	var z bytes.Buffer
	zw := gzip.NewWriter(&z)
	if _, err := zw.Write([]byte(xmlBody)); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	zw.Close()
	return append([]byte{1, 0, 0, version}, z.Bytes()...)
}

func TestATSCServiceDiscovery(t *testing.T) {
	src := &memSource{ep: transport.NewUDPEndpoint(nil, ATSCBootstrapAddress, ATSCBootstrapPort)}
	var events []*Event
	d, err := NewATSCDmx(func(e *Event) { events = append(events, e) }, &Options{Source: src})
	if err != nil {
		t.Fatalf("NewATSCDmx failed: %v", err)
	}
	d.TuneIn(TuneServiceAll, false)

	src.push(llsDatagram(t, 1, testSLT))
	if err := d.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if n := len(eventsOfType(events, EventServiceFound)); n != 1 {
		t.Fatalf("expected 1 ServiceFound, got %d", n)
	}
	if n := len(eventsOfType(events, EventServiceScan)); n != 1 {
		t.Fatalf("expected 1 ServiceScan, got %d", n)
	}
	if !d.FindService(5) {
		t.Fatal("service 5 not registered")
	}

	// 同版本 SLT 轮播不再产生事件
	src.push(llsDatagram(t, 1, testSLT))
	_ = d.Process()
	if n := len(eventsOfType(events, EventServiceFound)); n != 1 {
		t.Fatalf("carouselled SLT must be ignored, got %d ServiceFound", n)
	}
}

const testFluteFdt = `<?xml version="1.0" encoding="UTF-8"?>
<FDT-Instance Expires="3918096000"
  FEC-OTI-FEC-Encoding-ID="0"
  FEC-OTI-Maximum-Source-Block-Length="64"
  FEC-OTI-Encoding-Symbol-Length="1424">
  <File Content-Location="hello.txt" TOI="1" Transfer-Length="50" Content-Type="text/plain"/>
</FDT-Instance>`

func TestFluteFdtNamesObject(t *testing.T) {
	src := &memSource{ep: transport.NewUDPEndpoint(nil, "239.0.0.2", 3937)}
	var events []*Event
	d, err := NewDVBFluteDmx("239.0.0.2", 3937, func(e *Event) { events = append(events, e) }, &Options{Source: src})
	if err != nil {
		t.Fatalf("NewDVBFluteDmx failed: %v", err)
	}

	src.push(
		flutePacket(1, 0, true, 0, 0, []byte(testFluteFdt)),
		flutePacket(1, 1, false, 0, 0, fillSeq(50)),
	)
	if err := d.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	files := eventsOfType(events, EventFile)
	if len(files) != 1 {
		t.Fatalf("expected 1 File event, got %d", len(files))
	}
	fi := files[0].File
	if fi.Filename != "hello.txt" || fi.Mime != "text/plain" || fi.TotalSize != 50 {
		t.Errorf("bad FDT-resolved file: %+v", fi)
	}
	if !bytes.Equal(fi.Blob[:50], fillSeq(50)) {
		t.Error("blob differs from sent payload")
	}
}

func TestStatsAndReset(t *testing.T) {
	d, src, _ := newTestDmx(t)
	src.push(routePacket(3, 1, 50, false, 0, fillSeq(50)))
	if err := d.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if d.NbPackets() != 1 || d.RecvBytes() == 0 {
		t.Fatalf("stats not tracked: pkts=%d bytes=%d", d.NbPackets(), d.RecvBytes())
	}

	d.ResetAll()
	if d.NbPackets() != 0 || d.RecvBytes() != 0 {
		t.Fatal("ResetAll must clear statistics")
	}
	if n, _ := d.GetObjectCount(1); n != 0 {
		t.Fatalf("ResetAll must drop cached objects, got %d", n)
	}
	if !d.FindService(1) {
		t.Fatal("ResetAll must keep services")
	}
}

func TestServiceUdta(t *testing.T) {
	d, _, _ := newTestDmx(t)
	if err := d.SetServiceUdta(1, "token"); err != nil {
		t.Fatalf("SetServiceUdta failed: %v", err)
	}
	if d.ServiceUdta(1) != any("token") {
		t.Fatal("udta not round-tripped")
	}
	if err := d.SetServiceUdta(9, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDebugTSIFilter(t *testing.T) {
	d, src, events := newTestDmx(t)
	d.DebugTSI(5)
	src.push(
		routePacket(3, 1, 50, false, 0, fillSeq(50)), // 被过滤
		routePacket(5, 1, 50, false, 0, fillSeq(50)),
	)
	if err := d.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	segs := eventsOfType(*events, EventDynSeg)
	if len(segs) != 1 || segs[0].File.TSI != 5 {
		t.Fatalf("debug filter must only pass tsi=5, got %+v", segs)
	}
}
