package receiver

import (
	"Route_go/pkg/oti"
	"Route_go/pkg/transport"
)

type objKey struct {
	tsi uint32
	toi uint32
}

// fileMeta TOI 预先关联的文件属性（FDT / S-TSID 静态表）
type fileMeta struct {
	name           string
	mime           string
	transferLength uint64
}

// flow 一个 TSI 上的传输流：命名规则、FEC 参数、DASH 元数据与排序状态
type flow struct {
	tsi uint32

	// 动态对象的文件名模板，含 $TOI$
	fileTemplate string
	// TOI → 静态文件属性
	staticFiles map[uint32]fileMeta

	// FLUTE: FDT 级 OTI，payload id → 字节偏移需要
	oti *oti.Oti

	dashPeriodID string
	dashASID     int32
	dashRepID    string

	// MarkActiveQuality 的选中状态，默认选中
	selected bool

	// 排序策略状态
	currentTOI   uint32
	hasCurrent   bool
	firstSegDone bool
}

// Service 一个广播服务：若干 LCT 会话、在播对象表与调用方数据
type Service struct {
	ID uint32

	sources []transport.DatagramSource
	// 信令里宣告过的会话端点，tune 时按需补开 socket
	endpoints []transport.UDPEndpoint
	flows     map[uint32]*flow

	// objects 按创建顺序（RemoveFirstObject 语义），byKey 按 (TSI,TOI) 索引
	objects []*LCTObject
	byKey   map[objKey]*LCTObject

	// tunedMedia false 时只收信令（tune others 模式）
	tunedMedia bool

	// 静态文件 updated 标志：按文件名记内容 CRC
	crcByName map[string]uint32

	// HLS master 中各 variant 的 URI（MarkActiveQuality 按 URL 匹配）
	variantURIs map[string]bool

	udta any
}

func newService(id uint32) *Service {
	return &Service{
		ID:          id,
		flows:       make(map[uint32]*flow),
		byKey:       make(map[objKey]*LCTObject),
		crcByName:   make(map[string]uint32),
		variantURIs: make(map[string]bool),
		tunedMedia:  true,
	}
}

func (s *Service) getFlow(tsi uint32) *flow {
	f, ok := s.flows[tsi]
	if !ok {
		f = &flow{tsi: tsi, dashASID: -1, selected: true, staticFiles: make(map[uint32]fileMeta)}
		s.flows[tsi] = f
	}
	return f
}

func (s *Service) object(tsi, toi uint32) *LCTObject {
	return s.byKey[objKey{tsi, toi}]
}

func (s *Service) addObject(obj *LCTObject) {
	s.objects = append(s.objects, obj)
	s.byKey[objKey{obj.TSI, obj.TOI}] = obj
}

// removeObject 摘除并标记 Deleted
func (s *Service) removeObject(obj *LCTObject) {
	for i, o := range s.objects {
		if o == obj {
			s.objects = append(s.objects[:i], s.objects[i+1:]...)
			break
		}
	}
	delete(s.byKey, objKey{obj.TSI, obj.TOI})
	obj.status = StatusDeleted
}

func (s *Service) objectByName(name string) *LCTObject {
	for _, o := range s.objects {
		if o.filename == name {
			return o
		}
	}
	return nil
}

// purgeCandidates TSI!=0、非下载中、非 force-keep 的对象
func (s *Service) purgeCandidates() []*LCTObject {
	var out []*LCTObject
	for _, o := range s.objects {
		if o.TSI == 0 || o.forceKeep || o.status == StatusReceiving {
			continue
		}
		out = append(out, o)
	}
	return out
}

// olderSiblings 同 TSI 上 TOI 小于给定值的对象（purge_previous 级联）
func (s *Service) olderSiblings(tsi, toi uint32) []*LCTObject {
	var out []*LCTObject
	for _, o := range s.objects {
		if o.TSI == tsi && o.TOI < toi {
			out = append(out, o)
		}
	}
	return out
}

func (s *Service) closeSources() {
	for _, src := range s.sources {
		_ = src.Close()
	}
	s.sources = nil
}
