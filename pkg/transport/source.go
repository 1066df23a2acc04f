package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"golang.org/x/net/ipv4"
)

// ErrEmpty 当前没有可读数据（非阻塞读）
var ErrEmpty = errors.New("no datagram available")

// DatagramSource 抽象一路 LCT 会话的数据报来源。
// Receive 永不阻塞：无数据时返回 ErrEmpty。
type DatagramSource interface {
	// Receive 读取一个数据报到 buf，返回长度
	Receive(buf []byte) (int, error)
	Close() error
	// Endpoint 来源对应的会话端点
	Endpoint() UDPEndpoint
}

// UDPSource 真实的组播 socket
type UDPSource struct {
	endpoint UDPEndpoint
	conn     *net.UDPConn
	pconn    *ipv4.PacketConn
}

// OpenUDPSource 加入组播组并绑定端口。
// ifce 为空时由内核选网卡；bufferSize 为 0 时使用调用方缺省。
func OpenUDPSource(endpoint UDPEndpoint, ifce string, bufferSize int) (*UDPSource, error) {
	group := net.ParseIP(endpoint.DestinationGroupAddress)
	if group == nil {
		return nil, fmt.Errorf("invalid group address %q", endpoint.DestinationGroupAddress)
	}

	var netIfce *net.Interface
	if ifce != "" {
		var err error
		netIfce, err = net.InterfaceByName(ifce)
		if err != nil {
			return nil, fmt.Errorf("interface %q: %w", ifce, err)
		}
	}

	laddr := &net.UDPAddr{IP: net.IPv4zero, Port: int(endpoint.Port)}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", endpoint.DestAddr(), err)
	}

	src := &UDPSource{endpoint: endpoint, conn: conn}
	if group.IsMulticast() {
		src.pconn = ipv4.NewPacketConn(conn)
		if err := src.pconn.JoinGroup(netIfce, &net.UDPAddr{IP: group}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("join %s: %w", endpoint.DestAddr(), err)
		}
	}
	if bufferSize > 0 {
		if err := conn.SetReadBuffer(bufferSize); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set read buffer: %w", err)
		}
	}
	return src, nil
}

func (s *UDPSource) Receive(buf []byte) (int, error) {
	// 零超时的非阻塞语义：Deadline 已过则立即返回
	if err := s.conn.SetReadDeadline(immediateDeadline()); err != nil {
		return 0, err
	}
	n, _, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return 0, ErrEmpty
		}
		return 0, err
	}
	return n, nil
}

func (s *UDPSource) Close() error {
	if s.pconn != nil {
		group := net.ParseIP(s.endpoint.DestinationGroupAddress)
		_ = s.pconn.LeaveGroup(nil, &net.UDPAddr{IP: group})
	}
	return s.conn.Close()
}

func (s *UDPSource) Endpoint() UDPEndpoint { return s.endpoint }

// immediateDeadline 让下一次读立即超时，实现非阻塞轮询
func immediateDeadline() time.Time { return time.Now() }

// FileSource 回放录制的数据报文件（长度前缀的记录流），
// 用作 netcap 风格的捕获源替代。
type FileSource struct {
	endpoint UDPEndpoint
	f        *os.File
	done     bool
}

func OpenFileSource(endpoint UDPEndpoint, path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture %q: %w", path, err)
	}
	return &FileSource{endpoint: endpoint, f: f}, nil
}

func (s *FileSource) Receive(buf []byte) (int, error) {
	if s.done {
		return 0, ErrEmpty
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(s.f, lenBuf[:]); err != nil {
		s.done = true
		return 0, ErrEmpty
	}
	n := int(binary.BigEndian.Uint32(lenBuf[:]))
	if n > len(buf) {
		// 长度前缀已消费，流从此失步，不再继续读
		s.done = true
		return 0, fmt.Errorf("capture record of %d bytes exceeds buffer", n)
	}
	if _, err := io.ReadFull(s.f, buf[:n]); err != nil {
		s.done = true
		return 0, ErrEmpty
	}
	return n, nil
}

func (s *FileSource) Close() error          { return s.f.Close() }
func (s *FileSource) Endpoint() UDPEndpoint { return s.endpoint }

// WriteCaptureRecord 以 FileSource 能回放的格式写出一个数据报
func WriteCaptureRecord(w io.Writer, datagram []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(datagram)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(datagram)
	return err
}
