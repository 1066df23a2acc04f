package transport

import (
	"net"
	"strconv"
)

// UDPEndpoint 一条 LCT 会话的目的组播 (ip, port)
type UDPEndpoint struct {
	// 可选：本地绑定地址（如 "0.0.0.0" 或具体网卡 IP）。nil 表示让内核自行选择。
	SourceAddress *string

	// 目的组播地址（或单播地址），例如 "224.0.23.60"
	DestinationGroupAddress string

	// 目的端口
	Port uint16
}

func NewUDPEndpoint(src *string, dest string, port uint16) UDPEndpoint {
	return UDPEndpoint{
		SourceAddress:           src,
		DestinationGroupAddress: dest,
		Port:                    port,
	}
}

// BindAddr 返回用于 net.ListenPacket("udp", BindAddr()) 的地址字符串。
func (e UDPEndpoint) BindAddr() string {
	if e.SourceAddress == nil || *e.SourceAddress == "" {
		return net.JoinHostPort("", strconv.Itoa(int(e.Port)))
	}
	return net.JoinHostPort(*e.SourceAddress, strconv.Itoa(int(e.Port)))
}

// DestAddr 返回 "ip:port" 形式的目的地址
func (e UDPEndpoint) DestAddr() string {
	return net.JoinHostPort(e.DestinationGroupAddress, strconv.Itoa(int(e.Port)))
}

// String 用于日志
func (e UDPEndpoint) String() string { return e.DestAddr() }
