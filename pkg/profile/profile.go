package profile

// Profile 接收剖面：决定 payload id 布局与信令入口
type Profile uint8

const (
	RouteATSC Profile = iota // ATSC 3.0 ROUTE
	DVBFlute                 // DVB-MABR FLUTE
	RFC6726                  // 纯 FLUTE v2
)

func (p Profile) String() string {
	switch p {
	case RouteATSC:
		return "RouteATSC"
	case DVBFlute:
		return "DVBFlute"
	case RFC6726:
		return "RFC6726"
	default:
		return "UNKNOWN"
	}
}
