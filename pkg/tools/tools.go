package tools

import (
	"errors"
	"time"
)

// NTP 纪元(1900) 与 Unix 纪元(1970) 相差 2208988800 秒
const ntpUnixDelta = 2208988800

// NTPToSystemTime 将 64-bit NTP 时间戳转换为 time.Time
// 高 32 位是秒，低 32 位是秒的小数部分（2^-32 单位）
func NTPToSystemTime(ntp uint64) (time.Time, error) {
	sec := ntp >> 32
	frac := ntp & 0xFFFFFFFF

	// 把 2^-32 秒的小数换算为纳秒
	nsec := (frac * 1_000_000_000) >> 32

	unixSec := int64(sec) - ntpUnixDelta
	if nsec >= 1_000_000_000 {
		return time.Time{}, errors.New("invalid NTP fractional part")
	}

	return time.Unix(unixSec, int64(nsec)).UTC(), nil
}

// SystemTimeToNTP 反向转换，EXT_TIME 构建时使用
func SystemTimeToNTP(tm time.Time) (uint64, error) {
	sec := tm.Unix() + ntpUnixDelta
	if sec < 0 {
		return 0, errors.New("time before NTP epoch")
	}
	frac := (uint64(tm.Nanosecond()) << 32) / 1_000_000_000
	return (uint64(sec) << 32) | frac, nil
}

func DivCeil(a, b uint64) uint64 {
	return (a + b - 1) / b
}

func DivFloor(a, b uint64) uint64 {
	return a / b
}
