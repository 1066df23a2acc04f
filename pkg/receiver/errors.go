package receiver

import "errors"

// 错误分级：坏包在解码处静默丢弃并计数，从不作为硬错误向上传播；
// 下面这些只覆盖控制面操作与网络层。
var (
	// ErrNetworkEmpty Process 的空读哨兵：当前没有任何可处理的数据报
	ErrNetworkEmpty = errors.New("network empty")
	// ErrNotFound 目标服务/对象/文件不存在
	ErrNotFound = errors.New("not found")
	// ErrBadParam 调用参数非法
	ErrBadParam = errors.New("bad parameter")
	// ErrNonCompliant 信令或分片与已知对象状态矛盾
	ErrNonCompliant = errors.New("non compliant")
	// ErrInDownload 对象仍在接收中，操作被拒绝
	ErrInDownload = errors.New("object in download")
)
