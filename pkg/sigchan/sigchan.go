// Package sigchan 合并型信号：多次 Emit 在被消费前只算一次。
package sigchan

// Chan 是一个非阻塞的信号 channel
// 用于通知事件发生，但不传递数据
type Chan struct {
	c chan struct{}
}

// New 创建新的信号 channel；bufferSize < 1 时按 1 处理。
func New(bufferSize int) *Chan {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Chan{
		c: make(chan struct{}, bufferSize),
	}
}

// Emit 发送信号（非阻塞），返回信号是否被放入。
func (c *Chan) Emit() bool {
	select {
	case c.c <- struct{}{}:
		return true
	default:
		// 已有未消费的信号
		return false
	}
}

// Drain 丢弃所有未消费的信号，返回丢弃数量。
func (c *Chan) Drain() int {
	n := 0
	for {
		select {
		case <-c.c:
			n++
		default:
			return n
		}
	}
}

// C 返回内部的 channel（用于 select）
func (c *Chan) C() <-chan struct{} {
	return c.c
}
