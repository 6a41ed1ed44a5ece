// Package freshness attaches storage timestamps to model responses and reads
// them back as an age.
package freshness

import (
	"strconv"
	"strings"
	"time"

	"github.com/britannia/offline-hub/internal/cache"
)

// HeaderStoredAt 保存写入时间（毫秒级 Unix 时间戳），仅供内部计算新鲜度。
const HeaderStoredAt = "X-Offline-Hub-Stored-At"

// Clock 便于测试注入固定时间。
type Clock func() time.Time

// Stamper 负责打时间戳与计算年龄。
type Stamper struct {
	now Clock
}

// New 构造 Stamper，clock 为空时使用 time.Now。
func New(clock Clock) *Stamper {
	if clock == nil {
		clock = time.Now
	}
	return &Stamper{now: clock}
}

// Stamp 返回带时间戳的新响应，正文字节与输入一致，输入本身不受影响。
func (s *Stamper) Stamp(resp *cache.Response) *cache.Response {
	stamped := resp.Clone()
	stamped.Header.Set(HeaderStoredAt, strconv.FormatInt(s.now().UnixMilli(), 10))
	return stamped
}

// Age 读取时间戳并计算年龄；缺失或无法解析时 ok 为 false。
// 时钟回拨导致的负值按 0 处理。
func (s *Stamper) Age(resp *cache.Response) (time.Duration, bool) {
	if resp == nil || resp.Header == nil {
		return 0, false
	}
	raw := strings.TrimSpace(resp.Header.Get(HeaderStoredAt))
	if raw == "" {
		return 0, false
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	age := s.now().Sub(time.UnixMilli(millis))
	if age < 0 {
		age = 0
	}
	return age, true
}
