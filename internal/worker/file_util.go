// internal/worker/file_util.go
package worker

import (
	"fmt"
	"sync/atomic"
	"time"
)

// file_util.go
// ------------------------------------------------------------
// archive 객체 key 규칙.
//
//	<prefix>/dt=<YYYY-MM-DD>/hr=<HH>/<unix>_<instance>_<counter>.jsonl.gz
//
// 예:
//
//	classified/dt=2024-01-02/hr=03/1704164645_host1_000042.jsonl.gz
//
// 파티션은 UTC 기준. 같은 prefix 안에서 이름순 정렬이 곧 시간순 정렬이다.
var globalCounter uint64

// NextCounter 는 1e6 에서 0 으로 돌아가는 순차 번호.
// timestamp·instance ID 와 조합하므로 wrap-around 되어도 충돌하지 않는다.
func NextCounter() uint64 {
	return atomic.AddUint64(&globalCounter, 1) % 1_000_000
}

// NewFilename 은 <unix>_<instance>_<counter>.jsonl.gz 를 만든다.
func NewFilename(now time.Time, instanceID string) string {
	return fmt.Sprintf("%d_%s_%06d.jsonl.gz", now.Unix(), instanceID, NextCounter())
}

// BuildS3Key 는 Athena / Glue 파티션 구조의 key 를 만든다.
func BuildS3Key(now time.Time, prefix, filename string) string {
	utc := now.UTC()
	return fmt.Sprintf("%s/dt=%s/hr=%s/%s", prefix, utc.Format("2006-01-02"), utc.Format("15"), filename)
}
