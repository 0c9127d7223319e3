package health

import (
	"context"
	"sync"
	"time"
)

// DefaultCheckTimeout 单项检查的默认时限
const DefaultCheckTimeout = 2 * time.Second

// HealthReport 一次检查的汇总
type HealthReport struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// Ready 降级仍就绪，只有不健康才拒绝流量
func (r HealthReport) Ready() bool {
	return r.Status != StatusUnhealthy
}

// Aggregator 并发执行各检查器并汇总为 HealthReport
type Aggregator struct {
	mu       sync.RWMutex
	checkers []Checker
	timeout  time.Duration
}

func NewAggregator(checkers ...Checker) *Aggregator {
	return &Aggregator{checkers: checkers, timeout: DefaultCheckTimeout}
}

// SetTimeout 调整单项检查时限，<=0 表示不限
func (a *Aggregator) SetTimeout(d time.Duration) {
	a.mu.Lock()
	a.timeout = d
	a.mu.Unlock()
}

// AddChecker 运行期追加检查器（如 Redis 启用后）
func (a *Aggregator) AddChecker(checker Checker) {
	a.mu.Lock()
	a.checkers = append(a.checkers, checker)
	a.mu.Unlock()
}

// Report 执行全部检查；超时的检查记为不健康
func (a *Aggregator) Report(ctx context.Context) HealthReport {
	a.mu.RLock()
	checkers := append([]Checker(nil), a.checkers...)
	timeout := a.timeout
	a.mu.RUnlock()

	report := HealthReport{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checkers)),
	}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, c := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			res := runCheck(ctx, c, timeout)
			mu.Lock()
			report.Checks[c.Name()] = res
			report.Status = worst(report.Status, res.Status)
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return report
}

func runCheck(ctx context.Context, c Checker, timeout time.Duration) CheckResult {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	done := make(chan CheckResult, 1)
	go func() { done <- c.Check(ctx) }()

	var res CheckResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = CheckResult{Status: StatusUnhealthy, Message: "check timed out: " + ctx.Err().Error()}
	}
	res.Latency = time.Since(start)
	return res
}

// Ready 供 /readyz 使用
func (a *Aggregator) Ready(ctx context.Context) bool {
	return a.Report(ctx).Ready()
}
