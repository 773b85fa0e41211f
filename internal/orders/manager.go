package orders

import (
	"math/rand"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"rebalancer-go/gateway"
	"rebalancer-go/infrastructure/logger"
	"rebalancer-go/internal/report"
	"rebalancer-go/rebalance"
)

// Status 订单生命周期状态。
// created → (限制检查) → rejected_limits | (干跑) → dry_run | → submitted → open/closed/错误状态。
type Status string

const (
	StatusCreated        Status = "CREATED"
	StatusRejectedLimits Status = "REJECTED_LIMITS"
	StatusDryRun         Status = "DRY_RUN"
	StatusSubmitted      Status = "SUBMITTED"
	StatusOpen           Status = "OPEN"
	StatusClosed         Status = "CLOSED"
	StatusCanceled       Status = "CANCELED"

	// 交易所交互失败一律写进状态，不向上抛错
	StatusSubmitError Status = "SUBMIT_ERROR"
	StatusFetchError  Status = "FETCH_ERROR"
	StatusCancelError Status = "CANCEL_ERROR"
)

// Order 本地订单视图。ID 为交易所分配，提交前为空。
type Order struct {
	ID        string
	ClientID  string
	Symbol    string
	Side      gateway.Side
	Type      gateway.OrderType
	Amount    float64
	Price     float64
	Filled    float64
	Fee       float64
	Status    Status
	LastError string
	Timestamp int64
}

// key 活动表索引：优先交易所 ID，否则客户端关联 ID。
func (o *Order) key() string {
	if o.ID != "" {
		return o.ID
	}
	return o.ClientID
}

// alive 还需要向交易所查询/撤销的状态。
func (o *Order) alive() bool {
	return o.Status == StatusSubmitted || o.Status == StatusOpen
}

// newClientID 生成纯数字客户端关联 ID。测试中可替换。
var newClientID = func() string {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	digits := make([]byte, 0, 12)
	for i := 0; i < 12; i++ {
		digits = strconv.AppendInt(digits, r.Int63n(10), 10)
	}
	return string(digits)
}

// Options 下单行为开关与上报标签。
type Options struct {
	DryRun     bool
	MarketOnly bool
	Strategy   string
	Exchange   string
}

// Manager 维护活动订单表并负责下单、查单、撤单与成交上报。
// 单周期内仅由控制循环串行访问，不加锁。
type Manager struct {
	log     *logger.Logger
	cli     gateway.Client
	rep     report.Reporter
	markets map[string]gateway.Market
	opts    Options
	active  map[string]*Order
}

func NewManager(log *logger.Logger, cli gateway.Client, rep report.Reporter, markets map[string]gateway.Market, opts Options) *Manager {
	return &Manager{
		log:     log,
		cli:     cli,
		rep:     rep,
		markets: markets,
		opts:    opts,
		active:  make(map[string]*Order),
	}
}

// CheckLimits 校验 cost/amount/price 是否落在交易所限制内（开区间）。
// Min 或 Max 为 0 表示该侧无限制。任一维度越界整单拒绝。
func (m *Manager) CheckLimits(o Order, mkt gateway.Market) bool {
	cost := o.Price * o.Amount
	checks := []struct {
		name  string
		value float64
		rng   gateway.LimitRange
	}{
		{"cost", cost, mkt.Limits.Cost},
		{"amount", o.Amount, mkt.Limits.Amount},
		{"price", o.Price, mkt.Limits.Price},
	}
	for _, c := range checks {
		if c.rng.Min > 0 && c.value <= c.rng.Min {
			m.log.Warn("order below exchange minimum",
				zap.String("symbol", o.Symbol), zap.String("dimension", c.name),
				zap.Float64("value", c.value), zap.Float64("min", c.rng.Min))
			return false
		}
		if c.rng.Max > 0 && c.value >= c.rng.Max {
			m.log.Warn("order above exchange maximum",
				zap.String("symbol", o.Symbol), zap.String("dimension", c.name),
				zap.Float64("value", c.value), zap.Float64("max", c.rng.Max))
			return false
		}
	}
	return true
}

// Create 由报价生成订单并走完 限制检查 → 干跑 → 提交 流程。
// 所有失败都体现在返回订单的 Status 里，调用方无需处理错误。
func (m *Manager) Create(q rebalance.Quote) *Order {
	o := &Order{
		ClientID:  newClientID(),
		Symbol:    q.Symbol,
		Side:      q.Side,
		Type:      q.Type,
		Amount:    q.Amount,
		Price:     q.Price,
		Status:    StatusCreated,
		Timestamp: time.Now().UnixMilli(),
	}
	if m.opts.MarketOnly {
		o.Type = gateway.TypeMarket
	}
	if mkt, ok := m.markets[o.Symbol]; ok {
		if !m.CheckLimits(*o, mkt) {
			o.Status = StatusRejectedLimits
			return o
		}
	}
	if m.opts.DryRun {
		o.Status = StatusDryRun
		m.log.LogOrder("dry_run", o.ClientID, map[string]interface{}{
			"symbol": o.Symbol, "side": o.Side, "price": o.Price, "amount": o.Amount,
		})
		return o
	}

	res, err := m.cli.CreateOrder(o.Symbol, o.Side, o.Type, o.Amount, o.Price, o.ClientID)
	if err != nil {
		o.Status = StatusSubmitError
		o.LastError = err.Error()
		m.log.Error("order submit failed", zap.Error(err), zap.String("symbol", o.Symbol))
		return o
	}
	o.ID = res.ID
	o.Filled = res.Filled
	o.Fee = res.Fee
	if res.Timestamp > 0 {
		o.Timestamp = res.Timestamp
	}
	o.Status = statusFromExchange(res.Status)
	m.log.LogOrder("submitted", o.ID, map[string]interface{}{
		"symbol": o.Symbol, "side": o.Side, "price": o.Price, "amount": o.Amount,
	})
	return o
}

// PlaceAll 逐一提交报价并登记到活动表。返回本批全部订单（含被拒/干跑）。
func (m *Manager) PlaceAll(quotes []rebalance.Quote) []*Order {
	out := make([]*Order, 0, len(quotes))
	for _, q := range quotes {
		o := m.Create(q)
		m.active[o.key()] = o
		out = append(out, o)
	}
	return out
}

// FetchProcessed 逐单回查状态。单个订单失败记为 FETCH_ERROR，不中断其余。
func (m *Manager) FetchProcessed() {
	for _, key := range m.sortedKeys() {
		o := m.active[key]
		if !o.alive() || o.ID == "" {
			continue
		}
		res, err := m.cli.FetchOrder(o.ID, o.Symbol)
		if err != nil {
			o.Status = StatusFetchError
			o.LastError = err.Error()
			m.log.Error("order fetch failed", zap.Error(err), zap.String("id", o.ID))
			continue
		}
		o.Filled = res.Filled
		if res.Fee > 0 {
			o.Fee = res.Fee
		}
		o.Status = statusFromExchange(res.Status)
	}
}

// CancelProcessed 撤销所有仍然存活的订单。单个失败记为 CANCEL_ERROR。
func (m *Manager) CancelProcessed() {
	for _, key := range m.sortedKeys() {
		o := m.active[key]
		if !o.alive() || o.ID == "" {
			continue
		}
		if err := m.cli.CancelOrder(o.ID, o.Symbol); err != nil {
			o.Status = StatusCancelError
			o.LastError = err.Error()
			m.log.Error("order cancel failed", zap.Error(err), zap.String("id", o.ID))
			continue
		}
		o.Status = StatusCanceled
	}
}

// Flush 上报已完结（或撤销前有成交）的订单并把终态订单移出活动表。
// 上报为 fire-and-forget，失败不影响交易。
func (m *Manager) Flush() {
	for _, key := range m.sortedKeys() {
		o := m.active[key]
		if o.alive() {
			continue
		}
		if o.Status == StatusClosed || o.Filled > 0 {
			m.rep.ReportFill(report.Fill{
				OrderID:   o.key(),
				Symbol:    o.Symbol,
				Side:      string(o.Side),
				Price:     o.Price,
				Amount:    o.Amount,
				Filled:    o.Filled,
				Fee:       o.Fee,
				Status:    string(o.Status),
				Timestamp: time.UnixMilli(o.Timestamp),
			}, m.opts.Strategy, m.opts.Exchange)
		}
		delete(m.active, key)
	}
}

// Active 返回活动表快照，按索引键排序。
func (m *Manager) Active() []*Order {
	out := make([]*Order, 0, len(m.active))
	for _, key := range m.sortedKeys() {
		out = append(out, m.active[key])
	}
	return out
}

func (m *Manager) sortedKeys() []string {
	keys := make([]string, 0, len(m.active))
	for k := range m.active {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// statusFromExchange 把币安原生状态映射为本地生命周期状态。
func statusFromExchange(s string) Status {
	switch s {
	case "":
		return StatusSubmitted
	case "NEW", "PARTIALLY_FILLED":
		return StatusOpen
	case "FILLED":
		return StatusClosed
	case "CANCELED", "PENDING_CANCEL", "EXPIRED":
		return StatusCanceled
	default:
		return Status(s)
	}
}
