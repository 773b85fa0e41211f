package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"rebalancer-go/catalog"
	"rebalancer-go/config"
	"rebalancer-go/gateway"
	"rebalancer-go/infrastructure/logger"
	"rebalancer-go/infrastructure/monitor"
	"rebalancer-go/internal/display"
	"rebalancer-go/internal/orders"
	"rebalancer-go/internal/report"
	"rebalancer-go/inventory"
	"rebalancer-go/market"
	"rebalancer-go/optimizer"
	"rebalancer-go/rebalance"
)

// Components 控制循环依赖组件
type Components struct {
	Logger   *logger.Logger
	Monitor  *monitor.Monitor
	Reporter report.Reporter
	Display  display.Display
	// NewClient 按交易所配置构建网关客户端；配置热重载时会被再次调用。
	NewClient func(config.ExchangeConfig) (gateway.Client, error)
}

// Rebalancer 再平衡控制循环。所有步骤在单个逻辑线程上严格串行，
// 周期之间不重叠；周期内的行情/余额/K线快照整体重建，失败即整周期跳过。
type Rebalancer struct {
	cfg  config.AppConfig
	log  *logger.Logger
	mon  *monitor.Monitor
	rep  report.Reporter
	disp display.Display

	newClient func(config.ExchangeConfig) (gateway.Client, error)
	cli       gateway.Client

	markets          map[string]gateway.Market
	assetList        *catalog.StaticAssetList
	portfolio        map[string]catalog.Bounds
	portfolioAssets  []string
	portfolioMarkets []string
	indexMarkets     []string

	refresher  *market.Refresher
	comparator *rebalance.Comparator
	quotes     *rebalance.Engine
	orderMgr   *orders.Manager
	mv         *optimizer.MeanVariance

	timeframe string

	firstCycle bool
	lastCycle  time.Time

	cfgCh chan config.AppConfig
}

// randIntervalSeconds 每次判定重新取随机间隔，避免多个实例对交易所形成
// 步调一致的轮询节奏。测试中可替换。
var randIntervalSeconds = func(min, max int) int {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	return min + r.Intn(max-min)
}

// New 创建控制循环并完成首次初始化（加载市场、构建组合）。
func New(cfg config.AppConfig, comps Components) (*Rebalancer, error) {
	if comps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if comps.Monitor == nil {
		return nil, errors.New("monitor is required")
	}
	if comps.Reporter == nil {
		return nil, errors.New("reporter is required")
	}
	if comps.Display == nil {
		return nil, errors.New("display is required")
	}
	if comps.NewClient == nil {
		return nil, errors.New("client factory is required")
	}

	r := &Rebalancer{
		log:        comps.Logger,
		mon:        comps.Monitor,
		rep:        comps.Reporter,
		disp:       comps.Display,
		newClient:  comps.NewClient,
		firstCycle: true,
		cfgCh:      make(chan config.AppConfig, 1),
	}
	if err := r.initialize(cfg); err != nil {
		return nil, err
	}
	return r, nil
}

// initialize 按配置重建全部周期状态。热重载走同一条路径。
func (r *Rebalancer) initialize(cfg config.AppConfig) error {
	cli, err := r.newClient(cfg.Exchange)
	if err != nil {
		return fmt.Errorf("build exchange client: %w", err)
	}
	markets, err := cli.LoadMarkets()
	if err != nil {
		return fmt.Errorf("load markets: %w", err)
	}

	whitelist := make([]string, 0, len(cfg.Portfolio.Assets))
	for asset := range cfg.Portfolio.Assets {
		whitelist = append(whitelist, asset)
	}
	sort.Strings(whitelist)

	defaultBounds := catalog.Bounds{Min: cfg.Optimizer.WeightMin, Max: cfg.Optimizer.WeightMax}
	assetList := catalog.NewStaticAssetList(r.log, markets, whitelist, cfg.Portfolio.Blacklist, defaultBounds)
	assetList.RefreshAssetList()
	portfolioMarkets, portfolio := assetList.BuildPortfolioMarkets(cfg.Portfolio.BaseAsset)

	// 配置中显式给出的资产沿用各自的权重上下界
	for asset, b := range cfg.Portfolio.Assets {
		if _, ok := portfolio[asset]; ok {
			portfolio[asset] = catalog.Bounds{Min: b.Min, Max: b.Max}
		}
	}

	assets := make([]string, 0, len(portfolio))
	for a := range portfolio {
		assets = append(assets, a)
	}
	sort.Strings(assets)

	timeframe := cfg.Rebalancing.Timeframes[0]

	r.cfg = cfg
	r.cli = cli
	r.markets = markets
	r.assetList = assetList
	r.portfolio = portfolio
	r.portfolioAssets = assets
	r.portfolioMarkets = portfolioMarkets
	r.indexMarkets = market.IndexMarkets(markets, cfg.Portfolio.Index)
	sort.Strings(r.indexMarkets)
	r.refresher = market.NewRefresher(r.log, cli)
	r.comparator = rebalance.NewComparator(r.log)
	r.quotes = rebalance.NewEngine(r.log, cfg.Portfolio.BaseAsset, markets)
	r.orderMgr = orders.NewManager(r.log, cli, r.rep, markets, orders.Options{
		DryRun:     cfg.Rebalancing.DryRun,
		MarketOnly: cfg.Rebalancing.MarketOnly,
		Strategy:   "rebalancer",
		Exchange:   cfg.Exchange.Name,
	})
	r.mv = optimizer.NewMeanVariance(cfg.Optimizer.Frequency)
	r.timeframe = timeframe

	r.log.Info("rebalancer initialized",
		zap.String("base", cfg.Portfolio.BaseAsset),
		zap.Strings("assets", assets),
		zap.Strings("markets", portfolioMarkets),
		zap.Bool("dry_run", cfg.Rebalancing.DryRun))
	return nil
}

// Reinitialize 用新配置原地热重启：组合、市场、订单管理器全部重建，
// 仅保留进程身份（日志器、监控、上报器）。
func (r *Rebalancer) Reinitialize(cfg config.AppConfig) error {
	r.log.Info("configuration changed, reinitializing")
	if err := r.initialize(cfg); err != nil {
		return fmt.Errorf("reinitialize: %w", err)
	}
	r.firstCycle = true
	return nil
}

// ConfigUpdated 投递新配置；在周期边界被取走。重复投递只保留最新一份。
func (r *Rebalancer) ConfigUpdated(cfg config.AppConfig) {
	select {
	case <-r.cfgCh:
	default:
	}
	r.cfgCh <- cfg
}

// IsDue 判定是否应运行新周期：距上一周期超过随机间隔，或首个周期。
func (r *Rebalancer) IsDue(now time.Time) bool {
	if r.firstCycle {
		return true
	}
	interval := randIntervalSeconds(r.cfg.Rebalancing.LoopIntervalMin, r.cfg.Rebalancing.LoopIntervalMax)
	return now.Sub(r.lastCycle) > time.Duration(interval)*time.Second
}

// Run 主循环：每秒醒来一次，到期则执行完整周期，周期结束后检查配置变更。
// 仅在 ctx 取消时返回。
func (r *Rebalancer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return ctx.Err()
		case <-time.After(time.Second):
		}
		daemon.SdNotify(false, daemon.SdNotifyWatchdog)

		if r.IsDue(time.Now()) {
			r.lastCycle = time.Now()
			r.firstCycle = false
			start := time.Now()
			r.RunCycle()
			r.mon.RecordCycle(time.Since(start).Seconds())
		}

		select {
		case cfg := <-r.cfgCh:
			if err := r.Reinitialize(cfg); err != nil {
				r.log.Error("reinitialize failed, keeping previous configuration", zap.Error(err))
			}
		default:
		}
	}
}

// shutdown 退出前撤掉仍挂着的订单。
func (r *Rebalancer) shutdown() {
	r.log.Info("shutting down, canceling open orders")
	r.orderMgr.FetchProcessed()
	r.orderMgr.CancelProcessed()
	r.countCancellations(r.orderMgr.Active())
	r.orderMgr.Flush()
}

// RunCycle 执行一个完整再平衡周期。任何一步的数据不可用都会让本周期
// 干净地跳过，而不是带着陈旧数据继续交易。
func (r *Rebalancer) RunCycle() {
	r.pushStatus("Loading")

	// 上周期残留订单：回查、撤销、上报、清表
	r.log.LogCycle("cancel_stale_orders", nil)
	r.orderMgr.FetchProcessed()
	r.orderMgr.CancelProcessed()
	r.countCancellations(r.orderMgr.Active())
	r.orderMgr.Flush()

	symbols := r.trackedSymbols()

	r.log.LogCycle("refresh_tickers", nil)
	tickers := r.refresher.Tickers(symbols)
	if tickers == nil {
		r.mon.RecordRefreshError("tickers")
		r.skipCycle("ticker data unavailable")
		return
	}

	r.log.LogCycle("refresh_ohlcv", nil)
	series := r.refresher.OHLCV(symbols, r.cfg.Rebalancing.Timeframes, r.cfg.Rebalancing.OHLCVLimit)

	r.log.LogCycle("refresh_balances", nil)
	balances := r.refresher.Balances()
	if len(balances) == 0 {
		r.mon.RecordRefreshError("balances")
		r.skipCycle("balance data unavailable")
		return
	}

	snap := &market.Snapshot{Tickers: tickers, Balances: balances, Series: series}

	r.log.LogCycle("valuation", nil)
	val := inventory.NewEngine(r.cfg.Portfolio.BaseAsset, r.timeframe, snap)
	baseTotal := val.PortfolioBaseTotal(r.portfolioAssets)
	current := val.CurrentWeights(r.portfolioAssets)
	if unpriced := val.Unpriced(); len(unpriced) > 0 {
		r.log.Warn("assets without pricing path valued at zero", zap.Strings("assets", unpriced))
	}
	if baseTotal <= 0 {
		r.skipCycle("portfolio value is zero")
		return
	}
	r.mon.UpdatePortfolioValue(baseTotal)
	for asset, w := range current {
		r.mon.UpdateAssetWeight(asset, w)
	}
	values := make(map[string]float64, len(r.portfolioAssets))
	for _, a := range r.portfolioAssets {
		values[a] = val.BaseValueOf(a)
	}
	r.rep.ReportValuation(report.Valuation{
		BaseAsset: r.cfg.Portfolio.BaseAsset,
		Total:     baseTotal,
		Values:    values,
		Weights:   current,
		Timestamp: time.Now().UTC(),
	}, "rebalancer", r.cfg.Exchange.Name)

	idx, idxOK := market.ComputeIndex(r.indexMarkets, tickers, series, r.timeframe)
	if idxOK {
		r.mon.UpdateIndex(idx.Ask, idx.Bid)
	}

	r.log.LogCycle("optimize", nil)
	table := optimizer.BuildFromSnapshot(snap, r.portfolioMarkets, r.portfolioAssets, r.cfg.Portfolio.BaseAsset, r.timeframe)
	bounds := catalog.Bounds{Min: r.cfg.Optimizer.WeightMin, Max: r.cfg.Optimizer.WeightMax}
	obj := optimizer.Objective{TargetReturn: r.cfg.Optimizer.TargetReturn, TargetRisk: r.cfg.Optimizer.TargetRisk}
	recommended, reportLines, err := r.mv.Optimize(table, bounds, obj)
	if err != nil {
		r.skipCycle(fmt.Sprintf("optimization failed: %v", err))
		return
	}
	for _, line := range reportLines {
		r.log.Debug(line)
	}

	r.log.LogCycle("reconcile", nil)
	diff, ok := r.comparator.Compare(current, recommended)
	if !ok {
		r.skipCycle("weight comparison failed")
		return
	}

	r.log.LogCycle("generate_quotes", nil)
	quotes := r.quotes.GenerateQuotes(diff, r.cfg.Rebalancing.Precision, tickers, val, baseTotal)

	r.log.LogCycle("submit_orders", map[string]interface{}{"count": len(quotes)})
	placed := r.orderMgr.PlaceAll(quotes)
	r.countPlacements(placed)

	r.render(snap, val, idx, idxOK, baseTotal, current)
	r.pushStatus("OK")
}

func (r *Rebalancer) skipCycle(reason string) {
	r.log.Warn("cycle skipped", zap.String("reason", reason))
	r.mon.RecordCycleSkipped()
	r.pushStatus("Skipped: " + reason)
}

func (r *Rebalancer) pushStatus(status string) {
	r.disp.Push("Rebalancer", "Last update: "+time.Now().UTC().Format("15:04:05")+" | Status: "+status)
	r.disp.Render()
}

// trackedSymbols 组合市场与指数市场的并集。
func (r *Rebalancer) trackedSymbols() []string {
	seen := make(map[string]struct{}, len(r.portfolioMarkets)+len(r.indexMarkets))
	out := make([]string, 0, len(r.portfolioMarkets)+len(r.indexMarkets))
	for _, s := range r.portfolioMarkets {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, s := range r.indexMarkets {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// countPlacements 提交批次的下单/拒单计数。
func (r *Rebalancer) countPlacements(batch []*orders.Order) {
	for _, o := range batch {
		switch o.Status {
		case orders.StatusOpen, orders.StatusSubmitted, orders.StatusClosed:
			r.mon.RecordOrderPlaced()
		case orders.StatusRejectedLimits, orders.StatusSubmitError:
			r.mon.RecordOrderRejected()
		}
	}
}

// countCancellations 撤单后的撤销计数。
func (r *Rebalancer) countCancellations(batch []*orders.Order) {
	for _, o := range batch {
		if o.Status == orders.StatusCanceled {
			r.mon.RecordOrderCanceled()
		}
	}
}
