package report

import (
	"fmt"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"
	"go.uber.org/zap"

	"rebalancer-go/infrastructure/logger"
)

// Fill 终态订单的成交记录。
type Fill struct {
	OrderID   string
	Symbol    string
	Side      string
	Price     float64
	Amount    float64
	Filled    float64
	Fee       float64
	Status    string
	Timestamp time.Time
}

// Valuation 一个周期末的组合估值。
type Valuation struct {
	BaseAsset string
	Total     float64
	Values    map[string]float64
	Weights   map[string]float64
	Timestamp time.Time
}

// Reporter 把成交与估值写入外部时序库。写入失败只记录日志，绝不影响交易流程。
type Reporter interface {
	ReportFill(fill Fill, strategy, exchange string)
	ReportValuation(v Valuation, strategy, exchange string)
	Close() error
}

// Config InfluxDB 连接配置。
type Config struct {
	Addr     string        `yaml:"addr"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Database string        `yaml:"database"`
	Timeout  time.Duration `yaml:"timeout"`
}

// InfluxReporter 基于 InfluxDB 1.x HTTP 接口的 Reporter 实现。
type InfluxReporter struct {
	log *logger.Logger
	cli client.Client
	db  string
}

func NewInfluxReporter(log *logger.Logger, cfg Config) (*InfluxReporter, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	c, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("influx client: %w", err)
	}
	return &InfluxReporter{log: log, cli: c, db: cfg.Database}, nil
}

// ReportFill 单点写入 order_fill 序列。
func (r *InfluxReporter) ReportFill(fill Fill, strategy, exchange string) {
	bp, err := client.NewBatchPoints(client.BatchPointsConfig{
		Database:  r.db,
		Precision: "ms",
	})
	if err != nil {
		r.log.Error("influx batch points", zap.Error(err))
		return
	}
	tags := map[string]string{
		"strategy": strategy,
		"exchange": exchange,
		"symbol":   fill.Symbol,
		"side":     fill.Side,
	}
	fields := map[string]interface{}{
		"order_id": fill.OrderID,
		"price":    fill.Price,
		"amount":   fill.Amount,
		"filled":   fill.Filled,
		"fee":      fill.Fee,
		"status":   fill.Status,
	}
	ts := fill.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	pt, err := client.NewPoint("order_fill", tags, fields, ts)
	if err != nil {
		r.log.Error("influx point", zap.Error(err))
		return
	}
	bp.AddPoint(pt)
	if err := r.cli.Write(bp); err != nil {
		r.log.Error("write order fill to influx", zap.Error(err),
			zap.String("symbol", fill.Symbol))
	}
}

// ReportValuation 每资产一个点写入 portfolio_valuation 序列，另附 ALL 汇总点。
func (r *InfluxReporter) ReportValuation(v Valuation, strategy, exchange string) {
	bp, err := client.NewBatchPoints(client.BatchPointsConfig{
		Database:  r.db,
		Precision: "ms",
	})
	if err != nil {
		r.log.Error("influx batch points", zap.Error(err))
		return
	}
	ts := v.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	for asset, value := range v.Values {
		tags := map[string]string{
			"strategy": strategy,
			"exchange": exchange,
			"base":     v.BaseAsset,
			"asset":    asset,
		}
		fields := map[string]interface{}{
			"value":  value,
			"weight": v.Weights[asset],
		}
		pt, err := client.NewPoint("portfolio_valuation", tags, fields, ts)
		if err != nil {
			r.log.Error("influx point", zap.Error(err))
			continue
		}
		bp.AddPoint(pt)
	}
	total, err := client.NewPoint("portfolio_valuation",
		map[string]string{
			"strategy": strategy,
			"exchange": exchange,
			"base":     v.BaseAsset,
			"asset":    "ALL",
		},
		map[string]interface{}{"value": v.Total, "weight": 1.0},
		ts)
	if err != nil {
		r.log.Error("influx point", zap.Error(err))
	} else {
		bp.AddPoint(total)
	}
	if err := r.cli.Write(bp); err != nil {
		r.log.Error("write valuation to influx", zap.Error(err),
			zap.String("base", v.BaseAsset))
	}
}

func (r *InfluxReporter) Close() error {
	return r.cli.Close()
}

// NopReporter 干跑和测试使用的空实现。
type NopReporter struct{}

func (NopReporter) ReportFill(Fill, string, string)           {}
func (NopReporter) ReportValuation(Valuation, string, string) {}
func (NopReporter) Close() error                              { return nil }
