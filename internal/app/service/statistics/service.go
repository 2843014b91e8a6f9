package statistics

import (
	"context"
	"fmt"
	"sync"

	"github.com/fatflowers/settle/internal/app/service/apperr"
	"github.com/fatflowers/settle/internal/models"
	"github.com/fatflowers/settle/pkg/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type StatisticType string

const (
	// intents created per day; value2 is how many of them completed
	StatisticTypeDailyIntentCount StatisticType = "daily_intent_count"
	// completed amount per day and currency
	StatisticTypeDailyRevenue StatisticType = "daily_revenue"
	StatisticTypeTotalRevenue StatisticType = "total_revenue"
	// intent count per canonical status
	StatisticTypeStatusBreakdown StatisticType = "status_breakdown"
	// intent count per rail; value2 is completed
	StatisticTypeRailBreakdown StatisticType = "rail_breakdown"
	// completed intents grouped by how many retries they needed
	StatisticTypeRetryDistribution StatisticType = "retry_distribution"
)

var statisticTypes = []StatisticType{
	StatisticTypeDailyIntentCount,
	StatisticTypeDailyRevenue,
	StatisticTypeTotalRevenue,
	StatisticTypeStatusBreakdown,
	StatisticTypeRailBreakdown,
	StatisticTypeRetryDistribution,
}

// revenue statistics always read completed intents, so a status filter would
// only confuse them
var revenueTypes = []StatisticType{StatisticTypeDailyRevenue, StatisticTypeTotalRevenue}

type DataItem struct {
	ID StatisticType `json:"id"`
}

type Request struct {
	Filters   []*types.CommonFilter `json:"filters"`
	DataItems []*DataItem           `json:"data_items"`
}

func (r *Request) validate() error {
	verr := &apperr.ValidationError{}
	if len(r.DataItems) == 0 {
		verr.Add("data_items", "at least one statistic is required")
	}
	for _, it := range r.DataItems {
		if it == nil || !lo.Contains(statisticTypes, it.ID) {
			verr.Add("data_items", fmt.Sprintf("unknown statistic %v", lo.FromPtr(it).ID))
		}
	}
	for _, f := range r.Filters {
		if f == nil {
			continue
		}
		if err := f.Validate(types.IntentFilterFields); err != nil {
			verr.Add("filters", err.Error())
		}
	}
	return verr.OrNil()
}

// filtersFor drops status filters from revenue statistics.
func (r *Request) filtersFor(t StatisticType) []*types.CommonFilter {
	if !lo.Contains(revenueTypes, t) {
		return lo.Compact(r.Filters)
	}
	return lo.Filter(r.Filters, func(f *types.CommonFilter, _ int) bool {
		return f != nil && f.Field != "status"
	})
}

type DataPoint struct {
	Date   string              `json:"date,omitempty"`
	Label  string              `json:"label,omitempty"`
	Value  int64               `json:"value"`
	Value2 int64               `json:"value2,omitempty"`
	Amount decimal.NullDecimal `json:"amount"`
}

type Response struct {
	DataItems map[StatisticType][]DataPoint `json:"data_items"`
}

// Service answers admin statistics from the SQL journey tables.
type Service struct {
	db *gorm.DB
}

// New accepts a nil db; statistics then report that they need a SQL driver.
func New(db *gorm.DB) *Service { return &Service{db: db} }

// dayOf renders a timestamp column as YYYY-MM-DD on both postgres and mysql.
func dayOf(col string) string {
	return "CAST(DATE(" + col + ") AS CHAR(10))"
}

func (s *Service) intents(ctx context.Context, filters []*types.CommonFilter) *gorm.DB {
	tx := s.db.WithContext(ctx).Table((models.PurchaseIntent{}).TableName())
	if len(filters) > 0 {
		tx = tx.Where(clause.Where{Exprs: []clause.Expression{types.FiltersAnd(filters)}})
	}
	return tx
}

func (s *Service) dailyIntentCount(ctx context.Context, filters []*types.CommonFilter) ([]DataPoint, error) {
	var out []DataPoint
	err := s.intents(ctx, filters).
		Select(dayOf("created_at")+" AS date, COUNT(*) AS value, SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS value2",
			types.PaymentStatusCompleted).
		Group(dayOf("created_at")).
		Order("date DESC").
		Scan(&out).Error
	return out, err
}

func (s *Service) dailyRevenue(ctx context.Context, filters []*types.CommonFilter) ([]DataPoint, error) {
	var out []DataPoint
	err := s.intents(ctx, filters).
		Select(dayOf("completed_at")+" AS date, currency AS label, COUNT(*) AS value, SUM(completed_amount) AS amount").
		Where("status = ? AND completed_at IS NOT NULL", types.PaymentStatusCompleted).
		Group(dayOf("completed_at")).
		Group("currency").
		Order("date DESC").
		Order("label").
		Scan(&out).Error
	return out, err
}

func (s *Service) totalRevenue(ctx context.Context, filters []*types.CommonFilter) ([]DataPoint, error) {
	var out []DataPoint
	err := s.intents(ctx, filters).
		Select("currency AS label, COUNT(*) AS value, SUM(completed_amount) AS amount").
		Where("status = ?", types.PaymentStatusCompleted).
		Group("currency").
		Order("label").
		Scan(&out).Error
	return out, err
}

func (s *Service) statusBreakdown(ctx context.Context, filters []*types.CommonFilter) ([]DataPoint, error) {
	var out []DataPoint
	err := s.intents(ctx, filters).
		Select("status AS label, COUNT(*) AS value").
		Group("status").
		Order("label").
		Scan(&out).Error
	return out, err
}

func (s *Service) railBreakdown(ctx context.Context, filters []*types.CommonFilter) ([]DataPoint, error) {
	var out []DataPoint
	err := s.intents(ctx, filters).
		Select("rail AS label, COUNT(*) AS value, SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS value2",
			types.PaymentStatusCompleted).
		Group("rail").
		Order("label").
		Scan(&out).Error
	return out, err
}

type retryRow struct {
	RetryCount int
	Value      int64
}

func (s *Service) retryDistribution(ctx context.Context, filters []*types.CommonFilter) ([]DataPoint, error) {
	var rows []retryRow
	err := s.intents(ctx, filters).
		Select("retry_count, COUNT(*) AS value").
		Where("status = ?", types.PaymentStatusCompleted).
		Group("retry_count").
		Order("retry_count").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return lo.Map(rows, func(r retryRow, _ int) DataPoint {
		return DataPoint{Label: fmt.Sprint(r.RetryCount), Value: r.Value}
	}), nil
}

func (s *Service) statistic(ctx context.Context, t StatisticType, filters []*types.CommonFilter) ([]DataPoint, error) {
	switch t {
	case StatisticTypeDailyIntentCount:
		return s.dailyIntentCount(ctx, filters)
	case StatisticTypeDailyRevenue:
		return s.dailyRevenue(ctx, filters)
	case StatisticTypeTotalRevenue:
		return s.totalRevenue(ctx, filters)
	case StatisticTypeStatusBreakdown:
		return s.statusBreakdown(ctx, filters)
	case StatisticTypeRailBreakdown:
		return s.railBreakdown(ctx, filters)
	case StatisticTypeRetryDistribution:
		return s.retryDistribution(ctx, filters)
	}
	return nil, fmt.Errorf("invalid data item id: %s", t)
}

// Get computes every requested statistic concurrently.
func (s *Service) Get(ctx context.Context, req *Request) (*Response, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if s.db == nil {
		return nil, apperr.Validation("database", "statistics need the postgres or mysql driver")
	}

	var mu sync.Mutex
	results := make(map[StatisticType][]DataPoint, len(req.DataItems))
	g, gctx := errgroup.WithContext(ctx)
	for _, it := range lo.UniqBy(req.DataItems, func(d *DataItem) StatisticType { return d.ID }) {
		it := it
		g.Go(func() error {
			res, err := s.statistic(gctx, it.ID, req.filtersFor(it.ID))
			if err != nil {
				return fmt.Errorf("%s: %w", it.ID, err)
			}
			mu.Lock()
			results[it.ID] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &Response{DataItems: results}, nil
}

var Module = fx.Options(
	fx.Provide(New),
)
