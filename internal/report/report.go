// Package report строит аналитику магазина по заказам, пользователям,
// товарам и отзывам.
package report

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/storefront/internal/model"
)

// TopProductsLimit — число позиций в рейтинге продаж.
const TopProductsLimit = 10

const unknown = "Unknown"

// Source — операции чтения, нужные отчётам.
type Source interface {
	ListOrders(ctx context.Context) ([]model.Order, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	ListProducts(ctx context.Context) ([]model.Product, error)
	ListReviews(ctx context.Context) ([]model.Review, error)
}

// Overview — сводные показатели магазина.
type Overview struct {
	TotalRevenue    decimal.Decimal `json:"totalRevenue"`
	TotalOrders     int             `json:"totalOrders"`
	CompletedOrders int             `json:"completedOrders"`
	CompletionRate  decimal.Decimal `json:"completionRate"`
	TotalCustomers  int             `json:"totalCustomers"`
	TotalProducts   int             `json:"totalProducts"`
	AverageRating   decimal.Decimal `json:"averageRating"`
	TotalReviews    int             `json:"totalReviews"`
}

// DailyRevenue — выручка за календарный день (UTC).
type DailyRevenue struct {
	Date    string          `json:"date"`
	Revenue decimal.Decimal `json:"revenue"`
}

// StatusCount — число заказов в статусе.
type StatusCount struct {
	Status model.OrderStatus `json:"status"`
	Count  int               `json:"count"`
}

// ProductSales — число проданных единиц товара.
type ProductSales struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Sales     int    `json:"sales"`
}

// CustomerMetrics — показатели повторных покупок.
type CustomerMetrics struct {
	TotalCustomers           int             `json:"totalCustomers"`
	OneTimeCustomers         int             `json:"oneTimeCustomers"`
	RepeatCustomers          int             `json:"repeatCustomers"`
	RepeatRate               decimal.Decimal `json:"repeatRate"`
	AverageOrdersPerCustomer decimal.Decimal `json:"averageOrdersPerCustomer"`
}

// MethodCount — число заказов со способом оплаты.
type MethodCount struct {
	Method string `json:"method"`
	Count  int    `json:"count"`
}

// Reporter считает отчёты по данным хранилища.
type Reporter struct {
	src    Source
	logger *zap.Logger
}

// NewReporter создаёт построитель отчётов.
func NewReporter(src Source, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{src: src, logger: logger}
}

// Overview считает сводные показатели. Отменённые заказы в выручку не входят.
func (r *Reporter) Overview(ctx context.Context) (*Overview, error) {
	var (
		orders   []model.Order
		users    []model.User
		products []model.Product
		reviews  []model.Review
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		orders, err = r.src.ListOrders(gctx)
		return wrap("orders", err)
	})
	g.Go(func() (err error) {
		users, err = r.src.ListUsers(gctx)
		return wrap("users", err)
	})
	g.Go(func() (err error) {
		products, err = r.src.ListProducts(gctx)
		return wrap("products", err)
	})
	g.Go(func() (err error) {
		reviews, err = r.src.ListReviews(gctx)
		return wrap("reviews", err)
	})
	if err := g.Wait(); err != nil {
		r.logger.Error("build overview", zap.Error(err))
		return nil, err
	}

	completed := 0
	for _, o := range orders {
		if o.Status == model.OrderStatusCompleted {
			completed++
		}
	}

	ratingSum := decimal.Zero
	for _, p := range products {
		ratingSum = ratingSum.Add(decimal.NewFromFloat(p.AverageRating))
	}

	return &Overview{
		TotalRevenue:    Revenue(orders),
		TotalOrders:     len(orders),
		CompletedOrders: completed,
		CompletionRate:  percent(completed, len(orders)),
		TotalCustomers:  countCustomers(users),
		TotalProducts:   len(products),
		AverageRating:   ratio(ratingSum, len(products), 2),
		TotalReviews:    len(reviews),
	}, nil
}

// RevenueByDate группирует выручку по дням создания заказа по возрастанию даты.
func (r *Reporter) RevenueByDate(ctx context.Context) ([]DailyRevenue, error) {
	orders, err := r.src.ListOrders(ctx)
	if err != nil {
		return nil, wrap("orders", err)
	}

	byDate := make(map[string]decimal.Decimal)
	for _, o := range orders {
		if o.Status == model.OrderStatusCancelled {
			continue
		}
		day := o.CreatedAt.UTC().Format("2006-01-02")
		byDate[day] = byDate[day].Add(o.Total)
	}

	out := make([]DailyRevenue, 0, len(byDate))
	for day, sum := range byDate {
		out = append(out, DailyRevenue{Date: day, Revenue: sum})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// StatusHistogram считает заказы по всем пяти статусам, включая нулевые.
func (r *Reporter) StatusHistogram(ctx context.Context) ([]StatusCount, error) {
	orders, err := r.src.ListOrders(ctx)
	if err != nil {
		return nil, wrap("orders", err)
	}

	counts := make(map[model.OrderStatus]int, len(model.OrderStatuses))
	for _, o := range orders {
		status := o.Status
		if status == "" {
			status = model.OrderStatusPending
		}
		counts[status]++
	}

	out := make([]StatusCount, 0, len(model.OrderStatuses))
	for _, status := range model.OrderStatuses {
		out = append(out, StatusCount{Status: status, Count: counts[status]})
	}
	return out, nil
}

// TopProducts возвращает самые продаваемые товары по числу единиц.
func (r *Reporter) TopProducts(ctx context.Context) ([]ProductSales, error) {
	orders, err := r.src.ListOrders(ctx)
	if err != nil {
		return nil, wrap("orders", err)
	}

	sales := make(map[string]*ProductSales)
	for _, o := range orders {
		for _, it := range o.Items {
			id := it.ProductID
			if id == "" {
				id = "unknown"
			}
			ps, ok := sales[id]
			if !ok {
				name := it.Name
				if name == "" {
					name = unknown
				}
				ps = &ProductSales{ProductID: id, Name: name}
				sales[id] = ps
			}
			qty := it.Quantity
			if qty <= 0 {
				qty = 1
			}
			ps.Sales += qty
		}
	}

	out := make([]ProductSales, 0, len(sales))
	for _, ps := range sales {
		out = append(out, *ps)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Sales != out[j].Sales {
			return out[i].Sales > out[j].Sales
		}
		return out[i].ProductID < out[j].ProductID
	})
	if len(out) > TopProductsLimit {
		out = out[:TopProductsLimit]
	}
	return out, nil
}

// CustomerMetrics считает одноразовых и повторных покупателей. Учитываются
// только заказы пользователей с ролью customer.
func (r *Reporter) CustomerMetrics(ctx context.Context) (*CustomerMetrics, error) {
	var (
		orders []model.Order
		users  []model.User
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		orders, err = r.src.ListOrders(gctx)
		return wrap("orders", err)
	})
	g.Go(func() (err error) {
		users, err = r.src.ListUsers(gctx)
		return wrap("users", err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	customers := make(map[string]int)
	for _, u := range users {
		if u.Role == model.RoleCustomer {
			customers[u.Email] = 0
		}
	}
	for _, o := range orders {
		if _, ok := customers[o.CustomerEmail]; ok {
			customers[o.CustomerEmail]++
		}
	}

	m := &CustomerMetrics{TotalCustomers: len(customers)}
	for _, n := range customers {
		switch {
		case n == 1:
			m.OneTimeCustomers++
		case n > 1:
			m.RepeatCustomers++
		}
	}
	m.RepeatRate = percent(m.RepeatCustomers, m.TotalCustomers)
	m.AverageOrdersPerCustomer = ratio(decimal.NewFromInt(int64(len(orders))), m.TotalCustomers, 2)
	return m, nil
}

// PaymentMethods считает заказы по способам оплаты.
func (r *Reporter) PaymentMethods(ctx context.Context) ([]MethodCount, error) {
	orders, err := r.src.ListOrders(ctx)
	if err != nil {
		return nil, wrap("orders", err)
	}

	counts := make(map[string]int)
	for _, o := range orders {
		method := string(o.PaymentMethod)
		if method == "" {
			method = unknown
		}
		counts[method]++
	}

	out := make([]MethodCount, 0, len(counts))
	for method, n := range counts {
		out = append(out, MethodCount{Method: method, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Method < out[j].Method })
	return out, nil
}

// Revenue суммирует итоги заказов, кроме отменённых.
func Revenue(orders []model.Order) decimal.Decimal {
	sum := decimal.Zero
	for _, o := range orders {
		if o.Status != model.OrderStatusCancelled {
			sum = sum.Add(o.Total)
		}
	}
	return sum
}

func countCustomers(users []model.User) int {
	n := 0
	for _, u := range users {
		if u.Role == model.RoleCustomer {
			n++
		}
	}
	return n
}

func percent(part, total int) decimal.Decimal {
	return ratio(decimal.NewFromInt(int64(part*100)), total, 1)
}

func ratio(sum decimal.Decimal, n, places int) decimal.Decimal {
	if n == 0 {
		return decimal.Zero
	}
	return sum.DivRound(decimal.NewFromInt(int64(n)), int32(places))
}

func wrap(what string, err error) error {
	if err != nil {
		return fmt.Errorf("list %s: %w", what, err)
	}
	return nil
}
