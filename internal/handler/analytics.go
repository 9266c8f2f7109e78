package handler

import (
	"context"
	"net/http"
)

// analytics оборачивает построение отчёта в обработчик.
func analytics[T any](h *Handler, op string, build func(ctx context.Context) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := build(r.Context())
		if err != nil {
			h.writeError(w, r, op, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (h *Handler) analyticsRoutes() map[string]http.HandlerFunc {
	return map[string]http.HandlerFunc{
		"/overview":         analytics(h, "analytics overview", h.reports.Overview),
		"/revenue":          analytics(h, "revenue analytics", h.reports.RevenueByDate),
		"/orders":           analytics(h, "order analytics", h.reports.StatusHistogram),
		"/top-products":     analytics(h, "top products", h.reports.TopProducts),
		"/customer-metrics": analytics(h, "customer metrics", h.reports.CustomerMetrics),
		"/payment-methods":  analytics(h, "payment methods", h.reports.PaymentMethods),
	}
}
