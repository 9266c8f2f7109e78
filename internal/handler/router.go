package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/storefront/internal/middleware"
	"github.com/mmeshcher/storefront/internal/model"
)

// limited ограничивает частоту запросов к платёжному шлюзу.
func (h *Handler) limited(next http.HandlerFunc) http.Handler {
	if h.limiter == nil {
		return next
	}
	return h.limiter.Middleware(next)
}

// SetupRouter настраивает HTTP-маршруты и middleware магазина.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	auth := h.authMiddleware
	staff := auth.RequireRoles(model.StaffRoles...)
	management := auth.RequireRoles(model.ManagementRoles...)
	admin := auth.RequireRoles(model.RoleAdmin)

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.With(auth.Middleware).Get("/verify", h.Verify)
		})

		r.Route("/users", func(r chi.Router) {
			r.With(management).Get("/", h.ListUsers)
			r.With(management).Get("/{email}", h.GetUser)
			r.With(admin).Patch("/{email}/role", h.UpdateUserRole)
			r.With(admin).Delete("/{email}", h.DeleteUser)
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Get("/search", h.SearchProducts)
			r.Get("/{id}", h.GetProduct)
			r.With(management).Post("/", h.CreateProduct)
			r.With(management).Patch("/{id}", h.UpdateProduct)
			r.With(management).Delete("/{id}", h.DeleteProduct)
		})

		r.Route("/orders", func(r chi.Router) {
			r.With(auth.Middleware).Post("/", h.CreateOrder)
			r.With(auth.Middleware).Get("/my", h.ListMyOrders)
			r.With(staff).Get("/all", h.ListAllOrders)
			r.With(auth.Middleware).Get("/{id}", h.GetOrder)
			r.With(staff).Patch("/{id}/status", h.UpdateOrderStatus)
			r.With(staff).Patch("/{id}/tracking", h.UpdateOrderTracking)
			r.With(staff).Patch("/{id}/payment", h.UpdateOrderPayment)
			r.With(admin).Delete("/{id}", h.DeleteOrder)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/callback", h.Callback)

			r.Group(func(r chi.Router) {
				r.Use(auth.Middleware)
				r.Method(http.MethodPost, "/initiate-stk", h.limited(h.InitiateSTK))
				r.Method(http.MethodPost, "/query-status", h.limited(h.QueryStatus))
			})
		})

		r.Route("/checkout", func(r chi.Router) {
			r.Use(auth.Middleware)

			r.Post("/", h.StartCheckout)
			r.Get("/{id}", h.GetCheckout)
			r.Put("/{id}/delivery", h.SelectDelivery)
			r.Method(http.MethodPost, "/{id}/express", h.limited(h.SubmitExpress))
			r.Method(http.MethodPost, "/{id}/manual", h.limited(h.SubmitManual))
			r.Post("/{id}/retry", h.RetryCheckout)
			r.Delete("/{id}", h.AbandonCheckout)
		})

		r.Route("/pickup-locations", func(r chi.Router) {
			r.Get("/", h.ListPickupLocations)
			r.Get("/search", h.SearchPickupLocations)
		})

		r.Route("/reviews", func(r chi.Router) {
			r.With(auth.Middleware).Post("/", h.CreateReview)
			r.Get("/product/{productId}", h.ListProductReviews)
			r.With(management).Get("/", h.ListReviews)
			r.With(management).Patch("/{id}", h.VerifyReview)
			r.With(admin).Delete("/{id}", h.DeleteReview)
		})

		r.Route("/analytics", func(r chi.Router) {
			r.Use(management)
			for path, fn := range h.analyticsRoutes() {
				r.Get(path, fn)
			}
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusNotFound, msgNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, msgMethodNotAllow)
	})

	return r
}
