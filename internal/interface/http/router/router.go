// Package router assembles the gin engine: middleware chain, API routes and
// the operational endpoints.
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/xiebiao/stockledger/docs"
	"github.com/xiebiao/stockledger/internal/interface/http/handler"
	"github.com/xiebiao/stockledger/internal/interface/http/middleware"
	"github.com/xiebiao/stockledger/pkg/response"
)

// Options selects the gin mode and whether /swagger is mounted.
type Options struct {
	Mode    string // debug | release | test
	Swagger bool
}

// New builds the engine with the middleware chain and every route.
func New(
	opts Options,
	logger *zap.Logger,
	stocks *handler.StockHandler,
	reservations *handler.ReservationHandler,
) *gin.Engine {
	switch opts.Mode {
	case gin.ReleaseMode, gin.TestMode:
		gin.SetMode(opts.Mode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.Recovery(logger),
		middleware.Tracing(),
		middleware.Metrics(),
		middleware.AccessLog(logger),
	)

	r.GET("/ping", func(c *gin.Context) {
		response.Success(c, gin.H{"message": "pong", "status": "healthy"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if opts.Swagger {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	v1 := r.Group("/api/v1")
	{
		s := v1.Group("/stocks")
		{
			s.POST("", stocks.RegisterSKU)
			s.GET("/:sku", stocks.GetStock)
			s.PATCH("/:sku", stocks.UpdateStock)
			s.GET("/:sku/low", stocks.CheckLowStock)
			s.GET("/:sku/reconcile", stocks.Reconcile)
			s.GET("/:sku/movements", stocks.ListMovements)
		}

		v1.GET("/low-stock", stocks.ListLowStock)

		res := v1.Group("/reservations")
		{
			res.POST("", reservations.Reserve)
			res.POST("/batch", reservations.ReserveBatch)
			res.GET("/:id", reservations.Get)
			res.POST("/:id/commit", reservations.Commit)
			res.POST("/:id/release", reservations.Release)
		}
	}

	return r
}
