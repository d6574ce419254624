// README: HTTP router registration.
package http

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"trigo/internal/http/handlers"
	"trigo/internal/http/middleware"
	"trigo/internal/infra"
	"trigo/internal/modules/driver"
	"trigo/internal/modules/matching"
	"trigo/internal/modules/pricing"
	"trigo/internal/modules/ride"
)

type RouterDeps struct {
	Rides    *ride.Service
	Drivers  *driver.Service
	Matching *matching.Service
	Pricing  *pricing.Service
	Verifier infra.TokenVerifier
	Log      logrus.FieldLogger
	// CORSOrigins enables CORS when non-empty; "*" allows any origin.
	CORSOrigins []string
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.Recovery(deps.Log),
		middleware.Logging(deps.Log),
		middleware.Metrics(),
	)
	if len(deps.CORSOrigins) > 0 {
		r.Use(cors.New(corsConfig(deps.CORSOrigins)))
	}

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", middleware.Auth(deps.Verifier))

	rideHandler := handlers.NewRideHandler(deps.Rides, deps.Log)
	api.GET("/rides/:id", rideHandler.Get)

	passengerHandler := handlers.NewPassengerHandler(deps.Rides, deps.Matching, deps.Pricing, deps.Log)
	passenger := api.Group("/passenger", middleware.RequireRole(middleware.RolePassenger))
	passenger.GET("/dashboard", passengerHandler.Dashboard)
	passenger.POST("/rides", passengerHandler.RequestRide)
	passenger.GET("/rides/current", passengerHandler.CurrentRide)
	passenger.GET("/rides/history", passengerHandler.History)
	passenger.POST("/rides/:id/cancel", passengerHandler.CancelRide)
	passenger.GET("/drivers/nearby", passengerHandler.NearbyDrivers)
	passenger.POST("/fare-estimate", passengerHandler.FareEstimate)

	driverHandler := handlers.NewDriverHandler(deps.Rides, deps.Drivers, deps.Matching, deps.Log)
	drv := api.Group("/driver", middleware.RequireRole(middleware.RoleDriver))
	drv.GET("/dashboard", driverHandler.Dashboard)
	drv.GET("/profile", driverHandler.Profile)
	drv.POST("/availability", driverHandler.SetAvailability)
	drv.POST("/location", driverHandler.UpdateLocation)
	drv.GET("/rides/queue", driverHandler.Queue)
	drv.GET("/rides/history", driverHandler.History)
	drv.POST("/rides/:id/accept", driverHandler.Accept)
	drv.POST("/rides/:id/decline", driverHandler.Decline)
	drv.POST("/rides/:id/pickup", driverHandler.PickUp)
	drv.POST("/rides/:id/complete", driverHandler.Complete)

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderRequestID},
		ExposeHeaders: []string{"Content-Length", middleware.HeaderRequestID},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}
