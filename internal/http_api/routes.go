package http_api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thousandfans/fanclub/internal/metrics"
)

// routes sets up the routes for the HTTP server.
func (s *HTTPServer) routes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/metrics", gin.WrapH(metrics.Handler(s.gatherer)))

	// Payment notifications sit outside the per-IP limiter; Circle retries them
	// from a small set of addresses and checks the endpoint with HEAD first.
	s.router.HEAD("/api/webhooks/payment-notifications", func(c *gin.Context) { c.Status(http.StatusOK) })
	s.router.POST("/api/webhooks/payment-notifications", s.paymentNotification)

	api := s.router.Group("/api", s.limiter.middleware())

	auth := api.Group("/auth")
	auth.GET("/config", s.clientConfig)
	auth.POST("/check-for-account", s.checkForAccount)
	auth.POST("/create-wallet-user", s.createWalletUser)
	auth.POST("/create-web3auth-user", s.createWeb3AuthUser)
	auth.POST("/process-payment", s.processPayment)
	auth.POST("/content-challenge", s.contentChallenge)

	payments := api.Group("/payments")
	payments.POST("/create-onramp-session", s.createOnrampSession)
	payments.GET("/onramp-session/:sessionId", s.onrampSession)
	payments.POST("/create-card-payment", s.createCardPayment)
	payments.GET("/status/:paymentId", s.paymentStatus)
	payments.POST("/transfer-usdc", s.transferUSDC)

	api.GET("/membership/:accountId", s.membership)
	api.GET("/catalog/:kind", s.catalogItems)
	api.GET("/content/*key", s.content)
}
