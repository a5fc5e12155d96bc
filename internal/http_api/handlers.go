package http_api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thousandfans/fanclub/internal/models"
)

// maxNotificationSize caps webhook bodies read into memory.
const maxNotificationSize = 1 << 20

// CheckAccountRequest represents the JSON body of an identity lookup
type CheckAccountRequest struct {
	Email     string `json:"email" binding:"omitempty,email"`
	PublicKey string `json:"publicKey" binding:"omitempty,startswith=ed25519:,len=52"`
	AccountID string `json:"accountId" binding:"omitempty,min=2,max=64"`
}

// WalletUserRequest represents the JSON body for a wallet login
type WalletUserRequest struct {
	AccountID string `json:"accountId" binding:"required,min=2,max=64"`
	Email     string `json:"email" binding:"omitempty,email"`
}

// Web3AuthUserRequest represents the JSON body for custodial account provisioning
type Web3AuthUserRequest struct {
	AccountID string  `json:"accountId" binding:"required"`
	PublicKey string  `json:"publicKey" binding:"required"`
	Email     string  `json:"email" binding:"required,email"`
	PaymentID string  `json:"paymentId"`
	Amount    float64 `json:"amount" binding:"omitempty,gte=0"`
}

// OnrampSessionRequest represents the JSON body for a Stripe on-ramp session
type OnrampSessionRequest struct {
	AccountID          string  `json:"accountId" binding:"required"`
	Email              string  `json:"email" binding:"required,email"`
	Amount             float64 `json:"amount" binding:"required,gte=5,lte=20"`
	DestinationAddress string  `json:"destinationAddress" binding:"omitempty,min=2,max=64"`
}

// CardPaymentRequest represents the JSON body of a card checkout
type CardPaymentRequest struct {
	AccountID      string  `json:"accountId"`
	PublicKey      string  `json:"publicKey"`
	Email          string  `json:"email" binding:"required,email"`
	Amount         float64 `json:"amount" binding:"required,gte=5,lte=20"`
	CardNumber     string  `json:"cardNumber" binding:"required"`
	Expiry         string  `json:"expiry" binding:"required,len=5"`
	CVV            string  `json:"cvv" binding:"required,number,min=3,max=4"`
	IdempotencyKey string  `json:"idempotencyKey"`
}

func (r CardPaymentRequest) checkout() models.CardCheckoutRequest {
	return models.CardCheckoutRequest{
		AccountID:      r.AccountID,
		PublicKey:      r.PublicKey,
		Email:          r.Email,
		Amount:         r.Amount,
		CardNumber:     r.CardNumber,
		Expiry:         r.Expiry,
		CVV:            r.CVV,
		IdempotencyKey: r.IdempotencyKey,
	}
}

// ContentChallengeRequest represents the JSON body of a gated content challenge
type ContentChallengeRequest struct {
	AccountID string `json:"accountId" binding:"required,min=2,max=64"`
}

// TransferRequest represents the JSON body of a treasury sweep
type TransferRequest struct {
	PaymentID          string  `json:"paymentId"`
	Amount             float64 `json:"amount" binding:"required,gt=0"`
	DestinationAddress string  `json:"destinationAddress"`
	IdempotencyKey     string  `json:"idempotencyKey"`
}

func requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), RequestTimeout)
}

// bind parses the JSON body and answers 400 when it does not fit.
func (s *HTTPServer) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		s.logger.Debug("Invalid request body", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body: " + err.Error(),
		})
		return false
	}
	return true
}

// writeError maps service errors onto status codes. Upstream errors are answered
// with their message.
func (s *HTTPServer) writeError(c *gin.Context, err error) {
	var validationErr *models.ValidationError
	var duplicateErr *models.DuplicateError

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &validationErr), errors.As(err, &duplicateErr):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrInvalidSignature), errors.Is(err, models.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, models.ErrNotMember):
		status = http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "path", c.FullPath(), "error", err)
	} else {
		s.logger.Debug("Request rejected", "path", c.FullPath(), "status", status, "error", err)
	}
	c.JSON(status, gin.H{
		"success": false,
		"error":   err.Error(),
	})
}

func (s *HTTPServer) checkForAccount(c *gin.Context) {
	var req CheckAccountRequest
	if !s.bind(c, &req) {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	check, err := s.fanclub.CheckForAccount(ctx, models.AccountQuery{
		AccountID: req.AccountID,
		Email:     req.Email,
		PublicKey: req.PublicKey,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, check)
}

func (s *HTTPServer) createWalletUser(c *gin.Context) {
	var req WalletUserRequest
	if !s.bind(c, &req) {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	account, created, err := s.fanclub.CreateWalletUser(ctx, req.AccountID, req.Email)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"created": created,
		"user":    account,
	})
}

func (s *HTTPServer) createWeb3AuthUser(c *gin.Context) {
	var req Web3AuthUserRequest
	if !s.bind(c, &req) {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	result, err := s.fanclub.ProvisionAccount(ctx, models.ProvisionRequest{
		AccountID: req.AccountID,
		PublicKey: req.PublicKey,
		Email:     req.Email,
		PaymentID: req.PaymentID,
		Amount:    req.Amount,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"accountId": result.AccountID,
		"tokenId":   result.TokenID,
	})
}

func (s *HTTPServer) createOnrampSession(c *gin.Context) {
	var req OnrampSessionRequest
	if !s.bind(c, &req) {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	session, err := s.fanclub.CreateOnrampSession(ctx, models.OnrampSessionRequest{
		AccountID:          req.AccountID,
		Email:              req.Email,
		Amount:             req.Amount,
		DestinationAddress: req.DestinationAddress,
		CustomerIP:         requestIP(c),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"clientSecret": session.ClientSecret,
		"sessionId":    session.ID,
	})
}

func (s *HTTPServer) onrampSession(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	payment, err := s.fanclub.RefreshOnrampSession(ctx, c.Param("sessionId"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"payment": payment,
	})
}

func (s *HTTPServer) createCardPayment(c *gin.Context) {
	var req CardPaymentRequest
	if !s.bind(c, &req) {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	payment, err := s.fanclub.CreateCardPayment(ctx, req.checkout())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"paymentId": payment.Reference,
		"status":    payment.Status,
	})
}

func (s *HTTPServer) processPayment(c *gin.Context) {
	var req CardPaymentRequest
	if !s.bind(c, &req) {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	payment, err := s.fanclub.ProcessPayment(ctx, req.checkout())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"paymentId": payment.Reference,
		"status":    payment.Status,
	})
}

func (s *HTTPServer) paymentStatus(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	payment, err := s.fanclub.RefreshPayment(ctx, c.Param("paymentId"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"payment": payment,
	})
}

func (s *HTTPServer) transferUSDC(c *gin.Context) {
	var req TransferRequest
	if !s.bind(c, &req) {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	transferID, err := s.fanclub.TransferUSDC(ctx, models.SweepRequest{
		PaymentID:          req.PaymentID,
		Amount:             req.Amount,
		DestinationAddress: req.DestinationAddress,
		IdempotencyKey:     req.IdempotencyKey,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"transferId": transferID,
	})
}

// paymentNotification receives Circle notifications. The signature covers the raw
// body, so it is read as is.
func (s *HTTPServer) paymentNotification(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxNotificationSize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Failed to read body",
		})
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	err = s.fanclub.HandlePaymentNotification(ctx, c.GetHeader("X-Circle-Key-Id"), c.GetHeader("X-Circle-Signature"), body)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Webhook processed",
	})
}

func (s *HTTPServer) membership(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	c.JSON(http.StatusOK, s.fanclub.Membership(ctx, c.Param("accountId")))
}

// clientConfig returns the public identifiers the browser needs to start a login.
func (s *HTTPServer) clientConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"web3authClientId": s.config.CustodialAuthClient,
		"networkId":        s.config.NetworkID,
		"accountSuffix":    s.config.AccountSuffix,
		"nftContractId":    s.config.NFTContractID,
		"groupContractId":  s.config.GroupContractID,
	})
}

func (s *HTTPServer) catalogItems(c *gin.Context) {
	items, err := s.catalog.Items(c.Param("kind"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"items":   items,
	})
}

func (s *HTTPServer) contentChallenge(c *gin.Context) {
	var req ContentChallengeRequest
	if !s.bind(c, &req) {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	challenge, err := s.fanclub.ContentChallenge(ctx, req.AccountID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"accountId": challenge.AccountID,
		"nonce":     challenge.Nonce,
		"message":   challenge.Message,
		"expiresAt": challenge.ExpiresAt,
	})
}

func (s *HTTPServer) content(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	url, err := s.fanclub.ContentURL(ctx, models.ContentRequest{
		AccountID: c.GetHeader("X-Account-Id"),
		PublicKey: c.GetHeader("X-Public-Key"),
		Nonce:     c.GetHeader("X-Challenge-Nonce"),
		Signature: c.GetHeader("X-Signature"),
		Key:       c.Param("key"),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"url":       url,
		"expiresIn": int(s.config.PresignExpiry.Seconds()),
	})
}
