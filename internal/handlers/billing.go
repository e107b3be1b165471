package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"questtable-backend/internal/common"
	"questtable-backend/internal/config"
	"questtable-backend/internal/email"
	"questtable-backend/internal/models"
	"questtable-backend/internal/notifications"

	"github.com/labstack/echo/v4"
	"github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/webhook"
	"gorm.io/gorm"
)

// BillingHandler handles Stripe billing for host Pro subscriptions
type BillingHandler struct {
	DB          *gorm.DB
	Config      *config.Config
	JwtIssuer   common.JWTIssuer
	EmailClient email.EmailClient
}

// SubscriptionResponse represents the subscription status response
type SubscriptionResponse struct {
	Status            models.SubscriptionStatus `json:"status"`
	Tier              models.SubscriptionTier   `json:"tier"`
	CurrentPeriodEnd  *time.Time                `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd *bool                     `json:"cancel_at_period_end,omitempty"`
}

// NewBillingHandler creates a new billing handler with Stripe integration
func NewBillingHandler(db *gorm.DB, config *config.Config, jwtIssuer common.JWTIssuer, emailClient email.EmailClient) *BillingHandler {
	// Set Stripe API key
	stripe.Key = config.Stripe.SecretKey

	return &BillingHandler{
		DB:          db,
		Config:      config,
		JwtIssuer:   jwtIssuer,
		EmailClient: emailClient,
	}
}

// CreateCheckoutSession creates a Stripe checkout session for the host Pro
// subscription. Subscriptions are per host account, quantity is always one.
func (bh *BillingHandler) CreateCheckoutSession(c echo.Context) error {
	user, found := bh.getAuthenticatedUserFromJWT(c)
	if !found {
		return echo.NewHTTPError(http.StatusUnauthorized, "Failed to authenticate user")
	}

	priceID := bh.Config.Stripe.ProPriceID
	if priceID == "" {
		return echo.NewHTTPError(http.StatusInternalServerError, "STRIPE_PRO_PRICE_ID environment variable is not configured")
	}

	// Check if host already has a subscription
	existingSub, err := models.GetSubscriptionByHostID(bh.DB, user.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to check existing subscription")
	}

	if existingSub != nil && existingSub.IsActive() {
		return echo.NewHTTPError(http.StatusBadRequest, "You already have an active subscription")
	}

	var stripeCustomerID string
	if existingSub != nil {
		stripeCustomerID = existingSub.StripeCustomerID
	} else {
		customerParams := &stripe.CustomerParams{
			Email: stripe.String(user.Email),
			Name:  stripe.String(user.GetDisplayName()),
			Metadata: map[string]string{
				"host_id": user.ID,
			},
		}

		stripeCustomer, err := customer.New(customerParams)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to create Stripe customer")
		}
		stripeCustomerID = stripeCustomer.ID
	}

	params := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(stripe.CheckoutSessionModeSubscription),
		Customer: stripe.String(stripeCustomerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(bh.Config.Stripe.SuccessURL + "?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(bh.Config.Stripe.CancelURL),
		Metadata: map[string]string{
			"host_id": user.ID,
			"tier":    string(models.TierPro),
		},
		AllowPromotionCodes:      stripe.Bool(true),
		BillingAddressCollection: stripe.String("auto"),
		CustomerUpdate: &stripe.CheckoutSessionCustomerUpdateParams{
			Name:    stripe.String("auto"),
			Address: stripe.String("auto"),
		},
		TaxIDCollection: &stripe.CheckoutSessionTaxIDCollectionParams{
			Enabled: stripe.Bool(true),
		},
	}

	session, err := checkoutsession.New(params)
	if err != nil {
		c.Logger().Errorf("Stripe checkout session creation failed: %v", err)

		// Check if it's a price ID issue
		if strings.Contains(err.Error(), "No such price") {
			return echo.NewHTTPError(http.StatusInternalServerError,
				fmt.Sprintf("Invalid Stripe price ID configured: %s. Please check your STRIPE_PRO_PRICE_ID environment variable.", priceID))
		}

		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to create checkout session")
	}

	return c.JSON(http.StatusOK, map[string]string{
		"checkout_url": session.URL,
		"session_id":   session.ID,
	})
}

// CreatePortalSession creates a Stripe billing portal session
func (bh *BillingHandler) CreatePortalSession(c echo.Context) error {
	user, found := bh.getAuthenticatedUserFromJWT(c)
	if !found {
		return echo.NewHTTPError(http.StatusUnauthorized, "Failed to authenticate user")
	}

	subscription, err := models.GetSubscriptionByHostID(bh.DB, user.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to get subscription")
	}

	if subscription == nil {
		return echo.NewHTTPError(http.StatusNotFound, "No subscription found")
	}

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(subscription.StripeCustomerID),
		ReturnURL: stripe.String(fmt.Sprintf("https://%s/subscription", bh.Config.Server.DeployDomain)),
	}

	portalSession, err := portalsession.New(params)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to create portal session")
	}

	return c.JSON(http.StatusOK, map[string]string{
		"portal_url": portalSession.URL,
	})
}

// GetSubscriptionStatus returns the current subscription status for the host
func (bh *BillingHandler) GetSubscriptionStatus(c echo.Context) error {
	user, found := bh.getAuthenticatedUserFromJWT(c)
	if !found {
		return echo.NewHTTPError(http.StatusUnauthorized, "Failed to authenticate user")
	}

	subscription, err := models.GetSubscriptionByHostID(bh.DB, user.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to get subscription")
	}

	// Hosts with no subscription row are on the free trial tier
	var subscriptionResponse SubscriptionResponse
	if subscription != nil {
		subscriptionResponse = SubscriptionResponse{
			Status:            subscription.Status,
			Tier:              subscription.Tier,
			CurrentPeriodEnd:  &subscription.CurrentPeriodEnd,
			CancelAtPeriodEnd: &subscription.CancelAtPeriodEnd,
		}
	} else {
		subscriptionResponse = SubscriptionResponse{
			Status: models.StatusTrialing,
			Tier:   models.TierFree,
		}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"subscription": subscriptionResponse,
	})
}

// HandleWebhook handles Stripe webhook events
func (bh *BillingHandler) HandleWebhook(c echo.Context) error {
	const MaxBodyBytes = int64(65536)
	body := http.MaxBytesReader(c.Response(), c.Request().Body, MaxBodyBytes)
	payload, err := io.ReadAll(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Error reading request body")
	}

	// Verify webhook signature
	event, err := webhook.ConstructEvent(payload, c.Request().Header.Get("Stripe-Signature"), bh.Config.Stripe.WebhookSecret)
	if err != nil {
		c.Logger().Errorf("Webhook signature verification failed: %v", err)
		return echo.NewHTTPError(http.StatusBadRequest, "Webhook signature verification failed")
	}

	// All events are here:
	// https://docs.stripe.com/api/events/types
	switch event.Type {
	case "customer.subscription.updated":
		err = bh.handleSubscriptionUpdated(c, event)
	case "checkout.session.completed":
		err = bh.handleCheckoutSessionCompleted(c, event)
	default:
		c.Logger().Infof("Unhandled event type: %s", event.Type)
	}

	if err != nil {
		c.Logger().Errorf("Error handling webhook event %s: %v", event.Type, err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Error processing webhook")
	}

	return c.NoContent(http.StatusOK)
}

// Changes in subscription like cancelling
func (bh *BillingHandler) handleSubscriptionUpdated(c echo.Context, event stripe.Event) error {
	var subscription stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
		return err
	}

	dbSub, err := models.GetSubscriptionByStripeID(bh.DB, subscription.ID)
	if err != nil {
		c.Logger().Errorf("Failed to get subscription by stripe ID: %v", err)
		return err
	}

	if dbSub == nil {
		c.Logger().Errorf("Subscription not found in database: %s", subscription.ID)
		return nil
	}

	if subscription.CancelAtPeriodEnd {
		dbSub.Status = models.StatusCanceled
		if err := bh.DB.Save(dbSub).Error; err != nil {
			c.Logger().Errorf("Failed to save subscription: %v", err)
			return err
		}

		host, err := models.GetUserByID(bh.DB, dbSub.HostID)
		if err != nil {
			c.Logger().Errorf("Failed to get host for subscription: %v", err)
		} else if bh.EmailClient != nil {
			c.Logger().Infof("Sending subscription cancellation email to host: %s", host.Email)
			bh.EmailClient.SendSubscriptionCancellationEmail(host)
		}

		_ = notifications.SendSlackNotification(fmt.Sprintf("Host %s cancelled their Pro subscription", dbSub.HostID), bh.Config)
	}

	// Revoking cancelled subscription
	if !subscription.CancelAtPeriodEnd && event.GetPreviousValue("cancel_at_period_end") == "true" {
		dbSub.Status = models.StatusActive
		if err := bh.DB.Save(dbSub).Error; err != nil {
			c.Logger().Errorf("Failed to save subscription: %v", err)
			return err
		}

		c.Logger().Infof("Revoking cancelled subscription: %s", subscription.ID)
		_ = notifications.SendSlackNotification(fmt.Sprintf("Host %s revoked their subscription cancellation", dbSub.HostID), bh.Config)
	}

	return nil
}

func (bh *BillingHandler) handleCheckoutSessionCompleted(c echo.Context, event stripe.Event) error {
	c.Logger().Infof("Handling checkout session completed event: %s", event.ID)
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return err
	}

	// If there's no subscription, this wasn't a subscription checkout
	if session.Subscription == nil {
		return nil
	}

	hostID := session.Metadata["host_id"]
	if hostID == "" {
		return fmt.Errorf("host_id not found in subscription metadata")
	}

	tier := models.SubscriptionTier(session.Metadata["tier"])

	// Get or create subscription record
	dbSub, err := models.GetSubscriptionByStripeID(bh.DB, session.Subscription.ID)
	if err != nil {
		return err
	}

	if dbSub == nil {
		c.Logger().Infof("Creating new subscription for host: %s", hostID)
		dbSub = &models.Subscription{
			HostID:               hostID,
			StripeCustomerID:     session.Customer.ID,
			StripeSubscriptionID: session.Subscription.ID,
		}
	}

	dbSub.Status = models.StatusActive
	dbSub.Tier = tier
	// Note: Stripe subscription doesn't have direct CurrentPeriodStart/End fields
	// These would typically come from the invoice or billing cycle
	dbSub.CurrentPeriodStart = time.Unix(session.Created, 0)
	dbSub.CurrentPeriodEnd = time.Unix(session.Created, 0).AddDate(0, 1, 0) // Assume monthly
	dbSub.CancelAtPeriodEnd = session.Subscription.CancelAtPeriodEnd

	if session.Subscription.CanceledAt != 0 {
		canceledAt := time.Unix(session.Subscription.CanceledAt, 0)
		dbSub.CanceledAt = &canceledAt
	}

	if err := bh.DB.Save(dbSub).Error; err != nil {
		c.Logger().Errorf("Failed to save subscription: %v", err)
		return err
	}

	host, err := models.GetUserByID(bh.DB, hostID)
	if err != nil {
		c.Logger().Errorf("Failed to get host for subscription: %v", err)
	} else if bh.EmailClient != nil {
		c.Logger().Infof("Sending subscription confirmation email to host: %s", host.Email)
		bh.EmailClient.SendSubscriptionConfirmationEmail(host)
	}

	_ = notifications.SendSlackNotification(fmt.Sprintf("Host %s activated a Pro subscription", hostID), bh.Config)

	return nil
}
