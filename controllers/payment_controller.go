package controller

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/customer"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"gorm.io/gorm"

	"salesreach/config"
	"salesreach/models"
	"salesreach/utils"
)

func InitStripe() {
	stripe.Key = config.AppConfig.StripeSecretKey
}

// creditPackages maps purchasable bundles to their price in cents.
var creditPackages = map[string]struct {
	Credits int
	Price   int64
}{
	"starter": {Credits: 20000, Price: 2000},
	"grow":    {Credits: 100000, Price: 6000},
	"scale":   {Credits: 500000, Price: 20000},
}

// CreatePaymentIntent starts a Stripe purchase of an email credit package.
func CreatePaymentIntent(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req struct {
		Package string `json:"package" validate:"required"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	pkg, ok := creditPackages[req.Package]
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown credit package",
		})
	}

	customerID, err := getOrCreateStripeCustomer(user)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process payment",
		})
	}

	pi, err := paymentintent.New(&stripe.PaymentIntentParams{
		Amount:   stripe.Int64(pkg.Price),
		Currency: stripe.String(string(stripe.CurrencyUSD)),
		Customer: stripe.String(customerID),
		Metadata: map[string]string{
			"user_id": strconv.Itoa(int(user.ID)),
			"package": req.Package,
			"credits": strconv.Itoa(pkg.Credits),
		},
		Description: stripe.String("Purchase of " + req.Package + " credit package"),
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create payment intent",
		})
	}

	transaction := models.CreditTransaction{
		UserID:                user.ID,
		EmailCredits:          pkg.Credits,
		Amount:                int(pkg.Price),
		Currency:              "usd",
		PaymentStatus:         "pending",
		Description:           "Purchase of " + req.Package + " credit package",
		StripePaymentIntentID: pi.ID,
	}
	if err := config.DB.Create(&transaction).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to record transaction",
		})
	}

	return c.JSON(fiber.Map{
		"clientSecret":   pi.ClientSecret,
		"transaction_id": transaction.ID,
		"amount":         pkg.Price,
		"currency":       "usd",
	})
}

// HandlePaymentWebhook handles Stripe webhook events and credits the user
// once a purchase completes.
func HandlePaymentWebhook(c *fiber.Ctx) error {
	event, err := utils.ConstructStripeEvent(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid webhook payload",
		})
	}

	switch event.Type {
	case "payment_intent.succeeded":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Error parsing payment intent",
			})
		}
		return settlePayment(c, &pi, "completed", true)

	case "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Error parsing payment intent",
			})
		}
		return settlePayment(c, &pi, "failed", false)
	}

	return c.JSON(fiber.Map{"received": true})
}

func settlePayment(c *fiber.Ctx, pi *stripe.PaymentIntent, status string, credit bool) error {
	if _, err := applyPaymentOutcome(pi.ID, status, credit); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Transaction not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to settle payment",
		})
	}
	return c.JSON(fiber.Map{"received": true})
}

// applyPaymentOutcome settles a pending transaction exactly once and, on
// success, grants the purchased credits through the credit service. Returns
// false when the webhook was a redelivery of an already settled payment.
func applyPaymentOutcome(paymentIntentID, status string, credit bool) (bool, error) {
	var transaction models.CreditTransaction
	if err := config.DB.Where("stripe_payment_intent_id = ?", paymentIntentID).First(&transaction).Error; err != nil {
		return false, err
	}

	// Webhooks redeliver; only a pending transaction may settle.
	res := config.DB.Model(&models.CreditTransaction{}).
		Where("id = ? AND payment_status = ?", transaction.ID, "pending").
		Update("payment_status", status)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	if credit {
		credits := utils.NewCreditService(config.DB, logrus.StandardLogger())
		if err := credits.AddCredits(transaction.UserID, transaction.EmailCredits); err != nil {
			return true, err
		}
	}
	return true, nil
}

func getOrCreateStripeCustomer(user *models.User) (string, error) {
	if user.StripeCustomerID != "" {
		return user.StripeCustomerID, nil
	}

	cust, err := customer.New(&stripe.CustomerParams{
		Email: stripe.String(user.Email),
		Name:  stripe.String(user.Name),
	})
	if err != nil {
		return "", err
	}

	if err := config.DB.Model(user).Update("stripe_customer_id", cust.ID).Error; err != nil {
		return "", err
	}
	return cust.ID, nil
}
