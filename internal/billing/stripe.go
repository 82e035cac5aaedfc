package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/customer"
	"github.com/stripe/stripe-go/v81/paymentmethod"
	"github.com/stripe/stripe-go/v81/setupintent"
	"github.com/stripe/stripe-go/v81/subscription"
	"github.com/stripe/stripe-go/v81/subscriptionitem"

	"github.com/rankpilot/rankpilot/internal/circuitbreaker"
	"github.com/rankpilot/rankpilot/internal/fault"
	"github.com/rankpilot/rankpilot/internal/metrics"
)

// breakerKey is the single circuit-breaker key: the processor fails as a whole.
const breakerKey = "stripe"

// DefaultTimeout bounds every remote call.
const DefaultTimeout = 10 * time.Second

// StripeGateway implements Gateway against the Stripe API.
//
// SDK entry points are held as function fields so tests can substitute
// fakes without a network; production uses the package-level Stripe funcs.
type StripeGateway struct {
	timeout time.Duration
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger

	newCustomer    func(*stripe.CustomerParams) (*stripe.Customer, error)
	updateCustomer func(string, *stripe.CustomerParams) (*stripe.Customer, error)
	attachMethod   func(string, *stripe.PaymentMethodAttachParams) (*stripe.PaymentMethod, error)
	newSub         func(*stripe.SubscriptionParams) (*stripe.Subscription, error)
	getSub         func(string, *stripe.SubscriptionParams) (*stripe.Subscription, error)
	newItem        func(*stripe.SubscriptionItemParams) (*stripe.SubscriptionItem, error)
	updateItem     func(string, *stripe.SubscriptionItemParams) (*stripe.SubscriptionItem, error)
	delItem        func(string, *stripe.SubscriptionItemParams) (*stripe.SubscriptionItem, error)
	newSetupIntent func(*stripe.SetupIntentParams) (*stripe.SetupIntent, error)
	getSetupIntent func(string, *stripe.SetupIntentParams) (*stripe.SetupIntent, error)
}

// NewStripeGateway creates a Stripe-backed gateway. apiKey is the secret key;
// timeout of 0 uses DefaultTimeout.
func NewStripeGateway(apiKey string, timeout time.Duration, logger *slog.Logger) *StripeGateway {
	stripe.Key = apiKey
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &StripeGateway{
		timeout: timeout,
		breaker: circuitbreaker.New(5, 30*time.Second),
		logger:  logger,

		newCustomer:    customer.New,
		updateCustomer: customer.Update,
		attachMethod:   paymentmethod.Attach,
		newSub:         subscription.New,
		getSub:         subscription.Get,
		newItem:        subscriptionitem.New,
		updateItem:     subscriptionitem.Update,
		delItem:        subscriptionitem.Del,
		newSetupIntent: setupintent.New,
		getSetupIntent: setupintent.Get,
	}
}

// call wraps a remote operation with the circuit breaker, a bounded timeout,
// metrics, and error classification.
func (g *StripeGateway) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if !g.breaker.Allow(breakerKey) {
		metrics.BillingCallsTotal.WithLabelValues(op, "circuit_open").Inc()
		return fault.Remote("billing_unavailable", "billing processor circuit open", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	timer := prometheus.NewTimer(metrics.BillingCallDuration.WithLabelValues(op))
	err := fn(ctx)
	timer.ObserveDuration()

	if err != nil {
		g.breaker.RecordFailure(breakerKey)
		metrics.BillingCallsTotal.WithLabelValues(op, "error").Inc()
		return g.classify(op, err)
	}

	g.breaker.RecordSuccess(breakerKey)
	metrics.BillingCallsTotal.WithLabelValues(op, "success").Inc()
	return nil
}

// classify maps SDK errors to faults. Timeouts are indistinguishable from
// rejections for commit-ordering purposes, but keep distinct reasons for logs.
func (g *StripeGateway) classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fault.Remote("billing_timeout", "billing processor timed out: "+op, err)
	}
	var sErr *stripe.Error
	if errors.As(err, &sErr) {
		if sErr.Code == stripe.ErrorCodeResourceMissing {
			return fault.Remote("billing_not_found", "billing object missing: "+op, ErrNotFound)
		}
		return fault.Remote("billing_rejected", string(sErr.Code)+": "+op, err)
	}
	return fault.Remote("billing_error", op+" failed", err)
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	var id string
	err := g.call(ctx, OpCreateCustomer, func(ctx context.Context) error {
		params := &stripe.CustomerParams{
			Email: stripe.String(email),
			Name:  stripe.String(name),
		}
		params.Context = ctx
		cus, err := g.newCustomer(params)
		if err != nil {
			return err
		}
		id = cus.ID
		return nil
	})
	return id, err
}

func (g *StripeGateway) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	return g.call(ctx, OpAttachInstrument, func(ctx context.Context) error {
		params := &stripe.PaymentMethodAttachParams{
			Customer: stripe.String(customerID),
		}
		params.Context = ctx
		_, err := g.attachMethod(paymentMethodID, params)
		return err
	})
}

func (g *StripeGateway) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	return g.call(ctx, OpSetDefault, func(ctx context.Context) error {
		params := &stripe.CustomerParams{
			InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
				DefaultPaymentMethod: stripe.String(paymentMethodID),
			},
		}
		params.Context = ctx
		_, err := g.updateCustomer(customerID, params)
		return err
	})
}

func (g *StripeGateway) CreateSubscription(ctx context.Context, customerID, priceRef, paymentMethodID string, trialDays int64) (*Subscription, error) {
	var sub *Subscription
	err := g.call(ctx, OpCreateSubscription, func(ctx context.Context) error {
		params := &stripe.SubscriptionParams{
			Customer: stripe.String(customerID),
			Items: []*stripe.SubscriptionItemsParams{
				{Price: stripe.String(priceRef)},
			},
		}
		if paymentMethodID != "" {
			params.DefaultPaymentMethod = stripe.String(paymentMethodID)
		}
		if trialDays > 0 {
			params.TrialPeriodDays = stripe.Int64(trialDays)
		}
		params.Context = ctx
		params.AddExpand("items.data.price")
		s, err := g.newSub(params)
		if err != nil {
			return err
		}
		sub = fromStripeSubscription(s)
		return nil
	})
	return sub, err
}

func (g *StripeGateway) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	var sub *Subscription
	err := g.call(ctx, OpGetSubscription, func(ctx context.Context) error {
		params := &stripe.SubscriptionParams{}
		params.Context = ctx
		params.AddExpand("items.data.price")
		s, err := g.getSub(subscriptionID, params)
		if err != nil {
			return err
		}
		sub = fromStripeSubscription(s)
		return nil
	})
	return sub, err
}

func (g *StripeGateway) CreateItem(ctx context.Context, subscriptionID, priceRef string) (string, error) {
	var id string
	err := g.call(ctx, OpCreateItem, func(ctx context.Context) error {
		params := &stripe.SubscriptionItemParams{
			Subscription: stripe.String(subscriptionID),
			Price:        stripe.String(priceRef),
		}
		params.Context = ctx
		item, err := g.newItem(params)
		if err != nil {
			return err
		}
		id = item.ID
		return nil
	})
	return id, err
}

func (g *StripeGateway) UpdateItemPrice(ctx context.Context, itemID, priceRef string) error {
	return g.call(ctx, OpUpdateItemPrice, func(ctx context.Context) error {
		params := &stripe.SubscriptionItemParams{
			Price: stripe.String(priceRef),
		}
		params.Context = ctx
		_, err := g.updateItem(itemID, params)
		return err
	})
}

func (g *StripeGateway) DeleteItem(ctx context.Context, itemID string) error {
	return g.call(ctx, OpDeleteItem, func(ctx context.Context) error {
		params := &stripe.SubscriptionItemParams{}
		params.Context = ctx
		_, err := g.delItem(itemID, params)
		return err
	})
}

func (g *StripeGateway) CreateSetupIntent(ctx context.Context, customerID string) (*SetupIntent, error) {
	var si *SetupIntent
	err := g.call(ctx, OpCreateSetupIntent, func(ctx context.Context) error {
		params := &stripe.SetupIntentParams{
			Customer:           stripe.String(customerID),
			PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		}
		params.Context = ctx
		s, err := g.newSetupIntent(params)
		if err != nil {
			return err
		}
		si = fromStripeSetupIntent(s)
		return nil
	})
	return si, err
}

func (g *StripeGateway) GetSetupIntent(ctx context.Context, id string) (*SetupIntent, error) {
	var si *SetupIntent
	err := g.call(ctx, OpGetSetupIntent, func(ctx context.Context) error {
		params := &stripe.SetupIntentParams{}
		params.Context = ctx
		s, err := g.getSetupIntent(id, params)
		if err != nil {
			return err
		}
		si = fromStripeSetupIntent(s)
		return nil
	})
	return si, err
}

func fromStripeSubscription(s *stripe.Subscription) *Subscription {
	sub := &Subscription{
		ID:     s.ID,
		Status: string(s.Status),
	}
	if s.Items != nil {
		for _, item := range s.Items.Data {
			priceRef := ""
			if item.Price != nil {
				priceRef = item.Price.ID
			}
			sub.Items = append(sub.Items, Item{ID: item.ID, PriceRef: priceRef})
		}
	}
	return sub
}

func fromStripeSetupIntent(s *stripe.SetupIntent) *SetupIntent {
	si := &SetupIntent{
		ID:           s.ID,
		ClientSecret: s.ClientSecret,
		Status:       string(s.Status),
	}
	if s.PaymentMethod != nil {
		si.PaymentMethodID = s.PaymentMethod.ID
	}
	return si
}

var _ Gateway = (*StripeGateway)(nil)
