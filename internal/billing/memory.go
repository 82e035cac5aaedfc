package billing

import (
	"context"
	"sync"

	"github.com/rankpilot/rankpilot/internal/idgen"
)

// MemoryGateway is an in-memory Gateway for demo/development mode and tests.
// It mimics the processor's object graph (customers, subscriptions, line
// items, setup intents) and lets tests inject per-operation failures.
type MemoryGateway struct {
	mu           sync.Mutex
	customers    map[string]bool
	subs         map[string]*Subscription
	itemSub      map[string]string // item ID → subscription ID
	setupIntents map[string]*SetupIntent
	failures     map[string]error // op → error returned on next call
}

// NewMemoryGateway creates an empty in-memory gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		customers:    make(map[string]bool),
		subs:         make(map[string]*Subscription),
		itemSub:      make(map[string]string),
		setupIntents: make(map[string]*SetupIntent),
		failures:     make(map[string]error),
	}
}

// FailWith makes the next call of op return err. Passing a nil err clears it.
func (g *MemoryGateway) FailWith(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.failures, op)
		return
	}
	g.failures[op] = err
}

// fail consumes a pending injected failure for op. Caller must hold g.mu.
func (g *MemoryGateway) fail(op string) error {
	if err, ok := g.failures[op]; ok {
		delete(g.failures, op)
		return err
	}
	return nil
}

func (g *MemoryGateway) CreateCustomer(_ context.Context, _, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail(OpCreateCustomer); err != nil {
		return "", err
	}
	id := idgen.WithPrefix("cus_")
	g.customers[id] = true
	return id, nil
}

func (g *MemoryGateway) AttachPaymentMethod(_ context.Context, customerID, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail(OpAttachInstrument); err != nil {
		return err
	}
	if !g.customers[customerID] {
		return ErrNotFound
	}
	return nil
}

func (g *MemoryGateway) SetDefaultPaymentMethod(_ context.Context, customerID, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail(OpSetDefault); err != nil {
		return err
	}
	if !g.customers[customerID] {
		return ErrNotFound
	}
	return nil
}

func (g *MemoryGateway) CreateSubscription(_ context.Context, customerID, priceRef, _ string, _ int64) (*Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail(OpCreateSubscription); err != nil {
		return nil, err
	}
	if !g.customers[customerID] {
		return nil, ErrNotFound
	}
	itemID := idgen.WithPrefix("si_")
	sub := &Subscription{
		ID:     idgen.WithPrefix("sub_"),
		Status: "active",
		Items:  []Item{{ID: itemID, PriceRef: priceRef}},
	}
	g.subs[sub.ID] = sub
	g.itemSub[itemID] = sub.ID
	return copySub(sub), nil
}

func (g *MemoryGateway) GetSubscription(_ context.Context, subscriptionID string) (*Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail(OpGetSubscription); err != nil {
		return nil, err
	}
	sub, ok := g.subs[subscriptionID]
	if !ok {
		return nil, ErrNotFound
	}
	return copySub(sub), nil
}

func (g *MemoryGateway) CreateItem(_ context.Context, subscriptionID, priceRef string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail(OpCreateItem); err != nil {
		return "", err
	}
	sub, ok := g.subs[subscriptionID]
	if !ok {
		return "", ErrNotFound
	}
	itemID := idgen.WithPrefix("si_")
	sub.Items = append(sub.Items, Item{ID: itemID, PriceRef: priceRef})
	g.itemSub[itemID] = sub.ID
	return itemID, nil
}

func (g *MemoryGateway) UpdateItemPrice(_ context.Context, itemID, priceRef string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail(OpUpdateItemPrice); err != nil {
		return err
	}
	subID, ok := g.itemSub[itemID]
	if !ok {
		return ErrNotFound
	}
	sub := g.subs[subID]
	for i := range sub.Items {
		if sub.Items[i].ID == itemID {
			sub.Items[i].PriceRef = priceRef
			return nil
		}
	}
	return ErrNotFound
}

func (g *MemoryGateway) DeleteItem(_ context.Context, itemID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail(OpDeleteItem); err != nil {
		return err
	}
	subID, ok := g.itemSub[itemID]
	if !ok {
		return ErrNotFound
	}
	sub := g.subs[subID]
	for i := range sub.Items {
		if sub.Items[i].ID == itemID {
			sub.Items = append(sub.Items[:i], sub.Items[i+1:]...)
			break
		}
	}
	delete(g.itemSub, itemID)
	return nil
}

func (g *MemoryGateway) CreateSetupIntent(_ context.Context, customerID string) (*SetupIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail(OpCreateSetupIntent); err != nil {
		return nil, err
	}
	if !g.customers[customerID] {
		return nil, ErrNotFound
	}
	// Succeed immediately with a synthetic instrument so the demo-mode
	// activation flow completes without a real card.
	si := &SetupIntent{
		ID:              idgen.WithPrefix("seti_"),
		ClientSecret:    idgen.WithPrefix("seti_secret_"),
		Status:          "succeeded",
		PaymentMethodID: idgen.WithPrefix("pm_"),
	}
	g.setupIntents[si.ID] = si
	return copySetupIntent(si), nil
}

func (g *MemoryGateway) GetSetupIntent(_ context.Context, id string) (*SetupIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail(OpGetSetupIntent); err != nil {
		return nil, err
	}
	si, ok := g.setupIntents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySetupIntent(si), nil
}

// SetSetupIntentStatus overrides a handshake's state, for tests that exercise
// the incomplete-handshake path.
func (g *MemoryGateway) SetSetupIntentStatus(id, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if si, ok := g.setupIntents[id]; ok {
		si.Status = status
	}
}

func copySub(s *Subscription) *Subscription {
	cp := *s
	cp.Items = append([]Item(nil), s.Items...)
	return &cp
}

func copySetupIntent(s *SetupIntent) *SetupIntent {
	cp := *s
	return &cp
}

var _ Gateway = (*MemoryGateway)(nil)
