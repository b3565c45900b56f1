package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/shipnotify/backend/internal/domain/fulfillment"
	"github.com/shipnotify/backend/internal/domain/shared"
	"github.com/shipnotify/backend/internal/domain/shop"
	"github.com/shipnotify/backend/internal/domain/webhook"
	"github.com/shipnotify/backend/internal/infrastructure/signature"
)

const (
	testSecret = "hush"
	testShop   = "acme.myshopify.com"
)

// countingHandler records how many times it ran
type countingHandler struct {
	calls atomic.Int32
	err   error
	last  atomic.Pointer[webhook.Event]
}

func (h *countingHandler) Handle(ctx context.Context, evt *webhook.Event) error {
	h.calls.Add(1)
	h.last.Store(evt)
	return h.err
}

// memoryDedup is an in-test IdempotencyStore
type memoryDedup struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func newMemoryDedup() *memoryDedup { return &memoryDedup{seen: map[string]bool{}} }

func (m *memoryDedup) MarkProcessed(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[id] {
		return false, nil
	}
	m.seen[id] = true
	return true, nil
}

func (m *memoryDedup) IsProcessed(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	return m.seen[id], nil
}

func (m *memoryDedup) Close() error { return nil }

func newDispatcher(dedup shared.IdempotencyStore) *Dispatcher {
	cfg := DispatcherConfig{Verifier: signature.NewVerifier(testSecret), Logger: zap.NewNop()}
	if dedup != nil {
		cfg.Dedup = dedup
	}
	return NewDispatcher(cfg)
}

func signed(topic, path, body string) Delivery {
	return Delivery{
		Topic:     topic,
		Shop:      testShop,
		WebhookID: "",
		Path:      path,
		Body:      []byte(body),
		Signature: signature.SignBase64([]byte(body), []byte(testSecret)),
	}
}

func TestDispatcher_Register(t *testing.T) {
	d := newDispatcher(nil)
	h := &countingHandler{}

	assert.True(t, d.Register(webhook.TopicFulfillmentsCreate, "/api/fulfillment-create", h))
	assert.False(t, d.Register(webhook.TopicFulfillmentsCreate, "//api/fulfillment-create", &countingHandler{}))
	assert.True(t, d.Register(webhook.TopicFulfillmentsUpdate, "/api/fulfillment-update", h))
	assert.True(t, d.Register(webhook.TopicAppUninstalled, "/api/webhooks", h))

	assert.Len(t, d.Routes(), 3)
	assert.Equal(t, []string{"/api/fulfillment-create", "/api/fulfillment-update", "/api/webhooks"}, d.Paths())

	// both path spellings reach the single collapsed handler
	for _, p := range []string{"/api/fulfillment-create", "//api/fulfillment-create"} {
		out := d.Dispatch(context.Background(), signed("fulfillments/create", p, `{}`))
		assert.Equal(t, http.StatusOK, out.StatusCode())
	}
	assert.Equal(t, int32(2), h.calls.Load())
}

func TestDispatcher_Dispatch(t *testing.T) {
	body := `{"id":1}`

	tests := []struct {
		name       string
		handlerErr error
		mutate     func(in *Delivery)
		wantStatus int
		wantReason webhook.Reason
		wantCalls  int32
		wantAt     webhook.State
	}{
		{
			name:       "valid delivery is handled",
			wantAt:     webhook.StateRouted,
			wantStatus: http.StatusOK,
			wantCalls:  1,
		},
		{
			name:       "tampered body is rejected before the handler",
			mutate:     func(in *Delivery) { in.Body = []byte(`{"id":2}`) },
			wantAt:     webhook.StateReceived,
			wantStatus: http.StatusUnauthorized,
			wantReason: webhook.ReasonInvalidSignature,
		},
		{
			name:       "wrong signature is rejected",
			mutate:     func(in *Delivery) { in.Signature = signature.SignBase64([]byte(body), []byte("other")) },
			wantAt:     webhook.StateReceived,
			wantStatus: http.StatusUnauthorized,
			wantReason: webhook.ReasonInvalidSignature,
		},
		{
			name:       "missing signature is rejected",
			mutate:     func(in *Delivery) { in.Signature = "" },
			wantAt:     webhook.StateReceived,
			wantStatus: http.StatusUnauthorized,
			wantReason: webhook.ReasonInvalidSignature,
		},
		{
			name:       "missing shop",
			mutate:     func(in *Delivery) { in.Shop = "" },
			wantAt:     webhook.StateReceived,
			wantStatus: http.StatusBadRequest,
			wantReason: webhook.ReasonMalformed,
		},
		{
			name:       "invalid shop",
			mutate:     func(in *Delivery) { in.Shop = "evil.example.com" },
			wantAt:     webhook.StateReceived,
			wantStatus: http.StatusBadRequest,
			wantReason: webhook.ReasonMalformed,
		},
		{
			name:       "missing topic",
			mutate:     func(in *Delivery) { in.Topic = "" },
			wantAt:     webhook.StateReceived,
			wantStatus: http.StatusBadRequest,
			wantReason: webhook.ReasonMalformed,
		},
		{
			name:       "unknown topic",
			mutate:     func(in *Delivery) { in.Topic = "orders/create" },
			wantAt:     webhook.StateVerified,
			wantStatus: http.StatusNotFound,
			wantReason: webhook.ReasonNoHandler,
		},
		{
			name:       "known topic at another path",
			mutate:     func(in *Delivery) { in.Path = "/api/fulfillment-create" },
			wantAt:     webhook.StateVerified,
			wantStatus: http.StatusNotFound,
			wantReason: webhook.ReasonNoHandler,
		},
		{
			name:       "handler failure is a server error",
			handlerErr: errors.New("database unavailable"),
			wantAt:     webhook.StateRouted,
			wantStatus: http.StatusInternalServerError,
			wantReason: webhook.ReasonHandlerFailure,
			wantCalls:  1,
		},
		{
			name:       "invalid payload is a client error",
			handlerErr: fmt.Errorf("%w: bad json", shared.ErrInvalidInput),
			wantAt:     webhook.StateRouted,
			wantStatus: http.StatusBadRequest,
			wantReason: webhook.ReasonMalformed,
			wantCalls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDispatcher(nil)
			h := &countingHandler{err: tt.handlerErr}
			d.Register(webhook.TopicAppUninstalled, PathWebhooks, h)

			in := signed("app/uninstalled", PathWebhooks, body)
			if tt.mutate != nil {
				tt.mutate(&in)
			}

			out := d.Dispatch(context.Background(), in)
			assert.Equal(t, tt.wantStatus, out.StatusCode())
			assert.Equal(t, tt.wantReason, out.Reason)
			assert.Equal(t, tt.wantCalls, h.calls.Load())
			assert.Equal(t, tt.wantAt, out.Reached)
		})
	}
}

func TestDispatcher_PassesVerifiedEvent(t *testing.T) {
	d := newDispatcher(nil)
	h := &countingHandler{}
	d.Register(webhook.TopicAppUninstalled, PathWebhooks, h)

	in := signed("app/uninstalled", "/api/webhooks/", `{"id":1}`)
	in.Shop = "ACME.myshopify.com"
	in.WebhookID = "wh-1"
	in.APIVersion = "2024-10"

	out := d.Dispatch(context.Background(), in)
	require.Equal(t, webhook.StateHandled, out.State)

	evt := h.last.Load()
	require.NotNil(t, evt)
	assert.Equal(t, shop.Domain("acme.myshopify.com"), evt.Shop)
	assert.Equal(t, webhook.TopicAppUninstalled, evt.Topic)
	assert.Equal(t, "/api/webhooks", evt.Path)
	assert.Equal(t, "wh-1", evt.WebhookID)
	assert.Equal(t, "2024-10", evt.APIVersion)
	assert.Equal(t, []byte(`{"id":1}`), evt.RawBody)
}

func TestDispatcher_PanicIsContained(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	d := NewDispatcher(DispatcherConfig{Verifier: signature.NewVerifier(testSecret), Logger: zap.New(core)})
	d.Register(webhook.TopicAppUninstalled, PathWebhooks, webhook.HandlerFunc(func(ctx context.Context, evt *webhook.Event) error {
		panic("nil map")
	}))

	var out webhook.Outcome
	assert.NotPanics(t, func() {
		out = d.Dispatch(context.Background(), signed("app/uninstalled", PathWebhooks, `{}`))
	})
	assert.Equal(t, http.StatusInternalServerError, out.StatusCode())
	assert.ErrorIs(t, out.Err, shared.ErrHandlerFailure)
	assert.Equal(t, 1, logs.FilterMessage("Webhook handler failed").Len())
}

func TestDispatcher_NoVerifierRejectsEverything(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{})
	h := &countingHandler{}
	d.Register(webhook.TopicAppUninstalled, PathWebhooks, h)

	out := d.Dispatch(context.Background(), signed("app/uninstalled", PathWebhooks, `{}`))
	assert.Equal(t, http.StatusUnauthorized, out.StatusCode())
	assert.Zero(t, h.calls.Load())
}

func TestDispatcher_Dedup(t *testing.T) {
	t.Run("repeat delivery is acknowledged without re-running", func(t *testing.T) {
		d := newDispatcher(newMemoryDedup())
		h := &countingHandler{}
		d.Register(webhook.TopicAppUninstalled, PathWebhooks, h)

		in := signed("app/uninstalled", PathWebhooks, `{}`)
		in.WebhookID = "wh-1"

		first := d.Dispatch(context.Background(), in)
		second := d.Dispatch(context.Background(), in)

		assert.Equal(t, webhook.Outcome{State: webhook.StateHandled, Reached: webhook.StateRouted}, first)
		assert.Equal(t, webhook.Outcome{State: webhook.StateHandled, Reason: webhook.ReasonDuplicate, Reached: webhook.StateRouted}, second)
		assert.Equal(t, int32(1), h.calls.Load())
	})

	t.Run("failed delivery is retried", func(t *testing.T) {
		dedup := newMemoryDedup()
		d := newDispatcher(dedup)
		h := &countingHandler{err: errors.New("transient")}
		d.Register(webhook.TopicAppUninstalled, PathWebhooks, h)

		in := signed("app/uninstalled", PathWebhooks, `{}`)
		in.WebhookID = "wh-2"

		assert.Equal(t, http.StatusInternalServerError, d.Dispatch(context.Background(), in).StatusCode())
		h.err = nil
		assert.Equal(t, http.StatusOK, d.Dispatch(context.Background(), in).StatusCode())
		assert.Equal(t, int32(2), h.calls.Load())
	})

	t.Run("unsigned delivery does not poison the dedup store", func(t *testing.T) {
		dedup := newMemoryDedup()
		d := newDispatcher(dedup)
		d.Register(webhook.TopicAppUninstalled, PathWebhooks, &countingHandler{})

		in := signed("app/uninstalled", PathWebhooks, `{}`)
		in.WebhookID = "wh-3"
		in.Signature = "forged"

		d.Dispatch(context.Background(), in)
		done, _ := dedup.IsProcessed(context.Background(), "wh-3")
		assert.False(t, done)
	})

	t.Run("store failure falls through to the handler", func(t *testing.T) {
		dedup := newMemoryDedup()
		dedup.err = errors.New("redis down")
		d := newDispatcher(dedup)
		h := &countingHandler{}
		d.Register(webhook.TopicAppUninstalled, PathWebhooks, h)

		in := signed("app/uninstalled", PathWebhooks, `{}`)
		in.WebhookID = "wh-4"

		assert.Equal(t, http.StatusOK, d.Dispatch(context.Background(), in).StatusCode())
		assert.Equal(t, int32(1), h.calls.Load())
	})
}

// memoryRegistry is an in-test InstallationRegistry counting logical removals
type memoryRegistry struct {
	mu       sync.Mutex
	shops    map[shop.Domain]bool
	removals int
}

func (r *memoryRegistry) Includes(ctx context.Context, d shop.Domain) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shops[d], nil
}

func (r *memoryRegistry) Add(ctx context.Context, inst *shop.Installation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shops[inst.Shop] = true
	return nil
}

func (r *memoryRegistry) Delete(ctx context.Context, d shop.Domain) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shops[d] {
		delete(r.shops, d)
		r.removals++
	}
	return nil
}

// MockSessionRepository is a mock implementation of shop.SessionRepository
type MockSessionRepository struct {
	mock.Mock
}

func (m *MockSessionRepository) FindByShop(ctx context.Context, d shop.Domain) ([]*shop.Session, error) {
	args := m.Called(ctx, d)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*shop.Session), args.Error(1)
}

func (m *MockSessionRepository) FindByID(ctx context.Context, id string) (*shop.Session, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*shop.Session), args.Error(1)
}

func (m *MockSessionRepository) Store(ctx context.Context, s *shop.Session) error {
	return m.Called(ctx, s).Error(0)
}

func (m *MockSessionRepository) DeleteByShop(ctx context.Context, d shop.Domain) error {
	return m.Called(ctx, d).Error(0)
}

func TestTenantRemover_ConcurrentUninstall(t *testing.T) {
	registry := &memoryRegistry{shops: map[shop.Domain]bool{testShop: true}}
	sessions := new(MockSessionRepository)
	sessions.On("DeleteByShop", mock.Anything, shop.Domain(testShop)).Return(nil)

	d := newDispatcher(nil)
	d.Register(webhook.TopicAppUninstalled, PathWebhooks, NewTenantRemover(registry, sessions, nil))

	const n = 2
	outcomes := make([]webhook.Outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = d.Dispatch(context.Background(), signed("app/uninstalled", PathWebhooks, `{}`))
		}(i)
	}
	wg.Wait()

	for _, out := range outcomes {
		assert.Equal(t, http.StatusOK, out.StatusCode())
	}
	assert.Equal(t, 1, registry.removals)
	included, _ := registry.Includes(context.Background(), testShop)
	assert.False(t, included)
}

func TestTenantRemover_Failure(t *testing.T) {
	registry := &memoryRegistry{shops: map[shop.Domain]bool{}}
	sessions := new(MockSessionRepository)
	sessions.On("DeleteByShop", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	r := NewTenantRemover(registry, sessions, nil)
	err := r.Handle(context.Background(), &webhook.Event{Shop: testShop, Topic: webhook.TopicShopRedact})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete sessions")
}

// MockForwarder is a mock implementation of AsyncForwarder
type MockForwarder struct {
	mock.Mock
}

func (m *MockForwarder) ForwardAsync(ctx context.Context, d shop.Domain, f *fulfillment.Fulfillment) {
	m.Called(ctx, d, f)
}

func TestFulfillmentHandler(t *testing.T) {
	t.Run("delivered shipment is forwarded asynchronously", func(t *testing.T) {
		fw := new(MockForwarder)
		fw.On("ForwardAsync", mock.Anything, shop.Domain(testShop), mock.MatchedBy(func(f *fulfillment.Fulfillment) bool {
			return f.OrderID == 42
		})).Return()

		d := newDispatcher(nil)
		RegisterDefaults(d, Handlers{
			Remover:     NewTenantRemover(&memoryRegistry{shops: map[shop.Domain]bool{}}, nil, nil),
			Fulfillment: NewFulfillmentHandler(fw, nil),
			Privacy:     NewPrivacyRequestHandler(nil),
		})

		out := d.Dispatch(context.Background(), signed("fulfillments/update", PathFulfillmentUpdate, `{"order_id":42,"shipment_status":"delivered"}`))
		assert.Equal(t, http.StatusOK, out.StatusCode())
		fw.AssertNumberOfCalls(t, "ForwardAsync", 1)
	})

	t.Run("other statuses are acknowledged without forwarding", func(t *testing.T) {
		fw := new(MockForwarder)
		h := NewFulfillmentHandler(fw, nil)

		for _, body := range []string{
			`{"order_id":42,"shipment_status":"in_transit"}`,
			`{"order_id":42,"shipment_status":null}`,
			`{"order_id":42}`,
		} {
			err := h.Handle(context.Background(), &webhook.Event{Shop: testShop, RawBody: []byte(body)})
			assert.NoError(t, err)
		}
		fw.AssertNotCalled(t, "ForwardAsync", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("malformed payload is a client error", func(t *testing.T) {
		fw := new(MockForwarder)
		d := newDispatcher(nil)
		d.Register(webhook.TopicFulfillmentsCreate, PathFulfillmentCreate, NewFulfillmentHandler(fw, nil))

		out := d.Dispatch(context.Background(), signed("fulfillments/create", PathFulfillmentCreate, `{"order_id":`))
		assert.Equal(t, http.StatusBadRequest, out.StatusCode())
		fw.AssertNotCalled(t, "ForwardAsync", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestRegisterDefaults(t *testing.T) {
	d := newDispatcher(nil)
	RegisterDefaults(d, Handlers{
		Remover:     NewTenantRemover(&memoryRegistry{shops: map[shop.Domain]bool{}}, nil, nil),
		Fulfillment: NewFulfillmentHandler(new(MockForwarder), nil),
		Privacy:     NewPrivacyRequestHandler(nil),
	})

	assert.Len(t, d.Routes(), 6)
	assert.Equal(t, []string{PathFulfillmentCreate, PathFulfillmentUpdate, PathWebhooks}, d.Paths())

	out := d.Dispatch(context.Background(), signed("customers/redact", PathWebhooks, `{"shop_domain":"acme.myshopify.com"}`))
	assert.Equal(t, http.StatusOK, out.StatusCode())
}
