package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/shipnotify/backend/internal/domain/fulfillment"
	"github.com/shipnotify/backend/internal/domain/shared"
	"github.com/shipnotify/backend/internal/domain/shop"
	"github.com/shipnotify/backend/internal/infrastructure/telemetry"
)

const testShop = shop.Domain("acme.myshopify.com")

// MockSessionFinder is a mock implementation of SessionFinder
type MockSessionFinder struct {
	mock.Mock
}

func (m *MockSessionFinder) FindByShop(ctx context.Context, d shop.Domain) ([]*shop.Session, error) {
	args := m.Called(ctx, d)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*shop.Session), args.Error(1)
}

// MockOrderQuerier is a mock implementation of OrderQuerier
type MockOrderQuerier struct {
	mock.Mock
}

func (m *MockOrderQuerier) OrderSummary(ctx context.Context, d shop.Domain, accessToken string, orderID int64) (fulfillment.OrderSummary, error) {
	args := m.Called(ctx, d, accessToken, orderID)
	return args.Get(0).(fulfillment.OrderSummary), args.Error(1)
}

// MockEventSender is a mock implementation of EventSender
type MockEventSender struct {
	mock.Mock
}

func (m *MockEventSender) Track(ctx context.Context, payload []byte) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

func deliveredFulfillment(t *testing.T) *fulfillment.Fulfillment {
	t.Helper()
	f, err := fulfillment.Parse([]byte(`{
		"order_id": 450789469,
		"shipment_status": "delivered",
		"tracking_company": "UPS",
		"destination": {"first_name": "Bob", "city": "Louisville"},
		"line_items": [
			{"title": "A", "price": "10.00", "quantity": 2},
			{"title": "B", "price": "5.00", "quantity": 1}
		]
	}`))
	require.NoError(t, err)
	return f
}

func session(id, token string) *shop.Session {
	return &shop.Session{ID: id, Shop: testShop, AccessToken: token}
}

type sentRecord struct {
	Token      string `json:"token"`
	Event      string `json:"event"`
	Properties struct {
		OriginalOrderPrice  float64  `json:"OriginalOrderPrice"`
		TotalAmountPaid     float64  `json:"TotalAmountPaid"`
		ItemNames           []string `json:"ItemNames"`
		DiscountCodeApplied []string `json:"DiscountCodeApplied"`
	} `json:"properties"`
}

// captureSend records the payloads passed to Track
func captureSend(sender *MockEventSender, err error) *[]sentRecord {
	var sent []sentRecord
	sender.On("Track", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		var rec sentRecord
		_ = json.Unmarshal(args.Get(1).([]byte), &rec)
		sent = append(sent, rec)
	}).Return(err)
	return &sent
}

func code(s string) *string { return &s }

func TestForwarder_Forward(t *testing.T) {
	ctx := context.Background()

	t.Run("enriches from the only session", func(t *testing.T) {
		sessions, orders, sender := new(MockSessionFinder), new(MockOrderQuerier), new(MockEventSender)
		sessions.On("FindByShop", mock.Anything, testShop).Return([]*shop.Session{session("offline_acme.myshopify.com", "tok-1")}, nil)
		orders.On("OrderSummary", mock.Anything, testShop, "tok-1", int64(450789469)).
			Return(fulfillment.OrderSummary{TotalPaid: decimal.RequireFromString("22.50"), DiscountCode: code("WELCOME10")}, nil)
		sent := captureSend(sender, nil)

		fw := NewForwarder(ForwarderConfig{Sessions: sessions, Orders: orders, Sender: sender, Token: "pk"})
		require.NoError(t, fw.Forward(ctx, testShop, deliveredFulfillment(t)))

		require.Len(t, *sent, 1)
		rec := (*sent)[0]
		assert.Equal(t, "pk", rec.Token)
		assert.Equal(t, "Order Delivered", rec.Event)
		assert.Equal(t, 25.0, rec.Properties.OriginalOrderPrice)
		assert.Equal(t, 22.5, rec.Properties.TotalAmountPaid)
		assert.Equal(t, []string{"A", "B"}, rec.Properties.ItemNames)
		assert.Equal(t, []string{"WELCOME10"}, rec.Properties.DiscountCodeApplied)
	})

	t.Run("last session wins", func(t *testing.T) {
		sessions, orders, sender := new(MockSessionFinder), new(MockOrderQuerier), new(MockEventSender)
		sessions.On("FindByShop", mock.Anything, testShop).Return([]*shop.Session{
			session("offline_acme.myshopify.com", "tok-a"),
			session("acme.myshopify.com_1", ""),
			session("acme.myshopify.com_2", "tok-c"),
		}, nil)
		orders.On("OrderSummary", mock.Anything, testShop, "tok-a", mock.Anything).
			Return(fulfillment.OrderSummary{TotalPaid: decimal.RequireFromString("10"), DiscountCode: code("FIRST")}, nil)
		orders.On("OrderSummary", mock.Anything, testShop, "tok-c", mock.Anything).
			Return(fulfillment.OrderSummary{TotalPaid: decimal.RequireFromString("25")}, nil)
		sent := captureSend(sender, nil)

		fw := NewForwarder(ForwarderConfig{Sessions: sessions, Orders: orders, Sender: sender})
		require.NoError(t, fw.Forward(ctx, testShop, deliveredFulfillment(t)))

		require.Len(t, *sent, 1)
		assert.Equal(t, 25.0, (*sent)[0].Properties.TotalAmountPaid)
		assert.Empty(t, (*sent)[0].Properties.DiscountCodeApplied)
		orders.AssertNumberOfCalls(t, "OrderSummary", 2)
	})

	t.Run("expired sessions are skipped", func(t *testing.T) {
		sessions, orders, sender := new(MockSessionFinder), new(MockOrderQuerier), new(MockEventSender)
		past := time.Now().Add(-time.Hour)
		expired := session("acme.myshopify.com_1", "tok-old")
		expired.Expires = &past
		sessions.On("FindByShop", mock.Anything, testShop).Return([]*shop.Session{expired}, nil)
		captureSend(sender, nil)

		fw := NewForwarder(ForwarderConfig{Sessions: sessions, Orders: orders, Sender: sender})
		require.NoError(t, fw.Forward(ctx, testShop, deliveredFulfillment(t)))
		orders.AssertNotCalled(t, "OrderSummary", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("enrichment failure still sends exactly once with defaults", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		sessions, orders, sender := new(MockSessionFinder), new(MockOrderQuerier), new(MockEventSender)
		sessions.On("FindByShop", mock.Anything, testShop).Return([]*shop.Session{session("offline_acme.myshopify.com", "tok-1")}, nil)
		orders.On("OrderSummary", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(fulfillment.OrderSummary{}, shared.ErrUpstreamFailure.WithMessage("graphql: Access denied"))
		sent := captureSend(sender, nil)

		fw := NewForwarder(ForwarderConfig{Sessions: sessions, Orders: orders, Sender: sender, Logger: zap.New(core)})
		require.NoError(t, fw.Forward(ctx, testShop, deliveredFulfillment(t)))

		require.Len(t, *sent, 1)
		assert.Equal(t, 0.0, (*sent)[0].Properties.TotalAmountPaid)
		assert.Equal(t, []string{}, (*sent)[0].Properties.DiscountCodeApplied)
		assert.Equal(t, 25.0, (*sent)[0].Properties.OriginalOrderPrice)
		assert.Equal(t, 1, logs.FilterMessage("Order enrichment failed").Len())
	})

	t.Run("session lookup failure still sends", func(t *testing.T) {
		sessions, orders, sender := new(MockSessionFinder), new(MockOrderQuerier), new(MockEventSender)
		sessions.On("FindByShop", mock.Anything, testShop).Return(nil, errors.New("database is locked"))
		sent := captureSend(sender, nil)

		fw := NewForwarder(ForwarderConfig{Sessions: sessions, Orders: orders, Sender: sender})
		require.NoError(t, fw.Forward(ctx, testShop, deliveredFulfillment(t)))
		assert.Len(t, *sent, 1)
	})

	t.Run("send failure is returned and not retried", func(t *testing.T) {
		sessions, sender := new(MockSessionFinder), new(MockEventSender)
		sessions.On("FindByShop", mock.Anything, testShop).Return([]*shop.Session{}, nil)
		sent := captureSend(sender, shared.ErrUpstreamFailure)

		fw := NewForwarder(ForwarderConfig{Sessions: sessions, Orders: new(MockOrderQuerier), Sender: sender})
		err := fw.Forward(ctx, testShop, deliveredFulfillment(t))
		assert.ErrorIs(t, err, shared.ErrUpstreamFailure)
		assert.Len(t, *sent, 1)
	})
}

func TestForwarder_Metrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := telemetry.NewRelayMetrics(provider.Meter("test"))
	require.NoError(t, err)

	sessions, orders, sender := new(MockSessionFinder), new(MockOrderQuerier), new(MockEventSender)
	sessions.On("FindByShop", mock.Anything, testShop).Return([]*shop.Session{session("s", "tok")}, nil)
	orders.On("OrderSummary", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(fulfillment.OrderSummary{}, shared.ErrUpstreamFailure)
	captureSend(sender, nil)

	fw := NewForwarder(ForwarderConfig{Sessions: sessions, Orders: orders, Sender: sender, Metrics: metrics})
	require.NoError(t, fw.Forward(context.Background(), testShop, deliveredFulfillment(t)))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var found bool
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "fulfillment_forwards_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			require.Len(t, sum.DataPoints, 1)
			v, _ := sum.DataPoints[0].Attributes.Value(attribute.Key("result"))
			assert.Equal(t, telemetry.ForwardEnrichFailed, v.AsString())
			found = true
		}
	}
	assert.True(t, found)
}

func TestForwarder_ForwardAsync(t *testing.T) {
	t.Run("does not block the caller and Wait drains", func(t *testing.T) {
		release := make(chan struct{})
		sessions, sender := new(MockSessionFinder), new(MockEventSender)
		sessions.On("FindByShop", mock.Anything, testShop).Return([]*shop.Session{}, nil)
		sender.On("Track", mock.Anything, mock.Anything).Run(func(mock.Arguments) { <-release }).Return(nil)

		fw := NewForwarder(ForwarderConfig{Sessions: sessions, Orders: new(MockOrderQuerier), Sender: sender, Timeout: 5 * time.Second})

		returned := make(chan struct{})
		go func() {
			fw.ForwardAsync(context.Background(), testShop, deliveredFulfillment(t))
			close(returned)
		}()
		select {
		case <-returned:
		case <-time.After(time.Second):
			t.Fatal("ForwardAsync blocked on the send")
		}

		short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, fw.Wait(short), context.DeadlineExceeded)

		close(release)
		require.NoError(t, fw.Wait(context.Background()))
		sender.AssertNumberOfCalls(t, "Track", 1)
	})

	t.Run("survives cancellation of the triggering request", func(t *testing.T) {
		sessions, sender := new(MockSessionFinder), new(MockEventSender)
		sessions.On("FindByShop", mock.Anything, testShop).Return([]*shop.Session{}, nil)
		var sendCtxErr error
		sender.On("Track", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			sendCtxErr = args.Get(0).(context.Context).Err()
		}).Return(nil)

		fw := NewForwarder(ForwarderConfig{Sessions: sessions, Orders: new(MockOrderQuerier), Sender: sender})

		reqCtx, cancel := context.WithCancel(context.Background())
		cancel()
		fw.ForwardAsync(reqCtx, testShop, deliveredFulfillment(t))

		require.NoError(t, fw.Wait(context.Background()))
		sender.AssertNumberOfCalls(t, "Track", 1)
		assert.NoError(t, sendCtxErr)
	})

	t.Run("panic in a collaborator is contained", func(t *testing.T) {
		sessions, sender := new(MockSessionFinder), new(MockEventSender)
		sessions.On("FindByShop", mock.Anything, testShop).Run(func(mock.Arguments) { panic("boom") }).Return(nil, nil)

		fw := NewForwarder(ForwarderConfig{Sessions: sessions, Orders: new(MockOrderQuerier), Sender: sender})
		fw.ForwardAsync(context.Background(), testShop, deliveredFulfillment(t))

		require.NoError(t, fw.Wait(context.Background()))
		sender.AssertNotCalled(t, "Track", mock.Anything, mock.Anything)
	})
}
