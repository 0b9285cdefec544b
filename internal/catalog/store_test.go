package catalog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-retail-orderflow/internal/apperr"
	"github.com/imrishuroy/go-retail-orderflow/internal/money"
)

// productsMock stores items keyed by product_id. Only PutItem and GetItem are supported.
type productsMock struct {
	mu     sync.Mutex
	items  map[string]map[string]types.AttributeValue
	getErr error
}

func newProductsMock() *productsMock {
	return &productsMock{items: map[string]map[string]types.AttributeValue{}}
}

func (m *productsMock) PutItem(_ context.Context, in *dyn.PutItemInput, _ ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk := in.Item["product_id"].(*types.AttributeValueMemberS).Value
	m.items[pk] = in.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *productsMock) GetItem(_ context.Context, in *dyn.GetItemInput, _ ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	pk := in.Key["product_id"].(*types.AttributeValueMemberS).Value
	return &dyn.GetItemOutput{Item: m.items[pk]}, nil
}

func (m *productsMock) UpdateItem(context.Context, *dyn.UpdateItemInput, ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	return nil, errors.New("not supported")
}

func (m *productsMock) Query(context.Context, *dyn.QueryInput, ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	return nil, errors.New("not supported")
}

func (m *productsMock) Scan(context.Context, *dyn.ScanInput, ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	return nil, errors.New("not supported")
}

func (m *productsMock) TransactWriteItems(context.Context, *dyn.TransactWriteItemsInput, ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	return nil, errors.New("not supported")
}

func ptr(s string) *money.Amount {
	a := money.MustParse(s)
	return &a
}

func TestStore_PutAndFind(t *testing.T) {
	mock := newProductsMock()
	store := NewStore(mock, "products")
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, Product{
		ProductID: "p1",
		Name:      "Linen shirt",
		Price:     money.MustParse("100"),
		SalePrice: ptr("79.99"),
		Variations: []Variation{
			{ID: "v-l", Name: "L"},
		},
	}))

	got, err := store.FindProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Linen shirt", got.Name)
	assert.Equal(t, "100.00", got.Price.String())
	require.NotNil(t, got.SalePrice)
	assert.Equal(t, "79.99", got.SalePrice.String())
	assert.False(t, got.CreatedAt.IsZero())
	require.Len(t, got.Variations, 1)
}

func TestStore_FindProduct_NotFound(t *testing.T) {
	store := NewStore(newProductsMock(), "products")

	_, err := store.FindProduct(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ProductNotFound("missing"))
}

func TestStore_FindProduct_StorageError(t *testing.T) {
	mock := newProductsMock()
	mock.getErr = errors.New("throttled")
	store := NewStore(mock, "products")

	_, err := store.FindProduct(context.Background(), "p1")
	assert.Equal(t, apperr.KindSystem, apperr.KindOf(err))
}

func TestPricesFor(t *testing.T) {
	p := Product{
		ProductID: "p1",
		Price:     money.MustParse("100"),
		SalePrice: ptr("80"),
		Variations: []Variation{
			{ID: "inherit"},
			{ID: "own", Price: ptr("120")},
			{ID: "own-sale", Price: ptr("120"), SalePrice: ptr("90")},
			{ID: "sale-only", SalePrice: ptr("70")},
		},
	}

	cases := []struct {
		variation string
		price     string
		effective string
	}{
		{"", "100.00", "80.00"},
		{"inherit", "100.00", "80.00"},
		{"own", "120.00", "120.00"},
		{"own-sale", "120.00", "90.00"},
		{"sale-only", "100.00", "70.00"},
	}
	for _, tc := range cases {
		prices, ok := p.PricesFor(tc.variation)
		require.True(t, ok, tc.variation)
		assert.Equal(t, tc.price, prices.Price.String(), tc.variation)
		assert.Equal(t, tc.effective, prices.Effective().String(), tc.variation)
	}

	_, ok := p.PricesFor("nope")
	assert.False(t, ok)
}

type slowLookup struct {
	calls atomic.Int32
}

func (l *slowLookup) FindProduct(_ context.Context, id string) (Product, error) {
	l.calls.Add(1)
	time.Sleep(50 * time.Millisecond)
	return Product{ProductID: id, Price: money.FromCents(1000)}, nil
}

func TestCoalescingLookup(t *testing.T) {
	inner := &slowLookup{}
	lookup := NewCoalescingLookup(inner)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := lookup.FindProduct(context.Background(), "p1")
			assert.NoError(t, err)
			assert.Equal(t, "p1", p.ProductID)
		}()
	}
	wg.Wait()

	assert.Less(t, inner.calls.Load(), int32(10))
}

type blockingLookup struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
	ctxErr  chan error
}

func (l *blockingLookup) FindProduct(ctx context.Context, id string) (Product, error) {
	l.once.Do(func() { close(l.entered) })
	<-l.release
	l.ctxErr <- ctx.Err()
	return Product{ProductID: id}, nil
}

func TestCoalescingLookup_CancelledCallerDoesNotFailOthers(t *testing.T) {
	inner := &blockingLookup{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		ctxErr:  make(chan error, 2),
	}
	lookup := NewCoalescingLookup(inner)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := lookup.FindProduct(ctx, "p1")
		firstErr <- err
	}()
	<-inner.entered
	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	second := make(chan error, 1)
	go func() {
		p, err := lookup.FindProduct(context.Background(), "p1")
		if err == nil && p.ProductID != "p1" {
			err = errors.New("unexpected product " + p.ProductID)
		}
		second <- err
	}()
	close(inner.release)

	assert.NoError(t, <-inner.ctxErr)
	assert.NoError(t, <-second)
}
