package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type testEventA struct{ N int }
type testEventB struct{ S string }

func TestPublishReachesSubscribersOfSameType(t *testing.T) {
	b := New()
	var got []testEventA
	Subscribe(b, func(ctx context.Context, e testEventA) { got = append(got, e) })

	Publish(context.Background(), b, testEventA{N: 1})
	Publish(context.Background(), b, testEventA{N: 2})

	assert.Equal(t, []testEventA{{N: 1}, {N: 2}}, got)
}

func TestPublishIgnoresOtherTypes(t *testing.T) {
	b := New()
	var as int
	Subscribe(b, func(ctx context.Context, e testEventA) { as++ })

	Publish(context.Background(), b, testEventB{S: "x"})

	assert.Zero(t, as)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	var n int
	unsub := Subscribe(b, func(ctx context.Context, e testEventA) { n++ })

	Publish(context.Background(), b, testEventA{})
	unsub()
	Publish(context.Background(), b, testEventA{})

	assert.Equal(t, 1, n)
}

func TestNilBusIsInert(t *testing.T) {
	var b *Bus
	unsub := Subscribe(b, func(ctx context.Context, e testEventA) { t.Fatal("handler on nil bus") })
	Publish(context.Background(), b, testEventA{})
	unsub()
}

func TestMultipleSubscribersAllCalled(t *testing.T) {
	b := New()
	var first, second int
	Subscribe(b, func(ctx context.Context, e testEventA) { first++ })
	Subscribe(b, func(ctx context.Context, e testEventA) { second++ })

	Publish(context.Background(), b, testEventA{})

	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
}

func TestBusesAreIndependent(t *testing.T) {
	b1, b2 := New(), New()
	var n int
	Subscribe(b1, func(ctx context.Context, e testEventA) { n++ })

	Publish(context.Background(), b2, testEventA{})

	assert.Zero(t, n)
}
