package provider

import (
	"context"

	"freightquote/internal/quote"
)

// Adapter speaks one upstream's protocol. A returned error is a transport
// fault; anything the upstream answered, including non-2xx statuses and
// unusable bodies, comes back in the Result.
type Adapter[T any] interface {
	Quote(ctx context.Context, req *quote.Request) (quote.Result[T], error)
}

// Provider yields a standardized quote for a request. An error means no
// upstream answer was obtained at all.
type Provider interface {
	Source() quote.Source
	Fetch(ctx context.Context, req *quote.Request) (quote.Standardized, error)
}

// Normalized binds an adapter to the normalizer for its payload shape.
func Normalized[T any](src quote.Source, a Adapter[T], normalize func(quote.Result[T]) quote.Standardized) Provider {
	return &normalized[T]{src: src, adapter: a, normalize: normalize}
}

type normalized[T any] struct {
	src       quote.Source
	adapter   Adapter[T]
	normalize func(quote.Result[T]) quote.Standardized
}

func (n *normalized[T]) Source() quote.Source { return n.src }

func (n *normalized[T]) Fetch(ctx context.Context, req *quote.Request) (quote.Standardized, error) {
	res, err := n.adapter.Quote(ctx, req)
	if err != nil {
		return quote.Standardized{}, err
	}
	q := n.normalize(res)
	q.Source = n.src
	return q, nil
}
