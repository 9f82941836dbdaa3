package pdf

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("providers.pdf",
	fx.Provide(New),
)

type Provider interface {
	RenderContractInvoice(ctx context.Context, data ContractInvoice) ([]byte, error)
}

type NoOpProvider struct{}

func (p *NoOpProvider) RenderContractInvoice(ctx context.Context, data ContractInvoice) ([]byte, error) {
	return nil, nil
}
