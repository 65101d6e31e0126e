package mqttpub

import (
	"context"
	"testing"

	"github.com/kstaniek/cz2gate/internal/model"
)

func TestDisabledPublisherIsANoOp(t *testing.T) {
	p := New(context.Background(), Options{Enabled: false})
	// Must not panic or attempt any broker I/O when disabled.
	p.PublishStatus(model.Empty(4))
	p.Close()
}
