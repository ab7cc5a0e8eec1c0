package interfaces

import (
	"context"

	"github.com/mailsweep/mailsweep/internal/models"
)

// Quota is a point-in-time view of the user's remaining trash allowance.
type Quota struct {
	Unlimited bool
	Remaining int
}

// SubscriptionLedger is the boundary to the payment/subscription system.
// The core only reads tiers and records usage; tier transitions happen
// elsewhere (checkout/webhook flow).
type SubscriptionLedger interface {
	GetOrCreateUser(ctx context.Context, email string) (*models.UserRecord, error)
	RemainingQuota(ctx context.Context, email string) (Quota, error)
	RecordUsage(ctx context.Context, email string, count int, query string) (*models.UserRecord, error)
}
