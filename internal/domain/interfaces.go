package domain

import (
	"context"
	"time"

	"coachbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Store is the persistent side of the engine. Writes that must be atomic go
// through InTx; everything else is a single statement.
type Store interface {
	InTx(ctx context.Context, fn func(tx StoreTx) error) error

	GetProvider(ctx context.Context, id int64) (*models.Provider, error)
	GetOffering(ctx context.Context, id int64) (*models.Offering, error)
	GetBundle(ctx context.Context, id int64) (*models.BundleDefinition, error)

	GetReservation(ctx context.Context, id int64) (*models.Reservation, error)
	ListReservations(ctx context.Context, filter models.ReservationFilter) ([]*models.Reservation, error)
	AttachChannelRef(ctx context.Context, reservationID int64, ref string) error

	GetPackage(ctx context.Context, id int64) (*models.Package, error)
	ListPackageSessions(ctx context.Context, packageID int64) ([]*models.PackageSession, error)

	SweepDuePastBookings(ctx context.Context, now time.Time) (models.SweepResult, error)
}

// StoreTx is the transactional view used by the reservation lifecycle.
type StoreTx interface {
	// IsFree reports whether no confirmed, freshly held pending reservation or
	// ledger-only scheduled session of the provider overlaps [start, end).
	IsFree(ctx context.Context, providerID int64, start, end, now time.Time) (bool, error)
	// HasConfirmedOverlap reports a confirmed reservation other than excludeID overlapping [start, end).
	HasConfirmedOverlap(ctx context.Context, providerID int64, start, end time.Time, excludeID int64) (bool, error)

	GetPackage(ctx context.Context, id int64) (*models.Package, error)
	ValidatePackage(ctx context.Context, packageID, clientID, minutes int64) (*models.Package, error)
	DebitPackage(ctx context.Context, packageID, minutes int64, now time.Time) error
	CreditPackage(ctx context.Context, packageID, minutes int64, now time.Time) error
	OpenPackage(ctx context.Context, pkg *models.Package, firstSessionMinutes int64) error
	ActivatePackage(ctx context.Context, packageID int64, now time.Time) error
	// VoidPackage returns the ids of the live reservations it cancelled.
	VoidPackage(ctx context.Context, packageID int64, now time.Time) ([]int64, error)

	InsertReservation(ctx context.Context, r *models.Reservation) error
	GetReservation(ctx context.Context, id int64) (*models.Reservation, error)
	SetCheckoutRef(ctx context.Context, reservationID int64, ref string) error
	LinkSession(ctx context.Context, reservationID, sessionID int64) error
	TransitionReservation(ctx context.Context, id, fromVersion int64, status models.ReservationStatus, settlement models.SettlementStatus, now time.Time) error

	InsertSession(ctx context.Context, s *models.PackageSession) error
	GetSession(ctx context.Context, id int64) (*models.PackageSession, error)
	CancelSession(ctx context.Context, id int64) (bool, error)
}

// IdentityProvider supplies account facts for the lead-time guard.
type IdentityProvider interface {
	GetAccount(ctx context.Context, clientID int64) (*models.Account, error)
}

// PricingCalculator splits a gross price into its frozen fee breakdown.
// The returned parts always sum to gross.
type PricingCalculator interface {
	Compute(gross int64, mode models.SettlementMode, bundleHours int64) (models.FeeBreakdown, error)
}

// Checkout is what the gateway returns for a freshly created pending reservation.
type Checkout struct {
	Ref string `json:"ref"`
	URL string `json:"url"`
}

// CheckoutGateway opens a hosted checkout for a gateway-mediated reservation.
type CheckoutGateway interface {
	CreateCheckout(ctx context.Context, r *models.Reservation, title string) (*Checkout, error)
}

// ChannelProvisioner creates (or returns) a chat channel for a provider/client pair.
// Implementations must tolerate redundant calls.
type ChannelProvisioner interface {
	EnsureChannel(ctx context.Context, providerID, clientID int64) (string, error)
}

// ChannelQueue accepts fire-and-forget provisioning requests.
type ChannelQueue interface {
	EnqueueChannel(ctx context.Context, reservationID, providerID, clientID int64) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// AttemptLimiter counts booking attempts per client within a window.
type AttemptLimiter interface {
	CheckRateLimit(ctx context.Context, clientID int64, limit int, window time.Duration) (bool, error)
}

// TelegramRequester is the subset of the bot API used by the chat provisioner.
type TelegramRequester interface {
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}
