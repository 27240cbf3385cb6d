package shops

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/apperr"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/auth"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/config"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/db"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/events"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/fees"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/notify"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/payments"
)

var (
	countryRe  = regexp.MustCompile(`^[A-Z]{2}$`)
	currencyRe = regexp.MustCompile(`^[A-Z]{3}$`)
	slugRe     = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
)

// transitions lists the admin status moves allowed from each status.
var transitions = map[string][]string{
	StatusPending:   {StatusActive, StatusRejected},
	StatusActive:    {StatusSuspended},
	StatusSuspended: {StatusActive},
}

func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Service struct {
	store    *Store
	users    *auth.Store
	gateway  payments.Gateway
	stripe   config.StripeConfig
	events   events.Publisher
	notifier notify.Notifier
	now      func() time.Time
}

type Deps struct {
	Store    *Store
	Users    *auth.Store
	Gateway  payments.Gateway
	Stripe   config.StripeConfig
	Events   events.Publisher
	Notifier notify.Notifier
}

func NewService(d Deps) *Service {
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.Notifier == nil {
		d.Notifier = notify.Nop{}
	}
	return &Service{store: d.Store, users: d.Users, gateway: d.Gateway, stripe: d.Stripe, events: d.Events, notifier: d.Notifier, now: time.Now}
}

func (s *Service) Store() *Store { return s.store }

// RequireOwner loads the shop and checks the caller owns it. Platform admins
// pass for every shop.
func (s *Service) RequireOwner(ctx context.Context, p auth.Principal, shopID string) (Shop, error) {
	sh, err := s.store.Get(ctx, shopID)
	if err != nil {
		return Shop{}, err
	}
	if p.IsAdmin() || sh.OwnerID == p.UserID {
		return sh, nil
	}
	return Shop{}, apperr.Forbidden("not the owner of this shop")
}

// GetActive returns a shop only if it is active.
func (s *Service) GetActive(ctx context.Context, shopID string) (Shop, error) {
	sh, err := s.store.Get(ctx, shopID)
	if err != nil {
		return Shop{}, err
	}
	if sh.Status != StatusActive {
		return Shop{}, apperr.NotFound("shop")
	}
	return sh, nil
}

type CreateInput struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	Country     string `json:"country"`
	Currency    string `json:"currency"`
}

type UpdateInput struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Country     *string `json:"country,omitempty"`
	Currency    *string `json:"currency,omitempty"`
}

func normCountry(c string) (string, error) {
	c = strings.ToUpper(strings.TrimSpace(c))
	if !countryRe.MatchString(c) {
		return "", apperr.Invalid("country must be an ISO-3166 alpha-2 code")
	}
	return c, nil
}

func normCurrency(c string) (string, error) {
	c = strings.ToUpper(strings.TrimSpace(c))
	if c == "" {
		return "USD", nil
	}
	if !currencyRe.MatchString(c) {
		return "", apperr.Invalid("currency must be an ISO-4217 code")
	}
	return c, nil
}

func (s *Service) Create(ctx context.Context, p auth.Principal, in CreateInput) (Shop, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Shop{}, apperr.Invalid("name is required")
	}
	country, err := normCountry(in.Country)
	if err != nil {
		return Shop{}, err
	}
	currency, err := normCurrency(in.Currency)
	if err != nil {
		return Shop{}, err
	}
	id := db.NewID("shp")
	slug := strings.ToLower(strings.TrimSpace(in.Slug))
	if slug != "" {
		if !slugRe.MatchString(slug) {
			return Shop{}, apperr.Invalid("slug may only contain lower-case letters, digits and dashes")
		}
	} else {
		slug = Slugify(name)
		if slug == "" {
			slug = "shop"
		}
		if _, err := s.store.GetBySlug(ctx, slug); err == nil {
			slug += "-" + id[len(id)-6:]
		}
	}
	now := s.now().UTC()
	sh := Shop{
		ID:          id,
		OwnerID:     p.UserID,
		Name:        name,
		Slug:        slug,
		Description: strings.TrimSpace(in.Description),
		Country:     country,
		Currency:    currency,
		Status:      StatusPending,
		KYCStatus:   KYCNotStarted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, sh); err != nil {
		return Shop{}, err
	}
	events.Emit(ctx, s.events, "marketplace.shop.created", sh)
	return sh, nil
}

func (s *Service) Update(ctx context.Context, p auth.Principal, shopID string, in UpdateInput) (Shop, error) {
	sh, err := s.RequireOwner(ctx, p, shopID)
	if err != nil {
		return Shop{}, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return Shop{}, apperr.Invalid("name cannot be empty")
		}
		sh.Name = name
	}
	if in.Description != nil {
		sh.Description = strings.TrimSpace(*in.Description)
	}
	if in.Country != nil {
		if sh.Country, err = normCountry(*in.Country); err != nil {
			return Shop{}, err
		}
	}
	if in.Currency != nil {
		if sh.Currency, err = normCurrency(*in.Currency); err != nil {
			return Shop{}, err
		}
	}
	sh.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, sh); err != nil {
		return Shop{}, err
	}
	events.Emit(ctx, s.events, "marketplace.shop.updated", sh)
	return sh, nil
}

// Delete removes a shop that is not live.
func (s *Service) Delete(ctx context.Context, p auth.Principal, shopID string) error {
	sh, err := s.RequireOwner(ctx, p, shopID)
	if err != nil {
		return err
	}
	if sh.Status == StatusActive {
		return apperr.Conflict("an active shop cannot be deleted")
	}
	if err := s.store.Delete(ctx, shopID); err != nil {
		return err
	}
	events.Emit(ctx, s.events, "marketplace.shop.deleted", map[string]string{"id": shopID})
	return nil
}

// ConnectAccount creates the shop's Express account once.
func (s *Service) ConnectAccount(ctx context.Context, p auth.Principal, shopID string) (Shop, error) {
	sh, err := s.RequireOwner(ctx, p, shopID)
	if err != nil {
		return Shop{}, err
	}
	if sh.StripeAccountID != "" {
		return sh, nil
	}
	email := p.Email
	if owner, err := s.users.Get(ctx, sh.OwnerID); err == nil {
		email = owner.Email
	}
	acct, err := s.gateway.CreateConnectAccount(ctx, payments.ConnectAccountInput{Email: email, Country: sh.Country, ShopID: sh.ID})
	if err != nil {
		return Shop{}, err
	}
	sh.StripeAccountID = acct.ID
	applyAccount(&sh, acct)
	sh.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, sh); err != nil {
		return Shop{}, err
	}
	events.Emit(ctx, s.events, "marketplace.shop.connect_account_created", sh)
	return sh, nil
}

// OnboardingLink returns a Stripe-hosted onboarding URL, creating the
// account first when needed.
func (s *Service) OnboardingLink(ctx context.Context, p auth.Principal, shopID string) (string, error) {
	sh, err := s.ConnectAccount(ctx, p, shopID)
	if err != nil {
		return "", err
	}
	return s.gateway.CreateAccountLink(ctx, sh.StripeAccountID, s.stripe.ConnectRefreshURL, s.stripe.ConnectReturnURL)
}

func (s *Service) SyncAccount(ctx context.Context, p auth.Principal, shopID string) (Shop, error) {
	sh, err := s.RequireOwner(ctx, p, shopID)
	if err != nil {
		return Shop{}, err
	}
	if sh.StripeAccountID == "" {
		return Shop{}, apperr.Conflict("shop has no connected account")
	}
	acct, err := s.gateway.GetAccount(ctx, sh.StripeAccountID)
	if err != nil {
		return Shop{}, err
	}
	return s.saveAccount(ctx, sh, acct)
}

func (s *Service) saveAccount(ctx context.Context, sh Shop, acct payments.Account) (Shop, error) {
	applyAccount(&sh, acct)
	sh.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, sh); err != nil {
		return Shop{}, err
	}
	events.Emit(ctx, s.events, "marketplace.shop.kyc_updated", sh)
	return sh, nil
}

func applyAccount(sh *Shop, acct payments.Account) {
	sh.ChargesEnabled = acct.ChargesEnabled
	sh.PayoutsEnabled = acct.PayoutsEnabled
	sh.KYCStatus = KYCStatusOf(acct)
}

// KYCStatusOf maps Stripe's account requirements onto kyc_status.
func KYCStatusOf(acct payments.Account) string {
	switch {
	case strings.HasPrefix(acct.DisabledReason, "rejected"):
		return KYCRejected
	case acct.ChargesEnabled && acct.PayoutsEnabled && acct.DetailsSubmitted:
		return KYCVerified
	case acct.DetailsSubmitted || len(acct.CurrentlyDue) > 0:
		return KYCPending
	default:
		return KYCNotStarted
	}
}

// HandleAccountUpdated handles account.updated webhooks.
func (s *Service) HandleAccountUpdated(ctx context.Context, evt payments.Event) error {
	obj, err := payments.Decode[payments.AccountObject](evt)
	if err != nil {
		return err
	}
	acct := obj.Account()
	sh, err := s.store.GetByStripeAccount(ctx, acct.ID)
	if apperr.Is(err, apperr.CodeNotFound) {
		slog.WarnContext(ctx, "account.updated for unknown account", "account", acct.ID)
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.saveAccount(ctx, sh, acct)
	return err
}

// SetStatus applies an admin status transition and e-mails the owner.
func (s *Service) SetStatus(ctx context.Context, shopID, status, reason string) (Shop, error) {
	sh, err := s.store.Get(ctx, shopID)
	if err != nil {
		return Shop{}, err
	}
	if !CanTransition(sh.Status, status) {
		return Shop{}, apperr.Newf(apperr.CodeConflict, "cannot move shop from %s to %s", sh.Status, status)
	}
	sh.Status = status
	sh.StatusReason = strings.TrimSpace(reason)
	sh.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, sh); err != nil {
		return Shop{}, err
	}
	events.Emit(ctx, s.events, "marketplace.shop."+statusVerb(status), sh)
	if owner, err := s.users.Get(ctx, sh.OwnerID); err == nil {
		if err := notify.Send(ctx, s.notifier, notify.ShopStatus, owner.Email, map[string]any{
			"ShopName": sh.Name, "Status": sh.Status, "Reason": sh.StatusReason,
		}); err != nil {
			slog.WarnContext(ctx, "shop status notification failed", "shop_id", sh.ID, "error", err.Error())
		}
	}
	return sh, nil
}

func statusVerb(status string) string {
	switch status {
	case StatusActive:
		return "activated"
	case StatusRejected:
		return "rejected"
	case StatusSuspended:
		return "suspended"
	default:
		return "updated"
	}
}

// SetFeeOverride sets or, with nil, clears the shop's fee percent.
func (s *Service) SetFeeOverride(ctx context.Context, shopID string, pct *decimal.Decimal) (Shop, error) {
	sh, err := s.store.Get(ctx, shopID)
	if err != nil {
		return Shop{}, err
	}
	if pct != nil {
		if err := fees.ValidatePercent(*pct); err != nil {
			return Shop{}, err
		}
		v := pct.Round(2)
		pct = &v
	}
	sh.PlatformFeePercent = pct
	sh.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, sh); err != nil {
		return Shop{}, err
	}
	events.Emit(ctx, s.events, "marketplace.shop.fee_updated", sh)
	return sh, nil
}
