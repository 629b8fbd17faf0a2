package usecase

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"puzzlepass/internal/domain"
	"puzzlepass/internal/domain/model"
	"puzzlepass/internal/domain/ports/adapter"
	"puzzlepass/internal/domain/ports/repository"
	"puzzlepass/internal/infra/logging"
	"puzzlepass/internal/infra/metrics"
)

type CreateCheckoutRequest struct {
	ItemID     string
	SuccessURL string
	CancelURL  string
}

type CreateCheckoutResult struct {
	URL    string `json:"url"`
	Reused bool   `json:"reused"`
}

type VerifyStatus string

const (
	VerifyPaidUnlocked    VerifyStatus = "paid_unlocked"
	VerifyAlreadyEntitled VerifyStatus = "already_entitled"
	VerifyNotPaid         VerifyStatus = "not_paid"
)

type VerifyResult struct {
	Status        VerifyStatus `json:"status"`
	ItemID        string       `json:"episodeId"`
	PaymentStatus string       `json:"paymentStatus,omitempty"`
}

// CheckoutUseCase creates provider checkout sessions and verifies them after redirect.
type CheckoutUseCase struct {
	episodes     repository.EpisodeRepository
	entitlements *EntitlementUseCase
	limiter      *CheckoutRateLimiter
	ledger       *AttemptLedger
	provider     adapter.PaymentProvider // nil when the provider is not configured
	policy       *CheckoutPolicy
	log          *zerolog.Logger
}

func NewCheckoutUseCase(
	episodes repository.EpisodeRepository,
	entitlements *EntitlementUseCase,
	limiter *CheckoutRateLimiter,
	ledger *AttemptLedger,
	provider adapter.PaymentProvider,
	policy *CheckoutPolicy,
	logger *zerolog.Logger,
) *CheckoutUseCase {
	return &CheckoutUseCase{
		episodes:     episodes,
		entitlements: entitlements,
		limiter:      limiter,
		ledger:       ledger,
		provider:     provider,
		policy:       policy,
		log:          logger,
	}
}

var errProviderMissing = domain.NewError(domain.CodeFailedPrecondition, "Missing STRIPE_SECRET_KEY.")

// Create returns a hosted checkout URL for the caller and item, reusing the
// caller's open session when one is still valid.
func (u *CheckoutUseCase) Create(ctx context.Context, caller Caller, req CreateCheckoutRequest) (*CreateCheckoutResult, error) {
	if u.provider == nil {
		return nil, errProviderMissing
	}
	if u.policy.RequireNonAnonymous && caller.Anonymous {
		return nil, domain.NewError(domain.CodeFailedPrecondition, "Please create a full account before purchasing.")
	}
	if req.ItemID == "" {
		return nil, domain.NewError(domain.CodeInvalidArgument, "Missing episodeId.")
	}
	successURL, err := u.policy.Redirect.Resolve(req.SuccessURL, u.policy.Redirect.DefaultSuccessURL(), "successUrl")
	if err != nil {
		return nil, err
	}
	cancelURL, err := u.policy.Redirect.Resolve(req.CancelURL, u.policy.Redirect.DefaultCancelURL(), "cancelUrl")
	if err != nil {
		return nil, err
	}

	ep, err := u.loadEpisode(ctx, req.ItemID)
	if err != nil {
		return nil, err
	}
	if !ep.Published {
		return nil, domain.NewError(domain.CodePermissionDenied, "Episode is not published.")
	}
	if ep.FreePreview {
		return nil, domain.NewError(domain.CodeFailedPrecondition, "Episode is free. No purchase needed.")
	}
	ent, err := u.entitlements.Get(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	if ent.CanAccess(ep) {
		return nil, domain.NewError(domain.CodeFailedPrecondition, "You already own access to this episode.")
	}
	if ep.StripePriceID == "" {
		return nil, domain.NewError(domain.CodeFailedPrecondition, "Missing stripePriceId.")
	}

	key := model.NewPairKey(caller.UserID, ep.ID)
	if err := u.limiter.Enforce(ctx, key); err != nil {
		return nil, err
	}

	attempt, err := u.ledger.GetOrCreate(ctx, key)
	if err != nil {
		return nil, domain.Internal("Could not record checkout attempt.", err)
	}
	if attempt.Mode == model.AttemptModeReuse {
		if res := u.tryReuse(ctx, key, &attempt.Record); res != nil {
			metrics.IncCheckoutSession("reused")
			return res, nil
		}
		// The old attempt is no longer open, so this yields a fresh one.
		attempt, err = u.ledger.GetOrCreate(ctx, key)
		if err == nil && attempt.Mode == model.AttemptModeReuse {
			err = errors.New("stale attempt still marked open")
		}
		if err != nil {
			return nil, domain.Internal("Could not record checkout attempt.", err)
		}
	}

	started := u.policy.now()
	sess, err := u.provider.CreateCheckoutSession(ctx, adapter.CreateSessionRequest{
		PriceID:           ep.StripePriceID,
		SuccessURL:        successURL,
		CancelURL:         cancelURL,
		ClientReferenceID: caller.UserID,
		Metadata: map[string]string{
			model.MetaUserID:  caller.UserID,
			model.MetaItemID:  ep.ID,
			model.MetaPurpose: model.PurposeEpisodeUnlock,
		},
		IdempotencyKey: IdempotencyKey(attempt.Record.AttemptID),
	})
	metrics.ObserveProviderCall(u.provider.Name(), "create_session", started, err)
	if err != nil {
		metrics.IncCheckoutSession("error")
		return nil, domain.Internal("Could not create checkout session.", err)
	}
	if sess.URL == "" {
		metrics.IncCheckoutSession("error")
		return nil, domain.NewError(domain.CodeInternal, "Stripe session missing url.")
	}
	if err := u.ledger.MarkOpen(ctx, key, attempt.Record.AttemptID, sess.ID, sess.URL); err != nil {
		// The session exists provider side; a retry within the grace window gets it back.
		return nil, domain.Internal("Could not record checkout session.", err)
	}

	metrics.IncCheckoutSession("created")
	logging.With(logging.WithSessID(ctx, sess.ID), u.log).Info().
		Str("item_id", ep.ID).Str("attempt_id", attempt.Record.AttemptID).
		Str("mode", string(attempt.Mode)).Msg("checkout session created")
	return &CreateCheckoutResult{URL: sess.URL}, nil
}

// tryReuse hands out the stored session when the provider still reports it
// open. Any other answer, including an error, is written back to the ledger
// and nil is returned.
func (u *CheckoutUseCase) tryReuse(ctx context.Context, key model.PairKey, rec *model.CheckoutAttempt) *CreateCheckoutResult {
	l := logging.With(logging.WithSessID(ctx, *rec.SessionID), u.log)

	started := u.policy.now()
	sess, err := u.provider.GetCheckoutSession(ctx, *rec.SessionID)
	metrics.ObserveProviderCall(u.provider.Name(), "get_session", started, err)
	if err != nil {
		l.Warn().Err(err).Msg("could not retrieve session for reuse, creating a new one")
		if serr := u.ledger.SetStatus(ctx, key, rec.AttemptID, model.AttemptUnknown); serr != nil {
			l.Error().Err(serr).Msg("failed to update attempt status")
		}
		return nil
	}

	url := sess.URL
	if url == "" && rec.SessionURL != nil {
		url = *rec.SessionURL
	}
	if sess.Status == model.SessionStatusOpen && url != "" {
		if err := u.ledger.MarkOpen(ctx, key, rec.AttemptID, sess.ID, url); err != nil {
			l.Warn().Err(err).Msg("failed to refresh session url")
		}
		return &CreateCheckoutResult{URL: url, Reused: true}
	}

	status := model.AttemptStatusFromSession(sess.Status)
	if sess.Status == model.SessionStatusOpen {
		status = model.AttemptUnknown
	}
	l.Info().Str("status", sess.Status).Msg("stored session not reusable")
	if err := u.ledger.SetStatus(ctx, key, rec.AttemptID, status); err != nil {
		l.Error().Err(err).Msg("failed to update attempt status")
	}
	return nil
}

// Verify checks a session after the provider redirect and grants the item
// when it is paid. Safe to call any number of times.
func (u *CheckoutUseCase) Verify(ctx context.Context, caller Caller, sessionID string) (*VerifyResult, error) {
	if u.provider == nil {
		return nil, errProviderMissing
	}
	if sessionID == "" {
		return nil, domain.NewError(domain.CodeInvalidArgument, "Missing sessionId.")
	}
	ctx = logging.WithSessID(ctx, sessionID)

	started := u.policy.now()
	sess, err := u.provider.GetCheckoutSession(ctx, sessionID)
	metrics.ObserveProviderCall(u.provider.Name(), "get_session", started, err)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewError(domain.CodeNotFound, "Checkout session not found.")
	}
	if err != nil {
		return nil, domain.Internal("Could not retrieve checkout session.", err)
	}

	key, ok := sess.Owner()
	if !ok {
		return nil, domain.NewError(domain.CodeFailedPrecondition, "Not a valid PuzzlePass purchase session.")
	}
	if key.UserID != caller.UserID {
		logging.With(ctx, u.log).Warn().Str("owner", key.UserID).Msg("verify attempted on foreign session")
		return nil, domain.NewError(domain.CodePermissionDenied, "This checkout session does not belong to you.")
	}

	ep, err := u.loadEpisode(ctx, key.ItemID)
	if err != nil {
		return nil, err
	}
	ent, err := u.entitlements.Get(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	if ent.CanAccess(ep) {
		metrics.IncVerifyResult(string(VerifyAlreadyEntitled))
		return &VerifyResult{Status: VerifyAlreadyEntitled, ItemID: ep.ID}, nil
	}
	if !sess.Paid() {
		metrics.IncVerifyResult(string(VerifyNotPaid))
		return &VerifyResult{Status: VerifyNotPaid, ItemID: ep.ID, PaymentStatus: sess.PaymentStatus}, nil
	}

	outcome, err := u.entitlements.GrantPaid(ctx, "verify", sess)
	if err != nil {
		return nil, domain.Internal("Could not unlock episode.", err)
	}
	if outcome == GrantRefunded {
		metrics.IncVerifyResult(string(VerifyNotPaid))
		return &VerifyResult{Status: VerifyNotPaid, ItemID: ep.ID, PaymentStatus: string(model.PurchaseRefunded)}, nil
	}
	metrics.IncVerifyResult(string(VerifyPaidUnlocked))
	return &VerifyResult{Status: VerifyPaidUnlocked, ItemID: ep.ID}, nil
}

type ReconcileOutcome string

const (
	ReconcileGranted ReconcileOutcome = "granted"
	ReconcileExpired ReconcileOutcome = "expired"
	ReconcileOpen    ReconcileOutcome = "open"
	ReconcileUnpaid  ReconcileOutcome = "unpaid"
)

// Reconcile converges a stale open attempt with the provider: paid sessions
// are granted like verify would, dead sessions are written back to the ledger.
func (u *CheckoutUseCase) Reconcile(ctx context.Context, rec *model.CheckoutAttempt) (ReconcileOutcome, error) {
	if u.provider == nil {
		return "", errProviderMissing
	}
	if rec.SessionID == nil || *rec.SessionID == "" {
		return ReconcileOpen, nil
	}
	key := rec.Key()

	started := u.policy.now()
	sess, err := u.provider.GetCheckoutSession(ctx, *rec.SessionID)
	metrics.ObserveProviderCall(u.provider.Name(), "get_session", started, err)
	if err != nil {
		return "", err
	}

	switch {
	case sess.Paid():
		if _, ok := sess.Owner(); !ok {
			return ReconcileUnpaid, u.ledger.SetStatus(ctx, key, rec.AttemptID, model.AttemptUnknown)
		}
		if _, err := u.entitlements.GrantPaid(ctx, "reconciler", sess); err != nil {
			return "", err
		}
		return ReconcileGranted, nil
	case sess.Status == model.SessionStatusOpen:
		return ReconcileOpen, nil
	case sess.Status == model.SessionStatusExpired:
		return ReconcileExpired, u.ledger.SetStatus(ctx, key, rec.AttemptID, model.AttemptExpired)
	default:
		return ReconcileUnpaid, u.ledger.SetStatus(ctx, key, rec.AttemptID, model.AttemptStatusFromSession(sess.Status))
	}
}

func (u *CheckoutUseCase) loadEpisode(ctx context.Context, id string) (*model.Episode, error) {
	ep, err := u.episodes.FindByID(ctx, nil, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewError(domain.CodeNotFound, "Episode not found.")
	}
	if err != nil {
		return nil, domain.Internal("Could not load episode.", err)
	}
	return ep, nil
}
