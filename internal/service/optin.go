package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/tallyhq/survey-server-go/internal/config"
	"github.com/tallyhq/survey-server-go/internal/database"
	apperrors "github.com/tallyhq/survey-server-go/internal/errors"
	"github.com/tallyhq/survey-server-go/internal/model"
	"github.com/tallyhq/survey-server-go/internal/notify"
	"github.com/tallyhq/survey-server-go/internal/repository"
	"github.com/tallyhq/survey-server-go/internal/util"
)

// TxRunner abstracts database.DB for transactional service operations.
type TxRunner interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

// Notifier publishes opt-in lifecycle events.
type Notifier interface {
	Publish(ctx context.Context, accountSlug string, eventType string, payload any) error
}

var _ TxRunner = (*database.DB)(nil)
var _ Notifier = (*notify.Broker)(nil)

// CreateOptInInput carries the caller-supplied half of a new grant or
// request. Other is the counterparty: the grantee for grants, the data
// owner for requests.
type CreateOptInInput struct {
	Other        model.AccountRef
	CampaignSlug *string
	Message      *string
	EndsAt       *time.Time
}

// OptInService drives the portfolio double opt-in state machine.
type OptInService struct {
	db         TxRunner
	accounts   repository.AccountRepository
	campaigns  repository.CampaignRepository
	optIns     repository.OptInRepository
	portfolios repository.PortfolioRepository
	notifier   Notifier
	limiter    *RateLimiter
	cfg        *config.Config
}

func NewOptInService(
	db TxRunner,
	accounts repository.AccountRepository,
	campaigns repository.CampaignRepository,
	optIns repository.OptInRepository,
	portfolios repository.PortfolioRepository,
	notifier Notifier,
	limiter *RateLimiter,
	cfg *config.Config,
) *OptInService {
	return &OptInService{
		db:         db,
		accounts:   accounts,
		campaigns:  campaigns,
		optIns:     optIns,
		portfolios: portfolios,
		notifier:   notifier,
		limiter:    limiter,
		cfg:        cfg,
	}
}

// CreateGrant initiates a grant: the initiator offers its own answers to the
// counterparty. The counterparty account is created on the fly when unknown,
// which is why it must carry at least a slug or an email.
func (s *OptInService) CreateGrant(ctx context.Context, initiator *model.Account, in CreateOptInInput) (*model.PortfolioDoubleOptIn, error) {
	if err := s.checkInitiationLimit(ctx, initiator); err != nil {
		return nil, err
	}
	if !in.Other.HasContact() {
		return nil, apperrors.MissingContact("Grantee")
	}

	grantee, campaignID, err := s.resolveParties(ctx, in)
	if err != nil {
		return nil, err
	}
	if grantee.ID == initiator.ID {
		return nil, apperrors.ValidationError("cannot grant answers to yourself")
	}

	key := newVerificationKey()
	optin, err := s.optIns.Create(ctx, model.CreateOptInParams{
		Kind:            model.OptInKindGrant,
		InitiatedByID:   initiator.ID,
		AccountID:       initiator.ID,
		GranteeID:       grantee.ID,
		CampaignID:      campaignID,
		VerificationKey: key,
		Message:         in.Message,
		EndsAt:          s.defaultEndsAt(in.EndsAt),
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}

	s.publish(ctx, grantee.Slug, notify.EventGrantInitiated, optin)

	log.Info().
		Str("initiator", initiator.Slug).
		Str("grantee", grantee.Slug).
		Str("key", util.MaskKey(key)).
		Int64("optinId", optin.ID).
		Msg("portfolio grant initiated")

	return optin, nil
}

// CreateRequest initiates a request: the initiator asks the counterparty for
// access to the counterparty's answers.
func (s *OptInService) CreateRequest(ctx context.Context, initiator *model.Account, in CreateOptInInput) (*model.PortfolioDoubleOptIn, error) {
	if err := s.checkInitiationLimit(ctx, initiator); err != nil {
		return nil, err
	}
	if !in.Other.HasContact() {
		return nil, apperrors.MissingContact("Account")
	}

	owner, campaignID, err := s.resolveParties(ctx, in)
	if err != nil {
		return nil, err
	}
	if owner.ID == initiator.ID {
		return nil, apperrors.ValidationError("cannot request answers from yourself")
	}

	key := newVerificationKey()
	optin, err := s.optIns.Create(ctx, model.CreateOptInParams{
		Kind:            model.OptInKindRequest,
		InitiatedByID:   initiator.ID,
		AccountID:       owner.ID,
		GranteeID:       initiator.ID,
		CampaignID:      campaignID,
		VerificationKey: key,
		Message:         in.Message,
		EndsAt:          s.defaultEndsAt(in.EndsAt),
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}

	s.publish(ctx, owner.Slug, notify.EventRequestInitiated, optin)

	log.Info().
		Str("initiator", initiator.Slug).
		Str("account", owner.Slug).
		Str("key", util.MaskKey(key)).
		Int64("optinId", optin.ID).
		Msg("portfolio request initiated")

	return optin, nil
}

// Accept moves a pending opt-in to accepted and materializes the portfolio
// in the same transaction. Accepting an already accepted opt-in is a no-op;
// accepting a denied or expired one fails.
func (s *OptInService) Accept(ctx context.Context, id int64, actor *model.Account) (*model.PortfolioDoubleOptIn, error) {
	optin, err := s.optIns.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if optin == nil {
		return nil, apperrors.NotFound("Opt-in")
	}
	if optin.DecidedBy() != actor.ID {
		return nil, apperrors.Forbidden("only the receiving party can accept")
	}
	return s.accept(ctx, optin)
}

// AcceptByKey accepts through the emailed verification key. The key is a
// bearer capability; no session is required. A consumed key was cleared on
// the transition out of pending, so it reads the same as an unknown one.
func (s *OptInService) AcceptByKey(ctx context.Context, key string) (*model.PortfolioDoubleOptIn, error) {
	optin, err := s.optIns.FindByVerificationKey(ctx, key)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if optin == nil {
		return nil, apperrors.NotFound("Opt-in")
	}
	return s.accept(ctx, optin)
}

func (s *OptInService) accept(ctx context.Context, optin *model.PortfolioDoubleOptIn) (*model.PortfolioDoubleOptIn, error) {
	if optin.State.IsTerminal() {
		if optin.State == model.OptInStateAccepted {
			return optin, nil
		}
		return nil, apperrors.InvalidState(
			fmt.Sprintf("opt-in is already %s", optin.State))
	}

	var raced bool
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		n, err := s.optIns.WithTx(tx).Transition(ctx, optin.ID, model.OptInStateAccepted)
		if err != nil {
			return err
		}
		if n == 0 {
			raced = true
			return nil
		}
		_, err = s.portfolios.WithTx(tx).Upsert(ctx, model.UpsertPortfolioParams{
			AccountID:  optin.AccountID,
			GranteeID:  optin.GranteeID,
			CampaignID: optin.CampaignID,
			EndsAt:     optin.EndsAt,
		})
		return err
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}

	// A concurrent decision won the conditional update. Re-read and treat a
	// matching outcome as a no-op.
	if raced {
		current, err := s.optIns.FindByID(ctx, optin.ID)
		if err != nil {
			return nil, apperrors.Database(err)
		}
		if current != nil && current.State == model.OptInStateAccepted {
			return current, nil
		}
		return nil, apperrors.InvalidState("opt-in was decided concurrently")
	}

	optin.State = model.OptInStateAccepted
	optin.VerificationKey = nil
	s.notifyDecision(ctx, optin, notify.EventAccepted)

	log.Info().Int64("optinId", optin.ID).Str("kind", string(optin.Kind)).
		Msg("opt-in accepted")

	return optin, nil
}

// Deny moves a pending opt-in to denied. No portfolio is touched: denying
// never revokes previously granted access.
func (s *OptInService) Deny(ctx context.Context, id int64, actor *model.Account) (*model.PortfolioDoubleOptIn, error) {
	optin, err := s.optIns.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if optin == nil {
		return nil, apperrors.NotFound("Opt-in")
	}
	if optin.DecidedBy() != actor.ID {
		return nil, apperrors.Forbidden("only the receiving party can deny")
	}
	return s.deny(ctx, optin)
}

// DenyByKey denies through the emailed verification key.
func (s *OptInService) DenyByKey(ctx context.Context, key string) (*model.PortfolioDoubleOptIn, error) {
	optin, err := s.optIns.FindByVerificationKey(ctx, key)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if optin == nil {
		return nil, apperrors.NotFound("Opt-in")
	}
	return s.deny(ctx, optin)
}

func (s *OptInService) deny(ctx context.Context, optin *model.PortfolioDoubleOptIn) (*model.PortfolioDoubleOptIn, error) {
	if optin.State.IsTerminal() {
		if optin.State == model.OptInStateDenied {
			return optin, nil
		}
		return nil, apperrors.InvalidState(
			fmt.Sprintf("opt-in is already %s", optin.State))
	}

	n, err := s.optIns.Transition(ctx, optin.ID, model.OptInStateDenied)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if n == 0 {
		current, err := s.optIns.FindByID(ctx, optin.ID)
		if err != nil {
			return nil, apperrors.Database(err)
		}
		if current != nil && current.State == model.OptInStateDenied {
			return current, nil
		}
		return nil, apperrors.InvalidState("opt-in was decided concurrently")
	}

	optin.State = model.OptInStateDenied
	optin.VerificationKey = nil
	s.notifyDecision(ctx, optin, notify.EventDenied)

	log.Info().Int64("optinId", optin.ID).Str("kind", string(optin.Kind)).
		Msg("opt-in denied")

	return optin, nil
}

// Retire withdraws a pending opt-in. Only the initiator can retire, and only
// while the counterparty has not decided yet; decided opt-ins stay on record.
func (s *OptInService) Retire(ctx context.Context, id int64, actor *model.Account) error {
	optin, err := s.optIns.FindByID(ctx, id)
	if err != nil {
		return apperrors.Database(err)
	}
	if optin == nil {
		return apperrors.NotFound("Opt-in")
	}
	if optin.InitiatedByID != actor.ID {
		return apperrors.Forbidden("only the initiator can retire an opt-in")
	}
	if optin.State.IsTerminal() {
		return apperrors.InvalidState(
			fmt.Sprintf("opt-in is already %s", optin.State))
	}

	n, err := s.optIns.DeletePending(ctx, id)
	if err != nil {
		return apperrors.Database(err)
	}
	if n == 0 {
		return apperrors.InvalidState("opt-in was decided concurrently")
	}

	log.Info().Int64("optinId", id).Str("initiator", actor.Slug).
		Msg("opt-in retired")
	return nil
}

// ExpirePending sweeps pending opt-ins past the retention window and tells
// each initiator its opt-in lapsed.
func (s *OptInService) ExpirePending(ctx context.Context) (int64, error) {
	expired, err := s.optIns.ExpireOlderThan(ctx, s.cfg.OptInRetentionDays)
	if err != nil {
		return 0, apperrors.Database(err)
	}
	for i := range expired {
		s.notifyDecision(ctx, &expired[i], notify.EventExpired)
	}
	return int64(len(expired)), nil
}

// ListPending returns opt-ins awaiting the account's decision.
func (s *OptInService) ListPending(ctx context.Context, account *model.Account, limit, offset int) ([]model.PortfolioDoubleOptIn, error) {
	optins, err := s.optIns.FindPendingForDecider(ctx, account.ID, limit, offset)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return optins, nil
}

// ListInitiated returns opt-ins the account started, optionally narrowed to
// one state.
func (s *OptInService) ListInitiated(ctx context.Context, account *model.Account, state model.OptInState, limit, offset int) ([]model.PortfolioDoubleOptIn, error) {
	optins, err := s.optIns.FindByInitiator(ctx, account.ID, state, limit, offset)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return optins, nil
}

// ListGranted returns portfolios the account has opened to grantees.
func (s *OptInService) ListGranted(ctx context.Context, account *model.Account, limit, offset int) ([]model.Portfolio, error) {
	portfolios, err := s.portfolios.FindByAccount(ctx, account.ID, limit, offset)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return portfolios, nil
}

// ListReceived returns portfolios opened to the account by others.
func (s *OptInService) ListReceived(ctx context.Context, account *model.Account, limit, offset int) ([]model.Portfolio, error) {
	portfolios, err := s.portfolios.FindByGrantee(ctx, account.ID, limit, offset)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return portfolios, nil
}

func (s *OptInService) resolveParties(ctx context.Context, in CreateOptInInput) (*model.Account, *int64, error) {
	var campaignID *int64
	if in.CampaignSlug != nil {
		campaign, err := s.campaigns.FindBySlug(ctx, *in.CampaignSlug)
		if err != nil {
			return nil, nil, apperrors.Database(err)
		}
		if campaign == nil {
			return nil, nil, apperrors.NotFound("Campaign")
		}
		campaignID = &campaign.ID
	}

	other, err := s.accounts.GetOrCreate(ctx, in.Other)
	if err != nil {
		return nil, nil, apperrors.Database(err)
	}
	return other, campaignID, nil
}

func (s *OptInService) checkInitiationLimit(ctx context.Context, initiator *model.Account) error {
	// Without redis the database count stands in.
	if s.limiter == nil {
		count, err := s.optIns.CountPendingInitiatedSince(ctx, initiator.ID, 1)
		if err != nil {
			return apperrors.Database(err)
		}
		if count >= s.cfg.OptInRateLimitPerHour {
			return apperrors.RateLimitExceeded()
		}
		return nil
	}
	key := fmt.Sprintf("optin_create:%s", initiator.ID)
	allowed, resetAt := s.limiter.CheckLimit(ctx, key, s.cfg.OptInRateLimitPerHour, time.Hour)
	if !allowed {
		return apperrors.RateLimitExceeded().WithDetails(map[string]any{
			"resetAt": resetAt,
		})
	}
	return nil
}

func (s *OptInService) defaultEndsAt(endsAt *time.Time) *time.Time {
	if endsAt != nil || s.cfg.DefaultGrantDays <= 0 {
		return endsAt
	}
	t := time.Now().Add(s.cfg.DefaultGrantValidity())
	return &t
}

// notifyDecision publishes the outcome to the initiator's channel.
func (s *OptInService) notifyDecision(ctx context.Context, optin *model.PortfolioDoubleOptIn, eventType string) {
	initiator, err := s.accounts.FindByID(ctx, optin.InitiatedByID)
	if err != nil || initiator == nil {
		log.Warn().Err(err).Int64("optinId", optin.ID).Msg("lookup initiator for notification")
		return
	}
	s.publish(ctx, initiator.Slug, eventType, optin)
}

func (s *OptInService) publish(ctx context.Context, accountSlug, eventType string, optin *model.PortfolioDoubleOptIn) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, accountSlug, eventType, optin); err != nil {
		log.Warn().Err(err).Str("event", eventType).Msg("publish opt-in event")
	}
}

// newVerificationKey returns a 32-char hex bearer token.
func newVerificationKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
