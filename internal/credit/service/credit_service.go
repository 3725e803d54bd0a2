package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"solveq/internal/common/auth"
	"solveq/internal/common/db"
	"solveq/internal/common/events"
	"solveq/internal/common/metrics"
	"solveq/internal/common/mq"
	"solveq/internal/credit/model"
	"solveq/internal/credit/repository"
	"solveq/internal/saga"
	userrepo "solveq/internal/user/repository"
	pkgerrors "solveq/pkg/errors"
	"solveq/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	chargeDescription     = "Problem execution fees"
	addCreditsDescription = "Credits added"
)

func foreignAccount() error {
	return pkgerrors.UnauthorizedError("cannot access another user's credits")
}

// Charge outcomes recorded in metrics.
const (
	chargeApplied   = "charged"
	chargeDuplicate = "duplicate"
	chargeDropped   = "dropped"
	chargeFailed    = "failed"
)

// Dependencies wires a CreditService.
type Dependencies struct {
	DB           db.Database
	Users        userrepo.UserRepository
	Transactions repository.TransactionRepository
	Dedupe       *repository.ChargeDedupe
	Producer     mq.Producer
	Saga         *saga.Dispatcher
	Metrics      *metrics.Collector
	Topics       events.Topics
	Now          func() time.Time
}

// CreditService owns user balances and the ledger.
type CreditService struct {
	db           db.Database
	users        userrepo.UserRepository
	transactions repository.TransactionRepository
	dedupe       *repository.ChargeDedupe
	producer     mq.Producer
	saga         *saga.Dispatcher
	metrics      *metrics.Collector
	topics       events.Topics
	now          func() time.Time
}

func NewCreditService(deps Dependencies) *CreditService {
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	dispatcher := deps.Saga
	if dispatcher == nil {
		dispatcher = saga.NewDispatcher(deps.Producer, deps.Metrics)
	}
	return &CreditService{
		db:           deps.DB,
		users:        deps.Users,
		transactions: deps.Transactions,
		dedupe:       deps.Dedupe,
		producer:     deps.Producer,
		saga:         dispatcher,
		metrics:      deps.Metrics,
		topics:       deps.Topics.WithDefaults(),
		now:          now,
	}
}

// GetCredits returns the balance of userID to the user or an admin.
func (s *CreditService) GetCredits(ctx context.Context, caller auth.Identity, userID int64) (*model.Balance, error) {
	if userID <= 0 {
		return nil, pkgerrors.BadRequest("invalid user id")
	}
	if !caller.CanAccess(userID) {
		return nil, foreignAccount()
	}
	return s.balance(ctx, nil, userID)
}

// ListTransactions returns the newest ledger entries of userID.
func (s *CreditService) ListTransactions(ctx context.Context, caller auth.Identity, userID int64, limit int) ([]*model.Transaction, error) {
	if userID <= 0 {
		return nil, pkgerrors.BadRequest("invalid user id")
	}
	if !caller.CanAccess(userID) {
		return nil, foreignAccount()
	}
	entries, err := s.transactions.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(fmt.Errorf("list transactions failed: %w", err), pkgerrors.DatabaseError)
	}
	return entries, nil
}

// AddCredits credits amount to userID and announces the ledger entry and
// new balance. The balance change is reverted when either announcement
// cannot be published. Users may only top up their own balance with a
// positive amount; admins may adjust any balance by any non-zero amount.
func (s *CreditService) AddCredits(ctx context.Context, caller auth.Identity, userID, amount int64) (*model.Balance, error) {
	if userID <= 0 {
		return nil, pkgerrors.BadRequest("invalid user id")
	}
	if !caller.CanAccess(userID) {
		return nil, foreignAccount()
	}
	if amount == 0 || (!caller.IsAdmin() && amount < 0) {
		return nil, pkgerrors.New(pkgerrors.InvalidAmount)
	}

	current, err := s.balance(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	updated := *current
	updated.Credits += amount

	description := addCreditsDescription
	if caller.IsAdmin() && caller.UserID != userID {
		description = fmt.Sprintf("Credits added by administrator %d", caller.UserID)
	}
	created, err := events.Encode("", userID, events.TransactionCreated{
		TransactionID: uuid.NewString(),
		ID:            events.ID(userID),
		Amount:        amount,
		Type:          events.TransactionAddCredits,
		Description:   description,
	})
	if err != nil {
		return nil, err
	}
	changed, err := events.Encode("", userID, events.CreditsChanged{
		ID:      events.ID(userID),
		Name:    updated.Name,
		Credits: updated.Credits,
	})
	if err != nil {
		return nil, err
	}

	err = s.saga.Execute(ctx, "add-credits", saga.Step{
		Apply: func(ctx context.Context) error {
			return s.addCredits(ctx, userID, amount)
		},
		Revert: func(ctx context.Context) error {
			return s.addCredits(ctx, userID, -amount)
		},
	},
		saga.Outbound{Topic: s.topics.TransactionCreated, Message: created},
		saga.Outbound{Topic: s.topics.CreditsChanged, Message: changed},
	)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "credits added",
		zap.Int64("user_id", userID),
		zap.Int64("amount", amount),
		zap.Int64("by", caller.UserID),
	)
	return s.balance(ctx, nil, userID)
}

// HandleCharge debits a user for a settled execution. Each message id is
// applied at most once while its dedupe claim lives.
func (s *CreditService) HandleCharge(ctx context.Context, message *mq.Message) error {
	var event events.ChargeUser
	if err := events.Decode(message, &event); err != nil {
		logger.Warn(ctx, "malformed charge dropped", zap.Error(err))
		s.metrics.RecordCharge(chargeDropped)
		return nil
	}
	userID := int64(event.ID)
	if userID <= 0 || event.Amount <= 0 {
		logger.Warn(ctx, "charge with invalid user or amount dropped",
			zap.Int64("user_id", userID), zap.Int64("amount", event.Amount))
		s.metrics.RecordCharge(chargeDropped)
		return nil
	}

	claimed, err := s.dedupe.Claim(ctx, message.ID)
	if err != nil {
		// an unreachable cache must not lose the charge
		logger.Warn(ctx, "charge dedupe unavailable, applying charge", zap.String("message_id", message.ID), zap.Error(err))
		claimed = true
	}
	if !claimed {
		logger.Info(ctx, "duplicate charge ignored", zap.String("message_id", message.ID), zap.Int64("user_id", userID))
		s.metrics.RecordCharge(chargeDuplicate)
		return nil
	}

	var balance *model.Balance
	err = s.db.Transaction(ctx, func(tx db.Transaction) error {
		if err := s.users.AddCredits(ctx, tx, userID, -event.Amount); err != nil {
			return err
		}
		var err error
		balance, err = s.balance(ctx, tx, userID)
		return err
	})
	if err != nil {
		if relErr := s.dedupe.Release(ctx, message.ID); relErr != nil {
			logger.Warn(ctx, "release charge claim failed", zap.String("message_id", message.ID), zap.Error(relErr))
		}
		if errors.Is(err, userrepo.ErrUserNotFound) || pkgerrors.Is(err, pkgerrors.UserNotFound) {
			logger.Warn(ctx, "charge for unknown user dropped", zap.Int64("user_id", userID))
			s.metrics.RecordCharge(chargeDropped)
			return nil
		}
		s.metrics.RecordCharge(chargeFailed)
		return fmt.Errorf("debit credits failed: %w", err)
	}

	transactionID := uuid.NewString()
	if message.ID != "" {
		transactionID = "tx:" + message.ID
	}
	// ledger and balance announcements are best effort once the debit is committed
	s.announce(ctx, s.topics.TransactionCreated, userID, events.TransactionCreated{
		TransactionID: transactionID,
		ID:            events.ID(userID),
		Amount:        -event.Amount,
		Type:          events.TransactionCharge,
		Description:   chargeDescription,
		ProblemID:     event.ProblemID,
	})
	s.announce(ctx, s.topics.CreditsChanged, userID, events.CreditsChanged{
		ID:      events.ID(userID),
		Name:    balance.Name,
		Credits: balance.Credits,
	})
	s.metrics.RecordCharge(chargeApplied)
	logger.Info(ctx, "credits charged",
		zap.Int64("user_id", userID),
		zap.Int64("amount", event.Amount),
		zap.Int64("credits", balance.Credits),
	)
	return nil
}

// HandleTransactionCreated appends a ledger entry. Redelivered entries are
// ignored and insert failures are logged only.
func (s *CreditService) HandleTransactionCreated(ctx context.Context, message *mq.Message) error {
	var event events.TransactionCreated
	if err := events.Decode(message, &event); err != nil {
		logger.Warn(ctx, "malformed transaction dropped", zap.Error(err))
		s.metrics.RecordMessage(s.topics.TransactionCreated, metrics.OutcomeDropped)
		return nil
	}
	if event.ID <= 0 || event.Type == "" {
		logger.Warn(ctx, "transaction without user or type dropped", zap.String("message_id", message.ID))
		s.metrics.RecordMessage(s.topics.TransactionCreated, metrics.OutcomeDropped)
		return nil
	}

	entry := &model.Transaction{
		ID:          event.TransactionID,
		UserID:      int64(event.ID),
		Amount:      event.Amount,
		Type:        event.Type,
		Description: event.Description,
		CreatedAt:   s.now(),
	}
	if entry.ID == "" {
		entry.ID = message.ID
	}
	if event.ProblemID != nil {
		id := int64(*event.ProblemID)
		entry.ProblemID = &id
	}

	inserted, err := s.transactions.Insert(ctx, nil, entry)
	if err != nil {
		logger.Error(ctx, "record transaction failed",
			zap.String("transaction_id", entry.ID),
			zap.Int64("user_id", entry.UserID),
			zap.Error(err),
		)
		s.metrics.RecordMessage(s.topics.TransactionCreated, metrics.OutcomeFailed)
		return nil
	}
	if !inserted {
		logger.Debug(ctx, "transaction already recorded", zap.String("transaction_id", entry.ID))
		s.metrics.RecordMessage(s.topics.TransactionCreated, metrics.OutcomeIgnored)
		return nil
	}
	s.metrics.RecordMessage(s.topics.TransactionCreated, metrics.OutcomeApplied)
	return nil
}

func (s *CreditService) balance(ctx context.Context, tx db.Transaction, userID int64) (*model.Balance, error) {
	user, err := s.users.Get(ctx, tx, userID)
	if err != nil {
		if errors.Is(err, userrepo.ErrUserNotFound) {
			return nil, pkgerrors.New(pkgerrors.UserNotFound)
		}
		return nil, pkgerrors.Wrap(fmt.Errorf("get user failed: %w", err), pkgerrors.DatabaseError)
	}
	return &model.Balance{UserID: user.ID, Name: user.Name, Credits: user.Credits, IsBlocked: user.IsBlocked}, nil
}

func (s *CreditService) addCredits(ctx context.Context, userID, delta int64) error {
	if err := s.users.AddCredits(ctx, nil, userID, delta); err != nil {
		if errors.Is(err, userrepo.ErrUserNotFound) {
			return pkgerrors.New(pkgerrors.UserNotFound)
		}
		return pkgerrors.Wrap(fmt.Errorf("update credits failed: %w", err), pkgerrors.CreditUpdateFailed)
	}
	return nil
}

func (s *CreditService) announce(ctx context.Context, topic string, userID int64, payload interface{}) {
	msg, err := events.Encode("", userID, payload)
	if err == nil {
		if s.producer == nil {
			err = errors.New("producer is nil")
		} else {
			err = s.producer.Publish(ctx, topic, msg)
		}
	}
	if err != nil {
		logger.Error(ctx, "publish credit event failed",
			zap.String("topic", topic),
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
	}
}
