package service

import (
	"context"
	"errors"

	"solveq/internal/common/events"
	"solveq/internal/common/mq"
	"solveq/internal/user/repository"
	pkgerrors "solveq/pkg/errors"
	"solveq/pkg/utils/logger"

	"go.uber.org/zap"
)

// BlockWriter changes whether a user may start executions. Only settlement
// and delayed payment hold one.
type BlockWriter interface {
	SetBlocked(ctx context.Context, userID int64, blocked bool) error
}

// BlockReader answers whether a user is blocked from the replicated projection.
type BlockReader interface {
	IsBlocked(ctx context.Context, userID int64) (bool, error)
}

// BlockService is the BlockWriter. It persists the flag, refreshes the local
// projection and announces the change on the block-user topic.
type BlockService struct {
	users      repository.UserRepository
	projection *BlockProjection
	producer   mq.Producer
	topic      string
}

func NewBlockService(users repository.UserRepository, projection *BlockProjection, producer mq.Producer, topic string) *BlockService {
	return &BlockService{users: users, projection: projection, producer: producer, topic: topic}
}

// SetBlocked stores the flag. A failed notification is logged only: the
// flag is already durable and readers fall back to the users table.
func (s *BlockService) SetBlocked(ctx context.Context, userID int64, blocked bool) error {
	changed, err := s.users.SetBlocked(ctx, nil, userID, blocked)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return pkgerrors.New(pkgerrors.UserNotFound)
		}
		return pkgerrors.Wrapf(err, pkgerrors.BlockFailed, "set block flag failed")
	}
	if s.projection != nil {
		s.projection.Apply(ctx, userID, blocked)
	}
	if !changed {
		logger.Debug(ctx, "block flag unchanged", zap.Int64("user_id", userID), zap.Bool("blocked", blocked))
	}

	msg, err := events.Encode("", userID, events.BlockUser{UserID: events.ID(userID), Block: blocked})
	if err != nil {
		return err
	}
	if s.producer == nil {
		logger.Warn(ctx, "no producer configured, block-user not published", zap.Int64("user_id", userID))
		return nil
	}
	if err := s.producer.Publish(ctx, s.topic, msg); err != nil {
		logger.Error(ctx, "publish block-user failed",
			zap.Int64("user_id", userID),
			zap.Bool("blocked", blocked),
			zap.Error(err),
		)
	}
	return nil
}

// BlockProjection is the BlockReader: projected state first, users table
// when the projection has never seen the user or Redis is unavailable.
type BlockProjection struct {
	cache *repository.BlockCacheRepository
	users repository.UserRepository
}

func NewBlockProjection(cache *repository.BlockCacheRepository, users repository.UserRepository) *BlockProjection {
	return &BlockProjection{cache: cache, users: users}
}

func (p *BlockProjection) IsBlocked(ctx context.Context, userID int64) (bool, error) {
	if p.cache != nil {
		blocked, err := p.cache.Lookup(ctx, userID)
		if err == nil {
			return blocked, nil
		}
		if !errors.Is(err, repository.ErrBlockStateUnknown) {
			logger.Warn(ctx, "block projection lookup failed, reading users table",
				zap.Int64("user_id", userID), zap.Error(err))
		}
	}

	user, err := p.users.Get(ctx, nil, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return false, pkgerrors.New(pkgerrors.UserNotFound)
		}
		return false, pkgerrors.Wrap(err, pkgerrors.DatabaseError)
	}
	p.Apply(ctx, userID, user.IsBlocked)
	return user.IsBlocked, nil
}

// Apply records a known block state in the projection.
func (p *BlockProjection) Apply(ctx context.Context, userID int64, blocked bool) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Store(ctx, userID, blocked); err != nil {
		logger.Warn(ctx, "store block projection failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}
