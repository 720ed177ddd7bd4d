package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kioku-app/kioku/internal/model"
	"github.com/kioku-app/kioku/internal/rank"
	"github.com/kioku-app/kioku/internal/store"
)

// AuthorizeArticle checks the article-generation quota and, when allowed,
// consumes one unit from it. The decision reads only local settled state.
// A denial is a *rank.QuotaError.
func (e *Engine) AuthorizeArticle(ctx context.Context, userID string) error {
	l := e.userLock(userID)
	l.Lock()
	defer l.Unlock()

	p, err := e.loadProfile(ctx, userID)
	if err != nil {
		return err
	}
	entry, err := e.store.GetUsage(ctx, userID, rank.FeatureArticleGeneration)
	if errors.Is(err, store.ErrNotFound) {
		entry = model.UsageLedgerEntry{UserID: userID, Feature: rank.FeatureArticleGeneration}
	} else if err != nil {
		return fmt.Errorf("authorize article: %w", err)
	}

	now := e.now()
	d := e.gate.CanGenerateArticle(p.Tier, entry, now)
	if !d.Allowed {
		e.log.Info("article generation denied",
			zap.String("user_id", userID),
			zap.Stringer("tier", p.Tier),
			zap.Int("count", d.Entry.Count))
		return &rank.QuotaError{
			Feature:      rank.FeatureArticleGeneration,
			Count:        d.Entry.Count,
			Limit:        e.gate.ArticleLimit(),
			WindowAnchor: d.Entry.WindowAnchor,
		}
	}
	entry = e.gate.Consume(d.Entry, now)
	if err := e.store.PutUsage(ctx, entry); err != nil {
		return fmt.Errorf("authorize article: %w", err)
	}
	return nil
}

// CanCreateWidgetProfile checks the widget-profile cap.
func (e *Engine) CanCreateWidgetProfile(ctx context.Context, userID string, currentCount int) (bool, error) {
	p, err := e.loadProfile(ctx, userID)
	if err != nil {
		return false, err
	}
	return e.gate.CanCreateWidgetProfile(p.Tier, currentCount), nil
}

// SchedulerMode reports which scheduling flavor the user runs under.
func (e *Engine) SchedulerMode(ctx context.Context, userID string) (rank.SchedulerMode, error) {
	p, err := e.loadProfile(ctx, userID)
	if err != nil {
		return 0, err
	}
	return e.gate.ActiveSchedulerMode(p), nil
}
