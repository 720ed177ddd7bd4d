package rank

import (
	"errors"
	"fmt"
	"time"

	"github.com/kioku-app/kioku/internal/model"
)

// Gated feature names. These are the keys of the usage ledger.
const (
	FeatureArticleGeneration = "article_generation"
)

// Default free-tier limits.
const (
	DefaultArticleLimit       = 3 // generations per window
	DefaultWidgetProfileLimit = 1 // concurrent widget profiles
)

// SchedulerMode selects the scheduling flavor for a user.
type SchedulerMode int

const (
	ModeStandard     SchedulerMode = iota + 1 // population-default weights
	ModePersonalized                          // per-user fitted weights
)

// String returns "Standard" or "Personalized".
func (m SchedulerMode) String() string {
	if m == ModePersonalized {
		return "Personalized"
	}
	return "Standard"
}

// personalizationMinReviews is how much history a premium user needs before
// personalized weights are worth switching on.
const personalizationMinReviews = 30

// Limits configures the gate. Zero values fall back to defaults.
type Limits struct {
	ArticlesPerWindow int           `yaml:"articles_per_window"`
	WidgetProfiles    int           `yaml:"widget_profiles"`
	Window            time.Duration `yaml:"window"`
}

func (l Limits) articles() int {
	if l.ArticlesPerWindow == 0 {
		return DefaultArticleLimit
	}
	return l.ArticlesPerWindow
}

func (l Limits) widgets() int {
	if l.WidgetProfiles == 0 {
		return DefaultWidgetProfileLimit
	}
	return l.WidgetProfiles
}

func (l Limits) window() time.Duration {
	if l.Window == 0 {
		return model.DefaultWindow
	}
	return l.Window
}

// QuotaError reports a denied metered action with enough context to tell the
// user when budget returns.
type QuotaError struct {
	Feature      string
	Count        int
	Limit        int
	WindowAnchor time.Time
}

// Error implements the error interface.
func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exceeded: %s used %d of %d in window starting %s",
		e.Feature, e.Count, e.Limit, e.WindowAnchor.Format(time.RFC3339))
}

// IsQuotaExceeded reports whether err is a quota denial. Uses errors.As to
// handle wrapped errors.
func IsQuotaExceeded(err error) bool {
	var qe *QuotaError
	return errors.As(err, &qe)
}

// Decision is the outcome of one gate check. Entry is the usage row after
// any window rollover, which the caller persists; the check itself mutates
// nothing.
type Decision struct {
	Allowed bool
	Entry   model.UsageLedgerEntry
}

// Gate answers entitlement queries from settled state. Deterministic given
// (tier, windowAnchor, countInWindow, now); no clock reads, no network.
type Gate struct {
	limits Limits
}

// NewGate creates a gate with the given limits.
func NewGate(limits Limits) *Gate {
	return &Gate{limits: limits}
}

// ArticleLimit returns the effective free-tier article quota per window.
func (g *Gate) ArticleLimit() int {
	return g.limits.articles()
}

// CanGenerateArticle checks the metered article-generation quota.
// Premium is unmetered. For Free, the counter resets when now crosses into a
// new window, then the hard cap count < limit applies.
func (g *Gate) CanGenerateArticle(tier model.Tier, entry model.UsageLedgerEntry, now time.Time) Decision {
	entry = g.rollover(entry, now)
	if tier == model.TierPremium {
		return Decision{Allowed: true, Entry: entry}
	}
	return Decision{Allowed: entry.Count < g.limits.articles(), Entry: entry}
}

// Consume records one use of a metered feature. Callers invoke it only after
// an allowed decision, then persist the returned entry.
func (g *Gate) Consume(entry model.UsageLedgerEntry, now time.Time) model.UsageLedgerEntry {
	entry = g.rollover(entry, now)
	entry.Count++
	return entry
}

// CanCreateWidgetProfile checks the widget-profile cap against the current
// count. Not window-based: the cap applies to concurrently existing
// profiles.
func (g *Gate) CanCreateWidgetProfile(tier model.Tier, currentCount int) bool {
	if tier == model.TierPremium {
		return true
	}
	return currentCount < g.limits.widgets()
}

// ActiveSchedulerMode returns Personalized for premium users with enough
// review history to fit weights, Standard otherwise.
func (g *Gate) ActiveSchedulerMode(p model.UserProfile) SchedulerMode {
	if p.Tier == model.TierPremium && p.CycleCount >= personalizationMinReviews {
		return ModePersonalized
	}
	return ModeStandard
}

// rollover resets the counter when now falls in a later window than the
// entry's anchor. The anchor is a pure function of now and the window
// length, so every device computes the same boundary.
func (g *Gate) rollover(entry model.UsageLedgerEntry, now time.Time) model.UsageLedgerEntry {
	anchor := model.WindowAnchor(now, g.limits.window())
	if !anchor.Equal(entry.WindowAnchor) {
		entry.WindowAnchor = anchor
		entry.Count = 0
	}
	return entry
}
