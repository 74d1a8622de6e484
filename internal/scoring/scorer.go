// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

// Package scoring turns basic video metrics into a 0-100 performance score
// and a HOT/WARM/COLD tier.
//
// The score blends two normalized terms:
//
//	engagement = min((likes+comments)/views, cap) / cap
//	velocity   = views / max(ageDays, minAge)^decay, min-max normalized
//	             against the owner's velocity range (or a fixed reference)
//	score      = 100 * (we*engagement + wv*velocity) / (we+wv)
//
// Scorer is pure: the same Input always yields the same Result.
package scoring

import (
	"math"
	"time"

	"github.com/tomtom215/tubepulse/internal/config"
	"github.com/tomtom215/tubepulse/internal/models"
)

// Input is everything a score depends on.
type Input struct {
	Metrics     models.BasicMetrics
	PublishedAt time.Time
	Now         time.Time
	// Reference is the owner's historical velocity range. It is ignored when
	// it holds fewer than MinHistory videos.
	Reference models.VelocityRange
}

// Result is the scorer output.
type Result struct {
	Score          float64
	Tier           models.Tier
	EngagementRate float64 // unnormalized (likes+comments)/views
	Velocity       float64 // views/day after decay
}

// Scorer computes performance scores from configured coefficients.
type Scorer struct {
	cfg config.ScoringConfig
}

// NewScorer creates a Scorer. cfg must already be validated.
func NewScorer(cfg config.ScoringConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score computes the score and tier for in.
func (s *Scorer) Score(in Input) Result {
	var res Result
	views := float64(in.Metrics.ViewCount)
	if views <= 0 {
		res.Tier = s.Tier(0)
		return res
	}

	res.EngagementRate = float64(in.Metrics.LikeCount+in.Metrics.CommentCount) / views
	engagement := math.Min(res.EngagementRate, s.cfg.EngagementCap) / s.cfg.EngagementCap

	res.Velocity = views / math.Pow(s.ageDays(in.PublishedAt, in.Now), s.cfg.DecayExponent)
	velocity := s.normalizeVelocity(res.Velocity, in.Reference)

	we, wv := s.cfg.EngagementWeight, s.cfg.VelocityWeight
	score := 100 * (we*engagement + wv*velocity) / (we + wv)
	res.Score = clamp(score, 0, 100)
	res.Tier = s.Tier(res.Score)
	return res
}

// Tier maps a score to its tier using the configured thresholds.
func (s *Scorer) Tier(score float64) models.Tier {
	switch {
	case score >= s.cfg.HotThreshold:
		return models.TierHot
	case score >= s.cfg.WarmThreshold:
		return models.TierWarm
	default:
		return models.TierCold
	}
}

// EffectiveReference returns the range actually used to normalize velocity.
func (s *Scorer) EffectiveReference(ref models.VelocityRange) models.VelocityRange {
	if ref.Count < s.cfg.MinHistory || ref.Max <= ref.Min {
		return models.VelocityRange{Min: 0, Max: s.cfg.ReferenceVelocity}
	}
	return ref
}

func (s *Scorer) normalizeVelocity(v float64, ref models.VelocityRange) float64 {
	r := s.EffectiveReference(ref)
	return clamp((v-r.Min)/(r.Max-r.Min), 0, 1)
}

// ageDays never returns less than MinAgeDays, so brand-new and
// future-dated videos do not divide by zero.
func (s *Scorer) ageDays(published, now time.Time) float64 {
	if published.IsZero() {
		return s.cfg.MinAgeDays
	}
	return math.Max(now.Sub(published).Hours()/24, s.cfg.MinAgeDays)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
