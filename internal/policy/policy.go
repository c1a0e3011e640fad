// Package policy supplies the runtime parameters read at the start of each
// verification attempt.
package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/your-org/attendance/internal/config"
	"github.com/your-org/attendance/internal/evidence"
	"github.com/your-org/attendance/internal/storage"
)

// RuntimeDocID is the document holding admin overrides.
const RuntimeDocID = "policy:runtime"

type Policy struct {
	MatchThreshold   float64
	Cooldown         time.Duration
	CooldownPerStaff bool
	Evidence         evidence.Budget
	LocationTimeout  time.Duration
}

// Source yields the policy in force. Callers read it once per attempt.
type Source interface {
	Current(ctx context.Context) (Policy, error)
}

func FromConfig(cfg config.PolicyConfig) Policy {
	return Policy{
		MatchThreshold:   cfg.MatchThreshold,
		Cooldown:         time.Duration(cfg.CooldownSeconds) * time.Second,
		CooldownPerStaff: cfg.CooldownPerStaff,
		Evidence:         evidence.BudgetFromConfig(cfg),
		LocationTimeout:  cfg.LocationTimeout,
	}
}

// Static always returns the same policy.
type Static struct {
	P Policy
}

func (s Static) Current(context.Context) (Policy, error) { return s.P, nil }

// Overrides is the body of the runtime policy document. Nil fields keep the base value.
type Overrides struct {
	MatchThreshold     *float64 `json:"match_threshold,omitempty"`
	CooldownSeconds    *int     `json:"cooldown_seconds,omitempty"`
	CooldownPerStaff   *bool    `json:"cooldown_per_staff,omitempty"`
	EvidenceMaxWidth   *int     `json:"evidence_max_width,omitempty"`
	EvidenceQuality    *int     `json:"evidence_quality,omitempty"`
	EvidenceMaxBytes   *int     `json:"evidence_max_bytes,omitempty"`
	LocationTimeoutSec *float64 `json:"location_timeout_sec,omitempty"`
}

func (o Overrides) apply(p Policy) Policy {
	if o.MatchThreshold != nil && *o.MatchThreshold > 0 {
		p.MatchThreshold = *o.MatchThreshold
	}
	if o.CooldownSeconds != nil && *o.CooldownSeconds >= 0 {
		p.Cooldown = time.Duration(*o.CooldownSeconds) * time.Second
	}
	if o.CooldownPerStaff != nil {
		p.CooldownPerStaff = *o.CooldownPerStaff
	}
	if o.EvidenceMaxWidth != nil && *o.EvidenceMaxWidth > 0 {
		p.Evidence.MaxWidth = *o.EvidenceMaxWidth
	}
	if o.EvidenceQuality != nil && *o.EvidenceQuality > 0 && *o.EvidenceQuality <= 100 {
		p.Evidence.Quality = *o.EvidenceQuality
	}
	if o.EvidenceMaxBytes != nil && *o.EvidenceMaxBytes > 0 {
		p.Evidence.MaxBytes = *o.EvidenceMaxBytes
	}
	if o.LocationTimeoutSec != nil && *o.LocationTimeoutSec > 0 {
		p.LocationTimeout = time.Duration(*o.LocationTimeoutSec * float64(time.Second))
	}
	return p
}

// StoreSource layers the runtime policy document over a base policy.
// A missing document means no overrides.
type StoreSource struct {
	docs storage.DocumentStore
	base Policy
}

func NewStoreSource(docs storage.DocumentStore, base Policy) *StoreSource {
	return &StoreSource{docs: docs, base: base}
}

func (s *StoreSource) Current(ctx context.Context) (Policy, error) {
	doc, err := s.docs.Get(ctx, RuntimeDocID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return s.base, nil
		}
		return Policy{}, fmt.Errorf("load runtime policy: %w", err)
	}

	var o Overrides
	if err := json.Unmarshal(doc.Body, &o); err != nil {
		slog.Warn("ignoring malformed runtime policy", "rev", doc.Rev, "error", err)
		return s.base, nil
	}
	return o.apply(s.base), nil
}

// Save writes overrides, replacing the stored document at whatever revision it has.
func (s *StoreSource) Save(ctx context.Context, o Overrides) error {
	body, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal runtime policy: %w", err)
	}
	var rev int64
	if cur, err := s.docs.Get(ctx, RuntimeDocID); err == nil {
		rev = cur.Rev
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("load runtime policy: %w", err)
	}
	if _, err := s.docs.Put(ctx, storage.Document{ID: RuntimeDocID, Rev: rev, Kind: "policy", Body: body}); err != nil {
		return fmt.Errorf("save runtime policy: %w", err)
	}
	return nil
}
