package compliance

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/decomontenegro/truelabel/internal/domain"
	"github.com/decomontenegro/truelabel/internal/metrics"
	"github.com/decomontenegro/truelabel/internal/storage"
)

//go:embed default_ruleset.yaml
var defaultRuleset []byte

// maxRuleTableSize bounds uploaded and stored rule tables.
const maxRuleTableSize = 1 << 20

// Rule table sources reported by Snapshot.
const (
	SourceEmbedded = "embedded"
	SourceStorage  = "storage"
)

// DefaultDocument returns the embedded rule table.
func DefaultDocument() []byte {
	return bytes.Clone(defaultRuleset)
}

// active is one published generation of the rule table.
type active struct {
	ruleset  *Ruleset
	raw      []byte
	revision string
	source   string
	loadedAt time.Time
}

// Snapshot describes the rule table currently in use.
type Snapshot struct {
	Version   string    `json:"version"`
	Source    string    `json:"source"`
	Revision  string    `json:"revision,omitempty"`
	RuleCount int       `json:"ruleCount"`
	Problems  []Problem `json:"problems"`
	LoadedAt  time.Time `json:"loadedAt"`
	Document  string    `json:"document"`
}

// Registry holds the active Ruleset and swaps it atomically on reload.
// Readers never block: Evaluate always uses a complete, compiled generation.
type Registry struct {
	store  storage.Storage // nil means embedded only
	key    string
	logger *slog.Logger
	now    func() time.Time

	current atomic.Pointer[active]
	group   singleflight.Group
}

// NewRegistry compiles the embedded rule table and returns a registry
// backed by store. Call Reload to pick up a published table.
func NewRegistry(store storage.Storage, key string, logger *slog.Logger) (*Registry, error) {
	if key == "" {
		key = storage.DefaultRulesKey
	}
	r := &Registry{store: store, key: key, logger: logger, now: time.Now}

	doc, err := Parse(defaultRuleset)
	if err != nil {
		return nil, fmt.Errorf("embedded rule table: %w", err)
	}
	rs := Compile(doc)
	r.logProblems(rs, SourceEmbedded)
	r.current.Store(&active{
		ruleset:  rs,
		raw:      defaultRuleset,
		source:   SourceEmbedded,
		loadedAt: r.now(),
	})
	return r, nil
}

// Current returns the active ruleset.
func (r *Registry) Current() *Ruleset {
	return r.current.Load().ruleset
}

// Evaluate runs the active ruleset and records the verdict.
func (r *Registry) Evaluate(bundle domain.AnalysisBundle, claims []string) *domain.ComplianceResult {
	result := r.Current().Evaluate(bundle, claims)

	metrics.ComplianceEvaluations.WithLabelValues(string(result.Verdict)).Inc()
	for _, f := range result.Findings {
		if f.Reason == domain.ReasonRuleGap {
			metrics.RuleGapFindings.Inc()
			r.logger.Warn("finding failed on a rule gap",
				"category", f.Category,
				"parameter", f.Parameter,
				"ruleset", result.RulesetVersion,
				"rationale", f.Rationale,
			)
		}
	}
	return result
}

// Snapshot reports the active generation.
func (r *Registry) Snapshot() Snapshot {
	a := r.current.Load()
	problems := a.ruleset.Problems()
	if problems == nil {
		problems = []Problem{}
	}
	return Snapshot{
		Version:   a.ruleset.Version(),
		Source:    a.source,
		Revision:  a.revision,
		RuleCount: a.ruleset.RuleCount(),
		Problems:  problems,
		LoadedAt:  a.loadedAt,
		Document:  string(a.raw),
	}
}

// Reload fetches the stored rule table when its revision changed and
// publishes it. Concurrent callers share a single fetch. Reports whether a
// new generation was published. A missing stored table keeps the current
// generation.
func (r *Registry) Reload(ctx context.Context) (bool, error) {
	if r.store == nil {
		return false, nil
	}

	v, err, _ := r.group.Do("reload", func() (any, error) {
		return r.reload(ctx)
	})
	if err != nil {
		metrics.RuleReloads.WithLabelValues("error").Inc()
		return false, err
	}
	changed := v.(bool)
	if changed {
		metrics.RuleReloads.WithLabelValues("updated").Inc()
	} else {
		metrics.RuleReloads.WithLabelValues("unchanged").Inc()
	}
	return changed, nil
}

func (r *Registry) reload(ctx context.Context) (bool, error) {
	info, err := r.store.Stat(ctx, r.key)
	if err != nil {
		if storage.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat rule table: %w", err)
	}
	if cur := r.current.Load(); cur.source == SourceStorage && cur.revision == info.Revision() {
		return false, nil
	}

	body, info, err := r.store.Get(ctx, r.key)
	if err != nil {
		return false, fmt.Errorf("fetch rule table: %w", err)
	}
	defer body.Close()

	raw, err := io.ReadAll(io.LimitReader(body, maxRuleTableSize+1))
	if err != nil {
		return false, fmt.Errorf("read rule table: %w", err)
	}
	if len(raw) > maxRuleTableSize {
		return false, fmt.Errorf("rule table exceeds %d bytes", maxRuleTableSize)
	}

	doc, err := Parse(raw)
	if err != nil {
		// Keep serving the previous generation.
		return false, err
	}
	rs := Compile(doc)
	r.logProblems(rs, SourceStorage)

	r.current.Store(&active{
		ruleset:  rs,
		raw:      raw,
		revision: info.Revision(),
		source:   SourceStorage,
		loadedAt: r.now(),
	})
	r.logger.Info("rule table loaded",
		"version", rs.Version(),
		"rules", rs.RuleCount(),
		"problems", len(rs.Problems()),
		"revision", info.Revision(),
	)
	return true, nil
}

// Update validates raw, archives the stored table it replaces and publishes
// raw as the new active table. A document that fails to parse or contains
// any rule problem is rejected with a ValidationError and nothing is stored.
func (r *Registry) Update(ctx context.Context, raw []byte) (Snapshot, error) {
	const op = "compliance.Update"

	if len(raw) == 0 || len(raw) > maxRuleTableSize {
		return Snapshot{}, domain.Invalid(op, fmt.Sprintf("rule table must be between 1 and %d bytes", maxRuleTableSize))
	}
	doc, err := Parse(raw)
	if err != nil {
		return Snapshot{}, domain.Invalid(op, err.Error())
	}
	rs := Compile(doc)
	if problems := rs.Problems(); len(problems) > 0 {
		verr := &domain.ValidationError{Op: op, Fields: make(map[string]string, len(problems))}
		for _, p := range problems {
			verr.Fields[p.Category+"/"+p.Parameter] = p.Message
		}
		return Snapshot{}, verr
	}

	next := &active{ruleset: rs, raw: bytes.Clone(raw), source: SourceEmbedded, loadedAt: r.now()}

	if r.store != nil {
		prev := r.current.Load()
		if prev.source == SourceStorage {
			archive := storage.RulesArchiveKey(prev.ruleset.Version(), r.now())
			if err := r.store.Put(ctx, archive, bytes.NewReader(prev.raw), storage.PutOptions{Overwrite: true}); err != nil {
				r.logger.Warn("failed to archive previous rule table", "key", archive, "error", err)
			}
		}

		err := r.store.Put(ctx, r.key, bytes.NewReader(raw), storage.PutOptions{
			MaxSize:   maxRuleTableSize,
			Overwrite: true,
		})
		if err != nil {
			return Snapshot{}, domain.Unavailable(err, op)
		}
		next.source = SourceStorage
		if info, err := r.store.Stat(ctx, r.key); err == nil {
			next.revision = info.Revision()
		}
	}

	r.current.Store(next)
	metrics.RuleReloads.WithLabelValues("updated").Inc()
	r.logger.Info("rule table updated", "version", rs.Version(), "rules", rs.RuleCount())
	return r.Snapshot(), nil
}

func (r *Registry) logProblems(rs *Ruleset, source string) {
	for _, p := range rs.Problems() {
		r.logger.Warn("rule table problem",
			"source", source,
			"version", rs.Version(),
			"category", p.Category,
			"parameter", p.Parameter,
			"problem", p.Message,
		)
	}
}
