// Package consensus fans one analytical question out to several providers and
// reconciles their answers field by field.
package consensus

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/marketaudit/internal/audit"
	"github.com/TobiSchelling/marketaudit/internal/extract"
	"github.com/TobiSchelling/marketaudit/internal/llm"
)

// MaxProviders is the primary plus two secondaries.
const MaxProviders = 3

// summaryField holds each provider's positioning statement. It feeds the summary
// and is not compared.
const summaryField = "summary"

// Invoker is the model call surface the ensemble needs.
type Invoker interface {
	Invoke(ctx context.Context, providerID string, req llm.Request) (string, error)
	IDs() []string
}

// Run answers req with every eligible provider and aggregates the result. With
// fewer than two providers it returns the single-provider report without a call.
func Run(ctx context.Context, inv Invoker, req llm.Request) audit.ConsensusReport {
	ids := inv.IDs()
	if len(ids) < 2 {
		primary := ""
		if len(ids) == 1 {
			primary = ids[0]
		}
		return SingleProvider(primary)
	}
	return Aggregate(FanOut(ctx, inv, req))
}

// FanOut sends req to the primary and up to two secondary providers concurrently.
// A provider failure is recorded in its response and never affects the others.
func FanOut(ctx context.Context, inv Invoker, req llm.Request) []audit.ProviderResponse {
	ids := inv.IDs()
	if len(ids) > MaxProviders {
		zap.L().Warn("consensus: too many providers, ignoring extras",
			zap.Strings("ignored", ids[MaxProviders:]),
		)
		ids = ids[:MaxProviders]
	}

	responses := make([]audit.ProviderResponse, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			responses[i] = ask(ctx, inv, id, req)
			return nil
		})
	}
	_ = g.Wait()
	return responses
}

func ask(ctx context.Context, inv Invoker, id string, req llm.Request) audit.ProviderResponse {
	resp := audit.ProviderResponse{Provider: id}

	raw, err := inv.Invoke(ctx, id, req)
	if err != nil {
		resp.Err = err
		zap.L().Warn("consensus: provider failed", zap.String("provider", id), zap.Error(err))
		return resp
	}
	resp.Raw = raw

	record, err := extract.Extract(raw)
	if err != nil {
		resp.Err = err
		zap.L().Warn("consensus: unreadable provider answer", zap.String("provider", id), zap.Error(err))
		return resp
	}
	resp.Record = record
	return resp
}

// SingleProvider builds the trivial report used when fewer than two providers
// are registered.
func SingleProvider(id string) audit.ConsensusReport {
	report := audit.ConsensusReport{
		Status:    audit.ConsensusSingleProvider,
		Consensus: []audit.ConsensusInsight{},
		Divergent: []audit.DivergentInsight{},
	}
	if id != "" {
		report.Providers = []string{id}
	}
	return report
}

// Aggregate reconciles provider responses. The result depends only on the set of
// responses, never on their order.
func Aggregate(responses []audit.ProviderResponse) audit.ConsensusReport {
	sorted := append([]audit.ProviderResponse(nil), responses...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Provider < sorted[j].Provider })

	report := audit.ConsensusReport{
		Status:    audit.ConsensusOK,
		Consensus: []audit.ConsensusInsight{},
		Divergent: []audit.DivergentInsight{},
	}

	var ok []audit.ProviderResponse
	for _, r := range sorted {
		report.Providers = append(report.Providers, r.Provider)
		if r.Err != nil || r.Record == nil {
			report.Failed = append(report.Failed, r.Provider)
			continue
		}
		ok = append(ok, r)
	}

	if len(ok) == 0 {
		report.Status = audit.ConsensusDegraded
		return report
	}

	for _, field := range fields(ok) {
		consensus, divergent := compare(field, ok)
		if consensus != nil {
			report.Consensus = append(report.Consensus, *consensus)
		}
		if divergent != nil {
			report.Divergent = append(report.Divergent, *divergent)
		}
	}

	lines := make([]string, 0, len(ok))
	for _, r := range ok {
		lines = append(lines, fmt.Sprintf("%s: %s", r.Provider, r.Record.String(summaryField, "(no summary)")))
	}
	report.Summary = strings.Join(lines, "\n")
	return report
}

// fields returns the sorted union of compared field names.
func fields(responses []audit.ProviderResponse) []string {
	seen := make(map[string]bool)
	for _, r := range responses {
		for k := range r.Record {
			if k != summaryField {
				seen[k] = true
			}
		}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

type group struct {
	value     any
	providers []string
}

// compare groups the providers that returned field by canonical value. responses
// must be sorted by provider.
func compare(field string, responses []audit.ProviderResponse) (*audit.ConsensusInsight, *audit.DivergentInsight) {
	groups := make(map[string]*group)
	var order []string
	values := make(map[string]any)

	for _, r := range responses {
		v, ok := r.Record[field]
		if !ok {
			continue
		}
		key := canonical(v)
		g, exists := groups[key]
		if !exists {
			g = &group{value: v}
			groups[key] = g
			order = append(order, key)
		}
		g.providers = append(g.providers, r.Provider)
		values[r.Provider] = v
	}

	var divergent *audit.DivergentInsight
	if len(values) >= 2 && len(groups) > 1 {
		divergent = &audit.DivergentInsight{Field: field, Values: values}
	}

	var best *group
	tied := false
	for _, key := range order {
		g := groups[key]
		switch {
		case best == nil || len(g.providers) > len(best.providers):
			best, tied = g, false
		case len(g.providers) == len(best.providers):
			tied = true
		}
	}
	if best == nil || tied || len(best.providers) < 2 {
		return nil, divergent
	}
	return &audit.ConsensusInsight{Field: field, Value: best.value, Providers: best.providers}, divergent
}

// canonical encodes v with sorted map keys so equal values compare equal.
func canonical(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(data)
}
