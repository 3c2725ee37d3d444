package dataset

import (
	"context"
	"time"
)

// Provider serves observation tables for one source from the local cache,
// refreshing it on demand.
type Provider struct {
	spec    Spec
	fetcher *Fetcher
	loc     *time.Location
}

func NewProvider(spec Spec, fetcher *Fetcher, loc *time.Location) *Provider {
	if loc == nil {
		loc = time.UTC
	}
	return &Provider{spec: spec, fetcher: fetcher, loc: loc}
}

// NewProviders builds a provider per configured source.
func NewProviders(fetcher *Fetcher, loc *time.Location) map[Source]*Provider {
	out := map[Source]*Provider{}
	for src, spec := range Specs() {
		out[src] = NewProvider(spec, fetcher, loc)
	}
	return out
}

func (p *Provider) Name() string          { return string(p.spec.Source) }
func (p *Provider) Title() string         { return p.spec.Title }
func (p *Provider) Variables() []Variable { return p.spec.Variables }

func (p *Provider) Refresh(ctx context.Context) error {
	return p.fetcher.Refresh(ctx, p.spec)
}

// NationalTable returns the nationwide observation table.
func (p *Provider) NationalTable(ctx context.Context) (Table, error) {
	_ = ctx
	path, err := p.fetcher.localPath(p.spec, p.spec.NationalKey)
	if err != nil {
		return Table{}, err
	}
	return readTableFile(path, p.spec, "", p.loc)
}

// AreaTable returns the observation table restricted to one area.
func (p *Provider) AreaTable(ctx context.Context, area string) (Table, error) {
	_ = ctx
	path, err := p.fetcher.localPath(p.spec, p.spec.AreaKey)
	if err != nil {
		return Table{}, err
	}
	return readTableFile(path, p.spec, area, p.loc)
}

// Areas lists the area names available in the per-area feed.
func (p *Provider) Areas(ctx context.Context) ([]string, error) {
	_ = ctx
	path, err := p.fetcher.localPath(p.spec, p.spec.AreaKey)
	if err != nil {
		return nil, err
	}
	return readAreas(path, p.spec)
}
