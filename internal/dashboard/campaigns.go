package dashboard

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ciplastic/funnel-dashboard/internal/funnel"
	"github.com/ciplastic/funnel-dashboard/internal/model"
)

// Campaigns returns the ad account summary for r with CRM outcomes allocated
// to each campaign by its share of ad leads. The allocation is an estimate,
// not a per-campaign join. When the CRM side cannot be read the campaigns
// are returned with zeroed CRM fields; a Meta failure fails the call.
func (s *Service) Campaigns(ctx context.Context, r funnel.DateRange) (*model.AccountSummary, error) {
	if s.ads == nil || !s.ads.Configured() {
		return nil, ErrAdsNotConfigured
	}

	var (
		summary *model.AccountSummary
		opps    []model.Opportunity
		crmErr  error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		summary, err = s.ads.AccountSummary(gctx, r.Start, r.End)
		if err != nil {
			s.metrics.UpstreamError("meta")
			return eris.Wrap(err, "dashboard: meta account summary")
		}
		return nil
	})
	g.Go(func() error {
		opps, crmErr = s.Records(gctx, r)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if crmErr != nil {
		zap.L().Warn("dashboard: crm side of campaign cross-reference unavailable",
			zap.String("range", r.Key()), zap.Error(crmErr))
		funnel.ZeroAllocation(summary)
		return summary, nil
	}

	totals := funnel.CRMTotalsFor(opps, s.calc.Taxonomy, s.mode)
	funnel.AllocateToCampaigns(summary, totals)
	return summary, nil
}

// ActiveCampaigns lists the ad account's running campaigns.
func (s *Service) ActiveCampaigns(ctx context.Context) ([]model.ActiveCampaign, error) {
	if s.ads == nil || !s.ads.Configured() {
		return nil, ErrAdsNotConfigured
	}
	campaigns, err := s.ads.ActiveCampaigns(ctx)
	if err != nil {
		s.metrics.UpstreamError("meta")
		return nil, eris.Wrap(err, "dashboard: active campaigns")
	}
	return campaigns, nil
}
