package notion

import (
	"context"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ciplastic/funnel-dashboard/internal/funnel"
	"github.com/ciplastic/funnel-dashboard/internal/model"
)

type MockClient struct {
	mock.Mock
}

func (m *MockClient) FindPage(ctx context.Context, dbID, titleProp, title string) (*notionapi.Page, error) {
	args := m.Called(ctx, dbID, titleProp, title)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func (m *MockClient) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func (m *MockClient) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, pageID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func testReport() Report {
	loc := time.FixedZone("CST", -6*3600)
	return Report{
		Range: funnel.MustDateRange("2025-03-01", "2025-03-31", loc),
		Metrics: &model.MetricsResult{
			Funnel: model.FunnelMetrics{
				TotalLeads:          120,
				LeadsCalificados:    80,
				DepositosRealizados: 6,
				TotalDepositos:      270000,
				TasaConversion:      "5.00",
				TasaContacto:        "66.67",
			},
			Sources: []model.ChannelMetrics{{Source: "Facebook Ads", Total: 90, Depositos: 4, TasaConversion: "4.44"}},
		},
	}
}

func number(t *testing.T, props notionapi.Properties, key string) float64 {
	t.Helper()
	p, ok := props[key].(notionapi.NumberProperty)
	require.True(t, ok, "property %s", key)
	return p.Number
}

func TestReportTitle(t *testing.T) {
	assert.Equal(t, "Funnel 2025-03-01 al 2025-03-31", testReport().Title())
}

func TestReportProperties(t *testing.T) {
	r := testReport()
	r.Ads = &model.AccountSummary{Spend: 1734.5}
	r.Analysis = &model.Analysis{PuntuacionSalud: 72}

	props := reportProperties(r)
	assert.Equal(t, 120.0, number(t, props, PropLeads))
	assert.Equal(t, 80.0, number(t, props, PropQualified))
	assert.Equal(t, 6.0, number(t, props, PropDeposits))
	assert.Equal(t, 270000.0, number(t, props, PropDepositSum))
	assert.InDelta(t, 5.0, number(t, props, PropConversion), 1e-9)
	assert.InDelta(t, 66.67, number(t, props, PropContactRate), 1e-9)
	assert.Equal(t, 1734.5, number(t, props, PropAdSpend))
	assert.Equal(t, 72.0, number(t, props, PropHealth))

	title, ok := props[PropTitle].(notionapi.TitleProperty)
	require.True(t, ok)
	assert.Equal(t, r.Title(), title.Title[0].Text.Content)

	period, ok := props[PropPeriod].(notionapi.DateProperty)
	require.True(t, ok)
	assert.True(t, time.Time(*period.Date.Start).Equal(r.Range.From))
	assert.True(t, time.Time(*period.Date.End).Equal(r.Range.To))
}

func TestReportProperties_OptionalSections(t *testing.T) {
	props := reportProperties(testReport())
	assert.NotContains(t, props, PropAdSpend)
	assert.NotContains(t, props, PropHealth)
}

func TestReportBlocks(t *testing.T) {
	r := testReport()
	assert.Len(t, reportBlocks(r), 2)

	r.Analysis = &model.Analysis{
		ResumenEjecutivo: "Funnel sano",
		Alertas:          []model.Alert{{Tipo: "critico", Titulo: "E6", Detalle: "No contestan"}},
		Recomendaciones:  []model.Recommendation{{Prioridad: "alta", Accion: "Llamar"}},
	}
	blocks := reportBlocks(r)
	// Resumen heading + paragraph, alert heading + item, recommendation
	// heading + item, sources heading + item.
	require.Len(t, blocks, 8)
	p, ok := blocks[1].(*notionapi.ParagraphBlock)
	require.True(t, ok)
	assert.Equal(t, "Funnel sano", p.Paragraph.RichText[0].Text.Content)
	item, ok := blocks[3].(*notionapi.BulletedListItemBlock)
	require.True(t, ok)
	assert.Equal(t, "[critico] E6: No contestan", item.BulletedListItem.RichText[0].Text.Content)
}

func TestPublishReport_Creates(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()
	mc.On("FindPage", ctx, "db-1", PropTitle, "Funnel 2025-03-01 al 2025-03-31").
		Return(nil, nil).Once()
	mc.On("CreatePage", ctx, mock.MatchedBy(func(req *notionapi.PageCreateRequest) bool {
		return req.Parent.DatabaseID == "db-1" && len(req.Children) == 2 && req.Properties[PropLeads] != nil
	})).Return(&notionapi.Page{ID: "new"}, nil).Once()

	page, err := PublishReport(ctx, mc, "db-1", testReport())
	require.NoError(t, err)
	assert.Equal(t, notionapi.ObjectID("new"), page.ID)
	mc.AssertExpectations(t)
}

func TestPublishReport_UpdatesExisting(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()
	mc.On("FindPage", ctx, "db-1", PropTitle, "Funnel 2025-03-01 al 2025-03-31").
		Return(&notionapi.Page{ID: "old"}, nil).Once()
	mc.On("UpdatePage", ctx, "old", mock.AnythingOfType("*notionapi.PageUpdateRequest")).
		Return(&notionapi.Page{ID: "old"}, nil).Once()

	page, err := PublishReport(ctx, mc, "db-1", testReport())
	require.NoError(t, err)
	assert.Equal(t, notionapi.ObjectID("old"), page.ID)
	mc.AssertNotCalled(t, "CreatePage", mock.Anything, mock.Anything)
}

func TestPublishReport_Errors(t *testing.T) {
	_, err := PublishReport(context.Background(), new(MockClient), "db-1", Report{})
	require.Error(t, err)

	mc := new(MockClient)
	mc.On("FindPage", mock.Anything, "db-1", PropTitle, mock.Anything).Return(nil, assert.AnError)
	_, err = PublishReport(context.Background(), mc, "db-1", testReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notion: find report")

	mc = new(MockClient)
	mc.On("FindPage", mock.Anything, "db-1", PropTitle, mock.Anything).Return(nil, nil)
	mc.On("CreatePage", mock.Anything, mock.Anything).Return(nil, assert.AnError)
	_, err = PublishReport(context.Background(), mc, "db-1", testReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notion: create report")
}

func TestPublishReport_UpdateError(t *testing.T) {
	mc := new(MockClient)
	mc.On("FindPage", mock.Anything, "db-1", PropTitle, mock.Anything).Return(&notionapi.Page{ID: "old"}, nil)
	mc.On("UpdatePage", mock.Anything, "old", mock.Anything).Return(nil, assert.AnError)

	_, err := PublishReport(context.Background(), mc, "db-1", testReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notion: update report")
}

func TestNewClient_RateLimit(t *testing.T) {
	c, ok := NewClient("secret").(*apiClient)
	require.True(t, ok)
	require.NotNil(t, c.limiter)
	assert.InDelta(t, 3.0, float64(c.limiter.Limit()), 1e-9)

	c, ok = NewClient("secret", WithRateLimit(10)).(*apiClient)
	require.True(t, ok)
	assert.Equal(t, 10, c.limiter.Burst())

	c, ok = NewClient("secret", WithRateLimit(0)).(*apiClient)
	require.True(t, ok)
	assert.Nil(t, c.limiter)
	assert.NoError(t, c.wait(context.Background()))
}

func TestClientWait_Cancelled(t *testing.T) {
	c, ok := NewClient("secret").(*apiClient)
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.CreatePage(ctx, &notionapi.PageCreateRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notion: rate limit")
}
