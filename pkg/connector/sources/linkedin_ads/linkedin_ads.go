// Package linkedinads implements the LinkedIn Marketing API source.
//
// Streams:
//   - accounts: full refresh of the configured (or all accessible) ad accounts
//   - campaigns: incremental on last_modified_time
//   - ad_analytics: daily statistics pivoted by creative, campaign, campaign
//     group and account, incremental on the last synced date
//
// The analytics endpoint accepts at most 20 fields per request, so requested
// fields are split into chunks that always carry dateRange and pivotValues and
// merged back into one row per key.
package linkedinads

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-sync/pkg/clients"
	"github.com/ajitpratap0/nebula-sync/pkg/config"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/base"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/chunking"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sync/pkg/errors"
)

const (
	// Version of the LinkedIn Ads connector
	Version = "1.0.0"
	// Description shown by the connectors command
	Description = "LinkedIn Marketing API: ad accounts, campaigns and ad analytics"

	StreamAccounts    = "accounts"
	StreamCampaigns   = "campaigns"
	StreamAdAnalytics = "ad_analytics"

	// DefaultBaseURL is the versioned REST endpoint
	DefaultBaseURL = "https://api.linkedin.com/rest/"
	// DefaultAPIVersion is sent in the LinkedIn-Version header
	DefaultAPIVersion = "202504"
	// MaxFieldsPerRequest is the analytics per-request field limit
	MaxFieldsPerRequest = 20

	accountURNPrefix = "urn:li:sponsoredAccount:"
	defaultPageSize  = 100
	dateLayout       = "2006-01-02"
)

var connectionSpec = core.ConnectionSpec{
	Properties: []core.SpecProperty{
		{Name: "access_token", Description: "OAuth2 access token", Credential: true, Required: true},
		{Name: "refresh_token", Description: "OAuth2 refresh token used to renew expired access tokens", Credential: true},
		{Name: "client_id", Description: "OAuth2 client id, required with refresh_token", Credential: true},
		{Name: "client_secret", Description: "OAuth2 client secret, required with refresh_token", Credential: true},
		{Name: "account_ids", Description: "Ad account ids or sponsoredAccount URNs; all accessible accounts when empty"},
		{Name: "start_date", Description: "First day of analytics (YYYY-MM-DD, default 30 days ago)"},
		{Name: "end_date", Description: "Last day of analytics (YYYY-MM-DD, default today)"},
		{Name: "analytics_fields", Description: "Analytics metrics to request (default impressions, clicks, costInUsd and friends)"},
		{Name: "page_size", Description: "Elements per page for list endpoints (default 100)"},
		{Name: "api_version", Description: "LinkedIn-Version header (default 202504)"},
		{Name: "base_url", Description: "API base URL override"},
	},
}

// Spec returns the configuration keys the connector accepts.
func Spec() core.ConnectionSpec {
	return connectionSpec
}

// analyticsPlanner is the chunk planner of the adAnalytics endpoint.
var analyticsPlanner = chunking.Planner{
	Required: []string{"dateRange", "pivotValues"},
	Limit:    MaxFieldsPerRequest,
	Aliases: map[string]string{
		"dateRangeStart": "dateRange",
		"dateRangeEnd":   "dateRange",
	},
}

// Source reads the LinkedIn Marketing API.
type Source struct {
	*base.BaseConnector

	baseURL         string
	apiVersion      string
	accountIDs      []string
	analyticsFields []string
	startDate       time.Time
	endDate         time.Time
	pageSize        int

	now func() time.Time
}

// New creates a LinkedIn Ads source. It matches registry.Factory and performs no I/O.
func New(cfg *core.ConnectorConfig, syncCfg config.SyncConfig) (core.SourceConnector, error) {
	b, err := base.NewBaseConnector(core.ConnectorTypeLinkedInAds, Version, cfg, syncCfg, connectionSpec)
	if err != nil {
		return nil, err
	}

	s := &Source{
		BaseConnector:   b,
		baseURL:         cfg.StringOption("base_url", DefaultBaseURL),
		apiVersion:      cfg.StringOption("api_version", DefaultAPIVersion),
		analyticsFields: cfg.StringSliceOption("analytics_fields"),
		pageSize:        cfg.IntOption("page_size", defaultPageSize),
		now:             time.Now,
	}
	if !strings.HasSuffix(s.baseURL, "/") {
		s.baseURL += "/"
	}
	if len(s.analyticsFields) == 0 {
		s.analyticsFields = DefaultAnalyticsFields()
	}
	if s.pageSize <= 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "page_size must be positive")
	}
	for _, id := range cfg.StringSliceOption("account_ids") {
		id = strings.TrimPrefix(strings.TrimSpace(id), accountURNPrefix)
		if id != "" {
			s.accountIDs = append(s.accountIDs, id)
		}
	}
	if err := s.parseDates(cfg); err != nil {
		return nil, err
	}
	if err := analyticsPlanner.Validate(); err != nil {
		return nil, err
	}

	oauth := &clients.OAuth2Config{
		ClientID:     cfg.Credential("client_id"),
		ClientSecret: cfg.Credential("client_secret"),
		TokenURL:     "https://www.linkedin.com/oauth/v2/accessToken",
		AuthURL:      "https://www.linkedin.com/oauth/v2/authorization",
		AccessToken:  cfg.Credential("access_token"),
		RefreshToken: cfg.Credential("refresh_token"),
	}
	transport, err := clients.NewOAuth2Transport(context.Background(), oauth, http.DefaultTransport.(*http.Transport).Clone())
	if err != nil {
		return nil, err
	}

	httpCfg := clients.DefaultHTTPConfig()
	if syncCfg.Timeouts.Request > 0 {
		httpCfg.RequestTimeout = syncCfg.Timeouts.Request
	}
	httpCfg.RateLimit = syncCfg.Reliability.RateLimitPerSec
	httpCfg.RateBurst = int(syncCfg.Reliability.RateLimitPerSec * 2)
	s.SetHTTPClient(clients.NewHTTPClientWithTransport(httpCfg, transport, s.GetLogger()))

	return s, nil
}

func (s *Source) parseDates(cfg *core.ConnectorConfig) error {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	s.startDate = today.AddDate(0, 0, -30)
	if raw := cfg.StringOption("start_date", ""); raw != "" {
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeValidation, "start_date must be YYYY-MM-DD")
		}
		s.startDate = t
	}
	if raw := cfg.StringOption("end_date", ""); raw != "" {
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeValidation, "end_date must be YYYY-MM-DD")
		}
		s.endDate = t
		if t.Before(s.startDate) {
			return errors.New(errors.ErrorTypeValidation, "end_date is before start_date")
		}
	}
	return nil
}

// CheckConnection calls the me endpoint with the configured token.
func (s *Source) CheckConnection(ctx context.Context) core.ConnectionStatus {
	if err := s.CheckClosed(); err != nil {
		return core.ConnectionFailed(err)
	}
	var me map[string]interface{}
	err := s.ExecuteWithRetry(ctx, func() error {
		return s.get(ctx, s.baseURL+"me", &me)
	})
	if err != nil {
		return core.ConnectionFailed(err)
	}
	return core.ConnectionSucceeded("LinkedIn Marketing API reachable")
}

// Discover returns the three streams.
func (s *Source) Discover(ctx context.Context) (*core.Catalog, error) {
	return &core.Catalog{
		Streams: []core.StreamDescriptor{
			{
				Name:               StreamAccounts,
				Fields:             stringFields("id", "name", "type", "status", "currency", "created_time", "last_modified_time"),
				SupportedSyncModes: []core.SyncMode{core.SyncModeFullRefresh},
				PrimaryKey:         []string{"id"},
			},
			{
				Name: StreamCampaigns,
				Fields: stringFields("id", "account_id", "name", "status", "type", "cost_type",
					"daily_budget", "unit_cost", "created_time", "last_modified_time"),
				SupportedSyncModes: []core.SyncMode{core.SyncModeFullRefresh, core.SyncModeIncremental},
				DefaultCursorField: "last_modified_time",
				PrimaryKey:         []string{"id"},
			},
			{
				Name:               StreamAdAnalytics,
				Fields:             s.analyticsCatalogFields(),
				SupportedSyncModes: []core.SyncMode{core.SyncModeFullRefresh, core.SyncModeIncremental},
				DefaultCursorField: "dateRangeStart",
				PrimaryKey:         []string{"account_id", "dateRangeStart", "pivotValues"},
			},
		},
		ConnectionSpecification: connectionSpec,
	}, nil
}

func stringFields(names ...string) []core.Field {
	out := make([]core.Field, 0, len(names))
	for _, n := range names {
		out = append(out, core.Field{Name: n, Type: core.FieldTypeString, Nullable: true})
	}
	return out
}

// analyticsCatalogFields lists the flattened analytics columns. Field types
// are left to inference.
func (s *Source) analyticsCatalogFields() []core.Field {
	names := []string{"account_id", "dateRangeStart", "dateRangeEnd", "pivotValues"}
	seen := map[string]bool{"dateRange": true}
	for _, n := range names {
		seen[n] = true
	}
	for _, f := range s.analyticsFields {
		if !seen[f] {
			seen[f] = true
			names = append(names, f)
		}
	}
	return stringFields(names...)
}

// Read extracts the requested streams in order.
func (s *Source) Read(ctx context.Context, streams []core.ConfiguredStream, state core.State) (*core.MessageStream, error) {
	if err := s.CheckClosed(); err != nil {
		return nil, err
	}
	for _, cs := range streams {
		switch cs.Name() {
		case StreamAccounts, StreamCampaigns, StreamAdAnalytics:
		default:
			return nil, errors.Newf(errors.ErrorTypeValidation, "unknown linkedin_ads stream %q", cs.Name())
		}
	}

	return core.NewMessageStream(ctx, func(ctx context.Context, emit core.EmitFunc) error {
		for _, cs := range streams {
			prior := state[cs.Name()]
			if cs.SyncMode != core.SyncModeIncremental {
				prior = nil
			}
			log := s.GetLogger().With(zap.String("stream", cs.Name()))
			log.Info("reading stream", zap.String("sync_mode", string(cs.SyncMode)))

			var err error
			switch cs.Name() {
			case StreamAccounts:
				err = s.readAccounts(ctx, emit)
			case StreamCampaigns:
				err = s.readCampaigns(ctx, prior, emit)
			case StreamAdAnalytics:
				err = s.readAnalytics(ctx, prior, emit)
			}
			if err != nil {
				return err
			}
		}
		return nil
	}), nil
}
