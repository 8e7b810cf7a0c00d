package linkedinads

// DefaultAnalyticsFields is requested when analytics_fields is not configured.
func DefaultAnalyticsFields() []string {
	return []string{
		"dateRangeStart",
		"dateRangeEnd",
		"pivotValues",
		"impressions",
		"clicks",
		"costInUsd",
		"costInLocalCurrency",
		"landingPageClicks",
		"totalEngagements",
		"likes",
		"comments",
		"shares",
		"follows",
		"externalWebsiteConversions",
		"oneClickLeads",
		"videoViews",
		"videoCompletions",
		"approximateMemberReach",
	}
}

// analyticsPivots are requested together so every row is attributed down to the creative.
var analyticsPivots = []string{"CREATIVE", "CAMPAIGN", "CAMPAIGN_GROUP", "ACCOUNT"}
