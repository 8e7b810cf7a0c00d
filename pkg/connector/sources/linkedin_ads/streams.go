package linkedinads

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-sync/pkg/connector/chunking"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sync/pkg/errors"
	"github.com/ajitpratap0/nebula-sync/pkg/metrics"
)

// skippable reports errors that skip one account instead of failing the
// stream: HTTP 400 (validation) and 403 (permission).
func skippable(err error) bool {
	return errors.IsType(err, errors.ErrorTypeValidation) || errors.IsType(err, errors.ErrorTypePermission)
}

func (s *Source) skipAccount(emit core.EmitFunc, stream, accountID string, err error) error {
	s.GetLogger().Warn("skipping account",
		zap.String("stream", stream),
		zap.String("account_id", accountID),
		zap.Error(err))
	return emit(core.NewLogMessage(core.LogLevelWarn, fmt.Sprintf("%s: skipped account %s: %v", stream, accountID, err)))
}

func (s *Source) emitRecord(emit core.EmitFunc, stream string, data map[string]interface{}) error {
	metrics.RecordsExtracted.WithLabelValues(string(core.ConnectorTypeLinkedInAds), stream).Inc()
	return emit(core.NewRecordMessage(stream, data, s.now()))
}

// resolveAccountIDs returns the configured accounts or lists every accessible one.
func (s *Source) resolveAccountIDs(ctx context.Context) ([]string, error) {
	if len(s.accountIDs) > 0 {
		return s.accountIDs, nil
	}
	var ids []string
	err := s.paginate(ctx, s.baseURL+"adAccounts?q=search", func(elements []map[string]interface{}) error {
		for _, el := range elements {
			if id := idString(el["id"]); id != "" {
				ids = append(ids, id)
			}
		}
		return nil
	})
	return ids, err
}

func (s *Source) readAccounts(ctx context.Context, emit core.EmitFunc) error {
	if len(s.accountIDs) == 0 {
		err := s.paginate(ctx, s.baseURL+"adAccounts?q=search", func(elements []map[string]interface{}) error {
			for _, el := range elements {
				if err := s.emitRecord(emit, StreamAccounts, accountRecord(el)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	for _, id := range s.accountIDs {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeCancelled, "linkedin read cancelled")
		}
		var raw map[string]interface{}
		err := s.getWithRetry(ctx, s.baseURL+"adAccounts/"+url.PathEscape(id), &raw)
		if err != nil && skippable(err) {
			if err := s.skipAccount(emit, StreamAccounts, id, err); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		if err := s.emitRecord(emit, StreamAccounts, accountRecord(raw)); err != nil {
			return err
		}
	}

	return emit(core.NewStateMessage(StreamAccounts, core.StreamState{
		"last_sync": s.now().UTC().Format(time.RFC3339),
	}))
}

func (s *Source) readCampaigns(ctx context.Context, prior core.StreamState, emit core.EmitFunc) error {
	cursor, _ := toInt64(prior["last_modified_time"])
	latest := cursor

	ids, err := s.resolveAccountIDs(ctx)
	if err != nil {
		return err
	}

	for _, id := range ids {
		query := fmt.Sprintf("%sadCampaigns?q=search&search.account.values[0]=%s", s.baseURL, url.QueryEscape(accountURN(id)))
		if cursor > 0 {
			query += fmt.Sprintf("&search.lastModifiedTime.start=%d", cursor)
		}

		err := s.paginate(ctx, query, func(elements []map[string]interface{}) error {
			for _, el := range elements {
				rec := campaignRecord(el, id)
				modified, _ := toInt64(rec["last_modified_time"])
				if cursor > 0 && modified < cursor {
					continue
				}
				if modified > latest {
					latest = modified
				}
				if err := s.emitRecord(emit, StreamCampaigns, rec); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil && skippable(err) {
			if err := s.skipAccount(emit, StreamCampaigns, id, err); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
	}

	next := prior.Clone()
	if next == nil {
		next = core.StreamState{}
	}
	if latest > 0 {
		next["last_modified_time"] = latest
	}
	return emit(core.NewStateMessage(StreamCampaigns, next))
}

// analyticsWindow returns the date range of this run. Incremental runs start
// at the last synced day, which is fetched again.
func (s *Source) analyticsWindow(prior core.StreamState) (time.Time, time.Time) {
	start := s.startDate
	if raw, ok := prior["last_sync_date"].(string); ok {
		if t, err := time.Parse(dateLayout, raw); err == nil {
			start = t
		}
	}
	end := s.endDate
	if end.IsZero() {
		end = s.now().UTC().Truncate(24 * time.Hour)
	}
	if start.After(end) {
		start = end
	}
	return start, end
}

func (s *Source) readAnalytics(ctx context.Context, prior core.StreamState, emit core.EmitFunc) error {
	start, end := s.analyticsWindow(prior)
	chunks, err := analyticsPlanner.Chunks(s.analyticsFields)
	if err != nil {
		return err
	}

	ids, err := s.resolveAccountIDs(ctx)
	if err != nil {
		return err
	}

	log := s.GetLogger().With(zap.String("stream", StreamAdAnalytics))
	for _, id := range ids {
		merger := chunking.NewMerger(analyticsPlanner.Required)
		skipped := false

		for i, chunk := range chunks {
			if err := ctx.Err(); err != nil {
				return errors.Wrap(err, errors.ErrorTypeCancelled, "linkedin read cancelled")
			}
			var page listResponse
			err := s.getWithRetry(ctx, s.analyticsURL(id, start, end, chunk), &page)
			if err != nil && skippable(err) {
				if err := s.skipAccount(emit, StreamAdAnalytics, id, err); err != nil {
					return err
				}
				skipped = true
				break
			}
			if err != nil {
				return err
			}
			if err := merger.Add(page.Elements); err != nil {
				return errors.Wrap(err, errors.ErrorTypeData, "failed to merge analytics chunk")
			}
			log.Debug("analytics chunk fetched",
				zap.String("account_id", id),
				zap.Int("chunk", i+1),
				zap.Int("chunks", len(chunks)),
				zap.Int("elements", len(page.Elements)))
		}
		if skipped {
			continue
		}

		for _, row := range merger.Rows() {
			rec := flattenDateRange(row)
			rec["account_id"] = id
			if err := s.emitRecord(emit, StreamAdAnalytics, rec); err != nil {
				return err
			}
		}
	}

	next := prior.Clone()
	if next == nil {
		next = core.StreamState{}
	}
	next["last_sync_date"] = end.Format(dateLayout)
	return emit(core.NewStateMessage(StreamAdAnalytics, next))
}

func accountRecord(el map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"id":                 idString(el["id"]),
		"name":               el["name"],
		"type":               el["type"],
		"status":             el["status"],
		"currency":           el["currency"],
		"created_time":       auditTime(el, "created", "createdTime"),
		"last_modified_time": auditTime(el, "lastModified", "lastModifiedTime"),
	}
}

func campaignRecord(el map[string]interface{}, accountID string) map[string]interface{} {
	return map[string]interface{}{
		"id":                 idString(el["id"]),
		"account_id":         accountID,
		"name":               el["name"],
		"status":             el["status"],
		"type":               el["type"],
		"cost_type":          el["costType"],
		"daily_budget":       amount(el["dailyBudget"]),
		"unit_cost":          amount(el["unitCost"]),
		"created_time":       auditTime(el, "created", "createdTime"),
		"last_modified_time": auditTime(el, "lastModified", "lastModifiedTime"),
	}
}

// auditTime reads an epoch millisecond time from a flat key or from
// changeAuditStamps.<stamp>.time.
func auditTime(el map[string]interface{}, stamp, flat string) interface{} {
	if v, ok := toInt64(el[flat]); ok {
		return v
	}
	stamps, _ := el["changeAuditStamps"].(map[string]interface{})
	entry, _ := stamps[stamp].(map[string]interface{})
	if v, ok := toInt64(entry["time"]); ok {
		return v
	}
	return nil
}

func amount(v interface{}) interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		return m["amount"]
	}
	return nil
}

// flattenDateRange replaces dateRange{start,end} with dateRangeStart and
// dateRangeEnd formatted as YYYY-MM-DD.
func flattenDateRange(row map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(row)+1)
	for k, v := range row {
		if k != "dateRange" {
			out[k] = v
		}
	}
	dr, _ := row["dateRange"].(map[string]interface{})
	out["dateRangeStart"] = restliDay(dr["start"])
	out["dateRangeEnd"] = restliDay(dr["end"])
	return out
}

func restliDay(v interface{}) interface{} {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	year, okY := toInt64(m["year"])
	month, okM := toInt64(m["month"])
	day, okD := toInt64(m["day"])
	if !okY || !okM || !okD {
		return nil
	}
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day)
}
