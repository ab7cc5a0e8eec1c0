package scan

import (
	"context"
	"sort"

	"github.com/opentracing/opentracing-go"

	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/errs"
	"github.com/mailsweep/mailsweep/internal/logger"
	"github.com/mailsweep/mailsweep/internal/tracing"
	"github.com/mailsweep/mailsweep/internal/utils"
)

const metadataChunkSize = 50

// Scanner runs a provider search and aggregates the matches by normalized
// sender address, so the UI can offer "trash all 312 from this sender"
// actions.
type Scanner struct {
	log        logger.Logger
	pageSize   int
	maxResults int
}

func NewScanner(log logger.Logger, pageSize, maxResults int) *Scanner {
	return &Scanner{log: log, pageSize: pageSize, maxResults: maxResults}
}

type Request struct {
	Query  string `json:"query"`
	Folder string `json:"folder,omitempty"`
	// ExcludeIDs are messages the user already dismissed this session; they
	// are filtered out client-side since no provider search can express it.
	ExcludeIDs []string `json:"exclude_ids,omitempty"`
	MaxResults int      `json:"max_results,omitempty"`
}

// MessagePreview is the per-message detail shown when a sender group is
// expanded in the UI.
type MessagePreview struct {
	ID      string   `json:"id"`
	Subject string   `json:"subject,omitempty"`
	Date    string   `json:"date,omitempty"`
	Labels  []string `json:"labels,omitempty"`
}

type SenderGroup struct {
	Sender        string           `json:"sender"`
	Count         int              `json:"count"`
	MessageIDs    []string         `json:"message_ids"`
	Previews      []MessagePreview `json:"previews"`
	LatestSubject string           `json:"latest_subject,omitempty"`
	LatestDate    string           `json:"latest_date,omitempty"`
}

type Result struct {
	Groups  []SenderGroup `json:"senders"`
	Scanned int           `json:"scanned"`
	// TotalEstimate is the provider's first-page match estimate, which may
	// exceed Scanned when the scan hit its result cap.
	TotalEstimate int  `json:"total_estimate"`
	Truncated     bool `json:"truncated"`
}

func (s *Scanner) Scan(ctx context.Context, p interfaces.MailProvider, req Request) (*Result, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Scanner.Scan")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, p.Name().String())
	span.SetTag("query", req.Query)

	if req.Query == "" {
		return nil, errs.ErrEmptyQuery
	}

	limit := s.maxResults
	if req.MaxResults > 0 && req.MaxResults < limit {
		limit = req.MaxResults
	}

	excluded := make(map[string]struct{}, len(req.ExcludeIDs))
	for _, id := range req.ExcludeIDs {
		excluded[id] = struct{}{}
	}

	ids, estimate, truncated, err := s.collectIDs(ctx, p, req, excluded, limit)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	span.SetTag("scanned.count", len(ids))

	groups, err := s.aggregate(ctx, p, ids)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	s.log.Infof("scan for %q matched %d messages across %d senders", req.Query, len(ids), len(groups))
	return &Result{
		Groups:        groups,
		Scanned:       len(ids),
		TotalEstimate: estimate,
		Truncated:     truncated,
	}, nil
}

// collectIDs walks the provider's result pages up to the scan cap, dropping
// excluded ids as they stream in. Only the first page's estimate is kept.
func (s *Scanner) collectIDs(ctx context.Context, p interfaces.MailProvider, req Request, excluded map[string]struct{}, limit int) ([]string, int, bool, error) {
	var (
		ids       []string
		estimate  int
		truncated bool
		pageToken string
		firstPage = true
	)

	for {
		page, err := p.ListMessages(ctx, req.Query, req.Folder, pageToken, s.pageSize)
		if err != nil {
			return nil, 0, false, err
		}
		if firstPage {
			estimate = page.ResultEstimate
			firstPage = false
		}

		for _, id := range page.IDs {
			if _, skip := excluded[id]; skip {
				continue
			}
			ids = append(ids, id)
			if len(ids) >= limit {
				return ids, estimate, true, nil
			}
		}

		if page.NextPageToken == "" {
			return ids, estimate, truncated, nil
		}
		pageToken = page.NextPageToken
	}
}

func (s *Scanner) aggregate(ctx context.Context, p interfaces.MailProvider, ids []string) ([]SenderGroup, error) {
	bySender := make(map[string]*SenderGroup)

	for _, chunk := range utils.ChunkStrings(ids, metadataChunkSize) {
		metas, err := p.GetMetadata(ctx, chunk)
		if err != nil {
			return nil, err
		}
		for _, meta := range metas {
			sender := utils.NormalizeSender(meta.From)
			group, ok := bySender[sender]
			if !ok {
				group = &SenderGroup{Sender: sender}
				bySender[sender] = group
			}
			group.Count++
			group.MessageIDs = append(group.MessageIDs, meta.ID)
			group.Previews = append(group.Previews, MessagePreview{
				ID:      meta.ID,
				Subject: meta.Subject,
				Date:    meta.Date,
				Labels:  meta.Labels,
			})
			// Pages arrive newest first, so the first subject seen per sender
			// is the most recent one.
			if group.LatestSubject == "" {
				group.LatestSubject = meta.Subject
				group.LatestDate = meta.Date
			}
		}
	}

	groups := make([]SenderGroup, 0, len(bySender))
	for _, g := range bySender {
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Count != groups[j].Count {
			return groups[i].Count > groups[j].Count
		}
		return groups[i].Sender < groups[j].Sender
	})
	return groups, nil
}
