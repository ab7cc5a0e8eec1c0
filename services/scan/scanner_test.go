package scan

import (
	"context"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/enum"
	"github.com/mailsweep/mailsweep/internal/errs"
	"github.com/mailsweep/mailsweep/internal/logger"
)

func testLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{DevMode: true})
	appLogger.InitLogger()
	return appLogger
}

// pagedProvider serves a fixed message list page by page, with a From header
// per message.
type pagedProvider struct {
	messages []interfaces.MessageMeta
	estimate int
	pages    int
	metaReqs int
}

func (p *pagedProvider) Name() enum.Provider { return enum.ProviderGmail }
func (p *pagedProvider) TestConnection(context.Context) interfaces.ConnectionResult {
	return interfaces.ConnectionResult{Success: true}
}
func (p *pagedProvider) Stat(context.Context) (*interfaces.InboxStats, error) { return nil, nil }
func (p *pagedProvider) GetRawMessage(context.Context, string) ([]byte, error) {
	return nil, nil
}
func (p *pagedProvider) BatchMutate(context.Context, []string, enum.MutationMode) (int, int, error) {
	return 0, 0, nil
}
func (p *pagedProvider) ListFolders(context.Context) ([]string, error) { return nil, nil }
func (p *pagedProvider) Capabilities() interfaces.Capabilities {
	return interfaces.Capabilities{MutationBatchSize: 100, ConcurrentBatches: true}
}
func (p *pagedProvider) Close() error { return nil }

func (p *pagedProvider) ListMessages(_ context.Context, _, _, pageToken string, pageSize int) (*interfaces.MessagePage, error) {
	p.pages++

	offset := 0
	if pageToken != "" {
		var err error
		offset, err = strconv.Atoi(pageToken)
		if err != nil {
			return nil, err
		}
	}

	end := offset + pageSize
	if end > len(p.messages) {
		end = len(p.messages)
	}

	page := &interfaces.MessagePage{}
	if pageToken == "" {
		page.ResultEstimate = p.estimate
	}
	// Later pages report no estimate; the scanner must keep the first one.
	for _, m := range p.messages[offset:end] {
		page.IDs = append(page.IDs, m.ID)
	}
	if end < len(p.messages) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

func (p *pagedProvider) GetMetadata(_ context.Context, ids []string) ([]interfaces.MessageMeta, error) {
	p.metaReqs++
	byID := make(map[string]interfaces.MessageMeta, len(p.messages))
	for _, m := range p.messages {
		byID[m.ID] = m
	}
	out := make([]interfaces.MessageMeta, 0, len(ids))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func mailbox(senders map[string]int) *pagedProvider {
	p := &pagedProvider{}
	i := 0
	for sender, count := range senders {
		for n := 0; n < count; n++ {
			p.messages = append(p.messages, interfaces.MessageMeta{
				ID:      fmt.Sprintf("msg-%d", i),
				From:    sender,
				Subject: fmt.Sprintf("subject %d from %s", n, sender),
				Date:    "Mon, 02 Jan 2026 15:04:05 +0000",
			})
			i++
		}
	}
	p.estimate = len(p.messages)
	return p
}

func TestScan_EmptyQueryRejected(t *testing.T) {
	s := NewScanner(testLogger(), 100, 500)
	p := mailbox(map[string]int{"a@x.com": 1})

	_, err := s.Scan(context.Background(), p, Request{})
	assert.ErrorIs(t, err, errs.ErrEmptyQuery)
	assert.Equal(t, 0, p.pages)
}

func TestScan_GroupsBySenderSortedByCount(t *testing.T) {
	s := NewScanner(testLogger(), 100, 500)
	p := mailbox(map[string]int{
		"Promo Desk <promo@shop.io>": 5,
		"promo@shop.io":              3, // same sender, different header shapes
		"news@paper.com":             4,
	})

	result, err := s.Scan(context.Background(), p, Request{Query: "is:unread"})
	require.NoError(t, err)

	require.Len(t, result.Groups, 2)
	assert.Equal(t, "promo@shop.io", result.Groups[0].Sender)
	assert.Equal(t, 8, result.Groups[0].Count)
	assert.Len(t, result.Groups[0].MessageIDs, 8)
	assert.Equal(t, "news@paper.com", result.Groups[1].Sender)
	assert.Equal(t, 12, result.Scanned)
	assert.False(t, result.Truncated)
}

func TestScan_TiedCountsSortBySender(t *testing.T) {
	s := NewScanner(testLogger(), 100, 500)
	p := mailbox(map[string]int{
		"zeta@x.com":  2,
		"alpha@x.com": 2,
	})

	result, err := s.Scan(context.Background(), p, Request{Query: "q"})
	require.NoError(t, err)
	require.Len(t, result.Groups, 2)
	assert.Equal(t, "alpha@x.com", result.Groups[0].Sender)
	assert.Equal(t, "zeta@x.com", result.Groups[1].Sender)
}

func TestScan_CapsResultsAndReportsTruncation(t *testing.T) {
	s := NewScanner(testLogger(), 100, 500)
	p := mailbox(map[string]int{"bulk@x.com": 700})

	result, err := s.Scan(context.Background(), p, Request{Query: "from:bulk@x.com"})
	require.NoError(t, err)

	assert.Equal(t, 500, result.Scanned)
	assert.True(t, result.Truncated)
	assert.Equal(t, 700, result.TotalEstimate, "estimate comes from the first page, not the cap")
}

func TestScan_RequestMaxTightensTheCap(t *testing.T) {
	s := NewScanner(testLogger(), 100, 500)
	p := mailbox(map[string]int{"bulk@x.com": 300})

	result, err := s.Scan(context.Background(), p, Request{Query: "q", MaxResults: 50})
	require.NoError(t, err)
	assert.Equal(t, 50, result.Scanned)
	assert.True(t, result.Truncated)

	// A request max above the configured cap is ignored.
	p2 := mailbox(map[string]int{"bulk@x.com": 300})
	result, err = s.Scan(context.Background(), p2, Request{Query: "q", MaxResults: 9000})
	require.NoError(t, err)
	assert.Equal(t, 300, result.Scanned)
}

func TestScan_ExcludedIDsAreFiltered(t *testing.T) {
	s := NewScanner(testLogger(), 100, 500)
	p := mailbox(map[string]int{"a@x.com": 4})

	result, err := s.Scan(context.Background(), p, Request{
		Query:      "q",
		ExcludeIDs: []string{p.messages[0].ID, p.messages[2].ID},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Scanned)
	for _, g := range result.Groups {
		assert.NotContains(t, g.MessageIDs, p.messages[0].ID)
	}
}

func TestScan_GroupsCarryPerMessagePreviews(t *testing.T) {
	s := NewScanner(testLogger(), 100, 500)
	p := &pagedProvider{
		messages: []interfaces.MessageMeta{
			{ID: "m1", From: "a@x.com", Subject: "first", Date: "Mon, 02 Jan 2026 10:00:00 +0000", Labels: []string{"UNREAD", "INBOX"}},
			{ID: "m2", From: "a@x.com", Subject: "second", Date: "Sun, 01 Jan 2026 10:00:00 +0000", Labels: []string{"INBOX"}},
			{ID: "m3", From: "b@x.com", Subject: "other", Date: "Sat, 31 Dec 2025 10:00:00 +0000"},
		},
		estimate: 3,
	}

	result, err := s.Scan(context.Background(), p, Request{Query: "q"})
	require.NoError(t, err)
	require.Len(t, result.Groups, 2)

	a := result.Groups[0]
	require.Equal(t, "a@x.com", a.Sender)
	require.Len(t, a.Previews, 2)
	assert.Equal(t, MessagePreview{ID: "m1", Subject: "first", Date: "Mon, 02 Jan 2026 10:00:00 +0000", Labels: []string{"UNREAD", "INBOX"}}, a.Previews[0])
	assert.Equal(t, "m2", a.Previews[1].ID)
	assert.Equal(t, []string{"INBOX"}, a.Previews[1].Labels)

	b := result.Groups[1]
	require.Len(t, b.Previews, 1)
	assert.Equal(t, "other", b.Previews[0].Subject)
	assert.Empty(t, b.Previews[0].Labels)
}

func TestScan_LatestSubjectIsFirstSeen(t *testing.T) {
	s := NewScanner(testLogger(), 100, 500)
	p := &pagedProvider{
		messages: []interfaces.MessageMeta{
			{ID: "m1", From: "a@x.com", Subject: "newest", Date: "Mon, 02 Jan 2026 10:00:00 +0000"},
			{ID: "m2", From: "a@x.com", Subject: "older", Date: "Sun, 01 Jan 2026 10:00:00 +0000"},
		},
		estimate: 2,
	}

	result, err := s.Scan(context.Background(), p, Request{Query: "q"})
	require.NoError(t, err)
	require.Len(t, result.Groups, 1)
	assert.Equal(t, "newest", result.Groups[0].LatestSubject)
}
