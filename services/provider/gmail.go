package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/credential"
	"github.com/mailsweep/mailsweep/internal/enum"
	"github.com/mailsweep/mailsweep/internal/errs"
	"github.com/mailsweep/mailsweep/internal/tracing"
)

const gmailBatchModifyLimit = 100

// GmailProvider drives a Gmail account through the Gmail REST API. All calls
// act on the authenticated user ("me").
type GmailProvider struct {
	svc   *gmail.Service
	email string
}

func NewGmailProvider(ctx context.Context, email string, cred *credential.Credential) (*GmailProvider, error) {
	if !cred.Present() {
		return nil, errs.ErrAuthRequired
	}

	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cred.AccessToken})
	svc, err := gmail.NewService(ctx, option.WithTokenSource(source))
	if err != nil {
		return nil, errors.Wrap(err, "init gmail service")
	}

	return &GmailProvider{svc: svc, email: email}, nil
}

func (p *GmailProvider) Name() enum.Provider {
	return enum.ProviderGmail
}

func (p *GmailProvider) Capabilities() interfaces.Capabilities {
	return interfaces.Capabilities{
		MutationBatchSize:   gmailBatchModifyLimit,
		ConcurrentBatches:   true,
		TrashedIDsFetchable: true,
	}
}

func (p *GmailProvider) TestConnection(ctx context.Context) interfaces.ConnectionResult {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GmailProvider.TestConnection")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, enum.ProviderGmail.String())

	profile, err := p.svc.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		tracing.TraceErr(span, err)
		return interfaces.ConnectionResult{Success: false, Message: gmailErrorMessage(err)}
	}

	return interfaces.ConnectionResult{
		Success: true,
		Message: fmt.Sprintf("Connected as %s. %d messages in mailbox.", profile.EmailAddress, profile.MessagesTotal),
	}
}

func (p *GmailProvider) Stat(ctx context.Context) (*interfaces.InboxStats, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GmailProvider.Stat")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, enum.ProviderGmail.String())

	profile, err := p.svc.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, p.wrapErr(err, "get profile")
	}

	stats := &interfaces.InboxStats{Total: int(profile.MessagesTotal)}

	// resultSizeEstimate on a one-message list is the cheapest unread count
	// Gmail offers.
	unread, err := p.svc.Users.Messages.List("me").Q("is:unread").MaxResults(1).Context(ctx).Do()
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, p.wrapErr(err, "count unread")
	}
	stats.Unread = int(unread.ResultSizeEstimate)

	return stats, nil
}

func (p *GmailProvider) ListMessages(ctx context.Context, query, folder, pageToken string, pageSize int) (*interfaces.MessagePage, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GmailProvider.ListMessages")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, enum.ProviderGmail.String())
	span.SetTag("query", query)

	call := p.svc.Users.Messages.List("me").Q(query).MaxResults(int64(pageSize)).Context(ctx)
	if folder != "" {
		if label := gmailLabelForFolder(folder); label != "" {
			call = call.LabelIds(label)
		}
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	resp, err := call.Do()
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, p.wrapErr(err, "list messages")
	}

	page := &interfaces.MessagePage{
		IDs:            make([]string, 0, len(resp.Messages)),
		ResultEstimate: int(resp.ResultSizeEstimate),
		NextPageToken:  resp.NextPageToken,
	}
	for _, m := range resp.Messages {
		page.IDs = append(page.IDs, m.Id)
	}
	span.SetTag("result.count", len(page.IDs))
	return page, nil
}

func (p *GmailProvider) GetMetadata(ctx context.Context, ids []string) ([]interfaces.MessageMeta, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GmailProvider.GetMetadata")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, enum.ProviderGmail.String())
	span.SetTag("ids.count", len(ids))

	metas := make([]interfaces.MessageMeta, 0, len(ids))
	for _, id := range ids {
		msg, err := p.svc.Users.Messages.Get("me", id).
			Format("metadata").
			MetadataHeaders("From", "Subject", "Date").
			Context(ctx).Do()
		if err != nil {
			if isGmailAuthError(err) {
				tracing.TraceErr(span, err)
				return metas, p.wrapErr(err, "get metadata")
			}
			// Message may have been deleted between list and fetch. Skip it.
			continue
		}

		meta := interfaces.MessageMeta{
			ID:     msg.Id,
			Labels: msg.LabelIds,
			SizeMB: float64(msg.SizeEstimate) / (1024 * 1024),
		}
		if msg.Payload != nil {
			for _, h := range msg.Payload.Headers {
				switch h.Name {
				case "From":
					meta.From = h.Value
				case "Subject":
					meta.Subject = h.Value
				case "Date":
					meta.Date = h.Value
				}
			}
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

func (p *GmailProvider) GetRawMessage(ctx context.Context, id string) ([]byte, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GmailProvider.GetRawMessage")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, enum.ProviderGmail.String())
	span.SetTag("message.id", id)

	msg, err := p.svc.Users.Messages.Get("me", id).Format("raw").Context(ctx).Do()
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, p.wrapErr(err, "get raw message")
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(msg.Raw, "="))
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "decode raw message")
	}
	return raw, nil
}

func (p *GmailProvider) BatchMutate(ctx context.Context, ids []string, mode enum.MutationMode) (int, int, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GmailProvider.BatchMutate")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, enum.ProviderGmail.String())
	span.SetTag("ids.count", len(ids))
	span.SetTag("mode", mode.String())

	req := &gmail.BatchModifyMessagesRequest{Ids: ids}
	switch mode {
	case enum.MutationTrash:
		req.AddLabelIds = []string{"TRASH"}
		req.RemoveLabelIds = []string{"INBOX"}
	case enum.MutationArchive:
		req.RemoveLabelIds = []string{"INBOX"}
	default:
		return 0, len(ids), errors.Errorf("unsupported mutation mode %s", mode)
	}

	err := p.svc.Users.Messages.BatchModify("me", req).Context(ctx).Do()
	if err != nil {
		tracing.TraceErr(span, err)
		if isGmailAuthError(err) {
			return 0, len(ids), p.wrapErr(err, "batch modify")
		}
		// batchModify is all-or-nothing: the whole chunk failed but the sweep
		// should carry on with the remaining chunks.
		return 0, len(ids), nil
	}
	return len(ids), 0, nil
}

func (p *GmailProvider) ListFolders(ctx context.Context) ([]string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GmailProvider.ListFolders")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, enum.ProviderGmail.String())

	resp, err := p.svc.Users.Labels.List("me").Context(ctx).Do()
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, p.wrapErr(err, "list labels")
	}

	folders := make([]string, 0, len(resp.Labels))
	for _, l := range resp.Labels {
		folders = append(folders, l.Name)
	}
	return folders, nil
}

func (p *GmailProvider) Close() error {
	return nil
}

func (p *GmailProvider) wrapErr(err error, op string) error {
	if apiErr, ok := err.(*googleapi.Error); ok {
		return &errs.ProviderAPIError{
			Provider:   enum.ProviderGmail.String(),
			StatusCode: apiErr.Code,
			Message:    fmt.Sprintf("%s: %s", op, apiErr.Message),
		}
	}
	return errors.Wrap(err, op)
}

func isGmailAuthError(err error) bool {
	apiErr, ok := err.(*googleapi.Error)
	return ok && (apiErr.Code == 401 || apiErr.Code == 403)
}

func gmailErrorMessage(err error) string {
	if apiErr, ok := err.(*googleapi.Error); ok {
		if apiErr.Code == 401 || apiErr.Code == 403 {
			return "Gmail authorization expired. Please reconnect your account."
		}
		return fmt.Sprintf("Gmail API error (%d)", apiErr.Code)
	}
	return fmt.Sprintf("Connection failed: %v", err)
}

// gmailLabelForFolder maps the canonical folder vocabulary onto Gmail system
// label ids.
func gmailLabelForFolder(folder string) string {
	switch strings.ToLower(folder) {
	case "inbox":
		return "INBOX"
	case "spam":
		return "SPAM"
	case "trash":
		return "TRASH"
	case "sent":
		return "SENT"
	case "drafts":
		return "DRAFT"
	case "archive":
		// Gmail has no archive label; archived mail is just not INBOX.
		return ""
	default:
		return strings.ToUpper(folder)
	}
}
