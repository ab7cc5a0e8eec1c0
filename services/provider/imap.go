package provider

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"net"
	"net/textproto"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/mailsweep/mailsweep/config"
	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/credential"
	"github.com/mailsweep/mailsweep/internal/enum"
	"github.com/mailsweep/mailsweep/internal/errs"
	"github.com/mailsweep/mailsweep/internal/tracing"
)

// yahooFolderMap translates the canonical folder vocabulary into Yahoo's
// mailbox names. Yahoo calls spam "Bulk Mail" and uses singular "Draft".
var yahooFolderMap = map[string]string{
	"inbox":   "Inbox",
	"sent":    "Sent",
	"drafts":  "Draft",
	"trash":   "Trash",
	"spam":    "Bulk Mail",
	"archive": "Archive",
}

// IMAPProvider drives a mailbox over one stateful IMAP connection. Message
// ids are folder-scoped UIDs rendered as decimal strings, so every operation
// selects its folder first.
type IMAPProvider struct {
	c        *client.Client
	provider enum.Provider
	email    string
	closed   bool
}

func NewYahooProvider(ctx context.Context, email string, cred *credential.Credential, cfg *config.YahooImapConfig) (*IMAPProvider, error) {
	if !cred.Present() {
		return nil, errs.ErrAuthRequired
	}

	span, _ := opentracing.StartSpanFromContext(ctx, "IMAPProvider.connect")
	defer span.Finish()
	tracing.TagProvider(span, enum.ProviderYahoo.String())
	span.SetTag("server", cfg.Host)
	span.SetTag("port", cfg.Port)

	serverAddr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	tlsConfig := &tls.Config{
		ServerName: cfg.Host,
		MinVersion: tls.VersionTLS12,
	}

	c, err := client.DialWithDialerTLS(dialer, serverAddr, tlsConfig)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(err, "failed to connect to %s", serverAddr)
	}

	c.Timeout = 30 * time.Second
	if err := c.Login(email, cleanAppPassword(cred.Secret)); err != nil {
		c.Logout()
		tracing.TraceErr(span, err)
		if isIMAPAuthError(err) {
			return nil, &errs.ProviderAPIError{
				Provider:   enum.ProviderYahoo.String(),
				StatusCode: 401,
				Message:    "Invalid email or App Password",
			}
		}
		return nil, errors.Wrapf(err, "failed to login as %s", email)
	}
	c.Timeout = 0

	log.Printf("[%s] Successfully connected and logged in to %s", email, serverAddr)
	return &IMAPProvider{c: c, provider: enum.ProviderYahoo, email: email}, nil
}

func (p *IMAPProvider) Name() enum.Provider {
	return p.provider
}

func (p *IMAPProvider) Capabilities() interfaces.Capabilities {
	// One stateful connection, copy+flag per message, no safe pipelining.
	// Trashing copies to a new UID and expunges the old one, so raw
	// content must be captured before the mutation.
	return interfaces.Capabilities{
		MutationBatchSize:   1,
		ConcurrentBatches:   false,
		TrashedIDsFetchable: false,
	}
}

func (p *IMAPProvider) TestConnection(ctx context.Context) interfaces.ConnectionResult {
	span, _ := opentracing.StartSpanFromContext(ctx, "IMAPProvider.TestConnection")
	defer span.Finish()
	tracing.TagProvider(span, p.provider.String())

	mbox, err := p.c.Select(p.nativeFolder("inbox"), true)
	if err != nil {
		tracing.TraceErr(span, err)
		return interfaces.ConnectionResult{Success: false, Message: fmt.Sprintf("Could not access inbox: %v", err)}
	}

	return interfaces.ConnectionResult{
		Success: true,
		Message: fmt.Sprintf("Connected successfully. %d messages in inbox.", mbox.Messages),
	}
}

func (p *IMAPProvider) Stat(ctx context.Context) (*interfaces.InboxStats, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "IMAPProvider.Stat")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, p.provider.String())

	status, err := p.c.Status(p.nativeFolder("inbox"), []imap.StatusItem{imap.StatusMessages, imap.StatusUnseen})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "inbox status")
	}

	return &interfaces.InboxStats{
		Total:  int(status.Messages),
		Unread: int(status.Unseen),
	}, nil
}

func (p *IMAPProvider) ListMessages(ctx context.Context, query, folder, pageToken string, pageSize int) (*interfaces.MessagePage, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "IMAPProvider.ListMessages")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, p.provider.String())
	span.SetTag("query", query)

	if folder == "" {
		folder = "inbox"
	}
	if _, err := p.c.Select(p.nativeFolder(folder), true); err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(err, "select %s", folder)
	}

	uids, err := p.c.UidSearch(translateIMAPQuery(query))
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "uid search")
	}

	// Newest first. IMAP assigns UIDs in ascending arrival order.
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })

	// The page token is a plain offset into the sorted UID list; the search
	// is re-run each page so no state lives between calls.
	offset := 0
	if pageToken != "" {
		offset, err = strconv.Atoi(pageToken)
		if err != nil {
			return nil, errors.Wrap(err, "bad page token")
		}
	}
	if offset > len(uids) {
		offset = len(uids)
	}
	end := offset + pageSize
	if end > len(uids) {
		end = len(uids)
	}

	page := &interfaces.MessagePage{
		IDs:            make([]string, 0, end-offset),
		ResultEstimate: len(uids),
	}
	for _, uid := range uids[offset:end] {
		page.IDs = append(page.IDs, strconv.FormatUint(uint64(uid), 10))
	}
	if end < len(uids) {
		page.NextPageToken = strconv.Itoa(end)
	}
	span.SetTag("result.count", len(page.IDs))
	return page, nil
}

func (p *IMAPProvider) GetMetadata(ctx context.Context, ids []string) ([]interfaces.MessageMeta, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "IMAPProvider.GetMetadata")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, p.provider.String())
	span.SetTag("ids.count", len(ids))

	if _, err := p.c.Select(p.nativeFolder("inbox"), true); err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "select inbox")
	}

	seqSet, err := uidSeqSet(ids)
	if err != nil {
		return nil, err
	}

	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchRFC822Size, imap.FetchUid}
	messages := make(chan *imap.Message, len(ids))
	if err := p.c.UidFetch(seqSet, items, messages); err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "uid fetch")
	}

	metas := make([]interfaces.MessageMeta, 0, len(ids))
	for msg := range messages {
		meta := interfaces.MessageMeta{
			ID:     strconv.FormatUint(uint64(msg.Uid), 10),
			Labels: msg.Flags,
			SizeMB: float64(msg.Size) / (1024 * 1024),
		}
		if msg.Envelope != nil {
			meta.Subject = msg.Envelope.Subject
			if !msg.Envelope.Date.IsZero() {
				meta.Date = msg.Envelope.Date.Format(time.RFC1123Z)
			}
			if len(msg.Envelope.From) > 0 {
				from := msg.Envelope.From[0]
				address := from.Address()
				if from.PersonalName != "" {
					meta.From = fmt.Sprintf("%s <%s>", from.PersonalName, address)
				} else {
					meta.From = address
				}
			}
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

func (p *IMAPProvider) GetRawMessage(ctx context.Context, id string) ([]byte, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "IMAPProvider.GetRawMessage")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, p.provider.String())
	span.SetTag("message.id", id)

	if _, err := p.c.Select(p.nativeFolder("inbox"), true); err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "select inbox")
	}

	seqSet, err := uidSeqSet([]string{id})
	if err != nil {
		return nil, err
	}

	section := &imap.BodySectionName{}
	messages := make(chan *imap.Message, 1)
	if err := p.c.UidFetch(seqSet, []imap.FetchItem{section.FetchItem()}, messages); err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "uid fetch body")
	}

	msg := <-messages
	if msg == nil {
		return nil, errors.Errorf("message %s not found", id)
	}
	body := msg.GetBody(section)
	if body == nil {
		return nil, errors.Errorf("message %s has no body", id)
	}

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	return raw, nil
}

func (p *IMAPProvider) BatchMutate(ctx context.Context, ids []string, mode enum.MutationMode) (int, int, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "IMAPProvider.BatchMutate")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, p.provider.String())
	span.SetTag("ids.count", len(ids))
	span.SetTag("mode", mode.String())

	var destination string
	switch mode {
	case enum.MutationTrash:
		destination = p.nativeFolder("trash")
	case enum.MutationArchive:
		destination = p.nativeFolder("archive")
	default:
		return 0, len(ids), errors.Errorf("unsupported mutation mode %s", mode)
	}

	if _, err := p.c.Select(p.nativeFolder("inbox"), false); err != nil {
		tracing.TraceErr(span, err)
		if isIMAPAuthError(err) {
			return 0, len(ids), &errs.ProviderAPIError{
				Provider:   p.provider.String(),
				StatusCode: 401,
				Message:    "select inbox: " + err.Error(),
			}
		}
		return 0, len(ids), nil
	}

	succeeded, failed := 0, 0
	flagItem := imap.FormatFlagsOp(imap.AddFlags, true)
	for _, id := range ids {
		seqSet, err := uidSeqSet([]string{id})
		if err != nil {
			failed++
			continue
		}
		if err := p.c.UidCopy(seqSet, destination); err != nil {
			log.Printf("[%s] Copy to %s failed for uid %s: %v", p.email, destination, id, err)
			failed++
			continue
		}
		if err := p.c.UidStore(seqSet, flagItem, []interface{}{imap.DeletedFlag}, nil); err != nil {
			log.Printf("[%s] Flagging uid %s deleted failed: %v", p.email, id, err)
			failed++
			continue
		}
		succeeded++
	}

	if succeeded > 0 {
		if err := p.c.Expunge(nil); err != nil {
			log.Printf("[%s] Expunge failed: %v", p.email, err)
			tracing.TraceErr(span, err)
		}
	}

	span.SetTag("result.succeeded", succeeded)
	span.SetTag("result.failed", failed)
	return succeeded, failed, nil
}

func (p *IMAPProvider) ListFolders(ctx context.Context) ([]string, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "IMAPProvider.ListFolders")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, p.provider.String())

	mailboxes := make(chan *imap.MailboxInfo, 32)
	done := make(chan error, 1)
	go func() {
		done <- p.c.List("", "*", mailboxes)
	}()

	var folders []string
	for m := range mailboxes {
		folders = append(folders, m.Name)
	}
	if err := <-done; err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "list mailboxes")
	}
	return folders, nil
}

func (p *IMAPProvider) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true

	p.c.Timeout = 5 * time.Second
	if err := p.c.Logout(); err != nil {
		log.Printf("[%s] Error during logout: %v", p.email, err)
		return err
	}
	return nil
}

func (p *IMAPProvider) nativeFolder(canonical string) string {
	if native, ok := yahooFolderMap[strings.ToLower(canonical)]; ok {
		return native
	}
	return canonical
}

// cleanAppPassword strips the spaces Yahoo inserts when displaying a
// generated App Password.
func cleanAppPassword(password string) string {
	return strings.ToLower(strings.TrimSpace(strings.ReplaceAll(password, " ", "")))
}

func isIMAPAuthError(err error) bool {
	msg := strings.ToUpper(err.Error())
	return strings.Contains(msg, "AUTHENTICATIONFAILED") || strings.Contains(msg, "LOGIN")
}

func uidSeqSet(ids []string) (*imap.SeqSet, error) {
	seqSet := new(imap.SeqSet)
	for _, id := range ids {
		uid, err := strconv.ParseUint(id, 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "bad message id %q", id)
		}
		seqSet.AddNum(uint32(uid))
	}
	return seqSet, nil
}

// translateIMAPQuery maps the shared search vocabulary (from:, subject:,
// is:unread, free text) onto IMAP search criteria.
func translateIMAPQuery(query string) *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()
	if strings.TrimSpace(query) == "" {
		return criteria
	}

	header := make(textproto.MIMEHeader)
	for _, token := range strings.Fields(query) {
		switch {
		case strings.HasPrefix(token, "from:"):
			header.Add("From", strings.TrimPrefix(token, "from:"))
		case strings.HasPrefix(token, "to:"):
			header.Add("To", strings.TrimPrefix(token, "to:"))
		case strings.HasPrefix(token, "subject:"):
			header.Add("Subject", strings.TrimPrefix(token, "subject:"))
		case token == "is:unread":
			criteria.WithoutFlags = append(criteria.WithoutFlags, imap.SeenFlag)
		case token == "is:read":
			criteria.WithFlags = append(criteria.WithFlags, imap.SeenFlag)
		default:
			criteria.Text = append(criteria.Text, token)
		}
	}
	if len(header) > 0 {
		criteria.Header = header
	}
	return criteria
}
