package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/credential"
	"github.com/mailsweep/mailsweep/internal/enum"
	"github.com/mailsweep/mailsweep/internal/errs"
	"github.com/mailsweep/mailsweep/internal/tracing"
)

const (
	graphBaseURL    = "https://graph.microsoft.com/v1.0"
	graphBatchLimit = 20
)

// statFolders are the well-known folder ids included in the Stat breakdown.
var statFolders = map[string]string{
	"inbox": "inbox",
	"junk":  "junkemail",
	"sent":  "sentitems",
}

// OutlookProvider drives a Microsoft 365 / Outlook.com account through the
// Graph REST API. Mutations go through /$batch since Graph has no bulk
// message-move endpoint.
type OutlookProvider struct {
	httpClient *http.Client
	token      string
	email      string
}

func NewOutlookProvider(email string, cred *credential.Credential, timeout time.Duration) (*OutlookProvider, error) {
	if !cred.Present() {
		return nil, errs.ErrAuthRequired
	}
	return &OutlookProvider{
		httpClient: &http.Client{Timeout: timeout},
		token:      cred.AccessToken,
		email:      email,
	}, nil
}

func (p *OutlookProvider) Name() enum.Provider {
	return enum.ProviderMicrosoft
}

func (p *OutlookProvider) Capabilities() interfaces.Capabilities {
	return interfaces.Capabilities{
		MutationBatchSize:   graphBatchLimit,
		ConcurrentBatches:   true,
		TrashedIDsFetchable: true,
	}
}

func (p *OutlookProvider) TestConnection(ctx context.Context) interfaces.ConnectionResult {
	span, ctx := opentracing.StartSpanFromContext(ctx, "OutlookProvider.TestConnection")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, enum.ProviderMicrosoft.String())

	var me struct {
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
	}
	if err := p.get(ctx, graphBaseURL+"/me", &me); err != nil {
		tracing.TraceErr(span, err)
		return interfaces.ConnectionResult{Success: false, Message: graphErrorMessage(err)}
	}

	address := me.Mail
	if address == "" {
		address = me.UserPrincipalName
	}
	return interfaces.ConnectionResult{
		Success: true,
		Message: fmt.Sprintf("Connected as %s.", address),
	}
}

func (p *OutlookProvider) Stat(ctx context.Context) (*interfaces.InboxStats, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "OutlookProvider.Stat")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, enum.ProviderMicrosoft.String())

	stats := &interfaces.InboxStats{Folders: make(map[string]interfaces.FolderStats)}

	for name, folderID := range statFolders {
		var folder struct {
			TotalItemCount  int `json:"totalItemCount"`
			UnreadItemCount int `json:"unreadItemCount"`
		}
		if err := p.get(ctx, graphBaseURL+"/me/mailFolders/"+folderID, &folder); err != nil {
			var apiErr *errs.ProviderAPIError
			if errors.As(err, &apiErr) && apiErr.IsAuthProblem() {
				tracing.TraceErr(span, err)
				return nil, err
			}
			// A missing folder is skipped; the breakdown degrades gracefully.
			continue
		}
		stats.Folders[name] = interfaces.FolderStats{
			Total:  folder.TotalItemCount,
			Unread: folder.UnreadItemCount,
		}
		stats.Total += folder.TotalItemCount
		stats.Unread += folder.UnreadItemCount
	}

	return stats, nil
}

func (p *OutlookProvider) ListMessages(ctx context.Context, query, folder, pageToken string, pageSize int) (*interfaces.MessagePage, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "OutlookProvider.ListMessages")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, enum.ProviderMicrosoft.String())
	span.SetTag("query", query)

	// pageToken is the @odata.nextLink URL from the previous page.
	requestURL := pageToken
	if requestURL == "" {
		base := graphBaseURL + "/me/messages"
		if folder != "" {
			base = graphBaseURL + "/me/mailFolders/" + graphFolderID(folder) + "/messages"
		}
		params := url.Values{}
		params.Set("$top", fmt.Sprintf("%d", pageSize))
		params.Set("$select", "id")
		params.Set("$count", "true")
		if query != "" {
			params.Set("$search", fmt.Sprintf("%q", query))
		}
		requestURL = base + "?" + params.Encode()
	}

	var resp struct {
		Count    int    `json:"@odata.count"`
		NextLink string `json:"@odata.nextLink"`
		Value    []struct {
			ID string `json:"id"`
		} `json:"value"`
	}
	if err := p.get(ctx, requestURL, &resp); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	page := &interfaces.MessagePage{
		IDs:            make([]string, 0, len(resp.Value)),
		ResultEstimate: resp.Count,
		NextPageToken:  resp.NextLink,
	}
	for _, m := range resp.Value {
		page.IDs = append(page.IDs, m.ID)
	}
	if page.ResultEstimate == 0 {
		page.ResultEstimate = len(page.IDs)
	}
	span.SetTag("result.count", len(page.IDs))
	return page, nil
}

func (p *OutlookProvider) GetMetadata(ctx context.Context, ids []string) ([]interfaces.MessageMeta, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "OutlookProvider.GetMetadata")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, enum.ProviderMicrosoft.String())
	span.SetTag("ids.count", len(ids))

	metas := make([]interfaces.MessageMeta, 0, len(ids))

	for start := 0; start < len(ids); start += graphBatchLimit {
		end := start + graphBatchLimit
		if end > len(ids) {
			end = len(ids)
		}

		requests := make([]graphBatchRequest, 0, end-start)
		for i, id := range ids[start:end] {
			requests = append(requests, graphBatchRequest{
				ID:     fmt.Sprintf("%d", i+1),
				Method: http.MethodGet,
				URL:    "/me/messages/" + id + "?$select=id,from,subject,receivedDateTime",
			})
		}

		responses, err := p.batch(ctx, requests)
		if err != nil {
			tracing.TraceErr(span, err)
			return metas, err
		}

		for _, r := range responses {
			if r.Status != http.StatusOK {
				if r.Status == http.StatusUnauthorized {
					return metas, &errs.ProviderAPIError{
						Provider:   enum.ProviderMicrosoft.String(),
						StatusCode: r.Status,
						Message:    "get metadata: token rejected",
					}
				}
				continue
			}
			var body struct {
				ID   string `json:"id"`
				From struct {
					EmailAddress struct {
						Name    string `json:"name"`
						Address string `json:"address"`
					} `json:"emailAddress"`
				} `json:"from"`
				Subject          string `json:"subject"`
				ReceivedDateTime string `json:"receivedDateTime"`
			}
			if err := json.Unmarshal(r.Body, &body); err != nil {
				continue
			}
			from := body.From.EmailAddress.Address
			if body.From.EmailAddress.Name != "" {
				from = fmt.Sprintf("%s <%s>", body.From.EmailAddress.Name, body.From.EmailAddress.Address)
			}
			metas = append(metas, interfaces.MessageMeta{
				ID:      body.ID,
				From:    from,
				Subject: body.Subject,
				Date:    body.ReceivedDateTime,
			})
		}
	}

	return metas, nil
}

func (p *OutlookProvider) GetRawMessage(ctx context.Context, id string) ([]byte, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "OutlookProvider.GetRawMessage")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, enum.ProviderMicrosoft.String())
	span.SetTag("message.id", id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, graphBaseURL+"/me/messages/"+id+"/$value", nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "get raw message")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := p.statusError(resp)
		tracing.TraceErr(span, err)
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

func (p *OutlookProvider) BatchMutate(ctx context.Context, ids []string, mode enum.MutationMode) (int, int, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "OutlookProvider.BatchMutate")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, enum.ProviderMicrosoft.String())
	span.SetTag("ids.count", len(ids))
	span.SetTag("mode", mode.String())

	var destination string
	switch mode {
	case enum.MutationTrash:
		destination = "deleteditems"
	case enum.MutationArchive:
		destination = "archive"
	default:
		return 0, len(ids), errors.Errorf("unsupported mutation mode %s", mode)
	}

	moveBody, _ := json.Marshal(map[string]string{"destinationId": destination})
	requests := make([]graphBatchRequest, 0, len(ids))
	for i, id := range ids {
		requests = append(requests, graphBatchRequest{
			ID:      fmt.Sprintf("%d", i+1),
			Method:  http.MethodPost,
			URL:     "/me/messages/" + id + "/move",
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    moveBody,
		})
	}

	responses, err := p.batch(ctx, requests)
	if err != nil {
		tracing.TraceErr(span, err)
		var apiErr *errs.ProviderAPIError
		if errors.As(err, &apiErr) && apiErr.IsAuthProblem() {
			return 0, len(ids), err
		}
		return 0, len(ids), nil
	}

	succeeded, failed := 0, 0
	for _, r := range responses {
		switch {
		case r.Status == http.StatusCreated || r.Status == http.StatusOK:
			succeeded++
		case r.Status == http.StatusUnauthorized:
			failed++
			span.SetTag("auth.rejected", true)
			return succeeded, failed + (len(ids) - succeeded - failed), &errs.ProviderAPIError{
				Provider:   enum.ProviderMicrosoft.String(),
				StatusCode: r.Status,
				Message:    "move message: token rejected",
			}
		default:
			failed++
		}
	}
	span.SetTag("result.succeeded", succeeded)
	span.SetTag("result.failed", failed)
	return succeeded, failed, nil
}

func (p *OutlookProvider) ListFolders(ctx context.Context) ([]string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "OutlookProvider.ListFolders")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, enum.ProviderMicrosoft.String())

	var resp struct {
		Value []struct {
			DisplayName string `json:"displayName"`
		} `json:"value"`
	}
	if err := p.get(ctx, graphBaseURL+"/me/mailFolders?$top=100", &resp); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	folders := make([]string, 0, len(resp.Value))
	for _, f := range resp.Value {
		folders = append(folders, f.DisplayName)
	}
	return folders, nil
}

func (p *OutlookProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

type graphBatchRequest struct {
	ID      string            `json:"id"`
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

type graphBatchResponse struct {
	ID     string          `json:"id"`
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

func (p *OutlookProvider) batch(ctx context.Context, requests []graphBatchRequest) ([]graphBatchResponse, error) {
	payload, err := json.Marshal(map[string]interface{}{"requests": requests})
	if err != nil {
		return nil, errors.Wrap(err, "marshal batch")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, graphBaseURL+"/$batch", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "build batch request")
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "execute batch")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.statusError(resp)
	}

	var parsed struct {
		Responses []graphBatchResponse `json:"responses"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.Wrap(err, "decode batch response")
	}
	return parsed.Responses, nil
}

func (p *OutlookProvider) get(ctx context.Context, requestURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	if strings.Contains(requestURL, "%24search") || strings.Contains(requestURL, "$search") || strings.Contains(requestURL, "%24count") || strings.Contains(requestURL, "$count") {
		// Graph requires this for $search and $count on /messages.
		req.Header.Set("ConsistencyLevel", "eventual")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return p.statusError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (p *OutlookProvider) statusError(resp *http.Response) error {
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)

	message := body.Error.Message
	if message == "" {
		message = resp.Status
	}
	return &errs.ProviderAPIError{
		Provider:   enum.ProviderMicrosoft.String(),
		StatusCode: resp.StatusCode,
		Message:    message,
	}
}

func graphErrorMessage(err error) string {
	var apiErr *errs.ProviderAPIError
	if errors.As(err, &apiErr) && apiErr.IsAuthProblem() {
		return "Microsoft authorization expired. Please reconnect your account."
	}
	return fmt.Sprintf("Connection failed: %v", err)
}

// graphFolderID maps the canonical folder vocabulary onto Graph well-known
// folder names.
func graphFolderID(folder string) string {
	switch strings.ToLower(folder) {
	case "inbox":
		return "inbox"
	case "spam", "junk":
		return "junkemail"
	case "trash":
		return "deleteditems"
	case "sent":
		return "sentitems"
	case "drafts":
		return "drafts"
	case "archive":
		return "archive"
	default:
		return folder
	}
}
