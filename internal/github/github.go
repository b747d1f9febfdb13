// Package github wraps go-github with the typed operations the engine
// needs: listing and inspecting pull requests, approving, merging, closing,
// rebasing via update-branch, commenting, check runs, workflow runs and
// auto-merge. All calls retry transient failures; 4xx responses are
// permanent.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	gh "github.com/google/go-github/v68/github"

	"github.com/prdeck/prdeck/internal/pr"
	"github.com/prdeck/prdeck/internal/retry"

	"github.com/bradleyfalzon/ghinstallation/v2"
	jwt "github.com/golang-jwt/jwt/v4"
)

// PullRequest is a pull request as fetched from the API: the engine model
// plus lifecycle fields only the client cares about.
type PullRequest struct {
	pr.PR
	State    string
	Merged   bool
	MergedAt *time.Time
	NodeID   string
}

// WorkflowRun is a summary of a GitHub Actions run.
type WorkflowRun struct {
	ID         int64
	Name       string
	Status     string
	Conclusion string
	HeadSHA    string
}

// Client is a typed GitHub API client wrapping go-github.
type Client struct {
	gh           *gh.Client
	retryBackoff []time.Duration
}

// Option configures a Client.
type Option func(*clientConfig)

// AppCredentials holds GitHub App authentication parameters.
type AppCredentials struct {
	ClientID       string
	InstallationID int64
	PrivateKeyPath string
}

type clientConfig struct {
	baseURL      string
	retryBackoff []time.Duration
	app          *AppCredentials
}

// readKeyFile is a variable for testing; defaults to os.ReadFile.
var readKeyFile = os.ReadFile

// WithBaseURL overrides the GitHub API base URL (useful for testing).
func WithBaseURL(url string) Option {
	return func(c *clientConfig) { c.baseURL = url }
}

// WithRetryBackoff overrides the default retry backoff delays.
func WithRetryBackoff(delays ...time.Duration) Option {
	return func(c *clientConfig) { c.retryBackoff = delays }
}

// WithAppAuth configures GitHub App authentication using a Client ID,
// installation ID, and private key file. When set, token is ignored.
func WithAppAuth(app AppCredentials) Option {
	return func(c *clientConfig) { c.app = &app }
}

// New creates a GitHub API client. With WithAppAuth the client
// authenticates as a GitHub App installation; otherwise it uses the given
// personal access token.
func New(token string, opts ...Option) (*Client, error) {
	cfg := &clientConfig{}
	for _, o := range opts {
		o(cfg)
	}

	var client *gh.Client

	if cfg.app != nil {
		httpClient, err := newAppHTTPClient(cfg.app, cfg.baseURL)
		if err != nil {
			return nil, fmt.Errorf("configuring GitHub App auth: %w", err)
		}
		client = gh.NewClient(httpClient)
		if cfg.baseURL != "" {
			client, _ = client.WithEnterpriseURLs(cfg.baseURL, cfg.baseURL)
		}
	} else {
		client = gh.NewClient(nil).WithAuthToken(token)
		if cfg.baseURL != "" {
			client, _ = client.WithEnterpriseURLs(cfg.baseURL, cfg.baseURL)
		}
	}

	return &Client{gh: client, retryBackoff: cfg.retryBackoff}, nil
}

// newAppHTTPClient creates an http.Client with a GitHub App installation
// transport that uses Client ID (string) as the JWT issuer.
func newAppHTTPClient(app *AppCredentials, baseURL string) (*http.Client, error) {
	keyPath := expandHome(app.PrivateKeyPath)
	keyData, err := readKeyFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key %s: %w", app.PrivateKeyPath, err)
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM(keyData)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	signer := &clientIDSigner{
		clientID: app.ClientID,
		method:   jwt.SigningMethodRS256,
		key:      key,
	}

	atr, err := ghinstallation.NewAppsTransportWithOptions(
		http.DefaultTransport, 0, // appID unused; the signer overrides the issuer
		ghinstallation.WithSigner(signer),
	)
	if err != nil {
		return nil, fmt.Errorf("creating apps transport: %w", err)
	}

	if baseURL != "" {
		atr.BaseURL = baseURL
	}

	itr := ghinstallation.NewFromAppsTransport(atr, app.InstallationID)
	if baseURL != "" {
		itr.BaseURL = baseURL
	}

	return &http.Client{Transport: itr}, nil
}

// clientIDSigner implements ghinstallation.Signer using a string Client ID
// as the JWT issuer instead of a numeric App ID.
type clientIDSigner struct {
	clientID string
	method   jwt.SigningMethod
	key      any
}

func (s *clientIDSigner) Sign(claims jwt.Claims) (string, error) {
	if rc, ok := claims.(*jwt.RegisteredClaims); ok {
		rc.Issuer = s.clientID
	}
	return jwt.NewWithClaims(s.method, claims).SignedString(s.key)
}

// maxOpenPRs caps how many open PRs are tracked per repository.
const maxOpenPRs = 50

// ListOpenPRs returns the open pull requests targeting the given base
// branch, sorted by PR number descending and capped at maxOpenPRs. List
// payloads omit mergeability; callers follow up with FetchPR per number.
func (c *Client) ListOpenPRs(ctx context.Context, owner, repo, base string) ([]PullRequest, error) {
	return retry.DoVal(ctx, func() ([]PullRequest, error) {
		var all []PullRequest
		opts := &gh.PullRequestListOptions{
			State:       "open",
			Base:        base,
			Sort:        "created",
			Direction:   "desc",
			ListOptions: gh.ListOptions{PerPage: 100},
		}
		for {
			prs, resp, err := c.gh.PullRequests.List(ctx, owner, repo, opts)
			if err != nil {
				return nil, classifyErr(fmt.Errorf("listing pull requests: %w", err))
			}
			for _, p := range prs {
				all = append(all, prFromGH(p))
			}
			if resp.NextPage == 0 || len(all) >= maxOpenPRs {
				break
			}
			opts.Page = resp.NextPage
		}
		sort.Slice(all, func(i, j int) bool { return all[i].Number > all[j].Number })
		if len(all) > maxOpenPRs {
			all = all[:maxOpenPRs]
		}
		return all, nil
	}, c.retryOpts()...)
}

// FetchPR fetches a single pull request, including mergeability and
// comment counters.
func (c *Client) FetchPR(ctx context.Context, owner, repo string, number int) (PullRequest, error) {
	return retry.DoVal(ctx, func() (PullRequest, error) {
		p, _, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
		if err != nil {
			return PullRequest{}, classifyErr(fmt.Errorf("fetching pull request: %w", err))
		}
		return prFromGH(p), nil
	}, c.retryOpts()...)
}

// FetchCheckRuns returns all check runs for the given git ref.
func (c *Client) FetchCheckRuns(ctx context.Context, owner, repo, ref string) ([]pr.CheckRun, error) {
	return retry.DoVal(ctx, func() ([]pr.CheckRun, error) {
		var all []pr.CheckRun
		opts := &gh.ListCheckRunsOptions{
			ListOptions: gh.ListOptions{PerPage: 100},
		}
		for {
			result, resp, err := c.gh.Checks.ListCheckRunsForRef(ctx, owner, repo, ref, opts)
			if err != nil {
				return nil, classifyErr(fmt.Errorf("fetching check runs: %w", err))
			}
			for _, cr := range result.CheckRuns {
				all = append(all, pr.CheckRun{
					Name:       cr.GetName(),
					Status:     cr.GetStatus(),
					Conclusion: cr.GetConclusion(),
				})
			}
			if resp.NextPage == 0 {
				break
			}
			opts.Page = resp.NextPage
		}
		return all, nil
	}, c.retryOpts()...)
}

// CountApprovals returns the number of users whose latest review approves
// the pull request.
func (c *Client) CountApprovals(ctx context.Context, owner, repo string, number int) (int, error) {
	return retry.DoVal(ctx, func() (int, error) {
		latest := make(map[string]string)
		opts := &gh.ListOptions{PerPage: 100}
		for {
			reviews, resp, err := c.gh.PullRequests.ListReviews(ctx, owner, repo, number, opts)
			if err != nil {
				return 0, classifyErr(fmt.Errorf("fetching reviews: %w", err))
			}
			for _, r := range reviews {
				switch r.GetState() {
				case "APPROVED", "CHANGES_REQUESTED", "DISMISSED":
					latest[r.GetUser().GetLogin()] = r.GetState()
				}
			}
			if resp.NextPage == 0 {
				break
			}
			opts.Page = resp.NextPage
		}
		n := 0
		for _, s := range latest {
			if s == "APPROVED" {
				n++
			}
		}
		return n, nil
	}, c.retryOpts()...)
}

// ApprovePR submits an approving review.
func (c *Client) ApprovePR(ctx context.Context, owner, repo string, number int) error {
	return retry.Do(ctx, func() error {
		_, _, err := c.gh.PullRequests.CreateReview(ctx, owner, repo, number, &gh.PullRequestReviewRequest{
			Event: gh.Ptr("APPROVE"),
		})
		if err != nil {
			return classifyErr(fmt.Errorf("approving pull request: %w", err))
		}
		return nil
	}, c.retryOpts()...)
}

// MergePR squash-merges the pull request.
func (c *Client) MergePR(ctx context.Context, owner, repo string, number int) error {
	return retry.Do(ctx, func() error {
		res, _, err := c.gh.PullRequests.Merge(ctx, owner, repo, number, "", &gh.PullRequestOptions{
			MergeMethod: "squash",
		})
		if err != nil {
			return classifyErr(fmt.Errorf("merging pull request: %w", err))
		}
		if !res.GetMerged() {
			return retry.Permanent(fmt.Errorf("merge not performed: %s", res.GetMessage()))
		}
		return nil
	}, c.retryOpts()...)
}

// ClosePR closes the pull request without merging.
func (c *Client) ClosePR(ctx context.Context, owner, repo string, number int) error {
	return retry.Do(ctx, func() error {
		_, _, err := c.gh.PullRequests.Edit(ctx, owner, repo, number, &gh.PullRequest{
			State: gh.Ptr("closed"),
		})
		if err != nil {
			return classifyErr(fmt.Errorf("closing pull request: %w", err))
		}
		return nil
	}, c.retryOpts()...)
}

// UpdateBranch rebases the PR's head branch on its base via the API.
// GitHub processes the update asynchronously; a 202 is success here.
func (c *Client) UpdateBranch(ctx context.Context, owner, repo string, number int) error {
	return retry.Do(ctx, func() error {
		_, _, err := c.gh.PullRequests.UpdateBranch(ctx, owner, repo, number, nil)
		if err != nil {
			// go-github surfaces the 202 as AcceptedError.
			var accepted *gh.AcceptedError
			if errors.As(err, &accepted) {
				return nil
			}
			return classifyErr(fmt.Errorf("updating branch: %w", err))
		}
		return nil
	}, c.retryOpts()...)
}

// CommentOnPR posts an issue comment on the pull request. Dependabot
// command comments go through here.
func (c *Client) CommentOnPR(ctx context.Context, owner, repo string, number int, body string) error {
	return retry.Do(ctx, func() error {
		_, _, err := c.gh.Issues.CreateComment(ctx, owner, repo, number, &gh.IssueComment{
			Body: gh.Ptr(body),
		})
		if err != nil {
			return classifyErr(fmt.Errorf("posting comment: %w", err))
		}
		return nil
	}, c.retryOpts()...)
}

// IsPRMerged returns whether the pull request has been merged.
func (c *Client) IsPRMerged(ctx context.Context, owner, repo string, number int) (bool, error) {
	return retry.DoVal(ctx, func() (bool, error) {
		merged, _, err := c.gh.PullRequests.IsMerged(ctx, owner, repo, number)
		if err != nil {
			return false, classifyErr(fmt.Errorf("checking merged status: %w", err))
		}
		return merged, nil
	}, c.retryOpts()...)
}

// LatestRunForSHA returns the most recent workflow run for the given head
// SHA, or nil when there are none.
func (c *Client) LatestRunForSHA(ctx context.Context, owner, repo, sha string) (*WorkflowRun, error) {
	return retry.DoVal(ctx, func() (*WorkflowRun, error) {
		runs, _, err := c.gh.Actions.ListRepositoryWorkflowRuns(ctx, owner, repo, &gh.ListWorkflowRunsOptions{
			HeadSHA:     sha,
			ListOptions: gh.ListOptions{PerPage: 10},
		})
		if err != nil {
			return nil, classifyErr(fmt.Errorf("listing workflow runs: %w", err))
		}
		if len(runs.WorkflowRuns) == 0 {
			return nil, nil
		}
		r := runs.WorkflowRuns[0]
		return &WorkflowRun{
			ID:         r.GetID(),
			Name:       r.GetName(),
			Status:     r.GetStatus(),
			Conclusion: r.GetConclusion(),
			HeadSHA:    r.GetHeadSHA(),
		}, nil
	}, c.retryOpts()...)
}

// RerunFailedJobs re-runs only the failed jobs of a workflow run.
func (c *Client) RerunFailedJobs(ctx context.Context, owner, repo string, runID int64) error {
	return retry.Do(ctx, func() error {
		_, err := c.gh.Actions.RerunFailedJobsByID(ctx, owner, repo, runID)
		if err != nil {
			var accepted *gh.AcceptedError
			if errors.As(err, &accepted) {
				return nil
			}
			return classifyErr(fmt.Errorf("rerunning failed jobs: %w", err))
		}
		return nil
	}, c.retryOpts()...)
}

// FetchRunLogs downloads the zip archive of a workflow run's logs. Returns
// empty bytes with no error when logs are unavailable.
func (c *Client) FetchRunLogs(ctx context.Context, owner, repo string, runID int64) ([]byte, error) {
	return retry.DoVal(ctx, func() ([]byte, error) {
		url, _, err := c.gh.Actions.GetWorkflowRunLogs(ctx, owner, repo, runID, 4)
		if err != nil {
			var ghErr *gh.ErrorResponse
			if errors.As(err, &ghErr) && ghErr.Response != nil &&
				ghErr.Response.StatusCode >= 400 && ghErr.Response.StatusCode < 500 {
				return nil, nil
			}
			return nil, classifyErr(fmt.Errorf("resolving run logs url: %w", err))
		}
		return c.downloadURL(ctx, url.String())
	}, c.retryOpts()...)
}

// downloadURL fetches the content at the given URL.
func (c *Client) downloadURL(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating download request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading logs: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading download body: %w", err)
	}
	return body, nil
}

// EnableAutoMerge turns on auto-merge (squash) for the pull request via
// the GraphQL API; the REST surface has no equivalent.
func (c *Client) EnableAutoMerge(ctx context.Context, nodeID string) error {
	const mutation = `mutation($id: ID!) {
		enablePullRequestAutoMerge(input: {pullRequestId: $id, mergeMethod: SQUASH}) {
			pullRequest { id }
		}
	}`

	payload := map[string]any{
		"query":     mutation,
		"variables": map[string]any{"id": nodeID},
	}

	return retry.Do(ctx, func() error {
		req, err := c.gh.NewRequest("POST", "graphql", payload)
		if err != nil {
			return classifyErr(fmt.Errorf("creating graphql request: %w", err))
		}

		var out struct {
			Errors []struct {
				Message string `json:"message"`
			} `json:"errors"`
		}
		resp, err := c.gh.BareDo(ctx, req)
		if err != nil {
			return classifyErr(fmt.Errorf("enabling auto-merge: %w", err))
		}
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decoding graphql response: %w", err)
		}
		if len(out.Errors) > 0 {
			return retry.Permanent(fmt.Errorf("enabling auto-merge: %s", out.Errors[0].Message))
		}
		return nil
	}, c.retryOpts()...)
}

func prFromGH(p *gh.PullRequest) PullRequest {
	out := PullRequest{
		PR: pr.PR{
			Number:         pr.Number(p.GetNumber()),
			Title:          p.GetTitle(),
			Author:         p.GetUser().GetLogin(),
			Draft:          p.GetDraft(),
			Mergeable:      p.Mergeable,
			MergeableState: p.GetMergeableState(),
			IssueComments:  p.GetComments(),
			ReviewComments: p.GetReviewComments(),
			HTMLURL:        p.GetHTMLURL(),
		},
		State:  p.GetState(),
		Merged: p.GetMerged(),
		NodeID: p.GetNodeID(),
	}
	if p.Head != nil {
		out.HeadRef = p.Head.GetRef()
		out.HeadSHA = p.Head.GetSHA()
	}
	if p.MergedAt != nil {
		t := p.MergedAt.Time
		out.MergedAt = &t
	}
	return out
}

// retryOpts returns the retry options for this client.
func (c *Client) retryOpts() []retry.Option {
	if len(c.retryBackoff) > 0 {
		return []retry.Option{retry.WithBackoff(c.retryBackoff...)}
	}
	return nil
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// classifyErr wraps a go-github error as permanent if it's a client error
// (4xx), and leaves it retryable for server errors and network errors.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		if ghErr.Response.StatusCode >= 400 && ghErr.Response.StatusCode < 500 {
			return retry.Permanent(err)
		}
	}
	return err
}
