package resync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gh "github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
)

// Repo is the subset of repository metadata that ends up in an item.
type Repo struct {
	Owner       string
	Name        string
	FullName    string
	HTMLURL     string
	Description string
	Language    string
	Stars       int
}

// RepoSource lists repositories and the text worth indexing for each.
// Commits come back as "[YYYY-MM-DD] subject" lines.
type RepoSource interface {
	ListRepos(ctx context.Context) ([]Repo, error)
	RecentCommits(ctx context.Context, owner, name string, n int) ([]string, error)
	Readme(ctx context.Context, owner, name string) (string, error)
}

// GitHubSource reads repositories through the GitHub REST API.
type GitHubSource struct {
	gh      *gh.Client
	user    string // empty lists the authenticated user's repositories
	limiter *RateLimiter
}

func NewGitHubSource(ctx context.Context, token, user string) (*GitHubSource, error) {
	if token == "" && user == "" {
		return nil, errors.New("github: token or owner required")
	}
	var hc *http.Client
	if token != "" {
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
		hc.Timeout = 30 * time.Second
	}
	return &GitHubSource{gh: gh.NewClient(hc), user: user, limiter: NewRateLimiter(ProactiveRate)}, nil
}

func (s *GitHubSource) ListRepos(ctx context.Context) ([]Repo, error) {
	var all []*gh.Repository
	page := 0
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		var (
			repos []*gh.Repository
			resp  *gh.Response
			err   error
		)
		list := gh.ListOptions{PerPage: 100, Page: page}
		if s.user == "" {
			repos, resp, err = s.gh.Repositories.ListByAuthenticatedUser(ctx, &gh.RepositoryListByAuthenticatedUserOptions{
				Affiliation: "owner",
				Sort:        "updated",
				ListOptions: list,
			})
		} else {
			repos, resp, err = s.gh.Repositories.ListByUser(ctx, s.user, &gh.RepositoryListByUserOptions{
				Sort:        "updated",
				ListOptions: list,
			})
		}
		if err != nil {
			return nil, fmt.Errorf("list repos: %w", err)
		}
		s.limiter.Update(resp)

		all = append(all, repos...)
		if resp.NextPage == 0 {
			break
		}
		page = resp.NextPage
	}

	out := make([]Repo, 0, len(all))
	for _, r := range all {
		if r.GetArchived() || r.GetDisabled() {
			continue
		}
		out = append(out, Repo{
			Owner:       r.GetOwner().GetLogin(),
			Name:        r.GetName(),
			FullName:    r.GetFullName(),
			HTMLURL:     r.GetHTMLURL(),
			Description: r.GetDescription(),
			Language:    r.GetLanguage(),
			Stars:       r.GetStargazersCount(),
		})
	}
	return out, nil
}

func (s *GitHubSource) RecentCommits(ctx context.Context, owner, name string, n int) ([]string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	commits, resp, err := s.gh.Repositories.ListCommits(ctx, owner, name, &gh.CommitsListOptions{
		ListOptions: gh.ListOptions{PerPage: n},
	})
	if err != nil {
		return nil, fmt.Errorf("list commits: %w", err)
	}
	s.limiter.Update(resp)

	out := make([]string, 0, len(commits))
	for _, c := range commits {
		msg, _, _ := strings.Cut(c.GetCommit().GetMessage(), "\n")
		date := c.GetCommit().GetAuthor().GetDate()
		out = append(out, fmt.Sprintf("[%s] %s", date.Format("2006-01-02"), msg))
	}
	return out, nil
}

// Readme returns the decoded README, or "" when the repository has none.
func (s *GitHubSource) Readme(ctx context.Context, owner, name string) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}
	content, resp, err := s.gh.Repositories.GetReadme(ctx, owner, name, nil)
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get readme: %w", err)
	}
	s.limiter.Update(resp)
	return content.GetContent()
}
