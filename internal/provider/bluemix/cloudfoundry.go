package bluemix

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/zgpcy/cloudspend/internal/provider"
)

// cfPage is the v2 Cloud Foundry pagination envelope
type cfPage[T any] struct {
	TotalResults int    `json:"total_results"`
	NextURL      string `json:"next_url"`
	Resources    []T    `json:"resources"`
}

type cfOrganization struct {
	Entity struct {
		Name      string `json:"name"`
		SpacesURL string `json:"spaces_url"`
	} `json:"entity"`
}

type cfSpace struct {
	Metadata struct {
		GUID string `json:"guid"`
		URL  string `json:"url"`
	} `json:"metadata"`
}

type cfSession struct {
	client *Client
	api    string
	header http.Header
}

// cfLoginClassifier reports regions without Cloud Foundry as not supported
// and refused logins as authorization failures. Everything else, throttling
// included, goes through the shared classification.
func cfLoginClassifier(r region) func(int, []byte) error {
	return func(status int, body []byte) error {
		switch status {
		case http.StatusNotFound:
			return provider.NotSupported(Name, "cloud foundry in region "+r.Region)
		case http.StatusUnauthorized, http.StatusForbidden:
			return provider.Authorization(Name, "cloud foundry login rejected in region "+r.Region,
				fmt.Errorf("status %d: %s", status, body))
		}
		return provider.FromStatus(Name, status, body)
	}
}

// cfLogin trades the IAM token for a Cloud Foundry token of one region
func (c *Client) cfLogin(ctx context.Context, iam token, r region) (*cfSession, error) {
	h := *c.http
	h.Classify = cfLoginClassifier(r)

	var tok token
	req := provider.Request{
		Method: http.MethodPost,
		URL:    provider.JoinURL(c.iamURL, "/cloudfoundry/login/"+url.PathEscape(r.Region)+"/oauth/token"),
		Query: url.Values{
			"grant_type": {"iam_token"},
			"iam_token":  {iam.AccessToken},
		},
		Username: "cf",
	}
	if err := h.Do(ctx, req, &tok); err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, provider.Unknown(Name, "cloud foundry login returned no access_token", nil)
	}
	return &cfSession{client: c, api: r.CFAPI, header: tok.header()}, nil
}

// list walks every page of a v2 collection starting at path
func list[T any](ctx context.Context, s *cfSession, path string) ([]T, error) {
	var all []T
	for path != "" {
		var page cfPage[T]
		req := provider.Request{URL: provider.JoinURL(s.api, path), Header: s.header}
		if err := s.client.http.Do(ctx, req, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Resources...)
		path = page.NextURL
	}
	return all, nil
}

func (s *cfSession) appCount(ctx context.Context) (int, error) {
	orgs, err := list[cfOrganization](ctx, s, "/v2/organizations")
	if err != nil {
		return 0, err
	}

	n := 0
	for _, org := range orgs {
		spaces, err := list[cfSpace](ctx, s, org.Entity.SpacesURL)
		if err != nil {
			return 0, err
		}
		for _, space := range spaces {
			var summary struct {
				Apps []struct {
					GUID string `json:"guid"`
				} `json:"apps"`
			}
			req := provider.Request{URL: provider.JoinURL(s.api, space.Metadata.URL+"/summary"), Header: s.header}
			if err := s.client.http.Do(ctx, req, &summary); err != nil {
				return 0, err
			}
			n += len(summary.Apps)
		}
	}
	return n, nil
}

// InstanceCount implements provider.InstanceCounter as the number of Cloud
// Foundry apps across every region. Regions without Cloud Foundry or that
// refuse the login are skipped; any other login failure aborts the count.
func (c *Client) InstanceCount(ctx context.Context) (int, error) {
	iam, err := c.login(ctx)
	if err != nil {
		return 0, err
	}
	regions, err := c.regions(ctx, iam)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, r := range regions {
		s, err := c.cfLogin(ctx, iam, r)
		if errors.Is(err, provider.ErrNotSupported) || errors.Is(err, provider.ErrAuthorization) {
			c.logger.Debug("Skipping region", "region", r.Region, "error", err)
			continue
		}
		if err != nil {
			return 0, err
		}
		n, err := s.appCount(ctx)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
