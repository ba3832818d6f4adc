package bluemix

import (
	"context"
	"net/http"
	"net/url"

	"github.com/zgpcy/cloudspend/internal/provider"
)

const apiKeyGrant = "urn:ibm:params:oauth:grant-type:apikey"

type token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

func (t token) header() http.Header {
	return http.Header{"Authorization": {"Bearer " + t.AccessToken}}
}

// login exchanges the IAM api key for an access token. Tokens are scoped to
// the current call and never cached on the client.
func (c *Client) login(ctx context.Context) (token, error) {
	h := *c.http
	h.Classify = authClassifier("iam api key")

	var tok token
	req := provider.Request{
		Method: http.MethodPost,
		URL:    provider.JoinURL(c.iamURL, "/identity/token"),
		Form: url.Values{
			"grant_type":    {apiKeyGrant},
			"apikey":        {c.cfg.IBMKey},
			"response_type": {"cloud_iam"},
		},
		Username: "bx",
		Password: "bx",
	}
	if err := h.Do(ctx, req, &tok); err != nil {
		return token{}, err
	}
	if tok.AccessToken == "" {
		return token{}, provider.Unknown(Name, "iam response has no access_token", nil)
	}
	return tok, nil
}

type region struct {
	ID     string `json:"id"`
	Region string `json:"region"`
	Name   string `json:"name"`
	CFAPI  string `json:"cf_api"`
}

func (c *Client) regions(ctx context.Context, tok token) ([]region, error) {
	var out []region
	if err := c.http.Do(ctx, provider.Request{URL: c.regionsURL, Header: tok.header()}, &out); err != nil {
		return nil, err
	}
	return out, nil
}
