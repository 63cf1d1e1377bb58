/*
Copyright 2021 GramLabs, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package results

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/gramlabs/trialmatrix/internal/experiment"
	"github.com/gramlabs/trialmatrix/internal/version"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/cast"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// DefaultTrackerURL is the experiment tracker API used when no address is configured.
const DefaultTrackerURL = "https://api.wandb.ai"

// TrackerConfig describes how to reach the experiment tracker API.
type TrackerConfig struct {
	// Address is the base URL of the tracker API
	Address string
	// Project is the tracker project the trainer publishes runs to
	Project string
	// APIKey is sent as a bearer token when set
	APIKey string
	// RequestsPerSecond limits the request rate, zero for no limit
	RequestsPerSecond float64
	// RetryMax is the maximum number of retries of a failed request
	RetryMax int
	// RetryWaitMin is the minimum time between retries
	RetryWaitMin time.Duration
	// Timeout bounds a single request
	Timeout time.Duration
}

// TrackerClient queries the runs of a tracker project.
type TrackerClient struct {
	base    *url.URL
	project string
	client  *http.Client
	limiter *rate.Limiter
}

// Run is a single tracker run, kept as generic JSON so metric keys can be evaluated as JSON paths.
type Run map[string]interface{}

// NewTrackerClient returns a new tracker API client. An HTTP client on the context (keyed
// by oauth2.HTTPClient) replaces the default transport.
func NewTrackerClient(ctx context.Context, cfg TrackerConfig) (*TrackerClient, error) {
	address := cfg.Address
	if address == "" {
		address = DefaultTrackerURL
	}
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("invalid tracker address: %w", err)
	}
	if cfg.Project == "" {
		return nil, fmt.Errorf("missing tracker project")
	}

	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		rc.RetryWaitMin = cfg.RetryWaitMin
		rc.RetryWaitMax = 4 * cfg.RetryWaitMin
	}
	rc.HTTPClient.Transport = version.UserAgent("trialmatrix", "results", nil)
	if c, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok && c.Transport != nil {
		rc.HTTPClient.Transport = c.Transport
	}
	rc.HTTPClient.Timeout = cfg.Timeout
	if rc.HTTPClient.Timeout == 0 {
		rc.HTTPClient.Timeout = 10 * time.Second
	}

	hc := rc.StandardClient()
	if cfg.APIKey != "" {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.APIKey, TokenType: "Bearer"}))
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &TrackerClient{
		base:    u,
		project: cfg.Project,
		client:  hc,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// FindRuns returns the runs of the project with the supplied name.
func (c *TrackerClient) FindRuns(ctx context.Context, name string) ([]Run, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := *c.base
	u.Path = path.Join(u.Path, "api", "v1", "projects", c.project, "runs")
	u.RawQuery = url.Values{"name": []string{name}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tracker API returned %s: %s", resp.Status, string(b))
	}

	list := struct {
		Runs []Run `json:"runs"`
	}{}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("unable to decode tracker runs: %w", err)
	}
	return list.Runs, nil
}

// TrackerSource reads the summary of a finished tracker run named after the experiment.
type TrackerSource struct {
	Client *TrackerClient
	Keys   KeyPaths
}

func (s *TrackerSource) Name() experiment.Source { return experiment.SourceTrackerAPI }

func (s *TrackerSource) Fetch(ctx context.Context, experimentID string) (*experiment.Result, error) {
	runs, err := s.Client.FindRuns(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	keys := s.Keys
	if keys.F1 == nil {
		keys = TrackerKeys
	}

	for _, run := range runs {
		if cast.ToString(run["name"]) != experimentID || cast.ToString(run["state"]) != "finished" {
			continue
		}

		r, err := extract(map[string]interface{}(run), keys)
		if err != nil {
			return nil, err
		}
		if r.WallTimeMinutes == nil {
			r.WallTimeMinutes = runWallTime(run)
		}
		return r, nil
	}
	return nil, ErrNoResult
}

func runWallTime(run Run) *float64 {
	created, err := time.Parse(time.RFC3339, cast.ToString(run["created_at"]))
	if err != nil {
		return nil
	}
	finished, err := time.Parse(time.RFC3339, cast.ToString(run["finished_at"]))
	if err != nil {
		return nil
	}
	return minutes(finished.Sub(created))
}
