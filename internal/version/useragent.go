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

package version

import (
	"net/http"
	"strings"
)

// DefaultProduct is the user agent product used when none is supplied
const DefaultProduct = "TrialMatrix"

// UserAgent returns the `User-Agent` value for the product, e.g. "track/1.2.3 (comment)".
// Build metadata is only reported for pre-release versions.
func (i *Info) UserAgent(product string, comments ...string) string {
	if product == "" {
		product = DefaultProduct
	}

	var notes []string
	if i.BuildMetadata != "" && strings.Contains(i.Version, "-") {
		notes = append(notes, i.BuildMetadata)
	}
	for _, c := range comments {
		c = strings.TrimSpace(c)
		c = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(c, "("), ")"))
		if c != "" {
			notes = append(notes, c)
		}
	}

	ua := product + "/" + strings.TrimPrefix(i.Version, "v")
	if len(notes) > 0 {
		ua += " (" + strings.Join(notes, "; ") + ")"
	}
	return ua
}

// Transport sets the `User-Agent` header on every request
type Transport struct {
	// UserAgent to send
	UserAgent string
	// Base is the transport to delegate to, nil for the default transport
	Base http.RoundTripper
}

// UserAgent wraps the (possibly nil) transport so requests identify the product and current version.
func UserAgent(product, comment string, transport http.RoundTripper) http.RoundTripper {
	return &Transport{UserAgent: GetInfo().UserAgent(product, comment), Base: transport}
}

// RoundTrip clones the request to set the header, then delegates.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ua := t.UserAgent
	if ua == "" {
		ua = GetInfo().UserAgent(DefaultProduct)
	}

	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", ua)

	if t.Base == nil {
		return http.DefaultTransport.RoundTrip(req)
	}
	return t.Base.RoundTrip(req)
}
